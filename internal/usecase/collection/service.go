package collection

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/memex/internal/domain"
	domcol "github.com/kailas-cloud/memex/internal/domain/collection"
)

// Service handles collection listing and deletion across both stores.
type Service struct {
	repo    Repository
	vectors VectorDropper
	logger  *zap.Logger
}

// New creates a collection service.
func New(repo Repository, vectors VectorDropper, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, vectors: vectors, logger: logger}
}

// List returns all collections.
func (s *Service) List(ctx context.Context) ([]domcol.Collection, error) {
	cols, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	return cols, nil
}

// Delete drops the vector namespace first, then the metadata rows, so a
// failure in between leaves segments without vectors rather than orphaned
// vectors.
func (s *Service) Delete(ctx context.Context, name string) error {
	if err := domcol.ValidateName(name); err != nil {
		return fmt.Errorf("validate collection: %w: %w", domain.ErrMalformedInput, err)
	}

	if err := s.vectors.DropCollection(ctx, name); err != nil {
		return fmt.Errorf("drop vectors: %w", err)
	}
	existed, err := s.repo.Delete(ctx, name)
	if err != nil {
		return fmt.Errorf("delete collection: %w", err)
	}
	if !existed {
		return fmt.Errorf("collection %q: %w", name, domain.ErrNotFound)
	}

	s.logger.Info("collection deleted", zap.String("collection", name))
	return nil
}
