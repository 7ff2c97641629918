package query

import (
	"context"

	"github.com/google/uuid"

	domseg "github.com/kailas-cloud/memex/internal/domain/segment"
)

// SegmentReader resolves vector hits to segment metadata.
type SegmentReader interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domseg.Segment, error)
}

// CollectionChecker reports whether a collection has ever been written.
type CollectionChecker interface {
	Exists(ctx context.Context, name string) (bool, error)
}
