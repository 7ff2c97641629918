package document

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kailas-cloud/memex/internal/db/sqldb"
	"github.com/kailas-cloud/memex/internal/domain"
	domdoc "github.com/kailas-cloud/memex/internal/domain/document"
)

// Repo reads and writes documents in the metadata database.
type Repo struct {
	db *sqldb.DB
}

// New creates a document repository.
func New(db *sqldb.DB) *Repo {
	return &Repo{db: db}
}

// Insert stores a document through conn. The owning collection must exist.
func Insert(ctx context.Context, conn sqldb.Conn, doc domdoc.Document) error {
	_, err := conn.Exec(ctx,
		"INSERT INTO documents (id, collection, content, created_at) VALUES (?, ?, ?, ?)",
		doc.ID().String(), doc.Collection(), doc.Content(), sqldb.ToMicros(doc.CreatedAt()))
	if err != nil {
		return fmt.Errorf("insert document %s: %w", doc.ID(), err)
	}
	return nil
}

// Get loads a document by id.
func (r *Repo) Get(ctx context.Context, id uuid.UUID) (domdoc.Document, error) {
	var (
		rawID, collection, content string
		createdAt                  int64
	)
	err := r.db.QueryRow(ctx,
		"SELECT id, collection, content, created_at FROM documents WHERE id = ?", id.String(),
	).Scan(&rawID, &collection, &content, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domdoc.Document{}, fmt.Errorf("document %s: %w", id, domain.ErrDocumentNotFound)
	}
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("get document %s: %w", id, err)
	}

	parsed, err := uuid.Parse(rawID)
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("document %s id: %w", rawID, domain.ErrDataIntegrity)
	}
	return domdoc.Reconstruct(parsed, collection, content, sqldb.FromMicros(createdAt)), nil
}
