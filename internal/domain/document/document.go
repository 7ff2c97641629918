package document

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxContentSize is the maximum document content size in bytes.
const MaxContentSize = 4 << 20 // 4MB

// Document is an ingested payload (immutable value object).
// Re-ingesting identical content creates a new Document.
type Document struct {
	id         uuid.UUID
	collection string
	content    string
	createdAt  time.Time
}

// New creates a Document with a fresh random id.
// Empty content is allowed: it produces zero segments.
func New(collection, content string) (Document, error) {
	if collection == "" {
		return Document{}, fmt.Errorf("collection is required")
	}
	if len(content) > MaxContentSize {
		return Document{}, fmt.Errorf("content too large (max %d bytes)", MaxContentSize)
	}
	return Document{
		id:         uuid.New(),
		collection: collection,
		content:    content,
		createdAt:  time.Now().UTC(),
	}, nil
}

// Reconstruct creates a Document without validation (storage hydration).
func Reconstruct(id uuid.UUID, collection, content string, createdAt time.Time) Document {
	return Document{id: id, collection: collection, content: content, createdAt: createdAt}
}

// ID returns the document identifier.
func (d *Document) ID() uuid.UUID { return d.id }

// Collection returns the owning collection name.
func (d *Document) Collection() string { return d.collection }

// Content returns the raw text payload.
func (d *Document) Content() string { return d.content }

// CreatedAt returns the creation timestamp.
func (d *Document) CreatedAt() time.Time { return d.createdAt }
