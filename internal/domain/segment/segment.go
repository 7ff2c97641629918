package segment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Namespace seeds deterministic segment identifiers.
var Namespace = uuid.MustParse("5fdfe40a-de2c-11ed-bfa7-00155deae876")

// IDFor derives the segment identifier from its document and position.
// The same pair always maps to the same id, which makes re-processing idempotent
// in both the metadata and the vector store.
func IDFor(documentID uuid.UUID, position int) uuid.UUID {
	return uuid.NewSHA1(Namespace, fmt.Appendf(nil, "%s-%d", documentID, position))
}

// Segment is a bounded chunk of a document, the unit that is embedded and indexed.
// Its id doubles as the external id of the vector entry.
type Segment struct {
	id         uuid.UUID
	documentID uuid.UUID
	taskID     int64
	collection string
	position   int
	content    string
	start      int
	end        int
	createdAt  time.Time
}

// New builds a segment for the chunk at position.
func New(documentID uuid.UUID, taskID int64, collection string, position int, content string, start, end int) Segment {
	return Segment{
		id:         IDFor(documentID, position),
		documentID: documentID,
		taskID:     taskID,
		collection: collection,
		position:   position,
		content:    content,
		start:      start,
		end:        end,
		createdAt:  time.Now().UTC(),
	}
}

// Reconstruct hydrates a Segment from storage.
func Reconstruct(
	id, documentID uuid.UUID, taskID int64, collection string,
	position int, content string, start, end int, createdAt time.Time,
) Segment {
	return Segment{
		id: id, documentID: documentID, taskID: taskID, collection: collection,
		position: position, content: content, start: start, end: end, createdAt: createdAt,
	}
}

// ID returns the segment (and vector entry) identifier.
func (s *Segment) ID() uuid.UUID { return s.id }

// DocumentID returns the owning document.
func (s *Segment) DocumentID() uuid.UUID { return s.documentID }

// TaskID returns the task that produced the segment.
func (s *Segment) TaskID() int64 { return s.taskID }

// Collection returns the owning collection name.
func (s *Segment) Collection() string { return s.collection }

// Position returns the ordinal within the document.
func (s *Segment) Position() int { return s.position }

// Content returns the segment text.
func (s *Segment) Content() string { return s.content }

// Start returns the byte offset of the segment in the document.
func (s *Segment) Start() int { return s.start }

// End returns the byte offset just past the segment.
func (s *Segment) End() int { return s.end }

// CreatedAt returns the creation timestamp.
func (s *Segment) CreatedAt() time.Time { return s.createdAt }
