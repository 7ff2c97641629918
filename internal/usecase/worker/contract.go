package worker

import (
	"context"

	"github.com/google/uuid"

	"github.com/kailas-cloud/memex/internal/chunk"
	domdoc "github.com/kailas-cloud/memex/internal/domain/document"
	domseg "github.com/kailas-cloud/memex/internal/domain/segment"
	domtask "github.com/kailas-cloud/memex/internal/domain/task"
)

// TaskQueue defines the queue transitions the worker drives.
type TaskQueue interface {
	Claim(ctx context.Context) (domtask.Task, bool, error)
	Complete(ctx context.Context, id int64, out domtask.Output) error
	Fail(ctx context.Context, id int64, detail domtask.ErrorDetail) error
	CountByStatus(ctx context.Context) (map[domtask.Status]int, error)
}

// DocumentReader loads the payload of a claimed task.
type DocumentReader interface {
	Get(ctx context.Context, id uuid.UUID) (domdoc.Document, error)
}

// SegmentStore persists segment metadata.
type SegmentStore interface {
	InsertBatch(ctx context.Context, segments []domseg.Segment) error
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]domseg.Segment, error)
	DeleteByDocument(ctx context.Context, documentID uuid.UUID) (int, error)
}

// Splitter cuts document text into chunks.
type Splitter interface {
	Split(text string) []chunk.Chunk
}

// Summarizer produces the output of summarize tasks.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}
