package ingest

import (
	"context"

	"github.com/google/uuid"

	domdoc "github.com/kailas-cloud/memex/internal/domain/document"
	domtask "github.com/kailas-cloud/memex/internal/domain/task"
)

// TaskRepository defines the queue operations used at enqueue time.
type TaskRepository interface {
	Enqueue(ctx context.Context, doc domdoc.Document, kind domtask.Kind) (domtask.Task, error)
	EnqueueExisting(ctx context.Context, documentID uuid.UUID, collection string, kind domtask.Kind) (domtask.Task, error)
	Get(ctx context.Context, id int64) (domtask.Task, error)
}
