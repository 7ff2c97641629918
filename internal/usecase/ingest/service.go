package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/memex/internal/domain"
	domcol "github.com/kailas-cloud/memex/internal/domain/collection"
	domdoc "github.com/kailas-cloud/memex/internal/domain/document"
	domtask "github.com/kailas-cloud/memex/internal/domain/task"
	"github.com/kailas-cloud/memex/internal/metrics"
)

// Service accepts documents for asynchronous processing. It never waits for
// embedding or indexing.
type Service struct {
	tasks  TaskRepository
	logger *zap.Logger
}

// New creates an ingest service.
func New(tasks TaskRepository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{tasks: tasks, logger: logger}
}

// Enqueue stores content as a new Document of collection and queues an ingest
// task for it. Empty content is accepted and completes with zero segments.
func (s *Service) Enqueue(ctx context.Context, collection, content string) (domtask.Task, error) {
	return s.enqueue(ctx, collection, content, domtask.Ingest)
}

// EnqueueSummary queues a summarize task over content.
func (s *Service) EnqueueSummary(ctx context.Context, collection, content string) (domtask.Task, error) {
	return s.enqueue(ctx, collection, content, domtask.Summarize)
}

func (s *Service) enqueue(ctx context.Context, collection, content string, kind domtask.Kind) (domtask.Task, error) {
	if err := domcol.ValidateName(collection); err != nil {
		return domtask.Task{}, fmt.Errorf("validate collection: %w: %w", domain.ErrMalformedInput, err)
	}
	doc, err := domdoc.New(collection, content)
	if err != nil {
		return domtask.Task{}, fmt.Errorf("validate document: %w: %w", domain.ErrMalformedInput, err)
	}

	t, err := s.tasks.Enqueue(ctx, doc, kind)
	if err != nil {
		return domtask.Task{}, fmt.Errorf("enqueue %s: %w", kind, err)
	}

	metrics.TasksEnqueuedTotal.WithLabelValues(string(kind)).Inc()
	s.logger.Debug("task enqueued",
		zap.Int64("task_id", t.ID()),
		zap.String("collection", collection),
		zap.String("kind", string(kind)),
		zap.Int("bytes", len(content)),
	)
	return t, nil
}

// Task returns a task by id.
func (s *Service) Task(ctx context.Context, id int64) (domtask.Task, error) {
	t, err := s.tasks.Get(ctx, id)
	if err != nil {
		return domtask.Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// Retry queues a new task for the document of a Failed task. The failed task
// keeps its status and error.
func (s *Service) Retry(ctx context.Context, id int64) (domtask.Task, error) {
	failed, err := s.tasks.Get(ctx, id)
	if err != nil {
		return domtask.Task{}, fmt.Errorf("get task: %w", err)
	}
	if failed.Status() != domtask.Failed {
		return domtask.Task{}, fmt.Errorf(
			"retry task %d in status %s: %w", id, failed.Status(), domain.ErrInvalidTransition,
		)
	}

	t, err := s.tasks.EnqueueExisting(ctx, failed.DocumentID(), failed.Collection(), failed.Kind())
	if err != nil {
		return domtask.Task{}, fmt.Errorf("retry task %d: %w", id, err)
	}

	metrics.TasksEnqueuedTotal.WithLabelValues(string(t.Kind())).Inc()
	s.logger.Info("task retried", zap.Int64("failed_task_id", id), zap.Int64("task_id", t.ID()))
	return t, nil
}
