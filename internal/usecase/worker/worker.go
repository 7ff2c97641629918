// Package worker drives queued tasks to a terminal state.
//
// The worker polls the task queue, claims tasks through the store's atomic
// conditional update and runs at most maxActive of them at once. A failing
// task is marked Failed and never stops the loop.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/memex/internal/domain"
	domtask "github.com/kailas-cloud/memex/internal/domain/task"
	"github.com/kailas-cloud/memex/internal/logger"
	"github.com/kailas-cloud/memex/internal/metrics"
	"github.com/kailas-cloud/memex/internal/vector"
)

// Scheduling defaults.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultMaxActive    = 5
)

// Worker is the ingestion scheduler.
type Worker struct {
	tasks      TaskQueue
	docs       DocumentReader
	segments   SegmentStore
	store      vector.Store
	embedder   domain.Embedder
	splitter   Splitter
	summarizer Summarizer

	pollInterval time.Duration
	maxActive    int
	logger       *zap.Logger
}

// New creates a worker. The embedder is the document-side chain.
func New(
	tasks TaskQueue, docs DocumentReader, segments SegmentStore,
	store vector.Store, embedder domain.Embedder, splitter Splitter, logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		tasks:        tasks,
		docs:         docs,
		segments:     segments,
		store:        store,
		embedder:     embedder,
		splitter:     splitter,
		pollInterval: DefaultPollInterval,
		maxActive:    DefaultMaxActive,
		logger:       logger,
	}
}

// WithSummarizer enables summarize tasks. Without it they fail with a
// configuration error.
func (w *Worker) WithSummarizer(s Summarizer) *Worker {
	w.summarizer = s
	return w
}

// WithPollInterval sets the queue polling period.
func (w *Worker) WithPollInterval(d time.Duration) *Worker {
	if d > 0 {
		w.pollInterval = d
	}
	return w
}

// WithMaxActive bounds the number of tasks processed concurrently.
func (w *Worker) WithMaxActive(n int) *Worker {
	if n > 0 {
		w.maxActive = n
	}
	return w
}

// Run polls the queue until ctx is canceled, then waits for in-flight tasks.
// In-flight tasks run on a context detached from ctx so they reach a terminal state.
func (w *Worker) Run(ctx context.Context) error {
	w.reportProcessing(ctx)
	w.logger.Info("worker started",
		zap.Duration("poll_interval", w.pollInterval),
		zap.Int("max_active", w.maxActive),
	)

	var wg sync.WaitGroup
	slots := make(chan struct{}, w.maxActive)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.fill(ctx, slots, &wg)

		select {
		case <-ctx.Done():
			wg.Wait()
			w.logger.Info("worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// fill claims tasks while there are free slots and queued work.
func (w *Worker) fill(ctx context.Context, slots chan struct{}, wg *sync.WaitGroup) {
	for ctx.Err() == nil {
		select {
		case slots <- struct{}{}:
		default:
			return
		}

		t, ok, err := w.tasks.Claim(ctx)
		if err != nil || !ok {
			<-slots
			if err != nil && ctx.Err() == nil {
				w.logger.Warn("claim task", zap.Error(err))
			}
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-slots }()
			w.process(context.WithoutCancel(ctx), t)
		}()
	}
}

// ProcessNext claims one task and runs it to a terminal state. It reports
// false when the queue is empty.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	t, ok, err := w.tasks.Claim(ctx)
	if err != nil {
		return false, fmt.Errorf("claim task: %w", err)
	}
	if !ok {
		return false, nil
	}
	w.process(ctx, t)
	return true, nil
}

// reportProcessing logs tasks left in Processing by a previous run. They are
// recovered only by an explicit requeue.
func (w *Worker) reportProcessing(ctx context.Context) {
	counts, err := w.tasks.CountByStatus(ctx)
	if err != nil {
		w.logger.Warn("count tasks at startup", zap.Error(err))
		return
	}
	if n := counts[domtask.Processing]; n > 0 {
		w.logger.Warn("tasks left in processing; run `memex tasks requeue-stale` to recover them",
			zap.Int("processing", n))
	}
}

func (w *Worker) process(ctx context.Context, t domtask.Task) {
	start := time.Now()
	log := logger.WithTask(w.logger, t.ID(), t.Collection(), string(t.Kind()))
	ctx = logger.ContextWithLogger(ctx, log)

	metrics.TasksClaimedTotal.Inc()
	metrics.TasksActive.Inc()
	defer metrics.TasksActive.Dec()

	out, err := w.execute(ctx, t)
	if err != nil {
		w.fail(ctx, log, t, err, time.Since(start))
		return
	}

	if err := w.tasks.Complete(ctx, t.ID(), out); err != nil {
		log.Error("complete task", zap.Error(err))
		return
	}
	elapsed := time.Since(start)
	metrics.TasksFinishedTotal.WithLabelValues(string(t.Kind()), string(domtask.Completed), "").Inc()
	metrics.TaskDuration.WithLabelValues(string(t.Kind()), string(domtask.Completed)).Observe(elapsed.Seconds())
	log.Info("task completed", zap.Duration("duration", elapsed))
}

func (w *Worker) fail(ctx context.Context, log *zap.Logger, t domtask.Task, cause error, elapsed time.Duration) {
	detail := domtask.DetailOf(cause)
	log.Error("task failed",
		zap.String("error_kind", string(detail.Kind)),
		zap.Error(cause),
		zap.Duration("duration", elapsed),
	)

	if err := w.tasks.Fail(ctx, t.ID(), detail); err != nil {
		log.Error("mark task failed", zap.Error(err))
		return
	}
	metrics.TasksFinishedTotal.WithLabelValues(string(t.Kind()), string(domtask.Failed), string(detail.Kind)).Inc()
	metrics.TaskDuration.WithLabelValues(string(t.Kind()), string(domtask.Failed)).Observe(elapsed.Seconds())
}

// execute runs the pipeline for t. A panic is turned into an internal error.
func (w *Worker) execute(ctx context.Context, t domtask.Task) (out domtask.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %d panicked: %v", t.ID(), r)
		}
	}()

	switch t.Kind() {
	case domtask.Ingest:
		return w.ingest(ctx, t)
	case domtask.Summarize:
		return w.summarize(ctx, t)
	default:
		return domtask.Output{}, fmt.Errorf("unknown task kind %q: %w", t.Kind(), domain.ErrDataIntegrity)
	}
}
