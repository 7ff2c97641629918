package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/memex/internal/domain"
	domdoc "github.com/kailas-cloud/memex/internal/domain/document"
	domseg "github.com/kailas-cloud/memex/internal/domain/segment"
	domtask "github.com/kailas-cloud/memex/internal/domain/task"
	"github.com/kailas-cloud/memex/internal/logger"
	"github.com/kailas-cloud/memex/internal/metrics"
	"github.com/kailas-cloud/memex/internal/vector"
)

// ingest splits, embeds and indexes the task's document. Segment metadata is
// written before the vectors so a searchable vector always has its segment.
func (w *Worker) ingest(ctx context.Context, t domtask.Task) (domtask.Output, error) {
	doc, err := w.document(ctx, t)
	if err != nil {
		return domtask.Output{}, err
	}

	chunks := w.splitter.Split(doc.Content())
	if err := w.dropStale(ctx, t, len(chunks)); err != nil {
		return domtask.Output{}, err
	}
	if len(chunks) == 0 {
		logger.FromContext(ctx).Info("document has no content to index")
		return domtask.SegmentsOutput(0), nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	res, err := domain.EmbedAll(ctx, w.embedder, texts)
	if err != nil {
		return domtask.Output{}, fmt.Errorf("embed segments: %w", err)
	}

	segments := make([]domseg.Segment, len(chunks))
	entries := make([]vector.Entry, len(chunks))
	for i, c := range chunks {
		seg := domseg.New(doc.ID(), t.ID(), t.Collection(), c.Index, c.Text, c.Start, c.End)
		segments[i] = seg
		entries[i] = vector.Entry{
			ID:         seg.ID().String(),
			DocumentID: doc.ID().String(),
			Content:    c.Text,
			Vector:     res.Embeddings[i],
		}
	}

	if err := w.segments.InsertBatch(ctx, segments); err != nil {
		return domtask.Output{}, fmt.Errorf("store segments: %w", err)
	}
	if err := w.store.Upsert(ctx, t.Collection(), entries...); err != nil {
		return domtask.Output{}, fmt.Errorf("index segments: %w", err)
	}
	if s, ok := w.store.(vector.Syncer); ok {
		if err := s.Sync(ctx, t.Collection()); err != nil {
			return domtask.Output{}, fmt.Errorf("sync index: %w", err)
		}
	}

	metrics.SegmentsIndexedTotal.Add(float64(len(segments)))
	logger.FromContext(ctx).Debug("segments indexed",
		zap.Int("segments", len(segments)),
		zap.Int("tokens", res.TotalTokens),
	)
	return domtask.SegmentsOutput(len(segments)), nil
}

// dropStale clears segments left by an earlier run over the same document.
// Vectors at positions the new split still produces are overwritten by the
// upsert; only the ones past keep are deleted from the vector store.
func (w *Worker) dropStale(ctx context.Context, t domtask.Task, keep int) error {
	prior, err := w.segments.ListByDocument(ctx, t.DocumentID())
	if err != nil {
		return fmt.Errorf("list previous segments: %w", err)
	}
	if len(prior) == 0 {
		return nil
	}

	var stale []string
	for i := range prior {
		if prior[i].Position() >= keep {
			stale = append(stale, prior[i].ID().String())
		}
	}
	if len(stale) > 0 {
		if err := w.store.Delete(ctx, t.Collection(), stale...); err != nil {
			return fmt.Errorf("delete stale vectors: %w", err)
		}
	}
	n, err := w.segments.DeleteByDocument(ctx, t.DocumentID())
	if err != nil {
		return fmt.Errorf("delete previous segments: %w", err)
	}
	logger.FromContext(ctx).Info("replacing segments from an earlier run",
		zap.Int("previous", n),
		zap.Int("stale_vectors", len(stale)),
	)
	return nil
}

func (w *Worker) summarize(ctx context.Context, t domtask.Task) (domtask.Output, error) {
	if w.summarizer == nil {
		return domtask.Output{}, fmt.Errorf("summarize: %w", domain.ErrCompletionNotConfigured)
	}
	doc, err := w.document(ctx, t)
	if err != nil {
		return domtask.Output{}, err
	}

	summary, err := w.summarizer.Summarize(ctx, doc.Content())
	if err != nil {
		return domtask.Output{}, fmt.Errorf("summarize: %w", err)
	}
	return domtask.SummaryOutput(summary), nil
}

// document loads the task's payload. A task whose document is gone is a data
// integrity failure.
func (w *Worker) document(ctx context.Context, t domtask.Task) (domdoc.Document, error) {
	doc, err := w.docs.Get(ctx, t.DocumentID())
	if errors.Is(err, domain.ErrDocumentNotFound) {
		return domdoc.Document{}, fmt.Errorf("load document: %w: %w", domain.ErrDataIntegrity, err)
	}
	if err != nil {
		return domdoc.Document{}, fmt.Errorf("load document: %w", err)
	}
	return doc, nil
}
