package worker

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/memex/internal/domain"
	domdoc "github.com/kailas-cloud/memex/internal/domain/document"
	domseg "github.com/kailas-cloud/memex/internal/domain/segment"
	domtask "github.com/kailas-cloud/memex/internal/domain/task"
	"github.com/kailas-cloud/memex/internal/metrics"
	"github.com/kailas-cloud/memex/internal/vector"
)

func TestMain(m *testing.M) {
	metrics.Register()
	os.Exit(m.Run())
}

// memQueue is an in-memory TaskQueue with the same transition rules as the
// SQL repository.
type memQueue struct {
	mu       sync.Mutex
	tasks    []domtask.Task
	claimErr error
}

func (q *memQueue) add(doc domdoc.Document, kind domtask.Kind) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := int64(len(q.tasks) + 1)
	now := time.Now().UTC()
	q.tasks = append(q.tasks, domtask.Reconstruct(
		id, doc.ID(), doc.Collection(), kind, domtask.Queued, nil, 0, domtask.Output{}, now, now))
	return id
}

func (q *memQueue) get(id int64) domtask.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tasks[id-1]
}

func (q *memQueue) set(id int64, status domtask.Status, detail *domtask.ErrorDetail, out domtask.Output) error {
	t := q.tasks[id-1]
	if !domtask.CanTransition(t.Status(), status) {
		return domain.ErrInvalidTransition
	}
	q.tasks[id-1] = domtask.Reconstruct(t.ID(), t.DocumentID(), t.Collection(), t.Kind(),
		status, detail, t.Retries(), out, t.CreatedAt(), time.Now().UTC())
	return nil
}

func (q *memQueue) Claim(context.Context) (domtask.Task, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.claimErr != nil {
		return domtask.Task{}, false, q.claimErr
	}
	for _, t := range q.tasks {
		if t.Status() == domtask.Queued {
			_ = q.set(t.ID(), domtask.Processing, nil, domtask.Output{})
			return q.tasks[t.ID()-1], true, nil
		}
	}
	return domtask.Task{}, false, nil
}

func (q *memQueue) Complete(_ context.Context, id int64, out domtask.Output) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.set(id, domtask.Completed, nil, out)
}

func (q *memQueue) Fail(_ context.Context, id int64, detail domtask.ErrorDetail) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.set(id, domtask.Failed, &detail, domtask.Output{})
}

func (q *memQueue) CountByStatus(context.Context) (map[domtask.Status]int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := map[domtask.Status]int{}
	for _, t := range q.tasks {
		out[t.Status()]++
	}
	return out, nil
}

type memDocs struct {
	mu   sync.Mutex
	docs map[uuid.UUID]domdoc.Document
}

func newMemDocs() *memDocs { return &memDocs{docs: map[uuid.UUID]domdoc.Document{}} }

func (d *memDocs) put(t *testing.T, collection, content string) domdoc.Document {
	t.Helper()
	doc, err := domdoc.New(collection, content)
	if err != nil {
		t.Fatalf("domdoc.New: %v", err)
	}
	d.mu.Lock()
	d.docs[doc.ID()] = doc
	d.mu.Unlock()
	return doc
}

func (d *memDocs) Get(_ context.Context, id uuid.UUID) (domdoc.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.docs[id]
	if !ok {
		return domdoc.Document{}, domain.ErrDocumentNotFound
	}
	return doc, nil
}

type mockSegments struct {
	mu       sync.Mutex
	inserted []domseg.Segment
	err      error
}

func (m *mockSegments) InsertBatch(_ context.Context, segments []domseg.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.inserted = append(m.inserted, segments...)
	return nil
}

func (m *mockSegments) ListByDocument(_ context.Context, documentID uuid.UUID) ([]domseg.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domseg.Segment
	for _, s := range m.inserted {
		if s.DocumentID() == documentID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockSegments) DeleteByDocument(_ context.Context, documentID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.inserted[:0]
	for _, s := range m.inserted {
		if s.DocumentID() != documentID {
			kept = append(kept, s)
		}
	}
	n := len(m.inserted) - len(kept)
	m.inserted = kept
	return n, nil
}

// mockStore records upserts, deletes and syncs.
type mockStore struct {
	mu        sync.Mutex
	upserted  map[string][]vector.Entry
	deleted   []string
	synced    []string
	upsertErr error
}

func newMockStore() *mockStore { return &mockStore{upserted: map[string][]vector.Entry{}} }

func (m *mockStore) Upsert(_ context.Context, collection string, entries ...vector.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	m.upserted[collection] = append(m.upserted[collection], entries...)
	return nil
}

func (m *mockStore) Search(context.Context, string, []float32, int) ([]vector.Hit, error) {
	return nil, nil
}

func (m *mockStore) Delete(_ context.Context, _ string, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, ids...)
	return nil
}

func (m *mockStore) DropCollection(context.Context, string) error { return nil }
func (m *mockStore) Dimensions() int                              { return 3 }
func (m *mockStore) Close() error                                 { return nil }

func (m *mockStore) Sync(_ context.Context, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.synced = append(m.synced, collection)
	return nil
}

type mockEmbedder struct {
	embedFn func(ctx context.Context, text string) (domain.EmbeddingResult, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if m.embedFn != nil {
		return m.embedFn(ctx, text)
	}
	return domain.EmbeddingResult{Embedding: []float32{1, 0, 0}, TotalTokens: 1}, nil
}

type mockSummarizer struct {
	summarizeFn func(ctx context.Context, text string) (string, error)
}

func (m *mockSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	return m.summarizeFn(ctx, text)
}
