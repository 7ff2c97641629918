package docsearch

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/kailas-cloud/memex/internal/db"
	"github.com/kailas-cloud/memex/internal/domain"
	"github.com/kailas-cloud/memex/internal/vector"
)

func TestUpsert_CreatesIndexOnceAndWritesHashes(t *testing.T) {
	s, ms := newTestStore(t)
	ctx := context.Background()

	var def *db.IndexDefinition
	ms.createIndexFn = func(_ context.Context, d *db.IndexDefinition) error {
		def = d
		return nil
	}
	var written []db.HashSetItem
	ms.hsetMultiFn = func(_ context.Context, items []db.HashSetItem) error {
		written = append(written, items...)
		return nil
	}

	entry := vector.Entry{ID: "seg-1", DocumentID: "doc-1", Content: "The sky is blue.", Vector: []float32{1, 0, 0}}
	if err := s.Upsert(ctx, "notes", entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Upsert(ctx, "notes", entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ms.createCalls != 1 {
		t.Errorf("expected 1 CreateIndex call, got %d", ms.createCalls)
	}
	if def.Name != "memex:notes:idx" {
		t.Errorf("index name = %s", def.Name)
	}
	if len(def.Prefixes) != 1 || def.Prefixes[0] != "memex:notes:seg:" {
		t.Errorf("prefixes = %v", def.Prefixes)
	}
	if len(written) != 2 || written[0].Key != "memex:notes:seg:seg-1" {
		t.Fatalf("unexpected writes: %+v", written)
	}
	f := written[0].Fields
	if f["content"] != "The sky is blue." || f["document_id"] != "doc-1" {
		t.Errorf("unexpected fields: %v", f)
	}
	if got := decode(f["vector"]); len(got) != 3 || got[0] != 1 {
		t.Errorf("vector round trip = %v", got)
	}
}

func TestUpsert_IndexExistsIsFine(t *testing.T) {
	s, ms := newTestStore(t)
	ms.createIndexFn = func(context.Context, *db.IndexDefinition) error { return db.ErrIndexExists }

	err := s.Upsert(context.Background(), "notes", vector.Entry{ID: "a", Vector: []float32{1, 0, 0}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpsert_DimensionMismatch(t *testing.T) {
	s, ms := newTestStore(t)

	err := s.Upsert(context.Background(), "notes", vector.Entry{ID: "a", Vector: []float32{1}})
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Fatalf("expected ErrVectorDimMismatch, got %v", err)
	}
	if ms.createCalls != 0 {
		t.Error("index must not be created for rejected entries")
	}
}

func TestUpsert_BackendErrorIsTransient(t *testing.T) {
	s, ms := newTestStore(t)
	ms.hsetMultiFn = func(context.Context, []db.HashSetItem) error {
		return &db.Error{Op: db.OpHSet, Err: errors.New("connection reset")}
	}

	err := s.Upsert(context.Background(), "notes", vector.Entry{ID: "a", Vector: []float32{1, 0, 0}})
	if !errors.Is(err, domain.ErrTransientBackend) {
		t.Fatalf("expected ErrTransientBackend, got %v", err)
	}
}

func TestSearch_MapsKeysToIDs(t *testing.T) {
	s, ms := newTestStore(t)
	ms.searchKNNFn = func(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
		if q.IndexName != "memex:notes:idx" || q.VectorField != "vector" || q.K != 5 {
			t.Errorf("unexpected query: %+v", q)
		}
		return &db.SearchResult{Total: 3, Entries: []db.SearchEntry{
			{Key: "memex:notes:seg:a", Score: 0.9},
			{Key: "memex:other:seg:x", Score: 0.8},
			{Key: "memex:notes:seg:b", Score: 0.5},
		}}, nil
	}

	hits, err := s.Search(context.Background(), "notes", []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 2 || hits[0].ID != "a" || hits[1].ID != "b" {
		t.Fatalf("unexpected hits: %+v", hits)
	}
	if hits[0].Score != 0.9 {
		t.Errorf("score = %v, want 0.9", hits[0].Score)
	}
}

func TestSearch_MissingIndexIsEmpty(t *testing.T) {
	s, ms := newTestStore(t)
	ms.searchKNNFn = func(context.Context, *db.KNNQuery) (*db.SearchResult, error) {
		return nil, db.ErrIndexNotFound
	}

	hits, err := s.Search(context.Background(), "ghost", []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits, got %+v", hits)
	}
}

func TestSearchText(t *testing.T) {
	s, ms := newTestStore(t)
	ms.searchBM25Fn = func(_ context.Context, q *db.TextQuery) (*db.SearchResult, error) {
		if q.Field != "content" || q.Query != "taxes" || q.TopK != 3 {
			t.Errorf("unexpected query: %+v", q)
		}
		return &db.SearchResult{Entries: []db.SearchEntry{{Key: "memex:notes:seg:t", Score: 2.1}}}, nil
	}

	hits, err := s.SearchText(context.Background(), "notes", "taxes", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "t" {
		t.Fatalf("unexpected hits: %+v", hits)
	}

	hits, err = s.SearchText(context.Background(), "notes", "   ", 3)
	if err != nil || hits != nil {
		t.Errorf("blank query: hits=%v err=%v", hits, err)
	}
}

func TestDelete_Keys(t *testing.T) {
	s, ms := newTestStore(t)
	var got []string
	ms.delFn = func(_ context.Context, keys ...string) error {
		got = keys
		return nil
	}

	if err := s.Delete(context.Background(), "notes", "a", "b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[1] != "memex:notes:seg:b" {
		t.Errorf("unexpected keys: %v", got)
	}
}

func TestDropCollection_DeletesDocsAndForgetsIndex(t *testing.T) {
	s, ms := newTestStore(t)
	ctx := context.Background()

	var dd bool
	ms.dropIndexFn = func(_ context.Context, name string, deleteDocs bool) error {
		dd = deleteDocs
		return nil
	}

	entry := vector.Entry{ID: "a", Vector: []float32{1, 0, 0}}
	if err := s.Upsert(ctx, "notes", entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.DropCollection(ctx, "notes"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dd {
		t.Error("expected DD flag")
	}
	if err := s.Upsert(ctx, "notes", entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ms.createCalls != 2 {
		t.Errorf("expected index recreated after drop, got %d creates", ms.createCalls)
	}

	ms.dropIndexFn = func(context.Context, string, bool) error { return db.ErrIndexNotFound }
	if err := s.DropCollection(ctx, "ghost"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSync_WaitsForIndexing(t *testing.T) {
	s, ms := newTestStore(t)
	calls := 0
	ms.indexInfoFn = func(context.Context, string) (db.IndexInfo, error) {
		calls++
		if calls < 3 {
			return db.IndexInfo{Indexing: true, PercentIndexed: 0.5}, nil
		}
		return db.IndexInfo{PercentIndexed: 1}, nil
	}

	if err := s.Sync(context.Background(), "notes"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 polls, got %d", calls)
	}
}

func TestSync_Timeout(t *testing.T) {
	s, ms := newTestStore(t)
	ms.indexInfoFn = func(context.Context, string) (db.IndexInfo, error) {
		return db.IndexInfo{Indexing: true}, nil
	}

	err := s.Sync(context.Background(), "notes")
	if !errors.Is(err, domain.ErrTransientBackend) {
		t.Fatalf("expected ErrTransientBackend, got %v", err)
	}
}

func TestPing_Transient(t *testing.T) {
	s, ms := newTestStore(t)
	ms.pingFn = func(context.Context) error { return errors.New("refused") }

	if err := s.Ping(context.Background()); !errors.Is(err, domain.ErrTransientBackend) {
		t.Fatalf("expected ErrTransientBackend, got %v", err)
	}
}

func TestClose(t *testing.T) {
	s, ms := newTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ms.closed {
		t.Error("expected underlying store closed")
	}
}

func decode(s string) []float32 {
	b := []byte(s)
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
