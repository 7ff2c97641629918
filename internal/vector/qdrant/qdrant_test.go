package qdrant

import (
	"context"
	"errors"
	"testing"

	"github.com/qdrant/go-client/qdrant"

	"github.com/kailas-cloud/memex/internal/domain"
	"github.com/kailas-cloud/memex/internal/vector"
)

const (
	idA = "6f1c5a52-5b8e-5d5f-9c59-0a3f4c1f0a01"
	idB = "6f1c5a52-5b8e-5d5f-9c59-0a3f4c1f0a02"
)

// mockClient implements the consumer interface for tests.
type mockClient struct {
	collections map[string]bool
	upserts     []*qdrant.UpsertPoints
	deletes     []*qdrant.DeletePoints
	created     []*qdrant.CreateCollection
	queryFn     func(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	upsertErr   error
	healthErr   error
	closed      bool
}

func newMockClient() *mockClient {
	return &mockClient{collections: make(map[string]bool)}
}

func (m *mockClient) CollectionExists(_ context.Context, name string) (bool, error) {
	return m.collections[name], nil
}

func (m *mockClient) CreateCollection(_ context.Context, req *qdrant.CreateCollection) error {
	m.created = append(m.created, req)
	m.collections[req.GetCollectionName()] = true
	return nil
}

func (m *mockClient) DeleteCollection(_ context.Context, name string) error {
	delete(m.collections, name)
	return nil
}

func (m *mockClient) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	m.upserts = append(m.upserts, req)
	return &qdrant.UpdateResult{}, nil
}

func (m *mockClient) Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	if m.queryFn != nil {
		return m.queryFn(ctx, req)
	}
	return nil, nil
}

func (m *mockClient) Delete(_ context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	m.deletes = append(m.deletes, req)
	return &qdrant.UpdateResult{}, nil
}

func (m *mockClient) HealthCheck(context.Context) (*qdrant.HealthCheckReply, error) {
	return &qdrant.HealthCheckReply{}, m.healthErr
}

func (m *mockClient) Close() error {
	m.closed = true
	return nil
}

func TestUpsert_CreatesCollectionOnce(t *testing.T) {
	mc := newMockClient()
	s := newStore(mc, 3, "")
	ctx := context.Background()

	entry := vector.Entry{ID: idA, DocumentID: "doc", Content: "text", Vector: []float32{1, 0, 0}}
	for range 2 {
		if err := s.Upsert(ctx, "notes", entry); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if len(mc.created) != 1 {
		t.Fatalf("expected 1 create, got %d", len(mc.created))
	}
	if mc.created[0].GetCollectionName() != "memex_notes" {
		t.Errorf("collection = %s", mc.created[0].GetCollectionName())
	}
	params := mc.created[0].GetVectorsConfig().GetParams()
	if params.GetSize() != 3 || params.GetDistance() != qdrant.Distance_Cosine {
		t.Errorf("unexpected vector params: %+v", params)
	}

	up := mc.upserts[0]
	if !up.GetWait() {
		t.Error("expected wait=true")
	}
	if len(up.GetPoints()) != 1 || up.GetPoints()[0].GetId().GetUuid() != idA {
		t.Errorf("unexpected points: %+v", up.GetPoints())
	}
	if up.GetPoints()[0].GetPayload()["document_id"].GetStringValue() != "doc" {
		t.Error("document_id payload missing")
	}
}

func TestUpsert_ErrorIsTransient(t *testing.T) {
	mc := newMockClient()
	mc.upsertErr = errors.New("unavailable")
	s := newStore(mc, 3, "")

	err := s.Upsert(context.Background(), "notes", vector.Entry{ID: idA, Vector: []float32{1, 0, 0}})
	if !errors.Is(err, domain.ErrTransientBackend) {
		t.Fatalf("expected ErrTransientBackend, got %v", err)
	}
}

func TestSearch_UnknownCollectionIsEmpty(t *testing.T) {
	mc := newMockClient()
	mc.queryFn = func(context.Context, *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
		t.Fatal("query must not run against a missing collection")
		return nil, nil
	}
	s := newStore(mc, 3, "")

	hits, err := s.Search(context.Background(), "ghost", []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits, got %+v", hits)
	}
}

func TestSearch_MapsPoints(t *testing.T) {
	mc := newMockClient()
	mc.collections["memex_notes"] = true
	mc.queryFn = func(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
		if req.GetCollectionName() != "memex_notes" || req.GetLimit() != 2 {
			t.Errorf("unexpected request: %+v", req)
		}
		return []*qdrant.ScoredPoint{
			{Id: qdrant.NewIDUUID(idA), Score: 0.93},
			{Id: qdrant.NewIDUUID(idB), Score: 0.41},
		}, nil
	}
	s := newStore(mc, 3, "")

	hits, err := s.Search(context.Background(), "notes", []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 2 || hits[0].ID != idA || hits[1].ID != idB {
		t.Fatalf("unexpected hits: %+v", hits)
	}
	if hits[0].Score < 0.92 || hits[0].Score > 0.94 {
		t.Errorf("score = %v", hits[0].Score)
	}
}

func TestDeleteAndDrop(t *testing.T) {
	mc := newMockClient()
	mc.collections["memex_notes"] = true
	s := newStore(mc, 3, "")
	ctx := context.Background()

	if err := s.Delete(ctx, "notes", idA, idB); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mc.deletes) != 1 || len(mc.deletes[0].GetPoints().GetPoints().GetIds()) != 2 {
		t.Fatalf("unexpected deletes: %+v", mc.deletes)
	}

	if err := s.DropCollection(ctx, "notes"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mc.collections["memex_notes"] {
		t.Error("collection still present")
	}
	if err := s.DropCollection(ctx, "notes"); err != nil {
		t.Fatalf("dropping a missing collection: %v", err)
	}
}

func TestPingAndClose(t *testing.T) {
	mc := newMockClient()
	s := newStore(mc, 3, "custom_")

	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mc.healthErr = errors.New("down")
	if err := s.Ping(context.Background()); !errors.Is(err, domain.ErrTransientBackend) {
		t.Fatalf("expected ErrTransientBackend, got %v", err)
	}
	if err := s.Close(); err != nil || !mc.closed {
		t.Fatalf("close: err=%v closed=%v", err, mc.closed)
	}
	if s.name("x") != "custom_x" {
		t.Errorf("prefix not applied: %s", s.name("x"))
	}
}

func TestNew_RefusesPlaintextAPIKey(t *testing.T) {
	_, err := New(Config{Host: "qdrant.example.com", Port: 6334, APIKey: "secret"}, 3)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}
