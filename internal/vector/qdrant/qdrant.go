// Package qdrant is the remote vector database backend. Every memex
// collection maps to its own Qdrant collection with cosine distance, and
// upserts wait for the write to be applied, so entries are searchable as
// soon as Upsert returns.
package qdrant

import (
	"context"
	"fmt"
	"sync"

	"github.com/qdrant/go-client/qdrant"

	"github.com/kailas-cloud/memex/internal/domain"
	"github.com/kailas-cloud/memex/internal/vector"
)

const (
	payloadDocumentID = "document_id"
	payloadContent    = "content"

	// DefaultPrefix namespaces memex collections inside a shared Qdrant.
	DefaultPrefix = "memex_"
)

var (
	_ vector.Store  = (*Store)(nil)
	_ vector.Pinger = (*Store)(nil)
)

// client is the consumer interface for the Qdrant gRPC client (ISP).
type client interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Delete(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// Config selects the Qdrant endpoint.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
	Prefix string
}

// Store implements vector.Store on Qdrant.
type Store struct {
	client client
	dims   int
	prefix string

	mu    sync.Mutex
	known map[string]bool
}

// New dials Qdrant over gRPC.
func New(cfg Config, dims int) (*Store, error) {
	if cfg.APIKey != "" && !cfg.UseTLS && cfg.Host != "localhost" && cfg.Host != "127.0.0.1" {
		return nil, domain.Misconfigured("qdrant: refusing to send an API key without TLS to %s", cfg.Host)
	}
	c, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, domain.Misconfigured("qdrant: connect %s:%d: %v", cfg.Host, cfg.Port, err)
	}
	return newStore(c, dims, cfg.Prefix), nil
}

func newStore(c client, dims int, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: c, dims: dims, prefix: prefix, known: make(map[string]bool)}
}

// Dimensions returns the configured vector size.
func (s *Store) Dimensions() int { return s.dims }

// Ping runs the Qdrant health check.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant health: %w: %w", domain.ErrTransientBackend, err)
	}
	return nil
}

// Upsert writes points and waits until they are applied.
func (s *Store) Upsert(ctx context.Context, collection string, entries ...vector.Entry) error {
	if err := vector.CheckDimensions(s.dims, entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, collection); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(entries))
	for i, e := range entries {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(e.ID),
			Vectors: qdrant.NewVectors(e.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadDocumentID: e.DocumentID,
				payloadContent:    e.Content,
			}),
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.name(collection),
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert %s: %w: %w", collection, domain.ErrTransientBackend, err)
	}
	return nil
}

// Search queries the nearest points by cosine similarity.
func (s *Store) Search(ctx context.Context, collection string, query []float32, k int) ([]vector.Hit, error) {
	if len(query) != s.dims {
		return nil, fmt.Errorf("qdrant: query has %d dimensions, store expects %d: %w",
			len(query), s.dims, domain.ErrVectorDimMismatch)
	}
	if k <= 0 {
		return nil, nil
	}

	exists, err := s.exists(ctx, collection)
	if err != nil || !exists {
		return nil, err
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.name(collection),
		Query:          qdrant.NewQuery(query...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query %s: %w: %w", collection, domain.ErrTransientBackend, err)
	}

	hits := make([]vector.Hit, 0, len(points))
	for _, p := range points {
		id := p.GetId().GetUuid()
		if id == "" {
			continue
		}
		hits = append(hits, vector.Hit{ID: id, Score: float64(p.GetScore())})
	}
	return hits, nil
}

// Delete removes points by id.
func (s *Store) Delete(ctx context.Context, collection string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	exists, err := s.exists(ctx, collection)
	if err != nil || !exists {
		return err
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}
	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.name(collection),
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("qdrant delete %s: %w: %w", collection, domain.ErrTransientBackend, err)
	}
	return nil
}

// DropCollection deletes the Qdrant collection.
func (s *Store) DropCollection(ctx context.Context, collection string) error {
	exists, err := s.exists(ctx, collection)
	if err != nil || !exists {
		return err
	}
	if err := s.client.DeleteCollection(ctx, s.name(collection)); err != nil {
		return fmt.Errorf("qdrant drop %s: %w: %w", collection, domain.ErrTransientBackend, err)
	}

	s.mu.Lock()
	delete(s.known, collection)
	s.mu.Unlock()
	return nil
}

// Close closes the gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) exists(ctx context.Context, collection string) (bool, error) {
	s.mu.Lock()
	known := s.known[collection]
	s.mu.Unlock()
	if known {
		return true, nil
	}

	ok, err := s.client.CollectionExists(ctx, s.name(collection))
	if err != nil {
		return false, fmt.Errorf("qdrant exists %s: %w: %w", collection, domain.ErrTransientBackend, err)
	}
	if ok {
		s.mu.Lock()
		s.known[collection] = true
		s.mu.Unlock()
	}
	return ok, nil
}

func (s *Store) ensureCollection(ctx context.Context, collection string) error {
	exists, err := s.exists(ctx, collection)
	if err != nil || exists {
		return err
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.name(collection),
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dims),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		// A concurrent creator may have won; trust a second existence check.
		if ok, _ := s.client.CollectionExists(ctx, s.name(collection)); !ok {
			return fmt.Errorf("qdrant create %s: %w: %w", collection, domain.ErrTransientBackend, err)
		}
	}

	s.mu.Lock()
	s.known[collection] = true
	s.mu.Unlock()
	return nil
}

func (s *Store) name(collection string) string {
	return s.prefix + collection
}
