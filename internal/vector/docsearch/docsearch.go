// Package docsearch is the remote document-search backend. Each segment is a
// Redis hash holding its text, owning document and vector, indexed by one FT
// index per collection. Indexing is asynchronous on the server, so freshly
// written hashes may not be searchable until Sync returns.
package docsearch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kailas-cloud/memex/internal/db"
	"github.com/kailas-cloud/memex/internal/domain"
	"github.com/kailas-cloud/memex/internal/vector"
)

const (
	fieldContent    = "content"
	fieldDocumentID = "document_id"
	fieldVector     = "vector"

	defaultHNSWM           = 16
	defaultHNSWEFConstruct = 200
	defaultSyncInterval    = 50 * time.Millisecond
	defaultSyncTimeout     = 30 * time.Second
)

var (
	_ vector.Store           = (*Store)(nil)
	_ vector.KeywordSearcher = (*Store)(nil)
	_ vector.Syncer          = (*Store)(nil)
	_ vector.Pinger          = (*Store)(nil)
)

// store is the consumer interface for the Redis facade (ISP).
type store interface {
	Ping(ctx context.Context) error
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	Del(ctx context.Context, keys ...string) error
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	DropIndex(ctx context.Context, name string, deleteDocs bool) error
	IndexInfo(ctx context.Context, name string) (db.IndexInfo, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchBM25(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error)
	Close()
}

// HNSWConfig holds HNSW graph parameters for new indexes.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// Store implements vector.Store on a Redis instance with the search module.
type Store struct {
	store  store
	dims   int
	prefix string
	hnsw   HNSWConfig

	syncInterval time.Duration
	syncTimeout  time.Duration

	mu      sync.Mutex
	indexed map[string]bool
}

// Option configures the store.
type Option func(*Store)

// WithPrefix overrides the key prefix (default domain.KeyPrefix).
func WithPrefix(p string) Option {
	return func(s *Store) { s.prefix = p }
}

// WithHNSW overrides the HNSW parameters. Zero values keep the defaults.
func WithHNSW(cfg HNSWConfig) Option {
	return func(s *Store) {
		if cfg.M > 0 {
			s.hnsw.M = cfg.M
		}
		if cfg.EFConstruct > 0 {
			s.hnsw.EFConstruct = cfg.EFConstruct
		}
	}
}

// WithSync sets how often and for how long Sync polls FT.INFO.
func WithSync(interval, timeout time.Duration) Option {
	return func(s *Store) {
		if interval > 0 {
			s.syncInterval = interval
		}
		if timeout > 0 {
			s.syncTimeout = timeout
		}
	}
}

// New creates a docsearch store.
func New(st store, dims int, opts ...Option) *Store {
	s := &Store{
		store:        st,
		dims:         dims,
		prefix:       domain.KeyPrefix,
		hnsw:         HNSWConfig{M: defaultHNSWM, EFConstruct: defaultHNSWEFConstruct},
		syncInterval: defaultSyncInterval,
		syncTimeout:  defaultSyncTimeout,
		indexed:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dimensions returns the configured vector size.
func (s *Store) Dimensions() int { return s.dims }

// Ping checks the server.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("docsearch ping: %w: %w", domain.ErrTransientBackend, err)
	}
	return nil
}

// Upsert writes one hash per entry after making sure the collection index exists.
func (s *Store) Upsert(ctx context.Context, collection string, entries ...vector.Entry) error {
	if err := vector.CheckDimensions(s.dims, entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	if err := s.ensureIndex(ctx, collection); err != nil {
		return err
	}

	items := make([]db.HashSetItem, len(entries))
	for i, e := range entries {
		items[i] = db.HashSetItem{
			Key: s.entryKey(collection, e.ID),
			Fields: map[string]string{
				fieldContent:    e.Content,
				fieldDocumentID: e.DocumentID,
				fieldVector:     vectorToBytes(e.Vector),
			},
		}
	}
	if err := s.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("docsearch upsert %s: %w", collection, wrapTransient(err))
	}
	return nil
}

// Search runs a KNN query against the collection index.
func (s *Store) Search(ctx context.Context, collection string, query []float32, k int) ([]vector.Hit, error) {
	if len(query) != s.dims {
		return nil, fmt.Errorf("docsearch: query has %d dimensions, store expects %d: %w",
			len(query), s.dims, domain.ErrVectorDimMismatch)
	}
	if k <= 0 {
		return nil, nil
	}

	res, err := s.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    s.indexName(collection),
		VectorField:  fieldVector,
		Vector:       query,
		K:            k,
		ReturnFields: []string{fieldDocumentID},
	})
	if errors.Is(err, db.ErrIndexNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("docsearch search %s: %w", collection, wrapTransient(err))
	}
	return s.hits(collection, res), nil
}

// SearchText ranks entries by BM25 over their content.
func (s *Store) SearchText(ctx context.Context, collection, query string, k int) ([]vector.Hit, error) {
	if strings.TrimSpace(query) == "" || k <= 0 {
		return nil, nil
	}

	res, err := s.store.SearchBM25(ctx, &db.TextQuery{
		IndexName:    s.indexName(collection),
		Field:        fieldContent,
		Query:        query,
		TopK:         k,
		ReturnFields: []string{fieldDocumentID},
	})
	if errors.Is(err, db.ErrIndexNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("docsearch text search %s: %w", collection, wrapTransient(err))
	}
	return s.hits(collection, res), nil
}

// Delete removes entry hashes; the index drops them with the keys.
func (s *Store) Delete(ctx context.Context, collection string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.entryKey(collection, id)
	}
	if err := s.store.Del(ctx, keys...); err != nil {
		return fmt.Errorf("docsearch delete %s: %w", collection, wrapTransient(err))
	}
	return nil
}

// DropCollection drops the index together with its hashes.
func (s *Store) DropCollection(ctx context.Context, collection string) error {
	s.mu.Lock()
	delete(s.indexed, collection)
	s.mu.Unlock()

	err := s.store.DropIndex(ctx, s.indexName(collection), true)
	if err != nil && !errors.Is(err, db.ErrIndexNotFound) {
		return fmt.Errorf("docsearch drop %s: %w", collection, wrapTransient(err))
	}
	return nil
}

// Sync polls FT.INFO until the collection index reports no pending
// background indexing, or the sync timeout expires.
func (s *Store) Sync(ctx context.Context, collection string) error {
	ctx, cancel := context.WithTimeout(ctx, s.syncTimeout)
	defer cancel()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		info, err := s.store.IndexInfo(ctx, s.indexName(collection))
		switch {
		case errors.Is(err, db.ErrIndexNotFound):
			return nil
		case err != nil:
			return fmt.Errorf("docsearch sync %s: %w", collection, wrapTransient(err))
		case !info.Indexing && info.PercentIndexed >= 1:
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("docsearch sync %s: %w: %w", collection, domain.ErrTransientBackend, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close releases the connection.
func (s *Store) Close() error {
	s.store.Close()
	return nil
}

func (s *Store) ensureIndex(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexed[collection] {
		return nil
	}

	def, err := db.NewIndex(s.indexName(collection)).
		Prefix(s.entryPrefix(collection)).
		Text(fieldContent).
		Tag(fieldDocumentID).
		VectorHNSW(fieldVector, s.dims, db.DistanceCosine, s.hnsw.M, s.hnsw.EFConstruct).
		Build()
	if err != nil {
		return domain.Misconfigured("docsearch index for %s: %v", collection, err)
	}

	if err := s.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("docsearch create index %s: %w", collection, wrapTransient(err))
	}
	s.indexed[collection] = true
	return nil
}

func (s *Store) hits(collection string, res *db.SearchResult) []vector.Hit {
	if res == nil {
		return nil
	}
	prefix := s.entryPrefix(collection)
	hits := make([]vector.Hit, 0, len(res.Entries))
	for _, e := range res.Entries {
		id, ok := strings.CutPrefix(e.Key, prefix)
		if !ok {
			continue
		}
		hits = append(hits, vector.Hit{ID: id, Score: e.Score})
	}
	return hits
}

func (s *Store) indexName(collection string) string {
	return s.prefix + collection + ":idx"
}

func (s *Store) entryPrefix(collection string) string {
	return s.prefix + collection + ":seg:"
}

func (s *Store) entryKey(collection, id string) string {
	return s.entryPrefix(collection) + id
}

// wrapTransient classifies Redis transport and command failures as transient.
func wrapTransient(err error) error {
	var dbErr *db.Error
	if errors.As(err, &dbErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrTransientBackend, err)
	}
	return err
}
