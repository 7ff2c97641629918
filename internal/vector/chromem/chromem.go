// Package chromem is the embedded exact-search backend built on chromem-go.
// Collections map one to one onto chromem collections and persist under a
// single directory.
//
// chromem keeps the whole database in memory, so a process reading a
// directory another process writes would serve a stale snapshot. Every write
// stamps a generation marker next to the collections; readers reopen the
// database when the marker changes.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/kailas-cloud/memex/internal/domain"
	"github.com/kailas-cloud/memex/internal/vector"
)

const (
	metaDocumentID = "document_id"
	defaultWorkers = 4
	markerFilename = "memex.gen"

	// DefaultRefreshInterval bounds how often a reader checks the marker.
	DefaultRefreshInterval = time.Second
)

var _ vector.Store = (*Store)(nil)

// errNoEmbedding is returned if chromem is ever asked to embed on its own;
// memex always supplies vectors.
var errNoEmbedding = errors.New("chromem: embeddings are computed by memex")

// Store wraps a persistent chromem database.
type Store struct {
	dir      string
	compress bool
	dims     int
	refresh  time.Duration

	mu      sync.Mutex
	db      *chromem.DB
	seen    string
	checked time.Time
}

// Option configures the store.
type Option func(*Store)

// WithRefreshInterval sets how often Search looks for writes made by other
// processes. Zero checks on every call.
func WithRefreshInterval(d time.Duration) Option {
	return func(s *Store) {
		if d >= 0 {
			s.refresh = d
		}
	}
}

// New opens a persistent database in dir. An empty dir keeps everything in memory.
func New(dir string, dims int, compress bool, opts ...Option) (*Store, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("chromem: dimensions must be positive, got %d", dims)
	}

	s := &Store{dir: dir, compress: compress, dims: dims, refresh: DefaultRefreshInterval}
	for _, opt := range opts {
		opt(s)
	}
	if dir == "" {
		s.db = chromem.NewDB()
		return s, nil
	}

	seen, err := s.readMarker()
	if err != nil {
		return nil, err
	}
	db, err := chromem.NewPersistentDB(dir, compress)
	if err != nil {
		return nil, fmt.Errorf("chromem: open %s: %w", dir, err)
	}
	s.db, s.seen, s.checked = db, seen, time.Now()
	return s, nil
}

// Dimensions returns the configured vector size.
func (s *Store) Dimensions() int { return s.dims }

// Upsert adds entries. chromem replaces documents with an existing id.
func (s *Store) Upsert(ctx context.Context, name string, entries ...vector.Entry) error {
	if err := vector.CheckDimensions(s.dims, entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	db, err := s.current()
	if err != nil {
		return err
	}
	col, err := db.GetOrCreateCollection(name, nil, noEmbedding)
	if err != nil {
		return fmt.Errorf("chromem: collection %s: %w", name, err)
	}

	docs := make([]chromem.Document, len(entries))
	for i, e := range entries {
		docs[i] = chromem.Document{
			ID:        e.ID,
			Content:   e.Content,
			Embedding: vector.Normalize(e.Vector),
			Metadata:  map[string]string{metaDocumentID: e.DocumentID},
		}
	}
	if err := col.AddDocuments(ctx, docs, defaultWorkers); err != nil {
		return fmt.Errorf("chromem: add to %s: %w", name, err)
	}
	return s.mark()
}

// Search runs an exhaustive cosine query.
func (s *Store) Search(ctx context.Context, name string, query []float32, k int) ([]vector.Hit, error) {
	if len(query) != s.dims {
		return nil, fmt.Errorf("chromem: query has %d dimensions, store expects %d: %w",
			len(query), s.dims, domain.ErrVectorDimMismatch)
	}

	db, err := s.current()
	if err != nil {
		return nil, err
	}
	col := db.GetCollection(name, noEmbedding)
	if col == nil {
		return nil, nil
	}

	results, err := clampedQuery(ctx, col, vector.Normalize(query), k)
	if err != nil {
		return nil, fmt.Errorf("chromem: query %s: %w", name, err)
	}

	hits := make([]vector.Hit, len(results))
	for i, r := range results {
		hits[i] = vector.Hit{ID: r.ID, Score: float64(r.Similarity)}
	}
	return hits, nil
}

type queryable interface {
	Count() int
	QueryEmbedding(ctx context.Context, embedding []float32, nResults int,
		where, whereDocument map[string]string) ([]chromem.Result, error)
}

// clampedQuery clamps k to the collection size, which chromem requires. A delete
// landing between the count and the query shrinks the collection, so a failed
// query is retried once against a fresh count.
func clampedQuery(ctx context.Context, col queryable, embedding []float32, k int) ([]chromem.Result, error) {
	n := min(k, col.Count())
	if n <= 0 {
		return nil, nil
	}
	results, err := col.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err == nil {
		return results, nil
	}

	retry := min(k, col.Count())
	if retry >= n {
		return nil, err
	}
	if retry <= 0 {
		return nil, nil
	}
	return col.QueryEmbedding(ctx, embedding, retry, nil, nil)
}

// Delete removes entries by id.
func (s *Store) Delete(ctx context.Context, name string, ids ...string) error {
	db, err := s.current()
	if err != nil {
		return err
	}
	col := db.GetCollection(name, noEmbedding)
	if col == nil || len(ids) == 0 {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("chromem: delete from %s: %w", name, err)
	}
	return s.mark()
}

// DropCollection removes the collection and its persisted files.
func (s *Store) DropCollection(_ context.Context, name string) error {
	db, err := s.current()
	if err != nil {
		return err
	}
	if err := db.DeleteCollection(name); err != nil {
		return fmt.Errorf("chromem: drop %s: %w", name, err)
	}
	return s.mark()
}

// Close is a no-op; chromem writes through on every change.
func (s *Store) Close() error { return nil }

// current returns the database, reopened from disk when another process
// stamped a new generation since the last check.
func (s *Store) current() (*chromem.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dir == "" || time.Since(s.checked) < s.refresh {
		return s.db, nil
	}
	s.checked = time.Now()

	seen, err := s.readMarker()
	if err != nil {
		return nil, err
	}
	if seen == s.seen {
		return s.db, nil
	}
	db, err := chromem.NewPersistentDB(s.dir, s.compress)
	if err != nil {
		return nil, fmt.Errorf("chromem: reopen %s: %w", s.dir, err)
	}
	s.db, s.seen = db, seen
	return db, nil
}

// mark stamps a new generation so other processes reload. The store records
// its own stamp and does not reload for it.
func (s *Store) mark() error {
	if s.dir == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pid := strconv.Itoa(os.Getpid())
	stamp := pid + "-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	tmp := filepath.Join(s.dir, markerFilename+"."+pid)
	if err := os.WriteFile(tmp, []byte(stamp), 0o644); err != nil {
		return fmt.Errorf("chromem: write marker: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(s.dir, markerFilename)); err != nil {
		return fmt.Errorf("chromem: commit marker: %w", err)
	}
	s.seen = stamp
	return nil
}

func (s *Store) readMarker() (string, error) {
	b, err := os.ReadFile(filepath.Join(s.dir, markerFilename))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("chromem: read marker: %w", err)
	}
	return string(b), nil
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedding
}
