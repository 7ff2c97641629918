// Package annoy is the embedded file-backed ANN backend.
//
// Each collection directory holds an append-only vector log (vectors.log) and
// the forest built from a snapshot of it (index-<gen>.ann). Writes since the
// last build stay in a pending set that Search scans exactly next to the
// forest. Once enough changes pile up, Sync rebuilds the forest and compacts
// the log into a new generation, so inserts cost amortized O(log N).
//
// One process writes a collection. Any number of processes read it: Search
// applies records appended since the last look and reopens the collection when
// the log was replaced by a newer generation.
package annoy

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/mariotoffia/goannoy/builder"
	"github.com/mariotoffia/goannoy/interfaces"

	"github.com/kailas-cloud/memex/internal/domain"
	"github.com/kailas-cloud/memex/internal/vector"
)

const (
	// DefaultTrees is the forest size used when none is configured.
	DefaultTrees = 16
	// DefaultRebuildThreshold is the fewest pending changes that trigger a
	// rebuild. Collections with a forest of more than four times this wait
	// for a quarter of their size.
	DefaultRebuildThreshold = 256
)

var (
	_ vector.Store  = (*Store)(nil)
	_ vector.Syncer = (*Store)(nil)
)

// Store is a directory of per-collection annoy forests.
type Store struct {
	root      string
	dims      int
	trees     int
	threshold int

	mu          sync.Mutex
	collections map[string]*collection
}

type forestIndex = interfaces.AnnoyIndex[float32, uint32]

type collection struct {
	dir     string
	gen     int64
	vectors map[string][]float32

	idx    forestIndex
	slots  []string
	forest map[string]struct{}
	// stale holds forest ids deleted or overwritten since the build.
	stale map[string]struct{}
	// pending holds ids written since the build.
	pending map[string]struct{}

	unsaved []record
	log     fs.FileInfo // nil until the first flush
	logSize int64
}

func newCollection(dir string) *collection {
	return &collection{
		dir:     dir,
		vectors: make(map[string][]float32),
		forest:  make(map[string]struct{}),
		stale:   make(map[string]struct{}),
		pending: make(map[string]struct{}),
	}
}

// Option configures the store.
type Option func(*Store)

// WithTrees sets the number of trees per forest. More trees raise recall and
// build time.
func WithTrees(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.trees = n
		}
	}
}

// WithRebuildThreshold sets the minimum number of pending changes before Sync
// rebuilds a forest.
func WithRebuildThreshold(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.threshold = n
		}
	}
}

// New opens (creating if needed) a store rooted at dir.
func New(dir string, dims int, opts ...Option) (*Store, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("annoy: dimensions must be positive, got %d", dims)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("annoy: create root: %w", err)
	}

	s := &Store{
		root:        dir,
		dims:        dims,
		trees:       DefaultTrees,
		threshold:   DefaultRebuildThreshold,
		collections: make(map[string]*collection),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dimensions returns the configured vector size.
func (s *Store) Dimensions() int { return s.dims }

// Upsert stages entries. They are searchable at once and durable after Sync.
func (s *Store) Upsert(_ context.Context, name string, entries ...vector.Entry) error {
	if err := vector.CheckDimensions(s.dims, entries); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load(name, true)
	if err != nil {
		return err
	}
	for _, e := range entries {
		v := slices.Clone(e.Vector)
		c.put(e.ID, v)
		c.unsaved = append(c.unsaved, record{ID: e.ID, Vector: v})
	}
	return nil
}

// Delete removes entries. Missing ids are ignored.
func (s *Store) Delete(_ context.Context, name string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load(name, false)
	if err != nil || c == nil {
		return err
	}
	for _, id := range ids {
		if c.remove(id) {
			c.unsaved = append(c.unsaved, record{ID: id, Delete: true})
		}
	}
	return nil
}

// Search queries the forest and scans pending entries exactly.
func (s *Store) Search(_ context.Context, name string, query []float32, k int) ([]vector.Hit, error) {
	if len(query) != s.dims {
		return nil, fmt.Errorf("annoy: query has %d dimensions, store expects %d: %w",
			len(query), s.dims, domain.ErrVectorDimMismatch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load(name, false)
	if err != nil || c == nil {
		return nil, err
	}
	return c.search(query, k), nil
}

// Sync appends staged writes to the log and rebuilds the forest once the
// pending changes reach the threshold.
func (s *Store) Sync(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load(name, false)
	if err != nil || c == nil {
		return err
	}
	if err := s.flush(c); err != nil {
		return err
	}
	if c.changes() < max(s.threshold, len(c.slots)/4) {
		return nil
	}
	return s.compact(c)
}

// DropCollection removes the collection directory.
func (s *Store) DropCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.collections[name]; ok {
		c.close()
		delete(s.collections, name)
	}
	if err := os.RemoveAll(filepath.Join(s.root, name)); err != nil {
		return fmt.Errorf("annoy: drop %s: %w", name, err)
	}
	return nil
}

// Close flushes staged writes and releases every forest.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for name, c := range s.collections {
		errs = append(errs, s.flush(c))
		c.close()
		delete(s.collections, name)
	}
	return errors.Join(errs...)
}

// load returns the collection, refreshed from disk when another process
// changed it. With create unset a collection that exists nowhere yields nil.
func (s *Store) load(name string, create bool) (*collection, error) {
	dir := filepath.Join(s.root, name)
	c, cached := s.collections[name]
	if cached && len(c.unsaved) > 0 {
		return c, nil
	}

	info, err := os.Stat(filepath.Join(dir, logFilename))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if cached && c.log == nil {
			return c, nil
		}
		if cached {
			c.close()
			delete(s.collections, name)
		}
		if !create {
			return nil, nil
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("annoy: create %s: %w", name, err)
		}
		c = newCollection(dir)
		s.collections[name] = c
		return c, nil
	case err != nil:
		return nil, fmt.Errorf("annoy: stat %s: %w", name, err)
	}

	if cached {
		if c.log != nil && os.SameFile(info, c.log) {
			if info.Size() > c.logSize {
				return c, c.tail()
			}
			return c, nil
		}
		c.close()
		delete(s.collections, name)
	}

	c, err = s.open(name, dir)
	if err != nil {
		return nil, err
	}
	s.collections[name] = c
	return c, nil
}

func (s *Store) newIndex() forestIndex {
	return builder.Index[float32, uint32]().
		AngularDistance(s.dims).
		UseMultiWorkerPolicy().
		MmapIndexAllocator().
		Build()
}

// compact builds a forest over every live vector, saves it under the next
// generation and replaces the log with a snapshot in slot order. The log
// rename commits the generation.
func (s *Store) compact(c *collection) error {
	slots := make([]string, 0, len(c.vectors))
	for id := range c.vectors {
		slots = append(slots, id)
	}
	slices.Sort(slots)
	gen := c.gen + 1

	var idx forestIndex
	if len(slots) > 0 {
		idx = s.newIndex()
		for i, id := range slots {
			idx.AddItem(uint32(i), c.vectors[id])
		}
		idx.Build(s.trees, -1)
		if err := idx.Save(indexPath(c.dir, gen)); err != nil {
			_ = idx.Close()
			return fmt.Errorf("annoy: save index: %w", err)
		}
	}

	snapshot := make([]record, len(slots))
	for i, id := range slots {
		snapshot[i] = record{ID: id, Vector: c.vectors[id]}
	}
	info, err := writeLog(c.dir, header{Dimensions: s.dims, Generation: gen, Forest: len(slots)}, snapshot)
	if err != nil {
		if idx != nil {
			_ = idx.Close()
			_ = os.Remove(indexPath(c.dir, gen))
		}
		return err
	}

	c.close()
	if err := os.Remove(indexPath(c.dir, c.gen)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("annoy: remove old index: %w", err)
	}
	c.gen, c.idx, c.slots = gen, idx, slots
	c.forest = make(map[string]struct{}, len(slots))
	for _, id := range slots {
		c.forest[id] = struct{}{}
	}
	clear(c.stale)
	clear(c.pending)
	c.log, c.logSize = info, info.Size()
	return nil
}

func (c *collection) put(id string, v []float32) {
	if _, ok := c.forest[id]; ok {
		c.stale[id] = struct{}{}
	}
	c.vectors[id] = v
	c.pending[id] = struct{}{}
}

func (c *collection) remove(id string) bool {
	if _, ok := c.vectors[id]; !ok {
		return false
	}
	delete(c.vectors, id)
	delete(c.pending, id)
	if _, ok := c.forest[id]; ok {
		c.stale[id] = struct{}{}
	}
	return true
}

func (c *collection) apply(r record) {
	if r.Delete {
		c.remove(r.ID)
		return
	}
	c.put(r.ID, r.Vector)
}

func (c *collection) changes() int { return len(c.pending) + len(c.stale) }

// search merges forest hits, minus stale ids, with an exact scan of pending
// entries. Ties break by id so results are stable.
func (c *collection) search(query []float32, k int) []vector.Hit {
	if k <= 0 {
		return nil
	}

	hits := make([]vector.Hit, 0, k+len(c.pending))
	if c.idx != nil {
		n := min(k+len(c.stale), len(c.slots))
		ids, distances := c.idx.GetNnsByVector(query, n, -1, c.idx.CreateContext())
		for i, slot := range ids {
			if int(slot) >= len(c.slots) || i >= len(distances) {
				continue
			}
			id := c.slots[slot]
			if _, ok := c.stale[id]; ok {
				continue
			}
			hits = append(hits, vector.Hit{ID: id, Score: angularToCosine(distances[i])})
		}
	}
	for id := range c.pending {
		hits = append(hits, vector.Hit{ID: id, Score: vector.Cosine(query, c.vectors[id])})
	}

	slices.SortFunc(hits, func(a, b vector.Hit) int {
		if o := cmp.Compare(b.Score, a.Score); o != 0 {
			return o
		}
		return strings.Compare(a.ID, b.ID)
	})
	return hits[:min(k, len(hits))]
}

// close releases the mmap'd forest.
func (c *collection) close() {
	if c.idx != nil {
		_ = c.idx.Close()
		c.idx = nil
	}
}

// angularToCosine converts annoy's angular distance sqrt(2(1-cos)) back to cosine.
func angularToCosine(d float32) float64 {
	dd := float64(d)
	return math.Max(-1, math.Min(1, 1-dd*dd/2))
}
