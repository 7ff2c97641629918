package embcache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/kailas-cloud/memex/internal/db"
)

// MemoryStore is an in-process byte cache bounded by total size.
type MemoryStore struct {
	cache *ristretto.Cache
}

// NewMemoryStore creates a cache holding at most maxBytes of values.
func NewMemoryStore(maxBytes int64) (*MemoryStore, error) {
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		// Roughly 10x the expected number of 384-dim entries.
		NumCounters: max(maxBytes/1536*10, 1000),
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &MemoryStore{cache: cache}, nil
}

// Get returns db.ErrKeyNotFound on a miss.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := m.cache.Get(key)
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	data, ok := v.([]byte)
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return data, nil
}

// SetWithTTL stores value with its length as cost. The admission policy may
// drop the entry, which is not an error.
func (m *MemoryStore) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.cache.SetWithTTL(key, value, int64(len(value)), ttl)
	m.cache.Wait()
	return nil
}

// Close stops the cache goroutines.
func (m *MemoryStore) Close() {
	m.cache.Close()
}
