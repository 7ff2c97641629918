// Package vector defines the Vector Store contract shared by every backend.
//
// A Store keeps one namespace per collection. Scores are cosine similarity,
// higher is closer, and Search returns hits in descending score order.
package vector

import (
	"context"
	"fmt"
	"math"

	"github.com/kailas-cloud/memex/internal/domain"
)

// Entry is one vector keyed by its segment id.
type Entry struct {
	ID         string
	DocumentID string
	Content    string
	Vector     []float32
}

// Hit is a search result.
type Hit struct {
	ID    string
	Score float64
}

// Store is the capability every backend implements.
type Store interface {
	// Upsert inserts or replaces entries in a collection, creating the
	// namespace on first write.
	Upsert(ctx context.Context, collection string, entries ...Entry) error
	// Search returns at most k hits. An unknown collection yields no hits.
	Search(ctx context.Context, collection string, vector []float32, k int) ([]Hit, error)
	// Delete removes entries by id. Missing ids are ignored.
	Delete(ctx context.Context, collection string, ids ...string) error
	// DropCollection removes the namespace and all its entries.
	DropCollection(ctx context.Context, collection string) error
	// Dimensions is the fixed vector size of this store.
	Dimensions() int
	Close() error
}

// KeywordSearcher is implemented by backends that can rank entries by text match.
type KeywordSearcher interface {
	SearchText(ctx context.Context, collection, query string, k int) ([]Hit, error)
}

// Syncer is implemented by backends whose writes are not immediately
// searchable. Sync blocks until prior writes to collection are visible.
type Syncer interface {
	Sync(ctx context.Context, collection string) error
}

// Pinger is implemented by networked backends.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckDimensions rejects entries whose vector size differs from dims.
func CheckDimensions(dims int, entries []Entry) error {
	for _, e := range entries {
		if len(e.Vector) != dims {
			return fmt.Errorf("entry %s has %d dimensions, store expects %d: %w",
				e.ID, len(e.Vector), dims, domain.ErrVectorDimMismatch)
		}
	}
	return nil
}

// Normalize returns v scaled to unit length. Zero vectors are returned as is.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// Cosine returns the cosine similarity of a and b, or 0 when either is zero
// or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
