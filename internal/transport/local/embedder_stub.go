//go:build !onnx

package local

import (
	"context"

	"github.com/kailas-cloud/memex/internal/domain"
)

// Embedder is unavailable without the onnx build tag.
type Embedder struct{}

// NewEmbedder reports that local embeddings need a build with -tags onnx.
func NewEmbedder(EmbeddingModel) (*Embedder, error) {
	return nil, domain.Misconfigured("local embedding requires a build with -tags onnx")
}

// Embed is never reached; NewEmbedder always fails.
func (e *Embedder) Embed(context.Context, string) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{}, domain.Misconfigured("local embedding requires a build with -tags onnx")
}

// Dimensions returns 0.
func (e *Embedder) Dimensions() int { return 0 }

// Close is a no-op.
func (e *Embedder) Close() error { return nil }
