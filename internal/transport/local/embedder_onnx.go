//go:build onnx

package local

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/kailas-cloud/memex/internal/domain"
)

var (
	_ domain.Embedder    = (*Embedder)(nil)
	_ domain.Dimensioner = (*Embedder)(nil)
)

var initOnce sync.Once

// Embedder runs a sentence-transformer ONNX model in process.
type Embedder struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	tokenizer  *wordPiece
	dimensions int
	maxTokens  int
}

// NewEmbedder loads the model and tokenizer.
func NewEmbedder(m EmbeddingModel) (*Embedder, error) {
	if m.Path == "" || m.Tokenizer == "" {
		return nil, domain.Misconfigured("local embedding: path and tokenizer are required")
	}

	var initErr error
	initOnce.Do(func() {
		if m.RuntimeLibrary != "" {
			ort.SetSharedLibraryPath(m.RuntimeLibrary)
		}
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w: %w", initErr, domain.ErrConfiguration)
	}

	tok, err := loadWordPiece(m.Tokenizer)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", err, domain.ErrConfiguration)
	}

	session, err := ort.NewDynamicAdvancedSession(m.Path,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("create onnx session: %w: %w", err, domain.ErrConfiguration)
	}

	return &Embedder{
		session:    session,
		tokenizer:  tok,
		dimensions: m.Dimensions,
		maxTokens:  m.MaxTokens,
	}, nil
}

// Embed encodes text and mean-pools the last hidden state.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.EmbeddingResult{}, err
	}

	ids := e.tokenizer.encode(text, e.maxTokens)
	n := len(ids)
	mask := make([]int64, n)
	types := make([]int64, n)
	for i := range mask {
		mask[i] = 1
	}

	shape := ort.NewShape(1, int64(n))
	idsT, err := ort.NewTensor(shape, ids)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("input_ids tensor: %w", err)
	}
	defer idsT.Destroy()
	maskT, err := ort.NewTensor(shape, mask)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("attention_mask tensor: %w", err)
	}
	defer maskT.Destroy()
	typesT, err := ort.NewTensor(shape, types)
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	defer typesT.Destroy()

	outputs := []ort.Value{nil}

	e.mu.Lock()
	err = e.session.Run([]ort.Value{idsT, maskT, typesT}, outputs)
	e.mu.Unlock()
	if err != nil {
		return domain.EmbeddingResult{}, fmt.Errorf("onnx inference: %w: %w", err, domain.ErrEmbeddingProviderError)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return domain.EmbeddingResult{}, fmt.Errorf("unexpected output tensor type: %w", domain.ErrEmbeddingProviderError)
	}
	shapeOut := out.GetShape()
	if len(shapeOut) != 3 || int(shapeOut[2]) != e.dimensions {
		return domain.EmbeddingResult{}, fmt.Errorf("unexpected output shape %v: %w", shapeOut, domain.ErrConfiguration)
	}

	vec := meanPool(out.GetData(), int(shapeOut[1]), e.dimensions, n)
	return domain.EmbeddingResult{Embedding: vec, PromptTokens: n, TotalTokens: n}, nil
}

// Dimensions returns the hidden size.
func (e *Embedder) Dimensions() int { return e.dimensions }

// Close releases the session.
func (e *Embedder) Close() error {
	return e.session.Destroy()
}
