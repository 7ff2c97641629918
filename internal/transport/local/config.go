// Package local wires locally hosted models: an ONNX sentence-transformer for
// embeddings (build tag onnx) and an OpenAI-compatible local server for
// completions.
package local

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/memex/internal/domain"
)

// Defaults for all-MiniLM-L6-v2.
const (
	DefaultDimensions = 384
	DefaultMaxTokens  = 256
)

// ModelConfig is the local model file referenced by LOCAL_LLM_CONFIG.
type ModelConfig struct {
	Embedding  EmbeddingModel  `yaml:"embedding"`
	Completion CompletionModel `yaml:"completion"`
}

// EmbeddingModel locates the ONNX model and its tokenizer.
type EmbeddingModel struct {
	Path           string `yaml:"path"`
	Tokenizer      string `yaml:"tokenizer"`
	RuntimeLibrary string `yaml:"runtime_library"`
	Dimensions     int    `yaml:"dimensions"`
	MaxTokens      int    `yaml:"max_tokens"`
}

// CompletionModel points at a local OpenAI-compatible chat server
// (llama.cpp server, ollama, vLLM).
type CompletionModel struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
}

// LoadModelConfig reads the model file. Relative model paths resolve against
// the file's directory.
func LoadModelConfig(path string) (ModelConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ModelConfig{}, fmt.Errorf("read model config: %w: %w", err, domain.ErrConfiguration)
	}

	var mc ModelConfig
	if err := yaml.Unmarshal(data, &mc); err != nil {
		return ModelConfig{}, fmt.Errorf("parse model config: %w: %w", err, domain.ErrConfiguration)
	}

	base := filepath.Dir(path)
	mc.Embedding.Path = resolve(base, mc.Embedding.Path)
	mc.Embedding.Tokenizer = resolve(base, mc.Embedding.Tokenizer)

	if mc.Embedding.Dimensions <= 0 {
		mc.Embedding.Dimensions = DefaultDimensions
	}
	if mc.Embedding.MaxTokens <= 0 {
		mc.Embedding.MaxTokens = DefaultMaxTokens
	}
	return mc, nil
}

// HasEmbedding reports whether an embedding model is configured.
func (mc ModelConfig) HasEmbedding() bool { return mc.Embedding.Path != "" }

// HasCompletion reports whether a completion server is configured.
func (mc ModelConfig) HasCompletion() bool { return mc.Completion.BaseURL != "" }

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
