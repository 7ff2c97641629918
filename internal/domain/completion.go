package domain

import "context"

// Completion defaults.
const (
	DefaultTemperature = 0.2
	DefaultMaxTokens   = 1024
)

// Completer is the text generation capability used by the Answer Engine.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
}

// CompletionRequest is a single-turn chat completion.
type CompletionRequest struct {
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
	// JSON asks the backend for a JSON object response when it supports it.
	JSON bool
}

// CompletionResult is the generated text plus token usage.
type CompletionResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// TotalTokens returns prompt plus completion tokens.
func (r CompletionResult) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// WithDefaults fills zero temperature and max tokens.
func (r CompletionRequest) WithDefaults() CompletionRequest {
	if r.Temperature == 0 {
		r.Temperature = DefaultTemperature
	}
	if r.MaxTokens <= 0 {
		r.MaxTokens = DefaultMaxTokens
	}
	return r
}
