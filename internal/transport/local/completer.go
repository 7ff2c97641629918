package local

import (
	"go.uber.org/zap"

	"github.com/kailas-cloud/memex/internal/domain"
	"github.com/kailas-cloud/memex/internal/transport/openai"
)

// NewCompleter returns a completer bound to the local chat server.
func NewCompleter(m CompletionModel, retry openai.RetryConfig, logger *zap.Logger) (*openai.Completer, error) {
	if m.BaseURL == "" {
		return nil, domain.Misconfigured("local completion: base_url is required")
	}
	if m.Model == "" {
		return nil, domain.Misconfigured("local completion: model is required")
	}
	return openai.NewCompleter(&openai.Config{
		APIKey:   m.APIKey,
		BaseURL:  m.BaseURL,
		Model:    m.Model,
		Provider: "local",
		Logger:   logger,
		Retry:    retry,
	}), nil
}
