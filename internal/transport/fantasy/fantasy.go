// Package fantasy implements domain.Completer over charm.land/fantasy providers.
package fantasy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"charm.land/fantasy"
	"charm.land/fantasy/providers/anthropic"
	"charm.land/fantasy/providers/openai"
	"charm.land/fantasy/providers/openrouter"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/kailas-cloud/memex/internal/domain"
	"github.com/kailas-cloud/memex/internal/metrics"
)

// Supported providers.
const (
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	ProviderOpenRouter = "openrouter"
)

// Config selects a provider and model.
type Config struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
	// Timeout bounds one attempt. Zero means no per-attempt bound.
	Timeout time.Duration
	// MaxAttempts bounds attempts that time out. Defaults to 3.
	MaxAttempts int
	Logger      *zap.Logger
}

var _ domain.Completer = (*Completer)(nil)

// generateFunc runs one completion attempt and returns text plus token usage.
type generateFunc func(ctx context.Context, system string, call fantasy.AgentCall) (text string, in, out int64, err error)

// Completer runs single-turn completions through a fantasy language model.
type Completer struct {
	provider    string
	model       string
	timeout     time.Duration
	maxAttempts int
	generate    generateFunc
	logger      *zap.Logger
}

// New resolves the provider and its language model.
func New(ctx context.Context, cfg Config) (*Completer, error) {
	if cfg.Model == "" {
		return nil, domain.Misconfigured("fantasy: model is required")
	}

	var (
		provider fantasy.Provider
		err      error
	)
	switch cfg.Provider {
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		provider, err = openai.New(opts...)
	case ProviderAnthropic:
		opts := []anthropic.Option{anthropic.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		provider, err = anthropic.New(opts...)
	case ProviderOpenRouter:
		provider, err = openrouter.New(openrouter.WithAPIKey(cfg.APIKey))
	default:
		return nil, domain.Misconfigured("fantasy: unsupported provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create provider: %w: %w", err, domain.ErrConfiguration)
	}

	model, err := provider.LanguageModel(ctx, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("get language model: %w: %w", err, domain.ErrConfiguration)
	}

	return newCompleter(cfg, agentGenerate(model)), nil
}

func newCompleter(cfg Config, gen generateFunc) *Completer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &Completer{
		provider:    cfg.Provider,
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		maxAttempts: attempts,
		generate:    gen,
		logger:      logger,
	}
}

func agentGenerate(model fantasy.LanguageModel) generateFunc {
	return func(ctx context.Context, system string, call fantasy.AgentCall) (string, int64, int64, error) {
		var opts []fantasy.AgentOption
		if system != "" {
			opts = append(opts, fantasy.WithSystemPrompt(system))
		}
		result, err := fantasy.NewAgent(model, opts...).Generate(ctx, call)
		if err != nil {
			return "", 0, 0, err
		}
		usage := result.Response.Usage
		return result.Response.Content.Text(), usage.InputTokens, usage.OutputTokens, nil
	}
}

// Complete runs one completion. Attempts that exceed the timeout are retried
// with exponential backoff; other provider failures are returned at once.
func (c *Completer) Complete(ctx context.Context, req domain.CompletionRequest) (domain.CompletionResult, error) {
	req = req.WithDefaults()

	temperature := float64(req.Temperature)
	maxTokens := int64(req.MaxTokens)
	prompt := req.Prompt
	if req.JSON {
		prompt += "\n\nRespond with a single JSON object and nothing else."
	}
	call := fantasy.AgentCall{
		Prompt:          prompt,
		Temperature:     &temperature,
		MaxOutputTokens: &maxTokens,
	}

	start := time.Now()

	var (
		text    string
		in, out int64
	)
	op := func() error {
		attemptCtx, cancel := c.attemptContext(ctx)
		defer cancel()

		var err error
		text, in, out, err = c.generate(attemptCtx, req.System, call)
		if err == nil {
			return nil
		}
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxAttempts-1)), ctx)
	notify := func(err error, wait time.Duration) {
		metrics.BackendRetriesTotal.WithLabelValues(c.provider, "complete").Inc()
		c.logger.Warn("Completion attempt failed, retrying",
			zap.String("provider", c.provider),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		metrics.CompletionRequestsTotal.WithLabelValues(c.provider, c.model, "error").Inc()
		metrics.CompletionErrorsTotal.WithLabelValues(c.provider, c.model, errorType(err)).Inc()
		return domain.CompletionResult{}, c.classify(ctx, err)
	}

	metrics.CompletionRequestsTotal.WithLabelValues(c.provider, c.model, "success").Inc()
	metrics.CompletionRequestDuration.WithLabelValues(c.provider, c.model).Observe(time.Since(start).Seconds())
	metrics.CompletionTokensTotal.WithLabelValues(c.provider, c.model, "prompt").Add(float64(in))
	metrics.CompletionTokensTotal.WithLabelValues(c.provider, c.model, "completion").Add(float64(out))

	return domain.CompletionResult{
		Text:             text,
		PromptTokens:     int(in),
		CompletionTokens: int(out),
	}, nil
}

func (c *Completer) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Completer) classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("%s completion: %w", c.provider, ctx.Err())
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s completion timed out: %w: %w: %w",
			c.provider, err, domain.ErrCompletionProviderError, domain.ErrTransientBackend)
	default:
		return fmt.Errorf("%s completion: %w: %w", c.provider, err, domain.ErrCompletionProviderError)
	}
}

func errorType(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "provider_error"
}
