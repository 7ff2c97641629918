package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/memex/internal/config"
	"github.com/kailas-cloud/memex/internal/db/redis"
	"github.com/kailas-cloud/memex/internal/domain"
	"github.com/kailas-cloud/memex/internal/metrics"
	budgetrepo "github.com/kailas-cloud/memex/internal/repository/budget"
	"github.com/kailas-cloud/memex/internal/repository/embcache"
	"github.com/kailas-cloud/memex/internal/transport/fantasy"
	"github.com/kailas-cloud/memex/internal/transport/hash"
	"github.com/kailas-cloud/memex/internal/transport/local"
	"github.com/kailas-cloud/memex/internal/transport/openai"
	embeddinguc "github.com/kailas-cloud/memex/internal/usecase/embedding"
)

// embedders are the two ends of the embedding chain: documents skip the query
// cache, queries go through it.
type embedders struct {
	document domain.Embedder
	query    domain.Embedder
	// close releases the in-process cache; nil otherwise.
	close func() error
}

func retryOf(r config.RetryConfig) openai.RetryConfig {
	return openai.RetryConfig{
		MaxAttempts:     r.MaxAttempts,
		InitialInterval: time.Duration(r.InitialMs) * time.Millisecond,
		MaxInterval:     time.Duration(r.MaxMs) * time.Millisecond,
		CallTimeout:     time.Duration(r.CallTimeoutSec) * time.Second,
	}
}

// newEmbedder creates the base embedding provider. The returned closer may be nil.
func newEmbedder(cfg config.Config, logger *zap.Logger) (domain.Embedder, func() error, error) {
	ec := cfg.Embedding
	switch ec.Provider {
	case config.ProviderOpenAI:
		return openai.NewEmbedder(&openai.Config{
			APIKey:            ec.APIKey,
			BaseURL:           ec.BaseURL,
			Model:             ec.Model,
			Dimensions:        ec.Dimensions,
			Provider:          ec.Provider,
			Logger:            logger,
			Retry:             retryOf(ec.Retry),
			RequestsPerSecond: ec.RequestsPerSecond,
		}), nil, nil

	case config.ProviderLocal:
		mc, err := local.LoadModelConfig(ec.LocalConfig)
		if err != nil {
			return nil, nil, err
		}
		if !mc.HasEmbedding() {
			return nil, nil, domain.Misconfigured("model config %s has no embedding model", ec.LocalConfig)
		}
		e, err := local.NewEmbedder(mc.Embedding)
		if err != nil {
			return nil, nil, err
		}
		return e, e.Close, nil

	case config.ProviderHash:
		return hash.New(ec.Dimensions), nil, nil

	default:
		return nil, nil, domain.Misconfigured("unknown embedding provider %q", ec.Provider)
	}
}

// newEmbedderChain assembles the decorators:
// base -> instrumented (budget + metrics) -> [cached] -> instruction.
// The instruction prefix is outermost so that the cache key includes it.
func newEmbedderChain(
	cfg config.Config,
	base domain.Embedder,
	budget *embeddinguc.BudgetTracker,
	kv *redis.Store,
	logger *zap.Logger,
) (embedders, error) {
	ec := cfg.Embedding
	instrumented := embeddinguc.NewInstrumentedEmbedder(base, ec.Provider, ec.Model, budgetChecker(budget), logger).
		WithBatchSize(ec.BatchSize)

	var (
		query      domain.Embedder = instrumented
		closeCache func() error
	)
	namespace := fmt.Sprintf("%s:%s:%d", ec.Provider, ec.Model, ec.Dimensions)
	ttl := time.Duration(ec.Cache.TTLSec) * time.Second

	switch ec.Cache.Backend {
	case "memory":
		ms, err := embcache.NewMemoryStore(ec.Cache.MaxBytes)
		if err != nil {
			return embedders{}, fmt.Errorf("embedding cache: %w: %w", domain.ErrConfiguration, err)
		}
		query = embcache.New(instrumented, ms, namespace, metrics.EmbeddingCacheTotal, logger).WithTTL(ttl)
		closeCache = func() error { ms.Close(); return nil }
	case "redis":
		if kv == nil {
			return embedders{}, domain.Misconfigured("redis embedding cache needs redis.url")
		}
		query = embcache.New(instrumented, kv, namespace, metrics.EmbeddingCacheTotal, logger).WithTTL(ttl)
	}

	return embedders{
		document: withInstruction(instrumented, ec.DocumentInstruction),
		query:    withInstruction(query, ec.QueryInstruction),
		close:    closeCache,
	}, nil
}

func withInstruction(e domain.Embedder, instruction string) domain.Embedder {
	if instruction == "" {
		return e
	}
	return domain.NewInstructionEmbedder(e, instruction)
}

// newBudget returns nil when no limit is configured. With Redis the counters
// are shared across restarts and replicas.
func newBudget(ctx context.Context, cfg config.Config, kv *redis.Store, logger *zap.Logger) *embeddinguc.BudgetTracker {
	bc := cfg.Embedding.Budget
	if !bc.Enabled() {
		return nil
	}
	b := embeddinguc.NewBudgetTracker(cfg.Embedding.Provider, bc.DailyTokenLimit, bc.MonthlyTokenLimit,
		embeddinguc.BudgetAction(bc.Action), logger)
	if kv != nil {
		b.WithStore(ctx, budgetrepo.New(kv, 0, 0))
	}
	return b
}

// budgetChecker avoids handing a typed nil pointer to an interface parameter.
func budgetChecker(b *embeddinguc.BudgetTracker) embeddinguc.BudgetChecker {
	if b == nil {
		return nil
	}
	return b
}

// newCompleter returns nil when no completion backend is configured.
func newCompleter(ctx context.Context, cfg config.Config, logger *zap.Logger) (domain.Completer, error) {
	lc := cfg.LLM
	switch lc.Provider {
	case config.ProviderNone, "":
		return nil, nil

	case config.ProviderOpenAI:
		return openai.NewCompleter(&openai.Config{
			APIKey:   lc.APIKey,
			BaseURL:  lc.BaseURL,
			Model:    lc.Model,
			Provider: lc.Provider,
			Logger:   logger,
			Retry:    retryOf(lc.Retry),
		}), nil

	case config.ProviderAnthropic, config.ProviderOpenRouter:
		return fantasy.New(ctx, fantasy.Config{
			Provider:    lc.Provider,
			APIKey:      lc.APIKey,
			BaseURL:     lc.BaseURL,
			Model:       lc.Model,
			Timeout:     time.Duration(lc.TimeoutSec) * time.Second,
			MaxAttempts: lc.Retry.MaxAttempts,
			Logger:      logger,
		})

	case config.ProviderLocal:
		m := local.CompletionModel{BaseURL: lc.BaseURL, Model: lc.Model, APIKey: lc.APIKey}
		if m.BaseURL == "" {
			mc, err := local.LoadModelConfig(cfg.Embedding.LocalConfig)
			if err != nil {
				return nil, err
			}
			if !mc.HasCompletion() {
				return nil, domain.Misconfigured("llm.base_url is empty and model config has no completion server")
			}
			m = mc.Completion
		}
		return local.NewCompleter(m, retryOf(lc.Retry), logger)

	default:
		return nil, domain.Misconfigured("unknown llm provider %q", lc.Provider)
	}
}
