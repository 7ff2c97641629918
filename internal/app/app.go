// Package app is the composition root: it resolves a Config into concrete
// backends once at startup and wires the usecases over them.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/memex/internal/chunk"
	"github.com/kailas-cloud/memex/internal/config"
	"github.com/kailas-cloud/memex/internal/db/redis"
	"github.com/kailas-cloud/memex/internal/db/sqldb"
	"github.com/kailas-cloud/memex/internal/domain"
	"github.com/kailas-cloud/memex/internal/metrics"
	collectionrepo "github.com/kailas-cloud/memex/internal/repository/collection"
	documentrepo "github.com/kailas-cloud/memex/internal/repository/document"
	segmentrepo "github.com/kailas-cloud/memex/internal/repository/segment"
	taskrepo "github.com/kailas-cloud/memex/internal/repository/task"
	chiTransport "github.com/kailas-cloud/memex/internal/transport/chi"
	answeruc "github.com/kailas-cloud/memex/internal/usecase/answer"
	collectionuc "github.com/kailas-cloud/memex/internal/usecase/collection"
	embeddinguc "github.com/kailas-cloud/memex/internal/usecase/embedding"
	healthuc "github.com/kailas-cloud/memex/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/memex/internal/usecase/ingest"
	queryuc "github.com/kailas-cloud/memex/internal/usecase/query"
	usageuc "github.com/kailas-cloud/memex/internal/usecase/usage"
	workeruc "github.com/kailas-cloud/memex/internal/usecase/worker"
	"github.com/kailas-cloud/memex/internal/vector"
	"github.com/kailas-cloud/memex/internal/vector/backend"
)

// App holds the wired services of one memex process.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	db      *sqldb.DB
	vectors vector.Store
	tasks   *taskrepo.Repo

	Ingest      *ingestuc.Service
	Query       *queryuc.Service
	Answer      *answeruc.Service
	Collections *collectionuc.Service
	Usage       *usageuc.Service
	Health      *healthuc.Service
	Worker      *workeruc.Worker

	closers []func() error
}

// Option overrides a resolved backend. Used by embedders of the library and tests.
type Option func(*options)

type options struct {
	embedder  domain.Embedder
	completer domain.Completer
}

// WithEmbedder replaces the configured embedding provider.
func WithEmbedder(e domain.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithCompleter replaces the configured completion provider.
func WithCompleter(c domain.Completer) Option {
	return func(o *options) { o.completer = c }
}

// New opens every backend named by cfg, runs migrations and wires the services.
// On error everything opened so far is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	metrics.Register()

	a = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	a.db, err = sqldb.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	a.closers = append(a.closers, a.db.Close)
	if err = a.db.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate metadata store: %w", err)
	}

	a.vectors, err = backend.Open(ctx, backend.Config{
		URL:              cfg.Vector.URL,
		Dimensions:       cfg.Vector.Dimensions,
		Trees:            cfg.Vector.Trees,
		RebuildThreshold: cfg.Vector.RebuildThreshold,
		Compress:         cfg.Vector.Compress,
		KeyPrefix:        cfg.Vector.KeyPrefix,
		HNSWM:            cfg.Vector.HNSWM,
		HNSWEF:           cfg.Vector.HNSWEFConstruct,
		SyncTimeout:      time.Duration(cfg.Vector.SyncTimeoutSec) * time.Second,
		APIKey:           cfg.Vector.APIKey,
		CollectionPrefix: cfg.Vector.CollectionPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	a.closers = append(a.closers, a.vectors.Close)

	var kv *redis.Store
	if cfg.Redis.URL != "" {
		kv, err = redis.Open(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w: %w", domain.ErrTransientBackend, err)
		}
		a.closers = append(a.closers, func() error { kv.Close(); return nil })
	}

	budget := newBudget(ctx, cfg, kv, logger)

	base := o.embedder
	if base == nil {
		var closeBase func() error
		base, closeBase, err = newEmbedder(cfg, logger)
		if err != nil {
			return nil, err
		}
		if closeBase != nil {
			a.closers = append(a.closers, closeBase)
		}
	}
	if err = checkDimensions(base, a.vectors); err != nil {
		return nil, err
	}
	emb, err := newEmbedderChain(cfg, base, budget, kv, logger)
	if err != nil {
		return nil, err
	}
	if emb.close != nil {
		a.closers = append(a.closers, emb.close)
	}

	completer := o.completer
	if completer == nil {
		completer, err = newCompleter(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}
	if completer != nil {
		completer = embeddinguc.NewInstrumentedCompleter(completer, cfg.LLM.Provider, cfg.LLM.Model, budgetChecker(budget), logger)
	}

	splitter, err := chunk.New(
		chunk.WithStrategy(chunk.Strategy(cfg.Chunking.Strategy)),
		chunk.WithMaxTokens(cfg.Chunking.MaxTokens),
		chunk.WithMaxChars(cfg.Chunking.MaxChars),
		chunk.WithOverlap(cfg.Chunking.Overlap),
		chunk.WithSentences(cfg.Chunking.SentencesPerSegment, cfg.Chunking.SentenceOverlap),
	)
	if err != nil {
		return nil, fmt.Errorf("chunking: %w: %w", domain.ErrConfiguration, err)
	}

	collections := collectionrepo.New(a.db)
	documents := documentrepo.New(a.db)
	segments := segmentrepo.New(a.db)
	a.tasks = taskrepo.New(a.db)

	a.Ingest = ingestuc.New(a.tasks, logger)
	a.Query = queryuc.New(a.vectors, segments, emb.query, logger).
		WithCollections(collections).
		WithLimits(cfg.Search.DefaultLimit, cfg.Search.MaxLimit)
	a.Answer = answeruc.New(completer, logger).WithSearcher(a.Query).WithSplitter(splitter)
	a.Collections = collectionuc.New(collections, a.vectors, logger)

	var br usageuc.BudgetReader
	if budget != nil {
		br = budget
	}
	a.Usage = usageuc.New(br, a.tasks)

	a.Worker = workeruc.New(a.tasks, documents, segments, a.vectors, emb.document, splitter, logger).
		WithPollInterval(time.Duration(cfg.Worker.PollIntervalMs) * time.Millisecond).
		WithMaxActive(cfg.Worker.MaxActive)
	if completer != nil {
		a.Worker.WithSummarizer(a.Answer)
	}

	a.Health = newHealth(a.db, a.vectors, base, kv, logger)

	logger.Info("memex wired",
		zap.String("database", string(a.db.Dialect())),
		zap.String("vector", kindOf(cfg.Vector.URL)),
		zap.String("embedding", cfg.Embedding.Provider),
		zap.Int("dimensions", a.vectors.Dimensions()),
		zap.String("llm", cfg.LLM.Provider),
		zap.Bool("budget", budget != nil),
	)
	return a, nil
}

// Config returns the resolved configuration.
func (a *App) Config() config.Config { return a.cfg }

// Server returns the HTTP API over the wired services.
func (a *App) Server() *chiTransport.Server {
	return chiTransport.NewServer(a.Ingest, a.Query, a.Answer, a.Collections, a.Usage, a.Health, a.logger)
}

// Handler returns the HTTP handler with the configured API keys.
func (a *App) Handler() http.Handler {
	return a.Server().Handler(a.cfg.Auth.APIKeys)
}

// RequeueStale recovers tasks stuck in Processing longer than olderThan,
// bounded by worker.max_retries.
func (a *App) RequeueStale(ctx context.Context, olderThan time.Duration) (taskrepo.RequeueResult, error) {
	res, err := a.tasks.RequeueStale(ctx, olderThan, a.cfg.Worker.MaxRetries)
	if err != nil {
		return taskrepo.RequeueResult{}, err
	}
	a.logger.Info("Stale tasks recovered",
		zap.Duration("older_than", olderThan),
		zap.Int("requeued", res.Requeued),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// Close releases backends in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// checkDimensions rejects an embedder whose output size differs from the
// vector store's fixed size.
func checkDimensions(e domain.Embedder, store vector.Store) error {
	d, ok := e.(domain.Dimensioner)
	if !ok || d.Dimensions() == 0 {
		return nil
	}
	if d.Dimensions() != store.Dimensions() {
		return domain.Misconfigured("embedding dimensions %d do not match vector store dimensions %d",
			d.Dimensions(), store.Dimensions())
	}
	return nil
}

func kindOf(url string) string {
	k, err := backend.KindOf(url)
	if err != nil {
		return "unknown"
	}
	return string(k)
}
