// Package memex embeds the memex memory service in a Go program: documents
// are enqueued for asynchronous ingestion, segmented, embedded and indexed,
// then searched or used as context for generated answers.
package memex

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/kailas-cloud/memex/internal/app"
	"github.com/kailas-cloud/memex/internal/config"
	"github.com/kailas-cloud/memex/internal/domain/search/mode"
	answeruc "github.com/kailas-cloud/memex/internal/usecase/answer"
	queryuc "github.com/kailas-cloud/memex/internal/usecase/query"
)

// Client is the memex SDK entry point.
type Client struct {
	app *app.App
}

// New opens the configured stores and wires the services. Without a config
// file the client needs at least WithDatabaseURL (or WithSQLite) and WithVectorURL.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	c := &clientConfig{}
	for _, o := range opts {
		o(c)
	}

	var cfg config.Config
	if c.configFile != "" {
		loaded, err := config.LoadFile(c.configFile)
		if err != nil {
			return nil, fmt.Errorf("memex: %w", err)
		}
		cfg = loaded
	}
	for _, fn := range c.overrides {
		fn(&cfg)
	}
	if cfg.Embedding.Provider == "" && c.embedder != nil {
		cfg.Embedding.Provider = config.ProviderHash
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("memex: %w", err)
	}

	logger := c.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var appOpts []app.Option
	if c.embedder != nil {
		appOpts = append(appOpts, app.WithEmbedder(&embedderAdapter{inner: c.embedder}))
	}
	if c.completer != nil {
		appOpts = append(appOpts, app.WithCompleter(&completerAdapter{inner: c.completer}))
	}

	a, err := app.New(ctx, cfg, logger, appOpts...)
	if err != nil {
		return nil, fmt.Errorf("memex: %w", err)
	}
	return &Client{app: a}, nil
}

// Close releases every store.
func (c *Client) Close() error {
	return c.app.Close()
}

// Enqueue stores a document and queues it for ingestion.
func (c *Client) Enqueue(ctx context.Context, collection, content string) (Task, error) {
	t, err := c.app.Ingest.Enqueue(ctx, collection, content)
	if err != nil {
		return Task{}, err
	}
	return fromTask(t), nil
}

// EnqueueSummary stores a document and queues a summary task for it.
func (c *Client) EnqueueSummary(ctx context.Context, collection, content string) (Task, error) {
	t, err := c.app.Ingest.EnqueueSummary(ctx, collection, content)
	if err != nil {
		return Task{}, err
	}
	return fromTask(t), nil
}

// Task returns the current state of a task.
func (c *Client) Task(ctx context.Context, id int64) (Task, error) {
	t, err := c.app.Ingest.Task(ctx, id)
	if err != nil {
		return Task{}, err
	}
	return fromTask(t), nil
}

// Retry queues a failed task's document again under a new task.
func (c *Client) Retry(ctx context.Context, id int64) (Task, error) {
	t, err := c.app.Ingest.Retry(ctx, id)
	if err != nil {
		return Task{}, err
	}
	return fromTask(t), nil
}

// SearchOptions tunes a search. The zero value is a semantic search with the
// configured default limit.
type SearchOptions struct {
	Limit int
	// Mode is "semantic", "keyword" or "hybrid".
	Mode     string
	MinScore float64
}

// Search returns the segments of collection most similar to query.
func (c *Client) Search(ctx context.Context, collection, query string, opts *SearchOptions) ([]SearchResult, error) {
	if opts == nil {
		opts = &SearchOptions{}
	}
	rs, err := c.app.Query.Search(ctx, queryuc.Request{
		Collection: collection,
		Query:      query,
		Limit:      opts.Limit,
		Mode:       mode.Mode(opts.Mode),
		MinScore:   opts.MinScore,
	})
	if err != nil {
		return nil, err
	}
	return fromResults(rs), nil
}

// Ask answers a question using a collection or an explicit context.
func (c *Client) Ask(ctx context.Context, req AskRequest) (Answer, error) {
	ans, err := c.app.Answer.Ask(ctx, answeruc.AskRequest{
		Collection: req.Collection,
		Context:    req.Context,
		Query:      req.Query,
		Schema:     req.Schema,
		Limit:      req.Limit,
	})
	if err != nil {
		return Answer{}, err
	}
	return fromAnswer(ans), nil
}

// Quick answers a question without retrieval.
func (c *Client) Quick(ctx context.Context, question string) (Answer, error) {
	ans, err := c.app.Answer.Quick(ctx, question)
	if err != nil {
		return Answer{}, err
	}
	return fromAnswer(ans), nil
}

// Collections lists the known collections.
func (c *Client) Collections(ctx context.Context) ([]Collection, error) {
	cs, err := c.app.Collections.List(ctx)
	if err != nil {
		return nil, err
	}
	return fromCollections(cs), nil
}

// DeleteCollection removes a collection with its documents, tasks and vectors.
func (c *Client) DeleteCollection(ctx context.Context, name string) error {
	return c.app.Collections.Delete(ctx, name)
}

// RunWorker processes queued tasks until ctx is cancelled.
func (c *Client) RunWorker(ctx context.Context) error {
	if err := c.app.Worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ProcessNext claims and runs at most one queued task. It reports whether a
// task was found.
func (c *Client) ProcessNext(ctx context.Context) (bool, error) {
	return c.app.Worker.ProcessNext(ctx)
}

// Handler returns the HTTP API, guarded by the configured API keys.
func (c *Client) Handler() http.Handler {
	return c.app.Handler()
}
