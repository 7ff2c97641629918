package memex

import (
	"go.uber.org/zap"

	"github.com/kailas-cloud/memex/internal/config"
)

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	configFile string
	overrides  []func(*config.Config)
	logger     *zap.Logger
	embedder   Embedder
	completer  Completer
}

func (c *clientConfig) set(fn func(*config.Config)) {
	c.overrides = append(c.overrides, fn)
}

// WithConfigFile loads the full service configuration from a YAML file.
// Other options are applied on top of it.
func WithConfigFile(path string) Option {
	return func(c *clientConfig) { c.configFile = path }
}

// WithSQLite stores metadata in the SQLite database at path.
func WithSQLite(path string) Option {
	return func(c *clientConfig) {
		c.set(func(cfg *config.Config) { cfg.Database.URL = "sqlite://" + path })
	}
}

// WithDatabaseURL sets the metadata store URL (sqlite:// or postgres://).
func WithDatabaseURL(url string) Option {
	return func(c *clientConfig) {
		c.set(func(cfg *config.Config) { cfg.Database.URL = url })
	}
}

// WithVectorURL sets the vector store URL (annoy://, chromem://, redis:// or qdrant://).
func WithVectorURL(url string) Option {
	return func(c *clientConfig) {
		c.set(func(cfg *config.Config) { cfg.Vector.URL = url })
	}
}

// WithDimensions sets the embedding dimensionality.
func WithDimensions(n int) Option {
	return func(c *clientConfig) {
		c.set(func(cfg *config.Config) {
			cfg.Embedding.Dimensions = n
			cfg.Vector.Dimensions = n
		})
	}
}

// WithHashEmbedder selects the deterministic feature-hashing embedder.
// It needs no model and is meant for tests and offline use.
func WithHashEmbedder() Option {
	return func(c *clientConfig) {
		c.set(func(cfg *config.Config) { cfg.Embedding.Provider = config.ProviderHash })
	}
}

// WithOpenAI selects an OpenAI-compatible embedding endpoint.
func WithOpenAI(apiKey, model string) Option {
	return func(c *clientConfig) {
		c.set(func(cfg *config.Config) {
			cfg.Embedding.Provider = config.ProviderOpenAI
			cfg.Embedding.APIKey = apiKey
			cfg.Embedding.Model = model
		})
	}
}

// WithEmbedder plugs in a custom embedding provider.
func WithEmbedder(e Embedder) Option {
	return func(c *clientConfig) { c.embedder = e }
}

// WithCompleter plugs in a custom completion provider for Ask and Quick.
func WithCompleter(cm Completer) Option {
	return func(c *clientConfig) { c.completer = cm }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *clientConfig) { c.logger = l }
}

// WithChunking sets the segment size and overlap in tokens.
func WithChunking(maxTokens, overlap int) Option {
	return func(c *clientConfig) {
		c.set(func(cfg *config.Config) {
			cfg.Chunking.MaxTokens = maxTokens
			cfg.Chunking.Overlap = overlap
		})
	}
}
