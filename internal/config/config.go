package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/memex/internal/domain"
)

// Config holds the memex process configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Vector    VectorConfig    `yaml:"vector"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Redis     RedisConfig     `yaml:"redis"`
	Worker    WorkerConfig    `yaml:"worker"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Search    SearchConfig    `yaml:"search"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	ShutdownSec     int    `yaml:"shutdown_timeout_sec"`
}

// Addr returns the listen address.
func (h HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// DatabaseConfig holds the metadata store connection.
type DatabaseConfig struct {
	URL string `yaml:"url"` // sqlite://path or postgres://...
}

// VectorConfig holds the vector store connection and backend tuning.
type VectorConfig struct {
	URL        string `yaml:"url"` // annoy://, chromem://, redis://, qdrant://
	Dimensions int    `yaml:"dimensions"`

	Trees            int    `yaml:"trees"`
	RebuildThreshold int    `yaml:"rebuild_threshold"`
	Compress         bool   `yaml:"compress"`
	KeyPrefix        string `yaml:"key_prefix"`
	HNSWM            int    `yaml:"hnsw_m"`
	HNSWEFConstruct  int    `yaml:"hnsw_ef_construction"`
	SyncTimeoutSec   int    `yaml:"sync_timeout_sec"`
	APIKey           string `yaml:"api_key"`
	CollectionPrefix string `yaml:"collection_prefix"`
}

// RedisConfig is the optional shared Redis used for the query embedding cache
// and budget counters.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// EmbeddingConfig holds embedding backend settings.
type EmbeddingConfig struct {
	Provider            string  `yaml:"provider"` // openai, local, hash
	Model               string  `yaml:"model"`
	APIKey              string  `yaml:"api_key"`
	BaseURL             string  `yaml:"base_url"`
	Dimensions          int     `yaml:"dimensions"`
	BatchSize           int     `yaml:"batch_size"`
	DocumentInstruction string  `yaml:"document_instruction"`
	QueryInstruction    string  `yaml:"query_instruction"`
	RequestsPerSecond   float64 `yaml:"requests_per_second"`
	// LocalConfig is the model config file for the local provider.
	LocalConfig string `yaml:"local_config"`

	Retry  RetryConfig  `yaml:"retry"`
	Cache  CacheConfig  `yaml:"cache"`
	Budget BudgetConfig `yaml:"budget"`
}

// RetryConfig bounds retries of remote model calls.
type RetryConfig struct {
	MaxAttempts    int `yaml:"max_attempts"`
	InitialMs      int `yaml:"initial_interval_ms"`
	MaxMs          int `yaml:"max_interval_ms"`
	CallTimeoutSec int `yaml:"call_timeout_sec"`
}

// CacheConfig holds query embedding cache settings.
type CacheConfig struct {
	Backend  string `yaml:"backend"` // memory, redis, none
	TTLSec   int    `yaml:"ttl_sec"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// BudgetConfig holds token budget settings.
type BudgetConfig struct {
	DailyTokenLimit   int64  `yaml:"daily_token_limit"`   // 0 = unlimited
	MonthlyTokenLimit int64  `yaml:"monthly_token_limit"` // 0 = unlimited
	Action            string `yaml:"action"`              // "reject" | "warn" (default)
}

// Enabled reports whether any limit is set.
func (b BudgetConfig) Enabled() bool {
	return b.DailyTokenLimit > 0 || b.MonthlyTokenLimit > 0
}

// LLMConfig holds the completion backend settings.
type LLMConfig struct {
	Provider   string      `yaml:"provider"` // openai, anthropic, openrouter, local, none
	Model      string      `yaml:"model"`
	APIKey     string      `yaml:"api_key"`
	BaseURL    string      `yaml:"base_url"`
	TimeoutSec int         `yaml:"timeout_sec"`
	Retry      RetryConfig `yaml:"retry"`
}

// Enabled reports whether a completion backend is configured.
func (l LLMConfig) Enabled() bool {
	return l.Provider != "" && l.Provider != ProviderNone
}

// WorkerConfig holds task scheduler settings.
type WorkerConfig struct {
	PollIntervalMs int `yaml:"poll_interval_ms"`
	MaxActive      int `yaml:"max_active"`
	MaxRetries     int `yaml:"max_retries"`
}

// ChunkingConfig holds segmentation settings.
type ChunkingConfig struct {
	Strategy            string `yaml:"strategy"` // window, sentence
	MaxTokens           int    `yaml:"max_tokens"`
	MaxChars            int    `yaml:"max_chars"` // 0 derives 4 per token
	Overlap             int    `yaml:"overlap"`
	SentencesPerSegment int    `yaml:"sentences_per_segment"`
	SentenceOverlap     int    `yaml:"sentence_overlap"`
}

// SearchConfig holds query limits.
type SearchConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// Provider names.
const (
	ProviderOpenAI     = "openai"
	ProviderLocal      = "local"
	ProviderHash       = "hash"
	ProviderAnthropic  = "anthropic"
	ProviderOpenRouter = "openrouter"
	ProviderNone       = "none"
)

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit path.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w: %w", configPath, err, domain.ErrConfiguration)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w: %w", err, domain.ErrConfiguration)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 60
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = ProviderOpenAI
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 384
	}
	if c.Embedding.BatchSize <= 0 {
		c.Embedding.BatchSize = 256
	}
	if c.Embedding.Cache.Backend == "" {
		c.Embedding.Cache.Backend = "memory"
	}
	if c.Embedding.Cache.TTLSec <= 0 {
		c.Embedding.Cache.TTLSec = 24 * 3600
	}
	if c.Embedding.Budget.Action == "" {
		c.Embedding.Budget.Action = "warn"
	}

	if c.Vector.Dimensions <= 0 {
		c.Vector.Dimensions = c.Embedding.Dimensions
	}
	if c.Vector.Trees <= 0 {
		c.Vector.Trees = 10
	}
	if c.Vector.HNSWM <= 0 {
		c.Vector.HNSWM = 16
	}
	if c.Vector.HNSWEFConstruct <= 0 {
		c.Vector.HNSWEFConstruct = 200
	}
	if c.Vector.SyncTimeoutSec <= 0 {
		c.Vector.SyncTimeoutSec = 30
	}
	if c.Vector.KeyPrefix == "" {
		c.Vector.KeyPrefix = domain.KeyPrefix
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderNone
	}
	if c.LLM.TimeoutSec <= 0 {
		c.LLM.TimeoutSec = 120
	}

	if c.Worker.PollIntervalMs <= 0 {
		c.Worker.PollIntervalMs = 100
	}
	if c.Worker.MaxActive <= 0 {
		c.Worker.MaxActive = 5
	}
	if c.Worker.MaxRetries <= 0 {
		c.Worker.MaxRetries = 5
	}

	if c.Chunking.Strategy == "" {
		c.Chunking.Strategy = "window"
	}
	if c.Chunking.MaxTokens <= 0 {
		c.Chunking.MaxTokens = 256
	}
	if c.Chunking.Overlap <= 0 {
		c.Chunking.Overlap = 86
	}

	if c.Search.DefaultLimit <= 0 {
		c.Search.DefaultLimit = 10
	}
	if c.Search.MaxLimit <= 0 {
		c.Search.MaxLimit = 100
	}
}

// Validate checks the configuration for correctness. Every failure wraps
// domain.ErrConfiguration.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %w", err, domain.ErrConfiguration)
	}
	return nil
}

func (c *Config) validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if !hasAnyPrefix(c.Database.URL, "sqlite://", "postgres://", "postgresql://") {
		return fmt.Errorf("database.url must start with sqlite:// or postgres://")
	}
	if c.Vector.URL == "" {
		return fmt.Errorf("vector.url is required")
	}
	if !hasAnyPrefix(c.Vector.URL, "annoy://", "chromem://", "redis://", "rediss://", "qdrant://", "qdrants://") {
		return fmt.Errorf("vector.url has an unsupported scheme")
	}
	if c.Vector.Dimensions != c.Embedding.Dimensions {
		return fmt.Errorf(
			"embedding.dimensions (%d) does not match vector.dimensions (%d)",
			c.Embedding.Dimensions, c.Vector.Dimensions,
		)
	}

	switch c.Embedding.Provider {
	case ProviderOpenAI:
		if c.Embedding.APIKey == "" && c.Embedding.BaseURL == "" {
			return fmt.Errorf("embedding.api_key is required for the openai provider")
		}
		if c.Embedding.Model == "" {
			return fmt.Errorf("embedding.model is required for the openai provider")
		}
	case ProviderLocal:
		if c.Embedding.LocalConfig == "" {
			return fmt.Errorf("embedding.local_config is required for the local provider")
		}
	case ProviderHash:
	default:
		return fmt.Errorf("embedding.provider must be openai, local or hash, got %q", c.Embedding.Provider)
	}

	switch c.Embedding.Cache.Backend {
	case "memory", "none":
	case "redis":
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required for the redis embedding cache")
		}
	default:
		return fmt.Errorf("embedding.cache.backend must be memory, redis or none, got %q", c.Embedding.Cache.Backend)
	}

	switch c.Embedding.Budget.Action {
	case "warn", "reject":
	default:
		return fmt.Errorf(
			"embedding.budget.action must be \"warn\" or \"reject\", got %q",
			c.Embedding.Budget.Action,
		)
	}

	switch c.LLM.Provider {
	case ProviderNone:
	case ProviderOpenAI, ProviderAnthropic, ProviderOpenRouter:
		if c.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key is required for the %s provider", c.LLM.Provider)
		}
		if c.LLM.Model == "" {
			return fmt.Errorf("llm.model is required for the %s provider", c.LLM.Provider)
		}
	case ProviderLocal:
		if c.Embedding.LocalConfig == "" && c.LLM.BaseURL == "" {
			return fmt.Errorf("llm.base_url or embedding.local_config is required for the local provider")
		}
	default:
		return fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider)
	}

	if c.Chunking.MaxChars < 0 {
		return fmt.Errorf("chunking.max_chars must not be negative")
	}
	switch c.Chunking.Strategy {
	case "window":
		if c.Chunking.Overlap >= c.Chunking.MaxTokens {
			return fmt.Errorf("chunking.overlap must be smaller than chunking.max_tokens")
		}
	case "sentence":
	default:
		return fmt.Errorf("chunking.strategy must be window or sentence, got %q", c.Chunking.Strategy)
	}

	if c.Search.DefaultLimit > c.Search.MaxLimit {
		return fmt.Errorf("search.default_limit must not exceed search.max_limit")
	}
	return nil
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
