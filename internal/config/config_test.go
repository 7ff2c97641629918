package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kailas-cloud/memex/internal/domain"
)

func validConfig() Config {
	cfg := Config{
		Database:  DatabaseConfig{URL: "sqlite://memex.db"},
		Vector:    VectorConfig{URL: "chromem://vectors"},
		Embedding: EmbeddingConfig{Provider: ProviderHash},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestApplyDefaults(t *testing.T) {
	cfg := validConfig()

	if cfg.HTTP.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.HTTP.Port)
	}
	if cfg.Embedding.Dimensions != 384 || cfg.Vector.Dimensions != 384 {
		t.Errorf("dimensions = %d/%d, want 384/384", cfg.Embedding.Dimensions, cfg.Vector.Dimensions)
	}
	if cfg.Worker.PollIntervalMs != 100 || cfg.Worker.MaxActive != 5 || cfg.Worker.MaxRetries != 5 {
		t.Errorf("unexpected worker defaults: %+v", cfg.Worker)
	}
	if cfg.Chunking.MaxTokens != 256 || cfg.Chunking.Overlap != 86 {
		t.Errorf("unexpected chunking defaults: %+v", cfg.Chunking)
	}
	if cfg.Search.DefaultLimit != 10 || cfg.Search.MaxLimit != 100 {
		t.Errorf("unexpected search defaults: %+v", cfg.Search)
	}
	if cfg.LLM.Enabled() {
		t.Error("llm should be disabled by default")
	}
	if cfg.Vector.KeyPrefix != domain.KeyPrefix {
		t.Errorf("key prefix = %q", cfg.Vector.KeyPrefix)
	}
}

func TestValidate_Valid(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"invalid port", func(c *Config) { c.HTTP.Port = 70000 }},
		{"missing database", func(c *Config) { c.Database.URL = "" }},
		{"unsupported database", func(c *Config) { c.Database.URL = "mysql://x" }},
		{"missing vector", func(c *Config) { c.Vector.URL = "" }},
		{"unsupported vector", func(c *Config) { c.Vector.URL = "faiss://x" }},
		{"dimension mismatch", func(c *Config) { c.Vector.Dimensions = 768 }},
		{"unknown embedding provider", func(c *Config) { c.Embedding.Provider = "cohere" }},
		{"openai without key", func(c *Config) {
			c.Embedding.Provider = ProviderOpenAI
			c.Embedding.Model = "text-embedding-3-small"
		}},
		{"local without model config", func(c *Config) { c.Embedding.Provider = ProviderLocal }},
		{"redis cache without url", func(c *Config) { c.Embedding.Cache.Backend = "redis" }},
		{"invalid budget action", func(c *Config) { c.Embedding.Budget.Action = "invalid_action" }},
		{"unknown llm", func(c *Config) { c.LLM.Provider = "gemini" }},
		{"anthropic without key", func(c *Config) {
			c.LLM.Provider = ProviderAnthropic
			c.LLM.Model = "claude"
		}},
		{"overlap too large", func(c *Config) { c.Chunking.Overlap = 300 }},
		{"negative max chars", func(c *Config) { c.Chunking.MaxChars = -1 }},
		{"unknown strategy", func(c *Config) { c.Chunking.Strategy = "paragraph" }},
		{"default above max", func(c *Config) { c.Search.DefaultLimit = 500 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, domain.ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestValidate_InvalidBudgetActionMessage(t *testing.T) {
	cfg := validConfig()
	cfg.Embedding.Budget.Action = "invalid_action"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for invalid budget action")
	}
	expected := `embedding.budget.action must be "warn" or "reject", got "invalid_action": configuration error`
	if err.Error() != expected {
		t.Errorf("unexpected error message:\ngot:  %q\nwant: %q", err.Error(), expected)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("MEMEX_TEST_SET", "value")

	got := string(expandEnvVars([]byte("a: ${MEMEX_TEST_SET}\nb: ${MEMEX_TEST_UNSET:-fallback}\nc: ${MEMEX_TEST_UNSET}")))
	want := "a: value\nb: fallback\nc: "
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("DATABASE_CONNECTION", "sqlite://from-env.db")
	t.Setenv("PORT", "9090")

	path := filepath.Join(t.TempDir(), "test.yaml")
	data := `
http:
  port: ${PORT:-8080}
database:
  url: ${DATABASE_CONNECTION}
vector:
  url: ${VECTOR_CONNECTION:-annoy://vectors}
embedding:
  provider: hash
  dimensions: 64
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.HTTP.Port)
	}
	if cfg.Database.URL != "sqlite://from-env.db" {
		t.Errorf("database url = %q", cfg.Database.URL)
	}
	if cfg.Vector.URL != "annoy://vectors" {
		t.Errorf("vector url = %q", cfg.Vector.URL)
	}
	if cfg.Vector.Dimensions != 64 {
		t.Errorf("vector dimensions = %d, want inherited 64", cfg.Vector.Dimensions)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestLoad_ShippedConfigs(t *testing.T) {
	t.Setenv("DATABASE_CONNECTION", "sqlite://memex.db")
	t.Setenv("VECTOR_CONNECTION", "chromem://vectors")
	t.Setenv("EMBEDDING_PROVIDER", "hash")
	t.Setenv("LLM_PROVIDER", "none")

	for _, env := range []string{"local", "prod"} {
		t.Run(env, func(t *testing.T) {
			if _, err := Load(env); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestHTTPAddr(t *testing.T) {
	h := HTTPConfig{Host: "0.0.0.0", Port: 8080}
	if h.Addr() != "0.0.0.0:8080" {
		t.Errorf("addr = %q", h.Addr())
	}
}
