package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kailas-cloud/memex/internal/config"
	"github.com/kailas-cloud/memex/internal/domain"
	"github.com/kailas-cloud/memex/internal/transport/hash"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Config{
		Database:  config.DatabaseConfig{URL: "sqlite://" + filepath.Join(dir, "memex.db")},
		Vector:    config.VectorConfig{URL: "chromem://" + filepath.Join(dir, "vectors")},
		Embedding: config.EmbeddingConfig{Provider: config.ProviderHash, Dimensions: 64},
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}
	return cfg
}

func newApp(t *testing.T, cfg config.Config, opts ...Option) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, nil, opts...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNew_Wires(t *testing.T) {
	a := newApp(t, testConfig(t))

	names := a.Health.Names()
	if strings.Join(names, ",") != "embedding,metadata,vector" {
		t.Errorf("unexpected health components: %v", names)
	}
	if a.Worker == nil || a.Query == nil || a.Answer == nil || a.Usage == nil {
		t.Fatal("expected all services wired")
	}
}

func TestNew_HealthEndpoint(t *testing.T) {
	a := newApp(t, testConfig(t))

	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/health", http.NoBody))
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d: %s", rr.Code, rr.Body)
	}
}

func TestNew_DimensionMismatch(t *testing.T) {
	_, err := New(context.Background(), testConfig(t), nil, WithEmbedder(hash.New(32)))
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestNew_UnsupportedDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.URL = "mysql://localhost/memex"

	_, err := New(context.Background(), cfg, nil)
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestNew_AskWithoutCompleter(t *testing.T) {
	a := newApp(t, testConfig(t))

	_, err := a.Answer.Quick(context.Background(), "hello?")
	if !errors.Is(err, domain.ErrCompletionNotConfigured) {
		t.Fatalf("expected ErrCompletionNotConfigured, got %v", err)
	}
}

func TestNew_InjectedCompleter(t *testing.T) {
	c := completerFunc(func(context.Context, domain.CompletionRequest) (domain.CompletionResult, error) {
		return domain.CompletionResult{Text: "Paris."}, nil
	})
	a := newApp(t, testConfig(t), WithCompleter(c))

	ans, err := a.Answer.Quick(context.Background(), "Capital of France?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ans.Text != "Paris." {
		t.Errorf("unexpected answer %q", ans.Text)
	}
}

func TestRequeueStale_Empty(t *testing.T) {
	a := newApp(t, testConfig(t))

	res, err := a.RequeueStale(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Requeued != 0 || res.Failed != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
}

type completerFunc func(ctx context.Context, req domain.CompletionRequest) (domain.CompletionResult, error)

func (f completerFunc) Complete(ctx context.Context, req domain.CompletionRequest) (domain.CompletionResult, error) {
	return f(ctx, req)
}
