package fantasy

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"charm.land/fantasy"

	"github.com/kailas-cloud/memex/internal/domain"
	"github.com/kailas-cloud/memex/internal/metrics"
)

func TestMain(m *testing.M) {
	metrics.Register()
	os.Exit(m.Run())
}

func TestNew_UnsupportedProvider(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "carrier-pigeon", Model: "m"})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestNew_MissingModel(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: ProviderOpenAI})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestComplete_MapsRequest(t *testing.T) {
	var (
		gotSystem string
		gotCall   fantasy.AgentCall
	)
	c := newCompleter(Config{Provider: "test", Model: "m"}, func(_ context.Context, system string, call fantasy.AgentCall) (string, int64, int64, error) {
		gotSystem, gotCall = system, call
		return "Blue.", 10, 2, nil
	})

	res, err := c.Complete(context.Background(), domain.CompletionRequest{
		System: "You are a helpful assistant.",
		Prompt: "What color is the sky?",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "Blue." || res.PromptTokens != 10 || res.CompletionTokens != 2 {
		t.Errorf("unexpected result: %+v", res)
	}
	if gotSystem != "You are a helpful assistant." || gotCall.Prompt != "What color is the sky?" {
		t.Errorf("unexpected call: system=%q prompt=%q", gotSystem, gotCall.Prompt)
	}
	if gotCall.MaxOutputTokens == nil || *gotCall.MaxOutputTokens != domain.DefaultMaxTokens {
		t.Errorf("max tokens not applied: %v", gotCall.MaxOutputTokens)
	}
	if gotCall.Temperature == nil || float32(*gotCall.Temperature) != domain.DefaultTemperature {
		t.Errorf("temperature not applied: %v", gotCall.Temperature)
	}
}

func TestComplete_JSONInstruction(t *testing.T) {
	var prompt string
	c := newCompleter(Config{Provider: "test", Model: "m"}, func(_ context.Context, _ string, call fantasy.AgentCall) (string, int64, int64, error) {
		prompt = call.Prompt
		return "{}", 0, 0, nil
	})

	if _, err := c.Complete(context.Background(), domain.CompletionRequest{Prompt: "extract", JSON: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(prompt, "extract") || !strings.Contains(prompt, "JSON") {
		t.Errorf("unexpected prompt: %q", prompt)
	}
}

func TestComplete_RetriesTimeouts(t *testing.T) {
	var calls atomic.Int32
	c := newCompleter(Config{Provider: "test", Model: "m", Timeout: 10 * time.Millisecond, MaxAttempts: 3},
		func(ctx context.Context, _ string, _ fantasy.AgentCall) (string, int64, int64, error) {
			if calls.Add(1) == 1 {
				<-ctx.Done()
				return "", 0, 0, ctx.Err()
			}
			return "ok", 1, 1, nil
		})

	res, err := c.Complete(context.Background(), domain.CompletionRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "ok" || calls.Load() != 2 {
		t.Errorf("text=%q calls=%d", res.Text, calls.Load())
	}
}

func TestComplete_TimeoutExhaustedIsTransient(t *testing.T) {
	c := newCompleter(Config{Provider: "test", Model: "m", Timeout: 5 * time.Millisecond, MaxAttempts: 2},
		func(ctx context.Context, _ string, _ fantasy.AgentCall) (string, int64, int64, error) {
			<-ctx.Done()
			return "", 0, 0, ctx.Err()
		})

	_, err := c.Complete(context.Background(), domain.CompletionRequest{Prompt: "hi"})
	if !errors.Is(err, domain.ErrTransientBackend) {
		t.Fatalf("expected ErrTransientBackend, got %v", err)
	}
}

func TestComplete_ProviderErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newCompleter(Config{Provider: "test", Model: "m"},
		func(context.Context, string, fantasy.AgentCall) (string, int64, int64, error) {
			calls.Add(1)
			return "", 0, 0, errors.New("invalid model")
		})

	_, err := c.Complete(context.Background(), domain.CompletionRequest{Prompt: "hi"})
	if !errors.Is(err, domain.ErrCompletionProviderError) {
		t.Fatalf("expected ErrCompletionProviderError, got %v", err)
	}
	if errors.Is(err, domain.ErrTransientBackend) {
		t.Error("provider error should not be transient")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}
