package backend

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/kailas-cloud/memex/internal/domain"
	"github.com/kailas-cloud/memex/internal/vector/annoy"
	"github.com/kailas-cloud/memex/internal/vector/chromem"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		url     string
		want    Kind
		wantErr bool
	}{
		{"annoy:///var/lib/memex", KindAnnoy, false},
		{"chromem://data", KindChromem, false},
		{"redis://localhost:6379", KindDocsearch, false},
		{"rediss://user:pw@host:6380/0", KindDocsearch, false},
		{"qdrant://localhost:6334", KindQdrant, false},
		{"QDRANTS://cloud", KindQdrant, false},
		{"postgres://db", "", true},
		{"no-scheme", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.url, func(t *testing.T) {
			got, err := KindOf(tc.url)
			if tc.wantErr {
				if !errors.Is(err, domain.ErrConfiguration) {
					t.Fatalf("expected ErrConfiguration, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("KindOf = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestOpen_Embedded(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(ctx, Config{URL: "annoy://" + filepath.Join(dir, "ann"), Dimensions: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.(*annoy.Store); !ok {
		t.Errorf("expected annoy store, got %T", s)
	}
	if s.Dimensions() != 4 {
		t.Errorf("dimensions = %d", s.Dimensions())
	}

	s, err = Open(ctx, Config{URL: "chromem://" + filepath.Join(dir, "chr"), Dimensions: 4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.(*chromem.Store); !ok {
		t.Errorf("expected chromem store, got %T", s)
	}
}

func TestOpen_Rejects(t *testing.T) {
	ctx := context.Background()
	for _, cfg := range []Config{
		{URL: "annoy://", Dimensions: 4},
		{URL: "annoy:///tmp/x", Dimensions: 0},
		{URL: "ftp://x", Dimensions: 4},
		{URL: "qdrant://:6334", Dimensions: 4},
		{URL: "qdrant://host:port", Dimensions: 4},
	} {
		if _, err := Open(ctx, cfg); !errors.Is(err, domain.ErrConfiguration) {
			t.Errorf("Open(%+v): expected ErrConfiguration, got %v", cfg, err)
		}
	}
}

func TestQdrantConfig(t *testing.T) {
	qc, err := qdrantConfig(Config{URL: "qdrants://key123@cloud.example:7000", CollectionPrefix: "mx_"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if qc.Host != "cloud.example" || qc.Port != 7000 || qc.APIKey != "key123" || !qc.UseTLS || qc.Prefix != "mx_" {
		t.Errorf("unexpected config: %+v", qc)
	}

	qc, err = qdrantConfig(Config{URL: "qdrant://localhost", APIKey: "fromcfg"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if qc.Port != defaultQdrantPort || qc.APIKey != "fromcfg" || qc.UseTLS {
		t.Errorf("unexpected config: %+v", qc)
	}
}
