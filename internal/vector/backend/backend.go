// Package backend resolves a vector connection URL into a concrete
// vector.Store. Selection happens once at startup.
package backend

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/memex/internal/db/redis"
	"github.com/kailas-cloud/memex/internal/domain"
	"github.com/kailas-cloud/memex/internal/vector"
	"github.com/kailas-cloud/memex/internal/vector/annoy"
	"github.com/kailas-cloud/memex/internal/vector/chromem"
	"github.com/kailas-cloud/memex/internal/vector/docsearch"
	"github.com/kailas-cloud/memex/internal/vector/qdrant"
)

const defaultQdrantPort = 6334

// Config is the resolved vector section of the process configuration.
type Config struct {
	// URL selects the backend by scheme: annoy://, chromem://, redis://,
	// rediss://, qdrant:// or qdrants://.
	URL        string
	Dimensions int

	// Annoy
	Trees            int
	RebuildThreshold int
	// Chromem
	Compress bool
	// Docsearch
	KeyPrefix    string
	HNSWM        int
	HNSWEF       int
	SyncTimeout  time.Duration
	SyncInterval time.Duration
	// Qdrant
	APIKey           string
	CollectionPrefix string
}

// Kind names the backend family selected by a URL.
type Kind string

// Backend kinds.
const (
	KindAnnoy     Kind = "annoy"
	KindChromem   Kind = "chromem"
	KindDocsearch Kind = "docsearch"
	KindQdrant    Kind = "qdrant"
)

// KindOf returns the backend family for rawURL.
func KindOf(rawURL string) (Kind, error) {
	scheme, _, ok := strings.Cut(rawURL, "://")
	if !ok {
		return "", domain.Misconfigured("vector url must have a scheme")
	}
	switch strings.ToLower(scheme) {
	case "annoy":
		return KindAnnoy, nil
	case "chromem":
		return KindChromem, nil
	case "redis", "rediss":
		return KindDocsearch, nil
	case "qdrant", "qdrants":
		return KindQdrant, nil
	default:
		return "", domain.Misconfigured("unsupported vector backend scheme %q", scheme)
	}
}

// Open creates the store selected by cfg.URL.
func Open(ctx context.Context, cfg Config) (vector.Store, error) {
	if cfg.Dimensions <= 0 {
		return nil, domain.Misconfigured("vector dimensions must be positive, got %d", cfg.Dimensions)
	}
	kind, err := KindOf(cfg.URL)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindAnnoy:
		dir := pathOf(cfg.URL)
		if dir == "" {
			return nil, domain.Misconfigured("annoy url needs a directory")
		}
		s, err := annoy.New(dir, cfg.Dimensions,
			annoy.WithTrees(cfg.Trees), annoy.WithRebuildThreshold(cfg.RebuildThreshold))
		if err != nil {
			return nil, domain.Misconfigured("%v", err)
		}
		return s, nil

	case KindChromem:
		s, err := chromem.New(pathOf(cfg.URL), cfg.Dimensions, cfg.Compress)
		if err != nil {
			return nil, domain.Misconfigured("%v", err)
		}
		return s, nil

	case KindDocsearch:
		st, err := redis.Open(ctx, cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("vector redis: %w: %w", domain.ErrTransientBackend, err)
		}
		opts := []docsearch.Option{
			docsearch.WithHNSW(docsearch.HNSWConfig{M: cfg.HNSWM, EFConstruct: cfg.HNSWEF}),
			docsearch.WithSync(cfg.SyncInterval, cfg.SyncTimeout),
		}
		if cfg.KeyPrefix != "" {
			opts = append(opts, docsearch.WithPrefix(cfg.KeyPrefix))
		}
		return docsearch.New(st, cfg.Dimensions, opts...), nil

	default:
		qc, err := qdrantConfig(cfg)
		if err != nil {
			return nil, err
		}
		return qdrant.New(qc, cfg.Dimensions)
	}
}

// pathOf returns everything after the scheme separator, so both
// annoy:///abs/path and annoy://relative/path work.
func pathOf(rawURL string) string {
	_, rest, _ := strings.Cut(rawURL, "://")
	rest, _, _ = strings.Cut(rest, "?")
	return rest
}

func qdrantConfig(cfg Config) (qdrant.Config, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return qdrant.Config{}, domain.Misconfigured("invalid qdrant url")
	}

	port := defaultQdrantPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return qdrant.Config{}, domain.Misconfigured("invalid qdrant port %q", p)
		}
	}
	host := u.Hostname()
	if host == "" {
		return qdrant.Config{}, domain.Misconfigured("qdrant url needs a host")
	}

	apiKey := cfg.APIKey
	if u.User != nil && u.User.Username() != "" {
		apiKey = u.User.Username()
	}

	return qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: strings.EqualFold(u.Scheme, "qdrants"),
		Prefix: cfg.CollectionPrefix,
	}, nil
}
