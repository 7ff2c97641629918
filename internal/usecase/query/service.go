// Package query is the read path: embed a query, search the vector store and
// join the hits with segment metadata.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/memex/internal/domain"
	domcol "github.com/kailas-cloud/memex/internal/domain/collection"
	"github.com/kailas-cloud/memex/internal/domain/search/mode"
	"github.com/kailas-cloud/memex/internal/domain/search/result"
	"github.com/kailas-cloud/memex/internal/metrics"
	"github.com/kailas-cloud/memex/internal/vector"
)

// Limit defaults.
const (
	DefaultLimit = 10
	MaxLimit     = 100
	// overfetch leaves room for hits dropped as orphans.
	overfetch = 2
)

// Request is a search over one collection.
type Request struct {
	Collection string
	Query      string
	// Limit is the number of results; zero means the default.
	Limit    int
	Mode     mode.Mode
	MinScore float64
}

// Service answers search requests.
type Service struct {
	store        vector.Store
	segments     SegmentReader
	collections  CollectionChecker
	embed        domain.Embedder
	defaultLimit int
	maxLimit     int
	logger       *zap.Logger
}

// New creates a query service. embed is the query-side embedding chain.
func New(store vector.Store, segments SegmentReader, embed domain.Embedder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:        store,
		segments:     segments,
		embed:        embed,
		defaultLimit: DefaultLimit,
		maxLimit:     MaxLimit,
		logger:       logger,
	}
}

// WithCollections lets Search skip the embedding call for collections that
// were never written.
func (s *Service) WithCollections(c CollectionChecker) *Service {
	s.collections = c
	return s
}

// WithLimits overrides the default and maximum result counts.
func (s *Service) WithLimits(defaultLimit, maxLimit int) *Service {
	if defaultLimit > 0 {
		s.defaultLimit = defaultLimit
	}
	if maxLimit > 0 {
		s.maxLimit = maxLimit
	}
	return s
}

// Search returns segments of req.Collection ranked by similarity to req.Query.
// An empty or unknown collection, or a blank query, yields no results.
func (s *Service) Search(ctx context.Context, req Request) ([]result.Result, error) {
	req, err := s.normalize(req)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		metrics.SearchDuration.WithLabelValues(string(req.Mode)).Observe(time.Since(start).Seconds())
	}()

	if strings.TrimSpace(req.Query) == "" {
		return []result.Result{}, nil
	}
	if s.collections != nil {
		ok, err := s.collections.Exists(ctx, req.Collection)
		if err != nil {
			return nil, fmt.Errorf("check collection: %w", err)
		}
		if !ok {
			return []result.Result{}, nil
		}
	}

	k := req.Limit * overfetch
	var hits []vector.Hit
	switch req.Mode {
	case mode.Semantic:
		hits, err = s.searchSemantic(ctx, req, k)
	case mode.Keyword:
		hits, err = s.searchKeyword(ctx, req, k)
	case mode.Hybrid:
		hits, err = s.searchHybrid(ctx, req, k)
	}
	if err != nil {
		return nil, err
	}

	results, err := s.resolve(ctx, req.Collection, hits)
	if err != nil {
		return nil, err
	}

	if req.MinScore > 0 {
		filtered := results[:0]
		for _, r := range results {
			if r.Score() >= req.MinScore {
				filtered = append(filtered, r)
			}
		}
		results = filtered
	}
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results, nil
}

func (s *Service) normalize(req Request) (Request, error) {
	if err := domcol.ValidateName(req.Collection); err != nil {
		return req, fmt.Errorf("validate collection: %w: %w", domain.ErrMalformedInput, err)
	}
	req.Mode = req.Mode.OrDefault()
	if !req.Mode.IsValid() {
		return req, domain.Malformed("unknown search mode %q", req.Mode)
	}
	switch {
	case req.Limit == 0:
		req.Limit = s.defaultLimit
	case req.Limit < 0 || req.Limit > s.maxLimit:
		return req, domain.Malformed("limit must be between 1 and %d, got %d", s.maxLimit, req.Limit)
	}
	return req, nil
}

// searchSemantic embeds the query and runs a vector search (works on any backend).
func (s *Service) searchSemantic(ctx context.Context, req Request, k int) ([]vector.Hit, error) {
	emb, err := s.embed.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("vectorize query: %w", err)
	}
	hits, err := s.store.Search(ctx, req.Collection, emb.Embedding, k)
	if err != nil {
		return nil, fmt.Errorf("search vectors: %w", err)
	}
	return hits, nil
}

// searchKeyword ranks by text match (backends with keyword search only).
func (s *Service) searchKeyword(ctx context.Context, req Request, k int) ([]vector.Hit, error) {
	ks, ok := s.store.(vector.KeywordSearcher)
	if !ok {
		return nil, domain.ErrKeywordSearchNotSupported
	}
	hits, err := ks.SearchText(ctx, req.Collection, req.Query, k)
	if err != nil {
		return nil, fmt.Errorf("search text: %w", err)
	}
	return hits, nil
}

// searchHybrid fuses the vector and keyword rankings via RRF.
func (s *Service) searchHybrid(ctx context.Context, req Request, k int) ([]vector.Hit, error) {
	if _, ok := s.store.(vector.KeywordSearcher); !ok {
		return nil, domain.ErrKeywordSearchNotSupported
	}
	knn, err := s.searchSemantic(ctx, req, k)
	if err != nil {
		return nil, err
	}
	keyword, err := s.searchKeyword(ctx, req, k)
	if err != nil {
		return nil, err
	}
	return fuseRRF(knn, keyword, k), nil
}

// resolve joins hits with segment metadata in hit order. Hits without a
// segment of this collection are orphans: logged, counted and skipped.
func (s *Service) resolve(ctx context.Context, collection string, hits []vector.Hit) ([]result.Result, error) {
	if len(hits) == 0 {
		return []result.Result{}, nil
	}

	ids := make([]uuid.UUID, 0, len(hits))
	parsed := make([]uuid.UUID, len(hits))
	for i, h := range hits {
		id, err := uuid.Parse(h.ID)
		if err != nil {
			continue
		}
		parsed[i] = id
		ids = append(ids, id)
	}

	segments, err := s.segments.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load segments: %w", err)
	}

	results := make([]result.Result, 0, len(hits))
	for i, h := range hits {
		seg, ok := segments[parsed[i]]
		if !ok || parsed[i] == uuid.Nil || seg.Collection() != collection {
			s.orphan(collection, h.ID)
			continue
		}
		results = append(results, result.New(
			seg.ID(), seg.DocumentID(), seg.TaskID(), seg.Position(), seg.Content(), h.Score,
		))
	}
	return results, nil
}

func (s *Service) orphan(collection, id string) {
	metrics.OrphanedHitsTotal.WithLabelValues(collection).Inc()
	s.logger.Warn("skipping orphaned vector hit",
		zap.String("collection", collection),
		zap.String("segment_id", id),
		zap.Error(domain.ErrDataIntegrity),
	)
}
