// Package answer generates answers with a completion backend, optionally
// grounded on segments retrieved by the query engine.
package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"

	"github.com/kailas-cloud/memex/internal/domain"
	"github.com/kailas-cloud/memex/internal/domain/search/result"
	"github.com/kailas-cloud/memex/internal/usecase/query"
)

// AskRequest is a question over explicit context or a collection. Explicit
// context takes precedence and skips retrieval.
type AskRequest struct {
	Collection string
	Context    string
	Query      string
	// Schema, when set, asks for a JSON object conforming to it.
	Schema json.RawMessage
	Limit  int
}

// Answer is the generated response. JSON is set only for schema requests.
type Answer struct {
	Text             string
	JSON             json.RawMessage
	Sources          []result.Result
	PromptTokens     int
	CompletionTokens int
}

// Service is the answer engine.
type Service struct {
	completer domain.Completer
	searcher  Searcher
	splitter  Splitter
	logger    *zap.Logger
}

// New creates an answer service. completer may be nil, in which case every
// operation fails with domain.ErrCompletionNotConfigured.
func New(completer domain.Completer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{completer: completer, logger: logger}
}

// WithSearcher enables retrieval for requests that name a collection.
func (s *Service) WithSearcher(q Searcher) *Service {
	s.searcher = q
	return s
}

// WithSplitter makes Summarize work piecewise over long texts.
func (s *Service) WithSplitter(sp Splitter) *Service {
	s.splitter = sp
	return s
}

// Quick answers a standalone question.
func (s *Service) Quick(ctx context.Context, question string) (Answer, error) {
	return s.Ask(ctx, AskRequest{Query: question})
}

// Ask answers req.Query. Context comes from req.Context and, when a collection
// is named, from the top segments of a search over it. With a schema the
// completion is validated and returned as JSON.
func (s *Service) Ask(ctx context.Context, req AskRequest) (Answer, error) {
	if s.completer == nil {
		return Answer{}, fmt.Errorf("ask: %w", domain.ErrCompletionNotConfigured)
	}
	if strings.TrimSpace(req.Query) == "" {
		return Answer{}, domain.Malformed("query is required")
	}

	var schema *jsonschema.Resolved
	if len(req.Schema) > 0 {
		var err error
		if schema, err = compileSchema(req.Schema); err != nil {
			return Answer{}, err
		}
	}

	sources, err := s.retrieve(ctx, req)
	if err != nil {
		return Answer{}, err
	}
	contextText := joinContext(req.Context, sources)

	var creq domain.CompletionRequest
	switch {
	case schema != nil:
		creq = domain.CompletionRequest{
			System: extractSystem,
			Prompt: extractPrompt(contextText, req.Query, string(req.Schema)),
			JSON:   true,
		}
	case contextText != "":
		creq = domain.CompletionRequest{System: contextSystem, Prompt: contextPrompt(contextText, req.Query)}
	default:
		creq = domain.CompletionRequest{System: quickSystem, Prompt: req.Query}
	}

	res, err := s.completer.Complete(ctx, creq)
	if err != nil {
		return Answer{}, fmt.Errorf("complete: %w", err)
	}

	ans := Answer{
		Text:             strings.TrimSpace(res.Text),
		Sources:          sources,
		PromptTokens:     res.PromptTokens,
		CompletionTokens: res.CompletionTokens,
	}
	if schema != nil {
		ans.JSON, err = parseOutput(res.Text, schema)
		if err != nil {
			s.logger.Warn("schema extraction produced invalid output", zap.Error(err))
			return Answer{}, err
		}
	}
	return ans, nil
}

func (s *Service) retrieve(ctx context.Context, req AskRequest) ([]result.Result, error) {
	if req.Collection == "" || strings.TrimSpace(req.Context) != "" {
		return nil, nil
	}
	if s.searcher == nil {
		return nil, domain.Misconfigured("retrieval is not configured")
	}
	sources, err := s.searcher.Search(ctx, query.Request{
		Collection: req.Collection,
		Query:      req.Query,
		Limit:      req.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve context: %w", err)
	}
	return sources, nil
}

func joinContext(explicit string, sources []result.Result) string {
	parts := make([]string, 0, len(sources)+1)
	if strings.TrimSpace(explicit) != "" {
		parts = append(parts, strings.TrimSpace(explicit))
	}
	for i := range sources {
		parts = append(parts, sources[i].Content())
	}
	return strings.Join(parts, "\n\n")
}

// Summarize condenses text. Long texts are summarized piece by piece and the
// partial summaries are joined in order.
func (s *Service) Summarize(ctx context.Context, text string) (string, error) {
	if s.completer == nil {
		return "", fmt.Errorf("summarize: %w", domain.ErrCompletionNotConfigured)
	}
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	pieces := []string{text}
	if s.splitter != nil {
		chunks := s.splitter.Split(text)
		pieces = make([]string, len(chunks))
		for i, c := range chunks {
			pieces[i] = c.Text
		}
	}

	summaries := make([]string, 0, len(pieces))
	for i, p := range pieces {
		res, err := s.completer.Complete(ctx, domain.CompletionRequest{
			System: summarizeSystem,
			Prompt: summarizePrompt(p),
		})
		if err != nil {
			return "", fmt.Errorf("summarize piece %d/%d: %w", i+1, len(pieces), err)
		}
		summaries = append(summaries, strings.TrimSpace(res.Text))
	}
	return strings.Join(summaries, "\n\n"), nil
}
