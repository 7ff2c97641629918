package memex

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kailas-cloud/memex/internal/domain"
	domcol "github.com/kailas-cloud/memex/internal/domain/collection"
	"github.com/kailas-cloud/memex/internal/domain/search/result"
	domtask "github.com/kailas-cloud/memex/internal/domain/task"
	answeruc "github.com/kailas-cloud/memex/internal/usecase/answer"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingResult, error)
}

// EmbeddingResult is an embedding vector with token usage.
type EmbeddingResult struct {
	Embedding    []float32
	PromptTokens int
	TotalTokens  int
}

// Completer generates text for Ask, Quick and summary tasks.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
}

// CompletionRequest is a single-turn completion.
type CompletionRequest struct {
	System      string
	Prompt      string
	Temperature float32
	MaxTokens   int
	JSON        bool
}

// CompletionResult is generated text with token usage.
type CompletionResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

// Task statuses.
const (
	TaskQueued     TaskStatus = TaskStatus(domtask.Queued)
	TaskProcessing TaskStatus = TaskStatus(domtask.Processing)
	TaskCompleted  TaskStatus = TaskStatus(domtask.Completed)
	TaskFailed     TaskStatus = TaskStatus(domtask.Failed)
)

// Task is a snapshot of an ingestion or summary task.
type Task struct {
	ID         int64
	DocumentID string
	Collection string
	Kind       string
	Status     TaskStatus
	Retries    int
	// ErrorKind and ErrorMessage are set for failed tasks.
	ErrorKind    string
	ErrorMessage string
	// Segments is the number of indexed segments of a completed ingest task.
	Segments *int
	// Summary is the output of a completed summary task.
	Summary   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Done reports whether the task reached a terminal state.
func (t Task) Done() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed
}

// SearchResult is one matching segment.
type SearchResult struct {
	SegmentID  string
	DocumentID string
	TaskID     int64
	Position   int
	Content    string
	Score      float64
}

// Collection is a named group of documents.
type Collection struct {
	Name      string
	CreatedAt time.Time
}

// AskRequest asks a question, optionally over a collection or an explicit context.
type AskRequest struct {
	Collection string
	Context    string
	Query      string
	// Schema, when set, requests a JSON answer conforming to it.
	Schema json.RawMessage
	Limit  int
}

// Answer is a generated answer with the segments it was grounded on.
type Answer struct {
	Text             string
	JSON             json.RawMessage
	Sources          []SearchResult
	PromptTokens     int
	CompletionTokens int
}

func fromTask(t domtask.Task) Task {
	out := Task{
		ID:         t.ID(),
		DocumentID: t.DocumentID().String(),
		Collection: t.Collection(),
		Kind:       string(t.Kind()),
		Status:     TaskStatus(t.Status()),
		Retries:    t.Retries(),
		CreatedAt:  t.CreatedAt(),
		UpdatedAt:  t.UpdatedAt(),
	}
	if d := t.Error(); d != nil {
		out.ErrorKind = string(d.Kind)
		out.ErrorMessage = d.Message
	}
	if t.Status() == domtask.Completed {
		out.Segments = t.Output().Segments
		out.Summary = t.Output().Summary
	}
	return out
}

func fromResults(rs []result.Result) []SearchResult {
	out := make([]SearchResult, 0, len(rs))
	for _, r := range rs {
		out = append(out, SearchResult{
			SegmentID:  r.SegmentID().String(),
			DocumentID: r.DocumentID().String(),
			TaskID:     r.TaskID(),
			Position:   r.Position(),
			Content:    r.Content(),
			Score:      r.Score(),
		})
	}
	return out
}

func fromCollections(cs []domcol.Collection) []Collection {
	out := make([]Collection, 0, len(cs))
	for _, c := range cs {
		out = append(out, Collection{Name: c.Name(), CreatedAt: c.CreatedAt()})
	}
	return out
}

func fromAnswer(a answeruc.Answer) Answer {
	return Answer{
		Text:             a.Text,
		JSON:             a.JSON,
		Sources:          fromResults(a.Sources),
		PromptTokens:     a.PromptTokens,
		CompletionTokens: a.CompletionTokens,
	}
}

// embedderAdapter wraps a public Embedder to satisfy domain.Embedder.
type embedderAdapter struct {
	inner Embedder
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	r, err := a.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{
		Embedding:    r.Embedding,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
	}, nil
}

// completerAdapter wraps a public Completer to satisfy domain.Completer.
type completerAdapter struct {
	inner Completer
}

func (a *completerAdapter) Complete(ctx context.Context, req domain.CompletionRequest) (domain.CompletionResult, error) {
	r, err := a.inner.Complete(ctx, CompletionRequest{
		System:      req.System,
		Prompt:      req.Prompt,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		JSON:        req.JSON,
	})
	if err != nil {
		return domain.CompletionResult{}, err
	}
	return domain.CompletionResult{
		Text:             r.Text,
		PromptTokens:     r.PromptTokens,
		CompletionTokens: r.CompletionTokens,
	}, nil
}
