package chi

import (
	"encoding/json"
	"time"

	"github.com/kailas-cloud/memex/internal/domain"
	domcol "github.com/kailas-cloud/memex/internal/domain/collection"
	"github.com/kailas-cloud/memex/internal/domain/search/result"
	domtask "github.com/kailas-cloud/memex/internal/domain/task"
	domusage "github.com/kailas-cloud/memex/internal/domain/usage"
	"github.com/kailas-cloud/memex/internal/usecase/answer"
)

// ErrorCode is the machine-readable error class in an ErrorResponse.
type ErrorCode string

// Error codes.
const (
	CodeBadRequest          ErrorCode = "bad_request"
	CodeUnauthorized        ErrorCode = "unauthorized"
	CodeMalformedInput      ErrorCode = "malformed_input"
	CodeSchemaViolation     ErrorCode = "schema_violation"
	CodeNotFound            ErrorCode = "not_found"
	CodeTaskNotFound        ErrorCode = "task_not_found"
	CodeInvalidTransition   ErrorCode = "invalid_transition"
	CodeQuotaExceeded       ErrorCode = "quota_exceeded"
	CodeTransientBackend    ErrorCode = "transient_backend"
	CodeDataIntegrity       ErrorCode = "data_integrity"
	CodeConfiguration       ErrorCode = "configuration"
	CodeNotConfigured       ErrorCode = "completion_not_configured"
	CodeKeywordNotSupported ErrorCode = "keyword_search_not_supported"
	CodeInternalError       ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

type documentRequest struct {
	Content string `json:"content"`
}

type searchRequest struct {
	Query    string  `json:"query"`
	Limit    int     `json:"limit,omitempty"`
	Mode     string  `json:"mode,omitempty"`
	MinScore float64 `json:"min_score,omitempty"`
}

type askRequest struct {
	Collection string          `json:"collection,omitempty"`
	Context    string          `json:"context,omitempty"`
	Query      string          `json:"query"`
	Schema     json.RawMessage `json:"schema,omitempty"`
	Limit      int             `json:"limit,omitempty"`
}

type quickRequest struct {
	Query string `json:"query"`
}

type taskError struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

type taskResponse struct {
	TaskID     int64           `json:"task_id"`
	DocumentID string          `json:"document_id"`
	Collection string          `json:"collection"`
	Kind       domtask.Kind    `json:"kind"`
	Status     domtask.Status  `json:"status"`
	Retries    int             `json:"retries"`
	Error      *taskError      `json:"error,omitempty"`
	Output     *domtask.Output `json:"output,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type searchResult struct {
	ID         string  `json:"_id"`
	DocumentID string  `json:"document_id"`
	TaskID     int64   `json:"task_id"`
	Segment    int     `json:"segment"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type collectionItem struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type collectionsResponse struct {
	Collections []collectionItem `json:"collections"`
}

type tokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type answerResponse struct {
	Answer  string          `json:"answer"`
	JSON    json.RawMessage `json:"json,omitempty"`
	Sources []searchResult  `json:"sources"`
	Usage   tokenUsage      `json:"usage"`
}

type usageResponse struct {
	Period          domusage.Period        `json:"period"`
	PeriodStart     time.Time              `json:"period_start"`
	PeriodEnd       time.Time              `json:"period_end"`
	TokensUsed      int64                  `json:"tokens_used"`
	TokensLimit     int64                  `json:"tokens_limit"`
	TokensRemaining int64                  `json:"tokens_remaining"`
	Tasks           map[domtask.Status]int `json:"tasks"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func taskToResponse(t domtask.Task) taskResponse {
	resp := taskResponse{
		TaskID:     t.ID(),
		DocumentID: t.DocumentID().String(),
		Collection: t.Collection(),
		Kind:       t.Kind(),
		Status:     t.Status(),
		Retries:    t.Retries(),
		CreatedAt:  t.CreatedAt().UTC(),
		UpdatedAt:  t.UpdatedAt().UTC(),
	}
	if d := t.Error(); d != nil {
		resp.Error = &taskError{Kind: d.Kind, Message: d.Message}
	}
	if t.Status() == domtask.Completed {
		out := t.Output()
		resp.Output = &out
	}
	return resp
}

func resultsToResponse(rs []result.Result) []searchResult {
	out := make([]searchResult, len(rs))
	for i := range rs {
		r := &rs[i]
		out[i] = searchResult{
			ID:         r.SegmentID().String(),
			DocumentID: r.DocumentID().String(),
			TaskID:     r.TaskID(),
			Segment:    r.Position(),
			Content:    r.Content(),
			Score:      r.Score(),
		}
	}
	return out
}

func collectionsToResponse(cs []domcol.Collection) collectionsResponse {
	items := make([]collectionItem, len(cs))
	for i := range cs {
		items[i] = collectionItem{Name: cs[i].Name(), CreatedAt: cs[i].CreatedAt().UTC()}
	}
	return collectionsResponse{Collections: items}
}

func answerToResponse(a answer.Answer) answerResponse {
	return answerResponse{
		Answer:  a.Text,
		JSON:    a.JSON,
		Sources: resultsToResponse(a.Sources),
		Usage:   tokenUsage{PromptTokens: a.PromptTokens, CompletionTokens: a.CompletionTokens},
	}
}

func usageToResponse(r domusage.Report) usageResponse {
	tasks := r.Tasks()
	if tasks == nil {
		tasks = map[domtask.Status]int{}
	}
	return usageResponse{
		Period:          r.Period(),
		PeriodStart:     r.Start().UTC(),
		PeriodEnd:       r.End().UTC(),
		TokensUsed:      r.TokensUsed(),
		TokensLimit:     r.TokensLimit(),
		TokensRemaining: r.TokensRemaining(),
		Tasks:           tasks,
	}
}
