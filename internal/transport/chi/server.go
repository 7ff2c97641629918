package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/memex/internal/domain"
	domdoc "github.com/kailas-cloud/memex/internal/domain/document"
	"github.com/kailas-cloud/memex/internal/domain/search/mode"
	domusage "github.com/kailas-cloud/memex/internal/domain/usage"
	"github.com/kailas-cloud/memex/internal/metrics"
	"github.com/kailas-cloud/memex/internal/usecase/answer"
	"github.com/kailas-cloud/memex/internal/usecase/health"
	"github.com/kailas-cloud/memex/internal/usecase/query"
)

// maxBodyBytes bounds request bodies: the largest document plus JSON envelope.
const maxBodyBytes = domdoc.MaxContentSize + 64<<10

type errorHandler func(w http.ResponseWriter, err error) bool

// Server serves the memex HTTP API.
type Server struct {
	ingest      Ingester
	search      Searcher
	answer      Answerer
	collections Collections
	usage       UsageReporter
	health      HealthChecker
	logger      *zap.Logger

	errorHandlers []errorHandler
}

// NewServer creates a Server. A nil answerer makes the ask routes report
// that completion is not configured.
func NewServer(
	ingest Ingester,
	search Searcher,
	answerer Answerer,
	collections Collections,
	usage UsageReporter,
	healthSvc HealthChecker,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ingest:      ingest,
		search:      search,
		answer:      answerer,
		collections: collections,
		usage:       usage,
		health:      healthSvc,
		logger:      logger,
	}
	// Order matters: specific sentinels before their classes.
	s.errorHandlers = []errorHandler{
		messageHandler(domain.ErrSchemaViolation, http.StatusUnprocessableEntity, CodeSchemaViolation),
		messageHandler(domain.ErrMalformedInput, http.StatusBadRequest, CodeMalformedInput),
		messageHandler(domain.ErrVectorDimMismatch, http.StatusBadRequest, CodeMalformedInput),
		messageHandler(domain.ErrTaskNotFound, http.StatusNotFound, CodeTaskNotFound),
		messageHandler(domain.ErrNotFound, http.StatusNotFound, CodeNotFound),
		messageHandler(domain.ErrInvalidTransition, http.StatusConflict, CodeInvalidTransition),
		sentinelHandler(domain.ErrKeywordSearchNotSupported, http.StatusNotImplemented, CodeKeywordNotSupported),
		sentinelHandler(domain.ErrCompletionNotConfigured, http.StatusNotImplemented, CodeNotConfigured),
		sentinelHandler(domain.ErrEmbeddingQuotaExceeded, http.StatusTooManyRequests, CodeQuotaExceeded),
		sentinelHandler(domain.ErrRateLimited, http.StatusServiceUnavailable, CodeTransientBackend),
		sentinelHandler(domain.ErrTransientBackend, http.StatusServiceUnavailable, CodeTransientBackend),
		sentinelHandler(domain.ErrDataIntegrity, http.StatusInternalServerError, CodeDataIntegrity),
		sentinelHandler(domain.ErrConfiguration, http.StatusInternalServerError, CodeConfiguration),
	}
	return s
}

// Handler builds the router with the standard middleware stack.
func (s *Server) Handler(apiKeys []string) http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(s.logger))
	r.Use(BearerAuthMiddleware(apiKeys))
	r.Use(metrics.Middleware())
	s.Mount(r)
	return r
}

// Mount registers the API routes on r.
func (s *Server) Mount(r chi.Router) {
	r.Route("/collections", func(r chi.Router) {
		r.Get("/", s.ListCollections)
		r.Route("/{collection}", func(r chi.Router) {
			r.Delete("/", s.DeleteCollection)
			r.Post("/documents", s.AddDocument)
			r.Post("/summaries", s.AddSummary)
			r.Post("/search", s.Search)
		})
	})
	r.Get("/tasks/{id}", s.GetTask)
	r.Post("/tasks/{id}/retry", s.RetryTask)
	r.Post("/ask", s.Ask)
	r.Post("/ask/quick", s.AskQuick)
	r.Get("/usage", s.GetUsage)
	r.Get("/health", s.HealthCheck)
	r.Handle(metrics.MetricsPath, promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeBadRequest, "method not allowed")
	})
}

// AddDocument handles POST /collections/{collection}/documents.
func (s *Server) AddDocument(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if !s.decode(w, r, &req) {
		return
	}
	task, err := s.ingest.Enqueue(r.Context(), chi.URLParam(r, "collection"), req.Content)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, taskToResponse(task))
}

// AddSummary handles POST /collections/{collection}/summaries.
func (s *Server) AddSummary(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if !s.decode(w, r, &req) {
		return
	}
	task, err := s.ingest.EnqueueSummary(r.Context(), chi.URLParam(r, "collection"), req.Content)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, taskToResponse(task))
}

// GetTask handles GET /tasks/{id}.
func (s *Server) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	task, err := s.ingest.Task(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, taskToResponse(task))
}

// RetryTask handles POST /tasks/{id}/retry.
func (s *Server) RetryTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	task, err := s.ingest.Retry(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, taskToResponse(task))
}

// Search handles POST /collections/{collection}/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}
	ctx, usage := domain.NewContextWithUsage(r.Context())
	results, err := s.search.Search(ctx, query.Request{
		Collection: chi.URLParam(r, "collection"),
		Query:      req.Query,
		Limit:      req.Limit,
		Mode:       mode.Mode(req.Mode),
		MinScore:   req.MinScore,
	})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	setUsageHeaders(w, usage)
	writeJSON(w, http.StatusOK, searchResponse{Results: resultsToResponse(results)})
}

// ListCollections handles GET /collections.
func (s *Server) ListCollections(w http.ResponseWriter, r *http.Request) {
	cols, err := s.collections.List(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, collectionsToResponse(cols))
}

// DeleteCollection handles DELETE /collections/{collection}.
func (s *Server) DeleteCollection(w http.ResponseWriter, r *http.Request) {
	if err := s.collections.Delete(r.Context(), chi.URLParam(r, "collection")); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Ask handles POST /ask.
func (s *Server) Ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if !s.decode(w, r, &req) {
		return
	}
	if s.answer == nil {
		s.handleDomainError(w, domain.ErrCompletionNotConfigured)
		return
	}
	ctx, usage := domain.NewContextWithUsage(r.Context())
	ans, err := s.answer.Ask(ctx, answer.AskRequest{
		Collection: req.Collection,
		Context:    req.Context,
		Query:      req.Query,
		Schema:     req.Schema,
		Limit:      req.Limit,
	})
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	setUsageHeaders(w, usage)
	writeJSON(w, http.StatusOK, answerToResponse(ans))
}

// AskQuick handles POST /ask/quick.
func (s *Server) AskQuick(w http.ResponseWriter, r *http.Request) {
	var req quickRequest
	if !s.decode(w, r, &req) {
		return
	}
	if s.answer == nil {
		s.handleDomainError(w, domain.ErrCompletionNotConfigured)
		return
	}
	ctx, usage := domain.NewContextWithUsage(r.Context())
	ans, err := s.answer.Quick(ctx, req.Query)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	setUsageHeaders(w, usage)
	writeJSON(w, http.StatusOK, answerToResponse(ans))
}

// GetUsage handles GET /usage?period=day|month.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request) {
	period, err := domusage.ParsePeriod(r.URL.Query().Get("period"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	report, err := s.usage.Report(r.Context(), period)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, usageToResponse(report))
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for name, res := range report.Checks {
		checks[name] = string(res)
	}

	status := http.StatusOK
	if report.Status == health.Unhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthResponse{Status: string(report.Status), Checks: checks})
}

// decode reads a JSON body into v, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, CodeMalformedInput,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, CodeBadRequest, "request body is empty")
		default:
			writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid JSON body")
		}
		return false
	}
	return true
}

func taskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "task id must be a positive integer")
		return 0, false
	}
	return id, true
}

// setUsageHeaders reports the tokens a request spent on embedding and completion.
func setUsageHeaders(w http.ResponseWriter, usage *domain.TokenUsage) {
	if n := usage.EmbeddingTokens(); n > 0 {
		w.Header().Set("X-Embedding-Tokens", strconv.Itoa(n))
	}
	if n := usage.CompletionTokens(); n > 0 {
		w.Header().Set("X-Completion-Tokens", strconv.Itoa(n))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// sentinelHandler matches a sentinel and answers with its text only, hiding
// backend details from the client.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, sentinel.Error())
		return true
	}
}

// messageHandler matches a caller-facing sentinel and answers with the full
// error text, which only carries input details.
func messageHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, err.Error())
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	for _, h := range s.errorHandlers {
		if h(w, err) {
			s.logger.Warn("domain error", zap.String("kind", string(domain.KindOf(err))), zap.Error(err))
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternalError, "internal error")
}
