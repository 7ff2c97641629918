package chi

import (
	"context"

	domcol "github.com/kailas-cloud/memex/internal/domain/collection"
	"github.com/kailas-cloud/memex/internal/domain/search/result"
	domtask "github.com/kailas-cloud/memex/internal/domain/task"
	domusage "github.com/kailas-cloud/memex/internal/domain/usage"
	"github.com/kailas-cloud/memex/internal/usecase/answer"
	"github.com/kailas-cloud/memex/internal/usecase/health"
	"github.com/kailas-cloud/memex/internal/usecase/query"
)

// Ingester accepts documents and reports task state.
type Ingester interface {
	Enqueue(ctx context.Context, collection, content string) (domtask.Task, error)
	EnqueueSummary(ctx context.Context, collection, content string) (domtask.Task, error)
	Task(ctx context.Context, id int64) (domtask.Task, error)
	Retry(ctx context.Context, id int64) (domtask.Task, error)
}

// Searcher runs ranked retrieval.
type Searcher interface {
	Search(ctx context.Context, req query.Request) ([]result.Result, error)
}

// Answerer generates completions.
type Answerer interface {
	Ask(ctx context.Context, req answer.AskRequest) (answer.Answer, error)
	Quick(ctx context.Context, question string) (answer.Answer, error)
}

// Collections lists and deletes collections.
type Collections interface {
	List(ctx context.Context) ([]domcol.Collection, error)
	Delete(ctx context.Context, name string) error
}

// UsageReporter reports token budget state.
type UsageReporter interface {
	Report(ctx context.Context, period domusage.Period) (domusage.Report, error)
}

// HealthChecker aggregates component health.
type HealthChecker interface {
	Check(ctx context.Context) health.Report
}
