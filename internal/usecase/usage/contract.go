package usage

import (
	"context"

	"github.com/kailas-cloud/memex/internal/domain/task"
)

// BudgetReader provides read-only access to token budget state.
type BudgetReader interface {
	DailyLimit() int64
	MonthlyLimit() int64
	DailyUsed() int64
	MonthlyUsed() int64
}

// TaskCounter reports the task backlog.
type TaskCounter interface {
	CountByStatus(ctx context.Context) (map[task.Status]int, error)
}
