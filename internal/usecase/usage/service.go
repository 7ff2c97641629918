package usage

import (
	"context"
	"fmt"
	"time"

	domusage "github.com/kailas-cloud/memex/internal/domain/usage"
)

// Service handles usage reporting.
type Service struct {
	br    BudgetReader
	tasks TaskCounter
	now   func() time.Time
}

// New creates a Service. br can be nil (unlimited mode).
func New(br BudgetReader, tasks TaskCounter) *Service {
	return &Service{br: br, tasks: tasks, now: time.Now}
}

// Report builds a usage report for the given period.
func (s *Service) Report(ctx context.Context, period domusage.Period) (domusage.Report, error) {
	now := s.now().UTC()
	var (
		start, end  time.Time
		used, limit int64
	)

	switch period {
	case domusage.PeriodMonth:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, 0)
		if s.br != nil {
			used, limit = s.br.MonthlyUsed(), s.br.MonthlyLimit()
		}
	default:
		start = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		end = start.Add(24 * time.Hour)
		period = domusage.PeriodDay
		if s.br != nil {
			used, limit = s.br.DailyUsed(), s.br.DailyLimit()
		}
	}

	counts, err := s.tasks.CountByStatus(ctx)
	if err != nil {
		return domusage.Report{}, fmt.Errorf("count tasks: %w", err)
	}

	return domusage.NewReport(period, start, end, used, limit, counts), nil
}
