// Package usage describes token consumption reports.
package usage

import (
	"time"

	"github.com/kailas-cloud/memex/internal/domain"
	"github.com/kailas-cloud/memex/internal/domain/task"
)

// Period is the aggregation granularity.
type Period string

// Aggregation periods.
const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
)

// ParsePeriod maps the empty string to PeriodDay and rejects unknown values.
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "", PeriodDay:
		return PeriodDay, nil
	case PeriodMonth:
		return PeriodMonth, nil
	default:
		return "", domain.Malformed("unknown usage period %q", s)
	}
}

// Report is the token budget state for one period plus the task backlog.
type Report struct {
	period    Period
	start     time.Time
	end       time.Time
	used      int64
	limit     int64
	remaining int64
	tasks     map[task.Status]int
}

// NewReport creates a usage report. A zero limit means unlimited and reports
// remaining as -1.
func NewReport(period Period, start, end time.Time, used, limit int64, tasks map[task.Status]int) Report {
	remaining := int64(-1)
	if limit > 0 {
		remaining = max(limit-used, 0)
	}
	return Report{
		period: period, start: start, end: end,
		used: used, limit: limit, remaining: remaining,
		tasks: tasks,
	}
}

// Period returns the aggregation granularity.
func (r *Report) Period() Period { return r.period }

// Start returns the period start.
func (r *Report) Start() time.Time { return r.start }

// End returns the period end, which is also when the budget resets.
func (r *Report) End() time.Time { return r.end }

// TokensUsed returns tokens consumed in the period.
func (r *Report) TokensUsed() int64 { return r.used }

// TokensLimit returns the token cap, 0 when unlimited.
func (r *Report) TokensLimit() int64 { return r.limit }

// TokensRemaining returns tokens left, -1 when unlimited.
func (r *Report) TokensRemaining() int64 { return r.remaining }

// Exhausted reports whether a limited budget is spent.
func (r *Report) Exhausted() bool { return r.limit > 0 && r.remaining == 0 }

// Tasks returns task counts by status.
func (r *Report) Tasks() map[task.Status]int { return r.tasks }
