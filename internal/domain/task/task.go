package task

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/memex/internal/domain"
)

// Status is the lifecycle state of a Task.
type Status string

// Task statuses. Queued is initial; Completed and Failed are terminal.
const (
	Queued     Status = "queued"
	Processing Status = "processing"
	Completed  Status = "completed"
	Failed     Status = "failed"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case Queued, Processing, Completed, Failed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is accepted from s.
func (s Status) IsTerminal() bool {
	return s == Completed || s == Failed
}

// CanTransition reports whether from → to is an allowed state change.
func CanTransition(from, to Status) bool {
	switch from {
	case Queued:
		return to == Processing
	case Processing:
		return to == Completed || to == Failed || to == Queued
	default:
		return false
	}
}

// Kind is the type of work a Task performs.
type Kind string

// Task kinds.
const (
	Ingest    Kind = "ingest"
	Summarize Kind = "summarize"
)

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	return k == Ingest || k == Summarize
}

// ErrorDetail is the failure summary attached to a Failed task.
type ErrorDetail struct {
	Kind    domain.ErrorKind `json:"kind"`
	Message string           `json:"message"`
}

// DetailOf builds an ErrorDetail from an error chain.
func DetailOf(err error) ErrorDetail {
	return ErrorDetail{Kind: domain.KindOf(err), Message: err.Error()}
}

// Output is the result payload of a Completed task.
type Output struct {
	Segments *int   `json:"segments,omitempty"`
	Summary  string `json:"summary,omitempty"`
}

// SegmentsOutput is the output of an ingest task.
func SegmentsOutput(n int) Output { return Output{Segments: &n} }

// SummaryOutput is the output of a summarize task.
func SummaryOutput(s string) Output { return Output{Summary: s} }

// Marshal encodes the output for storage.
func (o Output) Marshal() (string, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("marshal task output: %w", err)
	}
	return string(b), nil
}

// ParseOutput decodes a stored output; empty input yields a zero Output.
func ParseOutput(s string) (Output, error) {
	var o Output
	if s == "" {
		return o, nil
	}
	if err := json.Unmarshal([]byte(s), &o); err != nil {
		return Output{}, fmt.Errorf("parse task output: %w", err)
	}
	return o, nil
}

// Task tracks one document through the ingestion pipeline.
type Task struct {
	id         int64
	documentID uuid.UUID
	collection string
	kind       Kind
	status     Status
	err        *ErrorDetail
	retries    int
	output     Output
	createdAt  time.Time
	updatedAt  time.Time
}

// Reconstruct hydrates a Task from storage.
func Reconstruct(
	id int64, documentID uuid.UUID, collection string, kind Kind, status Status,
	errDetail *ErrorDetail, retries int, output Output, createdAt, updatedAt time.Time,
) Task {
	return Task{
		id: id, documentID: documentID, collection: collection, kind: kind,
		status: status, err: errDetail, retries: retries, output: output,
		createdAt: createdAt, updatedAt: updatedAt,
	}
}

// ID returns the task identifier (monotonic per store).
func (t *Task) ID() int64 { return t.id }

// DocumentID returns the document being processed.
func (t *Task) DocumentID() uuid.UUID { return t.documentID }

// Collection returns the owning collection name.
func (t *Task) Collection() string { return t.collection }

// Kind returns the task kind.
func (t *Task) Kind() Kind { return t.kind }

// Status returns the current status.
func (t *Task) Status() Status { return t.status }

// Error returns the failure detail, nil unless Failed.
func (t *Task) Error() *ErrorDetail { return t.err }

// Retries returns the number of stale requeues.
func (t *Task) Retries() int { return t.retries }

// Output returns the completion payload.
func (t *Task) Output() Output { return t.output }

// CreatedAt returns the enqueue timestamp.
func (t *Task) CreatedAt() time.Time { return t.createdAt }

// UpdatedAt returns the last transition timestamp.
func (t *Task) UpdatedAt() time.Time { return t.updatedAt }
