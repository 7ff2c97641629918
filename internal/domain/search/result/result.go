package result

import "github.com/google/uuid"

// Result is a single ranked segment returned by the query path.
type Result struct {
	segmentID  uuid.UUID
	documentID uuid.UUID
	taskID     int64
	position   int
	content    string
	score      float64
}

// New creates a search result.
func New(segmentID, documentID uuid.UUID, taskID int64, position int, content string, score float64) Result {
	return Result{
		segmentID: segmentID, documentID: documentID, taskID: taskID,
		position: position, content: content, score: score,
	}
}

// SegmentID returns the segment (vector entry) identifier.
func (r *Result) SegmentID() uuid.UUID { return r.segmentID }

// DocumentID returns the originating document.
func (r *Result) DocumentID() uuid.UUID { return r.documentID }

// TaskID returns the task that indexed the segment.
func (r *Result) TaskID() int64 { return r.taskID }

// Position returns the segment ordinal within its document.
func (r *Result) Position() int { return r.position }

// Content returns the segment text.
func (r *Result) Content() string { return r.content }

// Score returns the raw backend score (cosine similarity, or fused rank score in hybrid mode).
func (r *Result) Score() float64 { return r.score }
