package models

import "time"

// ReviewStatus represents the state of a review attempt.
type ReviewStatus string

const (
	// ReviewStatusPending indicates the reviewer has not finished.
	ReviewStatusPending ReviewStatus = "pending"
	// ReviewStatusCompleted indicates the reviewer produced a verdict.
	ReviewStatusCompleted ReviewStatus = "completed"
)

// Review is one review attempt of a task.
type Review struct {
	// ShortID is the public identifier (v-xxxxxx).
	ShortID string `json:"short_id"`
	// TaskID is the short id of the task under review.
	TaskID string `json:"task_id"`
	// RunID is the short id of the reviewer's run.
	RunID string `json:"run_id,omitempty"`
	// Agent is the logical agent that performed the review.
	Agent string `json:"agent"`
	// Status is the current state of the review.
	Status ReviewStatus `json:"status"`
	// Issues lists issue codes found by the reviewer. Empty means pass.
	Issues []string `json:"issues,omitempty"`
	// StartedAt is when the review began.
	StartedAt time.Time `json:"started_at"`
	// CompletedAt is when the verdict was recorded.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Passed returns true for a completed review with no issues.
func (r *Review) Passed() bool {
	return r.Status == ReviewStatusCompleted && len(r.Issues) == 0
}
