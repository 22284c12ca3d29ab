package models

import "time"

// RunStatus represents the state of a supervised process execution.
type RunStatus string

const (
	// RunStatusRunning indicates the child process is alive.
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted indicates the child exited successfully.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed indicates the child exited with an error.
	RunStatusFailed RunStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusRunning, RunStatusCompleted, RunStatusFailed:
		return true
	default:
		return false
	}
}

// CompletionType classifies how a supervised process finished.
type CompletionType string

const (
	// CompletionSuccess indicates exit code 0.
	CompletionSuccess CompletionType = "success"
	// CompletionPermissionBlocked indicates the agent hit a permission wall.
	// Not retryable; the task must be surfaced for human attention.
	CompletionPermissionBlocked CompletionType = "permission_blocked"
	// CompletionNetworkError indicates a transient network or timeout failure.
	CompletionNetworkError CompletionType = "network_error"
	// CompletionFailed indicates any other non-zero exit.
	CompletionFailed CompletionType = "failed"
)

// FailureClass maps a completion type onto a backoff policy.
func (c CompletionType) FailureClass() FailureClass {
	switch c {
	case CompletionNetworkError:
		return FailureNetwork
	case CompletionPermissionBlocked:
		return FailurePermission
	default:
		return FailureCrash
	}
}

// Run is one supervised child-process execution attached to a task.
type Run struct {
	// ShortID is the public identifier (r-xxxxxx).
	ShortID string `json:"short_id"`
	// TaskID is the short id of the task the run worked on.
	TaskID string `json:"task_id"`
	// Agent is the logical agent name that ran.
	Agent string `json:"agent"`
	// Status is the current state of the run.
	Status RunStatus `json:"status"`
	// PID is the child process id while running.
	PID int `json:"pid,omitempty"`
	// ExitCode is the child's exit code once finished (-1 if killed).
	ExitCode int `json:"exit_code"`
	// SessionID is the agent session id captured from stream JSON.
	SessionID string `json:"session_id,omitempty"`
	// ErrorType classifies a failed run.
	ErrorType CompletionType `json:"error_type,omitempty"`
	// Model is the concrete model the agent ran with.
	Model string `json:"model,omitempty"`
	// OutputPath is where stdout/stderr were captured.
	OutputPath string `json:"output_path,omitempty"`
	// CostUSD accumulates the cost reported by the agent's stream.
	CostUSD float64 `json:"cost_usd,omitempty"`
	// StartedAt is when the child was launched.
	StartedAt time.Time `json:"started_at"`
	// EndedAt is when the child exited, if it has.
	EndedAt *time.Time `json:"ended_at,omitempty"`
	// DurationSeconds is the wall-clock runtime once finished.
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}
