package models

import "time"

// FailureClass groups completion failures for backoff purposes.
type FailureClass string

const (
	// FailureNetwork covers transient network and timeout failures.
	FailureNetwork FailureClass = "network"
	// FailureCrash covers non-zero exits without a more specific class.
	FailureCrash FailureClass = "crash"
	// FailurePermission covers permission-denied failures. Never retried.
	FailurePermission FailureClass = "permission"
)

// HealthStatus summarizes an agent's recent reliability.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthWarning   HealthStatus = "warning"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// AgentHealth tracks per-agent success/failure counters and backoff.
type AgentHealth struct {
	// Agent is the logical agent name.
	Agent string `json:"agent"`
	// LastSuccessAt is the time of the most recent successful run.
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	// LastFailureAt is the time of the most recent failed run.
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	// ConsecutiveFailures is the current failure streak.
	ConsecutiveFailures int `json:"consecutive_failures"`
	// BackoffUntil delays the next spawn of this agent, if set.
	BackoffUntil *time.Time `json:"backoff_until,omitempty"`
	// TotalRuns counts all completed runs.
	TotalRuns int `json:"total_runs"`
	// TotalSuccesses counts successful runs.
	TotalSuccesses int `json:"total_successes"`
}

// Status derives the health bucket from the failure streak.
func (h *AgentHealth) Status() HealthStatus {
	switch {
	case h.ConsecutiveFailures == 0:
		return HealthHealthy
	case h.ConsecutiveFailures == 1:
		return HealthWarning
	case h.ConsecutiveFailures <= 4:
		return HealthDegraded
	default:
		return HealthUnhealthy
	}
}

// IsAvailable returns true if the agent is not backing off at the given time.
func (h *AgentHealth) IsAvailable(now time.Time) bool {
	return h.BackoffUntil == nil || !h.BackoffUntil.After(now)
}

// SuccessRate returns the fraction of runs that succeeded, or 0 with no runs.
func (h *AgentHealth) SuccessRate() float64 {
	if h.TotalRuns == 0 {
		return 0
	}
	return float64(h.TotalSuccesses) / float64(h.TotalRuns)
}
