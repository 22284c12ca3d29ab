package models

import "time"

// ActiveProcess describes a running supervised child for snapshot purposes.
type ActiveProcess struct {
	// RunID is the short id of the run.
	RunID string `json:"run_id"`
	// TaskID is the short id of the task being worked on.
	TaskID string `json:"task_id"`
	// Agent is the logical agent name.
	Agent string `json:"agent"`
	// PID is the child process id.
	PID int `json:"pid"`
	// StartedAt is when the child was launched.
	StartedAt time.Time `json:"started_at"`
	// ProcessType distinguishes work/review/merge/reality/self-guided runs.
	ProcessType string `json:"process_type"`
}

// ClientStats reports per-client delivery counters in a snapshot.
type ClientStats struct {
	// DroppedChunks counts output chunks dropped due to backpressure.
	DroppedChunks int `json:"dropped_chunks,omitempty"`
}

// ConsumeSnapshot is the consistent board picture broadcast to IPC clients.
// The latest snapshot fully replaces a client's world.
type ConsumeSnapshot struct {
	// Ready lists tasks eligible to spawn this tick.
	Ready []*Task `json:"ready"`
	// InProgress lists consumed tasks with a live run.
	InProgress []*Task `json:"in_progress"`
	// Review lists tasks awaiting or under review.
	Review []*Task `json:"review"`
	// Blocked lists open tasks with unmet blockers.
	Blocked []*Task `json:"blocked"`
	// Human lists tasks carrying the needs-human label.
	Human []*Task `json:"human"`
	// Done lists recently finished tasks.
	Done []*Task `json:"done"`
	// Epics lists epics referenced by any bucketed task.
	Epics []*Epic `json:"epics,omitempty"`
	// Processes describes the active supervised children.
	Processes []*ActiveProcess `json:"processes,omitempty"`
	// Health maps agent name to its health row.
	Health map[string]*AgentHealth `json:"health,omitempty"`
	// AgentLimits maps agent name to its configured max concurrency.
	AgentLimits map[string]int `json:"agent_limits,omitempty"`
	// Clients maps client ids to delivery stats.
	Clients map[string]*ClientStats `json:"clients,omitempty"`
	// Paused is true while the daemon is not spawning new work.
	Paused bool `json:"paused"`
	// IntervalSeconds is the current scheduler tick interval.
	IntervalSeconds int `json:"interval_seconds"`
	// InstanceID identifies the running daemon.
	InstanceID string `json:"instance_id"`
	// StartedAt is when the daemon booted.
	StartedAt time.Time `json:"started_at"`
}
