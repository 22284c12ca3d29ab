// Package ipc implements the daemon's unix-socket protocol: newline-delimited
// JSON messages, commands from clients, events from the daemon. The daemon
// pushes full snapshots; clients never need to reconcile deltas.
package ipc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fuelsh/fuel/pkg/models"
)

// Command types sent by clients.
const (
	CmdStop            = "stop"
	CmdPause           = "pause"
	CmdResume          = "resume"
	CmdReloadConfig    = "reload_config"
	CmdSetInterval     = "set_interval"
	CmdRequestSnapshot = "request_snapshot"
	CmdTaskStart       = "task_start"
	CmdTaskReopen      = "task_reopen"
	CmdTaskDone        = "task_done"
	CmdTaskCreate      = "task_create"
	CmdDependencyAdd   = "dependency_add"
	CmdHealthReset     = "health_reset"
)

// Event types pushed by the daemon.
const (
	EventHello              = "hello"
	EventSnapshot           = "snapshot"
	EventStatusLine         = "status_line"
	EventTaskSpawned        = "task_spawned"
	EventTaskCompleted      = "task_completed"
	EventHealthChange       = "health_change"
	EventOutputChunk        = "output_chunk"
	EventConfigReloaded     = "config_reloaded"
	EventError              = "error"
	EventReviewCompleted    = "review_completed"
	EventTaskCreateResponse = "task_create_response"
)

// Command is one client request. Fields beyond Type apply per command type.
type Command struct {
	// Type selects the operation.
	Type string `json:"type"`
	// RequestID, when set, is echoed on the command's response event.
	RequestID string `json:"request_id,omitempty"`
	// TaskID targets task commands; accepts full or partial ids.
	TaskID string `json:"task_id,omitempty"`
	// BlockedBy is the blocker id for dependency_add.
	BlockedBy string `json:"blocked_by,omitempty"`
	// Agent targets health_reset (empty resets every agent) and optionally
	// overrides routing for task_start.
	Agent string `json:"agent,omitempty"`
	// IntervalSeconds is the new tick interval for set_interval.
	IntervalSeconds int `json:"interval_seconds,omitempty"`
	// Reason annotates task_done.
	Reason string `json:"reason,omitempty"`
	// CommitHash records the produced commit for task_done.
	CommitHash string `json:"commit_hash,omitempty"`
	// Graceful controls stop behavior; nil or true waits for children.
	Graceful *bool `json:"graceful,omitempty"`
	// Task carries the new task for task_create.
	Task *models.Task `json:"task,omitempty"`
}

// Event is one daemon-to-client message.
type Event struct {
	// Type selects the payload.
	Type string `json:"type"`
	// Timestamp is when the daemon emitted the event.
	Timestamp time.Time `json:"timestamp"`
	// InstanceID identifies the daemon instance.
	InstanceID string `json:"instance_id"`
	// RequestID echoes the triggering command's request id, if any.
	RequestID string `json:"request_id,omitempty"`

	// Snapshot is set for snapshot events.
	Snapshot *models.ConsumeSnapshot `json:"snapshot,omitempty"`
	// StatusLine is a one-line activity summary.
	StatusLine string `json:"status_line,omitempty"`
	// TaskID names the task for task-scoped events.
	TaskID string `json:"task_id,omitempty"`
	// RunID names the run for run-scoped events.
	RunID string `json:"run_id,omitempty"`
	// Agent names the agent for spawn/health events.
	Agent string `json:"agent,omitempty"`
	// Completion classifies a finished run.
	Completion string `json:"completion,omitempty"`
	// HealthFrom and HealthTo describe a health transition.
	HealthFrom string `json:"health_from,omitempty"`
	HealthTo   string `json:"health_to,omitempty"`
	// Chunk is a raw output line for output_chunk events.
	Chunk string `json:"chunk,omitempty"`
	// ReviewPassed reports the verdict for review_completed events.
	ReviewPassed *bool `json:"review_passed,omitempty"`
	// Issues lists review issues for review_completed events.
	Issues []string `json:"issues,omitempty"`
	// Error carries a human-readable failure message.
	Error string `json:"error,omitempty"`
	// Task is the created task for task_create_response events.
	Task *models.Task `json:"task,omitempty"`
}

// NewEvent stamps an event with the type, time, and daemon identity.
func NewEvent(eventType, instanceID string) *Event {
	return &Event{
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		InstanceID: instanceID,
	}
}

// Encode renders a message followed by a newline.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode ipc message: %w", err)
	}
	return append(data, '\n'), nil
}

// DecodeCommand parses one line into a Command.
func DecodeCommand(line []byte) (*Command, error) {
	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		return nil, fmt.Errorf("decode ipc command: %w", err)
	}
	if cmd.Type == "" {
		return nil, fmt.Errorf("ipc command missing type")
	}
	return &cmd, nil
}

// DecodeEvent parses one line into an Event.
func DecodeEvent(line []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, fmt.Errorf("decode ipc event: %w", err)
	}
	return &ev, nil
}
