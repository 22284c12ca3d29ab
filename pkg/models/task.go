package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusOpen indicates the task is waiting to be picked up.
	TaskStatusOpen TaskStatus = "open"
	// TaskStatusInProgress indicates an agent is working on the task.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusReview indicates the task's work is awaiting review.
	TaskStatusReview TaskStatus = "review"
	// TaskStatusDone indicates the task completed successfully.
	TaskStatusDone TaskStatus = "done"
	// TaskStatusCancelled indicates the task was abandoned.
	TaskStatusCancelled TaskStatus = "cancelled"
	// TaskStatusSomeday indicates the task is parked outside the active queue.
	TaskStatusSomeday TaskStatus = "someday"
	// TaskStatusPaused indicates the task is temporarily held.
	TaskStatusPaused TaskStatus = "paused"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusOpen, TaskStatusInProgress, TaskStatusReview,
		TaskStatusDone, TaskStatusCancelled, TaskStatusSomeday, TaskStatusPaused:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusDone || s == TaskStatusCancelled
}

// CanTransition returns true if the status machine allows moving from s to next.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case TaskStatusOpen:
		return next == TaskStatusInProgress || next == TaskStatusSomeday ||
			next == TaskStatusPaused || next == TaskStatusCancelled || next == TaskStatusDone
	case TaskStatusInProgress:
		return next == TaskStatusReview || next == TaskStatusDone ||
			next == TaskStatusCancelled || next == TaskStatusOpen
	case TaskStatusReview:
		return next == TaskStatusDone || next == TaskStatusOpen
	case TaskStatusSomeday:
		return next == TaskStatusOpen || next == TaskStatusCancelled
	case TaskStatusPaused:
		return next == TaskStatusOpen
	default:
		return false
	}
}

// TaskType categorizes a task.
type TaskType string

const (
	TaskTypeTask    TaskType = "task"
	TaskTypeBug     TaskType = "bug"
	TaskTypeFeature TaskType = "feature"
	TaskTypeChore   TaskType = "chore"
	TaskTypeEpic    TaskType = "epic"
	TaskTypeMerge   TaskType = "merge"
	TaskTypeReality TaskType = "reality"
	TaskTypeReview  TaskType = "review"
)

// Valid returns true if the type is a known value.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeTask, TaskTypeBug, TaskTypeFeature, TaskTypeChore,
		TaskTypeEpic, TaskTypeMerge, TaskTypeReality, TaskTypeReview:
		return true
	default:
		return false
	}
}

// Complexity estimates how much agent capability a task needs.
// The consume daemon routes tasks to agents by complexity.
type Complexity string

const (
	ComplexityTrivial  Complexity = "trivial"
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Valid returns true if the complexity is a known value.
func (c Complexity) Valid() bool {
	switch c {
	case ComplexityTrivial, ComplexitySimple, ComplexityModerate, ComplexityComplex:
		return true
	default:
		return false
	}
}

// Semantic labels recognized by the daemon.
const (
	// LabelNeedsHuman marks a task that requires human intervention.
	// Tasks carrying this label are never picked up by the resolver.
	LabelNeedsHuman = "needs-human"
	// LabelAutoClosed marks a task that was closed by the daemon without review.
	LabelAutoClosed = "auto-closed"
)

// Task priorities range 0..4; 0 is critical.
const (
	PriorityCritical = 0
	PriorityLowest   = 4
)

// Task represents a unit of work in the queue.
type Task struct {
	// ShortID is the public identifier (f-xxxxxx).
	ShortID string `json:"short_id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// Type categorizes the task.
	Type TaskType `json:"type"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Priority orders ready tasks; 0 is critical, 4 is lowest.
	Priority int `json:"priority"`
	// Complexity drives agent routing.
	Complexity Complexity `json:"complexity"`
	// Labels is the set of labels attached to the task.
	Labels []string `json:"labels,omitempty"`
	// BlockedBy lists short ids of tasks that must finish first.
	BlockedBy []string `json:"blocked_by,omitempty"`
	// EpicID is the short id of the owning epic, if any.
	EpicID string `json:"epic_id,omitempty"`
	// CommitHash records the commit produced by the task, if any.
	CommitHash string `json:"commit_hash,omitempty"`
	// Reason records why the task reached its current state.
	Reason string `json:"reason,omitempty"`
	// Consumed is true while a supervised process is running on the task.
	Consumed bool `json:"consumed,omitempty"`
	// ConsumedAt is when the task was last consumed.
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	// ConsumePID is the pid of the process consuming the task.
	ConsumePID int `json:"consume_pid,omitempty"`
	// LastReviewIssues lists issue codes from the most recent failed review.
	LastReviewIssues []string `json:"last_review_issues,omitempty"`
	// SelfGuidedIteration counts completed self-guided iterations.
	SelfGuidedIteration int `json:"selfguided_iteration,omitempty"`
	// SelfGuidedStuckCount counts consecutive failed self-guided iterations.
	SelfGuidedStuckCount int `json:"selfguided_stuck_count,omitempty"`
	// RetryCount is the number of times this task has been retried.
	RetryCount int `json:"retry_count,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the task was last modified.
	UpdatedAt time.Time `json:"updated_at"`
	// CompletedAt is when the task reached a terminal state, if applicable.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// HasLabel returns true if the task carries the given label.
func (t *Task) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// AddLabel attaches a label if not already present.
func (t *Task) AddLabel(label string) {
	if !t.HasLabel(label) {
		t.Labels = append(t.Labels, label)
	}
}

// RemoveLabel detaches a label if present.
func (t *Task) RemoveLabel(label string) {
	out := t.Labels[:0]
	for _, l := range t.Labels {
		if l != label {
			out = append(out, l)
		}
	}
	t.Labels = out
}

// BlockedByTask returns true if the task lists the given short id as a blocker.
func (t *Task) BlockedByTask(shortID string) bool {
	for _, b := range t.BlockedBy {
		if b == shortID {
			return true
		}
	}
	return false
}
