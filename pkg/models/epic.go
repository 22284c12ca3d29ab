package models

import "time"

// MirrorStatus tracks the lifecycle of an epic's isolated working copy.
type MirrorStatus string

const (
	// MirrorNone indicates the epic has no mirror.
	MirrorNone MirrorStatus = "none"
	// MirrorPending indicates a mirror was requested but not yet built.
	MirrorPending MirrorStatus = "pending"
	// MirrorCreating indicates the mirror is being cloned.
	MirrorCreating MirrorStatus = "creating"
	// MirrorReady indicates the mirror is usable as a working directory.
	MirrorReady MirrorStatus = "ready"
	// MirrorMerging indicates a merge task is running against the mirror.
	MirrorMerging MirrorStatus = "merging"
	// MirrorMergeFailed indicates the merge-back failed and needs a human.
	MirrorMergeFailed MirrorStatus = "merge_failed"
	// MirrorMerged indicates the mirror's branch was merged back.
	MirrorMerged MirrorStatus = "merged"
	// MirrorCleaned indicates the mirror directory was removed.
	MirrorCleaned MirrorStatus = "cleaned"
)

// Valid returns true if the status is a known value.
func (s MirrorStatus) Valid() bool {
	switch s {
	case MirrorNone, MirrorPending, MirrorCreating, MirrorReady,
		MirrorMerging, MirrorMergeFailed, MirrorMerged, MirrorCleaned:
		return true
	default:
		return false
	}
}

// Workable returns true if tasks of the epic may run while the mirror
// is in this state.
func (s MirrorStatus) Workable() bool {
	switch s {
	case MirrorNone, MirrorReady, MirrorMerging, MirrorMerged, MirrorCleaned:
		return true
	default:
		return false
	}
}

// EpicStatus is the computed state of an epic, derived from its tasks and
// review/approval timestamps. It is never stored.
type EpicStatus string

const (
	EpicStatusPlanning         EpicStatus = "planning"
	EpicStatusInProgress       EpicStatus = "in_progress"
	EpicStatusReviewPending    EpicStatus = "review_pending"
	EpicStatusReviewed         EpicStatus = "reviewed"
	EpicStatusChangesRequested EpicStatus = "changes_requested"
	EpicStatusApproved         EpicStatus = "approved"
	EpicStatusPaused           EpicStatus = "paused"
)

// Epic groups tasks under a single shared plan and optional mirror.
type Epic struct {
	// ShortID is the public identifier (e-xxxxxx).
	ShortID string `json:"short_id"`
	// Title is the epic's name.
	Title string `json:"title"`
	// Description provides detail about the epic's goal.
	Description string `json:"description,omitempty"`
	// SelfGuided marks the epic for the self-guided iteration loop.
	SelfGuided bool `json:"self_guided,omitempty"`
	// PlanFilename is the plan file under the plans directory.
	PlanFilename string `json:"plan_filename,omitempty"`
	// PausedAt is when the epic was paused, if it is.
	PausedAt *time.Time `json:"paused_at,omitempty"`
	// ReviewedAt is when the epic's work was reviewed.
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	// ApprovedAt is when the epic was approved for merge.
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	// ApprovedBy records who approved the epic.
	ApprovedBy string `json:"approved_by,omitempty"`
	// ChangesRequestedAt is when changes were requested on review.
	ChangesRequestedAt *time.Time `json:"changes_requested_at,omitempty"`
	// MirrorPath is the isolated working copy directory, if one exists.
	MirrorPath string `json:"mirror_path,omitempty"`
	// MirrorStatus tracks the mirror lifecycle.
	MirrorStatus MirrorStatus `json:"mirror_status"`
	// MirrorBranch is the mirror's feature branch (epic/{short_id}).
	MirrorBranch string `json:"mirror_branch,omitempty"`
	// MirrorBaseCommit is the commit the mirror branched from.
	MirrorBaseCommit string `json:"mirror_base_commit,omitempty"`
	// MirrorCreatedAt is when the mirror became ready.
	MirrorCreatedAt *time.Time `json:"mirror_created_at,omitempty"`
	// CreatedAt is when the epic was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the epic was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// ComputedStatus derives the epic status from its stored timestamps and the
// epic's tasks. Precedence, top to bottom: paused, approved, changes
// requested (unless work is still active), reviewed, planning, in progress,
// review pending.
func (e *Epic) ComputedStatus(tasks []*Task) EpicStatus {
	anyActive := false
	allDone := len(tasks) > 0
	for _, t := range tasks {
		if t.Status == TaskStatusOpen || t.Status == TaskStatusInProgress {
			anyActive = true
		}
		if t.Status != TaskStatusDone {
			allDone = false
		}
	}

	switch {
	case e.PausedAt != nil:
		return EpicStatusPaused
	case e.ApprovedAt != nil:
		return EpicStatusApproved
	case e.ChangesRequestedAt != nil:
		if anyActive {
			return EpicStatusInProgress
		}
		return EpicStatusChangesRequested
	case e.ReviewedAt != nil:
		return EpicStatusReviewed
	case len(tasks) == 0:
		return EpicStatusPlanning
	case anyActive:
		return EpicStatusInProgress
	case allDone:
		return EpicStatusReviewPending
	default:
		return EpicStatusInProgress
	}
}
