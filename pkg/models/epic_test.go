package models

import (
	"testing"
	"time"
)

func TestComputedStatus(t *testing.T) {
	now := time.Now().UTC()
	open := &Task{Status: TaskStatusOpen}
	done := &Task{Status: TaskStatusDone}
	inReview := &Task{Status: TaskStatusReview}

	tests := []struct {
		name  string
		epic  Epic
		tasks []*Task
		want  EpicStatus
	}{
		{"no tasks", Epic{}, nil, EpicStatusPlanning},
		{"active work", Epic{}, []*Task{open, done}, EpicStatusInProgress},
		{"all done", Epic{}, []*Task{done, done}, EpicStatusReviewPending},
		{"review only", Epic{}, []*Task{inReview}, EpicStatusInProgress},
		{"reviewed", Epic{ReviewedAt: &now}, []*Task{done}, EpicStatusReviewed},
		{"approved", Epic{ApprovedAt: &now, ReviewedAt: &now}, []*Task{done}, EpicStatusApproved},
		{"changes requested idle", Epic{ChangesRequestedAt: &now}, []*Task{done}, EpicStatusChangesRequested},
		{"changes requested active", Epic{ChangesRequestedAt: &now}, []*Task{open}, EpicStatusInProgress},
		// Paused wins over everything else.
		{"paused beats approved", Epic{PausedAt: &now, ApprovedAt: &now}, []*Task{open}, EpicStatusPaused},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.epic.ComputedStatus(tt.tasks); got != tt.want {
				t.Errorf("ComputedStatus() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMirrorStatusWorkable(t *testing.T) {
	workable := []MirrorStatus{MirrorNone, MirrorReady, MirrorMerging, MirrorMerged, MirrorCleaned}
	for _, s := range workable {
		if !s.Workable() {
			t.Errorf("%s should be workable", s)
		}
	}
	for _, s := range []MirrorStatus{MirrorPending, MirrorCreating, MirrorMergeFailed} {
		if s.Workable() {
			t.Errorf("%s should not be workable", s)
		}
	}
}
