package consume

import (
	"sort"

	"github.com/fuelsh/fuel/pkg/models"
)

// resolveReady computes the ready set: open, unconsumed tasks whose blockers
// are all terminal, that no rule holds back. Order is priority, then age,
// then short id, so two daemons with the same board pick the same task first.
//
// Rules beyond the basics:
//   - a needs-human label parks the task for a person
//   - tasks of a paused epic wait
//   - tasks of an epic whose mirror is building (pending/creating) or
//     merge-failed wait until the mirror is workable
//   - standalone tasks wait while any mirror is merging back, so the merge
//     has the primary checkout to itself
func resolveReady(tasks []*models.Task, epics map[string]*models.Epic) []*models.Task {
	byID := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ShortID] = t
	}

	anyMerging := false
	for _, e := range epics {
		if e.MirrorStatus == models.MirrorMerging {
			anyMerging = true
			break
		}
	}

	var ready []*models.Task
	for _, t := range tasks {
		if t.Status != models.TaskStatusOpen || t.Consumed {
			continue
		}
		if t.HasLabel(models.LabelNeedsHuman) {
			continue
		}
		if !blockersCleared(t, byID) {
			continue
		}
		if t.EpicID != "" {
			e := epics[t.EpicID]
			if e == nil {
				continue
			}
			if e.PausedAt != nil {
				continue
			}
			if !e.MirrorStatus.Workable() {
				continue
			}
		} else if anyMerging && t.Type != models.TaskTypeMerge {
			continue
		}
		ready = append(ready, t)
	}

	sort.SliceStable(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ShortID < b.ShortID
	})
	return ready
}

// blockersCleared returns true when every blocker is terminal. A blocker id
// that no longer resolves does not block; deleting a task releases its
// dependents.
func blockersCleared(t *models.Task, byID map[string]*models.Task) bool {
	for _, id := range t.BlockedBy {
		blocker, ok := byID[id]
		if !ok {
			continue
		}
		if !blocker.Status.Terminal() {
			return false
		}
	}
	return true
}

// bucketTasks splits the board's tasks into the snapshot buckets.
func bucketTasks(tasks []*models.Task, epics map[string]*models.Epic, doneLimit int) (ready, inProgress, review, blocked, human, done []*models.Task) {
	readySet := make(map[string]bool)
	for _, t := range resolveReady(tasks, epics) {
		readySet[t.ShortID] = true
		ready = append(ready, t)
	}

	byID := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ShortID] = t
	}

	for _, t := range tasks {
		switch {
		case readySet[t.ShortID]:
		case t.HasLabel(models.LabelNeedsHuman) && !t.Status.Terminal():
			human = append(human, t)
		case t.Status == models.TaskStatusInProgress:
			inProgress = append(inProgress, t)
		case t.Status == models.TaskStatusReview:
			review = append(review, t)
		case t.Status == models.TaskStatusOpen:
			blocked = append(blocked, t)
		case t.Status == models.TaskStatusDone:
			done = append(done, t)
		}
	}

	sort.Slice(done, func(i, j int) bool {
		a, b := done[i].CompletedAt, done[j].CompletedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	if doneLimit > 0 && len(done) > doneLimit {
		done = done[:doneLimit]
	}
	return ready, inProgress, review, blocked, human, done
}
