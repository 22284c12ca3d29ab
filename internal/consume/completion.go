package consume

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fuelsh/fuel/internal/health"
	"github.com/fuelsh/fuel/internal/ipc"
	"github.com/fuelsh/fuel/internal/plan"
	"github.com/fuelsh/fuel/internal/review"
	"github.com/fuelsh/fuel/internal/supervise"
	"github.com/fuelsh/fuel/pkg/models"
)

// handleCompletion is the supervisor's completion callback. It records
// health, releases the task, and applies the per-kind outcome rules.
func (d *Daemon) handleCompletion(res *supervise.CompletionResult) {
	if res.Type == models.CompletionSuccess {
		d.recordHealth(d.health.RecordSuccess(res.Agent))
	} else {
		d.recordHealth(d.health.RecordFailure(res.Agent, res.Type.FailureClass()))
	}

	t, err := d.store.Tasks.Get(res.TaskID)
	if err != nil {
		d.log.Error("completion for unknown task",
			zap.String("task", res.TaskID), zap.Error(err))
		return
	}
	t.Consumed = false
	t.ConsumedAt = nil
	t.ConsumePID = 0

	switch res.ProcessType {
	case kindReview:
		err = d.completeReview(t, res)
	case kindMerge:
		err = d.completeMerge(t, res)
	case kindReality:
		err = d.completeReality(t, res)
	case kindSelfGuided:
		err = d.completeSelfGuided(t, res)
	default:
		err = d.completeWork(t, res)
	}
	if err != nil {
		d.storeFailure(err)
		return
	}

	ev := ipc.NewEvent(ipc.EventTaskCompleted, d.instanceID)
	ev.TaskID = t.ShortID
	ev.RunID = res.Run.ShortID
	ev.Agent = res.Agent
	ev.Completion = string(res.Type)
	d.server.Broadcast(ev)
	d.publishSnapshot(false)
	d.wakeLoop()
}

// completeWork applies the outcome of a regular work run.
func (d *Daemon) completeWork(t *models.Task, res *supervise.CompletionResult) error {
	if res.Type != models.CompletionSuccess {
		return d.failTask(t, res)
	}

	t.Reason = truncate(res.ResultText, 2000)
	t.RetryCount = 0
	commit := d.headCommit(t)

	if d.config().ReviewEnabled() && d.reviewable(t) {
		t.Status = models.TaskStatusReview
		if commit != "" {
			t.CommitHash = commit
		}
		return d.store.Tasks.Update(t)
	}

	// Review disabled: close immediately and mark how it was closed.
	now := time.Now().UTC()
	t.Status = models.TaskStatusDone
	t.CompletedAt = &now
	t.AddLabel(models.LabelAutoClosed)
	if commit != "" {
		t.CommitHash = commit
	}
	if err := d.store.Tasks.Update(t); err != nil {
		return err
	}
	d.appendEpicProgress(t, "completed (auto-closed)")
	return nil
}

// reviewable reports whether this task goes through review. Reopened
// auto-closed tasks skip re-review unless configured otherwise.
func (d *Daemon) reviewable(t *models.Task) bool {
	if t.HasLabel(models.LabelAutoClosed) && !d.config().RereviewAutoClosed {
		return false
	}
	return true
}

// completeReview parses the reviewer's verdict and moves the task on.
func (d *Daemon) completeReview(t *models.Task, res *supervise.CompletionResult) error {
	if res.Type != models.CompletionSuccess {
		if err := d.reviews.Abandon(t.ShortID); err != nil {
			return err
		}
		// The reviewer crashed, not the work. Reopen the original so the
		// next completion re-enters review; transient classes back off
		// via health.
		t.Status = models.TaskStatusOpen
		return d.store.Tasks.Update(t)
	}

	verdict, err := review.ParseVerdict(res.ResultText)
	if err != nil {
		d.log.Warn("reviewer produced no verdict",
			zap.String("task", t.ShortID), zap.String("run", res.Run.ShortID))
		if aerr := d.reviews.Abandon(t.ShortID); aerr != nil {
			return aerr
		}
		return d.store.Tasks.Update(t)
	}

	rev, err := d.reviews.Complete(t.ShortID, res.Run.ShortID, verdict)
	if err != nil {
		return err
	}

	if verdict.Passed {
		now := time.Now().UTC()
		t.Status = models.TaskStatusDone
		t.CompletedAt = &now
		t.LastReviewIssues = nil
		t.RetryCount = 0
	} else {
		t.Status = models.TaskStatusOpen
		t.LastReviewIssues = rev.Issues
	}
	if err := d.store.Tasks.Update(t); err != nil {
		return err
	}

	for _, fu := range verdict.FollowUpTasks {
		follow := &models.Task{
			Title:       fu.Title,
			Description: fu.Description,
			Type:        models.TaskTypeTask,
			Complexity:  models.Complexity(fu.Complexity),
			EpicID:      t.EpicID,
		}
		if !follow.Complexity.Valid() {
			follow.Complexity = models.ComplexitySimple
		}
		if err := d.tasks.Create(follow); err != nil {
			d.log.Warn("create follow-up task", zap.Error(err))
		}
	}

	if verdict.Passed {
		d.appendEpicProgress(t, "completed and passed review")
		d.maybeScheduleReality(t)
	}

	ev := ipc.NewEvent(ipc.EventReviewCompleted, d.instanceID)
	ev.TaskID = t.ShortID
	passed := verdict.Passed
	ev.ReviewPassed = &passed
	ev.Issues = rev.Issues
	d.server.Broadcast(ev)
	return nil
}

// completeMerge finalizes an epic merge run by checking the primary tree.
func (d *Daemon) completeMerge(t *models.Task, res *supervise.CompletionResult) error {
	epic, err := d.store.Epics.Get(t.EpicID)
	if err != nil {
		return err
	}

	primary := d.gitFor(d.ws.Root)
	conflicted, gerr := primary.HasConflicts()
	if res.Type != models.CompletionSuccess || gerr != nil || conflicted {
		if err := d.mirrors.FailMerge(epic); err != nil {
			return err
		}
		// A failed merge needs a human. Pause the epic and drop the merge
		// task; retry_merge recreates it once someone untangles the tree.
		now := time.Now().UTC()
		epic.PausedAt = &now
		if err := d.store.Epics.Update(epic); err != nil {
			return err
		}
		return d.tasks.Delete(t.ShortID)
	}

	if err := d.mirrors.CompleteMerge(epic); err != nil {
		return err
	}
	if err := d.mirrors.Cleanup(epic); err != nil {
		d.log.Warn("mirror cleanup", zap.String("epic", epic.ShortID), zap.Error(err))
	}

	now := time.Now().UTC()
	t.Status = models.TaskStatusDone
	t.CompletedAt = &now
	if commit, err := primary.HeadCommit(); err == nil {
		t.CommitHash = commit
	}
	if err := d.store.Tasks.Update(t); err != nil {
		return err
	}
	d.maybeScheduleReality(t)
	return nil
}

// completeReality closes the reality-refresh task.
func (d *Daemon) completeReality(t *models.Task, res *supervise.CompletionResult) error {
	if res.Type != models.CompletionSuccess {
		return d.failTask(t, res)
	}
	now := time.Now().UTC()
	t.Status = models.TaskStatusDone
	t.CompletedAt = &now
	return d.store.Tasks.Update(t)
}

// completeSelfGuided advances or finishes the self-guided loop.
func (d *Daemon) completeSelfGuided(t *models.Task, res *supervise.CompletionResult) error {
	if res.Type != models.CompletionSuccess {
		t.SelfGuidedStuckCount++
		if t.SelfGuidedStuckCount >= selfGuidedStuckLimit {
			if err := d.store.Tasks.Update(t); err != nil {
				return err
			}
			d.parkForHuman(t, fmt.Sprintf(
				"self-guided loop failed %d consecutive iterations", t.SelfGuidedStuckCount))
			return nil
		}
		return d.failTask(t, res)
	}

	t.SelfGuidedIteration++
	t.SelfGuidedStuckCount = 0
	t.RetryCount = 0

	done := strings.Contains(res.ResultText, selfGuidedCompleteMarker) ||
		t.SelfGuidedIteration >= maxSelfGuidedIterations
	if done {
		now := time.Now().UTC()
		t.Status = models.TaskStatusDone
		t.CompletedAt = &now
		t.Reason = truncate(res.ResultText, 2000)
		if err := d.store.Tasks.Update(t); err != nil {
			return err
		}
		d.appendEpicProgress(t, fmt.Sprintf(
			"self-guided loop finished after %d iterations", t.SelfGuidedIteration))
		return nil
	}
	// Stay open; the next tick runs the next iteration.
	t.Status = models.TaskStatusOpen
	return d.store.Tasks.Update(t)
}

// failTask applies the shared failure rules: permission walls go straight to
// a human, transient classes retry up to the configured cap, and exhausted
// retries park the task.
func (d *Daemon) failTask(t *models.Task, res *supervise.CompletionResult) error {
	t.Status = models.TaskStatusOpen
	if res.Type == models.CompletionPermissionBlocked {
		if err := d.store.Tasks.Update(t); err != nil {
			return err
		}
		d.parkForHuman(t, "agent "+res.Agent+" hit a permission wall: "+truncate(res.StderrTail, 300))
		return nil
	}

	t.RetryCount++
	if t.RetryCount >= d.config().MaxRetries {
		if err := d.store.Tasks.Update(t); err != nil {
			return err
		}
		d.parkForHuman(t, fmt.Sprintf("failed %d times; last: %s",
			t.RetryCount, truncate(res.StderrTail, 300)))
		return nil
	}
	return d.store.Tasks.Update(t)
}

// recordHealth broadcasts a health transition when one happened.
func (d *Daemon) recordHealth(change *health.Change, err error) {
	if err != nil {
		d.storeFailure(err)
		return
	}
	if change == nil {
		return
	}
	ev := ipc.NewEvent(ipc.EventHealthChange, d.instanceID)
	ev.Agent = change.Agent
	ev.HealthFrom = string(change.From)
	ev.HealthTo = string(change.To)
	d.server.Broadcast(ev)
	d.log.Info("agent health changed",
		zap.String("agent", change.Agent),
		zap.String("from", string(change.From)),
		zap.String("to", string(change.To)))
}

// headCommit returns the HEAD of the task's working directory, best effort.
func (d *Daemon) headCommit(t *models.Task) string {
	dir := d.ws.Root
	if t.EpicID != "" {
		if epic, err := d.store.Epics.Get(t.EpicID); err == nil {
			dir = d.mirrors.WorkDir(epic)
		}
	}
	commit, err := d.gitFor(dir).HeadCommit()
	if err != nil {
		return ""
	}
	return commit
}

// maybeScheduleReality enqueues a reality refresh after meaningful merges
// when a reality agent is configured and none is already queued.
func (d *Daemon) maybeScheduleReality(after *models.Task) {
	if d.config().Reality == "" {
		return
	}
	open, err := d.store.Tasks.ByStatus(models.TaskStatusOpen)
	if err != nil {
		return
	}
	for _, t := range open {
		if t.Type == models.TaskTypeReality {
			return
		}
	}
	rt := &models.Task{
		Title:      "Refresh reality index",
		Type:       models.TaskTypeReality,
		Priority:   models.PriorityLowest,
		Complexity: models.ComplexitySimple,
	}
	if err := d.tasks.Create(rt); err != nil {
		d.log.Warn("schedule reality refresh", zap.Error(err))
	}
}

func (d *Daemon) appendEpicProgress(t *models.Task, note string) {
	if t.EpicID == "" {
		return
	}
	epic, err := d.store.Epics.Get(t.EpicID)
	if err != nil || epic.PlanFilename == "" {
		return
	}
	entry := fmt.Sprintf("- %s %s: %s", t.ShortID, t.Title, note)
	if err := plan.AppendProgress(d.ws.PlansDir(), epic.PlanFilename, entry); err != nil {
		d.log.Warn("append plan progress", zap.String("epic", epic.ShortID), zap.Error(err))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
