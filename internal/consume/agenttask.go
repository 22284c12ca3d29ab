package consume

import (
	"fmt"
	"strings"

	"github.com/fuelsh/fuel/internal/plan"
	"github.com/fuelsh/fuel/internal/reality"
	"github.com/fuelsh/fuel/internal/review"
	"github.com/fuelsh/fuel/pkg/models"
)

// Process type labels carried on runs and snapshots.
const (
	kindWork       = "work"
	kindReview     = "review"
	kindMerge      = "merge"
	kindReality    = "reality"
	kindSelfGuided = "self_guided"
)

// selfGuidedCompleteMarker is the sentinel a self-guided agent emits in its
// final output when the epic needs no further iterations.
const selfGuidedCompleteMarker = "EPIC_COMPLETE"

// maxSelfGuidedIterations hard-stops a runaway self-guided loop.
const maxSelfGuidedIterations = 50

// selfGuidedStuckLimit is how many consecutive failed iterations park the
// epic for a human.
const selfGuidedStuckLimit = 3

// agentRun describes one spawnable unit of agent work. Implementations pick
// the agent, build the prompt, and choose the working directory; completion
// handling dispatches on Kind.
type agentRun interface {
	// Kind labels the run for snapshots and completion dispatch.
	Kind() string
	// Task is the task the run is attached to.
	Task() *models.Task
	// AgentName resolves the logical agent from current config.
	AgentName(d *Daemon) string
	// Prompt builds the full prompt text.
	Prompt(d *Daemon) (string, error)
	// WorkDir is where the child runs.
	WorkDir(d *Daemon) string
	// ResumeSessionID resumes a prior session when non-empty.
	ResumeSessionID(d *Daemon) string
}

// workRun implements a regular work task.
type workRun struct {
	task *models.Task
	epic *models.Epic
}

func (r *workRun) Kind() string       { return kindWork }
func (r *workRun) Task() *models.Task { return r.task }

func (r *workRun) AgentName(d *Daemon) string {
	return d.config().AgentForComplexity(r.task.Complexity)
}

func (r *workRun) Prompt(d *Daemon) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Work on task %s: %s\n", r.task.ShortID, r.task.Title)
	if r.task.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", r.task.Description)
	}
	if len(r.task.LastReviewIssues) > 0 {
		b.WriteString("\nA review of the previous attempt found these issues; fix them:\n")
		for _, issue := range r.task.LastReviewIssues {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
	}
	if r.epic != nil {
		fmt.Fprintf(&b, "\nThis task belongs to epic %s: %s\n", r.epic.ShortID, r.epic.Title)
		if r.epic.PlanFilename != "" {
			if content, err := plan.Read(d.ws.PlansDir(), r.epic.PlanFilename); err == nil {
				if log := plan.ProgressLog(content); log != "" {
					b.WriteString("\nEpic progress so far:\n" + log + "\n")
				}
			}
		}
	}
	appendRealityContext(&b, d)
	b.WriteString("\nCommit your work when finished. Summarize what you did in your final message.\n")
	return b.String(), nil
}

func (r *workRun) WorkDir(d *Daemon) string     { return d.mirrors.WorkDir(r.epic) }
func (r *workRun) ResumeSessionID(*Daemon) string { return "" }

// reviewRun implements the review of a finished work task.
type reviewRun struct {
	task        *models.Task
	epic        *models.Epic
	workSummary string
}

func (r *reviewRun) Kind() string       { return kindReview }
func (r *reviewRun) Task() *models.Task { return r.task }

// Reviews never fall back to the primary agent: an unset reviewer means
// the review stage is off and no review run should exist at all.
func (r *reviewRun) AgentName(d *Daemon) string {
	return d.config().Review
}

func (r *reviewRun) Prompt(d *Daemon) (string, error) {
	return review.BuildPrompt(r.task, r.workSummary, d.gitFor(r.WorkDir(d)))
}

func (r *reviewRun) WorkDir(d *Daemon) string       { return d.mirrors.WorkDir(r.epic) }
func (r *reviewRun) ResumeSessionID(*Daemon) string { return "" }

// mergeRun implements the merge-back of an epic mirror. The agent performs
// the merge in the primary checkout so it can resolve conflicts.
type mergeRun struct {
	task *models.Task
	epic *models.Epic
}

func (r *mergeRun) Kind() string       { return kindMerge }
func (r *mergeRun) Task() *models.Task { return r.task }

// Merges always go to the primary agent, regardless of complexity routes.
func (r *mergeRun) AgentName(d *Daemon) string {
	return d.config().Primary
}

func (r *mergeRun) Prompt(d *Daemon) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Merge the epic branch %s back into this repository.\n\n", r.epic.MirrorBranch)
	fmt.Fprintf(&b, "Epic %s: %s\n", r.epic.ShortID, r.epic.Title)
	fmt.Fprintf(&b, "\nThe branch lives in the mirror clone at %s.\n", r.epic.MirrorPath)
	fmt.Fprintf(&b, "Fetch it (git fetch %s %s) and merge FETCH_HEAD with --no-ff.\n",
		r.epic.MirrorPath, r.epic.MirrorBranch)
	b.WriteString("Resolve any conflicts, keeping both sides' intent. Run the test\n")
	b.WriteString("suite before committing the merge. Leave the tree clean.\n")
	return b.String(), nil
}

// The merge runs in the primary checkout, never the mirror.
func (r *mergeRun) WorkDir(d *Daemon) string       { return d.ws.Root }
func (r *mergeRun) ResumeSessionID(*Daemon) string { return "" }

// realityRun refreshes the reality index.
type realityRun struct {
	task           *models.Task
	completedTasks []string
}

func (r *realityRun) Kind() string       { return kindReality }
func (r *realityRun) Task() *models.Task { return r.task }

func (r *realityRun) AgentName(d *Daemon) string {
	return d.config().RealityAgent()
}

func (r *realityRun) Prompt(d *Daemon) (string, error) {
	current, err := reality.Load(d.ws.RealityPath())
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(reality.BuildUpdatePrompt(current, r.completedTasks))
	fmt.Fprintf(&b, "\nWrite the updated index to %s.\n", d.ws.RealityPath())
	return b.String(), nil
}

func (r *realityRun) WorkDir(d *Daemon) string       { return d.ws.Root }
func (r *realityRun) ResumeSessionID(*Daemon) string { return "" }

// selfGuidedRun is one iteration of a self-guided epic: the agent reads the
// plan, decides the next increment, does it, and logs progress.
type selfGuidedRun struct {
	task *models.Task
	epic *models.Epic
}

func (r *selfGuidedRun) Kind() string       { return kindSelfGuided }
func (r *selfGuidedRun) Task() *models.Task { return r.task }

// Self-guided iterations always run on the primary agent so resumed
// sessions stay with one agent across the whole loop.
func (r *selfGuidedRun) AgentName(d *Daemon) string {
	return d.config().Primary
}

func (r *selfGuidedRun) Prompt(d *Daemon) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Self-guided iteration %d on epic %s: %s\n",
		r.task.SelfGuidedIteration+1, r.epic.ShortID, r.epic.Title)
	if r.epic.PlanFilename != "" {
		if content, err := plan.Read(d.ws.PlansDir(), r.epic.PlanFilename); err == nil {
			b.WriteString("\nThe plan:\n\n---\n" + content + "\n---\n")
		}
	}
	appendRealityContext(&b, d)
	fmt.Fprintf(&b, `
Pick the single most valuable next increment toward the plan and implement
it completely, with tests. Commit when done. Append a one-line entry
describing the increment under "%s" in the plan file.
If the plan is fully realized and nothing worthwhile remains, say
%s in your final message instead of doing more work.
`, plan.ProgressHeading, selfGuidedCompleteMarker)
	return b.String(), nil
}

func (r *selfGuidedRun) WorkDir(d *Daemon) string { return d.mirrors.WorkDir(r.epic) }

// Later iterations resume the prior session so the agent keeps its context.
func (r *selfGuidedRun) ResumeSessionID(d *Daemon) string {
	runs, err := d.store.Runs.ByTask(r.task.ShortID)
	if err != nil || len(runs) == 0 {
		return ""
	}
	// ByTask returns newest first; take the most recent completed session.
	for _, run := range runs {
		if run.Status == models.RunStatusCompleted && run.SessionID != "" {
			return run.SessionID
		}
	}
	return ""
}

func appendRealityContext(b *strings.Builder, d *Daemon) {
	content, err := reality.Load(d.ws.RealityPath())
	if err != nil || content == "" {
		return
	}
	b.WriteString("\n## Codebase reality index\n\n" + content + "\n")
	if gates := reality.ParseGates(content); len(gates) > 0 {
		b.WriteString("\nAll quality gates above must pass before you finish.\n")
	}
}

// buildRun constructs the agentRun for a ready task based on its type and
// epic.
func buildRun(d *Daemon, t *models.Task) (agentRun, error) {
	var epic *models.Epic
	if t.EpicID != "" {
		e, err := d.store.Epics.Get(t.EpicID)
		if err != nil {
			return nil, fmt.Errorf("epic for task %s: %w", t.ShortID, err)
		}
		epic = e
	}

	switch {
	case t.Type == models.TaskTypeMerge:
		if epic == nil {
			return nil, fmt.Errorf("merge task %s has no epic", t.ShortID)
		}
		if err := d.mirrors.BeginMerge(epic); err != nil {
			return nil, err
		}
		return &mergeRun{task: t, epic: epic}, nil
	case t.Type == models.TaskTypeReality:
		return &realityRun{task: t, completedTasks: recentDoneTitles(d)}, nil
	case epic != nil && epic.SelfGuided:
		return &selfGuidedRun{task: t, epic: epic}, nil
	default:
		return &workRun{task: t, epic: epic}, nil
	}
}

func recentDoneTitles(d *Daemon) []string {
	tasks, err := d.store.Tasks.ByStatus(models.TaskStatusDone)
	if err != nil {
		return nil
	}
	const limit = 10
	start := 0
	if len(tasks) > limit {
		start = len(tasks) - limit
	}
	var out []string
	for _, t := range tasks[start:] {
		out = append(out, fmt.Sprintf("%s: %s", t.ShortID, t.Title))
	}
	return out
}
