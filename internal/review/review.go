// Package review builds reviewer prompts and parses reviewer verdicts.
// A work task that finishes successfully moves to review; a reviewer agent
// reads the diff and answers with a JSON verdict on its last stream line.
package review

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fuelsh/fuel/internal/git"
	"github.com/fuelsh/fuel/internal/state"
	"github.com/fuelsh/fuel/pkg/models"
)

// Verdict is the JSON document the reviewer must emit as its final output.
type Verdict struct {
	// Passed is true when the work is acceptable as-is.
	Passed bool `json:"passed"`
	// Issues lists the problems found; required when Passed is false.
	Issues []string `json:"issues,omitempty"`
	// FollowUpTasks describes new tasks the reviewer wants filed.
	FollowUpTasks []FollowUpTask `json:"follow_up_tasks,omitempty"`
}

// FollowUpTask is a task the reviewer asks to be created.
type FollowUpTask struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Complexity  string `json:"complexity,omitempty"`
}

// ErrNoVerdict indicates the reviewer output contained no parsable verdict.
var ErrNoVerdict = fmt.Errorf("reviewer produced no verdict")

// Service records review attempts and their outcomes.
type Service struct {
	store *state.Store
	log   *zap.Logger
}

// NewService creates a review Service.
func NewService(store *state.Store, log *zap.Logger) *Service {
	return &Service{store: store, log: log}
}

// Begin opens a pending review row for a task before the reviewer spawns.
func (s *Service) Begin(task *models.Task, agent string) (*models.Review, error) {
	rev := &models.Review{
		TaskID:    task.ShortID,
		Agent:     agent,
		Status:    models.ReviewStatusPending,
		StartedAt: time.Now().UTC(),
	}
	if err := s.store.Reviews.Create(rev); err != nil {
		return nil, fmt.Errorf("open review: %w", err)
	}
	return rev, nil
}

// Complete records the verdict on the pending review for a task and returns
// the updated row. The run id ties the review to the reviewer's run.
func (s *Service) Complete(taskID, runID string, verdict *Verdict) (*models.Review, error) {
	rev, err := s.store.Reviews.PendingByTask(taskID)
	if err != nil {
		return nil, fmt.Errorf("pending review for %s: %w", taskID, err)
	}
	now := time.Now().UTC()
	rev.RunID = runID
	rev.Status = models.ReviewStatusCompleted
	rev.CompletedAt = &now
	if !verdict.Passed {
		rev.Issues = verdict.Issues
		if len(rev.Issues) == 0 {
			rev.Issues = []string{"reviewer rejected without naming issues"}
		}
	}
	if err := s.store.Reviews.Update(rev); err != nil {
		return nil, err
	}
	s.log.Info("review completed",
		zap.String("task", taskID),
		zap.Bool("passed", verdict.Passed),
		zap.Int("issues", len(rev.Issues)))
	return rev, nil
}

// Abandon closes a pending review whose reviewer run failed, leaving the
// task to be reviewed again.
func (s *Service) Abandon(taskID string) error {
	rev, err := s.store.Reviews.PendingByTask(taskID)
	if err != nil {
		return nil
	}
	now := time.Now().UTC()
	rev.Status = models.ReviewStatusCompleted
	rev.CompletedAt = &now
	rev.Issues = []string{"reviewer run failed"}
	return s.store.Reviews.Update(rev)
}

// BuildPrompt assembles the reviewer prompt from the task, the prior run's
// claimed outcome, and the repo's current diff and status.
func BuildPrompt(task *models.Task, workSummary string, g git.DiffOperations) (string, error) {
	status, err := g.Status()
	if err != nil {
		return "", fmt.Errorf("git status for review: %w", err)
	}
	diff, err := g.Diff("HEAD")
	if err != nil {
		// A fresh repo without commits has no HEAD; review the status only.
		diff = ""
	}

	var b strings.Builder
	b.WriteString("You are reviewing completed work on the following task.\n\n")
	fmt.Fprintf(&b, "Task %s: %s\n", task.ShortID, task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", task.Description)
	}
	if workSummary != "" {
		fmt.Fprintf(&b, "\nThe implementing agent reported:\n%s\n", workSummary)
	}
	if len(task.LastReviewIssues) > 0 {
		b.WriteString("\nA previous review raised these issues; verify they are fixed:\n")
		for _, issue := range task.LastReviewIssues {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
	}
	b.WriteString("\n## Working tree status\n\n```\n" + status + "\n```\n")
	if diff != "" {
		b.WriteString("\n## Diff against HEAD\n\n```diff\n" + diff + "\n```\n")
	}
	b.WriteString(`
Respond with ONLY a JSON object as your final output:
{"passed": true|false, "issues": ["..."], "follow_up_tasks": [{"title": "...", "description": "...", "complexity": "trivial|simple|moderate|complex"}]}
List issues only when passed is false. File follow-up tasks for real
problems outside this task's scope instead of failing the review for them.
`)
	return b.String(), nil
}

// ParseVerdict extracts the verdict from reviewer output. The last line that
// parses as a verdict object wins; agents often echo text around it.
func ParseVerdict(output string) (*Verdict, error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if v := tryParse(line); v != nil {
			return v, nil
		}
	}
	// Some agents wrap the JSON in a fenced block or emit it mid-text.
	if start := strings.Index(output, "{"); start >= 0 {
		if end := strings.LastIndex(output, "}"); end > start {
			if v := tryParse(output[start : end+1]); v != nil {
				return v, nil
			}
		}
	}
	return nil, ErrNoVerdict
}

func tryParse(s string) *Verdict {
	if !strings.HasPrefix(s, "{") {
		return nil
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &probe); err != nil {
		return nil
	}
	if _, ok := probe["passed"]; !ok {
		return nil
	}
	var v Verdict
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	return &v
}
