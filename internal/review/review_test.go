package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fuelsh/fuel/internal/state"
	"github.com/fuelsh/fuel/pkg/models"
)

func TestParseVerdictLastLine(t *testing.T) {
	output := `I reviewed the changes carefully.
The error handling looks solid.
{"passed": true}`
	v, err := ParseVerdict(output)
	require.NoError(t, err)
	assert.True(t, v.Passed)
	assert.Empty(t, v.Issues)
}

func TestParseVerdictWithIssues(t *testing.T) {
	output := `{"passed": false, "issues": ["missing tests for the error path", "race on counter"], "follow_up_tasks": [{"title": "Add retry metrics", "complexity": "simple"}]}`
	v, err := ParseVerdict(output)
	require.NoError(t, err)
	assert.False(t, v.Passed)
	assert.Len(t, v.Issues, 2)
	require.Len(t, v.FollowUpTasks, 1)
	assert.Equal(t, "Add retry metrics", v.FollowUpTasks[0].Title)
}

func TestParseVerdictEmbedded(t *testing.T) {
	output := "Here is my verdict:\n```json\n{\"passed\": false, \"issues\": [\"broken import\"]}\n```\nDone."
	v, err := ParseVerdict(output)
	require.NoError(t, err)
	assert.False(t, v.Passed)
	assert.Equal(t, []string{"broken import"}, v.Issues)
}

func TestParseVerdictIgnoresOtherJSON(t *testing.T) {
	// JSON without a "passed" key is not a verdict.
	output := `{"type": "result", "result": "all done"}`
	_, err := ParseVerdict(output)
	assert.ErrorIs(t, err, ErrNoVerdict)
}

func TestParseVerdictNoJSON(t *testing.T) {
	_, err := ParseVerdict("looks good to me!")
	assert.ErrorIs(t, err, ErrNoVerdict)
}

func testService(t *testing.T) (*Service, *state.Store) {
	t.Helper()
	store, err := state.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewService(store, zap.NewNop()), store
}

func TestBeginComplete(t *testing.T) {
	s, store := testService(t)
	task := &models.Task{Title: "work"}
	require.NoError(t, store.Tasks.Create(task))

	rev, err := s.Begin(task, "reviewer")
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusPending, rev.Status)

	got, err := s.Complete(task.ShortID, "r-run1", &Verdict{Passed: true})
	require.NoError(t, err)
	assert.True(t, got.Passed())
	assert.Equal(t, "r-run1", got.RunID)
}

func TestCompleteRejectionRequiresIssues(t *testing.T) {
	s, store := testService(t)
	task := &models.Task{Title: "work"}
	require.NoError(t, store.Tasks.Create(task))
	_, err := s.Begin(task, "reviewer")
	require.NoError(t, err)

	got, err := s.Complete(task.ShortID, "r-run1", &Verdict{Passed: false})
	require.NoError(t, err)
	assert.False(t, got.Passed())
	assert.NotEmpty(t, got.Issues)
}

func TestAbandonClosesPending(t *testing.T) {
	s, store := testService(t)
	task := &models.Task{Title: "work"}
	require.NoError(t, store.Tasks.Create(task))
	_, err := s.Begin(task, "reviewer")
	require.NoError(t, err)

	require.NoError(t, s.Abandon(task.ShortID))
	_, err = store.Reviews.PendingByTask(task.ShortID)
	assert.Error(t, err)

	// Abandoning with nothing pending is a no-op.
	require.NoError(t, s.Abandon(task.ShortID))
}

type fakeDiff struct {
	status string
	diff   string
}

func (f *fakeDiff) Status() (string, error)               { return f.status, nil }
func (f *fakeDiff) HasChanges() (bool, error)             { return f.status != "", nil }
func (f *fakeDiff) Diff(string) (string, error)           { return f.diff, nil }
func (f *fakeDiff) DiffBetween(a, b string) (string, error) { return f.diff, nil }
func (f *fakeDiff) ChangedFilesRelative(a, b string) ([]string, error) {
	return nil, nil
}
func (f *fakeDiff) ConflictedFiles() ([]string, error) { return nil, nil }

func TestBuildPrompt(t *testing.T) {
	task := &models.Task{
		ShortID:          "f-ab12",
		Title:            "Add login handler",
		Description:      "POST /login with session cookie.",
		LastReviewIssues: []string{"no rate limiting"},
	}
	g := &fakeDiff{status: " M handler.go", diff: "+func Login() {}"}

	prompt, err := BuildPrompt(task, "implemented login with bcrypt", g)
	require.NoError(t, err)
	assert.Contains(t, prompt, "f-ab12")
	assert.Contains(t, prompt, "Add login handler")
	assert.Contains(t, prompt, "no rate limiting")
	assert.Contains(t, prompt, "implemented login with bcrypt")
	assert.Contains(t, prompt, " M handler.go")
	assert.Contains(t, prompt, "+func Login() {}")
	assert.Contains(t, prompt, `"passed"`)
}
