package mirror

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fuelsh/fuel/internal/git"
	"github.com/fuelsh/fuel/internal/state"
	"github.com/fuelsh/fuel/internal/workspace"
	"github.com/fuelsh/fuel/pkg/models"
)

// fakeGit records calls and fails on demand. One instance is shared across
// all directories so the test sees the full call sequence.
type fakeGit struct {
	calls      []string
	failMerge  bool
	conflicted bool
}

func (f *fakeGit) record(call string) { f.calls = append(f.calls, call) }

func (f *fakeGit) Run(args ...string) (string, error) {
	f.record("run:" + args[0])
	return "", nil
}
func (f *fakeGit) CurrentBranch() (string, error)          { return "main", nil }
func (f *fakeGit) CreateAndCheckoutBranch(n string) error  { f.record("branch:" + n); return nil }
func (f *fakeGit) CheckoutBranch(string) error             { return nil }
func (f *fakeGit) BranchExists(string) (bool, error)       { return false, nil }
func (f *fakeGit) DeleteBranch(string) error               { return nil }
func (f *fakeGit) HeadCommit() (string, error)             { return "abc123def", nil }
func (f *fakeGit) Status() (string, error)                 { return "", nil }
func (f *fakeGit) HasChanges() (bool, error)               { return false, nil }
func (f *fakeGit) Diff(string) (string, error)             { return "", nil }
func (f *fakeGit) DiffBetween(a, b string) (string, error) { return "", nil }
func (f *fakeGit) ChangedFilesRelative(a, b string) ([]string, error) {
	return nil, nil
}
func (f *fakeGit) ConflictedFiles() ([]string, error) { return nil, nil }
func (f *fakeGit) Add(...string) error                { return nil }
func (f *fakeGit) Commit(string) error                { return nil }
func (f *fakeGit) Fetch(remote, ref string) error {
	f.record("fetch:" + ref)
	return nil
}
func (f *fakeGit) Merge(string) error { return nil }
func (f *fakeGit) MergeNoFFMessage(ref, msg string) error {
	f.record("merge:" + ref)
	if f.failMerge {
		return assert.AnError
	}
	return nil
}
func (f *fakeGit) MergeAbort() error           { f.record("merge-abort"); return nil }
func (f *fakeGit) HasConflicts() (bool, error) { return f.conflicted, nil }

var _ git.Runner = (*fakeGit)(nil)

func testManager(t *testing.T) (*Manager, *state.Store, *fakeGit) {
	t.Helper()
	store, err := state.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	fg := &fakeGit{}
	ws := &workspace.Context{Root: t.TempDir()}
	m := NewManager(store, ws, func(string) git.Runner { return fg }, zap.NewNop())
	m.removed = func(string) error { return nil }
	return m, store, fg
}

func createEpic(t *testing.T, store *state.Store, status models.MirrorStatus) *models.Epic {
	t.Helper()
	e := &models.Epic{Title: "Epic", MirrorStatus: status}
	require.NoError(t, store.Epics.Create(e))
	return e
}

func TestProcessPendingBuildsMirror(t *testing.T) {
	m, store, fg := testManager(t)
	e := createEpic(t, store, models.MirrorPending)

	require.NoError(t, m.ProcessPending())

	got, err := store.Epics.Get(e.ShortID)
	require.NoError(t, err)
	assert.Equal(t, models.MirrorReady, got.MirrorStatus)
	assert.Equal(t, "epic/"+e.ShortID, got.MirrorBranch)
	assert.Equal(t, "abc123def", got.MirrorBaseCommit)
	assert.NotEmpty(t, got.MirrorPath)
	assert.NotNil(t, got.MirrorCreatedAt)
	assert.Contains(t, fg.calls, "run:clone")
	assert.Contains(t, fg.calls, "branch:epic/"+e.ShortID)
}

func TestProcessPendingSkipsOthers(t *testing.T) {
	m, store, fg := testManager(t)
	createEpic(t, store, models.MirrorNone)
	createEpic(t, store, models.MirrorReady)

	require.NoError(t, m.ProcessPending())
	assert.Empty(t, fg.calls)
}

func TestWorkDir(t *testing.T) {
	m, store, _ := testManager(t)
	e := createEpic(t, store, models.MirrorReady)
	e.MirrorPath = "/mirrors/x"
	assert.Equal(t, "/mirrors/x", m.WorkDir(e))

	e.MirrorStatus = models.MirrorCreating
	assert.Equal(t, m.ws.Root, m.WorkDir(e))
	assert.Equal(t, m.ws.Root, m.WorkDir(nil))
}

func TestMergeLifecycle(t *testing.T) {
	m, store, fg := testManager(t)
	e := createEpic(t, store, models.MirrorReady)
	e.MirrorPath = "/mirrors/x"
	e.MirrorBranch = "epic/" + e.ShortID
	require.NoError(t, store.Epics.Update(e))

	require.NoError(t, m.BeginMerge(e))
	assert.Equal(t, models.MirrorMerging, e.MirrorStatus)

	require.NoError(t, m.Merge(e))
	assert.Equal(t, models.MirrorMerged, e.MirrorStatus)
	assert.Contains(t, fg.calls, "fetch:epic/"+e.ShortID)
	assert.Contains(t, fg.calls, "merge:FETCH_HEAD")

	require.NoError(t, m.Cleanup(e))
	assert.Equal(t, models.MirrorCleaned, e.MirrorStatus)
}

func TestMergeConflictFails(t *testing.T) {
	m, store, fg := testManager(t)
	fg.failMerge = true
	fg.conflicted = true

	e := createEpic(t, store, models.MirrorReady)
	e.MirrorBranch = "epic/" + e.ShortID
	require.NoError(t, store.Epics.Update(e))
	require.NoError(t, m.BeginMerge(e))

	err := m.Merge(e)
	require.Error(t, err)
	assert.Equal(t, models.MirrorMergeFailed, e.MirrorStatus)
	assert.Contains(t, fg.calls, "merge-abort")

	got, _ := store.Epics.Get(e.ShortID)
	assert.Equal(t, models.MirrorMergeFailed, got.MirrorStatus)

	// Operator retry puts the mirror back to ready.
	require.NoError(t, m.RetryMerge(e))
	assert.Equal(t, models.MirrorReady, e.MirrorStatus)
}

func TestBeginMergeRequiresReady(t *testing.T) {
	m, store, _ := testManager(t)
	e := createEpic(t, store, models.MirrorPending)
	assert.Error(t, m.BeginMerge(e))
}

func TestCleanupRequiresMerged(t *testing.T) {
	m, store, _ := testManager(t)
	e := createEpic(t, store, models.MirrorReady)
	assert.Error(t, m.Cleanup(e))
}
