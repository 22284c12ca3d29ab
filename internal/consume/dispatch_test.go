package consume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fuelsh/fuel/internal/ipc"
	"github.com/fuelsh/fuel/pkg/models"
)

func TestTaskStartPinsAgent(t *testing.T) {
	d, _ := testDaemon(t)
	tk := &models.Task{Title: "pin me", Status: models.TaskStatusOpen}
	require.NoError(t, d.store.Tasks.Create(tk))

	d.handleCommand("c1", &ipc.Command{Type: ipc.CmdTaskStart, TaskID: tk.ShortID, Agent: "main"})
	assert.Equal(t, "main", d.peekAgentOverride(tk.ShortID))

	// The pin is consumed once, not left behind.
	d.clearAgentOverride(tk.ShortID)
	assert.Empty(t, d.peekAgentOverride(tk.ShortID))
}

func TestTaskStartRejectsUnknownAgent(t *testing.T) {
	d, _ := testDaemon(t)
	tk := &models.Task{Title: "pin me", Status: models.TaskStatusOpen}
	require.NoError(t, d.store.Tasks.Create(tk))

	d.handleCommand("c1", &ipc.Command{Type: ipc.CmdTaskStart, TaskID: tk.ShortID, Agent: "nope"})
	assert.Empty(t, d.peekAgentOverride(tk.ShortID))
}

func TestTaskStartReopensParkedTask(t *testing.T) {
	d, _ := testDaemon(t)
	tk := &models.Task{Title: "someday work", Status: models.TaskStatusSomeday}
	require.NoError(t, d.store.Tasks.Create(tk))

	d.handleCommand("c1", &ipc.Command{Type: ipc.CmdTaskStart, TaskID: tk.ShortID})

	got, err := d.store.Tasks.Get(tk.ShortID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusOpen, got.Status)
}

func TestStopGracefulFlag(t *testing.T) {
	d, _ := testDaemon(t)

	graceful := false
	d.handleCommand("c1", &ipc.Command{Type: ipc.CmdStop, Graceful: &graceful})
	assert.True(t, d.forceKill.Load())
	select {
	case code := <-d.stop:
		assert.Equal(t, ExitOK, code)
	default:
		t.Fatal("stop not requested")
	}
}

func TestTaskDoneRecordsCommit(t *testing.T) {
	d, _ := testDaemon(t)
	tk := &models.Task{Title: "ship it", Status: models.TaskStatusInProgress}
	require.NoError(t, d.store.Tasks.Create(tk))

	d.handleCommand("c1", &ipc.Command{
		Type: ipc.CmdTaskDone, TaskID: tk.ShortID,
		Reason: "merged", CommitHash: "abc1234",
	})

	got, err := d.store.Tasks.Get(tk.ShortID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusDone, got.Status)
	assert.Equal(t, "abc1234", got.CommitHash)
	assert.Equal(t, "merged", got.Reason)
}
