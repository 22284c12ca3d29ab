package consume

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fuelsh/fuel/pkg/models"
)

func openTask(id string, priority int, created time.Time) *models.Task {
	return &models.Task{
		ShortID:   id,
		Title:     id,
		Status:    models.TaskStatusOpen,
		Priority:  priority,
		CreatedAt: created,
	}
}

func TestResolveReadyOrdering(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tasks := []*models.Task{
		openTask("f-cccc", 2, t0),
		openTask("f-bbbb", 0, t0.Add(time.Hour)),
		openTask("f-aaaa", 0, t0),
		openTask("f-dddd", 0, t0),
	}
	ready := resolveReady(tasks, nil)
	ids := make([]string, len(ready))
	for i, r := range ready {
		ids[i] = r.ShortID
	}
	// Priority first, then age, then short id.
	assert.Equal(t, []string{"f-aaaa", "f-dddd", "f-bbbb", "f-cccc"}, ids)
}

func TestResolveReadySkipsNonOpen(t *testing.T) {
	t0 := time.Now().UTC()
	consumed := openTask("f-aaaa", 0, t0)
	consumed.Consumed = true
	inProgress := openTask("f-bbbb", 0, t0)
	inProgress.Status = models.TaskStatusInProgress
	human := openTask("f-cccc", 0, t0)
	human.Labels = []string{models.LabelNeedsHuman}
	someday := openTask("f-eeee", 0, t0)
	someday.Status = models.TaskStatusSomeday

	ready := resolveReady([]*models.Task{consumed, inProgress, human, someday, openTask("f-dddd", 0, t0)}, nil)
	assert.Len(t, ready, 1)
	assert.Equal(t, "f-dddd", ready[0].ShortID)
}

func TestResolveReadyBlockers(t *testing.T) {
	t0 := time.Now().UTC()
	blocker := openTask("f-aaaa", 0, t0)
	blocked := openTask("f-bbbb", 0, t0)
	blocked.BlockedBy = []string{"f-aaaa"}

	ready := resolveReady([]*models.Task{blocker, blocked}, nil)
	assert.Len(t, ready, 1)
	assert.Equal(t, "f-aaaa", ready[0].ShortID)

	// Done blockers clear; cancelled blockers clear too.
	blocker.Status = models.TaskStatusDone
	ready = resolveReady([]*models.Task{blocker, blocked}, nil)
	assert.Len(t, ready, 1)
	assert.Equal(t, "f-bbbb", ready[0].ShortID)

	// A blocker id that no longer resolves does not block.
	blocked.BlockedBy = []string{"f-gone"}
	ready = resolveReady([]*models.Task{blocked}, nil)
	assert.Len(t, ready, 1)
}

func TestResolveReadyEpicRules(t *testing.T) {
	t0 := time.Now().UTC()
	paused := time.Now().UTC()

	pausedEpic := &models.Epic{ShortID: "e-paus", PausedAt: &paused, MirrorStatus: models.MirrorNone}
	buildingEpic := &models.Epic{ShortID: "e-bild", MirrorStatus: models.MirrorCreating}
	readyEpic := &models.Epic{ShortID: "e-redy", MirrorStatus: models.MirrorReady}
	epics := map[string]*models.Epic{
		"e-paus": pausedEpic, "e-bild": buildingEpic, "e-redy": readyEpic,
	}

	t1 := openTask("f-aaaa", 0, t0)
	t1.EpicID = "e-paus"
	t2 := openTask("f-bbbb", 0, t0)
	t2.EpicID = "e-bild"
	t3 := openTask("f-cccc", 0, t0)
	t3.EpicID = "e-redy"
	t4 := openTask("f-dddd", 0, t0)
	t4.EpicID = "e-missing"

	ready := resolveReady([]*models.Task{t1, t2, t3, t4}, epics)
	assert.Len(t, ready, 1)
	assert.Equal(t, "f-cccc", ready[0].ShortID)
}

func TestResolveReadyStandaloneWaitsDuringMerge(t *testing.T) {
	t0 := time.Now().UTC()
	merging := &models.Epic{ShortID: "e-merg", MirrorStatus: models.MirrorMerging}
	epics := map[string]*models.Epic{"e-merg": merging}

	standalone := openTask("f-aaaa", 0, t0)
	epicTask := openTask("f-bbbb", 0, t0)
	epicTask.EpicID = "e-merg"
	mergeTask := openTask("f-cccc", 0, t0)
	mergeTask.Type = models.TaskTypeMerge

	ready := resolveReady([]*models.Task{standalone, epicTask, mergeTask}, epics)
	ids := make([]string, len(ready))
	for i, r := range ready {
		ids[i] = r.ShortID
	}
	// The merge task itself and the merging epic's tasks may run; plain
	// standalone work waits for the primary checkout.
	assert.ElementsMatch(t, []string{"f-bbbb", "f-cccc"}, ids)
}

func TestBucketTasks(t *testing.T) {
	t0 := time.Now().UTC()
	done1 := openTask("f-don1", 0, t0)
	done1.Status = models.TaskStatusDone
	early := t0.Add(-time.Hour)
	done1.CompletedAt = &early
	done2 := openTask("f-don2", 0, t0)
	done2.Status = models.TaskStatusDone
	late := t0
	done2.CompletedAt = &late

	rev := openTask("f-revw", 0, t0)
	rev.Status = models.TaskStatusReview
	human := openTask("f-humn", 0, t0)
	human.Labels = []string{models.LabelNeedsHuman}
	blocked := openTask("f-blkd", 0, t0)
	blocked.BlockedBy = []string{"f-revw"}
	running := openTask("f-runn", 0, t0)
	running.Status = models.TaskStatusInProgress
	readyT := openTask("f-redy", 0, t0)

	ready, inProgress, review, blockedOut, humanOut, doneOut := bucketTasks(
		[]*models.Task{done1, done2, rev, human, blocked, running, readyT}, nil, 1)

	assert.Equal(t, []string{"f-redy"}, ids(ready))
	assert.Equal(t, []string{"f-runn"}, ids(inProgress))
	assert.Equal(t, []string{"f-revw"}, ids(review))
	assert.Equal(t, []string{"f-blkd"}, ids(blockedOut))
	assert.Equal(t, []string{"f-humn"}, ids(humanOut))
	// Done is newest-first and capped.
	assert.Equal(t, []string{"f-don2"}, ids(doneOut))
}

func ids(tasks []*models.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ShortID
	}
	return out
}
