package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/fuelsh/fuel/pkg/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "agent.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrateIdempotent(t *testing.T) {
	s := testStore(t)
	if err := s.DB.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestTaskRoundTrip(t *testing.T) {
	s := testStore(t)

	task := &models.Task{
		Title:      "Add login endpoint",
		Type:       models.TaskTypeFeature,
		Priority:   1,
		Complexity: models.ComplexityModerate,
		Labels:     []string{"backend"},
		BlockedBy:  []string{"f-aaaa"},
		EpicID:     "e-bbbb",
	}
	if err := s.Tasks.Create(task); err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.ShortID == "" {
		t.Fatal("expected short id assigned")
	}

	got, err := s.Tasks.Get(task.ShortID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != task.Title || got.Type != task.Type || got.Priority != 1 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if len(got.Labels) != 1 || got.Labels[0] != "backend" {
		t.Errorf("labels mismatch: %v", got.Labels)
	}
	if len(got.BlockedBy) != 1 || got.BlockedBy[0] != "f-aaaa" {
		t.Errorf("blocked_by mismatch: %v", got.BlockedBy)
	}
	if got.EpicID != "e-bbbb" {
		t.Errorf("epic id mismatch: %q", got.EpicID)
	}
	if got.Status != models.TaskStatusOpen {
		t.Errorf("expected default status open, got %s", got.Status)
	}
}

func TestTaskFindPartial(t *testing.T) {
	s := testStore(t)

	a := &models.Task{ShortID: "f-k3qz9a", Title: "A"}
	b := &models.Task{ShortID: "f-k7mmmm", Title: "B"}
	if err := s.Tasks.Create(a); err != nil {
		t.Fatal(err)
	}
	if err := s.Tasks.Create(b); err != nil {
		t.Fatal(err)
	}

	got, err := s.Tasks.Find("k3q")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ShortID != "f-k3qz9a" {
		t.Errorf("expected f-k3qz9a, got %s", got.ShortID)
	}

	if _, err := s.Tasks.Find("k"); err == nil {
		t.Error("expected ambiguous error for prefix matching both")
	}
	if _, err := s.Tasks.Find("zzz"); err == nil {
		t.Error("expected not found")
	}
}

func TestRunLifecycle(t *testing.T) {
	s := testStore(t)

	run := &models.Run{TaskID: "f-abcd", Agent: "sonnet", Model: "claude-sonnet-4-5"}
	if err := s.Runs.Create(run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	running, err := s.Runs.Running()
	if err != nil {
		t.Fatalf("running: %v", err)
	}
	if len(running) != 1 {
		t.Fatalf("expected 1 running run, got %d", len(running))
	}

	now := time.Now().UTC()
	run.Status = models.RunStatusCompleted
	run.ExitCode = 0
	run.EndedAt = &now
	run.SessionID = "sess-1"
	run.CostUSD = 0.42
	if err := s.Runs.Update(run); err != nil {
		t.Fatalf("update run: %v", err)
	}

	got, err := s.Runs.Get(run.ShortID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != models.RunStatusCompleted || got.SessionID != "sess-1" || got.CostUSD != 0.42 {
		t.Errorf("run mismatch: %+v", got)
	}
}

func TestHealthUpsert(t *testing.T) {
	s := testStore(t)

	h, err := s.Health.Get("sonnet")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if h.TotalRuns != 0 {
		t.Errorf("expected fresh row, got %+v", h)
	}

	h.TotalRuns = 3
	h.TotalSuccesses = 2
	h.ConsecutiveFailures = 1
	if err := s.Health.Put(h); err != nil {
		t.Fatalf("put: %v", err)
	}
	h.TotalRuns = 4
	if err := s.Health.Put(h); err != nil {
		t.Fatalf("put again: %v", err)
	}

	got, err := s.Health.Get("sonnet")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TotalRuns != 4 || got.TotalSuccesses != 2 {
		t.Errorf("health mismatch: %+v", got)
	}
}

func TestRecoverOrphanedRuns(t *testing.T) {
	s := testStore(t)

	task := &models.Task{Title: "orphaned", Status: models.TaskStatusInProgress, Consumed: true, ConsumePID: 12345}
	if err := s.Tasks.Create(task); err != nil {
		t.Fatal(err)
	}
	run := &models.Run{TaskID: task.ShortID, Agent: "sonnet"}
	if err := s.Runs.Create(run); err != nil {
		t.Fatal(err)
	}

	n, err := s.RecoverOrphanedRuns()
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 recovered run, got %d", n)
	}

	gotTask, _ := s.Tasks.Get(task.ShortID)
	if gotTask.Consumed || gotTask.Status != models.TaskStatusOpen {
		t.Errorf("expected task released and reopened, got %+v", gotTask)
	}
	gotRun, _ := s.Runs.Get(run.ShortID)
	if gotRun.Status != models.RunStatusFailed || gotRun.ExitCode != -1 {
		t.Errorf("expected run finalized as failed, got %+v", gotRun)
	}
}

func TestReadBoard(t *testing.T) {
	s := testStore(t)

	if err := s.Tasks.Create(&models.Task{Title: "t1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Epics.Create(&models.Epic{Title: "e1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Runs.Create(&models.Run{TaskID: "f-x", Agent: "sonnet"}); err != nil {
		t.Fatal(err)
	}

	board, err := s.ReadBoard()
	if err != nil {
		t.Fatalf("read board: %v", err)
	}
	if len(board.Tasks) != 1 || len(board.Epics) != 1 || len(board.Runs) != 1 {
		t.Errorf("board mismatch: %d tasks, %d epics, %d runs",
			len(board.Tasks), len(board.Epics), len(board.Runs))
	}
}
