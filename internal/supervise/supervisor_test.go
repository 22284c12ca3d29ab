package supervise

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/fuelsh/fuel/internal/config"
	"github.com/fuelsh/fuel/internal/driver"
	"github.com/fuelsh/fuel/internal/state"
	"github.com/fuelsh/fuel/internal/workspace"
	"github.com/fuelsh/fuel/pkg/models"
)

func TestRingKeepsTail(t *testing.T) {
	r := newOutputRing()
	r.Write([]byte("first line\n"))
	r.Write([]byte("second line\n"))
	if got := r.String(); got != "first line\nsecond line\n" {
		t.Errorf("unexpected content %q", got)
	}
}

func TestRingTruncatesFront(t *testing.T) {
	r := newOutputRing()
	line := strings.Repeat("x", 1023) + "\n"
	for i := 0; i < 20; i++ {
		r.Write([]byte(line))
	}
	if r.Len() > ringCapacity {
		t.Fatalf("ring exceeded capacity: %d", r.Len())
	}
	tail := r.String()
	if !strings.HasSuffix(tail, "\n") {
		t.Error("tail missing trailing newline")
	}
	// Truncation lands on a line boundary, so only whole lines remain.
	if r.Len()%1024 != 0 {
		t.Errorf("tail not line-aligned: %d bytes", r.Len())
	}
}

func TestRingOversizedWrite(t *testing.T) {
	r := newOutputRing()
	big := bytes.Repeat([]byte("y"), ringCapacity*2)
	r.Write(big)
	if r.Len() != ringCapacity {
		t.Errorf("expected exactly %d bytes, got %d", ringCapacity, r.Len())
	}
}

func testDriver() *driver.Driver {
	return &driver.Driver{
		Name:                 "fake",
		Command:              "fake-agent",
		SessionIDFields:      []string{"session_id"},
		CostFields:           []string{"total_cost_usd"},
		PermissionSignatures: []string{"permission denied"},
		NetworkSignatures:    []string{"connection refused", "etimedout"},
	}
}

func TestReadStreamCapturesSessionAndCost(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"system","session_id":"sess-123"}`,
		`{"type":"assistant","message":{"content":"working"}}`,
		`not json at all`,
		`{"type":"result","result":"done the thing","total_cost_usd":0.42}`,
	}, "\n")

	st := &streamState{}
	ring := newOutputRing()
	var sink bytes.Buffer
	var chunks int
	err := readStream(strings.NewReader(input), testDriver(), st, ring, &sink, func([]byte) { chunks++ })
	if err != nil {
		t.Fatalf("readStream: %v", err)
	}

	if st.SessionID() != "sess-123" {
		t.Errorf("session id = %q", st.SessionID())
	}
	if st.CostUSD() != 0.42 {
		t.Errorf("cost = %v", st.CostUSD())
	}
	if st.LastText() != "done the thing" {
		t.Errorf("last text = %q", st.LastText())
	}
	if chunks != 4 {
		t.Errorf("chunk count = %d", chunks)
	}
	if !strings.Contains(sink.String(), "not json at all") {
		t.Error("raw non-JSON line not mirrored to sink")
	}
	if !strings.Contains(ring.String(), "sess-123") {
		t.Error("ring missing raw lines")
	}
}

func TestReadStreamNestedSessionID(t *testing.T) {
	input := `{"type":"event","payload":{"session_id":"nested-1"}}`
	st := &streamState{}
	if err := readStream(strings.NewReader(input), testDriver(), st, newOutputRing(), nil, nil); err != nil {
		t.Fatal(err)
	}
	if st.SessionID() != "nested-1" {
		t.Errorf("session id = %q", st.SessionID())
	}
}

func TestClassify(t *testing.T) {
	d := testDriver()
	bg := context.Background()

	tests := []struct {
		name     string
		exitCode int
		stderr   string
		want     models.CompletionType
	}{
		{"clean exit", 0, "", models.CompletionSuccess},
		{"permission stderr", 1, "error: Permission denied for tool", models.CompletionPermissionBlocked},
		{"network stderr", 1, "dial tcp: connection refused", models.CompletionNetworkError},
		{"timeout signature", 1, "request failed: ETIMEDOUT", models.CompletionNetworkError},
		{"plain crash", 2, "panic: boom", models.CompletionFailed},
		{"killed", -1, "", models.CompletionFailed},
	}
	for _, tt := range tests {
		if got := classify(bg, d, tt.exitCode, tt.stderr); got != tt.want {
			t.Errorf("%s: classify = %s, want %s", tt.name, got, tt.want)
		}
	}
}

func TestClassifyDeadline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Plain cancellation is a failure, not a network error.
	if got := classify(ctx, testDriver(), -1, ""); got != models.CompletionFailed {
		t.Errorf("cancelled = %s", got)
	}

	dctx, dcancel := context.WithTimeout(context.Background(), 0)
	defer dcancel()
	<-dctx.Done()
	if got := classify(dctx, testDriver(), -1, ""); got != models.CompletionNetworkError {
		t.Errorf("deadline = %s", got)
	}
}

func TestClassifyPermissionExitCode(t *testing.T) {
	d := testDriver()
	d.PermissionExitCodes = []int{77}
	if got := classify(context.Background(), d, 77, ""); got != models.CompletionPermissionBlocked {
		t.Errorf("exit 77 = %s", got)
	}
}

func TestSpawnAtCapacity(t *testing.T) {
	store, err := state.NewMemoryStore()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ws := &workspace.Context{Root: t.TempDir()}
	if err := ws.EnsureLayout(); err != nil {
		t.Fatal(err)
	}

	s := NewSupervisor(store, ws, driver.NewRegistry(), zap.NewNop())
	s.counts["main"] = 2

	spec := Spec{
		Task:        &models.Task{ShortID: "f-aaaa", Title: "work"},
		Agent:       "main",
		AgentConfig: config.AgentConfig{Driver: "claude"},
		Limit:       2,
	}
	_, err = s.Spawn(context.Background(), spec, time.Second)
	if !errors.Is(err, ErrAtCapacity) {
		t.Fatalf("Spawn = %v, want ErrAtCapacity", err)
	}

	// A refused spawn must not leave a run row behind.
	running, err := store.Runs.Running()
	if err != nil {
		t.Fatal(err)
	}
	if len(running) != 0 {
		t.Fatalf("expected no runs, found %d", len(running))
	}
	// The count is unchanged for the next tick.
	if got := s.RunningCount("main"); got != 2 {
		t.Fatalf("RunningCount = %d", got)
	}
}

func testSupervisor(t *testing.T) (*Supervisor, *state.Store, *workspace.Context) {
	t.Helper()
	store, err := state.NewMemoryStore()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	ws := &workspace.Context{Root: t.TempDir()}
	if err := ws.EnsureLayout(); err != nil {
		t.Fatal(err)
	}
	registry := driver.NewRegistry()
	registry.Register(&driver.Driver{Name: "fake", Command: "/bin/echo"})
	return NewSupervisor(store, ws, registry, zap.NewNop()), store, ws
}

func TestSpawnFailureFinalizesRun(t *testing.T) {
	s, store, ws := testSupervisor(t)

	// Replace the runs directory with a file so the output capture open
	// fails after the run row exists.
	if err := os.RemoveAll(ws.RunsDir()); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ws.RunsDir(), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	spec := Spec{
		Task:        &models.Task{ShortID: "f-aaaa", Title: "work"},
		Agent:       "main",
		AgentConfig: config.AgentConfig{Driver: "fake"},
		Prompt:      "hello",
		WorkDir:     ws.Root,
	}
	if _, err := s.Spawn(context.Background(), spec, time.Second); err == nil {
		t.Fatal("expected spawn to fail")
	}

	runs, err := store.Runs.ByTask("f-aaaa")
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected one run row, got %d", len(runs))
	}
	run := runs[0]
	if run.Status != models.RunStatusFailed {
		t.Errorf("run status = %s, want failed", run.Status)
	}
	if run.EndedAt == nil {
		t.Error("aborted run missing end time")
	}
	running, err := store.Runs.Running()
	if err != nil {
		t.Fatal(err)
	}
	if len(running) != 0 {
		t.Fatalf("aborted run still counted as running: %d", len(running))
	}
}

func TestNoChunksBeforeRelease(t *testing.T) {
	s, _, ws := testSupervisor(t)

	var mu sync.Mutex
	var chunks int
	s.OnChunk = func(runID, taskID string, line []byte) {
		mu.Lock()
		chunks++
		mu.Unlock()
	}
	completed := make(chan struct{})
	s.OnComplete = func(*CompletionResult) { close(completed) }

	spec := Spec{
		Task:        &models.Task{ShortID: "f-bbbb", Title: "work"},
		Agent:       "main",
		AgentConfig: config.AgentConfig{Driver: "fake"},
		Prompt:      "hello from the child",
		WorkDir:     ws.Root,
	}
	proc, err := s.Spawn(context.Background(), spec, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	// The child has written by now, but nothing may be delivered until
	// the caller releases the process.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	early := chunks
	mu.Unlock()
	if early != 0 {
		t.Fatalf("got %d chunks before release", early)
	}

	proc.Release()
	select {
	case <-completed:
	case <-time.After(5 * time.Second):
		t.Fatal("child never completed")
	}
	mu.Lock()
	late := chunks
	mu.Unlock()
	if late == 0 {
		t.Error("expected output chunks after release")
	}
}

func TestOverlayEnv(t *testing.T) {
	env := overlayEnv([]string{"PATH=/bin"},
		map[string]string{"A": "1"},
		map[string]string{"A": "2", "B": "3"})
	joined := strings.Join(env, ";")
	if !strings.Contains(joined, "PATH=/bin") || !strings.Contains(joined, "B=3") {
		t.Errorf("unexpected env %v", env)
	}
	// Later overlays win because they appear later in the slice.
	lastA := ""
	for _, kv := range env {
		if strings.HasPrefix(kv, "A=") {
			lastA = kv
		}
	}
	if lastA != "A=2" {
		t.Errorf("expected A=2 last, got %q", lastA)
	}
}
