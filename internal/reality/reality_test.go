package reality

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleIndex = `# Reality

Go service with a worker pool.

## Quality Gates

| Tool | Command | Purpose |
|------|---------|---------|
| go   | ` + "`go build ./...`" + ` | compiles |
| test | go test ./... | tests pass |
| lint | ` + "`golangci-lint run`" + ` | style |

## Layout

cmd/ and internal/.
`

func TestParseGates(t *testing.T) {
	gates := ParseGates(sampleIndex)
	if len(gates) != 3 {
		t.Fatalf("got %d gates, want 3", len(gates))
	}
	if gates[0].Tool != "go" || gates[0].Command != "go build ./..." {
		t.Errorf("gate 0 = %+v", gates[0])
	}
	if gates[1].Command != "go test ./..." {
		t.Errorf("gate 1 command = %q", gates[1].Command)
	}
	if gates[2].Purpose != "style" {
		t.Errorf("gate 2 purpose = %q", gates[2].Purpose)
	}
}

func TestParseGatesMissingSection(t *testing.T) {
	if gates := ParseGates("# Nothing here\n"); gates != nil {
		t.Errorf("expected no gates, got %v", gates)
	}
}

func TestParseGatesStopsAtNextHeading(t *testing.T) {
	content := "## Quality Gates\n\n| Tool | Command |\n|---|---|\n| a | echo a |\n\n## Other\n\n| b | echo b |\n"
	gates := ParseGates(content)
	if len(gates) != 1 || gates[0].Command != "echo a" {
		t.Fatalf("gates = %v", gates)
	}
}

func TestLoadMissingFile(t *testing.T) {
	content, err := Load(filepath.Join(t.TempDir(), "reality.md"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if content != "" {
		t.Errorf("expected empty content, got %q", content)
	}
}

func TestWriteAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reality.md")
	if err := Write(path, sampleIndex); err != nil {
		t.Fatalf("write: %v", err)
	}
	content, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if content != sampleIndex {
		t.Error("round trip mismatch")
	}
}

type fakeRunner struct {
	fail map[string]bool
	runs []string
}

func (f *fakeRunner) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	return f.RunShell(ctx, dir, name+" "+strings.Join(args, " "))
}

func (f *fakeRunner) RunShell(ctx context.Context, dir, command string) ([]byte, error) {
	f.runs = append(f.runs, command)
	if f.fail[command] {
		return []byte("boom"), context.DeadlineExceeded
	}
	return []byte("ok"), nil
}

func TestRunGates(t *testing.T) {
	runner := &fakeRunner{fail: map[string]bool{"go test ./...": true}}
	gates := ParseGates(sampleIndex)

	results, err := RunGates(context.Background(), runner, "/tmp/repo", gates, time.Minute)
	if err != nil {
		t.Fatalf("run gates: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results", len(results))
	}
	if !results[0].Passed || results[1].Passed || !results[2].Passed {
		t.Errorf("unexpected pass pattern: %+v", results)
	}
	if AllPassed(results) {
		t.Error("AllPassed should be false")
	}
	if results[1].Output != "boom" {
		t.Errorf("failed gate output = %q", results[1].Output)
	}
}

func TestRunGatesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := RunGates(ctx, &fakeRunner{}, "", ParseGates(sampleIndex), 0)
	if err == nil {
		t.Fatal("expected context error")
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestBuildUpdatePrompt(t *testing.T) {
	prompt := BuildUpdatePrompt(sampleIndex, []string{"f-ab12: Add login"})
	if !strings.Contains(prompt, "f-ab12: Add login") {
		t.Error("missing completed task")
	}
	if !strings.Contains(prompt, GatesHeading) {
		t.Error("missing gates heading instruction")
	}
	if !strings.Contains(prompt, "Revise it") {
		t.Error("existing index should prompt a revision")
	}

	fresh := BuildUpdatePrompt("", nil)
	if !strings.Contains(fresh, "No index exists yet") {
		t.Error("fresh prompt should ask for a survey")
	}
}
