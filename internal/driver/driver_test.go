package driver

import (
	"reflect"
	"strings"
	"testing"
)

func TestRegistryHasBuiltins(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"claude", "cursor-agent", "opencode", "amp", "codex"} {
		if _, err := r.Get(name); err != nil {
			t.Errorf("expected driver %q registered: %v", name, err)
		}
	}
	if _, err := r.Get("nonexistent"); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestBuildArgsFlagPrompt(t *testing.T) {
	r := NewRegistry()
	d, _ := r.Get("claude")

	args := d.BuildArgs("claude-sonnet-4-5", []string{"--max-turns", "40"}, "fix the bug")
	want := []string{
		"--output-format", "stream-json",
		"--print",
		"--verbose",
		"--dangerously-skip-permissions",
		"--model", "claude-sonnet-4-5",
		"--max-turns", "40",
		"-p", "fix the bug",
	}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("BuildArgs mismatch:\n got %v\nwant %v", args, want)
	}
}

func TestBuildArgsPositionalPrompt(t *testing.T) {
	r := NewRegistry()
	d, _ := r.Get("codex")

	args := d.BuildArgs("", nil, "write tests")
	if args[len(args)-1] != "write tests" {
		t.Errorf("expected prompt last, got %v", args)
	}
	for _, a := range args {
		if a == "--model" {
			t.Error("model flag should be omitted when model is empty")
		}
	}
}

func TestResumeArgs(t *testing.T) {
	r := NewRegistry()

	claude, _ := r.Get("claude")
	args := claude.ResumeArgs("sess-123")
	if args == nil {
		t.Fatal("claude supports resume")
	}
	found := false
	for i, a := range args {
		if a == "--resume" && i+1 < len(args) && args[i+1] == "sess-123" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected --resume sess-123 in %v", args)
	}

	codex, _ := r.Get("codex")
	if codex.ResumeArgs("sess-123") != nil {
		t.Error("codex does not support resume")
	}
}

func TestResumeArgsSubcommandTokens(t *testing.T) {
	r := NewRegistry()
	amp, _ := r.Get("amp")

	args := amp.ResumeArgs("T-abc123")
	for _, a := range args {
		if strings.Contains(a, " ") {
			t.Errorf("argv token %q contains a space; subcommands must be separate tokens", a)
		}
	}
	want := []string{"threads", "continue", "T-abc123"}
	if len(args) < len(want) {
		t.Fatalf("resume argv too short: %v", args)
	}
	if got := args[len(args)-3:]; !reflect.DeepEqual(got, want) {
		t.Errorf("expected argv to end with %v, got %v", want, got)
	}
}

func TestMatchesPermissionFailure(t *testing.T) {
	r := NewRegistry()
	claude, _ := r.Get("claude")
	codex, _ := r.Get("codex")

	tests := []struct {
		d        *Driver
		exitCode int
		stderr   string
		want     bool
	}{
		{claude, 1, "Error: Permission denied while writing file", true},
		{claude, 1, "Credit balance is too low", true},
		{claude, 1, "something else broke", false},
		{codex, 77, "", true},
		{codex, 1, "insufficient_quota for this key", true},
		{codex, 1, "segfault", false},
	}
	for _, tt := range tests {
		if got := tt.d.MatchesPermissionFailure(tt.exitCode, tt.stderr); got != tt.want {
			t.Errorf("%s MatchesPermissionFailure(%d, %q) = %v, want %v",
				tt.d.Name, tt.exitCode, tt.stderr, got, tt.want)
		}
	}
}

func TestMatchesNetworkFailure(t *testing.T) {
	r := NewRegistry()
	d, _ := r.Get("claude")

	if !d.MatchesNetworkFailure("dial tcp: connection refused") {
		t.Error("expected connection refused to classify as network")
	}
	if !d.MatchesNetworkFailure("request timed out after 60s") {
		t.Error("expected timeout to classify as network")
	}
	if d.MatchesNetworkFailure("panic: nil pointer") {
		t.Error("crash should not classify as network")
	}
}
