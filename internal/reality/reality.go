// Package reality manages the reality index: a markdown snapshot of the
// codebase that grounds agent prompts, including the quality-gate commands
// agents must pass before finishing a task.
package reality

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fuelsh/fuel/internal/execx"
	"github.com/fuelsh/fuel/internal/workspace"
)

// GatesHeading marks the section holding the quality-gate table.
const GatesHeading = "## Quality Gates"

// Gate is one row of the quality-gate table.
type Gate struct {
	// Tool is the display name (go, lint, ...).
	Tool string
	// Command is the shell command that must exit zero.
	Command string
	// Purpose says what the gate protects.
	Purpose string
}

// GateResult is the outcome of running one gate.
type GateResult struct {
	Gate   Gate
	Passed bool
	Output string
}

// Load reads the reality index, returning empty content when the file does
// not exist yet.
func Load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read reality index: %w", err)
	}
	return string(data), nil
}

// Write atomically replaces the reality index.
func Write(path, content string) error {
	return workspace.WriteFileAtomic(path, []byte(content), 0o644)
}

// ParseGates extracts quality gates from the index's gate table. Rows are
// markdown table lines of the form:
//
//	| Tool | Command | Purpose |
//
// The header and separator rows are skipped. A missing section means no
// gates.
func ParseGates(content string) []Gate {
	idx := strings.Index(content, GatesHeading)
	if idx < 0 {
		return nil
	}
	section := content[idx+len(GatesHeading):]
	if next := strings.Index(section, "\n## "); next >= 0 {
		section = section[:next]
	}

	var gates []Gate
	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "|") {
			continue
		}
		cells := splitRow(line)
		if len(cells) < 2 {
			continue
		}
		// Skip the header row and the |---|---| separator.
		if strings.EqualFold(cells[0], "tool") || strings.HasPrefix(cells[0], "-") {
			continue
		}
		g := Gate{Tool: cells[0], Command: stripCode(cells[1])}
		if len(cells) > 2 {
			g.Purpose = cells[2]
		}
		if g.Command != "" {
			gates = append(gates, g)
		}
	}
	return gates
}

func splitRow(line string) []string {
	line = strings.Trim(line, "|")
	parts := strings.Split(line, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// stripCode removes backtick fencing from a table cell.
func stripCode(s string) string {
	return strings.TrimSpace(strings.Trim(s, "`"))
}

// RunGates executes every gate in workDir and returns the results in table
// order. Execution stops early only when the context is cancelled.
func RunGates(ctx context.Context, runner execx.CommandRunner, workDir string, gates []Gate, perGateTimeout time.Duration) ([]GateResult, error) {
	results := make([]GateResult, 0, len(gates))
	for _, g := range gates {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		gateCtx := ctx
		if perGateTimeout > 0 {
			var cancel context.CancelFunc
			gateCtx, cancel = context.WithTimeout(ctx, perGateTimeout)
			defer cancel()
		}
		out, err := runner.RunShell(gateCtx, workDir, g.Command)
		results = append(results, GateResult{
			Gate:   g,
			Passed: err == nil,
			Output: string(out),
		})
	}
	return results, nil
}

// AllPassed reports whether every gate passed.
func AllPassed(results []GateResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// BuildUpdatePrompt assembles the prompt for the reality agent that
// refreshes the index after merged work.
func BuildUpdatePrompt(current string, completedTasks []string) string {
	var b strings.Builder
	b.WriteString("Update the reality index for this repository. The index is a\n")
	b.WriteString("markdown document describing the codebase as it actually is:\n")
	b.WriteString("layout, key packages, build and test commands, and a '")
	b.WriteString(GatesHeading)
	b.WriteString("' section\nwith a | Tool | Command | Purpose | table of commands that must pass.\n\n")
	if len(completedTasks) > 0 {
		b.WriteString("Recently completed work:\n")
		for _, t := range completedTasks {
			fmt.Fprintf(&b, "- %s\n", t)
		}
		b.WriteString("\n")
	}
	if current != "" {
		b.WriteString("Current index:\n\n---\n" + current + "\n---\n\n")
		b.WriteString("Revise it to match reality; keep sections that are still accurate.\n")
	} else {
		b.WriteString("No index exists yet; survey the repository and write one.\n")
	}
	return b.String()
}
