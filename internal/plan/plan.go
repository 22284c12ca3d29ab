// Package plan manages epic plan files under .fuel/plans. Each epic gets a
// markdown plan with a machine-appendable "## Progress Log" section.
package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/fuelsh/fuel/internal/workspace"
)

// ProgressHeading marks the section agents append iteration notes to.
const ProgressHeading = "## Progress Log"

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slug converts a title into a filesystem-safe slug.
func Slug(title string) string {
	s := slugPattern.ReplaceAllString(strings.ToLower(title), "-")
	s = strings.Trim(s, "-")
	if len(s) > 60 {
		s = s[:60]
		s = strings.TrimRight(s, "-")
	}
	if s == "" {
		s = "epic"
	}
	return s
}

// Filename returns the plan filename for an epic.
func Filename(title, epicShortID string) string {
	return fmt.Sprintf("%s-%s.md", Slug(title), epicShortID)
}

// Create writes a fresh plan file for an epic and returns its filename.
// An existing plan is left untouched.
func Create(plansDir, title, description, epicShortID string) (string, error) {
	if err := os.MkdirAll(plansDir, 0o755); err != nil {
		return "", fmt.Errorf("create plans directory: %w", err)
	}
	name := Filename(title, epicShortID)
	path := filepath.Join(plansDir, name)
	if _, err := os.Stat(path); err == nil {
		return name, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "Epic: %s\n\n", epicShortID)
	if description != "" {
		b.WriteString(description)
		b.WriteString("\n\n")
	}
	b.WriteString("## Plan\n\n_TBD_\n\n")
	b.WriteString(ProgressHeading + "\n")

	if err := workspace.WriteFileAtomic(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write plan %s: %w", name, err)
	}
	return name, nil
}

// Read returns the full plan contents.
func Read(plansDir, filename string) (string, error) {
	data, err := os.ReadFile(filepath.Join(plansDir, filename))
	if err != nil {
		return "", fmt.Errorf("read plan %s: %w", filename, err)
	}
	return string(data), nil
}

// ProgressLog extracts the text under the Progress Log heading.
func ProgressLog(content string) string {
	idx := strings.Index(content, ProgressHeading)
	if idx < 0 {
		return ""
	}
	section := content[idx+len(ProgressHeading):]
	// Stop at the next top- or second-level heading.
	if next := strings.Index(section, "\n## "); next >= 0 {
		section = section[:next]
	}
	return strings.TrimSpace(section)
}

// AppendProgress appends an entry to the Progress Log section, creating the
// section at the end of the file when absent. The write is atomic.
func AppendProgress(plansDir, filename, entry string) error {
	path := filepath.Join(plansDir, filename)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read plan %s: %w", filename, err)
	}
	content := string(data)
	if !strings.Contains(content, ProgressHeading) {
		content = strings.TrimRight(content, "\n") + "\n\n" + ProgressHeading + "\n"
	}
	content = strings.TrimRight(content, "\n") + "\n\n" + strings.TrimSpace(entry) + "\n"
	return workspace.WriteFileAtomic(path, []byte(content), 0o644)
}
