package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fuelsh/fuel/internal/workspace"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a repository for fuel",
	Long: `Set up the .fuel/ state directory and a starter config.

Verifies git is available (epic mirrors clone through it), creates the
.fuel/ layout, writes config.yaml if absent, and adds .fuel/ runtime
files to .gitignore.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "rewrite config.yaml even if it exists")
}

const configTemplate = `# Fuel configuration. Agents are external CLI processes; fuel spawns and
# supervises them, it never talks to a model API itself.
primary: main

agents:
  main:
    driver: claude
    max_concurrent: 2
  # cheap:
  #   driver: claude
  #   model: claude-haiku
  #   max_concurrent: 4

# Route by estimated complexity; unset buckets fall back to primary.
# complexity:
#   trivial: cheap
#   simple: cheap

# review: main          # second agent pass over finished work
# reality: main         # keeps .fuel/reality.md fresh after merges
# epic_mirrors: true    # isolate epics in their own clone + branch

task_review: true
interval_seconds: 5
`

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", abs, err)
	}

	fmt.Printf("Initializing fuel in %s\n\n", abs)

	if _, err := exec.LookPath("git"); err != nil {
		printStatus("✗", "git not found in PATH; epic mirrors will not work", color.FgRed)
	} else {
		printStatus("✓", "git found", color.FgGreen)
	}

	ws := &workspace.Context{Root: abs}
	if err := ws.EnsureLayout(); err != nil {
		return err
	}
	printStatus("✓", "Created .fuel directory structure", color.FgGreen)

	cfgPath := filepath.Join(ws.FuelDir(), "config.yaml")
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) || initForce {
		if err := workspace.WriteFileAtomic(cfgPath, []byte(configTemplate), 0o644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		printStatus("✓", "Wrote .fuel/config.yaml", color.FgGreen)
	} else {
		printStatus("✓", ".fuel/config.yaml already exists", color.FgGreen)
	}

	if err := updateGitignore(abs); err != nil {
		printStatus("⚠", "could not update .gitignore: "+err.Error(), color.FgYellow)
	} else {
		printStatus("✓", "Updated .gitignore", color.FgGreen)
	}

	fmt.Printf("\n%s Ready.\n\n", color.GreenString("✓"))
	fmt.Println("Next steps:")
	fmt.Println("  fuel task add \"your first task\"")
	fmt.Println("  fuel consume")
	return nil
}

// updateGitignore adds the .fuel runtime files that must not be committed.
func updateGitignore(root string) error {
	path := filepath.Join(root, ".gitignore")
	entries := []string{
		".fuel/agent.db*",
		".fuel/consume.pid",
		".fuel/consume.sock",
		".fuel/runs/",
		".fuel/mirrors/",
	}

	var existing string
	if data, err := os.ReadFile(path); err == nil {
		existing = string(data)
	}

	var missing []string
	for _, e := range entries {
		if !strings.Contains(existing, e) {
			missing = append(missing, e)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(existing)
	if existing != "" && !strings.HasSuffix(existing, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\n# fuel\n")
	for _, e := range missing {
		b.WriteString(e + "\n")
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// printStatus prints a status line with a colored symbol.
func printStatus(symbol, message string, attr color.Attribute) {
	fmt.Printf("%s %s\n", color.New(attr).Sprint(symbol), message)
}
