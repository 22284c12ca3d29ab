// Package workspace resolves the project root and the .fuel/ state layout.
// All durable daemon state lives under .fuel/ in the project root.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirName is the state directory created in the project root.
const DirName = ".fuel"

// Context resolves filesystem locations for a single project.
type Context struct {
	// Root is the absolute project root directory.
	Root string
}

// Resolve determines the project root. FUEL_CWD wins when set; otherwise the
// search walks up from the working directory looking for an existing .fuel/
// or .git/ marker, falling back to the working directory itself.
func Resolve() (*Context, error) {
	if cwd := os.Getenv("FUEL_CWD"); cwd != "" {
		abs, err := filepath.Abs(cwd)
		if err != nil {
			return nil, fmt.Errorf("resolve FUEL_CWD: %w", err)
		}
		return &Context{Root: abs}, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}

	dir := wd
	for {
		for _, marker := range []string{DirName, ".git"} {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return &Context{Root: dir}, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return &Context{Root: wd}, nil
}

// FuelDir returns the .fuel state directory.
func (c *Context) FuelDir() string { return filepath.Join(c.Root, DirName) }

// DBPath returns the SQLite store file.
func (c *Context) DBPath() string { return filepath.Join(c.FuelDir(), "agent.db") }

// PIDPath returns the daemon's PID file.
func (c *Context) PIDPath() string { return filepath.Join(c.FuelDir(), "consume.pid") }

// SocketPath returns the daemon's IPC socket.
func (c *Context) SocketPath() string { return filepath.Join(c.FuelDir(), "consume.sock") }

// ConfigPath returns the config file, honoring FUEL_CONFIG.
func (c *Context) ConfigPath() string {
	if p := os.Getenv("FUEL_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(c.FuelDir(), "config.yaml")
}

// PlansDir returns the epic plan directory.
func (c *Context) PlansDir() string { return filepath.Join(c.FuelDir(), "plans") }

// RunsDir returns the captured run output directory.
func (c *Context) RunsDir() string { return filepath.Join(c.FuelDir(), "runs") }

// RunLogPath returns the output capture file for a run.
func (c *Context) RunLogPath(runID string) string {
	return filepath.Join(c.RunsDir(), runID+".log")
}

// MirrorsDir returns the base directory for epic mirrors.
func (c *Context) MirrorsDir() string { return filepath.Join(c.FuelDir(), "mirrors") }

// MirrorPath returns the mirror directory for an epic of this project.
func (c *Context) MirrorPath(epicShortID string) string {
	return filepath.Join(c.MirrorsDir(), filepath.Base(c.Root), epicShortID)
}

// RealityPath returns the reality index file.
func (c *Context) RealityPath() string { return filepath.Join(c.FuelDir(), "reality.md") }

// EnsureLayout creates the state directories that must exist before the
// daemon starts.
func (c *Context) EnsureLayout() error {
	for _, dir := range []string{c.FuelDir(), c.PlansDir(), c.RunsDir(), c.MirrorsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
