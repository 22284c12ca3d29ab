package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

// ErrDaemonRunning indicates another live daemon owns the PID file.
var ErrDaemonRunning = errors.New("another consume daemon is already running")

// PIDFile is the JSON record written by a running daemon.
type PIDFile struct {
	// PID is the daemon process id.
	PID int `json:"pid"`
	// SocketPath is the IPC socket the daemon listens on.
	SocketPath string `json:"path"`
	// StartedAt is when the daemon booted.
	StartedAt time.Time `json:"started_at"`
	// InstanceID is the daemon's uuid.
	InstanceID string `json:"instance_id"`
}

// ReadPIDFile loads the PID file at path, if present.
func ReadPIDFile(path string) (*PIDFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pf PIDFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse pid file: %w", err)
	}
	return &pf, nil
}

// AcquirePIDFile writes the PID file atomically. A stale file left by a dead
// process is reclaimed; a live owner yields ErrDaemonRunning.
func AcquirePIDFile(path string, pf *PIDFile) error {
	if existing, err := ReadPIDFile(path); err == nil {
		if existing.PID != pf.PID && processAlive(existing.PID) {
			return fmt.Errorf("%w (pid %d)", ErrDaemonRunning, existing.PID)
		}
	}
	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pid file: %w", err)
	}
	return WriteFileAtomic(path, append(data, '\n'), 0o644)
}

// ReleasePIDFile removes the PID file if this process owns it.
func ReleasePIDFile(path string, pid int) error {
	existing, err := ReadPIDFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if existing.PID != pid {
		return nil
	}
	return os.Remove(path)
}

// processAlive reports whether a process with the given pid exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
