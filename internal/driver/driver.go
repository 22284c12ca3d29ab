// Package driver describes how each agent family is invoked. A driver is
// pure data: the binary, its standard argv, how the prompt and model are
// passed, the environment overlay, resume conventions, and the stderr/exit
// signatures that classify failures.
package driver

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownDriver indicates a config referenced a driver that is not registered.
var ErrUnknownDriver = errors.New("unknown agent driver")

// Driver declares the invocation conventions for one agent family.
type Driver struct {
	// Name is the canonical driver key (claude, codex, ...).
	Name string
	// Command is the binary looked up on PATH.
	Command string
	// DefaultArgs are always prepended to the argv.
	DefaultArgs []string
	// PromptArgs are the argv tokens that precede the prompt. Empty for
	// drivers that take the prompt positionally.
	PromptArgs []string
	// ModelArg is the flag that selects a model; empty if unsupported.
	ModelArg string
	// DefaultEnv is overlaid on the inherited environment.
	DefaultEnv map[string]string
	// SupportsResume is true if the agent can resume a prior session.
	SupportsResume bool
	// ResumeTokens are the argv tokens that resume a session by id. Usually
	// a single flag, but some CLIs use a subcommand ("threads", "continue").
	ResumeTokens []string
	// SessionIDFields are the stream-JSON keys that may carry the session id.
	SessionIDFields []string
	// CostFields are the stream-JSON keys that may carry a USD cost.
	CostFields []string
	// PermissionSignatures are stderr substrings marking a permission denial.
	PermissionSignatures []string
	// PermissionExitCodes are exit codes marking a permission denial.
	PermissionExitCodes []int
	// NetworkSignatures are stderr substrings marking a transient
	// network or timeout failure.
	NetworkSignatures []string
}

// BuildArgs assembles the child argv (minus the command itself) for a fresh
// run: defaults, optional model selection, extra args, then the prompt.
func (d *Driver) BuildArgs(model string, extra []string, prompt string) []string {
	args := append([]string{}, d.DefaultArgs...)
	if d.ModelArg != "" && model != "" {
		args = append(args, d.ModelArg, model)
	}
	args = append(args, extra...)
	if len(d.PromptArgs) > 0 {
		args = append(args, d.PromptArgs...)
	}
	args = append(args, prompt)
	return args
}

// ResumeArgs assembles the argv for resuming a session without a new prompt.
func (d *Driver) ResumeArgs(sessionID string) []string {
	if !d.SupportsResume || sessionID == "" {
		return nil
	}
	args := append([]string{}, d.DefaultArgs...)
	args = append(args, d.ResumeTokens...)
	return append(args, sessionID)
}

// ResumeWithPromptArgs assembles the argv for resuming a session with a
// follow-up prompt.
func (d *Driver) ResumeWithPromptArgs(sessionID, prompt string) []string {
	args := d.ResumeArgs(sessionID)
	if args == nil {
		return nil
	}
	if len(d.PromptArgs) > 0 {
		args = append(args, d.PromptArgs...)
	}
	return append(args, prompt)
}

// MatchesPermissionFailure reports whether the exit code or stderr matches
// this driver's permission-denied signatures.
func (d *Driver) MatchesPermissionFailure(exitCode int, stderr string) bool {
	for _, code := range d.PermissionExitCodes {
		if exitCode == code {
			return true
		}
	}
	lower := strings.ToLower(stderr)
	for _, sig := range d.PermissionSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// MatchesNetworkFailure reports whether stderr matches this driver's
// transient network/timeout signatures.
func (d *Driver) MatchesNetworkFailure(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, sig := range d.NetworkSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// Registry holds the known drivers keyed by canonical name.
type Registry struct {
	drivers map[string]*Driver
}

// NewRegistry returns a registry populated with the built-in drivers.
func NewRegistry() *Registry {
	r := &Registry{drivers: make(map[string]*Driver)}
	for _, d := range builtins() {
		r.drivers[d.Name] = d
	}
	return r
}

// Get returns the driver for the given canonical name.
func (r *Registry) Get(name string) (*Driver, error) {
	d, ok := r.drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, name)
	}
	return d, nil
}

// Names returns all registered driver names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	return names
}

// Register adds or replaces a driver. Used by tests to install fakes.
func (r *Registry) Register(d *Driver) {
	r.drivers[d.Name] = d
}
