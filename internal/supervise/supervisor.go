// Package supervise spawns and supervises agent child processes. Each run
// gets its own process, output capture file, and stream reader; completions
// are classified per driver signatures and reported through a callback.
package supervise

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fuelsh/fuel/internal/config"
	"github.com/fuelsh/fuel/internal/driver"
	"github.com/fuelsh/fuel/internal/state"
	"github.com/fuelsh/fuel/internal/workspace"
	"github.com/fuelsh/fuel/pkg/models"
)

// ErrAtCapacity indicates the agent's concurrency limit is reached. The
// caller leaves the task in place and tries again next tick.
var ErrAtCapacity = errors.New("agent at capacity")

// ConfigError marks a spawn failure caused by configuration rather than the
// child: unknown driver, missing binary. Not retryable without a config fix.
type ConfigError struct {
	Agent string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("agent %s misconfigured: %v", e.Agent, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Spec describes one child process to spawn.
type Spec struct {
	// Task is the task the run works on.
	Task *models.Task
	// Agent is the logical agent name from config.
	Agent string
	// AgentConfig is the resolved driver invocation for the agent.
	AgentConfig config.AgentConfig
	// Prompt is the full prompt text passed to the agent.
	Prompt string
	// ResumeSessionID resumes a prior session when the driver supports it.
	ResumeSessionID string
	// WorkDir is the directory the child runs in.
	WorkDir string
	// Timeout is the hard per-run deadline.
	Timeout time.Duration
	// Limit caps simultaneous children for this agent.
	Limit int
	// ProcessType labels the run for snapshots (work, review, merge, ...).
	ProcessType string
}

// CompletionResult is delivered to the completion callback when a child
// exits, after the run row is finalized.
type CompletionResult struct {
	Run         *models.Run
	TaskID      string
	Agent       string
	ProcessType string
	Type        models.CompletionType
	ExitCode    int
	StderrTail  string
	ResultText  string
	SessionID   string
	CostUSD     float64
}

// Process is one supervised child.
type Process struct {
	Run         *models.Run
	Agent       string
	TaskID      string
	ProcessType string
	StartedAt   time.Time

	cmd         *exec.Cmd
	cancel      context.CancelFunc
	ring        *outputRing
	stderr      *outputRing
	state       *streamState
	ready       chan struct{}
	releaseOnce sync.Once
	done        chan struct{}
}

// Release starts the stream readers. Spawn returns with the readers held
// back so the caller can announce the process before any output arrives;
// every successful Spawn must be followed by a Release.
func (p *Process) Release() {
	p.releaseOnce.Do(func() { close(p.ready) })
}

// OutputTail returns the retained tail of the child's output.
func (p *Process) OutputTail() string { return p.ring.String() }

// Done is closed after the completion callback has run.
func (p *Process) Done() <-chan struct{} { return p.done }

// Supervisor owns all running children. Methods are safe for concurrent use.
type Supervisor struct {
	store    *state.Store
	ws       *workspace.Context
	registry *driver.Registry
	log      *zap.Logger

	mu     sync.Mutex
	procs  map[string]*Process
	counts map[string]int

	// OnComplete is invoked once per child after its run row is finalized.
	OnComplete func(*CompletionResult)
	// OnChunk is invoked per output line while a child runs.
	OnChunk func(runID, taskID string, line []byte)
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(store *state.Store, ws *workspace.Context, registry *driver.Registry, log *zap.Logger) *Supervisor {
	return &Supervisor{
		store:    store,
		ws:       ws,
		registry: registry,
		log:      log,
		procs:    make(map[string]*Process),
		counts:   make(map[string]int),
	}
}

// Spawn launches a child for the spec. Returns ErrAtCapacity when the
// agent's slot limit is reached and a ConfigError when the driver or binary
// cannot be resolved. grace is the SIGTERM-to-SIGKILL window on cancellation.
func (s *Supervisor) Spawn(ctx context.Context, spec Spec, grace time.Duration) (*Process, error) {
	s.mu.Lock()
	if spec.Limit > 0 && s.counts[spec.Agent] >= spec.Limit {
		s.mu.Unlock()
		return nil, ErrAtCapacity
	}
	s.counts[spec.Agent]++
	s.mu.Unlock()

	proc, err := s.start(ctx, spec, grace)
	if err != nil {
		s.mu.Lock()
		s.counts[spec.Agent]--
		s.mu.Unlock()
		return nil, err
	}
	return proc, nil
}

func (s *Supervisor) start(ctx context.Context, spec Spec, grace time.Duration) (*Process, error) {
	d, err := s.registry.Get(spec.AgentConfig.Driver)
	if err != nil {
		return nil, &ConfigError{Agent: spec.Agent, Err: err}
	}
	command := spec.AgentConfig.Command
	if command == "" {
		command = d.Command
	}
	binary, err := exec.LookPath(command)
	if err != nil {
		return nil, &ConfigError{Agent: spec.Agent, Err: fmt.Errorf("binary %q not found: %w", command, err)}
	}

	var args []string
	if spec.ResumeSessionID != "" && d.SupportsResume {
		args = d.ResumeWithPromptArgs(spec.ResumeSessionID, spec.Prompt)
	}
	if args == nil {
		args = d.BuildArgs(spec.AgentConfig.Model, spec.AgentConfig.Args, spec.Prompt)
	}

	run := &models.Run{
		TaskID:    spec.Task.ShortID,
		Agent:     spec.Agent,
		Status:    models.RunStatusRunning,
		Model:     spec.AgentConfig.Model,
		StartedAt: time.Now().UTC(),
	}
	if err := s.store.Runs.Create(run); err != nil {
		return nil, fmt.Errorf("create run row: %w", err)
	}
	run.OutputPath = s.ws.RunLogPath(run.ShortID)

	outFile, err := os.OpenFile(run.OutputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		s.abortRun(run)
		return nil, fmt.Errorf("open run log: %w", err)
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	cmd := exec.CommandContext(runCtx, binary, args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = overlayEnv(os.Environ(), d.DefaultEnv, spec.AgentConfig.Env, map[string]string{
		"FUEL_TASK_ID": spec.Task.ShortID,
		"FUEL_RUN_ID":  run.ShortID,
	})
	// SIGTERM first, escalate to SIGKILL after the grace window.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = grace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		outFile.Close()
		s.abortRun(run)
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		outFile.Close()
		s.abortRun(run)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		outFile.Close()
		s.abortRun(run)
		return nil, &ConfigError{Agent: spec.Agent, Err: fmt.Errorf("start %s: %w", command, err)}
	}

	run.PID = cmd.Process.Pid
	if err := s.store.Runs.Update(run); err != nil {
		s.log.Warn("record run pid", zap.String("run", run.ShortID), zap.Error(err))
	}

	proc := &Process{
		Run:         run,
		Agent:       spec.Agent,
		TaskID:      spec.Task.ShortID,
		ProcessType: spec.ProcessType,
		StartedAt:   run.StartedAt,
		cmd:         cmd,
		cancel:      cancel,
		ring:        newOutputRing(),
		stderr:      newOutputRing(),
		state:       &streamState{},
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
	}

	s.mu.Lock()
	s.procs[run.ShortID] = proc
	s.mu.Unlock()

	s.log.Info("agent spawned",
		zap.String("run", run.ShortID),
		zap.String("task", spec.Task.ShortID),
		zap.String("agent", spec.Agent),
		zap.Int("pid", run.PID))

	go s.supervise(proc, d, stdout, stderrPipe, outFile, runCtx)
	return proc, nil
}

func (s *Supervisor) supervise(proc *Process, d *driver.Driver, stdout, stderrPipe io.Reader, outFile *os.File, runCtx context.Context) {
	defer close(proc.done)

	// No output is read, and so no chunk delivered, until the caller has
	// released the process.
	select {
	case <-proc.ready:
	case <-runCtx.Done():
	}

	var eg errgroup.Group
	eg.Go(func() error {
		return readStream(stdout, d, proc.state, proc.ring, outFile, func(line []byte) {
			if s.OnChunk != nil {
				s.OnChunk(proc.Run.ShortID, proc.TaskID, line)
			}
		})
	})
	eg.Go(func() error {
		return readStream(stderrPipe, d, proc.state, proc.stderr, outFile, nil)
	})
	if err := eg.Wait(); err != nil {
		s.log.Debug("stream read", zap.String("run", proc.Run.ShortID), zap.Error(err))
	}

	waitErr := proc.cmd.Wait()
	proc.cancel()
	outFile.Close()

	exitCode := 0
	if waitErr != nil {
		exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	}
	stderrTail := proc.stderr.String()
	completion := classify(runCtx, d, exitCode, stderrTail)

	now := time.Now().UTC()
	run := proc.Run
	run.EndedAt = &now
	run.DurationSeconds = now.Sub(run.StartedAt).Seconds()
	run.ExitCode = exitCode
	run.SessionID = proc.state.SessionID()
	run.CostUSD = proc.state.CostUSD()
	if completion == models.CompletionSuccess {
		run.Status = models.RunStatusCompleted
	} else {
		run.Status = models.RunStatusFailed
		run.ErrorType = completion
	}
	if err := s.store.Runs.Update(run); err != nil {
		s.log.Error("finalize run", zap.String("run", run.ShortID), zap.Error(err))
	}

	s.mu.Lock()
	delete(s.procs, run.ShortID)
	s.counts[proc.Agent]--
	s.mu.Unlock()

	s.log.Info("agent exited",
		zap.String("run", run.ShortID),
		zap.String("task", proc.TaskID),
		zap.Int("exit_code", exitCode),
		zap.String("completion", string(completion)),
		zap.Float64("cost_usd", run.CostUSD))

	if s.OnComplete != nil {
		s.OnComplete(&CompletionResult{
			Run:         run,
			TaskID:      proc.TaskID,
			Agent:       proc.Agent,
			ProcessType: proc.ProcessType,
			Type:        completion,
			ExitCode:    exitCode,
			StderrTail:  stderrTail,
			ResultText:  proc.state.LastText(),
			SessionID:   run.SessionID,
			CostUSD:     run.CostUSD,
		})
	}
}

// abortRun finalizes a run row whose child never started.
func (s *Supervisor) abortRun(run *models.Run) {
	now := time.Now().UTC()
	run.Status = models.RunStatusFailed
	run.ErrorType = models.CompletionFailed
	run.ExitCode = -1
	run.EndedAt = &now
	run.DurationSeconds = now.Sub(run.StartedAt).Seconds()
	if err := s.store.Runs.Update(run); err != nil {
		s.log.Error("finalize aborted run", zap.String("run", run.ShortID), zap.Error(err))
	}
}

// classify maps an exit into a completion type using the driver signatures.
// A deadline expiry counts as a network-class failure so it backs off and
// retries instead of burning a retry on a slow agent.
func classify(ctx context.Context, d *driver.Driver, exitCode int, stderr string) models.CompletionType {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return models.CompletionNetworkError
	}
	if exitCode == 0 {
		return models.CompletionSuccess
	}
	if d.MatchesPermissionFailure(exitCode, stderr) {
		return models.CompletionPermissionBlocked
	}
	if d.MatchesNetworkFailure(stderr) {
		return models.CompletionNetworkError
	}
	return models.CompletionFailed
}

// Stop cancels one child; the grace window set at spawn applies.
func (s *Supervisor) Stop(runID string) bool {
	s.mu.Lock()
	proc, ok := s.procs[runID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	proc.cancel()
	return true
}

// StopAll cancels every child and waits up to timeout for them to finish.
func (s *Supervisor) StopAll(timeout time.Duration) {
	s.mu.Lock()
	procs := make([]*Process, 0, len(s.procs))
	for _, p := range s.procs {
		procs = append(procs, p)
	}
	s.mu.Unlock()

	for _, p := range procs {
		p.cancel()
	}
	deadline := time.After(timeout)
	for _, p := range procs {
		select {
		case <-p.Done():
		case <-deadline:
			return
		}
	}
}

// KillAll sends SIGKILL to every child and waits up to timeout for their
// supervisors to finish. Used for forceful shutdown.
func (s *Supervisor) KillAll(timeout time.Duration) {
	s.mu.Lock()
	procs := make([]*Process, 0, len(s.procs))
	for _, p := range s.procs {
		procs = append(procs, p)
	}
	s.mu.Unlock()

	for _, p := range procs {
		if p.cmd.Process != nil {
			p.cmd.Process.Kill()
		}
		p.cancel()
	}
	deadline := time.After(timeout)
	for _, p := range procs {
		select {
		case <-p.Done():
		case <-deadline:
			return
		}
	}
}

// Running returns a snapshot of all live children.
func (s *Supervisor) Running() []*Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Process, 0, len(s.procs))
	for _, p := range s.procs {
		out = append(out, p)
	}
	return out
}

// RunningCount returns the live child count for a logical agent.
func (s *Supervisor) RunningCount(agent string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[agent]
}

// overlayEnv layers maps of KEY=VALUE pairs over a base environment.
func overlayEnv(base []string, overlays ...map[string]string) []string {
	env := append([]string{}, base...)
	for _, overlay := range overlays {
		for k, v := range overlay {
			env = append(env, k+"="+v)
		}
	}
	return env
}
