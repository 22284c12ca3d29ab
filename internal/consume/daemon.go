// Package consume implements the orchestrator daemon: a scheduler loop that
// resolves ready tasks, spawns supervised agents for them, and serves board
// snapshots and commands over a unix socket.
package consume

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fuelsh/fuel/internal/config"
	"github.com/fuelsh/fuel/internal/driver"
	"github.com/fuelsh/fuel/internal/git"
	"github.com/fuelsh/fuel/internal/health"
	"github.com/fuelsh/fuel/internal/ipc"
	"github.com/fuelsh/fuel/internal/mirror"
	"github.com/fuelsh/fuel/internal/review"
	"github.com/fuelsh/fuel/internal/state"
	"github.com/fuelsh/fuel/internal/supervise"
	"github.com/fuelsh/fuel/internal/task"
	"github.com/fuelsh/fuel/internal/workspace"
)

// Exit codes returned by Run.
const (
	ExitOK          = 0
	ExitFatal       = 1
	ExitConflict    = 2
	ExitInterrupted = 130
)

// Daemon wires the store, supervisor, and IPC server into the consume loop.
type Daemon struct {
	ws     *workspace.Context
	store  *state.Store
	log    *zap.Logger
	gitFor git.Factory

	cfgMu sync.RWMutex
	cfg   *config.Config

	registry *driver.Registry
	sup      *supervise.Supervisor
	tasks    *task.Service
	reviews  *review.Service
	health   *health.Tracker
	mirrors  *mirror.Manager
	server   *ipc.Server

	instanceID string
	startedAt  time.Time
	paused     atomic.Bool
	interval   atomic.Int64

	snapMu       sync.Mutex
	lastSnapHash string

	// overrides pins a task to a specific agent for its next spawn.
	ovMu      sync.Mutex
	overrides map[string]string

	// forceKill skips the grace window on shutdown.
	forceKill atomic.Bool

	wake chan struct{}
	stop chan int

	// storeErrRetried tracks the single automatic retry after a store error.
	storeErrRetried atomic.Bool
}

// New builds a Daemon for the workspace. The config must already validate.
func New(ws *workspace.Context, cfg *config.Config, store *state.Store, log *zap.Logger) *Daemon {
	d := &Daemon{
		ws:         ws,
		cfg:        cfg,
		store:      store,
		log:        log,
		gitFor:     func(path string) git.Runner { return git.NewRunner(path) },
		registry:   driver.NewRegistry(),
		instanceID: uuid.NewString(),
		startedAt:  time.Now().UTC(),
		overrides:  make(map[string]string),
		wake:       make(chan struct{}, 1),
		stop:       make(chan int, 1),
	}
	d.interval.Store(int64(cfg.IntervalSeconds))

	d.sup = supervise.NewSupervisor(store, ws, d.registry, log)
	d.sup.OnComplete = d.handleCompletion
	d.sup.OnChunk = d.handleChunk
	d.tasks = task.NewService(store, ws.PlansDir(), log)
	d.reviews = review.NewService(store, log)
	d.health = health.NewTracker(store.Health, log)
	d.mirrors = mirror.NewManager(store, ws, d.gitFor, log)
	d.server = ipc.NewServer(ws.SocketPath(), d.instanceID, cfg.ClientBufferBytes, d.handleCommand, log)
	d.server.OnConnect = d.greetClient
	return d
}

// greetClient pushes the current board to a freshly connected client, so it
// renders without waiting for the next tick.
func (d *Daemon) greetClient(clientID string) {
	snap, err := d.buildSnapshot()
	if err != nil {
		d.log.Error("snapshot for new client", zap.Error(err))
		return
	}
	ev := ipc.NewEvent(ipc.EventSnapshot, d.instanceID)
	ev.Snapshot = snap
	d.server.Reply(clientID, ev)
}

func (d *Daemon) config() *config.Config {
	d.cfgMu.RLock()
	defer d.cfgMu.RUnlock()
	return d.cfg
}

func (d *Daemon) setConfig(cfg *config.Config) {
	d.cfgMu.Lock()
	d.cfg = cfg
	d.cfgMu.Unlock()
}

// Run executes the daemon until stopped. The returned code is the process
// exit code.
func (d *Daemon) Run(ctx context.Context) int {
	if err := d.ws.EnsureLayout(); err != nil {
		d.log.Error("workspace layout", zap.Error(err))
		return ExitFatal
	}

	pf := &workspace.PIDFile{
		PID:        os.Getpid(),
		SocketPath: d.ws.SocketPath(),
		StartedAt:  d.startedAt,
		InstanceID: d.instanceID,
	}
	if err := workspace.AcquirePIDFile(d.ws.PIDPath(), pf); err != nil {
		d.log.Error("acquire pid file", zap.Error(err))
		if errors.Is(err, workspace.ErrDaemonRunning) {
			return ExitConflict
		}
		return ExitFatal
	}
	defer workspace.ReleasePIDFile(d.ws.PIDPath(), pf.PID)

	// Runs orphaned by a previous daemon are finalized before scheduling.
	if n, err := d.store.RecoverOrphanedRuns(); err != nil {
		d.log.Error("recover orphaned runs", zap.Error(err))
		return ExitFatal
	} else if n > 0 {
		d.log.Info("recovered orphaned runs", zap.Int("count", n))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverErr := make(chan error, 1)
	go func() { serverErr <- d.server.Listen(ctx) }()

	done := make(chan struct{})
	defer close(done)
	if err := config.Watch(d.ws.ConfigPath(), d.log, done, func(cfg *config.Config) {
		d.setConfig(cfg)
		d.interval.Store(int64(cfg.IntervalSeconds))
		ev := ipc.NewEvent(ipc.EventConfigReloaded, d.instanceID)
		d.server.Broadcast(ev)
		d.wakeLoop()
	}); err != nil {
		d.log.Warn("config watcher disabled", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	d.log.Info("consume daemon started",
		zap.String("instance", d.instanceID),
		zap.String("root", d.ws.Root),
		zap.Int("pid", pf.PID))

	d.publishSnapshot(true)

	code := d.loop(ctx, sigCh, serverErr)
	d.shutdown()
	return code
}

// loop is the scheduler: tick on the interval, or earlier when completions
// or commands wake it.
func (d *Daemon) loop(ctx context.Context, sigCh <-chan os.Signal, serverErr <-chan error) int {
	for {
		d.tick(ctx)

		timer := time.NewTimer(time.Duration(d.interval.Load()) * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ExitOK
		case sig := <-sigCh:
			timer.Stop()
			d.log.Info("signal received", zap.String("signal", sig.String()))
			if sig == syscall.SIGINT {
				return ExitInterrupted
			}
			return ExitOK
		case code := <-d.stop:
			timer.Stop()
			return code
		case err := <-serverErr:
			timer.Stop()
			if err != nil {
				d.log.Error("ipc server failed", zap.Error(err))
				return ExitFatal
			}
			return ExitOK
		case <-d.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// shutdown stops children within the grace window and closes everything.
// A forceful stop skips the grace window and kills children outright.
func (d *Daemon) shutdown() {
	if d.forceKill.Load() {
		d.log.Info("shutting down forcefully")
		d.sup.KillAll(time.Second)
	} else {
		grace := d.config().ShutdownGrace()
		d.log.Info("shutting down", zap.Duration("grace", grace))
		d.sup.StopAll(grace + time.Second)
	}

	// Children that died mid-task release their tasks for the next daemon.
	if _, err := d.store.RecoverOrphanedRuns(); err != nil {
		d.log.Warn("final run recovery", zap.Error(err))
	}
	d.server.Close()
	d.log.Info("consume daemon stopped")
}

// requestStop asks the loop to exit with the given code.
func (d *Daemon) requestStop(code int) {
	select {
	case d.stop <- code:
	default:
	}
}

// setAgentOverride pins a task to an agent for its next spawn.
func (d *Daemon) setAgentOverride(taskID, agent string) {
	d.ovMu.Lock()
	if d.overrides == nil {
		d.overrides = make(map[string]string)
	}
	d.overrides[taskID] = agent
	d.ovMu.Unlock()
}

// peekAgentOverride returns the pinned agent for a task, if any.
func (d *Daemon) peekAgentOverride(taskID string) string {
	d.ovMu.Lock()
	defer d.ovMu.Unlock()
	return d.overrides[taskID]
}

// clearAgentOverride drops a task's pin, once it spawned.
func (d *Daemon) clearAgentOverride(taskID string) {
	d.ovMu.Lock()
	delete(d.overrides, taskID)
	d.ovMu.Unlock()
}

// wakeLoop nudges the scheduler without waiting for the tick.
func (d *Daemon) wakeLoop() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// handleChunk forwards a child's output line to clients.
func (d *Daemon) handleChunk(runID, taskID string, line []byte) {
	ev := ipc.NewEvent(ipc.EventOutputChunk, d.instanceID)
	ev.RunID = runID
	ev.TaskID = taskID
	ev.Chunk = string(line)
	d.server.Broadcast(ev)
}

// storeFailure handles a store error: the first one triggers an immediate
// retry tick, a second consecutive one is fatal. SQLite errors here mean the
// state file is gone or corrupt; running blind would lose work.
func (d *Daemon) storeFailure(err error) {
	d.log.Error("store operation failed", zap.Error(err))
	if d.storeErrRetried.CompareAndSwap(false, true) {
		go func() {
			time.Sleep(time.Second)
			d.storeErrRetried.Store(false)
			d.wakeLoop()
		}()
		return
	}
	ev := ipc.NewEvent(ipc.EventError, d.instanceID)
	ev.Error = fmt.Sprintf("fatal store error: %v", err)
	d.server.Broadcast(ev)
	d.requestStop(ExitFatal)
}
