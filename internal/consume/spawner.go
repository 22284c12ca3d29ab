package consume

import (
	"context"
	"errors"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/fuelsh/fuel/internal/ipc"
	"github.com/fuelsh/fuel/internal/supervise"
	"github.com/fuelsh/fuel/pkg/models"
)

// tick is one scheduler pass: build pending mirrors, then spawn agents for
// ready work and reviews until the slots run out.
func (d *Daemon) tick(ctx context.Context) {
	if err := d.mirrors.ProcessPending(); err != nil {
		d.log.Error("process pending mirrors", zap.Error(err))
	}

	if d.paused.Load() {
		d.publishSnapshot(false)
		return
	}

	board, err := d.store.ReadBoard()
	if err != nil {
		d.storeFailure(err)
		return
	}
	epics := make(map[string]*models.Epic, len(board.Epics))
	for _, e := range board.Epics {
		epics[e.ShortID] = e
	}

	for _, t := range resolveReady(board.Tasks, epics) {
		if ctx.Err() != nil {
			return
		}
		d.spawnFor(ctx, t)
	}
	if d.config().ReviewEnabled() {
		for _, t := range board.Tasks {
			if ctx.Err() != nil {
				return
			}
			if t.Status == models.TaskStatusReview && !t.Consumed &&
				!t.HasLabel(models.LabelNeedsHuman) {
				d.spawnReview(ctx, t, epics[t.EpicID])
			}
		}
	}

	d.publishSnapshot(false)
}

// spawnFor starts an agent for one ready task. Capacity misses leave the
// task for the next tick; config errors park it for a human so the daemon
// does not spin on a broken agent definition.
func (d *Daemon) spawnFor(ctx context.Context, t *models.Task) {
	run, err := buildRun(d, t)
	if err != nil {
		d.log.Error("build run", zap.String("task", t.ShortID), zap.Error(err))
		return
	}
	d.spawnRun(ctx, run)
}

func (d *Daemon) spawnReview(ctx context.Context, t *models.Task, epic *models.Epic) {
	r := &reviewRun{task: t, epic: epic, workSummary: t.Reason}
	d.spawnRun(ctx, r)
}

func (d *Daemon) spawnRun(ctx context.Context, run agentRun) {
	cfg := d.config()
	t := run.Task()
	agentName := run.AgentName(d)
	if o := d.peekAgentOverride(t.ShortID); o != "" {
		agentName = o
	}
	agentCfg, ok := cfg.Agents[agentName]
	if !ok {
		d.parkForHuman(t, "agent "+agentName+" is not configured")
		return
	}

	available, err := d.health.IsAvailable(agentName)
	if err != nil {
		d.storeFailure(err)
		return
	}
	if !available {
		return
	}

	prompt, err := run.Prompt(d)
	if err != nil {
		d.log.Error("build prompt", zap.String("task", t.ShortID), zap.Error(err))
		return
	}

	if run.Kind() == kindReview {
		if _, err := d.reviews.Begin(t, agentName); err != nil {
			d.storeFailure(err)
			return
		}
	}

	proc, err := d.sup.Spawn(ctx, supervise.Spec{
		Task:            t,
		Agent:           agentName,
		AgentConfig:     agentCfg,
		Prompt:          prompt,
		ResumeSessionID: run.ResumeSessionID(d),
		WorkDir:         run.WorkDir(d),
		Timeout:         cfg.TaskTimeout(),
		Limit:           agentCfg.MaxConcurrent,
		ProcessType:     run.Kind(),
	}, cfg.ShutdownGrace())

	switch {
	case errors.Is(err, supervise.ErrAtCapacity):
		return
	case err != nil:
		var cfgErr *supervise.ConfigError
		if errors.As(err, &cfgErr) {
			d.parkForHuman(t, cfgErr.Error())
			return
		}
		d.log.Error("spawn", zap.String("task", t.ShortID), zap.Error(err))
		return
	}

	// Readers stay held until spawnRun returns, so the spawned event always
	// reaches clients before the first output chunk.
	defer proc.Release()

	now := time.Now().UTC()
	t.Consumed = true
	t.ConsumedAt = &now
	t.ConsumePID = os.Getpid()
	if t.Status == models.TaskStatusOpen {
		t.Status = models.TaskStatusInProgress
	}
	if err := d.store.Tasks.Update(t); err != nil {
		d.storeFailure(err)
		return
	}
	d.clearAgentOverride(t.ShortID)

	ev := ipc.NewEvent(ipc.EventTaskSpawned, d.instanceID)
	ev.TaskID = t.ShortID
	ev.RunID = proc.Run.ShortID
	ev.Agent = agentName
	d.server.Broadcast(ev)
}

// parkForHuman attaches a needs-human blocker so the resolver stops picking
// the task up, and tells clients why.
func (d *Daemon) parkForHuman(t *models.Task, why string) {
	if _, err := d.tasks.CreateNeedsHumanBlocker(t, why); err != nil {
		d.storeFailure(err)
		return
	}
	ev := ipc.NewEvent(ipc.EventError, d.instanceID)
	ev.TaskID = t.ShortID
	ev.Error = why
	d.server.Broadcast(ev)
}
