package consume

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/fuelsh/fuel/internal/config"
	"github.com/fuelsh/fuel/internal/ipc"
	"github.com/fuelsh/fuel/pkg/models"
)

// handleCommand processes one client command. Task mutations reuse the task
// service, so IPC and direct CLI edits obey the same rules.
func (d *Daemon) handleCommand(clientID string, cmd *ipc.Command) {
	d.log.Debug("ipc command",
		zap.String("client", clientID),
		zap.String("type", cmd.Type))

	switch cmd.Type {
	case ipc.CmdStop:
		if cmd.Graceful != nil && !*cmd.Graceful {
			d.forceKill.Store(true)
		}
		d.requestStop(0)

	case ipc.CmdPause:
		d.paused.Store(true)
		d.publishSnapshot(true)

	case ipc.CmdResume:
		d.paused.Store(false)
		d.publishSnapshot(true)
		d.wakeLoop()

	case ipc.CmdReloadConfig:
		d.reloadConfig(clientID, cmd.RequestID)

	case ipc.CmdSetInterval:
		if cmd.IntervalSeconds <= 0 {
			d.replyError(clientID, cmd.RequestID, fmt.Errorf("interval must be positive"))
			return
		}
		d.interval.Store(int64(cmd.IntervalSeconds))
		d.publishSnapshot(true)
		d.wakeLoop()

	case ipc.CmdRequestSnapshot:
		snap, err := d.buildSnapshot()
		if err != nil {
			d.replyError(clientID, cmd.RequestID, err)
			return
		}
		ev := ipc.NewEvent(ipc.EventSnapshot, d.instanceID)
		ev.RequestID = cmd.RequestID
		ev.Snapshot = snap
		d.server.Reply(clientID, ev)

	case ipc.CmdTaskStart:
		if cmd.Agent != "" {
			if _, ok := d.config().Agents[cmd.Agent]; !ok {
				d.replyError(clientID, cmd.RequestID, fmt.Errorf("unknown agent %q", cmd.Agent))
				return
			}
		}
		t, err := d.tasks.Find(cmd.TaskID)
		if err != nil {
			d.replyError(clientID, cmd.RequestID, err)
			return
		}
		switch t.Status {
		case models.TaskStatusOpen:
		case models.TaskStatusSomeday, models.TaskStatusPaused:
			if _, err := d.tasks.Reopen(t.ShortID); err != nil {
				d.replyError(clientID, cmd.RequestID, err)
				return
			}
		default:
			d.replyError(clientID, cmd.RequestID,
				fmt.Errorf("task %s is %s, not startable", t.ShortID, t.Status))
			return
		}
		if cmd.Agent != "" {
			d.setAgentOverride(t.ShortID, cmd.Agent)
		}
		d.publishSnapshot(true)
		d.wakeLoop()

	case ipc.CmdTaskReopen:
		if err := d.reopenTask(cmd.TaskID); err != nil {
			d.replyError(clientID, cmd.RequestID, err)
			return
		}
		d.publishSnapshot(true)
		d.wakeLoop()

	case ipc.CmdTaskDone:
		if _, err := d.tasks.Done(cmd.TaskID, cmd.Reason, cmd.CommitHash); err != nil {
			d.replyError(clientID, cmd.RequestID, err)
			return
		}
		d.publishSnapshot(true)
		d.wakeLoop()

	case ipc.CmdTaskCreate:
		if cmd.Task == nil {
			d.replyError(clientID, cmd.RequestID, fmt.Errorf("task_create needs a task"))
			return
		}
		if err := d.tasks.Create(cmd.Task); err != nil {
			d.replyError(clientID, cmd.RequestID, err)
			return
		}
		ev := ipc.NewEvent(ipc.EventTaskCreateResponse, d.instanceID)
		ev.RequestID = cmd.RequestID
		ev.Task = cmd.Task
		d.server.Reply(clientID, ev)
		d.publishSnapshot(true)
		d.wakeLoop()

	case ipc.CmdDependencyAdd:
		if err := d.tasks.AddDependency(cmd.TaskID, cmd.BlockedBy); err != nil {
			d.replyError(clientID, cmd.RequestID, err)
			return
		}
		d.publishSnapshot(true)

	case ipc.CmdHealthReset:
		if err := d.resetHealth(cmd.Agent); err != nil {
			d.replyError(clientID, cmd.RequestID, err)
			return
		}
		d.publishSnapshot(true)
		d.wakeLoop()

	default:
		d.replyError(clientID, cmd.RequestID, fmt.Errorf("unknown command %q", cmd.Type))
	}
}

// reopenTask reopens a task and clears the labels that would keep the
// resolver away from it.
func (d *Daemon) reopenTask(taskID string) error {
	t, err := d.tasks.Reopen(taskID)
	if err != nil {
		return err
	}
	if t.HasLabel(models.LabelNeedsHuman) {
		t.RemoveLabel(models.LabelNeedsHuman)
		return d.tasks.Update(t)
	}
	return nil
}

func (d *Daemon) resetHealth(agent string) error {
	if agent != "" {
		return d.health.Reset(agent)
	}
	all, err := d.health.All()
	if err != nil {
		return err
	}
	for name := range all {
		if err := d.health.Reset(name); err != nil {
			return err
		}
	}
	return nil
}

// reloadConfig swaps in a freshly validated config; a bad file keeps the
// old one.
func (d *Daemon) reloadConfig(clientID, requestID string) {
	cfg, err := config.Load(d.ws.ConfigPath())
	if err != nil {
		d.log.Error("config reload rejected", zap.Error(err))
		d.replyError(clientID, requestID, err)
		return
	}
	d.setConfig(cfg)
	d.interval.Store(int64(cfg.IntervalSeconds))

	ev := ipc.NewEvent(ipc.EventConfigReloaded, d.instanceID)
	ev.RequestID = requestID
	d.server.Broadcast(ev)
	d.publishSnapshot(true)
	d.wakeLoop()
}

func (d *Daemon) replyError(clientID, requestID string, err error) {
	ev := ipc.NewEvent(ipc.EventError, d.instanceID)
	ev.RequestID = requestID
	ev.Error = err.Error()
	d.server.Reply(clientID, ev)
}
