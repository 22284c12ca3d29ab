package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"

	"github.com/fuelsh/fuel/internal/config"
	"github.com/fuelsh/fuel/internal/ipc"
	"github.com/fuelsh/fuel/internal/logging"
	"github.com/fuelsh/fuel/internal/state"
	"github.com/fuelsh/fuel/internal/task"
	"github.com/fuelsh/fuel/internal/workspace"
	"github.com/fuelsh/fuel/pkg/models"
)

// dialTimeout bounds how long CLI commands wait for the daemon socket.
const dialTimeout = 2 * time.Second

// services bundles everything a store-backed CLI command needs.
type services struct {
	ws    *workspace.Context
	cfg   *config.Config
	store *state.Store
	tasks *task.Service
	log   *zap.Logger
}

// openServices resolves the workspace, loads config, and opens the store.
// The caller must Close the result.
func openServices() (*services, error) {
	ws, err := workspace.Resolve()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(ws.ConfigPath())
	if err != nil {
		return nil, err
	}
	if err := ws.EnsureLayout(); err != nil {
		return nil, err
	}
	store, err := state.NewStore(ws.DBPath())
	if err != nil {
		return nil, err
	}
	log := logging.New(cliLogLevel(), false)
	return &services{
		ws:    ws,
		cfg:   cfg,
		store: store,
		tasks: task.NewService(store, ws.PlansDir(), log),
		log:   log,
	}, nil
}

func (s *services) Close() {
	s.log.Sync()
	s.store.Close()
}

// cliLogLevel keeps interactive commands quiet unless a level was asked for.
func cliLogLevel() string {
	if rootLogLevel != "" {
		return rootLogLevel
	}
	return "warn"
}

// dialDaemon connects to a running consume daemon.
func dialDaemon(ws *workspace.Context) (*ipc.Client, error) {
	return ipc.Dial(ws.SocketPath(), dialTimeout)
}

// statusColor maps a task status to its display color.
func statusColor(s models.TaskStatus) *color.Color {
	switch s {
	case models.TaskStatusOpen:
		return color.New(color.FgWhite)
	case models.TaskStatusInProgress:
		return color.New(color.FgYellow)
	case models.TaskStatusReview:
		return color.New(color.FgMagenta)
	case models.TaskStatusDone:
		return color.New(color.FgGreen)
	case models.TaskStatusCancelled:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgHiBlack)
	}
}

// healthColor maps a health status to its display color.
func healthColor(s models.HealthStatus) *color.Color {
	switch s {
	case models.HealthHealthy:
		return color.New(color.FgGreen)
	case models.HealthWarning:
		return color.New(color.FgYellow)
	case models.HealthDegraded:
		return color.New(color.FgHiYellow)
	default:
		return color.New(color.FgRed)
	}
}

// formatAge renders a duration compactly (32s, 4m, 2h10m, 3d).
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		if m > 0 {
			return fmt.Sprintf("%dh%dm", h, m)
		}
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dd", int(d.Hours())/24)
	}
}

// printTaskLine prints one board row: id, status, priority, title, markers.
func printTaskLine(t *models.Task) {
	id := color.CyanString(t.ShortID)
	status := statusColor(t.Status).Sprint(string(t.Status))
	line := fmt.Sprintf("%s  %-12s P%d  %s", id, status, t.Priority, t.Title)
	if t.EpicID != "" {
		line += color.HiBlackString(" [%s]", t.EpicID)
	}
	if len(t.BlockedBy) > 0 {
		line += color.HiBlackString(" blocked-by:%v", t.BlockedBy)
	}
	if t.HasLabel(models.LabelNeedsHuman) {
		line += color.RedString(" needs-human")
	}
	fmt.Println(line)
}
