package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fuelsh/fuel/internal/ipc"
	"github.com/fuelsh/fuel/internal/workspace"
	"github.com/fuelsh/fuel/pkg/models"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the board",
	Long: `Show the board as the daemon sees it: ready, running, review, blocked,
and needs-human buckets, plus active agent processes and agent health.

Falls back to a direct store read when no daemon is running. With --watch,
stays connected and reprints on every snapshot the daemon pushes.`,
	RunE: runStatusCmd,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "keep printing snapshots as they arrive")
}

func runStatusCmd(cmd *cobra.Command, args []string) error {
	ws, err := workspace.Resolve()
	if err != nil {
		return err
	}

	client, err := dialDaemon(ws)
	if err != nil {
		return offlineStatus()
	}
	defer client.Close()

	reqID := uuid.NewString()
	if err := client.Send(&ipc.Command{Type: ipc.CmdRequestSnapshot, RequestID: reqID}); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	ev, err := client.WaitFor(ctx, ipc.EventSnapshot, reqID)
	cancel()
	if err != nil {
		return err
	}
	printSnapshot(ev.Snapshot)

	if !statusWatch {
		return nil
	}
	for {
		ev, err := client.Next()
		if err != nil {
			return err
		}
		if ev.Type != ipc.EventSnapshot || ev.Snapshot == nil {
			continue
		}
		fmt.Println()
		printSnapshot(ev.Snapshot)
	}
}

func printSnapshot(s *models.ConsumeSnapshot) {
	if s == nil {
		return
	}
	header := fmt.Sprintf("Daemon %s, up %s, tick %ds",
		s.InstanceID[:8], formatAge(time.Since(s.StartedAt)), s.IntervalSeconds)
	if s.Paused {
		header += " " + color.YellowString("[PAUSED]")
	}
	fmt.Println(header)

	printBucket("Ready", s.Ready)
	printBucket("Running", s.InProgress)
	printBucket("Review", s.Review)
	printBucket("Blocked", s.Blocked)
	printBucket("Needs human", s.Human)

	if len(s.Done) > 0 {
		fmt.Printf("\n%s (%d recent)\n", color.GreenString("Done"), len(s.Done))
		limit := 5
		if len(s.Done) < limit {
			limit = len(s.Done)
		}
		for _, t := range s.Done[:limit] {
			fmt.Print("  ")
			printTaskLine(t)
		}
	}

	if len(s.Processes) > 0 {
		fmt.Println("\nActive agents:")
		for _, p := range s.Processes {
			fmt.Printf("  %s on %s (%s, pid %d, %s, %s)\n",
				p.Agent, color.CyanString(p.TaskID), p.ProcessType, p.PID,
				p.RunID, formatAge(time.Since(p.StartedAt)))
		}
	}

	if len(s.Health) > 0 {
		fmt.Println("\nAgent health:")
		names := make([]string, 0, len(s.Health))
		for name := range s.Health {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			h := s.Health[name]
			st := h.Status()
			line := fmt.Sprintf("  %-12s %s", name, healthColor(st).Sprint(string(st)))
			if limit, ok := s.AgentLimits[name]; ok {
				line += fmt.Sprintf("  limit %d", limit)
			}
			if h.BackoffUntil != nil && h.BackoffUntil.After(time.Now()) {
				line += color.HiBlackString("  backoff %s", formatAge(time.Until(*h.BackoffUntil)))
			}
			fmt.Println(line)
		}
	}
}

func printBucket(name string, tasks []*models.Task) {
	if len(tasks) == 0 {
		return
	}
	fmt.Printf("\n%s (%d)\n", name, len(tasks))
	for _, t := range tasks {
		fmt.Print("  ")
		printTaskLine(t)
	}
}

// offlineStatus summarizes the board straight from the store.
func offlineStatus() error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	fmt.Println("Daemon not running. Start it with 'fuel consume'. Board from store:")

	tasks, err := svc.tasks.All()
	if err != nil {
		return err
	}
	counts := map[models.TaskStatus]int{}
	for _, t := range tasks {
		counts[t.Status]++
	}
	for _, st := range []models.TaskStatus{
		models.TaskStatusOpen, models.TaskStatusInProgress, models.TaskStatusReview,
		models.TaskStatusDone, models.TaskStatusSomeday, models.TaskStatusCancelled,
	} {
		if counts[st] == 0 {
			continue
		}
		fmt.Printf("  %-12s %d\n", statusColor(st).Sprint(string(st)), counts[st])
	}
	for _, t := range tasks {
		if t.Status.Terminal() {
			continue
		}
		printTaskLine(t)
	}
	return nil
}
