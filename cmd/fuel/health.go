package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fuelsh/fuel/internal/health"
	"github.com/fuelsh/fuel/internal/ipc"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show per-agent health",
	RunE:  runHealthShow,
}

var healthResetCmd = &cobra.Command{
	Use:   "reset [agent]",
	Short: "Clear an agent's failure streak and backoff",
	Long: `Clears the consecutive-failure count and backoff window for one agent,
or for every agent when no name is given. Use after fixing whatever was
making the agent fail (credentials, network, a broken command).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHealthReset,
}

func init() {
	healthCmd.AddCommand(healthResetCmd)
}

func runHealthShow(cmd *cobra.Command, args []string) error {
	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	tracker := health.NewTracker(svc.store.Health, svc.log)
	all, err := tracker.All()
	if err != nil {
		return err
	}
	if len(all) == 0 {
		fmt.Println("No agents have run yet")
		return nil
	}

	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	now := time.Now().UTC()
	for _, name := range names {
		h := all[name]
		line := fmt.Sprintf("%-16s %s", name, healthColor(h.Status()).Sprint(health.Describe(h, now)))
		if h.TotalRuns > 0 {
			line += color.HiBlackString("  %d/%d runs ok", h.TotalSuccesses, h.TotalRuns)
		}
		fmt.Println(line)
	}
	return nil
}

// runHealthReset goes through the daemon when one is running so the next tick
// picks the agent up immediately; otherwise it writes to the store directly.
func runHealthReset(cmd *cobra.Command, args []string) error {
	agent := ""
	if len(args) > 0 {
		agent = args[0]
	}

	svc, err := openServices()
	if err != nil {
		return err
	}
	defer svc.Close()

	if client, err := dialDaemon(svc.ws); err == nil {
		defer client.Close()
		if err := client.Send(&ipc.Command{Type: ipc.CmdHealthReset, Agent: agent}); err != nil {
			return err
		}
	} else {
		tracker := health.NewTracker(svc.store.Health, svc.log)
		if agent != "" {
			if err := tracker.Reset(agent); err != nil {
				return err
			}
		} else {
			all, err := tracker.All()
			if err != nil {
				return err
			}
			for name := range all {
				if err := tracker.Reset(name); err != nil {
					return err
				}
			}
		}
	}

	if agent != "" {
		fmt.Printf("Health reset for %s\n", agent)
	} else {
		fmt.Println("Health reset for all agents")
	}
	return nil
}
