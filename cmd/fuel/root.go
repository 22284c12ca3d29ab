package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootLogLevel string

var rootCmd = &cobra.Command{
	Use:   "fuel",
	Short: "Multi-agent task orchestrator",
	Long: `Fuel runs coding agents against a task queue.

Tasks live on a SQLite board under .fuel/. The consume daemon resolves
ready tasks, spawns agent processes on them, routes finished work through
review, and publishes the board over a unix socket that the other
commands talk to.

Typical flow:
  fuel init                 # set up .fuel/ in the current repository
  fuel task add "fix the flaky login test"
  fuel consume              # start the daemon in the foreground
  fuel status               # watch the board from another terminal`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(consumeCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(epicCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(versionCmd)
}
