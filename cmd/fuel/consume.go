package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fuelsh/fuel/internal/config"
	"github.com/fuelsh/fuel/internal/consume"
	"github.com/fuelsh/fuel/internal/ipc"
	"github.com/fuelsh/fuel/internal/logging"
	"github.com/fuelsh/fuel/internal/state"
	"github.com/fuelsh/fuel/internal/workspace"
)

var (
	consumeStop     bool
	consumeGraceful bool
	consumePause    bool
	consumeResume   bool
	consumeReload   bool
	consumeInterval int
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Run the consume daemon, or control a running one",
	Long: `Without flags, runs the consume daemon in the foreground: it resolves
ready tasks on every tick, spawns agents up to the configured limits, and
serves the board over .fuel/consume.sock.

With a control flag it talks to the already-running daemon instead:

  fuel consume --pause         # stop spawning, keep running work
  fuel consume --resume
  fuel consume --interval 10   # change the tick interval
  fuel consume --reload        # reload .fuel/config.yaml
  fuel consume --stop          # graceful shutdown`,
	RunE: runConsume,
}

func init() {
	consumeCmd.Flags().BoolVar(&consumeStop, "stop", false, "stop the running daemon")
	consumeCmd.Flags().BoolVar(&consumeGraceful, "graceful", true, "with --stop, wait for running agents before exiting")
	consumeCmd.Flags().BoolVar(&consumePause, "pause", false, "pause spawning")
	consumeCmd.Flags().BoolVar(&consumeResume, "resume", false, "resume spawning")
	consumeCmd.Flags().BoolVar(&consumeReload, "reload", false, "reload the config file")
	consumeCmd.Flags().IntVar(&consumeInterval, "interval", 0, "set the tick interval in seconds")
}

func runConsume(cmd *cobra.Command, args []string) error {
	if consumeStop || consumePause || consumeResume || consumeReload || consumeInterval > 0 {
		return controlDaemon()
	}
	return startDaemon()
}

// startDaemon runs the daemon in the foreground and exits with its code.
func startDaemon() error {
	ws, err := workspace.Resolve()
	if err != nil {
		return err
	}
	cfg, err := config.Load(ws.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "fuel: %v\n", err)
		os.Exit(consume.ExitFatal)
	}
	if err := ws.EnsureLayout(); err != nil {
		return err
	}
	store, err := state.NewStore(ws.DBPath())
	if err != nil {
		return err
	}
	defer store.Close()

	log := logging.New(rootLogLevel, true)
	defer log.Sync()

	d := consume.New(ws, cfg, store, log)
	code := d.Run(context.Background())
	store.Close()
	log.Sync()
	os.Exit(code)
	return nil
}

// controlDaemon sends one control command over the socket.
func controlDaemon() error {
	ws, err := workspace.Resolve()
	if err != nil {
		return err
	}
	client, err := dialDaemon(ws)
	if err != nil {
		return fmt.Errorf("no running daemon: %w", err)
	}
	defer client.Close()

	switch {
	case consumeStop:
		if err := client.Send(&ipc.Command{Type: ipc.CmdStop, Graceful: &consumeGraceful}); err != nil {
			return err
		}
		if consumeGraceful {
			fmt.Println("Stop requested")
		} else {
			fmt.Println("Forceful stop requested; running agents are killed")
		}
	case consumePause:
		if err := client.Send(&ipc.Command{Type: ipc.CmdPause}); err != nil {
			return err
		}
		fmt.Println("Paused; running work finishes, nothing new spawns")
	case consumeResume:
		if err := client.Send(&ipc.Command{Type: ipc.CmdResume}); err != nil {
			return err
		}
		fmt.Println("Resumed")
	case consumeReload:
		reqID := uuid.NewString()
		if err := client.Send(&ipc.Command{Type: ipc.CmdReloadConfig, RequestID: reqID}); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := client.WaitFor(ctx, ipc.EventConfigReloaded, reqID); err != nil {
			return err
		}
		fmt.Println("Config reloaded")
	case consumeInterval > 0:
		if err := client.Send(&ipc.Command{Type: ipc.CmdSetInterval, IntervalSeconds: consumeInterval}); err != nil {
			return err
		}
		fmt.Printf("Tick interval set to %ds\n", consumeInterval)
	}
	return nil
}
