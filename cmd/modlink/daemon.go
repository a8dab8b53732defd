package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/modlink/pkg/daemon"
	"github.com/jamesainslie/modlink/pkg/modlink/types"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the modlinkd daemon",
	Long: `Manage the modlinkd daemon.

The daemon watches the active game's staging directory and registers mods
that are added or removed there, marking the deployment out of date when
an enabled mod disappears. It never deploys on its own.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the modlinkd daemon",
	Long:  `Start the modlinkd daemon in the background.`,
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the modlinkd daemon",
	Long:  `Stop the modlinkd daemon gracefully.`,
	RunE:  runDaemonStop,
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the modlinkd daemon",
	Long:  `Stop and start the modlinkd daemon.`,
	RunE:  runDaemonRestart,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  `Show the current status of the modlinkd daemon.`,
	RunE:  runDaemonStatus,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonRestartCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
}

func daemonPaths() daemon.Paths {
	return daemon.Paths{
		Binary: loaded.Daemon.BinaryPath,
		PID:    loaded.Daemon.PIDPath,
		Status: loaded.Daemon.StatusPath,
		Config: loaded.File,
	}
}

func runDaemonStart(_ *cobra.Command, _ []string) error {
	printVerbose("starting daemon...")
	if err := daemon.Start(daemonPaths()); err != nil {
		printVerbose("start failed: %v", err)
		return err
	}
	printVerbose("daemon started successfully")
	printInfo("Daemon started")
	return nil
}

func runDaemonStop(_ *cobra.Command, _ []string) error {
	pidPath := loaded.Daemon.PIDPath
	printVerbose("checking PID file: %s", pidPath)

	if err := daemon.Stop(pidPath, 5*time.Second); err != nil {
		if errors.Is(err, daemon.ErrDaemonNotRunning) {
			return errors.New("daemon is not running")
		}
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	printInfo("Daemon stopped")
	return nil
}

func runDaemonRestart(cmd *cobra.Command, args []string) error {
	if daemon.IsDaemonRunning(loaded.Daemon.PIDPath) {
		if err := runDaemonStop(cmd, args); err != nil {
			return fmt.Errorf("failed to stop daemon: %w", err)
		}
	}

	if err := runDaemonStart(cmd, args); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	return nil
}

func runDaemonStatus(_ *cobra.Command, _ []string) error {
	if !daemon.IsDaemonRunning(loaded.Daemon.PIDPath) {
		printInfo("Daemon status: not running")
		return nil
	}

	status, err := daemon.ReadStatus(loaded.Daemon.StatusPath)
	if err != nil {
		printInfo("Daemon status: running (no status reported)")
		return nil
	}
	if status.Status == daemon.StatusError {
		printInfo("Daemon status: error")
		printInfo("  Error: %s", status.Error)
		return nil
	}

	printInfo("Daemon status: running")
	printInfo("  PID:     %d", status.PID)
	if !status.StartedAt.IsZero() {
		printInfo("  Started: %s", types.FormatAge(status.StartedAt))
	}
	game := status.Game
	if game == "" {
		game = "(none)"
	}
	printInfo("  Game:    %s", game)

	if len(status.Watching) > 0 {
		printInfo("  Watched paths:")
		for _, p := range status.Watching {
			printInfo("    - %s", p)
		}
	}

	return nil
}
