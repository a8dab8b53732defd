// Package main is modlinkd, the staging directory watcher.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/modlink/pkg/daemon"
	"github.com/jamesainslie/modlink/pkg/modlink/config"
	"github.com/jamesainslie/modlink/pkg/modlink/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "modlinkd",
	Short:         "Watch staging directories and keep the mod table in sync",
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/modlink/config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, daemon.ErrDaemonAlreadyRunning) {
			fmt.Fprintln(os.Stderr, "modlinkd is already running")
		} else {
			fmt.Fprintf(os.Stderr, "modlinkd: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return err
	}
	logCfg, err := cfg.LoggingConfig()
	if err == nil {
		err = logging.Init(logCfg)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "modlinkd: logging disabled: %v\n", err)
	}
	defer func() { _ = logging.Close() }()
	log := logging.Get("daemon")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("modlinkd starting", "pid", os.Getpid(), "state", cfg.StatePath)
	if err := daemon.Serve(ctx, cfg); err != nil {
		log.Error("daemon failed", "error", err)
		return err
	}
	log.Info("modlinkd stopped")
	return nil
}
