package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/modlink/pkg/modlink/app"
	"github.com/jamesainslie/modlink/pkg/modlink/config"
	"github.com/jamesainslie/modlink/pkg/modlink/deployerr"
	"github.com/jamesainslie/modlink/pkg/modlink/events"
	"github.com/jamesainslie/modlink/pkg/modlink/logging"
)

// errOut receives notifications and prompts.
var errOut io.Writer = os.Stderr

var (
	cfgFile string
	quiet   bool
	verbose bool

	// loaded is set by the root command's PersistentPreRunE.
	loaded *config.Config

	rootCmd = &cobra.Command{
		Use:   "modlink",
		Short: "Deploy staged game mods into game directories",
		Long: `Modlink links staged mods into a game's data directories and tracks
every file it places, so deployments can be updated or purged without
touching files it does not own.

Examples:
  modlink game discover skyrimse ~/Games/SkyrimSE
  modlink game activate skyrimse
  modlink mods refresh
  modlink mods enable unofficial-patch
  modlink deploy
  modlink status
  modlink purge`,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/modlink/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "minimal output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug output")
}

// loadConfig reads the configuration and initializes logging.
func loadConfig(_ *cobra.Command, _ []string) error {
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logCfg, err := cfg.LoggingConfig()
	if err != nil {
		return err
	}
	if verbose {
		logCfg.ConsoleLevel = "debug"
	}
	if err := logging.Init(logCfg); err != nil {
		printVerbose("logging disabled: %v", err)
	}
	loaded = cfg
	printVerbose("config file: %s", displayConfigFile(cfg))
	return nil
}

func displayConfigFile(cfg *config.Config) string {
	if cfg.File == "" {
		return "(defaults)"
	}
	return cfg.File
}

// withApp opens the engine, runs fn and prints the notifications the
// engine emitted along the way.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.Open(ctx, loaded, newTerminalPrompter(os.Stdin, errOut))
	if err != nil {
		return err
	}
	defer a.Close()

	sub := a.Events.Subscribe(events.Notification)
	err = fn(ctx, a)
	printNotifications(sub)
	return err
}

// activeGame returns the game named on the command line, or the active
// game.
func activeGame(a *app.App, args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	st, err := a.State.Snapshot()
	if err != nil {
		return "", err
	}
	if st.ActiveGameID == "" {
		return "", errors.New("no game is active (run: modlink game activate <id>)")
	}
	return st.ActiveGameID, nil
}

// Execute runs the root command. Interrupting cancels the running
// operation; directories already finalized stay deployed.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// exitCode reports err and maps it to a process exit status. A canceled
// prompt is not an error.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case deployerr.Suppressed(err):
		return 0
	}
	printError("%v", err)
	if kind := deployerr.Worst(err); kind != deployerr.KindUnknown {
		if remedy := deployerr.Remedy(kind); remedy != "" {
			fmt.Fprintf(os.Stderr, "Hint: %s\n", remedy)
		}
	}
	return 1
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(format string, args ...interface{}) {
	if verbose && !quiet {
		fmt.Fprintf(os.Stderr, "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf(format+"\n", args...)
	}
}

// printError prints an error message to stderr.
func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
