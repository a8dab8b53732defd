package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/modlink/pkg/daemon"
	"github.com/jamesainslie/modlink/pkg/modlink/app"
	"github.com/jamesainslie/modlink/pkg/modlink/output"
)

var statusCmd = &cobra.Command{
	Use:   "status [game]",
	Short: "Show what is deployed for a game",
	Long: `Show the deployment state of a game: its method, each target directory
with the files the engine owns there, and the staged mods.

Output formats: ` + strings.Join(output.Available(), ", "),
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var (
	statusFormat  string
	statusEntries bool
	statusHistory int
)

func init() {
	statusCmd.Flags().StringVarP(&statusFormat, "format", "o", "pretty", "output format")
	statusCmd.Flags().BoolVar(&statusEntries, "entries", false, "list every deployed file")
	statusCmd.Flags().IntVar(&statusHistory, "history", 5, "number of recent operations to include")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	formatter, err := output.Get(statusFormat)
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		gameID, err := activeGame(a, args)
		if err != nil {
			return err
		}
		st, err := a.State.Snapshot()
		if err != nil {
			return err
		}
		manifests, err := a.Store.List(ctx)
		if err != nil {
			return err
		}

		opts := output.BuildOptions{
			Entries: statusEntries,
			Blocked: func(modType, dataPath string) bool {
				return a.Orchestrator.Blocked(modType, dataPath) != nil
			},
		}
		if g, err := a.Games.Get(gameID); err == nil {
			opts.GameName = g.Name()
		}
		report := output.NewReport(st, gameID, manifests, opts)
		report.DaemonUp = daemon.IsDaemonRunning(loaded.Daemon.PIDPath)
		if a.Journal != nil && statusHistory > 0 {
			records, err := a.Journal.List(statusHistory)
			if err != nil {
				printVerbose("reading history: %v", err)
			} else {
				report.AddHistory(records)
			}
		}

		var buf bytes.Buffer
		if err := formatter.Format(&buf, report); err != nil {
			return fmt.Errorf("formatting status: %w", err)
		}
		_, err = os.Stdout.Write(buf.Bytes())
		return err
	})
}
