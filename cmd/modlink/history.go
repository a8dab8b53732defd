package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/modlink/pkg/modlink/config"
	"github.com/jamesainslie/modlink/pkg/modlink/history"
	"github.com/jamesainslie/modlink/pkg/modlink/output"
	"github.com/jamesainslie/modlink/pkg/modlink/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View deployment history",
	Long: `View the journal of deploy, purge, undeploy and method switch operations.

Every operation on a target directory is recorded with the method used,
the number of files added and removed, and the error if it failed.`,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show details of a specific operation",
	Long:  `Display detailed information about a specific operation by its ID.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean up old history entries",
	Long:  `Remove history entries older than the retention period.`,
	RunE:  runHistoryClean,
}

var (
	historyLimit int
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of entries to show")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyCleanCmd)
	rootCmd.AddCommand(historyCmd)
}

// getJournal opens the configured journal. It does not need the activation
// store, so it works while another process deploys.
func getJournal() (*history.Journal, error) {
	if !loaded.History.Enabled {
		return nil, errors.New("history is disabled (history.enabled: false)")
	}
	return history.New(loaded.History.Path)
}

// runHistory lists recent operations.
func runHistory(cmd *cobra.Command, args []string) error {
	j, err := getJournal()
	if err != nil {
		return err
	}

	records, err := j.List(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	if len(records) == 0 {
		printInfo("No history entries found.")
		printInfo("Run 'modlink deploy' to deploy the active game.")
		return nil
	}

	fmt.Printf("\n%-36s  %-8s  %-10s  %-8s  %-14s  %s\n", "ID", "OP", "GAME", "METHOD", "WHEN", "RESULT")
	fmt.Println(strings.Repeat("-", 100))

	for _, r := range records {
		result := fmt.Sprintf("+%d -%d", r.Added, r.Removed)
		if r.Failed() {
			result = output.ErrorStyle.Render("failed")
		}
		fmt.Printf("%-36s  %-8s  %-10s  %-8s  %-14s  %s\n",
			truncateString(r.ID, 36),
			r.Operation,
			truncateString(r.GameID, 10),
			r.Method,
			types.FormatAge(r.Timestamp),
			result,
		)
	}

	fmt.Println(strings.Repeat("-", 100))
	fmt.Printf("\nShowing %d entries. Use --limit to see more.\n", len(records))
	fmt.Println("Use 'modlink history show <id>' for details on a specific entry.")

	return nil
}

// runHistoryShow displays details of a specific operation.
func runHistoryShow(cmd *cobra.Command, args []string) error {
	j, err := getJournal()
	if err != nil {
		return err
	}

	r, err := j.Get(args[0])
	if err != nil {
		return fmt.Errorf("failed to get entry: %w", err)
	}

	fmt.Println("\nOperation Details")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("ID:         %s\n", r.ID)
	fmt.Printf("Timestamp:  %s\n", r.Timestamp.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("Operation:  %s\n", r.Operation)
	fmt.Printf("Game:       %s\n", r.GameID)
	if r.ModID != "" {
		fmt.Printf("Mod:        %s\n", r.ModID)
	}
	fmt.Printf("Mod type:   %s\n", displayModType(r.ModType))
	fmt.Printf("Directory:  %s\n", r.DataPath)
	fmt.Printf("Method:     %s\n", r.Method)
	fmt.Printf("Added:      %d\n", r.Added)
	fmt.Printf("Removed:    %d\n", r.Removed)
	fmt.Printf("Entries:    %d\n", r.Entries)
	if r.Failed() {
		fmt.Printf("Error:      %s\n", output.ErrorStyle.Render(r.Error))
	}

	return nil
}

// runHistoryClean removes old history entries.
func runHistoryClean(cmd *cobra.Command, args []string) error {
	j, err := getJournal()
	if err != nil {
		return err
	}

	retentionDays := loaded.History.RetentionDays
	if retentionDays <= 0 {
		retentionDays = config.DefaultRetentionDays
	}

	printInfo("Cleaning history entries older than %d days...", retentionDays)

	n, err := j.Cleanup(retentionDays)
	if err != nil {
		return fmt.Errorf("failed to clean history: %w", err)
	}

	printInfo("History cleanup complete, %d entries removed.", n)
	return nil
}

func displayModType(t string) string {
	if t == "" {
		return "(default)"
	}
	return t
}
