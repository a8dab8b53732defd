package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/modlink/pkg/modlink/app"
	"github.com/jamesainslie/modlink/pkg/modlink/method"
	"github.com/jamesainslie/modlink/pkg/modlink/output"
)

var methodCmd = &cobra.Command{
	Use:   "method",
	Short: "Manage deployment methods",
	Long: `Show and choose how mods are placed into game directories.

  symlink   links pointing into the staging directory
  hardlink  hard links, staging and game must share a filesystem
  copy      plain copies, works everywhere`,
}

var methodListCmd = &cobra.Command{
	Use:   "list [game]",
	Short: "List deployment methods and which ones serve a game",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMethodList,
}

var methodSetCmd = &cobra.Command{
	Use:   "set <id>",
	Short: "Switch a game to another deployment method",
	Long: `Switch a game to another deployment method. Directories deployed with
the old method are purged with it, then the game is redeployed.`,
	Args: cobra.ExactArgs(1),
	RunE: runMethodSet,
}

var methodGame string

func init() {
	methodSetCmd.Flags().StringVarP(&methodGame, "game", "g", "", "game to switch (default: active game)")

	methodCmd.AddCommand(methodListCmd)
	methodCmd.AddCommand(methodSetCmd)
	rootCmd.AddCommand(methodCmd)
}

func runMethodList(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(_ context.Context, a *app.App) error {
		st, err := a.State.Snapshot()
		if err != nil {
			return err
		}
		gameID := st.ActiveGameID
		if len(args) > 0 {
			gameID = args[0]
		}

		var supported map[string]bool
		if gameID != "" && st.Discovered[gameID] != "" {
			ms, err := a.Orchestrator.SupportedMethods(st, gameID)
			if err != nil {
				printVerbose("support check failed: %v", err)
			} else {
				supported = make(map[string]bool, len(ms))
				for _, m := range ms {
					supported[m.Descriptor().ID] = true
				}
			}
		}

		for _, m := range a.Methods.All() {
			d := m.Descriptor()
			marker := " "
			if gameID != "" && st.Activators[gameID] == d.ID {
				marker = output.SuccessStyle.Render("*")
			}
			fmt.Printf("%s %-10s %-22s %s\n", marker, d.ID, d.Name, methodSupport(d, supported))
		}
		return nil
	})
}

func methodSupport(d method.Descriptor, supported map[string]bool) string {
	switch {
	case supported == nil:
		return output.MutedStyle.Render(d.Description)
	case supported[d.ID]:
		return output.SuccessStyle.Render("supported")
	default:
		return output.WarningStyle.Render("not supported")
	}
}

func runMethodSet(cmd *cobra.Command, args []string) error {
	methodID := args[0]
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		if _, ok := a.Methods.Get(methodID); !ok {
			return fmt.Errorf("unknown deployment method %q (available: %v)", methodID, a.Methods.IDs())
		}
		gameID, err := activeGame(a, []string{methodGame})
		if err != nil {
			return err
		}
		prev, err := a.State.Snapshot()
		if err != nil {
			return err
		}

		switch {
		case prev.Discovered[gameID] == "":
			// Nothing deployed yet; the choice applies to the first deploy.
			if err := a.State.SetActivator(gameID, methodID); err != nil {
				return err
			}
		case gameID == prev.ActiveGameID:
			if err := a.State.SetActivator(gameID, methodID); err != nil {
				return err
			}
			cur, err := a.State.Snapshot()
			if err != nil {
				return err
			}
			if err := a.Coordinator.OnActivatorChanged(ctx, prev.Activators, cur.Activators); err != nil {
				return err
			}
		default:
			if err := a.Orchestrator.SwitchMethod(ctx, gameID, methodID); err != nil {
				return err
			}
		}
		printInfo("%s now deploys with %s", gameID, methodID)
		return nil
	})
}
