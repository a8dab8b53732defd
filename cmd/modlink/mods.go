package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/modlink/pkg/modlink/app"
	"github.com/jamesainslie/modlink/pkg/modlink/output"
	"github.com/jamesainslie/modlink/pkg/modlink/types"
)

var modsCmd = &cobra.Command{
	Use:   "mods",
	Short: "Manage staged mods",
	Long: `Manage the mods staged for a game.

Every mod is a directory below the game's staging directory. Enabling or
disabling a mod marks the game's deployment out of date; run "modlink
deploy" (or pass --deploy) to apply it.`,
}

var modsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the staged mods of a game",
	Args:  cobra.NoArgs,
	RunE:  runModsList,
}

var modsAddCmd = &cobra.Command{
	Use:   "add <id>",
	Short: "Register a mod and create its staging directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runModsAdd,
}

var modsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Undeploy a mod and delete its staged files",
	Args:  cobra.ExactArgs(1),
	RunE:  runModsRemove,
}

var modsEnableCmd = &cobra.Command{
	Use:   "enable <id>...",
	Short: "Enable mods in the active profile",
	Args:  cobra.MinimumNArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(cmd, args, true) },
}

var modsDisableCmd = &cobra.Command{
	Use:   "disable <id>...",
	Short: "Disable mods in the active profile",
	Args:  cobra.MinimumNArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(cmd, args, false) },
}

var modsRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Sync the mod table with the staging directory",
	Args:  cobra.NoArgs,
	RunE:  runModsRefresh,
}

var (
	modsGame     string
	modsDeploy   bool
	modName      string
	modType      string
	modForGames  []string
	modOverrides []string
)

func init() {
	modsCmd.PersistentFlags().StringVarP(&modsGame, "game", "g", "", "game the mods belong to (default: active game)")
	modsEnableCmd.Flags().BoolVar(&modsDeploy, "deploy", false, "deploy after the change")
	modsDisableCmd.Flags().BoolVar(&modsDeploy, "deploy", false, "deploy after the change")
	modsAddCmd.Flags().StringVar(&modName, "name", "", "display name")
	modsAddCmd.Flags().StringVarP(&modType, "type", "t", "", "mod type (default: the game's default type)")
	modsAddCmd.Flags().StringSliceVar(&modForGames, "for", nil, "games the mod is compatible with; asks when the active game is not one of them")
	modsAddCmd.Flags().StringSliceVar(&modOverrides, "override", nil, "relative paths the mod owns regardless of priority")

	modsCmd.AddCommand(modsListCmd)
	modsCmd.AddCommand(modsAddCmd)
	modsCmd.AddCommand(modsRemoveCmd)
	modsCmd.AddCommand(modsEnableCmd)
	modsCmd.AddCommand(modsDisableCmd)
	modsCmd.AddCommand(modsRefreshCmd)
	rootCmd.AddCommand(modsCmd)
}

func runModsList(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		gameID, err := activeGame(a, []string{modsGame})
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
		r := output.NewReport(st, gameID, manifests, output.BuildOptions{})
		if len(r.Mods) == 0 {
			printInfo("No mods staged for %s", gameID)
			return nil
		}
		fmt.Printf("%-4s  %-3s  %-30s  %-12s  %-10s  %s\n", "PRIO", "ON", "MOD", "STATE", "TYPE", "DEPLOYED")
		fmt.Println(strings.Repeat("-", 80))
		for _, m := range r.Mods {
			on := " "
			if m.Enabled {
				on = output.SuccessStyle.Render("x")
			}
			fmt.Printf("%-4d  %-3s  %-30s  %-12s  %-10s  %d\n",
				m.Priority, on, truncateString(m.Name, 30), m.State, m.Type, m.Deployed)
		}
		return nil
	})
}

func runModsAdd(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		gameID := modsGame
		if gameID == "" && len(modForGames) > 0 {
			id, err := a.Coordinator.QueryGameID(ctx, modForGames, func(id string) string {
				if g, err := a.Games.Get(id); err == nil {
					return g.Name()
				}
				return ""
			})
			if err != nil {
				return err
			}
			gameID = id
		}
		gameID, err := activeGame(a, []string{gameID})
		if err != nil {
			return err
		}

		mod := types.Mod{
			ID:            args[0],
			GameID:        gameID,
			Type:          modType,
			State:         types.StateInstalled,
			FileOverrides: modOverrides,
		}
		if modName != "" {
			mod.Attributes = map[string]string{"name": modName}
		}
		if err := a.Coordinator.OnModAdded(ctx, gameID, mod); err != nil {
			return err
		}
		printInfo("Added %s to %s", mod.ID, gameID)
		return nil
	})
}

func runModsRemove(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		gameID, err := activeGame(a, []string{modsGame})
		if err != nil {
			return err
		}
		if err := a.Coordinator.OnModRemoved(ctx, gameID, args[0]); err != nil {
			return err
		}
		printInfo("Removed %s", args[0])
		return nil
	})
}

func setEnabled(cmd *cobra.Command, ids []string, enabled bool) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		gameID, err := activeGame(a, []string{modsGame})
		if err != nil {
			return err
		}
		verb := "Disabled"
		if enabled {
			verb = "Enabled"
		}
		for _, id := range ids {
			if err := a.Coordinator.SetModEnabled(gameID, id, enabled); err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			printInfo("%s %s", verb, id)
		}
		if !modsDeploy {
			printVerbose("deployment of %s is out of date", gameID)
			return nil
		}
		if err := a.Orchestrator.Deploy(ctx, gameID); err != nil {
			return err
		}
		printInfo("Deployed %s", gameID)
		return nil
	})
}

func runModsRefresh(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		gameID, err := activeGame(a, []string{modsGame})
		if err != nil {
			return err
		}
		before, err := a.State.Snapshot()
		if err != nil {
			return err
		}
		if err := a.Coordinator.RefreshMods(ctx, gameID); err != nil {
			return err
		}
		after, err := a.State.Snapshot()
		if err != nil {
			return err
		}
		printInfo("%d mods staged for %s (was %d)", len(after.Mods[gameID]), gameID, len(before.Mods[gameID]))
		return nil
	})
}

// truncateString truncates a string to maxLen, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
