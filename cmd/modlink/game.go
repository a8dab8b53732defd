package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/modlink/pkg/modlink/app"
	"github.com/jamesainslie/modlink/pkg/modlink/config"
	"github.com/jamesainslie/modlink/pkg/modlink/output"
)

var gameCmd = &cobra.Command{
	Use:   "game",
	Short: "Manage games",
	Long: `Manage the games modlink deploys into.

Games are defined in the configuration file under "games". A game must be
discovered (its install directory recorded) before it can be deployed.`,
}

var gameListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured games",
	Args:  cobra.NoArgs,
	RunE:  runGameList,
}

var gameActivateCmd = &cobra.Command{
	Use:   "activate <id>",
	Short: "Make a game the managed game",
	Long: `Make a game the managed game. If its deployment method cannot serve the
game, the old deployment is purged and a supported method is selected. The
staging directory is then scanned for mods added or removed outside modlink.`,
	Args: cobra.ExactArgs(1),
	RunE: runGameActivate,
}

var gameDiscoverCmd = &cobra.Command{
	Use:   "discover <id> <path>",
	Short: "Record where a game is installed",
	Long: `Record a game's install directory. If the game was deployed at another
location, that deployment is purged first.`,
	Args: cobra.ExactArgs(2),
	RunE: runGameDiscover,
}

var gameStagingCmd = &cobra.Command{
	Use:   "staging <id> <path>",
	Short: "Move a game's staging directory",
	Long: `Point a game at another staging directory. For the active game the mod
table is rescanned and the game redeployed from the new location.`,
	Args: cobra.ExactArgs(2),
	RunE: runGameStaging,
}

func init() {
	gameCmd.AddCommand(gameListCmd)
	gameCmd.AddCommand(gameActivateCmd)
	gameCmd.AddCommand(gameDiscoverCmd)
	gameCmd.AddCommand(gameStagingCmd)
	rootCmd.AddCommand(gameCmd)
}

func runGameList(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), func(_ context.Context, a *app.App) error {
		st, err := a.State.Snapshot()
		if err != nil {
			return err
		}
		ids := a.Games.IDs()
		if len(ids) == 0 {
			printInfo("No games configured. Add one under \"games\" in %s", displayConfigFile(loaded))
			return nil
		}
		for _, id := range ids {
			g, err := a.Games.Get(id)
			if err != nil {
				return err
			}
			marker := " "
			if id == st.ActiveGameID {
				marker = output.SuccessStyle.Render("*")
			}
			path := st.Discovered[id]
			if path == "" {
				path = output.MutedStyle.Render("(not discovered)")
			}
			fmt.Printf("%s %-20s %-30s %s\n", marker, id, g.Name(), path)
		}
		return nil
	})
}

func runGameActivate(cmd *cobra.Command, args []string) error {
	gameID := args[0]
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		if _, err := a.Games.Get(gameID); err != nil {
			return err
		}
		if err := a.State.SetActiveGame(gameID); err != nil {
			return err
		}
		if err := a.Coordinator.OnGameActivated(ctx, gameID); err != nil {
			return err
		}
		printInfo("Managing %s", gameID)
		return nil
	})
}

func runGameDiscover(cmd *cobra.Command, args []string) error {
	gameID := args[0]
	path, err := absPath(args[1])
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		if _, err := a.Games.Get(gameID); err != nil {
			return err
		}
		st, err := a.State.Snapshot()
		if err != nil {
			return err
		}
		if prev := st.Discovered[gameID]; prev != "" && prev != path {
			printVerbose("purging deployment at %s", prev)
			if err := a.Orchestrator.PurgeAll(ctx, gameID); err != nil {
				return fmt.Errorf("purging deployment at %s: %w", prev, err)
			}
		}
		if err := a.State.SetDiscovered(gameID, path); err != nil {
			return err
		}
		if err := a.State.SetDeploymentNecessary(gameID, true); err != nil {
			return err
		}
		printInfo("%s installed at %s", gameID, path)
		return nil
	})
}

func runGameStaging(cmd *cobra.Command, args []string) error {
	gameID := args[0]
	path, err := absPath(args[1])
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		prev, err := a.State.Snapshot()
		if err != nil {
			return err
		}
		if err := a.State.SetStagingPath(gameID, path); err != nil {
			return err
		}
		cur, err := a.State.Snapshot()
		if err != nil {
			return err
		}
		err = a.Coordinator.OnPathsChanged(ctx,
			map[string]string{gameID: prev.InstallPath(gameID)},
			map[string]string{gameID: cur.InstallPath(gameID)})
		if err != nil {
			return err
		}
		printInfo("%s staged in %s", gameID, path)
		return nil
	})
}

func absPath(path string) (string, error) {
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return "", err
	}
	return filepath.Abs(expanded)
}
