package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/modlink/pkg/modlink/app"
)

var deployCmd = &cobra.Command{
	Use:   "deploy [game]",
	Short: "Deploy the enabled mods of a game",
	Long: `Bring every target directory of a game in line with its enabled mods.

Deployed files that were replaced in the game directory since the last
deployment are reported and left alone. Files the engine does not own are
never overwritten. Defaults to the active game.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDeploy,
}

var purgeCmd = &cobra.Command{
	Use:   "purge [game]",
	Short: "Remove every deployed file of a game",
	Long: `Remove everything the engine deployed into the target directories of a
game, leaving files it does not own in place. Defaults to the active game.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPurge,
}

var undeployCmd = &cobra.Command{
	Use:   "undeploy <mod>",
	Short: "Remove one mod's files from the game",
	Long: `Remove the files of a single mod from its target directory without a full
redeploy. Files another mod also provides come back on the next deploy.`,
	Args: cobra.ExactArgs(1),
	RunE: runUndeploy,
}

var undeployGame string

func init() {
	undeployCmd.Flags().StringVarP(&undeployGame, "game", "g", "", "game the mod belongs to (default: active game)")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(undeployCmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		gameID, err := activeGame(a, args)
		if err != nil {
			return err
		}
		printVerbose("deploying %s", gameID)
		if err := a.Orchestrator.Deploy(ctx, gameID); err != nil {
			return err
		}
		printInfo("Deployed %s", gameID)
		return nil
	})
}

func runPurge(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		gameID, err := activeGame(a, args)
		if err != nil {
			return err
		}
		printVerbose("purging %s", gameID)
		if err := a.Orchestrator.PurgeAll(ctx, gameID); err != nil {
			return err
		}
		printInfo("Purged %s", gameID)
		return nil
	})
}

func runUndeploy(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		gameID, err := activeGame(a, []string{undeployGame})
		if err != nil {
			return err
		}
		if err := a.Orchestrator.UndeployMod(ctx, gameID, args[0]); err != nil {
			return err
		}
		printInfo("Undeployed %s from %s", args[0], gameID)
		return nil
	})
}
