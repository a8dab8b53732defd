// Package lifecycle reacts to game, mod and settings changes and drives
// the deployment orchestrator accordingly.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/jamesainslie/modlink/pkg/modlink/deployerr"
	"github.com/jamesainslie/modlink/pkg/modlink/events"
	"github.com/jamesainslie/modlink/pkg/modlink/logging"
	"github.com/jamesainslie/modlink/pkg/modlink/method"
	"github.com/jamesainslie/modlink/pkg/modlink/staging"
	"github.com/jamesainslie/modlink/pkg/modlink/state"
	"github.com/jamesainslie/modlink/pkg/modlink/trash"
	"github.com/jamesainslie/modlink/pkg/modlink/types"
)

// Engine is the deployment surface the coordinator drives.
type Engine interface {
	Deploy(ctx context.Context, gameID string) error
	PurgeAll(ctx context.Context, gameID string) error
	UndeployMod(ctx context.Context, gameID, modID string) error
	SwitchMethod(ctx context.Context, gameID, methodID string) error
	SupportedMethods(st *types.State, gameID string) ([]method.Method, error)
	Methods() *method.Registry
}

// Config wires a Coordinator.
type Config struct {
	Engine Engine
	State  state.Store
	Events *events.Bus

	// Prompter answers QueryGameID. Without one, ambiguous queries are
	// canceled.
	Prompter Prompter

	// UseTrash moves removed mods to the system trash.
	UseTrash bool
}

// Coordinator turns lifecycle triggers into deployment operations.
type Coordinator struct {
	engine   Engine
	state    state.Store
	events   *events.Bus
	prompter Prompter
	useTrash bool
	log      *logging.Logger
}

// New returns a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Engine == nil || cfg.State == nil {
		return nil, errors.New("lifecycle: engine and state are required")
	}
	return &Coordinator{
		engine:   cfg.Engine,
		state:    cfg.State,
		events:   cfg.Events,
		prompter: cfg.Prompter,
		useTrash: cfg.UseTrash,
		log:      logging.Get("lifecycle"),
	}, nil
}

// OnGameActivated makes sure the game has a usable deployment method and
// reconciles its mod table with the staging directory.
func (c *Coordinator) OnGameActivated(ctx context.Context, gameID string) error {
	st, err := c.state.Snapshot()
	if err != nil {
		return err
	}
	if st.Discovered[gameID] == "" {
		c.log.Debug("game not discovered, nothing to do", "game", gameID)
		return nil
	}

	if err := c.ensureMethod(ctx, st, gameID); err != nil {
		return err
	}
	if err := c.RefreshMods(ctx, gameID); err != nil {
		if deployerr.Suppressed(err) {
			return nil
		}
		c.report(gameID, "Failed to refresh mods", err)
		return err
	}
	return nil
}

// ensureMethod replaces a configured method that no longer supports the
// game, purging with it first.
func (c *Coordinator) ensureMethod(ctx context.Context, st *types.State, gameID string) error {
	configured := st.Activators[gameID]
	supported, err := c.engine.SupportedMethods(st, gameID)
	if err != nil {
		return err
	}
	for _, m := range supported {
		if m.Descriptor().ID == configured {
			return nil
		}
	}

	if configured != "" {
		if _, known := c.engine.Methods().Get(configured); !known {
			c.log.Error("configured deployment method is unavailable", "game", gameID, "method", configured)
			c.events.Notify(gameID, events.SeverityError, "Deployment method no longer available",
				fmt.Sprintf("The deployment method %q used with this game is no longer available. "+
					"Files deployed with it cannot be cleaned up.", configured),
				"restore the method, purge, then switch to a different method")
			return nil
		}

		if err := c.engine.PurgeAll(ctx, gameID); err != nil {
			switch {
			case deployerr.Suppressed(err):
				return err
			case deployerr.Retryable(err):
				c.events.Notify(gameID, events.SeverityWarning, "Purge failed, please try again", err.Error(),
					deployerr.Remedy(deployerr.KindTemporary))
			default:
				c.report(gameID, "Purge failed", err)
			}
		}
	}

	if len(supported) == 0 {
		return nil
	}
	next := supported[0].Descriptor().ID
	c.log.Info("selecting deployment method", "game", gameID, "from", configured, "to", next)
	return c.state.SetActivator(gameID, next)
}

// RefreshMods registers mod directories that appeared in the staging
// directory and drops mods whose directory vanished.
func (c *Coordinator) RefreshMods(ctx context.Context, gameID string) error {
	st, err := c.state.Snapshot()
	if err != nil {
		return err
	}
	install := st.InstallPath(gameID)
	if install == "" {
		return deployerr.ProcessCanceled("no staging path configured for game %s", gameID)
	}

	diff, err := staging.Refresh(ctx, gameID, install, st.Mods[gameID])
	if err != nil {
		return deployerr.Classify("refresh mods", err)
	}
	stale := false
	for _, mod := range diff.Added {
		if err := c.state.AddMod(gameID, mod); err != nil {
			return err
		}
		c.log.Info("mod found in staging", "game", gameID, "mod", mod.ID)
	}
	for _, id := range diff.Removed {
		if st.IsEnabled(gameID, id) {
			stale = true
		}
		if err := c.state.RemoveMod(gameID, id); err != nil && !errors.Is(err, state.ErrUnknownMod) {
			return err
		}
		c.log.Info("mod missing from staging", "game", gameID, "mod", id)
	}
	if stale {
		c.markNecessary(gameID)
	}
	c.events.Emit(events.Event{Kind: events.ModsRefreshed, GameID: gameID})
	return nil
}

// OnModRemoved undeploys an enabled mod, deletes its staged files and drops
// it from the mod table. Mods that are downloading or installing are
// refused. If the undeploy fails the mod is kept.
func (c *Coordinator) OnModRemoved(ctx context.Context, gameID, modID string) error {
	st, err := c.state.Snapshot()
	if err != nil {
		return err
	}
	mod, ok := st.Mods[gameID][modID]
	if !ok {
		return deployerr.ProcessCanceled("mod %s is not known for game %s", modID, gameID)
	}
	if !mod.State.Removable() {
		return deployerr.ProcessCanceled("can't delete mod %s during download or install", modID)
	}

	wasEnabled := st.IsEnabled(gameID, modID)
	if wasEnabled {
		// The mod stays enabled until its files are gone, so a failed
		// undeploy leaves state and game directory in agreement.
		if st.Discovered[gameID] != "" {
			if err := c.engine.UndeployMod(ctx, gameID, modID); err != nil {
				if !deployerr.Suppressed(err) {
					title := "Failed to remove mod"
					if deployerr.Retryable(err) {
						title = "Failed to undeploy mod, please try again"
					}
					c.report(gameID, title, err)
				}
				return err
			}
		}
		if err := c.state.SetModEnabled(gameID, modID, false); err != nil {
			return err
		}
	}

	if install := st.InstallPath(gameID); install != "" {
		if err := trash.Remove(ctx, staging.ModDir(install, mod), c.useTrash); err != nil {
			c.report(gameID, "Failed to remove mod", err)
			return deployerr.Classify("remove mod", err)
		}
	}
	if err := c.state.RemoveMod(gameID, modID); err != nil {
		return err
	}
	c.log.Info("mod removed", "game", gameID, "mod", modID, "was_enabled", wasEnabled)
	return nil
}

// OnModAdded registers a mod and creates its staging directory. It does
// not deploy.
func (c *Coordinator) OnModAdded(ctx context.Context, gameID string, mod types.Mod) error {
	if err := ctx.Err(); err != nil {
		return deployerr.Classify("add mod", err)
	}
	st, err := c.state.Snapshot()
	if err != nil {
		return err
	}
	if mod.InstallationPath == "" {
		mod.InstallationPath = mod.ID
	}
	if err := c.state.AddMod(gameID, mod); err != nil {
		return err
	}
	install := st.InstallPath(gameID)
	if install == "" {
		return deployerr.ProcessCanceled("no staging path configured for game %s", gameID)
	}
	if err := os.MkdirAll(staging.ModDir(install, mod), 0o755); err != nil {
		return deployerr.Classify("add mod", err)
	}
	return nil
}

// SetModEnabled toggles a mod and marks the game's deployment stale.
func (c *Coordinator) SetModEnabled(gameID, modID string, enabled bool) error {
	st, err := c.state.Snapshot()
	if err != nil {
		return err
	}
	if st.IsEnabled(gameID, modID) == enabled {
		return nil
	}
	if err := c.state.SetModEnabled(gameID, modID, enabled); err != nil {
		return err
	}
	c.markNecessary(gameID)
	return nil
}

// OnActivatorChanged switches the active game to its newly configured
// method, purging with the old one first.
func (c *Coordinator) OnActivatorChanged(ctx context.Context, prev, cur map[string]string) error {
	st, err := c.state.Snapshot()
	if err != nil {
		return err
	}
	gameID := st.ActiveGameID
	if gameID == "" || prev[gameID] == cur[gameID] || st.Discovered[gameID] == "" {
		return nil
	}
	c.log.Info("deployment method changed", "game", gameID, "from", prev[gameID], "to", cur[gameID])
	if cur[gameID] == "" {
		c.markNecessary(gameID)
		return c.engine.Deploy(ctx, gameID)
	}
	return c.engine.SwitchMethod(ctx, gameID, cur[gameID])
}

// OnPathsChanged refreshes and redeploys the active game when its staging
// path changed. prev and cur map game id to staging path.
func (c *Coordinator) OnPathsChanged(ctx context.Context, prev, cur map[string]string) error {
	st, err := c.state.Snapshot()
	if err != nil {
		return err
	}
	gameID := st.ActiveGameID
	if gameID == "" || prev[gameID] == cur[gameID] {
		return nil
	}
	c.log.Info("staging path changed", "game", gameID, "from", prev[gameID], "to", cur[gameID])
	if err := c.RefreshMods(ctx, gameID); err != nil {
		c.report(gameID, "Failed to refresh mods", err)
		return err
	}
	c.markNecessary(gameID)
	if st.Discovered[gameID] == "" {
		return nil
	}
	return c.engine.Deploy(ctx, gameID)
}

// OnModsChanged marks the active game's deployment stale when an existing
// mod's rules, overrides or enable state changed, or the load order moved.
// Deployment itself is left to an explicit trigger.
func (c *Coordinator) OnModsChanged(prev, cur *types.State) error {
	gameID := cur.ActiveGameID
	if gameID == "" || cur.DeploymentNecessary[gameID] {
		return nil
	}
	if !modsChanged(prev, cur, gameID) {
		return nil
	}
	c.markNecessary(gameID)
	return nil
}

func modsChanged(prev, cur *types.State, gameID string) bool {
	for id, m := range cur.Mods[gameID] {
		old, ok := prev.Mods[gameID][id]
		if !ok {
			continue
		}
		if !slices.Equal(old.Rules, m.Rules) || !slices.Equal(old.FileOverrides, m.FileOverrides) {
			return true
		}
		if prev.IsEnabled(gameID, id) != cur.IsEnabled(gameID, id) {
			return true
		}
	}
	pp, _ := prev.ActiveProfile(gameID)
	cp, _ := cur.ActiveProfile(gameID)
	return !slices.Equal(pp.LoadOrder, cp.LoadOrder)
}

// Watchable is a store that reports committed changes.
type Watchable interface {
	Watch(fn state.ChangeFunc)
}

// Attach subscribes the coordinator to w so state changes trigger the
// matching handlers. Handler errors are reported as notifications.
func (c *Coordinator) Attach(ctx context.Context, w Watchable) {
	w.Watch(func(prev, cur *types.State) {
		c.onStateChanged(ctx, prev, cur)
	})
}

func (c *Coordinator) onStateChanged(ctx context.Context, prev, cur *types.State) {
	gameID := cur.ActiveGameID
	if gameID != "" && prev.ActiveGameID != gameID {
		if err := c.OnGameActivated(ctx, gameID); err != nil {
			c.report(gameID, "Failed to activate game", err)
		}
		return
	}
	if err := c.OnActivatorChanged(ctx, prev.Activators, cur.Activators); err != nil {
		c.report(gameID, "Failed to switch deployment method", err)
	}
	prevPath := map[string]string{gameID: prev.InstallPath(gameID)}
	curPath := map[string]string{gameID: cur.InstallPath(gameID)}
	if err := c.OnPathsChanged(ctx, prevPath, curPath); err != nil {
		c.report(gameID, "Failed to redeploy after path change", err)
	}
	if err := c.OnModsChanged(prev, cur); err != nil {
		c.report(gameID, "Failed to update deployment state", err)
	}
}

func (c *Coordinator) markNecessary(gameID string) {
	if err := c.state.SetDeploymentNecessary(gameID, true); err != nil {
		c.log.Warn("could not set deployment flag", "game", gameID, "error", err)
		return
	}
	c.events.Emit(events.Event{Kind: events.DeploymentNecessaryChanged, GameID: gameID, Necessary: true})
}

// report turns an error into a notification. UserCanceled is dropped.
func (c *Coordinator) report(gameID, title string, err error) {
	if err == nil || deployerr.Suppressed(err) {
		return
	}
	kind := deployerr.Worst(err)
	c.log.Error(title, "game", gameID, "kind", kind, "error", err)
	sev := events.SeverityError
	if kind == deployerr.KindTemporary || kind == deployerr.KindProcessCanceled {
		sev = events.SeverityWarning
	}
	c.events.Notify(gameID, sev, title, err.Error(), deployerr.Remedy(kind))
}
