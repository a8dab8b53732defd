// Package deploy sequences deployment methods across the target directories
// of a game.
//
// Every directory runs the pipeline
//
//	SELECT_METHOD -> PREPARE -> APPLY_DELTA -> FINALIZE -> PERSIST
//
// with PURGE in place of APPLY_DELTA when a directory's files were written
// by a different method or are being retracted. Operations on one
// {modType, dataPath} pair are serialized through a KeyedMutex; distinct
// directories run concurrently up to the configured limit, and a failure in
// one never stops the others.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jamesainslie/modlink/pkg/modlink/deployerr"
	"github.com/jamesainslie/modlink/pkg/modlink/events"
	"github.com/jamesainslie/modlink/pkg/modlink/games"
	"github.com/jamesainslie/modlink/pkg/modlink/history"
	"github.com/jamesainslie/modlink/pkg/modlink/logging"
	"github.com/jamesainslie/modlink/pkg/modlink/method"
	"github.com/jamesainslie/modlink/pkg/modlink/normalize"
	"github.com/jamesainslie/modlink/pkg/modlink/state"
	"github.com/jamesainslie/modlink/pkg/modlink/types"
)

// DefaultConcurrency bounds how many directories are processed at once.
const DefaultConcurrency = 4

// Phase is a step of the per-directory pipeline.
type Phase string

const (
	PhaseIdle         Phase = "IDLE"
	PhaseSelectMethod Phase = "SELECT_METHOD"
	PhasePrepare      Phase = "PREPARE"
	PhaseApplyDelta   Phase = "APPLY_DELTA"
	PhasePurge        Phase = "PURGE"
	PhaseFinalize     Phase = "FINALIZE"
	PhasePersist      Phase = "PERSIST"
)

// ManifestStore persists one activation manifest per target directory.
type ManifestStore interface {
	Load(ctx context.Context, modType, dataPath string) (*types.Manifest, error)
	Save(ctx context.Context, modType, instanceID, dataPath string, m *types.Manifest) error
}

// Config wires an Orchestrator.
type Config struct {
	Methods *method.Registry
	Store   ManifestStore
	Games   *games.Registry
	State   state.Store

	// Events and History are optional.
	Events  *events.Bus
	History *history.Journal

	Concurrency int
	Normalize   normalize.Options

	// Dirs supplies the functions directory keys are canonicalized with.
	// Nil probes each directory once per orchestrator.
	Dirs *normalize.Cache
}

// Orchestrator runs deploy, purge and undeploy operations.
type Orchestrator struct {
	methods     *method.Registry
	store       ManifestStore
	games       *games.Registry
	state       state.Store
	events      *events.Bus
	history     *history.Journal
	queue       *KeyedMutex
	concurrency int
	normOpts    normalize.Options
	dirs        *normalize.Cache
	log         *logging.Logger

	blockMu sync.Mutex
	blocked map[string]error
}

// New returns an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Methods == nil || cfg.Store == nil || cfg.Games == nil || cfg.State == nil {
		return nil, errors.New("deploy: methods, store, games and state are required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Dirs == nil {
		cfg.Dirs = normalize.NewCache(cfg.Normalize)
	}
	return &Orchestrator{
		methods:     cfg.Methods,
		store:       cfg.Store,
		games:       cfg.Games,
		state:       cfg.State,
		events:      cfg.Events,
		history:     cfg.History,
		queue:       NewKeyedMutex(),
		concurrency: cfg.Concurrency,
		normOpts:    cfg.Normalize,
		dirs:        cfg.Dirs,
		log:         logging.Get("deploy"),
		blocked:     make(map[string]error),
	}, nil
}

// Target is one directory of a game.
type Target struct {
	GameID      string `json:"game_id"`
	ModType     string `json:"mod_type"`
	DataPath    string `json:"data_path"`
	StagingPath string `json:"staging_path"`

	canon string
}

// storePath is the path the directory's lock, block and manifest are keyed
// by.
func (t Target) storePath() string {
	if t.canon != "" {
		return t.canon
	}
	return t.DataPath
}

func (t Target) key() string { return DirKey(t.ModType, t.storePath()) }

// canonical returns t with its key path spelled the way the directory's
// filesystem compares names, so spellings of one directory share a key.
func (o *Orchestrator) canonical(ctx context.Context, t Target) Target {
	t.canon = o.canonicalPath(ctx, t.DataPath)
	return t
}

func (o *Orchestrator) canonicalPath(ctx context.Context, dataPath string) string {
	n, err := o.dirs.Get(ctx, dataPath)
	if err != nil {
		return filepath.Clean(dataPath)
	}
	return n.Dir(dataPath)
}

// Targets resolves the target directories of a game, sorted by mod type.
func (o *Orchestrator) Targets(st *types.State, gameID string) ([]Target, error) {
	if gameID == "" {
		return nil, deployerr.ProcessCanceled("no game is active")
	}
	paths, err := o.games.ModPaths(gameID, st.Discovered[gameID])
	if err != nil {
		return nil, deployerr.ProcessCanceled("%v", err)
	}
	staging := st.InstallPath(gameID)
	if staging == "" {
		return nil, deployerr.ProcessCanceled("no staging path configured for game %s", gameID)
	}

	targets := make([]Target, 0, len(paths))
	for modType, dataPath := range paths {
		targets = append(targets, Target{GameID: gameID, ModType: modType, DataPath: dataPath, StagingPath: staging})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].ModType < targets[j].ModType })
	return targets, nil
}

// SelectMethod picks the method for a game. A configured method is used if
// it exists and serves every query; otherwise the first registered method
// that supports every query and is not excluded by the game wins.
func (o *Orchestrator) SelectMethod(st *types.State, gameID string, queries []method.SupportQuery) (method.Method, error) {
	game, err := o.games.Get(gameID)
	if err != nil {
		return nil, deployerr.ProcessCanceled("%v", err)
	}

	if id := st.Activators[gameID]; id != "" {
		m, ok := o.methods.Get(id)
		if !ok {
			return nil, deployerr.ProcessCanceled("deployment method %q is no longer available", id)
		}
		if game.Incompatible(id) {
			return nil, deployerr.ProcessCanceled("deployment method %q is incompatible with %s", id, game.Name())
		}
		if err := method.SupportsAll(m, queries); err != nil {
			return nil, &deployerr.Error{Kind: deployerr.KindProcessCanceled, Op: "select method", Err: err}
		}
		return m, nil
	}
	return o.methods.SelectFor(queries, game.Incompatible)
}

// SupportedMethods returns, in registration order, the methods that serve
// every target directory of a game and are not excluded by it.
func (o *Orchestrator) SupportedMethods(st *types.State, gameID string) ([]method.Method, error) {
	game, err := o.games.Get(gameID)
	if err != nil {
		return nil, deployerr.ProcessCanceled("%v", err)
	}
	targets, err := o.Targets(st, gameID)
	if err != nil {
		return nil, err
	}
	q := queries(targets, nil)

	var out []method.Method
	for _, m := range o.methods.All() {
		id := m.Descriptor().ID
		if game.Incompatible(id) || method.SupportsAll(m, q) != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Methods returns the method registry.
func (o *Orchestrator) Methods() *method.Registry { return o.methods }

// queries returns the support queries for the targets that have enabled
// mods, or for all targets when none do.
func queries(targets []Target, byType map[string][]types.Mod) []method.SupportQuery {
	var q []method.SupportQuery
	for _, t := range targets {
		if len(byType[t.ModType]) == 0 {
			continue
		}
		q = append(q, t.query())
	}
	if len(q) == 0 {
		for _, t := range targets {
			q = append(q, t.query())
		}
	}
	return q
}

func (t Target) query() method.SupportQuery {
	return method.SupportQuery{GameID: t.GameID, ModType: t.ModType, DataPath: t.DataPath, StagingPath: t.StagingPath}
}

// run is the shared context of one game-level operation.
type run struct {
	st       *types.State
	gameID   string
	method   method.Method
	cache    *normalize.Cache
	prio     map[string]int
	op       history.Operation
	instance string
}

func (o *Orchestrator) newRun(st *types.State, gameID string, m method.Method, op history.Operation) *run {
	return &run{
		st:       st,
		gameID:   gameID,
		method:   m,
		cache:    normalize.NewCache(o.normOpts),
		prio:     st.Priorities(gameID),
		op:       op,
		instance: st.InstanceID,
	}
}

// Deploy brings every target directory of a game in line with the enabled
// mods of its active profile.
func (o *Orchestrator) Deploy(ctx context.Context, gameID string) error {
	st, err := o.state.Snapshot()
	if err != nil {
		return deployerr.Fatal("deploy", "", err)
	}
	targets, err := o.Targets(st, gameID)
	if err != nil {
		return o.fail(gameID, err)
	}

	byType := make(map[string][]types.Mod)
	for _, mod := range st.EnabledMods(gameID) {
		byType[mod.Type] = append(byType[mod.Type], mod)
	}
	known := make(map[string]bool, len(targets))
	for _, t := range targets {
		known[t.ModType] = true
	}
	for modType, mods := range byType {
		if !known[modType] {
			o.log.Warn("mod type has no target directory", "game", gameID, "mod_type", modType, "mods", len(mods))
			o.events.Notify(gameID, events.SeverityWarning, "Mods not deployed",
				fmt.Sprintf("%d mods of type %q have no target directory", len(mods), modType), "")
		}
	}

	o.log.Debug("phase", "game", gameID, "phase", PhaseSelectMethod)
	m, err := o.SelectMethod(st, gameID, queries(targets, byType))
	if err != nil {
		return o.fail(gameID, err)
	}
	r := o.newRun(st, gameID, m, history.OpDeploy)

	o.log.Info("deploying", "game", gameID, "method", m.Descriptor().ID, "directories", len(targets))
	err = o.each(ctx, targets, func(ctx context.Context, t Target) error {
		return o.deployDir(ctx, r, t, byType[t.ModType])
	})
	if err != nil {
		return o.fail(gameID, err)
	}
	if err := ctx.Err(); err != nil {
		return deployerr.Classify("deploy", err)
	}

	if err := o.state.SetDeploymentNecessary(gameID, false); err != nil {
		o.log.Warn("could not clear deployment flag", "game", gameID, "error", err)
	}
	o.events.Emit(events.Event{Kind: events.DeploymentNecessaryChanged, GameID: gameID, Necessary: false})
	o.events.Emit(events.Event{Kind: events.DeployCompleted, GameID: gameID, Directories: len(targets)})
	o.log.Info("deployment complete", "game", gameID, "method", m.Descriptor().ID)
	return nil
}

// PurgeAll retracts every managed file from every target directory of a
// game using the method recorded in each directory's manifest.
func (o *Orchestrator) PurgeAll(ctx context.Context, gameID string) error {
	st, err := o.state.Snapshot()
	if err != nil {
		return deployerr.Fatal("purge", "", err)
	}
	targets, err := o.Targets(st, gameID)
	if err != nil {
		return o.fail(gameID, err)
	}
	r := o.newRun(st, gameID, nil, history.OpPurge)

	err = o.each(ctx, targets, func(ctx context.Context, t Target) error {
		_, err := o.purgeDir(ctx, r, t, nil)
		if err == nil {
			o.unblock(t.key())
		}
		return err
	})
	if len(st.EnabledMods(gameID)) > 0 {
		o.markNecessary(gameID)
	}
	if err != nil {
		return o.fail(gameID, err)
	}
	if err := ctx.Err(); err != nil {
		return deployerr.Classify("purge", err)
	}
	o.events.Emit(events.Event{Kind: events.PurgeCompleted, GameID: gameID, Directories: len(targets)})
	return nil
}

// UndeployMod retracts one mod's files from its target directory, leaving
// every other mod deployed.
func (o *Orchestrator) UndeployMod(ctx context.Context, gameID, modID string) error {
	st, err := o.state.Snapshot()
	if err != nil {
		return deployerr.Fatal("undeploy", "", err)
	}
	mod, ok := st.Mods[gameID][modID]
	if !ok {
		return deployerr.ProcessCanceled("mod %s is not known for game %s", modID, gameID)
	}
	targets, err := o.Targets(st, gameID)
	if err != nil {
		return err
	}
	var target *Target
	for i := range targets {
		if targets[i].ModType == mod.Type {
			target = &targets[i]
			break
		}
	}
	if target == nil {
		return deployerr.ProcessCanceled("mod type %q of %s has no target directory", mod.Type, modID)
	}

	r := o.newRun(st, gameID, nil, history.OpUndeploy)
	t := o.canonical(ctx, *target)
	err = o.locked(ctx, t, func(ctx context.Context) error {
		return o.undeployDir(ctx, r, t, mod)
	})
	if err != nil {
		return deployerr.Classify("undeploy", err)
	}

	for _, other := range st.EnabledMods(gameID) {
		if other.ID != modID && other.Type == mod.Type {
			// Files the mod shadowed come back on the next deploy.
			o.markNecessary(gameID)
			break
		}
	}
	return nil
}

// SwitchMethod purges every directory deployed with another method,
// records newID as the game's method and redeploys. A failed purge is
// reported as a warning and does not stop the switch.
func (o *Orchestrator) SwitchMethod(ctx context.Context, gameID, newID string) error {
	st, err := o.state.Snapshot()
	if err != nil {
		return deployerr.Fatal("switch method", "", err)
	}
	if _, ok := o.methods.Get(newID); !ok {
		return deployerr.ProcessCanceled("deployment method %q is not available", newID)
	}
	targets, err := o.Targets(st, gameID)
	if err != nil {
		return o.fail(gameID, err)
	}

	r := o.newRun(st, gameID, nil, history.OpSwitch)
	purgeErr := o.each(ctx, targets, func(ctx context.Context, t Target) error {
		_, err := o.purgeDir(ctx, r, t, func(last *types.Manifest) bool { return last.Method != newID })
		return err
	})
	if purgeErr != nil {
		o.log.Warn("purge before method switch failed", "game", gameID, "method", newID, "error", purgeErr)
		o.events.Notify(gameID, events.SeverityWarning, "Purge failed",
			purgeErr.Error(), "manual cleanup of the listed directories may be required")
	}
	if err := ctx.Err(); err != nil {
		return deployerr.Classify("switch method", err)
	}

	if err := o.state.SetActivator(gameID, newID); err != nil {
		return deployerr.Fatal("switch method", "", err)
	}
	o.markNecessary(gameID)
	o.log.Info("deployment method switched", "game", gameID, "method", newID)
	return o.Deploy(ctx, gameID)
}

// each runs fn for every target under its directory lock, concurrently up
// to the configured limit, and collects the classified failures.
func (o *Orchestrator) each(ctx context.Context, targets []Target, fn func(context.Context, Target) error) error {
	var (
		g     errgroup.Group
		mu    sync.Mutex
		multi deployerr.MultiError
	)
	g.SetLimit(o.concurrency)

	for _, t := range targets {
		g.Go(func() error {
			t := o.canonical(ctx, t)
			err := o.locked(ctx, t, func(ctx context.Context) error { return fn(ctx, t) })
			if err != nil {
				err = deployerr.Classify("deploy "+t.ModType, err)
				if deployerr.KindOf(err) == deployerr.KindIntegrity {
					o.block(t.key(), err)
				}
				mu.Lock()
				multi.Add(t.ModType, t.DataPath, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return multi.ErrorOrNil()
}

// locked runs fn while holding the directory's key.
func (o *Orchestrator) locked(ctx context.Context, t Target, fn func(context.Context) error) error {
	unlock, err := o.queue.Lock(ctx, t.key())
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}

// fail reports a failed game-level operation and returns err unchanged.
// UserCanceled is returned without a report.
func (o *Orchestrator) fail(gameID string, err error) error {
	if deployerr.Suppressed(err) {
		return err
	}
	kind := deployerr.Worst(err)
	o.log.Error("operation failed", "game", gameID, "kind", kind, "error", err)
	o.events.Emit(events.Event{Kind: events.DeployFailed, GameID: gameID, Err: err})
	o.events.Notify(gameID, events.SeverityError, "Deployment failed", err.Error(), deployerr.Remedy(kind))
	return err
}

func (o *Orchestrator) markNecessary(gameID string) {
	if err := o.state.SetDeploymentNecessary(gameID, true); err != nil {
		o.log.Warn("could not set deployment flag", "game", gameID, "error", err)
		return
	}
	o.events.Emit(events.Event{Kind: events.DeploymentNecessaryChanged, GameID: gameID, Necessary: true})
}

func (o *Orchestrator) block(key string, err error) {
	o.blockMu.Lock()
	defer o.blockMu.Unlock()
	o.blocked[key] = err
}

func (o *Orchestrator) unblock(key string) {
	o.blockMu.Lock()
	defer o.blockMu.Unlock()
	delete(o.blocked, key)
}

// Blocked returns the integrity failure that stops deployment to a
// directory, or nil. A successful purge of the directory clears it.
func (o *Orchestrator) Blocked(modType, dataPath string) error {
	return o.blockedKey(DirKey(modType, o.canonicalPath(context.Background(), dataPath)))
}

func (o *Orchestrator) blockedKey(key string) error {
	o.blockMu.Lock()
	defer o.blockMu.Unlock()
	return o.blocked[key]
}

func (o *Orchestrator) record(r *run, t Target, methodID, modID string, stats method.Stats, entries int, err error) {
	if o.history == nil {
		return
	}
	rec := history.Record{
		Operation: r.op,
		GameID:    r.gameID,
		ModType:   t.ModType,
		DataPath:  t.DataPath,
		Method:    methodID,
		ModID:     modID,
		Added:     stats.Added,
		Removed:   stats.Removed,
		Entries:   entries,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if _, herr := o.history.Append(rec); herr != nil {
		o.log.Warn("could not write history record", "error", herr)
	}
}
