package lifecycle_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/modlink/pkg/modlink/activation"
	"github.com/jamesainslie/modlink/pkg/modlink/deploy"
	"github.com/jamesainslie/modlink/pkg/modlink/deployerr"
	"github.com/jamesainslie/modlink/pkg/modlink/events"
	"github.com/jamesainslie/modlink/pkg/modlink/games"
	"github.com/jamesainslie/modlink/pkg/modlink/lifecycle"
	"github.com/jamesainslie/modlink/pkg/modlink/method"
	"github.com/jamesainslie/modlink/pkg/modlink/normalize"
	"github.com/jamesainslie/modlink/pkg/modlink/state"
	"github.com/jamesainslie/modlink/pkg/modlink/types"
)

const gameID = "testgame"

// fakeEngine records calls instead of deploying.
type fakeEngine struct {
	mu        sync.Mutex
	calls     []string
	methods   *method.Registry
	supported []method.Method

	undeployErr error
	onUndeploy  func()
}

func (f *fakeEngine) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeEngine) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeEngine) Deploy(_ context.Context, g string) error {
	f.record("deploy:" + g)
	return nil
}

func (f *fakeEngine) PurgeAll(_ context.Context, g string) error {
	f.record("purge:" + g)
	return nil
}

func (f *fakeEngine) UndeployMod(_ context.Context, g, modID string) error {
	f.record("undeploy:" + g + "/" + modID)
	if f.onUndeploy != nil {
		f.onUndeploy()
	}
	return f.undeployErr
}

func (f *fakeEngine) SwitchMethod(_ context.Context, g, id string) error {
	f.record("switch:" + g + "/" + id)
	return nil
}

func (f *fakeEngine) SupportedMethods(*types.State, string) ([]method.Method, error) {
	return f.supported, nil
}

func (f *fakeEngine) Methods() *method.Registry { return f.methods }

type fixture struct {
	coord   *lifecycle.Coordinator
	state   *state.Memory
	engine  *fakeEngine
	bus     *events.Bus
	staging string
}

func newFixture(t *testing.T, prompter lifecycle.Prompter) *fixture {
	t.Helper()
	root := t.TempDir()
	st := types.NewState()
	st.ActiveGameID = gameID
	st.StagingRoot = filepath.Join(root, "staging")
	st.Discovered[gameID] = filepath.Join(root, "game")

	f := &fixture{
		state:   state.NewMemory(st),
		bus:     events.New(64),
		staging: filepath.Join(root, "staging", gameID),
	}
	t.Cleanup(f.bus.Close)
	require.NoError(t, os.MkdirAll(f.staging, 0o755))

	registry := method.Default(nil)
	hardlink, _ := registry.Get(method.HardlinkID)
	f.engine = &fakeEngine{methods: registry, supported: []method.Method{hardlink}}

	coord, err := lifecycle.New(lifecycle.Config{Engine: f.engine, State: f.state, Events: f.bus, Prompter: prompter})
	require.NoError(t, err)
	f.coord = coord
	return f
}

func (f *fixture) stageMod(t *testing.T, id string, st types.ModState, enabled bool) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(f.staging, id), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.staging, id, "file.txt"), []byte(id), 0o644))
	require.NoError(t, f.state.AddMod(gameID, types.Mod{ID: id, InstallationPath: id, State: st}))
	if enabled {
		require.NoError(t, f.state.SetModEnabled(gameID, id, true))
	}
}

func (f *fixture) snapshot(t *testing.T) *types.State {
	t.Helper()
	snap, err := f.state.Snapshot()
	require.NoError(t, err)
	return snap
}

func TestRemoveInstallingModRefused(t *testing.T) {
	f := newFixture(t, nil)
	f.stageMod(t, "busy", types.StateInstalling, false)
	before := f.snapshot(t).Mods

	err := f.coord.OnModRemoved(context.Background(), gameID, "busy")
	assert.ErrorIs(t, err, deployerr.ErrProcessCanceled)
	assert.Equal(t, before, f.snapshot(t).Mods)
	assert.DirExists(t, filepath.Join(f.staging, "busy"))
	assert.Empty(t, f.engine.Calls())
}

func TestRemoveEnabledModUndeploysFirst(t *testing.T) {
	f := newFixture(t, nil)
	f.stageMod(t, "m1", types.StateInstalled, true)
	f.engine.onUndeploy = func() {
		assert.DirExists(t, filepath.Join(f.staging, "m1"), "staged files must outlive the undeploy")
	}

	require.NoError(t, f.coord.OnModRemoved(context.Background(), gameID, "m1"))
	assert.Equal(t, []string{"undeploy:" + gameID + "/m1"}, f.engine.Calls())
	assert.NoDirExists(t, filepath.Join(f.staging, "m1"))
	assert.NotContains(t, f.snapshot(t).Mods[gameID], "m1")
}

func TestRemoveKeepsModWhenUndeployFails(t *testing.T) {
	f := newFixture(t, nil)
	f.stageMod(t, "m1", types.StateInstalled, true)
	f.engine.undeployErr = deployerr.Temporary("finalize", "/x", os.ErrDeadlineExceeded)
	sub := f.bus.Subscribe(events.Notification)

	err := f.coord.OnModRemoved(context.Background(), gameID, "m1")
	assert.ErrorIs(t, err, deployerr.ErrTemporary)
	snap := f.snapshot(t)
	assert.Contains(t, snap.Mods[gameID], "m1")
	assert.True(t, snap.IsEnabled(gameID, "m1"), "mod with deployed files must stay enabled")
	assert.DirExists(t, filepath.Join(f.staging, "m1"))

	require.Len(t, sub.Events, 1)
	assert.Equal(t, "Failed to undeploy mod, please try again", (<-sub.Events).Title)
}

func TestRemoveDisabledModSkipsUndeploy(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.state.AddMod(gameID, types.Mod{ID: "ghost", State: types.StateDownloaded}))

	require.NoError(t, f.coord.OnModRemoved(context.Background(), gameID, "ghost"))
	assert.Empty(t, f.engine.Calls())
	assert.NotContains(t, f.snapshot(t).Mods[gameID], "ghost")
}

func TestGameActivatedUnknownMethodNotifies(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.state.SetActivator(gameID, "teleport"))
	sub := f.bus.Subscribe(events.Notification, events.ModsRefreshed)

	require.NoError(t, f.coord.OnGameActivated(context.Background(), gameID))
	assert.Equal(t, "teleport", f.snapshot(t).Activators[gameID])
	assert.Empty(t, f.engine.Calls())

	require.Len(t, sub.Events, 2)
	n := <-sub.Events
	assert.Equal(t, events.SeverityError, n.Severity)
	assert.Equal(t, "Deployment method no longer available", n.Title)
	assert.Equal(t, events.ModsRefreshed, (<-sub.Events).Kind)
}

func TestGameActivatedUnsupportedMethodPurgesAndReselects(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.state.SetActivator(gameID, method.SymlinkID))

	require.NoError(t, f.coord.OnGameActivated(context.Background(), gameID))
	assert.Equal(t, []string{"purge:" + gameID}, f.engine.Calls())
	assert.Equal(t, method.HardlinkID, f.snapshot(t).Activators[gameID])
}

func TestGameActivatedKeepsSupportedMethod(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.state.SetActivator(gameID, method.HardlinkID))

	require.NoError(t, f.coord.OnGameActivated(context.Background(), gameID))
	assert.Empty(t, f.engine.Calls())
}

func TestGameActivatedRefreshesMods(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, os.MkdirAll(filepath.Join(f.staging, "newmod"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(f.staging, "half"+".installing"), 0o755))
	require.NoError(t, f.state.AddMod(gameID, types.Mod{ID: "gone", State: types.StateInstalled}))
	require.NoError(t, f.state.SetModEnabled(gameID, "gone", true))
	require.NoError(t, f.state.AddMod(gameID, types.Mod{ID: "busy", State: types.StateInstalling}))

	require.NoError(t, f.coord.OnGameActivated(context.Background(), gameID))
	mods := f.snapshot(t).Mods[gameID]
	assert.Contains(t, mods, "newmod")
	assert.Contains(t, mods, "busy")
	assert.NotContains(t, mods, "gone")
	assert.NotContains(t, mods, "half.installing")
	assert.True(t, f.snapshot(t).DeploymentNecessary[gameID])
}

func TestOnModAddedCreatesDirectory(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.coord.OnModAdded(context.Background(), gameID, types.Mod{ID: "fresh"}))

	assert.DirExists(t, filepath.Join(f.staging, "fresh"))
	assert.Equal(t, "fresh", f.snapshot(t).Mods[gameID]["fresh"].InstallationPath)
	assert.Empty(t, f.engine.Calls())
}

func TestOnActivatorChanged(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.coord.OnActivatorChanged(ctx, map[string]string{gameID: "a"}, map[string]string{gameID: "a"}))
	assert.Empty(t, f.engine.Calls())

	require.NoError(t, f.coord.OnActivatorChanged(ctx, map[string]string{gameID: "a"}, map[string]string{gameID: "copy"}))
	assert.Equal(t, []string{"switch:" + gameID + "/copy"}, f.engine.Calls())
}

func TestOnPathsChangedRedeploys(t *testing.T) {
	f := newFixture(t, nil)
	prev := map[string]string{gameID: "/old"}
	cur := map[string]string{gameID: f.staging}

	require.NoError(t, f.coord.OnPathsChanged(context.Background(), prev, cur))
	assert.Equal(t, []string{"deploy:" + gameID}, f.engine.Calls())
	assert.True(t, f.snapshot(t).DeploymentNecessary[gameID])
}

func TestOnModsChangedMarksStale(t *testing.T) {
	f := newFixture(t, nil)
	f.stageMod(t, "m1", types.StateInstalled, false)
	prev := f.snapshot(t)

	cur := prev.Clone()
	m := cur.Mods[gameID]["m1"]
	m.FileOverrides = []string{"file.txt"}
	cur.Mods[gameID]["m1"] = m

	sub := f.bus.Subscribe(events.DeploymentNecessaryChanged)
	require.NoError(t, f.coord.OnModsChanged(prev, cur))
	assert.True(t, f.snapshot(t).DeploymentNecessary[gameID])
	assert.Len(t, sub.Events, 1)

	// Already flagged: no further dispatch.
	cur.DeploymentNecessary[gameID] = true
	require.NoError(t, f.coord.OnModsChanged(prev, cur))
	assert.Len(t, sub.Events, 1)
}

func TestOnModsChangedIgnoresUnrelated(t *testing.T) {
	f := newFixture(t, nil)
	f.stageMod(t, "m1", types.StateInstalled, false)
	prev := f.snapshot(t)
	cur := prev.Clone()
	m := cur.Mods[gameID]["m1"]
	m.Attributes = map[string]string{"name": "Renamed"}
	cur.Mods[gameID]["m1"] = m

	require.NoError(t, f.coord.OnModsChanged(prev, cur))
	assert.False(t, f.snapshot(t).DeploymentNecessary[gameID])
}

func TestSetModEnabledMarksStale(t *testing.T) {
	f := newFixture(t, nil)
	f.stageMod(t, "m1", types.StateInstalled, false)

	require.NoError(t, f.coord.SetModEnabled(gameID, "m1", true))
	snap := f.snapshot(t)
	assert.True(t, snap.IsEnabled(gameID, "m1"))
	assert.True(t, snap.DeploymentNecessary[gameID])
}

func TestAttachRoutesActivatorChanges(t *testing.T) {
	f := newFixture(t, nil)
	f.coord.Attach(context.Background(), f.state)

	require.NoError(t, f.state.SetActivator(gameID, method.CopyID))
	assert.Contains(t, f.engine.Calls(), "switch:"+gameID+"/copy")
}

// TestRemoveDeployedModWithOrchestrator runs the removal sequence against a
// real orchestrator and store.
func TestRemoveDeployedModWithOrchestrator(t *testing.T) {
	root := t.TempDir()
	gameDir := filepath.Join(root, "game")
	stagingDir := filepath.Join(root, "staging", gameID)
	require.NoError(t, os.MkdirAll(gameDir, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(stagingDir, "m1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stagingDir, "m1", "a.txt"), []byte("a"), 0o644))

	st := types.NewState()
	st.ActiveGameID = gameID
	st.StagingRoot = filepath.Join(root, "staging")
	st.Discovered[gameID] = gameDir
	mem := state.NewMemory(st)
	require.NoError(t, mem.AddMod(gameID, types.Mod{ID: "m1", InstallationPath: "m1"}))
	require.NoError(t, mem.SetModEnabled(gameID, "m1", true))

	store, err := activation.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	orch, err := deploy.New(deploy.Config{
		Methods:   method.NewRegistry(method.NewSymlink()),
		Store:     store,
		Games:     games.NewRegistry(games.Descriptor{GameID: gameID}),
		State:     mem,
		Normalize: normalize.DefaultOptions(),
	})
	require.NoError(t, err)
	coord, err := lifecycle.New(lifecycle.Config{Engine: orch, State: mem})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, orch.Deploy(ctx, gameID))
	_, err = os.Lstat(filepath.Join(gameDir, "a.txt"))
	require.NoError(t, err)

	require.NoError(t, coord.OnModRemoved(ctx, gameID, "m1"))
	_, err = os.Lstat(filepath.Join(gameDir, "a.txt"))
	assert.True(t, os.IsNotExist(err))
	assert.NoDirExists(t, filepath.Join(stagingDir, "m1"))

	m, err := store.Load(ctx, "", gameDir)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())
}
