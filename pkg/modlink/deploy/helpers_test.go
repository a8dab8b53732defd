package deploy_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/modlink/pkg/modlink/activation"
	"github.com/jamesainslie/modlink/pkg/modlink/deploy"
	"github.com/jamesainslie/modlink/pkg/modlink/events"
	"github.com/jamesainslie/modlink/pkg/modlink/games"
	"github.com/jamesainslie/modlink/pkg/modlink/history"
	"github.com/jamesainslie/modlink/pkg/modlink/method"
	"github.com/jamesainslie/modlink/pkg/modlink/normalize"
	"github.com/jamesainslie/modlink/pkg/modlink/state"
	"github.com/jamesainslie/modlink/pkg/modlink/types"
)

const gameID = "testgame"

// env is a staging root, a game directory, and a wired orchestrator.
type env struct {
	root    string
	game    string
	staging string
	state   *state.Memory
	store   *activation.Store
	games   *games.Registry
	bus     *events.Bus
	journal *history.Journal
	orch    *deploy.Orchestrator
}

func newEnv(t *testing.T, methods *method.Registry, modTypes map[string]string) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{
		root:    root,
		game:    filepath.Join(root, "game"),
		staging: filepath.Join(root, "staging", gameID),
	}
	require.NoError(t, os.MkdirAll(e.game, 0o755))
	require.NoError(t, os.MkdirAll(e.staging, 0o755))

	st := types.NewState()
	st.ActiveGameID = gameID
	st.StagingRoot = filepath.Join(root, "staging")
	st.Discovered[gameID] = e.game
	e.state = state.NewMemory(st)

	store, err := activation.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	e.store = store

	e.games = games.NewRegistry(games.Descriptor{GameID: gameID, ModTypes: modTypes})
	e.bus = events.New(64)
	t.Cleanup(e.bus.Close)

	journal, err := history.New(filepath.Join(root, "history"))
	require.NoError(t, err)
	e.journal = journal

	if methods == nil {
		methods = method.Default(nil)
	}
	e.orch, err = deploy.New(deploy.Config{
		Methods:   methods,
		Store:     store,
		Games:     e.games,
		State:     e.state,
		Events:    e.bus,
		History:   journal,
		Normalize: normalize.DefaultOptions(),
	})
	require.NoError(t, err)
	return e
}

// addMod stages files for a mod and registers it, enabled.
func (e *env) addMod(t *testing.T, id, modType string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(e.staging, id, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	require.NoError(t, e.state.AddMod(gameID, types.Mod{ID: id, Type: modType, InstallationPath: id}))
	require.NoError(t, e.state.SetModEnabled(gameID, id, true))
}

func (e *env) manifest(t *testing.T, modType, dataPath string) *types.Manifest {
	t.Helper()
	m, err := e.store.Load(context.Background(), modType, dataPath)
	require.NoError(t, err)
	return m
}

func (e *env) necessary(t *testing.T) bool {
	t.Helper()
	snap, err := e.state.Snapshot()
	require.NoError(t, err)
	return snap.DeploymentNecessary[gameID]
}

func owners(m *types.Manifest) map[string]string {
	out := make(map[string]string)
	if m == nil {
		return out
	}
	for _, entry := range m.Entries {
		out[entry.RelPath] = entry.Source
	}
	return out
}

// countingFS counts mutating filesystem calls.
type countingFS struct {
	method.OSFS
	mu sync.Mutex
	n  int
}

func (c *countingFS) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countingFS) mutations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func (c *countingFS) Symlink(oldname, newname string) error {
	c.inc()
	return c.OSFS.Symlink(oldname, newname)
}

func (c *countingFS) Link(oldname, newname string) error {
	c.inc()
	return c.OSFS.Link(oldname, newname)
}

func (c *countingFS) CopyFile(src, dst string) error {
	c.inc()
	return c.OSFS.CopyFile(src, dst)
}

func (c *countingFS) Rename(oldpath, newpath string) error {
	c.inc()
	return c.OSFS.Rename(oldpath, newpath)
}

func (c *countingFS) Remove(name string) error {
	c.inc()
	return c.OSFS.Remove(name)
}

func (c *countingFS) MkdirAll(path string, perm os.FileMode) error {
	c.inc()
	return c.OSFS.MkdirAll(path, perm)
}

// tracingMethod logs every contract call as "<method>:<op>".
type tracingMethod struct {
	method.Method
	mu    *sync.Mutex
	trace *[]string
}

func (m tracingMethod) log(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*m.trace = append(*m.trace, m.Descriptor().ID+":"+op)
}

func (m tracingMethod) Prepare(ctx context.Context, dataPath string, forDeployment bool, last *types.Manifest, n normalize.Func) (*method.Session, error) {
	m.log("prepare")
	return m.Method.Prepare(ctx, dataPath, forDeployment, last, n)
}

func (m tracingMethod) Activate(ctx context.Context, s *method.Session, stagingPath string, mod types.Mod) error {
	m.log("activate")
	return m.Method.Activate(ctx, s, stagingPath, mod)
}

func (m tracingMethod) Finalize(ctx context.Context, s *method.Session, gameID, installationPath string) (*types.Manifest, error) {
	m.log("finalize")
	return m.Method.Finalize(ctx, s, gameID, installationPath)
}

func (m tracingMethod) Purge(ctx context.Context, s *method.Session, installationPath string) error {
	m.log("purge")
	return m.Method.Purge(ctx, s, installationPath)
}

// flakyStore fails the next failures calls to Save.
type flakyStore struct {
	deploy.ManifestStore
	mu       sync.Mutex
	failures int
}

func (f *flakyStore) Save(ctx context.Context, modType, instanceID, dataPath string, m *types.Manifest) error {
	f.mu.Lock()
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		return syscall.EAGAIN
	}
	return f.ManifestStore.Save(ctx, modType, instanceID, dataPath, m)
}
