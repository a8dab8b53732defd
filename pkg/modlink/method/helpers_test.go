package method_test

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/modlink/pkg/modlink/method"
	"github.com/jamesainslie/modlink/pkg/modlink/normalize"
	"github.com/jamesainslie/modlink/pkg/modlink/types"
)

// countingFS counts mutating calls and can inject failures.
type countingFS struct {
	method.OSFS
	mutations atomic.Int64

	failSymlink func(newname string) error
	failReadDir func(name string) error
}

func (c *countingFS) Symlink(oldname, newname string) error {
	if c.failSymlink != nil {
		if err := c.failSymlink(newname); err != nil {
			return err
		}
	}
	c.mutations.Add(1)
	return c.OSFS.Symlink(oldname, newname)
}

func (c *countingFS) Link(oldname, newname string) error {
	c.mutations.Add(1)
	return c.OSFS.Link(oldname, newname)
}

func (c *countingFS) CopyFile(src, dst string) error {
	c.mutations.Add(1)
	return c.OSFS.CopyFile(src, dst)
}

func (c *countingFS) Rename(oldpath, newpath string) error {
	c.mutations.Add(1)
	return c.OSFS.Rename(oldpath, newpath)
}

func (c *countingFS) Remove(name string) error {
	c.mutations.Add(1)
	return c.OSFS.Remove(name)
}

func (c *countingFS) MkdirAll(path string, perm fs.FileMode) error {
	c.mutations.Add(1)
	return c.OSFS.MkdirAll(path, perm)
}

func (c *countingFS) ReadDir(name string) ([]fs.DirEntry, error) {
	if c.failReadDir != nil {
		if err := c.failReadDir(name); err != nil {
			return nil, err
		}
	}
	return c.OSFS.ReadDir(name)
}

// fixture is a staging root and a data directory.
type fixture struct {
	staging string
	data    string
	norm    normalize.Func
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		staging: filepath.Join(root, "staging"),
		data:    filepath.Join(root, "game", "Data"),
		norm:    normalize.NewFunc(true, normalize.DefaultOptions()),
	}
	require.NoError(t, os.MkdirAll(f.staging, 0o755))
	require.NoError(t, os.MkdirAll(f.data, 0o755))
	return f
}

func (f *fixture) stage(t *testing.T, modID string, files map[string]string) types.Mod {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(f.staging, modID, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return types.Mod{ID: modID, GameID: "game", InstallationPath: modID, State: types.StateInstalled}
}

// deploy runs one full deployment of mods (lowest priority first) and
// returns the new manifest.
func (f *fixture) deploy(t *testing.T, m method.Method, last *types.Manifest, mods ...types.Mod) *types.Manifest {
	t.Helper()
	ctx := context.Background()
	s, err := m.Prepare(ctx, f.data, true, last, f.norm)
	require.NoError(t, err)
	prio := make(map[string]int)
	for i, mod := range mods {
		prio[mod.ID] = i
	}
	s.SetPriorities(prio)
	for _, mod := range mods {
		require.NoError(t, m.Activate(ctx, s, f.staging, mod))
	}
	out, err := m.Finalize(ctx, s, "game", f.staging)
	require.NoError(t, err)
	return out
}

func (f *fixture) path(rel string) string {
	return filepath.Join(f.data, filepath.FromSlash(rel))
}

func relPaths(m *types.Manifest) []string {
	out := []string{}
	for _, e := range m.Entries {
		out = append(out, e.RelPath)
	}
	return out
}

func owners(m *types.Manifest) map[string]string {
	out := make(map[string]string)
	for _, e := range m.Entries {
		out[e.RelPath] = e.Source
	}
	return out
}

func normalizeInsensitive() normalize.Func {
	return normalize.NewFunc(false, normalize.DefaultOptions())
}
