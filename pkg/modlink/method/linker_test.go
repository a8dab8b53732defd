package method_test

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/modlink/pkg/modlink/deployerr"
	"github.com/jamesainslie/modlink/pkg/modlink/method"
	"github.com/jamesainslie/modlink/pkg/modlink/types"
)

func TestEnableDisableReenable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	m := method.NewSymlink()
	m1 := f.stage(t, "m1", map[string]string{"a.txt": "a", "b.txt": "b"})

	first := f.deploy(t, m, nil, m1)
	assert.Equal(t, []string{"a.txt", "b.txt"}, relPaths(first))
	assert.Equal(t, map[string]int{"m1": 2}, first.Sources())
	for _, rel := range []string{"a.txt", "b.txt"} {
		info, err := os.Lstat(f.path(rel))
		require.NoError(t, err)
		assert.NotZero(t, info.Mode()&os.ModeSymlink)
	}

	disabled := f.deploy(t, m, first)
	assert.Equal(t, 0, disabled.Len())
	assert.NoFileExists(t, f.path("a.txt"))
	assert.NoFileExists(t, f.path("b.txt"))

	again := f.deploy(t, m, disabled, m1)
	assert.Equal(t, map[string]int{"m1": 2}, again.Sources())
	data, err := os.ReadFile(f.path("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
}

func TestRedeployIsIdempotent(t *testing.T) {
	t.Parallel()

	for _, ctor := range []func(...method.Option) method.Method{method.NewSymlink, method.NewHardlink, method.NewCopy} {
		f := newFixture(t)
		cfs := &countingFS{}
		m := ctor(method.WithFS(cfs))
		t.Run(m.Descriptor().ID, func(t *testing.T) {
			mod := f.stage(t, "m1", map[string]string{"a.txt": "a", "sub/dir/c.txt": "c"})

			first := f.deploy(t, m, nil, mod)
			require.Equal(t, 2, first.Len())

			before := cfs.mutations.Load()
			second := f.deploy(t, m, first, mod)
			assert.Equal(t, before, cfs.mutations.Load(), "second deploy must not touch the filesystem")
			assert.Equal(t, first.Entries, second.Entries)
		})
	}
}

func TestConflictResolutionIgnoresOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	m := method.NewSymlink()
	a := f.stage(t, "A", map[string]string{"p.txt": "from A", "only-a.txt": "a"})
	b := f.stage(t, "B", map[string]string{"p.txt": "from B"})

	ctx := context.Background()
	for _, order := range [][]types.Mod{{a, b}, {b, a}} {
		s, err := m.Prepare(ctx, f.data, true, nil, f.norm)
		require.NoError(t, err)
		s.SetPriorities(map[string]int{"A": 1, "B": 2})
		for _, mod := range order {
			require.NoError(t, m.Activate(ctx, s, f.staging, mod))
		}
		assert.Equal(t, "B", s.Working()["p.txt"])
		assert.Equal(t, "A", s.Working()["only-a.txt"])
	}
}

func TestFileOverrideBeatsPriority(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	m := method.NewSymlink()
	a := f.stage(t, "A", map[string]string{"p.txt": "from A"})
	a.FileOverrides = []string{"P.txt"}
	b := f.stage(t, "B", map[string]string{"p.txt": "from B"})

	f.norm = normalizeInsensitive()
	out := f.deploy(t, m, nil, a, b)
	assert.Equal(t, "A", owners(out)["p.txt"])

	data, err := os.ReadFile(f.path("p.txt"))
	require.NoError(t, err)
	assert.Equal(t, "from A", string(data))
}

func TestActivateTwiceIsNoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	m := method.NewSymlink()
	mod := f.stage(t, "m1", map[string]string{"a.txt": "a"})

	ctx := context.Background()
	s, err := m.Prepare(ctx, f.data, true, nil, f.norm)
	require.NoError(t, err)
	require.NoError(t, m.Activate(ctx, s, f.staging, mod))
	require.NoError(t, m.Activate(ctx, s, f.staging, mod))
	assert.Len(t, s.Working(), 1)

	require.NoError(t, m.Deactivate(ctx, s, f.staging, types.Mod{ID: "absent"}))
	assert.Len(t, s.Working(), 1)
}

func TestUnmanagedFileIsNeverOverwritten(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	m := method.NewSymlink()
	require.NoError(t, os.WriteFile(f.path("a.txt"), []byte("user"), 0o644))
	mod := f.stage(t, "m1", map[string]string{"a.txt": "mod", "b.txt": "b"})

	ctx := context.Background()
	s, err := m.Prepare(ctx, f.data, true, nil, f.norm)
	require.NoError(t, err)
	require.NoError(t, m.Activate(ctx, s, f.staging, mod))
	out, err := m.Finalize(ctx, s, "game", f.staging)
	require.NoError(t, err)

	assert.Equal(t, []string{"b.txt"}, relPaths(out))
	require.Len(t, s.Conflicts, 1)
	assert.Equal(t, "a.txt", s.Conflicts[0].RelPath)

	data, err := os.ReadFile(f.path("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "user", string(data))
}

func TestExternallyModifiedFileBecomesUserOwned(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	m := method.NewSymlink()
	mod := f.stage(t, "m1", map[string]string{"a.txt": "a", "b.txt": "b"})
	first := f.deploy(t, m, nil, mod)

	require.NoError(t, os.Remove(f.path("a.txt")))
	require.NoError(t, os.WriteFile(f.path("a.txt"), []byte("edited"), 0o644))
	require.NoError(t, os.Remove(f.path("b.txt")))

	ctx := context.Background()
	s, err := m.Prepare(ctx, f.data, false, first, f.norm)
	require.NoError(t, err)

	kinds := map[string]method.ChangeKind{}
	for _, c := range s.Changes {
		kinds[c.RelPath] = c.Kind
	}
	assert.Equal(t, map[string]method.ChangeKind{"a.txt": method.ChangeModified, "b.txt": method.ChangeDeleted}, kinds)
	assert.Empty(t, s.Previous())

	require.NoError(t, m.Purge(ctx, s, f.staging))
	data, err := os.ReadFile(f.path("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "edited", string(data))
}

func TestPurgeCompleteness(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	m := method.NewHardlink()
	mod := f.stage(t, "m1", map[string]string{"a.txt": "a", "textures/sky/sky.dds": "s"})
	require.NoError(t, os.MkdirAll(f.path("textures"), 0o755))
	require.NoError(t, os.WriteFile(f.path("textures/user.dds"), []byte("u"), 0o644))

	last := f.deploy(t, m, nil, mod)
	require.Equal(t, 2, last.Len())

	ctx := context.Background()
	s, err := m.Prepare(ctx, f.data, false, last, f.norm)
	require.NoError(t, err)
	require.NoError(t, m.Purge(ctx, s, f.staging))

	assert.Equal(t, 0, s.Manifest().Len())
	assert.Equal(t, 2, s.Stats.Removed)
	assert.NoFileExists(t, f.path("a.txt"))
	assert.NoDirExists(t, f.path("textures/sky"))
	assert.FileExists(t, f.path("textures/user.dds"))
	assert.DirExists(t, f.data)
	assert.FileExists(t, f.staging+"/m1/a.txt")
}

func TestUndeploySingleMod(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	m := method.NewSymlink()
	m1 := f.stage(t, "m1", map[string]string{"a.txt": "a"})
	m2 := f.stage(t, "m2", map[string]string{"b.txt": "b"})
	last := f.deploy(t, m, nil, m1, m2)

	ctx := context.Background()
	s, err := m.Prepare(ctx, f.data, false, last, f.norm)
	require.NoError(t, err)
	require.NoError(t, m.Deactivate(ctx, s, f.staging, m1))
	out, err := m.Finalize(ctx, s, "game", f.staging)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"b.txt": "m2"}, owners(out))
	assert.NoFileExists(t, f.path("a.txt"))
	assert.Equal(t, 1, s.Stats.Unchanged)
}

func TestFinalizeRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cfs := &countingFS{}
	m := method.NewSymlink(method.WithFS(cfs))
	old := f.stage(t, "old", map[string]string{"a.txt": "old"})
	last := f.deploy(t, m, nil, old)

	next := f.stage(t, "new", map[string]string{"a.txt": "new", "b.txt": "b", "c.txt": "c"})
	cfs.failSymlink = func(newname string) error {
		if newname == f.path("c.txt") {
			return &os.PathError{Op: "symlink", Path: newname, Err: syscall.EBUSY}
		}
		return nil
	}

	ctx := context.Background()
	s, err := m.Prepare(ctx, f.data, true, last, f.norm)
	require.NoError(t, err)
	require.NoError(t, m.Activate(ctx, s, f.staging, next))
	out, err := m.Finalize(ctx, s, "game", f.staging)

	require.Error(t, err)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, deployerr.ErrTemporary)

	target, err := os.Readlink(f.path("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, f.staging+"/old/a.txt", target)
	assert.NoFileExists(t, f.path("b.txt"))

	entries, err := os.ReadDir(f.data)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "backups must be restored")
}

func TestPrepareUnreadableDirectory(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cfs := &countingFS{failReadDir: func(string) error {
		return &os.PathError{Op: "open", Path: f.data, Err: syscall.EACCES}
	}}
	m := method.NewCopy(method.WithFS(cfs))

	_, err := m.Prepare(context.Background(), f.data, true, nil, f.norm)
	assert.ErrorIs(t, err, deployerr.ErrIntegrity)
}

func TestPrepareMissingDirectory(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, os.RemoveAll(f.data))
	m := method.NewCopy()
	last := &types.Manifest{Method: method.CopyID, Entries: []types.Entry{{RelPath: "a.txt", Source: "m1", Tag: types.Tag{Method: method.CopyID}}}}

	s, err := m.Prepare(context.Background(), f.data, true, last, f.norm)
	require.NoError(t, err)
	assert.Empty(t, s.Previous())
	require.Len(t, s.Changes, 1)
	assert.Equal(t, method.ChangeDeleted, s.Changes[0].Kind)

	mod := f.stage(t, "m1", map[string]string{"a.txt": "a"})
	out := f.deploy(t, m, nil, mod)
	assert.Equal(t, 1, out.Len())
	assert.FileExists(t, f.path("a.txt"))
}

func TestEntriesFromOtherMethodAreNotTouched(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	mod := f.stage(t, "m1", map[string]string{"a.txt": "a"})
	symlinked := f.deploy(t, method.NewSymlink(), nil, mod)

	copier := method.NewCopy()
	ctx := context.Background()
	s, err := copier.Prepare(ctx, f.data, false, symlinked, f.norm)
	require.NoError(t, err)
	require.Len(t, s.Changes, 1)
	assert.Equal(t, method.ChangeUnverifiable, s.Changes[0].Kind)

	require.NoError(t, copier.Purge(ctx, s, f.staging))
	_, err = os.Lstat(f.path("a.txt"))
	assert.NoError(t, err)
}

func TestCopyDetectsEditedFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	m := method.NewCopy()
	mod := f.stage(t, "m1", map[string]string{"a.txt": "a"})
	last := f.deploy(t, m, nil, mod)

	require.NoError(t, os.WriteFile(f.path("a.txt"), []byte("much longer content"), 0o644))

	s, err := m.Prepare(context.Background(), f.data, true, last, f.norm)
	require.NoError(t, err)
	require.Len(t, s.Changes, 1)
	assert.Equal(t, method.ChangeModified, s.Changes[0].Kind)
}

func TestUnpersistedDeploymentIsAdopted(t *testing.T) {
	t.Parallel()

	for _, build := range []func(...method.Option) method.Method{method.NewSymlink, method.NewHardlink, method.NewCopy} {
		m := build()
		t.Run(m.Descriptor().ID, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			mod := f.stage(t, "m1", map[string]string{"a.txt": "a", "sub/b.txt": "b"})
			f.deploy(t, m, nil, mod)

			// The first manifest was lost before it was stored.
			ctx := context.Background()
			s, err := m.Prepare(ctx, f.data, true, nil, f.norm)
			require.NoError(t, err)
			require.NoError(t, m.Activate(ctx, s, f.staging, mod))
			out, err := m.Finalize(ctx, s, "game", f.staging)
			require.NoError(t, err)
			assert.Empty(t, s.Conflicts)
			assert.Equal(t, map[string]string{"a.txt": "m1", "sub/b.txt": "m1"}, owners(out))

			s, err = m.Prepare(ctx, f.data, false, out, f.norm)
			require.NoError(t, err)
			require.NoError(t, m.Purge(ctx, s, f.staging))
			assert.NoFileExists(t, f.path("a.txt"))
			assert.NoFileExists(t, f.path("sub/b.txt"))
		})
	}
}

func TestLookalikeFileIsNotAdopted(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	m := method.NewSymlink()
	mod := f.stage(t, "m1", map[string]string{"a.txt": "a"})
	require.NoError(t, os.Symlink(filepath.Join(f.staging, "elsewhere.txt"), f.path("a.txt")))

	ctx := context.Background()
	s, err := m.Prepare(ctx, f.data, true, nil, f.norm)
	require.NoError(t, err)
	require.NoError(t, m.Activate(ctx, s, f.staging, mod))
	out, err := m.Finalize(ctx, s, "game", f.staging)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
	require.Len(t, s.Conflicts, 1)
}
