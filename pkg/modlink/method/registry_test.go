package method_test

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/modlink/pkg/modlink/deployerr"
	"github.com/jamesainslie/modlink/pkg/modlink/method"
	"github.com/jamesainslie/modlink/pkg/modlink/normalize"
	"github.com/jamesainslie/modlink/pkg/modlink/types"
)

// stubMethod supports nothing but its descriptor.
type stubMethod struct {
	id        string
	supported bool
}

func (s stubMethod) Descriptor() method.Descriptor { return method.Descriptor{ID: s.id} }

func (s stubMethod) IsSupported(q method.SupportQuery) error {
	if s.supported {
		return nil
	}
	return &method.UnsupportedError{Method: s.id, ModType: q.ModType, Reason: "stub"}
}

func (stubMethod) Prepare(context.Context, string, bool, *types.Manifest, normalize.Func) (*method.Session, error) {
	return nil, errors.New("not implemented")
}
func (stubMethod) Activate(context.Context, *method.Session, string, types.Mod) error   { return nil }
func (stubMethod) Deactivate(context.Context, *method.Session, string, types.Mod) error { return nil }
func (stubMethod) Finalize(context.Context, *method.Session, string, string) (*types.Manifest, error) {
	return nil, nil
}
func (stubMethod) Purge(context.Context, *method.Session, string) error { return nil }

func TestDefaultOrder(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"hardlink", "symlink", "copy"}, method.Default(nil).IDs())
	assert.Equal(t, []string{"copy", "symlink", "hardlink"}, method.Default([]string{"copy", "bogus", "symlink"}).IDs())
}

func TestRegisterReplacesInPlace(t *testing.T) {
	t.Parallel()

	r := method.NewRegistry(stubMethod{id: "a"}, stubMethod{id: "b"})
	r.Register(stubMethod{id: "a", supported: true})

	assert.Equal(t, []string{"a", "b"}, r.IDs())
	m, ok := r.Get("a")
	require.True(t, ok)
	assert.NoError(t, m.IsSupported(method.SupportQuery{}))

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestSelectForFirstSupported(t *testing.T) {
	t.Parallel()

	r := method.NewRegistry(stubMethod{id: "x"}, stubMethod{id: "y", supported: true}, stubMethod{id: "z", supported: true})
	queries := []method.SupportQuery{{ModType: ""}, {ModType: "enb"}}

	m, err := r.SelectFor(queries, nil)
	require.NoError(t, err)
	assert.Equal(t, "y", m.Descriptor().ID)

	m, err = r.SelectFor(queries, func(id string) bool { return id == "y" })
	require.NoError(t, err)
	assert.Equal(t, "z", m.Descriptor().ID)
}

func TestSelectForNoneQualifies(t *testing.T) {
	t.Parallel()

	r := method.NewRegistry(stubMethod{id: "x"})
	_, err := r.SelectFor([]method.SupportQuery{{ModType: "enb"}}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, deployerr.ErrProcessCanceled)
	assert.ErrorIs(t, err, method.ErrNoMethod)
	var unsupported *method.UnsupportedError
	assert.ErrorAs(t, err, &unsupported)
	assert.Contains(t, err.Error(), "no deployment method active")

	_, err = method.NewRegistry().SelectFor(nil, nil)
	assert.ErrorIs(t, err, method.ErrNoMethod)
}

func TestHardlinkRequiresSameDevice(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	m := method.NewHardlink()
	assert.NoError(t, m.IsSupported(method.SupportQuery{StagingPath: f.staging, DataPath: f.data + "/not/yet"}))

	err := m.IsSupported(method.SupportQuery{DataPath: f.data})
	var unsupported *method.UnsupportedError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "hardlink", unsupported.Method)
}

func TestSymlinkSupportCreatesTestLink(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cfs := &countingFS{}
	m := method.NewSymlink(method.WithFS(cfs))
	require.NoError(t, m.IsSupported(method.SupportQuery{DataPath: f.data + "/not/yet"}))
	assert.Equal(t, int64(2), cfs.mutations.Load())

	entries, err := os.ReadDir(f.data)
	require.NoError(t, err)
	assert.Empty(t, entries)

	err = m.IsSupported(method.SupportQuery{})
	var unsupported *method.UnsupportedError
	assert.ErrorAs(t, err, &unsupported)
}

func TestSymlinkUnsupportedWhenLinkFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	cfs := &countingFS{failSymlink: func(string) error { return syscall.EPERM }}
	m := method.NewSymlink(method.WithFS(cfs))

	err := m.IsSupported(method.SupportQuery{DataPath: f.data})
	var unsupported *method.UnsupportedError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "symlink", unsupported.Method)
	assert.Contains(t, unsupported.Reason, f.data)

	got, err := method.NewRegistry(m, method.NewCopy()).SelectFor([]method.SupportQuery{{DataPath: f.data}}, nil)
	require.NoError(t, err)
	assert.Equal(t, method.CopyID, got.Descriptor().ID)
}

func TestCopyAlwaysSupported(t *testing.T) {
	t.Parallel()

	assert.NoError(t, method.NewCopy().IsSupported(method.SupportQuery{}))
	d := method.NewCopy().Descriptor()
	assert.Equal(t, method.KindCopy, d.Capabilities.Kind)
	assert.True(t, d.Capabilities.Reversible)
}
