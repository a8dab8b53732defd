package activation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/modlink/pkg/modlink/types"
)

func putRaw(t *testing.T, s *Store, modType, dataPath string, m *types.Manifest) {
	t.Helper()
	data, err := json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(manifestKey(modType, dataPath), data)
	}))
}

func TestEmptyStoreNeedsNoMigration(t *testing.T) {
	t.Parallel()

	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()

	assert.False(t, s.NeedsMigration())
	n, err := s.Migrate(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	require.NotNil(t, s.GetSchema())
	assert.Equal(t, CurrentSchemaVersion, s.GetSchema().Version)
}

func TestMigrateFromV1StampsMethod(t *testing.T) {
	t.Parallel()

	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	putRaw(t, s, "", "/data", &types.Manifest{
		Method:  "hardlink",
		Entries: []types.Entry{{RelPath: "a.txt", Source: "m1"}, {RelPath: "b.txt", Source: "m2"}},
	})
	putRaw(t, s, "enb", "/game", &types.Manifest{
		Method:  "copy",
		Entries: []types.Entry{{RelPath: "d3d11.dll", Source: "m3", Tag: types.Tag{Method: "copy", Size: 10}}},
	})

	require.True(t, s.NeedsMigration())

	var calls int
	n, err := s.Migrate(context.Background(), func(p MigrationProgress) {
		calls++
		assert.Equal(t, 2, p.Total)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, calls)
	assert.False(t, s.NeedsMigration())

	m, err := s.Load(context.Background(), "", "/data")
	require.NoError(t, err)
	for _, e := range m.Entries {
		assert.Equal(t, "hardlink", e.Tag.Method)
	}

	again, err := s.Migrate(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, again)
}

func TestMigrateCanceled(t *testing.T) {
	t.Parallel()

	s, err := OpenInMemory()
	require.NoError(t, err)
	defer s.Close()

	putRaw(t, s, "", "/data", &types.Manifest{Method: "symlink", Entries: []types.Entry{{RelPath: "x"}}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Migrate(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, s.NeedsMigration())
}
