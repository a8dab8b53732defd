package activation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/jamesainslie/modlink/pkg/modlink/logging"
	"github.com/jamesainslie/modlink/pkg/modlink/types"
)

// Schema versions:
// 1 - manifests without per-entry method tags
// 2 - every entry carries Tag.Method
const CurrentSchemaVersion = 2

const schemaKey = prefixMeta + "__schema__"

// Schema records the database layout version.
type Schema struct {
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetSchema returns the stored schema, or nil if none is recorded.
func (s *Store) GetSchema() *Schema {
	var schema *Schema
	_ = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(schemaKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			schema = &Schema{}
			return json.Unmarshal(val, schema)
		})
	})
	return schema
}

// SetSchema stores the schema version.
func (s *Store) SetSchema(schema *Schema) error {
	data, err := json.Marshal(schema)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(schemaKey), data)
	})
}

// MigrationProgress reports migration progress.
type MigrationProgress struct {
	FromVersion int
	ToVersion   int
	Done        int
	Total       int
}

// MigrationProgressFunc receives progress updates.
type MigrationProgressFunc func(MigrationProgress)

// version returns the effective schema version. An unversioned store that
// holds manifests is v1; an empty one is current.
func (s *Store) version() int {
	if schema := s.GetSchema(); schema != nil {
		return schema.Version
	}
	if s.countManifests() > 0 {
		return 1
	}
	return CurrentSchemaVersion
}

// NeedsMigration reports whether Migrate has work to do.
func (s *Store) NeedsMigration() bool {
	return s.version() < CurrentSchemaVersion
}

// Migrate upgrades the store to CurrentSchemaVersion and returns the number
// of migrations applied.
func (s *Store) Migrate(ctx context.Context, onProgress MigrationProgressFunc) (int, error) {
	from := s.version()
	if from >= CurrentSchemaVersion {
		if s.GetSchema() == nil {
			return 0, s.SetSchema(&Schema{Version: CurrentSchemaVersion, UpdatedAt: time.Now()})
		}
		return 0, nil
	}

	applied := 0
	for v := from + 1; v <= CurrentSchemaVersion; v++ {
		if err := ctx.Err(); err != nil {
			return applied, err
		}

		var err error
		switch v {
		case 2:
			err = s.migrateToV2(ctx, onProgress)
		default:
			err = errors.New("no migration defined")
		}
		if err != nil {
			return applied, err
		}

		if err := s.SetSchema(&Schema{Version: v, UpdatedAt: time.Now()}); err != nil {
			return applied, err
		}
		applied++
		logging.Get("activation").Info("store migrated", "to_version", v)
	}
	return applied, nil
}

// migrateToV2 stamps each entry with the manifest's method id.
func (s *Store) migrateToV2(ctx context.Context, onProgress MigrationProgressFunc) error {
	total := s.countManifests()
	updates := make(map[string][]byte)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixManifest)
		it := txn.NewIterator(opts)
		defer it.Close()

		done := 0
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := string(item.KeyCopy(nil))
			err := item.Value(func(val []byte) error {
				var m types.Manifest
				if err := json.Unmarshal(val, &m); err != nil {
					return nil //nolint:nilerr // unreadable records are left for Load to report
				}
				changed := false
				for i := range m.Entries {
					if m.Entries[i].Tag.Method == "" {
						m.Entries[i].Tag.Method = m.Method
						changed = true
					}
				}
				if !changed {
					return nil
				}
				data, err := json.Marshal(&m)
				if err != nil {
					return err
				}
				updates[key] = data
				return nil
			})
			if err != nil {
				return err
			}
			done++
			if onProgress != nil {
				onProgress(MigrationProgress{FromVersion: 1, ToVersion: 2, Done: done, Total: total})
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(updates) == 0 {
		return nil
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for k, v := range updates {
		if err := wb.Set([]byte(k), v); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (s *Store) countManifests() int {
	var n int
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixManifest)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n
}
