// Package activation persists activation manifests in a Badger database.
//
// One record is kept per {modType, dataPath}. Each Save replaces the record
// inside a single transaction, so readers see either the old manifest or the
// new one and never a partial write.
package activation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/jamesainslie/modlink/pkg/modlink/deployerr"
	"github.com/jamesainslie/modlink/pkg/modlink/logging"
	"github.com/jamesainslie/modlink/pkg/modlink/types"
)

// Key prefixes.
const (
	prefixManifest = "a:" // a:<modType>\x00<dataPath> -> manifest JSON
	prefixMeta     = "m:" // metadata (schema)
)

const keySep = "\x00"

// Store is the activation store.
type Store struct {
	db *badger.DB
}

// Open opens or creates a store in dir. Writes are synced before Save
// returns. A store held by another process is reported as a temporary
// error.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithSyncWrites(true)
	opts.Logger = nil
	return open(opts)
}

// OpenInMemory opens a store that is never written to disk.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts)
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		if strings.Contains(err.Error(), "Cannot acquire directory lock") {
			return nil, deployerr.Temporary("open activation store", opts.Dir, err)
		}
		return nil, fmt.Errorf("opening activation store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

func manifestKey(modType, dataPath string) []byte {
	return []byte(prefixManifest + modType + keySep + filepath.Clean(dataPath))
}

// Load returns the manifest for a directory, or nil if none was ever saved.
func (s *Store) Load(ctx context.Context, modType, dataPath string) (*types.Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var m *types.Manifest
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(manifestKey(modType, dataPath))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			m = &types.Manifest{}
			return json.Unmarshal(val, m)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading manifest for %q at %s: %w", modType, dataPath, err)
	}
	return m, nil
}

// Save atomically replaces the manifest for a directory. The stored copy is
// stamped with instanceID, modType, and dataPath.
func (s *Store) Save(ctx context.Context, modType, instanceID, dataPath string, m *types.Manifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rec := m.Clone()
	if rec == nil {
		rec = &types.Manifest{}
	}
	rec.InstanceID = instanceID
	rec.ModType = modType
	rec.DataPath = filepath.Clean(dataPath)
	rec.UpdatedAt = time.Now().UTC()
	if rec.Entries == nil {
		rec.Entries = []types.Entry{}
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(manifestKey(modType, dataPath), data)
	})
	if err != nil {
		return deployerr.Classify("save manifest", err)
	}

	logging.Get("activation").Debug("manifest saved",
		"mod_type", modType, "data_path", rec.DataPath, "entries", len(rec.Entries))
	return nil
}

// Delete removes the manifest for a directory. A missing record is not an error.
func (s *Store) Delete(ctx context.Context, modType, dataPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(manifestKey(modType, dataPath))
	})
}

// List returns every stored manifest ordered by mod type, then data path.
func (s *Store) List(ctx context.Context) ([]*types.Manifest, error) {
	var out []*types.Manifest
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixManifest)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var m types.Manifest
				if err := json.Unmarshal(val, &m); err != nil {
					return fmt.Errorf("decoding %s: %w", it.Item().Key(), err)
				}
				out = append(out, &m)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ModType != out[j].ModType {
			return out[i].ModType < out[j].ModType
		}
		return out[i].DataPath < out[j].DataPath
	})
	return out, nil
}

// IsForeign reports whether m was written by a different installation.
// Foreign manifests are never trusted without verifying each entry on disk.
func IsForeign(m *types.Manifest, instanceID string) bool {
	return m != nil && m.InstanceID != "" && m.InstanceID != instanceID
}
