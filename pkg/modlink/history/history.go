package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get for an unknown record id.
var ErrNotFound = errors.New("history record not found")

// Journal stores one JSON file per record in a directory.
type Journal struct {
	dir string
	mu  sync.Mutex
}

// New returns a journal rooted at dir. The directory is created lazily.
func New(dir string) (*Journal, error) {
	if dir == "" {
		return nil, errors.New("history directory cannot be empty")
	}
	return &Journal{dir: dir}, nil
}

// Dir returns the journal directory.
func (j *Journal) Dir() string {
	return j.dir
}

// Append assigns an id and timestamp to r and persists it.
func (j *Journal) Append(r Record) (*Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	r.ID = newID(r.Operation, r.Timestamp)

	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	data, err := json.MarshalIndent(&r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding history record: %w", err)
	}

	final := filepath.Join(j.dir, r.ID+".json")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("writing history record: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("committing history record: %w", err)
	}
	return &r, nil
}

// List returns records newest first. A limit <= 0 returns all of them.
func (j *Journal) List(limit int) ([]Record, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	records, err := j.readAll()
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(a, b int) bool {
		return records[a].Timestamp.After(records[b].Timestamp)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Get returns the record with the given id.
func (j *Journal) Get(id string) (*Record, error) {
	if id == "" {
		return nil, errors.New("record id cannot be empty")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	r, err := j.read(id + ".json")
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// Cleanup deletes records older than retentionDays and returns how many
// were removed.
func (j *Journal) Cleanup(retentionDays int) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	files, err := os.ReadDir(j.dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading history directory: %w", err)
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	removed := 0
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		info, err := f.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if os.Remove(filepath.Join(j.dir, f.Name())) == nil {
			removed++
		}
	}
	return removed, nil
}

func (j *Journal) readAll() ([]Record, error) {
	files, err := os.ReadDir(j.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading history directory: %w", err)
	}

	records := []Record{}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		r, err := j.read(f.Name())
		if err != nil {
			continue
		}
		records = append(records, *r)
	}
	return records, nil
}

func (j *Journal) read(name string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(j.dir, name))
	if err != nil {
		return nil, err
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	return &r, nil
}

// newID returns e.g. "deploy-20260301T120000-1a2b3c4d".
func newID(op Operation, t time.Time) string {
	return fmt.Sprintf("%s-%s-%s", op, t.UTC().Format("20060102T150405"), uuid.NewString()[:8])
}
