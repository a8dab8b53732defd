package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/modlink/pkg/modlink/types"
)

// File is a Memory store persisted as YAML. Every committed change is
// written before it becomes visible. Changes made by other processes are
// picked up on the next read, and writers exclude each other with an
// advisory lock on a sibling ".lock" file.
type File struct {
	*Memory
	path string

	// stamp identifies the file version last read or written.
	modTime time.Time
	size    int64
}

// OpenFile loads the state at path, starting empty if the file does not
// exist yet. A generated instance id is written back immediately.
func OpenFile(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	st, err := Load(path)
	if err != nil {
		return nil, err
	}
	fresh := st.InstanceID == ""

	f := &File{Memory: NewMemory(st), path: path}
	f.stampCurrent()
	f.reload = f.reloadIfChanged
	f.lock = f.flock
	f.persist = f.save

	if fresh {
		if err := f.update(func(*types.State) error { return nil }); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Path returns the backing file.
func (f *File) Path() string { return f.path }

// Load decodes the state file at path. A missing file yields an empty
// state.
func Load(path string) (*types.State, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return types.NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	st := &types.State{}
	if err := yaml.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	st.Normalize()
	return st, nil
}

func (f *File) stampCurrent() {
	info, err := os.Stat(f.path)
	if err != nil {
		f.modTime, f.size = time.Time{}, -1
		return
	}
	f.modTime, f.size = info.ModTime(), info.Size()
}

func (f *File) reloadIfChanged() (*types.State, error) {
	info, err := os.Stat(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat state: %w", err)
	}
	if info.ModTime().Equal(f.modTime) && info.Size() == f.size {
		return nil, nil
	}
	st, err := Load(f.path)
	if err != nil {
		return nil, err
	}
	if st.InstanceID == "" {
		st.InstanceID = f.st.InstanceID
	}
	f.modTime, f.size = info.ModTime(), info.Size()
	return st, nil
}

func (f *File) flock() (func(), error) {
	lf, err := os.OpenFile(f.path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open state lock: %w", err)
	}
	if err := unix.Flock(int(lf.Fd()), unix.LOCK_EX); err != nil {
		_ = lf.Close()
		return nil, fmt.Errorf("lock state: %w", err)
	}
	return func() {
		_ = unix.Flock(int(lf.Fd()), unix.LOCK_UN)
		_ = lf.Close()
	}, nil
}

func (f *File) save(st *types.State) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write state: %w", err)
	}
	f.stampCurrent()
	return nil
}
