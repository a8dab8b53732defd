// Package staging reads the staging area where installed mods live.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/charlievieth/fastwalk"

	"github.com/jamesainslie/modlink/pkg/modlink/filter"
	"github.com/jamesainslie/modlink/pkg/modlink/logging"
	"github.com/jamesainslie/modlink/pkg/modlink/types"
)

// InstallingSuffix marks a mod directory that an installer is still writing.
const InstallingSuffix = ".installing"

// File is a staged file of one mod.
type File struct {
	// RelPath is relative to the mod directory, using '/' separators.
	RelPath string
	Size    int64
}

// ListFiles returns the regular files and symlinks under modDir, sorted by
// relative path. Files matching ignore are skipped. Symlinks are not followed.
func ListFiles(ctx context.Context, modDir string, ignore *filter.Matcher) ([]File, error) {
	info, err := os.Stat(modDir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("staged mod %s is not a directory", modDir)
	}

	var (
		mu    sync.Mutex
		files []File
	)
	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, modDir, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(modDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if ignore.Match(rel) {
			return nil
		}
		var size int64
		if fi, err := d.Info(); err == nil {
			size = fi.Size()
		}
		mu.Lock()
		files = append(files, File{RelPath: rel, Size: size})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

// ModDir returns the absolute directory of a staged mod.
func ModDir(installPath string, mod types.Mod) string {
	rel := mod.InstallationPath
	if rel == "" {
		rel = mod.ID
	}
	return filepath.Join(installPath, rel)
}

// Scan returns the mod ids found directly under installPath. Hidden entries,
// plain files, and directories still being installed are skipped. A missing
// installPath is created and reported as empty.
func Scan(ctx context.Context, installPath string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(installPath)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(installPath, 0o755); err != nil {
			return nil, fmt.Errorf("creating staging directory: %w", err)
		}
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading staging directory: %w", err)
	}

	ids := []string{}
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, InstallingSuffix) {
			continue
		}
		ids = append(ids, name)
	}
	sort.Strings(ids)
	return ids, nil
}

// Diff is the outcome of comparing the staging directory with known mods.
type Diff struct {
	Added   []types.Mod
	Removed []string
}

// Empty reports whether nothing changed.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Refresh compares the mod directories under installPath with the known
// mods of a game. Directories with no known mod become new installed mods
// of the default type. Known mods whose directory is gone are reported as
// removed, but only when their state says they should exist on disk.
func Refresh(ctx context.Context, gameID, installPath string, known map[string]types.Mod) (Diff, error) {
	onDisk, err := Scan(ctx, installPath)
	if err != nil {
		return Diff{}, err
	}

	present := make(map[string]bool, len(onDisk))
	for _, id := range onDisk {
		present[id] = true
	}
	byDir := make(map[string]bool, len(known))
	for _, m := range known {
		dir := m.InstallationPath
		if dir == "" {
			dir = m.ID
		}
		byDir[dir] = true
	}

	var diff Diff
	for _, id := range onDisk {
		if byDir[id] {
			continue
		}
		diff.Added = append(diff.Added, types.Mod{
			ID:               id,
			GameID:           gameID,
			InstallationPath: id,
			State:            types.StateInstalled,
		})
	}
	for id, m := range known {
		dir := m.InstallationPath
		if dir == "" {
			dir = id
		}
		if present[dir] || !m.State.Removable() {
			continue
		}
		diff.Removed = append(diff.Removed, id)
	}
	sort.Strings(diff.Removed)

	if !diff.Empty() {
		logging.Get("staging").Info("staging directory changed",
			"game", gameID, "added", len(diff.Added), "removed", len(diff.Removed))
	}
	return diff, nil
}
