package method

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jamesainslie/modlink/pkg/modlink/deployerr"
	"github.com/jamesainslie/modlink/pkg/modlink/filter"
	"github.com/jamesainslie/modlink/pkg/modlink/logging"
	"github.com/jamesainslie/modlink/pkg/modlink/normalize"
	"github.com/jamesainslie/modlink/pkg/modlink/staging"
	"github.com/jamesainslie/modlink/pkg/modlink/types"
)

// backupSuffix marks a managed file moved aside while Finalize runs.
const backupSuffix = ".modlink-bak-"

// strategy is the filesystem mechanism behind a linker.
type strategy interface {
	// deploy creates dst from the staged file src.
	deploy(fsys FS, src, dst string) (types.Tag, error)
	// owned reports whether dst is still the file described by tag.
	owned(fsys FS, dst string, tag types.Tag) (bool, error)
	// current reports whether a file deployed with tag still reflects src.
	current(fsys FS, src string, tag types.Tag) bool
	// adopt recognizes dst as this strategy's output for src, left behind
	// by an operation whose manifest was never persisted.
	adopt(fsys FS, src, dst string) (types.Tag, bool)
	// supported returns a reason the query cannot be served, or "".
	supported(fsys FS, q SupportQuery) string
}

// Option configures a linker.
type Option func(*linker)

// WithFS replaces the host filesystem.
func WithFS(fsys FS) Option {
	return func(l *linker) { l.fs = fsys }
}

// WithIgnore skips staged files matching m.
func WithIgnore(m *filter.Matcher) Option {
	return func(l *linker) { l.ignore = m }
}

// linker implements Method on top of a strategy. All bookkeeping is shared;
// only file creation and verification differ between strategies.
type linker struct {
	desc   Descriptor
	strat  strategy
	fs     FS
	ignore *filter.Matcher
	log    *logging.Logger
}

func newLinker(desc Descriptor, strat strategy, opts []Option) *linker {
	l := &linker{
		desc:   desc,
		strat:  strat,
		fs:     OSFS{},
		ignore: filter.MustNew(filter.DefaultIgnore),
		log:    logging.Get("method").With("method", desc.ID),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *linker) Descriptor() Descriptor { return l.desc }

func (l *linker) IsSupported(q SupportQuery) error {
	if reason := l.strat.supported(l.fs, q); reason != "" {
		return &UnsupportedError{Method: l.desc.ID, ModType: q.ModType, Reason: reason}
	}
	return nil
}

func (l *linker) Prepare(ctx context.Context, dataPath string, forDeployment bool, last *types.Manifest, n normalize.Func) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, deployerr.Classify("prepare", err)
	}
	if n == nil {
		return nil, deployerr.Fatal("prepare", dataPath, errors.New("no normalization function"))
	}

	s := newSession(l.desc.ID, dataPath, forDeployment, n)
	s.base = last

	dirMissing := false
	if _, err := l.fs.ReadDir(dataPath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, deployerr.Integrity("prepare", dataPath, err)
		}
		dirMissing = true
	}

	if last != nil {
		for _, e := range last.Entries {
			if err := ctx.Err(); err != nil {
				return nil, deployerr.Classify("prepare", err)
			}
			key := n.Normalize(e.RelPath)
			if key == "" {
				continue
			}
			if method := e.Tag.Method; method != "" && method != l.desc.ID {
				s.Changes = append(s.Changes, Change{RelPath: e.RelPath, Source: e.Source, Kind: ChangeUnverifiable})
				continue
			}
			if dirMissing {
				s.Changes = append(s.Changes, Change{RelPath: e.RelPath, Source: e.Source, Kind: ChangeDeleted})
				continue
			}

			ok, err := l.strat.owned(l.fs, l.target(dataPath, e.RelPath), e.Tag)
			switch {
			case errors.Is(err, fs.ErrNotExist):
				s.Changes = append(s.Changes, Change{RelPath: e.RelPath, Source: e.Source, Kind: ChangeDeleted})
				continue
			case err != nil:
				return nil, deployerr.Integrity("prepare", l.target(dataPath, e.RelPath), err)
			case !ok:
				s.Changes = append(s.Changes, Change{RelPath: e.RelPath, Source: e.Source, Kind: ChangeModified})
				continue
			}
			s.previous[key] = e
		}
	}

	if !forDeployment {
		for key, e := range s.previous {
			s.working[key] = &planned{relPath: e.RelPath, source: e.Source, kept: true, prev: e, priority: -1}
		}
	}

	for _, c := range s.Changes {
		l.log.Warn("managed file changed outside modlink", "data_path", dataPath, "path", c.RelPath, "mod", c.Source, "change", c.Kind)
	}
	l.log.Debug("prepared", "data_path", dataPath, "verified", len(s.previous), "changes", len(s.Changes), "for_deployment", forDeployment)
	return s, nil
}

func (l *linker) Activate(ctx context.Context, s *Session, stagingPath string, mod types.Mod) error {
	modDir := staging.ModDir(stagingPath, mod)
	files, err := staging.ListFiles(ctx, modDir, l.ignore)
	if err != nil {
		return deployerr.Classify("activate "+mod.ID, err)
	}

	overrides := make(map[string]bool, len(mod.FileOverrides))
	for _, p := range mod.FileOverrides {
		overrides[s.Normalize.Normalize(p)] = true
	}
	prio := s.priority(mod.ID)

	for _, f := range files {
		key := s.Normalize.Normalize(f.RelPath)
		incoming := &planned{
			relPath:  f.RelPath,
			source:   mod.ID,
			src:      filepath.Join(modDir, filepath.FromSlash(f.RelPath)),
			priority: prio,
			override: overrides[key],
		}
		if cur, ok := s.working[key]; ok && !wins(incoming, cur) {
			continue
		}
		s.working[key] = incoming
	}
	return nil
}

// wins decides a path conflict. An override beats priority; otherwise the
// higher or equal priority wins, so the later of two equal mods takes the path.
func wins(in, cur *planned) bool {
	if in.source == cur.source {
		return true
	}
	if in.override != cur.override {
		return in.override
	}
	return in.priority >= cur.priority
}

func (l *linker) Deactivate(ctx context.Context, s *Session, _ string, mod types.Mod) error {
	if err := ctx.Err(); err != nil {
		return deployerr.Classify("deactivate "+mod.ID, err)
	}
	for key, p := range s.working {
		if p.source == mod.ID {
			delete(s.working, key)
		}
	}
	return nil
}

// undo records what Finalize changed so a failure can be reverted.
type undo struct {
	added   []string
	backups map[string]string // backup -> original
	dirs    []string
}

func (l *linker) Finalize(ctx context.Context, s *Session, gameID, installationPath string) (*types.Manifest, error) {
	var (
		keep    = make(map[string]types.Entry)
		remove  []string
		add     []string
		u       = undo{backups: make(map[string]string)}
		now     = time.Now().UTC()
		results = make(map[string]types.Entry)
	)

	for key, prev := range s.previous {
		p, ok := s.working[key]
		if ok && p.source == prev.Source && (p.kept || l.strat.current(l.fs, p.src, prev.Tag)) {
			keep[key] = prev
			continue
		}
		remove = append(remove, key)
	}
	for key := range s.working {
		if _, ok := keep[key]; !ok {
			add = append(add, key)
		}
	}
	sort.Strings(remove)
	sort.Strings(add)

	fail := func(err error) (*types.Manifest, error) {
		l.rollback(s.DataPath, &u)
		return nil, deployerr.Classify("finalize", err)
	}

	for _, key := range remove {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		dst := l.target(s.DataPath, s.previous[key].RelPath)
		bak := dst + backupSuffix + uuid.NewString()[:8]
		if err := l.fs.Rename(dst, bak); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fail(err)
		}
		u.backups[bak] = dst
	}

	var (
		conflicts []Conflict
		adopted   int
	)
	for _, key := range add {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		p := s.working[key]
		if p.src == "" {
			continue
		}
		dst := l.target(s.DataPath, p.relPath)
		if _, err := l.fs.Lstat(dst); err == nil {
			if tag, ok := l.strat.adopt(l.fs, p.src, dst); ok {
				tag.Method = l.desc.ID
				adopted++
				results[key] = types.Entry{RelPath: p.relPath, Source: p.source, Time: now, Tag: tag}
				continue
			}
			conflicts = append(conflicts, Conflict{RelPath: p.relPath, Source: p.source})
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fail(err)
		}

		if err := l.mkdirs(s.DataPath, filepath.Dir(dst), &u); err != nil {
			return fail(err)
		}
		tag, err := l.strat.deploy(l.fs, p.src, dst)
		if err != nil {
			return fail(err)
		}
		tag.Method = l.desc.ID
		u.added = append(u.added, dst)
		results[key] = types.Entry{RelPath: p.relPath, Source: p.source, Time: now, Tag: tag}
	}

	// Committed. Discard backups and prune directories left empty.
	for bak, orig := range u.backups {
		if err := l.fs.Remove(bak); err != nil && !errors.Is(err, fs.ErrNotExist) {
			l.log.Warn("could not remove backup", "path", bak, "error", err)
		}
		l.prune(s.DataPath, filepath.Dir(orig))
	}

	for key, e := range keep {
		results[key] = e
	}
	removed := len(u.backups)
	s.previous = results
	s.Conflicts = conflicts
	s.Stats = Stats{Added: len(u.added) + adopted, Removed: removed, Unchanged: len(keep), Conflicts: len(conflicts)}

	for _, c := range conflicts {
		l.log.Warn("path occupied by unmanaged file, skipped", "data_path", s.DataPath, "path", c.RelPath, "mod", c.Source)
	}
	l.log.Info("finalized", "data_path", s.DataPath, "added", s.Stats.Added, "adopted", adopted, "removed", removed,
		"unchanged", s.Stats.Unchanged, "conflicts", s.Stats.Conflicts)

	m := &types.Manifest{
		Method:      l.desc.ID,
		DataPath:    s.DataPath,
		StagingPath: installationPath,
		GameID:      gameID,
		Entries:     s.sortedEntries(results),
	}
	s.base = m
	return m, nil
}

func (l *linker) Purge(ctx context.Context, s *Session, _ string) error {
	keys := make([]string, 0, len(s.previous))
	for k := range s.previous {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var firstErr error
	removed := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return deployerr.Classify("purge", err)
		}
		dst := l.target(s.DataPath, s.previous[key].RelPath)
		if err := l.fs.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
			l.log.Warn("could not remove managed file", "path", dst, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delete(s.previous, key)
		removed++
		l.prune(s.DataPath, filepath.Dir(dst))
	}
	s.working = make(map[string]*planned)
	s.Stats = Stats{Removed: removed}

	l.log.Info("purged", "data_path", s.DataPath, "removed", removed, "remaining", len(s.previous))
	if firstErr != nil {
		return deployerr.Classify("purge", fmt.Errorf("%d managed files could not be removed: %w", len(s.previous), firstErr))
	}
	return nil
}

// target joins a manifest-relative path onto dataPath. Entries that would
// escape dataPath are mapped onto a path that cannot exist.
func (l *linker) target(dataPath, rel string) string {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimLeft(rel, `/\`)))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return filepath.Join(dataPath, ".modlink-invalid", filepath.Base(clean))
	}
	return filepath.Join(dataPath, clean)
}

// mkdirs creates dir and records each directory it created.
func (l *linker) mkdirs(dataPath, dir string, u *undo) error {
	var missing []string
	for d := dir; ; d = filepath.Dir(d) {
		if _, err := l.fs.Lstat(d); err == nil {
			break
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		missing = append(missing, d)
		if d == dataPath || filepath.Dir(d) == d {
			break
		}
	}
	if len(missing) == 0 {
		return nil
	}
	if err := l.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	u.dirs = append(u.dirs, missing...)
	return nil
}

// prune removes empty directories from dir up to, but excluding, dataPath.
func (l *linker) prune(dataPath, dir string) {
	root := filepath.Clean(dataPath)
	for d := filepath.Clean(dir); d != root && strings.HasPrefix(d, root+string(filepath.Separator)); d = filepath.Dir(d) {
		entries, err := l.fs.ReadDir(d)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := l.fs.Remove(d); err != nil {
			return
		}
	}
}

func (l *linker) rollback(dataPath string, u *undo) {
	for i := len(u.added) - 1; i >= 0; i-- {
		if err := l.fs.Remove(u.added[i]); err != nil && !errors.Is(err, os.ErrNotExist) {
			l.log.Error("rollback: could not remove added file", "path", u.added[i], "error", err)
		}
	}
	for bak, orig := range u.backups {
		if err := l.fs.Rename(bak, orig); err != nil {
			l.log.Error("rollback: could not restore file", "path", orig, "backup", bak, "error", err)
		}
	}
	sort.Slice(u.dirs, func(i, j int) bool { return len(u.dirs[i]) > len(u.dirs[j]) })
	for _, d := range u.dirs {
		if d != filepath.Clean(dataPath) {
			_ = l.fs.Remove(d)
		}
	}
	l.log.Warn("finalize rolled back", "data_path", dataPath, "added", len(u.added), "restored", len(u.backups))
}
