// Package watcher watches game staging directories and reports, per game,
// when mod directories appear or disappear.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jamesainslie/modlink/pkg/modlink/logging"
	"github.com/jamesainslie/modlink/pkg/modlink/staging"
)

// DefaultDebounce is used when New is given a non-positive debounce.
const DefaultDebounce = 2 * time.Second

// Watcher watches the top level of staging directories. Mod contents are
// not watched: only mod directories being created, removed or renamed
// matter.
type Watcher struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu     sync.RWMutex
	dirs   map[string]string // staging dir -> game id
	closed bool
}

// New creates a new Watcher. Changes are reported once no further event
// arrived for debounce.
func New(debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		watcher:  fsw,
		debounce: debounce,
		dirs:     make(map[string]string),
	}, nil
}

// Watch starts watching a game's staging directory, creating it if needed.
// A game has at most one watched directory; watching a new one replaces
// the old.
func (w *Watcher) Watch(gameID, dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	if id, ok := w.dirs[abs]; ok && id == gameID {
		return nil
	}
	w.unwatchLocked(gameID)
	if err := w.watcher.Add(abs); err != nil {
		logging.Get("watcher").Warn("failed to add watch", "path", abs, "error", err)
		return err
	}
	w.dirs[abs] = gameID
	logging.Get("watcher").Info("watching staging directory", "game", gameID, "path", abs)
	return nil
}

// Unwatch stops watching a game's staging directory.
func (w *Watcher) Unwatch(gameID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.unwatchLocked(gameID)
}

func (w *Watcher) unwatchLocked(gameID string) {
	for dir, id := range w.dirs {
		if id == gameID {
			_ = w.watcher.Remove(dir)
			delete(w.dirs, dir)
		}
	}
}

// Watched returns the watched directories, sorted.
func (w *Watcher) Watched() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.dirs))
	for dir := range w.dirs {
		out = append(out, dir)
	}
	sort.Strings(out)
	return out
}

// Run starts the event loop. It blocks until the context is cancelled or
// the watcher is closed. onChange is called with the id of each game whose
// staging directory changed, after the debounce period.
func (w *Watcher) Run(ctx context.Context, onChange func(gameID string)) {
	log := logging.Get("watcher")
	pending := make(map[string]bool)
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			gameID, relevant := w.classify(event)
			if !relevant {
				continue
			}
			log.Debug("staging change", "game", gameID, "path", event.Name, "op", event.Op.String())
			pending[gameID] = true
			timer.Reset(w.debounce)

		case <-timer.C:
			games := make([]string, 0, len(pending))
			for id := range pending {
				games = append(games, id)
			}
			sort.Strings(games)
			clear(pending)
			for _, id := range games {
				if onChange != nil {
					onChange(id)
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error("watcher error", "error", err)
		}
	}
}

// classify maps an event to the game whose staging directory it touched.
// Content writes, hidden entries and directories still being installed are
// not relevant.
func (w *Watcher) classify(event fsnotify.Event) (string, bool) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return "", false
	}
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, staging.InstallingSuffix) {
		return "", false
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	gameID, ok := w.dirs[filepath.Dir(event.Name)]
	return gameID, ok
}

// Close closes the watcher and releases resources.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	w.dirs = make(map[string]string)
	return w.watcher.Close()
}
