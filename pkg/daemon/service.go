// Package daemon runs modlinkd: it watches the active game's staging
// directory and keeps the mod table in sync with it.
//
// The daemon holds only the state file open. The activation store admits
// one process at a time, so it is opened for the duration of each refresh
// and the CLI stays usable while the daemon runs.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jamesainslie/modlink/pkg/daemon/watcher"
	"github.com/jamesainslie/modlink/pkg/modlink/app"
	"github.com/jamesainslie/modlink/pkg/modlink/config"
	"github.com/jamesainslie/modlink/pkg/modlink/events"
	"github.com/jamesainslie/modlink/pkg/modlink/logging"
	"github.com/jamesainslie/modlink/pkg/modlink/state"
	"github.com/jamesainslie/modlink/pkg/modlink/types"
)

// Service is a daemon bound to one configuration.
type Service struct {
	cfg     *config.Config
	state   *state.File
	watcher *watcher.Watcher
	log     *logging.Logger
	poll    time.Duration
	started time.Time

	mu      sync.Mutex
	synced  bool
	game    string
	staging string
}

// NewService opens the state file named by cfg.
func NewService(cfg *config.Config) (*Service, error) {
	debounce, err := cfg.DebounceDuration()
	if err != nil {
		return nil, err
	}
	st, err := app.OpenState(cfg)
	if err != nil {
		return nil, err
	}
	w, err := watcher.New(debounce)
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	return &Service{
		cfg:     cfg,
		state:   st,
		watcher: w,
		log:     logging.Get("daemon"),
		poll:    debounce,
	}, nil
}

// Run writes the pid and status files, then serves until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.started = time.Now()
	pidPath, statusPath := s.cfg.Daemon.PIDPath, s.cfg.Daemon.StatusPath
	if err := WritePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	defer func() {
		if err := RemovePIDFile(pidPath); err != nil {
			s.log.Warn("failed to remove pid file", "error", err)
		}
		_ = RemoveStatus(statusPath)
	}()

	if err := s.sync(ctx); err != nil {
		_ = WriteStatusError(statusPath, err)
		return err
	}

	go s.watcher.Run(ctx, func(gameID string) {
		if err := s.refresh(ctx, gameID); err != nil {
			s.log.Error("refreshing mods", "game", gameID, "error", err)
		}
	})

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("shutting down")
			return s.watcher.Close()
		case <-ticker.C:
			if err := s.sync(ctx); err != nil {
				s.log.Error("syncing state", "error", err)
			}
		}
	}
}

// sync points the watcher at the active game's staging directory. Changes
// written by other processes are only seen on the next snapshot, so this
// runs on every poll tick.
func (s *Service) sync(ctx context.Context) error {
	st, err := s.state.Snapshot()
	if err != nil {
		return err
	}
	gameID, install := st.ActiveGameID, activeStaging(st)

	s.mu.Lock()
	synced, prevGame, prevStaging := s.synced, s.game, s.staging
	s.mu.Unlock()
	if synced && gameID == prevGame && install == prevStaging {
		return nil
	}

	if prevGame != "" {
		s.watcher.Unwatch(prevGame)
	}
	if gameID != "" && install != "" {
		if err := s.watcher.Watch(gameID, install); err != nil {
			return fmt.Errorf("watching %s: %w", install, err)
		}
		if err := s.refresh(ctx, gameID); err != nil {
			s.log.Warn("initial mod refresh failed", "game", gameID, "error", err)
		}
	}

	s.mu.Lock()
	s.synced, s.game, s.staging = true, gameID, install
	s.mu.Unlock()

	if err := WriteStatusReady(s.cfg.Daemon.StatusPath, s.started, gameID, s.watcher.Watched()); err != nil {
		s.log.Warn("failed to write status file", "error", err)
	}
	return nil
}

// refresh opens the engine, reconciles the game's mod table with its
// staging directory and closes the engine again. Changes made by the
// refresh run through the coordinator, so losing an enabled mod marks the
// game's deployment stale.
func (s *Service) refresh(ctx context.Context, gameID string) error {
	a, err := app.Open(ctx, s.cfg, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			s.log.Warn("closing engine", "error", err)
		}
	}()

	sub := a.Events.Subscribe(events.Notification, events.ModsRefreshed, events.DeploymentNecessaryChanged)
	a.Coordinator.Attach(ctx, a.State)
	err = a.Coordinator.RefreshMods(ctx, gameID)
	s.drain(sub)
	return err
}

// drain logs the events a refresh emitted. Emit never blocks, so they are
// all buffered by the time the refresh returns.
func (s *Service) drain(sub *events.Subscriber) {
	for {
		select {
		case e, ok := <-sub.Events:
			if !ok {
				return
			}
			switch e.Kind {
			case events.Notification:
				fn := s.log.Info
				switch e.Severity {
				case events.SeverityWarning:
					fn = s.log.Warn
				case events.SeverityError:
					fn = s.log.Error
				}
				fn(e.Title, "game", e.GameID, "message", e.Message, "remedy", e.Remedy)
			case events.DeploymentNecessaryChanged:
				s.log.Info("deployment is out of date", "game", e.GameID)
			default:
				s.log.Debug("event", "kind", e.Kind, "game", e.GameID)
			}
		default:
			return
		}
	}
}

// Watching reports the game and staging directory currently watched.
func (s *Service) Watching() (gameID, dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.game, s.staging
}

// Serve is the modlinkd entry point. It refuses to start next to a live
// daemon, clears files left by a dead one and runs the service until ctx
// is done.
func Serve(ctx context.Context, cfg *config.Config) error {
	if IsDaemonRunning(cfg.Daemon.PIDPath) {
		return ErrDaemonAlreadyRunning
	}
	if err := RecoverFromStaleDaemon(cfg.Daemon.PIDPath, cfg.Daemon.StatusPath); err != nil {
		return fmt.Errorf("recovering from stale daemon: %w", err)
	}

	svc, err := NewService(cfg)
	if err != nil {
		_ = WriteStatusError(cfg.Daemon.StatusPath, err)
		return err
	}
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func activeStaging(st *types.State) string {
	if st.ActiveGameID == "" {
		return ""
	}
	return st.InstallPath(st.ActiveGameID)
}
