// Package app wires the configured stores, deployment methods, orchestrator
// and lifecycle coordinator into one handle shared by the CLI and daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jamesainslie/modlink/pkg/modlink/activation"
	"github.com/jamesainslie/modlink/pkg/modlink/config"
	"github.com/jamesainslie/modlink/pkg/modlink/deploy"
	"github.com/jamesainslie/modlink/pkg/modlink/deployerr"
	"github.com/jamesainslie/modlink/pkg/modlink/events"
	"github.com/jamesainslie/modlink/pkg/modlink/filter"
	"github.com/jamesainslie/modlink/pkg/modlink/games"
	"github.com/jamesainslie/modlink/pkg/modlink/history"
	"github.com/jamesainslie/modlink/pkg/modlink/lifecycle"
	"github.com/jamesainslie/modlink/pkg/modlink/logging"
	"github.com/jamesainslie/modlink/pkg/modlink/method"
	"github.com/jamesainslie/modlink/pkg/modlink/normalize"
	"github.com/jamesainslie/modlink/pkg/modlink/state"
)

const (
	storeAttempts   = 20
	storeRetryDelay = 100 * time.Millisecond
)

// App holds the wired components.
type App struct {
	Config       *config.Config
	State        *state.File
	Store        *activation.Store
	Journal      *history.Journal // nil when history is disabled
	Games        *games.Registry
	Methods      *method.Registry
	Events       *events.Bus
	Orchestrator *deploy.Orchestrator
	Coordinator  *lifecycle.Coordinator
}

// Open opens the state file and activation store named by cfg and wires
// the engine around them. prompter may be nil.
func Open(ctx context.Context, cfg *config.Config, prompter lifecycle.Prompter) (*App, error) {
	log := logging.Get("app")

	ignore, err := filter.New(cfg.Deploy.Ignore)
	if err != nil {
		return nil, fmt.Errorf("deploy.ignore: %w", err)
	}

	st, err := OpenState(cfg)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	store, err := openStore(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if store.NeedsMigration() {
		n, err := store.Migrate(ctx, func(p activation.MigrationProgress) {
			log.Debug("migrating activation store", "done", p.Done, "total", p.Total)
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrating activation store: %w", err)
		}
		log.Info("activation store migrated", "manifests", n)
	}

	a := &App{
		Config:  cfg,
		State:   st,
		Store:   store,
		Games:   cfg.GameRegistry(),
		Methods: method.Default(cfg.Deploy.Methods, method.WithIgnore(ignore)),
		Events:  events.New(0),
	}
	if cfg.History.Enabled {
		a.Journal, err = history.New(cfg.History.Path)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	a.Orchestrator, err = deploy.New(deploy.Config{
		Methods:     a.Methods,
		Store:       store,
		Games:       a.Games,
		State:       st,
		Events:      a.Events,
		History:     a.Journal,
		Concurrency: cfg.Deploy.Concurrency,
		Normalize:   normalize.DefaultOptions(),
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Coordinator, err = lifecycle.New(lifecycle.Config{
		Engine:   a.Orchestrator,
		State:    st,
		Events:   a.Events,
		Prompter: prompter,
		UseTrash: cfg.Remove.UseTrash,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// OpenState opens the state file named by cfg and records the configured
// staging root in it.
func OpenState(cfg *config.Config) (*state.File, error) {
	st, err := state.OpenFile(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("opening state: %w", err)
	}
	snap, err := st.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("reading state: %w", err)
	}
	if cfg.StagingRoot != "" && snap.StagingRoot != cfg.StagingRoot {
		if err := st.SetStagingRoot(cfg.StagingRoot); err != nil {
			return nil, fmt.Errorf("setting staging root: %w", err)
		}
	}
	return st, nil
}

// openStore retries while another process holds the activation store.
func openStore(ctx context.Context, dir string) (*activation.Store, error) {
	for attempt := 1; ; attempt++ {
		store, err := activation.Open(dir)
		if err == nil || !deployerr.Retryable(err) || attempt == storeAttempts {
			return store, err
		}
		select {
		case <-ctx.Done():
			return nil, deployerr.Classify("open activation store", ctx.Err())
		case <-time.After(storeRetryDelay):
		}
	}
}

// Close releases the activation store and the event bus.
func (a *App) Close() error {
	var errs []error
	if a.Events != nil {
		a.Events.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing activation store: %w", err))
		}
	}
	return errors.Join(errs...)
}
