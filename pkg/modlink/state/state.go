// Package state holds the application state the deployment engine reads
// and the actions it dispatches to change it.
package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/jamesainslie/modlink/pkg/modlink/types"
)

// ErrUnknownMod is returned by actions naming a mod that does not exist.
var ErrUnknownMod = errors.New("unknown mod")

// Source provides consistent snapshots of state.
type Source interface {
	Snapshot() (*types.State, error)
}

// Dispatcher applies state changes.
type Dispatcher interface {
	AddMod(gameID string, mod types.Mod) error
	RemoveMod(gameID, modID string) error
	SetModState(gameID, modID string, st types.ModState) error
	SetModEnabled(gameID, modID string, enabled bool) error
	SetActivator(gameID, methodID string) error
	SetDeploymentNecessary(gameID string, necessary bool) error
	SetDiscovered(gameID, path string) error
	SetActiveGame(gameID string) error
	SetStagingPath(gameID, path string) error
}

// Store is a Source that also accepts actions.
type Store interface {
	Source
	Dispatcher
}

// ChangeFunc observes a committed change.
type ChangeFunc func(prev, cur *types.State)

// Memory is an in-process Store.
type Memory struct {
	mu       sync.Mutex
	st       *types.State
	watchers []ChangeFunc

	// Set by File. reload returns nil when the backing copy is unchanged.
	reload  func() (*types.State, error)
	lock    func() (func(), error)
	persist func(*types.State) error
}

// NewMemory returns a store seeded with st, or an empty state when st is
// nil. A missing instance id is generated.
func NewMemory(st *types.State) *Memory {
	if st == nil {
		st = types.NewState()
	} else {
		st = st.Clone()
	}
	if st.InstanceID == "" {
		st.InstanceID = uuid.New().String()
	}
	return &Memory{st: st}
}

// Snapshot returns a deep copy of the current state.
func (m *Memory) Snapshot() (*types.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.refresh(); err != nil {
		return nil, err
	}
	return m.st.Clone(), nil
}

// refresh must be called with m.mu held.
func (m *Memory) refresh() error {
	if m.reload == nil {
		return nil
	}
	st, err := m.reload()
	if err != nil {
		return err
	}
	if st != nil {
		m.st = st
	}
	return nil
}

// Watch registers fn to run after every committed change. Watchers run
// synchronously on the dispatching goroutine, outside the store lock.
func (m *Memory) Watch(fn ChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = append(m.watchers, fn)
}

// update applies fn to a copy of the state and commits it if fn and the
// persist hook both succeed.
func (m *Memory) update(fn func(st *types.State) error) error {
	m.mu.Lock()
	prev, err := m.apply(fn)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	next := m.st
	watchers := append([]ChangeFunc(nil), m.watchers...)
	m.mu.Unlock()

	for _, w := range watchers {
		w(prev.Clone(), next.Clone())
	}
	return nil
}

// apply must be called with m.mu held. It returns the state fn was
// applied to.
func (m *Memory) apply(fn func(st *types.State) error) (*types.State, error) {
	if m.lock != nil {
		unlock, err := m.lock()
		if err != nil {
			return nil, err
		}
		defer unlock()
	}
	if err := m.refresh(); err != nil {
		return nil, err
	}
	prev := m.st
	next := prev.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if m.persist != nil {
		if err := m.persist(next); err != nil {
			return nil, err
		}
	}
	m.st = next
	return prev, nil
}

func (m *Memory) AddMod(gameID string, mod types.Mod) error {
	if mod.ID == "" {
		return errors.New("mod id is required")
	}
	return m.update(func(st *types.State) error {
		if st.Mods[gameID] == nil {
			st.Mods[gameID] = make(map[string]types.Mod)
		}
		mod.GameID = gameID
		if mod.State == "" {
			mod.State = types.StateInstalled
		}
		st.Mods[gameID][mod.ID] = mod.Clone()
		return nil
	})
}

func (m *Memory) RemoveMod(gameID, modID string) error {
	return m.update(func(st *types.State) error {
		if _, ok := st.Mods[gameID][modID]; !ok {
			return fmt.Errorf("%w: %s/%s", ErrUnknownMod, gameID, modID)
		}
		delete(st.Mods[gameID], modID)
		for id, p := range st.Profiles {
			if p.GameID != gameID {
				continue
			}
			delete(p.ModState, modID)
			p.LoadOrder = without(p.LoadOrder, modID)
			st.Profiles[id] = p
		}
		return nil
	})
}

func (m *Memory) SetModState(gameID, modID string, ms types.ModState) error {
	return m.update(func(st *types.State) error {
		mod, ok := st.Mods[gameID][modID]
		if !ok {
			return fmt.Errorf("%w: %s/%s", ErrUnknownMod, gameID, modID)
		}
		mod.State = ms
		st.Mods[gameID][modID] = mod
		return nil
	})
}

// SetModEnabled toggles a mod in the game's active profile, creating a
// default profile if the game has none.
func (m *Memory) SetModEnabled(gameID, modID string, enabled bool) error {
	return m.update(func(st *types.State) error {
		if _, ok := st.Mods[gameID][modID]; !ok {
			return fmt.Errorf("%w: %s/%s", ErrUnknownMod, gameID, modID)
		}
		p, ok := st.ActiveProfile(gameID)
		if !ok {
			p = types.Profile{ID: "default-" + gameID, GameID: gameID, Name: "Default"}
			st.LastActiveProfile[gameID] = p.ID
		}
		if p.ModState == nil {
			p.ModState = make(map[string]types.ProfileMod)
		}
		p.ModState[modID] = types.ProfileMod{Enabled: enabled}
		if enabled && !contains(p.LoadOrder, modID) {
			p.LoadOrder = append(p.LoadOrder, modID)
		}
		st.Profiles[p.ID] = p
		return nil
	})
}

func (m *Memory) SetActivator(gameID, methodID string) error {
	return m.update(func(st *types.State) error {
		if methodID == "" {
			delete(st.Activators, gameID)
			return nil
		}
		st.Activators[gameID] = methodID
		return nil
	})
}

func (m *Memory) SetDeploymentNecessary(gameID string, necessary bool) error {
	return m.update(func(st *types.State) error {
		if necessary {
			st.DeploymentNecessary[gameID] = true
		} else {
			delete(st.DeploymentNecessary, gameID)
		}
		return nil
	})
}

func (m *Memory) SetDiscovered(gameID, path string) error {
	return m.update(func(st *types.State) error {
		st.Discovered[gameID] = path
		return nil
	})
}

func (m *Memory) SetActiveGame(gameID string) error {
	return m.update(func(st *types.State) error {
		st.ActiveGameID = gameID
		return nil
	})
}

func (m *Memory) SetStagingPath(gameID, path string) error {
	return m.update(func(st *types.State) error {
		if path == "" {
			delete(st.StagingPaths, gameID)
			return nil
		}
		st.StagingPaths[gameID] = path
		return nil
	})
}

// SetStagingRoot sets the parent of the per-game staging directories.
func (m *Memory) SetStagingRoot(path string) error {
	return m.update(func(st *types.State) error {
		st.StagingRoot = path
		return nil
	})
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func without(list []string, s string) []string {
	out := list[:0:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
