// Package games describes the games modlink can deploy to and the mod
// types each of them accepts.
package games

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
)

// ErrUnknownGame is returned for a game id that was never registered.
var ErrUnknownGame = errors.New("unknown game")

// Game resolves target directories for one game.
type Game interface {
	ID() string
	Name() string
	// ModPaths maps mod type to the absolute directory it deploys into.
	ModPaths(discoveryPath string) map[string]string
	// Incompatible reports whether the game forbids a deployment method.
	Incompatible(methodID string) bool
}

// Descriptor is a Game defined by configuration.
type Descriptor struct {
	GameID      string `mapstructure:"id" yaml:"id"`
	DisplayName string `mapstructure:"name" yaml:"name"`

	// ModTypes maps mod type to a path relative to the discovery path.
	ModTypes map[string]string `mapstructure:"mod_types" yaml:"mod_types"`

	IncompatibleMethods []string `mapstructure:"incompatible_methods" yaml:"incompatible_methods"`
}

func (d Descriptor) ID() string { return d.GameID }

func (d Descriptor) Name() string {
	if d.DisplayName != "" {
		return d.DisplayName
	}
	return d.GameID
}

func (d Descriptor) ModPaths(discoveryPath string) map[string]string {
	out := make(map[string]string, len(d.ModTypes))
	if len(d.ModTypes) == 0 {
		out[""] = filepath.Clean(discoveryPath)
		return out
	}
	for modType, rel := range d.ModTypes {
		out[modType] = filepath.Join(discoveryPath, filepath.FromSlash(rel))
	}
	return out
}

func (d Descriptor) Incompatible(methodID string) bool {
	for _, id := range d.IncompatibleMethods {
		if id == methodID {
			return true
		}
	}
	return false
}

// ModType is a mod type contributed independently of any game descriptor,
// e.g. a tool that accepts plugins for several games.
type ModType struct {
	ID       string
	Priority int

	// IsSupported reports whether the type applies to a game.
	IsSupported func(gameID string) bool

	// Path returns the target directory for the game.
	Path func(g Game, discoveryPath string) string
}

// Registry holds known games and extension mod types.
type Registry struct {
	mu       sync.RWMutex
	games    map[string]Game
	modTypes []ModType
}

// NewRegistry returns a registry holding games.
func NewRegistry(games ...Game) *Registry {
	r := &Registry{games: make(map[string]Game)}
	for _, g := range games {
		r.Register(g)
	}
	return r
}

// Register adds or replaces a game.
func (r *Registry) Register(g Game) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.games[g.ID()] = g
}

// RegisterModType adds an extension mod type. Types are consulted in
// ascending priority order. The empty id registers a default mod type for
// games that do not define one.
func (r *Registry) RegisterModType(t ModType) error {
	if t.Path == nil {
		return fmt.Errorf("mod type %q needs a path function", t.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.modTypes {
		if existing.ID == t.ID {
			return fmt.Errorf("mod type %q already registered", t.ID)
		}
	}
	r.modTypes = append(r.modTypes, t)
	sort.SliceStable(r.modTypes, func(i, j int) bool { return r.modTypes[i].Priority < r.modTypes[j].Priority })
	return nil
}

// Get returns a game by id.
func (r *Registry) Get(id string) (Game, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.games[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGame, id)
	}
	return g, nil
}

// IDs returns the registered game ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.games))
	for id := range r.games {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ModPaths returns the game's own mod paths merged with every supported
// extension type. Game-defined types take precedence.
func (r *Registry) ModPaths(gameID, discoveryPath string) (map[string]string, error) {
	g, err := r.Get(gameID)
	if err != nil {
		return nil, err
	}
	if discoveryPath == "" {
		return nil, fmt.Errorf("game %s has not been discovered", gameID)
	}
	paths := g.ModPaths(discoveryPath)

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, t := range r.modTypes {
		if _, taken := paths[t.ID]; taken {
			continue
		}
		if t.IsSupported != nil && !t.IsSupported(gameID) {
			continue
		}
		if p := t.Path(g, discoveryPath); p != "" {
			paths[t.ID] = filepath.Clean(p)
		}
	}
	return paths, nil
}
