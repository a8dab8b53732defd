package types

import (
	"path/filepath"
	"sort"
)

// ProfileMod is the per-profile state of one mod.
type ProfileMod struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Profile is a named set of enabled mods for one game.
type Profile struct {
	ID     string `json:"id" yaml:"id"`
	GameID string `json:"game_id" yaml:"game_id"`
	Name   string `json:"name" yaml:"name"`

	// ModState holds enable flags keyed by mod id.
	ModState map[string]ProfileMod `json:"mod_state" yaml:"mod_state"`

	// LoadOrder lists mod ids from lowest to highest priority.
	LoadOrder []string `json:"load_order,omitempty" yaml:"load_order,omitempty"`
}

// State is the snapshot of application state the engine reads.
type State struct {
	// InstanceID identifies this installation.
	InstanceID string `json:"instance_id" yaml:"instance_id"`

	// ActiveGameID is the currently managed game.
	ActiveGameID string `json:"active_game" yaml:"active_game"`

	// Discovered maps gameID to the game's discovery path.
	Discovered map[string]string `json:"discovered" yaml:"discovered"`

	// Activators maps gameID to the configured deployment method id.
	Activators map[string]string `json:"activators" yaml:"activators"`

	// StagingRoot is the parent of the per-game staging directories.
	StagingRoot string `json:"staging_root" yaml:"staging_root"`

	// StagingPaths overrides the staging directory for individual games.
	StagingPaths map[string]string `json:"staging_paths,omitempty" yaml:"staging_paths,omitempty"`

	Mods ModTable `json:"mods" yaml:"mods"`

	// Profiles maps profileID to profile.
	Profiles map[string]Profile `json:"profiles" yaml:"profiles"`

	// LastActiveProfile maps gameID to its active profile id.
	LastActiveProfile map[string]string `json:"last_active_profile" yaml:"last_active_profile"`

	// DeploymentNecessary flags games whose deployed files are stale.
	DeploymentNecessary map[string]bool `json:"deployment_necessary" yaml:"deployment_necessary"`
}

// NewState returns an empty state with all maps allocated.
func NewState() *State {
	s := &State{}
	s.ensureMaps()
	return s
}

func (s *State) ensureMaps() {
	if s.Discovered == nil {
		s.Discovered = make(map[string]string)
	}
	if s.Activators == nil {
		s.Activators = make(map[string]string)
	}
	if s.StagingPaths == nil {
		s.StagingPaths = make(map[string]string)
	}
	if s.Mods == nil {
		s.Mods = make(ModTable)
	}
	if s.Profiles == nil {
		s.Profiles = make(map[string]Profile)
	}
	if s.LastActiveProfile == nil {
		s.LastActiveProfile = make(map[string]string)
	}
	if s.DeploymentNecessary == nil {
		s.DeploymentNecessary = make(map[string]bool)
	}
}

// Normalize allocates any nil maps, e.g. after decoding a sparse file.
func (s *State) Normalize() {
	s.ensureMaps()
}

// InstallPath returns the staging directory for a game.
func (s *State) InstallPath(gameID string) string {
	if p := s.StagingPaths[gameID]; p != "" {
		return p
	}
	if s.StagingRoot == "" {
		return ""
	}
	return filepath.Join(s.StagingRoot, gameID)
}

// ActiveProfile returns the active profile for a game, if any.
func (s *State) ActiveProfile(gameID string) (Profile, bool) {
	id, ok := s.LastActiveProfile[gameID]
	if !ok {
		return Profile{}, false
	}
	p, ok := s.Profiles[id]
	if !ok || p.GameID != gameID {
		return Profile{}, false
	}
	return p, true
}

// IsEnabled reports whether a mod is enabled in the game's active profile.
func (s *State) IsEnabled(gameID, modID string) bool {
	p, ok := s.ActiveProfile(gameID)
	if !ok {
		return false
	}
	return p.ModState[modID].Enabled
}

// Priorities returns the priority of every mod of a game. Mods listed in the
// active profile's load order take their position; the rest follow in id
// order. Higher values win path conflicts.
func (s *State) Priorities(gameID string) map[string]int {
	out := make(map[string]int)
	var order []string
	if p, ok := s.ActiveProfile(gameID); ok {
		order = p.LoadOrder
	}
	for _, id := range order {
		if _, known := s.Mods[gameID][id]; !known {
			continue
		}
		if _, dup := out[id]; dup {
			continue
		}
		out[id] = len(out)
	}
	var rest []string
	for id := range s.Mods[gameID] {
		if _, ok := out[id]; !ok {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	for _, id := range rest {
		out[id] = len(out)
	}
	return out
}

// EnabledMods returns the installed, enabled mods of a game ordered from
// lowest to highest priority.
func (s *State) EnabledMods(gameID string) []Mod {
	prio := s.Priorities(gameID)
	var mods []Mod
	for id, m := range s.Mods[gameID] {
		if m.State != StateInstalled {
			continue
		}
		if !s.IsEnabled(gameID, id) {
			continue
		}
		mods = append(mods, m)
	}
	sort.Slice(mods, func(i, j int) bool {
		return prio[mods[i].ID] < prio[mods[j].ID]
	})
	return mods
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	c := &State{
		InstanceID:          s.InstanceID,
		ActiveGameID:        s.ActiveGameID,
		StagingRoot:         s.StagingRoot,
		Discovered:          copyMap(s.Discovered),
		Activators:          copyMap(s.Activators),
		StagingPaths:        copyMap(s.StagingPaths),
		LastActiveProfile:   copyMap(s.LastActiveProfile),
		DeploymentNecessary: copyMap(s.DeploymentNecessary),
		Mods:                make(ModTable, len(s.Mods)),
		Profiles:            make(map[string]Profile, len(s.Profiles)),
	}
	for game, mods := range s.Mods {
		cm := make(map[string]Mod, len(mods))
		for id, m := range mods {
			cm[id] = m.Clone()
		}
		c.Mods[game] = cm
	}
	for id, p := range s.Profiles {
		cp := p
		cp.ModState = copyMap(p.ModState)
		cp.LoadOrder = append([]string(nil), p.LoadOrder...)
		c.Profiles[id] = cp
	}
	c.ensureMaps()
	return c
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
