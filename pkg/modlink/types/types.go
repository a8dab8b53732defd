// Package types provides the core data types for the modlink deployment engine.
// It includes structures for staged mods, per-profile enable state, and the
// activation manifest that records which files in a target directory are
// engine-owned, along with small helpers for formatting them.
package types

import (
	"sort"
	"time"

	"github.com/dustin/go-humanize"
)

// ModState is the installation state of a staged mod.
type ModState string

// Mod states. A mod moves downloaded -> installing -> installed, or to removed.
const (
	StateDownloading ModState = "downloading"
	StateDownloaded  ModState = "downloaded"
	StateInstalling  ModState = "installing"
	StateInstalled   ModState = "installed"
	StateRemoved     ModState = "removed"
)

// Removable reports whether a mod in this state may be deleted.
// Mods that are still being downloaded or installed are busy.
func (s ModState) Removable() bool {
	return s == StateDownloaded || s == StateInstalled
}

// Rule is a dependency or ordering rule attached to a mod.
type Rule struct {
	// Type is the rule kind, e.g. "before", "after", "requires", "conflicts".
	Type string `json:"type" yaml:"type"`

	// Reference is the id of the mod the rule refers to.
	Reference string `json:"reference" yaml:"reference"`
}

// Mod is a staged, immutable-once-installed file tree identified by {GameID, ID}.
type Mod struct {
	// ID identifies the mod within its game.
	ID string `json:"id" yaml:"id"`

	// GameID is the game the mod was installed for.
	GameID string `json:"game_id" yaml:"game_id"`

	// Type is the registered mod type. It selects the target directory.
	// The empty string is the game's default mod type.
	Type string `json:"type" yaml:"type"`

	// InstallationPath is the mod's directory relative to the staging root.
	InstallationPath string `json:"installation_path" yaml:"installation_path"`

	// State is the installation state.
	State ModState `json:"state" yaml:"state"`

	// FileOverrides lists relative paths this mod owns regardless of priority.
	FileOverrides []string `json:"file_overrides,omitempty" yaml:"file_overrides,omitempty"`

	// Rules are ordering and dependency rules. They do not affect which
	// files are deployed but a change to them marks deployment as necessary.
	Rules []Rule `json:"rules,omitempty" yaml:"rules,omitempty"`

	// Attributes holds free-form metadata (name, version, source).
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Name returns the display name of the mod, falling back to its id.
func (m Mod) Name() string {
	if n := m.Attributes["name"]; n != "" {
		return n
	}
	return m.ID
}

// Clone returns a deep copy of the mod.
func (m Mod) Clone() Mod {
	c := m
	if m.FileOverrides != nil {
		c.FileOverrides = append([]string(nil), m.FileOverrides...)
	}
	if m.Rules != nil {
		c.Rules = append([]Rule(nil), m.Rules...)
	}
	if m.Attributes != nil {
		c.Attributes = make(map[string]string, len(m.Attributes))
		for k, v := range m.Attributes {
			c.Attributes[k] = v
		}
	}
	return c
}

// ModTable maps gameID -> modID -> Mod.
type ModTable map[string]map[string]Mod

// Tag is the method-specific record kept with each manifest entry.
// Each deployment method fills in the fields it uses to verify ownership.
type Tag struct {
	// Method is the id of the method that created the file.
	Method string `json:"method,omitempty"`

	// Target is the link target for symlinks.
	Target string `json:"target,omitempty"`

	// Inode and Device identify a hardlinked file.
	Inode  uint64 `json:"inode,omitempty"`
	Device uint64 `json:"device,omitempty"`

	// Size and ModTime describe a copied file at deployment time.
	Size    int64 `json:"size,omitempty"`
	ModTime int64 `json:"mod_time,omitempty"`
}

// Entry is one engine-owned file in a target directory.
type Entry struct {
	// RelPath is the path relative to the data directory, using '/' separators.
	RelPath string `json:"rel_path"`

	// Source is the id of the mod that provided the file.
	Source string `json:"source"`

	// Time is when the file was deployed.
	Time time.Time `json:"time"`

	// Tag holds method-specific verification data.
	Tag Tag `json:"tag"`
}

// Manifest is the activation manifest for one {ModType, DataPath} directory.
// It is the only authoritative record of which files in the directory are
// engine-owned. Entries are sorted by normalized relative path and hold at
// most one entry per normalized path.
type Manifest struct {
	// InstanceID identifies the installation that wrote the manifest.
	InstanceID string `json:"instance_id"`

	// Method is the id of the deployment method that produced the entries.
	Method string `json:"method"`

	ModType     string `json:"mod_type"`
	DataPath    string `json:"data_path"`
	StagingPath string `json:"staging_path"`
	GameID      string `json:"game_id"`

	Entries []Entry `json:"entries"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the manifest. A nil manifest clones to nil.
func (m *Manifest) Clone() *Manifest {
	if m == nil {
		return nil
	}
	c := *m
	c.Entries = append([]Entry(nil), m.Entries...)
	return &c
}

// Len returns the number of entries. It is safe on a nil manifest.
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Entries)
}

// Sources returns the number of entries owned by each mod.
func (m *Manifest) Sources() map[string]int {
	counts := make(map[string]int)
	if m == nil {
		return counts
	}
	for _, e := range m.Entries {
		counts[e.Source]++
	}
	return counts
}

// SortEntries orders the entries by the given key function (normally the
// directory's normalization function) and drops later duplicates.
func (m *Manifest) SortEntries(key func(string) string) {
	sort.SliceStable(m.Entries, func(i, j int) bool {
		return key(m.Entries[i].RelPath) < key(m.Entries[j].RelPath)
	})
	out := m.Entries[:0]
	var last string
	for i, e := range m.Entries {
		k := key(e.RelPath)
		if i > 0 && k == last {
			continue
		}
		out = append(out, e)
		last = k
	}
	m.Entries = out
}

// FormatSize converts a size in bytes to a human-readable string using
// binary (IEC) units.
func FormatSize(bytes int64) string {
	return humanize.IBytes(uint64(bytes))
}

// FormatAge renders a deployment time relative to now, e.g. "3 hours ago".
func FormatAge(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}
