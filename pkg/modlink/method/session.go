package method

import (
	"sort"

	"github.com/jamesainslie/modlink/pkg/modlink/normalize"
	"github.com/jamesainslie/modlink/pkg/modlink/types"
)

// ChangeKind classifies an external change found by Prepare.
type ChangeKind string

const (
	// ChangeDeleted means a managed file no longer exists.
	ChangeDeleted ChangeKind = "deleted"
	// ChangeModified means a managed path now holds a different file.
	// The file is treated as user-owned from then on.
	ChangeModified ChangeKind = "modified"
	// ChangeUnverifiable means the entry was written by another method
	// and cannot be checked.
	ChangeUnverifiable ChangeKind = "unverifiable"
)

// Change is a managed file that was altered outside the engine.
type Change struct {
	RelPath string     `json:"rel_path"`
	Source  string     `json:"source"`
	Kind    ChangeKind `json:"kind"`
}

// Conflict is a path a mod wanted that is occupied by a file the engine
// does not own. The path is left untouched.
type Conflict struct {
	RelPath string `json:"rel_path"`
	Source  string `json:"source"`
}

// Stats counts what Finalize or Purge did.
type Stats struct {
	Added     int `json:"added"`
	Removed   int `json:"removed"`
	Unchanged int `json:"unchanged"`
	Conflicts int `json:"conflicts"`
}

// planned is a working-set entry.
type planned struct {
	relPath  string
	source   string
	src      string // absolute staged file; empty for entries carried over by Prepare
	priority int
	override bool
	kept     bool
	prev     types.Entry
}

// Session is the per-directory state of one operation. It is owned by the
// caller driving the directory and must not be shared.
type Session struct {
	Method        string
	DataPath      string
	ForDeployment bool
	Normalize     normalize.Func

	// Changes are the external changes found by Prepare.
	Changes []Change
	// Conflicts are filled by Finalize.
	Conflicts []Conflict
	// Stats are filled by Finalize and Purge.
	Stats Stats

	previous   map[string]types.Entry
	working    map[string]*planned
	priorities map[string]int
	sequence   int
	base       *types.Manifest
}

func newSession(methodID, dataPath string, forDeployment bool, n normalize.Func) *Session {
	return &Session{
		Method:        methodID,
		DataPath:      dataPath,
		ForDeployment: forDeployment,
		Normalize:     n,
		previous:      make(map[string]types.Entry),
		working:       make(map[string]*planned),
	}
}

// SetPriorities assigns conflict priorities by mod id. Higher wins. Mods
// without a priority rank by activation order after all assigned ones.
func (s *Session) SetPriorities(p map[string]int) {
	s.priorities = p
}

func (s *Session) priority(modID string) int {
	if p, ok := s.priorities[modID]; ok {
		return p
	}
	s.sequence++
	return len(s.priorities) + s.sequence
}

// Previous returns the verified entries of the last manifest, sorted.
func (s *Session) Previous() []types.Entry {
	return s.sortedEntries(s.previous)
}

// Working returns the relative paths currently planned, keyed by owner.
func (s *Session) Working() map[string]string {
	out := make(map[string]string, len(s.working))
	for _, p := range s.working {
		out[p.relPath] = p.source
	}
	return out
}

// Manifest returns a manifest holding the verified entries. After a purge
// it holds only the entries that could not be removed.
func (s *Session) Manifest() *types.Manifest {
	m := &types.Manifest{Method: s.Method, DataPath: s.DataPath}
	if s.base != nil {
		m.GameID = s.base.GameID
		m.StagingPath = s.base.StagingPath
	}
	m.Entries = s.Previous()
	return m
}

func (s *Session) sortedEntries(set map[string]types.Entry) []types.Entry {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]types.Entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, set[k])
	}
	return out
}
