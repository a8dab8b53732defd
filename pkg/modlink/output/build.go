package output

import (
	"sort"

	"github.com/jamesainslie/modlink/pkg/modlink/activation"
	"github.com/jamesainslie/modlink/pkg/modlink/history"
	"github.com/jamesainslie/modlink/pkg/modlink/types"
)

// BuildOptions controls what NewReport includes.
type BuildOptions struct {
	GameName string

	// Entries lists every deployed file per directory.
	Entries bool

	// Blocked reports whether deployments to a directory are suspended.
	Blocked func(modType, dataPath string) bool
}

// NewReport summarizes a game's state and the manifests of its target
// directories.
func NewReport(st *types.State, gameID string, manifests []*types.Manifest, opts BuildOptions) *Report {
	r := &Report{
		GameID:      gameID,
		GameName:    opts.GameName,
		Method:      st.Activators[gameID],
		Discovery:   st.Discovered[gameID],
		StagingPath: st.InstallPath(gameID),
		Necessary:   st.DeploymentNecessary[gameID],
	}
	if r.GameName == "" {
		r.GameName = gameID
	}

	deployed := make(map[string]int)
	for _, m := range manifests {
		if m == nil || (m.GameID != "" && m.GameID != gameID) {
			continue
		}
		d := Directory{
			ModType:   m.ModType,
			DataPath:  m.DataPath,
			Method:    m.Method,
			Files:     m.Len(),
			Sources:   m.Sources(),
			UpdatedAt: m.UpdatedAt,
			Updated:   types.FormatAge(m.UpdatedAt),
			Foreign:   activation.IsForeign(m, st.InstanceID),
		}
		if opts.Blocked != nil {
			d.Blocked = opts.Blocked(m.ModType, m.DataPath)
		}
		if opts.Entries {
			for _, e := range m.Entries {
				d.Entries = append(d.Entries, EntryInfo{RelPath: e.RelPath, Source: e.Source, Time: e.Time})
			}
		}
		for src, n := range d.Sources {
			deployed[src] += n
		}
		if d.Foreign {
			r.Warnings = append(r.Warnings, "manifest for "+m.DataPath+" was written by another installation")
		}
		r.Directories = append(r.Directories, d)
	}
	sort.Slice(r.Directories, func(i, j int) bool {
		a, b := r.Directories[i], r.Directories[j]
		if a.ModType != b.ModType {
			return a.ModType < b.ModType
		}
		return a.DataPath < b.DataPath
	})

	prio := st.Priorities(gameID)
	for id, m := range st.Mods[gameID] {
		r.Mods = append(r.Mods, ModInfo{
			ID:       id,
			Name:     m.Name(),
			Type:     m.Type,
			State:    string(m.State),
			Enabled:  st.IsEnabled(gameID, id),
			Priority: prio[id],
			Deployed: deployed[id],
		})
	}
	sort.Slice(r.Mods, func(i, j int) bool { return r.Mods[i].Priority < r.Mods[j].Priority })

	return r
}

// AddHistory appends journal records to the report.
func (r *Report) AddHistory(records []history.Record) {
	for _, rec := range records {
		r.History = append(r.History, HistoryInfo{
			ID:        rec.ID,
			Time:      rec.Timestamp,
			Age:       types.FormatAge(rec.Timestamp),
			Operation: string(rec.Operation),
			ModType:   rec.ModType,
			DataPath:  rec.DataPath,
			Method:    rec.Method,
			ModID:     rec.ModID,
			Added:     rec.Added,
			Removed:   rec.Removed,
			Error:     rec.Error,
		})
	}
}
