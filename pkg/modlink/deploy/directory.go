package deploy

import (
	"context"

	"github.com/jamesainslie/modlink/pkg/modlink/activation"
	"github.com/jamesainslie/modlink/pkg/modlink/deployerr"
	"github.com/jamesainslie/modlink/pkg/modlink/method"
	"github.com/jamesainslie/modlink/pkg/modlink/normalize"
	"github.com/jamesainslie/modlink/pkg/modlink/types"
)

// load returns the directory's normalization function and last manifest.
func (o *Orchestrator) load(ctx context.Context, r *run, t Target) (normalize.Func, *types.Manifest, error) {
	n, err := r.cache.Get(ctx, t.DataPath)
	if err != nil {
		return nil, nil, err
	}
	last, err := o.store.Load(ctx, t.ModType, t.storePath())
	if err != nil {
		return nil, nil, err
	}
	if activation.IsForeign(last, r.instance) {
		o.log.Warn("manifest belongs to another installation, verifying every entry",
			"mod_type", t.ModType, "data_path", t.DataPath, "owner", last.InstanceID)
	}
	return n, last, nil
}

// recorded returns the method that wrote last, falling back to the run's
// method when the manifest does not name one.
func (o *Orchestrator) recorded(r *run, last *types.Manifest) (method.Method, error) {
	if last != nil && last.Method != "" {
		m, ok := o.methods.Get(last.Method)
		if !ok {
			return nil, deployerr.ProcessCanceled(
				"files in %s were deployed with unavailable method %q, remove them manually or reinstall the method",
				last.DataPath, last.Method)
		}
		return m, nil
	}
	if r.method == nil {
		return nil, deployerr.ProcessCanceled("no deployment method active")
	}
	return r.method, nil
}

func (o *Orchestrator) phase(t Target, p Phase) {
	o.log.Debug("phase", "mod_type", t.ModType, "data_path", t.DataPath, "phase", p)
}

// deployDir runs the full pipeline on one directory.
func (o *Orchestrator) deployDir(ctx context.Context, r *run, t Target, mods []types.Mod) error {
	if err := o.blockedKey(t.key()); err != nil {
		return err
	}

	n, last, err := o.load(ctx, r, t)
	if err != nil {
		return err
	}
	if len(mods) == 0 && last.Len() == 0 {
		return nil
	}
	m := r.method
	id := m.Descriptor().ID

	if last.Len() > 0 && last.Method != "" && last.Method != id {
		o.log.Info("directory was deployed with another method, purging first",
			"mod_type", t.ModType, "data_path", t.DataPath, "from", last.Method, "to", id)
		last, err = o.purgeDir(ctx, r, t, nil)
		if err != nil {
			return err
		}
	}

	o.phase(t, PhasePrepare)
	s, err := m.Prepare(ctx, t.DataPath, true, last, n)
	if err != nil {
		return err
	}
	s.SetPriorities(r.prio)

	o.phase(t, PhaseApplyDelta)
	enabled := make(map[string]bool, len(mods))
	for _, mod := range mods {
		enabled[mod.ID] = true
		if err := m.Activate(ctx, s, t.StagingPath, mod); err != nil {
			return err
		}
	}
	for source := range last.Sources() {
		if enabled[source] {
			continue
		}
		gone := types.Mod{ID: source, GameID: r.gameID, Type: t.ModType}
		if known, ok := r.st.Mods[r.gameID][source]; ok {
			gone = known
		}
		if err := m.Deactivate(ctx, s, t.StagingPath, gone); err != nil {
			return err
		}
	}

	o.phase(t, PhaseFinalize)
	out, err := m.Finalize(ctx, s, r.gameID, t.StagingPath)
	if err != nil {
		o.record(r, t, id, "", method.Stats{}, last.Len(), err)
		return err
	}

	o.phase(t, PhasePersist)
	if err := o.store.Save(ctx, t.ModType, r.instance, t.storePath(), out); err != nil {
		return err
	}
	o.record(r, t, id, "", s.Stats, out.Len(), nil)
	o.phase(t, PhaseIdle)
	return nil
}

// purgeDir retracts every verified entry of the directory's manifest with
// the method that wrote it and persists what remains. Only directories for
// which want returns true are purged; a nil want purges any non-empty one.
func (o *Orchestrator) purgeDir(ctx context.Context, r *run, t Target, want func(*types.Manifest) bool) (*types.Manifest, error) {
	n, last, err := o.load(ctx, r, t)
	if err != nil {
		return nil, err
	}
	if last.Len() == 0 || (want != nil && !want(last)) {
		return last, nil
	}
	m, err := o.recorded(r, last)
	if err != nil {
		return nil, err
	}
	id := m.Descriptor().ID

	o.phase(t, PhasePrepare)
	s, err := m.Prepare(ctx, t.DataPath, false, last, n)
	if err != nil {
		return nil, err
	}

	o.phase(t, PhasePurge)
	purgeErr := m.Purge(ctx, s, t.StagingPath)
	if deployerr.Suppressed(purgeErr) {
		return nil, purgeErr
	}

	remaining := s.Manifest()
	remaining.GameID = r.gameID
	remaining.StagingPath = t.StagingPath

	o.phase(t, PhasePersist)
	if err := o.store.Save(ctx, t.ModType, r.instance, t.storePath(), remaining); err != nil {
		return nil, err
	}
	o.record(r, t, id, "", s.Stats, remaining.Len(), purgeErr)
	if purgeErr != nil {
		return remaining, purgeErr
	}
	o.phase(t, PhaseIdle)
	return remaining, nil
}

// undeployDir retracts one mod while keeping every other verified entry.
func (o *Orchestrator) undeployDir(ctx context.Context, r *run, t Target, mod types.Mod) error {
	n, last, err := o.load(ctx, r, t)
	if err != nil {
		return err
	}
	if last.Sources()[mod.ID] == 0 {
		o.log.Debug("mod has no deployed files", "mod", mod.ID, "data_path", t.DataPath)
		return nil
	}
	m, err := o.recorded(r, last)
	if err != nil {
		return err
	}
	id := m.Descriptor().ID

	o.phase(t, PhasePrepare)
	s, err := m.Prepare(ctx, t.DataPath, false, last, n)
	if err != nil {
		return err
	}

	o.phase(t, PhaseApplyDelta)
	if err := m.Deactivate(ctx, s, t.StagingPath, mod); err != nil {
		return err
	}

	o.phase(t, PhaseFinalize)
	out, err := m.Finalize(ctx, s, r.gameID, t.StagingPath)
	if err != nil {
		o.record(r, t, id, mod.ID, method.Stats{}, last.Len(), err)
		return err
	}

	o.phase(t, PhasePersist)
	if err := o.store.Save(ctx, t.ModType, r.instance, t.storePath(), out); err != nil {
		return err
	}
	o.record(r, t, id, mod.ID, s.Stats, out.Len(), nil)
	o.log.Info("mod undeployed", "mod", mod.ID, "data_path", t.DataPath, "removed", s.Stats.Removed)
	return nil
}
