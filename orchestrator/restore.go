// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/juju/srr/core/srr"
	srrerrors "github.com/juju/srr/core/srr/errors"
	"github.com/juju/srr/integrity"
	"github.com/juju/srr/rpc/params"
)

// Restore restores previously saved data. Grouped payloads (2.0 and later)
// are verified against their integrity digests first, unless force is set;
// a mismatch rejects the whole request with status UNKNOWN before any
// agent is contacted.
//
// Each group, or each feature of a 1.0 payload, is restored on its own: a
// failure rolls the unit back to the state it had before the restore and
// does not affect the other units. Failures are reported in the response,
// never as an error.
func (o *Orchestrator) Restore(ctx context.Context, req params.RestoreRequest, force bool) params.RestoreResponse {
	// Once started, a restore runs to completion.
	ctx = context.WithoutCancel(ctx)
	ctx, span := tracer.Start(ctx, "restore", trace.WithAttributes(
		attribute.String("srr.version", req.Version),
		attribute.Bool("srr.force", force),
	))
	defer span.End()

	resp := params.RestoreResponse{StatusList: []params.RestoreStatus{}}
	units, restart, err := o.restore(ctx, req, force)
	if err != nil {
		o.logger.Errorf("restore failed: %v", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		resp.Status = statusForError(err).String()
		resp.Error = err.Error()
		o.metrics.operation("restore", resp.Status)
		return resp
	}

	failed := 0
	for _, u := range units {
		if u.Status != srr.Success {
			failed++
		}
		resp.StatusList = append(resp.StatusList, params.RestoreStatus{
			Name:   u.Name,
			Status: u.Status.String(),
			Error:  u.Error,
		})
	}
	resp.Status = srr.Aggregate(failed).String()
	o.metrics.operation("restore", resp.Status)

	if restart {
		o.logger.Infof("restored configuration requires a restart")
		o.restarter.ScheduleRestart()
	}
	return resp
}

func (o *Orchestrator) restore(ctx context.Context, req params.RestoreRequest, force bool) ([]srr.UnitStatus, bool, error) {
	if err := o.passphrase.VerifyChecksum(req.Passphrase, req.Checksum); err != nil {
		return nil, false, errors.Trace(err)
	}
	if !o.supportedVersions.Contains(req.Version) {
		return nil, false, fmt.Errorf("version %q: %w", req.Version, srrerrors.UnsupportedVersion)
	}

	if !srr.IsGrouped(req.Version) {
		entries, err := req.FlatData()
		if err != nil {
			return nil, false, errors.Trace(err)
		}
		units, restart := o.restoreFeatures(ctx, entries, req.Passphrase)
		return units, restart, nil
	}

	groups, err := req.GroupedData()
	if err != nil {
		return nil, false, errors.Trace(err)
	}
	return o.restoreGroups(ctx, groups, req.Passphrase, force)
}

type groupPayload struct {
	id       string
	digest   string
	features []srr.NamedFeature
}

func (o *Orchestrator) restoreGroups(ctx context.Context, groups []params.Group, passphrase string, force bool) ([]srr.UnitStatus, bool, error) {
	seen := set.NewStrings()
	payloads := make([]groupPayload, 0, len(groups))
	for _, g := range groups {
		if seen.Contains(g.GroupID) {
			o.logger.Warningf("ignoring duplicate group %q", g.GroupID)
			continue
		}
		seen.Add(g.GroupID)
		features := make([]srr.NamedFeature, len(g.Features))
		for j, entry := range g.Features {
			features[j] = entry.NamedFeature()
		}
		o.catalog.SortByPriority(features)
		payloads = append(payloads, groupPayload{id: g.GroupID, digest: g.DataIntegrity, features: features})
	}

	if force {
		o.logger.Warningf("data integrity check skipped")
	} else {
		var tampered []string
		for _, p := range payloads {
			ok, err := integrity.Verify(p.features, passphrase, p.digest)
			if err != nil {
				return nil, false, errors.Annotatef(err, "verifying group %q", p.id)
			}
			if !ok {
				tampered = append(tampered, p.id)
				o.metrics.integrityFailure(p.id)
			}
		}
		if len(tampered) > 0 {
			return nil, false, fmt.Errorf("groups %s: %w", strings.Join(tampered, ", "), srrerrors.IntegrityCheckFailed)
		}
	}

	var (
		units   []srr.UnitStatus
		restart bool
	)
	for _, p := range payloads {
		unit, r := o.restoreGroup(ctx, p, passphrase)
		units = append(units, unit)
		restart = restart || r
	}
	return units, restart, nil
}

func (o *Orchestrator) restoreGroup(ctx context.Context, p groupPayload, passphrase string) (srr.UnitStatus, bool) {
	ctx, span := tracer.Start(ctx, "restore group", trace.WithAttributes(
		attribute.String("srr.group", p.id),
	))
	defer span.End()

	unit := srr.UnitStatus{Name: p.id, Status: srr.Success}
	fail := func(err error) srr.UnitStatus {
		o.logger.Errorf("restore of group %q failed: %v", p.id, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		unit.Status = srr.Failed
		unit.Error = err.Error()
		return unit
	}

	group, err := o.catalog.Group(p.id)
	if err != nil {
		return fail(fmt.Errorf("group %q is not supported: %w", p.id, srrerrors.UnknownGroup)), false
	}

	present := make(map[string]srr.NamedFeature, len(p.features))
	for _, f := range p.features {
		present[f.Name] = f
	}
	var (
		missing  []string
		features []srr.NamedFeature
	)
	for _, fp := range group.Features {
		f, ok := present[fp.Feature]
		if !ok {
			missing = append(missing, fp.Feature)
			continue
		}
		features = append(features, f)
		delete(present, fp.Feature)
	}
	if len(missing) > 0 {
		return fail(fmt.Errorf("group %q is missing features %s: %w",
			p.id, strings.Join(missing, ", "), srrerrors.MissingFeature)), false
	}
	for name := range present {
		o.logger.Warningf("ignoring feature %q which is not part of group %q", name, p.id)
	}

	restart, err := o.restoreUnit(ctx, p.id, features, passphrase)
	if err != nil {
		return fail(err), restart
	}
	return unit, restart
}

// restoreFeatures restores a flat list of features, each on its own, in
// catalog order: by group, then by priority within the group.
func (o *Orchestrator) restoreFeatures(ctx context.Context, entries []params.FeatureEntry, passphrase string) ([]srr.UnitStatus, bool) {
	features := make([]srr.NamedFeature, len(entries))
	for i, entry := range entries {
		features[i] = entry.NamedFeature()
	}
	sort.SliceStable(features, func(i, j int) bool {
		gi, iok := o.catalog.GroupFor(features[i].Name)
		gj, jok := o.catalog.GroupFor(features[j].Name)
		if iok != jok {
			return iok
		}
		if gi != gj {
			return gi < gj
		}
		return o.catalog.Priority(features[i].Name) < o.catalog.Priority(features[j].Name)
	})

	var (
		units   []srr.UnitStatus
		restart bool
		seen    = set.NewStrings()
	)
	for _, f := range features {
		unit := srr.UnitStatus{Name: f.Name, Status: srr.Success}
		if seen.Contains(f.Name) {
			o.logger.Warningf("ignoring duplicate feature %q", f.Name)
			continue
		}
		seen.Add(f.Name)

		if _, err := o.catalog.Feature(f.Name); err != nil {
			o.logger.Errorf("restore of feature %q failed: %v", f.Name, err)
			unit.Status = srr.Failed
			unit.Error = err.Error()
			units = append(units, unit)
			continue
		}
		r, err := o.restoreUnit(ctx, f.Name, []srr.NamedFeature{f}, passphrase)
		if err != nil {
			o.logger.Errorf("restore of feature %q failed: %v", f.Name, err)
			unit.Status = srr.Failed
			unit.Error = err.Error()
		}
		units = append(units, unit)
		restart = restart || r
	}
	return units, restart
}

// restoreUnit restores the features, which are in priority order, as one
// unit: it snapshots their current state, resets those that support it,
// then restores them one by one. The first failure rolls the whole unit
// back to the snapshot. The returned flag reports whether any feature was
// successfully restored that requires a restart.
func (o *Orchestrator) restoreUnit(ctx context.Context, unit string, features []srr.NamedFeature, passphrase string) (bool, error) {
	names := make([]string, len(features))
	for i, f := range features {
		names[i] = f.Name
	}

	snapshot, err := o.snapshot(ctx, names, passphrase)
	if err != nil {
		return false, fmt.Errorf("could not back up %q, it will not be restored: %w", unit, err)
	}

	o.resetFeatures(ctx, names)

	restart := false
	for _, f := range features {
		r, err := o.restoreFeature(ctx, f, passphrase)
		if err != nil {
			o.logger.Errorf("restore of %q failed on feature %q, rolling back: %v", unit, f.Name, err)
			o.metrics.rollback(unit)
			if o.rollback(ctx, snapshot, passphrase) {
				restart = true
			}
			return restart, err
		}
		restart = restart || r
	}
	return restart, nil
}

// snapshot saves the current state of the features, in the given order.
// It fails unless every feature was saved.
func (o *Orchestrator) snapshot(ctx context.Context, names []string, passphrase string) ([]srr.NamedFeature, error) {
	results := o.saveFeatures(ctx, names, passphrase)
	snapshot := make([]srr.NamedFeature, len(names))
	for i, name := range names {
		result := results[name]
		if result.Status.Status != srr.Success {
			return nil, fmt.Errorf("feature %q: %s: %w", name, result.Status.Error, srrerrors.SnapshotFailed)
		}
		snapshot[i] = srr.NamedFeature{Name: name, FeatureAndStatus: result}
	}
	return snapshot, nil
}

// resetFeatures resets the features that support it, in reverse order.
// Failures are logged only.
func (o *Orchestrator) resetFeatures(ctx context.Context, names []string) {
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		f, err := o.catalog.Feature(name)
		if err != nil || !f.SupportsReset {
			continue
		}
		reply, err := o.agents.Reset(ctx, f.Destination, params.ResetQuery{
			Version:  o.version,
			Features: []string{name},
		})
		if err == nil {
			if st, ok := reply.Statuses[name]; !ok {
				err = fmt.Errorf("feature %q: no status reported: %w", name, srrerrors.ResetFailed)
			} else if srr.Status(st.Status) != srr.Success {
				err = fmt.Errorf("feature %q: %s: %w", name, st.Error, srrerrors.ResetFailed)
			}
		}
		if err != nil {
			o.logger.Warningf("reset of feature %q failed, restoring anyway: %v", name, err)
		}
	}
}

// restoreFeature restores one feature. It reports whether the restored
// feature requires a restart.
func (o *Orchestrator) restoreFeature(ctx context.Context, f srr.NamedFeature, passphrase string) (bool, error) {
	feature, err := o.catalog.Feature(f.Name)
	if err != nil {
		return false, errors.Trace(err)
	}
	o.logger.Debugf("restoring feature %q with agent %q", f.Name, feature.Destination.Agent)
	reply, err := o.agents.Restore(ctx, feature.Destination, params.RestoreQuery{
		Version:    o.version,
		Passphrase: passphrase,
		Features: map[string]params.FeatureData{
			f.Name: {Version: f.Feature.Version, Data: f.Feature.Data},
		},
	})
	if err != nil {
		return false, err
	}
	st, ok := reply.Statuses[f.Name]
	if !ok {
		return false, fmt.Errorf("feature %q: no status reported: %w", f.Name, srrerrors.RestoreFailed)
	}
	if srr.Status(st.Status) != srr.Success {
		return false, fmt.Errorf("feature %q: %s: %w", f.Name, st.Error, srrerrors.RestoreFailed)
	}
	return feature.RestartRequired, nil
}
