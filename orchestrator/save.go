// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/juju/srr/catalog"
	"github.com/juju/srr/core/srr"
	"github.com/juju/srr/integrity"
	"github.com/juju/srr/rpc/params"
)

// Save saves the requested groups. Failures are reported in the response,
// never as an error.
func (o *Orchestrator) Save(ctx context.Context, req params.SaveRequest) params.SaveResponse {
	resp := params.SaveResponse{
		Version: o.version,
		Status:  srr.Failed.String(),
		Data:    []params.Group{},
	}

	status, bundles, err := o.SaveGroups(ctx, req.GroupList, req.Passphrase)
	if err == nil {
		resp.Checksum, err = o.passphrase.Checksum(req.Passphrase)
	}
	if err != nil {
		o.logger.Errorf("save of groups %v failed: %v", req.GroupList, err)
		resp.Error = err.Error()
		o.metrics.operation("save", resp.Status)
		return resp
	}

	failed := 0
	for _, b := range bundles {
		group := params.Group{
			GroupID:       b.GroupID,
			GroupName:     b.GroupName,
			DataIntegrity: b.DataIntegrity,
			Features:      make([]params.FeatureEntry, len(b.Features)),
		}
		for i, f := range b.Features {
			group.Features[i] = params.FromNamedFeature(f)
			if f.Status.Status != srr.Success {
				failed++
			}
		}
		resp.Data = append(resp.Data, group)
	}
	resp.Status = status.String()
	if failed > 0 {
		resp.Error = fmt.Sprintf("%d features could not be saved", failed)
	}
	o.metrics.operation("save", resp.Status)
	return resp
}

// SaveGroups saves every feature of the given groups and returns one bundle
// per group, in request order, with its features in priority order and its
// integrity digest attached. Unknown groups are skipped; repeated groups
// are saved once.
//
// The returned status is SUCCESS if every feature was saved, and
// PARTIAL_SUCCESS otherwise. An error is only returned if the passphrase
// is rejected, in which case no agent is contacted.
func (o *Orchestrator) SaveGroups(ctx context.Context, groupIDs []string, passphrase string) (srr.Status, []srr.SaveBundle, error) {
	ctx, span := tracer.Start(ctx, "save", trace.WithAttributes(
		attribute.StringSlice("srr.groups", groupIDs),
	))
	defer span.End()

	if err := o.passphrase.Validate(passphrase); err != nil {
		return srr.Failed, nil, errors.Trace(err)
	}

	seen := set.NewStrings()
	var (
		groups   []catalog.Group
		features []string
	)
	for _, id := range groupIDs {
		if seen.Contains(id) {
			continue
		}
		seen.Add(id)
		g, err := o.catalog.Group(id)
		if err != nil {
			o.logger.Warningf("skipping group %q: %v", id, err)
			continue
		}
		groups = append(groups, g)
		features = append(features, g.FeatureIDs()...)
	}

	results := o.saveFeatures(ctx, features, passphrase)

	failed := 0
	bundles := make([]srr.SaveBundle, 0, len(groups))
	for _, g := range groups {
		bundle := srr.SaveBundle{
			GroupID:   g.ID,
			GroupName: g.Name,
			Features:  make([]srr.NamedFeature, len(g.Features)),
		}
		for i, fp := range g.Features {
			result := results[fp.Feature]
			if result.Status.Status != srr.Success {
				failed++
			}
			bundle.Features[i] = srr.NamedFeature{Name: fp.Feature, FeatureAndStatus: result}
		}
		digest, err := integrity.Digest(bundle.Features, passphrase)
		if err != nil {
			return srr.Failed, nil, errors.Annotatef(err, "computing digest of group %q", g.ID)
		}
		bundle.DataIntegrity = digest
		bundles = append(bundles, bundle)
	}
	return srr.Aggregate(failed), bundles, nil
}

// saveFeatures saves the features, sending one request to each agent
// involved. Agents are called concurrently. Every feature gets a result:
// a feature whose agent could not be reached, or did not report it, is
// FAILED.
func (o *Orchestrator) saveFeatures(ctx context.Context, features []string, passphrase string) map[string]srr.FeatureAndStatus {
	results := make(map[string]srr.FeatureAndStatus, len(features))

	var (
		destinations []catalog.Destination
		byAgent      = make(map[catalog.Destination][]string)
	)
	for _, name := range features {
		dest, err := o.catalog.AgentFor(name)
		if err != nil {
			results[name] = failedFeature(err.Error())
			continue
		}
		if _, ok := byAgent[dest]; !ok {
			destinations = append(destinations, dest)
		}
		byAgent[dest] = append(byAgent[dest], name)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(o.maxConcurrent)
	for _, dest := range destinations {
		dest := dest
		names := byAgent[dest]
		g.Go(func() error {
			agentResults := o.saveAgent(ctx, dest, names, passphrase)
			mu.Lock()
			defer mu.Unlock()
			for name, result := range agentResults {
				results[name] = result
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) saveAgent(ctx context.Context, dest catalog.Destination, names []string, passphrase string) map[string]srr.FeatureAndStatus {
	results := make(map[string]srr.FeatureAndStatus, len(names))

	o.logger.Debugf("saving %v with agent %q", names, dest.Agent)
	reply, err := o.agents.Save(ctx, dest, params.SaveQuery{
		Version:    o.version,
		Passphrase: passphrase,
		Features:   names,
	})
	if err != nil {
		for _, name := range names {
			results[name] = failedFeature(err.Error())
		}
		return results
	}

	requested := set.NewStrings(names...)
	for name, fr := range reply.Features {
		if !requested.Contains(name) {
			if _, ok := o.catalog.GroupFor(name); !ok {
				o.logger.Errorf("feature %q saved by %q is not part of any group, it will not be included", name, dest.Agent)
			} else {
				o.logger.Warningf("ignoring feature %q saved by %q without being requested", name, dest.Agent)
			}
			continue
		}
		if !utf8.ValidString(fr.Feature.Data) {
			o.logger.Errorf("feature %q saved by %q is not valid UTF-8 text", name, dest.Agent)
			results[name] = failedFeature(fmt.Sprintf("feature %q saved by %q is not valid UTF-8 text", name, dest.Agent))
			continue
		}
		results[name] = srr.FeatureAndStatus{
			Feature: srr.FeatureData{Version: fr.Feature.Version, Data: fr.Feature.Data},
			Status:  srr.FeatureStatus{Status: srr.Status(fr.Status.Status), Error: fr.Status.Error},
		}
	}
	for _, name := range names {
		if _, ok := results[name]; !ok {
			results[name] = failedFeature(fmt.Sprintf("agent %q did not save feature %q", dest.Agent, name))
		}
	}
	return results
}

func failedFeature(msg string) srr.FeatureAndStatus {
	return srr.FeatureAndStatus{
		Status: srr.FeatureStatus{Status: srr.Failed, Error: msg},
	}
}
