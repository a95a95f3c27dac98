// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package testing

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/pubsub/v2"

	"github.com/juju/srr/catalog"
	"github.com/juju/srr/core/srr"
	"github.com/juju/srr/dispatcher"
	"github.com/juju/srr/rpc/params"
)

// FactoryData is the payload of a feature after a reset.
const FactoryData = "{}"

// Call records one request received by a FakeAppliance.
type Call struct {
	Queue    string
	Subject  string
	Features []string
}

// FakeAppliance plays the part of every agent of a catalog. It keeps the
// current payload of each feature in memory, so tests can check what a
// restore or a rollback left behind, and records every request.
//
// FakeAppliance implements dispatcher.Transport, and can also serve the
// agent queues on a hub.
type FakeAppliance struct {
	mu sync.Mutex

	state       map[string]params.FeatureData
	calls       []Call
	failSave    set.Strings
	failReset   set.Strings
	omit        set.Strings
	unreachable set.Strings
	failRestore map[string]func(params.FeatureData) bool
}

// NewFakeAppliance returns an appliance with every feature of the catalog
// holding a distinct initial payload.
func NewFakeAppliance(cat *catalog.Catalog) *FakeAppliance {
	a := &FakeAppliance{
		state:       make(map[string]params.FeatureData),
		failSave:    set.NewStrings(),
		failReset:   set.NewStrings(),
		omit:        set.NewStrings(),
		unreachable: set.NewStrings(),
		failRestore: make(map[string]func(params.FeatureData) bool),
	}
	for _, f := range cat.Features() {
		a.state[f.ID] = params.FeatureData{
			Version: "1.0",
			Data:    fmt.Sprintf(`{"feature":%q,"generation":0}`, f.ID),
		}
	}
	return a
}

// Set replaces the current payload of the feature.
func (a *FakeAppliance) Set(feature string, data params.FeatureData) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state[feature] = data
}

// State returns the current payload of the feature.
func (a *FakeAppliance) State(feature string) params.FeatureData {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state[feature]
}

// Calls returns the requests received so far.
func (a *FakeAppliance) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Call(nil), a.calls...)
}

// CallsFor returns the requests received so far that concern the feature.
func (a *FakeAppliance) CallsFor(feature string) []Call {
	var calls []Call
	for _, call := range a.Calls() {
		for _, f := range call.Features {
			if f == feature {
				calls = append(calls, call)
				break
			}
		}
	}
	return calls
}

// ResetCalls forgets the requests received so far.
func (a *FakeAppliance) ResetCalls() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = nil
}

// FailSave makes saving the features report FAILED.
func (a *FakeAppliance) FailSave(features ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failSave = a.failSave.Union(set.NewStrings(features...))
}

// OmitOnSave makes the owning agent leave the features out of its save
// replies.
func (a *FakeAppliance) OmitOnSave(features ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.omit = a.omit.Union(set.NewStrings(features...))
}

// FailReset makes resetting the features report FAILED.
func (a *FakeAppliance) FailReset(features ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failReset = a.failReset.Union(set.NewStrings(features...))
}

// FailRestore makes every restore of the feature report FAILED.
func (a *FakeAppliance) FailRestore(feature string) {
	a.FailRestoreIf(feature, func(params.FeatureData) bool { return true })
}

// FailRestoreIf makes restores of the feature report FAILED when fail
// returns true for the payload being restored.
func (a *FakeAppliance) FailRestoreIf(feature string, fail func(params.FeatureData) bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failRestore[feature] = fail
}

// Unreachable makes requests to the queue time out without reaching the
// agent.
func (a *FakeAppliance) Unreachable(queue string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unreachable.Add(queue)
}

// Request implements dispatcher.Transport.
func (a *FakeAppliance) Request(ctx context.Context, queue string, msg dispatcher.Message, timeout time.Duration) (dispatcher.Message, error) {
	a.mu.Lock()
	unreachable := a.unreachable.Contains(queue)
	a.mu.Unlock()
	if unreachable {
		return dispatcher.Message{}, errors.Timeoutf("waiting %s for reply from %q", timeout, queue)
	}
	msg.To = queue
	reply := msg.Reply(queue)
	data, err := a.Handle(ctx, msg)
	if err != nil {
		reply.Error = err.Error()
	} else {
		reply.Data = data
	}
	return reply, nil
}

// Serve subscribes the appliance to every agent queue of the catalog on
// the hub. The returned function stops serving.
func (a *FakeAppliance) Serve(hub *pubsub.StructuredHub, cat *catalog.Catalog, logger dispatcher.Logger) (func(), error) {
	agents := make(map[string]string)
	for _, f := range cat.Features() {
		agents[f.Destination.Queue] = f.Destination.Agent
	}
	var stops []func()
	stopAll := func() {
		for _, stop := range stops {
			stop()
		}
	}
	for queue, agent := range agents {
		stop, err := dispatcher.Serve(hub, queue, agent, a.Handle, logger)
		if err != nil {
			stopAll()
			return nil, errors.Trace(err)
		}
		stops = append(stops, stop)
	}
	return stopAll, nil
}

// Handle implements dispatcher.Handler for the agent listening on msg.To.
func (a *FakeAppliance) Handle(_ context.Context, msg dispatcher.Message) ([]string, error) {
	if len(msg.Data) == 0 {
		return nil, errors.New("missing request frame")
	}
	var (
		result any
		err    error
	)
	switch msg.Subject {
	case dispatcher.SubjectSave:
		var query params.SaveQuery
		if err = json.Unmarshal([]byte(msg.Data[0]), &query); err == nil {
			result = a.save(msg.To, query)
		}
	case dispatcher.SubjectRestore:
		var query params.RestoreQuery
		if err = json.Unmarshal([]byte(msg.Data[0]), &query); err == nil {
			result = a.restore(msg.To, query)
		}
	case dispatcher.SubjectReset:
		var query params.ResetQuery
		if err = json.Unmarshal([]byte(msg.Data[0]), &query); err == nil {
			result = a.reset(msg.To, query)
		}
	default:
		return nil, errors.NotSupportedf("subject %q", msg.Subject)
	}
	if err != nil {
		return nil, errors.Annotate(err, "decoding request")
	}
	body, err := json.Marshal(result)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return []string{string(body)}, nil
}

func (a *FakeAppliance) save(queue string, query params.SaveQuery) params.SaveResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, Call{Queue: queue, Subject: dispatcher.SubjectSave, Features: query.Features})

	result := params.SaveResult{Features: make(map[string]params.FeatureResult)}
	for _, f := range query.Features {
		if a.omit.Contains(f) {
			continue
		}
		data, ok := a.state[f]
		switch {
		case !ok:
			result.Features[f] = failedResult(fmt.Sprintf("feature %s is not handled", f))
		case a.failSave.Contains(f):
			result.Features[f] = failedResult(fmt.Sprintf("could not save %s", f))
		default:
			result.Features[f] = params.FeatureResult{
				Feature: data,
				Status:  params.FeatureStatus{Status: srr.Success.String()},
			}
		}
	}
	return result
}

func (a *FakeAppliance) restore(queue string, query params.RestoreQuery) params.RestoreResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	names := make([]string, 0, len(query.Features))
	for f := range query.Features {
		names = append(names, f)
	}
	sort.Strings(names)
	a.calls = append(a.calls, Call{Queue: queue, Subject: dispatcher.SubjectRestore, Features: names})

	result := params.RestoreResult{Statuses: make(map[string]params.FeatureStatus)}
	for _, f := range names {
		data := query.Features[f]
		if _, ok := a.state[f]; !ok {
			result.Statuses[f] = params.FeatureStatus{Status: srr.Failed.String(), Error: fmt.Sprintf("feature %s is not handled", f)}
			continue
		}
		if fail, ok := a.failRestore[f]; ok && fail(data) {
			result.Statuses[f] = params.FeatureStatus{Status: srr.Failed.String(), Error: fmt.Sprintf("could not restore %s", f)}
			continue
		}
		a.state[f] = data
		result.Statuses[f] = params.FeatureStatus{Status: srr.Success.String()}
	}
	return result
}

func (a *FakeAppliance) reset(queue string, query params.ResetQuery) params.ResetResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, Call{Queue: queue, Subject: dispatcher.SubjectReset, Features: query.Features})

	result := params.ResetResult{Statuses: make(map[string]params.FeatureStatus)}
	for _, f := range query.Features {
		if a.failReset.Contains(f) {
			result.Statuses[f] = params.FeatureStatus{Status: srr.Failed.String(), Error: fmt.Sprintf("could not reset %s", f)}
			continue
		}
		a.state[f] = params.FeatureData{Version: a.state[f].Version, Data: FactoryData}
		result.Statuses[f] = params.FeatureStatus{Status: srr.Success.String()}
	}
	return result
}

func failedResult(msg string) params.FeatureResult {
	return params.FeatureResult{
		Status: params.FeatureStatus{Status: srr.Failed.String(), Error: msg},
	}
}
