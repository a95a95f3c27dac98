// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package orchestrator_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/mock/gomock"
	gc "gopkg.in/check.v1"

	"github.com/juju/srr/catalog"
	"github.com/juju/srr/core/srr"
	srrerrors "github.com/juju/srr/core/srr/errors"
	"github.com/juju/srr/dispatcher"
	"github.com/juju/srr/orchestrator"
	"github.com/juju/srr/passphrase"
	"github.com/juju/srr/rpc/params"
	"github.com/juju/srr/testing"
)

const pass = "correct horse battery"

// testDefinition describes two groups:
//
//	A: f1 (agent a, reset), f2 (agent b), f3 (agent a, reset, restart)
//	B: g1 (agent b)
func testDefinition() catalog.Definition {
	return catalog.Definition{
		Agents: map[string]string{
			"agent-a": "Q.A",
			"agent-b": "Q.B",
		},
		Features: []catalog.FeatureDefinition{
			{ID: "f1", Description: "first", Agent: "agent-a", Reset: true},
			{ID: "f2", Description: "second", Agent: "agent-b"},
			{ID: "f3", Description: "third", Agent: "agent-a", Reset: true, Restart: true},
			{ID: "g1", Description: "only", Agent: "agent-b"},
		},
		Groups: []catalog.GroupDefinition{{
			ID:          "A",
			Name:        "Group A",
			Description: "srr_A",
			Features: []catalog.FeaturePriority{
				{Feature: "f3", Priority: 3},
				{Feature: "f1", Priority: 1},
				{Feature: "f2", Priority: 2},
			},
		}, {
			ID:          "B",
			Name:        "Group B",
			Description: "srr_B",
			Features:    []catalog.FeaturePriority{{Feature: "g1", Priority: 1}},
		}},
	}
}

type fakeRestarter struct {
	mu    sync.Mutex
	count int
}

func (r *fakeRestarter) ScheduleRestart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
}

func (r *fakeRestarter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

type orchestratorSuite struct {
	catalog   *catalog.Catalog
	appliance *testing.FakeAppliance
	restarter *fakeRestarter
	logger    *testing.RecordingLogger
	metrics   *orchestrator.Collector
}

var _ = gc.Suite(&orchestratorSuite{})

func (s *orchestratorSuite) SetUpTest(c *gc.C) {
	var err error
	s.catalog, err = catalog.BuildCatalog(testDefinition())
	c.Assert(err, jc.ErrorIsNil)
	s.appliance = testing.NewFakeAppliance(s.catalog)
	s.restarter = &fakeRestarter{}
	s.logger = &testing.RecordingLogger{Log: c}
}

func (s *orchestratorSuite) config(c *gc.C, agents orchestrator.AgentCaller) orchestrator.Config {
	s.metrics = orchestrator.NewMetricsCollector()
	return orchestrator.Config{
		Catalog:                 s.catalog,
		Agents:                  agents,
		Passphrase:              passphrase.DefaultFormat,
		Restarter:               s.restarter,
		Metrics:                 s.metrics,
		Logger:                  s.logger,
		Version:                 srr.Version2,
		SupportedVersions:       set.NewStrings(srr.Version1, srr.Version2, srr.Version21),
		MaxConcurrentDispatches: 4,
	}
}

func (s *orchestratorSuite) newOrchestrator(c *gc.C) *orchestrator.Orchestrator {
	d, err := dispatcher.New(dispatcher.Config{
		Transport: s.appliance,
		Origin:    "fty-srr",
		Timeout:   time.Minute,
		Clock:     clock.WallClock,
		Metrics:   dispatcher.NewMetricsCollector(),
		Logger:    s.logger,
	})
	c.Assert(err, jc.ErrorIsNil)
	o, err := orchestrator.New(s.config(c, d))
	c.Assert(err, jc.ErrorIsNil)
	return o
}

func (s *orchestratorSuite) save(c *gc.C, o *orchestrator.Orchestrator, groups ...string) params.SaveResponse {
	resp := o.Save(context.Background(), params.SaveRequest{Passphrase: pass, GroupList: groups})
	c.Assert(resp.Status, gc.Equals, "SUCCESS", gc.Commentf("save error: %s", resp.Error))
	s.appliance.ResetCalls()
	return resp
}

func restoreRequest(c *gc.C, resp params.SaveResponse) params.RestoreRequest {
	data, err := json.Marshal(resp.Data)
	c.Assert(err, jc.ErrorIsNil)
	return params.RestoreRequest{
		Version:    resp.Version,
		Passphrase: pass,
		Checksum:   resp.Checksum,
		Data:       data,
	}
}

func (s *orchestratorSuite) subjectCalls(subject string) []string {
	var features []string
	for _, call := range s.appliance.Calls() {
		if call.Subject == subject {
			features = append(features, call.Features...)
		}
	}
	return features
}

func generation(feature string, n int) params.FeatureData {
	b, _ := json.Marshal(map[string]any{"feature": feature, "generation": n})
	return params.FeatureData{Version: "1.0", Data: string(b)}
}

func (s *orchestratorSuite) TestValidate(c *gc.C) {
	valid := s.config(c, NewMockAgentCaller(nil))
	c.Check(valid.Validate(), jc.ErrorIsNil)

	tests := []struct {
		mutate func(*orchestrator.Config)
		err    string
	}{
		{func(cfg *orchestrator.Config) { cfg.Catalog = nil }, "nil Catalog not valid"},
		{func(cfg *orchestrator.Config) { cfg.Agents = nil }, "nil Agents not valid"},
		{func(cfg *orchestrator.Config) { cfg.Passphrase = nil }, "nil Passphrase not valid"},
		{func(cfg *orchestrator.Config) { cfg.Restarter = nil }, "nil Restarter not valid"},
		{func(cfg *orchestrator.Config) { cfg.Metrics = nil }, "nil Metrics not valid"},
		{func(cfg *orchestrator.Config) { cfg.Logger = nil }, "nil Logger not valid"},
		{func(cfg *orchestrator.Config) { cfg.Version = "3.0" }, `unsupported Version "3.0" not valid`},
		{func(cfg *orchestrator.Config) { cfg.SupportedVersions = set.NewStrings("2.0", "0.9") }, `supported version "0.9" not valid`},
		{func(cfg *orchestrator.Config) { cfg.MaxConcurrentDispatches = 0 }, "non-positive MaxConcurrentDispatches not valid"},
	}
	for i, test := range tests {
		c.Logf("test %d", i)
		cfg := valid
		test.mutate(&cfg)
		err := cfg.Validate()
		c.Check(err, jc.ErrorIs, errors.NotValid)
		c.Check(err, gc.ErrorMatches, test.err)
	}
}

func (s *orchestratorSuite) TestList(c *gc.C) {
	resp := s.newOrchestrator(c).List(context.Background())
	c.Check(resp, jc.DeepEquals, params.ListResponse{
		Version:               "2.0",
		PassphraseDescription: "Passphrase must have 8 to 32 characters",
		PassphraseValidation:  "^.{8,32}$",
		Groups: []params.GroupInfo{{
			GroupID:     "A",
			GroupName:   "Group A",
			Description: "srr_A",
			Features: []params.FeatureInfo{
				{Name: "f1", Description: "first"},
				{Name: "f2", Description: "second"},
				{Name: "f3", Description: "third"},
			},
		}, {
			GroupID:     "B",
			GroupName:   "Group B",
			Description: "srr_B",
			Features:    []params.FeatureInfo{{Name: "g1", Description: "only"}},
		}},
	})
}

func (s *orchestratorSuite) TestSave(c *gc.C) {
	resp := s.newOrchestrator(c).Save(context.Background(), params.SaveRequest{
		Passphrase: pass,
		GroupList:  []string{"B", "A"},
	})
	c.Assert(resp.Status, gc.Equals, "SUCCESS")
	c.Check(resp.Error, gc.Equals, "")
	c.Check(resp.Version, gc.Equals, "2.0")
	c.Check(passphrase.DefaultFormat.VerifyChecksum(pass, resp.Checksum), jc.ErrorIsNil)

	c.Assert(resp.Data, gc.HasLen, 2)
	c.Check(resp.Data[0].GroupID, gc.Equals, "B")
	c.Check(resp.Data[1].GroupID, gc.Equals, "A")
	c.Check(resp.Data[1].GroupName, gc.Equals, "Group A")

	var names []string
	for _, f := range resp.Data[1].Features {
		names = append(names, f.Name)
		c.Check(f.Status, gc.Equals, "SUCCESS")
		c.Check(f.Data, gc.Equals, s.appliance.State(f.Name).Data)
	}
	c.Check(names, jc.DeepEquals, []string{"f1", "f2", "f3"})
	c.Check(resp.Data[1].DataIntegrity, gc.Not(gc.Equals), "")
}

func (s *orchestratorSuite) TestSaveGroupsOneRequestPerAgent(c *gc.C) {
	status, bundles, err := s.newOrchestrator(c).SaveGroups(context.Background(), []string{"A", "B"}, pass)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(status, gc.Equals, srr.Success)
	c.Check(bundles, gc.HasLen, 2)

	calls := s.appliance.Calls()
	c.Assert(calls, gc.HasLen, 2)
	byQueue := make(map[string][]string)
	for _, call := range calls {
		c.Check(call.Subject, gc.Equals, dispatcher.SubjectSave)
		byQueue[call.Queue] = call.Features
	}
	c.Check(byQueue, jc.DeepEquals, map[string][]string{
		"Q.A": {"f1", "f3"},
		"Q.B": {"f2", "g1"},
	})
}

func (s *orchestratorSuite) TestSaveGroupsSkipsUnknownAndDuplicateGroups(c *gc.C) {
	status, bundles, err := s.newOrchestrator(c).SaveGroups(context.Background(), []string{"X", "B", "B"}, pass)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(status, gc.Equals, srr.Success)
	c.Assert(bundles, gc.HasLen, 1)
	c.Check(bundles[0].GroupID, gc.Equals, "B")
	c.Check(s.logger.Contains(`skipping group "X"`), jc.IsTrue)
	c.Check(s.appliance.Calls(), gc.HasLen, 1)
}

func (s *orchestratorSuite) TestSaveGroupsNothingToSave(c *gc.C) {
	status, bundles, err := s.newOrchestrator(c).SaveGroups(context.Background(), nil, pass)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(status, gc.Equals, srr.Success)
	c.Check(bundles, gc.HasLen, 0)
	c.Check(s.appliance.Calls(), gc.HasLen, 0)
}

func (s *orchestratorSuite) TestSaveInvalidPassphrase(c *gc.C) {
	resp := s.newOrchestrator(c).Save(context.Background(), params.SaveRequest{
		Passphrase: "short",
		GroupList:  []string{"A"},
	})
	c.Check(resp.Status, gc.Equals, "FAILED")
	c.Check(resp.Error, gc.Equals, "Passphrase must have 8 to 32 characters: invalid passphrase")
	c.Check(resp.Checksum, gc.Equals, "")
	c.Check(resp.Data, gc.HasLen, 0)
	c.Check(s.appliance.Calls(), gc.HasLen, 0)
}

func (s *orchestratorSuite) TestSaveAgentUnreachable(c *gc.C) {
	s.appliance.Unreachable("Q.B")

	resp := s.newOrchestrator(c).Save(context.Background(), params.SaveRequest{
		Passphrase: pass,
		GroupList:  []string{"A", "B"},
	})
	c.Check(resp.Status, gc.Equals, "PARTIAL_SUCCESS")
	c.Check(resp.Error, gc.Equals, "2 features could not be saved")

	statuses := make(map[string]params.FeatureEntry)
	for _, g := range resp.Data {
		for _, f := range g.Features {
			statuses[f.Name] = f
		}
	}
	c.Check(statuses["f1"].Status, gc.Equals, "SUCCESS")
	c.Check(statuses["f3"].Status, gc.Equals, "SUCCESS")
	c.Check(statuses["f2"].Status, gc.Equals, "FAILED")
	c.Check(statuses["f2"].Error, gc.Matches, `save request to agent "agent-b" on queue "Q.B": .*: dispatch failure`)
	c.Check(statuses["g1"].Status, gc.Equals, "FAILED")
}

func (s *orchestratorSuite) TestSaveFeatureNotReturned(c *gc.C) {
	s.appliance.OmitOnSave("f3")

	status, bundles, err := s.newOrchestrator(c).SaveGroups(context.Background(), []string{"A"}, pass)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(status, gc.Equals, srr.PartialSuccess)
	c.Assert(bundles, gc.HasLen, 1)
	f3 := bundles[0].Features[2]
	c.Check(f3.Name, gc.Equals, "f3")
	c.Check(f3.Status.Status, gc.Equals, srr.Failed)
	c.Check(f3.Status.Error, gc.Equals, `agent "agent-a" did not save feature "f3"`)
}

func (s *orchestratorSuite) TestSaveAllFailedIsPartialSuccess(c *gc.C) {
	s.appliance.FailSave("g1")

	status, _, err := s.newOrchestrator(c).SaveGroups(context.Background(), []string{"B"}, pass)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(status, gc.Equals, srr.PartialSuccess)
}

func (s *orchestratorSuite) TestRestoreRoundTrip(c *gc.C) {
	o := s.newOrchestrator(c)
	saved := s.save(c, o, "A", "B")

	resp := o.Restore(context.Background(), restoreRequest(c, saved), false)
	c.Check(resp.Status, gc.Equals, "SUCCESS")
	c.Check(resp.Error, gc.Equals, "")
	c.Check(resp.StatusList, jc.DeepEquals, []params.RestoreStatus{
		{Name: "A", Status: "SUCCESS"},
		{Name: "B", Status: "SUCCESS"},
	})

	// Features are reset in reverse priority order, and restored in
	// priority order.
	c.Check(s.subjectCalls(dispatcher.SubjectReset), jc.DeepEquals, []string{"f3", "f1"})
	c.Check(s.subjectCalls(dispatcher.SubjectRestore), jc.DeepEquals, []string{"f1", "f2", "f3", "g1"})

	// f3 requires a restart.
	c.Check(s.restarter.Count(), gc.Equals, 1)
}

func (s *orchestratorSuite) TestRestoreVersion21(c *gc.C) {
	o := s.newOrchestrator(c)
	saved := s.save(c, o, "B")

	req := restoreRequest(c, saved)
	req.Version = srr.Version21
	resp := o.Restore(context.Background(), req, false)
	c.Check(resp.Status, gc.Equals, "SUCCESS")
	c.Check(s.restarter.Count(), gc.Equals, 0)
}

func (s *orchestratorSuite) TestRestoreWritesSavedState(c *gc.C) {
	o := s.newOrchestrator(c)
	saved := s.save(c, o, "A")

	for _, f := range []string{"f1", "f2", "f3"} {
		s.appliance.Set(f, generation(f, 7))
	}
	resp := o.Restore(context.Background(), restoreRequest(c, saved), false)
	c.Assert(resp.Status, gc.Equals, "SUCCESS")
	for _, f := range []string{"f1", "f2", "f3"} {
		c.Check(s.appliance.State(f), jc.DeepEquals, generation(f, 0))
	}
}

func (s *orchestratorSuite) TestRestoreTamperedGroup(c *gc.C) {
	o := s.newOrchestrator(c)
	saved := s.save(c, o, "A", "B")
	saved.Data[0].Features[0].Data = `{"feature":"f1","generation":666}`

	resp := o.Restore(context.Background(), restoreRequest(c, saved), false)
	c.Check(resp.Status, gc.Equals, "UNKNOWN")
	c.Check(resp.Error, gc.Equals, "groups A: data integrity check failed")
	c.Check(resp.StatusList, gc.HasLen, 0)
	c.Check(s.appliance.Calls(), gc.HasLen, 0)

	resp = o.Restore(context.Background(), restoreRequest(c, saved), true)
	c.Check(resp.Status, gc.Equals, "SUCCESS")
	c.Check(s.appliance.State("f1").Data, gc.Equals, `{"feature":"f1","generation":666}`)
}

func (s *orchestratorSuite) TestRestoreOrderIndependentOfPayloadOrder(c *gc.C) {
	o := s.newOrchestrator(c)
	saved := s.save(c, o, "A")
	features := saved.Data[0].Features
	features[0], features[2] = features[2], features[0]

	resp := o.Restore(context.Background(), restoreRequest(c, saved), false)
	c.Check(resp.Status, gc.Equals, "SUCCESS")
	c.Check(s.subjectCalls(dispatcher.SubjectRestore), jc.DeepEquals, []string{"f1", "f2", "f3"})
}

func (s *orchestratorSuite) TestRestoreDuplicateGroupRestoredOnce(c *gc.C) {
	o := s.newOrchestrator(c)
	saved := s.save(c, o, "B")
	saved.Data = append(saved.Data, saved.Data[0])

	resp := o.Restore(context.Background(), restoreRequest(c, saved), false)
	c.Check(resp.Status, gc.Equals, "SUCCESS")
	c.Check(resp.StatusList, jc.DeepEquals, []params.RestoreStatus{
		{Name: "B", Status: "SUCCESS"},
	})
	c.Check(s.subjectCalls(dispatcher.SubjectSave), jc.DeepEquals, []string{"g1"})
	c.Check(s.subjectCalls(dispatcher.SubjectRestore), jc.DeepEquals, []string{"g1"})
	c.Check(s.logger.Contains(`ignoring duplicate group "B"`), jc.IsTrue)
}

func (s *orchestratorSuite) TestRestorePartialFailureRollsBack(c *gc.C) {
	o := s.newOrchestrator(c)
	saved := s.save(c, o, "A", "B")

	// The appliance moved on since the save.
	for _, f := range []string{"f1", "f2", "f3", "g1"} {
		s.appliance.Set(f, generation(f, 1))
	}
	savedF2 := generation("f2", 0)
	s.appliance.FailRestoreIf("f2", func(data params.FeatureData) bool {
		return data == savedF2
	})

	resp := o.Restore(context.Background(), restoreRequest(c, saved), false)
	c.Check(resp.Status, gc.Equals, "PARTIAL_SUCCESS")
	c.Assert(resp.StatusList, gc.HasLen, 2)
	c.Check(resp.StatusList[0].Name, gc.Equals, "A")
	c.Check(resp.StatusList[0].Status, gc.Equals, "FAILED")
	c.Check(resp.StatusList[0].Error, gc.Equals, `feature "f2": could not restore f2: restore failed`)
	c.Check(resp.StatusList[1], jc.DeepEquals, params.RestoreStatus{Name: "B", Status: "SUCCESS"})

	// Every feature of A is back to its pre-restore state; B was restored.
	for _, f := range []string{"f1", "f2", "f3"} {
		c.Check(s.appliance.State(f), jc.DeepEquals, generation(f, 1), gc.Commentf("feature %s", f))
	}
	c.Check(s.appliance.State("g1"), jc.DeepEquals, generation("g1", 0))

	c.Check(s.subjectCalls(dispatcher.SubjectRestore), jc.DeepEquals, []string{
		"f1", "f2", // forward, f2 fails
		"f1", "f2", "f3", // rollback
		"g1",
	})
	c.Check(s.subjectCalls(dispatcher.SubjectReset), jc.DeepEquals, []string{"f3", "f1", "f3", "f1"})

	// f3 was restored by the rollback.
	c.Check(s.restarter.Count(), gc.Equals, 1)
}

func (s *orchestratorSuite) TestRestoreFailureBeforeRestartFeature(c *gc.C) {
	o := s.newOrchestrator(c)
	saved := s.save(c, o, "A")
	s.appliance.FailRestore("f1")

	resp := o.Restore(context.Background(), restoreRequest(c, saved), false)
	c.Check(resp.Status, gc.Equals, "PARTIAL_SUCCESS")
	c.Check(resp.StatusList[0].Status, gc.Equals, "FAILED")

	// f1 cannot be rolled back either, the rest of the group is.
	c.Check(s.logger.Contains(`feature "f1" is unrecoverable, it may be in an undefined state`), jc.IsTrue)
	c.Check(s.subjectCalls(dispatcher.SubjectRestore), jc.DeepEquals, []string{"f1", "f1", "f2", "f3"})
	c.Check(s.restarter.Count(), gc.Equals, 1)
}

func (s *orchestratorSuite) TestRestoreMissingFeature(c *gc.C) {
	o := s.newOrchestrator(c)
	saved := s.save(c, o, "A", "B")
	saved.Data[0].Features = append(saved.Data[0].Features[:1], saved.Data[0].Features[2:]...)

	// The digest no longer matches, force past it.
	resp := o.Restore(context.Background(), restoreRequest(c, saved), true)
	c.Check(resp.Status, gc.Equals, "PARTIAL_SUCCESS")
	c.Check(resp.StatusList[0], jc.DeepEquals, params.RestoreStatus{
		Name:   "A",
		Status: "FAILED",
		Error:  `group "A" is missing features f2: missing feature`,
	})
	c.Check(resp.StatusList[1].Status, gc.Equals, "SUCCESS")

	for _, f := range []string{"f1", "f2", "f3"} {
		c.Check(s.appliance.CallsFor(f), gc.HasLen, 0)
	}
}

func (s *orchestratorSuite) TestRestoreUnknownGroup(c *gc.C) {
	o := s.newOrchestrator(c)
	saved := s.save(c, o, "B")
	saved.Data = append(saved.Data, params.Group{GroupID: "Z", GroupName: "Z"})

	resp := o.Restore(context.Background(), restoreRequest(c, saved), true)
	c.Check(resp.Status, gc.Equals, "PARTIAL_SUCCESS")
	c.Check(resp.StatusList[1], jc.DeepEquals, params.RestoreStatus{
		Name:   "Z",
		Status: "FAILED",
		Error:  `group "Z" is not supported: unknown group`,
	})
}

func (s *orchestratorSuite) TestRestoreExtraFeatureIgnored(c *gc.C) {
	o := s.newOrchestrator(c)
	saved := s.save(c, o, "B")
	saved.Data[0].Features = append(saved.Data[0].Features, params.FeatureEntry{
		Name: "f1", Version: "1.0", Status: "SUCCESS", Data: "{}",
	})

	resp := o.Restore(context.Background(), restoreRequest(c, saved), true)
	c.Check(resp.Status, gc.Equals, "SUCCESS")
	c.Check(s.appliance.CallsFor("f1"), gc.HasLen, 0)
	c.Check(s.logger.Contains(`ignoring feature "f1" which is not part of group "B"`), jc.IsTrue)
}

func (s *orchestratorSuite) TestRestoreSnapshotFailure(c *gc.C) {
	o := s.newOrchestrator(c)
	saved := s.save(c, o, "A")
	s.appliance.Set("f1", generation("f1", 1))
	s.appliance.FailSave("f2")

	resp := o.Restore(context.Background(), restoreRequest(c, saved), false)
	c.Check(resp.Status, gc.Equals, "PARTIAL_SUCCESS")
	c.Check(resp.StatusList[0].Status, gc.Equals, "FAILED")
	c.Check(resp.StatusList[0].Error, gc.Matches, `could not back up "A", it will not be restored: feature "f2": .*snapshot failed`)

	c.Check(s.subjectCalls(dispatcher.SubjectRestore), gc.HasLen, 0)
	c.Check(s.subjectCalls(dispatcher.SubjectReset), gc.HasLen, 0)
	c.Check(s.appliance.State("f1"), jc.DeepEquals, generation("f1", 1))
}

func (s *orchestratorSuite) TestRestoreResetFailureIsBestEffort(c *gc.C) {
	o := s.newOrchestrator(c)
	saved := s.save(c, o, "A")
	s.appliance.FailReset("f1")

	resp := o.Restore(context.Background(), restoreRequest(c, saved), false)
	c.Check(resp.Status, gc.Equals, "SUCCESS")
	c.Check(s.logger.Contains(`reset of feature "f1" failed, restoring anyway`), jc.IsTrue)
}

func (s *orchestratorSuite) TestRestoreBadChecksum(c *gc.C) {
	o := s.newOrchestrator(c)
	saved := s.save(c, o, "A")
	req := restoreRequest(c, saved)
	req.Passphrase = "another passphrase"

	resp := o.Restore(context.Background(), req, true)
	c.Check(resp.Status, gc.Equals, "FAILED")
	c.Check(resp.Error, gc.Equals, "passphrase does not match checksum: invalid passphrase")
	c.Check(s.appliance.Calls(), gc.HasLen, 0)
}

func (s *orchestratorSuite) TestRestoreUnsupportedVersion(c *gc.C) {
	o := s.newOrchestrator(c)
	saved := s.save(c, o, "A")
	req := restoreRequest(c, saved)
	req.Version = "3.0"

	resp := o.Restore(context.Background(), req, false)
	c.Check(resp.Status, gc.Equals, "FAILED")
	c.Check(resp.Error, gc.Equals, `version "3.0": unsupported version`)
	c.Check(s.appliance.Calls(), gc.HasLen, 0)
}

func (s *orchestratorSuite) TestRestoreMalformedData(c *gc.C) {
	o := s.newOrchestrator(c)
	saved := s.save(c, o, "A")
	req := restoreRequest(c, saved)
	req.Data = json.RawMessage(`{"not": "a list"}`)

	resp := o.Restore(context.Background(), req, false)
	c.Check(resp.Status, gc.Equals, "FAILED")
	c.Check(resp.Error, gc.Matches, "decoding restore data: .*")
}

func (s *orchestratorSuite) TestRestoreFlatPayload(c *gc.C) {
	o := s.newOrchestrator(c)
	saved := s.save(c, o, "A", "B")

	// A 1.0 payload is a flat list of features, in any order.
	var entries []params.FeatureEntry
	for i := len(saved.Data) - 1; i >= 0; i-- {
		for j := len(saved.Data[i].Features) - 1; j >= 0; j-- {
			entries = append(entries, saved.Data[i].Features[j])
		}
	}
	data, err := json.Marshal(entries)
	c.Assert(err, jc.ErrorIsNil)

	for _, f := range []string{"f1", "f2", "f3", "g1"} {
		s.appliance.Set(f, generation(f, 1))
	}
	s.appliance.FailRestoreIf("f3", func(data params.FeatureData) bool {
		return data == generation("f3", 0)
	})

	resp := o.Restore(context.Background(), params.RestoreRequest{
		Version:    srr.Version1,
		Passphrase: pass,
		Checksum:   saved.Checksum,
		Data:       data,
	}, false)
	c.Check(resp.Status, gc.Equals, "PARTIAL_SUCCESS")
	c.Check(resp.StatusList, jc.DeepEquals, []params.RestoreStatus{
		{Name: "f1", Status: "SUCCESS"},
		{Name: "f2", Status: "SUCCESS"},
		{Name: "f3", Status: "FAILED", Error: `feature "f3": could not restore f3: restore failed`},
		{Name: "g1", Status: "SUCCESS"},
	})

	// Only the failed feature is rolled back.
	c.Check(s.appliance.State("f1"), jc.DeepEquals, generation("f1", 0))
	c.Check(s.appliance.State("f3"), jc.DeepEquals, generation("f3", 1))
	c.Check(s.subjectCalls(dispatcher.SubjectRestore), jc.DeepEquals, []string{"f1", "f2", "f3", "f3", "g1"})
}

func (s *orchestratorSuite) TestRestoreFlatUnknownFeature(c *gc.C) {
	o := s.newOrchestrator(c)
	saved := s.save(c, o, "B")
	data, err := json.Marshal([]params.FeatureEntry{
		{Name: "nope", Version: "1.0", Status: "SUCCESS", Data: "{}"},
		saved.Data[0].Features[0],
	})
	c.Assert(err, jc.ErrorIsNil)

	resp := o.Restore(context.Background(), params.RestoreRequest{
		Version:    srr.Version1,
		Passphrase: pass,
		Checksum:   saved.Checksum,
		Data:       data,
	}, false)
	c.Check(resp.Status, gc.Equals, "PARTIAL_SUCCESS")
	c.Check(resp.StatusList, jc.DeepEquals, []params.RestoreStatus{
		{Name: "g1", Status: "SUCCESS"},
		{Name: "nope", Status: "FAILED", Error: `feature "nope": unknown feature`},
	})
}

func (s *orchestratorSuite) TestReset(c *gc.C) {
	_, err := s.newOrchestrator(c).Reset(context.Background(), params.ResetRequest{GroupList: []string{"A"}})
	c.Check(err, jc.ErrorIs, srrerrors.NotImplemented)
	c.Check(err, gc.ErrorMatches, "reset: not implemented")
	c.Check(s.appliance.Calls(), gc.HasLen, 0)
}

func (s *orchestratorSuite) TestMetrics(c *gc.C) {
	o := s.newOrchestrator(c)
	saved := s.save(c, o, "A", "B")
	saved.Data[1].Features[0].Data = "{}"

	resp := o.Restore(context.Background(), restoreRequest(c, saved), false)
	c.Assert(resp.Status, gc.Equals, "UNKNOWN")
	s.appliance.FailRestore("g1")
	resp = o.Restore(context.Background(), restoreRequest(c, saved), true)
	c.Assert(resp.Status, gc.Equals, "PARTIAL_SUCCESS")

	c.Check(testutil.ToFloat64(orchestrator.OperationsCounter(s.metrics, "save", "SUCCESS")), gc.Equals, float64(1))
	c.Check(testutil.ToFloat64(orchestrator.OperationsCounter(s.metrics, "restore", "UNKNOWN")), gc.Equals, float64(1))
	c.Check(testutil.ToFloat64(orchestrator.OperationsCounter(s.metrics, "restore", "PARTIAL_SUCCESS")), gc.Equals, float64(1))
	c.Check(testutil.ToFloat64(orchestrator.IntegrityFailuresCounter(s.metrics, "B")), gc.Equals, float64(1))
	c.Check(testutil.ToFloat64(orchestrator.RollbacksCounter(s.metrics, "B")), gc.Equals, float64(1))
}

type rollbackSuite struct {
	catalog *catalog.Catalog
	logger  *testing.RecordingLogger

	agents    *MockAgentCaller
	restarter *MockRestarter
}

var _ = gc.Suite(&rollbackSuite{})

func (s *rollbackSuite) SetUpTest(c *gc.C) {
	var err error
	s.catalog, err = catalog.BuildCatalog(testDefinition())
	c.Assert(err, jc.ErrorIsNil)
	s.logger = &testing.RecordingLogger{Log: c}
}

func (s *rollbackSuite) setupMocks(c *gc.C) *gomock.Controller {
	ctrl := gomock.NewController(c)
	s.agents = NewMockAgentCaller(ctrl)
	s.restarter = NewMockRestarter(ctrl)
	return ctrl
}

func (s *rollbackSuite) newOrchestrator(c *gc.C) *orchestrator.Orchestrator {
	o, err := orchestrator.New(orchestrator.Config{
		Catalog:                 s.catalog,
		Agents:                  s.agents,
		Passphrase:              passphrase.DefaultFormat,
		Restarter:               s.restarter,
		Metrics:                 orchestrator.NewMetricsCollector(),
		Logger:                  s.logger,
		Version:                 srr.Version2,
		SupportedVersions:       set.NewStrings(srr.Version2),
		MaxConcurrentDispatches: 1,
	})
	c.Assert(err, jc.ErrorIsNil)
	return o
}

func (s *rollbackSuite) restoreRequest(c *gc.C, group string, features ...params.FeatureEntry) params.RestoreRequest {
	checksum, err := passphrase.DefaultFormat.Checksum(pass)
	c.Assert(err, jc.ErrorIsNil)
	data, err := json.Marshal([]params.Group{{GroupID: group, GroupName: group, Features: features}})
	c.Assert(err, jc.ErrorIsNil)
	return params.RestoreRequest{
		Version:    srr.Version2,
		Passphrase: pass,
		Checksum:   checksum,
		Data:       data,
	}
}

func (s *rollbackSuite) TestDispatchFailureRollsBack(c *gc.C) {
	defer s.setupMocks(c).Finish()

	dest := catalog.Destination{Agent: "agent-b", Queue: "Q.B"}
	current := params.FeatureData{Version: "1.0", Data: `{"current":true}`}
	saved := params.FeatureData{Version: "1.0", Data: `{"saved":true}`}

	gomock.InOrder(
		s.agents.EXPECT().Save(gomock.Any(), dest, params.SaveQuery{
			Version:    srr.Version2,
			Passphrase: pass,
			Features:   []string{"g1"},
		}).Return(params.SaveResult{Features: map[string]params.FeatureResult{
			"g1": {Feature: current, Status: params.FeatureStatus{Status: "SUCCESS"}},
		}}, nil),
		s.agents.EXPECT().Restore(gomock.Any(), dest, params.RestoreQuery{
			Version:    srr.Version2,
			Passphrase: pass,
			Features:   map[string]params.FeatureData{"g1": saved},
		}).Return(params.RestoreResult{}, fmt.Errorf("restore request to agent %q: boom: %w", "agent-b", srrerrors.DispatchFailure)),
		s.agents.EXPECT().Restore(gomock.Any(), dest, params.RestoreQuery{
			Version:    srr.Version2,
			Passphrase: pass,
			Features:   map[string]params.FeatureData{"g1": current},
		}).Return(params.RestoreResult{Statuses: map[string]params.FeatureStatus{
			"g1": {Status: "SUCCESS"},
		}}, nil),
	)

	req := s.restoreRequest(c, "B", params.FeatureEntry{
		Name: "g1", Version: saved.Version, Status: "SUCCESS", Data: saved.Data,
	})
	resp := s.newOrchestrator(c).Restore(context.Background(), req, true)
	c.Check(resp.Status, gc.Equals, "PARTIAL_SUCCESS")
	c.Check(resp.StatusList, jc.DeepEquals, []params.RestoreStatus{{
		Name:   "B",
		Status: "FAILED",
		Error:  `restore request to agent "agent-b": boom: dispatch failure`,
	}})
	c.Check(s.logger.Contains(`feature "g1" rolled back`), jc.IsTrue)
}

func (s *rollbackSuite) TestRestartScheduledOnce(c *gc.C) {
	defer s.setupMocks(c).Finish()

	destA := catalog.Destination{Agent: "agent-a", Queue: "Q.A"}
	destB := catalog.Destination{Agent: "agent-b", Queue: "Q.B"}
	ok := func(name string) map[string]params.FeatureStatus {
		return map[string]params.FeatureStatus{name: {Status: "SUCCESS"}}
	}
	data := params.FeatureData{Version: "1.0", Data: "{}"}
	saveResult := func(names ...string) params.SaveResult {
		result := params.SaveResult{Features: make(map[string]params.FeatureResult)}
		for _, name := range names {
			result.Features[name] = params.FeatureResult{Feature: data, Status: params.FeatureStatus{Status: "SUCCESS"}}
		}
		return result
	}

	s.agents.EXPECT().Save(gomock.Any(), destA, gomock.Any()).Return(saveResult("f1", "f3"), nil)
	s.agents.EXPECT().Save(gomock.Any(), destB, gomock.Any()).Return(saveResult("f2"), nil)
	s.agents.EXPECT().Reset(gomock.Any(), destA, params.ResetQuery{Version: srr.Version2, Features: []string{"f3"}}).
		Return(params.ResetResult{Statuses: ok("f3")}, nil)
	s.agents.EXPECT().Reset(gomock.Any(), destA, params.ResetQuery{Version: srr.Version2, Features: []string{"f1"}}).
		Return(params.ResetResult{Statuses: ok("f1")}, nil)
	for _, name := range []string{"f1", "f3"} {
		s.agents.EXPECT().Restore(gomock.Any(), destA, params.RestoreQuery{
			Version:    srr.Version2,
			Passphrase: pass,
			Features:   map[string]params.FeatureData{name: data},
		}).Return(params.RestoreResult{Statuses: ok(name)}, nil)
	}
	s.agents.EXPECT().Restore(gomock.Any(), destB, gomock.Any()).Return(params.RestoreResult{Statuses: ok("f2")}, nil)
	s.restarter.EXPECT().ScheduleRestart().Times(1)

	var entries []params.FeatureEntry
	for _, name := range []string{"f1", "f2", "f3"} {
		entries = append(entries, params.FeatureEntry{Name: name, Version: "1.0", Status: "SUCCESS", Data: "{}"})
	}
	resp := s.newOrchestrator(c).Restore(context.Background(), s.restoreRequest(c, "A", entries...), true)
	c.Check(resp.Status, gc.Equals, "SUCCESS")
}

func (s *rollbackSuite) TestNoRestartWithoutRestartFeature(c *gc.C) {
	defer s.setupMocks(c).Finish()

	dest := catalog.Destination{Agent: "agent-b", Queue: "Q.B"}
	data := params.FeatureData{Version: "1.0", Data: "{}"}
	s.agents.EXPECT().Save(gomock.Any(), dest, gomock.Any()).Return(params.SaveResult{
		Features: map[string]params.FeatureResult{"g1": {Feature: data, Status: params.FeatureStatus{Status: "SUCCESS"}}},
	}, nil)
	s.agents.EXPECT().Restore(gomock.Any(), dest, gomock.Any()).Return(params.RestoreResult{
		Statuses: map[string]params.FeatureStatus{"g1": {Status: "SUCCESS"}},
	}, nil)

	req := s.restoreRequest(c, "B", params.FeatureEntry{Name: "g1", Version: "1.0", Status: "SUCCESS", Data: "{}"})
	resp := s.newOrchestrator(c).Restore(context.Background(), req, true)
	c.Check(resp.Status, gc.Equals, "SUCCESS")
}

func (s *rollbackSuite) TestSaveRejectsInvalidUTF8(c *gc.C) {
	defer s.setupMocks(c).Finish()

	dest := catalog.Destination{Agent: "agent-b", Queue: "Q.B"}
	s.agents.EXPECT().Save(gomock.Any(), dest, gomock.Any()).Return(params.SaveResult{
		Features: map[string]params.FeatureResult{"g1": {
			Feature: params.FeatureData{Version: "1.0", Data: "\xff\xfe binary"},
			Status:  params.FeatureStatus{Status: "SUCCESS"},
		}},
	}, nil)

	resp := s.newOrchestrator(c).Save(context.Background(), params.SaveRequest{Passphrase: pass, GroupList: []string{"B"}})
	c.Check(resp.Status, gc.Equals, "PARTIAL_SUCCESS")
	c.Check(resp.Error, gc.Equals, "1 features could not be saved")
	c.Assert(resp.Data, gc.HasLen, 1)
	c.Assert(resp.Data[0].Features, gc.HasLen, 1)
	feature := resp.Data[0].Features[0]
	c.Check(feature.Status, gc.Equals, "FAILED")
	c.Check(feature.Data, gc.Equals, "")
	c.Check(feature.Error, gc.Equals, `feature "g1" saved by "agent-b" is not valid UTF-8 text`)
}
