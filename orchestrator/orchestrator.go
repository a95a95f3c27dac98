// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package orchestrator sequences the save, restore and rollback of
// features across the agents owning them. It never touches feature state
// itself: every change is a request to the owning agent.
package orchestrator

import (
	"context"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"go.opentelemetry.io/otel"

	"github.com/juju/srr/catalog"
	"github.com/juju/srr/core/srr"
	srrerrors "github.com/juju/srr/core/srr/errors"
	"github.com/juju/srr/rpc/params"
)

var tracer = otel.Tracer("github.com/juju/srr/orchestrator")

// AgentCaller exchanges requests with the agent behind a destination.
// Every error it returns is a DispatchFailure.
type AgentCaller interface {
	// Save asks the agent to save the queried features.
	Save(ctx context.Context, dest catalog.Destination, query params.SaveQuery) (params.SaveResult, error)

	// Restore asks the agent to restore the queried features.
	Restore(ctx context.Context, dest catalog.Destination, query params.RestoreQuery) (params.RestoreResult, error)

	// Reset asks the agent to reset the queried features to factory
	// state.
	Reset(ctx context.Context, dest catalog.Destination, query params.ResetQuery) (params.ResetResult, error)
}

// PassphraseChecker validates passphrases and the checksums derived from
// them.
type PassphraseChecker interface {
	// Validate returns an InvalidPassphrase error if the passphrase does
	// not have the expected format.
	Validate(passphrase string) error

	// Description describes the expected format to users.
	Description() string

	// Pattern is a regular expression matching the expected format.
	Pattern() string

	// Checksum returns the checksum of the passphrase returned with saved
	// data.
	Checksum(passphrase string) (string, error)

	// VerifyChecksum returns an InvalidPassphrase error if the checksum
	// was not derived from the passphrase.
	VerifyChecksum(passphrase, checksum string) error
}

// Restarter schedules a restart of the appliance. ScheduleRestart must not
// block.
type Restarter interface {
	ScheduleRestart()
}

// Logger represents the logging methods called.
type Logger interface {
	Errorf(message string, args ...any)
	Warningf(message string, args ...any)
	Infof(message string, args ...any)
	Debugf(message string, args ...any)
}

// Config holds the dependencies and settings of an Orchestrator.
type Config struct {
	Catalog    *catalog.Catalog
	Agents     AgentCaller
	Passphrase PassphraseChecker
	Restarter  Restarter
	Metrics    *Collector
	Logger     Logger

	// Version is the protocol version reported by list and save.
	Version string

	// SupportedVersions are the protocol versions accepted by restore.
	SupportedVersions set.Strings

	// MaxConcurrentDispatches bounds the number of agents saved
	// concurrently.
	MaxConcurrentDispatches int
}

// Validate returns an error if the config cannot be used.
func (c Config) Validate() error {
	if c.Catalog == nil {
		return errors.NotValidf("nil Catalog")
	}
	if c.Agents == nil {
		return errors.NotValidf("nil Agents")
	}
	if c.Passphrase == nil {
		return errors.NotValidf("nil Passphrase")
	}
	if c.Restarter == nil {
		return errors.NotValidf("nil Restarter")
	}
	if c.Metrics == nil {
		return errors.NotValidf("nil Metrics")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	for _, v := range c.SupportedVersions.Values() {
		if v != srr.Version1 && !srr.IsGrouped(v) {
			return errors.NotValidf("supported version %q", v)
		}
	}
	if !c.SupportedVersions.Contains(c.Version) {
		return errors.NotValidf("unsupported Version %q", c.Version)
	}
	if c.MaxConcurrentDispatches <= 0 {
		return errors.NotValidf("non-positive MaxConcurrentDispatches")
	}
	return nil
}

// Orchestrator implements list, save, restore and reset on top of the
// catalog and the agents.
type Orchestrator struct {
	catalog    *catalog.Catalog
	agents     AgentCaller
	passphrase PassphraseChecker
	restarter  Restarter
	metrics    *Collector
	logger     Logger

	version           string
	supportedVersions set.Strings
	maxConcurrent     int
}

// New returns an Orchestrator for the config.
func New(config Config) (*Orchestrator, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Orchestrator{
		catalog:           config.Catalog,
		agents:            config.Agents,
		passphrase:        config.Passphrase,
		restarter:         config.Restarter,
		metrics:           config.Metrics,
		logger:            config.Logger,
		version:           config.Version,
		supportedVersions: config.SupportedVersions,
		maxConcurrent:     config.MaxConcurrentDispatches,
	}, nil
}

// statusForError maps an error ending a request to the status reported
// for it.
func statusForError(err error) srr.Status {
	if errors.Is(err, srrerrors.IntegrityCheckFailed) {
		return srr.Unknown
	}
	return srr.Failed
}
