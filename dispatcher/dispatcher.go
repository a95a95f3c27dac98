// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package dispatcher sends save, restore and reset requests to the agents
// owning features, one request and one reply at a time.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/juju/srr/catalog"
	srrerrors "github.com/juju/srr/core/srr/errors"
	"github.com/juju/srr/rpc/params"
)

var tracer = otel.Tracer("github.com/juju/srr/dispatcher")

// Config holds the dependencies of a Dispatcher.
type Config struct {
	Transport Transport

	// Origin is the name requests are sent from.
	Origin string

	// Timeout bounds every exchange with an agent.
	Timeout time.Duration

	Clock   clock.Clock
	Metrics *Collector
	Logger  Logger
}

// Validate returns an error if the config cannot be used.
func (c Config) Validate() error {
	if c.Transport == nil {
		return errors.NotValidf("nil Transport")
	}
	if c.Origin == "" {
		return errors.NotValidf("empty Origin")
	}
	if c.Timeout <= 0 {
		return errors.NotValidf("non-positive Timeout")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Metrics == nil {
		return errors.NotValidf("nil Metrics")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Dispatcher exchanges requests with agents. Every failure to complete an
// exchange is reported as a DispatchFailure naming the agent and queue.
type Dispatcher struct {
	config Config
}

// New returns a Dispatcher for the config.
func New(config Config) (*Dispatcher, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Dispatcher{config: config}, nil
}

// Save asks the agent to save the queried features.
func (d *Dispatcher) Save(ctx context.Context, dest catalog.Destination, query params.SaveQuery) (params.SaveResult, error) {
	var result params.SaveResult
	if err := d.call(ctx, dest, SubjectSave, query, &result); err != nil {
		return params.SaveResult{}, err
	}
	return result, nil
}

// Restore asks the agent to restore the queried features.
func (d *Dispatcher) Restore(ctx context.Context, dest catalog.Destination, query params.RestoreQuery) (params.RestoreResult, error) {
	var result params.RestoreResult
	if err := d.call(ctx, dest, SubjectRestore, query, &result); err != nil {
		return params.RestoreResult{}, err
	}
	return result, nil
}

// Reset asks the agent to reset the queried features.
func (d *Dispatcher) Reset(ctx context.Context, dest catalog.Destination, query params.ResetQuery) (params.ResetResult, error) {
	var result params.ResetResult
	if err := d.call(ctx, dest, SubjectReset, query, &result); err != nil {
		return params.ResetResult{}, err
	}
	return result, nil
}

func (d *Dispatcher) call(ctx context.Context, dest catalog.Destination, subject string, query, result any) error {
	ctx, span := tracer.Start(ctx, "dispatch "+subject,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("srr.agent", dest.Agent),
			attribute.String("srr.queue", dest.Queue),
		),
	)
	defer span.End()

	start := d.config.Clock.Now()
	err := d.exchange(ctx, dest, subject, query, result)
	d.config.Metrics.observe(dest.Agent, subject, err, d.config.Clock.Now().Sub(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.config.Logger.Warningf("%s request to agent %q on %q failed: %v", subject, dest.Agent, dest.Queue, err)
		return fmt.Errorf("%s request to agent %q on queue %q: %v: %w",
			subject, dest.Agent, dest.Queue, err, srrerrors.DispatchFailure)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (d *Dispatcher) exchange(ctx context.Context, dest catalog.Destination, subject string, query, result any) error {
	body, err := json.Marshal(query)
	if err != nil {
		return errors.Annotate(err, "encoding request")
	}
	d.config.Logger.Debugf("sending %s request to %q on %q", subject, dest.Agent, dest.Queue)
	reply, err := d.config.Transport.Request(ctx, dest.Queue, Message{
		Origin:  d.config.Origin,
		To:      dest.Queue,
		Subject: subject,
		Data:    []string{string(body)},
	}, d.config.Timeout)
	if err != nil {
		return errors.Trace(err)
	}
	if reply.Error != "" {
		return errors.Errorf("agent replied with error: %s", reply.Error)
	}
	if len(reply.Data) == 0 {
		return errors.New("empty reply")
	}
	if err := json.Unmarshal([]byte(reply.Data[0]), result); err != nil {
		return errors.Annotate(err, "decoding reply")
	}
	return nil
}
