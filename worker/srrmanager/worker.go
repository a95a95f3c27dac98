// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package srrmanager provides the worker answering save, restore, list and
// reset requests sent to the srr queue on the hub.
package srrmanager

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/pubsub/v2"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"

	"github.com/juju/srr/dispatcher"
)

// UISuffix is appended to the queue name to form the topic user requests
// are published on.
const UISuffix = ".UI"

// Processor runs an operation on the frames of a request.
type Processor interface {
	Process(ctx context.Context, operation string, data []string) ([]string, error)
}

// Logger represents the logging methods called.
type Logger interface {
	Errorf(message string, args ...any)
	Warningf(message string, args ...any)
	Infof(message string, args ...any)
	Debugf(message string, args ...any)
}

// Config holds the configuration necessary to run the manager.
type Config struct {
	Hub       *pubsub.StructuredHub
	Queue     string
	Agent     string
	Processor Processor
	Logger    Logger
}

// Validate validates the manager configuration.
func (config Config) Validate() error {
	if config.Hub == nil {
		return errors.NotValidf("nil Hub")
	}
	if config.Queue == "" {
		return errors.NotValidf("empty Queue")
	}
	if config.Agent == "" {
		return errors.NotValidf("empty Agent")
	}
	if config.Processor == nil {
		return errors.NotValidf("nil Processor")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Topic returns the topic the manager serves.
func (config Config) Topic() string {
	return config.Queue + UISuffix
}

// Worker serves user requests until killed. Each request is handled on
// its own goroutine, so a slow agent never delays the intake of new
// requests. Killing the worker stops the intake; Wait returns once the
// requests in flight have been answered.
type Worker struct {
	catacomb catacomb.Catacomb
	config   Config
}

// NewWorker returns a new manager worker.
func NewWorker(config Config) (worker.Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &Worker{config: config}

	// Subscribe before returning: the hub drops messages published on
	// topics nobody listens to.
	topic := config.Topic()
	stop, err := dispatcher.Serve(config.Hub, topic, config.Agent, w.handle, config.Logger)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := catacomb.Invoke(catacomb.Plan{
		Name: "srr-manager",
		Site: &w.catacomb,
		Work: func() error {
			return w.loop(topic, stop)
		},
	}); err != nil {
		stop()
		return nil, errors.Trace(err)
	}
	return w, nil
}

// Kill is part of the worker.Worker interface.
func (w *Worker) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Worker) Wait() error {
	return w.catacomb.Wait()
}

func (w *Worker) loop(topic string, stop func()) error {
	defer stop()

	w.config.Logger.Infof("serving requests on %q", topic)
	<-w.catacomb.Dying()
	return w.catacomb.ErrDying()
}

func (w *Worker) handle(ctx context.Context, msg dispatcher.Message) ([]string, error) {
	w.config.Logger.Debugf("%q request %q from %q", msg.Subject, msg.CorrelationID, msg.Origin)
	frames, err := w.config.Processor.Process(ctx, msg.Subject, msg.Data)
	if err != nil {
		w.config.Logger.Errorf("%q request %q failed: %v", msg.Subject, msg.CorrelationID, err)
		return nil, err
	}
	return frames, nil
}
