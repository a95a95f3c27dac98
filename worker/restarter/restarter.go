// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package restarter provides the worker restarting the appliance after a
// restore that requires it.
package restarter

import (
	"context"
	"os/exec"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"gopkg.in/tomb.v2"
)

// Logger represents the logging methods called.
type Logger interface {
	Errorf(message string, args ...any)
	Warningf(message string, args ...any)
	Infof(message string, args ...any)
	Debugf(message string, args ...any)
}

// RebootFunc restarts the appliance.
type RebootFunc func(ctx context.Context) error

// CommandReboot returns a RebootFunc flushing file systems to disk, then
// running the command.
func CommandReboot(command []string) RebootFunc {
	return func(ctx context.Context) error {
		if len(command) == 0 {
			return errors.NotValidf("empty reboot command")
		}
		syncFileSystems()
		out, err := exec.CommandContext(ctx, command[0], command[1:]...).CombinedOutput()
		if err != nil {
			return errors.Annotatef(err, "running %q: %s", command, out)
		}
		return nil
	}
}

// Config holds the configuration of a Restarter.
type Config struct {
	Clock clock.Clock

	// Delay is the time between the request and the reboot.
	Delay time.Duration

	// Enabled is false when restarts are only logged.
	Enabled bool

	Reboot RebootFunc
	Logger Logger
}

// Validate returns an error if the config cannot be used.
func (config Config) Validate() error {
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Delay < 0 {
		return errors.NotValidf("negative Delay")
	}
	if config.Reboot == nil {
		return errors.NotValidf("nil Reboot")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Restarter is a worker that reboots the appliance some time after being
// asked to. Requests made while one is pending are merged into it.
type Restarter struct {
	tomb     tomb.Tomb
	config   Config
	requests chan struct{}
}

// NewRestarter returns a new Restarter.
func NewRestarter(config Config) (*Restarter, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	r := &Restarter{
		config:   config,
		requests: make(chan struct{}, 1),
	}
	r.tomb.Go(r.loop)
	return r, nil
}

// ScheduleRestart asks for a restart. It never blocks.
func (r *Restarter) ScheduleRestart() {
	select {
	case r.requests <- struct{}{}:
	default:
	}
}

// Kill is part of the worker.Worker interface.
func (r *Restarter) Kill() {
	r.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (r *Restarter) Wait() error {
	return r.tomb.Wait()
}

func (r *Restarter) loop() error {
	for {
		select {
		case <-r.tomb.Dying():
			return tomb.ErrDying
		case <-r.requests:
		}
		if err := r.countdown(); err != nil {
			return err
		}
		if !r.config.Enabled {
			r.config.Logger.Warningf("restart required, but reboot is disabled")
			continue
		}
		r.config.Logger.Infof("rebooting")
		if err := r.config.Reboot(r.tomb.Context(context.Background())); err != nil {
			r.config.Logger.Errorf("reboot failed: %v", err)
		}
	}
}

func (r *Restarter) countdown() error {
	remaining := r.config.Delay
	for remaining > 0 {
		r.config.Logger.Infof("restarting in %s", remaining)
		step := time.Second
		if remaining < step {
			step = remaining
		}
		select {
		case <-r.tomb.Dying():
			r.config.Logger.Warningf("pending restart abandoned")
			return tomb.ErrDying
		case <-r.config.Clock.After(step):
		}
		remaining -= step
	}
	return nil
}
