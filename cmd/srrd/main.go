// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// srrd is the daemon saving, restoring and resetting the configuration of
// the appliance features.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/loggo/v2"

	"github.com/juju/srr/config"
	"github.com/juju/srr/worker/restarter"
)

var logger = loggo.GetLogger("srr.srrd")

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(Main(os.Args[1:], os.Stderr))
}

// Main runs the daemon until it is interrupted and returns the exit code.
func Main(args []string, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if errors.Is(err, gnuflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "srrd: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		logger.Errorf("%v", err)
		return 1
	}
	return 0
}

type options struct {
	configPath string
	verbose    bool
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := gnuflag.NewFlagSet("srrd", gnuflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "c", "", "path to the configuration file")
	fs.StringVar(&opts.configPath, "config", "", "")
	fs.BoolVar(&opts.verbose, "v", false, "log at debug level")
	fs.BoolVar(&opts.verbose, "verbose", false, "")
	if err := fs.Parse(true, args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, errors.Errorf("unrecognized arguments: %v", fs.Args())
	}
	return opts, nil
}

func loadConfig(opts options) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Read(opts.configPath); err != nil {
			return config.Config{}, errors.Trace(err)
		}
	}
	if opts.verbose {
		cfg.LoggingConfig = "<root>=DEBUG"
	}
	return cfg, nil
}

func run(ctx context.Context, opts options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return errors.Trace(err)
	}
	if err := loggo.ConfigureLoggers(cfg.LoggingConfig); err != nil {
		return errors.Annotate(err, "configuring loggers")
	}

	shutdownTracing, err := setupTracing(ctx, cfg.TracingEndpoint, cfg.AgentName)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warningf("stopping tracing: %v", err)
		}
	}()

	d, err := newDaemon(cfg, clock.WallClock, restarter.CommandReboot(cfg.RebootCommand))
	if err != nil {
		return errors.Trace(err)
	}
	logger.Infof("serving %d groups on %q", len(d.catalog.Groups()), cfg.QueueName)

	server := &http.Server{
		Addr:              cfg.HTTPListen,
		Handler:           d.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", cfg.HTTPListen)
		serverErr <- server.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Infof("shutting down")
	case err := <-serverErr:
		runErr = errors.Annotate(err, "http server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warningf("stopping http server: %v", err)
	}
	if err := d.stop(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
