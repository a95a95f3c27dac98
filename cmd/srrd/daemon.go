// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/pubsub/v2"
	"github.com/juju/worker/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apisrr "github.com/juju/srr/apiserver/srr"
	"github.com/juju/srr/catalog"
	"github.com/juju/srr/config"
	"github.com/juju/srr/dispatcher"
	"github.com/juju/srr/orchestrator"
	"github.com/juju/srr/passphrase"
	"github.com/juju/srr/processor"
	"github.com/juju/srr/pubsub/centralhub"
	"github.com/juju/srr/worker/restarter"
	"github.com/juju/srr/worker/srrmanager"
)

// daemon holds the running components of srrd.
type daemon struct {
	hub       *pubsub.StructuredHub
	catalog   *catalog.Catalog
	registry  *prometheus.Registry
	manager   worker.Worker
	restarter *restarter.Restarter
	handler   http.Handler
}

// newDaemon wires the components described by cfg together and starts the
// workers.
func newDaemon(cfg config.Config, clk clock.Clock, reboot restarter.RebootFunc) (*daemon, error) {
	cat, err := loadCatalog(cfg.CatalogFile)
	if err != nil {
		return nil, errors.Trace(err)
	}

	hub := centralhub.New(cfg.AgentName)
	registry := prometheus.NewRegistry()
	dispatchMetrics := dispatcher.NewMetricsCollector()
	orchestratorMetrics := orchestrator.NewMetricsCollector()
	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		dispatchMetrics,
		orchestratorMetrics,
	} {
		if err := registry.Register(c); err != nil {
			return nil, errors.Annotate(err, "registering metrics")
		}
	}

	agents, err := dispatcher.New(dispatcher.Config{
		Transport: dispatcher.NewHubTransport(hub, cfg.AgentName, clk, loggo.GetLogger("srr.transport")),
		Origin:    cfg.AgentName,
		Timeout:   cfg.RequestTimeout,
		Clock:     clk,
		Metrics:   dispatchMetrics,
		Logger:    loggo.GetLogger("srr.dispatcher"),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	restart, err := restarter.NewRestarter(restarter.Config{
		Clock:   clk,
		Delay:   cfg.RestartDelay,
		Enabled: cfg.EnableReboot,
		Reboot:  reboot,
		Logger:  loggo.GetLogger("srr.restarter"),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Catalog:                 cat,
		Agents:                  agents,
		Passphrase:              passphrase.DefaultFormat,
		Restarter:               restart,
		Metrics:                 orchestratorMetrics,
		Logger:                  loggo.GetLogger("srr.orchestrator"),
		Version:                 cfg.Version,
		SupportedVersions:       cfg.Supported(),
		MaxConcurrentDispatches: cfg.MaxConcurrentDispatches,
	})
	if err != nil {
		_ = worker.Stop(restart)
		return nil, errors.Trace(err)
	}

	proc, err := processor.New(processor.Handlers{
		List:    orch.List,
		Save:    orch.Save,
		Restore: orch.Restore,
		Reset:   orch.Reset,
	})
	if err != nil {
		_ = worker.Stop(restart)
		return nil, errors.Trace(err)
	}

	manager, err := srrmanager.NewWorker(srrmanager.Config{
		Hub:       hub,
		Queue:     cfg.QueueName,
		Agent:     cfg.AgentName,
		Processor: proc,
		Logger:    loggo.GetLogger("srr.manager"),
	})
	if err != nil {
		_ = worker.Stop(restart)
		return nil, errors.Trace(err)
	}

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	router.PathPrefix("/srr/").Handler(apisrr.NewHandler(proc, loggo.GetLogger("srr.apiserver")))

	return &daemon{
		hub:       hub,
		catalog:   cat,
		registry:  registry,
		manager:   manager,
		restarter: restart,
		handler:   router,
	}, nil
}

// stop stops the workers. Requests in flight are answered first.
func (d *daemon) stop() error {
	managerErr := worker.Stop(d.manager)
	restarterErr := worker.Stop(d.restarter)
	if managerErr != nil {
		return errors.Annotate(managerErr, "stopping manager")
	}
	return errors.Annotate(restarterErr, "stopping restarter")
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "reading catalog %q", path)
	}
	def, err := catalog.ParseDefinition(data)
	if err != nil {
		return nil, errors.Annotatef(err, "catalog %q", path)
	}
	cat, err := catalog.BuildCatalog(def)
	if err != nil {
		return nil, errors.Annotatef(err, "catalog %q", path)
	}
	return cat, nil
}
