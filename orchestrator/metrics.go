// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "srr"

// Collector is a prometheus.Collector that collects metrics about the
// operations handled by the orchestrator.
type Collector struct {
	operations        *prometheus.CounterVec
	rollbacks         *prometheus.CounterVec
	integrityFailures *prometheus.CounterVec
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "operations_total",
				Help:      "The number of operations handled, by final status.",
			}, []string{"operation", "status"},
		),
		rollbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rollbacks_total",
				Help:      "The number of restores rolled back.",
			}, []string{"group"},
		),
		integrityFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "integrity_failures_total",
				Help:      "The number of groups rejected by the data integrity check.",
			}, []string{"group"},
		),
	}
}

func (c *Collector) operation(name, status string) {
	c.operations.WithLabelValues(name, status).Inc()
}

func (c *Collector) rollback(unit string) {
	c.rollbacks.WithLabelValues(unit).Inc()
}

func (c *Collector) integrityFailure(group string) {
	c.integrityFailures.WithLabelValues(group).Inc()
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.operations.Describe(ch)
	c.rollbacks.Describe(ch)
	c.integrityFailures.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.operations.Collect(ch)
	c.rollbacks.Collect(ch)
	c.integrityFailures.Collect(ch)
}
