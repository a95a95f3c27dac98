// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package dispatcher

import (
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "srr"
	metricsSubsystem = "dispatch"
)

// Result label values.
const (
	resultSuccess = "success"
	resultTimeout = "timeout"
	resultFailure = "failure"
)

// Collector is a prometheus.Collector that collects metrics about the
// exchanges with agents.
type Collector struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "requests_total",
				Help:      "The number of requests sent to agents.",
			}, []string{"agent", "subject", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "duration_seconds",
				Help:      "The time taken by agents to reply.",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			}, []string{"subject"},
		),
	}
}

func (c *Collector) observe(agent, subject string, err error, elapsed time.Duration) {
	result := resultSuccess
	switch {
	case errors.Is(err, errors.Timeout):
		result = resultTimeout
	case err != nil:
		result = resultFailure
	}
	c.requests.WithLabelValues(agent, subject, result).Inc()
	c.duration.WithLabelValues(subject).Observe(elapsed.Seconds())
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.requests.Describe(ch)
	c.duration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.requests.Collect(ch)
	c.duration.Collect(ch)
}
