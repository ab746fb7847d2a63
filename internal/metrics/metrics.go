// Package metrics exports supervisor state as prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/localnet/internal/domain"
	"github.com/bft-labs/localnet/internal/supervisor"
)

const namespace = "localnet"

// Collector is a supervisor.Observer that keeps prometheus metrics current.
type Collector struct {
	registry *prometheus.Registry

	processUp    *prometheus.GaugeVec
	restarts     *prometheus.CounterVec
	fatal        *prometheus.CounterVec
	groupState   prometheus.Gauge
	stateChanges prometheus.Counter
}

// NewCollector creates a Collector with its own registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		processUp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Help:      "Whether a supervised process is running",
				Name:      "process_up",
				Namespace: namespace,
			},
			[]string{"process", "owner"},
		),
		restarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Help:      "Automatic restarts of a supervised process",
				Name:      "process_restarts_total",
				Namespace: namespace,
			},
			[]string{"process"},
		),
		fatal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Help:      "Times a process exhausted its retry budget",
				Name:      "process_fatal_total",
				Namespace: namespace,
			},
			[]string{"process"},
		),
		groupState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Help:      "Supervisor state (0 stopped, 1 starting, 2 running, 3 stopping, 4 crashed)",
				Name:      "supervisor_state",
				Namespace: namespace,
			},
		),
		stateChanges: prometheus.NewCounter(
			prometheus.CounterOpts{
				Help:      "Supervisor state transitions",
				Name:      "supervisor_state_changes_total",
				Namespace: namespace,
			},
		),
	}
	c.registry.MustRegister(c.processUp, c.restarts, c.fatal, c.groupState, c.stateChanges)
	return c
}

// Registry returns the registry the metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// OnStateChange implements supervisor.Observer.
func (c *Collector) OnStateChange(_, current supervisor.State, _ string) {
	c.groupState.Set(float64(current))
	c.stateChanges.Inc()
}

// OnProcessEvent implements supervisor.Observer.
func (c *Collector) OnProcessEvent(ev supervisor.ProcessEvent) {
	up := 0.0
	if ev.Status == domain.StatusRunning {
		up = 1
	}
	c.processUp.WithLabelValues(ev.Name, ev.Owner).Set(up)

	switch ev.Status {
	case domain.StatusBackoff:
		c.restarts.WithLabelValues(ev.Name).Inc()
	case domain.StatusFatal:
		c.fatal.WithLabelValues(ev.Name).Inc()
	}
}

var _ supervisor.Observer = (*Collector)(nil)
