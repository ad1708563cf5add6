// Package metrics exposes Prometheus instrumentation for the brain runtime.
//
// A Collector owns a private registry so several brains (or tests) can live in
// one process without duplicate-registration panics. Every method is safe to
// call on a nil *Collector, which lets components run uninstrumented without
// sprinkling nil checks through hot paths.
//
// Example:
//
//	m := metrics.NewCollector("brainrt")
//	b := brain.New(brain.Config{Metrics: m})
//	http.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for one runtime instance.
type Collector struct {
	registry *prometheus.Registry

	// Instruction metrics
	InstructionCalls    *prometheus.CounterVec
	InstructionDuration *prometheus.HistogramVec

	// Lock metrics
	LockWait *prometheus.HistogramVec

	// Graph metrics
	LinksCreated      prometheus.Counter
	LinksDestroyed    prometheus.Counter
	NeuronsRegistered prometheus.Gauge
	NeuronsDeleted    prometheus.Counter

	namespace string
}

// NewCollector creates a collector whose metrics are registered on a fresh
// registry under the given namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry:  registry,
		namespace: namespace,
		InstructionCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instructions_total",
				Help:      "Total number of instruction executions by outcome",
			},
			[]string{"instruction", "status"},
		),
		InstructionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "instruction_duration_seconds",
				Help:      "Instruction execution time in seconds",
				Buckets:   []float64{.000001, .00001, .0001, .001, .01, .1, 1},
			},
			[]string{"instruction"},
		),
		LockWait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "lock_wait_seconds",
				Help:      "Time spent waiting to acquire a neuron lock",
				Buckets:   []float64{.0000001, .000001, .00001, .0001, .001, .01, .1},
			},
			[]string{"level", "mode"},
		),
		LinksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_created_total",
			Help:      "Total number of links created",
		}),
		LinksDestroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_destroyed_total",
			Help:      "Total number of links destroyed",
		}),
		NeuronsRegistered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "neurons_registered",
			Help:      "Number of neurons currently registered in the brain",
		}),
		NeuronsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "neurons_deleted_total",
			Help:      "Total number of neurons deleted",
		}),
	}

	registry.MustRegister(
		c.InstructionCalls,
		c.InstructionDuration,
		c.LockWait,
		c.LinksCreated,
		c.LinksDestroyed,
		c.NeuronsRegistered,
		c.NeuronsDeleted,
	)
	return c
}

// Registry returns the registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveInstruction records one instruction execution.
func (c *Collector) ObserveInstruction(name, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.InstructionCalls.WithLabelValues(name, status).Inc()
	c.InstructionDuration.WithLabelValues(name).Observe(d.Seconds())
}

// ObserveLockWait records how long a lock request blocked.
func (c *Collector) ObserveLockWait(level string, write bool, d time.Duration) {
	if c == nil {
		return
	}
	mode := "read"
	if write {
		mode = "write"
	}
	c.LockWait.WithLabelValues(level, mode).Observe(d.Seconds())
}

// LinkCreated increments the created-links counter.
func (c *Collector) LinkCreated() {
	if c == nil {
		return
	}
	c.LinksCreated.Inc()
}

// LinkDestroyed increments the destroyed-links counter.
func (c *Collector) LinkDestroyed() {
	if c == nil {
		return
	}
	c.LinksDestroyed.Inc()
}

// NeuronRegistered bumps the registered-neurons gauge.
func (c *Collector) NeuronRegistered() {
	if c == nil {
		return
	}
	c.NeuronsRegistered.Inc()
}

// NeuronDeleted records a deletion and lowers the registered gauge.
func (c *Collector) NeuronDeleted() {
	if c == nil {
		return
	}
	c.NeuronsDeleted.Inc()
	c.NeuronsRegistered.Dec()
}

// PoolStatsFunc reports cumulative counters for one buffer pool.
type PoolStatsFunc func() (gets, hits, misses, drops uint64)

// RegisterPool exposes a buffer pool's counters as pool_events_total{pool,event}.
// The function is sampled at scrape time.
func (c *Collector) RegisterPool(name string, stats PoolStatsFunc) error {
	if c == nil {
		return nil
	}
	events := []string{"get", "hit", "miss", "drop"}
	for i, event := range events {
		idx := i
		counter := prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   c.namespace,
			Name:        "pool_events_total",
			Help:        "Buffer pool events by pool and event type",
			ConstLabels: prometheus.Labels{"pool": name, "event": event},
		}, func() float64 {
			gets, hits, misses, drops := stats()
			return float64([]uint64{gets, hits, misses, drops}[idx])
		})
		if err := c.registry.Register(counter); err != nil {
			return err
		}
	}
	return nil
}
