// Package metrics exposes keysweep's prometheus instrumentation.
//
// A Registry owns a private prometheus registry and groups metrics by the
// component that records them:
//
//	keysweep_search_*    worker hot loops (candidates tested, scan time)
//	keysweep_dispatch_*  coordinator (chunks, found notices, anomalies)
//	keysweep_trial_*     job driver (trial durations, outcomes)
//
// Every recorder method accepts a nil receiver, so components can be built
// without metrics in tests and library code.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config controls registry construction.
type Config struct {
	// Namespace prefixes every metric name.
	Namespace string

	// IncludeRuntime adds the Go and process collectors.
	IncludeRuntime bool

	// Buckets overrides the latency histogram buckets (seconds).
	Buckets []float64
}

// DefaultConfig returns the configuration used by the binaries.
func DefaultConfig() Config {
	return Config{
		Namespace:      "keysweep",
		IncludeRuntime: true,
		Buckets: []float64{
			0.001, 0.005, 0.01, 0.05, 0.1, 0.5,
			1, 5, 10, 30, 60, 300, 1800, 3600,
		},
	}
}

// Registry holds all keysweep metrics.
type Registry struct {
	prom   *prometheus.Registry
	config Config

	Search   *SearchMetrics
	Dispatch *DispatchMetrics
	Trial    *TrialMetrics
}

// NewRegistry builds a registry with every metric group registered.
func NewRegistry(config Config) *Registry {
	if config.Namespace == "" {
		config.Namespace = "keysweep"
	}
	if config.Buckets == nil {
		config.Buckets = DefaultConfig().Buckets
	}

	r := &Registry{
		prom:   prometheus.NewRegistry(),
		config: config,
	}
	if config.IncludeRuntime {
		r.prom.MustRegister(collectors.NewGoCollector())
		r.prom.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	r.Search = newSearchMetrics(r)
	r.Dispatch = newDispatchMetrics(r)
	r.Trial = newTrialMetrics(r)
	return r
}

// Handler serves the registry in the prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.prom, promhttp.HandlerOpts{})
}

// Prometheus returns the underlying registry.
func (r *Registry) Prometheus() *prometheus.Registry { return r.prom }

// SearchMetrics returns the search group, or nil for a nil registry.
func (r *Registry) SearchMetrics() *SearchMetrics {
	if r == nil {
		return nil
	}
	return r.Search
}

// DispatchMetrics returns the dispatch group, or nil for a nil registry.
func (r *Registry) DispatchMetrics() *DispatchMetrics {
	if r == nil {
		return nil
	}
	return r.Dispatch
}

// TrialMetrics returns the trial group, or nil for a nil registry.
func (r *Registry) TrialMetrics() *TrialMetrics {
	if r == nil {
		return nil
	}
	return r.Trial
}

func (r *Registry) newCounter(opts prometheus.CounterOpts) prometheus.Counter {
	opts.Namespace = r.config.Namespace
	c := prometheus.NewCounter(opts)
	r.prom.MustRegister(c)
	return c
}

func (r *Registry) newCounterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	opts.Namespace = r.config.Namespace
	c := prometheus.NewCounterVec(opts, labels)
	r.prom.MustRegister(c)
	return c
}

func (r *Registry) newGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.Namespace = r.config.Namespace
	g := prometheus.NewGauge(opts)
	r.prom.MustRegister(g)
	return g
}

func (r *Registry) newHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	opts.Namespace = r.config.Namespace
	if opts.Buckets == nil {
		opts.Buckets = r.config.Buckets
	}
	h := prometheus.NewHistogram(opts)
	r.prom.MustRegister(h)
	return h
}

func (r *Registry) newHistogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	opts.Namespace = r.config.Namespace
	if opts.Buckets == nil {
		opts.Buckets = r.config.Buckets
	}
	h := prometheus.NewHistogramVec(opts, labels)
	r.prom.MustRegister(h)
	return h
}
