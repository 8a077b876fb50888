package report

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/xerrors"
)

// Result labels
const (
	ResultSuccess string = "success"
	ResultFailure string = "failure"
	ResultNoop    string = "noop"
)

// Metrics counts fetches and evictions.
// Written as a node-exporter textfile since the process is short lived.
type Metrics struct {
	registry *prometheus.Registry

	fetchTotal        *prometheus.CounterVec
	fetchedBytesTotal prometheus.Counter
	evictionsTotal    *prometheus.CounterVec
	evictedBytesTotal prometheus.Counter
	hookRunsTotal     *prometheus.CounterVec
}

// NewMetrics creates a new Metrics with its own registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		fetchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "romcache_fetch_total",
				Help: "Total number of fetch requests by result",
			},
			[]string{"result"},
		),
		fetchedBytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "romcache_fetched_bytes_total",
				Help: "Total bytes materialized from the backing store",
			},
		),
		evictionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "romcache_evictions_total",
				Help: "Total number of evicted entries by result",
			},
			[]string{"result"},
		),
		evictedBytesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "romcache_evicted_bytes_total",
				Help: "Total bytes freed by eviction",
			},
		),
		hookRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "romcache_hook_runs_total",
				Help: "Total number of post-mutation hook runs by result",
			},
			[]string{"hook", "result"},
		),
	}
}

// GetRegistry returns the registry
func (metrics *Metrics) GetRegistry() *prometheus.Registry {
	return metrics.registry
}

// RecordFetch records a fetch
func (metrics *Metrics) RecordFetch(result string, bytes int64) {
	metrics.fetchTotal.WithLabelValues(result).Inc()
	if bytes > 0 {
		metrics.fetchedBytesTotal.Add(float64(bytes))
	}
}

// RecordEviction records an evicted or failed candidate
func (metrics *Metrics) RecordEviction(result string, bytes int64) {
	metrics.evictionsTotal.WithLabelValues(result).Inc()
	if bytes > 0 {
		metrics.evictedBytesTotal.Add(float64(bytes))
	}
}

// RecordHookRun records a hook run
func (metrics *Metrics) RecordHookRun(hook string, result string) {
	metrics.hookRunsTotal.WithLabelValues(hook, result).Inc()
}

// WriteToTextfile writes metrics in the text exposition format
func (metrics *Metrics) WriteToTextfile(path string) error {
	err := prometheus.WriteToTextfile(path, metrics.registry)
	if err != nil {
		return xerrors.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
