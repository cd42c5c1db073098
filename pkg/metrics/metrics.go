// Package metrics holds the Prometheus instruments shared by the wiki core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Candidate outcomes recorded by fork discovery.
const (
	OutcomeFound   = "found"
	OutcomeAbsent  = "absent"
	OutcomeFailed  = "failed"
	OutcomeTimeout = "timeout"
)

// WikiMetrics tracks store, discovery and session activity.
type WikiMetrics struct {
	// Store metrics
	StoreOperations *prometheus.CounterVec
	StoreLatency    *prometheus.HistogramVec

	// Discovery metrics
	DiscoveryRuns       prometheus.Counter
	DiscoveryLatency    prometheus.Histogram
	DiscoveryCandidates *prometheus.CounterVec
	ForkSetSize         prometheus.Histogram

	// Coordinator metrics
	TitleCacheEntries  prometheus.Gauge
	CacheRefreshes     prometheus.Counter
	StaleResults       prometheus.Counter
	SessionTransitions *prometheus.CounterVec
}

// New creates and registers the metrics on registry, or on the default
// registerer when registry is nil.
func New(registry prometheus.Registerer) *WikiMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &WikiMetrics{
		StoreOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wiki_store_operations_total",
			Help: "Page store operations by operation and result",
		}, []string{"op", "result"}),
		StoreLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wiki_store_latency_seconds",
			Help:    "Page store operation latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),

		DiscoveryRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "wiki_discovery_runs_total",
			Help: "Total number of fork discovery runs",
		}),
		DiscoveryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wiki_discovery_latency_seconds",
			Help:    "Fork discovery latency",
			Buckets: prometheus.DefBuckets,
		}),
		DiscoveryCandidates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wiki_discovery_candidates_total",
			Help: "Fork discovery candidate probes by outcome",
		}, []string{"outcome"}),
		ForkSetSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wiki_fork_set_size",
			Help:    "Number of forks found per discovery",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}),

		TitleCacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wiki_title_cache_entries",
			Help: "Pages currently in the title cache",
		}),
		CacheRefreshes: factory.NewCounter(prometheus.CounterOpts{
			Name: "wiki_title_cache_refreshes_total",
			Help: "Total number of title cache rebuilds",
		}),
		StaleResults: factory.NewCounter(prometheus.CounterOpts{
			Name: "wiki_stale_results_total",
			Help: "Results discarded because the session changed while in flight",
		}),
		SessionTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wiki_session_transitions_total",
			Help: "Session state transitions by target state",
		}, []string{"state"}),
	}
}

// NewNop returns metrics registered on a private registry, for callers that
// do not export them.
func NewNop() *WikiMetrics {
	return New(prometheus.NewRegistry())
}

// ObserveStore records one store operation.
func (m *WikiMetrics) ObserveStore(op, result string, start time.Time) {
	if m == nil {
		return
	}
	m.StoreOperations.WithLabelValues(op, result).Inc()
	m.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Handler serves the given gatherer in the Prometheus text format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
