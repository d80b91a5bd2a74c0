// Package metrics exposes Prometheus collectors for the pool, the
// cache overlay, the health monitor and the failover orchestrator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors on a private registry so tests can
// create instances freely without duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	poolIdle       prometheus.Gauge
	poolInUse      prometheus.Gauge
	poolBroken     prometheus.Gauge
	poolGeneration prometheus.Gauge

	cacheHits          prometheus.Gauge
	cacheMisses        prometheus.Gauge
	cacheInvalidations prometheus.Gauge
	cacheHitRate       prometheus.Gauge

	healthStatus prometheus.Gauge

	failoverSessions    *prometheus.CounterVec
	failoverTransitions *prometheus.CounterVec

	queryDuration *prometheus.HistogramVec
	retryAttempts prometheus.Histogram
}

// New creates and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		poolIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rdsguard_pool_idle_connections",
			Help: "Idle connections in the pool",
		}),
		poolInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rdsguard_pool_inuse_connections",
			Help: "Connections currently held by callers",
		}),
		poolBroken: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rdsguard_pool_broken_connections",
			Help: "Connections evicted as broken since start",
		}),
		poolGeneration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rdsguard_pool_generation",
			Help: "Current pool generation; increments on every rebind",
		}),
		cacheHits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rdsguard_cache_hits",
			Help: "Cache hits since start",
		}),
		cacheMisses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rdsguard_cache_misses",
			Help: "Cache misses since start",
		}),
		cacheInvalidations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rdsguard_cache_invalidations",
			Help: "Cache entries removed by invalidation since start",
		}),
		cacheHitRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rdsguard_cache_hit_rate",
			Help: "Cache hit rate since start",
		}),
		healthStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rdsguard_cluster_health_status",
			Help: "Cluster health: 0 available, 1 degraded, 2 failed, 3 unreachable",
		}),
		failoverSessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rdsguard_failover_sessions_total",
			Help: "Recovery sessions by terminal outcome",
		}, []string{"outcome"}),
		failoverTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rdsguard_failover_transitions_total",
			Help: "Failover state machine transitions by target state",
		}, []string{"state"}),
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rdsguard_operation_duration_seconds",
			Help:    "Logical operation latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "source"}),
		retryAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rdsguard_retry_attempts",
			Help:    "Attempts used per retried operation",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		}),
	}

	registry.MustRegister(
		m.poolIdle, m.poolInUse, m.poolBroken, m.poolGeneration,
		m.cacheHits, m.cacheMisses, m.cacheInvalidations, m.cacheHitRate,
		m.healthStatus,
		m.failoverSessions, m.failoverTransitions,
		m.queryDuration, m.retryAttempts,
	)
	return m
}

// UpdatePool refreshes the pool gauges from a stats snapshot.
func (m *Metrics) UpdatePool(idle, inUse int, broken int64, generation uint64) {
	m.poolIdle.Set(float64(idle))
	m.poolInUse.Set(float64(inUse))
	m.poolBroken.Set(float64(broken))
	m.poolGeneration.Set(float64(generation))
}

// UpdateCache refreshes the cache gauges from a stats snapshot.
func (m *Metrics) UpdateCache(hits, misses, invalidations int64, hitRate float64) {
	m.cacheHits.Set(float64(hits))
	m.cacheMisses.Set(float64(misses))
	m.cacheInvalidations.Set(float64(invalidations))
	m.cacheHitRate.Set(hitRate)
}

// SetHealthStatus records the monitor's reported status.
func (m *Metrics) SetHealthStatus(status int) {
	m.healthStatus.Set(float64(status))
}

// RecordFailoverOutcome counts a terminal session outcome.
func (m *Metrics) RecordFailoverOutcome(outcome string) {
	m.failoverSessions.WithLabelValues(outcome).Inc()
}

// RecordFailoverTransition counts entry into a failover state.
func (m *Metrics) RecordFailoverTransition(state string) {
	m.failoverTransitions.WithLabelValues(state).Inc()
}

// ObserveOperation records one logical operation's latency. source is
// "cache" or "database".
func (m *Metrics) ObserveOperation(op, source string, seconds float64) {
	m.queryDuration.WithLabelValues(op, source).Observe(seconds)
}

// ObserveRetryAttempts records how many attempts an operation used.
func (m *Metrics) ObserveRetryAttempts(attempts int) {
	m.retryAttempts.Observe(float64(attempts))
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
