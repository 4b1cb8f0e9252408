// Package metrics holds the Prometheus collectors shared by the sync engine,
// the provider client and the cache.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_sync_operations_total",
		Help: "Refresh invocations by kind and outcome",
	}, []string{"kind", "outcome"})

	SnapshotsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weather_snapshots_created_total",
		Help: "Weather snapshots written because the fingerprint changed",
	})

	SyncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "weather_sync_duration_seconds",
		Help:    "Duration of refresh invocations",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	ProviderRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_provider_requests_total",
		Help: "Live provider calls by endpoint and result kind",
	}, []string{"endpoint", "result"})

	ProviderSeededTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_provider_seeded_total",
		Help: "Requests answered by the seeded fallback generator",
	}, []string{"endpoint"})

	CacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "weather_cache_lookups_total",
		Help: "Provider cache lookups by backend and result (hit, miss)",
	}, []string{"backend", "result"})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "weather_provider_circuit_state",
		Help: "Provider circuit breaker state (0=closed, 0.5=half-open, 1=open)",
	}, []string{"breaker"})

	SchedulerBackoffsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "weather_scheduler_backoffs_total",
		Help: "Background sync iterations that failed and backed off",
	})
)
