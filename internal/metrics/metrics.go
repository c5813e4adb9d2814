// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "switchboard"

//nolint:gochecknoglobals // promauto collectors register once per process
var (
	// Requests counts gateway requests by outcome (success, failure, cached, rate_limited).
	Requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of gateway requests",
		},
		[]string{"outcome"},
	)

	// Attempts counts backend invocations.
	Attempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Total number of backend attempts",
		},
		[]string{"provider", "result", "error_kind"},
	)

	// AttemptLatency tracks backend attempt duration.
	AttemptLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_attempt_duration_seconds",
			Help:      "Backend attempt duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	// Fallbacks counts requests served by a fallback provider.
	Fallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Total number of requests answered by a fallback provider",
		},
	)

	// Rotations counts credential rotations per backend kind.
	Rotations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_rotations_total",
			Help:      "Total number of credential rotations",
		},
		[]string{"kind"},
	)

	// RateLimited counts denied admissions per scope.
	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Total number of requests denied by the rate limiter",
		},
		[]string{"scope"},
	)

	// RateLimitCeiling exposes the effective ceiling per scope.
	RateLimitCeiling = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_limit_ceiling",
			Help:      "Effective rate limit ceiling after health adjustment",
		},
		[]string{"scope"},
	)

	// CacheLookups counts cache lookups by result (hit, miss).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Total number of response cache lookups",
		},
		[]string{"result"},
	)

	// CacheEvictions counts evicted cache entries by reason.
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of evicted cache entries",
		},
		[]string{"reason"},
	)

	// CacheEntries is the current number of cached responses.
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Number of entries in the response cache",
		},
	)

	// ProviderUp is 1 when a provider is eligible for routing.
	ProviderUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_up",
			Help:      "Whether the provider is connected and available",
		},
		[]string{"provider"},
	)

	// Events counts published gateway events.
	Events = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of published gateway events",
		},
		[]string{"type"},
	)
)

// BoolGauge converts a flag to a gauge value.
func BoolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
