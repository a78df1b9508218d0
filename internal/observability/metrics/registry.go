// Package metrics provides centralized Prometheus metrics for the routing core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Routing metrics track provider selection and call outcomes
var (
	// RouteRequestsTotal counts route() calls by category and outcome
	// (served, cached, degraded).
	RouteRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "route_requests_total",
			Help: "Total number of routing requests",
		},
		[]string{"category", "outcome"},
	)

	// ProviderCallsTotal counts upstream provider calls by provider and result.
	ProviderCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provider_calls_total",
			Help: "Total number of upstream provider calls",
		},
		[]string{"provider", "result"},
	)

	// ProviderCallDuration measures upstream call duration in seconds.
	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_call_duration_seconds",
			Help:    "Upstream provider call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// FallbacksTotal counts route() calls that were served by a fallback
	// provider or a degraded system response.
	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "route_fallbacks_total",
			Help: "Total number of requests served via fallback",
		},
		[]string{"category", "kind"},
	)
)

// Provider health metrics mirror the health tracker state
var (
	// ProviderHealthy is 1 when the provider is considered healthy.
	ProviderHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "provider_healthy",
			Help: "Whether the provider is currently considered healthy (1/0)",
		},
		[]string{"provider"},
	)

	// ProviderConsecutiveErrors tracks the consecutive-error counter.
	ProviderConsecutiveErrors = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "provider_consecutive_errors",
			Help: "Current consecutive error count per provider",
		},
		[]string{"provider"},
	)

	// ProviderSmoothedLatency is the exponentially smoothed latency in seconds.
	ProviderSmoothedLatency = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "provider_smoothed_latency_seconds",
			Help: "Exponentially smoothed provider latency in seconds",
		},
		[]string{"provider"},
	)

	// ProviderLoadFactor is the derived load score used by the least-used
	// strategy and the rebalance job.
	ProviderLoadFactor = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "provider_load_factor",
			Help: "Derived load factor per provider (0 = idle)",
		},
		[]string{"provider"},
	)
)

// Rate budget and circuit breaker metrics
var (
	// RateBudgetStatus reports the worst-window rate status per provider
	// (0=ok, 1=approaching, 2=blocked).
	RateBudgetStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rate_budget_status",
			Help: "Rate budget status per provider (0=ok, 1=approaching, 2=blocked)",
		},
		[]string{"provider"},
	)

	// CircuitBreakerState reports the breaker state per provider
	// (0=closed, 1=half-open, 2=open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state per provider (0=closed, 1=half-open, 2=open)",
		},
		[]string{"provider"},
	)

	// TokensUsedTotal counts tokens consumed per provider and direction.
	TokensUsedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokens_used_total",
			Help: "Total tokens consumed per provider",
		},
		[]string{"provider", "direction"},
	)
)

// Cache metrics
var (
	// CacheHitsTotal counts cache hits.
	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "response_cache_hits_total",
			Help: "Total number of response cache hits",
		},
	)

	// CacheMissesTotal counts cache misses, including expired reads.
	CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "response_cache_misses_total",
			Help: "Total number of response cache misses",
		},
	)

	// CacheEntries tracks the current number of cache entries.
	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "response_cache_entries",
			Help: "Current number of response cache entries",
		},
	)

	// CacheBytes tracks the approximate cache payload size in bytes.
	CacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "response_cache_bytes",
			Help: "Approximate response cache size in bytes",
		},
	)
)

// Scheduler metrics
var (
	// JobRunsTotal counts job executions by job id and final status.
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_job_runs_total",
			Help: "Total number of background job executions",
		},
		[]string{"job", "status"},
	)

	// JobDuration measures job execution duration in seconds.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_job_duration_seconds",
			Help:    "Background job execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"job"},
	)

	// JobsRunning tracks currently running executions per priority queue.
	JobsRunning = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "scheduler_jobs_running",
			Help: "Currently running job executions per priority queue",
		},
		[]string{"priority"},
	)

	// JobsSkippedTotal counts jobs skipped because of unmet dependencies.
	JobsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_jobs_skipped_total",
			Help: "Jobs skipped because a dependency was not fresh",
		},
		[]string{"job"},
	)
)

// ObserveProviderCall records the outcome counter and latency histogram for
// one upstream call.
func ObserveProviderCall(provider string, d time.Duration, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	ProviderCallsTotal.WithLabelValues(provider, result).Inc()
	ProviderCallDuration.WithLabelValues(provider).Observe(d.Seconds())
}
