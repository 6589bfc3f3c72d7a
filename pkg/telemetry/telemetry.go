// Package telemetry exposes Prometheus metrics for the scoring path. Every
// silent degradation (fallback, cache miss, provider exclusion, fail-open)
// is counted here so "never surfaces an error" does not mean "invisible".
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the instrument set shared across the pipeline.
type Metrics struct {
	ScansTotal     *prometheus.CounterVec
	ScanDuration   prometheus.Histogram
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	Fallbacks      *prometheus.CounterVec
	AILatency      prometheus.Histogram
	AIErrors       *prometheus.CounterVec
	ProviderErrors *prometheus.CounterVec
	QuotaFailOpen  prometheus.Counter
	QuotaDenied    prometheus.Counter
	NotifyDropped  prometheus.Counter
}

// New registers the instrument set on reg. Pass prometheus.DefaultRegisterer
// in production; tests use a throwaway registry so names never collide.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ScansTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moat",
			Name:      "scans_total",
			Help:      "Scans processed, by input type and verdict level.",
		}, []string{"input", "level"}),
		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "moat",
			Name:      "scan_duration_seconds",
			Help:      "End-to-end scan latency.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "moat",
			Name:      "response_cache_hits_total",
			Help:      "AI response cache hits.",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "moat",
			Name:      "response_cache_misses_total",
			Help:      "AI response cache misses.",
		}),
		Fallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moat",
			Name:      "ai_fallbacks_total",
			Help:      "AI-path fallbacks to the heuristic path, by reason.",
		}, []string{"reason"}),
		AILatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "moat",
			Name:      "ai_call_duration_seconds",
			Help:      "Latency of external AI provider calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		AIErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moat",
			Name:      "ai_errors_total",
			Help:      "Failed AI provider calls, by provider.",
		}, []string{"provider"}),
		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "moat",
			Name:      "reputation_provider_errors_total",
			Help:      "Reputation providers excluded from a lookup, by provider.",
		}, []string{"provider"}),
		QuotaFailOpen: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "moat",
			Name:      "quota_fail_open_total",
			Help:      "Quota checks allowed because the usage store was unreachable.",
		}),
		QuotaDenied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "moat",
			Name:      "quota_denied_total",
			Help:      "Scans pushed to the heuristic path by an exhausted quota.",
		}),
		NotifyDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "moat",
			Name:      "notifications_dropped_total",
			Help:      "Verdict notifications dropped at the concurrency cap.",
		}),
	}
}
