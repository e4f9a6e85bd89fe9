// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
)

var (
	// Cache Metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redundarr_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"kind"}, // "id-mapping", "provider-data", "aggregate"
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redundarr_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"kind"},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redundarr_cache_evictions_total",
			Help: "Total number of expired provider-data entries removed",
		},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redundarr_cache_errors_total",
			Help: "Total number of cache backing-store errors (degraded to misses)",
		},
		[]string{"operation"}, // "get", "put", "cleanup", "invalidate"
	)

	BlacklistSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "redundarr_blacklist_identifiers",
			Help: "Current number of blacklisted identifiers",
		},
	)

	// Source Client Metrics
	SourceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redundarr_source_requests_total",
			Help: "Total number of HTTP requests issued to catalogue sources",
		},
		[]string{"source", "status_code"},
	)

	SourceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redundarr_source_request_duration_seconds",
			Help:    "Duration of catalogue source requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	SourceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redundarr_source_errors_total",
			Help: "Total number of catalogue source failures by kind",
		},
		[]string{"source", "kind"}, // "auth", "rate_limited", "not_found", "transient", "quota"
	)

	SourceRateLimitWaits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redundarr_source_rate_limit_waits_total",
			Help: "Total number of waits imposed by the client-side rate window",
		},
		[]string{"source"},
	)

	// Circuit Breaker Metrics
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "redundarr_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"source"},
	)

	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redundarr_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"source", "from_state", "to_state"},
	)

	BreakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redundarr_breaker_rejections_total",
			Help: "Total number of calls rejected by an open circuit breaker",
		},
		[]string{"source"},
	)

	// Quota Metrics
	QuotaUsed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "redundarr_quota_used",
			Help: "Requests consumed from the source quota in the current period",
		},
		[]string{"source", "period"}, // period: "daily", "monthly"
	)

	QuotaExhaustions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redundarr_quota_exhaustions_total",
			Help: "Total number of lookups refused because a quota was exhausted",
		},
		[]string{"source"},
	)

	// PVR Client Metrics
	PVRRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redundarr_pvr_requests_total",
			Help: "Total number of PVR API requests",
		},
		[]string{"operation", "status_code"},
	)

	PVRRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redundarr_pvr_request_duration_seconds",
			Help:    "Duration of PVR API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Sync Run Metrics
	SyncRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "redundarr_sync_run_duration_seconds",
			Help:    "Duration of complete sync runs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	SyncSeriesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redundarr_sync_series_processed_total",
			Help: "Total number of series evaluated by the engine",
		},
	)

	SyncDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redundarr_sync_decisions_total",
			Help: "Total number of planner decisions by action and scope",
		},
		[]string{"action", "scope"},
	)

	SyncResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redundarr_sync_results_total",
			Help: "Total number of executor results by action and outcome",
		},
		[]string{"action", "success"},
	)
)

// RecordSourceRequest records one HTTP round trip against a catalogue source.
func RecordSourceRequest(source string, statusCode int, duration time.Duration) {
	SourceRequests.WithLabelValues(source, strconv.Itoa(statusCode)).Inc()
	SourceRequestDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordPVRRequest records one PVR API round trip.
func RecordPVRRequest(operation string, statusCode int, duration time.Duration) {
	PVRRequests.WithLabelValues(operation, strconv.Itoa(statusCode)).Inc()
	PVRRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordResult records an executor result.
func RecordResult(action string, success bool) {
	successStr := "true"
	if !success {
		successStr = "false"
	}
	SyncResults.WithLabelValues(action, successStr).Inc()
}

// LogSnapshot gathers the default registry and debug-logs every non-zero
// counter and gauge. Called at the end of a sync run so scripted users get
// the instrumentation without a metrics endpoint.
func LogSnapshot(logger zerolog.Logger) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		logger.Debug().Err(err).Msg("metrics gather failed")
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			value, ok := scalarValue(m)
			if !ok || value == 0 {
				continue
			}
			ev := logger.Debug().Str("metric", mf.GetName()).Float64("value", value)
			for _, lp := range m.GetLabel() {
				ev = ev.Str(lp.GetName(), lp.GetValue())
			}
			ev.Msg("metric snapshot")
		}
	}
}

// scalarValue extracts the value of a counter or gauge sample. Histograms
// and summaries are skipped; their aggregates add noise to a CLI run log.
func scalarValue(m *dto.Metric) (float64, bool) {
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue(), true
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue(), true
	default:
		return 0, false
	}
}
