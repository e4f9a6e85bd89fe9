// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

/*
Package metrics provides Prometheus instrumentation for the reconciliation
engine.

Redundarr is a single-shot CLI, not a daemon, so no /metrics endpoint is
exposed. The collectors are registered on the default registry and their
final values are emitted as debug-level log lines at the end of a run via
LogSnapshot, which keeps the instrumentation useful for scripted and cron
invocations without carrying an HTTP server.

# Available Metrics

Cache metrics:
  - redundarr_cache_hits_total: Cache hits (counter)
    Labels: kind (id-mapping, provider-data, aggregate)
  - redundarr_cache_misses_total: Cache misses (counter)
    Labels: kind
  - redundarr_cache_evictions_total: Expired provider-data entries removed (counter)
  - redundarr_cache_errors_total: Backing-store errors degraded to misses (counter)
    Labels: operation (get, put, cleanup, invalidate)
  - redundarr_blacklist_identifiers: Currently blacklisted identifiers (gauge)

Catalogue source metrics:
  - redundarr_source_requests_total: HTTP requests to catalogue sources (counter)
    Labels: source, status_code
  - redundarr_source_request_duration_seconds: Request latency (histogram)
    Labels: source
  - redundarr_source_errors_total: Source failures by kind (counter)
    Labels: source, kind (auth, rate_limited, not_found, transient, quota)
  - redundarr_source_rate_limit_waits_total: Client-side rate window waits (counter)
    Labels: source

Circuit breaker metrics:
  - redundarr_breaker_state: Current state (gauge)
    Labels: source
    Values: 0=closed, 1=half-open, 2=open
  - redundarr_breaker_state_transitions_total: State transitions (counter)
    Labels: source, from_state, to_state
  - redundarr_breaker_rejections_total: Calls rejected while open (counter)
    Labels: source

Quota metrics:
  - redundarr_quota_used: Requests consumed in the current period (gauge)
    Labels: source, period (daily, monthly)
  - redundarr_quota_exhaustions_total: Lookups refused on an empty quota (counter)
    Labels: source

PVR metrics:
  - redundarr_pvr_requests_total: PVR API requests (counter)
    Labels: operation, status_code
  - redundarr_pvr_request_duration_seconds: PVR request latency (histogram)
    Labels: operation

Sync run metrics:
  - redundarr_sync_run_duration_seconds: Complete run duration (histogram)
    Buckets: 1, 5, 10, 30, 60, 120, 300, 600
  - redundarr_sync_series_processed_total: Series evaluated (counter)
  - redundarr_sync_decisions_total: Planner decisions (counter)
    Labels: action, scope
  - redundarr_sync_results_total: Executor results (counter)
    Labels: action, success

# Usage Example

Recording a source request and dumping the snapshot:

	start := time.Now()
	resp, err := client.Do(req)
	metrics.RecordSourceRequest("tmdb", resp.StatusCode, time.Since(start))

	// at the end of a run
	metrics.LogSnapshot(logging.With().Logger())

# Cardinality Management

Label values are drawn from small fixed sets: source names come from the
configured catalogue clients, error kinds and cache operations are package
constants, and status codes are the handful a given API returns. Series
titles, identifiers, and other unbounded values never become labels.

# Thread Safety

All collectors are registered once via promauto at package init and are safe
for concurrent use from the engine's worker goroutines.
*/
package metrics
