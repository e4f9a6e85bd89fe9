// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

package metrics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

// ============================================================================
// Record helpers
// ============================================================================

func TestRecordSourceRequest(t *testing.T) {
	before := testutil.ToFloat64(SourceRequests.WithLabelValues("tmdb", "200"))

	RecordSourceRequest("tmdb", "200", 25*time.Millisecond)

	after := testutil.ToFloat64(SourceRequests.WithLabelValues("tmdb", "200"))
	if after != before+1 {
		t.Errorf("expected counter to increment by 1, got %v -> %v", before, after)
	}
}

func TestRecordPVRRequest(t *testing.T) {
	before := testutil.ToFloat64(PVRRequests.WithLabelValues("list_series", "200"))

	RecordPVRRequest("list_series", "200", 10*time.Millisecond)

	after := testutil.ToFloat64(PVRRequests.WithLabelValues("list_series", "200"))
	if after != before+1 {
		t.Errorf("expected counter to increment by 1, got %v -> %v", before, after)
	}
}

func TestRecordResult(t *testing.T) {
	tests := []struct {
		name    string
		action  string
		success bool
		label   string
	}{
		{"successful unmonitor", "unmonitor", true, "true"},
		{"failed delete", "delete", false, "false"},
		{"none action", "none", true, "true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(SyncResults.WithLabelValues(tt.action, tt.label))
			RecordResult(tt.action, tt.success)
			after := testutil.ToFloat64(SyncResults.WithLabelValues(tt.action, tt.label))
			if after != before+1 {
				t.Errorf("expected %s/%s to increment, got %v -> %v", tt.action, tt.label, before, after)
			}
		})
	}
}

func TestBreakerStateGauge(t *testing.T) {
	BreakerState.WithLabelValues("tmdb").Set(2)

	if got := testutil.ToFloat64(BreakerState.WithLabelValues("tmdb")); got != 2 {
		t.Errorf("expected breaker state 2, got %v", got)
	}

	BreakerState.WithLabelValues("tmdb").Set(0)
}

// ============================================================================
// Snapshot logging
// ============================================================================

func TestLogSnapshot(t *testing.T) {
	CacheHits.WithLabelValues("id-mapping").Inc()

	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	LogSnapshot(logger)

	out := buf.String()
	if !strings.Contains(out, "redundarr_cache_hits_total") {
		t.Errorf("expected snapshot to include cache hits metric, got: %s", out)
	}
	if !strings.Contains(out, `"kind":"id-mapping"`) {
		t.Errorf("expected snapshot to carry labels, got: %s", out)
	}
}

func TestLogSnapshotSkipsZero(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	// A freshly labelled counter stays at zero and must not be logged.
	SourceErrors.WithLabelValues("never-used", "auth")
	LogSnapshot(logger)

	if strings.Contains(buf.String(), "never-used") {
		t.Errorf("zero-valued series should be skipped, got: %s", buf.String())
	}
}
