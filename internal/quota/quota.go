// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

// Package quota enforces caller-side request ceilings over calendar
// periods. The secondary catalogue source allows a fixed number of
// requests per day, the tertiary per month; exceeding either wastes a
// paid request, so the guard refuses before the HTTP call is issued.
package quota

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redundarr/redundarr/internal/metrics"
)

// ErrExceeded is returned by CheckAndIncrement when the period ceiling is
// reached. The caller skips the source for the remainder of the period.
var ErrExceeded = errors.New("quota exceeded")

// Period is the calendar window a quota resets on.
type Period string

// Period values.
const (
	Daily   Period = "daily"
	Monthly Period = "monthly"
)

// Guard is a per-source quota counter. The counter survives only as long
// as the process; a restarted process starts the period fresh, which can
// under-count but never blocks a paying user longer than one period.
type Guard struct {
	mu        sync.Mutex
	name      string
	period    Period
	ceiling   int
	used      int
	periodKey string

	// now is swappable for rollover tests.
	now func() time.Time
}

// New returns a guard for source name with the given period and ceiling.
func New(name string, period Period, ceiling int) *Guard {
	return &Guard{
		name:    name,
		period:  period,
		ceiling: ceiling,
		now:     time.Now,
	}
}

// CheckAndIncrement consumes one request from the quota. It returns
// ErrExceeded without incrementing when the ceiling is already met. The
// counter resets automatically on the first call after a period rollover.
func (g *Guard) CheckAndIncrement() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollover()
	if g.used >= g.ceiling {
		metrics.QuotaExhaustions.WithLabelValues(g.name).Inc()
		return fmt.Errorf("%s quota for %s (%d/%d): %w", g.period, g.name, g.used, g.ceiling, ErrExceeded)
	}
	g.used++
	metrics.QuotaUsed.WithLabelValues(g.name, string(g.period)).Set(float64(g.used))
	return nil
}

// Saturate jumps the counter to the ceiling. Used when the remote signals
// exhaustion out-of-band (the secondary source answers 403) so that no
// further requests are attempted this period.
func (g *Guard) Saturate() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollover()
	g.used = g.ceiling
	metrics.QuotaUsed.WithLabelValues(g.name, string(g.period)).Set(float64(g.used))
}

// Remaining reports how many requests are left in the current period.
func (g *Guard) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollover()
	if g.used >= g.ceiling {
		return 0
	}
	return g.ceiling - g.used
}

// Used reports how many requests were consumed in the current period.
func (g *Guard) Used() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollover()
	return g.used
}

// Ceiling returns the configured period ceiling.
func (g *Guard) Ceiling() int {
	return g.ceiling
}

// PeriodKind returns the guard's reset period.
func (g *Guard) PeriodKind() Period {
	return g.period
}

// ResetsAt returns the instant the current period rolls over (UTC).
func (g *Guard) ResetsAt() time.Time {
	now := g.now().UTC()
	switch g.period {
	case Monthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	default:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	}
}

// rollover resets the counter when the period key has moved on. Must be
// called with g.mu held.
func (g *Guard) rollover() {
	key := g.currentKey()
	if key != g.periodKey {
		g.periodKey = key
		g.used = 0
		metrics.QuotaUsed.WithLabelValues(g.name, string(g.period)).Set(0)
	}
}

// currentKey derives the calendar bucket: year+day-of-year for daily
// quotas, YYYY-MM for monthly.
func (g *Guard) currentKey() string {
	now := g.now().UTC()
	switch g.period {
	case Monthly:
		return now.Format("2006-01")
	default:
		return fmt.Sprintf("%d-%03d", now.Year(), now.YearDay())
	}
}
