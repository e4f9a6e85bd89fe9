// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

package sources

import (
	"context"
	"sync"
	"time"

	"github.com/redundarr/redundarr/internal/metrics"
)

// RateWindow enforces at most limit calls per rolling window. It keeps
// the exact timestamp of every call still inside the window; when the
// window is full, Wait sleeps until the oldest call ages out. A bucketed
// counter would quantise that wait and occasionally admit a call early,
// which a hard upstream limit does not forgive.
type RateWindow struct {
	mu     sync.Mutex
	name   string
	limit  int
	window time.Duration
	stamps []time.Time

	// injectable for tests
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewRateWindow builds a window for source name admitting limit calls
// per window duration.
func NewRateWindow(name string, limit int, window time.Duration) *RateWindow {
	return &RateWindow{
		name:   name,
		limit:  limit,
		window: window,
		stamps: make([]time.Time, 0, limit),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

// Wait blocks until a call slot is free, then claims it. Returns early
// with the context's error if ctx is cancelled while waiting.
func (w *RateWindow) Wait(ctx context.Context) error {
	for {
		w.mu.Lock()
		now := w.now()
		w.prune(now)

		if len(w.stamps) < w.limit {
			w.stamps = append(w.stamps, now)
			w.mu.Unlock()
			return nil
		}

		wait := w.stamps[0].Add(w.window).Sub(now)
		w.mu.Unlock()

		metrics.SourceRateLimitWaits.WithLabelValues(w.name).Inc()
		if err := w.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// InFlight reports how many calls currently occupy the window.
func (w *RateWindow) InFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.now())
	return len(w.stamps)
}

// Limit returns the window's capacity.
func (w *RateWindow) Limit() int {
	return w.limit
}

// prune drops timestamps older than the window. Callers hold w.mu.
func (w *RateWindow) prune(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// sleepCtx sleeps for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
