// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

package cache

import (
	"context"
	"time"

	"github.com/redundarr/redundarr/internal/metrics"
)

// DefaultBlacklistThreshold is the failure count at which lookups for an
// identifier short-circuit to not-found. One strike: a title the primary
// source has never heard of will not be asked about again.
const DefaultBlacklistThreshold = 1

// BlacklistEntry is one identifier's failure history.
type BlacklistEntry struct {
	Identifier     string    `json:"identifier"`
	Reason         string    `json:"reason"`
	FailureCount   int       `json:"failureCount"`
	FirstFailureAt time.Time `json:"firstFailureAt"`
	LastFailureAt  time.Time `json:"lastFailureAt"`
}

// RecordFailure notes one failed resolution for identifier. The first
// failure timestamp is preserved across repeats; the reason reflects the
// most recent failure. Errors degrade to a no-op: a missed blacklist write
// just means one more futile upstream call next run.
func (c *Cache) RecordFailure(ctx context.Context, identifier, reason string) {
	if err := c.store.upsertFailure(ctx, identifier, reason, c.now().UTC().Unix()); err != nil {
		metrics.CacheErrors.WithLabelValues("blacklist").Inc()
		c.logger.Warn().Err(err).Str("identifier", identifier).Msg("failed to record blacklist failure")
		return
	}

	if n, err := c.store.countBlacklist(ctx); err == nil {
		metrics.BlacklistSize.Set(float64(n))
	}
}

// IsBlacklisted reports whether identifier has reached the failure
// threshold. Lookup errors report false; the blacklist is an optimisation
// and must never block a lookup.
func (c *Cache) IsBlacklisted(ctx context.Context, identifier string) bool {
	entry, err := c.store.getFailure(ctx, identifier)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("blacklist").Inc()
		c.logger.Warn().Err(err).Str("identifier", identifier).Msg("blacklist lookup failed")
		return false
	}
	return entry != nil && entry.FailureCount >= c.blacklistThreshold
}

// BlacklistedEntry returns the failure history for identifier, or nil when
// it has none.
func (c *Cache) BlacklistedEntry(ctx context.Context, identifier string) *BlacklistEntry {
	entry, err := c.store.getFailure(ctx, identifier)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("blacklist").Inc()
		c.logger.Warn().Err(err).Str("identifier", identifier).Msg("blacklist lookup failed")
		return nil
	}
	return entry
}
