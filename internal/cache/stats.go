// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

package cache

import (
	"context"
	"fmt"

	"github.com/redundarr/redundarr/internal/metrics"
)

// Stats is a point-in-time snapshot of cache contents and effectiveness.
// Hit and miss counters cover the current process only; entry counts come
// from the durable layer and span runs.
type Stats struct {
	IDMappings    int64   `json:"idMappings"`
	ProviderData  int64   `json:"providerData"`
	BlacklistSize int64   `json:"blacklistSize"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	HitRate       float64 `json:"hitRate"`
}

// Statistics reports current cache contents and this process's hit rate.
func (c *Cache) Statistics(ctx context.Context) (Stats, error) {
	counts, err := c.store.countByKind(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("cache statistics: %w", err)
	}
	blacklisted, err := c.store.countBlacklist(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("cache statistics: %w", err)
	}

	c.statMu.Lock()
	hits, misses := c.hits, c.misses
	c.statMu.Unlock()

	stats := Stats{
		IDMappings:    counts[KindIDMapping],
		ProviderData:  counts[KindProviderData],
		BlacklistSize: blacklisted,
		Hits:          hits,
		Misses:        misses,
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}

	metrics.BlacklistSize.Set(float64(blacklisted))
	return stats, nil
}

// Clear removes cached entries. With a kind ("id-mapping" or
// "provider-data") only that kind is dropped; with an empty kind
// everything goes, blacklist included. The memory layer is flushed either
// way since it does not track kinds.
func (c *Cache) Clear(ctx context.Context, kind string) error {
	if kind != "" && kind != KindIDMapping && kind != KindProviderData {
		return fmt.Errorf("clear cache: unknown kind %q", kind)
	}

	if err := c.store.clearEntries(ctx, kind); err != nil {
		return err
	}
	if kind == "" {
		if err := c.store.clearBlacklist(ctx); err != nil {
			return err
		}
		metrics.BlacklistSize.Set(0)
	}
	c.l1.Flush()

	c.logger.Info().Str("kind", kind).Msg("cache cleared")
	return nil
}
