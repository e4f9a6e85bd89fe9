// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

// Package cache persists catalogue lookups between runs so that repeated
// syncs do not burn upstream quotas re-fetching data that rarely changes.
//
// Two layers: a process-local in-memory cache for reads within a run, and
// a SQLite file as the durable layer shared across runs. SQLite is
// authoritative; the memory layer is repopulated from it on read. The same
// file carries the identifier blacklist (see blacklist.go).
//
// Entries come in two kinds with very different lifetimes:
//
//   - id-mapping: IMDb ID -> TMDB ID. Immutable upstream, stored with an
//     effectively permanent expiry and never swept.
//   - provider-data: per-title availability payloads. Expire after the
//     configured TTL and are swept opportunistically on writes.
//
// Cache failures are never fatal. Every error path degrades to a miss (or
// a dropped write) with a warning log, so a corrupt or locked cache file
// costs upstream requests, not a sync run.
package cache

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/redundarr/redundarr/internal/logging"
	"github.com/redundarr/redundarr/internal/metrics"
)

// Entry kinds as stored in the kind column and exported as metric labels.
const (
	KindIDMapping    = "id-mapping"
	KindProviderData = "provider-data"
)

const (
	// DefaultProviderTTL is how long availability payloads stay fresh.
	DefaultProviderTTL = 24 * time.Hour

	// DefaultCleanupInterval bounds how often expired provider rows are
	// swept. The sweep piggybacks on writes; there is no timer goroutine.
	DefaultCleanupInterval = time.Hour

	// idMappingTTL makes IMDb->TMDB rows effectively permanent. The IDs
	// never change upstream, so they only leave the cache via Clear.
	idMappingTTL = 10 * 365 * 24 * time.Hour
)

// Config holds cache construction parameters.
type Config struct {
	// Path is the SQLite file location. Created if missing.
	Path string

	// ProviderTTL is the lifetime of provider-data entries.
	// Zero means DefaultProviderTTL.
	ProviderTTL time.Duration

	// CleanupInterval is the minimum spacing between expiry sweeps.
	// Zero means DefaultCleanupInterval.
	CleanupInterval time.Duration

	// BlacklistThreshold is the failure count at which an identifier is
	// treated as not-found without an upstream call. Zero means
	// DefaultBlacklistThreshold.
	BlacklistThreshold int
}

// Cache is the two-layer lookup cache plus blacklist.
type Cache struct {
	store  *Store
	l1     *gocache.Cache
	logger zerolog.Logger

	providerTTL        time.Duration
	cleanupInterval    time.Duration
	blacklistThreshold int

	statMu sync.Mutex
	hits   int64
	misses int64

	cleanupMu   sync.Mutex
	lastCleanup time.Time

	// now is injectable for expiry tests.
	now func() time.Time
}

// New opens the cache at cfg.Path. The returned Cache must be closed.
func New(cfg Config) (*Cache, error) {
	store, err := OpenStore(cfg.Path)
	if err != nil {
		return nil, err
	}

	if cfg.ProviderTTL <= 0 {
		cfg.ProviderTTL = DefaultProviderTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.BlacklistThreshold <= 0 {
		cfg.BlacklistThreshold = DefaultBlacklistThreshold
	}

	c := &Cache{
		store:              store,
		l1:                 gocache.New(cfg.ProviderTTL, 2*cfg.CleanupInterval),
		logger:             logging.With().Str("component", "cache").Logger(),
		providerTTL:        cfg.ProviderTTL,
		cleanupInterval:    cfg.CleanupInterval,
		blacklistThreshold: cfg.BlacklistThreshold,
		now:                time.Now,
	}

	c.logger.Debug().
		Str("path", cfg.Path).
		Dur("provider_ttl", cfg.ProviderTTL).
		Msg("cache opened")

	return c, nil
}

// Close flushes the memory layer and closes the database.
func (c *Cache) Close() error {
	c.l1.Flush()
	return c.store.Close()
}

// ============================================================================
// Keyspaces
// ============================================================================

// Key builders. The prefix encodes the keyspace; Invalidate relies on the
// "providers:<tmdbID>" prefix covering both per-country and countryless
// variants.

func idMappingKey(imdbID string) string {
	return "id_mapping:" + imdbID
}

func providerDataKey(tmdbID int64, country string) string {
	if country == "" {
		return "providers:" + strconv.FormatInt(tmdbID, 10)
	}
	return "providers:" + strconv.FormatInt(tmdbID, 10) + ":" + strings.ToUpper(country)
}

func aggregateKey(imdbID string, countries []string) string {
	upper := make([]string, 0, len(countries))
	for _, cc := range countries {
		upper = append(upper, strings.ToUpper(strings.TrimSpace(cc)))
	}
	sort.Strings(upper)
	return "aggregate:" + imdbID + ":" + strings.Join(upper, ",")
}

// metricKind maps a key to the label used on cache hit/miss counters.
func metricKind(key string) string {
	switch {
	case strings.HasPrefix(key, "id_mapping:"):
		return KindIDMapping
	case strings.HasPrefix(key, "aggregate:"):
		return "aggregate"
	default:
		return KindProviderData
	}
}

// ============================================================================
// Core get/put
// ============================================================================

// get returns the payload for key, or (nil, false) on a miss. Expired
// durable rows are deleted on read. Store errors degrade to a miss.
func (c *Cache) get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := c.l1.Get(key); ok {
		c.recordHit(key)
		return v.([]byte), true
	}

	row, err := c.store.getEntry(ctx, key)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("get").Inc()
		c.logger.Warn().Err(err).Str("key", key).Msg("cache read failed, treating as miss")
		c.recordMiss(key)
		return nil, false
	}
	if row == nil {
		c.recordMiss(key)
		return nil, false
	}

	now := c.now().UTC()
	if now.Unix() >= row.expiresAt {
		if err := c.store.deleteEntry(ctx, key); err != nil {
			metrics.CacheErrors.WithLabelValues("delete").Inc()
			c.logger.Warn().Err(err).Str("key", key).Msg("failed to delete expired cache entry")
		} else {
			metrics.CacheEvictions.Inc()
		}
		c.recordMiss(key)
		return nil, false
	}

	// Repopulate the memory layer with the remaining lifetime so it can
	// never outlive the durable row.
	c.l1.Set(key, row.payload, time.Unix(row.expiresAt, 0).Sub(now))
	c.recordHit(key)
	return row.payload, true
}

// put stores payload under key for ttl. Write errors are logged and
// swallowed; a failed cache write must not fail the lookup that produced
// the payload.
func (c *Cache) put(ctx context.Context, key string, payload []byte, kind string, ttl time.Duration) {
	now := c.now().UTC()
	row := entryRow{
		key:       key,
		payload:   payload,
		kind:      kind,
		createdAt: now.Unix(),
		expiresAt: now.Add(ttl).Unix(),
	}

	if err := c.store.putEntry(ctx, row); err != nil {
		metrics.CacheErrors.WithLabelValues("put").Inc()
		c.logger.Warn().Err(err).Str("key", key).Msg("cache write failed, entry not persisted")
		return
	}
	c.l1.Set(key, payload, ttl)

	c.maybeCleanup(ctx)
}

func (c *Cache) recordHit(key string) {
	c.statMu.Lock()
	c.hits++
	c.statMu.Unlock()
	metrics.CacheHits.WithLabelValues(metricKind(key)).Inc()
}

func (c *Cache) recordMiss(key string) {
	c.statMu.Lock()
	c.misses++
	c.statMu.Unlock()
	metrics.CacheMisses.WithLabelValues(metricKind(key)).Inc()
}

// ============================================================================
// Typed accessors
// ============================================================================

// GetIDMapping returns the cached TMDB ID for an IMDb ID.
func (c *Cache) GetIDMapping(ctx context.Context, imdbID string) (int64, bool) {
	key := idMappingKey(imdbID)
	payload, ok := c.get(ctx, key)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(string(payload), 10, 64)
	if err != nil {
		// Corrupt row: drop it and miss.
		metrics.CacheErrors.WithLabelValues("decode").Inc()
		c.logger.Warn().Str("imdb_id", imdbID).Msg("corrupt id-mapping entry, discarding")
		_ = c.store.deleteEntry(ctx, key)
		c.l1.Delete(key)
		return 0, false
	}
	return id, true
}

// PutIDMapping stores an IMDb -> TMDB mapping. Mappings are permanent:
// the IDs are assigned once upstream and never remapped.
func (c *Cache) PutIDMapping(ctx context.Context, imdbID string, tmdbID int64) {
	c.put(ctx, idMappingKey(imdbID), []byte(strconv.FormatInt(tmdbID, 10)), KindIDMapping, idMappingTTL)
}

// GetProviderData returns a cached availability payload for a TMDB ID,
// optionally scoped to one country.
func (c *Cache) GetProviderData(ctx context.Context, tmdbID int64, country string) ([]byte, bool) {
	return c.get(ctx, providerDataKey(tmdbID, country))
}

// PutProviderData stores an availability payload. Each source passes its
// own TTL (the catalogues refresh at very different cadences); ttl <= 0
// falls back to the configured default.
func (c *Cache) PutProviderData(ctx context.Context, tmdbID int64, country string, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.providerTTL
	}
	c.put(ctx, providerDataKey(tmdbID, country), payload, KindProviderData, ttl)
}

// GetAggregate returns a cached merged availability record for an IMDb ID
// and country set.
func (c *Cache) GetAggregate(ctx context.Context, imdbID string, countries []string) ([]byte, bool) {
	return c.get(ctx, aggregateKey(imdbID, countries))
}

// PutAggregate stores a merged availability record. Aggregates follow the
// primary source's TTL; ttl <= 0 falls back to the configured default.
func (c *Cache) PutAggregate(ctx context.Context, imdbID string, countries []string, payload []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.providerTTL
	}
	c.put(ctx, aggregateKey(imdbID, countries), payload, KindProviderData, ttl)
}

// ============================================================================
// Invalidation and sweeping
// ============================================================================

// Invalidate removes provider data for a TMDB ID. With a country it removes
// exactly that entry; without, every entry for the title.
func (c *Cache) Invalidate(ctx context.Context, tmdbID int64, country string) error {
	if country != "" {
		key := providerDataKey(tmdbID, country)
		c.l1.Delete(key)
		if err := c.store.deleteEntry(ctx, key); err != nil {
			metrics.CacheErrors.WithLabelValues("invalidate").Inc()
			return err
		}
		return nil
	}

	prefix := providerDataKey(tmdbID, "")
	for key := range c.l1.Items() {
		if strings.HasPrefix(key, prefix) {
			c.l1.Delete(key)
		}
	}
	n, err := c.store.deleteByPrefix(ctx, prefix)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("invalidate").Inc()
		return err
	}
	if n > 0 {
		c.logger.Debug().Int64("tmdb_id", tmdbID).Int64("removed", n).Msg("invalidated provider data")
	}
	return nil
}

// CleanupExpired sweeps expired provider-data rows and returns the count
// removed. ID mappings are exempt: their expiry is a sentinel far in the
// future and the rows are meant to survive indefinitely.
func (c *Cache) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := c.store.deleteExpired(ctx, KindProviderData, c.now().UTC().Unix())
	if err != nil {
		metrics.CacheErrors.WithLabelValues("cleanup").Inc()
		return 0, err
	}
	if n > 0 {
		metrics.CacheEvictions.Add(float64(n))
		c.logger.Debug().Int64("removed", n).Msg("swept expired cache entries")
	}
	return n, nil
}

// maybeCleanup runs CleanupExpired at most once per cleanup interval.
// Piggybacked on writes so an idle process does no background work.
func (c *Cache) maybeCleanup(ctx context.Context) {
	c.cleanupMu.Lock()
	due := c.now().Sub(c.lastCleanup) >= c.cleanupInterval
	if due {
		c.lastCleanup = c.now()
	}
	c.cleanupMu.Unlock()

	if !due {
		return
	}
	if _, err := c.CleanupExpired(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("expired entry sweep failed")
	}
}
