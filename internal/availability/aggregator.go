// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

// Package availability answers the engine's central question: which
// providers carry a series in which of the user's countries? It composes
// the cache, the primary TMDB client and the optional fallback
// catalogues into a single lookup with conservative fallback semantics:
// the metered sources are consulted only for countries the primary
// reported nothing for.
//
// Failures never abort a lookup. A source that errors, trips its breaker
// or runs out of quota simply contributes nothing; the caller always
// receives a record, possibly empty.
package availability

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/redundarr/redundarr/internal/breaker"
	"github.com/redundarr/redundarr/internal/cache"
	"github.com/redundarr/redundarr/internal/logging"
	"github.com/redundarr/redundarr/internal/models"
	"github.com/redundarr/redundarr/internal/quota"
	"github.com/redundarr/redundarr/internal/sources"
)

// imdbPattern gates every identifier before it reaches the network.
var imdbPattern = regexp.MustCompile(`^tt\d{7,8}$`)

// defaultAggregateTTL applies when no primary source is configured to
// supply its cache lifetime.
const defaultAggregateTTL = 24 * time.Hour

// blacklistNotFound is the failure reason recorded when the primary
// source does not know an identifier at all.
const blacklistNotFound = "not found on primary source"

// Aggregator owns the multi-source lookup. The primary is consulted for
// every country; the fallbacks, in order, only for countries still
// missing afterwards.
type Aggregator struct {
	cache     *cache.Cache
	primary   *sources.TMDB
	fallbacks []sources.Client
	logger    zerolog.Logger
}

// New builds an Aggregator. primary may be nil when the primary source
// is disabled; fallbacks are consulted in the order given.
func New(c *cache.Cache, primary *sources.TMDB, fallbacks ...sources.Client) *Aggregator {
	return &Aggregator{
		cache:     c,
		primary:   primary,
		fallbacks: fallbacks,
		logger:    logging.With().Str("component", "availability").Logger(),
	}
}

// Availability resolves the providers carrying imdbID in the given
// countries. The returned record only ever contains requested countries.
// A malformed or blacklisted identifier yields an empty record without
// touching the network; the only error returned is ctx's.
func (a *Aggregator) Availability(ctx context.Context, imdbID string, countries []string) (*models.AvailabilityRecord, error) {
	countries = normalizeCountries(countries)
	record := models.NewAvailabilityRecord(imdbID)

	if !imdbPattern.MatchString(imdbID) {
		a.logger.Warn().Str("imdb_id", imdbID).Msg("malformed IMDb identifier, lookup skipped")
		return record, nil
	}
	if len(countries) == 0 {
		return record, nil
	}
	if a.cache.IsBlacklisted(ctx, imdbID) {
		a.logger.Debug().Str("imdb_id", imdbID).Msg("identifier blacklisted, lookup skipped")
		return record, nil
	}

	if payload, ok := a.cache.GetAggregate(ctx, imdbID, countries); ok {
		cached := &models.AvailabilityRecord{}
		if err := json.Unmarshal(payload, cached); err == nil {
			return cached, nil
		}
		a.logger.Warn().Str("imdb_id", imdbID).Msg("corrupt aggregate cache entry, refetching")
	}

	a.consultPrimary(ctx, record, countries)
	if err := ctx.Err(); err != nil {
		return record, err
	}

	// Conservative fallback: each metered source sees only the countries
	// still empty after everything consulted before it.
	for _, src := range a.fallbacks {
		missing := missingCountries(record, countries)
		if len(missing) == 0 {
			break
		}
		a.consultFallback(ctx, src, record, missing)
		if err := ctx.Err(); err != nil {
			return record, err
		}
	}

	// Nothing consulted means nothing learned; caching that would hide
	// a transient outage until the TTL runs out.
	if len(record.Sources) > 0 {
		a.storeAggregate(ctx, record, countries)
	}
	return record, nil
}

// consultPrimary resolves the TMDB ID (cache first) and folds in the
// per-country watch providers, fetching the full payload at most once.
func (a *Aggregator) consultPrimary(ctx context.Context, record *models.AvailabilityRecord, countries []string) {
	if a.primary == nil {
		return
	}
	imdbID := record.IMDBID

	tmdbID, ok := a.cache.GetIDMapping(ctx, imdbID)
	if !ok {
		var err error
		tmdbID, err = a.primary.FindTVByIMDB(ctx, imdbID)
		switch {
		case err == nil:
			a.cache.PutIDMapping(ctx, imdbID, tmdbID)
		case errors.Is(err, sources.ErrNotFound):
			a.cache.RecordFailure(ctx, imdbID, blacklistNotFound)
			a.logger.Info().Str("imdb_id", imdbID).Msg("series unknown to primary source, identifier blacklisted")
			return
		default:
			a.logger.Warn().Str("imdb_id", imdbID).Err(err).Msg("primary id lookup failed")
			return
		}
	}
	record.TMDBID = int(tmdbID)

	var (
		fetched     map[string]sources.Offers
		fetchErr    error
		fetchedOnce bool
		contributed bool
	)
	for _, country := range countries {
		if payload, ok := a.cache.GetProviderData(ctx, tmdbID, country); ok {
			offers := sources.Offers{}
			if err := json.Unmarshal(payload, &offers); err == nil {
				contributed = true
				mergeOffers(record, country, offers)
				continue
			}
			a.logger.Warn().Int64("tmdb_id", tmdbID).Str("country", country).Msg("corrupt provider cache entry, refetching")
		}

		// One fetch covers every country; its payload is cached per
		// country so later lookups with other country sets stay local.
		if !fetchedOnce {
			fetchedOnce = true
			fetched, fetchErr = a.primary.WatchProviders(ctx, tmdbID)
			if fetchErr != nil {
				a.logger.Warn().Int64("tmdb_id", tmdbID).Err(fetchErr).Msg("primary provider lookup failed")
			} else {
				a.storeWatchPayload(ctx, tmdbID, fetched, countries)
			}
		}
		if fetchErr != nil {
			continue
		}

		contributed = true
		mergeOffers(record, country, fetched[country])
	}

	if contributed {
		record.AddSource(a.primary.Name())
	}
}

// consultFallback queries one metered source for the missing countries.
// Quota exhaustion and an open breaker stop the source for this lookup;
// anything else is logged and skipped per country.
func (a *Aggregator) consultFallback(ctx context.Context, src sources.Client, record *models.AvailabilityRecord, countries []string) {
	status := src.Status()
	if status.BreakerState == "open" {
		a.logger.Debug().Str("source", src.Name()).Msg("breaker open, fallback source skipped")
		return
	}
	if status.Limit > 0 && status.Remaining <= 0 {
		a.logger.Debug().Str("source", src.Name()).Msg("quota exhausted, fallback source skipped")
		return
	}

	contributed := false
	defer func() {
		if contributed {
			record.AddSource(src.Name())
		}
	}()

	for _, country := range countries {
		offers, err := src.Lookup(ctx, record.IMDBID, country)
		switch {
		case err == nil:
		case errors.Is(err, quota.ErrExceeded):
			a.logger.Info().Str("source", src.Name()).Msg("quota exhausted, fallback source stopped")
			return
		case errors.Is(err, breaker.ErrOpen):
			a.logger.Debug().Str("source", src.Name()).Msg("breaker opened, fallback source stopped")
			return
		case ctx.Err() != nil:
			return
		default:
			a.logger.Warn().
				Str("source", src.Name()).
				Str("imdb_id", record.IMDBID).
				Str("country", country).
				Err(err).
				Msg("fallback lookup failed")
			continue
		}

		// An empty answer is still an answer; the source was consulted.
		contributed = true
		mergeOffers(record, country, offers)
	}
}

// storeWatchPayload caches every country in a watch-providers response,
// plus explicit empty entries for requested countries the response
// lacks, so a known-empty country does not refetch.
func (a *Aggregator) storeWatchPayload(ctx context.Context, tmdbID int64, fetched map[string]sources.Offers, requested []string) {
	for country, offers := range fetched {
		a.storeProviderData(ctx, tmdbID, country, offers)
	}
	for _, country := range requested {
		if _, ok := fetched[country]; !ok {
			a.storeProviderData(ctx, tmdbID, country, sources.Offers{})
		}
	}
}

func (a *Aggregator) storeProviderData(ctx context.Context, tmdbID int64, country string, offers sources.Offers) {
	payload, err := json.Marshal(offers)
	if err != nil {
		return
	}
	a.cache.PutProviderData(ctx, tmdbID, country, payload, a.primary.TTL())
}

// storeAggregate caches the combined record under the country set.
func (a *Aggregator) storeAggregate(ctx context.Context, record *models.AvailabilityRecord, countries []string) {
	payload, err := json.Marshal(record)
	if err != nil {
		return
	}
	ttl := defaultAggregateTTL
	if a.primary != nil {
		ttl = a.primary.TTL()
	}
	a.cache.PutAggregate(ctx, record.IMDBID, countries, payload, ttl)
}

// Diagnostics reports rate, quota and breaker state for every configured
// source, in consultation order.
func (a *Aggregator) Diagnostics() []sources.Status {
	out := make([]sources.Status, 0, 1+len(a.fallbacks))
	if a.primary != nil {
		out = append(out, a.primary.Status())
	}
	for _, src := range a.fallbacks {
		out = append(out, src.Status())
	}
	return out
}

func mergeOffers(record *models.AvailabilityRecord, country string, offers sources.Offers) {
	for key, offer := range offers {
		record.MergeOffer(country, key, offer)
	}
}

// missingCountries lists the requested countries with no providers yet,
// preserving request order.
func missingCountries(record *models.AvailabilityRecord, countries []string) []string {
	var missing []string
	for _, c := range countries {
		if !record.HasProviders(c) {
			missing = append(missing, c)
		}
	}
	return missing
}

// normalizeCountries uppercases, deduplicates and sorts the requested
// country codes.
func normalizeCountries(countries []string) []string {
	seen := make(map[string]struct{}, len(countries))
	out := make([]string, 0, len(countries))
	for _, c := range countries {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
