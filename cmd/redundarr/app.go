// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

package main

import (
	"fmt"
	"time"

	"github.com/redundarr/redundarr/internal/availability"
	"github.com/redundarr/redundarr/internal/cache"
	"github.com/redundarr/redundarr/internal/config"
	"github.com/redundarr/redundarr/internal/logging"
	"github.com/redundarr/redundarr/internal/pvr"
	"github.com/redundarr/redundarr/internal/sources"
	"github.com/redundarr/redundarr/internal/sync"
)

// app is the composed dependency graph behind sync and the live
// diagnostics. Construction is the only place components learn about
// each other; none of the internal packages hold singletons.
type app struct {
	cfg    *config.Config
	store  *cache.Cache
	agg    *availability.Aggregator
	client pvr.Client
	engine *sync.Engine
}

// buildApp wires cache, catalogue sources, aggregator, PVR client and
// engine from a validated configuration. The returned cleanup closes
// the cache and must run even when the command fails afterwards.
func buildApp(cfg *config.Config) (*app, func(), error) {
	store, err := cache.New(cache.Config{
		Path:               cfg.Cache.Path,
		ProviderTTL:        cfg.ProviderAPIs.Primary.TTL(),
		CleanupInterval:    time.Duration(cfg.Cache.CleanupInterval) * time.Second,
		BlacklistThreshold: cfg.Cache.BlacklistThreshold,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open cache %s: %w", cfg.Cache.Path, err)
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("error closing cache")
		}
	}

	primary, fallbacks, err := buildSources(cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	agg := availability.New(store, primary, fallbacks...)

	client, err := pvr.NewSonarr(pvr.SonarrConfig{
		URL:     cfg.PVR.URL,
		APIKey:  cfg.PVR.APIKey,
		Timeout: cfg.PVR.HTTPTimeout(),
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	return &app{
		cfg:    cfg,
		store:  store,
		agg:    agg,
		client: client,
		engine: sync.NewEngine(client, agg, store, cfg),
	}, cleanup, nil
}

// buildSources constructs the enabled catalogue clients in consultation
// order: TMDB primary, then the metered RapidAPI fallbacks.
func buildSources(cfg *config.Config) (*sources.TMDB, []sources.Client, error) {
	var primary *sources.TMDB
	if cfg.ProviderAPIs.Primary.Enabled {
		t, err := sources.NewTMDB(sources.TMDBConfig{
			APIKey:    cfg.ProviderAPIs.Primary.APIKey,
			RateLimit: cfg.ProviderAPIs.Primary.RateLimit,
			CacheTTL:  cfg.ProviderAPIs.Primary.TTL(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("primary source: %w", err)
		}
		primary = t
	}

	var fallbacks []sources.Client
	if cfg.ProviderAPIs.Secondary.Enabled {
		s, err := sources.NewStreamingAvailability(sources.StreamingAvailabilityConfig{
			APIKey:     cfg.ProviderAPIs.Secondary.APIKey,
			DailyQuota: cfg.ProviderAPIs.Secondary.DailyQuota,
			CacheTTL:   cfg.ProviderAPIs.Secondary.TTL(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("secondary source: %w", err)
		}
		fallbacks = append(fallbacks, s)
	}
	if cfg.ProviderAPIs.Tertiary.Enabled {
		u, err := sources.NewUtelly(sources.UtellyConfig{
			APIKey:       cfg.ProviderAPIs.Tertiary.APIKey,
			MonthlyQuota: cfg.ProviderAPIs.Tertiary.MonthlyQuota,
			CacheTTL:     cfg.ProviderAPIs.Tertiary.TTL(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("tertiary source: %w", err)
		}
		fallbacks = append(fallbacks, u)
	}
	return primary, fallbacks, nil
}
