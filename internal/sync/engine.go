// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

// Package sync drives reconciliation runs: list the monitored library,
// resolve streaming availability per series, plan an action, execute it.
// The planner is pure; the executor owns the PVR mutations and the
// dry-run gate; the engine owns eligibility, ordering, and concurrency.
package sync

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/redundarr/redundarr/internal/availability"
	"github.com/redundarr/redundarr/internal/cache"
	"github.com/redundarr/redundarr/internal/config"
	"github.com/redundarr/redundarr/internal/logging"
	"github.com/redundarr/redundarr/internal/metrics"
	"github.com/redundarr/redundarr/internal/models"
	"github.com/redundarr/redundarr/internal/pvr"
	"github.com/redundarr/redundarr/internal/sources"
)

// reasonUnknown is the verdict when no catalogue source could answer at
// all (breakers open, quotas exhausted, identifier malformed). Distinct
// from reasonNotAvailable: sources answered there. Blacklisted
// identifiers get a reason naming the recorded failure instead.
const reasonUnknown = "availability unknown (no catalogue source answered)"

// Engine runs one reconciliation pass over the PVR library.
type Engine struct {
	pvr        pvr.Client
	aggregator *availability.Aggregator
	store      *cache.Cache
	executor   *Executor

	subs      []config.StreamingProvider
	countries []string
	plan      PlanConfig

	excludeRecentDays int
	concurrency       int

	logger zerolog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// NewEngine wires a run from the composed dependencies and the loaded
// configuration.
func NewEngine(client pvr.Client, agg *availability.Aggregator, store *cache.Cache, cfg *config.Config) *Engine {
	countries := make([]string, 0, len(cfg.StreamingProviders))
	seen := make(map[string]struct{}, len(cfg.StreamingProviders))
	for _, sub := range cfg.StreamingProviders {
		c := strings.ToUpper(strings.TrimSpace(sub.Country))
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		countries = append(countries, c)
	}

	return &Engine{
		pvr:               client,
		aggregator:        agg,
		store:             store,
		executor:          NewExecutor(client, cfg.Sync.DryRun),
		subs:              cfg.StreamingProviders,
		countries:         countries,
		plan:              PlanConfig{Action: models.Action(cfg.Sync.Action)},
		excludeRecentDays: cfg.Sync.ExcludeRecentDays,
		concurrency:       cfg.Sync.Concurrency,
		logger:            logging.With().Str("component", "engine").Logger(),
		now:               time.Now,
	}
}

// Run executes one reconciliation pass and returns a result per
// processed series, in library order. progress, when non-nil, is called
// before each series with its position. Listing the library is the only
// fatal failure; everything after degrades to per-series results. On
// context cancellation the results gathered so far are returned with
// the context's error.
func (e *Engine) Run(ctx context.Context, progress func(current, total int, title string)) ([]models.Result, error) {
	runID := logging.NewRunID()
	logger := e.logger.With().Str("run_id", runID).Logger()
	start := e.now()

	series, err := e.pvr.ListMonitoredSeries(ctx)
	if err != nil {
		return nil, fmt.Errorf("list monitored series: %w", err)
	}

	eligible := e.eligible(logger, series)
	logger.Info().
		Int("monitored", len(series)).
		Int("eligible", len(eligible)).
		Bool("dry_run", e.executor.dryRun).
		Str("action", string(e.plan.Action)).
		Msg("sync run started")

	results := make([]models.Result, len(eligible))
	var runErr error
	if e.concurrency > 1 {
		runErr = e.runConcurrent(ctx, logger, eligible, results, progress)
	} else {
		runErr = e.runSequential(ctx, logger, eligible, results, progress)
	}

	metrics.SyncRunDuration.Observe(e.now().Sub(start).Seconds())
	metrics.LogSnapshot(logger)

	if runErr != nil {
		return compact(results), runErr
	}
	logger.Info().Int("results", len(results)).Dur("elapsed", e.now().Sub(start)).Msg("sync run finished")
	return results, nil
}

func (e *Engine) runSequential(ctx context.Context, logger zerolog.Logger, eligible []models.Series, results []models.Result, progress func(int, int, string)) error {
	for i, s := range eligible {
		if err := ctx.Err(); err != nil {
			return err
		}
		if progress != nil {
			progress(i+1, len(eligible), s.Title)
		}
		results[i] = e.processSeries(ctx, logger, s)
	}
	return nil
}

func (e *Engine) runConcurrent(ctx context.Context, logger zerolog.Logger, eligible []models.Series, results []models.Result, progress func(int, int, string)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	var started atomic.Int64
	for i, s := range eligible {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if progress != nil {
				progress(int(started.Add(1)), len(eligible), s.Title)
			}
			results[i] = e.processSeries(gctx, logger, s)
			return nil
		})
	}
	return g.Wait()
}

// eligible applies the run filters: only monitored series, and nothing
// added within the exclusion window. A missing added date cannot prove
// the series is recent, so it passes.
func (e *Engine) eligible(logger zerolog.Logger, series []models.Series) []models.Series {
	cutoff := e.now().AddDate(0, 0, -e.excludeRecentDays)

	out := make([]models.Series, 0, len(series))
	for _, s := range series {
		if !s.Monitored {
			continue
		}
		if s.AddedAt.IsZero() {
			logger.Debug().Str("series", s.Title).Msg("no added date reported, treating as not recent")
		} else if e.excludeRecentDays > 0 && s.AddedAt.After(cutoff) {
			logger.Debug().Str("series", s.Title).Time("added", s.AddedAt).Msg("recently added, skipped")
			continue
		}
		out = append(out, s)
	}
	return out
}

// processSeries runs the availability -> plan -> execute pipeline for
// one series. Every failure, panics included, becomes a failed result.
func (e *Engine) processSeries(ctx context.Context, logger zerolog.Logger, series models.Series) (result models.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("series", series.Title).Interface("panic", r).Msg("series processing panicked")
			result = models.Result{SeriesID: series.ID, SeriesTitle: series.Title, ActionTaken: models.ActionNone}
			result.Fail(fmt.Errorf("panic while processing '%s': %v", series.Title, r))
		}
	}()

	metrics.SyncSeriesProcessed.Inc()
	logger.Debug().Str("series", series.Title).Str("imdb_id", series.IMDBID).Msg("processing series")

	record, err := e.aggregator.Availability(ctx, series.IMDBID, e.countries)
	if err != nil {
		result = models.Result{SeriesID: series.ID, SeriesTitle: series.Title, ActionTaken: models.ActionNone}
		result.Fail(err)
		return result
	}

	var decision models.Decision
	if len(record.Sources) == 0 {
		// Nothing answered: not the same as "nobody carries it". Never
		// act on ignorance.
		decision = models.Decision{
			SeriesID:    series.ID,
			SeriesTitle: series.Title,
			Action:      models.ActionNone,
			Scope:       models.ScopeSeries,
			Reason:      e.unknownReason(ctx, series.IMDBID),
		}
	} else {
		matches := availability.MatchSubscriptions(record, e.subs)
		decision = Plan(series, matches, e.plan)
	}
	metrics.SyncDecisions.WithLabelValues(string(decision.Action), string(decision.Scope)).Inc()

	if decision.Action != models.ActionNone && len(series.MonitoredSeasons()) == 0 {
		logger.Debug().Str("series", series.Title).Msg("no monitored seasons, planned at series level")
	}
	logger.Info().
		Str("series", series.Title).
		Str("action", string(decision.Action)).
		Str("reason", decision.Reason).
		Msg("decision")

	return e.executor.Execute(ctx, decision)
}

// unknownReason explains an unanswered lookup. A blacklisted identifier
// names its recorded failure so the report says why the series was
// skipped; everything else stays generic.
func (e *Engine) unknownReason(ctx context.Context, imdbID string) string {
	if e.store != nil && e.store.IsBlacklisted(ctx, imdbID) {
		if entry := e.store.BlacklistedEntry(ctx, imdbID); entry != nil {
			return fmt.Sprintf("identifier blacklisted: %s", entry.Reason)
		}
	}
	return reasonUnknown
}

// compact drops never-filled slots after a cancelled run.
func compact(results []models.Result) []models.Result {
	out := results[:0]
	for _, r := range results {
		if r.SeriesID == 0 && r.ActionTaken == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ============================================================================
// Connectivity
// ============================================================================

// ConnectivityReport is the outcome of probing every dependency.
type ConnectivityReport struct {
	PVR        PVRStatus        `json:"pvr"`
	Aggregator AggregatorStatus `json:"aggregator"`
	Cache      CacheStatus      `json:"cache"`
}

// PVRStatus reports whether the PVR answered a status probe.
type PVRStatus struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

// AggregatorStatus carries per-source rate, quota and breaker
// diagnostics.
type AggregatorStatus struct {
	Initialized bool             `json:"initialized"`
	Sources     []sources.Status `json:"sources,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// CacheStatus reports whether the backing store responds.
type CacheStatus struct {
	Initialized bool   `json:"initialized"`
	Error       string `json:"error,omitempty"`
}

// TestConnectivity probes the PVR, the aggregator sources, and the
// cache. It never returns an error; every failure is reported inside
// the struct so the CLI can render all of them at once.
func (e *Engine) TestConnectivity(ctx context.Context) ConnectivityReport {
	var report ConnectivityReport

	if err := e.pvr.TestConnection(ctx); err != nil {
		report.PVR.Error = err.Error()
	} else {
		report.PVR.Connected = true
	}

	if e.aggregator != nil {
		report.Aggregator.Initialized = true
		report.Aggregator.Sources = e.aggregator.Diagnostics()
	} else {
		report.Aggregator.Error = "aggregator not initialised"
	}

	if e.store != nil {
		report.Cache.Initialized = true
		if _, err := e.store.CleanupExpired(ctx); err != nil {
			report.Cache.Error = err.Error()
		}
	} else {
		report.Cache.Error = "cache not initialised"
	}

	return report
}
