// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

package sync

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/redundarr/redundarr/internal/logging"
	"github.com/redundarr/redundarr/internal/metrics"
	"github.com/redundarr/redundarr/internal/models"
	"github.com/redundarr/redundarr/internal/pvr"
)

// Executor applies planner decisions to the PVR. With dryRun set it
// reports what would happen and touches nothing.
type Executor struct {
	pvr    pvr.Client
	dryRun bool
	logger zerolog.Logger
}

// NewExecutor builds an Executor.
func NewExecutor(client pvr.Client, dryRun bool) *Executor {
	return &Executor{
		pvr:    client,
		dryRun: dryRun,
		logger: logging.With().Str("component", "executor").Logger(),
	}
}

// Execute carries out one decision. PVR failures land in the result,
// never in a returned error: one broken series must not abort the run.
func (e *Executor) Execute(ctx context.Context, decision models.Decision) models.Result {
	result := e.execute(ctx, decision)
	metrics.RecordResult(string(result.ActionTaken), result.Success)
	return result
}

func (e *Executor) execute(ctx context.Context, decision models.Decision) models.Result {
	result := models.Result{
		SeriesID:    decision.SeriesID,
		SeriesTitle: decision.SeriesTitle,
		ActionTaken: decision.Action,
		ProviderKey: decision.ProviderKey,
		Success:     true,
	}

	if decision.Action == models.ActionNone {
		result.Message = decision.Reason
		return result
	}

	if e.dryRun {
		result.Message = dryRunMessage(decision)
		e.logger.Info().Str("series", decision.SeriesTitle).Msg(result.Message)
		return result
	}

	switch {
	case decision.Action == models.ActionUnmonitor && decision.Scope == models.ScopeSeries:
		e.unmonitorSeries(ctx, decision, &result)
	case decision.Action == models.ActionUnmonitor && decision.Scope == models.ScopeSeasons:
		e.unmonitorSeasons(ctx, decision, &result)
	case decision.Action == models.ActionDelete && decision.Scope == models.ScopeSeries:
		e.deleteSeries(ctx, decision, &result)
	case decision.Action == models.ActionDelete && decision.Scope == models.ScopeSeasons:
		e.deleteSeasons(ctx, decision, &result)
	default:
		result.Message = "nothing to execute"
		result.Fail(fmt.Errorf("unsupported decision: action=%s scope=%s", decision.Action, decision.Scope))
	}
	return result
}

func (e *Executor) unmonitorSeries(ctx context.Context, d models.Decision, result *models.Result) {
	if err := e.pvr.UnmonitorSeries(ctx, d.SeriesID); err != nil {
		result.Message = fmt.Sprintf("failed to unmonitor series '%s'", d.SeriesTitle)
		result.Fail(err)
		return
	}
	result.Message = fmt.Sprintf("unmonitored series '%s' (%s)", d.SeriesTitle, d.Reason)
	e.logger.Info().Str("series", d.SeriesTitle).Msg("series unmonitored")
}

func (e *Executor) deleteSeries(ctx context.Context, d models.Decision, result *models.Result) {
	if err := e.pvr.DeleteSeries(ctx, d.SeriesID, true); err != nil {
		result.Message = fmt.Sprintf("failed to delete series '%s'", d.SeriesTitle)
		result.Fail(err)
		return
	}
	result.Message = fmt.Sprintf("deleted series '%s' (%s)", d.SeriesTitle, d.Reason)
	e.logger.Info().Str("series", d.SeriesTitle).Msg("series deleted")
}

// unmonitorSeasons works through the seasons in ascending order. A
// season that fails is logged and skipped; the result stays successful
// as long as at least one season landed.
func (e *Executor) unmonitorSeasons(ctx context.Context, d models.Decision, result *models.Result) {
	done, failed, firstErr := e.perSeason(ctx, d, e.pvr.UnmonitorSeason)
	e.seasonOutcome(d, result, "unmonitored", done, failed, firstErr)
}

// deleteSeasons unmonitors each season and then removes its files. The
// PVR client treats the unmonitor as mandatory and the file removal as
// best-effort, so a season only counts failed when it stayed monitored.
func (e *Executor) deleteSeasons(ctx context.Context, d models.Decision, result *models.Result) {
	done, failed, firstErr := e.perSeason(ctx, d, e.pvr.UnmonitorAndDeleteSeason)
	e.seasonOutcome(d, result, "unmonitored and deleted", done, failed, firstErr)
}

func (e *Executor) perSeason(ctx context.Context, d models.Decision, op func(context.Context, int, int) error) (done, failed []int, firstErr error) {
	for _, season := range d.AffectedSeasons {
		if err := op(ctx, d.SeriesID, season); err != nil {
			e.logger.Warn().
				Str("series", d.SeriesTitle).
				Int("season", season).
				Err(err).
				Msg("season mutation failed")
			failed = append(failed, season)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		done = append(done, season)
	}
	return done, failed, firstErr
}

func (e *Executor) seasonOutcome(d models.Decision, result *models.Result, verb string, done, failed []int, firstErr error) {
	switch {
	case len(done) == 0:
		result.Message = fmt.Sprintf("failed to process seasons %s of '%s'", formatSeasons(failed), d.SeriesTitle)
		result.Fail(firstErr)
	case len(failed) > 0:
		result.Message = fmt.Sprintf("%s seasons %s of '%s'; seasons %s failed", verb, formatSeasons(done), d.SeriesTitle, formatSeasons(failed))
		e.logger.Info().Str("series", d.SeriesTitle).Str("seasons", formatSeasons(done)).Msg("partial season success")
	default:
		result.Message = fmt.Sprintf("%s seasons %s of '%s' (%s)", verb, formatSeasons(done), d.SeriesTitle, d.Reason)
		e.logger.Info().Str("series", d.SeriesTitle).Str("seasons", formatSeasons(done)).Msg("seasons processed")
	}
}

func dryRunMessage(d models.Decision) string {
	verb := "unmonitor"
	if d.Action == models.ActionDelete {
		verb = "delete"
	}
	if d.Scope == models.ScopeSeasons {
		return fmt.Sprintf("would %s seasons %s of '%s' (%s)", verb, formatSeasons(d.AffectedSeasons), d.SeriesTitle, d.Reason)
	}
	return fmt.Sprintf("would %s series '%s' (%s)", verb, d.SeriesTitle, d.Reason)
}
