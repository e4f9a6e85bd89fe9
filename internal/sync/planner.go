// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

package sync

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redundarr/redundarr/internal/models"
)

// reasonNotAvailable is the verdict when no subscribed provider carries
// the series in any subscribed country.
const reasonNotAvailable = "not available on any configured streaming provider"

// PlanConfig carries the sync settings the planner consults.
type PlanConfig struct {
	// Action is the configured mutation for redundant series,
	// ActionUnmonitor or ActionDelete.
	Action models.Action
}

// Plan decides what to do with one series given the provider matches the
// availability filter produced. Pure: no I/O, no clock, deterministic for
// identical inputs.
//
// The best provider is the one covering the most monitored seasons, ties
// broken by the order the user listed their subscriptions. Full coverage
// plans the configured action against the whole series. Partial coverage
// plans per-season unmonitoring only; a configured delete is downgraded,
// because removing files for half a series the user may still want is
// not reversible. Missing season data on either side degrades to a
// series-level decision so the series still participates.
func Plan(series models.Series, matches map[string]models.ProviderMatch, cfg PlanConfig) models.Decision {
	decision := models.Decision{
		SeriesID:    series.ID,
		SeriesTitle: series.Title,
		Action:      models.ActionNone,
		Scope:       models.ScopeSeries,
		Reason:      reasonNotAvailable,
	}
	if len(matches) == 0 {
		return decision
	}

	monitored := series.MonitoredSeasons()
	best := pickBest(matches, monitored)

	if !series.HasSeasonData() || len(monitored) == 0 || !best.HasSeasonData {
		decision.Action = cfg.Action
		decision.Scope = models.ScopeSeries
		decision.AffectedSeasons = monitored
		decision.ProviderKey = best.Key
		decision.Reason = fmt.Sprintf("available on %s", best.Key)
		return decision
	}

	matched := intersect(best.Seasons, monitored)
	switch {
	case len(matched) == len(monitored):
		decision.Action = cfg.Action
		decision.Scope = models.ScopeSeries
		decision.AffectedSeasons = monitored
		decision.ProviderKey = best.Key
		decision.Reason = fmt.Sprintf("all monitored seasons available on %s", best.Key)
	case len(matched) > 0:
		decision.Action = models.ActionUnmonitor
		decision.Scope = models.ScopeSeasons
		decision.AffectedSeasons = matched
		decision.ProviderKey = best.Key
		decision.Reason = fmt.Sprintf("seasons %s available on %s", formatSeasons(matched), best.Key)
	default:
		decision.Reason = "no monitored season available on any configured streaming provider"
	}
	return decision
}

// pickBest selects the match covering the most monitored seasons, ties
// broken by subscription order. A match without season data counts as
// covering everything: the catalogue asserts the series is there and
// simply cannot say which seasons.
func pickBest(matches map[string]models.ProviderMatch, monitored []int) models.ProviderMatch {
	var best models.ProviderMatch
	bestCoverage := -1
	for _, m := range matches {
		c := coverage(m, monitored)
		if c > bestCoverage || (c == bestCoverage && m.ConfigOrder < best.ConfigOrder) {
			best = m
			bestCoverage = c
		}
	}
	return best
}

func coverage(m models.ProviderMatch, monitored []int) int {
	if !m.HasSeasonData {
		return len(monitored)
	}
	return len(intersect(m.Seasons, monitored))
}

// intersect returns the sorted values present in both slices.
func intersect(a, b []int) []int {
	inA := make(map[int]struct{}, len(a))
	for _, n := range a {
		inA[n] = struct{}{}
	}
	var out []int
	for _, n := range b {
		if _, ok := inA[n]; ok {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}

// formatSeasons renders season numbers for human-facing messages: "1, 2, 5".
func formatSeasons(seasons []int) string {
	parts := make([]string, len(seasons))
	for i, n := range seasons {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}
