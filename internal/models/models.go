// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

// Package models defines the domain records shared across Redundarr:
// PVR series state, canonical streaming availability, sync decisions,
// and per-series results. The package holds data structures only; policy
// lives in the packages that produce and consume them.
package models

import (
	"sort"
	"time"
)

// Series is a TV series as reported by the PVR. AddedAt is the instant the
// series was added to the PVR library; a zero value means the PVR did not
// report one. IMDBID and TVDBID are optional external identifiers.
type Series struct {
	ID        int       `json:"id"`
	Title     string    `json:"title"`
	Monitored bool      `json:"monitored"`
	AddedAt   time.Time `json:"addedAt"`
	IMDBID    string    `json:"imdbId,omitempty"`
	TVDBID    int       `json:"tvdbId,omitempty"`
	Seasons   []Season  `json:"seasons"`
}

// Season is one season of a series. Season 0 holds specials and is
// excluded from reconciliation.
type Season struct {
	SeasonNumber int  `json:"seasonNumber"`
	Monitored    bool `json:"monitored"`
}

// MonitoredSeasons returns the monitored season numbers in ascending order,
// excluding season 0.
func (s Series) MonitoredSeasons() []int {
	var nums []int
	for _, season := range s.Seasons {
		if season.Monitored && season.SeasonNumber > 0 {
			nums = append(nums, season.SeasonNumber)
		}
	}
	sort.Ints(nums)
	return nums
}

// HasSeasonData reports whether the PVR returned any season records at all.
// Some lookups return series-level data only; the planner degrades to a
// series-scoped decision in that case.
func (s Series) HasSeasonData() bool {
	return len(s.Seasons) > 0
}
