// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

package models

// Action is the mutation the planner selects for a series.
type Action string

// Action values.
const (
	ActionNone      Action = "none"
	ActionUnmonitor Action = "unmonitor"
	ActionDelete    Action = "delete"
)

// Scope bounds an action to the whole series or to specific seasons.
type Scope string

// Scope values.
const (
	ScopeSeries  Scope = "series"
	ScopeSeasons Scope = "seasons"
)

// Decision is the planner's verdict for one series. AffectedSeasons is
// sorted ascending and is non-empty whenever Scope is ScopeSeasons.
// ProviderKey names the provider that justified the action, empty for
// ActionNone.
type Decision struct {
	SeriesID        int    `json:"seriesId"`
	SeriesTitle     string `json:"seriesTitle"`
	Action          Action `json:"action"`
	Scope           Scope  `json:"scope"`
	AffectedSeasons []int  `json:"affectedSeasons,omitempty"`
	ProviderKey     string `json:"providerKey,omitempty"`
	Reason          string `json:"reason"`
}

// Result records the outcome of executing one Decision. Err carries the
// underlying error for programmatic checks; Error is its string form for
// JSON output. A Decision that planned no action still yields a successful
// Result so that summaries account for every eligible series.
type Result struct {
	SeriesID    int    `json:"seriesId"`
	SeriesTitle string `json:"seriesTitle"`
	ActionTaken Action `json:"actionTaken"`
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ProviderKey string `json:"providerKey,omitempty"`
	Error       string `json:"error,omitempty"`
	Err         error  `json:"-"`
}

// Fail marks the result failed with err and mirrors it into the JSON field.
func (r *Result) Fail(err error) {
	r.Success = false
	if err != nil {
		r.Err = err
		r.Error = err.Error()
	}
}
