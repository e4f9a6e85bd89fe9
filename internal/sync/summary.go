// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

package sync

import "github.com/redundarr/redundarr/internal/models"

// Summary aggregates the results of one run for reporting.
type Summary struct {
	Total       int            `json:"total"`
	Successful  int            `json:"successful"`
	Failed      int            `json:"failed"`
	PerAction   map[string]int `json:"perAction"`
	PerProvider map[string]int `json:"perProvider,omitempty"`
}

// Summarize folds results into a Summary. Pure.
func Summarize(results []models.Result) Summary {
	s := Summary{
		PerAction:   make(map[string]int),
		PerProvider: make(map[string]int),
	}
	for _, r := range results {
		s.Total++
		if r.Success {
			s.Successful++
		} else {
			s.Failed++
		}

		action := string(r.ActionTaken)
		if action == "" {
			action = string(models.ActionNone)
		}
		s.PerAction[action]++

		if r.ProviderKey != "" {
			s.PerProvider[r.ProviderKey]++
		}
	}
	return s
}
