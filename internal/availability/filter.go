// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

package availability

import (
	"sort"
	"strings"

	"github.com/redundarr/redundarr/internal/config"
	"github.com/redundarr/redundarr/internal/models"
	"github.com/redundarr/redundarr/internal/providers"
)

// watchable reports whether an offer is covered by a subscription the
// user already pays for. Rent and buy offers cost extra per title, so
// they never make a series redundant.
func watchable(kind models.OfferKind) bool {
	switch kind {
	case models.OfferSubscription, models.OfferFree, models.OfferAds:
		return true
	default:
		return false
	}
}

// FilterBySubscriptions reports, per country appearing in the user's
// subscriptions, whether at least one subscribed provider carries the
// series there. Both sides are normalised before comparison.
func FilterBySubscriptions(record *models.AvailabilityRecord, subs []config.StreamingProvider) map[string]bool {
	out := make(map[string]bool)
	if record == nil {
		return out
	}
	for _, sub := range subs {
		key := providers.Normalize(sub.Name)
		country := strings.ToUpper(strings.TrimSpace(sub.Country))
		if country == "" {
			continue
		}
		offer, ok := record.Countries[country][key]
		out[country] = out[country] || (ok && watchable(offer.Kind))
	}
	return out
}

// MatchSubscriptions resolves a record against the user's subscriptions
// and returns the matches keyed by canonical provider slug, the shape
// the planner consumes. A provider subscribed in several countries
// yields one match listing every country that carries the series;
// season lists are unioned across countries. ConfigOrder is the index
// of the first subscription entry that matched, used downstream to
// break ties the way the user ordered their config.
func MatchSubscriptions(record *models.AvailabilityRecord, subs []config.StreamingProvider) map[string]models.ProviderMatch {
	matches := make(map[string]models.ProviderMatch)
	if record == nil {
		return matches
	}

	for order, sub := range subs {
		key := providers.Normalize(sub.Name)
		country := strings.ToUpper(strings.TrimSpace(sub.Country))
		if key == "" || country == "" {
			continue
		}
		offer, ok := record.Countries[country][key]
		if !ok || !watchable(offer.Kind) {
			continue
		}

		m, exists := matches[key]
		if !exists {
			m = models.ProviderMatch{Key: key, ConfigOrder: order}
		}
		m.Countries = appendUniqueString(m.Countries, country)
		if len(offer.Seasons) > 0 {
			m.HasSeasonData = true
			m.Seasons = unionInts(m.Seasons, offer.Seasons)
		}
		matches[key] = m
	}

	for key, m := range matches {
		sort.Strings(m.Countries)
		matches[key] = m
	}
	return matches
}

func appendUniqueString(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func unionInts(a, b []int) []int {
	seen := make(map[int]struct{}, len(a)+len(b))
	out := make([]int, 0, len(a)+len(b))
	for _, list := range [][]int{a, b} {
		for _, n := range list {
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}
