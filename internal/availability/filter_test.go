// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

package availability

import (
	"reflect"
	"testing"

	"github.com/redundarr/redundarr/internal/config"
	"github.com/redundarr/redundarr/internal/models"
)

// record builds an AvailabilityRecord from country → provider → offer.
func record(countries map[string]map[string]models.Offer) *models.AvailabilityRecord {
	r := models.NewAvailabilityRecord(testIMDBID)
	for country, byProvider := range countries {
		for key, offer := range byProvider {
			r.MergeOffer(country, key, offer)
		}
	}
	return r
}

// ============================================================================
// FilterBySubscriptions
// ============================================================================

func TestFilterBySubscriptions(t *testing.T) {
	rec := record(map[string]map[string]models.Offer{
		"US": {
			"netflix": {Kind: models.OfferSubscription, Source: "tmdb"},
		},
		"DE": {
			"amazon-prime": {Kind: models.OfferRent, Source: "tmdb"},
		},
	})

	subs := []config.StreamingProvider{
		{Name: "netflix", Country: "US"},
		{Name: "amazon-prime", Country: "DE"},
		{Name: "sky-go", Country: "GB"},
	}

	got := FilterBySubscriptions(rec, subs)
	want := map[string]bool{
		"US": true,
		"DE": false, // rent offers cost extra, never a subscription match
		"GB": false,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FilterBySubscriptions() = %v, want %v", got, want)
	}
}

func TestFilterBySubscriptionsNormalises(t *testing.T) {
	rec := record(map[string]map[string]models.Offer{
		"US": {"netflix": {Kind: models.OfferSubscription, Source: "tmdb"}},
	})

	// Display-style name and lowercase country still match.
	got := FilterBySubscriptions(rec, []config.StreamingProvider{{Name: "Netflix", Country: "us"}})
	if !got["US"] {
		t.Errorf("normalised subscription did not match: %v", got)
	}
}

func TestFilterBySubscriptionsNilRecord(t *testing.T) {
	got := FilterBySubscriptions(nil, []config.StreamingProvider{{Name: "netflix", Country: "US"}})
	if len(got) != 0 {
		t.Errorf("nil record produced matches: %v", got)
	}
}

// ============================================================================
// MatchSubscriptions
// ============================================================================

func TestMatchSubscriptions(t *testing.T) {
	rec := record(map[string]map[string]models.Offer{
		"US": {
			"netflix": {Kind: models.OfferSubscription, Source: "tmdb", Seasons: []int{1, 2}},
			"hulu":    {Kind: models.OfferAds, Source: "tmdb"},
		},
		"GB": {
			"netflix": {Kind: models.OfferSubscription, Source: "tmdb", Seasons: []int{2, 3}},
		},
		"DE": {
			"amazon-prime": {Kind: models.OfferBuy, Source: "tmdb"},
		},
	})

	subs := []config.StreamingProvider{
		{Name: "netflix", Country: "US"},
		{Name: "hulu", Country: "US"},
		{Name: "netflix", Country: "GB"},
		{Name: "amazon-prime", Country: "DE"},
	}

	matches := MatchSubscriptions(rec, subs)

	netflix, ok := matches["netflix"]
	if !ok {
		t.Fatalf("netflix match missing: %v", matches)
	}
	if !reflect.DeepEqual(netflix.Countries, []string{"GB", "US"}) {
		t.Errorf("netflix countries = %v, want [GB US]", netflix.Countries)
	}
	if !reflect.DeepEqual(netflix.Seasons, []int{1, 2, 3}) {
		t.Errorf("netflix seasons = %v, want union [1 2 3]", netflix.Seasons)
	}
	if !netflix.HasSeasonData {
		t.Error("netflix must report season data")
	}
	if netflix.ConfigOrder != 0 {
		t.Errorf("netflix config order = %d, want 0", netflix.ConfigOrder)
	}

	hulu, ok := matches["hulu"]
	if !ok {
		t.Fatalf("hulu match missing (ads offers are watchable): %v", matches)
	}
	if hulu.HasSeasonData {
		t.Error("hulu reported no seasons, HasSeasonData must be false")
	}
	if hulu.ConfigOrder != 1 {
		t.Errorf("hulu config order = %d, want 1", hulu.ConfigOrder)
	}

	if _, ok := matches["amazon-prime"]; ok {
		t.Error("buy-only offer must not match a subscription")
	}
}

func TestMatchSubscriptionsCountryMismatch(t *testing.T) {
	rec := record(map[string]map[string]models.Offer{
		"US": {"netflix": {Kind: models.OfferSubscription, Source: "tmdb"}},
	})

	// Subscribed in GB; the series only streams in US.
	matches := MatchSubscriptions(rec, []config.StreamingProvider{{Name: "netflix", Country: "GB"}})
	if len(matches) != 0 {
		t.Errorf("country mismatch still matched: %v", matches)
	}
}
