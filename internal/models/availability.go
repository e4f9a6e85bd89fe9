// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

package models

import (
	"sort"
	"strings"
	"time"
)

// OfferKind classifies how a provider monetises a title.
type OfferKind string

// OfferKind values.
const (
	OfferSubscription OfferKind = "subscription"
	OfferRent         OfferKind = "rent"
	OfferBuy          OfferKind = "buy"
	OfferFree         OfferKind = "free"
	OfferAds          OfferKind = "ads"
)

// CanonicalProvider identifies one streaming provider in one country.
// Key is a lowercase-hyphen slug (netflix, amazon-prime, disney-plus);
// Country is a 2-letter ISO-3166-1 code stored uppercase. Comparisons are
// case-exact; normalisation happens before construction, never after.
type CanonicalProvider struct {
	Key     string    `json:"key"`
	Country string    `json:"country"`
	Kind    OfferKind `json:"kind"`
}

// Offer is one provider's claim on a series in one country. Link, Quality
// and ExpiresAt are optional detail carried by the deeper sources. Source
// names the catalogue that first reported the offer and is never
// overwritten by later merges. Seasons lists the season numbers the source
// reported as available; empty means the source only speaks series-level.
type Offer struct {
	Kind      OfferKind  `json:"kind"`
	Link      string     `json:"link,omitempty"`
	Quality   string     `json:"quality,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Source    string     `json:"source"`
	Seasons   []int      `json:"seasons,omitempty"`
}

// AvailabilityRecord aggregates everything the catalogue sources reported
// for one series across the requested countries. Countries maps a country
// code to the providers carrying the series there. Records are constructed
// once per lookup, cached, and treated as read-only afterwards.
type AvailabilityRecord struct {
	IMDBID    string                      `json:"imdbId"`
	TMDBID    int                         `json:"tmdbId,omitempty"`
	Countries map[string]map[string]Offer `json:"countries"`
	Sources   []string                    `json:"sources"`
	FetchedAt time.Time                   `json:"fetchedAt"`
}

// NewAvailabilityRecord returns an empty record for imdbID stamped with now.
func NewAvailabilityRecord(imdbID string) *AvailabilityRecord {
	return &AvailabilityRecord{
		IMDBID:    imdbID,
		Countries: make(map[string]map[string]Offer),
		FetchedAt: time.Now().UTC(),
	}
}

// MergeOffer inserts an offer for (country, providerKey). When the provider
// is already present, only empty Link/Quality/ExpiresAt fields are filled
// in; Kind and Source keep the values recorded on first insertion.
func (r *AvailabilityRecord) MergeOffer(country, providerKey string, offer Offer) {
	country = strings.ToUpper(strings.TrimSpace(country))
	providerKey = strings.TrimSpace(providerKey)
	if country == "" || providerKey == "" {
		return
	}
	if r.Countries == nil {
		r.Countries = make(map[string]map[string]Offer)
	}
	byProvider, ok := r.Countries[country]
	if !ok {
		byProvider = make(map[string]Offer)
		r.Countries[country] = byProvider
	}
	existing, ok := byProvider[providerKey]
	if !ok {
		byProvider[providerKey] = offer
		return
	}
	if existing.Link == "" {
		existing.Link = offer.Link
	}
	if existing.Quality == "" {
		existing.Quality = offer.Quality
	}
	if existing.ExpiresAt == nil {
		existing.ExpiresAt = offer.ExpiresAt
	}
	if len(existing.Seasons) == 0 {
		existing.Seasons = offer.Seasons
	}
	byProvider[providerKey] = existing
}

// AddSource appends a source tag unless already present. Order reflects
// consultation order and is preserved.
func (r *AvailabilityRecord) AddSource(name string) {
	for _, s := range r.Sources {
		if s == name {
			return
		}
	}
	r.Sources = append(r.Sources, name)
}

// ProvidersIn returns the provider keys recorded for country, sorted.
func (r *AvailabilityRecord) ProvidersIn(country string) []string {
	byProvider := r.Countries[country]
	keys := make([]string, 0, len(byProvider))
	for k := range byProvider {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HasProviders reports whether country has at least one recorded provider.
func (r *AvailabilityRecord) HasProviders(country string) bool {
	return len(r.Countries[country]) > 0
}

// ProviderMatch is one subscribed provider that carries the series in at
// least one configured country, produced by filtering an
// AvailabilityRecord against the user's subscriptions. ConfigOrder is the
// provider's position in the user configuration and breaks planner ties.
type ProviderMatch struct {
	Key           string   `json:"key"`
	Countries     []string `json:"countries"`
	Seasons       []int    `json:"seasons,omitempty"`
	HasSeasonData bool     `json:"hasSeasonData"`
	ConfigOrder   int      `json:"-"`
}
