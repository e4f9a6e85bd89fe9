// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

package sources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/redundarr/redundarr/internal/models"
	"github.com/redundarr/redundarr/internal/quota"
)

const utellyLookupJSON = `{
	"results": [
		{
			"name": "Breaking Bad",
			"locations": [
				{
					"display_name": "Netflix",
					"name": "NetflixIVADE",
					"icon": "https://utelly.imgix.net/netflix.png",
					"url": "https://www.netflix.com/de/title/70143836"
				},
				{
					"display_name": "Apple iTunes",
					"name": "iTunesIVADE",
					"icon": "https://utelly.imgix.net/itunes.png",
					"url": "https://itunes.apple.com/de/tv-season/breaking-bad"
				}
			]
		}
	],
	"updated": "2026-08-20T04:00:00Z",
	"term": "tt0903747"
}`

func newTestUtelly(t *testing.T, baseURL string, monthlyQuota int) *Utelly {
	t.Helper()
	client, err := NewUtelly(UtellyConfig{
		APIKey:       "rapid-key",
		BaseURL:      baseURL,
		MonthlyQuota: monthlyQuota,
	})
	if err != nil {
		t.Fatalf("NewUtelly() returned error: %v", err)
	}
	return client
}

// ============================================================================
// Constructor Tests
// ============================================================================

func TestNewUtellyRequiresKey(t *testing.T) {
	if _, err := NewUtelly(UtellyConfig{}); err == nil {
		t.Fatal("NewUtelly() without key should fail")
	}
}

func TestNewUtellyDefaults(t *testing.T) {
	client, err := NewUtelly(UtellyConfig{APIKey: "rapid-key"})
	if err != nil {
		t.Fatalf("NewUtelly() returned error: %v", err)
	}
	if got := client.quota.Ceiling(); got != DefaultUtellyQuota {
		t.Errorf("quota ceiling = %d, want %d", got, DefaultUtellyQuota)
	}
	if got := client.quota.PeriodKind(); got != quota.Monthly {
		t.Errorf("quota period = %q, want monthly", got)
	}
	if got := client.TTL(); got != DefaultUtellyTTL {
		t.Errorf("TTL() = %v, want %v", got, DefaultUtellyTTL)
	}
}

// ============================================================================
// Lookup Tests
// ============================================================================

func TestUtellyLookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/lookup" {
			t.Errorf("path = %q, want /lookup", r.URL.Path)
		}
		if got := r.URL.Query().Get("term"); got != "tt0903747" {
			t.Errorf("term = %q, want tt0903747", got)
		}
		if got := r.URL.Query().Get("country"); got != "de" {
			t.Errorf("country = %q, want de (lowercased)", got)
		}
		if got := r.Header.Get("X-RapidAPI-Key"); got != "rapid-key" {
			t.Errorf("X-RapidAPI-Key = %q, want rapid-key", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(utellyLookupJSON))
	}))
	defer server.Close()

	client := newTestUtelly(t, server.URL, 1000)
	offers, err := client.Lookup(context.Background(), "tt0903747", "DE")
	if err != nil {
		t.Fatalf("Lookup() returned error: %v", err)
	}

	if len(offers) != 2 {
		t.Fatalf("Lookup() returned %d offers, want 2 (got %v)", len(offers), offers)
	}

	netflix := offers["netflix"]
	if netflix.Kind != models.OfferSubscription {
		t.Errorf("netflix kind = %q, want subscription (streaming URL)", netflix.Kind)
	}
	if netflix.Link != "https://www.netflix.com/de/title/70143836" {
		t.Errorf("netflix link = %q, want the location URL", netflix.Link)
	}
	if netflix.Source != "utelly" {
		t.Errorf("netflix source = %q, want utelly", netflix.Source)
	}

	apple := offers["apple-tv"]
	if apple.Kind != models.OfferRent {
		t.Errorf("apple-tv kind = %q, want rent (itunes storefront)", apple.Kind)
	}
}

func TestUtellyNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newTestUtelly(t, server.URL, 1000)
	offers, err := client.Lookup(context.Background(), "tt9999999", "de")
	if err != nil {
		t.Fatalf("Lookup() on unknown title returned error: %v", err)
	}
	if len(offers) != 0 {
		t.Errorf("Lookup() on unknown title returned %d offers, want 0", len(offers))
	}
}

func TestUtellyEmptyDisplayNameSkipped(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results": [{"locations": [{"display_name": "", "url": "https://x.test"}]}]}`))
	}))
	defer server.Close()

	client := newTestUtelly(t, server.URL, 1000)
	offers, err := client.Lookup(context.Background(), "tt0903747", "de")
	if err != nil {
		t.Fatalf("Lookup() returned error: %v", err)
	}
	if len(offers) != 0 {
		t.Errorf("Lookup() returned %d offers, want 0 (nameless locations are dropped)", len(offers))
	}
}

// ============================================================================
// Quota Tests
// ============================================================================

func TestUtellyMonthlyQuota(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(utellyLookupJSON))
	}))
	defer server.Close()

	client := newTestUtelly(t, server.URL, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := client.Lookup(ctx, "tt0903747", "de"); err != nil {
			t.Fatalf("Lookup() %d returned error: %v", i+1, err)
		}
	}

	_, err := client.Lookup(ctx, "tt0903747", "de")
	if !errors.Is(err, quota.ErrExceeded) {
		t.Fatalf("Lookup() over quota error = %v, want quota.ErrExceeded", err)
	}
	if requests != 2 {
		t.Errorf("server saw %d requests, want 2", requests)
	}
}

func TestUtellyAuthFailure(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))

		client := newTestUtelly(t, server.URL, 1000)
		_, err := client.Lookup(context.Background(), "tt0903747", "de")
		if !errors.Is(err, ErrAuthFailed) {
			t.Errorf("Lookup() with HTTP %d error = %v, want ErrAuthFailed", code, err)
		}
		server.Close()
	}
}

// ============================================================================
// Kind Inference Tests
// ============================================================================

func TestUtellyKindFromURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want models.OfferKind
	}{
		{"plain streaming", "https://www.netflix.com/de/title/70143836", models.OfferSubscription},
		{"rent path", "https://video.example.com/rent/breaking-bad", models.OfferRent},
		{"rental path", "https://video.example.com/rental/breaking-bad", models.OfferRent},
		{"german rental", "https://www.videoload.de/verleih/breaking-bad", models.OfferRent},
		{"buy path", "https://store.example.com/buy/breaking-bad", models.OfferBuy},
		{"purchase path", "https://store.example.com/purchase/breaking-bad", models.OfferBuy},
		{"german purchase", "https://www.videoload.de/kaufen/breaking-bad", models.OfferBuy},
		{"itunes storefront", "https://itunes.apple.com/de/tv-season/breaking-bad", models.OfferRent},
		{"play storefront", "https://play.google.com/store/tv/show/breaking-bad", models.OfferRent},
		{"microsoft storefront", "https://www.microsoft.com/de-de/p/breaking-bad", models.OfferRent},
		{"empty URL", "", models.OfferSubscription},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := kindFromURL(tt.url); got != tt.want {
				t.Errorf("kindFromURL(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}
