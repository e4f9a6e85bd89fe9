// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

package availability

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redundarr/redundarr/internal/cache"
	"github.com/redundarr/redundarr/internal/models"
	"github.com/redundarr/redundarr/internal/quota"
	"github.com/redundarr/redundarr/internal/sources"
)

const testIMDBID = "tt0903747"

const findJSON = `{"movie_results": [], "tv_results": [{"id": 1396, "name": "Breaking Bad"}]}`

const watchProvidersJSON = `{
	"id": 1396,
	"results": {
		"US": {"flatrate": [{"provider_id": 8, "provider_name": "Netflix"}]},
		"DE": {"flatrate": [{"provider_id": 9, "provider_name": "Amazon Prime Video"}]}
	}
}`

// tmdbFixture is an httptest TMDB with request counters per endpoint.
type tmdbFixture struct {
	server *httptest.Server
	finds  atomic.Int64
	watch  atomic.Int64

	findBody  string
	watchBody string
}

func newTMDBFixture(t *testing.T) *tmdbFixture {
	t.Helper()
	f := &tmdbFixture{findBody: findJSON, watchBody: watchProvidersJSON}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasPrefix(r.URL.Path, "/find/"):
			f.finds.Add(1)
			fmt.Fprint(w, f.findBody)
		case strings.Contains(r.URL.Path, "/watch/providers"):
			f.watch.Add(1)
			fmt.Fprint(w, f.watchBody)
		default:
			t.Errorf("unexpected request to %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *tmdbFixture) client(t *testing.T) *sources.TMDB {
	t.Helper()
	client, err := sources.NewTMDB(sources.TMDBConfig{APIKey: "key", BaseURL: f.server.URL})
	if err != nil {
		t.Fatalf("NewTMDB() returned error: %v", err)
	}
	return client
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.New(cache.Config{Path: filepath.Join(t.TempDir(), "cache.db")})
	if err != nil {
		t.Fatalf("cache.New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// fakeSource is a scripted fallback client.
type fakeSource struct {
	name   string
	offers map[string]sources.Offers
	errs   map[string]error
	status sources.Status
	calls  []string
}

func newFakeSource(name string) *fakeSource {
	return &fakeSource{
		name:   name,
		offers: make(map[string]sources.Offers),
		errs:   make(map[string]error),
		status: sources.Status{
			Source:       name,
			Kind:         "daily-quota",
			Limit:        100,
			Remaining:    100,
			BreakerState: "closed",
		},
	}
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Lookup(_ context.Context, _, country string) (sources.Offers, error) {
	f.calls = append(f.calls, country)
	if err := f.errs[country]; err != nil {
		return nil, err
	}
	return f.offers[country], nil
}

func (f *fakeSource) TTL() time.Duration { return 12 * time.Hour }

func (f *fakeSource) Status() sources.Status { return f.status }

func subscriptionOffer(source string) models.Offer {
	return models.Offer{Kind: models.OfferSubscription, Source: source}
}

// ============================================================================
// Identifier gates
// ============================================================================

func TestAvailabilityMalformedIMDBID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("malformed identifier must not reach the network, got %s", r.URL.Path)
	}))
	defer server.Close()

	client, err := sources.NewTMDB(sources.TMDBConfig{APIKey: "key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewTMDB() returned error: %v", err)
	}
	agg := New(newTestCache(t), client)

	for _, id := range []string{"", "0903747", "tt123", "tt123456789", "nm0903747"} {
		record, err := agg.Availability(context.Background(), id, []string{"US"})
		if err != nil {
			t.Fatalf("Availability(%q) returned error: %v", id, err)
		}
		if len(record.Countries) != 0 || len(record.Sources) != 0 {
			t.Errorf("Availability(%q) = %+v, want empty record", id, record)
		}
	}
}

func TestAvailabilityBlacklistShortCircuits(t *testing.T) {
	fixture := newTMDBFixture(t)
	c := newTestCache(t)
	c.RecordFailure(context.Background(), testIMDBID, "not found on primary source")

	agg := New(c, fixture.client(t))
	record, err := agg.Availability(context.Background(), testIMDBID, []string{"US"})
	if err != nil {
		t.Fatalf("Availability() returned error: %v", err)
	}
	if len(record.Countries) != 0 {
		t.Errorf("blacklisted identifier produced offers: %+v", record.Countries)
	}
	if fixture.finds.Load() != 0 || fixture.watch.Load() != 0 {
		t.Error("blacklisted identifier must not reach the network")
	}
}

func TestAvailabilityNotFoundBlacklists(t *testing.T) {
	fixture := newTMDBFixture(t)
	fixture.findBody = `{"movie_results": [], "tv_results": []}`
	c := newTestCache(t)
	agg := New(c, fixture.client(t))

	record, err := agg.Availability(context.Background(), testIMDBID, []string{"US"})
	if err != nil {
		t.Fatalf("Availability() returned error: %v", err)
	}
	if len(record.Countries) != 0 {
		t.Errorf("unknown identifier produced offers: %+v", record.Countries)
	}
	if !c.IsBlacklisted(context.Background(), testIMDBID) {
		t.Fatal("identifier must be blacklisted after a primary not-found")
	}

	// The second lookup short-circuits before the network.
	if _, err := agg.Availability(context.Background(), testIMDBID, []string{"US"}); err != nil {
		t.Fatalf("second Availability() returned error: %v", err)
	}
	if got := fixture.finds.Load(); got != 1 {
		t.Errorf("find requests = %d, want 1", got)
	}
}

// ============================================================================
// Primary path
// ============================================================================

func TestAvailabilityPrimaryHappyPath(t *testing.T) {
	fixture := newTMDBFixture(t)
	agg := New(newTestCache(t), fixture.client(t))

	record, err := agg.Availability(context.Background(), testIMDBID, []string{"US", "DE"})
	if err != nil {
		t.Fatalf("Availability() returned error: %v", err)
	}

	if record.TMDBID != 1396 {
		t.Errorf("TMDBID = %d, want 1396", record.TMDBID)
	}
	if record.IMDBID != testIMDBID {
		t.Errorf("IMDBID = %q, want %q", record.IMDBID, testIMDBID)
	}
	usOffer, ok := record.Countries["US"]["netflix"]
	if !ok {
		t.Fatalf("US netflix offer missing, got %+v", record.Countries)
	}
	if usOffer.Kind != models.OfferSubscription {
		t.Errorf("US netflix kind = %q, want subscription", usOffer.Kind)
	}
	if _, ok := record.Countries["DE"]["amazon-prime"]; !ok {
		t.Errorf("DE amazon-prime offer missing, got %+v", record.Countries["DE"])
	}
	if len(record.Sources) != 1 || record.Sources[0] != "tmdb" {
		t.Errorf("Sources = %v, want [tmdb]", record.Sources)
	}
}

func TestAvailabilityRepeatLookupServedFromCache(t *testing.T) {
	fixture := newTMDBFixture(t)
	agg := New(newTestCache(t), fixture.client(t))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		record, err := agg.Availability(ctx, testIMDBID, []string{"US", "DE"})
		if err != nil {
			t.Fatalf("lookup %d returned error: %v", i+1, err)
		}
		if !record.HasProviders("US") {
			t.Fatalf("lookup %d lost the US offers", i+1)
		}
	}

	if got := fixture.finds.Load(); got != 1 {
		t.Errorf("find requests = %d, want 1 for 5 identical lookups", got)
	}
	if got := fixture.watch.Load(); got != 1 {
		t.Errorf("watch requests = %d, want 1 for 5 identical lookups", got)
	}
}

func TestAvailabilityNewCountrySetReusesProviderRows(t *testing.T) {
	fixture := newTMDBFixture(t)
	agg := New(newTestCache(t), fixture.client(t))
	ctx := context.Background()

	if _, err := agg.Availability(ctx, testIMDBID, []string{"US"}); err != nil {
		t.Fatalf("first lookup: %v", err)
	}
	// Different country set misses the aggregate row but must reuse the
	// id mapping and the per-country payload cached by the first fetch.
	record, err := agg.Availability(ctx, testIMDBID, []string{"DE"})
	if err != nil {
		t.Fatalf("second lookup: %v", err)
	}

	if !record.HasProviders("DE") {
		t.Fatalf("DE offers missing after country-set change: %+v", record.Countries)
	}
	if got := fixture.finds.Load(); got != 1 {
		t.Errorf("find requests = %d, want 1 (id mapping cached)", got)
	}
	if got := fixture.watch.Load(); got != 1 {
		t.Errorf("watch requests = %d, want 1 (per-country rows cached)", got)
	}
}

func TestAvailabilityCountriesSubsetOfRequested(t *testing.T) {
	fixture := newTMDBFixture(t)
	agg := New(newTestCache(t), fixture.client(t))

	record, err := agg.Availability(context.Background(), testIMDBID, []string{"US"})
	if err != nil {
		t.Fatalf("Availability() returned error: %v", err)
	}
	if _, leaked := record.Countries["DE"]; leaked {
		t.Error("record contains DE offers that were never requested")
	}
	if !record.HasProviders("US") {
		t.Error("requested US offers missing")
	}
}

// ============================================================================
// Conservative fallback
// ============================================================================

func TestAvailabilityFallbackOnlyForMissingCountries(t *testing.T) {
	fixture := newTMDBFixture(t)
	fixture.watchBody = `{"id": 1396, "results": {"US": {"flatrate": [{"provider_id": 8, "provider_name": "Netflix"}]}}}`

	fallback := newFakeSource("streaming-availability")
	fallback.offers["DE"] = sources.Offers{"sky-go": subscriptionOffer("streaming-availability")}

	agg := New(newTestCache(t), fixture.client(t), fallback)
	record, err := agg.Availability(context.Background(), testIMDBID, []string{"US", "DE"})
	if err != nil {
		t.Fatalf("Availability() returned error: %v", err)
	}

	if len(fallback.calls) != 1 || fallback.calls[0] != "DE" {
		t.Errorf("fallback consulted for %v, want [DE] only", fallback.calls)
	}
	if _, ok := record.Countries["DE"]["sky-go"]; !ok {
		t.Errorf("fallback DE offer missing: %+v", record.Countries["DE"])
	}
	if len(record.Sources) != 2 || record.Sources[0] != "tmdb" || record.Sources[1] != "streaming-availability" {
		t.Errorf("Sources = %v, want [tmdb streaming-availability]", record.Sources)
	}
}

func TestAvailabilityFallbackIdleWhenPrimaryCovers(t *testing.T) {
	fixture := newTMDBFixture(t)
	fallback := newFakeSource("streaming-availability")

	agg := New(newTestCache(t), fixture.client(t), fallback)
	if _, err := agg.Availability(context.Background(), testIMDBID, []string{"US", "DE"}); err != nil {
		t.Fatalf("Availability() returned error: %v", err)
	}
	if len(fallback.calls) != 0 {
		t.Errorf("fallback consulted (%v) although the primary covered every country", fallback.calls)
	}
}

func TestAvailabilityFallbackOrder(t *testing.T) {
	fixture := newTMDBFixture(t)
	fixture.watchBody = `{"id": 1396, "results": {}}`

	secondary := newFakeSource("streaming-availability")
	secondary.offers["US"] = sources.Offers{"netflix": subscriptionOffer("streaming-availability")}
	tertiary := newFakeSource("utelly")
	tertiary.offers["DE"] = sources.Offers{"amazon-prime": subscriptionOffer("utelly")}

	agg := New(newTestCache(t), fixture.client(t), secondary, tertiary)
	record, err := agg.Availability(context.Background(), testIMDBID, []string{"US", "DE"})
	if err != nil {
		t.Fatalf("Availability() returned error: %v", err)
	}

	// The secondary saw both missing countries; the tertiary only the
	// one still empty afterwards.
	if len(secondary.calls) != 2 {
		t.Errorf("secondary calls = %v, want both countries", secondary.calls)
	}
	if len(tertiary.calls) != 1 || tertiary.calls[0] != "DE" {
		t.Errorf("tertiary calls = %v, want [DE]", tertiary.calls)
	}
	if !record.HasProviders("US") || !record.HasProviders("DE") {
		t.Errorf("combined record incomplete: %+v", record.Countries)
	}
}

func TestAvailabilityQuotaStopsFallback(t *testing.T) {
	fixture := newTMDBFixture(t)
	fixture.watchBody = `{"id": 1396, "results": {}}`

	fallback := newFakeSource("streaming-availability")
	fallback.errs["DE"] = quota.ErrExceeded
	fallback.errs["US"] = quota.ErrExceeded

	agg := New(newTestCache(t), fixture.client(t), fallback)
	record, err := agg.Availability(context.Background(), testIMDBID, []string{"US", "DE"})
	if err != nil {
		t.Fatalf("Availability() returned error: %v", err)
	}

	if len(fallback.calls) != 1 {
		t.Errorf("fallback calls = %v, want the source stopped after the first quota error", fallback.calls)
	}
	if len(record.Countries) != 0 {
		t.Errorf("record should be empty, got %+v", record.Countries)
	}
}

func TestAvailabilityQuotaPreCheckSkipsFallback(t *testing.T) {
	fixture := newTMDBFixture(t)
	fixture.watchBody = `{"id": 1396, "results": {}}`

	fallback := newFakeSource("streaming-availability")
	fallback.status.Remaining = 0

	agg := New(newTestCache(t), fixture.client(t), fallback)
	if _, err := agg.Availability(context.Background(), testIMDBID, []string{"US"}); err != nil {
		t.Fatalf("Availability() returned error: %v", err)
	}
	if len(fallback.calls) != 0 {
		t.Errorf("exhausted fallback consulted anyway: %v", fallback.calls)
	}
}

func TestAvailabilityOpenBreakerSkipsFallback(t *testing.T) {
	fixture := newTMDBFixture(t)
	fixture.watchBody = `{"id": 1396, "results": {}}`

	fallback := newFakeSource("streaming-availability")
	fallback.status.BreakerState = "open"

	agg := New(newTestCache(t), fixture.client(t), fallback)
	if _, err := agg.Availability(context.Background(), testIMDBID, []string{"US"}); err != nil {
		t.Fatalf("Availability() returned error: %v", err)
	}
	if len(fallback.calls) != 0 {
		t.Errorf("open-breaker fallback consulted anyway: %v", fallback.calls)
	}
}

func TestAvailabilityFallbackCountryFailureSkipsCountry(t *testing.T) {
	fixture := newTMDBFixture(t)
	fixture.watchBody = `{"id": 1396, "results": {}}`

	fallback := newFakeSource("streaming-availability")
	fallback.errs["DE"] = sources.ErrTransient
	fallback.offers["US"] = sources.Offers{"hulu": subscriptionOffer("streaming-availability")}

	agg := New(newTestCache(t), fixture.client(t), fallback)
	record, err := agg.Availability(context.Background(), testIMDBID, []string{"DE", "US"})
	if err != nil {
		t.Fatalf("Availability() returned error: %v", err)
	}

	if len(fallback.calls) != 2 {
		t.Errorf("fallback calls = %v, want both countries attempted", fallback.calls)
	}
	if !record.HasProviders("US") {
		t.Error("US offers lost to the DE failure")
	}
	if record.HasProviders("DE") {
		t.Errorf("failed DE lookup produced offers: %+v", record.Countries["DE"])
	}
}

// ============================================================================
// Merge rules
// ============================================================================

func TestAvailabilityMergeKeepsFirstSource(t *testing.T) {
	fixture := newTMDBFixture(t)
	// Primary netflix offer carries no link; the fallback adds DE plus a
	// US netflix offer with a link. US is covered by the primary, so the
	// fallback must not be consulted for it, and even at merge level the
	// primary's Source field wins for providers it reported first.
	fixture.watchBody = `{"id": 1396, "results": {"US": {"flatrate": [{"provider_id": 8, "provider_name": "Netflix"}]}}}`

	fallback := newFakeSource("streaming-availability")
	fallback.offers["DE"] = sources.Offers{
		"netflix": {Kind: models.OfferSubscription, Link: "https://netflix.com/de/title", Source: "streaming-availability"},
	}

	agg := New(newTestCache(t), fixture.client(t), fallback)
	record, err := agg.Availability(context.Background(), testIMDBID, []string{"US", "DE"})
	if err != nil {
		t.Fatalf("Availability() returned error: %v", err)
	}

	us := record.Countries["US"]["netflix"]
	if us.Source != "tmdb" {
		t.Errorf("US netflix source = %q, want tmdb", us.Source)
	}
	de := record.Countries["DE"]["netflix"]
	if de.Source != "streaming-availability" || de.Link == "" {
		t.Errorf("DE netflix = %+v, want fallback offer with link", de)
	}
}

// ============================================================================
// Diagnostics
// ============================================================================

func TestDiagnosticsOrder(t *testing.T) {
	fixture := newTMDBFixture(t)
	secondary := newFakeSource("streaming-availability")
	tertiary := newFakeSource("utelly")

	agg := New(newTestCache(t), fixture.client(t), secondary, tertiary)
	statuses := agg.Diagnostics()

	if len(statuses) != 3 {
		t.Fatalf("Diagnostics() returned %d statuses, want 3", len(statuses))
	}
	want := []string{"tmdb", "streaming-availability", "utelly"}
	for i, s := range statuses {
		if s.Source != want[i] {
			t.Errorf("status[%d].Source = %q, want %q", i, s.Source, want[i])
		}
	}
}
