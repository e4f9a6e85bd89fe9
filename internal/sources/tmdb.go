// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	retry "github.com/avast/retry-go"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/redundarr/redundarr/internal/breaker"
	"github.com/redundarr/redundarr/internal/logging"
	"github.com/redundarr/redundarr/internal/metrics"
	"github.com/redundarr/redundarr/internal/models"
	"github.com/redundarr/redundarr/internal/providers"
)

const (
	tmdbName = "tmdb"

	// DefaultTMDBBaseURL is the v3 API root.
	DefaultTMDBBaseURL = "https://api.themoviedb.org/3"

	// DefaultTMDBRateLimit is the documented ceiling of 40 requests per
	// 10-second window.
	DefaultTMDBRateLimit = 40
	tmdbRateWindowSpan   = 10 * time.Second

	// DefaultTMDBTTL is how long TMDB payloads stay cached.
	DefaultTMDBTTL = 24 * time.Hour

	tmdbRetryAttempts = 3
	tmdbRetryDelay    = 2 * time.Second
)

// TMDBConfig configures the primary catalogue client.
type TMDBConfig struct {
	// APIKey is either a v3 key (sent as a query parameter) or a v4
	// read access token (JWT, sent as a Bearer header).
	APIKey string

	BaseURL   string
	RateLimit int
	CacheTTL  time.Duration
	Timeout   time.Duration
}

// TMDB is the primary catalogue: authoritative for the IMDb -> TMDB ID
// mapping and for per-country watch providers.
type TMDB struct {
	apiKey  string
	baseURL string
	ttl     time.Duration

	http    *http.Client
	window  *RateWindow
	breaker *breaker.Breaker
	logger  zerolog.Logger

	// retryBase is the first backoff step, shrunk in tests.
	retryBase time.Duration
}

// NewTMDB builds the client. The API key is required; everything else
// has defaults.
func NewTMDB(cfg TMDBConfig) (*TMDB, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("tmdb: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTMDBBaseURL
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultTMDBRateLimit
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultTMDBTTL
	}

	t := &TMDB{
		apiKey:    cfg.APIKey,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		ttl:       cfg.CacheTTL,
		http:      newHTTPClient(cfg.Timeout),
		window:    NewRateWindow(tmdbName, cfg.RateLimit, tmdbRateWindowSpan),
		breaker:   breaker.New(tmdbName, 0, 0),
		logger:    logging.With().Str("source", tmdbName).Logger(),
		retryBase: tmdbRetryDelay,
	}

	t.logger.Debug().
		Int("rate_limit", cfg.RateLimit).
		Dur("cache_ttl", cfg.CacheTTL).
		Msg("primary catalogue client initialised")

	return t, nil
}

// Name implements Client.
func (t *TMDB) Name() string { return tmdbName }

// TTL implements Client.
func (t *TMDB) TTL() time.Duration { return t.ttl }

// FindTVByIMDB resolves an IMDb ID to the TMDB series ID. A title TMDB
// does not know returns ErrNotFound.
func (t *TMDB) FindTVByIMDB(ctx context.Context, imdbID string) (int64, error) {
	body, err := t.request(ctx, "find/"+imdbID, url.Values{"external_source": {"imdb_id"}})
	if err != nil {
		return 0, err
	}

	var resp tmdbFindResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		metrics.SourceErrors.WithLabelValues(tmdbName, "decode").Inc()
		return 0, fmt.Errorf("tmdb: decode find response: %w", err)
	}
	if len(resp.TVResults) == 0 {
		return 0, fmt.Errorf("tmdb: no TV series for %s: %w", imdbID, ErrNotFound)
	}

	id := resp.TVResults[0].ID
	t.logger.Debug().Str("imdb_id", imdbID).Int64("tmdb_id", id).Msg("resolved series id")
	return id, nil
}

// WatchProviders returns offers per country (uppercase ISO code) for a
// TMDB series ID. Countries without offers are absent from the map.
func (t *TMDB) WatchProviders(ctx context.Context, tmdbID int64) (map[string]Offers, error) {
	body, err := t.request(ctx, fmt.Sprintf("tv/%d/watch/providers", tmdbID), nil)
	if err != nil {
		return nil, err
	}

	var resp tmdbWatchProvidersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		metrics.SourceErrors.WithLabelValues(tmdbName, "decode").Inc()
		return nil, fmt.Errorf("tmdb: decode watch providers response: %w", err)
	}

	out := make(map[string]Offers, len(resp.Results))
	for country, countryOffers := range resp.Results {
		offers := countryOffers.offers()
		if len(offers) > 0 {
			out[strings.ToUpper(country)] = offers
		}
	}

	t.logger.Debug().Int64("tmdb_id", tmdbID).Int("countries", len(out)).Msg("fetched watch providers")
	return out, nil
}

// Lookup implements Client: find then watch providers, sliced to one
// country. The aggregator prefers the two-step methods so a single fetch
// can serve every target country; Lookup exists for uniform fallback
// handling and connectivity checks.
func (t *TMDB) Lookup(ctx context.Context, imdbID, country string) (Offers, error) {
	id, err := t.FindTVByIMDB(ctx, imdbID)
	if err != nil {
		return nil, err
	}
	all, err := t.WatchProviders(ctx, id)
	if err != nil {
		return nil, err
	}
	return all[strings.ToUpper(strings.TrimSpace(country))], nil
}

// Status implements Client.
func (t *TMDB) Status() Status {
	used := t.window.InFlight()
	return Status{
		Source:       tmdbName,
		Kind:         "rate-window",
		Limit:        t.window.Limit(),
		Used:         used,
		Remaining:    t.window.Limit() - used,
		BreakerState: t.breaker.State().String(),
	}
}

// ============================================================================
// Transport
// ============================================================================

// request performs a GET with retries. Transient upstream trouble (5xx,
// transport errors) and 429s are retried with exponential backoff, 429
// honouring the server's Retry-After first. Auth failures and not-found
// return immediately. Every attempt claims a rate-window slot.
func (t *TMDB) request(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	var body []byte
	err := retry.Do(
		func() error {
			b, err := t.attempt(ctx, endpoint, params)
			if err != nil {
				return err
			}
			body = b
			return nil
		},
		retry.Attempts(tmdbRetryAttempts),
		retry.Delay(t.retryBase),
		retry.DelayType(t.retryDelay),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ErrTransient) || errors.Is(err, ErrRateLimited)
		}),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	return body, err
}

func (t *TMDB) retryDelay(n uint, err error, config *retry.Config) time.Duration {
	var se *StatusError
	if errors.As(err, &se) && se.RetryAfter > 0 {
		return se.RetryAfter
	}
	return retry.BackOffDelay(n, err, config)
}

// tmdbPayload separates "the source answered" from "the source is in
// trouble": a 404 is a healthy answer and must not count against the
// breaker.
type tmdbPayload struct {
	body     []byte
	notFound bool
}

func (t *TMDB) attempt(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if err := t.window.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := breaker.Do(t.breaker, func() (tmdbPayload, error) {
		return t.roundTrip(ctx, endpoint, params)
	})
	if err != nil {
		return nil, err
	}
	if payload.notFound {
		return nil, &StatusError{Source: tmdbName, StatusCode: http.StatusNotFound, Err: ErrNotFound}
	}
	return payload.body, nil
}

func (t *TMDB) roundTrip(ctx context.Context, endpoint string, params url.Values) (tmdbPayload, error) {
	q := url.Values{}
	for k, vs := range params {
		q[k] = vs
	}

	bearer := strings.HasPrefix(t.apiKey, "eyJ")
	if !bearer {
		q.Set("api_key", t.apiKey)
	}

	u := t.baseURL + "/" + strings.TrimPrefix(endpoint, "/")
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return tmdbPayload{}, fmt.Errorf("tmdb: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent())
	if bearer {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	start := time.Now()
	resp, err := t.http.Do(req)
	if err != nil {
		metrics.SourceErrors.WithLabelValues(tmdbName, "transport").Inc()
		return tmdbPayload{}, fmt.Errorf("tmdb: %v: %w", err, ErrTransient)
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.RecordSourceRequest(tmdbName, resp.StatusCode, time.Since(start))

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			metrics.SourceErrors.WithLabelValues(tmdbName, "transport").Inc()
			return tmdbPayload{}, fmt.Errorf("tmdb: read response: %v: %w", err, ErrTransient)
		}
		return tmdbPayload{body: body}, nil
	case resp.StatusCode == http.StatusNotFound:
		return tmdbPayload{notFound: true}, nil
	default:
		return tmdbPayload{}, t.statusError(resp)
	}
}

func (t *TMDB) statusError(resp *http.Response) error {
	se := &StatusError{Source: tmdbName, StatusCode: resp.StatusCode}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		se.Err = ErrAuthFailed
		metrics.SourceErrors.WithLabelValues(tmdbName, "auth").Inc()
	case resp.StatusCode == http.StatusTooManyRequests:
		se.Err = ErrRateLimited
		se.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		metrics.SourceErrors.WithLabelValues(tmdbName, "rate_limited").Inc()
	case resp.StatusCode >= 500:
		se.Err = ErrTransient
		metrics.SourceErrors.WithLabelValues(tmdbName, "transient").Inc()
	default:
		se.Err = fmt.Errorf("unexpected status: %s", tmdbErrorMessage(resp))
		metrics.SourceErrors.WithLabelValues(tmdbName, "unexpected").Inc()
	}
	return se
}

// tmdbErrorMessage pulls status_message out of a JSON error body when
// there is one.
func tmdbErrorMessage(resp *http.Response) string {
	fallback := fmt.Sprintf("HTTP %d", resp.StatusCode)
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		return fallback
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fallback
	}
	var payload struct {
		StatusMessage string `json:"status_message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.StatusMessage == "" {
		return fallback
	}
	return payload.StatusMessage
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// ============================================================================
// Wire Format
// ============================================================================

type tmdbFindResponse struct {
	TVResults []struct {
		ID int64 `json:"id"`
	} `json:"tv_results"`
}

type tmdbWatchProvidersResponse struct {
	ID      int64                        `json:"id"`
	Results map[string]tmdbCountryOffers `json:"results"`
}

type tmdbCountryOffers struct {
	Link     string         `json:"link"`
	Flatrate []tmdbProvider `json:"flatrate"`
	Free     []tmdbProvider `json:"free"`
	Ads      []tmdbProvider `json:"ads"`
	Rent     []tmdbProvider `json:"rent"`
	Buy      []tmdbProvider `json:"buy"`
}

type tmdbProvider struct {
	ProviderID   int64  `json:"provider_id"`
	ProviderName string `json:"provider_name"`
}

// offers flattens the per-kind arrays into canonical offers. Watchable
// kinds come first so a provider listed under several monetisation
// models keeps the kind a subscriber cares about.
func (c tmdbCountryOffers) offers() Offers {
	out := make(Offers)
	groups := []struct {
		kind  models.OfferKind
		items []tmdbProvider
	}{
		{models.OfferSubscription, c.Flatrate},
		{models.OfferFree, c.Free},
		{models.OfferAds, c.Ads},
		{models.OfferRent, c.Rent},
		{models.OfferBuy, c.Buy},
	}

	for _, g := range groups {
		for _, p := range g.items {
			key := providers.Normalize(p.ProviderName)
			putOffer(out, key, models.Offer{
				Kind:   g.kind,
				Link:   c.Link,
				Source: tmdbName,
			})
		}
	}
	return out
}
