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
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/redundarr/redundarr/internal/breaker"
	"github.com/redundarr/redundarr/internal/logging"
	"github.com/redundarr/redundarr/internal/metrics"
	"github.com/redundarr/redundarr/internal/models"
	"github.com/redundarr/redundarr/internal/providers"
	"github.com/redundarr/redundarr/internal/quota"
)

const (
	utellyName = "utelly"

	// DefaultUtellyBaseURL is the RapidAPI endpoint.
	DefaultUtellyBaseURL = "https://utelly-tv-shows-and-movies-availability-v1.p.rapidapi.com"

	// DefaultUtellyQuota is the free-tier monthly request allowance.
	DefaultUtellyQuota = 1000

	// DefaultUtellyTTL is how long tertiary payloads stay cached. The
	// broad aggregator updates slowly, so a week is safe and stretches
	// the small monthly quota.
	DefaultUtellyTTL = 7 * 24 * time.Hour
)

// UtellyConfig configures the tertiary catalogue client.
type UtellyConfig struct {
	// APIKey is the RapidAPI key, sent as X-RapidAPI-Key.
	APIKey string

	BaseURL      string
	MonthlyQuota int
	CacheTTL     time.Duration
	Timeout      time.Duration
}

// Utelly is the tertiary catalogue, a broad aggregator consulted last.
// It reports which storefronts carry a title but not the monetisation
// model, so the offer kind is inferred from each location's URL.
type Utelly struct {
	apiKey  string
	baseURL string
	host    string
	ttl     time.Duration

	http    *http.Client
	quota   *quota.Guard
	breaker *breaker.Breaker
	logger  zerolog.Logger
}

// NewUtelly builds the client. The RapidAPI key is required; everything
// else has defaults.
func NewUtelly(cfg UtellyConfig) (*Utelly, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("utelly: rapidapi key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultUtellyBaseURL
	}
	if cfg.MonthlyQuota <= 0 {
		cfg.MonthlyQuota = DefaultUtellyQuota
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultUtellyTTL
	}

	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("utelly: parse base url: %w", err)
	}

	c := &Utelly{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		host:    u.Host,
		ttl:     cfg.CacheTTL,
		http:    newHTTPClient(cfg.Timeout),
		quota:   quota.New(utellyName, quota.Monthly, cfg.MonthlyQuota),
		breaker: breaker.New(utellyName, 0, 0),
		logger:  logging.With().Str("source", utellyName).Logger(),
	}

	c.logger.Debug().
		Int("monthly_quota", cfg.MonthlyQuota).
		Dur("cache_ttl", cfg.CacheTTL).
		Msg("tertiary catalogue client initialised")

	return c, nil
}

// Name implements Client.
func (c *Utelly) Name() string { return utellyName }

// TTL implements Client.
func (c *Utelly) TTL() time.Duration { return c.ttl }

// Lookup implements Client. A title the catalogue does not carry returns
// an empty offer map. Quota is consumed per attempt.
func (c *Utelly) Lookup(ctx context.Context, imdbID, country string) (Offers, error) {
	if err := c.quota.CheckAndIncrement(); err != nil {
		return nil, err
	}

	params := url.Values{
		"term":    {imdbID},
		"country": {strings.ToLower(strings.TrimSpace(country))},
	}

	payload, err := breaker.Do(c.breaker, func() (utellyPayload, error) {
		return c.roundTrip(ctx, "lookup", params)
	})
	if err != nil {
		return nil, err
	}
	if payload.notFound {
		c.logger.Debug().Str("imdb_id", imdbID).Str("country", country).Msg("title not in tertiary catalogue")
		return Offers{}, nil
	}

	var resp utellyLookupResponse
	if err := json.Unmarshal(payload.body, &resp); err != nil {
		metrics.SourceErrors.WithLabelValues(utellyName, "decode").Inc()
		return nil, fmt.Errorf("utelly: decode lookup response: %w", err)
	}

	offers := make(Offers)
	for _, result := range resp.Results {
		for _, loc := range result.Locations {
			if loc.DisplayName == "" {
				continue
			}
			putOffer(offers, providers.Normalize(loc.DisplayName), loc.offer())
		}
	}

	c.logger.Debug().
		Str("imdb_id", imdbID).
		Str("country", country).
		Int("offers", len(offers)).
		Msg("fetched tertiary availability")

	return offers, nil
}

// Status implements Client.
func (c *Utelly) Status() Status {
	return Status{
		Source:       utellyName,
		Kind:         "monthly-quota",
		Limit:        c.quota.Ceiling(),
		Used:         c.quota.Used(),
		Remaining:    c.quota.Remaining(),
		ResetsAt:     c.quota.ResetsAt(),
		BreakerState: c.breaker.State().String(),
	}
}

type utellyPayload struct {
	body     []byte
	notFound bool
}

func (c *Utelly) roundTrip(ctx context.Context, endpoint string, params url.Values) (utellyPayload, error) {
	u := c.baseURL + "/" + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return utellyPayload{}, fmt.Errorf("utelly: build request: %w", err)
	}
	req.Header.Set("X-RapidAPI-Key", c.apiKey)
	req.Header.Set("X-RapidAPI-Host", c.host)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent())

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.SourceErrors.WithLabelValues(utellyName, "transport").Inc()
		return utellyPayload{}, fmt.Errorf("utelly: %v: %w", err, ErrTransient)
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.RecordSourceRequest(utellyName, resp.StatusCode, time.Since(start))

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			metrics.SourceErrors.WithLabelValues(utellyName, "transport").Inc()
			return utellyPayload{}, fmt.Errorf("utelly: read response: %v: %w", err, ErrTransient)
		}
		return utellyPayload{body: body}, nil
	case resp.StatusCode == http.StatusNotFound:
		return utellyPayload{notFound: true}, nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		metrics.SourceErrors.WithLabelValues(utellyName, "auth").Inc()
		return utellyPayload{}, &StatusError{Source: utellyName, StatusCode: resp.StatusCode, Err: ErrAuthFailed}
	case resp.StatusCode == http.StatusTooManyRequests:
		metrics.SourceErrors.WithLabelValues(utellyName, "rate_limited").Inc()
		return utellyPayload{}, &StatusError{
			Source:     utellyName,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        ErrRateLimited,
		}
	case resp.StatusCode >= 500:
		metrics.SourceErrors.WithLabelValues(utellyName, "transient").Inc()
		return utellyPayload{}, &StatusError{Source: utellyName, StatusCode: resp.StatusCode, Err: ErrTransient}
	default:
		metrics.SourceErrors.WithLabelValues(utellyName, "unexpected").Inc()
		return utellyPayload{}, &StatusError{
			Source:     utellyName,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: HTTP %d", resp.StatusCode),
		}
	}
}

// ============================================================================
// Wire Format
// ============================================================================

type utellyLookupResponse struct {
	Results []utellyResult `json:"results"`
}

type utellyResult struct {
	Name      string           `json:"name"`
	Locations []utellyLocation `json:"locations"`
}

type utellyLocation struct {
	DisplayName string `json:"display_name"`
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	URL         string `json:"url"`
}

func (l utellyLocation) offer() models.Offer {
	return models.Offer{
		Kind:   kindFromURL(l.URL),
		Link:   l.URL,
		Source: utellyName,
	}
}

// kindFromURL infers the monetisation model from a storefront URL. The
// upstream reports where a title is listed but not how it is sold.
// Digital stores (iTunes, Play, Microsoft) sell and rent; rent is
// recorded as the cheaper, more common case.
func kindFromURL(rawURL string) models.OfferKind {
	u := strings.ToLower(rawURL)
	switch {
	case containsAny(u, "rent", "rental", "verleih"):
		return models.OfferRent
	case containsAny(u, "buy", "purchase", "kaufen"):
		return models.OfferBuy
	case containsAny(u, "itunes", "play.google", "microsoft.com"):
		return models.OfferRent
	default:
		return models.OfferSubscription
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
