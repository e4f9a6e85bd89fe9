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
	"sync"
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
	streamingAvailabilityName = "streaming-availability"

	// DefaultStreamingAvailabilityBaseURL is the RapidAPI endpoint.
	DefaultStreamingAvailabilityBaseURL = "https://streaming-availability.p.rapidapi.com"

	// DefaultStreamingAvailabilityQuota is the free-tier daily request
	// allowance.
	DefaultStreamingAvailabilityQuota = 100

	// DefaultStreamingAvailabilityTTL is how long secondary payloads stay
	// cached. Shorter than the primary because deep links and expiry
	// dates churn faster than catalogue membership.
	DefaultStreamingAvailabilityTTL = 12 * time.Hour

	saturationNote = "daily quota saturated by HTTP 403; the upstream does not distinguish quota exhaustion from a revoked key"
)

// StreamingAvailabilityConfig configures the secondary catalogue client.
type StreamingAvailabilityConfig struct {
	// APIKey is the RapidAPI key, sent as X-RapidAPI-Key.
	APIKey string

	BaseURL    string
	DailyQuota int
	CacheTTL   time.Duration
	Timeout    time.Duration
}

// StreamingAvailability is the secondary catalogue. It contributes deep
// links, quality and expiry detail, and is consulted only for countries
// the primary knows nothing about. Every request spends paid daily
// quota, so the guard is checked before any traffic is sent.
type StreamingAvailability struct {
	apiKey  string
	baseURL string
	host    string
	ttl     time.Duration

	http    *http.Client
	quota   *quota.Guard
	breaker *breaker.Breaker
	logger  zerolog.Logger

	mu           sync.Mutex
	saturated403 bool
}

// NewStreamingAvailability builds the client. The RapidAPI key is
// required; everything else has defaults.
func NewStreamingAvailability(cfg StreamingAvailabilityConfig) (*StreamingAvailability, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("streaming-availability: rapidapi key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultStreamingAvailabilityBaseURL
	}
	if cfg.DailyQuota <= 0 {
		cfg.DailyQuota = DefaultStreamingAvailabilityQuota
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultStreamingAvailabilityTTL
	}

	// RapidAPI routes on the host header, so it must track the base URL
	// rather than being hardcoded.
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("streaming-availability: parse base url: %w", err)
	}

	s := &StreamingAvailability{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		host:    u.Host,
		ttl:     cfg.CacheTTL,
		http:    newHTTPClient(cfg.Timeout),
		quota:   quota.New(streamingAvailabilityName, quota.Daily, cfg.DailyQuota),
		breaker: breaker.New(streamingAvailabilityName, 0, 0),
		logger:  logging.With().Str("source", streamingAvailabilityName).Logger(),
	}

	s.logger.Debug().
		Int("daily_quota", cfg.DailyQuota).
		Dur("cache_ttl", cfg.CacheTTL).
		Msg("secondary catalogue client initialised")

	return s, nil
}

// Name implements Client.
func (s *StreamingAvailability) Name() string { return streamingAvailabilityName }

// TTL implements Client.
func (s *StreamingAvailability) TTL() time.Duration { return s.ttl }

// Lookup implements Client. A title the catalogue does not carry returns
// an empty offer map. Quota is consumed per attempt: RapidAPI bills the
// request whether or not it succeeds.
func (s *StreamingAvailability) Lookup(ctx context.Context, imdbID, country string) (Offers, error) {
	if err := s.quota.CheckAndIncrement(); err != nil {
		return nil, err
	}

	endpoint := "shows/" + imdbID
	params := url.Values{"country": {strings.ToLower(strings.TrimSpace(country))}}

	payload, err := breaker.Do(s.breaker, func() (saPayload, error) {
		return s.roundTrip(ctx, endpoint, params)
	})
	if err != nil {
		return nil, err
	}
	if payload.notFound {
		s.logger.Debug().Str("imdb_id", imdbID).Str("country", country).Msg("title not in secondary catalogue")
		return Offers{}, nil
	}

	var resp saShowResponse
	if err := json.Unmarshal(payload.body, &resp); err != nil {
		metrics.SourceErrors.WithLabelValues(streamingAvailabilityName, "decode").Inc()
		return nil, fmt.Errorf("streaming-availability: decode show response: %w", err)
	}

	offers := make(Offers, len(resp.StreamingOptions))
	for _, opt := range resp.StreamingOptions {
		if opt.Service == "" {
			continue
		}
		putOffer(offers, providers.Normalize(opt.Service), opt.offer())
	}

	s.logger.Debug().
		Str("imdb_id", imdbID).
		Str("country", country).
		Int("offers", len(offers)).
		Msg("fetched secondary availability")

	return offers, nil
}

// Status implements Client.
func (s *StreamingAvailability) Status() Status {
	s.mu.Lock()
	saturated := s.saturated403
	s.mu.Unlock()

	st := Status{
		Source:       streamingAvailabilityName,
		Kind:         "daily-quota",
		Limit:        s.quota.Ceiling(),
		Used:         s.quota.Used(),
		Remaining:    s.quota.Remaining(),
		ResetsAt:     s.quota.ResetsAt(),
		BreakerState: s.breaker.State().String(),
	}
	if saturated {
		st.Note = saturationNote
	}
	return st
}

type saPayload struct {
	body     []byte
	notFound bool
}

func (s *StreamingAvailability) roundTrip(ctx context.Context, endpoint string, params url.Values) (saPayload, error) {
	u := s.baseURL + "/" + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return saPayload{}, fmt.Errorf("streaming-availability: build request: %w", err)
	}
	req.Header.Set("X-RapidAPI-Key", s.apiKey)
	req.Header.Set("X-RapidAPI-Host", s.host)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent())

	start := time.Now()
	resp, err := s.http.Do(req)
	if err != nil {
		metrics.SourceErrors.WithLabelValues(streamingAvailabilityName, "transport").Inc()
		return saPayload{}, fmt.Errorf("streaming-availability: %v: %w", err, ErrTransient)
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.RecordSourceRequest(streamingAvailabilityName, resp.StatusCode, time.Since(start))

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			metrics.SourceErrors.WithLabelValues(streamingAvailabilityName, "transport").Inc()
			return saPayload{}, fmt.Errorf("streaming-availability: read response: %v: %w", err, ErrTransient)
		}
		return saPayload{body: body}, nil
	case resp.StatusCode == http.StatusNotFound:
		return saPayload{notFound: true}, nil
	case resp.StatusCode == http.StatusForbidden:
		// The upstream answers 403 both when the daily quota runs out
		// and when the key is revoked. Treat it as exhaustion for
		// safety and surface the ambiguity in diagnostics.
		s.saturate()
		s.logger.Warn().Msg(saturationNote)
		metrics.SourceErrors.WithLabelValues(streamingAvailabilityName, "quota").Inc()
		return saPayload{}, &StatusError{
			Source:     streamingAvailabilityName,
			StatusCode: resp.StatusCode,
			Err:        quota.ErrExceeded,
		}
	case resp.StatusCode == http.StatusUnauthorized:
		metrics.SourceErrors.WithLabelValues(streamingAvailabilityName, "auth").Inc()
		return saPayload{}, &StatusError{Source: streamingAvailabilityName, StatusCode: resp.StatusCode, Err: ErrAuthFailed}
	case resp.StatusCode == http.StatusTooManyRequests:
		// Burst limiting on the RapidAPI side. The daily counter is
		// saturated as well: the upstream has already stopped serving
		// us, so further attempts today only waste requests.
		s.quota.Saturate()
		metrics.SourceErrors.WithLabelValues(streamingAvailabilityName, "rate_limited").Inc()
		return saPayload{}, &StatusError{
			Source:     streamingAvailabilityName,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        ErrRateLimited,
		}
	case resp.StatusCode >= 500:
		metrics.SourceErrors.WithLabelValues(streamingAvailabilityName, "transient").Inc()
		return saPayload{}, &StatusError{Source: streamingAvailabilityName, StatusCode: resp.StatusCode, Err: ErrTransient}
	default:
		metrics.SourceErrors.WithLabelValues(streamingAvailabilityName, "unexpected").Inc()
		return saPayload{}, &StatusError{
			Source:     streamingAvailabilityName,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status: HTTP %d", resp.StatusCode),
		}
	}
}

func (s *StreamingAvailability) saturate() {
	s.quota.Saturate()
	s.mu.Lock()
	s.saturated403 = true
	s.mu.Unlock()
}

// ============================================================================
// Wire Format
// ============================================================================

type saShowResponse struct {
	StreamingOptions []saStreamingOption `json:"streamingOptions"`
}

type saStreamingOption struct {
	Service           string   `json:"service"`
	Type              string   `json:"type"`
	Link              string   `json:"link"`
	Quality           string   `json:"quality"`
	ExpiringOn        int64    `json:"expiringOn"`
	AudioLanguages    []string `json:"audioLanguages"`
	SubtitleLanguages []string `json:"subtitleLanguages"`
}

func (o saStreamingOption) offer() models.Offer {
	offer := models.Offer{
		Kind:    o.kind(),
		Link:    o.Link,
		Quality: o.Quality,
		Source:  streamingAvailabilityName,
	}
	if o.ExpiringOn > 0 {
		t := time.Unix(o.ExpiringOn, 0).UTC()
		offer.ExpiresAt = &t
	}
	return offer
}

func (o saStreamingOption) kind() models.OfferKind {
	switch strings.ToLower(o.Type) {
	case "subscription":
		return models.OfferSubscription
	case "rent":
		return models.OfferRent
	case "buy":
		return models.OfferBuy
	case "free":
		return models.OfferFree
	case "addon", "ads":
		return models.OfferAds
	default:
		return models.OfferSubscription
	}
}
