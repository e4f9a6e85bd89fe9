// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

// Package sources implements the catalogue clients: TMDB as the primary,
// Streaming Availability (RapidAPI) as the secondary, Utelly (RapidAPI)
// as the tertiary. Each client owns its HTTP client, its rate discipline
// (sliding window or quota guard), and its circuit breaker, and reports
// offers keyed by canonical provider slug.
//
// Errors are mapped to shared sentinels so the aggregator can treat all
// sources uniformly: ErrAuthFailed (401), ErrNotFound (404 where absence
// is meaningful), ErrRateLimited (429), ErrTransient (5xx and transport
// failures). Quota exhaustion surfaces as quota.ErrExceeded from the
// owning guard and breaker rejections as breaker.ErrOpen.
package sources

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redundarr/redundarr/internal/models"
	"github.com/redundarr/redundarr/internal/version"
)

// Sentinel errors shared by every catalogue client.
var (
	ErrAuthFailed  = errors.New("catalogue authentication failed")
	ErrNotFound    = errors.New("title not found in catalogue")
	ErrRateLimited = errors.New("catalogue rate limit exceeded")
	ErrTransient   = errors.New("transient catalogue error")
)

// Offers maps canonical provider slug to the offer a source reported.
type Offers map[string]models.Offer

// Client is one external catalogue, queried per title and country.
type Client interface {
	// Name identifies the source in logs, records and metrics.
	Name() string

	// Lookup returns the offers for one IMDb ID in one country. A title
	// the catalogue does not carry returns an empty map, not an error,
	// except on the primary source where absence is ErrNotFound.
	Lookup(ctx context.Context, imdbID, country string) (Offers, error)

	// TTL is how long this source's payloads stay fresh in the cache.
	TTL() time.Duration

	// Status reports rate/quota/breaker state for diagnostics.
	Status() Status
}

// Status is a source's rate discipline snapshot, rendered by
// `providers stats` and the connectivity check.
type Status struct {
	Source       string    `json:"source"`
	Kind         string    `json:"kind"` // rate-window, daily-quota, monthly-quota
	Limit        int       `json:"limit"`
	Used         int       `json:"used"`
	Remaining    int       `json:"remaining"`
	ResetsAt     time.Time `json:"resetsAt,omitempty"`
	BreakerState string    `json:"breakerState"`

	// Note carries source-specific caveats, such as the secondary
	// source's inability to tell quota exhaustion from a revoked key.
	Note string `json:"note,omitempty"`
}

// StatusError carries the upstream HTTP status alongside the mapped
// sentinel, plus the server's Retry-After hint when one was sent.
type StatusError struct {
	Source     string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %v (HTTP %d)", e.Source, e.Err, e.StatusCode)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// defaultTimeout bounds every catalogue request.
const defaultTimeout = 30 * time.Second

// newHTTPClient builds the per-source HTTP client.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// userAgent identifies this tool to upstream APIs.
func userAgent() string {
	return "redundarr/" + version.Version + " (https://github.com/redundarr/redundarr)"
}

// putOffer inserts an offer under its canonical slug. Empty slugs are
// dropped. When a provider already has an offer, a subscription offer
// replaces a non-subscription one (the engine cares about watchability,
// not shopping); otherwise the first stays.
func putOffer(offers Offers, key string, offer models.Offer) {
	if key == "" {
		return
	}
	existing, ok := offers[key]
	if !ok {
		offers[key] = offer
		return
	}
	if existing.Kind != models.OfferSubscription && offer.Kind == models.OfferSubscription {
		offer.Link = firstNonEmpty(offer.Link, existing.Link)
		offer.Quality = firstNonEmpty(offer.Quality, existing.Quality)
		offers[key] = offer
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
