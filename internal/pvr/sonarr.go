// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

package pvr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/redundarr/redundarr/internal/logging"
	"github.com/redundarr/redundarr/internal/metrics"
	"github.com/redundarr/redundarr/internal/models"
	"github.com/redundarr/redundarr/internal/version"
)

const (
	sonarrName = "sonarr"

	// apiPrefix pins the client to the v3 API.
	apiPrefix = "/api/v3"

	defaultTimeout = 30 * time.Second

	// sonarrMaxRetries is retries after the first attempt. Backoff is
	// linear: delay, 2*delay, 3*delay.
	sonarrMaxRetries = 3
	sonarrRetryDelay = time.Second

	// Mutations are throttled so a large sync cannot flood the PVR with
	// PUTs and DELETEs while it is busy with its own tasks.
	mutationRPS   = 10
	mutationBurst = 10
)

// SonarrConfig configures the Sonarr client. URL is the instance root
// without the API prefix.
type SonarrConfig struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Sonarr implements Client against the Sonarr v3 API.
type Sonarr struct {
	baseURL string
	apiKey  string

	http    *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger

	// retryDelay is the linear backoff base, shrunk in tests.
	retryDelay time.Duration
}

var _ Client = (*Sonarr)(nil)

// NewSonarr builds the client. URL and API key are required.
func NewSonarr(cfg SonarrConfig) (*Sonarr, error) {
	if cfg.URL == "" {
		return nil, errors.New("sonarr: url is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("sonarr: api key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	s := &Sonarr{
		baseURL:    strings.TrimRight(cfg.URL, "/") + apiPrefix,
		apiKey:     cfg.APIKey,
		http:       &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(mutationRPS, mutationBurst),
		logger:     logging.With().Str("component", sonarrName).Logger(),
		retryDelay: sonarrRetryDelay,
	}

	s.logger.Debug().Str("url", cfg.URL).Dur("timeout", timeout).Msg("pvr client initialised")
	return s, nil
}

// TestConnection implements Client.
func (s *Sonarr) TestConnection(ctx context.Context) error {
	data, err := s.request(ctx, "status", http.MethodGet, "system/status", nil, nil)
	if err != nil {
		return err
	}

	var status struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return fmt.Errorf("sonarr: decode system status: %w", err)
	}

	s.logger.Debug().Str("version", status.Version).Msg("pvr connection verified")
	return nil
}

// ListMonitoredSeries implements Client.
func (s *Sonarr) ListMonitoredSeries(ctx context.Context) ([]models.Series, error) {
	data, err := s.request(ctx, "listSeries", http.MethodGet, "series", nil, nil)
	if err != nil {
		return nil, err
	}

	var all []sonarrSeries
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("sonarr: decode series list: %w", err)
	}

	monitored := make([]models.Series, 0, len(all))
	for _, sr := range all {
		if !sr.Monitored {
			continue
		}
		monitored = append(monitored, sr.toModel(s.logger))
	}

	s.logger.Debug().Int("total", len(all)).Int("monitored", len(monitored)).Msg("listed series")
	return monitored, nil
}

// GetSeries implements Client.
func (s *Sonarr) GetSeries(ctx context.Context, id int) (*models.Series, error) {
	data, err := s.request(ctx, "getSeries", http.MethodGet, seriesEndpoint(id), nil, nil)
	if err != nil {
		return nil, err
	}

	var sr sonarrSeries
	if err := json.Unmarshal(data, &sr); err != nil {
		return nil, fmt.Errorf("sonarr: decode series %d: %w", id, err)
	}

	series := sr.toModel(s.logger)
	return &series, nil
}

// UnmonitorSeries implements Client: the series flag and every season
// flag are cleared together, otherwise Sonarr keeps grabbing episodes
// for seasons that stayed monitored.
func (s *Sonarr) UnmonitorSeries(ctx context.Context, id int) error {
	raw, err := s.fetchSeriesResource(ctx, id)
	if err != nil {
		return err
	}

	raw["monitored"] = false
	if seasons, ok := raw["seasons"].([]any); ok {
		for _, v := range seasons {
			if season, ok := v.(map[string]any); ok {
				season["monitored"] = false
			}
		}
	}

	if err := s.putSeriesResource(ctx, id, raw); err != nil {
		return err
	}
	s.logger.Debug().Int("series_id", id).Msg("series unmonitored")
	return nil
}

// UnmonitorSeason implements Client. A season the series does not have
// is an error; silently succeeding would let the engine report actions
// that never happened.
func (s *Sonarr) UnmonitorSeason(ctx context.Context, id, seasonNumber int) error {
	raw, err := s.fetchSeriesResource(ctx, id)
	if err != nil {
		return err
	}

	seasons, _ := raw["seasons"].([]any)
	found := false
	for _, v := range seasons {
		season, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if n, ok := season["seasonNumber"].(float64); ok && int(n) == seasonNumber {
			season["monitored"] = false
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("sonarr: series %d has no season %d", id, seasonNumber)
	}

	if err := s.putSeriesResource(ctx, id, raw); err != nil {
		return err
	}
	s.logger.Debug().Int("series_id", id).Int("season", seasonNumber).Msg("season unmonitored")
	return nil
}

// DeleteSeries implements Client.
func (s *Sonarr) DeleteSeries(ctx context.Context, id int, deleteFiles bool) error {
	q := url.Values{"deleteFiles": {strconv.FormatBool(deleteFiles)}}
	if _, err := s.request(ctx, "deleteSeries", http.MethodDelete, seriesEndpoint(id), q, nil); err != nil {
		return err
	}

	s.logger.Debug().Int("series_id", id).Bool("delete_files", deleteFiles).Msg("series deleted")
	return nil
}

// DeleteSeasonFiles implements Client. Individual file deletions that
// fail are logged and skipped; the remaining files still get removed.
func (s *Sonarr) DeleteSeasonFiles(ctx context.Context, id, seasonNumber int) error {
	q := url.Values{"seriesId": {strconv.Itoa(id)}}
	data, err := s.request(ctx, "listEpisodes", http.MethodGet, "episode", q, nil)
	if err != nil {
		return err
	}

	var episodes []sonarrEpisode
	if err := json.Unmarshal(data, &episodes); err != nil {
		return fmt.Errorf("sonarr: decode episodes for series %d: %w", id, err)
	}

	deleted, total := 0, 0
	for _, ep := range episodes {
		if ep.SeasonNumber != seasonNumber || !ep.HasFile || ep.EpisodeFile == nil {
			continue
		}
		total++

		endpoint := fmt.Sprintf("episodefile/%d", ep.EpisodeFile.ID)
		if _, err := s.request(ctx, "deleteEpisodeFile", http.MethodDelete, endpoint, nil, nil); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn().
				Int("series_id", id).
				Int("season", seasonNumber).
				Int64("episode_file_id", ep.EpisodeFile.ID).
				Err(err).
				Msg("episode file deletion failed, continuing")
			continue
		}
		deleted++
	}

	s.logger.Debug().
		Int("series_id", id).
		Int("season", seasonNumber).
		Int("deleted", deleted).
		Int("files", total).
		Msg("season files deleted")
	return nil
}

// UnmonitorAndDeleteSeason implements Client. The unmonitor must land
// first: deleting files from a still-monitored season would only
// trigger a re-download. Once the season is unmonitored, file deletion
// failures are logged rather than returned, so a flaky disk does not
// roll back the monitoring change.
func (s *Sonarr) UnmonitorAndDeleteSeason(ctx context.Context, id, seasonNumber int) error {
	if err := s.UnmonitorSeason(ctx, id, seasonNumber); err != nil {
		return err
	}

	if err := s.DeleteSeasonFiles(ctx, id, seasonNumber); err != nil {
		s.logger.Warn().
			Int("series_id", id).
			Int("season", seasonNumber).
			Err(err).
			Msg("season unmonitored but file deletion failed")
	}
	return nil
}

// ============================================================================
// Transport
// ============================================================================

// fetchSeriesResource returns the full series resource as a raw map so
// the eventual PUT echoes back every field Sonarr sent, including ones
// this tool does not model.
func (s *Sonarr) fetchSeriesResource(ctx context.Context, id int) (map[string]any, error) {
	data, err := s.request(ctx, "getSeries", http.MethodGet, seriesEndpoint(id), nil, nil)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("sonarr: decode series %d: %w", id, err)
	}
	return raw, nil
}

func (s *Sonarr) putSeriesResource(ctx context.Context, id int, raw map[string]any) error {
	_, err := s.request(ctx, "updateSeries", http.MethodPut, seriesEndpoint(id), nil, raw)
	return err
}

func seriesEndpoint(id int) string {
	return fmt.Sprintf("series/%d", id)
}

// request performs one API call with retries. Server errors and
// transport failures are retried with linear backoff; auth and client
// errors are not. Mutations wait on the rate limiter before the first
// attempt.
func (s *Sonarr) request(ctx context.Context, op, method, endpoint string, query url.Values, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("sonarr: encode %s body: %w", endpoint, err)
		}
	}

	if method != http.MethodGet {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	for attempt := 0; ; attempt++ {
		data, retryable, err := s.attempt(ctx, op, method, endpoint, query, payload)
		if err == nil {
			return data, nil
		}
		if !retryable {
			return nil, err
		}
		if attempt >= sonarrMaxRetries {
			return nil, fmt.Errorf("sonarr: %s %s failed after %d attempts: %w", method, endpoint, attempt+1, err)
		}

		delay := s.retryDelay * time.Duration(attempt+1)
		s.logger.Warn().
			Str("endpoint", endpoint).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("pvr request failed, retrying")
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// attempt performs a single round trip. The bool reports whether the
// failure is worth retrying.
func (s *Sonarr) attempt(ctx context.Context, op, method, endpoint string, query url.Values, payload []byte) ([]byte, bool, error) {
	u := s.baseURL + "/" + strings.TrimPrefix(endpoint, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, false, fmt.Errorf("sonarr: build request: %w", err)
	}
	req.Header.Set("X-Api-Key", s.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.RecordPVRRequest(op, resp.StatusCode, time.Since(start))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("%w: read response: %v", ErrUnreachable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, false, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, false, fmt.Errorf("%w: check the API key (HTTP %d)", ErrRejected, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, fmt.Errorf("sonarr: resource not found: %s", endpoint)
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("%w: HTTP %d", ErrUnreachable, resp.StatusCode)
	default:
		msg := apiMessage(data)
		if msg == "" {
			msg = "unexpected status"
		}
		return nil, false, fmt.Errorf("sonarr: %s (HTTP %d)", msg, resp.StatusCode)
	}
}

// apiMessage pulls the message field out of a JSON error body when
// there is one.
func apiMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Message
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// userAgent identifies this tool to the PVR.
func userAgent() string {
	return "redundarr/" + version.Version + " (https://github.com/redundarr/redundarr)"
}

// ============================================================================
// Wire Format
// ============================================================================

type sonarrSeries struct {
	ID        int            `json:"id"`
	Title     string         `json:"title"`
	Monitored bool           `json:"monitored"`
	Added     string         `json:"added"`
	IMDBID    string         `json:"imdbId"`
	TVDBID    int            `json:"tvdbId"`
	Seasons   []sonarrSeason `json:"seasons"`
}

type sonarrSeason struct {
	SeasonNumber int  `json:"seasonNumber"`
	Monitored    bool `json:"monitored"`
}

type sonarrEpisode struct {
	SeasonNumber int  `json:"seasonNumber"`
	HasFile      bool `json:"hasFile"`
	EpisodeFile  *struct {
		ID int64 `json:"id"`
	} `json:"episodeFile"`
}

// toModel converts the wire series. An added timestamp that does not
// parse is logged and left zero; downstream treats a zero AddedAt as
// old enough to process.
func (sr sonarrSeries) toModel(logger zerolog.Logger) models.Series {
	out := models.Series{
		ID:        sr.ID,
		Title:     sr.Title,
		Monitored: sr.Monitored,
		IMDBID:    sr.IMDBID,
		TVDBID:    sr.TVDBID,
	}
	for _, season := range sr.Seasons {
		out.Seasons = append(out.Seasons, models.Season{
			SeasonNumber: season.SeasonNumber,
			Monitored:    season.Monitored,
		})
	}
	if sr.Added != "" {
		added, err := time.Parse(time.RFC3339, sr.Added)
		if err != nil {
			logger.Warn().Int("series_id", sr.ID).Str("added", sr.Added).Msg("unparseable added date")
		} else {
			out.AddedAt = added
		}
	}
	return out
}
