// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

// Package pvr talks to the PVR that manages the series library. Client
// is the engine-facing interface; Sonarr is the concrete v3
// implementation. The engine only ever unmonitors or deletes what the
// planner decided, so the surface is deliberately narrow: reads, the
// two monitoring mutations, and the two deletion flavours.
package pvr

import (
	"context"
	"errors"

	"github.com/redundarr/redundarr/internal/models"
)

// Sentinel errors. ErrUnreachable covers transport failures and
// persistent server errors after retries; ErrRejected covers
// authentication and authorisation failures, which retrying cannot fix.
var (
	ErrUnreachable = errors.New("pvr unreachable")
	ErrRejected    = errors.New("pvr rejected the request")
)

// Client is the PVR as the engine sees it.
type Client interface {
	// TestConnection verifies the base URL and API key.
	TestConnection(ctx context.Context) error

	// ListMonitoredSeries returns every monitored series in the library.
	ListMonitoredSeries(ctx context.Context) ([]models.Series, error)

	// GetSeries returns one series by PVR ID.
	GetSeries(ctx context.Context, id int) (*models.Series, error)

	// UnmonitorSeries stops monitoring a series and all its seasons.
	UnmonitorSeries(ctx context.Context, id int) error

	// UnmonitorSeason stops monitoring a single season.
	UnmonitorSeason(ctx context.Context, id, seasonNumber int) error

	// DeleteSeries removes the series, optionally including its files.
	DeleteSeries(ctx context.Context, id int, deleteFiles bool) error

	// DeleteSeasonFiles removes the episode files of one season,
	// best-effort per file. Monitoring state is untouched.
	DeleteSeasonFiles(ctx context.Context, id, seasonNumber int) error

	// UnmonitorAndDeleteSeason unmonitors a season and then deletes its
	// files. The unmonitor must succeed, or nothing is deleted; the
	// file deletion is best-effort because the season can no longer be
	// re-downloaded once unmonitored.
	UnmonitorAndDeleteSeason(ctx context.Context, id, seasonNumber int) error
}
