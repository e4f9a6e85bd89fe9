// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

// Package version carries build metadata stamped at link time:
//
//	go build -ldflags "-X github.com/redundarr/redundarr/internal/version.Version=v1.2.0 \
//	  -X github.com/redundarr/redundarr/internal/version.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/redundarr/redundarr/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"fmt"
	"runtime"
)

// Set via ldflags; the defaults identify untagged development builds.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String returns the single-line version banner.
func String() string {
	return fmt.Sprintf("redundarr %s (commit: %s, built: %s, %s)", Version, Commit, Date, runtime.Version())
}
