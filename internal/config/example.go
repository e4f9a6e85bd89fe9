// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// exampleYAML is the annotated starter config written by `config init`.
// It must stay loadable: a user filling in the three placeholder secrets
// gets a valid configuration.
const exampleYAML = `# Redundarr configuration.
# Precedence: defaults < this file < REDUNDARR_ environment variables
# (REDUNDARR_PVR__API_KEY overrides pvr.apiKey, and so on).

log:
  level: info      # debug, info, warn, error
  format: console  # console or json

# The Sonarr instance that manages the library.
pvr:
  url: http://localhost:8989
  apiKey: REPLACE_WITH_SONARR_API_KEY
  timeout: 30

providerApis:
  # TMDB, the primary catalogue. Free, generous rate limit. Accepts a v3
  # API key or a v4 read access token.
  primary:
    enabled: true
    apiKey: REPLACE_WITH_TMDB_API_KEY
    rateLimit: 40     # requests per 10-second window
    cacheTtl: 86400   # seconds

  # Streaming Availability (RapidAPI), consulted only for countries the
  # primary reported nothing for. Free tier: 100 requests/day.
  secondary:
    enabled: false
    apiKey: ""
    dailyQuota: 100
    cacheTtl: 43200

  # Utelly (RapidAPI), the last resort. Free tier: 1000 requests/month.
  tertiary:
    enabled: false
    apiKey: ""
    monthlyQuota: 1000
    cacheTtl: 604800

# The subscriptions you pay for. A series only counts as redundant when
# one of these carries it in the listed country.
streamingProviders:
  - name: netflix
    country: US
  - name: disney-plus
    country: US

sync:
  action: unmonitor     # unmonitor or delete
  dryRun: true          # preview only; set false (or pass --confirm) to apply
  excludeRecentDays: 7  # leave newly added series alone for this many days
  concurrency: 1        # 1-4 series reconciled in parallel

cache:
  path: ""               # empty = ~/.local/share/redundarr/cache.db
  cleanupInterval: 3600  # seconds between expired-row sweeps
  blacklistThreshold: 1  # failures before an identifier is skipped
`

// WriteExample writes the annotated starter config to path, creating
// parent directories. An existing file is preserved unless force is set;
// the error wraps os.ErrExist so callers can suggest --force.
func WriteExample(path string, force bool) error {
	if path == "" {
		path = DefaultConfigPath()
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists: %w", path, os.ErrExist)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(exampleYAML), 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
