// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testAPIKey = "0123456789abcdef0123456789abcdef"

// writeConfig drops a YAML document into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// minimalYAML carries only the required fields; everything else must
// come from defaults.
const minimalYAML = `
pvr:
  url: http://sonarr:8989
  apiKey: 0123456789abcdef0123456789abcdef
providerApis:
  primary:
    apiKey: tmdb-key
streamingProviders:
  - name: netflix
    country: US
`

// ============================================================================
// Layering
// ============================================================================

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Log.Level != "info" || cfg.Log.Format != "console" {
		t.Errorf("log defaults = %q/%q, want info/console", cfg.Log.Level, cfg.Log.Format)
	}
	if !cfg.Sync.DryRun {
		t.Error("dryRun must default to true")
	}
	if cfg.Sync.Action != "unmonitor" || cfg.Sync.ExcludeRecentDays != 7 || cfg.Sync.Concurrency != 1 {
		t.Errorf("sync defaults = %+v", cfg.Sync)
	}
	if cfg.ProviderAPIs.Primary.RateLimit != 40 || cfg.ProviderAPIs.Primary.CacheTTL != 86400 {
		t.Errorf("primary defaults = %+v", cfg.ProviderAPIs.Primary)
	}
	if cfg.ProviderAPIs.Secondary.Enabled || cfg.ProviderAPIs.Tertiary.Enabled {
		t.Error("fallback sources must default to disabled")
	}
	if cfg.PVR.Timeout != 30 {
		t.Errorf("pvr timeout default = %d, want 30", cfg.PVR.Timeout)
	}
	if cfg.Cache.Path == "" {
		t.Error("cache path must be filled with the default location")
	}
	if cfg.Cache.BlacklistThreshold != 1 {
		t.Errorf("blacklist threshold default = %d, want 1", cfg.Cache.BlacklistThreshold)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("REDUNDARR_SYNC__DRY_RUN", "false")
	t.Setenv("REDUNDARR_SYNC__ACTION", "delete")
	t.Setenv("REDUNDARR_PVR__TIMEOUT", "45")
	t.Setenv("REDUNDARR_PROVIDER_APIS__PRIMARY__RATE_LIMIT", "20")

	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Sync.DryRun {
		t.Error("REDUNDARR_SYNC__DRY_RUN=false must override the default")
	}
	if cfg.Sync.Action != "delete" {
		t.Errorf("action = %q, want delete from env", cfg.Sync.Action)
	}
	if cfg.PVR.Timeout != 45 {
		t.Errorf("timeout = %d, want 45 from env", cfg.PVR.Timeout)
	}
	if cfg.ProviderAPIs.Primary.RateLimit != 20 {
		t.Errorf("rateLimit = %d, want 20 from env", cfg.ProviderAPIs.Primary.RateLimit)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("explicit missing config file must error")
	}
}

func TestLoadMissingDefaultFileFailsValidation(t *testing.T) {
	// No file anywhere: defaults alone lack the required PVR settings.
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	_, err := Load("")
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid without a config file, got %v", err)
	}
}

// ============================================================================
// Environment key mapping
// ============================================================================

func TestEnvTransform(t *testing.T) {
	cases := []struct {
		name string
		env  string
		want string
	}{
		{"simple", "REDUNDARR_LOG__LEVEL", "log.level"},
		{"snake to camel", "REDUNDARR_PVR__API_KEY", "pvr.apiKey"},
		{"section in snake", "REDUNDARR_PROVIDER_APIS__PRIMARY__API_KEY", "providerApis.primary.apiKey"},
		{"deep key", "REDUNDARR_CACHE__BLACKLIST_THRESHOLD", "cache.blacklistThreshold"},
		{"dry run", "REDUNDARR_SYNC__DRY_RUN", "sync.dryRun"},
		{"structured list dropped", "REDUNDARR_STREAMING_PROVIDERS", ""},
		{"bare prefix dropped", "REDUNDARR_", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := envTransform(tc.env); got != tc.want {
				t.Errorf("envTransform(%q) = %q, want %q", tc.env, got, tc.want)
			}
		})
	}
}

// ============================================================================
// Validation
// ============================================================================

func TestValidateRejections(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.PVR.URL = "http://sonarr:8989"
		cfg.PVR.APIKey = testAPIKey
		cfg.ProviderAPIs.Primary.APIKey = "tmdb-key"
		cfg.StreamingProviders = []StreamingProvider{{Name: "netflix", Country: "US"}}
		return cfg
	}

	cases := []struct {
		name     string
		mutate   func(*Config)
		wantPath string
	}{
		{
			name:     "bad log level",
			mutate:   func(c *Config) { c.Log.Level = "verbose" },
			wantPath: "log.level",
		},
		{
			name:     "pvr url not http",
			mutate:   func(c *Config) { c.PVR.URL = "ftp://sonarr" },
			wantPath: "pvr.url",
		},
		{
			name:     "pvr key too short",
			mutate:   func(c *Config) { c.PVR.APIKey = "short" },
			wantPath: "pvr.apiKey",
		},
		{
			name:     "pvr key not alphanumeric",
			mutate:   func(c *Config) { c.PVR.APIKey = strings.Repeat("a", 30) + "-b" },
			wantPath: "pvr.apiKey",
		},
		{
			name:     "primary key missing while enabled",
			mutate:   func(c *Config) { c.ProviderAPIs.Primary.APIKey = "" },
			wantPath: "providerApis.primary.apiKey",
		},
		{
			name:     "secondary enabled without key",
			mutate:   func(c *Config) { c.ProviderAPIs.Secondary.Enabled = true },
			wantPath: "providerApis.secondary.apiKey",
		},
		{
			name:     "bad action",
			mutate:   func(c *Config) { c.Sync.Action = "purge" },
			wantPath: "sync.action",
		},
		{
			name:     "concurrency too high",
			mutate:   func(c *Config) { c.Sync.Concurrency = 8 },
			wantPath: "sync.concurrency",
		},
		{
			name:     "negative recent days",
			mutate:   func(c *Config) { c.Sync.ExcludeRecentDays = -1 },
			wantPath: "sync.excludeRecentDays",
		},
		{
			name:     "country too long",
			mutate:   func(c *Config) { c.StreamingProviders[0].Country = "USA" },
			wantPath: "country",
		},
		{
			name:     "no providers",
			mutate:   func(c *Config) { c.StreamingProviders = nil },
			wantPath: "streamingProviders",
		},
		{
			name: "duplicate provider country pair",
			mutate: func(c *Config) {
				c.StreamingProviders = append(c.StreamingProviders, StreamingProvider{Name: "netflix", Country: "US"})
			},
			wantPath: "duplicates",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.wantPath) {
				t.Errorf("error %q does not mention %q", err, tc.wantPath)
			}
		})
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("baseline config must validate, got %v", err)
	}
}

func TestNormalize(t *testing.T) {
	cfg := Default()
	cfg.PVR.URL = " http://sonarr:8989/ "
	cfg.PVR.APIKey = testAPIKey
	cfg.ProviderAPIs.Primary.APIKey = "tmdb-key"
	cfg.Sync.Action = "Unmonitor"
	cfg.StreamingProviders = []StreamingProvider{{Name: " Netflix", Country: "us"}}

	cfg.normalize()

	if cfg.PVR.URL != "http://sonarr:8989" {
		t.Errorf("url = %q, want trailing slash stripped", cfg.PVR.URL)
	}
	if cfg.Sync.Action != "unmonitor" {
		t.Errorf("action = %q, want lowercase", cfg.Sync.Action)
	}
	if cfg.StreamingProviders[0].Name != "netflix" {
		t.Errorf("provider name = %q, want lowercase trimmed", cfg.StreamingProviders[0].Name)
	}
	if cfg.StreamingProviders[0].Country != "US" {
		t.Errorf("country = %q, want uppercase", cfg.StreamingProviders[0].Country)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("normalised config must validate, got %v", err)
	}
}

// ============================================================================
// Example config
// ============================================================================

func TestWriteExample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")

	if err := WriteExample(path, false); err != nil {
		t.Fatalf("WriteExample: %v", err)
	}
	if err := WriteExample(path, false); !errors.Is(err, os.ErrExist) {
		t.Fatalf("second write without force must report os.ErrExist, got %v", err)
	}
	if err := WriteExample(path, true); err != nil {
		t.Fatalf("forced overwrite: %v", err)
	}
}

func TestExampleConfigLoadsOnceFilledIn(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	filled := strings.ReplaceAll(exampleYAML, "REPLACE_WITH_SONARR_API_KEY", testAPIKey)
	filled = strings.ReplaceAll(filled, "REPLACE_WITH_TMDB_API_KEY", "tmdb-key")

	cfg, err := Load(writeConfig(t, filled))
	if err != nil {
		t.Fatalf("filled-in example must load, got %v", err)
	}
	if len(cfg.StreamingProviders) != 2 {
		t.Errorf("example providers = %d, want 2", len(cfg.StreamingProviders))
	}
	if !cfg.Sync.DryRun {
		t.Error("example must keep dryRun on")
	}
}

// ============================================================================
// Redaction
// ============================================================================

func TestRedacted(t *testing.T) {
	cfg := Default()
	cfg.PVR.APIKey = testAPIKey
	cfg.ProviderAPIs.Primary.APIKey = "super-secret-tmdb"
	cfg.ProviderAPIs.Secondary.APIKey = "abc"

	red := cfg.Redacted()

	if red.PVR.APIKey != "****cdef" {
		t.Errorf("pvr key = %q, want masked tail", red.PVR.APIKey)
	}
	if red.ProviderAPIs.Primary.APIKey != "****tmdb" {
		t.Errorf("primary key = %q", red.ProviderAPIs.Primary.APIKey)
	}
	if red.ProviderAPIs.Secondary.APIKey != "****" {
		t.Errorf("short key = %q, want fully masked", red.ProviderAPIs.Secondary.APIKey)
	}
	if red.ProviderAPIs.Tertiary.APIKey != "" {
		t.Errorf("empty key must stay empty, got %q", red.ProviderAPIs.Tertiary.APIKey)
	}
	if cfg.PVR.APIKey != testAPIKey {
		t.Error("Redacted must not mutate the original")
	}
}
