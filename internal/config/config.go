// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

// Package config loads and validates the Redundarr configuration from
// three layered sources: built-in defaults, an optional YAML file, and
// REDUNDARR_-prefixed environment variables, in ascending precedence.
//
// Durations and TTLs are configured in whole seconds to keep the YAML
// schema and environment variables unambiguous; accessor methods convert
// to time.Duration for callers.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration document.
type Config struct {
	Log                LogConfig           `koanf:"log"`
	PVR                PVRConfig           `koanf:"pvr"`
	ProviderAPIs       ProviderAPIsConfig  `koanf:"providerApis"`
	StreamingProviders []StreamingProvider `koanf:"streamingProviders" validate:"min=1,dive"`
	Sync               SyncConfig          `koanf:"sync"`
	Cache              CacheConfig         `koanf:"cache"`
}

// LogConfig controls log verbosity and output shape.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=console json"`
}

// PVRConfig points at the Sonarr instance holding the library.
type PVRConfig struct {
	URL    string `koanf:"url" validate:"required,http_url"`
	APIKey string `koanf:"apiKey" validate:"required,alphanum,len=32"`

	// Timeout bounds every PVR request, in seconds.
	Timeout int `koanf:"timeout" validate:"gte=1,lte=300"`
}

// HTTPTimeout returns the PVR request timeout as a duration.
func (p PVRConfig) HTTPTimeout() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}

// ProviderAPIsConfig groups the three catalogue sources in consultation
// order. Only the primary is required; the fallbacks are opt-in because
// both run on metered RapidAPI plans.
type ProviderAPIsConfig struct {
	Primary   PrimaryAPIConfig   `koanf:"primary"`
	Secondary SecondaryAPIConfig `koanf:"secondary"`
	Tertiary  TertiaryAPIConfig  `koanf:"tertiary"`
}

// PrimaryAPIConfig configures the TMDB client.
type PrimaryAPIConfig struct {
	Enabled bool   `koanf:"enabled"`
	APIKey  string `koanf:"apiKey" validate:"required_if=Enabled true"`

	// RateLimit is the request ceiling per 10-second window.
	RateLimit int `koanf:"rateLimit" validate:"gte=1,lte=40"`

	// CacheTTL is the provider-data cache lifetime, in seconds.
	CacheTTL int `koanf:"cacheTtl" validate:"gte=60"`
}

// TTL returns the primary cache lifetime as a duration.
func (c PrimaryAPIConfig) TTL() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

// SecondaryAPIConfig configures the Streaming Availability client.
type SecondaryAPIConfig struct {
	Enabled bool   `koanf:"enabled"`
	APIKey  string `koanf:"apiKey" validate:"required_if=Enabled true"`

	// DailyQuota is the request allowance per UTC day.
	DailyQuota int `koanf:"dailyQuota" validate:"gte=1"`

	// CacheTTL is the secondary cache lifetime, in seconds.
	CacheTTL int `koanf:"cacheTtl" validate:"gte=60"`
}

// TTL returns the secondary cache lifetime as a duration.
func (c SecondaryAPIConfig) TTL() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

// TertiaryAPIConfig configures the Utelly client.
type TertiaryAPIConfig struct {
	Enabled bool   `koanf:"enabled"`
	APIKey  string `koanf:"apiKey" validate:"required_if=Enabled true"`

	// MonthlyQuota is the request allowance per calendar month.
	MonthlyQuota int `koanf:"monthlyQuota" validate:"gte=1"`

	// CacheTTL is the tertiary cache lifetime, in seconds.
	CacheTTL int `koanf:"cacheTtl" validate:"gte=60"`
}

// TTL returns the tertiary cache lifetime as a duration.
func (c TertiaryAPIConfig) TTL() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

// StreamingProvider is one subscription the user pays for: a provider
// name and the country whose catalogue the subscription unlocks. Names
// are normalised to lowercase and countries to uppercase on load; the
// (name, country) pair must be unique across the list.
type StreamingProvider struct {
	Name    string `koanf:"name" validate:"required"`
	Country string `koanf:"country" validate:"required,len=2,alpha"`
}

// SyncConfig controls the reconciliation run.
type SyncConfig struct {
	// Action is what happens to a series that is fully available on a
	// subscribed provider: "unmonitor" or "delete".
	Action string `koanf:"action" validate:"oneof=unmonitor delete"`

	// DryRun previews mutations without applying them. On by default;
	// live runs are the explicit choice.
	DryRun bool `koanf:"dryRun"`

	// ExcludeRecentDays shields series added within the last N days,
	// giving new additions time to finish downloading.
	ExcludeRecentDays int `koanf:"excludeRecentDays" validate:"gte=0"`

	// Concurrency bounds how many series are reconciled at once.
	Concurrency int `koanf:"concurrency" validate:"gte=1,lte=4"`
}

// CacheConfig locates and tunes the on-disk cache.
type CacheConfig struct {
	Path string `koanf:"path" validate:"required"`

	// CleanupInterval is the minimum gap between expired-row sweeps,
	// in seconds. Zero disables the piggybacked cleanup.
	CleanupInterval int `koanf:"cleanupInterval" validate:"gte=0"`

	// BlacklistThreshold is the failure count at which an identifier
	// stops being looked up.
	BlacklistThreshold int `koanf:"blacklistThreshold" validate:"gte=1"`
}

// Default returns the built-in configuration, the bottom layer of the
// loader. Every field a user can omit has its default here.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		PVR: PVRConfig{
			Timeout: 30,
		},
		ProviderAPIs: ProviderAPIsConfig{
			Primary: PrimaryAPIConfig{
				Enabled:   true,
				RateLimit: 40,
				CacheTTL:  86400,
			},
			Secondary: SecondaryAPIConfig{
				Enabled:    false,
				DailyQuota: 100,
				CacheTTL:   43200,
			},
			Tertiary: TertiaryAPIConfig{
				Enabled:      false,
				MonthlyQuota: 1000,
				CacheTTL:     604800,
			},
		},
		Sync: SyncConfig{
			Action:            "unmonitor",
			DryRun:            true,
			ExcludeRecentDays: 7,
			Concurrency:       1,
		},
		Cache: CacheConfig{
			Path:               DefaultCachePath(),
			CleanupInterval:    3600,
			BlacklistThreshold: 1,
		},
	}
}

// DefaultConfigPath returns the conventional config file location,
// honouring XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	return filepath.Join(configHome(), "redundarr", "config.yaml")
}

// DefaultCachePath returns the conventional cache file location,
// honouring XDG_DATA_HOME.
func DefaultCachePath() string {
	return filepath.Join(dataHome(), "redundarr", "cache.db")
}

func configHome() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config")
}

func dataHome() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share")
}

// normalize canonicalises user input before validation: provider names
// lowercase, countries uppercase, URLs stripped of trailing slashes.
func (c *Config) normalize() {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.PVR.URL = strings.TrimRight(strings.TrimSpace(c.PVR.URL), "/")
	c.PVR.APIKey = strings.TrimSpace(c.PVR.APIKey)
	c.ProviderAPIs.Primary.APIKey = strings.TrimSpace(c.ProviderAPIs.Primary.APIKey)
	c.ProviderAPIs.Secondary.APIKey = strings.TrimSpace(c.ProviderAPIs.Secondary.APIKey)
	c.ProviderAPIs.Tertiary.APIKey = strings.TrimSpace(c.ProviderAPIs.Tertiary.APIKey)
	c.Sync.Action = strings.ToLower(strings.TrimSpace(c.Sync.Action))
	c.Cache.Path = strings.TrimSpace(c.Cache.Path)
	if c.Cache.Path == "" {
		c.Cache.Path = DefaultCachePath()
	}
	for i := range c.StreamingProviders {
		c.StreamingProviders[i].Name = strings.ToLower(strings.TrimSpace(c.StreamingProviders[i].Name))
		c.StreamingProviders[i].Country = strings.ToUpper(strings.TrimSpace(c.StreamingProviders[i].Country))
	}
}

// Redacted returns a display-safe copy: every API key is masked down to
// its last four characters.
func (c *Config) Redacted() *Config {
	out := *c
	out.StreamingProviders = append([]StreamingProvider(nil), c.StreamingProviders...)
	out.PVR.APIKey = maskSecret(c.PVR.APIKey)
	out.ProviderAPIs.Primary.APIKey = maskSecret(c.ProviderAPIs.Primary.APIKey)
	out.ProviderAPIs.Secondary.APIKey = maskSecret(c.ProviderAPIs.Secondary.APIKey)
	out.ProviderAPIs.Tertiary.APIKey = maskSecret(c.ProviderAPIs.Tertiary.APIKey)
	return &out
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
