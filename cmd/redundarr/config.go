// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/redundarr/redundarr/internal/config"
	"github.com/redundarr/redundarr/internal/logging"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the Redundarr configuration",
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigValidateCmd(), newConfigInfoCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write an annotated starter configuration",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			path := globalOpts.configPath
			if path == "" {
				path = config.DefaultConfigPath()
			}
			if err := config.WriteExample(path, force); err != nil {
				if errors.Is(err, os.ErrExist) {
					return fmt.Errorf("%v (pass --force to overwrite)", err)
				}
				return err
			}
			fmt.Printf("wrote example configuration to %s\n", path)
			fmt.Println("fill in the Sonarr and TMDB API keys, then run: redundarr config validate")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration file")
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				if errors.Is(err, config.ErrInvalid) {
					printConfigProblems(err)
					return errors.New("configuration invalid")
				}
				return err
			}

			warnTokenExpiry(cfg.ProviderAPIs.Primary.APIKey)

			fmt.Printf("configuration valid: %d subscription(s), %d catalogue source(s) enabled\n",
				len(cfg.StreamingProviders), enabledSources(cfg))
			return nil
		},
	}
}

// printConfigProblems renders the validator's semicolon-joined field
// errors one per line, the way a user fixes them.
func printConfigProblems(err error) {
	msg := strings.TrimPrefix(err.Error(), config.ErrInvalid.Error()+": ")
	fmt.Fprintln(os.Stderr, "configuration problems:")
	for _, problem := range strings.Split(msg, "; ") {
		fmt.Fprintf(os.Stderr, "  - %s\n", problem)
	}
}

// warnTokenExpiry decodes a TMDB v4 read access token (a JWT) far
// enough to check its expiry. Auth failures at 3 AM in a cron job are
// much harder to diagnose than a warning here.
func warnTokenExpiry(apiKey string) {
	if !strings.HasPrefix(apiKey, "eyJ") {
		return
	}
	token, _, err := jwt.NewParser().ParseUnverified(apiKey, jwt.MapClaims{})
	if err != nil {
		logging.Warn().Err(err).Msg("primary api key looks like a JWT but does not parse")
		return
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	if time.Now().After(exp.Time) {
		logging.Warn().Time("expired_at", exp.Time).Msg("primary api token is expired, lookups will fail")
	}
}

func enabledSources(cfg *config.Config) int {
	n := 0
	if cfg.ProviderAPIs.Primary.Enabled {
		n++
	}
	if cfg.ProviderAPIs.Secondary.Enabled {
		n++
	}
	if cfg.ProviderAPIs.Tertiary.Enabled {
		n++
	}
	return n
}

func newConfigInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			renderConfigInfo(os.Stdout, cfg.Redacted())
			return nil
		},
	}
}

func renderConfigInfo(w io.Writer, cfg *config.Config) {
	subs := make([]string, len(cfg.StreamingProviders))
	for i, sp := range cfg.StreamingProviders {
		subs[i] = sp.Name + "/" + sp.Country
	}

	rows := [][]string{
		{"pvr.url", cfg.PVR.URL},
		{"pvr.apiKey", cfg.PVR.APIKey},
		{"pvr.timeout", strconv.Itoa(cfg.PVR.Timeout) + "s"},
		{"providerApis.primary", sourceSummary(cfg.ProviderAPIs.Primary.Enabled, cfg.ProviderAPIs.Primary.APIKey)},
		{"providerApis.secondary", sourceSummary(cfg.ProviderAPIs.Secondary.Enabled, cfg.ProviderAPIs.Secondary.APIKey)},
		{"providerApis.tertiary", sourceSummary(cfg.ProviderAPIs.Tertiary.Enabled, cfg.ProviderAPIs.Tertiary.APIKey)},
		{"streamingProviders", strings.Join(subs, ", ")},
		{"sync.action", cfg.Sync.Action},
		{"sync.dryRun", strconv.FormatBool(cfg.Sync.DryRun)},
		{"sync.excludeRecentDays", strconv.Itoa(cfg.Sync.ExcludeRecentDays)},
		{"sync.concurrency", strconv.Itoa(cfg.Sync.Concurrency)},
		{"cache.path", cfg.Cache.Path},
		{"cache.cleanupInterval", strconv.Itoa(cfg.Cache.CleanupInterval) + "s"},
		{"cache.blacklistThreshold", strconv.Itoa(cfg.Cache.BlacklistThreshold)},
	}

	renderTable(w, []string{"Setting", "Value"}, rows)
}

func sourceSummary(enabled bool, maskedKey string) string {
	if !enabled {
		return "disabled"
	}
	if maskedKey == "" {
		return "enabled, no key"
	}
	return "enabled, key " + maskedKey
}
