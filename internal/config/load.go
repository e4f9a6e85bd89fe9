// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks the environment variables the loader reads. Nesting
// uses a double underscore and single underscores turn snake_case into
// the camelCase config keys:
//
//	REDUNDARR_PVR__API_KEY                     -> pvr.apiKey
//	REDUNDARR_PROVIDER_APIS__PRIMARY__API_KEY  -> providerApis.primary.apiKey
//	REDUNDARR_SYNC__DRY_RUN                    -> sync.dryRun
const EnvPrefix = "REDUNDARR_"

// Load builds the effective configuration. The layers, lowest precedence
// first: Default(), the YAML file, REDUNDARR_ environment variables.
//
// An empty path means the conventional location (DefaultConfigPath),
// which may be absent; an explicit path must exist. The returned config
// is normalised and validated.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	resolved, err := resolveConfigFile(path)
	if err != nil {
		return nil, err
	}
	if resolved != "" {
		if err := k.Load(file.Provider(resolved), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", resolved, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveConfigFile decides which file to read. A missing default-path
// file is fine (defaults plus environment may be a complete config); a
// missing explicit file is a user error.
func resolveConfigFile(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file %s: %w", path, err)
		}
		return path, nil
	}
	def := DefaultConfigPath()
	if _, err := os.Stat(def); err == nil {
		return def, nil
	}
	return "", nil
}

// envTransform maps an environment variable name to its koanf path.
// Returning "" drops the variable.
func envTransform(key string) string {
	key = strings.TrimPrefix(key, EnvPrefix)
	if key == "" {
		return ""
	}
	parts := strings.Split(strings.ToLower(key), "__")
	for i, part := range parts {
		parts[i] = camelise(part)
	}
	path := strings.Join(parts, ".")

	// The subscription list is structured and cannot be expressed as a
	// single variable; dropping it beats a confusing unmarshal error.
	if path == "streamingProviders" {
		return ""
	}
	return path
}

// camelise converts one snake_case path segment to camelCase.
func camelise(s string) string {
	segs := strings.Split(s, "_")
	out := segs[0]
	for _, seg := range segs[1:] {
		if seg == "" {
			continue
		}
		out += strings.ToUpper(seg[:1]) + seg[1:]
	}
	return out
}
