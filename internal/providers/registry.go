// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

// Package providers carries the canonical streaming-provider registry and
// the name normalisation every catalogue response passes through.
//
// Upstream APIs each have their own idea of what a provider is called;
// downstream everything speaks canonical slugs ("netflix",
// "amazon-prime", "disney-plus"). Normalize does the mapping; the
// embedded registry adds display names and per-provider country coverage
// for the CLI and for config validation.
package providers

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

//go:embed registry.json
var registryJSON []byte

// ErrUnknownProvider marks lookups for a provider the registry has never
// heard of.
var ErrUnknownProvider = errors.New("unknown streaming provider")

// Provider is one registry entry.
type Provider struct {
	Key         string   `json:"key"`
	DisplayName string   `json:"displayName"`
	Countries   []string `json:"countries"`
}

// AvailableIn reports whether the provider operates in country (2-letter
// ISO code, any case).
func (p Provider) AvailableIn(country string) bool {
	country = strings.ToUpper(strings.TrimSpace(country))
	for _, cc := range p.Countries {
		if cc == country {
			return true
		}
	}
	return false
}

// Stats summarises registry coverage.
type Stats struct {
	TotalProviders     int            `json:"totalProviders"`
	TotalCountries     int            `json:"totalCountries"`
	ProvidersByCountry map[string]int `json:"providersByCountry"`
}

// Registry is the loaded provider table. Read-only after Load.
type Registry struct {
	providers map[string]Provider
}

// registryRecord mirrors the embedded JSON shape.
type registryRecord struct {
	DisplayName string   `json:"display_name"`
	Countries   []string `json:"countries"`
}

// Load parses the embedded registry.
func Load() (*Registry, error) {
	var raw map[string]registryRecord
	if err := json.Unmarshal(registryJSON, &raw); err != nil {
		return nil, fmt.Errorf("parse provider registry: %w", err)
	}

	providers := make(map[string]Provider, len(raw))
	for key, rec := range raw {
		countries := make([]string, 0, len(rec.Countries))
		for _, cc := range rec.Countries {
			countries = append(countries, strings.ToUpper(strings.TrimSpace(cc)))
		}
		sort.Strings(countries)

		providers[key] = Provider{
			Key:         key,
			DisplayName: rec.DisplayName,
			Countries:   countries,
		}
	}

	return &Registry{providers: providers}, nil
}

// List returns all providers sorted by key.
func (r *Registry) List() []Provider {
	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ListByCountry returns the providers operating in country, sorted by key.
func (r *Registry) ListByCountry(country string) []Provider {
	var out []Provider
	for _, p := range r.providers {
		if p.AvailableIn(country) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Info returns the registry entry for name. The name is normalised first,
// so display names and upstream variants resolve too.
func (r *Registry) Info(name string) (Provider, error) {
	key := Normalize(name)
	p, ok := r.providers[key]
	if !ok {
		return Provider{}, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Has reports whether name resolves to a registered provider.
func (r *Registry) Has(name string) bool {
	_, ok := r.providers[Normalize(name)]
	return ok
}

// Countries returns every country code covered by at least one provider,
// sorted.
func (r *Registry) Countries() []string {
	seen := make(map[string]struct{})
	for _, p := range r.providers {
		for _, cc := range p.Countries {
			seen[cc] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for cc := range seen {
		out = append(out, cc)
	}
	sort.Strings(out)
	return out
}

// Search returns providers whose key or display name contains term,
// case-insensitively, sorted by key.
func (r *Registry) Search(term string) []Provider {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil
	}

	var out []Provider
	for _, p := range r.providers {
		if strings.Contains(p.Key, term) || strings.Contains(strings.ToLower(p.DisplayName), term) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Statistics reports registry coverage.
func (r *Registry) Statistics() Stats {
	byCountry := make(map[string]int)
	for _, p := range r.providers {
		for _, cc := range p.Countries {
			byCountry[cc]++
		}
	}
	return Stats{
		TotalProviders:     len(r.providers),
		TotalCountries:     len(byCountry),
		ProvidersByCountry: byCountry,
	}
}

// Validate checks a configured (name, country) pair against the registry.
// Unknown providers and provider/country mismatches both return errors
// naming the offending value; config validation surfaces these as
// warnings because the registry is advisory, not exhaustive.
func (r *Registry) Validate(name, country string) error {
	p, err := r.Info(name)
	if err != nil {
		return err
	}
	if !p.AvailableIn(country) {
		return fmt.Errorf("provider %q not available in country %s", p.Key, strings.ToUpper(strings.TrimSpace(country)))
	}
	return nil
}
