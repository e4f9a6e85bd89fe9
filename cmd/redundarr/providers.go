// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/redundarr/redundarr/internal/providers"
	"github.com/redundarr/redundarr/internal/sources"
)

func newProvidersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Query the canonical streaming-provider registry",
	}
	cmd.AddCommand(
		newProvidersListCmd(),
		newProvidersInfoCmd(),
		newProvidersStatsCmd(),
		newProvidersValidateCmd(),
	)
	return cmd
}

func newProvidersListCmd() *cobra.Command {
	var (
		country string
		search  string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered providers",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			reg, err := providers.Load()
			if err != nil {
				return err
			}

			var list []providers.Provider
			switch {
			case search != "":
				list = reg.Search(search)
			case country != "":
				list = reg.ListByCountry(country)
			default:
				list = reg.List()
			}

			rows := make([][]string, len(list))
			for i, p := range list {
				rows[i] = []string{p.Key, p.DisplayName, strconv.Itoa(len(p.Countries))}
			}
			renderTable(os.Stdout, []string{"Key", "Name", "Countries"}, rows)
			fmt.Printf("%d provider(s)\n", len(list))
			return nil
		},
	}

	cmd.Flags().StringVar(&country, "country", "", "only providers available in this 2-letter country code")
	cmd.Flags().StringVar(&search, "search", "", "match keys and display names containing this term")
	return cmd
}

func newProvidersInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info NAME",
		Short: "Show one provider's registry entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			reg, err := providers.Load()
			if err != nil {
				return err
			}
			p, err := reg.Info(args[0])
			if err != nil {
				return err
			}

			fmt.Printf("key:       %s\n", p.Key)
			fmt.Printf("name:      %s\n", p.DisplayName)
			fmt.Printf("countries: %s (%d)\n", strings.Join(p.Countries, " "), len(p.Countries))
			if norm := providers.Normalize(args[0]); norm == p.Key && args[0] != p.Key {
				fmt.Printf("resolved:  %q -> %s\n", args[0], p.Key)
			}
			return nil
		},
	}
}

func newProvidersStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Registry coverage plus live source and PVR diagnostics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := providers.Load()
			if err != nil {
				return err
			}
			stats := reg.Statistics()
			fmt.Printf("registry: %d providers across %d countries\n", stats.TotalProviders, stats.TotalCountries)
			renderTopCountries(stats)

			// Live diagnostics need a working configuration; without one
			// the registry numbers above are still useful on their own.
			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "live diagnostics unavailable: %v\n", err)
				return nil
			}
			application, cleanup, err := buildApp(cfg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "live diagnostics unavailable: %v\n", err)
				return nil
			}
			defer cleanup()

			report := application.engine.TestConnectivity(cmd.Context())

			fmt.Println()
			if report.PVR.Connected {
				fmt.Println("pvr: connected")
			} else {
				fmt.Printf("pvr: unreachable (%s)\n", report.PVR.Error)
			}
			if report.Cache.Error != "" {
				fmt.Printf("cache: error (%s)\n", report.Cache.Error)
			} else if cs, err := application.store.Statistics(cmd.Context()); err == nil {
				fmt.Printf("cache: ok (%d id mappings, %d provider entries, %d blacklisted)\n",
					cs.IDMappings, cs.ProviderData, cs.BlacklistSize)
			} else {
				fmt.Println("cache: ok")
			}
			renderSourceStatuses(report.Aggregator.Sources)
			return nil
		},
	}
}

// renderTopCountries shows the ten best-covered countries, enough to
// sanity-check the registry without dumping every code.
func renderTopCountries(stats providers.Stats) {
	type cc struct {
		code  string
		count int
	}
	list := make([]cc, 0, len(stats.ProvidersByCountry))
	for code, count := range stats.ProvidersByCountry {
		list = append(list, cc{code, count})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].code < list[j].code
	})
	if len(list) > 10 {
		list = list[:10]
	}

	rows := make([][]string, len(list))
	for i, c := range list {
		rows[i] = []string{c.code, strconv.Itoa(c.count)}
	}
	renderTable(os.Stdout, []string{"Country", "Providers"}, rows)
}

func renderSourceStatuses(statuses []sources.Status) {
	if len(statuses) == 0 {
		fmt.Println("sources: none enabled")
		return
	}

	rows := make([][]string, len(statuses))
	for i, s := range statuses {
		rows[i] = []string{
			s.Source,
			s.Kind,
			quotaCell(s.Used, s.Limit),
			resetCell(s.ResetsAt),
			s.BreakerState,
			s.Note,
		}
	}
	renderTable(os.Stdout, []string{"Source", "Kind", "Used", "Resets", "Breaker", "Note"}, rows)
}

func quotaCell(used, limit int) string {
	if limit <= 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d", used, limit)
}

func resetCell(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func newProvidersValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Cross-check configured subscriptions against the registry",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			reg, err := providers.Load()
			if err != nil {
				return err
			}

			warnings := 0
			rows := make([][]string, len(cfg.StreamingProviders))
			for i, sp := range cfg.StreamingProviders {
				status := "ok"
				if err := reg.Validate(sp.Name, sp.Country); err != nil {
					status = "warning: " + err.Error()
					warnings++
				}
				rows[i] = []string{sp.Name, sp.Country, status}
			}
			renderTable(os.Stdout, []string{"Provider", "Country", "Status"}, rows)

			if warnings > 0 {
				fmt.Printf("%d warning(s); the registry is advisory, but unknown providers never match catalogue offers\n", warnings)
			} else {
				fmt.Println("all subscriptions check out")
			}
			return nil
		},
	}
}

// renderTable is the shared minimal-borders table style.
func renderTable(w io.Writer, header []string, rows [][]string) {
	if len(rows) == 0 {
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.AppendBulk(rows)
	table.Render()
}
