// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

// Package main is the Redundarr command line interface.
//
// Redundarr reconciles a Sonarr library against the streaming services
// the user already pays for: a series that is watchable on a subscribed
// provider does not need to be downloaded too, so Redundarr unmonitors
// it (or deletes it, when configured) instead of letting it take up
// disk and bandwidth.
//
// # Commands
//
//	redundarr config init          write an annotated starter config
//	redundarr config validate      check the effective configuration
//	redundarr config info          show the effective config, secrets redacted
//	redundarr providers list       browse the canonical provider registry
//	redundarr providers info NAME  one provider's details
//	redundarr providers stats      registry coverage + live source diagnostics
//	redundarr providers validate   cross-check subscriptions against the registry
//	redundarr sync                 run the reconciliation
//	redundarr version              build metadata
//
// # Configuration
//
// Settings are loaded via koanf from three layers, highest priority last:
// built-in defaults, the YAML file (~/.config/redundarr/config.yaml or
// --config), and REDUNDARR_-prefixed environment variables:
//
//	export REDUNDARR_PVR__URL=http://sonarr:8989
//	export REDUNDARR_PVR__API_KEY=0123456789abcdef0123456789abcdef
//	export REDUNDARR_PROVIDER_APIS__PRIMARY__API_KEY=tmdb-key
//	redundarr sync --dry-run
//
// # Safety
//
// sync defaults to a dry run. A live run that would mutate the PVR asks
// for confirmation on an interactive terminal and refuses to proceed
// without --confirm anywhere else (cron, CI, docker). Partial
// availability never deletes: season-level decisions are always
// unmonitor-only.
//
// # Exit codes
//
// 0 on success, including runs where individual series failed; 1 when
// the run itself could not happen (invalid configuration, unreachable
// PVR, declined confirmation) or when every single series failed.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/redundarr/redundarr/internal/config"
	"github.com/redundarr/redundarr/internal/logging"
	"github.com/redundarr/redundarr/internal/version"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string

	// Set when the user passed the flag explicitly; explicit flags win
	// over the config file's log section.
	logLevelSet  bool
	logFormatSet bool
}

var globalOpts = globalOptions{}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "redundarr",
		Short: "Reconcile a Sonarr library against streaming availability",
		Long: `Redundarr checks which monitored series are already watchable on the
streaming services you subscribe to and unmonitors (or deletes) them in
Sonarr, freeing disk space and download bandwidth for what you cannot
stream. Runs are dry by default; nothing is mutated until you opt in.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			globalOpts.logLevelSet = cmd.Flags().Changed("log-level")
			globalOpts.logFormatSet = cmd.Flags().Changed("log-format")
			logging.Init(logging.Config{
				Level:     globalOpts.logLevel,
				Format:    globalOpts.logFormat,
				Timestamp: true,
			})
		},
	}

	root.PersistentFlags().StringVarP(&globalOpts.configPath, "config", "c", "",
		"path to the configuration file (default ~/.config/redundarr/config.yaml)")
	root.PersistentFlags().StringVar(&globalOpts.logLevel, "log-level", "info",
		"log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&globalOpts.logFormat, "log-format", "console",
		"log output: console or json")

	root.AddCommand(
		newSyncCmd(),
		newConfigCmd(),
		newProvidersCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig loads the effective configuration and points the global
// logger at its log section. Explicit --log-level/--log-format flags
// keep precedence over the file.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(globalOpts.configPath)
	if err != nil {
		return nil, err
	}

	level, format := cfg.Log.Level, cfg.Log.Format
	if globalOpts.logLevelSet {
		level = globalOpts.logLevel
	}
	if globalOpts.logFormatSet {
		format = globalOpts.logFormat
	}
	logging.Init(logging.Config{Level: level, Format: format, Timestamp: true})

	return cfg, nil
}
