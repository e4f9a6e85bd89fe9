// Redundarr - Streaming Availability Reconciliation for Sonarr
// Copyright 2026 Redundarr Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/redundarr/redundarr

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/redundarr/redundarr/internal/config"
	"github.com/redundarr/redundarr/internal/models"
	"github.com/redundarr/redundarr/internal/sync"
)

// syncOptions are the sync command's flags. dryRunSet and actionSet
// record whether the user passed the flag at all, so an untouched flag
// never overrides the config file.
type syncOptions struct {
	dryRun  bool
	action  string
	confirm bool
	jsonOut bool

	dryRunSet bool
	actionSet bool
}

func newSyncCmd() *cobra.Command {
	var opts syncOptions

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the Sonarr library against streaming availability",
		Long: `Checks every monitored series against the configured streaming
subscriptions and unmonitors (or deletes) the ones you can already
stream. Dry by default: pass --confirm to apply changes, --dry-run to
force a preview regardless of configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.dryRunSet = cmd.Flags().Changed("dry-run")
			opts.actionSet = cmd.Flags().Changed("action")
			return runSync(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "preview the run without touching the PVR")
	cmd.Flags().StringVar(&opts.action, "action", "", "override the configured action: unmonitor or delete")
	cmd.Flags().BoolVar(&opts.confirm, "confirm", false, "apply changes for real, without prompting")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "emit the run report as JSON on stdout")
	return cmd
}

// syncReport is the machine-readable run envelope emitted by --json.
type syncReport struct {
	Timestamp time.Time       `json:"timestamp"`
	DryRun    bool            `json:"dryRun"`
	Action    string          `json:"action"`
	Summary   sync.Summary    `json:"summary"`
	Results   []models.Result `json:"results"`
}

func runSync(ctx context.Context, opts syncOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := resolveRunMode(cfg, opts); err != nil {
		return err
	}

	if !cfg.Sync.DryRun && !opts.confirm {
		ok, err := confirmLiveRun(os.Stdin, os.Stderr, cfg.Sync.Action)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("aborted, nothing changed")
		}
	}

	application, cleanup, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	// Ctrl-C finishes the series in flight, reports what was done so
	// far and exits non-zero.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var progress func(current, total int, title string)
	if !opts.jsonOut && isatty.IsTerminal(os.Stderr.Fd()) {
		progress = func(current, total int, title string) {
			fmt.Fprintf(os.Stderr, "\r\x1b[K[%d/%d] %s", current, total, title)
		}
	}

	results, runErr := application.engine.Run(ctx, progress)
	if progress != nil {
		fmt.Fprint(os.Stderr, "\r\x1b[K")
	}
	if runErr != nil && len(results) == 0 {
		return runErr
	}

	summary := sync.Summarize(results)
	if opts.jsonOut {
		if err := writeSyncReport(os.Stdout, cfg, summary, results); err != nil {
			return err
		}
	} else {
		renderResults(os.Stdout, results)
		fmt.Fprintln(os.Stdout, summaryLine(summary, cfg.Sync.DryRun))
	}

	if runErr != nil {
		return fmt.Errorf("sync interrupted after %d series: %w", summary.Total, runErr)
	}
	if summary.Total > 0 && summary.Failed == summary.Total {
		return errors.New("every series failed; check the PVR connection and logs")
	}
	return nil
}

// resolveRunMode folds the command line into the loaded configuration.
// --dry-run always wins; --confirm alone switches a default dry config
// to a live run, matching the example config's documentation.
func resolveRunMode(cfg *config.Config, opts syncOptions) error {
	if opts.actionSet {
		action := strings.ToLower(strings.TrimSpace(opts.action))
		if action != string(models.ActionUnmonitor) && action != string(models.ActionDelete) {
			return fmt.Errorf("invalid --action %q: must be unmonitor or delete", opts.action)
		}
		cfg.Sync.Action = action
	}

	switch {
	case opts.dryRunSet:
		cfg.Sync.DryRun = opts.dryRun
	case opts.confirm:
		cfg.Sync.DryRun = false
	}
	return nil
}

// confirmLiveRun gates a mutating run that was not pre-approved with
// --confirm. Interactive terminals get a prompt; anything else (cron,
// CI, pipes) is refused outright so a stray config edit cannot delete
// media unattended.
func confirmLiveRun(in *os.File, out io.Writer, action string) (bool, error) {
	if !isatty.IsTerminal(in.Fd()) && !isatty.IsCygwinTerminal(in.Fd()) {
		return false, errors.New("live sync requires --confirm when not running interactively")
	}
	fmt.Fprintf(out, "This will %s series in Sonarr. Continue? [y/N] ", action)
	return readConfirmation(in), nil
}

// readConfirmation accepts y or yes, case-insensitively. Everything
// else, including EOF, declines.
func readConfirmation(r io.Reader) bool {
	scanner := bufio.NewScanner(r)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}

func writeSyncReport(w io.Writer, cfg *config.Config, summary sync.Summary, results []models.Result) error {
	if results == nil {
		results = []models.Result{}
	}
	report := syncReport{
		Timestamp: time.Now().UTC(),
		DryRun:    cfg.Sync.DryRun,
		Action:    cfg.Sync.Action,
		Summary:   summary,
		Results:   results,
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// renderResults prints the rows a human cares about: everything that
// was (or would be) acted on, plus every failure. Untouched series
// only appear in the summary line.
func renderResults(w io.Writer, results []models.Result) {
	renderTable(w, []string{"Series", "Action", "Provider", "Status", "Detail"}, resultRows(results))
}

func resultRows(results []models.Result) [][]string {
	var rows [][]string
	for _, r := range results {
		if r.ActionTaken == models.ActionNone && r.Success {
			continue
		}
		status := "ok"
		if !r.Success {
			status = "failed"
		}
		detail := r.Message
		if !r.Success && r.Error != "" {
			detail = r.Error
		}
		rows = append(rows, []string{r.SeriesTitle, string(r.ActionTaken), r.ProviderKey, status, detail})
	}
	return rows
}

// summaryLine is the one-line human verdict printed after every run.
func summaryLine(s sync.Summary, dryRun bool) string {
	if dryRun {
		return fmt.Sprintf("dry run: %d series checked, %d would be unmonitored, %d would be deleted, %d untouched, %d failed",
			s.Total, s.PerAction[string(models.ActionUnmonitor)], s.PerAction[string(models.ActionDelete)],
			s.PerAction[string(models.ActionNone)], s.Failed)
	}
	return fmt.Sprintf("%d series checked, %d unmonitored, %d deleted, %d untouched, %d failed",
		s.Total, s.PerAction[string(models.ActionUnmonitor)], s.PerAction[string(models.ActionDelete)],
		s.PerAction[string(models.ActionNone)], s.Failed)
}
