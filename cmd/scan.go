package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/dock-tor/dock-tor/pkg/analysis"
	"github.com/dock-tor/dock-tor/pkg/config"
	"github.com/dock-tor/dock-tor/pkg/inventory"
	"github.com/dock-tor/dock-tor/pkg/notify"
	"github.com/dock-tor/dock-tor/pkg/renderer"
	"github.com/dock-tor/dock-tor/pkg/runner"
	"github.com/dock-tor/dock-tor/pkg/types"
)

// Exit statuses.
const (
	exitFatal          = 1
	exitAllScansFailed = 3
)

// Collaborators, replaced in tests.
var (
	newRuntime = func() inventory.Runtime { return &inventory.DockerRuntime{} }
	newScanner = func(s *config.Settings, workDir string) analysis.Scanner {
		return runner.NewTrivyRunner(s.TrivyBin, workDir)
	}
	newSender = func(s *config.Settings) notify.Sender { return notify.NewSMTPSender(s.SMTP) }
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan container images and notify when findings reach the threshold",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd.Context())
	},
}

func init() {
	scanCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the report to stdout instead of sending mail")
	scanCmd.Flags().DurationVar(&interval, "interval", 0, "Repeat the scan at this interval until interrupted")
	rootCmd.AddCommand(scanCmd)
}

func runScan(ctx context.Context) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	setupLogging(s.LogLevel)

	if interval <= 0 {
		return runOnce(ctx, s)
	}

	slog.Info("scanning periodically", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := runOnce(ctx, s); err != nil {
			slog.Error("scan run failed", "error", err)
		}
		select {
		case <-ctx.Done():
			slog.Info("stopping", "reason", context.Cause(ctx))
			return nil
		case <-ticker.C:
		}
	}
}

// runOnce performs one complete pipeline run: resolve, deduplicate, scan,
// aggregate, evaluate and, when warranted, render and deliver the report.
func runOnce(ctx context.Context, s *config.Settings) error {
	started := time.Now()

	args, err := runner.SplitArgs(s.TrivyArgs)
	if err != nil {
		return &ExitError{Code: exitFatal, Err: err}
	}

	res, err := inventory.NewResolver(newRuntime(), inventory.OptionsFromSettings(s)).Resolve(ctx)
	if err != nil {
		return &ExitError{Code: exitFatal, Err: err}
	}
	targets := inventory.Deduplicate(res.Containers)
	slog.Info("inventory resolved",
		"scope", res.Scope,
		"scope_fallback", res.ScopeFallback,
		"project", res.ComposeProject,
		"containers", len(res.Containers),
		"excluded", len(res.Excluded),
		"images", len(targets))

	workDir, err := os.MkdirTemp("", "dock-tor-")
	if err != nil {
		return &ExitError{Code: exitFatal, Err: fmt.Errorf("failed to create work directory: %w", err)}
	}
	defer os.RemoveAll(workDir)

	scanner := newScanner(s, workDir)
	if a, ok := scanner.(interface{ IsAvailable() bool }); ok && !a.IsAvailable() {
		slog.Warn("scanner binary not found, every scan will fail", "scanner", scanner.Name(), "bin", s.TrivyBin)
	}

	executor := &analysis.Executor{
		Scanner:     scanner,
		Args:        args,
		Timeout:     s.Timeout,
		Concurrency: s.Concurrency,
	}
	summary := analysis.Aggregate(executor.Run(ctx, targets))
	logSummary(summary, s)

	decision := analysis.Evaluate(summary, s.MinSeverity, s.NotifyOnFailure)
	if !decision.Notify {
		slog.Info("no notification sent", "reason", decision.Reason, "duration", time.Since(started).Round(time.Millisecond))
		return runErr(summary)
	}
	slog.Info("notification required", "reason", decision.Reason)

	report, err := renderer.Render(summary, renderer.Options{
		Threshold:   s.MinSeverity,
		AttachJSON:  s.AttachJSON,
		TemplateDir: s.TemplateDir,
		LogoPath:    s.LogoPath,
		OutDir:      workDir,
	})
	if err != nil {
		return &ExitError{Code: exitFatal, Err: fmt.Errorf("failed to render report: %w", err)}
	}

	if dryRun {
		if err := writeReport(stdout, report); err != nil {
			return &ExitError{Code: exitFatal, Err: err}
		}
		return runErr(summary)
	}

	msg := notify.Message{
		From:        s.MailFrom,
		To:          s.MailTo,
		Subject:     report.Subject,
		Text:        report.Text,
		HTML:        report.HTML,
		Attachments: report.Attachments,
	}
	if err := newSender(s).Send(ctx, msg); err != nil {
		return &ExitError{Code: exitFatal, Err: err}
	}
	slog.Info("notification sent", "recipients", len(s.MailTo), "subject", report.Subject, "duration", time.Since(started).Round(time.Millisecond))
	return runErr(summary)
}

// runErr turns a run in which every scan failed into exit status 3.
func runErr(summary types.AggregateSummary) error {
	if err := analysis.Err(summary); err != nil {
		return &ExitError{Code: exitAllScansFailed, Err: err}
	}
	return nil
}

// logSummary reports the outcome of the scan phase, keeping "nothing found"
// apart from "could not scan".
func logSummary(summary types.AggregateSummary, s *config.Settings) {
	var scanErrs *multierror.Error
	for _, r := range summary.FailedResults() {
		scanErrs = multierror.Append(scanErrs, r.Err)
	}
	for _, r := range summary.Results {
		if r.Succeeded() && analysis.MeetsThreshold(r.Vulnerabilities, s.MinSeverity) {
			slog.Info("image has findings at or above threshold", "image", r.Target.Image, "threshold", s.MinSeverity)
		}
	}

	switch {
	case len(summary.Results) == 0:
		slog.Info("no images to scan")
	case summary.AllFailed:
		slog.Error("all scans failed", "failed", summary.Failed, "error", scanErrs.ErrorOrNil())
	case summary.Failed > 0:
		slog.Warn("some scans failed", "succeeded", summary.Succeeded, "failed", summary.Failed, "error", scanErrs.ErrorOrNil())
	case summary.Findings() == 0:
		slog.Info("scans completed, no vulnerabilities found", "images", summary.Succeeded)
	default:
		slog.Info("scans completed", "images", summary.Succeeded, "findings", summary.Findings(), "highest", summary.Highest.String())
	}
}
