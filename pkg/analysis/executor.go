package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dock-tor/dock-tor/pkg/runner"
	"github.com/dock-tor/dock-tor/pkg/types"
)

// Scanner scans a single image. Implementations report failures through the
// returned result's Status rather than an error.
type Scanner interface {
	Name() string
	Scan(ctx context.Context, target types.ScanTarget, args []string, timeout time.Duration) types.ScanResult
}

// Executor fans scans out over a bounded number of workers.
type Executor struct {
	Scanner     Scanner
	Args        []string
	Timeout     time.Duration
	Concurrency int
}

// Run scans every target and returns exactly one result per target, in target
// order. A failing or hanging scan never affects the others.
func (e *Executor) Run(ctx context.Context, targets []types.ScanTarget) []types.ScanResult {
	results := make([]types.ScanResult, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(e.Concurrency, 1))

	for i, target := range targets {
		g.Go(func() error {
			slog.Info("scanning image", "image", target.Image, "containers", len(target.Containers))
			results[i] = e.scanOne(gctx, target)
			logResult(results[i])
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// scanOne runs the scanner and turns a panic into a scanner error for this
// target alone.
func (e *Executor) scanOne(ctx context.Context, target types.ScanTarget) (res types.ScanResult) {
	defer func() {
		if r := recover(); r != nil {
			res = types.ScanResult{
				Target: target,
				Status: types.ScanScannerError,
				Err:    fmt.Errorf("%w: %s: %s panicked: %v", runner.ErrScanFailed, target.Image, e.Scanner.Name(), r),
			}
		}
	}()

	res = e.Scanner.Scan(ctx, target, e.Args, e.Timeout)
	res.Target = target
	if res.Status == "" {
		res.Status = types.ScanScannerError
		if res.Err == nil {
			res.Err = fmt.Errorf("%w: %s: no status reported", runner.ErrScanFailed, target.Image)
		}
	}
	if !res.Succeeded() {
		res.Vulnerabilities = nil
	}
	return res
}

func logResult(r types.ScanResult) {
	switch r.Status {
	case types.ScanSuccess:
		slog.Info("scan complete", "image", r.Target.Image, "vulnerabilities", len(r.Vulnerabilities), "duration", r.Duration)
	case types.ScanTimeout:
		slog.Warn("scan timed out", "image", r.Target.Image, "error", r.Err)
	default:
		slog.Error("scan failed", "image", r.Target.Image, "error", r.Err)
	}
}
