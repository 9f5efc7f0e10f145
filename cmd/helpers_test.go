package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/dock-tor/dock-tor/pkg/analysis"
	"github.com/dock-tor/dock-tor/pkg/config"
	"github.com/dock-tor/dock-tor/pkg/inventory"
	"github.com/dock-tor/dock-tor/pkg/notify"
	"github.com/dock-tor/dock-tor/pkg/types"
)

// captureOutput collects everything written to stdout while f runs.
func captureOutput(f func()) string {
	old := stdout
	var buf bytes.Buffer
	stdout = &buf
	defer func() { stdout = old }()

	f()
	return buf.String()
}

// resetFlags restores package flags and collaborators when the returned
// function is called. Cobra keeps flag state between Execute calls.
func resetFlags() func() {
	oldRuntime, oldScanner, oldSender := newRuntime, newScanner, newSender
	oldVersion, oldCommit, oldDate := Version, Commit, Date
	return func() {
		Version, Commit, Date = oldVersion, oldCommit, oldDate
		configFile, verbose, dryRun, interval = "", false, false, 0
		newRuntime, newScanner, newSender = oldRuntime, oldScanner, oldSender
		for _, fs := range []*pflag.FlagSet{rootCmd.PersistentFlags(), rootCmd.Flags(), scanCmd.Flags()} {
			fs.VisitAll(func(f *pflag.Flag) {
				_ = f.Value.Set(f.DefValue)
				f.Changed = false
			})
		}
	}
}

type fakeRuntime struct {
	containers []types.ContainerRef
	err        error
}

func (f fakeRuntime) ListContainers(_ context.Context, _ bool) ([]types.ContainerRef, error) {
	return f.containers, f.err
}

// fakeScanner returns a canned result per image; unknown images scan clean.
type fakeScanner struct {
	results map[string]types.ScanResult
}

func (f fakeScanner) Name() string { return "fake" }

func (f fakeScanner) Scan(_ context.Context, target types.ScanTarget, _ []string, _ time.Duration) types.ScanResult {
	r, ok := f.results[target.Image]
	if !ok {
		r = types.ScanResult{Status: types.ScanSuccess}
	}
	r.Target = target
	return r
}

type fakeSender struct {
	sent []notify.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg notify.Message) error {
	f.sent = append(f.sent, msg)
	return f.err
}

// useFakes wires fake collaborators and a deterministic environment.
func useFakes(t *testing.T, rt inventory.Runtime, sc analysis.Scanner, snd notify.Sender) {
	t.Helper()
	t.Setenv("SELF_ID", "dock-tor-self")
	t.Setenv("SCAN_SCOPE", "ALL")
	t.Setenv("LOG_LEVEL", "ERROR")
	newRuntime = func() inventory.Runtime { return rt }
	newScanner = func(*config.Settings, string) analysis.Scanner { return sc }
	newSender = func(*config.Settings) notify.Sender { return snd }
}

func running(id, image string) types.ContainerRef {
	return types.ContainerRef{ID: id, Name: "c-" + id, Image: image, Labels: map[string]string{}, Running: true}
}

func TestCheckToolStatus(t *testing.T) {
	t.Setenv("TRIVY_BIN", "definitely-not-installed-trivy")
	t.Setenv("DOCKER_HOST", "tcp://127.0.0.1:2375")

	status := checkToolStatus()
	if !strings.Contains(status, "[MISSING] trivy (definitely-not-installed-trivy") {
		t.Errorf("expected missing trivy, got:\n%s", status)
	}
	if !strings.Contains(status, "[OK] docker (DOCKER_HOST=tcp://127.0.0.1:2375)") {
		t.Errorf("expected docker host, got:\n%s", status)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"plain error", context.Canceled, 1},
		{"exit error", &ExitError{Code: 3, Err: analysis.ErrAllScansFailed}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNormalizeLevel(t *testing.T) {
	tests := map[string]string{
		"":         "INFO",
		"info":     "INFO",
		"Warning":  "WARN",
		"CRITICAL": "ERROR",
		"debug":    "DEBUG",
	}
	for in, want := range tests {
		if got := normalizeLevel(in); got != want {
			t.Errorf("normalizeLevel(%q) = %q, want %q", in, got, want)
		}
	}
}
