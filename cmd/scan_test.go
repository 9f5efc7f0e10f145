// Test file for the scan pipeline (runOnce, runScan and the scan command).
//
// Globals mutated: dryRun, interval, newRuntime, newScanner, newSender,
// stdout (via captureOutput).
// All tests use defer resetFlags()() for cleanup.
package cmd

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/samber/lo"

	"github.com/dock-tor/dock-tor/pkg/inventory"
	"github.com/dock-tor/dock-tor/pkg/notify"
	"github.com/dock-tor/dock-tor/pkg/runner"
	"github.com/dock-tor/dock-tor/pkg/types"
)

func vulnResult(sevs ...types.Severity) types.ScanResult {
	r := types.ScanResult{Status: types.ScanSuccess}
	for i, s := range sevs {
		r.Vulnerabilities = append(r.Vulnerabilities, types.Vulnerability{
			ID:       "CVE-2024-" + string(rune('0'+i)),
			Severity: s,
			PkgName:  "pkg",
		})
	}
	return r
}

func timedOut(image string) types.ScanResult {
	return types.ScanResult{Status: types.ScanTimeout, Err: errors.New(runner.ErrScanTimeout.Error() + ": " + image)}
}

func runWithSettings(t *testing.T) error {
	t.Helper()
	s, err := loadSettings()
	if err != nil {
		t.Fatalf("loadSettings() error = %v", err)
	}
	return runOnce(context.Background(), s)
}

func TestRunOnce_NotifiesOnFindings(t *testing.T) {
	defer resetFlags()()

	sender := &fakeSender{}
	useFakes(t,
		fakeRuntime{containers: []types.ContainerRef{running("1", "nginx:1"), running("2", "nginx:1"), running("3", "redis:7")}},
		fakeScanner{results: map[string]types.ScanResult{"nginx:1": vulnResult(types.SeverityHigh, types.SeverityLow)}},
		sender,
	)
	t.Setenv("MIN_NOTIFY_SEVERITY", "HIGH")

	if err := runWithSettings(t); err != nil {
		t.Fatalf("runOnce() error = %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one notification, got %d", len(sender.sent))
	}

	msg := sender.sent[0]
	if msg.Subject != "[Docker Scan] 2 image(s) scanned (threshold HIGH)" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if diff := cmp.Diff([]string{"security@example.com"}, msg.To); diff != "" {
		t.Errorf("recipients mismatch (-want +got):\n%s", diff)
	}
	names := lo.Map(msg.Attachments, func(a types.Attachment, _ int) string { return a.Filename })
	if diff := cmp.Diff([]string{"report_nginx_1.md", "report_redis_7.md"}, names); diff != "" {
		t.Errorf("attachments mismatch (-want +got):\n%s", diff)
	}
	if !strings.Contains(msg.Text, "Containers: c-1, c-2") {
		t.Errorf("expected provenance in body:\n%s", msg.Text)
	}
}

func TestRunOnce_QuietBelowThreshold(t *testing.T) {
	defer resetFlags()()

	sender := &fakeSender{}
	useFakes(t,
		fakeRuntime{containers: []types.ContainerRef{running("1", "a:1"), running("2", "b:1")}},
		fakeScanner{results: map[string]types.ScanResult{"a:1": vulnResult(types.SeverityMedium)}},
		sender,
	)
	t.Setenv("MIN_NOTIFY_SEVERITY", "HIGH")

	if err := runWithSettings(t); err != nil {
		t.Fatalf("runOnce() error = %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("expected no notification, got %d", len(sender.sent))
	}
}

// One image times out, the other scans clean.
func TestRunOnce_ScanFailurePolicy(t *testing.T) {
	tests := []struct {
		policy     string
		wantNotify bool
	}{
		{"any", true},
		{"all", false},
		{"never", false},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			defer resetFlags()()

			sender := &fakeSender{}
			useFakes(t,
				fakeRuntime{containers: []types.ContainerRef{running("1", "slow:1"), running("2", "clean:1")}},
				fakeScanner{results: map[string]types.ScanResult{"slow:1": timedOut("slow:1")}},
				sender,
			)
			t.Setenv("NOTIFY_ON_FAILURE", tt.policy)

			if err := runWithSettings(t); err != nil {
				t.Fatalf("runOnce() error = %v, want success with one failed scan", err)
			}
			if got := len(sender.sent) == 1; got != tt.wantNotify {
				t.Fatalf("notified = %v, want %v", got, tt.wantNotify)
			}
			if tt.wantNotify && !strings.HasSuffix(sender.sent[0].Subject, " - 1 scan(s) failed") {
				t.Errorf("Subject = %q, want failure suffix", sender.sent[0].Subject)
			}
		})
	}
}

func TestRunOnce_AllScansFailed(t *testing.T) {
	for _, policy := range []string{"any", "never"} {
		t.Run(policy, func(t *testing.T) {
			defer resetFlags()()

			sender := &fakeSender{}
			useFakes(t,
				fakeRuntime{containers: []types.ContainerRef{running("1", "a:1"), running("2", "b:1")}},
				fakeScanner{results: map[string]types.ScanResult{"a:1": timedOut("a:1"), "b:1": timedOut("b:1")}},
				sender,
			)
			t.Setenv("NOTIFY_ON_FAILURE", policy)

			err := runWithSettings(t)
			if got := exitCode(err); err == nil || got != exitAllScansFailed {
				t.Fatalf("runOnce() error = %v (exit %d), want exit %d", err, got, exitAllScansFailed)
			}
			wantSent := policy == "any"
			if got := len(sender.sent) == 1; got != wantSent {
				t.Errorf("notified = %v, want %v", got, wantSent)
			}
		})
	}
}

func TestRunOnce_InventoryUnavailable(t *testing.T) {
	defer resetFlags()()

	sender := &fakeSender{}
	useFakes(t, fakeRuntime{err: errors.New("dial unix /var/run/docker.sock: connect: permission denied")}, fakeScanner{}, sender)

	err := runWithSettings(t)
	if !errors.Is(err, inventory.ErrInventoryUnavailable) {
		t.Fatalf("runOnce() error = %v, want ErrInventoryUnavailable", err)
	}
	if exitCode(err) != exitFatal {
		t.Errorf("exit code = %d, want %d", exitCode(err), exitFatal)
	}
	if len(sender.sent) != 0 {
		t.Error("expected no notification without an inventory")
	}
}

func TestRunOnce_EmptyInventory(t *testing.T) {
	defer resetFlags()()

	sender := &fakeSender{}
	useFakes(t, fakeRuntime{}, fakeScanner{}, sender)
	t.Setenv("MIN_NOTIFY_SEVERITY", "UNKNOWN")

	if err := runWithSettings(t); err != nil {
		t.Fatalf("runOnce() error = %v", err)
	}
	if len(sender.sent) != 0 {
		t.Error("an empty run must not notify")
	}
}

func TestRunOnce_MailFailure(t *testing.T) {
	defer resetFlags()()

	sender := &fakeSender{err: notify.ErrSendFailed}
	useFakes(t,
		fakeRuntime{containers: []types.ContainerRef{running("1", "a:1")}},
		fakeScanner{results: map[string]types.ScanResult{"a:1": vulnResult(types.SeverityCritical)}},
		sender,
	)

	err := runWithSettings(t)
	if !errors.Is(err, notify.ErrSendFailed) || exitCode(err) != exitFatal {
		t.Fatalf("runOnce() error = %v, want fatal ErrSendFailed", err)
	}
}

func TestRunOnce_ExcludedAndSelfNotScanned(t *testing.T) {
	defer resetFlags()()

	var scanned []string
	sender := &fakeSender{}
	useFakes(t,
		fakeRuntime{containers: []types.ContainerRef{
			running("dock-tor-self-0001", "dock-tor:latest"),
			{ID: "2", Name: "ignored", Image: "b:1", Running: true, Labels: map[string]string{"docktor.ignore": "true"}},
			running("3", "a:1"),
		}},
		recordingScanner{images: &scanned},
		sender,
	)

	if err := runWithSettings(t); err != nil {
		t.Fatalf("runOnce() error = %v", err)
	}
	if diff := cmp.Diff([]string{"a:1"}, scanned); diff != "" {
		t.Errorf("scanned images mismatch (-want +got):\n%s", diff)
	}
}

type recordingScanner struct {
	images *[]string
}

func (r recordingScanner) Name() string { return "recording" }

func (r recordingScanner) Scan(_ context.Context, target types.ScanTarget, _ []string, _ time.Duration) types.ScanResult {
	*r.images = append(*r.images, target.Image)
	return types.ScanResult{Target: target, Status: types.ScanSuccess}
}

func TestScanCommand_DryRun(t *testing.T) {
	defer resetFlags()()

	sender := &fakeSender{}
	useFakes(t,
		fakeRuntime{containers: []types.ContainerRef{running("1", "nginx:1")}},
		fakeScanner{results: map[string]types.ScanResult{"nginx:1": vulnResult(types.SeverityCritical)}},
		sender,
	)

	rootCmd.SetArgs([]string{"scan", "--dry-run", "--min-severity", "high"})
	output := captureOutput(func() {
		if err := rootCmd.Execute(); err != nil {
			t.Fatalf("scan --dry-run failed: %v", err)
		}
	})

	for _, want := range []string{
		"Subject: [Docker Scan] 1 image(s) scanned (threshold HIGH)",
		"== nginx:1 ==",
		"Attachments:",
		"report_nginx_1.md (text/markdown)",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output, got:\n%s", want, output)
		}
	}
	if len(sender.sent) != 0 {
		t.Error("dry run must not send mail")
	}
}

func TestScanCommand_InvalidConfig(t *testing.T) {
	defer resetFlags()()

	useFakes(t, fakeRuntime{}, fakeScanner{}, &fakeSender{})
	t.Setenv("SCAN_SCOPE", "EVERYTHING")

	rootCmd.SetArgs([]string{"scan"})
	err := rootCmd.Execute()
	if err == nil || exitCode(err) != exitFatal {
		t.Fatalf("expected fatal config error, got %v", err)
	}
	if !strings.Contains(err.Error(), "scan_scope") {
		t.Errorf("error %q should name the bad key", err)
	}
}

func TestRunScan_IntervalStopsOnCancel(t *testing.T) {
	defer resetFlags()()

	var scanned []string
	useFakes(t,
		fakeRuntime{containers: []types.ContainerRef{running("1", "a:1")}},
		recordingScanner{images: &scanned},
		&fakeSender{},
	)
	interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := runScan(ctx); err != nil {
		t.Fatalf("runScan() error = %v", err)
	}
	if len(scanned) > 1 {
		t.Errorf("expected at most one run after cancellation, got %d", len(scanned))
	}
}
