package runner

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/dock-tor/dock-tor/pkg/types"
)

// waitDelay bounds how long we wait for output pipes after the scanner is
// killed, in case it left children holding them open.
const waitDelay = 5 * time.Second

// TrivyRunner runs 'trivy image --format json' against one image at a time.
// Reports are written under WorkDir and kept there for attachments; the
// caller owns the directory.
type TrivyRunner struct {
	Binary  string
	WorkDir string
}

// NewTrivyRunner returns a runner using binary and writing reports to workDir.
func NewTrivyRunner(binary, workDir string) *TrivyRunner {
	return &TrivyRunner{Binary: binary, WorkDir: workDir}
}

// Name returns the display name for this runner.
func (r *TrivyRunner) Name() string { return "trivy" }

// IsAvailable checks whether the trivy binary can be found.
func (r *TrivyRunner) IsAvailable() bool {
	_, err := lookupTool(r.Binary)
	return err == nil
}

// Scan runs trivy against target.Image with args appended to the base
// command line. It never returns an error: failures are recorded on the
// result's Status and Err. A timeout of zero or less means no deadline.
func (r *TrivyRunner) Scan(ctx context.Context, target types.ScanTarget, args []string, timeout time.Duration) (result types.ScanResult) {
	start := time.Now()
	result.Target = target
	defer func() { result.Duration = time.Since(start) }()

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	reportPath := filepath.Join(r.WorkDir, reportFileName(target.Image))
	cmdArgs := []string{"image", "--quiet", "--format", "json", "--output", reportPath}
	cmdArgs = append(cmdArgs, args...)
	cmdArgs = append(cmdArgs, target.Image)

	cmd := exec.CommandContext(runCtx, r.Binary, cmdArgs...)
	cmd.WaitDelay = waitDelay
	_, err := runCommand(cmd)

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		result.Status = types.ScanTimeout
		result.Err = fmt.Errorf("%w after %s: %s", ErrScanTimeout, timeout, target.Image)
		_ = os.Remove(reportPath)
		return result
	case err != nil:
		result.Status = types.ScanScannerError
		result.Err = fmt.Errorf("%w: %s: %w", ErrScanFailed, target.Image, err)
		_ = os.Remove(reportPath)
		return result
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		result.Status = types.ScanScannerError
		result.Err = fmt.Errorf("%w: %s: no report written: %w", ErrMalformedOutput, target.Image, err)
		return result
	}

	vulns, err := parseTrivyOutput(data)
	if err != nil {
		result.Status = types.ScanScannerError
		result.Err = fmt.Errorf("%s: %w", target.Image, err)
		return result
	}

	result.Status = types.ScanSuccess
	result.Vulnerabilities = vulns
	result.ReportPath = reportPath
	return result
}

// parseTrivyOutput decodes the parts of a trivy JSON report that matter to
// us. Every other field of the report is ignored.
func parseTrivyOutput(data []byte) ([]types.Vulnerability, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformedOutput)
	}

	var report struct {
		Results []struct {
			Vulnerabilities []struct {
				VulnerabilityID  string `json:"VulnerabilityID"`
				PkgName          string `json:"PkgName"`
				InstalledVersion string `json:"InstalledVersion"`
				FixedVersion     string `json:"FixedVersion"`
				Severity         string `json:"Severity"`
				Title            string `json:"Title"`
				Description      string `json:"Description"`
				PrimaryURL       string `json:"PrimaryURL"`
			} `json:"Vulnerabilities"`
		} `json:"Results"`
	}
	if err := json.Unmarshal(trimmed, &report); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}

	vulns := make([]types.Vulnerability, 0)
	for _, res := range report.Results {
		for _, v := range res.Vulnerabilities {
			vulns = append(vulns, types.Vulnerability{
				ID:               v.VulnerabilityID,
				Severity:         types.SeverityOf(v.Severity),
				PkgName:          v.PkgName,
				InstalledVersion: v.InstalledVersion,
				FixedVersion:     v.FixedVersion,
				Title:            v.Title,
				Description:      v.Description,
				PrimaryURL:       v.PrimaryURL,
			})
		}
	}
	return vulns, nil
}

// reportFileName is unique per image reference even when two references
// sanitise to the same name.
func reportFileName(image string) string {
	sum := sha256.Sum256([]byte(image))
	return "trivy_" + SafeName(image) + "_" + hex.EncodeToString(sum[:4]) + ".json"
}
