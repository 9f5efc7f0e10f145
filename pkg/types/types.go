package types

import (
	"slices"
	"time"
)

// Well-known container labels.
const (
	LabelIgnore         = "docktor.ignore"
	LabelComposeProject = "com.docker.compose.project"
	LabelComposeService = "com.docker.compose.service"
)

// ContainerRef is a snapshot of one container as reported by the runtime.
type ContainerRef struct {
	ID             string
	Name           string
	Image          string
	Labels         map[string]string
	Running        bool
	ComposeProject string // empty when the container is not part of a compose project
}

// ScanTarget is one unique image reference plus the containers using it.
type ScanTarget struct {
	Image      string
	Containers []ContainerRef
}

// ContainerNames returns the names of the containers using the image, in
// inventory order.
func (t ScanTarget) ContainerNames() []string {
	names := make([]string, 0, len(t.Containers))
	for _, c := range t.Containers {
		names = append(names, c.Name)
	}
	return names
}

// Vulnerability is the subset of a scanner finding used for aggregation and
// reporting.
type Vulnerability struct {
	ID               string
	Severity         Severity
	PkgName          string
	InstalledVersion string
	FixedVersion     string
	Title            string
	Description      string
	PrimaryURL       string
}

// ScanStatus is the outcome of scanning a single image.
type ScanStatus string

const (
	ScanSuccess      ScanStatus = "success"
	ScanScannerError ScanStatus = "scanner-error"
	ScanTimeout      ScanStatus = "timeout"
)

// ScanResult is produced once per ScanTarget.
type ScanResult struct {
	Target          ScanTarget
	Vulnerabilities []Vulnerability
	Counts          map[Severity]int
	Status          ScanStatus
	Err             error
	ReportPath      string // raw scanner output; empty when the scanner produced none
	Duration        time.Duration
}

// Succeeded reports whether the scan completed and its findings can be trusted.
func (r ScanResult) Succeeded() bool {
	return r.Status == ScanSuccess
}

// Findings is the total number of vulnerabilities in the result.
func (r ScanResult) Findings() int {
	return len(r.Vulnerabilities)
}

// AggregateSummary is the run-wide roll-up of all scan results.
type AggregateSummary struct {
	Totals    map[Severity]int
	Highest   *Severity // nil when nothing was found or nothing was scanned successfully
	Results   []ScanResult
	Succeeded int
	Failed    int
	AllFailed bool
}

// Findings is the total number of vulnerabilities across successful scans.
func (s AggregateSummary) Findings() int {
	n := 0
	for _, c := range s.Totals {
		n += c
	}
	return n
}

// FailedResults returns the results whose scan did not complete.
func (s AggregateSummary) FailedResults() []ScanResult {
	var failed []ScanResult
	for _, r := range s.Results {
		if !r.Succeeded() {
			failed = append(failed, r)
		}
	}
	return failed
}

// SortBySeverity orders vulnerabilities highest severity first. The sort is
// stable, so equal severities keep scanner order.
func SortBySeverity(vulns []Vulnerability) {
	slices.SortStableFunc(vulns, func(a, b Vulnerability) int {
		return Compare(b.Severity, a.Severity)
	})
}

// FailurePolicy decides whether failed scans alone should trigger a notification.
type FailurePolicy string

const (
	// FailureNever notifies on findings only.
	FailureNever FailurePolicy = "never"
	// FailureAll notifies when every scan in the run failed.
	FailureAll FailurePolicy = "all"
	// FailureAny notifies when at least one scan in the run failed.
	FailureAny FailurePolicy = "any"
)

// Attachment is a file to be delivered alongside the report.
type Attachment struct {
	Filename    string
	Path        string
	ContentType string
}
