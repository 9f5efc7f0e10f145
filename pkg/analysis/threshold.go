package analysis

import (
	"fmt"

	"github.com/dock-tor/dock-tor/pkg/types"
)

// Decision is the outcome of threshold evaluation.
type Decision struct {
	Notify bool
	Reason string
	// Matching is the number of vulnerabilities at or above the threshold.
	Matching int
}

// Evaluate decides whether a run warrants a notification. Findings at or
// above threshold always notify; failed scans notify according to policy.
// A run that scanned nothing never notifies.
func Evaluate(summary types.AggregateSummary, threshold types.Severity, policy types.FailurePolicy) Decision {
	d := Decision{Matching: CountAtLeast(summary.Totals, threshold)}

	switch {
	case len(summary.Results) == 0:
		d.Reason = "no images scanned"
	case d.Matching > 0:
		d.Notify = true
		d.Reason = fmt.Sprintf("%d vulnerabilities at or above %s", d.Matching, threshold)
	case summary.Failed > 0 && policy == types.FailureAny:
		d.Notify = true
		d.Reason = fmt.Sprintf("%d of %d scans failed", summary.Failed, len(summary.Results))
	case summary.AllFailed && policy == types.FailureAll:
		d.Notify = true
		d.Reason = "all scans failed"
	case summary.Failed > 0:
		d.Reason = fmt.Sprintf("no vulnerabilities at or above %s; %d failed scans suppressed by policy %q", threshold, summary.Failed, policy)
	default:
		d.Reason = fmt.Sprintf("no vulnerabilities at or above %s", threshold)
	}
	return d
}

// CountAtLeast sums the counts of every severity at or above threshold.
func CountAtLeast(counts map[types.Severity]int, threshold types.Severity) int {
	n := 0
	for s, c := range counts {
		if s.AtLeast(threshold) {
			n += c
		}
	}
	return n
}

// MeetsThreshold reports whether any vulnerability in vulns is at or above
// threshold.
func MeetsThreshold(vulns []types.Vulnerability, threshold types.Severity) bool {
	for _, v := range vulns {
		if v.Severity.AtLeast(threshold) {
			return true
		}
	}
	return false
}
