package analysis

import (
	"errors"

	"github.com/samber/lo"

	"github.com/dock-tor/dock-tor/pkg/types"
)

// ErrAllScansFailed marks a run in which no image could be scanned. It must
// never be read as "nothing found".
var ErrAllScansFailed = errors.New("all image scans failed")

// Aggregate counts vulnerabilities per severity for each result and across
// the run. Only successful scans contribute to counts. Input order is kept.
func Aggregate(results []types.ScanResult) types.AggregateSummary {
	summary := types.AggregateSummary{
		Totals:  newCounts(),
		Results: make([]types.ScanResult, len(results)),
	}

	for i, r := range results {
		r.Counts = newCounts()
		if r.Succeeded() {
			summary.Succeeded++
			for _, v := range r.Vulnerabilities {
				r.Counts[v.Severity]++
				summary.Totals[v.Severity]++
			}
		} else {
			summary.Failed++
		}
		summary.Results[i] = r
	}

	summary.AllFailed = len(results) > 0 && summary.Succeeded == 0
	if highest, ok := highestSeverity(summary.Totals); ok {
		summary.Highest = &highest
	}
	return summary
}

// Err returns ErrAllScansFailed when the summary describes a run with no
// successful scan, nil otherwise.
func Err(summary types.AggregateSummary) error {
	if summary.AllFailed {
		return ErrAllScansFailed
	}
	return nil
}

func newCounts() map[types.Severity]int {
	return lo.SliceToMap(types.Severities(), func(s types.Severity) (types.Severity, int) {
		return s, 0
	})
}

func highestSeverity(counts map[types.Severity]int) (types.Severity, bool) {
	for _, s := range types.SeveritiesDescending() {
		if counts[s] > 0 {
			return s, true
		}
	}
	return types.SeverityUnknown, false
}
