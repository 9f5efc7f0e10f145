package cmd

import (
	"fmt"
	"io"

	"github.com/dock-tor/dock-tor/pkg/renderer"
)

// writeReport prints a rendered report for --dry-run: the subject, the
// plain-text body and the attachments that would have been mailed.
func writeReport(w io.Writer, report *renderer.Report) error {
	if _, err := fmt.Fprintf(w, "Subject: %s\n\n%s\n", report.Subject, report.Text); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if len(report.Attachments) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Attachments:")
	for _, a := range report.Attachments {
		fmt.Fprintf(w, "  %s (%s)\n", a.Filename, a.ContentType)
	}
	return nil
}
