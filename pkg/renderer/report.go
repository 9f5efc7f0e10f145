package renderer

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/lo"

	"github.com/dock-tor/dock-tor/pkg/runner"
	"github.com/dock-tor/dock-tor/pkg/types"
)

// Content types used for attachments.
const (
	ContentTypeMarkdown = "text/markdown"
	ContentTypeJSON     = "application/json"
)

// Options controls report rendering.
type Options struct {
	Threshold   types.Severity
	AttachJSON  bool
	TemplateDir string
	LogoPath    string
	// OutDir receives the per-image Markdown reports.
	OutDir string
	Now    func() time.Time
}

// Report is a rendered notification, ready to be mailed.
type Report struct {
	Subject     string
	Text        string
	HTML        string
	Attachments []types.Attachment
}

// reportData holds everything passed to the body templates.
type reportData struct {
	GeneratedAt string
	Threshold   types.Severity
	Images      []imageView
	Succeeded   int
	Failed      int
	Totals      []severityCount
	Highest     string
	LogoDataURI htmltemplate.URL
}

type imageView struct {
	GeneratedAt     string
	Threshold       types.Severity
	Image           string
	Containers      []string
	Succeeded       bool
	Status          types.ScanStatus
	Error           string
	Findings        int
	Counts          []severityCount
	Groups          []severityGroup
	Vulnerabilities []types.Vulnerability
}

type severityGroup struct {
	Severity        types.Severity
	Vulnerabilities []types.Vulnerability
}

// Subject builds the mail subject line for a run.
func Subject(summary types.AggregateSummary, threshold types.Severity) string {
	s := fmt.Sprintf("[Docker Scan] %d image(s) scanned (threshold %s)", len(summary.Results), threshold)
	if summary.Failed > 0 {
		s += fmt.Sprintf(" - %d scan(s) failed", summary.Failed)
	}
	return s
}

// Render produces the mail bodies and attachments for summary. Per-image
// Markdown reports are written to opts.OutDir.
func Render(summary types.AggregateSummary, opts Options) (*Report, error) {
	if opts.OutDir == "" {
		return nil, errors.New("renderer: output directory is required")
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	generated := now().UTC().Format(time.RFC3339)

	l := loader{dir: opts.TemplateDir}
	textTmpl, err := l.text(TemplateText)
	if err != nil {
		return nil, err
	}
	htmlTmpl, err := l.html(TemplateHTML)
	if err != nil {
		return nil, err
	}
	imageTmpl, err := l.text(TemplateImage)
	if err != nil {
		return nil, err
	}

	data := reportData{
		GeneratedAt: generated,
		Threshold:   opts.Threshold,
		Succeeded:   summary.Succeeded,
		Failed:      summary.Failed,
		Totals:      severityCounts(summary.Totals),
		Images: lo.Map(summary.Results, func(r types.ScanResult, _ int) imageView {
			return newImageView(r, opts.Threshold, generated)
		}),
	}
	if summary.Highest != nil {
		data.Highest = summary.Highest.String()
	}
	if opts.LogoPath != "" {
		uri, err := logoDataURI(opts.LogoPath)
		if err != nil {
			return nil, err
		}
		data.LogoDataURI = uri
	}

	var text, html bytes.Buffer
	if err := textTmpl.Execute(&text, data); err != nil {
		return nil, fmt.Errorf("failed to render text body: %w", err)
	}
	if err := htmlTmpl.Execute(&html, data); err != nil {
		return nil, fmt.Errorf("failed to render html body: %w", err)
	}

	report := &Report{
		Subject: Subject(summary, opts.Threshold),
		Text:    text.String(),
		HTML:    html.String(),
	}

	names := newNameSet()
	for i, view := range data.Images {
		var buf bytes.Buffer
		if err := imageTmpl.Execute(&buf, view); err != nil {
			return nil, fmt.Errorf("failed to render report for %s: %w", view.Image, err)
		}
		name := names.claim("report_"+runner.SafeName(view.Image), ".md")
		path := filepath.Join(opts.OutDir, name)
		if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
			return nil, fmt.Errorf("failed to write report for %s: %w", view.Image, err)
		}
		report.Attachments = append(report.Attachments, types.Attachment{
			Filename:    name,
			Path:        path,
			ContentType: ContentTypeMarkdown,
		})

		result := summary.Results[i]
		if opts.AttachJSON && result.ReportPath != "" {
			report.Attachments = append(report.Attachments, types.Attachment{
				Filename:    names.claim("trivy_"+runner.SafeName(view.Image), ".json"),
				Path:        result.ReportPath,
				ContentType: ContentTypeJSON,
			})
		}
	}

	return report, nil
}

func newImageView(r types.ScanResult, threshold types.Severity, generated string) imageView {
	vulns := append([]types.Vulnerability(nil), r.Vulnerabilities...)
	types.SortBySeverity(vulns)

	view := imageView{
		GeneratedAt:     generated,
		Threshold:       threshold,
		Image:           r.Target.Image,
		Containers:      r.Target.ContainerNames(),
		Succeeded:       r.Succeeded(),
		Status:          r.Status,
		Findings:        r.Findings(),
		Counts:          severityCounts(r.Counts),
		Vulnerabilities: vulns,
	}
	if r.Err != nil {
		view.Error = r.Err.Error()
	}
	for _, sev := range types.SeveritiesDescending() {
		if !sev.AtLeast(threshold) {
			continue
		}
		matching := lo.Filter(vulns, func(v types.Vulnerability, _ int) bool { return v.Severity == sev })
		if len(matching) > 0 {
			view.Groups = append(view.Groups, severityGroup{Severity: sev, Vulnerabilities: matching})
		}
	}
	return view
}

// severityCounts flattens counts into a fixed CRITICAL-first column order.
func severityCounts(counts map[types.Severity]int) []severityCount {
	return lo.Map(types.SeveritiesDescending(), func(s types.Severity, _ int) severityCount {
		return severityCount{Severity: s, Count: counts[s]}
	})
}

func logoDataURI(path string) (htmltemplate.URL, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read logo: %w", err)
	}
	mime := http.DetectContentType(data)
	if filepath.Ext(path) == ".svg" {
		mime = "image/svg+xml"
	}
	return htmltemplate.URL("data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)), nil
}

// nameSet hands out attachment file names, suffixing repeats so two images
// that sanitise alike do not overwrite each other.
type nameSet map[string]int

func newNameSet() nameSet { return nameSet{} }

func (s nameSet) claim(base, ext string) string {
	s[base]++
	if n := s[base]; n > 1 {
		return fmt.Sprintf("%s_%d%s", base, n, ext)
	}
	return base + ext
}
