package renderer

import (
	"embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	texttemplate "text/template"

	"github.com/dock-tor/dock-tor/pkg/types"
)

//go:embed templates/*.tmpl
var builtinFS embed.FS

// Template names. A file with the same name in a custom template directory
// replaces the built-in one.
const (
	TemplateText  = "report.txt.tmpl"
	TemplateHTML  = "report.html.tmpl"
	TemplateImage = "report_image.md.tmpl"
)

// BuiltinTemplate describes one embedded template.
type BuiltinTemplate struct {
	Name        string
	Format      string
	Description string
}

var builtins = []BuiltinTemplate{
	{TemplateText, "text", "Plain-text email body"},
	{TemplateHTML, "html", "HTML email body"},
	{TemplateImage, "markdown", "Per-image report attachment"},
}

// ListBuiltin returns the embedded templates.
func ListBuiltin() []BuiltinTemplate {
	return slices.Clone(builtins)
}

// IsBuiltin reports whether name is an embedded template.
func IsBuiltin(name string) bool {
	return slices.ContainsFunc(builtins, func(b BuiltinTemplate) bool { return b.Name == name })
}

// ExportBuiltin returns the source of an embedded template.
func ExportBuiltin(name string) (string, error) {
	if !IsBuiltin(name) {
		return "", fmt.Errorf("unknown built-in template: %s", name)
	}
	data, err := builtinFS.ReadFile("templates/" + name)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// loader resolves template sources, preferring a custom directory.
type loader struct {
	dir string
}

func (l loader) source(name string) (string, error) {
	if l.dir != "" {
		data, err := os.ReadFile(filepath.Join(l.dir, name))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to read template %s: %w", name, err)
		}
	}
	return ExportBuiltin(name)
}

func (l loader) text(name string) (*texttemplate.Template, error) {
	src, err := l.source(name)
	if err != nil {
		return nil, err
	}
	t, err := texttemplate.New(name).Funcs(texttemplate.FuncMap(funcs)).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	return t, nil
}

func (l loader) html(name string) (*htmltemplate.Template, error) {
	src, err := l.source(name)
	if err != nil {
		return nil, err
	}
	t, err := htmltemplate.New(name).Funcs(htmltemplate.FuncMap(funcs)).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	return t, nil
}

// Validate parses every template, reporting the first syntax error.
func Validate(dir string) error {
	l := loader{dir: dir}
	for _, b := range builtins {
		var err error
		if b.Format == "html" {
			_, err = l.html(b.Name)
		} else {
			_, err = l.text(b.Name)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

var funcs = map[string]any{
	"join": strings.Join,
	"counts": func(cs []severityCount) string {
		parts := make([]string, 0, len(cs))
		for _, c := range cs {
			parts = append(parts, fmt.Sprintf("%s:%d", c.Severity, c.Count))
		}
		return strings.Join(parts, ", ")
	},
	// md escapes characters that would break a Markdown table cell.
	"md": func(s string) string {
		s = strings.ReplaceAll(s, "|", `\|`)
		return strings.Join(strings.Fields(s), " ")
	},
}

// severityCount is one column of a per-severity breakdown.
type severityCount struct {
	Severity types.Severity
	Count    int
}
