// Test file for template listing, export, and validation.
//
// Globals mutated: stdout (via captureOutput).
package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dock-tor/dock-tor/pkg/renderer"
)

func TestHandleListTemplates(t *testing.T) {
	output := captureOutput(func() {
		if err := handleListTemplates(); err != nil {
			t.Fatalf("handleListTemplates() error = %v", err)
		}
	})

	if !strings.Contains(output, "Available built-in templates:") {
		t.Error("expected header in output")
	}
	for _, name := range []string{renderer.TemplateText, renderer.TemplateHTML, renderer.TemplateImage} {
		if !strings.Contains(output, name) {
			t.Errorf("expected template %q in output", name)
		}
	}
	if !strings.Contains(output, "dock-tor templates export") {
		t.Error("expected usage hint in output")
	}
}

func TestHandleExportTemplate(t *testing.T) {
	output := captureOutput(func() {
		if err := handleExportTemplate(renderer.TemplateImage); err != nil {
			t.Fatalf("handleExportTemplate() error = %v", err)
		}
	})
	if !strings.Contains(output, "# Vulnerability report") {
		t.Error("expected template content in output")
	}

	err := handleExportTemplate("nonexistent")
	if err == nil {
		t.Fatal("expected error for unknown template")
	}
	if !strings.Contains(err.Error(), "unknown built-in template") {
		t.Errorf("error = %q, want it to contain 'unknown built-in template'", err.Error())
	}
}

func TestHandleValidateTemplates(t *testing.T) {
	tmpDir := t.TempDir()

	// Valid override
	if err := os.WriteFile(filepath.Join(tmpDir, renderer.TemplateText), []byte("{{ len .Images }} images"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	output := captureOutput(func() {
		if err := handleValidateTemplates(tmpDir); err != nil {
			t.Fatalf("handleValidateTemplates() error = %v for valid templates", err)
		}
	})
	if !strings.Contains(output, "are valid") {
		t.Error("expected 'are valid' message")
	}

	// Invalid override
	if err := os.WriteFile(filepath.Join(tmpDir, renderer.TemplateHTML), []byte("{{ .Unclosed"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if err := handleValidateTemplates(tmpDir); err == nil {
		t.Fatal("expected error for invalid template")
	}

	// Nonexistent directory
	if err := handleValidateTemplates("/nonexistent/templates"); err == nil {
		t.Fatal("expected error for nonexistent directory")
	}
}
