package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dock-tor/dock-tor/pkg/renderer"
)

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List, export and validate report templates",
	Long: `Report templates can be overridden by placing a file with the same name in
the directory given by TEMPLATE_DIR (or --template-dir). Export a built-in
template as a starting point.`,
}

var templatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the built-in templates",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return handleListTemplates()
	},
}

var templatesExportCmd = &cobra.Command{
	Use:   "export <name>",
	Short: "Print a built-in template to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return handleExportTemplate(args[0])
	},
}

var templatesValidateCmd = &cobra.Command{
	Use:   "validate <dir>",
	Short: "Check the templates in a directory for syntax errors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return handleValidateTemplates(args[0])
	},
}

func init() {
	templatesCmd.AddCommand(templatesListCmd, templatesExportCmd, templatesValidateCmd)
	rootCmd.AddCommand(templatesCmd)
}

// handleListTemplates prints all available built-in templates.
func handleListTemplates() error { //nolint:unparam // error return is part of RunE handler contract
	fmt.Fprintln(stdout, "Available built-in templates:")
	fmt.Fprintln(stdout)
	for _, b := range renderer.ListBuiltin() {
		fmt.Fprintf(stdout, "  %-22s  [%s]  %s\n", b.Name, b.Format, b.Description)
	}
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Usage:")
	fmt.Fprintln(stdout, "  dock-tor templates export <name> > $TEMPLATE_DIR/<name>")
	return nil
}

// handleExportTemplate exports a built-in template to stdout.
func handleExportTemplate(name string) error {
	if !renderer.IsBuiltin(name) {
		return fmt.Errorf("unknown built-in template: %s (use 'dock-tor templates list' to see available templates)", name)
	}
	content, err := renderer.ExportBuiltin(name)
	if err != nil {
		return fmt.Errorf("failed to export template: %w", err)
	}
	if _, err = fmt.Fprint(stdout, content); err != nil {
		return fmt.Errorf("failed to write template: %w", err)
	}
	return nil
}

// handleValidateTemplates parses every template, taking overrides from dir.
func handleValidateTemplates(dir string) error {
	if info, err := os.Stat(dir); err != nil {
		return fmt.Errorf("failed to read template directory: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	if err := renderer.Validate(dir); err != nil {
		slog.Error("template validation failed", "dir", dir, "error", err)
		return err
	}
	fmt.Fprintf(stdout, "Templates in %s are valid.\n", dir)
	return nil
}
