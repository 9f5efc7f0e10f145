// Test file for the version command and --version flag.
//
// Globals mutated: Version, Commit, Date, stdout (via captureOutput).
// All tests use defer resetFlags()() for cleanup.
package cmd

import (
	"testing"
)

func TestVersionCommand(t *testing.T) {
	tests := []struct {
		name                  string
		version, commit, date string
		want                  string
	}{
		{"release build", "1.2.3", "abc123", "2025-01-01", "dock-tor 1.2.3 (commit abc123, built 2025-01-01)\n"},
		{"dev build", "dev", "none", "unknown", "dock-tor dev (commit none, built unknown)\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer resetFlags()()
			Version, Commit, Date = tt.version, tt.commit, tt.date

			rootCmd.SetArgs([]string{"version"})
			output := captureOutput(func() {
				if err := rootCmd.Execute(); err != nil {
					t.Fatalf("version command failed: %v", err)
				}
			})
			if output != tt.want {
				t.Errorf("version output = %q, want %q", output, tt.want)
			}
		})
	}
}

func TestVersionCommand_RejectsArgs(t *testing.T) {
	defer resetFlags()()

	rootCmd.SetArgs([]string{"version", "extra"})
	if err := rootCmd.Execute(); err == nil {
		t.Error("expected error for unexpected argument")
	}
}
