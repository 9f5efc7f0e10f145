package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration dock-tor would run with, after merging defaults,
environment variables, the config file and flags. The SMTP password is masked.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfig()
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig() error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(s.Redacted().Values())
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	_, err = stdout.Write(out)
	return err
}
