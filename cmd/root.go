package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dock-tor/dock-tor/pkg/config"
)

var (
	configFile string
	verbose    bool
	dryRun     bool
	interval   time.Duration
)

// stdout is where reports and command output go. Logs go to stderr.
var stdout io.Writer = os.Stdout

// flagKeys maps persistent flags onto configuration keys. Precedence is
// flag, then environment, then config file, then default.
var flagKeys = map[string]string{
	"scope":             config.KeyScanScope,
	"min-severity":      config.KeyMinNotifySeverity,
	"notify-on-failure": config.KeyNotifyOnFailure,
	"concurrency":       config.KeyMaxConcurrent,
	"timeout":           config.KeyScanTimeout,
	"trivy-bin":         config.KeyTrivyBin,
	"trivy-args":        config.KeyTrivyArgs,
	"template-dir":      config.KeyTemplateDir,
}

var rootCmd = &cobra.Command{
	Use:   "dock-tor",
	Short: "Scan the images of running containers and email a vulnerability report",
	Long: `dock-tor discovers the container images in use on a Docker host, scans each
unique image with trivy and emails a summary when findings reach the
configured severity threshold.

Configuration comes from flags, environment variables (SMTP_HOST, MAIL_TO,
MIN_NOTIFY_SEVERITY, SCAN_SCOPE, ...) and an optional YAML config file using
the same lower-case keys (smtp_host, mail_to, ...). A set flag wins over the
environment, and the environment wins over the config file.

Exit status:
  0  nothing to report, or the notification was delivered
  1  configuration error, container runtime unavailable or mail failure
  3  every image scan failed`,
	Example: `  # One scan, mail the report if needed
  dock-tor

  # Render the report to stdout instead of mailing it
  dock-tor scan --dry-run

  # Keep running and scan twice a day
  dock-tor scan --interval 12h

  # Show the effective configuration
  dock-tor config`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// ExitError carries the process exit status for an error.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// exitCode maps an error returned by a command to a process exit status.
func exitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

// Execute runs the root cobra command and exits with the command's status.
// SIGINT and SIGTERM cancel the running command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// loadSettings merges defaults, environment, config file and flags.
func loadSettings() (*config.Settings, error) {
	v := config.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, &ExitError{Code: exitFatal, Err: fmt.Errorf("failed to read config file %s: %w", configFile, err)}
		}
	}
	if err := bindFlags(v); err != nil {
		return nil, &ExitError{Code: exitFatal, Err: err}
	}
	s, err := config.Load(v)
	if err != nil {
		return nil, &ExitError{Code: exitFatal, Err: fmt.Errorf("invalid configuration: %w", err)}
	}
	return s, nil
}

func bindFlags(v *viper.Viper) error {
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// setupLogging installs the default slog text handler on stderr.
func setupLogging(level string) {
	var l slog.Level
	known := l.UnmarshalText([]byte(normalizeLevel(level))) == nil
	if !known {
		l = slog.LevelInfo
	}
	if verbose {
		l = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
	if !known {
		slog.Warn("unknown log level, using INFO", "level", level)
	}
}

func normalizeLevel(level string) string {
	switch l := strings.ToUpper(strings.TrimSpace(level)); l {
	case "WARNING":
		return "WARN"
	case "CRITICAL", "FATAL":
		return "ERROR"
	case "":
		return "INFO"
	default:
		return l
	}
}

func init() {
	// Assigned here: runScan reads rootCmd's flags.
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runScan(cmd.Context())
	}

	// Dynamically append tool status to the help description
	rootCmd.Long += "\n" + checkToolStatus()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")

	rootCmd.PersistentFlags().String("scope", "", "Scan scope: ALL or COMPOSE (env SCAN_SCOPE)")
	rootCmd.PersistentFlags().String("min-severity", "", "Lowest severity that triggers a notification (env MIN_NOTIFY_SEVERITY)")
	rootCmd.PersistentFlags().String("concurrency", "", "Maximum concurrent scans (env MAX_CONCURRENT_SCANS)")
	rootCmd.PersistentFlags().String("timeout", "", "Per-image scan timeout, e.g. 10m (env SCAN_TIMEOUT)")
	rootCmd.PersistentFlags().String("trivy-bin", "", "Path to the trivy binary (env TRIVY_BIN)")
	rootCmd.PersistentFlags().String("trivy-args", "", "Extra arguments passed to 'trivy image' (env TRIVY_ARGS)")
	rootCmd.PersistentFlags().String("template-dir", "", "Directory with custom report templates (env TEMPLATE_DIR)")
	rootCmd.PersistentFlags().String("notify-on-failure", "", "Notify on failed scans: never, all or any (env NOTIFY_ON_FAILURE)")

	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the report to stdout instead of sending mail")
	rootCmd.Flags().DurationVar(&interval, "interval", 0, "Repeat the scan at this interval until interrupted")

	// Add version flag as shortcut for "version" command
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("dock-tor {{.Version}}\n")
}
