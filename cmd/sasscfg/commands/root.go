package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/techblog/sasscfg/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
	logLevel   string
	strict     bool

	traceExporter string
	otlpEndpoint  string
)

// ExitError carries a process exit code for failures that are results
// rather than malfunctions, such as lint violations or detected drift.
type ExitError struct {
	Code int
	Msg  string
}

func (e *ExitError) Error() string {
	return e.Msg
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	var tel *telemetry.Telemetry

	rootCmd := &cobra.Command{
		Use:   "sasscfg",
		Short: "sasscfg - stylesheet compiler settings tool",
		Long: `sasscfg reads, validates and inspects the settings file of a Sass/Compass
stylesheet project.

Features:
  - config.rb files in the Compass Ruby syntax
  - YAML, JSON, CUE and Starlark equivalents
  - Compass defaults for stand-alone and Rails projects
  - Struct and CUE schema validation
  - Lint policies in Rego
  - Snapshot history and drift detection`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logLevel
			if level == "" {
				level = os.Getenv("LOG_LEVEL")
			}
			if verbose && level == "" {
				level = "debug"
			}
			if level == "" {
				level = "info"
			}
			zerolog.SetGlobalLevel(telemetry.ParseLevel(level))

			cfg := telemetry.DefaultConfig()
			if cmd.Name() == "watch" {
				cfg = telemetry.WatchConfig()
			}
			cfg.ServiceVersion = version
			cfg.Logging.Level = level
			if traceExporter != "" && traceExporter != "none" {
				cfg.Tracing.Enabled = true
				cfg.Tracing.Exporter = traceExporter
				cfg.Tracing.Endpoint = otlpEndpoint
			}
			if f := cmd.Flags().Lookup("metrics-addr"); f != nil && f.Value.String() != "" {
				cfg.Metrics.Enabled = true
				cfg.Metrics.ListenAddress = f.Value.String()
			}

			var err error
			tel, err = telemetry.NewTelemetryWithLogger(cfg, telemetry.WrapLogger(log.Logger))
			if err != nil {
				return fmt.Errorf("failed to set up telemetry: %w", err)
			}
			cmd.SetContext(tel.WithContext(cmd.Context()))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if tel == nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return tel.Shutdown(ctx)
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "settings file path (overrides the path argument)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error); defaults to $LOG_LEVEL")
	rootCmd.PersistentFlags().BoolVar(&strict, "strict", false, "treat unknown keys and duplicate assignments as errors")
	rootCmd.PersistentFlags().StringVar(&traceExporter, "trace-exporter", "none", "trace exporter (none, stdout, otlp)")
	rootCmd.PersistentFlags().StringVar(&otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC collector endpoint for --trace-exporter otlp")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newShowCommand())
	rootCmd.AddCommand(newGetCommand())
	rootCmd.AddCommand(newPathsCommand())
	rootCmd.AddCommand(newLintCommand())
	rootCmd.AddCommand(newWatchCommand())
	rootCmd.AddCommand(newSnapshotCommand())
	rootCmd.AddCommand(newDriftCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
