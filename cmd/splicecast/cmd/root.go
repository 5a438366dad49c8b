// Package cmd implements the CLI commands for splicecast.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/splicecast/splicecast/internal/config"
	"github.com/splicecast/splicecast/internal/observability"
	"github.com/splicecast/splicecast/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// cfg is the loaded configuration, populated before any subcommand runs.
var cfg *config.Config

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "splicecast",
	Short:   "Live stream fan-out with SCTE-35 ad-cue injection",
	Version: version.Short(),
	Long: `splicecast takes one live source stream, fans it out to multiple
delivery formats (HLS, DASH, SRT, RTMP, RTSP), and injects SCTE-35
CUE-OUT/CUE-IN ad-break markers into every running output on demand.

Markers can be triggered over the REST API, by a recurring cron
schedule, or closed automatically when a break's duration elapses.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// PersistentPreRunE is set here to avoid an initialization cycle
	// (initLogging references rootCmd.PersistentFlags).
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
		return initLogging()
	}

	// Global flags
	// These are NOT bound to viper. We check if they were explicitly set
	// using Changed() and only then override the config/env values, which
	// preserves the priority: CLI flag > env var > config > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, /etc/splicecast, $HOME/.splicecast)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// initLogging configures the slog logger based on configuration.
// The observability package applies sensitive data redaction, so stream
// keys and URL credentials never reach the log output.
func initLogging() error {
	logCfg := cfg.Logging

	// Override with CLI flags only if explicitly set by the user.
	if rootCmd.PersistentFlags().Changed("log-level") {
		logCfg.Level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		logCfg.Format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	logCfg.Level = strings.ToLower(logCfg.Level)
	logCfg.Format = strings.ToLower(logCfg.Format)
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	observability.SetDefault(logger)

	return nil
}
