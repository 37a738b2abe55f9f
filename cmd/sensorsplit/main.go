// Package main implements the sensorsplit binary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sensorsplit/sensorsplit/internal/config"
	"github.com/sensorsplit/sensorsplit/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sensorsplit",
		Short:         "Compare a raw data pipeline with a privacy-preserving one",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initLogging(cmd)
		},
	}

	persistent := cmd.PersistentFlags()
	persistent.String("config", "", "path to configuration file (YAML or JSON)")
	persistent.String("env-file", ".env", "dotenv file loaded before the environment is read")
	persistent.String("data-dir", "", "base directory for all data files")
	persistent.String("log-level", "", "log level (debug|info|warn|error)")
	persistent.String("log-format", "", "log format (text|json)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newReportCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sensorsplit version %s (commit: %s)\n", version, commit)
		},
	}
}

// loadConfig loads configuration from file, environment, and command line
// flags, in increasing priority.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	envFile, _ := flags.GetString("env-file")
	if envFile != "" {
		if err := config.LoadDotEnv(envFile); err != nil {
			return nil, err
		}
	}

	var cfg *config.Config
	configFile, _ := flags.GetString("config")
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	if flags.Changed("data-dir") {
		cfg.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format, _ = flags.GetString("log-format")
	}
	return cfg, nil
}

// initLogging installs the default logger before any command runs. The
// configuration is loaded again by the command itself.
func initLogging(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Logging.Format != "" && !logging.ValidFormat(cfg.Logging.Format) {
		return fmt.Errorf("invalid log format %q", cfg.Logging.Format)
	}
	logging.Init(cfg.Logging.Format, logging.ParseLevel(cfg.Logging.Level))
	return nil
}
