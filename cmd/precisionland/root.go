package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"precision-land/internal/config"
	"precision-land/internal/logging"
)

var (
	configPath string
	schemaPath string
)

var rootCmd = &cobra.Command{
	Use:          "precisionland",
	Short:        "Precision landing controller",
	Long:         "precisionland flies a multicopter to a geodetic target and lands it there through a staged descent.",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/flight.yaml", "Path to the flight configuration")
	rootCmd.PersistentFlags().StringVar(&schemaPath, "schema", "schemas/flight.cue", "Path to the CUE schema; empty skips validation")
	rootCmd.AddCommand(flyCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(dashboardCmd)
}

// loadConfig reads the configuration and returns a context carrying a
// logger at the configured level. Logs go to stderr so stdout stays free
// for the recorder.
func loadConfig(ctx context.Context) (*config.FlightConfig, context.Context, error) {
	cfg, err := config.Load(configPath, schemaPath)
	if err != nil {
		return nil, ctx, err
	}
	logger, err := logging.NewWithLevel(os.Stderr, cfg.LogLevel)
	if err != nil {
		return nil, ctx, err
	}
	return cfg, logging.NewContext(ctx, logger), nil
}
