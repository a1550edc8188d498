package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"precision-land/internal/recorder"
)

var (
	replayInput string
	replaySpeed float64
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a flight log",
	Long:  "replay feeds rows from a flight log back through the configured recorders.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayInput == "" {
			return fmt.Errorf("input file required")
		}
		cfg, ctx, err := loadConfig(context.Background())
		if err != nil {
			return err
		}
		// Replaying into the log being read would never end.
		cfg.Recorder.File = ""
		bands, err := cfg.Landing.BandTable()
		if err != nil {
			return err
		}
		w, cleanup, err := newWriters(ctx, cfg, bands)
		if err != nil {
			return err
		}
		defer cleanup()
		n, err := recorder.ReplayLogFile(replayInput, w, replaySpeed)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "replayed %d rows from %s\n", n, replayInput)
		return nil
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Path to flight log file")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier")
	replayCmd.MarkFlagRequired("input")
}
