package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"precision-land/internal/config"
	"precision-land/internal/geo"
	"precision-land/internal/sim"
)

var simTick time.Duration

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Fly the mission against the built-in vehicle model",
	Long:  "simulate runs the same mission as fly against a kinematic vehicle with wind, optionally faster than real time.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, ctx, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		vcfg, err := simVehicleConfig(cfg, simTick)
		if err != nil {
			return err
		}
		v := sim.NewVehicle(vcfg)

		simCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			v.Run(simCtx)
			close(done)
		}()
		defer func() {
			cancel()
			<-done
		}()
		return runFlight(ctx, cfg, v, v.Clock())
	},
}

// simVehicleConfig derives the vehicle model from the sim section. Without a
// home position the vehicle starts 40 m south-west of the target.
func simVehicleConfig(cfg *config.FlightConfig, tick time.Duration) (sim.Config, error) {
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	home := cfg.Sim.Home
	if home == (geo.Point{}) {
		target, err := cfg.Mission.ResolveTarget()
		if err != nil {
			return sim.Config{}, err
		}
		home = geo.DestinationPoint(target.Point(), 225, 0.04)
	}
	speedup := cfg.Sim.Speedup
	if speedup <= 0 {
		speedup = 1
	}
	return sim.Config{
		Home:         home,
		TickInterval: tick,
		StepDT:       time.Duration(float64(tick) * speedup),
		Wind:         cfg.Sim.Wind,
		Seed:         cfg.Sim.Seed,
		Start:        time.Now(),
	}, nil
}

func init() {
	simulateCmd.Flags().DurationVar(&simTick, "tick", 100*time.Millisecond, "Simulation tick interval")
}
