package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"precision-land/internal/admin"
	"precision-land/internal/config"
	"precision-land/internal/control"
	"precision-land/internal/logging"
	"precision-land/internal/mission"
	"precision-land/internal/recorder"
	"precision-land/internal/vehicle"
)

var flyCmd = &cobra.Command{
	Use:   "fly",
	Short: "Fly the mission on a MAVLink vehicle",
	Long:  "fly connects to the configured MAVLink endpoint, flies the mission plan to the target and lands through the descent bands.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, ctx, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		link, err := vehicle.Dial(ctx, cfg.Vehicle.Link)
		if err != nil {
			return err
		}
		defer link.Close()
		return runFlight(ctx, cfg, link, control.SystemClock)
	},
}

func missionParams(ps []config.Param) []mission.Param {
	out := make([]mission.Param, 0, len(ps))
	for _, p := range ps {
		out = append(out, mission.Param{Name: p.Name, Float: p.Type == "float", Value: p.Value})
	}
	return out
}

// newRunner assembles a mission runner from the configuration. Commands go
// through sink and controller events through events.
func newRunner(cfg *config.FlightConfig, v mission.Vehicle, sink control.CommandSink, events *recorder.EventRecorder, bands control.BandTable, clock control.Clock) (*mission.Runner, error) {
	target, err := cfg.Mission.ResolveTarget()
	if err != nil {
		return nil, err
	}
	plan, err := mission.SelectPlan(cfg.Mission.Plan, cfg.Mission.PlanFile)
	if err != nil {
		return nil, err
	}
	return &mission.Runner{
		Vehicle:            v,
		Sink:               sink,
		Target:             target.Point(),
		TargetAltM:         target.AltM,
		Plan:               plan,
		Params:             missionParams(cfg.Vehicle.Params),
		ConnectTimeout:     cfg.Vehicle.ConnectTimeout,
		InitialMaxSpeedMPS: cfg.Mission.InitialMaxSpeedMPS,
		GotoInterval:       cfg.Landing.GotoInterval,
		Bands:              bands,
		ToleranceFraction:  cfg.Landing.ToleranceFraction,
		AcceptanceM:        cfg.Landing.AcceptanceM,
		DeadbandM:          cfg.Landing.DeadbandM,
		ApproachSpeedMPS:   cfg.Landing.ApproachSpeedMPS,
		StallTimeout:       cfg.Landing.StallTimeout,
		Clock:              clock,
		Observer:           events.Observe,
		Events:             events.Record,
	}, nil
}

// runFlight records and flies one mission on v.
func runFlight(ctx context.Context, cfg *config.FlightConfig, v mission.Vehicle, clock control.Clock) error {
	log := logging.FromContext(ctx)
	bands, err := cfg.Landing.BandTable()
	if err != nil {
		return err
	}
	flightID := cfg.FlightID
	if flightID == "" {
		flightID = uuid.New().String()
	}
	ctx = logging.NewContext(ctx, log.With("flight", flightID))
	log = logging.FromContext(ctx)

	w, cleanup, err := newWriters(ctx, cfg, bands)
	if err != nil {
		return err
	}
	defer cleanup()

	sink := &recorder.RecordingSink{Inner: v, Writer: w, FlightID: flightID}
	events := &recorder.EventRecorder{Writer: w, FlightID: flightID}
	runner, err := newRunner(cfg, v, sink, events, bands, clock)
	if err != nil {
		return err
	}

	bgCtx, stopBackground := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		stopBackground()
		wg.Wait()
	}()

	samples := v.Samples().Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer samples.Close()
		if err := recorder.Pump(bgCtx, flightID, samples, w, cfg.Recorder.BatchSize); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("sample recorder stopped", "err", err)
		}
	}()

	if cfg.Admin.Listen != "" {
		srv := admin.NewServer(runner, bands, v.Samples(), v.Status())
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Start(bgCtx, cfg.Admin.Listen); err != nil {
				log.Error("admin server failed", "err", err)
			}
		}()
	}

	log.Info("flight starting", "target_lat", runner.Target.Lat, "target_lon", runner.Target.Lon, "target_alt", runner.TargetAltM, "plan", runner.Plan.Name)
	res, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	log.Info("landed", "state", res.State.String(), "bands", res.Visited, "lat", res.Last.Point.Lat, "lon", res.Last.Point.Lon, "alt", res.Last.RelativeAltM)
	return nil
}
