package control

import (
	"context"
	"fmt"
	"time"

	"precision-land/internal/geo"
	"precision-land/internal/logging"
	"precision-land/internal/telemetry"
)

// Precision is the rounded-equality profile used to accept a goto waypoint.
type Precision struct {
	Name           string
	LatLonDecimals int
	AltDecimals    int
}

var (
	// Fast is coarse (about 1 m) and meant for far waypoints.
	Fast = Precision{Name: "fast", LatLonDecimals: 5, AltDecimals: 1}
	// Precise is about 0.1 m and meant for the final approach.
	Precise = Precision{Name: "precise", LatLonDecimals: 6, AltDecimals: 1}
)

// ParsePrecision maps a profile name to its Precision.
func ParsePrecision(name string) (Precision, error) {
	switch name {
	case "", Fast.Name:
		return Fast, nil
	case Precise.Name:
		return Precise, nil
	}
	return Precision{}, fmt.Errorf("unknown precision profile %q", name)
}

// Reached reports whether s matches the goal under p.
func (p Precision) Reached(s telemetry.PositionSample, goal geo.Point, altM float64) bool {
	return geo.Round(s.Point.Lat, p.LatLonDecimals) == geo.Round(goal.Lat, p.LatLonDecimals) &&
		geo.Round(s.Point.Lon, p.LatLonDecimals) == geo.Round(goal.Lon, p.LatLonDecimals) &&
		geo.Round(s.RelativeAltM, p.AltDecimals) == geo.Round(altM, p.AltDecimals)
}

// DefaultGotoInterval is the pause between unsatisfied goto polls.
const DefaultGotoInterval = time.Second

// GotoLoop hands a waypoint to the autopilot's own position controller and
// polls telemetry until the vehicle is there.
type GotoLoop struct {
	Sink     CommandSink
	Source   SampleSource
	Clock    Clock
	Interval time.Duration
}

// Run issues the goto once and blocks until the waypoint is reached or ctx ends.
func (g *GotoLoop) Run(ctx context.Context, goal geo.Point, relAltM float64, p Precision) (telemetry.PositionSample, error) {
	log := logging.FromContext(ctx)
	clock := g.Clock
	if clock == nil {
		clock = SystemClock
	}
	interval := g.Interval
	if interval <= 0 {
		interval = DefaultGotoInterval
	}

	log.Info("goto waypoint", "lat", goal.Lat, "lon", goal.Lon, "alt_m", relAltM, "precision", p.Name)
	if err := g.Sink.GotoLocation(ctx, goal, relAltM, KeepHeading); err != nil {
		return telemetry.PositionSample{}, fmt.Errorf("goto: %w", err)
	}

	polls := 0
	for {
		s, err := g.Source.Next(ctx)
		if err != nil {
			return s, err
		}
		polls++
		if p.Reached(s, goal, relAltM) {
			log.Info("waypoint reached", "lat", s.Point.Lat, "lon", s.Point.Lon, "alt_m", s.RelativeAltM, "polls", polls)
			return s, nil
		}
		if err := clock.Sleep(ctx, interval); err != nil {
			return s, err
		}
	}
}
