package control

import (
	"context"
	"fmt"
	"time"

	"precision-land/internal/geo"
	"precision-land/internal/logging"
	"precision-land/internal/telemetry"
)

// StateKind enumerates the descent controller states.
type StateKind int

const (
	Approaching StateKind = iota
	Converged
	Descending
	Terminated
)

// State is the descent controller state. Band is only meaningful while
// Descending or Terminated.
type State struct {
	Kind StateKind `json:"kind"`
	Band int       `json:"band"`
}

func (s State) String() string {
	switch s.Kind {
	case Approaching:
		return "APPROACHING"
	case Converged:
		return "CONVERGED"
	case Descending:
		return fmt.Sprintf("DESCENDING(%d)", s.Band)
	case Terminated:
		return "TERMINATED"
	}
	return fmt.Sprintf("STATE(%d)", int(s.Kind))
}

// Transition is posted to the observer on every state change.
type Transition struct {
	From   State
	To     State
	Sample telemetry.PositionSample
	At     time.Time
}

// Result is what the descent controller hands back to its supervisor.
type Result struct {
	State   State
	Visited []int
	Last    telemetry.PositionSample
}

// DescentController runs the staged precision landing over Target.
type DescentController struct {
	Target geo.Point
	Bands  BandTable
	Sink   CommandSink
	Source SampleSource
	Clock  Clock

	ToleranceFraction float64
	AcceptanceM       float64
	// DeadbandM is the vertical tolerance around a band's target altitude.
	DeadbandM float64
	// ApproachSpeedMPS > 0 flies a level convergence phase over the target
	// before the first band is selected.
	ApproachSpeedMPS float64
	StallTimeout     time.Duration

	// Observer, if set, is called synchronously on every transition.
	Observer func(Transition)

	state State
}

// State returns the current controller state.
func (d *DescentController) State() State { return d.state }

func (d *DescentController) loop() *ConvergenceLoop {
	return &ConvergenceLoop{Sink: d.Sink, Source: d.Source, Clock: d.Clock, StallTimeout: d.StallTimeout}
}

func (d *DescentController) transition(ctx context.Context, to State, s telemetry.PositionSample) {
	from := d.state
	d.state = to
	logging.FromContext(ctx).Info("descent state", "from", from.String(), "to", to.String(), "alt_m", s.RelativeAltM)
	if d.Observer != nil {
		clock := d.Clock
		if clock == nil {
			clock = SystemClock
		}
		d.Observer(Transition{From: from, To: to, Sample: s, At: clock.Now()})
	}
}

func (d *DescentController) target(b Band, maxSpeed float64) ConvergenceTarget {
	return ConvergenceTarget{
		Goal:              d.Target,
		GoalAltM:          b.TargetAltM,
		MaxSpeedMPS:       maxSpeed,
		ToleranceFraction: d.ToleranceFraction,
		AcceptanceM:       d.AcceptanceM,
	}
}

// Run lands the vehicle. It returns once TERMINATED is reached, on context
// cancellation, or on a command failure. Once the terminal band is entered the
// zero-velocity and kill commands are sent regardless of cancellation, and the
// kill is never retried.
func (d *DescentController) Run(ctx context.Context) (Result, error) {
	log := logging.FromContext(ctx)
	bands := d.Bands
	if bands == nil {
		bands = DefaultBands()
	}
	if err := bands.Validate(); err != nil {
		return Result{}, err
	}

	d.state = State{Kind: Approaching}
	res := Result{State: d.state}
	var carried *telemetry.PositionSample

	if d.ApproachSpeedMPS > 0 {
		cr, err := d.loop().Run(ctx, ConvergenceTarget{
			Goal:              d.Target,
			MaxSpeedMPS:       d.ApproachSpeedMPS,
			ToleranceFraction: d.ToleranceFraction,
			AcceptanceM:       d.AcceptanceM,
		}, HoldAltitude{}, ConvergeOptions{})
		res.Last = cr.Last
		if err != nil {
			return res, fmt.Errorf("approach: %w", err)
		}
		d.transition(ctx, State{Kind: Converged}, cr.Last)
		res.State = d.state
	}

	current := -1
	for {
		var s telemetry.PositionSample
		if carried != nil {
			s, carried = *carried, nil
		} else {
			var err error
			if s, err = d.Source.Next(ctx); err != nil {
				return res, err
			}
			s = s.Normalize()
		}
		res.Last = s

		idx := bands.Select(s.RelativeAltM)
		b := bands[idx]
		if idx != current {
			if current >= 0 && idx < current {
				log.Warn("climbed back into a higher band", "from", current, "to", idx, "alt_m", s.RelativeAltM)
			}
			current = idx
			res.Visited = append(res.Visited, idx)
			if b.Action == ActionTerminate {
				return d.terminate(ctx, idx, s, res)
			}
			d.transition(ctx, State{Kind: Descending, Band: idx}, s)
			res.State = d.state
			if b.Action == ActionRecenter {
				if err := d.Sink.SetMaximumSpeed(ctx, b.MaxSpeedMPS); err != nil {
					return res, fmt.Errorf("band %d max speed: %w", idx, err)
				}
			}
		}

		switch b.Action {
		case ActionHoldDescend:
			if err := d.Sink.SetVelocityBody(ctx, VelocityBody{DownMPS: b.DescentRateMPS}); err != nil {
				return res, fmt.Errorf("band %d body velocity: %w", idx, err)
			}
		case ActionRecenter:
			band := idx
			cr, err := d.loop().Run(ctx, d.target(b, b.MaxSpeedMPS),
				DescendTo{TargetM: b.TargetAltM, RateMPS: b.DescentRateMPS, DeadbandM: d.DeadbandM},
				ConvergeOptions{
					First:     &s,
					Interrupt: func(x telemetry.PositionSample) bool { return bands.Select(x.RelativeAltM) != band },
				})
			res.Last = cr.Last
			if err != nil {
				return res, fmt.Errorf("band %d: %w", idx, err)
			}
			if cr.Phase == PhaseInterrupted {
				last := cr.Last
				carried = &last
			}
		}
	}
}

func (d *DescentController) terminate(ctx context.Context, idx int, s telemetry.PositionSample, res Result) (Result, error) {
	log := logging.FromContext(ctx)
	kctx := context.WithoutCancel(ctx)

	d.transition(ctx, State{Kind: Terminated, Band: idx}, s)
	res.State = d.state

	if err := d.Sink.SetVelocityBody(kctx, VelocityBody{}); err != nil {
		log.Error("zero velocity before kill failed", "err", err)
	}
	if err := d.Sink.Kill(kctx); err != nil {
		log.Error("kill rejected", "err", err)
		return res, &TerminalActionError{Action: "kill", Err: err}
	}
	log.Info("motors killed", "alt_m", s.RelativeAltM)
	return res, nil
}
