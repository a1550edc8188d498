package control

import (
	"context"
	"fmt"
	"time"

	"precision-land/internal/logging"
	"precision-land/internal/telemetry"
)

// Phase is the lifecycle of one convergence run.
type Phase int

const (
	PhaseEnter Phase = iota
	PhasePolling
	PhaseReached
	PhaseInterrupted
)

func (p Phase) String() string {
	switch p {
	case PhaseEnter:
		return "enter"
	case PhasePolling:
		return "polling"
	case PhaseReached:
		return "reached"
	case PhaseInterrupted:
		return "interrupted"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// ConvergeOptions tune a single Run call.
type ConvergeOptions struct {
	// First is used as the initial sample instead of pulling one.
	First *telemetry.PositionSample
	// Interrupt ends the phase early when it returns true for a sample. The
	// sample is handed back in ConvergenceResult.Last and no command is sent
	// for it.
	Interrupt func(telemetry.PositionSample) bool
}

// ConvergenceResult summarises a finished phase.
type ConvergenceResult struct {
	Phase     Phase
	Reference ReferenceFrame
	Last      telemetry.PositionSample
	Samples   int
	Commands  int
}

// ConvergenceLoop flies the vehicle towards a target with velocity setpoints
// until the offset falls inside the tolerance box.
type ConvergenceLoop struct {
	Sink   CommandSink
	Source SampleSource
	Clock  Clock
	// StallTimeout aborts the phase with ErrConvergenceStall when the
	// horizontal offset has not shrunk by StallProgressM within it. Zero
	// disables stall detection.
	StallTimeout   time.Duration
	StallProgressM float64
}

func (l *ConvergenceLoop) clock() Clock {
	if l.Clock == nil {
		return SystemClock
	}
	return l.Clock
}

// Run executes one phase. It returns when the target is reached, the phase is
// interrupted, the context is cancelled or the sink fails.
func (l *ConvergenceLoop) Run(ctx context.Context, target ConvergenceTarget, vertical VerticalPolicy, opts ConvergeOptions) (ConvergenceResult, error) {
	log := logging.FromContext(ctx)
	ctrl := NewVelocityController(target, vertical)
	res := ConvergenceResult{Phase: PhaseEnter}

	var s telemetry.PositionSample
	if opts.First != nil {
		s = *opts.First
	} else {
		var err error
		if s, err = l.Source.Next(ctx); err != nil {
			return res, err
		}
	}

	clock := l.clock()
	progress := l.StallProgressM
	if progress <= 0 {
		progress = 0.1
	}
	var best float64
	var lastProgress time.Time

	for {
		s = s.Normalize()
		res.Last = s
		res.Samples++
		if opts.Interrupt != nil && opts.Interrupt(s) {
			res.Phase = PhaseInterrupted
			log.Debug("convergence interrupted", "alt_m", s.RelativeAltM, "samples", res.Samples)
			return res, nil
		}

		st := ctrl.Step(s)
		if res.Phase == PhaseEnter {
			res.Reference = st.Reference
			log.Debug("convergence phase entered",
				"aim_lat", ctrl.Aim().Lat, "aim_lon", ctrl.Aim().Lon,
				"ref_east_m", st.Reference.EastM, "ref_north_m", st.Reference.NorthM,
				"east_mps", st.Command.EastMPS, "north_mps", st.Command.NorthMPS)
		}
		if st.Reaimed {
			log.Info("overshot aim point, re-aiming", "east_m", st.Offset.EastM, "north_m", st.Offset.NorthM)
		}
		if err := l.Sink.SetVelocityNED(ctx, st.Command); err != nil {
			return res, fmt.Errorf("set velocity: %w", err)
		}
		res.Commands++

		if st.Converged {
			res.Phase = PhaseReached
			log.Debug("convergence reached", "east_m", st.Offset.EastM, "north_m", st.Offset.NorthM, "samples", res.Samples)
			return res, nil
		}

		if l.StallTimeout > 0 {
			now := clock.Now()
			dist := st.Offset.HorizontalM()
			if res.Phase == PhaseEnter || dist < best-progress {
				best, lastProgress = dist, now
			} else if now.Sub(lastProgress) > l.StallTimeout {
				return res, fmt.Errorf("%w: %.2f m from target after %s", ErrConvergenceStall, dist, l.StallTimeout)
			}
		}
		res.Phase = PhasePolling

		var err error
		if s, err = l.Source.Next(ctx); err != nil {
			return res, err
		}
	}
}
