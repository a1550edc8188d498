package mission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"precision-land/internal/control"
	"precision-land/internal/geo"
	"precision-land/internal/logging"
	"precision-land/internal/telemetry"
	"precision-land/internal/watchdog"
)

var (
	// ErrVehicleNotFound is returned when no connected vehicle shows up in time.
	ErrVehicleNotFound = errors.New("mission: vehicle not found")
	// ErrAborted is the cancellation cause of an operator abort.
	ErrAborted = errors.New("mission: aborted by operator")
)

// DefaultConnectTimeout bounds session establishment.
const DefaultConnectTimeout = 5 * time.Second

// Vehicle is everything the runner needs from a flight controller.
type Vehicle interface {
	control.CommandSink
	SetParamInt(ctx context.Context, name string, value int32) error
	SetParamFloat(ctx context.Context, name string, value float32) error
	StartOffboard(ctx context.Context) error
	Samples() *telemetry.Hub[telemetry.PositionSample]
	Status() *telemetry.Hub[telemetry.Status]
}

// Param is an autopilot parameter written after connecting.
type Param struct {
	Name  string
	Float bool
	Value float64
}

// Phases reported by Runner.Snapshot.
const (
	PhaseIdle        = "idle"
	PhaseConnecting  = "connecting"
	PhaseConfiguring = "configuring"
	PhaseGoto        = "goto"
	PhaseOffboard    = "offboard"
	PhaseDescent     = "descent"
	PhaseFailsafe    = "failsafe"
	PhaseDone        = "done"
	PhaseFailed      = "failed"
)

// Snapshot is the runner state exposed to operators.
type Snapshot struct {
	Phase string                    `json:"phase"`
	State string                    `json:"state,omitempty"`
	Band  int                       `json:"band"`
	Leg   string                    `json:"leg,omitempty"`
	Last  *telemetry.PositionSample `json:"last,omitempty"`
	Error string                    `json:"error,omitempty"`
}

// Runner flies one mission.
type Runner struct {
	Vehicle Vehicle
	// Sink receives every command; it defaults to Vehicle and is usually a
	// recording wrapper around it.
	Sink control.CommandSink

	Target     geo.Point
	TargetAltM float64
	Plan       Plan
	Params     []Param

	ConnectTimeout     time.Duration
	InitialMaxSpeedMPS float64
	GotoInterval       time.Duration

	Bands             control.BandTable
	ToleranceFraction float64
	AcceptanceM       float64
	DeadbandM         float64
	ApproachSpeedMPS  float64
	StallTimeout      time.Duration

	Clock    control.Clock
	Observer func(control.Transition)
	Events   func(telemetry.EventRow)

	mu     sync.Mutex
	snap   Snapshot
	cancel context.CancelCauseFunc
}

// Snapshot returns the current runner state.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.snap
	if s.Phase == "" {
		s.Phase = PhaseIdle
	}
	if s.Last != nil {
		last := *s.Last
		s.Last = &last
	}
	return s
}

// Abort cancels a running flight with ErrAborted. It reports whether a
// flight was running.
func (r *Runner) Abort() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return false
	}
	r.cancel(ErrAborted)
	return true
}

func (r *Runner) update(fn func(*Snapshot)) {
	r.mu.Lock()
	fn(&r.snap)
	r.mu.Unlock()
}

func (r *Runner) setPhase(phase string) {
	r.update(func(s *Snapshot) { s.Phase = phase })
	r.event(telemetry.EventRow{Kind: telemetry.EventPhase, State: phase})
}

func (r *Runner) event(row telemetry.EventRow) {
	if r.Events != nil {
		r.Events(row)
	}
}

func (r *Runner) sink() control.CommandSink {
	if r.Sink != nil {
		return r.Sink
	}
	return r.Vehicle
}

func (r *Runner) observe(tr control.Transition) {
	r.update(func(s *Snapshot) {
		s.State = tr.To.String()
		s.Band = tr.To.Band
		last := tr.Sample
		s.Last = &last
	})
	if r.Observer != nil {
		r.Observer(tr)
	}
}

// Run executes the mission and returns the descent result. Once armed, any
// failure other than a rejected terminal kill triggers the failsafe: stop and
// hand the vehicle to the autopilot's landing mode.
func (r *Runner) Run(ctx context.Context) (control.Result, error) {
	log := logging.FromContext(ctx)
	ctx, cancel := context.WithCancelCause(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.snap = Snapshot{Band: -1}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
		cancel(nil)
	}()

	r.setPhase(PhaseConnecting)
	st, err := WaitConnected(ctx, r.Vehicle.Status(), r.ConnectTimeout)
	if err != nil {
		return r.fail(ctx, control.Result{}, err, false)
	}
	log.Info("vehicle connected", "mode", st.FlightMode, "armed", st.Armed)

	var wg sync.WaitGroup
	defer func() {
		cancel(nil)
		wg.Wait()
	}()
	r.startWatchdogs(ctx, cancel, &wg)

	r.setPhase(PhaseConfiguring)
	if err := r.applyParams(ctx); err != nil {
		return r.fail(ctx, control.Result{}, err, false)
	}

	sink := r.sink()
	if err := sink.Arm(ctx); err != nil {
		return r.fail(ctx, control.Result{}, fmt.Errorf("arm: %w", err), false)
	}
	log.Info("armed")
	if err := sink.SetMaximumSpeed(ctx, r.initialMaxSpeed()); err != nil {
		return r.fail(ctx, control.Result{}, fmt.Errorf("initial max speed: %w", err), true)
	}

	samples := r.Vehicle.Samples().Subscribe()
	defer samples.Close()

	if err := r.flyLegs(ctx, samples); err != nil {
		return r.fail(ctx, control.Result{}, err, true)
	}

	r.setPhase(PhaseOffboard)
	// PX4 only accepts offboard once a setpoint is streaming.
	if err := sink.SetVelocityNED(ctx, control.VelocityNED{}); err != nil {
		return r.fail(ctx, control.Result{}, fmt.Errorf("offboard setpoint: %w", err), true)
	}
	if err := r.Vehicle.StartOffboard(ctx); err != nil {
		return r.fail(ctx, control.Result{}, fmt.Errorf("start offboard: %w", err), true)
	}

	r.setPhase(PhaseDescent)
	dc := &control.DescentController{
		Target:            r.Target,
		Bands:             r.Bands,
		Sink:              sink,
		Source:            samples,
		Clock:             r.Clock,
		ToleranceFraction: r.ToleranceFraction,
		AcceptanceM:       r.AcceptanceM,
		DeadbandM:         r.DeadbandM,
		ApproachSpeedMPS:  r.ApproachSpeedMPS,
		StallTimeout:      r.StallTimeout,
		Observer:          r.observe,
	}
	res, err := dc.Run(ctx)
	if err != nil {
		var terr *control.TerminalActionError
		return r.fail(ctx, res, err, !errors.As(err, &terr))
	}
	r.update(func(s *Snapshot) { s.Phase = PhaseDone })
	r.event(telemetry.EventRow{Kind: telemetry.EventPhase, State: PhaseDone, Band: res.State.Band, AltM: res.Last.RelativeAltM})
	log.Info("mission complete", "visited", res.Visited)
	return res, nil
}

func (r *Runner) initialMaxSpeed() float64 {
	if r.InitialMaxSpeedMPS > 0 {
		return r.InitialMaxSpeedMPS
	}
	return 20
}

func (r *Runner) startWatchdogs(ctx context.Context, cancel context.CancelCauseFunc, wg *sync.WaitGroup) {
	log := logging.FromContext(ctx)
	airSub := r.Vehicle.Status().Subscribe()
	modeSub := r.Vehicle.Status().Subscribe()
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer airSub.Close()
		if err := watchdog.InAir(ctx, airSub, cancel, r.Events); err != nil {
			log.Warn("in-air watchdog stopped", "err", err)
		}
	}()
	go func() {
		defer wg.Done()
		defer modeSub.Close()
		if err := watchdog.FlightModes(ctx, modeSub, r.Events); err != nil {
			log.Warn("flight mode logger stopped", "err", err)
		}
	}()
}

func (r *Runner) applyParams(ctx context.Context) error {
	log := logging.FromContext(ctx)
	for _, p := range r.Params {
		var err error
		if p.Float {
			err = r.Vehicle.SetParamFloat(ctx, p.Name, float32(p.Value))
		} else {
			err = r.Vehicle.SetParamInt(ctx, p.Name, int32(p.Value))
		}
		if err != nil {
			return fmt.Errorf("param %s: %w", p.Name, err)
		}
		log.Debug("param set", "name", p.Name, "value", p.Value)
	}
	return nil
}

func (r *Runner) flyLegs(ctx context.Context, samples control.SampleSource) error {
	plan := r.Plan.withFinalLeg()
	if err := plan.Validate(); err != nil {
		return err
	}
	g := &control.GotoLoop{Sink: r.sink(), Source: samples, Clock: r.Clock, Interval: r.GotoInterval}
	for i, leg := range plan.Legs {
		goal, alt := leg.Resolve(r.Target, r.TargetAltM)
		name := leg.Name
		if name == "" {
			name = fmt.Sprintf("leg-%d", i)
		}
		r.update(func(s *Snapshot) { s.Phase, s.Leg = PhaseGoto, name })
		r.event(telemetry.EventRow{Kind: telemetry.EventPhase, State: PhaseGoto, AltM: alt, Detail: name})
		s, err := g.Run(ctx, goal, alt, plan.precisionFor(i))
		if err != nil {
			return fmt.Errorf("leg %s: %w", name, err)
		}
		r.update(func(snap *Snapshot) { snap.Last = &s })
	}
	return nil
}

// fail records err and, when the vehicle may be airborne, runs the failsafe
// on a context that outlives ctx. Kill is never part of it.
func (r *Runner) fail(ctx context.Context, res control.Result, err error, failsafe bool) (control.Result, error) {
	log := logging.FromContext(ctx)
	log.Error("mission failed", "err", err, "cause", context.Cause(ctx))
	if failsafe {
		r.setPhase(PhaseFailsafe)
		fctx := context.WithoutCancel(ctx)
		sink := r.sink()
		if zerr := sink.SetVelocityNED(fctx, control.VelocityNED{}); zerr != nil {
			log.Error("failsafe stop failed", "err", zerr)
		}
		detail := "hold"
		if l, ok := sink.(control.Lander); ok {
			if lerr := l.Land(fctx); lerr != nil {
				log.Error("failsafe land failed", "err", lerr)
				detail = "land failed: " + lerr.Error()
			} else {
				detail = "land"
			}
		}
		r.event(telemetry.EventRow{Kind: telemetry.EventFailsafe, State: detail, AltM: res.Last.RelativeAltM, Detail: err.Error()})
	}
	r.update(func(s *Snapshot) { s.Phase, s.Error = PhaseFailed, err.Error() })
	return res, err
}

// WaitConnected blocks until the status feed reports a connected vehicle or
// timeout passes, in which case ErrVehicleNotFound is returned.
func WaitConnected(ctx context.Context, hub *telemetry.Hub[telemetry.Status], timeout time.Duration) (telemetry.Status, error) {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	sub := hub.Subscribe()
	defer sub.Close()
	if st, ok := hub.Latest(); ok && st.Connected {
		return st, nil
	}
	tctx, cancel := context.WithTimeoutCause(ctx, timeout, ErrVehicleNotFound)
	defer cancel()
	for {
		st, err := sub.Next(tctx)
		if errors.Is(err, telemetry.ErrClosed) {
			return st, ErrVehicleNotFound
		}
		if err != nil {
			return st, err
		}
		if st.Connected {
			return st, nil
		}
	}
}
