package sim

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"precision-land/internal/control"
	"precision-land/internal/geo"
	"precision-land/internal/logging"
	"precision-land/internal/telemetry"
)

// Flight modes reported by the simulated autopilot.
const (
	ModeIdle     = "IDLE"
	ModeHold     = "HOLD"
	ModeGoto     = "GOTO"
	ModeOffboard = "OFFBOARD"
	ModeLand     = "LAND"
)

var (
	// ErrNotArmed is returned for motion commands while disarmed.
	ErrNotArmed = errors.New("sim: vehicle not armed")
	// ErrStopped is returned by the model clock once Run has returned.
	ErrStopped = errors.New("sim: vehicle stopped")
)

// Config parameterises the kinematic vehicle model.
type Config struct {
	Home geo.Point
	// TickInterval is the wall-clock period of Run; StepDT is the simulated
	// time advanced per tick. Setting StepDT above TickInterval runs faster
	// than real time.
	TickInterval time.Duration
	StepDT       time.Duration
	// ResponseTau is the first-order lag of the velocity loop.
	ResponseTau  time.Duration
	ClimbRateMPS float64
	LandRateMPS  float64
	MaxSpeedMPS  float64
	Wind         Wind
	Seed         int64
	Start        time.Time
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.StepDT <= 0 {
		c.StepDT = c.TickInterval
	}
	if c.ResponseTau <= 0 {
		c.ResponseTau = 300 * time.Millisecond
	}
	if c.ClimbRateMPS <= 0 {
		c.ClimbRateMPS = 3
	}
	if c.LandRateMPS <= 0 {
		c.LandRateMPS = 0.7
	}
	if c.MaxSpeedMPS <= 0 {
		c.MaxSpeedMPS = 12
	}
	if c.Start.IsZero() {
		c.Start = time.Now().UTC()
	}
	return c
}

type vec3 struct{ n, e, d float64 }

// Vehicle is a point-mass multicopter that implements control.CommandSink and
// publishes telemetry like a real flight controller would.
type Vehicle struct {
	cfg Config
	rng *rand.Rand

	mu        sync.Mutex
	now       time.Time
	pos       geo.Point
	alt       float64
	yaw       float64
	vel       vec3
	cmd       vec3
	mode      string
	gotoPos   geo.Point
	gotoAlt   float64
	maxSpeed  float64
	armed     bool
	inAir     bool
	connected bool
	killed    bool
	params    map[string]float64
	// stepped is closed and replaced on every Step.
	stepped chan struct{}
	stopped bool

	samples *telemetry.Hub[telemetry.PositionSample]
	status  *telemetry.Hub[telemetry.Status]
}

// NewVehicle places a disarmed vehicle on the ground at cfg.Home.
func NewVehicle(cfg Config) *Vehicle {
	cfg = cfg.withDefaults()
	return &Vehicle{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		now:      cfg.Start,
		pos:      cfg.Home,
		mode:     ModeIdle,
		maxSpeed: cfg.MaxSpeedMPS,
		params:   make(map[string]float64),
		stepped:  make(chan struct{}),
		samples:  telemetry.NewHub[telemetry.PositionSample](1),
		status:   telemetry.NewHub[telemetry.Status](4),
	}
}

// Samples is the position feed.
func (v *Vehicle) Samples() *telemetry.Hub[telemetry.PositionSample] { return v.samples }

// Status is the connection/armed/in-air feed.
func (v *Vehicle) Status() *telemetry.Hub[telemetry.Status] { return v.status }

// Run advances the model every TickInterval until ctx is done.
func (v *Vehicle) Run(ctx context.Context) {
	log := logging.FromContext(ctx)
	log.Info("starting simulated vehicle", "tick_interval", v.cfg.TickInterval, "step_dt", v.cfg.StepDT)
	ticker := time.NewTicker(v.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			v.Step(v.cfg.StepDT)
		case <-ctx.Done():
			log.Info("stopping simulated vehicle")
			v.mu.Lock()
			v.stopped = true
			close(v.stepped)
			v.stepped = make(chan struct{})
			v.mu.Unlock()
			v.samples.Close()
			v.status.Close()
			return
		}
	}
}

// Step advances the model by dt and publishes one sample and one status.
func (v *Vehicle) Step(dt time.Duration) {
	v.mu.Lock()
	v.connected = true
	v.now = v.now.Add(dt)
	secs := dt.Seconds()

	switch {
	case v.killed || !v.armed:
		v.vel = vec3{}
		if v.killed && v.alt > 0 {
			v.alt = 0
		}
	case v.mode == ModeGoto:
		v.stepGoto(secs)
	case v.mode == ModeLand:
		v.vel = vec3{d: v.cfg.LandRateMPS}
		v.integrate(secs, true)
	case v.mode == ModeOffboard:
		k := math.Min(1, secs/v.cfg.ResponseTau.Seconds())
		v.vel.n += (v.cmd.n - v.vel.n) * k
		v.vel.e += (v.cmd.e - v.vel.e) * k
		v.vel.d += (v.cmd.d - v.vel.d) * k
		v.integrate(secs, true)
	default:
		v.vel = vec3{}
		v.integrate(secs, true)
	}
	v.updateGround()

	sample := telemetry.PositionSample{Point: v.pos, RelativeAltM: v.alt, YawDeg: v.yaw, Timestamp: v.now}
	st := v.statusLocked()
	close(v.stepped)
	v.stepped = make(chan struct{})
	v.mu.Unlock()

	v.samples.Publish(sample)
	v.status.Publish(st)
}

func (v *Vehicle) stepGoto(secs float64) {
	off := geo.OffsetNED(v.pos, v.gotoPos)
	step := v.maxSpeed * secs
	if dist := off.HorizontalM(); dist <= step {
		v.pos = v.gotoPos
	} else {
		v.pos = geo.DestinationPoint(v.pos, off.BearingDeg, step/1000)
		v.yaw = off.BearingDeg
	}
	climb := v.cfg.ClimbRateMPS * secs
	switch dAlt := v.gotoAlt - v.alt; {
	case math.Abs(dAlt) <= climb:
		v.alt = v.gotoAlt
	case dAlt > 0:
		v.alt += climb
	default:
		v.alt -= climb
	}
	v.vel = vec3{}
	if v.alt > 0.3 {
		v.inAir = true
	}
}

// integrate moves the vehicle with its current velocity plus wind drift.
func (v *Vehicle) integrate(secs float64, drift bool) {
	n, e := v.vel.n, v.vel.e
	if drift && v.inAir {
		wn, we := v.cfg.Wind.sample(v.rng)
		n += wn
		e += we
	}
	if h := math.Hypot(n, e); h > 0 {
		bearing := geo.Degrees(math.Atan2(e, n))
		v.pos = geo.DestinationPoint(v.pos, bearing, h*secs/1000)
	}
	v.alt -= v.vel.d * secs
}

func (v *Vehicle) updateGround() {
	if v.alt <= 0 {
		v.alt = 0
		if v.inAir {
			v.inAir = false
			v.armed = false
			v.mode = ModeIdle
		}
	} else if v.alt > 0.3 && v.armed {
		v.inAir = true
	}
}

func (v *Vehicle) statusLocked() telemetry.Status {
	return telemetry.Status{
		Connected:  v.connected,
		Armed:      v.armed,
		InAir:      v.inAir,
		FlightMode: v.mode,
		Timestamp:  v.now,
	}
}

// Snapshot returns the current sample without advancing the model.
func (v *Vehicle) Snapshot() telemetry.PositionSample {
	v.mu.Lock()
	defer v.mu.Unlock()
	return telemetry.PositionSample{Point: v.pos, RelativeAltM: v.alt, YawDeg: v.yaw, Timestamp: v.now}
}

// Killed reports whether the motors were killed.
func (v *Vehicle) Killed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.killed
}

// Param returns a parameter set via SetParamInt or SetParamFloat.
func (v *Vehicle) Param(name string) (float64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.params[name]
	return p, ok
}

func (v *Vehicle) SetVelocityNED(_ context.Context, c control.VelocityNED) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.armed {
		return ErrNotArmed
	}
	v.cmd = v.capped(vec3{n: c.NorthMPS, e: c.EastMPS, d: c.DownMPS})
	v.yaw = c.YawDeg
	return nil
}

func (v *Vehicle) SetVelocityBody(_ context.Context, c control.VelocityBody) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.armed {
		return ErrNotArmed
	}
	yaw := geo.Radians(v.yaw)
	v.cmd = v.capped(vec3{
		n: c.ForwardMPS*math.Cos(yaw) - c.RightMPS*math.Sin(yaw),
		e: c.ForwardMPS*math.Sin(yaw) + c.RightMPS*math.Cos(yaw),
		d: c.DownMPS,
	})
	return nil
}

func (v *Vehicle) capped(c vec3) vec3 {
	if h := math.Hypot(c.n, c.e); h > v.maxSpeed {
		c.n *= v.maxSpeed / h
		c.e *= v.maxSpeed / h
	}
	return c
}

func (v *Vehicle) SetMaximumSpeed(_ context.Context, mps float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.maxSpeed = mps
	return nil
}

func (v *Vehicle) GotoLocation(_ context.Context, p geo.Point, relAltM, yawDeg float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.armed {
		return ErrNotArmed
	}
	v.mode = ModeGoto
	v.gotoPos = p
	v.gotoAlt = relAltM
	return nil
}

func (v *Vehicle) Arm(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.killed {
		return errors.New("sim: vehicle was killed")
	}
	v.armed = true
	v.mode = ModeHold
	return nil
}

func (v *Vehicle) Kill(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.killed = true
	v.armed = false
	v.cmd = vec3{}
	v.mode = ModeIdle
	return nil
}

// Land hands the vehicle to the autopilot landing mode.
func (v *Vehicle) Land(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.armed {
		return ErrNotArmed
	}
	v.mode = ModeLand
	return nil
}

// StartOffboard switches to velocity control.
func (v *Vehicle) StartOffboard(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.armed {
		return ErrNotArmed
	}
	v.mode = ModeOffboard
	v.vel = vec3{}
	return nil
}

func (v *Vehicle) SetParamInt(_ context.Context, name string, value int32) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.params[name] = float64(value)
	return nil
}

func (v *Vehicle) SetParamFloat(_ context.Context, name string, value float32) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.params[name] = float64(value)
	return nil
}

// Clock returns a control.Clock on model time: Now is the simulated time and
// Sleep returns once Step has advanced it by d. Timeouts and poll intervals
// then scale with the simulation speed.
func (v *Vehicle) Clock() control.Clock { return modelClock{v: v} }

type modelClock struct{ v *Vehicle }

func (c modelClock) Now() time.Time {
	c.v.mu.Lock()
	defer c.v.mu.Unlock()
	return c.v.now
}

func (c modelClock) Sleep(ctx context.Context, d time.Duration) error {
	v := c.v
	v.mu.Lock()
	deadline := v.now.Add(d)
	for v.now.Before(deadline) {
		if v.stopped {
			v.mu.Unlock()
			return ErrStopped
		}
		wake := v.stepped
		v.mu.Unlock()
		select {
		case <-wake:
		case <-ctx.Done():
			return context.Cause(ctx)
		}
		v.mu.Lock()
	}
	v.mu.Unlock()
	return nil
}
