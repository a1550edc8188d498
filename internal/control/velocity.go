package control

import (
	"math"

	"precision-land/internal/geo"
	"precision-land/internal/telemetry"
)

// DefaultToleranceFraction is the share of the initial offset treated as arrived.
const DefaultToleranceFraction = 0.1

// ConvergenceTarget describes one waypoint-approach phase.
type ConvergenceTarget struct {
	Goal              geo.Point
	GoalAltM          float64
	MaxSpeedMPS       float64
	ToleranceFraction float64
	// AcceptanceM is a per-axis floor on the convergence box so a target
	// almost straight north/south or east/west stays reachable.
	AcceptanceM float64
	// Offset, when set, aims at a point displaced from Goal instead of Goal
	// itself. The point is fixed on the first sample of the phase.
	Offset *TargetOffset
}

// TargetOffset displaces the aim point relative to the bearing towards Goal.
type TargetOffset struct {
	BearingDeg float64
	DistanceM  float64
}

func (t ConvergenceTarget) tolerance() float64 {
	if t.ToleranceFraction <= 0 {
		return DefaultToleranceFraction
	}
	return t.ToleranceFraction
}

// ReferenceFrame is the absolute offset captured on the first sample of a
// phase. It is the 100% baseline of the convergence test.
type ReferenceFrame struct {
	EastM  float64 `json:"east_m"`
	NorthM float64 `json:"north_m"`
}

// SpeedVector splits maxSpeed between the east and north axes so the result
// points along the offset. A zero offset yields a zero vector.
func SpeedVector(off geo.Offset, maxSpeed float64) (eastMPS, northMPS float64) {
	if off.Zero() || maxSpeed <= 0 {
		return 0, 0
	}
	ratio := off.NorthM / math.Hypot(off.EastM, off.NorthM)
	ratio = math.Max(-1, math.Min(1, ratio))
	theta := math.Asin(ratio)
	eastMPS = math.Copysign(maxSpeed*math.Cos(theta), off.EastM)
	northMPS = math.Copysign(maxSpeed*math.Sin(theta), off.NorthM)
	return eastMPS, northMPS
}

// WithinTolerance reports whether off lies inside the tolerance box around ref.
func WithinTolerance(off geo.Offset, ref ReferenceFrame, tolerance, floorM float64) bool {
	limE := math.Max(ref.EastM*tolerance, floorM)
	limN := math.Max(ref.NorthM*tolerance, floorM)
	return math.Abs(off.EastM) <= limE && math.Abs(off.NorthM) <= limN
}

// Step is the outcome of feeding one sample to a VelocityController.
type Step struct {
	Command   VelocityNED
	Offset    geo.Offset
	Reference ReferenceFrame
	Converged bool
	Reaimed   bool
}

// VelocityController turns position samples into NED velocity setpoints for
// one convergence phase. The horizontal vector is locked on the first sample
// and only re-aimed when the vehicle passes the aim point; the vertical term
// is recomputed on every sample.
type VelocityController struct {
	target   ConvergenceTarget
	vertical VerticalPolicy

	locked  bool
	aim     geo.Point
	ref     ReferenceFrame
	heading geo.Offset
	eastV   float64
	northV  float64
	yaw     float64
}

// NewVelocityController starts a phase towards target.
func NewVelocityController(target ConvergenceTarget, vertical VerticalPolicy) *VelocityController {
	if vertical == nil {
		vertical = HoldAltitude{}
	}
	return &VelocityController{target: target, vertical: vertical, aim: target.Goal}
}

// Reference returns the frame captured on the first sample.
func (c *VelocityController) Reference() (ReferenceFrame, bool) {
	return c.ref, c.locked
}

// Aim returns the point the phase is steering to.
func (c *VelocityController) Aim() geo.Point { return c.aim }

// Step computes the setpoint for s.
func (c *VelocityController) Step(s telemetry.PositionSample) Step {
	if !c.locked && c.target.Offset != nil {
		c.aim = offsetAim(s.Point, c.target.Goal, *c.target.Offset)
	}
	off := geo.OffsetNED(s.Point, c.aim)

	var reaimed bool
	if !c.locked {
		c.locked = true
		c.ref = ReferenceFrame{EastM: math.Abs(off.EastM), NorthM: math.Abs(off.NorthM)}
		c.lockVector(off)
	} else if !off.Zero() && off.EastM*c.heading.EastM+off.NorthM*c.heading.NorthM < 0 {
		// Passed the aim point: keep the reference, turn the vector around.
		c.lockVector(off)
		reaimed = true
	}
	if !off.Zero() {
		c.yaw = off.BearingDeg
	}

	st := Step{
		Offset:    off,
		Reference: c.ref,
		Reaimed:   reaimed,
		Converged: WithinTolerance(off, c.ref, c.target.tolerance(), c.target.AcceptanceM),
		Command: VelocityNED{
			NorthMPS: c.northV,
			EastMPS:  c.eastV,
			DownMPS:  c.vertical.DownMPS(s.RelativeAltM),
			YawDeg:   c.yaw,
		},
	}
	if st.Converged {
		st.Command.NorthMPS, st.Command.EastMPS = 0, 0
	}
	return st
}

func (c *VelocityController) lockVector(off geo.Offset) {
	c.heading = off
	c.eastV, c.northV = SpeedVector(off, c.target.MaxSpeedMPS)
}

func offsetAim(from, goal geo.Point, o TargetOffset) geo.Point {
	if o.DistanceM == 0 {
		return goal
	}
	bearing, err := geo.InitialBearing(from, goal)
	if err != nil {
		bearing = 0
	}
	return geo.DestinationPoint(goal, bearing+o.BearingDeg, o.DistanceM/1000)
}
