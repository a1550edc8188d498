// Package control implements waypoint convergence and the staged precision
// descent on top of a telemetry feed and a vehicle command sink.
package control

import (
	"context"
	"math"

	"precision-land/internal/geo"
	"precision-land/internal/telemetry"
)

// VelocityNED is a velocity setpoint in the local North-East-Down frame.
// DownMPS is positive towards the ground.
type VelocityNED struct {
	NorthMPS float64 `json:"north_mps"`
	EastMPS  float64 `json:"east_mps"`
	DownMPS  float64 `json:"down_mps"`
	YawDeg   float64 `json:"yaw_deg"`
}

// VelocityBody is a velocity setpoint relative to the vehicle heading.
type VelocityBody struct {
	ForwardMPS  float64 `json:"forward_mps"`
	RightMPS    float64 `json:"right_mps"`
	DownMPS     float64 `json:"down_mps"`
	YawRateDegS float64 `json:"yaw_rate_deg_s"`
}

// KeepHeading passed as a GotoLocation yaw leaves the vehicle's heading to
// the autopilot.
var KeepHeading = math.NaN()

// CommandSink is the vehicle command channel. Implementations must apply each
// command atomically; the controller is the only writer during a phase.
type CommandSink interface {
	SetVelocityNED(ctx context.Context, v VelocityNED) error
	SetVelocityBody(ctx context.Context, v VelocityBody) error
	SetMaximumSpeed(ctx context.Context, mps float64) error
	GotoLocation(ctx context.Context, p geo.Point, relAltM, yawDeg float64) error
	Arm(ctx context.Context) error
	Kill(ctx context.Context) error
}

// Lander is implemented by sinks that can hand the vehicle to the autopilot's
// own landing mode. It is only used for failsafe recovery.
type Lander interface {
	Land(ctx context.Context) error
}

// SampleSource yields position samples in arrival order.
type SampleSource interface {
	Next(ctx context.Context) (telemetry.PositionSample, error)
}
