package recorder

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"precision-land/internal/control"
	"precision-land/internal/geo"
	"precision-land/internal/telemetry"
)

// ErrNoLander is returned by RecordingSink.Land when the wrapped sink
// cannot land.
var ErrNoLander = errors.New("recorder: sink cannot land")

// RecordingSink forwards commands to a vehicle and records each one,
// including its error, as a CommandRow.
type RecordingSink struct {
	Inner    control.CommandSink
	Writer   Writer
	FlightID string
	Now      func() time.Time
}

var _ control.CommandSink = (*RecordingSink)(nil)
var _ control.Lander = (*RecordingSink)(nil)

func (r *RecordingSink) record(row telemetry.CommandRow, err error) error {
	row.FlightID = r.FlightID
	if r.Now != nil {
		row.Timestamp = r.Now()
	} else {
		row.Timestamp = time.Now().UTC()
	}
	if err != nil {
		row.Err = err.Error()
	}
	// JSON cannot carry NaN; an unset heading is recorded as 0.
	if math.IsNaN(row.YawDeg) {
		row.YawDeg = 0
	}
	if werr := r.Writer.WriteCommand(row); werr != nil {
		log.Printf("[RecordingSink] command write failed: %v", werr)
	}
	return err
}

func (r *RecordingSink) SetVelocityNED(ctx context.Context, v control.VelocityNED) error {
	err := r.Inner.SetVelocityNED(ctx, v)
	return r.record(telemetry.CommandRow{Kind: telemetry.CommandVelocityNED, X: v.NorthMPS, Y: v.EastMPS, Z: v.DownMPS, YawDeg: v.YawDeg}, err)
}

func (r *RecordingSink) SetVelocityBody(ctx context.Context, v control.VelocityBody) error {
	err := r.Inner.SetVelocityBody(ctx, v)
	return r.record(telemetry.CommandRow{Kind: telemetry.CommandVelocityBody, X: v.ForwardMPS, Y: v.RightMPS, Z: v.DownMPS, YawDeg: v.YawRateDegS}, err)
}

func (r *RecordingSink) SetMaximumSpeed(ctx context.Context, mps float64) error {
	err := r.Inner.SetMaximumSpeed(ctx, mps)
	return r.record(telemetry.CommandRow{Kind: telemetry.CommandMaxSpeed, Z: mps}, err)
}

func (r *RecordingSink) GotoLocation(ctx context.Context, p geo.Point, relAltM, yawDeg float64) error {
	err := r.Inner.GotoLocation(ctx, p, relAltM, yawDeg)
	return r.record(telemetry.CommandRow{Kind: telemetry.CommandGoto, X: p.Lat, Y: p.Lon, Z: relAltM, YawDeg: yawDeg}, err)
}

func (r *RecordingSink) Arm(ctx context.Context) error {
	return r.record(telemetry.CommandRow{Kind: telemetry.CommandArm}, r.Inner.Arm(ctx))
}

func (r *RecordingSink) Kill(ctx context.Context) error {
	return r.record(telemetry.CommandRow{Kind: telemetry.CommandKill}, r.Inner.Kill(ctx))
}

func (r *RecordingSink) Land(ctx context.Context) error {
	l, ok := r.Inner.(control.Lander)
	if !ok {
		return r.record(telemetry.CommandRow{Kind: telemetry.CommandLand}, ErrNoLander)
	}
	return r.record(telemetry.CommandRow{Kind: telemetry.CommandLand}, l.Land(ctx))
}

// EventRecorder turns controller transitions and supervisor events into
// EventRows.
type EventRecorder struct {
	Writer   Writer
	FlightID string
}

// Observe is suitable as control.DescentController.Observer.
func (e *EventRecorder) Observe(tr control.Transition) {
	kind := telemetry.EventPhase
	switch tr.To.Kind {
	case control.Descending:
		kind = telemetry.EventBand
	case control.Converged:
		kind = telemetry.EventConverged
	case control.Terminated:
		kind = telemetry.EventTerminated
	}
	e.Record(telemetry.EventRow{
		Kind:      kind,
		State:     tr.To.String(),
		Band:      tr.To.Band,
		AltM:      tr.Sample.RelativeAltM,
		Detail:    "from " + tr.From.String(),
		Timestamp: tr.At,
	})
}

// Record stamps row with an ID and the flight and writes it.
func (e *EventRecorder) Record(row telemetry.EventRow) {
	row.ID = uuid.New().String()
	row.FlightID = e.FlightID
	if row.Timestamp.IsZero() {
		row.Timestamp = time.Now().UTC()
	}
	if err := e.Writer.WriteEvent(row); err != nil {
		log.Printf("[EventRecorder] event write failed: %v", err)
	}
}
