package recorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"precision-land/internal/control"
	"precision-land/internal/geo"
	"precision-land/internal/telemetry"
)

type stubSink struct {
	err   error
	calls []string
}

func (s *stubSink) SetVelocityNED(context.Context, control.VelocityNED) error {
	s.calls = append(s.calls, "ned")
	return s.err
}
func (s *stubSink) SetVelocityBody(context.Context, control.VelocityBody) error {
	s.calls = append(s.calls, "body")
	return s.err
}
func (s *stubSink) SetMaximumSpeed(context.Context, float64) error {
	s.calls = append(s.calls, "speed")
	return s.err
}
func (s *stubSink) GotoLocation(context.Context, geo.Point, float64, float64) error {
	s.calls = append(s.calls, "goto")
	return s.err
}
func (s *stubSink) Arm(context.Context) error  { s.calls = append(s.calls, "arm"); return s.err }
func (s *stubSink) Kill(context.Context) error { s.calls = append(s.calls, "kill"); return s.err }

type landingSink struct {
	stubSink
	landed bool
}

func (l *landingSink) Land(context.Context) error {
	l.landed = true
	return nil
}

func TestRecordingSinkRecordsCommands(t *testing.T) {
	inner := &stubSink{}
	cw := &collectWriter{}
	now := time.Unix(42, 0).UTC()
	rs := &RecordingSink{Inner: inner, Writer: cw, FlightID: "f1", Now: func() time.Time { return now }}
	ctx := context.Background()

	_ = rs.SetVelocityNED(ctx, control.VelocityNED{NorthMPS: 1, EastMPS: -2, DownMPS: 0.5, YawDeg: 90})
	_ = rs.SetVelocityBody(ctx, control.VelocityBody{DownMPS: 0.35})
	_ = rs.GotoLocation(ctx, geo.Point{Lat: 47, Lon: 8}, 20, control.KeepHeading)

	if len(inner.calls) != 3 || len(cw.commands) != 3 {
		t.Fatalf("expected 3 forwarded and recorded commands, got %v / %d", inner.calls, len(cw.commands))
	}
	ned := cw.commands[0]
	if ned.Kind != telemetry.CommandVelocityNED || ned.X != 1 || ned.Y != -2 || ned.Z != 0.5 || ned.YawDeg != 90 {
		t.Fatalf("unexpected ned row %+v", ned)
	}
	if ned.FlightID != "f1" || !ned.Timestamp.Equal(now) || ned.Err != "" {
		t.Fatalf("row not stamped %+v", ned)
	}
	if g := cw.commands[2]; g.X != 47 || g.Y != 8 || g.Z != 20 || g.YawDeg != 0 {
		t.Fatalf("unexpected goto row %+v", g)
	}
}

func TestRecordingSinkRecordsErrors(t *testing.T) {
	inner := &stubSink{err: errors.New("denied")}
	cw := &collectWriter{}
	rs := &RecordingSink{Inner: inner, Writer: cw}

	if err := rs.Kill(context.Background()); err == nil || err.Error() != "denied" {
		t.Fatalf("error not passed through: %v", err)
	}
	if cw.commands[0].Kind != telemetry.CommandKill || cw.commands[0].Err != "denied" {
		t.Fatalf("unexpected row %+v", cw.commands[0])
	}
}

func TestRecordingSinkLand(t *testing.T) {
	cw := &collectWriter{}
	rs := &RecordingSink{Inner: &stubSink{}, Writer: cw}
	if err := rs.Land(context.Background()); !errors.Is(err, ErrNoLander) {
		t.Fatalf("expected ErrNoLander, got %v", err)
	}

	ls := &landingSink{}
	rs.Inner = ls
	if err := rs.Land(context.Background()); err != nil {
		t.Fatalf("Land: %v", err)
	}
	if !ls.landed || len(cw.commands) != 2 || cw.commands[1].Err != "" {
		t.Fatalf("land not forwarded: %+v", cw.commands)
	}
}

func TestEventRecorderObserve(t *testing.T) {
	cw := &collectWriter{}
	er := &EventRecorder{Writer: cw, FlightID: "f1"}
	at := time.Unix(7, 0).UTC()

	er.Observe(control.Transition{
		From:   control.State{Kind: control.Approaching},
		To:     control.State{Kind: control.Descending, Band: 2},
		Sample: telemetry.PositionSample{RelativeAltM: 0.9},
		At:     at,
	})
	er.Observe(control.Transition{
		From: control.State{Kind: control.Descending, Band: 3},
		To:   control.State{Kind: control.Terminated, Band: 4},
	})

	if len(cw.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(cw.events))
	}
	band := cw.events[0]
	if band.Kind != telemetry.EventBand || band.Band != 2 || band.AltM != 0.9 || band.State != "DESCENDING(2)" {
		t.Fatalf("unexpected band event %+v", band)
	}
	if band.Detail != "from APPROACHING" || !band.Timestamp.Equal(at) || band.FlightID != "f1" {
		t.Fatalf("unexpected band event %+v", band)
	}
	if _, err := uuid.Parse(band.ID); err != nil {
		t.Fatalf("bad id %q: %v", band.ID, err)
	}
	term := cw.events[1]
	if term.Kind != telemetry.EventTerminated || term.Timestamp.IsZero() || term.ID == band.ID {
		t.Fatalf("unexpected terminal event %+v", term)
	}
}
