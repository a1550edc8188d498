package control

import (
	"context"
	"sync"

	"precision-land/internal/geo"
	"precision-land/internal/telemetry"
)

type sinkCall struct {
	kind string
	ned  VelocityNED
	body VelocityBody
	val  float64
	yaw  float64
	ctx  context.Context
}

// mockSink records every command it receives.
type mockSink struct {
	mu      sync.Mutex
	calls   []sinkCall
	killErr error
}

func (m *mockSink) record(c sinkCall) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
	if c.kind == "kill" {
		return m.killErr
	}
	return nil
}

func (m *mockSink) SetVelocityNED(ctx context.Context, v VelocityNED) error {
	return m.record(sinkCall{kind: "ned", ned: v, ctx: ctx})
}

func (m *mockSink) SetVelocityBody(ctx context.Context, v VelocityBody) error {
	return m.record(sinkCall{kind: "body", body: v, ctx: ctx})
}

func (m *mockSink) SetMaximumSpeed(ctx context.Context, mps float64) error {
	return m.record(sinkCall{kind: "speed", val: mps, ctx: ctx})
}

func (m *mockSink) GotoLocation(ctx context.Context, p geo.Point, alt, yaw float64) error {
	return m.record(sinkCall{kind: "goto", val: alt, yaw: yaw, ctx: ctx})
}

func (m *mockSink) Arm(ctx context.Context) error { return m.record(sinkCall{kind: "arm", ctx: ctx}) }

func (m *mockSink) Kill(ctx context.Context) error { return m.record(sinkCall{kind: "kill", ctx: ctx}) }

func (m *mockSink) of(kind string) []sinkCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sinkCall
	for _, c := range m.calls {
		if c.kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// sliceSource replays samples and reports ErrClosed when exhausted. It
// ignores ctx so tests can observe behaviour under cancellation.
type sliceSource struct {
	samples []telemetry.PositionSample
	pos     int
	onNext  func()
}

func (s *sliceSource) Next(ctx context.Context) (telemetry.PositionSample, error) {
	if s.onNext != nil {
		s.onNext()
	}
	if s.pos >= len(s.samples) {
		return telemetry.PositionSample{}, telemetry.ErrClosed
	}
	v := s.samples[s.pos]
	s.pos++
	return v, nil
}

func sampleAt(p geo.Point, alt float64) telemetry.PositionSample {
	return telemetry.PositionSample{Point: p, RelativeAltM: alt}
}

// linearApproach interpolates n+1 samples from start to end at constant alt.
func linearApproach(start, end geo.Point, alt float64, n int) []telemetry.PositionSample {
	out := make([]telemetry.PositionSample, 0, n+1)
	for i := 0; i <= n; i++ {
		f := float64(i) / float64(n)
		p := geo.Point{
			Lat: start.Lat + (end.Lat-start.Lat)*f,
			Lon: start.Lon + (end.Lon-start.Lon)*f,
		}
		out = append(out, sampleAt(p, alt))
	}
	return out
}

var (
	fieldTarget  = geo.Point{Lat: 37.949297, Lon: -91.784501}
	fieldCurrent = geo.Point{Lat: 37.949803, Lon: -91.784440}
)
