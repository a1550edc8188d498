package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"precision-land/internal/geo"
	"precision-land/internal/telemetry"
)

type collectWriter struct {
	mu       sync.Mutex
	samples  []telemetry.SampleRow
	commands []telemetry.CommandRow
	events   []telemetry.EventRow
	batches  int
	err      error
}

func (c *collectWriter) WriteSample(r telemetry.SampleRow) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, r)
	return c.err
}

func (c *collectWriter) WriteCommand(r telemetry.CommandRow) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = append(c.commands, r)
	return c.err
}

func (c *collectWriter) WriteEvent(r telemetry.EventRow) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, r)
	return c.err
}

type batchWriter struct{ collectWriter }

func (b *batchWriter) WriteSamples(rows []telemetry.SampleRow) error {
	b.mu.Lock()
	b.batches++
	b.mu.Unlock()
	for _, r := range rows {
		_ = b.WriteSample(r)
	}
	return nil
}

type closeWriter struct {
	collectWriter
	closed bool
}

func (c *closeWriter) Close() error {
	c.closed = true
	return nil
}

func TestWriteSamplesUsesBatchMode(t *testing.T) {
	bw := &batchWriter{}
	rows := []telemetry.SampleRow{{AltM: 1}, {AltM: 2}}
	if err := WriteSamples(bw, rows); err != nil {
		t.Fatalf("WriteSamples: %v", err)
	}
	if bw.batches != 1 || len(bw.samples) != 2 {
		t.Fatalf("expected one batch of 2, got %d batches %d rows", bw.batches, len(bw.samples))
	}

	cw := &collectWriter{}
	if err := WriteSamples(cw, rows); err != nil {
		t.Fatalf("WriteSamples: %v", err)
	}
	if len(cw.samples) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(cw.samples))
	}
}

func TestMultiWriterFanOut(t *testing.T) {
	a := &collectWriter{}
	b := &closeWriter{}
	b.err = errors.New("disk full")
	mw := NewMultiWriter(a, nil, b)

	err := mw.WriteCommand(telemetry.CommandRow{Kind: telemetry.CommandArm})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(a.commands) != 1 || len(b.commands) != 1 {
		t.Fatalf("every writer should see the row")
	}
	if err := mw.WriteEvent(telemetry.EventRow{}); err == nil {
		t.Fatalf("expected event error")
	}
	if err := mw.WriteSamples([]telemetry.SampleRow{{}, {}}); err == nil {
		t.Fatalf("expected sample error")
	}
	if len(a.samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(a.samples))
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !b.closed {
		t.Fatalf("closer not closed")
	}
}

func TestJSONStdoutWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &JSONStdoutWriter{out: &buf}
	if err := w.WriteCommand(telemetry.CommandRow{FlightID: "f1", Kind: telemetry.CommandKill}); err != nil {
		t.Fatalf("WriteCommand: %v", err)
	}
	var got struct {
		Table string               `json:"table"`
		Row   telemetry.CommandRow `json:"row"`
	}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Table != telemetry.CommandTableName || got.Row.Kind != telemetry.CommandKill {
		t.Fatalf("unexpected output %+v", got)
	}
}

func TestColorStdoutWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &ColorStdoutWriter{out: &buf}
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	if err := w.WriteCommand(telemetry.CommandRow{Kind: telemetry.CommandGoto, Err: "denied", Timestamp: ts}); err != nil {
		t.Fatalf("WriteCommand: %v", err)
	}
	if err := w.WriteEvent(telemetry.EventRow{Kind: telemetry.EventFailsafe, State: "LAND", Timestamp: ts}); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"12:00:00.000", "goto", "err=denied", colorRed + telemetry.EventFailsafe, "state=LAND"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFileWriterReplayRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flight.jsonl")
	fw, err := NewFileWriter(path, true)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	ts := time.Unix(100, 0).UTC()
	_ = fw.WriteSamples([]telemetry.SampleRow{{FlightID: "f1", AltM: 9.5, Timestamp: ts}})
	_ = fw.WriteCommand(telemetry.CommandRow{FlightID: "f1", Kind: telemetry.CommandKill, Timestamp: ts.Add(time.Second)})
	_ = fw.WriteEvent(telemetry.EventRow{FlightID: "f1", Kind: telemetry.EventTerminated, Band: 4, Timestamp: ts.Add(2 * time.Second)})
	if err := fw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A row from a table this build does not know about is skipped.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, _ = f.WriteString(`{"table":"other","row":{"ts":"1970-01-01T00:01:43Z"}}` + "\n")
	_ = f.Close()

	cw := &collectWriter{}
	n, err := ReplayLogFile(path, cw, 0)
	if err != nil {
		t.Fatalf("ReplayLogFile: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows, got %d", n)
	}
	if len(cw.samples) != 1 || cw.samples[0].AltM != 9.5 {
		t.Fatalf("sample mismatch: %+v", cw.samples)
	}
	if len(cw.commands) != 1 || cw.commands[0].Kind != telemetry.CommandKill {
		t.Fatalf("command mismatch: %+v", cw.commands)
	}
	if len(cw.events) != 1 || cw.events[0].Band != 4 || !cw.events[0].Timestamp.Equal(ts.Add(2*time.Second)) {
		t.Fatalf("event mismatch: %+v", cw.events)
	}
}

func TestFileWriterSkipsSamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flight.jsonl")
	fw, err := NewFileWriter(path, false)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	_ = fw.WriteSample(telemetry.SampleRow{AltM: 1})
	_ = fw.WriteEvent(telemetry.EventRow{Kind: telemetry.EventLanded})
	_ = fw.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 1 {
		t.Fatalf("expected only the event line, got %d lines", lines)
	}
}

func TestReplayLogBadLine(t *testing.T) {
	_, err := ReplayLog(strings.NewReader("{not json}\n"), &collectWriter{}, 0)
	if err == nil || !strings.Contains(err.Error(), "line 1") {
		t.Fatalf("expected line error, got %v", err)
	}
}

func TestPumpNormalizesAndFlushes(t *testing.T) {
	hub := telemetry.NewHub[telemetry.PositionSample](16)
	sub := hub.Subscribe()
	bw := &batchWriter{}

	hub.Publish(telemetry.PositionSample{Point: geo.Point{Lat: 47.123456789123, Lon: 8.1}, RelativeAltM: 3.14159})
	hub.Publish(telemetry.PositionSample{RelativeAltM: 2})
	hub.Publish(telemetry.PositionSample{RelativeAltM: 1})
	hub.Close()

	if err := Pump(context.Background(), "f1", sub, bw, 2); err != nil {
		t.Fatalf("Pump: %v", err)
	}
	if len(bw.samples) != 3 || bw.batches != 2 {
		t.Fatalf("expected 3 rows in 2 batches, got %d rows %d batches", len(bw.samples), bw.batches)
	}
	first := bw.samples[0]
	if first.FlightID != "f1" || first.Lat != 47.12345679 || first.AltM != 3.142 {
		t.Fatalf("sample not normalized: %+v", first)
	}
}

func TestPumpStopsOnCancel(t *testing.T) {
	hub := telemetry.NewHub[telemetry.PositionSample](4)
	sub := hub.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Pump(ctx, "f1", sub, &collectWriter{}, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
