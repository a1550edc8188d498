// Package recorder persists what happened during a flight: position samples,
// commands sent to the vehicle and controller events.
package recorder

import (
	"context"
	"errors"

	"precision-land/internal/logging"
	"precision-land/internal/telemetry"
)

// Writer receives flight rows. Implementations must be safe for use by one
// goroutine per row kind.
type Writer interface {
	WriteSample(telemetry.SampleRow) error
	WriteCommand(telemetry.CommandRow) error
	WriteEvent(telemetry.EventRow) error
}

// Optional: writers may support batch mode for samples
type batchSampleWriter interface {
	WriteSamples([]telemetry.SampleRow) error
}

// Closer is implemented by writers holding files or connections.
type Closer interface {
	Close() error
}

// WriteSamples sends rows to w, using batch mode when supported.
func WriteSamples(w Writer, rows []telemetry.SampleRow) error {
	if bw, ok := w.(batchSampleWriter); ok {
		return bw.WriteSamples(rows)
	}
	for _, r := range rows {
		if err := w.WriteSample(r); err != nil {
			return err
		}
	}
	return nil
}

// Pump copies samples from sub into w until the feed closes or ctx is done.
// Rows are flushed in batches of up to batch samples.
func Pump(ctx context.Context, flightID string, sub *telemetry.Subscription[telemetry.PositionSample], w Writer, batch int) error {
	log := logging.FromContext(ctx)
	if batch < 1 {
		batch = 1
	}
	pending := make([]telemetry.SampleRow, 0, batch)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := WriteSamples(w, pending); err != nil {
			log.Error("sample write failed", "rows", len(pending), "err", err)
		}
		pending = pending[:0]
	}
	defer flush()

	for {
		s, err := sub.Next(ctx)
		if err != nil {
			if errors.Is(err, telemetry.ErrClosed) {
				return nil
			}
			return err
		}
		pending = append(pending, telemetry.NewSampleRow(flightID, s.Normalize()))
		if len(pending) >= batch {
			flush()
		}
	}
}
