package recorder

import (
	"errors"

	"precision-land/internal/telemetry"
)

// MultiWriter fans rows out to several writers. Every writer sees every row;
// failures are joined rather than cutting the fan-out short.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a new MultiWriter, skipping nil entries.
func NewMultiWriter(ws ...Writer) *MultiWriter {
	mw := &MultiWriter{}
	for _, w := range ws {
		if w != nil {
			mw.writers = append(mw.writers, w)
		}
	}
	return mw
}

func (mw *MultiWriter) WriteSample(r telemetry.SampleRow) error {
	var errs []error
	for _, w := range mw.writers {
		errs = append(errs, w.WriteSample(r))
	}
	return errors.Join(errs...)
}

// WriteSamples sends rows to all writers, using batch mode where supported.
func (mw *MultiWriter) WriteSamples(rows []telemetry.SampleRow) error {
	var errs []error
	for _, w := range mw.writers {
		errs = append(errs, WriteSamples(w, rows))
	}
	return errors.Join(errs...)
}

func (mw *MultiWriter) WriteCommand(r telemetry.CommandRow) error {
	var errs []error
	for _, w := range mw.writers {
		errs = append(errs, w.WriteCommand(r))
	}
	return errors.Join(errs...)
}

func (mw *MultiWriter) WriteEvent(r telemetry.EventRow) error {
	var errs []error
	for _, w := range mw.writers {
		errs = append(errs, w.WriteEvent(r))
	}
	return errors.Join(errs...)
}

// Close closes every writer that holds resources.
func (mw *MultiWriter) Close() error {
	var errs []error
	for _, w := range mw.writers {
		if c, ok := w.(Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
