package recorder

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"precision-land/internal/telemetry"
)

// JSONStdoutWriter prints every row as one JSON object per line.
type JSONStdoutWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewJSONStdoutWriter creates a JSONStdoutWriter writing to os.Stdout.
func NewJSONStdoutWriter() *JSONStdoutWriter {
	return &JSONStdoutWriter{out: os.Stdout}
}

type taggedRow struct {
	Table string `json:"table"`
	Row   any    `json:"row"`
}

func (w *JSONStdoutWriter) print(table string, row any) error {
	data, err := json.Marshal(taggedRow{Table: table, Row: row})
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}

func (w *JSONStdoutWriter) WriteSample(r telemetry.SampleRow) error {
	return w.print(r.TableName(), r)
}

// WriteSamples outputs multiple sample rows.
func (w *JSONStdoutWriter) WriteSamples(rows []telemetry.SampleRow) error {
	for _, r := range rows {
		if err := w.WriteSample(r); err != nil {
			return err
		}
	}
	return nil
}

func (w *JSONStdoutWriter) WriteCommand(r telemetry.CommandRow) error {
	return w.print(r.TableName(), r)
}

func (w *JSONStdoutWriter) WriteEvent(r telemetry.EventRow) error {
	return w.print(r.TableName(), r)
}
