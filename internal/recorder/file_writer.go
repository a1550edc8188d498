package recorder

import (
	"encoding/json"
	"os"
	"sync"

	"precision-land/internal/telemetry"
)

// FileWriter appends every row to a JSONL flight log. Each line carries the
// table name so ReplayLog can route it back to the right writer method.
type FileWriter struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
	// Samples can be skipped to keep long flights small.
	skipSamples bool
}

// NewFileWriter creates (or truncates) the flight log at path.
func NewFileWriter(path string, withSamples bool) (*FileWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &FileWriter{file: f, enc: json.NewEncoder(f), skipSamples: !withSamples}, nil
}

func (f *FileWriter) encode(table string, row any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enc.Encode(taggedRow{Table: table, Row: row})
}

func (f *FileWriter) WriteSample(r telemetry.SampleRow) error {
	if f.skipSamples {
		return nil
	}
	return f.encode(r.TableName(), r)
}

// WriteSamples logs multiple sample rows.
func (f *FileWriter) WriteSamples(rows []telemetry.SampleRow) error {
	for _, r := range rows {
		if err := f.WriteSample(r); err != nil {
			return err
		}
	}
	return nil
}

func (f *FileWriter) WriteCommand(r telemetry.CommandRow) error { return f.encode(r.TableName(), r) }

func (f *FileWriter) WriteEvent(r telemetry.EventRow) error { return f.encode(r.TableName(), r) }

// Close closes the underlying file.
func (f *FileWriter) Close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}
