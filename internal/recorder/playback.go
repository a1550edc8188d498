package recorder

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"precision-land/internal/telemetry"
)

type rawRow struct {
	Table string          `json:"table"`
	Row   json.RawMessage `json:"row"`
}

type stamped struct {
	Timestamp time.Time `json:"ts"`
}

// ReplayLog replays a flight log (as written by FileWriter or
// JSONStdoutWriter) into writer. A speed >0 paces rows by their recorded
// timestamps divided by speed; speed <= 0 replays as fast as possible.
// Unknown tables are skipped.
func ReplayLog(r io.Reader, writer Writer, speed float64) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var prev time.Time
	n := 0
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var raw rawRow
		if err := json.Unmarshal(sc.Bytes(), &raw); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		var ts stamped
		if err := json.Unmarshal(raw.Row, &ts); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		if !prev.IsZero() && speed > 0 {
			if diff := time.Duration(float64(ts.Timestamp.Sub(prev)) / speed); diff > 0 {
				time.Sleep(diff)
			}
		}
		ok, err := dispatch(writer, raw)
		if err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		if ok {
			n++
			prev = ts.Timestamp
		}
	}
	return n, sc.Err()
}

func dispatch(w Writer, raw rawRow) (bool, error) {
	switch raw.Table {
	case telemetry.SampleTableName:
		var row telemetry.SampleRow
		if err := json.Unmarshal(raw.Row, &row); err != nil {
			return false, err
		}
		return true, w.WriteSample(row)
	case telemetry.CommandTableName:
		var row telemetry.CommandRow
		if err := json.Unmarshal(raw.Row, &row); err != nil {
			return false, err
		}
		return true, w.WriteCommand(row)
	case telemetry.EventTableName:
		var row telemetry.EventRow
		if err := json.Unmarshal(raw.Row, &row); err != nil {
			return false, err
		}
		return true, w.WriteEvent(row)
	}
	return false, nil
}

// ReplayLogFile opens a file and replays its rows.
func ReplayLogFile(path string, writer Writer, speed float64) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return ReplayLog(f, writer, speed)
}
