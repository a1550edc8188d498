package recorder

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"precision-land/internal/telemetry"
)

const greptimeWriteTimeout = 5 * time.Second

type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeDBWriter writes flight rows to GreptimeDB via the ingester client.
type GreptimeDBWriter struct {
	client       greptimeClient
	sampleTable  string
	commandTable string
	eventTable   string
}

// NewGreptimeDBWriter connects to endpoint ("host" or "host:port"). Tables
// are created by the first insert.
func NewGreptimeDBWriter(endpoint, database string) (*GreptimeDBWriter, error) {
	host, port := endpoint, 4001
	if h, p, ok := strings.Cut(endpoint, ":"); ok {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, err
		}
		host, port = h, n
	}
	cfg := greptime.NewConfig(host).WithPort(port).WithDatabase(database)
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &GreptimeDBWriter{
		client:       client,
		sampleTable:  telemetry.SampleTableName,
		commandTable: telemetry.CommandTableName,
		eventTable:   telemetry.EventTableName,
	}, nil
}

func (w *GreptimeDBWriter) write(name string, tbl *table.Table, rows int) error {
	ctx, cancel := context.WithTimeout(context.Background(), greptimeWriteTimeout)
	defer cancel()
	if _, err := w.client.Write(ctx, tbl); err != nil {
		log.Printf("[GreptimeDBWriter] Write failed: %v", err)
		return err
	}
	log.Printf("[GreptimeDBWriter] wrote %d rows to %s", rows, name)
	return nil
}

func (w *GreptimeDBWriter) WriteSample(r telemetry.SampleRow) error {
	return w.WriteSamples([]telemetry.SampleRow{r})
}

// WriteSamples inserts multiple sample rows in one request.
func (w *GreptimeDBWriter) WriteSamples(rows []telemetry.SampleRow) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := table.New(w.sampleTable)
	if err != nil {
		return err
	}
	if err := tbl.AddTagColumn("flight_id", types.STRING); err != nil {
		return err
	}
	for _, col := range []string{"lat", "lon", "alt_m", "yaw_deg"} {
		if err := tbl.AddFieldColumn(col, types.FLOAT64); err != nil {
			return err
		}
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return err
	}
	for _, r := range rows {
		if err := tbl.AddRow(r.FlightID, r.Lat, r.Lon, r.AltM, r.YawDeg, r.Timestamp); err != nil {
			return err
		}
	}
	return w.write(w.sampleTable, tbl, len(rows))
}

func (w *GreptimeDBWriter) WriteCommand(r telemetry.CommandRow) error {
	tbl, err := table.New(w.commandTable)
	if err != nil {
		return err
	}
	if err := tbl.AddTagColumn("flight_id", types.STRING); err != nil {
		return err
	}
	if err := tbl.AddTagColumn("kind", types.STRING); err != nil {
		return err
	}
	for _, col := range []string{"x", "y", "z", "yaw_deg"} {
		if err := tbl.AddFieldColumn(col, types.FLOAT64); err != nil {
			return err
		}
	}
	if err := tbl.AddFieldColumn("err", types.STRING); err != nil {
		return err
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return err
	}
	if err := tbl.AddRow(r.FlightID, r.Kind, r.X, r.Y, r.Z, r.YawDeg, r.Err, r.Timestamp); err != nil {
		return err
	}
	return w.write(w.commandTable, tbl, 1)
}

func (w *GreptimeDBWriter) WriteEvent(r telemetry.EventRow) error {
	tbl, err := table.New(w.eventTable)
	if err != nil {
		return err
	}
	if err := tbl.AddFieldColumn("id", types.STRING); err != nil {
		return err
	}
	if err := tbl.AddTagColumn("flight_id", types.STRING); err != nil {
		return err
	}
	if err := tbl.AddTagColumn("kind", types.STRING); err != nil {
		return err
	}
	if err := tbl.AddFieldColumn("state", types.STRING); err != nil {
		return err
	}
	if err := tbl.AddFieldColumn("band", types.INT64); err != nil {
		return err
	}
	if err := tbl.AddFieldColumn("alt_m", types.FLOAT64); err != nil {
		return err
	}
	if err := tbl.AddFieldColumn("detail", types.STRING); err != nil {
		return err
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return err
	}
	if err := tbl.AddRow(r.ID, r.FlightID, r.Kind, r.State, int64(r.Band), r.AltM, r.Detail, r.Timestamp); err != nil {
		return err
	}
	return w.write(w.eventTable, tbl, 1)
}
