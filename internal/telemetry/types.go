// Telemetry structs shared by the vehicle link, controller and recorders
package telemetry

import (
	"os"
	"time"

	"precision-land/internal/geo"
)

// Sample precision applied before the controller sees a reading.
const (
	LatLonDecimals   = 8
	AltitudeDecimals = 3
)

// PositionSample is one position reading from the flight controller.
type PositionSample struct {
	Point        geo.Point `json:"point"`
	RelativeAltM float64   `json:"relative_alt_m"`
	YawDeg       float64   `json:"yaw_deg"`
	Timestamp    time.Time `json:"ts"`
}

// Normalize returns a copy with lat/lon rounded to 8 decimals (about 1.1 mm)
// and altitude to 3 decimals.
func (s PositionSample) Normalize() PositionSample {
	s.Point.Lat = geo.Round(s.Point.Lat, LatLonDecimals)
	s.Point.Lon = geo.Round(s.Point.Lon, LatLonDecimals)
	s.RelativeAltM = geo.Round(s.RelativeAltM, AltitudeDecimals)
	return s
}

// Status is the coarse vehicle state used by bootstrap and the watchdogs.
type Status struct {
	Connected  bool      `json:"connected"`
	Armed      bool      `json:"armed"`
	InAir      bool      `json:"in_air"`
	FlightMode string    `json:"flight_mode"`
	Timestamp  time.Time `json:"ts"`
}

// Table names default to the flight_* set but can be overridden via env vars.
var (
	SampleTableName  = envOr("GREPTIMEDB_SAMPLE_TABLE", "flight_samples")
	CommandTableName = envOr("GREPTIMEDB_COMMAND_TABLE", "flight_commands")
	EventTableName   = envOr("GREPTIMEDB_EVENT_TABLE", "flight_events")
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// SampleRow represents one recorded position sample.
type SampleRow struct {
	FlightID  string    `json:"flight_id"` // TAG
	Lat       float64   `json:"lat"`       // FIELD
	Lon       float64   `json:"lon"`       // FIELD
	AltM      float64   `json:"alt_m"`     // FIELD
	YawDeg    float64   `json:"yaw_deg"`   // FIELD
	Timestamp time.Time `json:"ts"`        // TIME INDEX
}

func (SampleRow) TableName() string { return SampleTableName }

// NewSampleRow converts a sample into a recorder row.
func NewSampleRow(flightID string, s PositionSample) SampleRow {
	return SampleRow{
		FlightID:  flightID,
		Lat:       s.Point.Lat,
		Lon:       s.Point.Lon,
		AltM:      s.RelativeAltM,
		YawDeg:    s.YawDeg,
		Timestamp: s.Timestamp,
	}
}

// Command kinds recorded in CommandRow.Kind.
const (
	CommandVelocityNED  = "velocity_ned"
	CommandVelocityBody = "velocity_body"
	CommandMaxSpeed     = "max_speed"
	CommandGoto         = "goto"
	CommandArm          = "arm"
	CommandKill         = "kill"
	CommandLand         = "land"
)

// CommandRow represents one command issued to the vehicle.
type CommandRow struct {
	FlightID  string    `json:"flight_id"` // TAG
	Kind      string    `json:"kind"`      // TAG
	X         float64   `json:"x"`         // north/forward m/s, or latitude
	Y         float64   `json:"y"`         // east/right m/s, or longitude
	Z         float64   `json:"z"`         // down m/s, altitude, or speed
	YawDeg    float64   `json:"yaw_deg"`
	Err       string    `json:"err,omitempty"`
	Timestamp time.Time `json:"ts"`
}

func (CommandRow) TableName() string { return CommandTableName }

// Controller event kinds.
const (
	EventPhase      = "phase"
	EventBand       = "band"
	EventConverged  = "converged"
	EventTerminated = "terminated"
	EventFailsafe   = "failsafe"
	EventFlightMode = "flight_mode"
	EventLanded     = "landed"
)

// EventRow is a controller or vehicle state transition.
type EventRow struct {
	ID        string    `json:"id"`
	FlightID  string    `json:"flight_id"` // TAG
	Kind      string    `json:"kind"`      // TAG
	State     string    `json:"state"`
	Band      int       `json:"band"`
	AltM      float64   `json:"alt_m"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"ts"`
}

func (EventRow) TableName() string { return EventTableName }
