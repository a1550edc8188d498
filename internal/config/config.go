// YAML flight config loader with CUE validation integration
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"precision-land/internal/control"
	"precision-land/internal/geo"
	"precision-land/internal/sim"
	"precision-land/internal/vehicle"
)

// Param is an autopilot parameter written before takeoff.
type Param struct {
	Name  string  `yaml:"name"`
	Type  string  `yaml:"type"` // int or float
	Value float64 `yaml:"value"`
}

// VehicleConfig describes the flight controller connection.
type VehicleConfig struct {
	Link           vehicle.Config `yaml:",inline"`
	ConnectTimeout time.Duration  `yaml:"connect_timeout"`
	Params         []Param        `yaml:"params"`
}

// Waypoint is a position with a relative altitude.
type Waypoint struct {
	Lat  float64 `yaml:"latitude" json:"latitude"`
	Lon  float64 `yaml:"longitude" json:"longitude"`
	AltM float64 `yaml:"altitude" json:"altitude"`
}

// Point drops the altitude.
func (w Waypoint) Point() geo.Point { return geo.Point{Lat: w.Lat, Lon: w.Lon} }

// MissionConfig selects the landing target and the legs flown to reach it.
type MissionConfig struct {
	Target     *Waypoint `yaml:"target"`
	TargetFile string    `yaml:"target_file"`
	// Plan names a built-in plan; PlanFile points at a YAML plan and wins.
	Plan               string  `yaml:"plan"`
	PlanFile           string  `yaml:"plan_file"`
	InitialMaxSpeedMPS float64 `yaml:"initial_max_speed_mps"`
}

// BandConfig is one row of the descent table. A missing upper_m means the
// band is unbounded above.
type BandConfig struct {
	LowerM         float64  `yaml:"lower_m"`
	UpperM         *float64 `yaml:"upper_m"`
	MaxSpeedMPS    float64  `yaml:"max_speed_mps"`
	DescentRateMPS float64  `yaml:"descent_rate_mps"`
	TargetAltM     float64  `yaml:"target_alt_m"`
	Action         string   `yaml:"action"`
}

// LandingConfig tunes the precision descent.
type LandingConfig struct {
	Bands             []BandConfig  `yaml:"bands"`
	ToleranceFraction float64       `yaml:"tolerance_fraction"`
	AcceptanceM       float64       `yaml:"acceptance_m"`
	DeadbandM         float64       `yaml:"deadband_m"`
	ApproachSpeedMPS  float64       `yaml:"approach_speed_mps"`
	StallTimeout      time.Duration `yaml:"stall_timeout"`
	GotoInterval      time.Duration `yaml:"goto_interval"`
}

// GreptimeConfig points the recorder at a GreptimeDB instance.
type GreptimeConfig struct {
	Endpoint string `yaml:"endpoint"`
	Database string `yaml:"database"`
}

// MQTTConfig streams flight rows to a ground station broker.
type MQTTConfig struct {
	Broker         string `yaml:"broker"`
	ClientID       string `yaml:"client_id"`
	Username       string `yaml:"username"`
	PrivateKeyPath string `yaml:"private_key"`
	Audience       string `yaml:"audience"`
	TopicPrefix    string `yaml:"topic_prefix"`
}

// RecorderConfig picks where flight rows go.
type RecorderConfig struct {
	// Stdout is one of auto, json, color, tui or none.
	Stdout      string         `yaml:"stdout"`
	File        string         `yaml:"file"`
	FileSamples bool           `yaml:"file_samples"`
	BatchSize   int            `yaml:"batch_size"`
	Greptime    GreptimeConfig `yaml:"greptime"`
	MQTT        MQTTConfig     `yaml:"mqtt"`
}

// AdminConfig enables the admin HTTP server when Listen is set.
type AdminConfig struct {
	Listen string `yaml:"listen"`
}

// SimConfig parameterises the built-in vehicle used by `simulate`.
type SimConfig struct {
	Home    geo.Point `yaml:"home"`
	Wind    sim.Wind  `yaml:"wind"`
	Seed    int64     `yaml:"seed"`
	Speedup float64   `yaml:"speedup"`
}

// FlightConfig is the root configuration.
type FlightConfig struct {
	LogLevel string         `yaml:"log_level"`
	FlightID string         `yaml:"flight_id"`
	Vehicle  VehicleConfig  `yaml:"vehicle"`
	Mission  MissionConfig  `yaml:"mission"`
	Landing  LandingConfig  `yaml:"landing"`
	Recorder RecorderConfig `yaml:"recorder"`
	Admin    AdminConfig    `yaml:"admin"`
	Sim      SimConfig      `yaml:"sim"`
}

// DefaultParams are the failsafe settings written on connect: hold on data
// link, offboard and RC loss, and a slow horizontal touchdown.
func DefaultParams() []Param {
	return []Param{
		{Name: "NAV_DLL_ACT", Type: "int", Value: 1},
		{Name: "COM_OBL_ACT", Type: "int", Value: 1},
		{Name: "COM_OBL_RC_ACT", Type: "int", Value: 5},
		{Name: "NAV_RCL_ACT", Type: "int", Value: 1},
		{Name: "LNDMC_XY_VEL_MAX", Type: "float", Value: 0.5},
	}
}

// Default returns a configuration with every default applied.
func Default() *FlightConfig {
	cfg := &FlightConfig{}
	cfg.applyDefaults()
	return cfg
}

func (c *FlightConfig) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Vehicle.Link.Endpoint == "" {
		c.Vehicle.Link.Endpoint = "udp://:14540"
	}
	if c.Vehicle.ConnectTimeout <= 0 {
		c.Vehicle.ConnectTimeout = 5 * time.Second
	}
	if c.Vehicle.Params == nil {
		c.Vehicle.Params = DefaultParams()
	}
	if c.Mission.InitialMaxSpeedMPS <= 0 {
		c.Mission.InitialMaxSpeedMPS = 20
	}
	if c.Landing.ToleranceFraction <= 0 {
		c.Landing.ToleranceFraction = 0.1
	}
	if c.Landing.AcceptanceM <= 0 {
		c.Landing.AcceptanceM = 0.1
	}
	if c.Landing.DeadbandM <= 0 {
		c.Landing.DeadbandM = 0.2
	}
	if c.Landing.GotoInterval <= 0 {
		c.Landing.GotoInterval = time.Second
	}
	if c.Recorder.Stdout == "" {
		c.Recorder.Stdout = "auto"
	}
	if c.Recorder.BatchSize <= 0 {
		c.Recorder.BatchSize = 10
	}
	if c.Recorder.Greptime.Database == "" {
		c.Recorder.Greptime.Database = "public"
	}
	if c.Recorder.MQTT.ClientID == "" {
		c.Recorder.MQTT.ClientID = "precision-land"
	}
	if c.Sim.Speedup <= 0 {
		c.Sim.Speedup = 1
	}
}

// applyEnv lets the deployment override sinks without touching the file.
func (c *FlightConfig) applyEnv() {
	if v := os.Getenv("GREPTIMEDB_ENDPOINT"); v != "" {
		c.Recorder.Greptime.Endpoint = v
	}
	if v := os.Getenv("GREPTIMEDB_DATABASE"); v != "" {
		c.Recorder.Greptime.Database = v
	}
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		c.Recorder.MQTT.Broker = v
	}
	if v := os.Getenv("FLIGHT_ID"); v != "" {
		c.FlightID = v
	}
}

// Load loads YAML config and validates it against a CUE schema. An empty
// schema path skips validation.
func Load(configPath, cueSchemaPath string) (*FlightConfig, error) {
	if cueSchemaPath != "" {
		if err := ValidateWithCue(configPath, cueSchemaPath); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	var cfg FlightConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

// BandTable converts the configured bands. No bands selects the default
// landing profile.
func (l LandingConfig) BandTable() (control.BandTable, error) {
	if len(l.Bands) == 0 {
		return control.DefaultBands(), nil
	}
	table := make(control.BandTable, 0, len(l.Bands))
	for i, b := range l.Bands {
		action, err := control.ParseAction(b.Action)
		if err != nil {
			return nil, fmt.Errorf("band %d: %w", i, err)
		}
		upper := math.Inf(1)
		if b.UpperM != nil {
			upper = *b.UpperM
		}
		table = append(table, control.Band{
			LowerM:         b.LowerM,
			UpperM:         upper,
			MaxSpeedMPS:    b.MaxSpeedMPS,
			DescentRateMPS: b.DescentRateMPS,
			TargetAltM:     b.TargetAltM,
			Action:         action,
		})
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return table, nil
}

type targetFile struct {
	Target             *Waypoint `json:"target"`
	GroundAltitudeAMSL float64   `json:"ground_altitude_amsl"`
}

// LoadTarget reads a target data file:
//
//	{"target": {"latitude": .., "longitude": .., "altitude": ..}, "ground_altitude_amsl": ..}
//
// It returns the target and the launch site ground altitude above sea level.
func LoadTarget(path string) (Waypoint, float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Waypoint{}, 0, fmt.Errorf("read target: %w", err)
	}
	var tf targetFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return Waypoint{}, 0, fmt.Errorf("parse target: %w", err)
	}
	if tf.Target == nil {
		return Waypoint{}, 0, fmt.Errorf("target file %s: missing target", path)
	}
	if !tf.Target.Point().Valid() {
		return Waypoint{}, 0, fmt.Errorf("target file %s: coordinates out of range", path)
	}
	return *tf.Target, tf.GroundAltitudeAMSL, nil
}

// ResolveTarget returns the inline target or, failing that, the one in the
// target file.
func (m MissionConfig) ResolveTarget() (Waypoint, error) {
	if m.Target != nil {
		if !m.Target.Point().Valid() {
			return Waypoint{}, fmt.Errorf("mission target out of range")
		}
		return *m.Target, nil
	}
	if m.TargetFile == "" {
		return Waypoint{}, fmt.Errorf("mission has neither target nor target_file")
	}
	wp, _, err := LoadTarget(m.TargetFile)
	return wp, err
}
