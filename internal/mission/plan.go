// Package mission sequences a flight: connect, configure, fly the plan's legs
// and hand over to the precision descent.
package mission

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"precision-land/internal/control"
	"precision-land/internal/geo"
)

// Plan is the ordered list of legs flown before the landing.
type Plan struct {
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
	Legs        []Leg  `yaml:"legs"`
}

// Leg is one goto waypoint. Without coordinates it is placed NorthM/EastM
// metres from the landing target. A zero altitude means the target altitude.
type Leg struct {
	Name      string  `yaml:"name,omitempty"`
	Lat       float64 `yaml:"latitude,omitempty"`
	Lon       float64 `yaml:"longitude,omitempty"`
	NorthM    float64 `yaml:"north_m,omitempty"`
	EastM     float64 `yaml:"east_m,omitempty"`
	AltM      float64 `yaml:"altitude,omitempty"`
	Precision string  `yaml:"precision,omitempty"`
}

// Absolute reports whether the leg carries its own coordinates.
func (l Leg) Absolute() bool { return l.Lat != 0 || l.Lon != 0 }

// Resolve returns the leg's position and altitude for a given target.
func (l Leg) Resolve(target geo.Point, targetAltM float64) (geo.Point, float64) {
	alt := l.AltM
	if alt == 0 {
		alt = targetAltM
	}
	if l.Absolute() {
		return geo.Point{Lat: l.Lat, Lon: l.Lon}, alt
	}
	dist := math.Hypot(l.NorthM, l.EastM)
	if dist == 0 {
		return target, alt
	}
	bearing := geo.Degrees(math.Atan2(l.EastM, l.NorthM))
	return geo.DestinationPoint(target, bearing, dist/1000), alt
}

// Validate checks coordinates and precision names.
func (p Plan) Validate() error {
	for i, l := range p.Legs {
		if l.Absolute() && !(geo.Point{Lat: l.Lat, Lon: l.Lon}).Valid() {
			return fmt.Errorf("leg %d: coordinates out of range", i)
		}
		if l.AltM < 0 {
			return fmt.Errorf("leg %d: negative altitude", i)
		}
		if _, err := control.ParsePrecision(l.Precision); err != nil {
			return fmt.Errorf("leg %d: %w", i, err)
		}
	}
	return nil
}

// precisionFor picks the acceptance profile of leg i: the explicit one, else
// fast for intermediate legs and precise for the last.
func (p Plan) precisionFor(i int) control.Precision {
	if name := p.Legs[i].Precision; name != "" {
		prec, _ := control.ParsePrecision(name)
		return prec
	}
	if i == len(p.Legs)-1 {
		return control.Precise
	}
	return control.Fast
}

// withFinalLeg makes sure the plan ends over the target.
func (p Plan) withFinalLeg() Plan {
	if n := len(p.Legs); n > 0 {
		last := p.Legs[n-1]
		if !last.Absolute() && last.NorthM == 0 && last.EastM == 0 {
			return p
		}
	}
	out := p
	out.Legs = append(append([]Leg(nil), p.Legs...), Leg{Name: "target"})
	return out
}

// LoadPlan reads a YAML plan definition from disk.
func LoadPlan(path string) (*Plan, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	var p Plan
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	return &p, nil
}

// BuiltIn returns the predefined plans.
func BuiltIn() map[string]Plan {
	return map[string]Plan{
		"direct": {
			Name:        "Direct",
			Description: "Fly straight over the target and land.",
			Legs:        []Leg{{Name: "target"}},
		},
		"offset": {
			Name:        "Offset approach",
			Description: "Stage 30 m north of the target before the final leg.",
			Legs: []Leg{
				{Name: "staging", NorthM: 30},
				{Name: "target"},
			},
		},
		"box": {
			Name:        "Box",
			Description: "Fly a 40 m box around the target, then land on it.",
			Legs: []Leg{
				{Name: "north-west", NorthM: 20, EastM: -20},
				{Name: "north-east", NorthM: 20, EastM: 20},
				{Name: "south-east", NorthM: -20, EastM: 20},
				{Name: "south-west", NorthM: -20, EastM: -20},
				{Name: "target"},
			},
		},
	}
}

// SelectPlan loads path when set, else looks up the built-in name. Both empty
// selects the direct plan.
func SelectPlan(name, path string) (Plan, error) {
	if path != "" {
		p, err := LoadPlan(path)
		if err != nil {
			return Plan{}, err
		}
		return *p, nil
	}
	if name == "" {
		name = "direct"
	}
	p, ok := BuiltIn()[name]
	if !ok {
		return Plan{}, fmt.Errorf("unknown plan %q", name)
	}
	return p, nil
}
