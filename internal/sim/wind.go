package sim

import (
	"math"
	"math/rand"
)

// Wind is a steady drift plus random gusts, in m/s.
type Wind struct {
	FromDeg  float64 `yaml:"from_deg"`
	SpeedMPS float64 `yaml:"speed_mps"`
	GustMPS  float64 `yaml:"gust_mps"`
}

// sample returns the north and east drift for one step. The gust heading is
// drawn uniformly like a random walk; its magnitude is up to GustMPS.
func (w Wind) sample(rng *rand.Rand) (north, east float64) {
	// wind blows from FromDeg, so the drift points the opposite way
	to := (w.FromDeg + 180) * math.Pi / 180
	north = w.SpeedMPS * math.Cos(to)
	east = w.SpeedMPS * math.Sin(to)
	if w.GustMPS > 0 {
		heading := rng.Float64() * 2 * math.Pi
		gust := rng.Float64() * w.GustMPS
		north += gust * math.Cos(heading)
		east += gust * math.Sin(heading)
	}
	return north, east
}

// Calm reports whether the wind adds no drift.
func (w Wind) Calm() bool {
	return w.SpeedMPS == 0 && w.GustMPS == 0
}
