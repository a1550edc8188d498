package control

import (
	"errors"
	"fmt"
	"math"
)

// Action is what the descent controller does inside a band.
type Action int

const (
	// ActionRecenter re-centres over the target while descending to the
	// band's target altitude.
	ActionRecenter Action = iota
	// ActionHoldDescend holds position and sinks with a body velocity.
	ActionHoldDescend
	// ActionTerminate stops the vehicle and kills the motors.
	ActionTerminate
)

func (a Action) String() string {
	switch a {
	case ActionRecenter:
		return "recenter"
	case ActionHoldDescend:
		return "hold_descend"
	case ActionTerminate:
		return "terminate"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseAction is the inverse of Action.String.
func ParseAction(s string) (Action, error) {
	switch s {
	case "recenter":
		return ActionRecenter, nil
	case "hold_descend":
		return ActionHoldDescend, nil
	case "terminate":
		return ActionTerminate, nil
	}
	return 0, fmt.Errorf("unknown band action %q", s)
}

// Band is one altitude range of the descent. An altitude belongs to the band
// when LowerM < alt <= UpperM; the terminal band also takes everything at or
// below its upper bound.
type Band struct {
	LowerM         float64 `json:"lower_m"`
	UpperM         float64 `json:"upper_m"`
	MaxSpeedMPS    float64 `json:"max_speed_mps,omitempty"`
	DescentRateMPS float64 `json:"descent_rate_mps,omitempty"`
	TargetAltM     float64 `json:"target_alt_m,omitempty"`
	Action         Action  `json:"action"`
}

// BandTable is ordered from the highest band to the terminal band.
type BandTable []Band

// DefaultBands is the canonical landing profile.
func DefaultBands() BandTable {
	return BandTable{
		{LowerM: 10, UpperM: math.Inf(1), MaxSpeedMPS: 4.5, DescentRateMPS: 1.5, TargetAltM: 8.2, Action: ActionRecenter},
		{LowerM: 1, UpperM: 10, MaxSpeedMPS: 2.5, DescentRateMPS: 0.7, TargetAltM: 0.5, Action: ActionRecenter},
		{LowerM: 0.5, UpperM: 1, DescentRateMPS: 0.35, Action: ActionHoldDescend},
		{LowerM: 0.15, UpperM: 0.5, DescentRateMPS: 0.1, Action: ActionHoldDescend},
		{LowerM: 0, UpperM: 0.15, Action: ActionTerminate},
	}
}

// ErrInvalidBands wraps every band table validation failure.
var ErrInvalidBands = errors.New("invalid band table")

// Validate checks that the table partitions the altitude axis and keeps the
// landing shape: speeds never increase on the way down.
func (t BandTable) Validate() error {
	if len(t) < 2 {
		return fmt.Errorf("%w: need at least one flight band and a terminal band", ErrInvalidBands)
	}
	if !math.IsInf(t[0].UpperM, 1) {
		return fmt.Errorf("%w: top band must be unbounded", ErrInvalidBands)
	}
	last := len(t) - 1
	for i, b := range t {
		if b.LowerM >= b.UpperM {
			return fmt.Errorf("%w: band %d lower %.2f >= upper %.2f", ErrInvalidBands, i, b.LowerM, b.UpperM)
		}
		if i > 0 && t[i-1].LowerM != b.UpperM {
			return fmt.Errorf("%w: gap between band %d and %d", ErrInvalidBands, i-1, i)
		}
		if (b.Action == ActionTerminate) != (i == last) {
			return fmt.Errorf("%w: only the last band may terminate", ErrInvalidBands)
		}
		switch b.Action {
		case ActionRecenter:
			if b.MaxSpeedMPS <= 0 || b.DescentRateMPS <= 0 {
				return fmt.Errorf("%w: band %d needs a speed and a descent rate", ErrInvalidBands, i)
			}
			if b.TargetAltM >= b.LowerM {
				return fmt.Errorf("%w: band %d target %.2f must be below %.2f", ErrInvalidBands, i, b.TargetAltM, b.LowerM)
			}
		case ActionHoldDescend:
			if b.DescentRateMPS <= 0 {
				return fmt.Errorf("%w: band %d needs a descent rate", ErrInvalidBands, i)
			}
		}
		if i > 0 && b.Action != ActionTerminate {
			prev := t[i-1]
			if b.DescentRateMPS > prev.DescentRateMPS {
				return fmt.Errorf("%w: band %d descends faster than band %d", ErrInvalidBands, i, i-1)
			}
			if b.Action == ActionRecenter && b.MaxSpeedMPS > prev.MaxSpeedMPS {
				return fmt.Errorf("%w: band %d flies faster than band %d", ErrInvalidBands, i, i-1)
			}
		}
	}
	return nil
}

// Select returns the index of the band containing altM.
func (t BandTable) Select(altM float64) int {
	for i, b := range t {
		if altM > b.LowerM {
			return i
		}
	}
	return len(t) - 1
}
