package control

// VerticalPolicy picks the downward speed for the current altitude. Positive
// values descend.
type VerticalPolicy interface {
	DownMPS(altM float64) float64
}

// VerticalFunc adapts a function to VerticalPolicy.
type VerticalFunc func(altM float64) float64

func (f VerticalFunc) DownMPS(altM float64) float64 { return f(altM) }

// HoldAltitude commands no vertical motion.
type HoldAltitude struct{}

func (HoldAltitude) DownMPS(float64) float64 { return 0 }

// DescendTo moves towards TargetM at RateMPS and stops inside DeadbandM.
type DescendTo struct {
	TargetM   float64
	RateMPS   float64
	DeadbandM float64
}

func (d DescendTo) DownMPS(altM float64) float64 {
	switch {
	case altM > d.TargetM+d.DeadbandM:
		return d.RateMPS
	case altM < d.TargetM-d.DeadbandM:
		return -d.RateMPS
	default:
		return 0
	}
}

// AltitudeWindow keeps the vehicle between MinM and MaxM, correcting at
// CorrectionMPS outside it and drifting at IdleMPS inside it.
type AltitudeWindow struct {
	MinM          float64
	MaxM          float64
	CorrectionMPS float64
	IdleMPS       float64
}

func (w AltitudeWindow) DownMPS(altM float64) float64 {
	switch {
	case altM >= w.MaxM:
		return w.CorrectionMPS
	case altM <= w.MinM:
		return -w.CorrectionMPS
	default:
		return w.IdleMPS
	}
}
