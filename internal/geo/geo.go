// Package geo holds the spherical Earth model used by the landing controller.
// Every trigonometric and Earth constant in the module lives here.
package geo

import (
	"errors"
	"math"

	"golang.org/x/exp/constraints"
)

// EarthRadiusKM is the mean Earth radius of the spherical model.
const EarthRadiusKM = 6371.0

const (
	degToRad = math.Pi / 180
	radToDeg = 180 / math.Pi
)

// ErrCoincidentPoints is returned when a bearing is requested between two
// identical points.
var ErrCoincidentPoints = errors.New("geo: coincident points have no bearing")

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"lat" yaml:"latitude"`
	Lon float64 `json:"lon" yaml:"longitude"`
}

// Valid reports whether the point lies inside the latitude and longitude ranges.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// Radians converts degrees to radians.
func Radians[T constraints.Float](deg T) T {
	return deg * T(degToRad)
}

// Degrees converts radians to degrees.
func Degrees[T constraints.Float](rad T) T {
	return rad * T(radToDeg)
}

// Round rounds v to the given number of decimal places.
func Round[T constraints.Float](v T, places int) T {
	pow := math.Pow(10, float64(places))
	return T(math.Round(float64(v)*pow) / pow)
}

// Distance returns the haversine great-circle distance between a and b in km.
func Distance(a, b Point) float64 {
	if a == b {
		return 0
	}
	lat1, lat2 := Radians(a.Lat), Radians(b.Lat)
	dLat := lat2 - lat1
	dLon := Radians(b.Lon - a.Lon)
	// The terms are ordered so that swapping a and b yields identical bits.
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusKM * math.Asin(math.Sqrt(h))
}

// InitialBearing returns the forward azimuth from a facing b in degrees,
// normalised to [0, 360). 0 is true north, clockwise positive.
func InitialBearing(a, b Point) (float64, error) {
	if a == b {
		return 0, ErrCoincidentPoints
	}
	lat1, lat2 := Radians(a.Lat), Radians(b.Lat)
	dLon := Radians(b.Lon - a.Lon)
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return normalizeBearing(Degrees(math.Atan2(y, x))), nil
}

// DestinationPoint projects origin along bearingDeg for distKM on the sphere.
func DestinationPoint(origin Point, bearingDeg, distKM float64) Point {
	if distKM == 0 {
		return origin
	}
	delta := distKM / EarthRadiusKM
	theta := Radians(bearingDeg)
	lat1 := Radians(origin.Lat)
	lon1 := Radians(origin.Lon)

	sinLat2 := math.Sin(lat1)*math.Cos(delta) + math.Cos(lat1)*math.Sin(delta)*math.Cos(theta)
	lat2 := math.Asin(sinLat2)
	lon2 := lon1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(lat1),
		math.Cos(delta)-math.Sin(lat1)*sinLat2,
	)
	return Point{Lat: Degrees(lat2), Lon: normalizeLon(Degrees(lon2))}
}

// Offset is the local tangent-plane displacement between two points.
type Offset struct {
	EastM      float64
	NorthM     float64
	BearingDeg float64
	DistanceKM float64
}

// Zero reports whether the two points were coincident.
func (o Offset) Zero() bool { return o.EastM == 0 && o.NorthM == 0 }

// HorizontalM returns the planar length of the offset in metres.
func (o Offset) HorizontalM() float64 { return math.Hypot(o.EastM, o.NorthM) }

// OffsetNED decomposes the displacement from -> to into east and north metres.
// Coincident points yield the zero offset rather than an error.
func OffsetNED(from, to Point) Offset {
	dist := Distance(from, to)
	bearing, err := InitialBearing(from, to)
	if err != nil || dist == 0 {
		return Offset{}
	}
	rad := Radians(bearing)
	return Offset{
		EastM:      dist * math.Sin(rad) * 1000,
		NorthM:     dist * math.Cos(rad) * 1000,
		BearingDeg: bearing,
		DistanceKM: dist,
	}
}

func normalizeBearing(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}

func normalizeLon(deg float64) float64 {
	deg = math.Mod(deg+540, 360) - 180
	if deg == -180 {
		return 180
	}
	return deg
}
