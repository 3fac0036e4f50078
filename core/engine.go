package core

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrEngine wraps element-parse and observer-creation failures.
	ErrEngine = errors.New("astrodynamics engine error")
	// ErrNoPass is returned when an event search runs past its bound.
	ErrNoPass = errors.New("no pass found within search span")
)

// SpeedOfLight in metres per second.
const SpeedOfLight = 299792458.0

// unixEpochJulian is the Julian date of 1970-01-01T00:00:00Z.
const unixEpochJulian = 2440587.5

// Engine is the astrodynamics contract consumed by the pass predictor and
// the tracker. All angles cross this boundary in radians.
//
// Handles returned by ParseElements and NewObserver are scoped: callers must
// hand them back to Release once done.
type Engine interface {
	ParseElements(line1, line2 string) (*Elements, error)
	NewObserver(name string, latRad, lonRad, altM float64) (*Observer, error)
	Propagate(el *Elements, t time.Time) (Position, error)
	Observe(obs *Observer, pos Position) Observation
	DopplerShift(o Observation, frequencyHz float64) float64

	// NextAOS returns the first rise strictly after start. If start falls
	// inside a pass, the rise of the following pass is returned.
	NextAOS(obs *Observer, el *Elements, start time.Time) (Observation, error)
	// NextLOS returns the set of the pass containing start, or of the next
	// pass if the satellite is below the horizon at start.
	NextLOS(obs *Observer, el *Elements, start time.Time) (Observation, error)
	// MaxElevation returns the culmination of the pass containing start, or
	// of the next pass.
	MaxElevation(obs *Observer, el *Elements, start time.Time) (Observation, error)

	Release(el *Elements, obs *Observer)
}

// Elements is a parsed two-line element set.
type Elements struct {
	Line1 string
	Line2 string

	prop     propagator
	released bool
}

// Released reports whether the handle has been returned to its engine.
func (e *Elements) Released() bool { return e != nil && e.released }

// MeanMotion returns revolutions per day from line 2, or 0 if unparsable.
func (e *Elements) MeanMotion() float64 {
	if e == nil {
		return 0
	}
	line := strings.TrimSpace(e.Line2)
	if len(line) < 63 {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(line[52:63]), 64)
	if err != nil || v <= 0 {
		return 0
	}
	return v
}

// Period returns the orbital period, or 0 if the mean motion is unknown.
func (e *Elements) Period() time.Duration {
	mm := e.MeanMotion()
	if mm == 0 {
		return 0
	}
	return time.Duration(float64(24*time.Hour) / mm)
}

// Observer is a ground observer in geodetic radians and metres.
type Observer struct {
	Name      string
	Latitude  float64
	Longitude float64
	Altitude  float64

	ecef     Vec3 // km
	released bool
}

// NewObserverAt builds an observer handle without validation. Engines use it
// after checking the coordinates.
func NewObserverAt(name string, latRad, lonRad, altM float64) *Observer {
	return &Observer{
		Name:      name,
		Latitude:  latRad,
		Longitude: lonRad,
		Altitude:  altM,
		ecef:      GeodeticToECEF(latRad, lonRad, altM),
	}
}

// Released reports whether the handle has been returned to its engine.
func (o *Observer) Released() bool { return o != nil && o.released }

// Position is a propagated satellite state in ECEF kilometres. Next holds
// the position one second later and is used for range rate.
type Position struct {
	Time time.Time
	ECEF Vec3
	Next Vec3
}

// Observation is a satellite as seen from an observer.
type Observation struct {
	Time      time.Time
	Azimuth   float64 // rad, 0 = north, clockwise
	Elevation float64 // rad
	Range     float64 // km
	RangeRate float64 // km/s, positive when receding
}

// RadToDeg converts radians to degrees.
func RadToDeg(rad float64) float64 { return rad * 180 / math.Pi }

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 { return deg * math.Pi / 180 }

// JulianDate converts t to a Julian date.
func JulianDate(t time.Time) float64 {
	return float64(t.UnixNano())/float64(24*time.Hour) + unixEpochJulian
}

// TimeFromJulian converts a Julian date to UTC, rounded to the millisecond.
func TimeFromJulian(jd float64) time.Time {
	ms := math.Round((jd - unixEpochJulian) * 86400000)
	return time.UnixMilli(int64(ms)).UTC()
}

// dopplerShift returns the received-frequency offset for a carrier at
// frequencyHz given the range rate in km/s.
func dopplerShift(rangeRateKmS, frequencyHz float64) float64 {
	return -frequencyHz * rangeRateKmS * 1000 / SpeedOfLight
}
