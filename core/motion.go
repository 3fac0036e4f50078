package core

import (
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// propagator produces an ECEF position (km) for a given time.
type propagator interface {
	propagate(t time.Time) (Vec3, error)
}

// sgp4Propagator wraps a go-satellite model for a single element set.
type sgp4Propagator struct {
	sat satellite.Satellite
}

func newSGP4Propagator(line1, line2 string) (*sgp4Propagator, error) {
	if err := validateTLELines(line1, line2); err != nil {
		return nil, err
	}
	sat := satellite.TLEToSat(strings.TrimSpace(line1), strings.TrimSpace(line2), satellite.GravityWGS72)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed: code=%d %s", sat.Error, sat.ErrorStr)
	}
	return &sgp4Propagator{sat: sat}, nil
}

// propagate runs SGP4 to t and rotates the TEME position into ECEF.
// go-satellite takes whole seconds, so t is truncated to the second.
func (p *sgp4Propagator) propagate(t time.Time) (Vec3, error) {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	posECI, _ := satellite.Propagate(p.sat, year, int(month), day, hour, min, sec)
	if math.IsNaN(posECI.X) || math.IsNaN(posECI.Y) || math.IsNaN(posECI.Z) ||
		math.IsInf(posECI.X, 0) || math.IsInf(posECI.Y, 0) || math.IsInf(posECI.Z, 0) {
		return Vec3{}, fmt.Errorf("sgp4 propagation produced NaN/Inf at %s", t.Format(time.RFC3339))
	}
	gmst := satellite.GSTimeFromDate(year, int(month), day, hour, min, sec)
	posECEF := satellite.ECIToECEF(posECI, gmst)

	return Vec3{X: posECEF.X, Y: posECEF.Y, Z: posECEF.Z}, nil
}

// validateTLELines rejects malformed element lines before they reach
// go-satellite, which calls log.Fatal on parse errors.
func validateTLELines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if !strings.HasPrefix(line1, "1 ") {
		return fmt.Errorf("line1 must start with '1 '")
	}
	if !strings.HasPrefix(line2, "2 ") {
		return fmt.Errorf("line2 must start with '2 '")
	}
	if line1[2:7] != line2[2:7] {
		return fmt.Errorf("catalog number mismatch: %q vs %q", line1[2:7], line2[2:7])
	}
	return nil
}
