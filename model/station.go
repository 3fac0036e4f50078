package model

import "fmt"

// StationAltitudeM is the fixed antenna altitude above the ellipsoid.
const StationAltitudeM = 10.0

// Station describes the ground station location in geodetic degrees.
type Station struct {
	Name      string
	Latitude  float64
	Longitude float64
}

// DefaultStation returns the station used when nothing is configured.
func DefaultStation() Station {
	return Station{
		Name:      "ISU GS",
		Latitude:  48.5833,
		Longitude: 7.75,
	}
}

// Validate checks the coordinates are geodetically meaningful.
func (s Station) Validate() error {
	if s.Latitude < -90 || s.Latitude > 90 {
		return fmt.Errorf("station latitude %.4f out of range", s.Latitude)
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		return fmt.Errorf("station longitude %.4f out of range", s.Longitude)
	}
	return nil
}
