package model

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// MaxNameLen bounds satellite names; longer names can never match a catalog
// record.
const MaxNameLen = 24

// Modulation identifies the downlink modulation of a satellite.
type Modulation int

const (
	ModulationFM Modulation = iota
	ModulationAFSK
)

func (m Modulation) String() string {
	switch m {
	case ModulationFM:
		return "FM"
	case ModulationAFSK:
		return "AFSK"
	default:
		return fmt.Sprintf("Modulation(%d)", int(m))
	}
}

// MarshalText encodes the modulation as "FM" or "AFSK".
func (m Modulation) MarshalText() ([]byte, error) {
	switch m {
	case ModulationFM, ModulationAFSK:
		return []byte(m.String()), nil
	default:
		return nil, fmt.Errorf("unknown modulation %d", int(m))
	}
}

// UnmarshalText accepts "FM" or "AFSK" (case-insensitive).
func (m *Modulation) UnmarshalText(text []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(text))) {
	case "FM", "":
		*m = ModulationFM
	case "AFSK":
		*m = ModulationAFSK
	default:
		return fmt.Errorf("unknown modulation %q", string(text))
	}
	return nil
}

// Schedule is the computed next pass of a satellite. Azimuths are in degrees
// and already reversed when ZeroTransition is set.
type Schedule struct {
	NextAOS        time.Time
	NextLOS        time.Time
	AOSAzimuth     float64
	LOSAzimuth     float64
	ZeroTransition bool
}

// IsZero reports whether no pass has been scheduled.
func (s Schedule) IsZero() bool {
	return s.NextAOS.IsZero() && s.NextLOS.IsZero()
}

// Equal reports whether both schedules describe the same window.
func (s Schedule) Equal(o Schedule) bool {
	return s.NextAOS.Equal(o.NextAOS) && s.NextLOS.Equal(o.NextLOS) &&
		s.AOSAzimuth == o.AOSAzimuth && s.LOSAzimuth == o.LOSAzimuth &&
		s.ZeroTransition == o.ZeroTransition
}

// Overlaps reports whether the half-open windows [AOS, LOS) of s and o
// intersect. Unscheduled windows never overlap.
func (s Schedule) Overlaps(o Schedule) bool {
	if s.IsZero() || o.IsZero() {
		return false
	}
	return s.NextAOS.Before(o.NextLOS) && o.NextAOS.Before(s.NextLOS)
}

// Satellite is one catalog entry tracked by the station: identity, element
// set, static radio config and the computed schedule.
//
// Static fields are set before the satellite joins a session and are not
// mutated afterwards. The schedule, parked and tracking state are shared
// between the tracker goroutine and the setup path and go through the
// accessor methods.
type Satellite struct {
	Name         string     `json:"name"`
	MinElevation float64    `json:"min_elevation"`
	Frequency    int        `json:"frequency"`
	Bandwidth    int        `json:"bandwidth"`
	Modulation   Modulation `json:"modulation"`
	Priority     int        `json:"priority"`

	mu       sync.RWMutex
	line1    string
	line2    string
	schedule Schedule
	parked   bool
	tracking bool
}

// Validate checks the static configuration.
func (s *Satellite) Validate() error {
	if s == nil {
		return fmt.Errorf("satellite is nil")
	}
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return fmt.Errorf("satellite name is required")
	}
	if len(name) > MaxNameLen {
		return fmt.Errorf("satellite name %q exceeds %d characters", name, MaxNameLen)
	}
	if s.MinElevation < 0 || s.MinElevation >= 90 {
		return fmt.Errorf("satellite %q: min elevation %.2f out of range [0, 90)", name, s.MinElevation)
	}
	if s.Frequency < 0 {
		return fmt.Errorf("satellite %q: negative frequency %d", name, s.Frequency)
	}
	if s.Bandwidth < 0 {
		return fmt.Errorf("satellite %q: negative bandwidth %d", name, s.Bandwidth)
	}
	return nil
}

// Elements returns the two element lines.
func (s *Satellite) Elements() (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.line1, s.line2
}

// SetElements stores the two element lines.
func (s *Satellite) SetElements(line1, line2 string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.line1 = line1
	s.line2 = line2
}

// Schedule returns a copy of the computed schedule.
func (s *Satellite) Schedule() Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schedule
}

// SetSchedule replaces the computed schedule. Committing a different window
// clears the parked flag so the antenna is parked again for the new pass.
func (s *Satellite) SetSchedule(sch Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.schedule.Equal(sch) {
		s.parked = false
	}
	s.schedule = sch
}

// Parked reports whether the antenna has been pre-positioned for the
// scheduled pass.
func (s *Satellite) Parked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.parked
}

func (s *Satellite) SetParked(parked bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parked = parked
}

// Tracking reports whether the satellite is the active tracker target.
// Predictions never displace a satellite while it is being tracked.
func (s *Satellite) Tracking() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tracking
}

func (s *Satellite) SetTracking(tracking bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracking = tracking
}
