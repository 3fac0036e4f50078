package core

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// FakePass is a scripted visibility window. Angles are in degrees for
// readability; the fake converts to radians at the Engine boundary.
type FakePass struct {
	AOS          time.Time
	LOS          time.Time
	AOSAzimuth   float64
	LOSAzimuth   float64
	MaxElevation float64
}

// FakeEngine is a test-only Engine that serves scripted passes keyed by
// element line 1. It lets predictor and tracker tests control pass geometry
// exactly without running SGP4.
type FakeEngine struct {
	mu sync.Mutex

	passes map[string][]FakePass
	live   int

	// ParseErr and ObserverErr, when set, are returned by ParseElements and
	// NewObserver.
	ParseErr    error
	ObserverErr error

	// Look returns the azimuth/elevation in degrees reported by Observe for
	// the most recently propagated element set.
	Look func(line1 string, t time.Time) (azDeg, elDeg float64)
	// RangeRate is reported by every observation, in km/s.
	RangeRate float64

	lastLine1 string
	aosStarts []time.Time
}

// NewFakeEngine returns an engine with no scripted passes.
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{passes: make(map[string][]FakePass)}
}

// SetPasses scripts the windows returned for an element set.
func (f *FakeEngine) SetPasses(line1 string, passes ...FakePass) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sorted := append([]FakePass(nil), passes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AOS.Before(sorted[j].AOS) })
	f.passes[line1] = sorted
}

// Live returns the number of handles not yet released.
func (f *FakeEngine) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

// AOSSearchStarts returns the start times passed to NextAOS, in call order.
func (f *FakeEngine) AOSSearchStarts() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time(nil), f.aosStarts...)
}

func (f *FakeEngine) ParseElements(line1, line2 string) (*Elements, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ParseErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngine, f.ParseErr)
	}
	f.live++
	return &Elements{Line1: line1, Line2: line2}, nil
}

func (f *FakeEngine) NewObserver(name string, latRad, lonRad, altM float64) (*Observer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ObserverErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngine, f.ObserverErr)
	}
	f.live++
	return NewObserverAt(name, latRad, lonRad, altM), nil
}

func (f *FakeEngine) Release(el *Elements, obs *Observer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if el != nil && !el.released {
		el.released = true
		f.live--
	}
	if obs != nil && !obs.released {
		obs.released = true
		f.live--
	}
}

func (f *FakeEngine) Propagate(el *Elements, t time.Time) (Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if el == nil {
		return Position{}, fmt.Errorf("%w: nil elements", ErrEngine)
	}
	f.lastLine1 = el.Line1
	return Position{Time: t}, nil
}

func (f *FakeEngine) Observe(obs *Observer, pos Position) Observation {
	f.mu.Lock()
	look, line1, rate := f.Look, f.lastLine1, f.RangeRate
	f.mu.Unlock()

	o := Observation{Time: pos.Time, RangeRate: rate}
	if look != nil {
		az, el := look(line1, pos.Time)
		o.Azimuth, o.Elevation = DegToRad(az), DegToRad(el)
	}
	return o
}

func (f *FakeEngine) DopplerShift(o Observation, frequencyHz float64) float64 {
	return dopplerShift(o.RangeRate, frequencyHz)
}

func (f *FakeEngine) NextAOS(obs *Observer, el *Elements, start time.Time) (Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aosStarts = append(f.aosStarts, start)
	for _, p := range f.passes[el.Line1] {
		if p.AOS.After(start) {
			return Observation{Time: p.AOS, Azimuth: DegToRad(p.AOSAzimuth)}, nil
		}
	}
	return Observation{}, fmt.Errorf("%w: no scripted rise after %s", ErrNoPass, start.Format(time.RFC3339))
}

func (f *FakeEngine) NextLOS(obs *Observer, el *Elements, start time.Time) (Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.passAtOrAfterLocked(el.Line1, start)
	if !ok {
		return Observation{}, fmt.Errorf("%w: no scripted set after %s", ErrNoPass, start.Format(time.RFC3339))
	}
	return Observation{Time: p.LOS, Azimuth: DegToRad(p.LOSAzimuth)}, nil
}

func (f *FakeEngine) MaxElevation(obs *Observer, el *Elements, start time.Time) (Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.passAtOrAfterLocked(el.Line1, start)
	if !ok {
		return Observation{}, fmt.Errorf("%w: no scripted pass after %s", ErrNoPass, start.Format(time.RFC3339))
	}
	mid := p.AOS.Add(p.LOS.Sub(p.AOS) / 2)
	return Observation{Time: mid, Elevation: DegToRad(p.MaxElevation)}, nil
}

// passAtOrAfterLocked returns the pass containing start, or the next one.
func (f *FakeEngine) passAtOrAfterLocked(line1 string, start time.Time) (FakePass, bool) {
	for _, p := range f.passes[line1] {
		if !start.Before(p.AOS) && start.Before(p.LOS) {
			return p, true
		}
		if p.AOS.After(start) {
			return p, true
		}
	}
	return FakePass{}, false
}
