package core

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

const (
	defaultCoarseStep = 30 * time.Second
	defaultEventSpan  = 48 * time.Hour
	culminationStep   = 10 * time.Second
)

// SGP4Engine implements Engine on top of go-satellite. Rise and set times are
// found by a coarse elevation scan followed by bisection to one second.
type SGP4Engine struct {
	// CoarseStep is the scan interval used to bracket horizon crossings.
	CoarseStep time.Duration
	// EventSpan bounds each AOS/LOS search.
	EventSpan time.Duration

	live atomic.Int64
}

// NewSGP4Engine returns an engine with default search parameters.
func NewSGP4Engine() *SGP4Engine {
	return &SGP4Engine{
		CoarseStep: defaultCoarseStep,
		EventSpan:  defaultEventSpan,
	}
}

// Live returns the number of handles not yet released.
func (e *SGP4Engine) Live() int64 { return e.live.Load() }

// ParseElements validates and initialises an SGP4 model.
func (e *SGP4Engine) ParseElements(line1, line2 string) (*Elements, error) {
	prop, err := newSGP4Propagator(line1, line2)
	if err != nil {
		return nil, fmt.Errorf("%w: parse elements: %v", ErrEngine, err)
	}
	e.live.Add(1)
	return &Elements{Line1: line1, Line2: line2, prop: prop}, nil
}

// NewObserver creates an observer at the given geodetic position.
func (e *SGP4Engine) NewObserver(name string, latRad, lonRad, altM float64) (*Observer, error) {
	if math.IsNaN(latRad) || math.Abs(latRad) > math.Pi/2 {
		return nil, fmt.Errorf("%w: observer %q: latitude %f rad out of range", ErrEngine, name, latRad)
	}
	if math.IsNaN(lonRad) || math.Abs(lonRad) > math.Pi {
		return nil, fmt.Errorf("%w: observer %q: longitude %f rad out of range", ErrEngine, name, lonRad)
	}
	e.live.Add(1)
	return NewObserverAt(name, latRad, lonRad, altM), nil
}

// Release returns handles to the engine. Nil handles are ignored and double
// release is harmless.
func (e *SGP4Engine) Release(el *Elements, obs *Observer) {
	if el != nil && !el.released {
		el.released = true
		e.live.Add(-1)
	}
	if obs != nil && !obs.released {
		obs.released = true
		e.live.Add(-1)
	}
}

// Propagate computes the ECEF position at t and one second later.
func (e *SGP4Engine) Propagate(el *Elements, t time.Time) (Position, error) {
	if el == nil || el.prop == nil {
		return Position{}, fmt.Errorf("%w: elements not initialised", ErrEngine)
	}
	cur, err := el.prop.propagate(t)
	if err != nil {
		return Position{}, err
	}
	next, err := el.prop.propagate(t.Add(time.Second))
	if err != nil {
		return Position{}, err
	}
	return Position{Time: t, ECEF: cur, Next: next}, nil
}

// Observe computes look angles and range rate from obs.
func (e *SGP4Engine) Observe(obs *Observer, pos Position) Observation {
	az, el, rng := lookAngles(obs, pos.ECEF)
	_, _, rngNext := lookAngles(obs, pos.Next)
	return Observation{
		Time:      pos.Time,
		Azimuth:   az,
		Elevation: el,
		Range:     rng,
		RangeRate: rngNext - rng,
	}
}

// DopplerShift returns the frequency offset of the received carrier.
func (e *SGP4Engine) DopplerShift(o Observation, frequencyHz float64) float64 {
	return dopplerShift(o.RangeRate, frequencyHz)
}

// NextAOS implements Engine.
func (e *SGP4Engine) NextAOS(obs *Observer, el *Elements, start time.Time) (Observation, error) {
	elev, err := e.elevation(obs, el, start)
	if err != nil {
		return Observation{}, err
	}
	from := start
	if elev > 0 {
		if from, err = e.crossing(obs, el, start, false); err != nil {
			return Observation{}, err
		}
	}
	rise, err := e.crossing(obs, el, from, true)
	if err != nil {
		return Observation{}, err
	}
	return e.observeAt(obs, el, rise)
}

// NextLOS implements Engine.
func (e *SGP4Engine) NextLOS(obs *Observer, el *Elements, start time.Time) (Observation, error) {
	from, err := e.passStart(obs, el, start)
	if err != nil {
		return Observation{}, err
	}
	set, err := e.crossing(obs, el, from, false)
	if err != nil {
		return Observation{}, err
	}
	return e.observeAt(obs, el, set)
}

// MaxElevation implements Engine.
func (e *SGP4Engine) MaxElevation(obs *Observer, el *Elements, start time.Time) (Observation, error) {
	from, err := e.passStart(obs, el, start)
	if err != nil {
		return Observation{}, err
	}
	to, err := e.crossing(obs, el, from, false)
	if err != nil {
		return Observation{}, err
	}

	best, bestEl := from, math.Inf(-1)
	for t := from; !t.After(to); t = t.Add(culminationStep) {
		elev, err := e.elevation(obs, el, t)
		if err != nil {
			return Observation{}, err
		}
		if elev > bestEl {
			best, bestEl = t, elev
		}
	}

	// Ternary search around the coarse maximum.
	lo, hi := best.Add(-culminationStep), best.Add(culminationStep)
	for hi.Sub(lo) > 2*time.Second {
		third := hi.Sub(lo) / 3
		m1, m2 := lo.Add(third), hi.Add(-third)
		e1, err := e.elevation(obs, el, m1)
		if err != nil {
			return Observation{}, err
		}
		e2, err := e.elevation(obs, el, m2)
		if err != nil {
			return Observation{}, err
		}
		if e1 < e2 {
			lo = m1
		} else {
			hi = m2
		}
	}
	mid := lo.Add(hi.Sub(lo) / 2)
	if elev, err := e.elevation(obs, el, mid); err == nil && elev > bestEl {
		best = mid
	}
	return e.observeAt(obs, el, best)
}

// passStart returns start if the satellite is above the horizon, otherwise
// the next rise.
func (e *SGP4Engine) passStart(obs *Observer, el *Elements, start time.Time) (time.Time, error) {
	elev, err := e.elevation(obs, el, start)
	if err != nil {
		return time.Time{}, err
	}
	if elev > 0 {
		return start, nil
	}
	return e.crossing(obs, el, start, true)
}

// crossing scans forward from start for the first horizon crossing in the
// requested direction and bisects it to one second. For a rise it returns
// the first instant above the horizon; for a set the first instant at or
// below it.
func (e *SGP4Engine) crossing(obs *Observer, el *Elements, start time.Time, rising bool) (time.Time, error) {
	step := e.CoarseStep
	if step <= 0 {
		step = defaultCoarseStep
	}
	span := e.EventSpan
	if span <= 0 {
		span = defaultEventSpan
	}
	reached := func(elev float64) bool {
		if rising {
			return elev > 0
		}
		return elev <= 0
	}

	limit := start.Add(span)
	prev := start
	for t := start.Add(step); !t.After(limit); t = t.Add(step) {
		elev, err := e.elevation(obs, el, t)
		if err != nil {
			return time.Time{}, err
		}
		if !reached(elev) {
			prev = t
			continue
		}
		lo, hi := prev, t
		for hi.Sub(lo) > time.Second {
			mid := lo.Add(hi.Sub(lo) / 2).Truncate(time.Second)
			if !mid.After(lo) {
				break
			}
			me, err := e.elevation(obs, el, mid)
			if err != nil {
				return time.Time{}, err
			}
			if reached(me) {
				hi = mid
			} else {
				lo = mid
			}
		}
		return hi, nil
	}
	return time.Time{}, fmt.Errorf("%w: %s after %s", ErrNoPass, span, start.Format(time.RFC3339))
}

func (e *SGP4Engine) elevation(obs *Observer, el *Elements, t time.Time) (float64, error) {
	if el == nil || el.prop == nil || obs == nil {
		return 0, fmt.Errorf("%w: nil handle", ErrEngine)
	}
	pos, err := el.prop.propagate(t)
	if err != nil {
		return 0, err
	}
	_, elev, _ := lookAngles(obs, pos)
	return elev, nil
}

func (e *SGP4Engine) observeAt(obs *Observer, el *Elements, t time.Time) (Observation, error) {
	pos, err := e.Propagate(el, t)
	if err != nil {
		return Observation{}, err
	}
	return e.Observe(obs, pos), nil
}
