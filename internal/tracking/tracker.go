// Package tracking runs the station's tracking loop: it parks the antenna
// ahead of each scheduled pass, follows the satellite from AOS to LOS and
// hands the satellite back to the predictor once the pass is over.
package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/groundstation/core"
	"github.com/signalsfoundry/groundstation/internal/logging"
	"github.com/signalsfoundry/groundstation/internal/passes"
	"github.com/signalsfoundry/groundstation/kb"
	"github.com/signalsfoundry/groundstation/model"
	"github.com/signalsfoundry/groundstation/timectrl"
)

// State is the tracker's loop state.
type State int

const (
	StateIdle State = iota
	StateTracking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateTracking:
		return "TRACKING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Pointer moves the antenna. Point blocks until the rotator confirms the
// position or fails.
type Pointer interface {
	Point(ctx context.Context, az, el float64) error
}

// Rescheduler computes the next pass of a satellite whose pass just ended.
type Rescheduler interface {
	Reschedule(ctx context.Context, sat *model.Satellite) error
}

// RescheduleFunc adapts a function to Rescheduler.
type RescheduleFunc func(ctx context.Context, sat *model.Satellite) error

func (f RescheduleFunc) Reschedule(ctx context.Context, sat *model.Satellite) error {
	return f(ctx, sat)
}

// Recorder receives tracker metrics. The scheduler collector in
// internal/observability implements it.
type Recorder interface {
	SetTrackerState(tracking bool)
	IncPassesTracked()
	SetDoppler(satellite string, hz float64)
	SetPointing(az, el float64)
	IncPointingErrors(phase string)
}

// Config holds the loop timing.
type Config struct {
	// ParkLead is how long before AOS the antenna is pre-positioned.
	ParkLead      time.Duration
	IdleInterval  time.Duration
	TrackInterval time.Duration
}

// DefaultConfig returns the standard loop timing.
func DefaultConfig() Config {
	return Config{
		ParkLead:      120 * time.Second,
		IdleInterval:  time.Second,
		TrackInterval: 100 * time.Millisecond,
	}
}

// Option customises Tracker construction.
type Option func(*Tracker)

// WithConfig overrides the loop timing. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(t *Tracker) {
		if cfg.ParkLead > 0 {
			t.cfg.ParkLead = cfg.ParkLead
		}
		if cfg.IdleInterval > 0 {
			t.cfg.IdleInterval = cfg.IdleInterval
		}
		if cfg.TrackInterval > 0 {
			t.cfg.TrackInterval = cfg.TrackInterval
		}
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m Recorder) Option {
	return func(t *Tracker) {
		t.metrics = m
	}
}

// Tracker is the per-session tracking loop. Exactly one goroutine runs Run;
// Active and State may be called from anywhere.
type Tracker struct {
	engine  core.Engine
	station model.Station
	sats    *kb.KnowledgeBase
	clock   timectrl.SimClock
	pointer Pointer
	resched Rescheduler
	log     logging.Logger
	metrics Recorder
	cfg     Config

	mu     sync.RWMutex
	active *model.Satellite
	pass   model.Schedule
	el     *core.Elements
	obs    *core.Observer
}

// NewTracker wires a tracker to its session's collaborators.
func NewTracker(engine core.Engine, station model.Station, sats *kb.KnowledgeBase, clock timectrl.SimClock, pointer Pointer, resched Rescheduler, log logging.Logger, opts ...Option) (*Tracker, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is nil")
	}
	if sats == nil {
		return nil, fmt.Errorf("satellite set is nil")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is nil")
	}
	if pointer == nil {
		return nil, fmt.Errorf("pointer is nil")
	}
	if resched == nil {
		return nil, fmt.Errorf("rescheduler is nil")
	}
	if log == nil {
		log = logging.Noop()
	}
	t := &Tracker{
		engine:  engine,
		station: station,
		sats:    sats,
		clock:   clock,
		pointer: pointer,
		resched: resched,
		log:     log,
		cfg:     DefaultConfig(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t, nil
}

// Active returns the satellite being tracked, or nil while idle.
func (t *Tracker) Active() *model.Satellite {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.active
}

// State reports IDLE or TRACKING.
func (t *Tracker) State() State {
	if t.Active() != nil {
		return StateTracking
	}
	return StateIdle
}

// Run ticks until ctx is cancelled. A pointing command in flight when ctx
// is cancelled completes before Run returns.
func (t *Tracker) Run(ctx context.Context) {
	t.log.Info(ctx, "tracker started",
		logging.Duration("park_lead", t.cfg.ParkLead),
		logging.Duration("idle_interval", t.cfg.IdleInterval),
		logging.Duration("track_interval", t.cfg.TrackInterval),
	)
	defer func() {
		t.stop(ctx)
		t.log.Info(ctx, "tracker stopped")
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		delay := t.Step(ctx)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Step runs one tick and returns the delay before the next one.
func (t *Tracker) Step(ctx context.Context) time.Duration {
	t.mu.RLock()
	active := t.active
	t.mu.RUnlock()

	if active == nil {
		t.idleTick(ctx)
	} else {
		t.trackTick(ctx, active)
	}
	if t.State() == StateTracking {
		return t.cfg.TrackInterval
	}
	return t.cfg.IdleInterval
}

// idleTick activates at most one entry whose window contains now: the one
// with the highest priority, ties going to the entry that joined the set
// first. With nothing due, entries whose LOS has passed unseen are
// rescheduled and the antenna is parked at the AOS azimuth of any pass
// starting within ParkLead.
func (t *Tracker) idleTick(ctx context.Context) {
	now := t.clock.Now()
	sats := t.sats.ListSatellites()

	var due *model.Satellite
	var missed []*model.Satellite
	for _, sat := range sats {
		sch := sat.Schedule()
		if sch.IsZero() || now.Before(sch.NextAOS) {
			continue
		}
		if !now.Before(sch.NextLOS) {
			missed = append(missed, sat)
			continue
		}
		if due == nil || sat.Priority > due.Priority {
			due = sat
		}
	}
	if due != nil {
		t.activate(ctx, due)
		return
	}

	for _, sat := range missed {
		t.log.Warn(ctx, "pass ended before tracking started, rescheduling",
			logging.Satellite(sat.Name),
			logging.Time("los", sat.Schedule().NextLOS),
		)
		sat.SetParked(false)
		t.reschedule(ctx, sat)
	}

	for _, sat := range sats {
		sch := sat.Schedule()
		if sch.IsZero() || sat.Parked() || !now.Before(sch.NextAOS) {
			continue
		}
		if sch.NextAOS.Sub(now) > t.cfg.ParkLead {
			continue
		}
		if err := t.park(ctx, sat, sch); err == nil {
			sat.SetParked(true)
		}
	}
}

func (t *Tracker) park(ctx context.Context, sat *model.Satellite, sch model.Schedule) error {
	az, el := sch.AOSAzimuth, 0.0
	if sch.ZeroTransition {
		el = 180
	}
	t.log.Info(ctx, "parking antenna",
		logging.Satellite(sat.Name),
		logging.Float("azimuth", az),
		logging.Float("elevation", el),
		logging.Time("aos", sch.NextAOS),
	)
	if err := t.point(ctx, az, el); err != nil {
		t.log.Warn(ctx, "park command failed",
			logging.Satellite(sat.Name),
			logging.Err(err),
		)
		if t.metrics != nil {
			t.metrics.IncPointingErrors("park")
		}
		return err
	}
	return nil
}

func (t *Tracker) activate(ctx context.Context, sat *model.Satellite) {
	sch := sat.Schedule()
	if !sat.Parked() {
		if err := t.park(ctx, sat, sch); err == nil {
			sat.SetParked(true)
		}
	}

	line1, line2 := sat.Elements()
	el, err := t.engine.ParseElements(line1, line2)
	if err != nil {
		t.log.Error(ctx, "cannot start tracking: element set rejected",
			logging.Satellite(sat.Name),
			logging.Err(err),
		)
		sat.SetSchedule(model.Schedule{})
		sat.SetParked(false)
		return
	}
	obs, err := t.engine.NewObserver(t.station.Name,
		core.DegToRad(t.station.Latitude),
		core.DegToRad(t.station.Longitude),
		model.StationAltitudeM,
	)
	if err != nil {
		t.engine.Release(el, nil)
		t.log.Error(ctx, "cannot start tracking: observer rejected",
			logging.Satellite(sat.Name),
			logging.Err(err),
		)
		sat.SetSchedule(model.Schedule{})
		sat.SetParked(false)
		return
	}

	sat.SetTracking(true)
	t.mu.Lock()
	t.active, t.pass, t.el, t.obs = sat, sch, el, obs
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.SetTrackerState(true)
	}
	t.log.Info(ctx, "tracking started",
		logging.Satellite(sat.Name),
		logging.String("state", StateTracking.String()),
		logging.Time("aos", sch.NextAOS),
		logging.Time("los", sch.NextLOS),
		logging.Bool("zero_transition", sch.ZeroTransition),
		logging.Int("priority", sat.Priority),
	)
}

func (t *Tracker) trackTick(ctx context.Context, sat *model.Satellite) {
	t.mu.RLock()
	sch, el, obs := t.pass, t.el, t.obs
	t.mu.RUnlock()

	now := t.clock.Now()
	if !now.Before(sch.NextLOS) {
		t.finishPass(ctx, sat)
		return
	}

	pos, err := t.engine.Propagate(el, now)
	if err != nil {
		t.log.Warn(ctx, "propagation failed",
			logging.Satellite(sat.Name),
			logging.Err(err),
		)
		return
	}
	o := t.engine.Observe(obs, pos)
	az, elev := core.RadToDeg(o.Azimuth), core.RadToDeg(o.Elevation)
	doppler := t.engine.DopplerShift(o, float64(sat.Frequency))

	cmdAz, cmdEl := az, elev
	if sch.ZeroTransition {
		cmdAz = passes.ReverseAzimuth(az)
		cmdEl = passes.ReverseElevation(elev)
	}

	t.log.Debug(ctx, "tracking",
		logging.Satellite(sat.Name),
		logging.Float("azimuth", az),
		logging.Float("elevation", elev),
		logging.Float("command_azimuth", cmdAz),
		logging.Float("command_elevation", cmdEl),
		logging.Float("doppler_hz", doppler),
		logging.Float("range_km", o.Range),
	)
	if t.metrics != nil {
		t.metrics.SetDoppler(sat.Name, doppler)
		t.metrics.SetPointing(cmdAz, cmdEl)
	}

	if err := t.point(ctx, cmdAz, cmdEl); err != nil {
		t.log.Warn(ctx, "pointing command failed",
			logging.Satellite(sat.Name),
			logging.Float("azimuth", cmdAz),
			logging.Float("elevation", cmdEl),
			logging.Err(err),
		)
		if t.metrics != nil {
			t.metrics.IncPointingErrors("track")
		}
	}
}

func (t *Tracker) finishPass(ctx context.Context, sat *model.Satellite) {
	t.releaseActive()
	t.log.Info(ctx, "pass complete",
		logging.Satellite(sat.Name),
		logging.String("state", StateIdle.String()),
	)
	if t.metrics != nil {
		t.metrics.IncPassesTracked()
		t.metrics.SetTrackerState(false)
	}

	t.reschedule(ctx, sat)
	sat.SetParked(false)
	sat.SetTracking(false)
}

func (t *Tracker) reschedule(ctx context.Context, sat *model.Satellite) {
	if err := t.resched.Reschedule(ctx, sat); err != nil {
		t.log.Error(ctx, "reschedule failed, satellite left unscheduled",
			logging.Satellite(sat.Name),
			logging.Err(err),
		)
		sat.SetSchedule(model.Schedule{})
	}
}

// releaseActive returns the pass handles to the engine and clears the
// active entry.
func (t *Tracker) releaseActive() *model.Satellite {
	t.mu.Lock()
	sat, el, obs := t.active, t.el, t.obs
	t.active, t.pass, t.el, t.obs = nil, model.Schedule{}, nil, nil
	t.mu.Unlock()

	if el != nil || obs != nil {
		t.engine.Release(el, obs)
	}
	return sat
}

func (t *Tracker) stop(ctx context.Context) {
	sat := t.releaseActive()
	if sat == nil {
		return
	}
	sat.SetTracking(false)
	if t.metrics != nil {
		t.metrics.SetTrackerState(false)
	}
	t.log.Info(ctx, "tracking interrupted by shutdown", logging.Satellite(sat.Name))
}

// point issues a command that is not abandoned when the loop is asked to
// stop.
func (t *Tracker) point(ctx context.Context, az, el float64) error {
	return t.pointer.Point(context.WithoutCancel(ctx), az, el)
}
