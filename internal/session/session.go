// Package session owns the observation session: the station, its satellite
// set, the simulated clock, the rotator link and the tracking worker. A
// Manager keeps exactly one session live at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/signalsfoundry/groundstation/core"
	"github.com/signalsfoundry/groundstation/internal/logging"
	"github.com/signalsfoundry/groundstation/internal/observability"
	"github.com/signalsfoundry/groundstation/internal/passes"
	"github.com/signalsfoundry/groundstation/internal/rotator"
	"github.com/signalsfoundry/groundstation/internal/tle"
	"github.com/signalsfoundry/groundstation/internal/tracking"
	"github.com/signalsfoundry/groundstation/kb"
	"github.com/signalsfoundry/groundstation/model"
	"github.com/signalsfoundry/groundstation/timectrl"
)

// ErrResource is returned when a session cannot be assembled. The previous
// session, if any, has already been discarded.
var ErrResource = errors.New("session resource error")

// Catalog looks up element sets by satellite name. tle.Catalog implements it.
type Catalog interface {
	Lookup(name string) (line1, line2 string, err error)
}

// Link is the rotator connection a session drives.
type Link interface {
	tracking.Pointer
	Close() error
}

// Config describes one session.
type Config struct {
	Station   model.Station
	Rotator   rotator.Config
	Tracking  tracking.Config
	SimOffset time.Duration
	// SearchHorizon overrides the predictor's search horizon when positive.
	SearchHorizon time.Duration
}

// Session is one live observation session.
type Session struct {
	ID      string
	Station model.Station

	sats      *kb.KnowledgeBase
	clock     *timectrl.OffsetClock
	catalog   Catalog
	link      Link
	predictor *passes.Predictor
	tracker   *tracking.Tracker
	log       logging.Logger

	unsubscribe func()
	cancel      context.CancelFunc
	done        chan struct{}
	closeOnce   sync.Once
	closeErr    error
}

// SetupSatellite fetches the satellite's element set from the catalog,
// adds it to the session and predicts its next pass. A catalog miss returns
// an error wrapping tle.ErrNotFound and leaves the satellite out of the
// session with its schedule untouched.
func (s *Session) SetupSatellite(ctx context.Context, sat *model.Satellite) error {
	if err := sat.Validate(); err != nil {
		return err
	}
	ctx = logging.ContextWithSessionID(ctx, s.ID)
	ctx, span := observability.StartSpan(ctx, "session.SetupSatellite", sat.Name)
	defer span.End()

	line1, line2, err := s.catalog.Lookup(sat.Name)
	if err != nil {
		if errors.Is(err, tle.ErrNotFound) {
			s.log.Info(ctx, "satellite setup skipped: not in catalog", logging.Satellite(sat.Name))
		} else {
			s.log.Warn(ctx, "satellite setup failed: catalog lookup", logging.Satellite(sat.Name), logging.Err(err))
		}
		span.RecordError(err)
		return fmt.Errorf("setup %s: %w", sat.Name, err)
	}

	if existing := s.sats.GetSatellite(sat.Name); existing != nil && existing != sat {
		return fmt.Errorf("setup %s: a different satellite with this name is already in the session", sat.Name)
	}
	sat.SetElements(line1, line2)
	if s.sats.GetSatellite(sat.Name) == nil {
		if err := s.sats.AddSatellite(sat); err != nil {
			return fmt.Errorf("setup %s: %w", sat.Name, err)
		}
	}

	if err := s.predictor.Predict(ctx, sat); err != nil {
		span.RecordError(err)
		return fmt.Errorf("setup %s: %w", sat.Name, err)
	}
	s.log.Info(ctx, "satellite set up",
		logging.Satellite(sat.Name),
		logging.Int("priority", sat.Priority),
		logging.Time("next_aos", sat.Schedule().NextAOS),
	)
	return nil
}

// RemoveSatellite drops a satellite from the session. The satellite being
// tracked cannot be removed.
func (s *Session) RemoveSatellite(name string) error {
	if active := s.tracker.Active(); active != nil && active.Name == name {
		return fmt.Errorf("satellite %q is being tracked", name)
	}
	if err := s.sats.RemoveSatellite(name); err != nil {
		return err
	}
	s.log.Info(context.Background(), "satellite removed", logging.Satellite(name))
	return nil
}

// Satellites returns the satellite set in insertion order.
func (s *Session) Satellites() []*model.Satellite {
	return s.sats.ListSatellites()
}

// Satellite returns the named satellite or nil.
func (s *Session) Satellite(name string) *model.Satellite {
	return s.sats.GetSatellite(name)
}

// Active returns the satellite being tracked, or nil while idle.
func (s *Session) Active() *model.Satellite {
	return s.tracker.Active()
}

// State reports the tracker state.
func (s *Session) State() tracking.State {
	return s.tracker.State()
}

// Now returns the session's simulated time.
func (s *Session) Now() time.Time {
	return s.clock.Now()
}

// SimulatedTimeStep shifts the simulated clock by delta and returns the new
// offset.
func (s *Session) SimulatedTimeStep(delta time.Duration) time.Duration {
	offset := s.clock.Step(delta)
	s.log.Info(context.Background(), "simulated time stepped",
		logging.Duration("delta", delta),
		logging.Duration("offset", offset),
	)
	return offset
}

// SimulatedTimeSet replaces the simulated clock offset.
func (s *Session) SimulatedTimeSet(offset time.Duration) {
	s.clock.Set(offset)
	s.log.Info(context.Background(), "simulated time set", logging.Duration("offset", offset))
}

// SimulatedOffset returns the current clock offset.
func (s *Session) SimulatedOffset() time.Duration {
	return s.clock.Offset()
}

// Done is closed once the tracking worker has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close stops the tracking worker, waits for it to exit, then closes the
// rotator link and empties the satellite set. It is safe to call more than
// once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		if err := s.link.Close(); err != nil {
			s.closeErr = fmt.Errorf("close rotator link: %w", err)
		}
		s.sats.Clear()
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.log.Info(context.Background(), "session closed")
	})
	return s.closeErr
}

// reschedule refreshes the element set from the catalog and predicts the
// next pass. The current elements are kept if the lookup fails.
func (s *Session) reschedule(ctx context.Context, sat *model.Satellite) error {
	line1, line2, err := s.catalog.Lookup(sat.Name)
	if err != nil {
		s.log.Warn(ctx, "element refresh failed, keeping current element set",
			logging.Satellite(sat.Name),
			logging.Err(err),
		)
	} else {
		sat.SetElements(line1, line2)
	}
	return s.predictor.Predict(ctx, sat)
}

// Option customises Manager construction.
type Option func(*Manager)

// RotatorDialer opens a rotator link for a session.
type RotatorDialer func(ctx context.Context, cfg rotator.Config, log logging.Logger, rec rotator.Recorder) Link

// WithRotatorDialer replaces the TCP rotator link, e.g. with a test double.
func WithRotatorDialer(d RotatorDialer) Option {
	return func(m *Manager) {
		m.dial = d
	}
}

// WithWallClock replaces time.Now as the base of each session's simulated
// clock.
func WithWallClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.wall = now
	}
}

// WithMetrics attaches optional collectors.
func WithMetrics(station *observability.StationCollector, scheduler *observability.SchedulerCollector) Option {
	return func(m *Manager) {
		m.stationMetrics = station
		m.schedulerMetrics = scheduler
	}
}

// Manager builds and discards sessions. At most one session is live.
type Manager struct {
	engine  core.Engine
	catalog Catalog
	log     logging.Logger

	dial             RotatorDialer
	wall             func() time.Time
	stationMetrics   *observability.StationCollector
	schedulerMetrics *observability.SchedulerCollector

	mu      sync.Mutex
	current *Session
}

// NewManager returns a manager with no live session.
func NewManager(engine core.Engine, catalog Catalog, log logging.Logger, opts ...Option) (*Manager, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is nil")
	}
	if catalog == nil {
		return nil, fmt.Errorf("catalog is nil")
	}
	if log == nil {
		log = logging.Noop()
	}
	m := &Manager{
		engine:  engine,
		catalog: catalog,
		log:     log,
		dial: func(ctx context.Context, cfg rotator.Config, log logging.Logger, rec rotator.Recorder) Link {
			return rotator.Open(ctx, cfg, log, rec)
		},
		wall: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// Setup discards the live session, if any, and starts a fresh one. On
// failure no session is live.
func (m *Manager) Setup(ctx context.Context, cfg Config) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		if err := m.current.Close(); err != nil {
			m.log.Warn(ctx, "previous session closed with error", logging.Err(err))
		}
		m.current = nil
	}

	id := logging.NewSessionID()
	ctx, log := logging.WithSessionLogger(ctx, m.log, id)
	ctx, span := observability.StartSpan(ctx, "session.Setup", "")
	defer span.End()

	s, err := m.build(ctx, id, cfg, log)
	if err != nil {
		span.RecordError(err)
		log.Error(ctx, "session setup failed", logging.Err(err))
		return nil, err
	}
	m.current = s
	if m.stationMetrics != nil {
		m.stationMetrics.IncSessions()
	}
	log.Info(ctx, "session started",
		logging.String("station", s.Station.Name),
		logging.Float("latitude", s.Station.Latitude),
		logging.Float("longitude", s.Station.Longitude),
		logging.Duration("sim_offset", cfg.SimOffset),
	)
	return s, nil
}

func (m *Manager) build(ctx context.Context, id string, cfg Config, log logging.Logger) (*Session, error) {
	station := cfg.Station
	if station.Name == "" {
		station.Name = model.DefaultStation().Name
	}
	if err := station.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResource, err)
	}

	sats := kb.NewKnowledgeBase()
	clock := timectrl.NewOffsetClockWithSource(m.wall, cfg.SimOffset)

	var predRec passes.Recorder
	trackOpts := []tracking.Option{tracking.WithConfig(cfg.Tracking)}
	if m.schedulerMetrics != nil {
		predRec = m.schedulerMetrics
		trackOpts = append(trackOpts, tracking.WithMetricsRecorder(m.schedulerMetrics))
	}
	predictor, err := passes.NewPredictor(m.engine, station, sats, clock, log, predRec)
	if err != nil {
		return nil, fmt.Errorf("%w: predictor: %v", ErrResource, err)
	}
	if cfg.SearchHorizon > 0 {
		predictor.SearchHorizon = cfg.SearchHorizon
	}

	var linkRec rotator.Recorder
	if m.stationMetrics != nil {
		linkRec = m.stationMetrics
	}
	link := m.dial(ctx, cfg.Rotator, log, linkRec)
	if link == nil {
		return nil, fmt.Errorf("%w: rotator link unavailable", ErrResource)
	}

	s := &Session{
		ID:        id,
		Station:   station,
		sats:      sats,
		clock:     clock,
		catalog:   m.catalog,
		link:      link,
		predictor: predictor,
		log:       log,
		done:      make(chan struct{}),
	}
	tracker, err := tracking.NewTracker(m.engine, station, sats, clock, link,
		tracking.RescheduleFunc(s.reschedule), log, trackOpts...)
	if err != nil {
		_ = link.Close()
		return nil, fmt.Errorf("%w: tracker: %v", ErrResource, err)
	}
	s.tracker = tracker

	if m.stationMetrics != nil {
		collector := m.stationMetrics
		collector.SetSatelliteCount(0)
		s.unsubscribe = sats.Subscribe(func(ev kb.Event) {
			collector.SetSatelliteCount(ev.Count)
		})
	}

	runCtx, cancel := context.WithCancel(logging.ContextWithSessionID(context.Background(), id))
	s.cancel = cancel
	go func() {
		defer close(s.done)
		tracker.Run(runCtx)
	}()
	return s, nil
}

// Get returns the live session, or nil.
func (m *Manager) Get() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close discards the live session.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil
	}
	err := m.current.Close()
	m.current = nil
	return err
}
