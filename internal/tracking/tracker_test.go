package tracking

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/groundstation/core"
	"github.com/signalsfoundry/groundstation/internal/passes"
	"github.com/signalsfoundry/groundstation/kb"
	"github.com/signalsfoundry/groundstation/model"
	"github.com/signalsfoundry/groundstation/timectrl"
)

var t0 = time.Date(2025, 2, 14, 12, 0, 0, 0, time.UTC)

type command struct{ az, el float64 }

type fakePointer struct {
	mu       sync.Mutex
	commands []command
	err      error
}

func (p *fakePointer) Point(_ context.Context, az, el float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commands = append(p.commands, command{az: az, el: el})
	return p.err
}

func (p *fakePointer) sent() []command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]command(nil), p.commands...)
}

type fakeMetrics struct {
	mu             sync.Mutex
	tracking       bool
	passes         int
	doppler        map[string]float64
	pointingErrors map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{doppler: map[string]float64{}, pointingErrors: map[string]int{}}
}

func (m *fakeMetrics) SetTrackerState(tracking bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracking = tracking
}

func (m *fakeMetrics) IncPassesTracked() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passes++
}

func (m *fakeMetrics) SetDoppler(satellite string, hz float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doppler[satellite] = hz
}

func (m *fakeMetrics) SetPointing(az, el float64) {}

func (m *fakeMetrics) IncPointingErrors(phase string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pointingErrors[phase]++
}

type fixture struct {
	tracker     *Tracker
	engine      *core.FakeEngine
	sats        *kb.KnowledgeBase
	clock       *timectrl.ManualClock
	pointer     *fakePointer
	metrics     *fakeMetrics
	rescheduled []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		engine:  core.NewFakeEngine(),
		sats:    kb.NewKnowledgeBase(),
		clock:   timectrl.NewManualClock(t0),
		pointer: &fakePointer{},
		metrics: newFakeMetrics(),
	}
	resched := RescheduleFunc(func(_ context.Context, sat *model.Satellite) error {
		f.rescheduled = append(f.rescheduled, sat.Name)
		sat.SetSchedule(model.Schedule{NextAOS: t0.Add(24 * time.Hour), NextLOS: t0.Add(24*time.Hour + 10*time.Minute)})
		return nil
	})
	tr, err := NewTracker(f.engine, model.DefaultStation(), f.sats, f.clock, f.pointer, resched, nil,
		WithMetricsRecorder(f.metrics),
	)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	f.tracker = tr
	return f
}

func (f *fixture) addSatellite(t *testing.T, name string, priority int, sch model.Schedule) *model.Satellite {
	t.Helper()
	sat := &model.Satellite{Name: name, MinElevation: 10, Priority: priority, Frequency: 145_800_000}
	sat.SetElements("1 "+name, "2 "+name)
	sat.SetSchedule(sch)
	if err := f.sats.AddSatellite(sat); err != nil {
		t.Fatalf("AddSatellite(%s): %v", name, err)
	}
	return sat
}

func window(aos, los time.Duration, aosAz float64, zero bool) model.Schedule {
	return model.Schedule{
		NextAOS:        t0.Add(aos),
		NextLOS:        t0.Add(los),
		AOSAzimuth:     aosAz,
		LOSAzimuth:     aosAz + 90,
		ZeroTransition: zero,
	}
}

func approxCommand(got command, az, el float64) bool {
	return math.Abs(got.az-az) < 1e-9 && math.Abs(got.el-el) < 1e-9
}

func TestNewTrackerValidatesInputs(t *testing.T) {
	clock := timectrl.NewManualClock(t0)
	noop := RescheduleFunc(func(context.Context, *model.Satellite) error { return nil })
	if _, err := NewTracker(nil, model.DefaultStation(), kb.NewKnowledgeBase(), clock, &fakePointer{}, noop, nil); err == nil {
		t.Fatalf("expected error for nil engine")
	}
	if _, err := NewTracker(core.NewFakeEngine(), model.DefaultStation(), kb.NewKnowledgeBase(), clock, nil, noop, nil); err == nil {
		t.Fatalf("expected error for nil pointer")
	}
	if _, err := NewTracker(core.NewFakeEngine(), model.DefaultStation(), kb.NewKnowledgeBase(), clock, &fakePointer{}, nil, nil); err == nil {
		t.Fatalf("expected error for nil rescheduler")
	}
}

func TestIdleParksOncePerPass(t *testing.T) {
	f := newFixture(t)
	sat := f.addSatellite(t, "NOAA 19", 1, window(100*time.Second, 15*time.Minute, 42, false))

	if d := f.tracker.Step(context.Background()); d != time.Second {
		t.Fatalf("idle Step delay = %v, want 1s", d)
	}
	f.clock.Advance(time.Second)
	f.tracker.Step(context.Background())

	got := f.pointer.sent()
	if len(got) != 1 {
		t.Fatalf("sent %d commands, want exactly one park command", len(got))
	}
	if !approxCommand(got[0], 42, 0) {
		t.Fatalf("park command = %+v, want az 42 el 0", got[0])
	}
	if !sat.Parked() {
		t.Fatalf("satellite not marked parked")
	}
	if f.tracker.State() != StateIdle {
		t.Fatalf("state = %v, want IDLE", f.tracker.State())
	}
}

func TestDisplacedEntryIsParkedAgainForItsNewPass(t *testing.T) {
	f := newFixture(t)
	predictor, err := passes.NewPredictor(f.engine, model.DefaultStation(), f.sats, f.clock, nil, nil)
	if err != nil {
		t.Fatalf("NewPredictor: %v", err)
	}
	f.engine.SetPasses("1 LOW",
		core.FakePass{AOS: t0.Add(time.Minute), LOS: t0.Add(11 * time.Minute), AOSAzimuth: 50, LOSAzimuth: 140, MaxElevation: 40},
		core.FakePass{AOS: t0.Add(100 * time.Minute), LOS: t0.Add(110 * time.Minute), AOSAzimuth: 80, LOSAzimuth: 170, MaxElevation: 40},
	)
	f.engine.SetPasses("1 HIGH",
		core.FakePass{AOS: t0.Add(2 * time.Minute), LOS: t0.Add(12 * time.Minute), AOSAzimuth: 200, LOSAzimuth: 300, MaxElevation: 60},
	)
	low := f.addSatellite(t, "LOW", 1, model.Schedule{})
	if err := predictor.Predict(context.Background(), low); err != nil {
		t.Fatalf("Predict(LOW): %v", err)
	}

	f.tracker.Step(context.Background())
	if got := f.pointer.sent(); len(got) != 1 || !approxCommand(got[0], 50, 0) || !low.Parked() {
		t.Fatalf("first park = %+v parked=%v, want [{50 0}] and parked", got, low.Parked())
	}

	high := f.addSatellite(t, "HIGH", 5, model.Schedule{})
	if err := predictor.Predict(context.Background(), high); err != nil {
		t.Fatalf("Predict(HIGH): %v", err)
	}
	if !low.Schedule().NextAOS.Equal(t0.Add(100 * time.Minute)) {
		t.Fatalf("LOW AOS = %v, want displaced to +100m", low.Schedule().NextAOS)
	}
	if low.Parked() {
		t.Fatalf("LOW still marked parked after moving to a new pass")
	}

	f.clock.SetTime(t0.Add(99 * time.Minute))
	f.tracker.Step(context.Background())

	got := f.pointer.sent()
	if len(got) != 2 || !approxCommand(got[1], 80, 0) {
		t.Fatalf("park commands = %+v, want a second park at {80 0}", got)
	}
	if !low.Parked() {
		t.Fatalf("LOW not marked parked for its new pass")
	}
}

func TestIdleParksZeroTransitionOnReversedHemisphere(t *testing.T) {
	f := newFixture(t)
	f.addSatellite(t, "ISS", 1, window(60*time.Second, 10*time.Minute, 170, true))

	f.tracker.Step(context.Background())

	got := f.pointer.sent()
	if len(got) != 1 || !approxCommand(got[0], 170, 180) {
		t.Fatalf("park commands = %+v, want [{170 180}]", got)
	}
}

func TestIdleDoesNotParkOutsideLeadWindow(t *testing.T) {
	f := newFixture(t)
	sat := f.addSatellite(t, "NOAA 19", 1, window(5*time.Minute, 15*time.Minute, 42, false))

	f.tracker.Step(context.Background())

	if len(f.pointer.sent()) != 0 || sat.Parked() {
		t.Fatalf("parked %v ahead of AOS, lead window is 120s", 5*time.Minute)
	}
}

func TestFailedParkIsRetried(t *testing.T) {
	f := newFixture(t)
	f.pointer.err = errors.New("link down")
	sat := f.addSatellite(t, "NOAA 19", 1, window(60*time.Second, 15*time.Minute, 42, false))

	f.tracker.Step(context.Background())
	f.tracker.Step(context.Background())

	if sat.Parked() {
		t.Fatalf("failed park must not mark the satellite parked")
	}
	if got := len(f.pointer.sent()); got != 2 {
		t.Fatalf("sent %d park commands, want 2", got)
	}
	if f.metrics.pointingErrors["park"] != 2 {
		t.Fatalf("park errors = %d, want 2", f.metrics.pointingErrors["park"])
	}
}

func TestIdleActivatesOneEntryPreferringPriority(t *testing.T) {
	f := newFixture(t)
	low := f.addSatellite(t, "LOW", 1, window(-10*time.Second, 10*time.Minute, 10, false))
	high := f.addSatellite(t, "HIGH", 5, window(-5*time.Second, 12*time.Minute, 20, false))

	if d := f.tracker.Step(context.Background()); d != 100*time.Millisecond {
		t.Fatalf("Step delay after activation = %v, want 100ms", d)
	}

	if f.tracker.Active() != high {
		t.Fatalf("active = %v, want HIGH", f.tracker.Active())
	}
	if low.Tracking() || !high.Tracking() {
		t.Fatalf("tracking flags low=%v high=%v", low.Tracking(), high.Tracking())
	}
	if live := f.engine.Live(); live != 2 {
		t.Fatalf("engine handles live = %d, want 2 (one pass)", live)
	}
	if !f.metrics.tracking {
		t.Fatalf("tracker gauge not set")
	}
}

func TestIdleActivationTieKeepsSetOrder(t *testing.T) {
	f := newFixture(t)
	first := f.addSatellite(t, "FIRST", 3, window(-10*time.Second, 10*time.Minute, 10, false))
	f.addSatellite(t, "SECOND", 3, window(-20*time.Second, 10*time.Minute, 10, false))

	f.tracker.Step(context.Background())

	if f.tracker.Active() != first {
		t.Fatalf("active = %v, want FIRST", f.tracker.Active())
	}
}

func TestTrackingAppliesZeroTransition(t *testing.T) {
	f := newFixture(t)
	f.engine.Look = func(string, time.Time) (float64, float64) { return 30, 20 }
	f.engine.RangeRate = 1
	f.addSatellite(t, "ISS", 1, window(-time.Second, 10*time.Minute, 210, true))

	f.tracker.Step(context.Background()) // activate
	f.tracker.Step(context.Background()) // track

	got := f.pointer.sent()
	last := got[len(got)-1]
	if !approxCommand(last, 210, 160) {
		t.Fatalf("tracking command = %+v, want az 210 el 160", last)
	}
	want := -145_800_000.0 * 1000 / core.SpeedOfLight
	if d := f.metrics.doppler["ISS"]; math.Abs(d-want) > 1e-6 {
		t.Fatalf("doppler = %v, want %v", d, want)
	}
}

func TestTrackingWithoutZeroTransitionPassesThrough(t *testing.T) {
	f := newFixture(t)
	f.engine.Look = func(string, time.Time) (float64, float64) { return 30, 20 }
	f.addSatellite(t, "NOAA 19", 1, window(-time.Second, 10*time.Minute, 30, false))

	f.tracker.Step(context.Background())
	f.tracker.Step(context.Background())

	got := f.pointer.sent()
	if last := got[len(got)-1]; !approxCommand(last, 30, 20) {
		t.Fatalf("tracking command = %+v, want az 30 el 20", last)
	}
}

func TestLinkErrorsDoNotStopTracking(t *testing.T) {
	f := newFixture(t)
	f.pointer.err = errors.New("timeout")
	sat := f.addSatellite(t, "NOAA 19", 1, window(-time.Second, 10*time.Minute, 30, false))

	for i := 0; i < 5; i++ {
		f.tracker.Step(context.Background())
		f.clock.Advance(100 * time.Millisecond)
	}

	if f.tracker.Active() != sat {
		t.Fatalf("tracker dropped the pass after link errors")
	}
	if f.metrics.pointingErrors["track"] != 4 {
		t.Fatalf("track errors = %d, want 4", f.metrics.pointingErrors["track"])
	}
}

func TestLOSReschedulesAndReturnsToIdle(t *testing.T) {
	f := newFixture(t)
	sat := f.addSatellite(t, "NOAA 19", 1, window(-time.Second, time.Minute, 30, false))

	f.tracker.Step(context.Background())
	if f.tracker.State() != StateTracking || !sat.Parked() {
		t.Fatalf("expected TRACKING with parked satellite")
	}

	f.clock.Advance(2 * time.Minute)
	if d := f.tracker.Step(context.Background()); d != time.Second {
		t.Fatalf("Step delay after LOS = %v, want 1s", d)
	}

	if f.tracker.Active() != nil || f.tracker.State() != StateIdle {
		t.Fatalf("tracker still active after LOS")
	}
	if len(f.rescheduled) != 1 || f.rescheduled[0] != "NOAA 19" {
		t.Fatalf("rescheduled = %v, want [NOAA 19]", f.rescheduled)
	}
	if sat.Parked() || sat.Tracking() {
		t.Fatalf("parked=%v tracking=%v after LOS, want both false", sat.Parked(), sat.Tracking())
	}
	if live := f.engine.Live(); live != 0 {
		t.Fatalf("engine handles live = %d after LOS, want 0", live)
	}
	if f.metrics.passes != 1 || f.metrics.tracking {
		t.Fatalf("metrics passes=%d tracking=%v", f.metrics.passes, f.metrics.tracking)
	}
}

func TestFailedRescheduleClearsSchedule(t *testing.T) {
	f := newFixture(t)
	resched := RescheduleFunc(func(context.Context, *model.Satellite) error { return core.ErrNoPass })
	tr, err := NewTracker(f.engine, model.DefaultStation(), f.sats, f.clock, f.pointer, resched, nil)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}
	sat := f.addSatellite(t, "NOAA 19", 1, window(-time.Second, time.Minute, 30, false))

	tr.Step(context.Background())
	f.clock.Advance(2 * time.Minute)
	tr.Step(context.Background())

	if !sat.Schedule().IsZero() {
		t.Fatalf("schedule = %+v, want cleared", sat.Schedule())
	}
	tr.Step(context.Background())
	if tr.Active() != nil {
		t.Fatalf("unscheduled satellite was reactivated")
	}
}

func TestMissedPassIsRescheduled(t *testing.T) {
	f := newFixture(t)
	f.addSatellite(t, "NOAA 19", 1, window(-20*time.Minute, -10*time.Minute, 30, false))

	f.tracker.Step(context.Background())

	if f.tracker.Active() != nil {
		t.Fatalf("expired pass was activated")
	}
	if len(f.rescheduled) != 1 {
		t.Fatalf("rescheduled = %v, want one entry", f.rescheduled)
	}
}

func TestActivationFailureClearsSchedule(t *testing.T) {
	f := newFixture(t)
	f.engine.ParseErr = errors.New("bad checksum")
	sat := f.addSatellite(t, "NOAA 19", 1, window(-time.Second, 10*time.Minute, 30, false))

	f.tracker.Step(context.Background())

	if f.tracker.Active() != nil {
		t.Fatalf("activated despite engine error")
	}
	if !sat.Schedule().IsZero() {
		t.Fatalf("schedule = %+v, want cleared", sat.Schedule())
	}
	if live := f.engine.Live(); live != 0 {
		t.Fatalf("engine handles live = %d, want 0", live)
	}
}

func TestRunStopsAndReleasesHandles(t *testing.T) {
	f := newFixture(t)
	sat := f.addSatellite(t, "NOAA 19", 1, window(-time.Second, 10*time.Minute, 30, false))
	tr, err := NewTracker(f.engine, model.DefaultStation(), f.sats, f.clock, f.pointer,
		RescheduleFunc(func(context.Context, *model.Satellite) error { return nil }), nil,
		WithConfig(Config{TrackInterval: time.Millisecond, IdleInterval: time.Millisecond}),
	)
	if err != nil {
		t.Fatalf("NewTracker: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for tr.Active() == nil {
		select {
		case <-deadline:
			t.Fatalf("tracker never activated")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}

	if tr.Active() != nil || sat.Tracking() {
		t.Fatalf("tracker left active after stop")
	}
	if live := f.engine.Live(); live != 0 {
		t.Fatalf("engine handles live = %d after stop, want 0", live)
	}
}

func TestStateString(t *testing.T) {
	if StateIdle.String() != "IDLE" || StateTracking.String() != "TRACKING" {
		t.Fatalf("unexpected state names %q / %q", StateIdle, StateTracking)
	}
}
