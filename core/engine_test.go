package core

import (
	"errors"
	"math"
	"testing"
	"time"
)

// Real ISS element set (epoch Feb 2025).
const (
	issLine1 = "1 25544U 98067A   25045.18032407  .00016717  00000+0  30099-3 0  9993"
	issLine2 = "2 25544  51.6412 193.5765 0003457 126.2851 233.8519 15.49874301495058"
)

func TestJulianRoundTrip(t *testing.T) {
	ts := time.Date(2025, time.February, 14, 12, 30, 15, 0, time.UTC)
	if got := JulianDate(time.Unix(0, 0)); got != unixEpochJulian {
		t.Fatalf("JulianDate(unix epoch) = %f, want %f", got, unixEpochJulian)
	}
	if got := TimeFromJulian(JulianDate(ts)); !got.Equal(ts) {
		t.Fatalf("TimeFromJulian(JulianDate(t)) = %v, want %v", got, ts)
	}
}

func TestElementsPeriod(t *testing.T) {
	el := &Elements{Line1: issLine1, Line2: issLine2}
	if mm := el.MeanMotion(); math.Abs(mm-15.49874301) > 1e-6 {
		t.Fatalf("MeanMotion = %f, want ~15.4987", mm)
	}
	p := el.Period()
	if p < 92*time.Minute || p > 93*time.Minute {
		t.Fatalf("Period = %v, want ~92.9m", p)
	}
	if (&Elements{Line2: "2 short"}).Period() != 0 {
		t.Fatalf("expected zero period for unparsable line")
	}
}

func TestParseElementsRejectsMalformedLines(t *testing.T) {
	e := NewSGP4Engine()
	cases := [][2]string{
		{"", ""},
		{"1 25544U", issLine2},
		{issLine2, issLine1},
	}
	for _, c := range cases {
		if _, err := e.ParseElements(c[0], c[1]); !errors.Is(err, ErrEngine) {
			t.Fatalf("ParseElements(%q) error = %v, want ErrEngine", c[0], err)
		}
	}
	if e.Live() != 0 {
		t.Fatalf("Live() = %d after failures, want 0", e.Live())
	}
}

func TestNewObserverRejectsOutOfRange(t *testing.T) {
	e := NewSGP4Engine()
	if _, err := e.NewObserver("bad", 2, 0, 10); !errors.Is(err, ErrEngine) {
		t.Fatalf("NewObserver error = %v, want ErrEngine", err)
	}
}

func TestSGP4EnginePassGeometry(t *testing.T) {
	e := NewSGP4Engine()
	el, err := e.ParseElements(issLine1, issLine2)
	if err != nil {
		t.Fatalf("ParseElements: %v", err)
	}
	obs, err := e.NewObserver("ISU GS", DegToRad(48.5833), DegToRad(7.75), 10)
	if err != nil {
		t.Fatalf("NewObserver: %v", err)
	}
	defer func() {
		e.Release(el, obs)
		if e.Live() != 0 {
			t.Fatalf("Live() = %d after release, want 0", e.Live())
		}
	}()

	start := time.Date(2025, time.February, 14, 12, 0, 0, 0, time.UTC)
	aos, err := e.NextAOS(obs, el, start)
	if err != nil {
		t.Fatalf("NextAOS: %v", err)
	}
	if !aos.Time.After(start) || aos.Time.Sub(start) > 24*time.Hour {
		t.Fatalf("AOS %v not within a day after %v", aos.Time, start)
	}
	culm, err := e.MaxElevation(obs, el, aos.Time)
	if err != nil {
		t.Fatalf("MaxElevation: %v", err)
	}
	los, err := e.NextLOS(obs, el, aos.Time)
	if err != nil {
		t.Fatalf("NextLOS: %v", err)
	}

	if !los.Time.After(aos.Time) {
		t.Fatalf("LOS %v not after AOS %v", los.Time, aos.Time)
	}
	if d := los.Time.Sub(aos.Time); d > 20*time.Minute {
		t.Fatalf("pass duration %v too long for LEO", d)
	}
	if culm.Time.Before(aos.Time) || culm.Time.After(los.Time) {
		t.Fatalf("culmination %v outside [%v, %v]", culm.Time, aos.Time, los.Time)
	}
	if deg := RadToDeg(culm.Elevation); deg <= 0 || deg > 90 {
		t.Fatalf("max elevation %.2f out of range", deg)
	}
	if deg := RadToDeg(aos.Elevation); math.Abs(deg) > 1 {
		t.Fatalf("elevation at AOS %.2f deg, want near horizon", deg)
	}
	for _, o := range []Observation{aos, los} {
		if o.Azimuth < 0 || o.Azimuth >= 2*math.Pi {
			t.Fatalf("azimuth %f rad out of range", o.Azimuth)
		}
	}

	// Approaching at AOS, receding at LOS.
	if aos.RangeRate >= 0 || los.RangeRate <= 0 {
		t.Fatalf("range rate at AOS %.3f / LOS %.3f has wrong sign", aos.RangeRate, los.RangeRate)
	}
	if shift := e.DopplerShift(aos, 145.8e6); shift <= 0 {
		t.Fatalf("Doppler shift at AOS = %f, want positive", shift)
	}

	// A search started mid-pass returns the following rise.
	next, err := e.NextAOS(obs, el, culm.Time)
	if err != nil {
		t.Fatalf("NextAOS mid-pass: %v", err)
	}
	if !next.Time.After(los.Time) {
		t.Fatalf("NextAOS mid-pass = %v, want after LOS %v", next.Time, los.Time)
	}
}

func TestFakeEngineServesScriptedPasses(t *testing.T) {
	f := NewFakeEngine()
	base := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	f.SetPasses("L1",
		FakePass{AOS: base.Add(time.Hour), LOS: base.Add(70 * time.Minute), AOSAzimuth: 90, LOSAzimuth: 180, MaxElevation: 40},
		FakePass{AOS: base.Add(10 * time.Minute), LOS: base.Add(20 * time.Minute), MaxElevation: 5},
	)
	el, _ := f.ParseElements("L1", "L2")
	obs, _ := f.NewObserver("gs", 0, 0, 0)

	aos, err := f.NextAOS(obs, el, base)
	if err != nil || !aos.Time.Equal(base.Add(10*time.Minute)) {
		t.Fatalf("NextAOS = %v, %v", aos.Time, err)
	}
	los, err := f.NextLOS(obs, el, base.Add(15*time.Minute))
	if err != nil || !los.Time.Equal(base.Add(20*time.Minute)) {
		t.Fatalf("NextLOS mid-pass = %v, %v", los.Time, err)
	}
	if _, err := f.NextAOS(obs, el, base.Add(2*time.Hour)); !errors.Is(err, ErrNoPass) {
		t.Fatalf("NextAOS past script error = %v, want ErrNoPass", err)
	}

	f.Release(el, obs)
	if f.Live() != 0 {
		t.Fatalf("Live() = %d, want 0", f.Live())
	}
}
