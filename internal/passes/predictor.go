// Package passes predicts the next usable pass of each satellite and keeps
// the schedules of all satellites in a session free of overlaps.
package passes

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/groundstation/core"
	"github.com/signalsfoundry/groundstation/internal/logging"
	"github.com/signalsfoundry/groundstation/internal/observability"
	"github.com/signalsfoundry/groundstation/kb"
	"github.com/signalsfoundry/groundstation/model"
	"github.com/signalsfoundry/groundstation/timectrl"
)

// ErrSchedulingConflict is returned when overlap resolution does not settle
// within MaxRescheduleDepth nested re-predictions.
var ErrSchedulingConflict = errors.New("scheduling conflict not resolved")

const (
	DefaultSearchHorizon      = 72 * time.Hour
	DefaultMaxRescheduleDepth = 16

	// fallbackWindowBudget bounds the search when the orbital period cannot
	// be read from the element set.
	fallbackWindowBudget = 64
)

// Recorder receives prediction outcomes. The scheduler collector in
// internal/observability implements it.
type Recorder interface {
	ObservePrediction(d time.Duration, result string)
	IncOverlapBumps()
}

// Predictor computes pass schedules for the satellites of one session.
// Predictions are serialised: the setup path and the tracker's end-of-pass
// reschedule never interleave.
type Predictor struct {
	engine  core.Engine
	station model.Station
	sats    *kb.KnowledgeBase
	clock   timectrl.SimClock
	log     logging.Logger
	metrics Recorder

	// SearchHorizon bounds how far ahead a usable pass is searched for.
	SearchHorizon time.Duration
	// MaxRescheduleDepth caps nested re-predictions of displaced entries.
	MaxRescheduleDepth int

	mu sync.Mutex
}

// NewPredictor wires a predictor to the session's engine, station,
// satellite set and clock. metrics may be nil.
func NewPredictor(engine core.Engine, station model.Station, sats *kb.KnowledgeBase, clock timectrl.SimClock, log logging.Logger, metrics Recorder) (*Predictor, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is nil")
	}
	if sats == nil {
		return nil, fmt.Errorf("satellite set is nil")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is nil")
	}
	if err := station.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Predictor{
		engine:             engine,
		station:            station,
		sats:               sats,
		clock:              clock,
		log:                log,
		metrics:            metrics,
		SearchHorizon:      DefaultSearchHorizon,
		MaxRescheduleDepth: DefaultMaxRescheduleDepth,
	}, nil
}

// Predict schedules the next usable pass of sat that does not overlap an
// entry of equal or higher priority. Lower-priority entries in the way are
// re-predicted onto a later pass unless they are being tracked.
//
// Engine failures leave the previous schedule untouched. When no usable
// pass is found the schedule is cleared. ErrSchedulingConflict reports a
// displaced entry that could not be placed within MaxRescheduleDepth; sat
// keeps its new schedule and the displaced entry is left unscheduled.
func (p *Predictor) Predict(ctx context.Context, sat *model.Satellite) error {
	if sat == nil {
		return fmt.Errorf("satellite is nil")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.predict(ctx, sat, 0)
}

func (p *Predictor) predict(ctx context.Context, sat *model.Satellite, depth int) (err error) {
	log := p.log.With(logging.Satellite(sat.Name))
	if depth > p.MaxRescheduleDepth {
		sat.SetSchedule(model.Schedule{})
		log.Warn(ctx, "overlap resolution did not settle, entry left unscheduled", logging.Int("depth", depth))
		return fmt.Errorf("%w: %s displaced beyond depth %d", ErrSchedulingConflict, sat.Name, p.MaxRescheduleDepth)
	}

	ctx, span := observability.StartSpan(ctx, "passes.Predict", sat.Name,
		attribute.Int("reschedule_depth", depth),
	)
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		if p.metrics != nil {
			p.metrics.ObservePrediction(time.Since(start), predictionResult(err))
		}
	}()

	line1, line2 := sat.Elements()
	el, err := p.engine.ParseElements(line1, line2)
	if err != nil {
		log.Error(ctx, "prediction aborted: cannot parse element set", logging.Err(err))
		return fmt.Errorf("predict %s: %w", sat.Name, err)
	}
	obs, err := p.engine.NewObserver(p.station.Name,
		core.DegToRad(p.station.Latitude),
		core.DegToRad(p.station.Longitude),
		model.StationAltitudeM,
	)
	if err != nil {
		p.engine.Release(el, nil)
		log.Error(ctx, "prediction aborted: cannot create observer", logging.Err(err))
		return fmt.Errorf("predict %s: %w", sat.Name, err)
	}
	defer p.engine.Release(el, obs)

	now := p.clock.Now()
	cursor := now
	budget := p.windowBudget(el)
	var conflicts error
	for {
		w, err := p.nextUsableWindow(ctx, obs, el, sat.MinElevation, cursor, &budget)
		if err != nil {
			sat.SetSchedule(model.Schedule{})
			log.Warn(ctx, "no usable pass found",
				logging.Time("search_from", now),
				logging.Float("min_elevation", sat.MinElevation),
				logging.Err(err),
			)
			return errors.Join(fmt.Errorf("predict %s: %w", sat.Name, err), conflicts)
		}
		cursor = w.schedule.NextLOS

		// Commit before scanning so that displaced entries searching for a
		// new pass see this one.
		sat.SetSchedule(w.schedule)
		blocked, cerr := p.resolveOverlaps(ctx, sat, depth)
		conflicts = errors.Join(conflicts, cerr)
		if blocked != nil {
			log.Info(ctx, "pass overlaps a higher-priority entry, searching next pass",
				logging.String("blocked_by", blocked.Name),
				logging.Time("aos", w.schedule.NextAOS),
			)
			continue
		}

		logPrediction(ctx, log, w)
		return conflicts
	}
}

type window struct {
	schedule     model.Schedule
	maxElevation float64
	rawAOSAz     float64
	rawLOSAz     float64
}

// nextUsableWindow walks pass by pass from cursor until one culminates at or
// above minElevation. Every pass examined is charged to budget.
func (p *Predictor) nextUsableWindow(ctx context.Context, obs *core.Observer, el *core.Elements, minElevation float64, cursor time.Time, budget *int) (window, error) {
	for *budget > 0 {
		*budget--
		if err := ctx.Err(); err != nil {
			return window{}, err
		}

		aos, err := p.engine.NextAOS(obs, el, cursor)
		if err != nil {
			return window{}, err
		}
		culm, err := p.engine.MaxElevation(obs, el, aos.Time)
		if err != nil {
			return window{}, err
		}
		los, err := p.engine.NextLOS(obs, el, aos.Time)
		if err != nil {
			return window{}, err
		}
		if !los.Time.After(aos.Time) {
			cursor = aos.Time
			continue
		}
		cursor = los.Time

		maxEl := core.RadToDeg(culm.Elevation)
		if maxEl < minElevation {
			continue
		}

		w := window{
			maxElevation: maxEl,
			rawAOSAz:     core.RadToDeg(aos.Azimuth),
			rawLOSAz:     core.RadToDeg(los.Azimuth),
		}
		w.schedule = model.Schedule{
			NextAOS:    aos.Time,
			NextLOS:    los.Time,
			AOSAzimuth: w.rawAOSAz,
			LOSAzimuth: w.rawLOSAz,
		}
		if IsCrossingZero(w.rawAOSAz, w.rawLOSAz) {
			w.schedule.ZeroTransition = true
			w.schedule.AOSAzimuth = ReverseAzimuth(w.rawAOSAz)
			w.schedule.LOSAzimuth = ReverseAzimuth(w.rawLOSAz)
		}
		return w, nil
	}
	return window{}, fmt.Errorf("%w: search budget exhausted", core.ErrNoPass)
}

// resolveOverlaps checks sat's committed schedule against every other
// scheduled entry. If any overlapping entry has equal or higher priority, or
// is being tracked, the first such entry is returned and nothing is
// displaced. Otherwise every overlapping lower-priority entry is
// re-predicted onto a later pass. Displacements that ran past the depth cap
// are reported as an error after the scan completes; the entries concerned
// are already unscheduled.
func (p *Predictor) resolveOverlaps(ctx context.Context, sat *model.Satellite, depth int) (*model.Satellite, error) {
	others := p.sats.ListSatellites()
	for _, other := range others {
		if other == sat || !sat.Schedule().Overlaps(other.Schedule()) {
			continue
		}
		if sat.Priority <= other.Priority || other.Tracking() {
			return other, nil
		}
	}

	var conflicts error
	for _, other := range others {
		// Earlier displacements may already have moved this entry.
		if other == sat || !sat.Schedule().Overlaps(other.Schedule()) {
			continue
		}

		p.log.Info(ctx, "displacing lower-priority pass",
			logging.Satellite(other.Name),
			logging.String("displaced_by", sat.Name),
			logging.Int("priority", other.Priority),
			logging.Int("displaced_by_priority", sat.Priority),
		)
		if p.metrics != nil {
			p.metrics.IncOverlapBumps()
		}
		if err := p.predict(ctx, other, depth+1); err != nil {
			if errors.Is(err, ErrSchedulingConflict) {
				conflicts = errors.Join(conflicts, err)
				continue
			}
			p.log.Warn(ctx, "displaced entry left unscheduled",
				logging.Satellite(other.Name),
				logging.Err(err),
			)
		}
	}
	return nil, conflicts
}

func (p *Predictor) windowBudget(el *core.Elements) int {
	period := el.Period()
	if period <= 0 || p.SearchHorizon <= 0 {
		return fallbackWindowBudget
	}
	return int(math.Ceil(float64(p.SearchHorizon)/float64(period))) + 1
}

func logPrediction(ctx context.Context, log logging.Logger, w window) {
	fields := []logging.Field{
		logging.Float("max_elevation", w.maxElevation),
		logging.Time("aos", w.schedule.NextAOS),
		logging.Float("aos_azimuth", w.rawAOSAz),
		logging.Time("los", w.schedule.NextLOS),
		logging.Float("los_azimuth", w.rawLOSAz),
		logging.Bool("zero_transition", w.schedule.ZeroTransition),
	}
	if w.schedule.ZeroTransition {
		fields = append(fields,
			logging.Float("reversed_aos_azimuth", w.schedule.AOSAzimuth),
			logging.Float("reversed_los_azimuth", w.schedule.LOSAzimuth),
		)
	}
	log.Info(ctx, "pass scheduled", fields...)
}

func predictionResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, core.ErrEngine):
		return "engine_error"
	case errors.Is(err, core.ErrNoPass):
		return "no_pass"
	case errors.Is(err, ErrSchedulingConflict):
		return "conflict"
	default:
		return "error"
	}
}
