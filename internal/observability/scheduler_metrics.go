package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerCollector exposes pass predictor and tracker metrics.
type SchedulerCollector struct {
	gatherer prometheus.Gatherer

	PredictionDuration prometheus.Histogram
	Predictions        *prometheus.CounterVec
	OverlapBumps       prometheus.Counter
	Tracking           prometheus.Gauge
	PassesTracked      prometheus.Counter
	DopplerShift       *prometheus.GaugeVec
	AntennaAzimuth     prometheus.Gauge
	AntennaElevation   prometheus.Gauge
	PointingErrors     *prometheus.CounterVec
}

// NewSchedulerCollector registers scheduler metrics against the provided registerer.
func NewSchedulerCollector(reg prometheus.Registerer) (*SchedulerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	predHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "groundstation_prediction_duration_seconds",
		Help:    "Duration of pass predictions, including overlap resolution.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
	predHistogram, err := registerHistogram(reg, predHistogram, "groundstation_prediction_duration_seconds")
	if err != nil {
		return nil, err
	}

	predictions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "groundstation_predictions_total",
		Help: "Total number of pass predictions, labeled by result.",
	}, []string{"result"})
	predictions, err = registerCounterVec(reg, predictions, "groundstation_predictions_total")
	if err != nil {
		return nil, err
	}

	bumps := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "groundstation_overlap_bumps_total",
		Help: "Cumulative number of lower-priority passes displaced by overlap resolution.",
	})
	bumps, err = registerCounter(reg, bumps, "groundstation_overlap_bumps_total")
	if err != nil {
		return nil, err
	}

	tracking := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "groundstation_tracker_tracking",
		Help: "1 while the tracker follows a pass, 0 while idle.",
	})
	tracking, err = registerGauge(reg, tracking, "groundstation_tracker_tracking")
	if err != nil {
		return nil, err
	}

	passes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "groundstation_passes_tracked_total",
		Help: "Cumulative number of passes tracked to LOS.",
	})
	passes, err = registerCounter(reg, passes, "groundstation_passes_tracked_total")
	if err != nil {
		return nil, err
	}

	doppler := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "groundstation_doppler_shift_hz",
		Help: "Last computed downlink Doppler shift of the tracked satellite.",
	}, []string{"satellite"})
	doppler, err = registerGaugeVec(reg, doppler, "groundstation_doppler_shift_hz")
	if err != nil {
		return nil, err
	}

	azimuth := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "groundstation_antenna_azimuth_degrees",
		Help: "Last azimuth commanded to the rotator.",
	})
	azimuth, err = registerGauge(reg, azimuth, "groundstation_antenna_azimuth_degrees")
	if err != nil {
		return nil, err
	}

	elevation := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "groundstation_antenna_elevation_degrees",
		Help: "Last elevation commanded to the rotator.",
	})
	elevation, err = registerGauge(reg, elevation, "groundstation_antenna_elevation_degrees")
	if err != nil {
		return nil, err
	}

	pointingErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "groundstation_pointing_errors_total",
		Help: "Failed rotator pointing commands, labeled by phase (park or track).",
	}, []string{"phase"})
	pointingErrors, err = registerCounterVec(reg, pointingErrors, "groundstation_pointing_errors_total")
	if err != nil {
		return nil, err
	}

	return &SchedulerCollector{
		gatherer:           gatherer,
		PredictionDuration: predHistogram,
		Predictions:        predictions,
		OverlapBumps:       bumps,
		Tracking:           tracking,
		PassesTracked:      passes,
		DopplerShift:       doppler,
		AntennaAzimuth:     azimuth,
		AntennaElevation:   elevation,
		PointingErrors:     pointingErrors,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SchedulerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObservePrediction records a prediction duration and its result.
func (c *SchedulerCollector) ObservePrediction(d time.Duration, result string) {
	if c == nil {
		return
	}
	if c.PredictionDuration != nil {
		c.PredictionDuration.Observe(d.Seconds())
	}
	if c.Predictions != nil {
		c.Predictions.WithLabelValues(result).Inc()
	}
}

// IncOverlapBumps increments the displaced-pass counter.
func (c *SchedulerCollector) IncOverlapBumps() {
	if c == nil || c.OverlapBumps == nil {
		return
	}
	c.OverlapBumps.Inc()
}

// SetTrackerState updates the tracking gauge.
func (c *SchedulerCollector) SetTrackerState(tracking bool) {
	if c == nil || c.Tracking == nil {
		return
	}
	if tracking {
		c.Tracking.Set(1)
		return
	}
	c.Tracking.Set(0)
}

// IncPassesTracked counts a pass followed to LOS.
func (c *SchedulerCollector) IncPassesTracked() {
	if c == nil || c.PassesTracked == nil {
		return
	}
	c.PassesTracked.Inc()
}

// SetDoppler records the latest Doppler shift for satellite.
func (c *SchedulerCollector) SetDoppler(satellite string, hz float64) {
	if c == nil || c.DopplerShift == nil {
		return
	}
	c.DopplerShift.WithLabelValues(satellite).Set(hz)
}

// SetPointing records the last commanded antenna position.
func (c *SchedulerCollector) SetPointing(az, el float64) {
	if c == nil {
		return
	}
	if c.AntennaAzimuth != nil {
		c.AntennaAzimuth.Set(az)
	}
	if c.AntennaElevation != nil {
		c.AntennaElevation.Set(el)
	}
}

// IncPointingErrors counts a failed rotator command.
func (c *SchedulerCollector) IncPointingErrors(phase string) {
	if c == nil || c.PointingErrors == nil {
		return
	}
	c.PointingErrors.WithLabelValues(phase).Inc()
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}
