package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StationCollector bundles Prometheus metrics for the station surface: the
// satellite set, session lifecycle and rotator link.
type StationCollector struct {
	gatherer prometheus.Gatherer

	Satellites             prometheus.Gauge
	SessionsStarted        prometheus.Counter
	RotatorCommands        *prometheus.CounterVec
	RotatorCommandDuration *prometheus.HistogramVec
}

// NewStationCollector registers station metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewStationCollector(reg prometheus.Registerer) (*StationCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	satellites, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "groundstation_satellites",
		Help: "Current number of satellites in the session's satellite set.",
	}), "groundstation_satellites")
	if err != nil {
		return nil, err
	}

	sessions, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "groundstation_sessions_started_total",
		Help: "Total number of observation sessions set up.",
	}), "groundstation_sessions_started_total")
	if err != nil {
		return nil, err
	}

	commands := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "groundstation_rotator_commands_total",
		Help: "Total number of rotator axis commands, labeled by axis and result.",
	}, []string{"axis", "result"})
	commands, err = registerCounterVec(reg, commands, "groundstation_rotator_commands_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "groundstation_rotator_command_duration_seconds",
		Help:    "Time from sending an axis command to its confirmation or failure.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"axis"})
	durations, err = registerHistogramVec(reg, durations, "groundstation_rotator_command_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &StationCollector{
		gatherer:               gatherer,
		Satellites:             satellites,
		SessionsStarted:        sessions,
		RotatorCommands:        commands,
		RotatorCommandDuration: durations,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *StationCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetSatelliteCount drives the satellites gauge from satellite set events.
func (c *StationCollector) SetSatelliteCount(n int) {
	if c == nil || c.Satellites == nil {
		return
	}
	c.Satellites.Set(float64(n))
}

// IncSessions counts a session setup.
func (c *StationCollector) IncSessions() {
	if c == nil || c.SessionsStarted == nil {
		return
	}
	c.SessionsStarted.Inc()
}

// ObserveRotatorCommand satisfies rotator.Recorder.
func (c *StationCollector) ObserveRotatorCommand(axis string, d time.Duration, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	if c.RotatorCommands != nil {
		c.RotatorCommands.WithLabelValues(axis, result).Inc()
	}
	if c.RotatorCommandDuration != nil {
		c.RotatorCommandDuration.WithLabelValues(axis).Observe(d.Seconds())
	}
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
