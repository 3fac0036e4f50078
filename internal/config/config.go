// Package config assembles the station configuration from defaults, the
// environment and a JSON satellite list.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/groundstation/internal/rotator"
	"github.com/signalsfoundry/groundstation/internal/tracking"
	"github.com/signalsfoundry/groundstation/model"
)

const (
	DefaultCatalogPath    = "configs/catalog.txt"
	DefaultSatellitesPath = "configs/satellites.json"
	DefaultMetricsAddr    = ":9090"
)

// Config is the full runtime configuration of the groundstation binary.
type Config struct {
	Station        model.Station
	Rotator        rotator.Config
	Tracking       tracking.Config
	CatalogPath    string
	SatellitesPath string
	MetricsAddr    string
	SimOffset      time.Duration
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Station:        model.DefaultStation(),
		Rotator:        rotator.DefaultConfig(),
		Tracking:       tracking.DefaultConfig(),
		CatalogPath:    DefaultCatalogPath,
		SatellitesPath: DefaultSatellitesPath,
		MetricsAddr:    DefaultMetricsAddr,
	}
}

// ApplyDefaults fills zero fields from Default.
func (c Config) ApplyDefaults() Config {
	def := Default()
	if c.Station.Name == "" {
		c.Station.Name = def.Station.Name
	}
	if c.Station.Latitude == 0 && c.Station.Longitude == 0 {
		c.Station.Latitude = def.Station.Latitude
		c.Station.Longitude = def.Station.Longitude
	}
	c.Rotator = c.Rotator.ApplyDefaults()
	if c.Tracking.ParkLead <= 0 {
		c.Tracking.ParkLead = def.Tracking.ParkLead
	}
	if c.Tracking.IdleInterval <= 0 {
		c.Tracking.IdleInterval = def.Tracking.IdleInterval
	}
	if c.Tracking.TrackInterval <= 0 {
		c.Tracking.TrackInterval = def.Tracking.TrackInterval
	}
	if c.CatalogPath == "" {
		c.CatalogPath = def.CatalogPath
	}
	if c.SatellitesPath == "" {
		c.SatellitesPath = def.SatellitesPath
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = def.MetricsAddr
	}
	return c
}

// Validate rejects configurations a session cannot be built from.
func (c Config) Validate() error {
	if err := c.Station.Validate(); err != nil {
		return err
	}
	if c.Rotator.AzimuthPort > 65535 || c.Rotator.ElevationPort > 65535 {
		return fmt.Errorf("rotator port out of range")
	}
	return nil
}

// FromEnv starts from Default and applies GS_* environment overrides.
// Malformed values are reported rather than silently ignored.
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	var errs []string

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	float := func(key string, dst *float64) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = f
	}
	integer := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = n
	}
	duration := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = d
	}

	str("GS_STATION_NAME", &cfg.Station.Name)
	float("GS_LATITUDE", &cfg.Station.Latitude)
	float("GS_LONGITUDE", &cfg.Station.Longitude)
	str("GS_ROTATOR_ADDR", &cfg.Rotator.Address)
	integer("GS_ROTATOR_AZ_PORT", &cfg.Rotator.AzimuthPort)
	integer("GS_ROTATOR_EL_PORT", &cfg.Rotator.ElevationPort)
	duration("GS_ROTATOR_TIMEOUT", &cfg.Rotator.Timeout)
	str("GS_CATALOG_PATH", &cfg.CatalogPath)
	str("GS_SATELLITES_PATH", &cfg.SatellitesPath)
	str("GS_METRICS_ADDR", &cfg.MetricsAddr)
	duration("GS_SIM_OFFSET", &cfg.SimOffset)

	if len(errs) > 0 {
		return cfg, fmt.Errorf("invalid environment: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// LoadSatellites reads a JSON array of satellite entries and validates
// each one. Element lines are not part of the file; they come from the
// catalog at setup.
func LoadSatellites(path string) ([]*model.Satellite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read satellites %s: %w", path, err)
	}
	var sats []*model.Satellite
	if err := json.Unmarshal(data, &sats); err != nil {
		return nil, fmt.Errorf("parse satellites %s: %w", path, err)
	}
	seen := make(map[string]struct{}, len(sats))
	out := sats[:0]
	for i, sat := range sats {
		if sat == nil {
			continue
		}
		if err := sat.Validate(); err != nil {
			return nil, fmt.Errorf("satellites %s entry %d: %w", path, i, err)
		}
		if _, dup := seen[sat.Name]; dup {
			return nil, fmt.Errorf("satellites %s: duplicate name %q", path, sat.Name)
		}
		seen[sat.Name] = struct{}{}
		out = append(out, sat)
	}
	return out, nil
}
