package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/groundstation/model"
)

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestDefaultMatchesStationDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Station.Name != "ISU GS" || cfg.Station.Latitude != 48.5833 || cfg.Station.Longitude != 7.75 {
		t.Fatalf("station = %+v, want ISU GS at 48.5833/7.75", cfg.Station)
	}
	if cfg.Rotator.Address != "127.0.0.1" || cfg.Rotator.AzimuthPort != 8080 || cfg.Rotator.ElevationPort != 8081 {
		t.Fatalf("rotator = %+v", cfg.Rotator)
	}
	if cfg.Tracking.ParkLead != 120*time.Second {
		t.Fatalf("ParkLead = %v, want 120s", cfg.Tracking.ParkLead)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := fromLookup(envLookup(map[string]string{
		"GS_STATION_NAME":    "Backyard",
		"GS_LATITUDE":        "51.5",
		"GS_LONGITUDE":       "-0.12",
		"GS_ROTATOR_ADDR":    "10.0.0.7",
		"GS_ROTATOR_AZ_PORT": "4533",
		"GS_ROTATOR_EL_PORT": "4534",
		"GS_ROTATOR_TIMEOUT": "5s",
		"GS_CATALOG_PATH":    "/tmp/amateur.txt",
		"GS_METRICS_ADDR":    ":9191",
		"GS_SIM_OFFSET":      "-90m",
	}))
	if err != nil {
		t.Fatalf("fromLookup: %v", err)
	}
	if cfg.Station.Name != "Backyard" || cfg.Station.Latitude != 51.5 || cfg.Station.Longitude != -0.12 {
		t.Fatalf("station = %+v", cfg.Station)
	}
	if cfg.Rotator.Address != "10.0.0.7" || cfg.Rotator.AzimuthPort != 4533 || cfg.Rotator.ElevationPort != 4534 {
		t.Fatalf("rotator = %+v", cfg.Rotator)
	}
	if cfg.Rotator.Timeout != 5*time.Second {
		t.Fatalf("rotator timeout = %v, want 5s", cfg.Rotator.Timeout)
	}
	if cfg.CatalogPath != "/tmp/amateur.txt" || cfg.MetricsAddr != ":9191" {
		t.Fatalf("paths = %q %q", cfg.CatalogPath, cfg.MetricsAddr)
	}
	if cfg.SimOffset != -90*time.Minute {
		t.Fatalf("SimOffset = %v, want -90m", cfg.SimOffset)
	}
}

func TestFromEnvReportsMalformedValues(t *testing.T) {
	_, err := fromLookup(envLookup(map[string]string{
		"GS_LATITUDE":        "north",
		"GS_ROTATOR_TIMEOUT": "soon",
	}))
	if err == nil {
		t.Fatalf("expected error for malformed env")
	}
	for _, key := range []string{"GS_LATITUDE", "GS_ROTATOR_TIMEOUT"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("error %q does not mention %s", err, key)
		}
	}
}

func TestApplyDefaultsFillsZeroFields(t *testing.T) {
	cfg := Config{Station: model.Station{Name: "Custom"}}.ApplyDefaults()
	if cfg.Station.Name != "Custom" {
		t.Fatalf("station name overwritten: %q", cfg.Station.Name)
	}
	if cfg.Station.Latitude != 48.5833 {
		t.Fatalf("latitude = %v, want default", cfg.Station.Latitude)
	}
	if cfg.Rotator.Timeout != 30*time.Second || cfg.Tracking.TrackInterval != 100*time.Millisecond {
		t.Fatalf("defaults not applied: %+v %+v", cfg.Rotator, cfg.Tracking)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsBadStation(t *testing.T) {
	cfg := Default()
	cfg.Station.Longitude = 200
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for longitude 200")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "satellites.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadSatellites(t *testing.T) {
	path := writeFile(t, `[
  {"name": "NOAA 19", "min_elevation": 10, "frequency": 137100000, "bandwidth": 40000, "modulation": "FM", "priority": 2},
  {"name": "ISS", "min_elevation": 15, "frequency": 145800000, "bandwidth": 12500, "modulation": "AFSK", "priority": 5}
]`)
	sats, err := LoadSatellites(path)
	if err != nil {
		t.Fatalf("LoadSatellites: %v", err)
	}
	if len(sats) != 2 {
		t.Fatalf("loaded %d satellites, want 2", len(sats))
	}
	if sats[1].Name != "ISS" || sats[1].Modulation != model.ModulationAFSK || sats[1].Priority != 5 {
		t.Fatalf("second entry = %+v", sats[1])
	}
	if sats[0].MinElevation != 10 || sats[0].Frequency != 137100000 {
		t.Fatalf("first entry = %+v", sats[0])
	}
}

func TestLoadSatellitesRejectsDuplicatesAndInvalid(t *testing.T) {
	dup := writeFile(t, `[{"name": "ISS"}, {"name": "ISS"}]`)
	if _, err := LoadSatellites(dup); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("duplicate error = %v", err)
	}
	bad := writeFile(t, `[{"name": "ISS", "min_elevation": 95}]`)
	if _, err := LoadSatellites(bad); err == nil {
		t.Fatalf("expected error for min elevation 95")
	}
	if _, err := LoadSatellites(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
