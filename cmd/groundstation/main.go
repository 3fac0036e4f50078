package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/groundstation/core"
	"github.com/signalsfoundry/groundstation/internal/config"
	"github.com/signalsfoundry/groundstation/internal/logging"
	"github.com/signalsfoundry/groundstation/internal/observability"
	"github.com/signalsfoundry/groundstation/internal/session"
	"github.com/signalsfoundry/groundstation/internal/tle"
	"github.com/signalsfoundry/groundstation/model"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "groundstation",
		Short: "Ground-station pass scheduler and antenna tracker.",
		Long: `groundstation predicts satellite passes over the station, resolves
overlapping windows by priority and drives the antenna rotator through each
pass.

Configuration comes from GS_* environment variables; flags override them.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("catalog", "", "path to the TLE catalog (GS_CATALOG_PATH)")
	flags.String("satellites", "", "path to the JSON satellite list (GS_SATELLITES_PATH)")
	flags.String("station", "", "station name (GS_STATION_NAME)")
	flags.Float64("lat", 0, "station latitude in degrees (GS_LATITUDE)")
	flags.Float64("lon", 0, "station longitude in degrees (GS_LONGITUDE)")
	flags.Duration("sim-offset", 0, "simulated clock offset from wall time, e.g. 90m or -2h (GS_SIM_OFFSET)")

	root.AddCommand(newRunCmd(), newPassesCmd())
	return root
}

// loadConfig resolves env then applies any flags the user set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("catalog") {
		cfg.CatalogPath, _ = flags.GetString("catalog")
	}
	if flags.Changed("satellites") {
		cfg.SatellitesPath, _ = flags.GetString("satellites")
	}
	if flags.Changed("station") {
		cfg.Station.Name, _ = flags.GetString("station")
	}
	if flags.Changed("lat") {
		cfg.Station.Latitude, _ = flags.GetFloat64("lat")
	}
	if flags.Changed("lon") {
		cfg.Station.Longitude, _ = flags.GetFloat64("lon")
	}
	if flags.Changed("sim-offset") {
		cfg.SimOffset, _ = flags.GetDuration("sim-offset")
	}
	if flags.Lookup("rotator-addr") != nil && flags.Changed("rotator-addr") {
		cfg.Rotator.Address, _ = flags.GetString("rotator-addr")
	}
	if flags.Lookup("metrics-addr") != nil && flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	cfg = cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a session and track every configured satellite until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logging.NewFromEnv())
		},
	}
	cmd.Flags().String("rotator-addr", "", "rotator host (GS_ROTATOR_ADDR)")
	cmd.Flags().String("metrics-addr", "", "HTTP address for Prometheus /metrics (GS_METRICS_ADDR)")
	return cmd
}

func run(ctx context.Context, cfg config.Config, log logging.Logger) error {
	traceSettings := observability.TraceSettingsFromEnv()
	traceSettings.Station = cfg.Station.Name
	stopTracing, err := observability.StartTracing(ctx, traceSettings, log)
	if err != nil {
		log.Warn(ctx, "tracing disabled", logging.Err(err))
	}
	defer observability.StopTracing(context.Background(), stopTracing, log)

	stationMetrics, err := observability.NewStationCollector(nil)
	if err != nil {
		return fmt.Errorf("initialise station metrics: %w", err)
	}
	schedulerMetrics, err := observability.NewSchedulerCollector(nil)
	if err != nil {
		return fmt.Errorf("initialise scheduler metrics: %w", err)
	}
	metricsSrv := serveMetrics(cfg.MetricsAddr, stationMetrics, log)

	manager, err := session.NewManager(core.NewSGP4Engine(), tle.NewCatalog(cfg.CatalogPath, log), log,
		session.WithMetrics(stationMetrics, schedulerMetrics),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := manager.Close(); err != nil {
			log.Warn(context.Background(), "session close failed", logging.Err(err))
		}
	}()

	sess, err := manager.Setup(ctx, session.Config{
		Station:   cfg.Station,
		Rotator:   cfg.Rotator,
		Tracking:  cfg.Tracking,
		SimOffset: cfg.SimOffset,
	})
	if err != nil {
		return err
	}

	sats, err := config.LoadSatellites(cfg.SatellitesPath)
	if err != nil {
		return err
	}
	setupSatellites(ctx, sess, sats, log)

	<-ctx.Done()
	log.Info(context.Background(), "shutting down groundstation")

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// setupSatellites adds each configured satellite to the session. A
// satellite that cannot be set up is skipped; the rest still run.
func setupSatellites(ctx context.Context, sess *session.Session, sats []*model.Satellite, log logging.Logger) int {
	added := 0
	for _, sat := range sats {
		err := sess.SetupSatellite(ctx, sat)
		switch {
		case err == nil:
			added++
		case errors.Is(err, tle.ErrNotFound):
			// Already logged by the session.
		default:
			log.Warn(ctx, "skipping satellite", logging.Satellite(sat.Name), logging.Err(err))
		}
	}
	log.Info(ctx, "satellites configured",
		logging.Int("requested", len(sats)),
		logging.Int("added", added),
	)
	return added
}

func serveMetrics(addr string, collector *observability.StationCollector, log logging.Logger) *http.Server {
	if collector == nil || addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
