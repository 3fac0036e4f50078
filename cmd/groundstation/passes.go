package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/groundstation/core"
	"github.com/signalsfoundry/groundstation/internal/config"
	"github.com/signalsfoundry/groundstation/internal/logging"
	"github.com/signalsfoundry/groundstation/internal/passes"
	"github.com/signalsfoundry/groundstation/internal/session"
	"github.com/signalsfoundry/groundstation/internal/tle"
	"github.com/signalsfoundry/groundstation/kb"
	"github.com/signalsfoundry/groundstation/model"
	"github.com/signalsfoundry/groundstation/timectrl"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69")).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	skippedStyle = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("240"))
	borderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

const passTimeLayout = "2006-01-02 15:04:05"

// passRow is one line of the schedule listing.
type passRow struct {
	Name     string
	Priority int
	Schedule model.Schedule
	Status   string
}

func (r passRow) scheduled() bool { return r.Status == "scheduled" }

func newPassesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "passes",
		Short: "Predict and list the next pass of every configured satellite.",
		Long: `Predicts the next usable pass of every satellite in the satellite list,
resolving overlaps by priority exactly as a running session would, and prints
the resulting schedule. The rotator is not touched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			sats, err := config.LoadSatellites(cfg.SatellitesPath)
			if err != nil {
				return err
			}
			log := logging.NewFromEnv()
			clock := timectrl.NewOffsetClock(cfg.SimOffset)
			rows, err := predictSchedules(cmd.Context(), core.NewSGP4Engine(), tle.NewCatalog(cfg.CatalogPath, log), cfg.Station, clock, sats, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %.4f, %.4f  at %s UTC\n",
				cfg.Station.Name, cfg.Station.Latitude, cfg.Station.Longitude, clock.Now().UTC().Format(passTimeLayout))
			renderSchedule(cmd.OutOrStdout(), rows)
			return nil
		},
	}
}

// predictSchedules loads every satellite's elements, adds them to a
// satellite set in list order and predicts each, so overlap resolution sees
// the same set a session would.
func predictSchedules(ctx context.Context, engine core.Engine, catalog session.Catalog, station model.Station, clock timectrl.SimClock, sats []*model.Satellite, log logging.Logger) ([]passRow, error) {
	if log == nil {
		log = logging.Noop()
	}
	set := kb.NewKnowledgeBase()
	predictor, err := passes.NewPredictor(engine, station, set, clock, log, nil)
	if err != nil {
		return nil, err
	}

	rows := make([]passRow, len(sats))
	for i, sat := range sats {
		rows[i] = passRow{Name: sat.Name, Priority: sat.Priority}
		line1, line2, err := catalog.Lookup(sat.Name)
		if err != nil {
			rows[i].Status = "not in catalog"
			if !errors.Is(err, tle.ErrNotFound) {
				rows[i].Status = "catalog error"
				log.Warn(ctx, "catalog lookup failed", logging.Satellite(sat.Name), logging.Err(err))
			}
			continue
		}
		sat.SetElements(line1, line2)
		if err := set.AddSatellite(sat); err != nil {
			rows[i].Status = "duplicate"
			continue
		}
		rows[i].Status = "pending"
	}

	for i, sat := range sats {
		if rows[i].Status != "pending" {
			continue
		}
		err := predictor.Predict(ctx, sat)
		switch {
		case err == nil:
			rows[i].Status = "scheduled"
		case errors.Is(err, core.ErrNoPass):
			rows[i].Status = "no pass"
		case errors.Is(err, passes.ErrSchedulingConflict):
			rows[i].Status = "conflict"
		default:
			rows[i].Status = "engine error"
		}
	}

	// A later higher-priority prediction may have displaced an earlier one.
	for i, sat := range sats {
		if rows[i].Status != "scheduled" && rows[i].Status != "conflict" {
			continue
		}
		rows[i].Schedule = sat.Schedule()
		if rows[i].Schedule.IsZero() {
			rows[i].Status = "no pass"
		} else {
			rows[i].Status = "scheduled"
		}
	}
	return rows, nil
}

func renderSchedule(w io.Writer, rows []passRow) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers("SATELLITE", "PRIO", "AOS (UTC)", "LOS (UTC)", "AOS AZ", "LOS AZ", "ZT", "STATUS").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if row >= 0 && row < len(rows) && !rows[row].scheduled() {
				return skippedStyle
			}
			return cellStyle
		})

	for _, r := range rows {
		if !r.scheduled() {
			t.Row(r.Name, strconv.Itoa(r.Priority), "-", "-", "-", "-", "-", r.Status)
			continue
		}
		sch := r.Schedule
		zt := ""
		if sch.ZeroTransition {
			zt = "yes"
		}
		t.Row(
			r.Name,
			strconv.Itoa(r.Priority),
			sch.NextAOS.UTC().Format(passTimeLayout),
			sch.NextLOS.UTC().Format(passTimeLayout),
			fmt.Sprintf("%.1f", sch.AOSAzimuth),
			fmt.Sprintf("%.1f", sch.LOSAzimuth),
			zt,
			r.Status+" ("+sch.NextLOS.Sub(sch.NextAOS).Round(time.Second).String()+")",
		)
	}
	fmt.Fprintln(w, t.Render())
}
