package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"scnwatch/internal/storage"
)

// History prints recently emitted alerts, or recent evaluation runs.
func (a *App) History(ctx context.Context, opts HistoryOptions) error {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show history")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Antibiotic != "" {
		return writeRunSeries(ctx, out, store, opts.RunID, opts.Antibiotic)
	}

	if opts.Runs {
		runs, err := store.ListRecentRuns(ctx, opts.Limit)
		if err != nil {
			return err
		}
		return writeRuns(out, runs)
	}

	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	return writeAlerts(out, alerts)
}

func writeAlerts(w io.Writer, alerts []storage.AlertRecord) error {
	if len(alerts) == 0 {
		fmt.Fprintln(w, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Sent (UTC)\tAntibiotic\tMonth\tLast%\tThreshold%\tMean%\tSD\tChannels")
	for _, alert := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.CreatedAt.UTC().Format(time.RFC3339),
			alert.Antibiotic,
			alert.Month.Format("2006-01"),
			alert.LastValue.StringFixed(2),
			alert.Threshold.StringFixed(2),
			alert.Mean.StringFixed(2),
			alert.StdDev.StringFixed(2),
			joinChannels(alert.Channels),
		)
	}
	return writer.Flush()
}

func writeRuns(w io.Writer, runs []storage.EvaluationRun) error {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no evaluations found")
		return nil
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Evaluated (UTC)\tRun\tLatest week\tSamples\tDropped\tAlerting\tFailures")
	for _, run := range runs {
		latest := "-"
		if run.LatestWeek != nil {
			latest = run.LatestWeek.Format("2006-01-02")
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			run.EvaluatedAt.UTC().Format(time.RFC3339),
			run.ID,
			latest,
			run.Samples,
			run.Dropped,
			run.Alerting,
			run.Failures,
		)
	}
	return writer.Flush()
}

// writeRunSeries prints the weekly series one run stored for an antibiotic.
func writeRunSeries(ctx context.Context, w io.Writer, runs storage.RunStore, rawID, antibiotic string) error {
	var runID uuid.UUID
	if rawID != "" {
		id, err := uuid.Parse(rawID)
		if err != nil {
			return fmt.Errorf("parse run id %q: %w", rawID, err)
		}
		runID = id
	} else {
		latest, err := runs.ListRecentRuns(ctx, 1)
		if err != nil {
			return err
		}
		if len(latest) == 0 {
			fmt.Fprintln(w, "no evaluations found")
			return nil
		}
		runID = latest[0].ID
	}

	points, err := runs.ListWeeklySeries(ctx, runID, antibiotic)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		fmt.Fprintf(w, "no weekly series stored for %s in run %s\n", antibiotic, runID)
		return nil
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Run %s, %s\n", runID, antibiotic)
	fmt.Fprintln(writer, "Week\tTested\tResistant\tResistance%")
	for _, p := range points {
		pct := "-"
		if p.ResistancePct.Valid {
			pct = p.ResistancePct.Decimal.StringFixed(1)
		}
		fmt.Fprintf(writer, "%s\t%d\t%d\t%s\n", p.Week.Format("2006-01-02"), p.TotalTested, p.ResistantCount, pct)
	}
	return writer.Flush()
}

func joinChannels(channels []string) string {
	if len(channels) == 0 {
		return "-"
	}
	return strings.Join(channels, ",")
}
