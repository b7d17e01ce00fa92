package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"gopkg.in/yaml.v3"

	"scnwatch/internal/surveillance"
)

// Report evaluates the sources once and prints the result.
func (a *App) Report(ctx context.Context, opts ReportOptions) error {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	eval, err := a.evaluate(ctx)
	if err != nil {
		return err
	}

	switch strings.ToLower(opts.Format) {
	case "", "table":
		return writeReportTable(out, eval.Report)
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(eval.Report)
	case "yaml":
		return writeReportYAML(out, eval.Report)
	default:
		return fmt.Errorf("unsupported format %q (table, json, yaml)", opts.Format)
	}
}

// writeReportYAML goes through JSON so field names match the json output.
func writeReportYAML(w io.Writer, rep *surveillance.Report) error {
	raw, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode report: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

func writeReportTable(w io.Writer, rep *surveillance.Report) error {
	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(writer, "Samples: %d kept of %d rows (%d without sampling date, %d unknown results)\n\n",
		rep.Stats.Kept, rep.Stats.Rows, rep.Stats.DroppedDates, rep.Stats.UnknownResults)

	if week, ok := rep.LatestWeek(); ok {
		fmt.Fprintf(writer, "Weekly resistance, week of %s\n", week.Format("2006-01-02"))
		fmt.Fprintln(writer, "Antibiotic\tTested\tResistant\tResistance%")
		for _, p := range rep.Weekly {
			if !p.Week.Equal(week) {
				continue
			}
			fmt.Fprintf(writer, "%s\t%d\t%d\t%s\n", p.Antibiotic, p.TotalTested, p.ResistantCount, formatPct(p.ResistancePct, p.Defined()))
		}
		fmt.Fprintln(writer)
	}

	if len(rep.Thresholds) > 0 {
		fmt.Fprintln(writer, "Monthly control limits")
		fmt.Fprintln(writer, "Antibiotic\tMonths\tMean\tSD\tThreshold\tLast\tStatus")
		for _, t := range rep.Thresholds {
			fmt.Fprintf(writer, "%s\t%d\t%.2f\t%.2f\t%s\t%.2f\t%s\n",
				t.Antibiotic, t.Points, t.Mean, t.StdDev,
				formatPct(t.Threshold, t.Status != surveillance.StatusInsufficient), t.Last, strings.ToUpper(string(t.Status)))
		}
		fmt.Fprintln(writer)
	}

	if len(rep.Trends) > 0 {
		fmt.Fprintln(writer, "Weekly trends")
		fmt.Fprintln(writer, "Antibiotic\tWeeks\tSlope\tTrend")
		for _, t := range rep.Trends {
			fmt.Fprintf(writer, "%s\t%d\t%+.3f\t%s\n", t.Antibiotic, t.Points, t.Slope, t.Classification)
		}
		fmt.Fprintln(writer)
	}

	if len(rep.CoResistance) > 0 {
		fmt.Fprintf(writer, "Co-resistance, week of %s\n", rep.CoResistanceWeek.Format("2006-01-02"))
		fmt.Fprintln(writer, "A\tB\tCo-tested\tCo-resistant\tCo-resistance%")
		for _, p := range rep.CoResistance {
			fmt.Fprintf(writer, "%s\t%s\t%d\t%d\t%.2f\n", p.A, p.B, p.CoTested, p.CoResistant, p.CoResistancePct)
		}
		fmt.Fprintln(writer)
	}

	if len(rep.Failures) > 0 {
		fmt.Fprintln(writer, "Unavailable metrics")
		fmt.Fprintln(writer, "Metric\tAntibiotic\tError")
		for _, f := range rep.Failures {
			fmt.Fprintf(writer, "%s\t%s\t%s\n", f.Metric, f.Antibiotic, sanitizeInline(f.Message))
		}
	}

	return writer.Flush()
}

func formatPct(v float64, defined bool) string {
	if !defined {
		return "-"
	}
	return fmt.Sprintf("%.2f", v)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
