package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
	"github.com/xuri/excelize/v2"

	"scnwatch/internal/surveillance"
)

// sheet is one exported table. Cells hold string, int or float64; nil is an
// undefined value and renders blank.
type sheet struct {
	name   string
	header []string
	rows   [][]any
}

// Export evaluates the sources and writes the metrics as CSV files, an XLSX
// workbook and/or PNG charts.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVDir == "" && opts.XLSXPath == "" && opts.PNGDir == "" {
		return errors.New("at least one of --csv-dir, --xlsx or --png-dir must be provided")
	}
	maxWeeks := a.Config.ResolveMaxWeeks(opts.MaxWeeks)

	eval, err := a.evaluate(ctx)
	if err != nil {
		return err
	}
	rep := trimWeeks(eval.Report, maxWeeks)
	sheets := reportSheets(rep)

	a.Logger.Info().Int("weeks", len(rep.Weeks)).Int("max_weeks", maxWeeks).Msg("exporting report")

	if opts.CSVDir != "" {
		for _, s := range sheets {
			if err := writeSheetCSV(filepath.Join(opts.CSVDir, s.name+".csv"), s); err != nil {
				return err
			}
		}
	}

	if opts.XLSXPath != "" {
		if err := writeWorkbook(opts.XLSXPath, sheets); err != nil {
			return err
		}
	}

	if opts.PNGDir != "" {
		written, skipped, err := writeCharts(opts.PNGDir, rep)
		if err != nil {
			return err
		}
		for _, name := range skipped {
			a.Logger.Warn().Str("chart", name).Msg("not enough data points to draw chart")
		}
		a.Logger.Info().Int("charts", written).Str("dir", opts.PNGDir).Msg("charts written")
	}

	return nil
}

// trimWeeks keeps the weekly series and markers of the last maxWeeks weeks.
func trimWeeks(rep *surveillance.Report, maxWeeks int) *surveillance.Report {
	if maxWeeks <= 0 || len(rep.Weeks) <= maxWeeks {
		return rep
	}
	trimmed := *rep
	cutoff := rep.Weeks[len(rep.Weeks)-maxWeeks]
	trimmed.Weeks = rep.Weeks[len(rep.Weeks)-maxWeeks:]

	trimmed.Weekly = make([]surveillance.WeeklyResistancePoint, 0, len(rep.Weekly))
	for _, p := range rep.Weekly {
		if !p.Week.Before(cutoff) {
			trimmed.Weekly = append(trimmed.Weekly, p)
		}
	}
	trimmed.Markers = make([]surveillance.WeeklyAlertMarker, 0, len(rep.Markers))
	for _, m := range rep.Markers {
		if !m.Week.Before(cutoff) {
			trimmed.Markers = append(trimmed.Markers, m)
		}
	}
	return &trimmed
}

func reportSheets(rep *surveillance.Report) []sheet {
	weekly := sheet{name: "weekly", header: []string{"week", "antibiotic", "total_tested", "resistant_count", "resistance_pct"}}
	for _, p := range rep.Weekly {
		weekly.rows = append(weekly.rows, []any{day(p.Week), string(p.Antibiotic), p.TotalTested, p.ResistantCount, defined(p.ResistancePct, p.Defined())})
	}

	alerts := sheet{name: "alerts", header: []string{"antibiotic", "months", "mean", "stddev", "threshold", "last", "last_month", "status"}}
	for _, t := range rep.Thresholds {
		ok := t.Status != surveillance.StatusInsufficient
		alerts.rows = append(alerts.rows, []any{string(t.Antibiotic), t.Points, t.Mean, defined(t.StdDev, ok), defined(t.Threshold, ok), t.Last, month(t.LastMonth), string(t.Status)})
	}

	markers := sheet{name: "weekly_alerts", header: []string{"week", "antibiotic", "resistance_pct", "threshold"}}
	for _, m := range rep.Markers {
		markers.rows = append(markers.rows, []any{day(m.Week), string(m.Antibiotic), m.ResistancePct, m.Threshold})
	}

	trends := sheet{name: "trends", header: []string{"antibiotic", "weeks", "slope", "classification"}}
	for _, t := range rep.Trends {
		trends.rows = append(trends.rows, []any{string(t.Antibiotic), t.Points, t.Slope, string(t.Classification)})
	}

	co := sheet{name: "coresistance", header: []string{"week", "antibiotic_a", "antibiotic_b", "co_tested", "co_resistant", "co_resistance_pct"}}
	for _, p := range rep.CoResistance {
		co.rows = append(co.rows, []any{day(p.Week), string(p.A), string(p.B), p.CoTested, p.CoResistant, p.CoResistancePct})
	}

	phen := sheet{name: "phenotypes", header: []string{"week", "category", "count", "total", "pct"}}
	for _, s := range rep.Phenotypes {
		phen.rows = append(phen.rows, []any{s.Week, s.Category, s.Count, s.Total, defined(s.Pct, s.Defined())})
	}

	failures := sheet{name: "failures", header: []string{"metric", "antibiotic", "error"}}
	for _, f := range rep.Failures {
		failures.rows = append(failures.rows, []any{f.Metric, string(f.Antibiotic), sanitizeInline(f.Message)})
	}

	return []sheet{weekly, alerts, markers, trends, co, phen, failures}
}

func defined(v float64, ok bool) any {
	if !ok {
		return nil
	}
	return v
}

func day(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func month(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01")
}

func cellString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', 3, 64)
	default:
		return fmt.Sprint(val)
	}
}

func writeSheetCSV(path string, s sheet) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write(s.header); err != nil {
		return err
	}
	for _, row := range s.rows {
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = cellString(v)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeWorkbook(path string, sheets []sheet) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	wb := excelize.NewFile()
	defer wb.Close()

	for i, s := range sheets {
		if i == 0 {
			if err := wb.SetSheetName(wb.GetSheetName(0), s.name); err != nil {
				return fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := wb.NewSheet(s.name); err != nil {
			return fmt.Errorf("create sheet %s: %w", s.name, err)
		}

		header := make([]any, len(s.header))
		for j, h := range s.header {
			header[j] = h
		}
		if err := wb.SetSheetRow(s.name, "A1", &header); err != nil {
			return fmt.Errorf("write %s header: %w", s.name, err)
		}
		for r, row := range s.rows {
			cell, err := excelize.CoordinatesToCellName(1, r+2)
			if err != nil {
				return err
			}
			if err := wb.SetSheetRow(s.name, cell, &row); err != nil {
				return fmt.Errorf("write %s row %d: %w", s.name, r+2, err)
			}
		}
	}

	if err := wb.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

// writeCharts draws one weekly resistance chart per antibiotic plus the
// phenotype shares. Charts without enough defined points are skipped and named.
func writeCharts(dir string, rep *surveillance.Report) (int, []string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, nil, err
	}

	var (
		written int
		skipped []string
		order   []surveillance.Antibiotic
		seen    = make(map[surveillance.Antibiotic]bool)
	)
	for _, p := range rep.Weekly {
		if !seen[p.Antibiotic] {
			seen[p.Antibiotic] = true
			order = append(order, p.Antibiotic)
		}
	}

	markers := make(map[surveillance.Antibiotic][]surveillance.WeeklyAlertMarker)
	for _, m := range rep.Markers {
		markers[m.Antibiotic] = append(markers[m.Antibiotic], m)
	}

	for _, a := range order {
		name := "weekly_" + fileSafe(string(a)) + ".png"
		ok, err := writeWeeklyPNG(filepath.Join(dir, name), a, rep.Series(a), markers[a])
		if err != nil {
			return written, skipped, fmt.Errorf("chart %s: %w", a, err)
		}
		if !ok {
			skipped = append(skipped, name)
			continue
		}
		written++
	}

	ok, err := writePhenotypePNG(filepath.Join(dir, "phenotypes.png"), rep.Phenotypes)
	if err != nil {
		return written, skipped, fmt.Errorf("phenotype chart: %w", err)
	}
	if ok {
		written++
	} else {
		skipped = append(skipped, "phenotypes.png")
	}
	return written, skipped, nil
}

func writeWeeklyPNG(path string, a surveillance.Antibiotic, series []surveillance.WeeklyResistancePoint, marks []surveillance.WeeklyAlertMarker) (bool, error) {
	var (
		x []time.Time
		y []float64
	)
	for _, p := range series {
		if p.Defined() {
			x = append(x, p.Week)
			y = append(y, p.ResistancePct)
		}
	}
	if len(x) < 2 {
		return false, nil
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f%%")
	}
	graph := chart.Chart{
		Title:  string(a),
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Resistance (%)",
			Range:          &chart.ContinuousRange{Min: 0, Max: 100},
			ValueFormatter: pctFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Weekly resistance",
				XValues: x,
				YValues: y,
			},
		},
	}

	if len(marks) > 0 {
		mx := make([]time.Time, len(marks))
		my := make([]float64, len(marks))
		for i, m := range marks {
			mx[i] = m.Week
			my[i] = m.ResistancePct
		}
		graph.Series = append(graph.Series, chart.TimeSeries{
			Name: "Above control limit",
			Style: chart.Style{
				StrokeWidth: chart.Disabled,
				DotWidth:    6,
				DotColor:    drawing.ColorRed,
			},
			XValues: mx,
			YValues: my,
		})
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return true, renderPNG(path, graph)
}

func writePhenotypePNG(path string, shares []surveillance.PhenotypeShare) (bool, error) {
	var (
		bars  []chart.StackedBar
		index = make(map[string]int)
	)
	for _, s := range shares {
		if !s.Defined() || s.Count <= 0 {
			continue
		}
		i, ok := index[s.Week]
		if !ok {
			i = len(bars)
			index[s.Week] = i
			bars = append(bars, chart.StackedBar{Name: s.Week})
		}
		bars[i].Values = append(bars[i].Values, chart.Value{Label: s.Category, Value: s.Pct})
	}
	if len(bars) == 0 {
		return false, nil
	}

	barWidth := 1200/len(bars) - 10
	if barWidth < 8 {
		barWidth = 8
	}
	for i := range bars {
		bars[i].Width = barWidth
	}

	graph := chart.StackedBarChart{
		Title:      "Phenotype shares",
		Width:      1280,
		Height:     720,
		BarSpacing: 10,
		Bars:       bars,
	}
	return true, renderPNG(path, graph)
}

type pngRenderer interface {
	Render(rp chart.RendererProvider, w io.Writer) error
}

func renderPNG(path string, graph pngRenderer) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func fileSafe(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
