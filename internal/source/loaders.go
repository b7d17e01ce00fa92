package source

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"scnwatch/internal/surveillance"
)

// SampleColumns names the key columns of the per-sample source.
type SampleColumns struct {
	SampleID       string
	SamplingDate   string
	RequestingUnit string
	PatientID      string
}

// SamplesFromTable maps a per-sample table onto the panel. Antibiotic headers
// are matched case-insensitively and reported under their panel spelling.
// Only the sampling date column is mandatory.
func SamplesFromTable(t *Table, cols SampleColumns, panel surveillance.Panel) (*surveillance.SampleTable, error) {
	dateIdx, ok := t.Column(cols.SamplingDate)
	if !ok {
		return nil, fmt.Errorf("sampling date column %q: %w", cols.SamplingDate, surveillance.ErrMissingColumn)
	}
	idIdx := optionalColumn(t, cols.SampleID)
	unitIdx := optionalColumn(t, cols.RequestingUnit)
	patientIdx := optionalColumn(t, cols.PatientID)

	abIdx := make(map[string]int, panel.Len())
	columns := make([]string, 0, panel.Len()+1)
	columns = append(columns, cols.SamplingDate)
	for _, a := range panel.Antibiotics() {
		if idx, found := t.Column(string(a)); found {
			abIdx[string(a)] = idx
			columns = append(columns, string(a))
		}
	}

	out := &surveillance.SampleTable{Columns: columns, Rows: make([]surveillance.RawSample, 0, len(t.Rows))}
	for _, row := range t.Rows {
		results := make(map[string]string, len(abIdx))
		for name, idx := range abIdx {
			results[name] = t.Cell(row, idx)
		}
		out.Rows = append(out.Rows, surveillance.RawSample{
			SampleID:       t.Cell(row, idIdx),
			SamplingDate:   t.Cell(row, dateIdx),
			RequestingUnit: t.Cell(row, unitIdx),
			PatientID:      t.Cell(row, patientIdx),
			Results:        results,
		})
	}
	return out, nil
}

// MonthlyFromTable builds one series per panel antibiotic found in the table.
// The month column defaults to the first column. Rows whose month cannot be
// parsed are skipped, and so are blank or non-numeric cells.
func MonthlyFromTable(t *Table, monthColumn string, panel surveillance.Panel) ([]surveillance.MonthlySeries, error) {
	monthIdx := 0
	if monthColumn != "" {
		idx, ok := t.Column(monthColumn)
		if !ok {
			return nil, fmt.Errorf("month column %q: %w", monthColumn, surveillance.ErrMissingColumn)
		}
		monthIdx = idx
	}
	if len(t.Header) == 0 {
		return nil, fmt.Errorf("monthly table: %w", surveillance.ErrEmptyInput)
	}

	type rowMonth struct {
		month time.Time
		row   []string
	}
	rows := make([]rowMonth, 0, len(t.Rows))
	for _, row := range t.Rows {
		month, ok := ParseMonth(t.Cell(row, monthIdx))
		if !ok {
			continue
		}
		rows = append(rows, rowMonth{month: month, row: row})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].month.Before(rows[j].month) })

	series := make([]surveillance.MonthlySeries, 0, panel.Len())
	for _, a := range panel.Antibiotics() {
		idx, ok := t.Column(string(a))
		if !ok || idx == monthIdx {
			continue
		}
		s := surveillance.MonthlySeries{Antibiotic: a, Values: make([]surveillance.MonthlyValue, 0, len(rows))}
		for _, r := range rows {
			v, ok := ParseNumber(t.Cell(r.row, idx))
			if !ok {
				continue
			}
			s.Values = append(s.Values, surveillance.MonthlyValue{Month: r.month, Value: v})
		}
		series = append(series, s)
	}
	return series, nil
}

// PhenotypesFromTable reads the weekly phenotype counts. Missing category
// columns are a structural error; blank cells count as zero.
func PhenotypesFromTable(t *Table, weekColumn string, categories []string) ([]surveillance.PhenotypeWeek, error) {
	weekIdx := 0
	if weekColumn != "" {
		idx, ok := t.Column(weekColumn)
		if !ok {
			return nil, fmt.Errorf("week column %q: %w", weekColumn, surveillance.ErrMissingColumn)
		}
		weekIdx = idx
	}

	catIdx := make([]int, len(categories))
	for i, c := range categories {
		idx, ok := t.Column(c)
		if !ok {
			return nil, fmt.Errorf("phenotype column %q: %w", c, surveillance.ErrMissingColumn)
		}
		catIdx[i] = idx
	}

	out := make([]surveillance.PhenotypeWeek, 0, len(t.Rows))
	for _, row := range t.Rows {
		week := t.Cell(row, weekIdx)
		if week == "" {
			continue
		}
		counts := make(map[string]float64, len(categories))
		for i, c := range categories {
			if v, ok := ParseNumber(t.Cell(row, catIdx[i])); ok {
				counts[c] = v
			}
		}
		out = append(out, surveillance.PhenotypeWeek{Week: week, Counts: counts})
	}
	return out, nil
}

var monthLayouts = []string{
	"2006-01",
	"2006/01",
	"01/2006",
	"1/2006",
	"01-2006",
	"Jan 2006",
	"January 2006",
	"Jan-2006",
	"2006-01-02",
	"02/01/2006",
}

// ParseMonth returns the first day (UTC) of the month described by raw.
func ParseMonth(raw string) (time.Time, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range monthLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// ParseNumber accepts decimal points or commas and an optional trailing percent sign.
func ParseNumber(raw string) (float64, bool) {
	value := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "%"))
	if value == "" {
		return 0, false
	}
	if strings.Contains(value, ",") && !strings.Contains(value, ".") {
		value = strings.Replace(value, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func optionalColumn(t *Table, name string) int {
	if name == "" {
		return -1
	}
	if idx, ok := t.Column(name); ok {
		return idx
	}
	return -1
}
