package surveillance

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// RawSample is one row of the per-sample source before validation.
type RawSample struct {
	SampleID       string
	SamplingDate   string
	RequestingUnit string
	PatientID      string
	// Results holds the raw cell per antibiotic column found in the source.
	Results map[string]string
}

// SampleTable is the per-sample source as delivered by a loader.
type SampleTable struct {
	// Columns lists every header of the source, used for schema validation.
	Columns []string
	Rows    []RawSample
}

// NormalizeStats counts what the normalizer filtered out.
type NormalizeStats struct {
	Rows           int `json:"rows"`
	Kept           int `json:"kept"`
	DroppedDates   int `json:"dropped_dates"`
	UnknownResults int `json:"unknown_results"`
}

// Dataset is an immutable snapshot of normalized samples.
type Dataset struct {
	Records []SampleRecord
	// Available lists panel antibiotics present in the source, in panel order.
	Available []Antibiotic
	// MissingColumns lists panel antibiotics absent from the source header.
	MissingColumns []Antibiotic
	Stats          NormalizeStats
}

// dayFirstLayouts are tried in order. ISO dates are unambiguous and accepted too.
var dayFirstLayouts = []string{
	"02/01/2006",
	"2/1/2006",
	"02/01/06",
	"2/1/06",
	"02-01-2006",
	"2-1-2006",
	"02.01.2006",
	"2.1.2006",
	"02/01/2006 15:04",
	"02/01/2006 15:04:05",
	"2/1/2006 15:04",
	"02-01-2006 15:04:05",
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// ParseDayFirst parses a sampling date using the day-first convention of the
// laboratory exports. The returned time is truncated to its UTC calendar day.
func ParseDayFirst(raw string) (time.Time, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dayFirstLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// Normalize validates a sample table against the panel. Rows with an
// unparseable sampling date are dropped and counted; unexpected result values
// become Missing. A table without rows yields ErrEmptyInput.
func Normalize(table *SampleTable, panel Panel) (Dataset, error) {
	if table == nil || len(table.Rows) == 0 {
		return Dataset{}, fmt.Errorf("normalize samples: %w", ErrEmptyInput)
	}

	present := make(map[string]struct{}, len(table.Columns))
	for _, col := range table.Columns {
		present[strings.TrimSpace(col)] = struct{}{}
	}

	ds := Dataset{Stats: NormalizeStats{Rows: len(table.Rows)}}
	for _, a := range panel.antibiotics {
		if _, ok := present[string(a)]; ok {
			ds.Available = append(ds.Available, a)
		} else {
			ds.MissingColumns = append(ds.MissingColumns, a)
		}
	}

	records := make([]SampleRecord, 0, len(table.Rows))
	for _, row := range table.Rows {
		date, ok := ParseDayFirst(row.SamplingDate)
		if !ok {
			ds.Stats.DroppedDates++
			continue
		}

		results := make(map[Antibiotic]Result, len(ds.Available))
		for _, a := range ds.Available {
			res, known := ParseResult(row.Results[string(a)])
			if !known {
				ds.Stats.UnknownResults++
			}
			results[a] = res
		}

		records = append(records, SampleRecord{
			SampleID:       strings.TrimSpace(row.SampleID),
			SamplingDate:   date,
			Week:           WeekStart(date),
			RequestingUnit: strings.TrimSpace(row.RequestingUnit),
			PatientID:      strings.TrimSpace(row.PatientID),
			Results:        results,
		})
	}

	ds.Records = records
	ds.Stats.Kept = len(records)
	if len(records) == 0 {
		return ds, fmt.Errorf("normalize samples: no parseable sampling date: %w", ErrEmptyInput)
	}
	return ds, nil
}

// Weeks returns the distinct week buckets of the dataset in chronological order.
func (d Dataset) Weeks() []time.Time {
	seen := make(map[time.Time]struct{})
	weeks := make([]time.Time, 0)
	for _, rec := range d.Records {
		if _, ok := seen[rec.Week]; ok {
			continue
		}
		seen[rec.Week] = struct{}{}
		weeks = append(weeks, rec.Week)
	}
	sort.Slice(weeks, func(i, j int) bool { return weeks[i].Before(weeks[j]) })
	return weeks
}

// LatestWeek returns the most recent week bucket present.
func (d Dataset) LatestWeek() (time.Time, bool) {
	var latest time.Time
	for _, rec := range d.Records {
		if rec.Week.After(latest) {
			latest = rec.Week
		}
	}
	return latest, !latest.IsZero()
}

// InWeek returns the records sampled during the given week bucket.
func (d Dataset) InWeek(week time.Time) []SampleRecord {
	week = WeekStart(week)
	out := make([]SampleRecord, 0)
	for _, rec := range d.Records {
		if rec.Week.Equal(week) {
			out = append(out, rec)
		}
	}
	return out
}

// IsAvailable reports whether the source carried a column for a.
func (d Dataset) IsAvailable(a Antibiotic) bool {
	for _, av := range d.Available {
		if av == a {
			return true
		}
	}
	return false
}
