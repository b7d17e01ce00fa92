package surveillance

import (
	"sort"
	"time"
)

// WeeklyResistancePoint is the resistance rate of one antibiotic in one week.
// ResistancePct is zero when nothing was tested; check Defined before use.
type WeeklyResistancePoint struct {
	Week           time.Time  `json:"week"`
	Antibiotic     Antibiotic `json:"antibiotic"`
	TotalTested    int        `json:"total_tested"`
	ResistantCount int        `json:"resistant_count"`
	ResistancePct  float64    `json:"resistance_pct"`
}

// Defined reports whether the percentage has a positive denominator.
func (p WeeklyResistancePoint) Defined() bool {
	return p.TotalTested > 0
}

// WeekKey identifies a weekly point.
type WeekKey struct {
	Week       time.Time
	Antibiotic Antibiotic
}

// WeeklyResistance is keyed by (week, antibiotic); iteration order carries no meaning.
type WeeklyResistance map[WeekKey]WeeklyResistancePoint

// AggregateWeekly counts tested and resistant results per week bucket for each
// target antibiotic. Every bucket gets a point for every target, zero-filled
// when the antibiotic was not tested that week.
func AggregateWeekly(records []SampleRecord, antibiotics []Antibiotic) WeeklyResistance {
	type tally struct{ tested, resistant int }
	counts := make(map[WeekKey]tally)
	weeks := make(map[time.Time]struct{})

	for _, rec := range records {
		weeks[rec.Week] = struct{}{}
		for _, a := range antibiotics {
			res := rec.Result(a)
			if !res.Tested() {
				continue
			}
			key := WeekKey{Week: rec.Week, Antibiotic: a}
			t := counts[key]
			t.tested++
			if res == Resistant {
				t.resistant++
			}
			counts[key] = t
		}
	}

	out := make(WeeklyResistance, len(weeks)*len(antibiotics))
	for week := range weeks {
		for _, a := range antibiotics {
			key := WeekKey{Week: week, Antibiotic: a}
			t := counts[key]
			out[key] = WeeklyResistancePoint{
				Week:           week,
				Antibiotic:     a,
				TotalTested:    t.tested,
				ResistantCount: t.resistant,
				ResistancePct:  percent(t.resistant, t.tested),
			}
		}
	}
	return out
}

// Point looks up a single (week, antibiotic) entry.
func (w WeeklyResistance) Point(week time.Time, a Antibiotic) (WeeklyResistancePoint, bool) {
	p, ok := w[WeekKey{Week: WeekStart(week), Antibiotic: a}]
	return p, ok
}

// Series returns the points of a in chronological order.
func (w WeeklyResistance) Series(a Antibiotic) []WeeklyResistancePoint {
	out := make([]WeeklyResistancePoint, 0)
	for key, p := range w {
		if key.Antibiotic == a {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Week.Before(out[j].Week) })
	return out
}

// Weeks returns the distinct buckets in chronological order.
func (w WeeklyResistance) Weeks() []time.Time {
	seen := make(map[time.Time]struct{})
	weeks := make([]time.Time, 0)
	for key := range w {
		if _, ok := seen[key.Week]; ok {
			continue
		}
		seen[key.Week] = struct{}{}
		weeks = append(weeks, key.Week)
	}
	sort.Slice(weeks, func(i, j int) bool { return weeks[i].Before(weeks[j]) })
	return weeks
}

// Sorted flattens the map ordered by week, then by the given antibiotic order.
func (w WeeklyResistance) Sorted(order []Antibiotic) []WeeklyResistancePoint {
	out := make([]WeeklyResistancePoint, 0, len(w))
	for _, week := range w.Weeks() {
		for _, a := range order {
			if p, ok := w[WeekKey{Week: week, Antibiotic: a}]; ok {
				out = append(out, p)
			}
		}
	}
	return out
}
