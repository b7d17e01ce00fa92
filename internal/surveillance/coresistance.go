package surveillance

import "time"

// CoResistancePair summarises joint resistance to A and B within one week.
type CoResistancePair struct {
	Week            time.Time  `json:"week"`
	A               Antibiotic `json:"a"`
	B               Antibiotic `json:"b"`
	CoTested        int        `json:"co_tested"`
	CoResistant     int        `json:"co_resistant"`
	CoResistancePct float64    `json:"co_resistance_pct"`
}

// Pairs lists every unordered pair of distinct antibiotics, following the
// order of the input. Duplicated names are collapsed first.
func Pairs(antibiotics []Antibiotic) [][2]Antibiotic {
	uniq := make([]Antibiotic, 0, len(antibiotics))
	seen := make(map[Antibiotic]struct{}, len(antibiotics))
	for _, a := range antibiotics {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		uniq = append(uniq, a)
	}

	out := make([][2]Antibiotic, 0, len(uniq)*(len(uniq)-1)/2)
	for i := 0; i < len(uniq); i++ {
		for j := i + 1; j < len(uniq); j++ {
			out = append(out, [2]Antibiotic{uniq[i], uniq[j]})
		}
	}
	return out
}

// AnalyzeCoResistance restricts records to the given week and counts, per
// pair, samples tested for both antibiotics and samples resistant to both.
// Pairs never tested together that week are omitted.
func AnalyzeCoResistance(records []SampleRecord, week time.Time, antibiotics []Antibiotic) []CoResistancePair {
	week = WeekStart(week)
	inWeek := make([]SampleRecord, 0)
	for _, rec := range records {
		if rec.Week.Equal(week) {
			inWeek = append(inWeek, rec)
		}
	}

	out := make([]CoResistancePair, 0)
	for _, pair := range Pairs(antibiotics) {
		a, b := pair[0], pair[1]
		var tested, resistant int
		for _, rec := range inWeek {
			ra, rb := rec.Result(a), rec.Result(b)
			if !ra.Tested() || !rb.Tested() {
				continue
			}
			tested++
			if ra == Resistant && rb == Resistant {
				resistant++
			}
		}
		if tested == 0 {
			continue
		}
		out = append(out, CoResistancePair{
			Week:            week,
			A:               a,
			B:               b,
			CoTested:        tested,
			CoResistant:     resistant,
			CoResistancePct: percent(resistant, tested),
		})
	}
	return out
}
