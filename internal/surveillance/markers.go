package surveillance

import "time"

// WeeklyAlertMarker flags a week whose rate broke the control limit of its own weekly series.
type WeeklyAlertMarker struct {
	Week          time.Time  `json:"week"`
	Antibiotic    Antibiotic `json:"antibiotic"`
	ResistancePct float64    `json:"resistance_pct"`
	Threshold     float64    `json:"threshold"`
}

// MarkWeeklyAlerts computes mean + sigma*stddev over the defined points of a
// weekly series and returns the weeks strictly above it. Series with fewer
// than two defined points produce no markers.
func MarkWeeklyAlerts(series []WeeklyResistancePoint, sigma float64) []WeeklyAlertMarker {
	defined := make([]WeeklyResistancePoint, 0, len(series))
	xs := make([]float64, 0, len(series))
	for _, p := range series {
		if p.Defined() {
			defined = append(defined, p)
			xs = append(xs, p.ResistancePct)
		}
	}

	out := make([]WeeklyAlertMarker, 0)
	m := mean(xs)
	sd, ok := sampleStdDev(xs, m)
	if !ok {
		return out
	}
	limit := m + sigma*sd
	for _, p := range defined {
		if p.ResistancePct > limit {
			out = append(out, WeeklyAlertMarker{
				Week:          p.Week,
				Antibiotic:    p.Antibiotic,
				ResistancePct: p.ResistancePct,
				Threshold:     limit,
			})
		}
	}
	return out
}
