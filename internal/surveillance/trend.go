package surveillance

// DefaultTrendCutoff is the absolute slope, in percentage points per week,
// beyond which a series counts as rising or falling.
const DefaultTrendCutoff = 0.5

// TrendClass labels the direction of a weekly series.
type TrendClass string

const (
	TrendRising       TrendClass = "rising"
	TrendFalling      TrendClass = "falling"
	TrendStable       TrendClass = "stable"
	TrendInsufficient TrendClass = "insufficient_data"
)

// TrendResult is the fitted trend of one antibiotic.
type TrendResult struct {
	Antibiotic     Antibiotic `json:"antibiotic"`
	Points         int        `json:"points"`
	Slope          float64    `json:"slope"`
	Classification TrendClass `json:"classification"`
}

// ClassifyTrend fits resistance_pct against the position of each point in the
// given order (0..n-1). Actual spacing between weeks is not used, so a gap of
// several weeks weighs the same as consecutive weeks. Points without tested
// samples are skipped.
func ClassifyTrend(a Antibiotic, points []WeeklyResistancePoint, cutoff float64) TrendResult {
	ys := make([]float64, 0, len(points))
	for _, p := range points {
		if p.Defined() {
			ys = append(ys, p.ResistancePct)
		}
	}

	out := TrendResult{Antibiotic: a, Points: len(ys), Classification: TrendInsufficient}
	slope, ok := slopeByIndex(ys)
	if !ok {
		return out
	}
	out.Slope = slope
	out.Classification = classifySlope(slope, cutoff)
	return out
}

func classifySlope(slope, cutoff float64) TrendClass {
	switch {
	case slope > cutoff:
		return TrendRising
	case slope < -cutoff:
		return TrendFalling
	default:
		return TrendStable
	}
}

// ClassifyTrends classifies each requested antibiotic over its chronological weekly series.
func ClassifyTrends(weekly WeeklyResistance, antibiotics []Antibiotic, cutoff float64) []TrendResult {
	out := make([]TrendResult, len(antibiotics))
	for i, a := range antibiotics {
		out[i] = ClassifyTrend(a, weekly.Series(a), cutoff)
	}
	return out
}
