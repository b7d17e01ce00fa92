package surveillance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func mustPanel(t *testing.T, names ...string) Panel {
	t.Helper()
	p, err := NewPanel(names...)
	require.NoError(t, err)
	return p
}

func TestParseResult(t *testing.T) {
	cases := map[string]struct {
		want  Result
		known bool
	}{
		"R":   {Resistant, true},
		" s ": {Susceptible, true},
		"":    {Missing, true},
		"I":   {Missing, true},
		"NA":  {Missing, true},
		"xx":  {Missing, false},
		"12":  {Missing, false},
	}
	for raw, tc := range cases {
		got, known := ParseResult(raw)
		assert.Equal(t, tc.want, got, raw)
		assert.Equal(t, tc.known, known, raw)
	}
}

func TestParseDayFirst(t *testing.T) {
	got, ok := ParseDayFirst("03/02/2024")
	require.True(t, ok)
	assert.Equal(t, day(2024, time.February, 3), got)

	got, ok = ParseDayFirst("5/3/2024")
	require.True(t, ok)
	assert.Equal(t, day(2024, time.March, 5), got)

	got, ok = ParseDayFirst("5/3/24")
	require.True(t, ok)
	assert.Equal(t, day(2024, time.March, 5), got)

	got, ok = ParseDayFirst("2024-03-05")
	require.True(t, ok)
	assert.Equal(t, day(2024, time.March, 5), got)

	_, ok = ParseDayFirst("31/02/2024")
	assert.False(t, ok)
	_, ok = ParseDayFirst("not a date")
	assert.False(t, ok)
	_, ok = ParseDayFirst("")
	assert.False(t, ok)
}

func TestWeekStart(t *testing.T) {
	monday := day(2024, time.January, 15)
	assert.Equal(t, monday, WeekStart(monday))
	assert.Equal(t, monday, WeekStart(day(2024, time.January, 17)))
	assert.Equal(t, monday, WeekStart(day(2024, time.January, 21)))
	assert.Equal(t, day(2024, time.January, 22), WeekStart(day(2024, time.January, 22)))
	assert.Equal(t, day(2024, time.January, 1), WeekStart(time.Date(2024, time.January, 7, 23, 59, 0, 0, time.UTC)))
}

func TestNewPanel(t *testing.T) {
	p, err := NewPanel(" Oxacillin", "Vancomycin", "Oxacillin", "")
	require.NoError(t, err)
	assert.Equal(t, []Antibiotic{"Oxacillin", "Vancomycin"}, p.Antibiotics())
	assert.True(t, p.Contains("Vancomycin"))

	kept, rejected := p.Subset([]string{"Vancomycin", "Linezolid"})
	assert.Equal(t, []Antibiotic{"Vancomycin"}, kept)
	assert.Equal(t, []string{"Linezolid"}, rejected)

	kept, rejected = p.Subset([]string{"Typo"})
	assert.NotNil(t, kept)
	assert.Empty(t, kept)
	assert.Equal(t, []string{"Typo"}, rejected)

	kept, _ = p.Subset(nil)
	assert.Equal(t, p.Antibiotics(), kept)

	_, err = NewPanel(" ", "")
	assert.ErrorIs(t, err, ErrEmptyPanel)
}

func TestNormalizeDropsUnparseableDates(t *testing.T) {
	panel := mustPanel(t, "A", "B")
	table := &SampleTable{
		Columns: []string{"id", "date", "A"},
		Rows: []RawSample{
			{SampleID: "1", SamplingDate: "15/01/2024", Results: map[string]string{"A": "R"}},
			{SampleID: "2", SamplingDate: "garbage", Results: map[string]string{"A": "S"}},
			{SampleID: "3", SamplingDate: "16/01/2024", Results: map[string]string{"A": "maybe"}},
		},
	}

	ds, err := Normalize(table, panel)
	require.NoError(t, err)
	require.Len(t, ds.Records, 2)
	assert.Equal(t, NormalizeStats{Rows: 3, Kept: 2, DroppedDates: 1, UnknownResults: 1}, ds.Stats)
	assert.Equal(t, []Antibiotic{"A"}, ds.Available)
	assert.Equal(t, []Antibiotic{"B"}, ds.MissingColumns)
	assert.Equal(t, day(2024, time.January, 15), ds.Records[1].Week)
	assert.Equal(t, Missing, ds.Records[1].Result("A"))
}

func TestNormalizeEmpty(t *testing.T) {
	panel := mustPanel(t, "A")
	_, err := Normalize(nil, panel)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = Normalize(&SampleTable{Columns: []string{"A"}, Rows: []RawSample{{SamplingDate: "??"}}}, panel)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func sample(date time.Time, results map[Antibiotic]Result) SampleRecord {
	return SampleRecord{SamplingDate: date, Week: WeekStart(date), Results: results}
}

func TestAggregateWeeklyExample(t *testing.T) {
	d := day(2024, time.January, 16)
	records := []SampleRecord{
		sample(d, map[Antibiotic]Result{"A": Resistant, "B": Susceptible}),
		sample(d, map[Antibiotic]Result{"A": Susceptible, "B": Resistant}),
	}

	weekly := AggregateWeekly(records, []Antibiotic{"A", "B"})
	require.Len(t, weekly, 2)

	a, ok := weekly.Point(d, "A")
	require.True(t, ok)
	assert.Equal(t, 2, a.TotalTested)
	assert.Equal(t, 1, a.ResistantCount)
	assert.InDelta(t, 50.0, a.ResistancePct, 1e-9)

	b, ok := weekly.Point(d, "B")
	require.True(t, ok)
	assert.InDelta(t, 50.0, b.ResistancePct, 1e-9)
}

func TestAggregateWeeklyZeroFill(t *testing.T) {
	w1 := day(2024, time.January, 8)
	w2 := day(2024, time.January, 15)
	records := []SampleRecord{
		sample(w1, map[Antibiotic]Result{"A": Resistant, "B": Missing}),
		sample(w2, map[Antibiotic]Result{"A": Resistant, "B": Resistant}),
		sample(w2, map[Antibiotic]Result{"A": Missing, "B": Susceptible}),
	}

	weekly := AggregateWeekly(records, []Antibiotic{"A", "B"})
	assert.Len(t, weekly, 4)
	assert.Equal(t, []time.Time{w1, w2}, weekly.Weeks())

	untested, ok := weekly.Point(w1, "B")
	require.True(t, ok)
	assert.False(t, untested.Defined())
	assert.Equal(t, 0, untested.TotalTested)
	assert.Equal(t, 0.0, untested.ResistancePct)

	for _, p := range weekly {
		assert.LessOrEqual(t, p.ResistantCount, p.TotalTested)
		if p.Defined() {
			assert.GreaterOrEqual(t, p.ResistancePct, 0.0)
			assert.LessOrEqual(t, p.ResistancePct, 100.0)
		}
	}

	series := weekly.Series("B")
	require.Len(t, series, 2)
	assert.Equal(t, w1, series[0].Week)
	assert.InDelta(t, 50.0, series[1].ResistancePct, 1e-9)
}

func TestComputeThresholdBoundary(t *testing.T) {
	series := monthlySeries("A", 2, 3, 2, 3, 20)
	got := ComputeThreshold(series, DefaultSigma)

	assert.Equal(t, 5, got.Points)
	assert.InDelta(t, 6.0, got.Mean, 1e-9)
	assert.InDelta(t, 7.8422, got.StdDev, 1e-4)
	assert.InDelta(t, 21.6844, got.Threshold, 1e-4)
	assert.InDelta(t, 20.0, got.Last, 1e-9)
	assert.Equal(t, StatusOK, got.Status)
	assert.False(t, got.IsAlerting())
}

func TestComputeThresholdAlerting(t *testing.T) {
	got := ComputeThreshold(monthlySeries("A", 2, 3, 2, 3, 2, 3, 2, 3, 30), DefaultSigma)
	assert.True(t, got.IsAlerting())
	assert.Greater(t, got.Last, got.Threshold)
}

func TestComputeThresholdEarlierValueMovesThreshold(t *testing.T) {
	base := ComputeThreshold(monthlySeries("A", 2, 3, 2, 3, 20), DefaultSigma)
	changed := ComputeThreshold(monthlySeries("A", 2, 3, 2, 4, 20), DefaultSigma)
	assert.NotEqual(t, base.Threshold, changed.Threshold)
	assert.Equal(t, base.IsAlerting(), changed.IsAlerting())
}

func TestComputeThresholdInsufficient(t *testing.T) {
	one := ComputeThreshold(monthlySeries("A", 5), DefaultSigma)
	assert.Equal(t, StatusInsufficient, one.Status)
	assert.Equal(t, 1, one.Points)
	assert.InDelta(t, 5.0, one.Mean, 1e-9)
	assert.False(t, one.IsAlerting())

	none := ComputeThreshold(MonthlySeries{Antibiotic: "A"}, DefaultSigma)
	assert.Equal(t, StatusInsufficient, none.Status)
	assert.Equal(t, 0, none.Points)
}

func TestComputeThresholdConstantSeries(t *testing.T) {
	got := ComputeThreshold(monthlySeries("A", 4, 4, 4), DefaultSigma)
	assert.Equal(t, StatusOK, got.Status)
	assert.Equal(t, 0.0, got.StdDev)
	assert.Equal(t, 4.0, got.Threshold)
}

func TestComputeThresholdUsesChronologicalLast(t *testing.T) {
	series := MonthlySeries{Antibiotic: "A", Values: []MonthlyValue{
		{Month: day(2024, time.March, 1), Value: 30},
		{Month: day(2024, time.January, 1), Value: 2},
		{Month: day(2024, time.February, 1), Value: 3},
	}}
	got := ComputeThreshold(series, DefaultSigma)
	assert.Equal(t, 30.0, got.Last)
	assert.Equal(t, day(2024, time.March, 1), got.LastMonth)
}

func TestDetectAlerts(t *testing.T) {
	all, alerting := DetectAlerts([]MonthlySeries{
		monthlySeries("A", 2, 3, 2, 3, 2, 3, 2, 3, 30),
		monthlySeries("B", 2, 3, 2, 3, 20),
		monthlySeries("C", 1),
	}, DefaultSigma)
	require.Len(t, all, 3)
	require.Len(t, alerting, 1)
	assert.Equal(t, Antibiotic("A"), alerting[0].Antibiotic)
	assert.Equal(t, StatusInsufficient, all[2].Status)
}

func TestClassifyTrend(t *testing.T) {
	rising := ClassifyTrend("A", points("A", 10, 20), DefaultTrendCutoff)
	assert.InDelta(t, 10.0, rising.Slope, 1e-9)
	assert.Equal(t, TrendRising, rising.Classification)

	stable := ClassifyTrend("A", points("A", 50, 50, 50), DefaultTrendCutoff)
	assert.InDelta(t, 0.0, stable.Slope, 1e-9)
	assert.Equal(t, TrendStable, stable.Classification)

	falling := ClassifyTrend("A", points("A", 30, 20), DefaultTrendCutoff)
	assert.Equal(t, TrendFalling, falling.Classification)

	small := ClassifyTrend("A", points("A", 10, 10.4, 10.8), DefaultTrendCutoff)
	assert.Equal(t, TrendStable, small.Classification)

	short := ClassifyTrend("A", points("A", 42), DefaultTrendCutoff)
	assert.Equal(t, TrendInsufficient, short.Classification)
	assert.Equal(t, 1, short.Points)

	empty := ClassifyTrend("A", nil, DefaultTrendCutoff)
	assert.Equal(t, TrendInsufficient, empty.Classification)
}

func TestClassifyTrendSkipsUntestedWeeks(t *testing.T) {
	series := points("A", 10, 20)
	gap := WeeklyResistancePoint{Week: series[0].Week.AddDate(0, 0, 7), Antibiotic: "A"}
	series = []WeeklyResistancePoint{series[0], gap, series[1]}

	got := ClassifyTrend("A", series, DefaultTrendCutoff)
	assert.Equal(t, 2, got.Points)
	assert.InDelta(t, 10.0, got.Slope, 1e-9)
}

func TestAnalyzeCoResistanceExample(t *testing.T) {
	d := day(2024, time.January, 16)
	records := []SampleRecord{
		sample(d, map[Antibiotic]Result{"A": Resistant, "B": Susceptible}),
		sample(d, map[Antibiotic]Result{"A": Susceptible, "B": Resistant}),
	}

	pairs := AnalyzeCoResistance(records, d, []Antibiotic{"A", "B"})
	require.Len(t, pairs, 1)
	assert.Equal(t, Antibiotic("A"), pairs[0].A)
	assert.Equal(t, Antibiotic("B"), pairs[0].B)
	assert.Equal(t, 2, pairs[0].CoTested)
	assert.Equal(t, 0, pairs[0].CoResistant)
	assert.Equal(t, 0.0, pairs[0].CoResistancePct)
}

func TestAnalyzeCoResistanceOmitsUntestedPairs(t *testing.T) {
	d := day(2024, time.January, 16)
	other := day(2024, time.January, 2)
	records := []SampleRecord{
		sample(d, map[Antibiotic]Result{"A": Resistant, "B": Resistant, "C": Missing}),
		sample(d, map[Antibiotic]Result{"A": Resistant, "B": Resistant}),
		sample(other, map[Antibiotic]Result{"A": Resistant, "C": Resistant}),
	}

	pairs := AnalyzeCoResistance(records, d, []Antibiotic{"A", "B", "C", "A"})
	require.Len(t, pairs, 1)
	assert.Equal(t, 2, pairs[0].CoResistant)
	assert.Equal(t, 100.0, pairs[0].CoResistancePct)
	for _, p := range pairs {
		assert.Greater(t, p.CoTested, 0)
		assert.NotEqual(t, p.A, p.B)
	}
}

func TestPairs(t *testing.T) {
	got := Pairs([]Antibiotic{"A", "B", "C", "B"})
	assert.Equal(t, [][2]Antibiotic{{"A", "B"}, {"A", "C"}, {"B", "C"}}, got)
	assert.Empty(t, Pairs([]Antibiotic{"A"}))
}

func TestMarkWeeklyAlerts(t *testing.T) {
	series := points("A", 10, 10, 10, 10, 10, 10, 10, 10, 60)
	markers := MarkWeeklyAlerts(series, DefaultSigma)
	require.Len(t, markers, 1)
	assert.Equal(t, series[8].Week, markers[0].Week)
	assert.Equal(t, 60.0, markers[0].ResistancePct)

	assert.Empty(t, MarkWeeklyAlerts(points("A", 60), DefaultSigma))
}

func TestPhenotypeShares(t *testing.T) {
	shares := PhenotypeShares([]PhenotypeWeek{
		{Week: "2024-W03", Counts: map[string]float64{"SRM": 3, "SRV": 1}},
		{Week: "2024-W04", Counts: map[string]float64{}},
	}, []string{"SRM", "SRV"})
	require.Len(t, shares, 4)
	assert.InDelta(t, 75.0, shares[0].Pct, 1e-9)
	assert.InDelta(t, 25.0, shares[1].Pct, 1e-9)
	assert.False(t, shares[2].Defined())
}

func TestBuildReport(t *testing.T) {
	panel := mustPanel(t, "A", "B", "C")
	in := Inputs{
		Samples: &SampleTable{
			Columns: []string{"id", "date", "A", "B"},
			Rows: []RawSample{
				{SampleID: "1", SamplingDate: "08/01/2024", Results: map[string]string{"A": "R", "B": "S"}},
				{SampleID: "2", SamplingDate: "16/01/2024", Results: map[string]string{"A": "R", "B": "S"}},
				{SampleID: "3", SamplingDate: "17/01/2024", Results: map[string]string{"A": "S", "B": "R"}},
				{SampleID: "4", SamplingDate: "bad", Results: map[string]string{"A": "R"}},
			},
		},
		Monthly: []MonthlySeries{
			monthlySeries("A", 2, 3, 2, 3, 2, 3, 2, 3, 30),
			monthlySeries("B", 2, 3, 2, 3, 20),
		},
		Phenotypes: []PhenotypeWeek{{Week: "W1", Counts: map[string]float64{"SRM": 1}}},
	}

	rep, err := BuildReport(context.Background(), in, Options{Panel: panel, Workers: 2})
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Stats.DroppedDates)
	assert.Equal(t, []time.Time{day(2024, time.January, 8), day(2024, time.January, 15)}, rep.Weeks)
	assert.Len(t, rep.Weekly, 4)
	require.Len(t, rep.Trends, 2)
	assert.Equal(t, TrendFalling, rep.Trends[0].Classification)
	assert.Equal(t, TrendRising, rep.Trends[1].Classification)
	require.Len(t, rep.Alerts, 1)
	assert.Equal(t, Antibiotic("A"), rep.Alerts[0].Antibiotic)
	assert.Equal(t, day(2024, time.January, 15), rep.CoResistanceWeek)
	require.Len(t, rep.CoResistance, 1)
	assert.Equal(t, 2, rep.CoResistance[0].CoTested)
	assert.Len(t, rep.Phenotypes, len(DefaultPhenotypes))

	assert.True(t, rep.HasFailure(MetricWeekly, ErrMissingColumn))
	assert.True(t, rep.HasFailure(MetricThreshold, ErrMissingColumn))
	assert.True(t, rep.HasFailure(MetricTrend, ErrMissingColumn))
	assert.False(t, rep.HasFailure(MetricPhenotypes, ErrEmptyInput))

	again, err := BuildReport(context.Background(), in, Options{Panel: panel, Workers: 2})
	require.NoError(t, err)
	assert.Equal(t, rep, again)
}

func TestBuildReportHonoursSelections(t *testing.T) {
	panel := mustPanel(t, "A", "B", "C")
	in := Inputs{
		Samples: &SampleTable{
			Columns: []string{"id", "date", "A", "B", "C"},
			Rows: []RawSample{
				{SampleID: "1", SamplingDate: "08/01/2024", Results: map[string]string{"A": "R", "B": "S", "C": "R"}},
				{SampleID: "2", SamplingDate: "16/01/2024", Results: map[string]string{"A": "S", "B": "R", "C": "R"}},
			},
		},
	}

	trend, _ := panel.Subset([]string{"B"})
	co, _ := panel.Subset([]string{"A", "C"})
	rep, err := BuildReport(context.Background(), in, Options{Panel: panel, TrendAntibiotics: trend, CoResistanceAntibiotics: co})
	require.NoError(t, err)
	require.Len(t, rep.Trends, 1)
	assert.Equal(t, Antibiotic("B"), rep.Trends[0].Antibiotic)
	require.Len(t, rep.CoResistance, 1)
	assert.Equal(t, Antibiotic("A"), rep.CoResistance[0].A)
	assert.Equal(t, Antibiotic("C"), rep.CoResistance[0].B)
	assert.False(t, rep.HasFailure(MetricTrend, ErrMissingColumn))

	none, rejected := panel.Subset([]string{"Typo"})
	require.Equal(t, []string{"Typo"}, rejected)
	rep, err = BuildReport(context.Background(), in, Options{Panel: panel, TrendAntibiotics: none, CoResistanceAntibiotics: none})
	require.NoError(t, err)
	assert.Empty(t, rep.Trends)
	assert.Empty(t, rep.CoResistance)
	assert.True(t, rep.HasFailure(MetricTrend, ErrMissingColumn))
	assert.True(t, rep.HasFailure(MetricCoResistance, ErrMissingColumn))
	assert.Len(t, rep.Weekly, 6)
}

func TestBuildReportIsolatesMissingSources(t *testing.T) {
	panel := mustPanel(t, "A")
	rep, err := BuildReport(context.Background(), Inputs{
		Monthly: []MonthlySeries{monthlySeries("A", 1, 2, 3)},
	}, Options{Panel: panel})
	require.NoError(t, err)

	assert.True(t, rep.HasFailure(MetricWeekly, ErrEmptyInput))
	assert.True(t, rep.HasFailure(MetricCoResistance, ErrEmptyInput))
	assert.True(t, rep.HasFailure(MetricPhenotypes, ErrEmptyInput))
	require.Len(t, rep.Thresholds, 1)
	assert.Equal(t, StatusOK, rep.Thresholds[0].Status)
}

func TestBuildReportCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := BuildReport(ctx, Inputs{Monthly: []MonthlySeries{monthlySeries("A", 1, 2)}}, Options{Panel: mustPanel(t, "A")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildReportRequiresPanel(t *testing.T) {
	_, err := BuildReport(context.Background(), Inputs{}, Options{})
	assert.ErrorIs(t, err, ErrEmptyPanel)
}

func monthlySeries(a Antibiotic, values ...float64) MonthlySeries {
	s := MonthlySeries{Antibiotic: a}
	start := day(2023, time.January, 1)
	for i, v := range values {
		s.Values = append(s.Values, MonthlyValue{Month: start.AddDate(0, i, 0), Value: v})
	}
	return s
}

func points(a Antibiotic, pcts ...float64) []WeeklyResistancePoint {
	out := make([]WeeklyResistancePoint, len(pcts))
	start := day(2024, time.January, 1)
	for i, pct := range pcts {
		out[i] = WeeklyResistancePoint{
			Week:           start.AddDate(0, 0, 7*i),
			Antibiotic:     a,
			TotalTested:    10,
			ResistantCount: int(pct / 10),
			ResistancePct:  pct,
		}
	}
	return out
}
