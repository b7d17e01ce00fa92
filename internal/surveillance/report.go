package surveillance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Metric names used in Failure entries.
const (
	MetricWeekly       = "weekly_resistance"
	MetricThreshold    = "threshold_alerts"
	MetricTrend        = "trend"
	MetricCoResistance = "co_resistance"
	MetricMarkers      = "weekly_alert_markers"
	MetricPhenotypes   = "phenotypes"
)

// Options selects what BuildReport computes.
type Options struct {
	Panel Panel
	// TrendAntibiotics and CoResistanceAntibiotics restrict those metrics. Nil means
	// the panel; an empty non-nil slice selects nothing and is reported as a failure.
	TrendAntibiotics        []Antibiotic
	CoResistanceAntibiotics []Antibiotic
	// CoResistanceWeek selects the week analysed; zero means the latest week present.
	CoResistanceWeek time.Time
	Sigma            float64
	TrendCutoff      float64
	PhenotypeOrder   []string
	Workers          int
}

func (o Options) withDefaults() Options {
	if o.Sigma <= 0 {
		o.Sigma = DefaultSigma
	}
	if o.TrendCutoff <= 0 {
		o.TrendCutoff = DefaultTrendCutoff
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.TrendAntibiotics == nil {
		o.TrendAntibiotics = o.Panel.Antibiotics()
	}
	if o.CoResistanceAntibiotics == nil {
		o.CoResistanceAntibiotics = o.Panel.Antibiotics()
	}
	if len(o.PhenotypeOrder) == 0 {
		o.PhenotypeOrder = DefaultPhenotypes
	}
	return o
}

// Inputs is one snapshot of the three sources. A nil field means the source
// was not available; the metrics depending on it are reported as failures.
type Inputs struct {
	Samples    *SampleTable
	Monthly    []MonthlySeries
	Phenotypes []PhenotypeWeek
}

// Failure records a metric (or one antibiotic of a metric) that could not be computed.
type Failure struct {
	Metric     string     `json:"metric"`
	Antibiotic Antibiotic `json:"antibiotic,omitempty"`
	Err        error      `json:"-"`
	Message    string     `json:"error"`
}

func newFailure(metric string, a Antibiotic, err error) Failure {
	return Failure{Metric: metric, Antibiotic: a, Err: err, Message: err.Error()}
}

// Report gathers every metric computed from one snapshot.
type Report struct {
	Stats            NormalizeStats          `json:"stats"`
	Weeks            []time.Time             `json:"weeks"`
	Weekly           []WeeklyResistancePoint `json:"weekly"`
	Markers          []WeeklyAlertMarker     `json:"weekly_alert_markers"`
	Thresholds       []AlertThreshold        `json:"thresholds"`
	Alerts           []AlertThreshold        `json:"alerts"`
	Trends           []TrendResult           `json:"trends"`
	CoResistanceWeek time.Time               `json:"co_resistance_week"`
	CoResistance     []CoResistancePair      `json:"co_resistance"`
	Phenotypes       []PhenotypeShare        `json:"phenotypes"`
	Failures         []Failure               `json:"failures"`
}

// LatestWeek returns the most recent week with samples, if any.
func (r *Report) LatestWeek() (time.Time, bool) {
	if len(r.Weeks) == 0 {
		return time.Time{}, false
	}
	return r.Weeks[len(r.Weeks)-1], true
}

// Series returns the weekly points of a in chronological order.
func (r *Report) Series(a Antibiotic) []WeeklyResistancePoint {
	out := make([]WeeklyResistancePoint, 0, len(r.Weeks))
	for _, p := range r.Weekly {
		if p.Antibiotic == a {
			out = append(out, p)
		}
	}
	return out
}

// BuildReport normalizes the samples once and then computes each metric
// independently. A structural problem in one metric is recorded in
// Report.Failures and never prevents the others from completing. The only
// error returned is a cancelled context or an empty panel.
func BuildReport(ctx context.Context, in Inputs, opts Options) (*Report, error) {
	if opts.Panel.Len() == 0 {
		return nil, ErrEmptyPanel
	}
	opts = opts.withDefaults()

	rep := &Report{}
	var failures []Failure

	ds, normErr := Normalize(in.Samples, opts.Panel)
	rep.Stats = ds.Stats
	haveSamples := normErr == nil

	var weekly WeeklyResistance
	if haveSamples {
		for _, a := range ds.MissingColumns {
			failures = append(failures, newFailure(MetricWeekly, a, fmt.Errorf("antibiotic column %q: %w", a, ErrMissingColumn)))
		}
		weekly = AggregateWeekly(ds.Records, ds.Available)
		rep.Weeks = weekly.Weeks()
		rep.Weekly = weekly.Sorted(ds.Available)
	} else {
		failures = append(failures,
			newFailure(MetricWeekly, "", normErr),
			newFailure(MetricTrend, "", normErr),
			newFailure(MetricMarkers, "", normErr),
			newFailure(MetricCoResistance, "", normErr),
		)
	}

	var (
		trendTargets []Antibiotic
		coTargets    []Antibiotic
	)
	if haveSamples {
		if len(opts.TrendAntibiotics) == 0 {
			failures = append(failures, newFailure(MetricTrend, "", fmt.Errorf("trend selection names no panel antibiotic: %w", ErrMissingColumn)))
		}
		if len(opts.CoResistanceAntibiotics) == 0 {
			failures = append(failures, newFailure(MetricCoResistance, "", fmt.Errorf("co-resistance selection names no panel antibiotic: %w", ErrMissingColumn)))
		}
		for _, a := range opts.TrendAntibiotics {
			if ds.IsAvailable(a) {
				trendTargets = append(trendTargets, a)
			} else {
				failures = append(failures, newFailure(MetricTrend, a, fmt.Errorf("antibiotic column %q: %w", a, ErrMissingColumn)))
			}
		}
		for _, a := range opts.CoResistanceAntibiotics {
			if ds.IsAvailable(a) {
				coTargets = append(coTargets, a)
			} else {
				failures = append(failures, newFailure(MetricCoResistance, a, fmt.Errorf("antibiotic column %q: %w", a, ErrMissingColumn)))
			}
		}
	}

	monthly, monthlyFailures := selectMonthly(in.Monthly, opts.Panel)
	failures = append(failures, monthlyFailures...)

	trends := make([]TrendResult, len(trendTargets))
	thresholds := make([]AlertThreshold, len(monthly))
	markers := make([][]WeeklyAlertMarker, len(ds.Available))
	var coPairs []CoResistancePair
	var coWeek time.Time
	var phenotypes []PhenotypeShare

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	if haveSamples {
		for i, a := range trendTargets {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				trends[i] = ClassifyTrend(a, weekly.Series(a), opts.TrendCutoff)
				return nil
			})
		}
		for i, a := range ds.Available {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				markers[i] = MarkWeeklyAlerts(weekly.Series(a), opts.Sigma)
				return nil
			})
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			coWeek = opts.CoResistanceWeek
			if coWeek.IsZero() {
				coWeek, _ = ds.LatestWeek()
			}
			coWeek = WeekStart(coWeek)
			coPairs = AnalyzeCoResistance(ds.Records, coWeek, coTargets)
			return nil
		})
	}
	for i, s := range monthly {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			thresholds[i] = ComputeThreshold(s, opts.Sigma)
			return nil
		})
	}
	if in.Phenotypes != nil {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			phenotypes = PhenotypeShares(in.Phenotypes, opts.PhenotypeOrder)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if in.Phenotypes == nil {
		failures = append(failures, newFailure(MetricPhenotypes, "", fmt.Errorf("phenotype source: %w", ErrEmptyInput)))
	}

	rep.Trends = trends
	rep.Thresholds = thresholds
	rep.Alerts = Alerting(thresholds)
	rep.Markers = make([]WeeklyAlertMarker, 0)
	for _, m := range markers {
		rep.Markers = append(rep.Markers, m...)
	}
	rep.CoResistanceWeek = coWeek
	rep.CoResistance = coPairs
	rep.Phenotypes = phenotypes
	rep.Failures = failures
	return rep, nil
}

// selectMonthly orders the monthly series by panel and reports panel
// antibiotics without a monthly column.
func selectMonthly(series []MonthlySeries, panel Panel) ([]MonthlySeries, []Failure) {
	if series == nil {
		return nil, []Failure{newFailure(MetricThreshold, "", fmt.Errorf("monthly source: %w", ErrEmptyInput))}
	}
	byName := make(map[Antibiotic]MonthlySeries, len(series))
	for _, s := range series {
		byName[s.Antibiotic] = s
	}

	out := make([]MonthlySeries, 0, len(series))
	var failures []Failure
	for _, a := range panel.antibiotics {
		s, ok := byName[a]
		if !ok {
			failures = append(failures, newFailure(MetricThreshold, a, fmt.Errorf("antibiotic column %q: %w", a, ErrMissingColumn)))
			continue
		}
		out = append(out, s)
	}
	return out, failures
}

// HasFailure reports whether any failure of the metric wraps target.
func (r *Report) HasFailure(metric string, target error) bool {
	for _, f := range r.Failures {
		if f.Metric == metric && errors.Is(f.Err, target) {
			return true
		}
	}
	return false
}
