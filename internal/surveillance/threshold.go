package surveillance

import (
	"sort"
	"time"
)

// DefaultSigma is the width of the control limit in standard deviations.
const DefaultSigma = 2.0

// MonthlyValue is one month of the monthly resistance source.
type MonthlyValue struct {
	Month time.Time `json:"month"`
	Value float64   `json:"value"`
}

// MonthlySeries is the monthly resistance history of one antibiotic.
type MonthlySeries struct {
	Antibiotic Antibiotic     `json:"antibiotic"`
	Values     []MonthlyValue `json:"values"`
}

// AlertStatus is the outcome of a control-limit evaluation.
type AlertStatus string

const (
	StatusOK           AlertStatus = "ok"
	StatusAlerting     AlertStatus = "alerting"
	StatusInsufficient AlertStatus = "insufficient_data"
)

// AlertThreshold is the control limit of one monthly series. With
// StatusInsufficient only Antibiotic, Points, Mean and Last are meaningful.
type AlertThreshold struct {
	Antibiotic Antibiotic  `json:"antibiotic"`
	Points     int         `json:"points"`
	Mean       float64     `json:"mean"`
	StdDev     float64     `json:"stddev"`
	Threshold  float64     `json:"threshold"`
	Last       float64     `json:"last"`
	LastMonth  time.Time   `json:"last_month"`
	Status     AlertStatus `json:"status"`
}

// IsAlerting reports whether the latest value strictly exceeds the limit.
func (t AlertThreshold) IsAlerting() bool {
	return t.Status == StatusAlerting
}

// ComputeThreshold evaluates mean + sigma*stddev over every month of the
// series (sample standard deviation) and compares the chronologically last
// value against it. Non-finite values are ignored.
func ComputeThreshold(series MonthlySeries, sigma float64) AlertThreshold {
	values := make([]MonthlyValue, 0, len(series.Values))
	for _, v := range series.Values {
		if finite(v.Value) {
			values = append(values, v)
		}
	}
	sort.SliceStable(values, func(i, j int) bool { return values[i].Month.Before(values[j].Month) })

	out := AlertThreshold{Antibiotic: series.Antibiotic, Points: len(values), Status: StatusInsufficient}
	if len(values) == 0 {
		return out
	}

	xs := make([]float64, len(values))
	for i, v := range values {
		xs[i] = v.Value
	}
	last := values[len(values)-1]
	out.Mean = mean(xs)
	out.Last = last.Value
	out.LastMonth = last.Month

	sd, ok := sampleStdDev(xs, out.Mean)
	if !ok {
		return out
	}
	out.StdDev = sd
	out.Threshold = out.Mean + sigma*sd
	out.Status = StatusOK
	if out.Last > out.Threshold {
		out.Status = StatusAlerting
	}
	return out
}

// DetectAlerts evaluates every series and returns all thresholds, in input
// order, together with the subset currently alerting.
func DetectAlerts(series []MonthlySeries, sigma float64) ([]AlertThreshold, []AlertThreshold) {
	all := make([]AlertThreshold, len(series))
	for i, s := range series {
		all[i] = ComputeThreshold(s, sigma)
	}
	return all, Alerting(all)
}

// Alerting filters thresholds down to the ones alerting.
func Alerting(thresholds []AlertThreshold) []AlertThreshold {
	out := make([]AlertThreshold, 0)
	for _, t := range thresholds {
		if t.IsAlerting() {
			out = append(out, t)
		}
	}
	return out
}
