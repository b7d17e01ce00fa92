// Package metrics exposes the latest surveillance report as Prometheus gauges
// while the watch loop runs.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"scnwatch/internal/surveillance"
)

const namespace = "scnwatch"

// Recorder owns a private registry so tests and multiple instances never clash
// on the global one.
type Recorder struct {
	registry *prometheus.Registry

	resistancePct *prometheus.GaugeVec
	tested        *prometheus.GaugeVec
	threshold     *prometheus.GaugeVec
	alerting      *prometheus.GaugeVec
	trendSlope    *prometheus.GaugeVec
	evaluations   *prometheus.CounterVec
	failures      *prometheus.CounterVec
	lastRun       prometheus.Gauge
}

// NewRecorder registers every collector on a fresh registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		resistancePct: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "weekly",
			Name:      "resistance_pct",
			Help:      "Resistance percentage of the latest week with tested samples",
		}, []string{"antibiotic"}),
		tested: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "weekly",
			Name:      "tested_samples",
			Help:      "Samples tested in the latest week",
		}, []string{"antibiotic"}),
		threshold: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monthly",
			Name:      "threshold_pct",
			Help:      "Control limit (mean + sigma*sd) of the monthly series",
		}, []string{"antibiotic"}),
		alerting: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monthly",
			Name:      "alerting",
			Help:      "1 when the last monthly value exceeds the control limit",
		}, []string{"antibiotic"}),
		trendSlope: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trend",
			Name:      "slope",
			Help:      "Weekly resistance slope in percentage points per week",
		}, []string{"antibiotic", "classification"}),
		evaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "Evaluations performed by outcome",
		}, []string{"status"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_failures_total",
			Help:      "Metrics that could not be computed",
		}, []string{"metric"}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_evaluation_timestamp_seconds",
			Help:      "Unix time of the last successful evaluation",
		}),
	}
}

// Observe replaces the gauges with the content of rep.
func (r *Recorder) Observe(rep *surveillance.Report, at time.Time) {
	if r == nil || rep == nil {
		return
	}
	r.resistancePct.Reset()
	r.tested.Reset()
	r.threshold.Reset()
	r.alerting.Reset()
	r.trendSlope.Reset()

	latest := make(map[surveillance.Antibiotic]surveillance.WeeklyResistancePoint)
	for _, p := range rep.Weekly {
		if p.Defined() {
			latest[p.Antibiotic] = p
		}
	}
	for a, p := range latest {
		r.resistancePct.WithLabelValues(string(a)).Set(p.ResistancePct)
		r.tested.WithLabelValues(string(a)).Set(float64(p.TotalTested))
	}

	for _, t := range rep.Thresholds {
		if t.Status == surveillance.StatusInsufficient {
			continue
		}
		r.threshold.WithLabelValues(string(t.Antibiotic)).Set(t.Threshold)
		value := 0.0
		if t.IsAlerting() {
			value = 1
		}
		r.alerting.WithLabelValues(string(t.Antibiotic)).Set(value)
	}

	for _, t := range rep.Trends {
		if t.Classification == surveillance.TrendInsufficient {
			continue
		}
		r.trendSlope.WithLabelValues(string(t.Antibiotic), string(t.Classification)).Set(t.Slope)
	}

	for _, f := range rep.Failures {
		r.failures.WithLabelValues(f.Metric).Inc()
	}

	r.evaluations.WithLabelValues("ok").Inc()
	r.lastRun.Set(float64(at.Unix()))
}

// ObserveError counts an evaluation that produced no report.
func (r *Recorder) ObserveError() {
	if r == nil {
		return
	}
	r.evaluations.WithLabelValues("error").Inc()
}

// Handler serves the private registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (r *Recorder) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	log := logger.With().Str("component", "metrics").Logger()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("metrics endpoint listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
