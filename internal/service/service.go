package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"scnwatch/internal/alerting"
	"scnwatch/internal/config"
	"scnwatch/internal/metrics"
	"scnwatch/internal/scheduler"
	"scnwatch/internal/source"
	"scnwatch/internal/storage"
	"scnwatch/internal/surveillance"
)

// Failure metric names for sources that could not be read.
const (
	SourceSamples    = "samples_source"
	SourceMonthly    = "monthly_source"
	SourcePhenotypes = "phenotypes_source"
)

// Sources groups the three laboratory inputs. A nil source is reported as a
// failure of the metrics depending on it.
type Sources struct {
	Samples    source.SampleSource
	Monthly    source.MonthlySource
	Phenotypes source.PhenotypeSource
}

// Evaluation is one computed report together with its identity.
type Evaluation struct {
	ID          uuid.UUID
	EvaluatedAt time.Time
	Report      *surveillance.Report
}

// Service orchestrates loading, evaluation, persistence, and alerting.
type Service struct {
	scheduler  *scheduler.Scheduler
	sources    Sources
	opts       surveillance.Options
	runs       storage.RunStore
	alertStore storage.AlertStore
	notifier   alerting.Notifier
	recorder   *metrics.Recorder
	logger     zerolog.Logger

	channels  []string
	alertsOn  bool
	cooldown  time.Duration
	retention time.Duration
	locker    storage.AdvisoryLocker
	lockKey   int64
	now       func() time.Time

	mu       sync.Mutex
	lastSent map[surveillance.Antibiotic]time.Time
}

// New constructs the surveillance service. Panel selections naming unknown
// antibiotics are logged and ignored.
func New(cfg *config.Config, sched *scheduler.Scheduler, sources Sources, runs storage.RunStore, alertStore storage.AlertStore, notifier alerting.Notifier, recorder *metrics.Recorder, logger zerolog.Logger) (*Service, error) {
	opts, rejected, err := cfg.ReportOptions()
	if err != nil {
		return nil, fmt.Errorf("build report options: %w", err)
	}

	log := logger.With().Str("component", "service").Logger()
	for _, name := range rejected {
		log.Warn().Str("antibiotic", name).Msg("selected antibiotic is not in the panel; ignored")
	}

	var locker storage.AdvisoryLocker
	if l, ok := runs.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:  sched,
		sources:    sources,
		opts:       opts,
		runs:       runs,
		alertStore: alertStore,
		notifier:   notifier,
		recorder:   recorder,
		logger:     log,
		channels:   cfg.Alerting.Channels,
		alertsOn:   cfg.Alerting.Enabled,
		cooldown:   cfg.Alerting.Cooldown,
		retention:  cfg.Alerting.Retention,
		locker:     locker,
		lockKey:    cfg.Scheduler.AdvisoryLockKey,
		now:        func() time.Time { return time.Now().UTC() },
		lastSent:   make(map[surveillance.Antibiotic]time.Time),
	}, nil
}

// Run begins the periodic evaluation loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, func(ctx context.Context, slot time.Time) error {
		_, err := s.ProcessTick(ctx, slot)
		return err
	})
}

// Evaluate reads every source and computes a report. Sources are read
// concurrently; a failing source only removes the metrics built on it.
func (s *Service) Evaluate(ctx context.Context) (*Evaluation, error) {
	var (
		in       surveillance.Inputs
		failures = make([]surveillance.Failure, 3)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if s.sources.Samples == nil {
			failures[0] = sourceFailure(SourceSamples, source.ErrNotConfigured)
			return nil
		}
		table, err := s.sources.Samples.LoadSamples(gctx)
		if err != nil {
			failures[0] = sourceFailure(SourceSamples, err)
			return contextError(gctx, err)
		}
		in.Samples = table
		return nil
	})
	g.Go(func() error {
		if s.sources.Monthly == nil {
			failures[1] = sourceFailure(SourceMonthly, source.ErrNotConfigured)
			return nil
		}
		series, err := s.sources.Monthly.LoadMonthly(gctx)
		if err != nil {
			failures[1] = sourceFailure(SourceMonthly, err)
			return contextError(gctx, err)
		}
		in.Monthly = series
		return nil
	})
	g.Go(func() error {
		if s.sources.Phenotypes == nil {
			failures[2] = sourceFailure(SourcePhenotypes, source.ErrNotConfigured)
			return nil
		}
		weeks, err := s.sources.Phenotypes.LoadPhenotypes(gctx)
		if err != nil {
			failures[2] = sourceFailure(SourcePhenotypes, err)
			return contextError(gctx, err)
		}
		in.Phenotypes = weeks
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep, err := surveillance.BuildReport(ctx, in, s.opts)
	if err != nil {
		return nil, fmt.Errorf("build report: %w", err)
	}
	for _, f := range failures {
		if f.Metric != "" {
			rep.Failures = append(rep.Failures, f)
		}
	}

	eval := &Evaluation{ID: uuid.New(), EvaluatedAt: s.now(), Report: rep}
	for _, f := range rep.Failures {
		s.logger.Warn().Str("metric", f.Metric).Str("antibiotic", string(f.Antibiotic)).Str("error", f.Message).Msg("metric unavailable")
	}
	s.logger.Info().
		Str("run_id", eval.ID.String()).
		Int("samples", rep.Stats.Kept).
		Int("dropped_dates", rep.Stats.DroppedDates).
		Int("alerting", len(rep.Alerts)).
		Int("failures", len(rep.Failures)).
		Msg("evaluation complete")
	return eval, nil
}

// ProcessTick 执行单次评估：加锁、计算、持久化、更新指标并推送新告警。
// The lock being held elsewhere returns (nil, nil).
func (s *Service) ProcessTick(ctx context.Context, slot time.Time) (*Evaluation, error) {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	if !proceed {
		s.logger.Debug().Time("slot", slot).Msg("skip evaluation because advisory lock held elsewhere")
		return nil, nil
	}
	if unlock != nil {
		defer unlock()
	}

	eval, err := s.Evaluate(ctx)
	if err != nil {
		s.recorder.ObserveError()
		return nil, err
	}

	// alerts reference the run only once it is stored
	runID := uuid.Nil
	if s.runs != nil {
		if err := s.runs.InsertRun(ctx, runRecord(eval), weeklyPoints(eval.Report)); err != nil {
			s.logger.Error().Err(err).Str("run_id", eval.ID.String()).Msg("failed to persist evaluation")
		} else {
			runID = eval.ID
		}
	}
	s.recorder.Observe(eval.Report, eval.EvaluatedAt)

	if s.alertsOn && s.notifier != nil {
		s.dispatchAlerts(ctx, eval, runID)
	}
	s.pruneAlerts(ctx)
	return eval, nil
}

func (s *Service) pruneAlerts(ctx context.Context) {
	if s.alertStore == nil || s.retention <= 0 {
		return
	}
	cutoff := s.now().Add(-s.retention)
	if err := s.alertStore.DeleteAlertsBefore(ctx, cutoff); err != nil {
		s.logger.Error().Err(err).Time("cutoff", cutoff).Msg("failed to prune alert records")
	}
}

func (s *Service) dispatchAlerts(ctx context.Context, eval *Evaluation, runID uuid.UUID) {
	trends := make(map[surveillance.Antibiotic]surveillance.TrendClass, len(eval.Report.Trends))
	for _, t := range eval.Report.Trends {
		trends[t.Antibiotic] = t.Classification
	}

	for _, alert := range eval.Report.Alerts {
		note := notification(alert, string(trends[alert.Antibiotic]), s.channels)

		fresh, err := s.claim(ctx, runID, alert, note)
		if err != nil {
			s.logger.Error().Err(err).Str("antibiotic", string(alert.Antibiotic)).Msg("failed to persist alert record")
		}
		if !fresh {
			s.logger.Debug().Str("antibiotic", string(alert.Antibiotic)).Time("month", alert.LastMonth).Msg("alert already sent")
			continue
		}

		if err := s.notifier.Notify(ctx, note); err != nil {
			s.logger.Error().Err(err).Str("antibiotic", string(alert.Antibiotic)).Msg("failed to dispatch alert")
		}
	}
}

// claim decides whether an alert is new. With an alert store the
// (antibiotic, month) uniqueness decides; otherwise an in-memory cooldown does.
// A store error still lets the alert through.
func (s *Service) claim(ctx context.Context, runID uuid.UUID, alert surveillance.AlertThreshold, note alerting.Notification) (bool, error) {
	if s.alertStore != nil {
		_, inserted, err := s.alertStore.InsertAlert(ctx, storage.AlertRecord{
			RunID:      runID,
			Antibiotic: note.Antibiotic,
			Month:      alert.LastMonth,
			LastValue:  note.LastValue,
			Mean:       note.Mean,
			StdDev:     note.StdDev,
			Threshold:  note.Threshold,
			Channels:   note.Channels,
		})
		if err != nil {
			return true, err
		}
		return inserted, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if last, ok := s.lastSent[alert.Antibiotic]; ok && s.cooldown > 0 && now.Sub(last) < s.cooldown {
		return false, nil
	}
	s.lastSent[alert.Antibiotic] = now
	return true, nil
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func notification(alert surveillance.AlertThreshold, trend string, channels []string) alerting.Notification {
	return alerting.Notification{
		Antibiotic: string(alert.Antibiotic),
		Month:      alert.LastMonth,
		LastValue:  toDecimal(alert.Last),
		Mean:       toDecimal(alert.Mean),
		StdDev:     toDecimal(alert.StdDev),
		Threshold:  toDecimal(alert.Threshold),
		Trend:      trend,
		Channels:   channels,
	}
}

func runRecord(eval *Evaluation) storage.EvaluationRun {
	rep := eval.Report
	run := storage.EvaluationRun{
		ID:          eval.ID,
		EvaluatedAt: eval.EvaluatedAt,
		Samples:     rep.Stats.Kept,
		Dropped:     rep.Stats.DroppedDates,
		Alerting:    len(rep.Alerts),
		Failures:    len(rep.Failures),
	}
	if week, ok := rep.LatestWeek(); ok {
		run.LatestWeek = &week
	}
	return run
}

func weeklyPoints(rep *surveillance.Report) []storage.WeeklyPoint {
	points := make([]storage.WeeklyPoint, 0, len(rep.Weekly))
	for _, p := range rep.Weekly {
		wp := storage.WeeklyPoint{
			Week:           p.Week,
			Antibiotic:     string(p.Antibiotic),
			TotalTested:    p.TotalTested,
			ResistantCount: p.ResistantCount,
		}
		if p.Defined() {
			wp.ResistancePct = decimal.NewNullDecimal(toDecimal(p.ResistancePct))
		}
		points = append(points, wp)
	}
	return points
}

func toDecimal(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(3)
}

func sourceFailure(metric string, err error) surveillance.Failure {
	return surveillance.Failure{Metric: metric, Err: err, Message: err.Error()}
}

// contextError keeps cancellation fatal while source errors stay local.
func contextError(ctx context.Context, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return ctx.Err()
	}
	return nil
}
