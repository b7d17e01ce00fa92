package app

import (
	"context"
	"errors"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"scnwatch/internal/alerting"
	"scnwatch/internal/config"
	"scnwatch/internal/metrics"
	"scnwatch/internal/scheduler"
	"scnwatch/internal/service"
	"scnwatch/internal/source"
	"scnwatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newSources() (service.Sources, error) {
	panel, err := a.Config.Panel()
	if err != nil {
		return service.Sources{}, err
	}
	src := a.Config.Sources
	files := source.NewFiles(source.FileOptions{
		SamplesPath:  src.Samples.Path,
		SamplesSheet: src.Samples.Sheet,
		SampleColumns: source.SampleColumns{
			SampleID:       src.Samples.Columns.SampleID,
			SamplingDate:   src.Samples.Columns.SamplingDate,
			RequestingUnit: src.Samples.Columns.RequestingUnit,
			PatientID:      src.Samples.Columns.PatientID,
		},
		MonthlyPath:     src.Monthly.Path,
		MonthlySheet:    src.Monthly.Sheet,
		MonthColumn:     src.Monthly.MonthColumn,
		PhenotypesPath:  src.Phenotypes.Path,
		PhenotypesSheet: src.Phenotypes.Sheet,
		WeekColumn:      src.Phenotypes.WeekColumn,
		Categories:      src.Phenotypes.Categories,
	}, panel, a.Logger)

	return service.Sources{Samples: files, Monthly: files, Phenotypes: files}, nil
}

// newNotifier maps configured channels to notifiers. Unknown channels are
// logged and skipped.
func (a *App) newNotifier() alerting.Notifier {
	var notifiers alerting.Fanout
	for _, channel := range a.Config.Alerting.Channels {
		switch strings.ToLower(strings.TrimSpace(channel)) {
		case "telegram":
			if !a.Config.Alerting.Telegram.Enabled {
				a.Logger.Warn().Msg("telegram channel listed but alerting.telegram.enabled is false")
				continue
			}
			cfg := a.Config.Alerting.Telegram
			notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
		case "log":
			notifiers = append(notifiers, alerting.NewLogNotifier(a.Logger))
		default:
			a.Logger.Warn().Str("channel", channel).Msg("unknown alert channel ignored")
		}
	}
	if len(notifiers) == 0 {
		return nil
	}
	return notifiers
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	store, err := storage.Open(ctx, a.Config.Database)
	if err != nil || store == nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

// evaluate computes one report from the configured sources without
// persistence or alerting.
func (a *App) evaluate(ctx context.Context) (*service.Evaluation, error) {
	sources, err := a.newSources()
	if err != nil {
		return nil, err
	}
	svc, err := service.New(a.Config, nil, sources, nil, nil, nil, nil, a.Logger)
	if err != nil {
		return nil, err
	}
	return svc.Evaluate(ctx)
}

// Run executes the long-running watch loop, with the metrics endpoint when enabled.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		Immediate:    opts.Immediate,
	}, a.Logger)

	sources, err := a.newSources()
	if err != nil {
		return err
	}

	var recorder *metrics.Recorder
	if a.Config.Metrics.Enabled {
		recorder = metrics.NewRecorder()
	}

	var runStore storage.RunStore
	var alertStore storage.AlertStore
	if store != nil {
		runStore = store
		alertStore = store
	}

	svc, err := service.New(a.Config, sched, sources, runStore, alertStore, a.newNotifier(), recorder, a.Logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if recorder != nil {
		g.Go(func() error {
			return recorder.Serve(gctx, a.Config.Metrics.ListenAddr, a.Logger)
		})
	}
	g.Go(func() error {
		a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting surveillance watch")
		return svc.Run(gctx)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("watch terminated with error")
		return err
	}

	a.Logger.Info().Msg("surveillance watch stopped")
	return nil
}

// RunOptions configure the watch command.
type RunOptions struct {
	Immediate bool
}

// ReportOptions configure the report command.
type ReportOptions struct {
	Format string
	Out    io.Writer
}

// ExportOptions hold parameters for exporting a report.
type ExportOptions struct {
	CSVDir   string
	XLSXPath string
	PNGDir   string
	MaxWeeks int
}

// HistoryOptions configure the history command.
type HistoryOptions struct {
	Limit int
	Runs  bool
	// Antibiotic selects the persisted weekly series of one run instead.
	Antibiotic string
	// RunID picks the run; empty means the latest one.
	RunID string
	Out   io.Writer
}

// SimulateOptions describe a synthetic monthly series pushed through alerting.
type SimulateOptions struct {
	Antibiotic string
	Values     []float64
}
