package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"scnwatch/internal/service"
	"scnwatch/internal/source"
	"scnwatch/internal/surveillance"
)

// SimulateAlert 用给定的月度耐药率序列走一遍告警流程，不读取任何数据文件。
func (a *App) SimulateAlert(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	if len(opts.Values) < 2 {
		return errors.New("至少需要两个月度数值")
	}

	panel, err := a.Config.Panel()
	if err != nil {
		return err
	}
	if !panel.Contains(surveillance.Antibiotic(opts.Antibiotic)) {
		return fmt.Errorf("antibiotic %q is not in the configured panel", opts.Antibiotic)
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	series := simulatedSeries(surveillance.Antibiotic(opts.Antibiotic), opts.Values, time.Now().UTC())
	src := &staticMonthly{series: []surveillance.MonthlySeries{series}}

	svc, err := service.New(a.Config, nil, service.Sources{Monthly: src}, nil, nil, notifier, nil, a.Logger)
	if err != nil {
		return err
	}

	eval, err := svc.ProcessTick(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	if eval == nil || len(eval.Report.Alerts) == 0 {
		a.Logger.Info().Str("antibiotic", opts.Antibiotic).Msg("last value within control limit; no alert sent")
	}
	return nil
}

// simulatedSeries lays the values out on consecutive months ending with the current one.
func simulatedSeries(a surveillance.Antibiotic, values []float64, now time.Time) surveillance.MonthlySeries {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -(len(values) - 1), 0)
	out := surveillance.MonthlySeries{Antibiotic: a, Values: make([]surveillance.MonthlyValue, len(values))}
	for i, v := range values {
		out.Values[i] = surveillance.MonthlyValue{Month: start.AddDate(0, i, 0), Value: v}
	}
	return out
}

type staticMonthly struct {
	series []surveillance.MonthlySeries
}

func (s *staticMonthly) LoadMonthly(context.Context) ([]surveillance.MonthlySeries, error) {
	return s.series, nil
}

var _ source.MonthlySource = (*staticMonthly)(nil)
