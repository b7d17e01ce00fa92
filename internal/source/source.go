package source

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"scnwatch/internal/surveillance"
)

// ErrNotConfigured indicates a source path was left empty.
var ErrNotConfigured = errors.New("source: path not configured")

// SampleSource delivers the per-sample susceptibility table.
type SampleSource interface {
	LoadSamples(ctx context.Context) (*surveillance.SampleTable, error)
}

// MonthlySource delivers the monthly resistance series.
type MonthlySource interface {
	LoadMonthly(ctx context.Context) ([]surveillance.MonthlySeries, error)
}

// PhenotypeSource delivers the weekly phenotype counts.
type PhenotypeSource interface {
	LoadPhenotypes(ctx context.Context) ([]surveillance.PhenotypeWeek, error)
}

// FileOptions locate the three source files.
type FileOptions struct {
	SamplesPath   string
	SamplesSheet  string
	SampleColumns SampleColumns

	MonthlyPath  string
	MonthlySheet string
	MonthColumn  string

	PhenotypesPath  string
	PhenotypesSheet string
	WeekColumn      string
	Categories      []string
}

// Files reads every source from CSV or XLSX files on each call.
type Files struct {
	opts   FileOptions
	panel  surveillance.Panel
	logger zerolog.Logger
}

// NewFiles builds a file-backed source set for the panel.
func NewFiles(opts FileOptions, panel surveillance.Panel, logger zerolog.Logger) *Files {
	if len(opts.Categories) == 0 {
		opts.Categories = surveillance.DefaultPhenotypes
	}
	return &Files{opts: opts, panel: panel, logger: logger.With().Str("component", "file_source").Logger()}
}

// LoadSamples reads the per-sample table.
func (f *Files) LoadSamples(ctx context.Context) (*surveillance.SampleTable, error) {
	t, err := f.read(ctx, f.opts.SamplesPath, f.opts.SamplesSheet)
	if err != nil {
		return nil, err
	}
	out, err := SamplesFromTable(t, f.opts.SampleColumns, f.panel)
	if err != nil {
		return nil, err
	}
	f.logger.Debug().Str("path", f.opts.SamplesPath).Int("rows", len(out.Rows)).Msg("samples loaded")
	return out, nil
}

// LoadMonthly reads the monthly resistance table.
func (f *Files) LoadMonthly(ctx context.Context) ([]surveillance.MonthlySeries, error) {
	t, err := f.read(ctx, f.opts.MonthlyPath, f.opts.MonthlySheet)
	if err != nil {
		return nil, err
	}
	out, err := MonthlyFromTable(t, f.opts.MonthColumn, f.panel)
	if err != nil {
		return nil, err
	}
	f.logger.Debug().Str("path", f.opts.MonthlyPath).Int("series", len(out)).Msg("monthly series loaded")
	return out, nil
}

// LoadPhenotypes reads the weekly phenotype table.
func (f *Files) LoadPhenotypes(ctx context.Context) ([]surveillance.PhenotypeWeek, error) {
	t, err := f.read(ctx, f.opts.PhenotypesPath, f.opts.PhenotypesSheet)
	if err != nil {
		return nil, err
	}
	out, err := PhenotypesFromTable(t, f.opts.WeekColumn, f.opts.Categories)
	if err != nil {
		return nil, err
	}
	f.logger.Debug().Str("path", f.opts.PhenotypesPath).Int("weeks", len(out)).Msg("phenotypes loaded")
	return out, nil
}

func (f *Files) read(ctx context.Context, path, sheet string) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, ErrNotConfigured
	}
	return ReadTable(path, sheet)
}

var (
	_ SampleSource    = (*Files)(nil)
	_ MonthlySource   = (*Files)(nil)
	_ PhenotypeSource = (*Files)(nil)
)
