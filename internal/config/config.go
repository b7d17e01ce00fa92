package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"scnwatch/internal/logging"
	"scnwatch/internal/surveillance"
)

// Config materialises application configuration.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Logging      logging.Config     `mapstructure:"logging"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Sources      SourcesConfig      `mapstructure:"sources"`
	Surveillance SurveillanceConfig `mapstructure:"surveillance"`
	Alerting     AlertingConfig     `mapstructure:"alerting"`
	Export       ExportConfig       `mapstructure:"export"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig governs the re-evaluation cadence of the watch command.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// SourcesConfig locates the laboratory exports.
type SourcesConfig struct {
	Samples    SampleSourceConfig    `mapstructure:"samples"`
	Monthly    MonthlySourceConfig   `mapstructure:"monthly"`
	Phenotypes PhenotypeSourceConfig `mapstructure:"phenotypes"`
}

// SampleSourceConfig describes the per-sample table.
type SampleSourceConfig struct {
	Path    string              `mapstructure:"path"`
	Sheet   string              `mapstructure:"sheet"`
	Columns SampleColumnsConfig `mapstructure:"columns"`
}

// SampleColumnsConfig names the key columns of the per-sample table.
type SampleColumnsConfig struct {
	SampleID       string `mapstructure:"sample_id"`
	SamplingDate   string `mapstructure:"sampling_date"`
	RequestingUnit string `mapstructure:"requesting_unit"`
	PatientID      string `mapstructure:"patient_id"`
}

// MonthlySourceConfig describes the monthly resistance table.
type MonthlySourceConfig struct {
	Path        string `mapstructure:"path"`
	Sheet       string `mapstructure:"sheet"`
	MonthColumn string `mapstructure:"month_column"`
}

// PhenotypeSourceConfig describes the weekly phenotype table.
type PhenotypeSourceConfig struct {
	Path       string   `mapstructure:"path"`
	Sheet      string   `mapstructure:"sheet"`
	WeekColumn string   `mapstructure:"week_column"`
	Categories []string `mapstructure:"categories"`
}

// SurveillanceConfig fixes the tracked panel and metric parameters.
type SurveillanceConfig struct {
	Antibiotics             []string `mapstructure:"antibiotics"`
	TrendAntibiotics        []string `mapstructure:"trend_antibiotics"`
	CoResistanceAntibiotics []string `mapstructure:"coresistance_antibiotics"`
	TrendCutoff             float64  `mapstructure:"trend_cutoff"`
	Sigma                   float64  `mapstructure:"sigma"`
	Workers                 int      `mapstructure:"workers"`
}

// AlertingConfig defines alert routing.
type AlertingConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Cooldown time.Duration `mapstructure:"cooldown"`
	// Retention prunes alert records older than this after each tick; zero keeps them.
	Retention time.Duration  `mapstructure:"retention"`
	Channels  []string       `mapstructure:"channels"`
	Telegram  TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxWeeks int `mapstructure:"max_weeks"`
}

// MetricsConfig exposes Prometheus gauges while watching.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// MinAlertRetention keeps an alert record at least as long as its month can
// remain the latest one, so pruning never re-opens a sent alert.
const MinAlertRetention = 31 * 24 * time.Hour

// DefaultAntibiotics is the SCN panel tracked when none is configured.
var DefaultAntibiotics = []string{
	"Penicillin G",
	"Oxacillin",
	"Gentamicin",
	"Kanamycin",
	"Tobramycin",
	"Erythromycin",
	"Clindamycin",
	"Ofloxacin",
	"Levofloxacin",
	"Tetracycline",
	"Fusidic acid",
	"Fosfomycin",
	"Rifampicin",
	"Trimethoprim-sulfamethoxazole",
	"Linezolid",
	"Teicoplanin",
	"Vancomycin",
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCNWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "scnwatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x53434e57))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("sources.samples.columns.sample_id", "sample_id")
	v.SetDefault("sources.samples.columns.sampling_date", "sampling_date")
	v.SetDefault("sources.samples.columns.requesting_unit", "requesting_unit")
	v.SetDefault("sources.samples.columns.patient_id", "patient_id")
	v.SetDefault("sources.phenotypes.week_column", "Semaine")
	v.SetDefault("sources.phenotypes.categories", surveillance.DefaultPhenotypes)

	v.SetDefault("surveillance.antibiotics", DefaultAntibiotics)
	v.SetDefault("surveillance.trend_cutoff", surveillance.DefaultTrendCutoff)
	v.SetDefault("surveillance.sigma", surveillance.DefaultSigma)
	v.SetDefault("surveillance.workers", 4)

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "168h")
	v.SetDefault("alerting.retention", "0s")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_weeks", 52)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen_addr", ":9108")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if _, err := c.Panel(); err != nil {
		return fmt.Errorf("surveillance.antibiotics: %w", err)
	}
	if c.Surveillance.Sigma <= 0 {
		return fmt.Errorf("surveillance.sigma must be greater than zero")
	}
	if c.Surveillance.TrendCutoff <= 0 {
		return fmt.Errorf("surveillance.trend_cutoff must be greater than zero")
	}
	if c.Surveillance.Workers <= 0 {
		return fmt.Errorf("surveillance.workers must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Export.MaxWeeks < 0 {
		return fmt.Errorf("export.max_weeks cannot be negative")
	}
	if c.Alerting.Cooldown < 0 {
		return fmt.Errorf("alerting.cooldown cannot be negative")
	}
	if r := c.Alerting.Retention; r < 0 || (r > 0 && r < MinAlertRetention) {
		return fmt.Errorf("alerting.retention must be 0 or at least %s", MinAlertRetention)
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	return nil
}

// Panel builds the tracked antibiotic panel.
func (c *Config) Panel() (surveillance.Panel, error) {
	return surveillance.NewPanel(c.Surveillance.Antibiotics...)
}

// ReportOptions translates the surveillance section into metric options.
// Selections naming antibiotics outside the panel are returned as rejected.
func (c *Config) ReportOptions() (surveillance.Options, []string, error) {
	panel, err := c.Panel()
	if err != nil {
		return surveillance.Options{}, nil, err
	}
	trend, rejectedTrend := panel.Subset(c.Surveillance.TrendAntibiotics)
	co, rejectedCo := panel.Subset(c.Surveillance.CoResistanceAntibiotics)

	opts := surveillance.Options{
		Panel:                   panel,
		TrendAntibiotics:        trend,
		CoResistanceAntibiotics: co,
		Sigma:                   c.Surveillance.Sigma,
		TrendCutoff:             c.Surveillance.TrendCutoff,
		PhenotypeOrder:          c.Sources.Phenotypes.Categories,
		Workers:                 c.Surveillance.Workers,
	}
	return opts, append(rejectedTrend, rejectedCo...), nil
}

// ResolveMaxWeeks returns either the CLI override or config default.
func (c *Config) ResolveMaxWeeks(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxWeeks
}
