package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/newthinker/tradesim/internal/alert"
	"github.com/newthinker/tradesim/internal/backtest"
	"github.com/newthinker/tradesim/internal/broker"
	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/notifier"
	"github.com/newthinker/tradesim/internal/storage/archive"
	"github.com/newthinker/tradesim/internal/strategy"
)

type Config struct {
	Log        LogConfig                 `mapstructure:"log"`
	Backtest   BacktestConfig            `mapstructure:"backtest"`
	Trading    TradingConfig             `mapstructure:"trading"`
	Risk       RiskConfig                `mapstructure:"risk"`
	Data       DataConfig                `mapstructure:"data"`
	Storage    StorageConfig             `mapstructure:"storage"`
	Strategies map[string]StrategyConfig `mapstructure:"strategies"`
	Notifiers  map[string]NotifierConfig `mapstructure:"notifiers"`
	Metrics    MetricsConfig             `mapstructure:"metrics"`
	Sweep      SweepConfig               `mapstructure:"sweep"`
	Alerts     AlertsConfig              `mapstructure:"alerts"`
	Server     ServerConfig              `mapstructure:"server"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// BacktestConfig selects what to simulate and how the account is sized.
// Start and End accept YYYY-MM-DD or YYYYMMDD.
type BacktestConfig struct {
	InitialCapital  float64  `mapstructure:"initial_capital"`
	Start           string   `mapstructure:"start"`
	End             string   `mapstructure:"end"`
	Symbols         []string `mapstructure:"symbols"`
	Strategy        string   `mapstructure:"strategy"`
	WarmupDays      int      `mapstructure:"warmup_days"`
	PositionSizePct float64  `mapstructure:"position_size_pct"`
	LotSize         int64    `mapstructure:"lot_size"`
}

// TradingConfig holds transaction cost rates.
type TradingConfig struct {
	CommissionRate  float64 `mapstructure:"commission_rate"`
	MinCommission   float64 `mapstructure:"min_commission"`
	StampDutyRate   float64 `mapstructure:"stamp_duty_rate"`
	TransferFeeRate float64 `mapstructure:"transfer_fee_rate"`
	SlippageRate    float64 `mapstructure:"slippage_rate"`
}

type RiskConfig struct {
	MaxPositionPct  float64 `mapstructure:"max_position_pct"`
	MaxExposurePct  float64 `mapstructure:"max_exposure_pct"`
	MaxPositions    int     `mapstructure:"max_positions"`
	StopLossPct     float64 `mapstructure:"stop_loss_pct"`
	TakeProfitPct   float64 `mapstructure:"take_profit_pct"`
	MaxDailyLossPct float64 `mapstructure:"max_daily_loss_pct"`
}

// DataConfig locates market data. Driver and DSN select the SQL store;
// CSVDir is used when DSN is empty.
type DataConfig struct {
	Driver      string          `mapstructure:"driver"` // "sqlite3" or "postgres"
	DSN         string          `mapstructure:"dsn"`
	CSVDir      string          `mapstructure:"csv_dir"`
	CSVEncoding string          `mapstructure:"csv_encoding"`
	Eastmoney   EastmoneyConfig `mapstructure:"eastmoney"`
}

type EastmoneyConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestsPerSec int           `mapstructure:"requests_per_sec"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxElapsed     time.Duration `mapstructure:"max_elapsed"`
}

type StorageConfig struct {
	Type            string        `mapstructure:"type"` // "local" or "s3"
	Path            string        `mapstructure:"path"` // For local
	S3              S3Config      `mapstructure:"s3"`   // For S3
	RetryMaxElapsed time.Duration `mapstructure:"retry_max_elapsed"`
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Prefix    string `mapstructure:"prefix"`
}

type StrategyConfig struct {
	Params map[string]any `mapstructure:"params"`
}

// NotifierConfig keeps every key besides enabled as a notifier param, so
// each channel reads its own settings (url, bot_token, host...).
type NotifierConfig struct {
	Enabled bool           `mapstructure:"enabled"`
	Params  map[string]any `mapstructure:",remain"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// SweepConfig lists the grid axes. An empty axis keeps the base value.
type SweepConfig struct {
	StopLossPct     []float64 `mapstructure:"stop_loss_pct"`
	TakeProfitPct   []float64 `mapstructure:"take_profit_pct"`
	PositionSizePct []float64 `mapstructure:"position_size_pct"`
	Parallelism     int       `mapstructure:"parallelism"`
}

// AlertsConfig holds threshold rules checked after every run.
type AlertsConfig struct {
	Rules []alert.Rule `mapstructure:"rules"`
	// NotifyOnlyOnAlert skips notifications for runs that trigger no rule.
	NotifyOnlyOnAlert bool `mapstructure:"notify_only_on_alert"`
}

// ServerConfig configures the HTTP job API started by `tradesim serve`.
// An empty APIKey disables authentication.
type ServerConfig struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	APIKey     string        `mapstructure:"api_key"`
	MaxJobs    int           `mapstructure:"max_jobs"`
	JobTTL     time.Duration `mapstructure:"job_ttl"`
	JobTimeout time.Duration `mapstructure:"job_timeout"`
}

// Load reads configuration from file. Keys missing from the file take
// their values from Defaults, except trading.commission_rate which must be
// set explicitly.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v, Defaults())

	// Support environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	if !v.IsSet("trading.commission_rate") {
		return nil, core.Errorf(core.ErrConfigMissing, "trading.commission_rate")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)

	v.SetDefault("backtest.initial_capital", d.Backtest.InitialCapital)
	v.SetDefault("backtest.strategy", d.Backtest.Strategy)
	v.SetDefault("backtest.warmup_days", d.Backtest.WarmupDays)
	v.SetDefault("backtest.position_size_pct", d.Backtest.PositionSizePct)
	v.SetDefault("backtest.lot_size", d.Backtest.LotSize)

	v.SetDefault("trading.min_commission", d.Trading.MinCommission)
	v.SetDefault("trading.stamp_duty_rate", d.Trading.StampDutyRate)
	v.SetDefault("trading.transfer_fee_rate", d.Trading.TransferFeeRate)
	v.SetDefault("trading.slippage_rate", d.Trading.SlippageRate)

	v.SetDefault("risk.max_position_pct", d.Risk.MaxPositionPct)
	v.SetDefault("risk.max_exposure_pct", d.Risk.MaxExposurePct)
	v.SetDefault("risk.max_positions", d.Risk.MaxPositions)
	v.SetDefault("risk.stop_loss_pct", d.Risk.StopLossPct)
	v.SetDefault("risk.take_profit_pct", d.Risk.TakeProfitPct)
	v.SetDefault("risk.max_daily_loss_pct", d.Risk.MaxDailyLossPct)

	v.SetDefault("data.driver", d.Data.Driver)
	v.SetDefault("storage.type", d.Storage.Type)
	v.SetDefault("storage.retry_max_elapsed", d.Storage.RetryMaxElapsed)
	v.SetDefault("metrics.addr", d.Metrics.Addr)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.max_jobs", d.Server.MaxJobs)
	v.SetDefault("server.job_ttl", d.Server.JobTTL)
	v.SetDefault("server.job_timeout", d.Server.JobTimeout)
}

// Defaults returns a config with sensible defaults. The cost rates are the
// A-share retail rates; Load still requires commission_rate in the file.
func Defaults() *Config {
	settings := backtest.DefaultSettings()
	return &Config{
		Log: LogConfig{
			Level: "info",
		},
		Backtest: BacktestConfig{
			InitialCapital:  settings.InitialCapital,
			Strategy:        "ma_crossover",
			WarmupDays:      settings.WarmupDays,
			PositionSizePct: settings.PositionSizePct,
			LotSize:         settings.LotSize,
		},
		Trading: TradingConfig(settings.Costs),
		Risk:    RiskConfig(settings.Risk),
		Data: DataConfig{
			Driver: "sqlite3",
		},
		Storage: StorageConfig{
			Type:            "local",
			RetryMaxElapsed: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Server: ServerConfig{
			Host:       "127.0.0.1",
			Port:       8080,
			MaxJobs:    100,
			JobTTL:     24 * time.Hour,
			JobTimeout: 5 * time.Minute,
		},
	}
}

// BacktestSettings converts the file sections into run settings.
func (c *Config) BacktestSettings() backtest.Settings {
	return backtest.Settings{
		InitialCapital:  c.Backtest.InitialCapital,
		Costs:           broker.CostConfig(c.Trading),
		Risk:            broker.RiskConfig(c.Risk),
		PositionSizePct: c.Backtest.PositionSizePct,
		LotSize:         c.Backtest.LotSize,
		WarmupDays:      c.Backtest.WarmupDays,
	}
}

// Period parses the configured start and end dates. A missing end means
// today; a missing start means one year before the end.
func (c *Config) Period(now time.Time) (time.Time, time.Time, error) {
	end := core.DateKey(now)
	if c.Backtest.End != "" {
		t, err := ParseDate(c.Backtest.End)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		end = t
	}
	start := end.AddDate(-1, 0, 0)
	if c.Backtest.Start != "" {
		t, err := ParseDate(c.Backtest.Start)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		start = t
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, core.Errorf(core.ErrConfigInvalid,
			"backtest.end %s before start %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	return start, end, nil
}

// ParseDate accepts YYYY-MM-DD or YYYYMMDD.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.DateOnly, "20060102"} {
		if t, err := time.Parse(layout, s); err == nil {
			return core.DateKey(t), nil
		}
	}
	return time.Time{}, core.Errorf(core.ErrConfigInvalid, "date %q: want YYYY-MM-DD or YYYYMMDD", s)
}

// ArchiveConfig returns the result storage settings.
func (c *Config) ArchiveConfig() archive.Config {
	return archive.Config{
		Type: c.Storage.Type,
		Path: c.Storage.Path,
		S3:   archive.S3Config(c.Storage.S3),
	}
}

// StrategyConfig returns the params for name, empty when unconfigured.
func (c *Config) StrategyConfig(name string) strategy.Config {
	return strategy.Config{Params: c.Strategies[name].Params}
}

// EnabledNotifiers returns the enabled notifier sections ordered by type.
func (c *Config) EnabledNotifiers() []notifier.Config {
	var out []notifier.Config
	for name, n := range c.Notifiers {
		if !n.Enabled {
			continue
		}
		out = append(out, notifier.Config{Type: name, Params: n.Params})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// SweepGrid returns the configured parameter grid.
func (c *Config) SweepGrid() backtest.SweepGrid {
	return backtest.SweepGrid{
		StopLossPct:     c.Sweep.StopLossPct,
		TakeProfitPct:   c.Sweep.TakeProfitPct,
		PositionSizePct: c.Sweep.PositionSizePct,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("log.level %q: %w", c.Log.Level, err))
	}

	if err := c.BacktestSettings().Validate(); err != nil {
		return err
	}
	if c.Backtest.Start != "" {
		if _, err := ParseDate(c.Backtest.Start); err != nil {
			return err
		}
	}
	if c.Backtest.End != "" {
		if _, err := ParseDate(c.Backtest.End); err != nil {
			return err
		}
	}

	// Data validation
	if c.Data.DSN != "" {
		switch c.Data.Driver {
		case "sqlite3", "postgres":
		default:
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("data.driver must be sqlite3 or postgres, got %q", c.Data.Driver))
		}
	}
	switch strings.ToLower(c.Data.CSVEncoding) {
	case "", "utf-8", "utf8", "gbk", "gb18030":
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("data.csv_encoding %q not supported", c.Data.CSVEncoding))
	}

	// Storage validation
	switch c.Storage.Type {
	case "", "local":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("storage.s3.bucket required when type is s3"))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("storage.type must be local or s3, got %q", c.Storage.Type))
	}
	if c.Storage.RetryMaxElapsed < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("storage.retry_max_elapsed cannot be negative"))
	}

	if c.Sweep.Parallelism < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("sweep.parallelism cannot be negative, got %d", c.Sweep.Parallelism))
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return core.WrapError(core.ErrConfigMissing,
			fmt.Errorf("metrics.addr required when metrics are enabled"))
	}

	if _, err := alert.NewEvaluator(c.Alerts.Rules); err != nil {
		return err
	}

	// Server validation
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.MaxJobs < 1 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("server.max_jobs must be positive, got %d", c.Server.MaxJobs))
	}
	if c.Server.JobTTL < 0 || c.Server.JobTimeout < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("server.job_ttl and server.job_timeout cannot be negative"))
	}

	return nil
}
