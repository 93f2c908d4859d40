package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/newthinker/tradesim/internal/config"
	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/logger"
	"github.com/newthinker/tradesim/internal/marketdata"
	"github.com/newthinker/tradesim/internal/notifier"
	"github.com/newthinker/tradesim/internal/notifier/email"
	"github.com/newthinker/tradesim/internal/notifier/telegram"
	"github.com/newthinker/tradesim/internal/notifier/webhook"
	"github.com/newthinker/tradesim/internal/strategy"
	"github.com/newthinker/tradesim/internal/strategy/bollinger"
	"github.com/newthinker/tradesim/internal/strategy/composite"
	"github.com/newthinker/tradesim/internal/strategy/ma_crossover"
	"github.com/newthinker/tradesim/internal/strategy/rsi_reversal"
)

// setup loads and validates the config and builds the logger.
func setup() (*config.Config, *zap.Logger, error) {
	var cfg *config.Config
	var err error

	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return nil, nil, fmt.Errorf("loading config: %w", err)
		}
	} else {
		cfg = config.Defaults()
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}

	level := cfg.Log.Level
	if debug {
		level = "debug"
	}
	log, err := logger.NewWithLevel(level, debug || cfg.Log.Development)
	if err != nil {
		return nil, nil, fmt.Errorf("creating logger: %w", err)
	}
	if cfgFile == "" {
		log.Warn("no config file specified, using defaults")
	}
	return cfg, log, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openMarketData returns the configured bar source. The SQL store wins
// when a DSN is set; otherwise CSV files are read directly.
func openMarketData(cfg *config.Config, log *zap.Logger) (marketdata.Provider, io.Closer, error) {
	if cfg.Data.DSN != "" {
		store, err := marketdata.OpenSQL(cfg.Data.Driver, cfg.Data.DSN, log)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	}
	if cfg.Data.CSVDir != "" {
		store, err := marketdata.NewCSVStore(cfg.Data.CSVDir, cfg.Data.CSVEncoding, log)
		if err != nil {
			return nil, nil, err
		}
		return store, closerFunc(func() error { return nil }), nil
	}
	return nil, nil, core.Errorf(core.ErrConfigMissing, "data.dsn or data.csv_dir")
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// openSQLStore opens the store that import and fetch write into.
func openSQLStore(cfg *config.Config, log *zap.Logger) (*marketdata.SQLStore, error) {
	if cfg.Data.DSN == "" {
		return nil, core.Errorf(core.ErrConfigMissing, "data.dsn")
	}
	return marketdata.OpenSQL(cfg.Data.Driver, cfg.Data.DSN, log)
}

func newStrategyRegistry(log *zap.Logger) *strategy.Registry {
	reg := strategy.NewRegistry(log)
	reg.Register(ma_crossover.Name, ma_crossover.Factory)
	reg.Register(rsi_reversal.Name, rsi_reversal.Factory)
	reg.Register(bollinger.Name, bollinger.Factory)
	reg.Register(composite.Name, composite.Factory)
	return reg
}

// newNotifiers builds every enabled notifier. Unknown types are a config
// error so typos do not silently drop notifications.
func newNotifiers(cfg *config.Config, log *zap.Logger) (*notifier.Registry, error) {
	reg := notifier.NewRegistry()
	for _, nc := range cfg.EnabledNotifiers() {
		var n notifier.Notifier
		switch nc.Type {
		case "webhook":
			n = &webhook.Webhook{}
		case "telegram":
			n = &telegram.Telegram{}
		case "email":
			n = &email.Email{}
		default:
			return nil, core.Errorf(core.ErrConfigInvalid, "unknown notifier %q", nc.Type)
		}
		if err := n.Init(nc); err != nil {
			return nil, core.WrapError(core.ErrConfigInvalid, err)
		}
		if err := reg.Register(n); err != nil {
			return nil, err
		}
		log.Debug("notifier enabled", zap.String("notifier", nc.Type))
	}
	return reg, nil
}

// notify delivers summary and logs failures; a failed channel never fails
// the command. With alerts.notify_only_on_alert set, quiet runs are not
// sent.
func notify(ctx context.Context, cfg *config.Config, reg *notifier.Registry, summary notifier.Summary, log *zap.Logger) {
	if reg.Len() == 0 {
		return
	}
	if cfg.Alerts.NotifyOnlyOnAlert && len(summary.Alerts) == 0 {
		log.Debug("no alert fired, notifications skipped", zap.String("run_id", summary.RunID))
		return
	}
	for name, err := range reg.NotifyAll(ctx, summary) {
		log.Warn("notification failed",
			zap.String("notifier", name),
			zap.Error(core.WrapError(core.ErrNotifierFailed, err)),
		)
	}
}
