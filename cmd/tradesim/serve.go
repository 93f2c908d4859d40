package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/tradesim/internal/alert"
	"github.com/newthinker/tradesim/internal/api"
	"github.com/newthinker/tradesim/internal/api/handler"
	"github.com/newthinker/tradesim/internal/api/job"
	"github.com/newthinker/tradesim/internal/backtest"
	"github.com/newthinker/tradesim/internal/metrics"
	"github.com/newthinker/tradesim/internal/notifier"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the backtest job API",
	Long: `Serve an HTTP API that accepts backtest requests as background jobs.
Runs use the configured market data, settings and strategy params; a request
may override symbols, period, strategy and params.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	provider, closer, err := openMarketData(cfg, log)
	if err != nil {
		return err
	}
	defer closer.Close()

	publisher, err := openArchive(cfg, "", false, log)
	if err != nil {
		return err
	}
	notifiers, err := newNotifiers(cfg, log)
	if err != nil {
		return err
	}
	alerts, err := alert.NewEvaluator(cfg.Alerts.Rules)
	if err != nil {
		return err
	}

	opts := []backtest.Option{backtest.WithLogger(log)}
	var reg *metrics.Registry
	if cfg.Metrics.Enabled {
		reg = metrics.NewRegistry()
		opts = append(opts, backtest.WithRecorder(reg))
	}
	bt, err := backtest.New(cfg.BacktestSettings(), provider, opts...)
	if err != nil {
		return err
	}

	strategies := newStrategyRegistry(log)
	backtests := handler.NewBacktestHandler(handler.Deps{
		Jobs:       job.NewStore(cfg.Server.MaxJobs, cfg.Server.JobTTL),
		Runner:     bt,
		Strategies: strategies,
		Config:     cfg,
		Publisher:  publisher,
		Alerts:     alerts,
		Notify: func(ctx context.Context, summary notifier.Summary) {
			notify(ctx, cfg, notifiers, summary, log)
		},
		Timeout: cfg.Server.JobTimeout,
		Logger:  log,
	})

	server, err := api.NewServer(api.Config{
		Host:   cfg.Server.Host,
		Port:   cfg.Server.Port,
		APIKey: cfg.Server.APIKey,
	}, api.Dependencies{
		Backtests:  backtests,
		Strategies: strategies,
		Metrics:    reg,
	}, log)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	if cfg.Server.APIKey == "" {
		log.Warn("server.api_key not set, API authentication disabled")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	return server.Shutdown(shutdownCtx)
}
