package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/tradesim/internal/alert"
	"github.com/newthinker/tradesim/internal/backtest"
	"github.com/newthinker/tradesim/internal/config"
	"github.com/newthinker/tradesim/internal/marketdata"
	"github.com/newthinker/tradesim/internal/report"
	"github.com/newthinker/tradesim/internal/storage/archive"
)

var (
	backtestSymbols   []string
	backtestFrom      string
	backtestTo        string
	backtestStrategy  string
	backtestOut       string
	backtestTrades    bool
	backtestNoArchive bool
	backtestNoNotify  bool
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run a backtest",
	Long: `Run a signal source against historical bars and print performance
statistics. The run document is archived to the configured storage and a
summary is sent to every enabled notifier.`,
	Args: cobra.NoArgs,
	RunE: runBacktest,
}

func init() {
	backtestCmd.Flags().StringSliceVar(&backtestSymbols, "symbols", nil, "Symbols to simulate (default: config, then every stored instrument)")
	backtestCmd.Flags().StringVar(&backtestFrom, "from", "", "Start date YYYY-MM-DD (default: config)")
	backtestCmd.Flags().StringVar(&backtestTo, "to", "", "End date YYYY-MM-DD (default: config)")
	backtestCmd.Flags().StringVar(&backtestStrategy, "strategy", "", "Strategy name (default: config)")
	backtestCmd.Flags().StringVar(&backtestOut, "out", "", "Archive run documents under this local directory")
	backtestCmd.Flags().BoolVar(&backtestTrades, "trades", false, "Print every fill")
	backtestCmd.Flags().BoolVar(&backtestNoArchive, "no-archive", false, "Do not archive the run document")
	backtestCmd.Flags().BoolVar(&backtestNoNotify, "no-notify", false, "Do not send notifications")

	rootCmd.AddCommand(backtestCmd)
}

// applyRunFlags lets command line flags override the config file.
func applyRunFlags(cfg *config.Config, symbols []string, from, to, strategyName string) {
	if len(symbols) > 0 {
		cfg.Backtest.Symbols = symbols
	}
	if from != "" {
		cfg.Backtest.Start = from
	}
	if to != "" {
		cfg.Backtest.End = to
	}
	if strategyName != "" {
		cfg.Backtest.Strategy = strategyName
	}
}

// buildRequest resolves symbols, period and signal source.
func buildRequest(ctx context.Context, cfg *config.Config, provider marketdata.Provider, log *zap.Logger) (backtest.RunRequest, error) {
	start, end, err := cfg.Period(time.Now())
	if err != nil {
		return backtest.RunRequest{}, err
	}

	symbols := cfg.Backtest.Symbols
	if len(symbols) == 0 {
		instruments, err := provider.Instruments(ctx)
		if err != nil {
			return backtest.RunRequest{}, fmt.Errorf("listing instruments: %w", err)
		}
		for _, inst := range instruments {
			symbols = append(symbols, inst.Symbol)
		}
		log.Info("no symbols configured, using every stored instrument", zap.Int("count", len(symbols)))
	}

	name := cfg.Backtest.Strategy
	source, err := newStrategyRegistry(log).New(name, cfg.StrategyConfig(name))
	if err != nil {
		return backtest.RunRequest{}, err
	}

	return backtest.RunRequest{
		Symbols: symbols,
		Start:   start,
		End:     end,
		Source:  source,
	}, nil
}

// openArchive builds the publisher, or nil when archiving is off.
func openArchive(cfg *config.Config, out string, disabled bool, log *zap.Logger) (*report.Publisher, error) {
	if disabled {
		return nil, nil
	}
	storageCfg := cfg.ArchiveConfig()
	if out != "" {
		storageCfg = archive.Config{Type: "local", Path: out}
	}
	if (storageCfg.Type == "" || storageCfg.Type == "local") && storageCfg.Path == "" {
		log.Debug("storage.path not set, run documents are not archived")
		return nil, nil
	}
	storage, err := archive.New(storageCfg)
	if err != nil {
		return nil, err
	}
	return report.NewPublisher(storage, cfg.Storage.RetryMaxElapsed, log), nil
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	applyRunFlags(cfg, backtestSymbols, backtestFrom, backtestTo, backtestStrategy)

	provider, closer, err := openMarketData(cfg, log)
	if err != nil {
		return err
	}
	defer closer.Close()

	req, err := buildRequest(ctx, cfg, provider, log)
	if err != nil {
		return err
	}

	publisher, err := openArchive(cfg, backtestOut, backtestNoArchive, log)
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

	bt, err := backtest.New(cfg.BacktestSettings(), provider, backtest.WithLogger(log))
	if err != nil {
		return err
	}

	log.Info("running backtest",
		zap.String("strategy", req.Source.Name()),
		zap.Int("symbols", len(req.Symbols)),
		zap.String("from", req.Start.Format(time.DateOnly)),
		zap.String("to", req.End.Format(time.DateOnly)),
	)

	run, err := bt.Run(ctx, req)
	if err != nil {
		return fmt.Errorf("backtest failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if err := report.WriteSummary(out, run); err != nil {
		return err
	}
	if backtestTrades {
		fmt.Fprintln(out)
		if err := report.WriteTrades(out, run); err != nil {
			return err
		}
	}

	doc := report.NewDocument(run, time.Now())
	summary := report.NewSummary(run, doc, alerts.Evaluate(run))
	if len(summary.Alerts) > 0 {
		fmt.Fprintln(out)
		for _, a := range summary.Alerts {
			fmt.Fprintln(out, a)
		}
	}

	if publisher != nil {
		path, err := publisher.Publish(ctx, doc)
		if err != nil {
			// The run itself succeeded; keep going so notifications still go out.
			log.Error("archiving run failed", zap.Error(err))
		} else {
			summary.DocumentPath = path
			fmt.Fprintf(out, "\nRun archived at %s\n", path)
		}
	}

	if !backtestNoNotify {
		notify(ctx, cfg, notifiers, summary, log)
	}

	if len(run.Rejections) > 0 {
		log.Debug("rejected orders", zap.String("codes", rejectionCodes(run.Rejections)))
	}
	return nil
}

// rejectionCodes counts rejections per code, e.g. "CIRCUIT_BREAKER=3 NO_POSITION=1".
func rejectionCodes(events []backtest.OrderEvent) string {
	counts := make(map[string]int)
	var order []string
	for _, e := range events {
		if counts[e.Code] == 0 {
			order = append(order, e.Code)
		}
		counts[e.Code]++
	}
	parts := make([]string, len(order))
	for i, code := range order {
		parts[i] = fmt.Sprintf("%s=%d", code, counts[code])
	}
	return strings.Join(parts, " ")
}
