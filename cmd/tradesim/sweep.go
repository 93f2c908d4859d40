package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/tradesim/internal/backtest"
	"github.com/newthinker/tradesim/internal/metrics"
	"github.com/newthinker/tradesim/internal/report"
)

var (
	sweepSymbols     []string
	sweepFrom        string
	sweepTo          string
	sweepStrategy    string
	sweepOut         string
	sweepParallelism int
	sweepTop         int
	sweepNoArchive   bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a parameter sweep",
	Long: `Run one simulation per point of the configured stop-loss, take-profit
and position-size grid over a single data load, then print the points
ranked by total return.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().StringSliceVar(&sweepSymbols, "symbols", nil, "Symbols to simulate (default: config, then every stored instrument)")
	sweepCmd.Flags().StringVar(&sweepFrom, "from", "", "Start date YYYY-MM-DD (default: config)")
	sweepCmd.Flags().StringVar(&sweepTo, "to", "", "End date YYYY-MM-DD (default: config)")
	sweepCmd.Flags().StringVar(&sweepStrategy, "strategy", "", "Strategy name (default: config)")
	sweepCmd.Flags().StringVar(&sweepOut, "out", "", "Archive the sweep document under this local directory")
	sweepCmd.Flags().IntVar(&sweepParallelism, "parallelism", 0, "Concurrent simulations (default: config, then 1)")
	sweepCmd.Flags().IntVar(&sweepTop, "top", 20, "Rows to print, 0 for all")
	sweepCmd.Flags().BoolVar(&sweepNoArchive, "no-archive", false, "Do not archive the sweep document")

	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	applyRunFlags(cfg, sweepSymbols, sweepFrom, sweepTo, sweepStrategy)
	parallelism := cfg.Sweep.Parallelism
	if sweepParallelism > 0 {
		parallelism = sweepParallelism
	}

	provider, closer, err := openMarketData(cfg, log)
	if err != nil {
		return err
	}
	defer closer.Close()

	req, err := buildRequest(ctx, cfg, provider, log)
	if err != nil {
		return err
	}

	publisher, err := openArchive(cfg, sweepOut, sweepNoArchive, log)
	if err != nil {
		return err
	}

	opts := []backtest.Option{backtest.WithLogger(log)}
	if cfg.Metrics.Enabled {
		reg := metrics.NewRegistry()
		opts = append(opts, backtest.WithRecorder(reg))
		go func() {
			if err := reg.Serve(ctx, cfg.Metrics.Addr, log); err != nil {
				log.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	bt, err := backtest.New(cfg.BacktestSettings(), provider, opts...)
	if err != nil {
		return err
	}

	grid := cfg.SweepGrid()
	started := time.Now()
	results, err := bt.Sweep(ctx, grid, req, parallelism)
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	log.Info("sweep finished",
		zap.Int("points", len(results)),
		zap.Duration("elapsed", time.Since(started)),
	)

	shown := results
	if sweepTop > 0 && len(shown) > sweepTop {
		shown = shown[:sweepTop]
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "=== Sweep: %s, %d points ===\n", req.Source.Name(), len(results))
	if err := report.WriteSweepTable(out, shown); err != nil {
		return err
	}

	if publisher != nil {
		doc := report.NewSweepDocument(req.Source.Name(), req, bt.Settings(), results, time.Now())
		path, err := publisher.Publish(ctx, doc)
		if err != nil {
			log.Error("archiving sweep failed", zap.Error(err))
		} else {
			fmt.Fprintf(out, "\nSweep archived at %s\n", path)
		}
	}
	return nil
}
