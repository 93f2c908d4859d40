package backtest

import (
	"context"
	"fmt"
	"sort"

	"github.com/newthinker/tradesim/internal/core"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SweepGrid lists the parameter values to try. An empty axis keeps the
// base settings value.
type SweepGrid struct {
	StopLossPct     []float64
	TakeProfitPct   []float64
	PositionSizePct []float64
}

// Size returns the number of parameter combinations.
func (g SweepGrid) Size() int {
	return max(1, len(g.StopLossPct)) * max(1, len(g.TakeProfitPct)) * max(1, len(g.PositionSizePct))
}

// Variants expands the grid over base.
func (g SweepGrid) Variants(base Settings) []Settings {
	orBase := func(values []float64, v float64) []float64 {
		if len(values) == 0 {
			return []float64{v}
		}
		return values
	}

	var variants []Settings
	for _, sl := range orBase(g.StopLossPct, base.Risk.StopLossPct) {
		for _, tp := range orBase(g.TakeProfitPct, base.Risk.TakeProfitPct) {
			for _, ps := range orBase(g.PositionSizePct, base.PositionSizePct) {
				s := base
				s.Risk.StopLossPct = sl
				s.Risk.TakeProfitPct = tp
				s.PositionSizePct = ps
				variants = append(variants, s)
			}
		}
	}
	return variants
}

// SweepResult is the outcome of one grid point.
type SweepResult struct {
	StopLossPct     float64 `json:"stop_loss_pct"`
	TakeProfitPct   float64 `json:"take_profit_pct"`
	PositionSizePct float64 `json:"position_size_pct"`
	Result          Result  `json:"result"`
}

// Sweep runs one independent simulation per grid point over a single bulk
// load, at most parallelism at a time, and returns results ordered by total
// return, best first. Any invalid grid point fails the sweep before it
// starts.
func (b *Backtester) Sweep(ctx context.Context, grid SweepGrid, req RunRequest, parallelism int) ([]SweepResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	variants := grid.Variants(b.settings)
	for _, v := range variants {
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("sweep point sl=%v tp=%v size=%v: %w",
				v.Risk.StopLossPct, v.Risk.TakeProfitPct, v.PositionSizePct, err)
		}
	}

	table, err := b.Load(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(table.Symbols()) == 0 {
		return nil, core.Errorf(core.ErrNoData, "no bars for %v", req.Symbols)
	}

	if parallelism <= 0 {
		parallelism = 1
	}
	b.logger.Info("sweep started",
		zap.Int("points", len(variants)),
		zap.Int("parallelism", parallelism),
	)

	results := make([]SweepResult, len(variants))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, settings := range variants {
		g.Go(func() error {
			run, err := b.Simulate(gctx, settings, req, table)
			if err != nil {
				return err
			}
			results[i] = SweepResult{
				StopLossPct:     settings.Risk.StopLossPct,
				TakeProfitPct:   settings.Risk.TakeProfitPct,
				PositionSizePct: settings.PositionSizePct,
				Result:          run.Result,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Result.TotalReturn > results[j].Result.TotalReturn
	})
	return results, nil
}
