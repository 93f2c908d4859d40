package backtest

import (
	"context"
	"testing"

	"github.com/newthinker/tradesim/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBacktester_Sweep(t *testing.T) {
	data := map[string][]core.OHLCV{
		"A": {bar("A", 2, 100, 100), bar("A", 3, 100, 100), bar("A", 4, 110, 130), bar("A", 5, 130, 130)},
	}
	source := (&scriptedSource{name: "script"}).plan("A", 2, core.ActionBuy, 80)
	provider := &mapProvider{data: data}

	bt, err := New(frictionless(), provider)
	require.NoError(t, err)

	grid := SweepGrid{PositionSizePct: []float64{0.1, 0.5}}
	results, err := bt.Sweep(context.Background(), grid, RunRequest{
		Symbols: []string{"A"},
		Start:   d(2),
		End:     d(5),
		Source:  source,
	}, 2)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, 1, provider.calls, "bars are loaded once for the whole grid")
	assert.Equal(t, 0.5, results[0].PositionSizePct, "best total return first")
	assert.InDelta(t, 0.15, results[0].Result.TotalReturn, 1e-9)
	assert.InDelta(t, 0.03, results[1].Result.TotalReturn, 1e-9)
}

func TestBacktester_SweepRejectsInvalidPoint(t *testing.T) {
	provider := &mapProvider{data: map[string][]core.OHLCV{"A": flat("A", 10, 2, 3)}}
	bt, err := New(frictionless(), provider)
	require.NoError(t, err)

	grid := SweepGrid{StopLossPct: []float64{0.05, 1.5}}
	_, err = bt.Sweep(context.Background(), grid, RunRequest{
		Symbols: []string{"A"}, Start: d(2), End: d(3), Source: &scriptedSource{name: "s"},
	}, 4)

	assert.ErrorIs(t, err, core.ErrConfigInvalid)
	assert.Zero(t, provider.calls, "nothing runs when any point is invalid")
}

func TestBacktester_SweepWithoutData(t *testing.T) {
	bt, err := New(frictionless(), &mapProvider{})
	require.NoError(t, err)

	_, err = bt.Sweep(context.Background(), SweepGrid{}, RunRequest{
		Symbols: []string{"A"}, Start: d(2), End: d(3), Source: &scriptedSource{name: "s"},
	}, 0)
	assert.ErrorIs(t, err, core.ErrNoData)
}
