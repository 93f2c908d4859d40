package composite

import (
	"errors"
	"testing"
	"time"

	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/strategy"
)

// series builds n bars moving by step per day, with a volume surge on the last bar.
func series(n int, start, step float64, surge bool) []core.OHLCV {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]core.OHLCV, n)
	for i := range out {
		p := start + step*float64(i)
		out[i] = core.OHLCV{Symbol: "TEST", Open: p, Close: p, Volume: 1000, Time: base.AddDate(0, 0, i)}
	}
	if surge {
		out[n-1].Volume = 5000
	}
	return out
}

func TestComposite_ImplementsSignalSource(t *testing.T) {
	var _ strategy.SignalSource = (*Composite)(nil)
	var _ strategy.Configurable = (*Composite)(nil)
}

func TestComposite_Lookback(t *testing.T) {
	if got := Factory().Lookback(); got != 61 {
		t.Errorf("expected 61, got %d", got)
	}
	if got := New([]int{5, 10}, 15).Lookback(); got != 60 {
		t.Errorf("expected minimum 60, got %d", got)
	}
}

func TestComposite_Uptrend(t *testing.T) {
	// alignment 20 + volume 10 against RSI overbought 15
	signal, err := Factory().Generate(series(80, 10, 0.1, true), "TEST")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signal.Action != core.ActionBuy {
		t.Fatalf("expected buy, got %s (%s)", signal.Action, signal.Reason)
	}
	if signal.Strength != 30 {
		t.Errorf("expected strength 30, got %f", signal.Strength)
	}
	if signal.Indicators["buy_score"] != 30.0 || signal.Indicators["sell_score"] != 15.0 {
		t.Errorf("unexpected scores %v", signal.Indicators)
	}
}

func TestComposite_Downtrend(t *testing.T) {
	signal, err := Factory().Generate(series(80, 30, -0.1, true), "TEST")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signal.Action != core.ActionSell {
		t.Fatalf("expected sell, got %s (%s)", signal.Action, signal.Reason)
	}
}

func TestComposite_Flat(t *testing.T) {
	signal, err := Factory().Generate(series(80, 10, 0, false), "TEST")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signal.Action != core.ActionHold || signal.Strength != 50 {
		t.Errorf("expected hold/50, got %s/%f", signal.Action, signal.Strength)
	}
}

func TestComposite_NotEnoughData(t *testing.T) {
	signal, err := Factory().Generate(series(30, 10, 0.1, false), "TEST")
	if err != nil || signal != nil {
		t.Errorf("expected nil, nil; got %+v, %v", signal, err)
	}
}

func TestComposite_Init(t *testing.T) {
	c := New([]int{5, 10, 20, 60}, 15)
	err := c.Init(strategy.Config{Params: map[string]any{
		"ma_periods": []any{5, 10.0, 120},
		"threshold":  40,
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Lookback() != 121 {
		t.Errorf("expected lookback 121, got %d", c.Lookback())
	}

	err = c.Init(strategy.Config{Params: map[string]any{"ma_periods": []any{5}}})
	if !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("expected CONFIG_INVALID, got %v", err)
	}
}
