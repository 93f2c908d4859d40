// Package marketdata holds the price stores the simulator reads daily bars
// from, and the importer that fills them.
package marketdata

import (
	"context"
	"time"

	"github.com/newthinker/tradesim/internal/core"
)

// DateLayout is the trade_date format used by the stores (tushare style).
const DateLayout = "20060102"

// Provider serves daily bars and the instrument list.
type Provider interface {
	LoadHistory(ctx context.Context, symbols []string, start, end time.Time) (map[string][]core.OHLCV, error)
	Instruments(ctx context.Context) ([]core.Instrument, error)
}

// Writer persists instruments and bars.
type Writer interface {
	SaveInstrument(ctx context.Context, inst core.Instrument) error
	SaveBars(ctx context.Context, symbol string, bars []core.OHLCV) (int, error)
}

// parseDate accepts both 20240102 and 2024-01-02.
func parseDate(s string) (time.Time, error) {
	if len(s) == len(DateLayout) {
		return time.Parse(DateLayout, s)
	}
	return time.Parse("2006-01-02", s)
}

// inRange reports whether t falls in [start, end]. Zero bounds are open.
func inRange(t, start, end time.Time) bool {
	if !start.IsZero() && t.Before(core.DateKey(start)) {
		return false
	}
	if !end.IsZero() && t.After(core.DateKey(end)) {
		return false
	}
	return true
}
