package backtest

import (
	"sort"
	"time"

	"github.com/newthinker/tradesim/internal/core"
)

// PriceTable is an in-memory, date-indexed view of every bar loaded for a
// run. It is read-only after construction and may be shared by parallel
// simulations.
type PriceTable struct {
	bars  map[string][]core.OHLCV      // symbol -> bars sorted by date
	index map[string]map[time.Time]int // symbol -> day -> position in bars
}

// NewPriceTable builds a table from provider output. Bars are normalized to
// their calendar day, sorted, deduplicated (last one wins) and invalid bars
// are dropped.
func NewPriceTable(history map[string][]core.OHLCV) *PriceTable {
	t := &PriceTable{
		bars:  make(map[string][]core.OHLCV, len(history)),
		index: make(map[string]map[time.Time]int, len(history)),
	}

	for symbol, raw := range history {
		byDay := make(map[time.Time]core.OHLCV, len(raw))
		for _, bar := range raw {
			if !bar.IsValid() {
				continue
			}
			bar.Time = core.DateKey(bar.Time)
			if bar.Symbol == "" {
				bar.Symbol = symbol
			}
			byDay[bar.Time] = bar
		}
		if len(byDay) == 0 {
			continue
		}

		bars := make([]core.OHLCV, 0, len(byDay))
		for _, bar := range byDay {
			bars = append(bars, bar)
		}
		sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })

		idx := make(map[time.Time]int, len(bars))
		for i, bar := range bars {
			idx[bar.Time] = i
		}
		t.bars[symbol] = bars
		t.index[symbol] = idx
	}
	return t
}

// Symbols returns the symbols with at least one bar, sorted.
func (t *PriceTable) Symbols() []string {
	symbols := make([]string, 0, len(t.bars))
	for s := range t.bars {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// Calendar returns the sorted union of bar dates within [start, end].
func (t *PriceTable) Calendar(start, end time.Time) []time.Time {
	start, end = core.DateKey(start), core.DateKey(end)
	seen := make(map[time.Time]struct{})
	for _, bars := range t.bars {
		for _, bar := range bars {
			if bar.Time.Before(start) || bar.Time.After(end) {
				continue
			}
			seen[bar.Time] = struct{}{}
		}
	}

	days := make([]time.Time, 0, len(seen))
	for d := range seen {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}

// Bar returns the bar of symbol on day.
func (t *PriceTable) Bar(symbol string, day time.Time) (core.OHLCV, bool) {
	i, ok := t.index[symbol][core.DateKey(day)]
	if !ok {
		return core.OHLCV{}, false
	}
	return t.bars[symbol][i], true
}

// History returns the bars of symbol up to and including day, provided the
// symbol traded on day. The returned slice has no spare capacity so callers
// cannot append into later bars.
func (t *PriceTable) History(symbol string, day time.Time) []core.OHLCV {
	i, ok := t.index[symbol][core.DateKey(day)]
	if !ok {
		return nil
	}
	return t.bars[symbol][: i+1 : i+1]
}

// LastClose returns the latest close of symbol on or before day.
func (t *PriceTable) LastClose(symbol string, day time.Time) (float64, bool) {
	bars := t.bars[symbol]
	day = core.DateKey(day)
	i := sort.Search(len(bars), func(i int) bool { return bars[i].Time.After(day) })
	if i == 0 {
		return 0, false
	}
	return bars[i-1].Close, true
}

// Opens returns the open of every symbol that traded on day.
func (t *PriceTable) Opens(day time.Time) map[string]float64 {
	return t.prices(day, func(b core.OHLCV) float64 { return b.Open })
}

// Closes returns the close of every symbol that traded on day.
func (t *PriceTable) Closes(day time.Time) map[string]float64 {
	return t.prices(day, func(b core.OHLCV) float64 { return b.Close })
}

func (t *PriceTable) prices(day time.Time, field func(core.OHLCV) float64) map[string]float64 {
	day = core.DateKey(day)
	out := make(map[string]float64)
	for symbol, idx := range t.index {
		if i, ok := idx[day]; ok {
			out[symbol] = field(t.bars[symbol][i])
		}
	}
	return out
}
