package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/tradesim/internal/backtest"
	"github.com/newthinker/tradesim/internal/broker"
	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/storage/archive"
)

var (
	day1 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	day2 = time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
)

func sampleRun() *backtest.Run {
	return &backtest.Run{
		Strategy: "ma_crossover",
		Symbols:  []string{"600519.SH"},
		Start:    day1,
		End:      day2,
		Settings: backtest.DefaultSettings(),
		Records: []backtest.DailyRecord{
			{Date: day1, TotalAssets: 1_000_000, Cash: 1_000_000},
			{Date: day2, TotalAssets: 1_030_000, Cash: 1_030_000, TradeCount: 2},
		},
		Trades: []broker.Trade{
			{ID: "t1", Date: day1, Symbol: "600519.SH", Side: broker.OrderSideBuy, Price: 100, Quantity: 1000, Amount: 100_000},
			{ID: "t2", Date: day2, Symbol: "600519.SH", Side: broker.OrderSideSell, Price: 130, Quantity: 1000, Amount: 130_000, Reason: "take_profit"},
		},
		Result: backtest.Result{
			InitialCapital: 1_000_000,
			FinalAssets:    1_030_000,
			TotalReturn:    0.03,
			WinRate:        1,
			TotalTrades:    2,
			WinningTrades:  1,
			TradingDays:    2,
		},
	}
}

func TestNewDocument(t *testing.T) {
	now := time.Date(2024, 2, 1, 9, 30, 0, 0, time.FixedZone("CST", 8*3600))
	doc := NewDocument(sampleRun(), now)

	assert.NotEmpty(t, doc.RunID)
	assert.Equal(t, time.UTC, doc.GeneratedAt.Location())
	assert.Equal(t, "2024-01-02", doc.Start)
	assert.Len(t, doc.EquityCurve, 2)
	assert.Equal(t, 1_030_000.0, doc.EquityCurve[1].TotalAssets)
	assert.Equal(t, "runs/ma_crossover/20240201-013000-"+doc.RunID+".json", doc.Path())

	data, err := encode(doc)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	for _, key := range []string{"run_id", "generated_at", "settings", "strategy", "symbols", "equity_curve", "daily_records", "trades", "result"} {
		assert.Contains(t, decoded, key)
	}
	assert.Equal(t, []any{}, decoded["rejections"], "empty lists encode as []")
}

func TestNewDocument_UniqueRunIDs(t *testing.T) {
	a := NewDocument(sampleRun(), time.Now())
	b := NewDocument(sampleRun(), time.Now())
	assert.NotEqual(t, a.RunID, b.RunID)
}

func TestNewSweepDocument(t *testing.T) {
	req := backtest.RunRequest{Symbols: []string{"A"}, Start: day1, End: day2}
	doc := NewSweepDocument("rsi_reversal", req, backtest.DefaultSettings(), nil, day1)

	assert.True(t, strings.HasPrefix(doc.Path(), "sweeps/rsi_reversal/20240102-000000-"))
	assert.NotNil(t, doc.Results)
}

// flakyStorage fails the first n writes.
type flakyStorage struct {
	archive.Storage
	mu       sync.Mutex
	failures int
	writes   map[string][]byte
}

func (f *flakyStorage) Write(_ context.Context, path string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset")
	}
	if f.writes == nil {
		f.writes = make(map[string][]byte)
	}
	f.writes[path] = data
	return nil
}

func TestPublisher_RetriesUntilSuccess(t *testing.T) {
	storage := &flakyStorage{failures: 2}
	doc := NewDocument(sampleRun(), day2)

	path, err := NewPublisher(storage, 10*time.Second, nil).Publish(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, doc.Path(), path)
	assert.Contains(t, string(storage.writes[path]), doc.RunID)
}

func TestPublisher_GivesUp(t *testing.T) {
	storage := &flakyStorage{failures: 1_000_000}

	_, err := NewPublisher(storage, 50*time.Millisecond, nil).Publish(context.Background(), NewDocument(sampleRun(), day2))
	assert.ErrorIs(t, err, core.ErrStorageFailed)
}

func TestPublisher_LocalFS(t *testing.T) {
	fs, err := archive.NewLocalFS(t.TempDir())
	require.NoError(t, err)
	doc := NewDocument(sampleRun(), day2)

	path, err := NewPublisher(fs, 0, nil).Publish(context.Background(), doc)
	require.NoError(t, err)

	data, err := fs.Read(context.Background(), path)
	require.NoError(t, err)
	var back Document
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, doc.RunID, back.RunID)
	assert.Equal(t, doc.Result, back.Result)
	assert.Len(t, back.Trades, 2)
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSummary(&buf, sampleRun()))

	out := buf.String()
	assert.Contains(t, out, "1,030,000.00")
	assert.Contains(t, out, "3.00%")
	assert.Contains(t, out, "win rate 100.00%")
	assert.Contains(t, out, "2024-01-02 to 2024-01-03")
}

func TestSummaryText(t *testing.T) {
	text := SummaryText(sampleRun())
	assert.True(t, strings.HasPrefix(text, "ma_crossover 2024-01-02..2024-01-03"))
	assert.Contains(t, text, "return 3.00%")
	assert.Contains(t, text, "final 1,030,000.00")
}

func TestWriteTrades(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTrades(&buf, sampleRun()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[2], "take_profit")
	assert.Contains(t, lines[2], "130,000.00")
}

func TestWriteSweepTable(t *testing.T) {
	var buf bytes.Buffer
	results := []backtest.SweepResult{
		{StopLossPct: 0.05, TakeProfitPct: 0.1, PositionSizePct: 0.3, Result: backtest.Result{TotalReturn: 0.2}},
		{StopLossPct: 0.02, TakeProfitPct: 0.1, PositionSizePct: 0.3, Result: backtest.Result{TotalReturn: -0.1}},
	}
	require.NoError(t, WriteSweepTable(&buf, results))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "20.00%")
	assert.Contains(t, lines[2], "-10.00%")
}

func TestJoinSymbols(t *testing.T) {
	assert.Equal(t, "A, B", joinSymbols([]string{"A", "B"}))
	many := []string{"1", "2", "3", "4", "5", "6", "7", "8", "9", "10"}
	assert.Equal(t, "1, 2, 3, 4, 5, 6, 7, 8 and 2 more", joinSymbols(many))
}

func TestNewSummary(t *testing.T) {
	run := sampleRun()
	doc := NewDocument(run, day2)

	s := NewSummary(run, doc, []string{"[WARNING] dd: deep"})
	assert.Equal(t, doc.RunID, s.RunID)
	assert.Equal(t, "ma_crossover", s.Strategy)
	assert.Equal(t, run.Result, s.Result)
	assert.Equal(t, SummaryText(run), s.Text)
	assert.Equal(t, []string{"[WARNING] dd: deep"}, s.Alerts)
	assert.Empty(t, s.DocumentPath)
}
