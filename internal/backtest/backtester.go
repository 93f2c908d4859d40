package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/newthinker/tradesim/internal/broker"
	"github.com/newthinker/tradesim/internal/core"
	"go.uber.org/zap"
)

// Backtester runs day-by-day portfolio simulations against historical data.
// It holds no per-run state, so one Backtester may serve concurrent runs.
type Backtester struct {
	settings Settings
	provider HistoryProvider
	logger   *zap.Logger
	recorder Recorder
}

// Option configures a Backtester.
type Option func(*Backtester)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Backtester) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithRecorder sets the telemetry recorder.
func WithRecorder(recorder Recorder) Option {
	return func(b *Backtester) {
		if recorder != nil {
			b.recorder = recorder
		}
	}
}

// New creates a Backtester. Malformed settings fail here, before any
// simulation starts.
func New(settings Settings, provider HistoryProvider, opts ...Option) (*Backtester, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, core.Errorf(core.ErrConfigInvalid, "nil history provider")
	}

	b := &Backtester{
		settings: settings,
		provider: provider,
		logger:   zap.NewNop(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Settings returns the configuration the backtester was built with.
func (b *Backtester) Settings() Settings {
	return b.settings
}

// Load fetches all bars needed for req in one provider call, including the
// warmup window before the start date.
func (b *Backtester) Load(ctx context.Context, req RunRequest) (*PriceTable, error) {
	from := req.Start.AddDate(0, 0, -b.settings.WarmupDays)
	history, err := b.provider.LoadHistory(ctx, req.Symbols, from, req.End)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	return NewPriceTable(history), nil
}

// Run executes a backtest for req using the backtester's settings.
func (b *Backtester) Run(ctx context.Context, req RunRequest) (*Run, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	table, err := b.Load(ctx, req)
	if err != nil {
		return nil, err
	}
	return b.Simulate(ctx, b.settings, req, table)
}

// order is a signal queued for execution at the next day's open.
type order struct {
	signal core.Signal
}

// simulation is the mutable state of one run.
type simulation struct {
	settings Settings
	req      RunRequest
	table    *PriceTable
	logger   *zap.Logger
	recorder Recorder
	strategy string

	ledger *broker.Portfolio
	engine *broker.Engine
	risk   *broker.RiskController

	records    []DailyRecord
	rejections []OrderEvent

	// tradesBefore is the ledger trade count at the start of the day.
	tradesBefore int
}

// Simulate runs req over a preloaded table with the given settings. Each
// call owns its ledger, risk controller and equity curve.
func (b *Backtester) Simulate(ctx context.Context, settings Settings, req RunRequest, table *PriceTable) (*Run, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	started := time.Now()
	ledger := broker.NewPortfolio(settings.InitialCapital)
	sim := &simulation{
		settings: settings,
		req:      req,
		table:    table,
		logger:   b.logger.With(zap.String("strategy", req.Source.Name())),
		recorder: b.recorder,
		strategy: req.Source.Name(),
		ledger:   ledger,
		engine: broker.NewEngine(broker.ExecutionConfig{
			Costs:          settings.Costs,
			MaxPositionPct: settings.Risk.MaxPositionPct,
		}, ledger, b.logger),
		risk: broker.NewRiskController(settings.Risk, settings.InitialCapital, b.logger),
	}

	days := table.Calendar(req.Start, req.End)
	sim.logger.Info("backtest started",
		zap.Strings("symbols", req.Symbols),
		zap.Time("start", req.Start),
		zap.Time("end", req.End),
		zap.Int("trading_days", len(days)),
	)

	var pending []order
	for i, day := range days {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		last := i == len(days)-1
		sim.tradesBefore = ledger.TradeCount()

		sim.risk.ResetDaily(day, ledger)
		sim.engine.UpdatePrices(table.Opens(day))
		sim.executePending(day, pending)
		pending = nil

		if !last {
			pending = sim.collectSignals(day)
		}

		closes := table.Closes(day)
		sim.enforceExits(day, closes)
		sim.engine.UpdatePrices(closes)

		if last {
			sim.liquidate(day)
		}
		sim.snapshot(day)
	}

	run := &Run{
		Strategy:   sim.strategy,
		Symbols:    req.Symbols,
		Start:      req.Start,
		End:        req.End,
		Settings:   settings,
		Records:    sim.records,
		Trades:     ledger.Trades(),
		Rejections: sim.rejections,
		Result:     CalculateResult(settings.InitialCapital, sim.records, ledger.Trades()),
		Duration:   time.Since(started),
	}
	sim.recorder.RecordRun(sim.strategy, run.Duration, run.Result)

	sim.logger.Info("backtest finished",
		zap.Float64("final_assets", run.Result.FinalAssets),
		zap.Float64("total_return", run.Result.TotalReturn),
		zap.Int("trades", run.Result.TotalTrades),
		zap.Int("rejections", len(run.Rejections)),
		zap.Duration("duration", run.Duration),
	)
	return run, nil
}

// executePending fills orders queued on the previous day at this day's
// open. Sells go first to free cash; buys follow in descending strength.
func (s *simulation) executePending(day time.Time, pending []order) {
	var sells, buys []order
	for _, o := range pending {
		if o.signal.Action == core.ActionSell {
			sells = append(sells, o)
		} else {
			buys = append(buys, o)
		}
	}
	sort.SliceStable(buys, func(i, j int) bool {
		return buys[i].signal.Strength > buys[j].signal.Strength
	})

	for _, o := range sells {
		s.executeSell(day, o)
	}
	for _, o := range buys {
		s.executeBuy(day, o)
	}
}

func (s *simulation) executeSell(day time.Time, o order) {
	symbol := o.signal.Symbol
	bar, ok := s.table.Bar(symbol, day)
	if !ok {
		s.reject(day, symbol, broker.OrderSideSell, core.Errorf(core.ErrMissingPriceBar,
			"%s on %s", symbol, day.Format("2006-01-02")))
		return
	}

	check := s.risk.CheckSell(s.ledger, symbol, bar.Open)
	if !check.Allowed {
		s.reject(day, symbol, broker.OrderSideSell, check.Err)
		return
	}

	pos, _ := s.ledger.Position(symbol)
	s.sell(day, symbol, bar.Open, pos.Quantity, string(check.Exit))
}

func (s *simulation) executeBuy(day time.Time, o order) {
	symbol := o.signal.Symbol
	bar, ok := s.table.Bar(symbol, day)
	if !ok {
		s.reject(day, symbol, broker.OrderSideBuy, core.Errorf(core.ErrMissingPriceBar,
			"%s on %s", symbol, day.Format("2006-01-02")))
		return
	}

	check := s.risk.CheckBuy(s.ledger, o.signal)
	if !check.Allowed {
		s.reject(day, symbol, broker.OrderSideBuy, check.Err)
		return
	}

	qty := s.buyQuantity(bar.Open)
	if qty <= 0 {
		s.reject(day, symbol, broker.OrderSideBuy, core.Errorf(core.ErrInsufficientFunds,
			"%s: cash %.2f below one lot at %.2f", symbol, s.ledger.Cash(), bar.Open))
		return
	}

	trade, err := s.engine.Buy(symbol, o.signal.Name, bar.Open, qty, day, o.signal.Reason)
	if err != nil {
		s.reject(day, symbol, broker.OrderSideBuy, err)
		return
	}
	s.recorder.RecordTrade(s.strategy, trade.Side, trade.Reason)
}

// buyQuantity sizes a buy as a fraction of cash rounded down to whole lots,
// then drops lots until the fill plus its costs fits in cash.
func (s *simulation) buyQuantity(price float64) int64 {
	cash := s.ledger.Cash()
	lot := float64(s.settings.LotSize)
	lots := int64(cash * s.settings.PositionSizePct / price / lot)

	c := s.settings.Costs
	if perShare := price * (1 + c.CommissionRate + c.TransferFeeRate + c.SlippageRate); perShare > 0 {
		lots = min(lots, int64(cash/perShare/lot))
	}
	for lots > 0 {
		amount := price * float64(lots) * lot
		if amount+c.Commission(amount, broker.OrderSideBuy) <= cash {
			break
		}
		lots--
	}
	return lots * s.settings.LotSize
}

func (s *simulation) sell(day time.Time, symbol string, price float64, qty int64, reason string) {
	pos, _ := s.ledger.Position(symbol)
	trade, err := s.engine.Sell(symbol, price, qty, day, reason)
	if err != nil {
		s.reject(day, symbol, broker.OrderSideSell, err)
		return
	}
	if loss := (pos.AverageCost-price)*float64(qty) + trade.Cost; loss > 0 {
		s.risk.RecordLoss(loss)
	}
	s.recorder.RecordTrade(s.strategy, trade.Side, trade.Reason)
}

// collectSignals evaluates the source for every symbol that traded on day
// using only bars up to and including day, and queues buys and sells for
// the next day's open.
func (s *simulation) collectSignals(day time.Time) []order {
	var queued []order
	lookback := s.req.Source.Lookback()

	for _, symbol := range s.req.Symbols {
		history := s.table.History(symbol, day)
		if history == nil {
			continue
		}
		if len(history) < lookback {
			s.logger.Debug("skipping signal evaluation",
				zap.String("symbol", symbol),
				zap.Error(core.Errorf(core.ErrInsufficientData, "%d bars < lookback %d", len(history), lookback)),
			)
			continue
		}

		signal, err := s.req.Source.Generate(history, symbol)
		if err != nil {
			s.logger.Warn("signal generation failed",
				zap.String("symbol", symbol),
				zap.Time("date", day),
				zap.Error(core.WrapError(core.ErrSignalFailed, err)),
			)
			continue
		}
		if signal == nil {
			continue
		}
		s.recorder.RecordSignal(s.strategy, signal.Action)
		if !signal.Action.IsTrade() {
			continue
		}

		sig := *signal
		sig.Symbol = symbol
		if sig.Strategy == "" {
			sig.Strategy = s.strategy
		}
		if sig.Price == 0 {
			sig.Price = history[len(history)-1].Close
		}
		queued = append(queued, order{signal: sig})
	}
	return queued
}

// enforceExits force-closes positions that crossed stop-loss or
// take-profit at the close, regardless of signals or the circuit breaker.
func (s *simulation) enforceExits(day time.Time, closes map[string]float64) {
	for _, symbol := range s.risk.ScanStopLoss(s.ledger, closes) {
		s.closePosition(day, symbol, closes[symbol], broker.ExitStopLoss)
	}
	for _, symbol := range s.risk.ScanTakeProfit(s.ledger, closes) {
		s.closePosition(day, symbol, closes[symbol], broker.ExitTakeProfit)
	}
}

// liquidate closes every open position at its final available close.
func (s *simulation) liquidate(day time.Time) {
	for _, pos := range s.ledger.Positions() {
		price, ok := s.table.LastClose(pos.Symbol, day)
		if !ok {
			price = pos.CurrentPrice
		}
		s.closePosition(day, pos.Symbol, price, broker.ExitLiquidation)
	}
}

func (s *simulation) closePosition(day time.Time, symbol string, price float64, reason broker.ExitReason) {
	pos, ok := s.ledger.Position(symbol)
	if !ok {
		return
	}
	s.logger.Info("closing position",
		zap.String("symbol", symbol),
		zap.String("reason", string(reason)),
		zap.Float64("price", price),
		zap.Float64("average_cost", pos.AverageCost),
	)
	s.sell(day, symbol, price, pos.Quantity, string(reason))
}

func (s *simulation) snapshot(day time.Time) {
	s.records = append(s.records, DailyRecord{
		Date:          day,
		TotalAssets:   s.ledger.TotalAssets(),
		Cash:          s.ledger.Cash(),
		PositionValue: s.ledger.PositionValue(),
		Profit:        s.ledger.Profit(),
		ProfitPct:     s.ledger.ProfitPct(),
		Positions:     s.ledger.PositionCount(),
		TradeCount:    s.ledger.TradeCount() - s.tradesBefore,
	})
}

func (s *simulation) reject(day time.Time, symbol string, side broker.OrderSide, err error) {
	code := "UNKNOWN"
	var coded *core.Error
	if errors.As(err, &coded) {
		code = coded.Code
	}
	s.rejections = append(s.rejections, OrderEvent{
		Date:   day,
		Symbol: symbol,
		Side:   side,
		Code:   code,
		Reason: err.Error(),
	})
	s.recorder.RecordRejection(s.strategy, code)
	s.logger.Info("order rejected",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("code", code),
		zap.Time("date", day),
		zap.Error(err),
	)
}
