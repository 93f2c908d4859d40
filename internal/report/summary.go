package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/newthinker/tradesim/internal/backtest"
	"github.com/newthinker/tradesim/internal/notifier"
)

var printer = message.NewPrinter(language.English)

func money(v float64) string {
	return printer.Sprintf("%.2f", v)
}

func pct(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}

// WriteSummary prints the headline figures of run.
func WriteSummary(w io.Writer, run *backtest.Run) error {
	r := run.Result
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "=== Backtest Result ===")
	fmt.Fprintf(tw, "Strategy:\t%s\n", run.Strategy)
	fmt.Fprintf(tw, "Symbols:\t%s\n", joinSymbols(run.Symbols))
	fmt.Fprintf(tw, "Period:\t%s to %s (%d trading days)\n",
		run.Start.Format(time.DateOnly), run.End.Format(time.DateOnly), r.TradingDays)
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "Initial capital:\t%s\n", money(r.InitialCapital))
	fmt.Fprintf(tw, "Final assets:\t%s\n", money(r.FinalAssets))
	fmt.Fprintf(tw, "Total return:\t%s\n", pct(r.TotalReturn))
	fmt.Fprintf(tw, "Annual return:\t%s\n", pct(r.AnnualReturn))
	fmt.Fprintf(tw, "Max drawdown:\t%s\n", pct(r.MaxDrawdown))
	fmt.Fprintf(tw, "Sharpe ratio:\t%.2f\n", r.SharpeRatio)
	fmt.Fprintf(tw, "Trades:\t%d (%d won, %d lost, win rate %s)\n",
		r.TotalTrades, r.WinningTrades, r.LosingTrades, pct(r.WinRate))
	if len(run.Rejections) > 0 {
		fmt.Fprintf(tw, "Rejected orders:\t%d\n", len(run.Rejections))
	}
	return tw.Flush()
}

// SummaryText is a short plain-text summary for notifications.
func SummaryText(run *backtest.Run) string {
	r := run.Result
	return fmt.Sprintf("%s %s..%s on %d symbols: return %s, annual %s, max drawdown %s, %d trades, win rate %s, final %s",
		run.Strategy,
		run.Start.Format(time.DateOnly), run.End.Format(time.DateOnly),
		len(run.Symbols),
		pct(r.TotalReturn), pct(r.AnnualReturn), pct(r.MaxDrawdown),
		r.TotalTrades, pct(r.WinRate), money(r.FinalAssets),
	)
}

// WriteTrades lists every fill.
func WriteTrades(w io.Writer, run *backtest.Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Date\tSide\tSymbol\tQuantity\tPrice\tAmount\tCost\tReason\t")
	for _, t := range run.Trades {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.2f\t%s\t%.2f\t%s\t\n",
			t.Date.Format(time.DateOnly), t.Side, t.Symbol, t.Quantity, t.Price, money(t.Amount), t.Cost, t.Reason)
	}
	return tw.Flush()
}

// WriteSweepTable ranks sweep results, best first.
func WriteSweepTable(w io.Writer, results []backtest.SweepResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "#\tStop loss\tTake profit\tPosition size\tReturn\tMax DD\tSharpe\tWin rate\tTrades\t")
	for i, r := range results {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%.2f\t%s\t%d\t\n",
			i+1,
			pct(r.StopLossPct), pct(r.TakeProfitPct), pct(r.PositionSizePct),
			pct(r.Result.TotalReturn), pct(r.Result.MaxDrawdown),
			r.Result.SharpeRatio, pct(r.Result.WinRate), r.Result.TotalTrades,
		)
	}
	return tw.Flush()
}

func joinSymbols(symbols []string) string {
	const shown = 8
	if len(symbols) <= shown {
		return strings.Join(symbols, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(symbols[:shown], ", "), len(symbols)-shown)
}

// NewSummary builds the notification payload for a finished run and its
// document. DocumentPath is filled in once the document is archived.
func NewSummary(run *backtest.Run, doc *Document, alerts []string) notifier.Summary {
	return notifier.Summary{
		RunID:    doc.RunID,
		Strategy: run.Strategy,
		Symbols:  run.Symbols,
		Start:    run.Start,
		End:      run.End,
		Result:   run.Result,
		Text:     SummaryText(run),
		Alerts:   alerts,
	}
}
