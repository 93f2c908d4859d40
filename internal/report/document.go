// Package report turns finished runs into persisted documents and
// human-readable summaries.
package report

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/newthinker/tradesim/internal/backtest"
	"github.com/newthinker/tradesim/internal/broker"
)

// Document is the persisted form of one run, written once at completion.
type Document struct {
	RunID        string                 `json:"run_id"`
	GeneratedAt  time.Time              `json:"generated_at"`
	Strategy     string                 `json:"strategy"`
	Symbols      []string               `json:"symbols"`
	Start        string                 `json:"start"`
	End          string                 `json:"end"`
	Settings     backtest.Settings      `json:"settings"`
	Result       backtest.Result        `json:"result"`
	EquityCurve  []backtest.EquityPoint `json:"equity_curve"`
	DailyRecords []backtest.DailyRecord `json:"daily_records"`
	Trades       []broker.Trade         `json:"trades"`
	Rejections   []backtest.OrderEvent  `json:"rejections"`
}

// NewDocument builds the document for run with a fresh run id.
func NewDocument(run *backtest.Run, now time.Time) *Document {
	return &Document{
		RunID:        uuid.NewString(),
		GeneratedAt:  now.UTC(),
		Strategy:     run.Strategy,
		Symbols:      run.Symbols,
		Start:        run.Start.Format(time.DateOnly),
		End:          run.End.Format(time.DateOnly),
		Settings:     run.Settings,
		Result:       run.Result,
		EquityCurve:  run.EquityCurve(),
		DailyRecords: nonNil(run.Records),
		Trades:       nonNil(run.Trades),
		Rejections:   nonNil(run.Rejections),
	}
}

// Path is the storage key: runs/<strategy>/<generated>-<run id>.json.
func (d *Document) Path() string {
	return fmt.Sprintf("runs/%s/%s-%s.json", d.Strategy, d.GeneratedAt.Format("20060102-150405"), d.RunID)
}

// SweepDocument is the persisted form of a parameter sweep.
type SweepDocument struct {
	RunID       string                 `json:"run_id"`
	GeneratedAt time.Time              `json:"generated_at"`
	Strategy    string                 `json:"strategy"`
	Symbols     []string               `json:"symbols"`
	Start       string                 `json:"start"`
	End         string                 `json:"end"`
	Base        backtest.Settings      `json:"base_settings"`
	Results     []backtest.SweepResult `json:"results"`
}

// NewSweepDocument builds the document for a finished sweep.
func NewSweepDocument(strategy string, req backtest.RunRequest, base backtest.Settings, results []backtest.SweepResult, now time.Time) *SweepDocument {
	return &SweepDocument{
		RunID:       uuid.NewString(),
		GeneratedAt: now.UTC(),
		Strategy:    strategy,
		Symbols:     req.Symbols,
		Start:       req.Start.Format(time.DateOnly),
		End:         req.End.Format(time.DateOnly),
		Base:        base,
		Results:     nonNil(results),
	}
}

func (d *SweepDocument) Path() string {
	return fmt.Sprintf("sweeps/%s/%s-%s.json", d.Strategy, d.GeneratedAt.Format("20060102-150405"), d.RunID)
}

// Persistable is anything the Publisher can store.
type Persistable interface {
	Path() string
}

func encode(doc Persistable) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// nonNil keeps empty lists as [] rather than null in the JSON.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
