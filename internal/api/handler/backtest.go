// Package handler implements the backtest job endpoints.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/tradesim/internal/alert"
	"github.com/newthinker/tradesim/internal/api/job"
	"github.com/newthinker/tradesim/internal/api/response"
	"github.com/newthinker/tradesim/internal/backtest"
	"github.com/newthinker/tradesim/internal/config"
	"github.com/newthinker/tradesim/internal/core"
	"github.com/newthinker/tradesim/internal/notifier"
	"github.com/newthinker/tradesim/internal/report"
	"github.com/newthinker/tradesim/internal/strategy"
)

const defaultTimeout = 5 * time.Minute

// BacktestRequest is the request body for starting a backtest. Empty
// fields fall back to the server configuration; Params are merged over
// the configured strategy params.
type BacktestRequest struct {
	Symbols  []string       `json:"symbols,omitempty"`
	Strategy string         `json:"strategy,omitempty"`
	Start    string         `json:"start,omitempty"`
	End      string         `json:"end,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
}

// Outcome is the result of a finished backtest job.
type Outcome struct {
	RunID        string          `json:"run_id"`
	Strategy     string          `json:"strategy"`
	Symbols      []string        `json:"symbols"`
	Start        string          `json:"start"`
	End          string          `json:"end"`
	Result       backtest.Result `json:"result"`
	Rejections   int             `json:"rejections"`
	Alerts       []string        `json:"alerts,omitempty"`
	DocumentPath string          `json:"document_path,omitempty"`
}

// Runner executes one simulation. *backtest.Backtester satisfies it.
type Runner interface {
	Run(ctx context.Context, req backtest.RunRequest) (*backtest.Run, error)
}

// Deps wires a BacktestHandler. Publisher, Alerts and Notify are optional.
type Deps struct {
	Jobs       *job.Store
	Runner     Runner
	Strategies *strategy.Registry
	Config     *config.Config
	Publisher  *report.Publisher
	Alerts     *alert.Evaluator
	Notify     func(ctx context.Context, summary notifier.Summary)
	Timeout    time.Duration
	Logger     *zap.Logger
}

// BacktestHandler handles backtest API requests. Jobs run in background
// goroutines bound to the handler's lifetime.
type BacktestHandler struct {
	deps   Deps
	logger *zap.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBacktestHandler creates a new backtest handler.
func NewBacktestHandler(deps Deps) *BacktestHandler {
	if deps.Timeout <= 0 {
		deps.Timeout = defaultTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &BacktestHandler{
		deps:   deps,
		logger: logger,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Create validates the request and starts a backtest job.
func (h *BacktestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req BacktestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest,
			core.WrapError(core.ErrConfigInvalid, err))
		return
	}

	runReq, err := h.resolve(req)
	if err != nil {
		response.Fail(w, err)
		return
	}

	j := h.deps.Jobs.Create("backtest", req)

	h.wg.Add(1)
	go h.runBacktest(j.ID, runReq)

	response.JSON(w, http.StatusAccepted, map[string]any{
		"job_id": j.ID,
		"status": j.Status,
	})
}

// resolve fills the request from the config and builds the signal source.
func (h *BacktestHandler) resolve(req BacktestRequest) (backtest.RunRequest, error) {
	cfg := *h.deps.Config
	if req.Start != "" {
		cfg.Backtest.Start = req.Start
	}
	if req.End != "" {
		cfg.Backtest.End = req.End
	}
	start, end, err := cfg.Period(h.now())
	if err != nil {
		return backtest.RunRequest{}, err
	}

	symbols := req.Symbols
	if len(symbols) == 0 {
		symbols = cfg.Backtest.Symbols
	}
	if len(symbols) == 0 {
		return backtest.RunRequest{}, core.Errorf(core.ErrConfigMissing, "symbols")
	}

	name := req.Strategy
	if name == "" {
		name = cfg.Backtest.Strategy
	}
	params := make(map[string]any)
	for k, v := range cfg.StrategyConfig(name).Params {
		params[k] = v
	}
	for k, v := range req.Params {
		params[k] = v
	}
	source, err := h.deps.Strategies.New(name, strategy.Config{Params: params})
	if err != nil {
		if errors.Is(err, core.ErrUnknownStrategy) {
			return backtest.RunRequest{}, err
		}
		return backtest.RunRequest{}, core.WrapError(core.ErrConfigInvalid, err)
	}

	return backtest.RunRequest{
		Symbols: symbols,
		Start:   start,
		End:     end,
		Source:  source,
	}, nil
}

// runBacktest executes the backtest and updates job status.
func (h *BacktestHandler) runBacktest(jobID string, req backtest.RunRequest) {
	defer h.wg.Done()

	h.deps.Jobs.Update(jobID, func(j *job.Job) {
		j.Status = job.StatusRunning
	})

	ctx, cancel := context.WithTimeout(h.ctx, h.deps.Timeout)
	defer cancel()

	log := h.logger.With(zap.String("job_id", jobID), zap.String("strategy", req.Source.Name()))
	run, err := h.deps.Runner.Run(ctx, req)
	if err != nil {
		log.Warn("backtest job failed", zap.Error(err))
		h.deps.Jobs.Update(jobID, func(j *job.Job) {
			j.Status = job.StatusFailed
			j.Error = jobError(err)
		})
		return
	}

	doc := report.NewDocument(run, h.now())
	outcome := Outcome{
		RunID:      doc.RunID,
		Strategy:   run.Strategy,
		Symbols:    run.Symbols,
		Start:      doc.Start,
		End:        doc.End,
		Result:     run.Result,
		Rejections: len(run.Rejections),
	}
	if h.deps.Alerts != nil {
		outcome.Alerts = h.deps.Alerts.Evaluate(run)
	}
	if h.deps.Publisher != nil {
		path, err := h.deps.Publisher.Publish(ctx, doc)
		if err != nil {
			log.Error("archiving run failed", zap.Error(err))
		} else {
			outcome.DocumentPath = path
		}
	}

	h.deps.Jobs.Update(jobID, func(j *job.Job) {
		j.Status = job.StatusComplete
		j.Progress = 100
		j.Result = outcome
	})
	log.Info("backtest job complete",
		zap.String("run_id", outcome.RunID),
		zap.Float64("total_return", run.Result.TotalReturn),
	)

	if h.deps.Notify != nil {
		summary := report.NewSummary(run, doc, outcome.Alerts)
		summary.DocumentPath = outcome.DocumentPath
		h.deps.Notify(ctx, summary)
	}
}

func jobError(err error) *core.Error {
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		return coreErr
	}
	return &core.Error{Code: "RUN_FAILED", Message: "backtest run failed", Cause: err}
}

// GetStatus returns the status of a backtest job.
func (h *BacktestHandler) GetStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	j, err := h.deps.Jobs.Get(jobID)
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, status(j))
}

// List returns every known job, newest first.
func (h *BacktestHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs := h.deps.Jobs.List()
	out := make([]map[string]any, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, status(j))
	}
	response.JSON(w, http.StatusOK, out)
}

func status(j job.Job) map[string]any {
	resp := map[string]any{
		"job_id":     j.ID,
		"status":     j.Status,
		"progress":   j.Progress,
		"created_at": j.CreatedAt,
		"updated_at": j.UpdatedAt,
	}
	if j.Request != nil {
		resp["request"] = j.Request
	}
	if j.Status == job.StatusComplete {
		resp["result"] = j.Result
	}
	if j.Status == job.StatusFailed && j.Error != nil {
		resp["error"] = response.Detail(j.Error)
	}
	return resp
}

// Shutdown waits for running jobs until ctx expires, then cancels them
// and waits for them to stop.
func (h *BacktestHandler) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.cancel()
		return nil
	case <-ctx.Done():
		h.cancel()
		<-done
		return ctx.Err()
	}
}
