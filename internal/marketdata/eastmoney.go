package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/newthinker/tradesim/internal/core"
)

const defaultKlineURL = "https://push2his.eastmoney.com/api/qt/stock/kline/get"

// EastmoneyConfig configures the Eastmoney daily kline source.
type EastmoneyConfig struct {
	BaseURL        string
	RequestsPerSec int
	Timeout        time.Duration
	MaxElapsed     time.Duration
}

// Eastmoney downloads forward-adjusted daily bars for A-shares. It serves
// a fixed symbol list and is meant as an import source, not a backtest
// provider.
type Eastmoney struct {
	client     *http.Client
	limiter    *rate.Limiter
	baseURL    string
	maxElapsed time.Duration
	symbols    []string
	logger     *zap.Logger
}

// NewEastmoney creates a source for symbols in ts_code form (600519.SH).
func NewEastmoney(symbols []string, cfg EastmoneyConfig, logger *zap.Logger) *Eastmoney {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultKlineURL
	}
	if cfg.RequestsPerSec <= 0 {
		cfg.RequestsPerSec = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxElapsed <= 0 {
		cfg.MaxElapsed = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Eastmoney{
		client:     &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1),
		baseURL:    cfg.BaseURL,
		maxElapsed: cfg.MaxElapsed,
		symbols:    symbols,
		logger:     logger,
	}
}

// Instruments returns the configured symbols. Names are not known until
// bars are fetched and are left empty.
func (e *Eastmoney) Instruments(ctx context.Context) ([]core.Instrument, error) {
	out := make([]core.Instrument, len(e.symbols))
	for i, s := range e.symbols {
		out[i] = core.Instrument{Symbol: s, Market: core.MarketOf(s)}
	}
	return out, nil
}

// LoadHistory fetches each symbol in turn. Symbols the API has no bars for
// are logged and left out.
func (e *Eastmoney) LoadHistory(ctx context.Context, symbols []string, start, end time.Time) (map[string][]core.OHLCV, error) {
	out := make(map[string][]core.OHLCV)
	for _, sym := range symbols {
		bars, err := e.fetch(ctx, sym, start, end)
		if err != nil {
			return nil, err
		}
		if len(bars) == 0 {
			e.logger.Warn("no history returned", zap.String("symbol", sym))
			continue
		}
		out[sym] = bars
	}
	return out, nil
}

// secid converts 600519.SH to 1.600519. Shanghai is 1, everything else 0.
func secid(symbol string) string {
	code, suffix, _ := strings.Cut(symbol, ".")
	market := "0"
	if core.Market(suffix) == core.MarketSH || (suffix == "" && core.MarketOf(code) == core.MarketSH) {
		market = "1"
	}
	return market + "." + code
}

func (e *Eastmoney) klineURL(symbol string, start, end time.Time) string {
	beg, fin := "0", "20500101"
	if !start.IsZero() {
		beg = start.Format(DateLayout)
	}
	if !end.IsZero() {
		fin = end.Format(DateLayout)
	}
	q := url.Values{}
	q.Set("secid", secid(symbol))
	q.Set("klt", "101")
	q.Set("fqt", "1")
	q.Set("beg", beg)
	q.Set("end", fin)
	q.Set("fields1", "f1,f2,f3,f4,f5,f6")
	q.Set("fields2", "f51,f52,f53,f54,f55,f56")
	return e.baseURL + "?" + q.Encode()
}

// statusError is a non-200 response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return "non-200 status code: " + http.StatusText(e.code)
}

func (e *Eastmoney) fetch(ctx context.Context, symbol string, start, end time.Time) ([]core.OHLCV, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var result klineResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.klineURL(symbol, start, end), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := e.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			err := &statusError{code: resp.StatusCode}
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding response: %w", err))
		}
		return nil
	}

	strategy := backoff.NewExponentialBackOff()
	strategy.MaxElapsedTime = e.maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(strategy, ctx)); err != nil {
		return nil, fmt.Errorf("fetching %s: %w", symbol, err)
	}

	if result.Data == nil {
		return nil, nil
	}
	return parseKlines(symbol, result.Data.Klines), nil
}

var klinePattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}),([^,]+),([^,]+),([^,]+),([^,]+),([^,]+)`)

// parseKlines decodes "date,open,close,high,low,volume" lines.
func parseKlines(symbol string, lines []string) []core.OHLCV {
	bars := make([]core.OHLCV, 0, len(lines))
	for _, line := range lines {
		m := klinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		t, err := time.Parse("2006-01-02", m[1])
		if err != nil {
			continue
		}
		open, _ := strconv.ParseFloat(m[2], 64)
		closePrice, _ := strconv.ParseFloat(m[3], 64)
		high, _ := strconv.ParseFloat(m[4], 64)
		low, _ := strconv.ParseFloat(m[5], 64)
		volume, _ := strconv.ParseInt(m[6], 10, 64)

		bars = append(bars, core.OHLCV{
			Symbol:   symbol,
			Interval: "1d",
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closePrice,
			Volume:   volume,
			Time:     t,
		})
	}
	return bars
}

type klineResponse struct {
	Data *klineData `json:"data"`
}

type klineData struct {
	Code   string   `json:"code"`
	Name   string   `json:"name"`
	Klines []string `json:"klines"`
}
