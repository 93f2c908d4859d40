package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/newthinker/tradesim/internal/backtest"
	"github.com/newthinker/tradesim/internal/broker"
	"github.com/newthinker/tradesim/internal/core"
)

// Registry holds all Prometheus metrics. It implements backtest.Recorder.
type Registry struct {
	*prometheus.Registry

	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// Simulation metrics
	backtestsTotal   *prometheus.CounterVec
	backtestDuration *prometheus.HistogramVec
	tradesTotal      *prometheus.CounterVec
	rejectionsTotal  *prometheus.CounterVec
	signalsTotal     *prometheus.CounterVec
	lastReturn       *prometheus.GaugeVec
	lastDrawdown     *prometheus.GaugeVec
}

var _ backtest.Recorder = (*Registry)(nil)

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		httpRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
		),
	}

	reg.MustRegister(r.httpRequestsTotal)
	reg.MustRegister(r.httpRequestDuration)
	reg.MustRegister(r.httpRequestsInFlight)

	r.backtestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradesim_backtests_total",
			Help: "Total number of completed backtest runs",
		},
		[]string{"strategy"},
	)
	r.backtestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tradesim_backtest_duration_seconds",
			Help:    "Backtest run duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"strategy"},
	)
	r.tradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradesim_trades_total",
			Help: "Total number of simulated fills",
		},
		[]string{"strategy", "side", "reason"},
	)
	r.rejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradesim_order_rejections_total",
			Help: "Total number of rejected or dropped orders by error code",
		},
		[]string{"strategy", "code"},
	)
	r.signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradesim_signals_total",
			Help: "Total number of signals produced by signal sources",
		},
		[]string{"strategy", "action"},
	)
	r.lastReturn = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradesim_last_total_return_ratio",
			Help: "Total return of the most recent run",
		},
		[]string{"strategy"},
	)
	r.lastDrawdown = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradesim_last_max_drawdown_ratio",
			Help: "Maximum drawdown of the most recent run",
		},
		[]string{"strategy"},
	)

	reg.MustRegister(r.backtestsTotal)
	reg.MustRegister(r.backtestDuration)
	reg.MustRegister(r.tradesTotal)
	reg.MustRegister(r.rejectionsTotal)
	reg.MustRegister(r.signalsTotal)
	reg.MustRegister(r.lastReturn)
	reg.MustRegister(r.lastDrawdown)

	return r
}

// RecordRequest records metrics for an HTTP request.
func (r *Registry) RecordRequest(method, path string, status int, duration float64) {
	statusStr := statusToString(status)
	r.httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	r.httpRequestDuration.WithLabelValues(method, path).Observe(duration)
}

// InFlightInc increments in-flight requests.
func (r *Registry) InFlightInc() {
	r.httpRequestsInFlight.Inc()
}

// InFlightDec decrements in-flight requests.
func (r *Registry) InFlightDec() {
	r.httpRequestsInFlight.Dec()
}

// RecordRun records a completed run.
func (r *Registry) RecordRun(strategy string, duration time.Duration, result backtest.Result) {
	r.backtestsTotal.WithLabelValues(strategy).Inc()
	r.backtestDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	r.lastReturn.WithLabelValues(strategy).Set(result.TotalReturn)
	r.lastDrawdown.WithLabelValues(strategy).Set(result.MaxDrawdown)
}

// RecordTrade records a fill. Free-text signal reasons collapse to
// "normal" to keep label cardinality bounded.
func (r *Registry) RecordTrade(strategy string, side broker.OrderSide, reason string) {
	r.tradesTotal.WithLabelValues(strategy, string(side), exitLabel(reason)).Inc()
}

func exitLabel(reason string) string {
	switch broker.ExitReason(reason) {
	case broker.ExitStopLoss, broker.ExitTakeProfit, broker.ExitLiquidation:
		return reason
	default:
		return string(broker.ExitNormal)
	}
}

// RecordRejection records a rejected or dropped order.
func (r *Registry) RecordRejection(strategy, code string) {
	r.rejectionsTotal.WithLabelValues(strategy, code).Inc()
}

// RecordSignal records a generated signal.
func (r *Registry) RecordSignal(strategy string, action core.Action) {
	r.signalsTotal.WithLabelValues(strategy, string(action)).Inc()
}

func statusToString(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
