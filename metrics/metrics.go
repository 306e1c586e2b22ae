// Package metrics exposes engine counters on a private Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rustyeddy/rolling5/dispatch"
	"github.com/rustyeddy/rolling5/journal"
)

const namespace = "rolling5"

// Trade results.
const (
	ResultWin         = "win"
	ResultLoss        = "loss"
	ResultLiquidation = "liquidation"
)

type Metrics struct {
	reg *prometheus.Registry

	Ticks          *prometheus.CounterVec
	FetchLatency   prometheus.Histogram
	FetchFailures  prometheus.Counter
	Decisions      *prometheus.CounterVec
	Trades         *prometheus.CounterVec
	Dispatches     *prometheus.CounterVec
	Capital        prometheus.Gauge
	PositionIsOpen prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		Ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runner",
			Name:      "ticks_total",
			Help:      "Cycle ticks by outcome",
		}, []string{"outcome"}),
		FetchLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "fetch_seconds",
			Help:      "Time to fetch one market snapshot",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
		}),
		FetchFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "fetch_failures_total",
			Help:      "Snapshot fetches that failed",
		}),
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "strategy",
			Name:      "decisions_total",
			Help:      "Evaluator results by gate",
		}, []string{"result"}),
		Trades: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sim",
			Name:      "trades_total",
			Help:      "Closed trades by result",
		}, []string{"result"}),
		Dispatches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "dispatches_total",
			Help:      "Module dispatches by module and outcome",
		}, []string{"module", "outcome"}),
		Capital: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sim",
			Name:      "capital",
			Help:      "Current account capital",
		}),
		PositionIsOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sim",
			Name:      "position_open",
			Help:      "1 while a position is held",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ObserveFetch(lat time.Duration, err error) {
	m.FetchLatency.Observe(lat.Seconds())
	if err != nil {
		m.FetchFailures.Inc()
	}
}

func (m *Metrics) ObserveTick(outcome string) {
	m.Ticks.WithLabelValues(outcome).Inc()
}

// ObserveDecision counts an evaluation; skip is empty when a signal fired.
func (m *Metrics) ObserveDecision(skip string) {
	if skip == "" {
		skip = "signal"
	}
	m.Decisions.WithLabelValues(skip).Inc()
}

func (m *Metrics) ObserveDispatch(id dispatch.ModuleID, o dispatch.Outcome) {
	m.Dispatches.WithLabelValues(string(id), string(o)).Inc()
}

func (m *Metrics) OnTradeClosed(r journal.TradeRecord) {
	switch {
	case r.Liquidated:
		m.Trades.WithLabelValues(ResultLiquidation).Inc()
	case r.Win():
		m.Trades.WithLabelValues(ResultWin).Inc()
	default:
		m.Trades.WithLabelValues(ResultLoss).Inc()
	}
	m.SetCapital(r.Net.InexactFloat64())
	m.PositionIsOpen.Set(0)
}

func (m *Metrics) OnTradeOpened() {
	m.PositionIsOpen.Set(1)
}

func (m *Metrics) SetCapital(c float64) {
	m.Capital.Set(c)
}
