package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SignalsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gap_signals_detected_total",
		Help: "Scored gap signals emitted by the scanner",
	}, []string{"symbol", "type"})

	SignalsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gap_signals_rejected_total",
		Help: "Signals rejected by the admission controller",
	}, []string{"reason"})

	TradesOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gap_trades_opened_total",
		Help: "Trades that reached OPEN",
	})

	TradesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gap_trades_closed_total",
		Help: "Trades closed, by exit reason",
	}, []string{"reason"})

	OrderRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gap_order_retries_total",
		Help: "Broker submissions retried after a transient error",
	})

	ExitFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gap_exit_failures_total",
		Help: "Exit attempts that exhausted retries with the position still open",
	})

	DailyRealizedPnl = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gap_daily_realized_pnl",
		Help: "Realized PnL for the current session",
	})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gap_open_positions",
		Help: "Currently open positions",
	})

	BreakerTripped = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gap_circuit_breaker_tripped",
		Help: "1 when the circuit breaker is tripped",
	})

	// слиппедж входа: |fill - expected| / expected, в б.п.
	EntrySlippageBps = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gap_entry_slippage_bps",
		Help:    "Entry fill slippage vs decision price, basis points",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200},
	})

	FillQuality = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gap_fill_quality_total",
		Help: "Entry fills by slippage quality band",
	}, []string{"band"})
)
