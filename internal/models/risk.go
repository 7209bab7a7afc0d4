package models

import "time"

type SizingMethod string

const (
	SizingFixedAmount SizingMethod = "fixed_amount"
	SizingEquityPct   SizingMethod = "equity_pct"
	SizingRiskBased   SizingMethod = "risk_based"
)

// ClosedPnl — результат одной закрытой сделки, для дневной статистики
// и окна circuit breaker.
type ClosedPnl struct {
	Pnl      float64
	ExitTime time.Time
}

// RiskSnapshot — снимок RiskState для персиста и /healthz.
// Само состояние живёт внутри risk-менеджера и наружу не отдаётся.
type RiskSnapshot struct {
	DailyRealizedPnl      float64
	DailyLossLimit        float64
	OpenPositions         int
	OpenSymbols           []string
	MaxOpenPositions      int
	MaxConcentrationPct   float64
	CircuitBreakerTripped bool
	TradingPaused         bool
	SessionDate           string // YYYY-MM-DD, день торговой сессии
	TakenAt               time.Time
}
