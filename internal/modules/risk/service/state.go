package service

import (
	"time"

	"gap_trader/internal/models"
)

// riskState — единственное разделяемое состояние пайплайна.
// Наружу не выходит, все чтения/записи под мьютексом менеджера.
type riskState struct {
	sessionDate string // YYYY-MM-DD

	dailyRealizedPnl float64

	// symbol -> стоимость позиции на входе (для концентрации)
	openPositions map[string]float64

	// дедуп сигналов: id -> время допуска
	seenSignals map[string]time.Time

	// времена убыточных закрытий в окне circuit breaker
	recentLosses []time.Time

	circuitBreakerTripped bool
	tradingPaused         bool
}

func newRiskState(sessionDate string) *riskState {
	return &riskState{
		sessionDate:   sessionDate,
		openPositions: make(map[string]float64),
		seenSignals:   make(map[string]time.Time),
	}
}

// resetSession — новый торговый день: дневной PnL, дедуп и окно
// брейкера обнуляются. Пауза, выставленная руками, переживает смену дня.
func (s *riskState) resetSession(sessionDate string) {
	s.sessionDate = sessionDate
	s.dailyRealizedPnl = 0
	s.seenSignals = make(map[string]time.Time)
	s.recentLosses = nil
	s.circuitBreakerTripped = false
}

// pruneLosses выкидывает из окна убытки старше window.
func (s *riskState) pruneLosses(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	kept := s.recentLosses[:0]
	for _, t := range s.recentLosses {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.recentLosses = kept
}

func (s *riskState) snapshot(limits models.RiskSnapshot) models.RiskSnapshot {
	symbols := make([]string, 0, len(s.openPositions))
	for sym := range s.openPositions {
		symbols = append(symbols, sym)
	}
	limits.DailyRealizedPnl = s.dailyRealizedPnl
	limits.OpenPositions = len(s.openPositions)
	limits.OpenSymbols = symbols
	limits.CircuitBreakerTripped = s.circuitBreakerTripped
	limits.TradingPaused = s.tradingPaused
	limits.SessionDate = s.sessionDate
	limits.TakenAt = time.Now()
	return limits
}
