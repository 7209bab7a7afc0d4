package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"gap_trader/internal/events"
	"gap_trader/internal/helper"
	"gap_trader/internal/models"
	"gap_trader/internal/modules/config"
	"gap_trader/pkg/logger"
)

// ErrRepositoryDown: без персиста решения не принимаем — торговля встаёт.
var ErrRepositoryDown = errors.New("risk: repository unavailable, trading halted")

// Manager — контроллер допуска. Один мьютекс на всё риск-состояние:
// проверки капитала и лимита позиций корректны только атомарно.
type Manager struct {
	cfg   *config.Config
	sizer *Sizer
	repo  Store
	bus   *events.Bus

	mu    sync.Mutex
	state *riskState

	now func() time.Time // подменяется в тестах
}

func NewManager(cfg *config.Config, repo Store, bus *events.Bus) *Manager {
	now := time.Now
	return &Manager{
		cfg:   cfg,
		sizer: NewSizer(cfg.Risk),
		repo:  repo,
		bus:   bus,
		state: newRiskState(helper.SessionDate(now())),
		now:   now,
	}
}

// Evaluate — единственная точка допуска сигнала к торговле.
// Порядок проверок фиксирован, первая провалившаяся — отказ.
// Отказ терминален: сигнал не пере-оценивается.
func (m *Manager) Evaluate(ctx context.Context, sig models.GapSignal, quoteAge time.Duration) models.RiskDecision {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.rollSessionLocked(now)

	reject := func(reason models.RejectReason) models.RiskDecision {
		d := models.RiskDecision{
			SignalID:     sig.ID,
			Approved:     false,
			RejectReason: reason,
			DecidedAt:    now,
		}
		m.persistDecisionLocked(ctx, sig, d)
		m.bus.Publish(models.Event{
			Type:     models.EventSignalRejected,
			Symbol:   sig.Symbol,
			SignalID: sig.ID,
			Reason:   string(reason),
		})
		logger.Info("risk: signal %s %s rejected: %s", sig.Symbol, sig.ID, reason)
		return d
	}

	// дедуп: повторный сигнал никогда не бронирует второй слот
	if _, seen := m.state.seenSignals[sig.ID]; seen {
		return reject(models.RejectDuplicateSignal)
	}
	m.state.seenSignals[sig.ID] = now

	if quoteAge > m.cfg.MarketData.StaleAfter {
		return reject(models.RejectStaleData)
	}

	if m.state.tradingPaused || m.state.circuitBreakerTripped {
		return reject(models.RejectTradingHalted)
	}

	if len(m.state.openPositions) >= m.cfg.Risk.MaxOpenPositions {
		return reject(models.RejectPositionLimit)
	}

	// по символу уже есть слот: сканер пере-эмитит тот же гэп каждый проход,
	// второй сигнал перезаписал бы запись в леджере
	if _, held := m.state.openPositions[sig.Symbol]; held {
		return reject(models.RejectSymbolAlreadyOpen)
	}

	if m.state.dailyRealizedPnl <= -m.cfg.Risk.DailyLossLimit {
		return reject(models.RejectDailyLossLimit)
	}

	entry := sig.CurrentPrice
	qty := m.sizer.Quantity(entry)

	positionValue := float64(qty) * entry
	if positionValue/m.cfg.Risk.Capital*100 > m.cfg.Risk.MaxConcentrationPct {
		// ужимаем позицию до лимита концентрации, метод сайзинга не важен
		qty = helper.FloorShares(m.cfg.Risk.Capital*m.cfg.Risk.MaxConcentrationPct/100, entry)
		if qty < 1 {
			return reject(models.RejectConcentrationLimit)
		}
		positionValue = float64(qty) * entry
	}

	if qty < 1 || positionValue > m.availableCapitalLocked() {
		return reject(models.RejectInsufficientCapital)
	}

	side := models.TradeLong
	if sig.SignalType == models.SignalGapDown {
		side = models.TradeShort
	}
	stop, target := m.sizer.Levels(entry, side, sig.ConfidenceScore)

	// бронируем слот синхронно: параллельный сигнал не перехватит капитал
	m.state.openPositions[sig.Symbol] = positionValue

	d := models.RiskDecision{
		SignalID:   sig.ID,
		Approved:   true,
		Quantity:   qty,
		EntryPrice: entry,
		StopLoss:   stop,
		Target:     target,
		RiskAmount: m.sizer.RiskAmount(entry, stop, qty),
		DecidedAt:  now,
	}
	m.persistDecisionLocked(ctx, sig, d)

	logger.Info("risk: approved %s %s qty=%d entry=%.2f stop=%.2f target=%.2f",
		sig.Symbol, sig.ID, qty, entry, stop, target)
	return d
}

// persistDecisionLocked: отказ репозитория — фатален для пайплайна,
// состояние без персиста не продвигаем.
func (m *Manager) persistDecisionLocked(ctx context.Context, sig models.GapSignal, d models.RiskDecision) {
	if err := m.repo.SaveSignal(ctx, sig); err != nil {
		m.haltLocked(err)
		return
	}
	if err := m.repo.SaveDecision(ctx, d); err != nil {
		m.haltLocked(err)
	}
}

func (m *Manager) haltLocked(cause error) {
	if !m.state.tradingPaused {
		logger.Error("risk: %v — pausing trading: %v", ErrRepositoryDown, cause)
		m.state.tradingPaused = true
		m.bus.Publish(models.Event{
			Type:    models.EventRiskAlert,
			Message: fmt.Sprintf("trading halted: %v", cause),
		})
	}
}

func (m *Manager) availableCapitalLocked() float64 {
	used := 0.0
	for _, v := range m.state.openPositions {
		used += v
	}
	return m.cfg.Risk.Capital - used
}

// ReleaseSlot возвращает слот после неудавшегося входа.
func (m *Manager) ReleaseSlot(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state.openPositions, symbol)
}

// ApplyClose — закрытие сделки: дневной PnL, слот, окно брейкера.
// Вызывается движком исполнения после подтверждённого выхода.
func (m *Manager) ApplyClose(symbol string, realizedPnl float64, closedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.state.openPositions, symbol)
	m.state.dailyRealizedPnl += realizedPnl

	if realizedPnl < 0 {
		m.state.recentLosses = append(m.state.recentLosses, closedAt)
	}
	m.evaluateBreakerLocked(closedAt)
}

// evaluateBreakerLocked: дневной лосс за порогом или K убытков в окне.
// Брейкер взводится, сам не сбрасывается — только явный Reset.
func (m *Manager) evaluateBreakerLocked(now time.Time) {
	if m.state.circuitBreakerTripped {
		return
	}

	m.state.pruneLosses(now, m.cfg.Risk.BreakerWindow)

	tripped := false
	var why string
	if m.state.dailyRealizedPnl <= -m.cfg.Risk.BreakerLossLimit {
		tripped = true
		why = fmt.Sprintf("daily pnl %.2f breached limit %.2f",
			m.state.dailyRealizedPnl, m.cfg.Risk.BreakerLossLimit)
	} else if len(m.state.recentLosses) >= m.cfg.Risk.BreakerMaxLosses {
		tripped = true
		why = fmt.Sprintf("%d losing trades within %s",
			len(m.state.recentLosses), m.cfg.Risk.BreakerWindow)
	}
	if !tripped {
		return
	}

	m.state.circuitBreakerTripped = true
	logger.Warn("risk: circuit breaker tripped: %s", why)
	m.bus.Publish(models.Event{
		Type:    models.EventRiskAlert,
		Message: "circuit breaker tripped: " + why,
	})
}

// BreakerTripped — для монитора (аварийный выход по конфигу).
func (m *Manager) BreakerTripped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.circuitBreakerTripped
}

func (m *Manager) Pause() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.tradingPaused = true
	logger.Info("risk: trading paused")
}

func (m *Manager) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Resume не сбрасывает брейкер: для этого есть явный ResetBreaker
	m.state.tradingPaused = false
	logger.Info("risk: trading resumed")
}

func (m *Manager) TripBreaker(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.circuitBreakerTripped {
		return
	}
	m.state.circuitBreakerTripped = true
	logger.Warn("risk: circuit breaker tripped manually: %s", reason)
	m.bus.Publish(models.Event{
		Type:    models.EventRiskAlert,
		Message: "circuit breaker tripped: " + reason,
	})
}

func (m *Manager) ResetBreaker() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.circuitBreakerTripped = false
	m.state.recentLosses = nil
	logger.Info("risk: circuit breaker reset")
}

func (m *Manager) Snapshot() models.RiskSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.snapshot(models.RiskSnapshot{
		DailyLossLimit:      m.cfg.Risk.DailyLossLimit,
		MaxOpenPositions:    m.cfg.Risk.MaxOpenPositions,
		MaxConcentrationPct: m.cfg.Risk.MaxConcentrationPct,
	})
}

// Persist сбрасывает снимок состояния в репозиторий.
func (m *Manager) Persist(ctx context.Context) error {
	return m.repo.SaveRiskSnapshot(ctx, m.Snapshot())
}

// rollSessionLocked — смена торгового дня.
func (m *Manager) rollSessionLocked(now time.Time) {
	day := helper.SessionDate(now)
	if day != m.state.sessionDate {
		logger.Info("risk: new session %s (was %s)", day, m.state.sessionDate)
		m.state.resetSession(day)
	}
}

// Restore прогревает состояние из репозитория после рестарта:
// открытые сделки -> слоты, решения за день -> дедуп,
// закрытые PnL -> дневной итог и окно брейкера, снимок -> флаги.
func (m *Manager) Restore(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Manager.Restore: %w", err)
		}
	}()

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	day := helper.SessionDate(now)

	trades, err := m.repo.OpenTrades(ctx)
	if err != nil {
		return err
	}
	for _, t := range trades {
		m.state.openPositions[t.Symbol] = float64(t.Quantity) * t.EntryPrice
	}

	startOfDay, _ := time.ParseInLocation("2006-01-02", day, now.Location())
	ids, err := m.repo.SignalIDsSince(ctx, startOfDay)
	if err != nil {
		return err
	}
	for _, id := range ids {
		m.state.seenSignals[id] = now
	}

	pnls, err := m.repo.ClosedTradePnls(ctx, day)
	if err != nil {
		return err
	}
	for _, p := range pnls {
		m.state.dailyRealizedPnl += p.Pnl
		if p.Pnl < 0 {
			m.state.recentLosses = append(m.state.recentLosses, p.ExitTime)
		}
	}
	m.state.pruneLosses(now, m.cfg.Risk.BreakerWindow)

	snap, found, err := m.repo.LoadRiskSnapshot(ctx, day)
	if err != nil {
		return err
	}
	if found {
		m.state.circuitBreakerTripped = snap.CircuitBreakerTripped
		m.state.tradingPaused = snap.TradingPaused
	}

	logger.Info("risk: restored session %s: %d open, pnl %.2f, breaker=%v",
		day, len(m.state.openPositions), m.state.dailyRealizedPnl, m.state.circuitBreakerTripped)
	return nil
}
