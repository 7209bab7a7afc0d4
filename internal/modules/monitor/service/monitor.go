package service

import (
	"context"
	"time"

	"gap_trader/internal/events"
	"gap_trader/internal/helper"
	"gap_trader/internal/metrics"
	"gap_trader/internal/models"
	executor "gap_trader/internal/modules/executor/service"
	"gap_trader/internal/modules/config"
	mdata "gap_trader/internal/modules/marketdata/service"
	risk "gap_trader/internal/modules/risk/service"
	"gap_trader/pkg/logger"
)

// Monitor — цикл надзора за открытыми позициями. Читает снимки сделок,
// сам ничего не мутирует: все выходы идут командами в движок исполнения.
type Monitor struct {
	cfg      *config.Config
	feed     mdata.Feed
	engine   *executor.Engine
	riskMgr  *risk.Manager
	bus      *events.Bus
	commands chan models.Command

	squareOffMin   int
	emergencyFired bool

	now func() time.Time
}

func NewMonitor(
	cfg *config.Config,
	feed mdata.Feed,
	engine *executor.Engine,
	riskMgr *risk.Manager,
	bus *events.Bus,
	commands chan models.Command,
) *Monitor {
	return &Monitor{
		cfg:          cfg,
		feed:         feed,
		engine:       engine,
		riskMgr:      riskMgr,
		bus:          bus,
		commands:     commands,
		squareOffMin: helper.ParseClock(cfg.Monitor.SquareOffTime),
		now:          time.Now,
	}
}

// Run — тики оценки позиций вперемешку с входящими командами.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Monitor.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-m.commands:
			m.handleCommand(ctx, cmd)
		case <-ticker.C:
			m.Cycle(ctx)
		}
	}
}

// Cycle — один проход: обновить цены, проверить условия выхода,
// оценить брейкер.
func (m *Monitor) Cycle(ctx context.Context) {
	now := m.now()
	squareOff := m.cfg.Monitor.AutoSquareOff && minutesOfDay(now) >= m.squareOffMin

	for _, t := range m.engine.OpenTradeSnapshots() {
		quote, err := m.feed.Quote(ctx, t.Symbol)
		if err != nil {
			logger.Warn("monitor: quote %s: %v", t.Symbol, err)
			continue
		}
		m.engine.UpdatePrice(t.ID, quote.Price)

		if reason, hit := m.exitCondition(t, quote.Price, now, squareOff); hit {
			// выход уходит в горутину: ожидание заполнения у брокера не должно
			// останавливать надзор за остальными позициями. Повторный тик по
			// той же сделке гасится in-flight флагом движка.
			go func(tradeID string, symbol string, reason models.ExitReason) {
				if err := m.engine.RequestExit(ctx, tradeID, reason); err != nil {
					logger.Error("monitor: exit %s (%s): %v", symbol, reason, err)
				}
			}(t.ID, t.Symbol, reason)
		}
	}

	m.evaluateBreaker(ctx)
	m.exportGauges()
}

// exitCondition возвращает первую сработавшую причину выхода.
// Порядок: стоп, тейк, таймаут, сквер-офф.
func (m *Monitor) exitCondition(t models.Trade, price float64, now time.Time, squareOff bool) (models.ExitReason, bool) {
	if t.Side == models.TradeLong {
		if price <= t.StopLoss {
			return models.ExitStop, true
		}
		if price >= t.Target {
			return models.ExitTarget, true
		}
	} else {
		if price >= t.StopLoss {
			return models.ExitStop, true
		}
		if price <= t.Target {
			return models.ExitTarget, true
		}
	}

	if now.Sub(t.EntryTime) >= m.cfg.Monitor.PositionTimeout {
		return models.ExitTimeout, true
	}
	if squareOff {
		return models.ExitSquareOff, true
	}
	return "", false
}

// evaluateBreaker: при взведённом брейкере и включённой опции —
// аварийный выход из всего, один раз.
func (m *Monitor) evaluateBreaker(ctx context.Context) {
	if !m.riskMgr.BreakerTripped() {
		m.emergencyFired = false
		return
	}
	if m.emergencyFired || !m.cfg.Risk.EmergencyExitOnTrip {
		return
	}
	m.emergencyFired = true
	logger.Warn("monitor: circuit breaker tripped, emergency exit of all positions")
	go m.engine.ExitAll(ctx, models.ExitEmergency)
}

func (m *Monitor) handleCommand(ctx context.Context, cmd models.Command) {
	logger.Info("monitor: command %s %s", cmd.Type, cmd.Symbol)

	switch cmd.Type {
	case models.CommandPause:
		m.riskMgr.Pause()

	case models.CommandResume:
		m.riskMgr.Resume()

	case models.CommandResetBreaker:
		m.riskMgr.ResetBreaker()
		m.emergencyFired = false

	case models.CommandClosePosition:
		tradeID, ok := m.engine.TradeBySymbol(cmd.Symbol)
		if !ok {
			logger.Warn("monitor: close %s: no open position", cmd.Symbol)
			return
		}
		go func(symbol string) {
			if err := m.engine.RequestExit(ctx, tradeID, models.ExitManual); err != nil {
				logger.Error("monitor: manual exit %s: %v", symbol, err)
			}
		}(cmd.Symbol)

	case models.CommandApproveSignal:
		if !m.engine.ResolveApproval(cmd.SignalID, true) {
			logger.Warn("monitor: approve %s: no pending signal", cmd.SignalID)
		}

	case models.CommandRejectSignal:
		if !m.engine.ResolveApproval(cmd.SignalID, false) {
			logger.Warn("monitor: reject %s: no pending signal", cmd.SignalID)
		}

	case models.CommandEmergencyStop:
		// пауза включается мгновенно, зачистка — best-effort следом
		m.riskMgr.Pause()
		m.bus.Publish(models.Event{
			Type:    models.EventRiskAlert,
			Message: "emergency stop: admissions paused, exiting all positions",
		})
		go m.engine.ExitAll(ctx, models.ExitEmergency)
	}
}

func (m *Monitor) exportGauges() {
	snap := m.riskMgr.Snapshot()
	metrics.DailyRealizedPnl.Set(snap.DailyRealizedPnl)
	metrics.OpenPositions.Set(float64(snap.OpenPositions))
	if snap.CircuitBreakerTripped {
		metrics.BreakerTripped.Set(1)
	} else {
		metrics.BreakerTripped.Set(0)
	}
}

func minutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
