package service

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"gap_trader/internal/metrics"
	"gap_trader/internal/models"
	"gap_trader/pkg/logger"
)

// RequestExit закрывает открытую сделку. Повторный вызов, пока выход
// уже идёт, — no-op: флаг in-flight гарантирует один exit-ордер на сделку.
func (e *Engine) RequestExit(ctx context.Context, tradeID string, reason models.ExitReason) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Engine.RequestExit: %w", err)
		}
	}()

	e.mu.Lock()
	trade, ok := e.trades[tradeID]
	if !ok || trade.Status != models.TradeOpen {
		e.mu.Unlock()
		return nil // уже закрыта либо не наша — команды идемпотентны
	}
	if e.exitInFlight[tradeID] {
		e.mu.Unlock()
		return nil
	}
	e.exitInFlight[tradeID] = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.exitInFlight, tradeID)
		e.mu.Unlock()
	}()

	// сперва смотрим защитные ордера: стоп или тейк мог уже исполниться
	if fill, kind, ok := e.resolveProtective(ctx, tradeID); ok {
		if kind == models.OrderKindStop {
			reason = models.ExitStop
		} else {
			reason = models.ExitTarget
		}
		return e.finalizeClose(ctx, trade, fill.AveragePrice, reason)
	}

	// защитные не сработали — выходим маркетом, ретраим агрессивно:
	// незакрытая позиция важнее лимита попыток на вход
	exit := &models.Order{
		ID:       newOrderID(),
		TradeID:  trade.ID,
		Symbol:   trade.Symbol,
		Kind:     models.OrderKindExit,
		Type:     models.OrderTypeMarket,
		Side:     trade.ExitSide(),
		Quantity: trade.Quantity,
		Status:   models.OrderPending,
		PlacedAt: e.now(),
	}
	if err = e.repo.SaveOrder(ctx, exit); err != nil {
		return err
	}
	e.mu.Lock()
	e.orders[trade.ID] = append(e.orders[trade.ID], exit)
	e.mu.Unlock()

	ack, err := e.submitWithRetry(ctx, exit, models.OrderSpec{
		Symbol:   exit.Symbol,
		Type:     exit.Type,
		Side:     exit.Side,
		Quantity: exit.Quantity,
		Tag:      "exit:" + string(reason),
	}, "exit:"+trade.ID, e.cfg.Executor.ExitMaxRetries, e.cfg.Executor.ExitBackoff)
	if err != nil {
		// сделка остаётся OPEN: без подтверждённого филла CLOSED не ставим
		metrics.ExitFailures.Inc()
		e.transitionOrder(ctx, exit, models.OrderRejected, nil)
		e.bus.Publish(models.Event{
			Type:    models.EventRiskAlert,
			Symbol:  trade.Symbol,
			TradeID: trade.ID,
			Message: fmt.Sprintf("exit failed, position still open: %v", err),
		})
		return errors.Wrap(ErrExitExhausted, err.Error())
	}

	e.transitionOrder(ctx, exit, models.OrderPlaced, func(o *models.Order) {
		o.BrokerOrderID = ack.BrokerOrderID
	})

	fill, err := e.awaitFill(ctx, exit, e.cfg.Executor.OrderTimeout)
	if err != nil || fill.FilledQty < trade.Quantity {
		metrics.ExitFailures.Inc()
		e.bus.Publish(models.Event{
			Type:    models.EventRiskAlert,
			Symbol:  trade.Symbol,
			TradeID: trade.ID,
			Message: fmt.Sprintf("exit fill incomplete (%d/%d): %v", fill.FilledQty, trade.Quantity, err),
		})
		if err == nil {
			err = errors.Errorf("exit fill incomplete: %d of %d", fill.FilledQty, trade.Quantity)
		}
		return err
	}

	e.transitionOrder(ctx, exit, models.OrderComplete, func(o *models.Order) {
		o.FilledQty = fill.FilledQty
		o.AveragePrice = fill.AveragePrice
	})
	return e.finalizeClose(ctx, trade, fill.AveragePrice, reason)
}

// resolveProtective: если стоп или тейк уже исполнен — возвращает его филл
// и снимает парный ордер (OCO).
func (e *Engine) resolveProtective(ctx context.Context, tradeID string) (models.FillEvent, models.OrderKind, bool) {
	e.mu.Lock()
	var protective []*models.Order
	for _, o := range e.orders[tradeID] {
		if (o.Kind == models.OrderKindStop || o.Kind == models.OrderKindTarget) &&
			o.Status == models.OrderPlaced && o.BrokerOrderID != "" {
			protective = append(protective, o)
		}
	}
	e.mu.Unlock()

	for _, o := range protective {
		st, fill, err := e.gateway.OrderStatus(ctx, o.BrokerOrderID)
		if err != nil {
			logger.Warn("executor: poll protective %s: %v", o.ID, err)
			continue
		}
		if st != models.OrderComplete {
			continue
		}

		e.transitionOrder(ctx, o, models.OrderComplete, func(ord *models.Order) {
			ord.FilledQty = fill.FilledQty
			ord.AveragePrice = fill.AveragePrice
		})

		// OCO: парный ордер снимаем
		for _, other := range protective {
			if other.ID == o.ID {
				continue
			}
			if err := e.gateway.CancelOrder(ctx, other.BrokerOrderID); err != nil {
				logger.Error("executor: cancel paired %s: %v", other.ID, err)
			}
			e.transitionOrder(ctx, other, models.OrderCancelled, nil)
		}
		return fill, o.Kind, true
	}
	return models.FillEvent{}, "", false
}

// finalizeClose: ордера сняты, филл подтверждён — фиксируем результат
// и возвращаем слот с PnL в риск-состояние.
func (e *Engine) finalizeClose(ctx context.Context, trade *models.Trade, exitPrice float64, reason models.ExitReason) error {
	e.cancelRemaining(ctx, trade.ID)

	now := e.now()
	e.mu.Lock()
	if !CanTransitionTrade(trade.Status, models.TradeClosed) {
		e.mu.Unlock()
		return errors.Errorf("trade %s cannot close from %s", trade.ID, trade.Status)
	}
	fee := e.cfg.Executor.FeePerTrade
	realized := (exitPrice-trade.EntryPrice)*float64(trade.Quantity)*trade.Direction() - fee
	trade.Status = models.TradeClosed
	trade.RealizedPnl = realized
	trade.Fees = fee
	trade.UnrealizedPnl = 0
	trade.CurrentPrice = exitPrice
	trade.ExitReason = reason
	trade.ExitTime = now
	snapshot := *trade
	delete(e.trades, trade.ID)
	delete(e.orders, trade.ID)
	e.mu.Unlock()

	if err := e.repo.UpdateTrade(ctx, &snapshot); err != nil {
		return err
	}

	e.riskMgr.ApplyClose(trade.Symbol, realized, now)

	metrics.TradesClosed.WithLabelValues(string(reason)).Inc()
	e.bus.Publish(models.Event{
		Type:    models.EventTradeClosed,
		Symbol:  trade.Symbol,
		TradeID: trade.ID,
		Reason:  string(reason),
		Message: fmt.Sprintf("%s closed @ %.2f, pnl %.2f (%s)", trade.Symbol, exitPrice, realized, reason),
	})
	logger.Info("executor: trade %s closed @ %.2f pnl=%.2f reason=%s", trade.ID, exitPrice, realized, reason)
	return nil
}

// cancelRemaining снимает все незавершённые ордера сделки.
func (e *Engine) cancelRemaining(ctx context.Context, tradeID string) {
	e.mu.Lock()
	var open []*models.Order
	for _, o := range e.orders[tradeID] {
		if !OrderFinal(o.Status) && o.BrokerOrderID != "" {
			open = append(open, o)
		}
	}
	e.mu.Unlock()

	for _, o := range open {
		if err := e.gateway.CancelOrder(ctx, o.BrokerOrderID); err != nil {
			logger.Error("executor: cancel order %s: %v", o.ID, err)
			continue
		}
		e.transitionOrder(ctx, o, models.OrderCancelled, nil)
	}
}

// ExitAll — аварийное закрытие всех открытых сделок. Best-effort:
// ошибка по одной сделке не останавливает остальные.
func (e *Engine) ExitAll(ctx context.Context, reason models.ExitReason) {
	for _, t := range e.OpenTradeSnapshots() {
		if err := e.RequestExit(ctx, t.ID, reason); err != nil {
			logger.Error("executor: emergency exit %s: %v", t.Symbol, err)
		}
	}
}
