package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"gap_trader/internal/models"
	"gap_trader/pkg/logger"
)

func newOrderID() string { return uuid.NewString() }

// OpenTradeSnapshots — копии открытых сделок для монитора.
// Монитор работает со снимками и никогда не мутирует оригиналы.
func (e *Engine) OpenTradeSnapshots() []models.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.Trade, 0, len(e.trades))
	for _, t := range e.trades {
		if t.Status == models.TradeOpen {
			out = append(out, *t)
		}
	}
	return out
}

// UpdatePrice обновляет текущую цену и нереализованный PnL сделки.
func (e *Engine) UpdatePrice(tradeID string, price float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.trades[tradeID]
	if !ok || t.Status != models.TradeOpen {
		return
	}
	t.CurrentPrice = price
	t.UnrealizedPnl = (price - t.EntryPrice) * float64(t.Quantity) * t.Direction()
}

// TradeBySymbol — ID открытой сделки по символу (для ручного закрытия).
func (e *Engine) TradeBySymbol(symbol string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, t := range e.trades {
		if t.Symbol == symbol && t.Status == models.TradeOpen {
			return id, true
		}
	}
	return "", false
}

// Restore поднимает открытые сделки и их ордера из базы после рестарта.
func (e *Engine) Restore(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Engine.Restore: %w", err)
		}
	}()

	trades, err := e.repo.OpenTrades(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range trades {
		// PENDING без живого процесса не доедет — считаем отменённой
		if t.Status == models.TradePending {
			t.Status = models.TradeCancelled
			snapshot := *t
			go func() {
				if err := e.repo.UpdateTrade(context.Background(), &snapshot); err != nil {
					logger.Error("executor: cancel stale pending trade %s: %v", snapshot.ID, err)
				}
			}()
			continue
		}

		orders, err := e.repo.OrdersByTrade(ctx, t.ID)
		if err != nil {
			return err
		}
		e.trades[t.ID] = t
		e.orders[t.ID] = orders
	}
	logger.Info("executor: restored %d open trades", len(e.trades))
	return nil
}
