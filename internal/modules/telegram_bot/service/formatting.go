package service

import (
	"context"
	"fmt"
	"strings"

	"gap_trader/internal/models"
)

func (t *Telegram) handleStatus(ctx context.Context) {
	snap := t.riskMgr.Snapshot()

	var b strings.Builder
	b.WriteString("📊 *Статус*\n")
	fmt.Fprintf(&b, "Сессия: %s\n", snap.SessionDate)
	fmt.Fprintf(&b, "Дневной PnL: %+.2f (лимит -%.0f)\n", snap.DailyRealizedPnl, snap.DailyLossLimit)
	fmt.Fprintf(&b, "Позиции: %d/%d\n", snap.OpenPositions, snap.MaxOpenPositions)
	if snap.TradingPaused {
		b.WriteString("⏸ Допуск на паузе\n")
	}
	if snap.CircuitBreakerTripped {
		b.WriteString("🛑 Circuit breaker взведён\n")
	}
	t.Send(ctx, b.String())
}

func (t *Telegram) handlePositions(ctx context.Context) {
	trades := t.engine.OpenTradeSnapshots()
	if len(trades) == 0 {
		t.Send(ctx, "Открытых позиций нет.")
		return
	}

	var b strings.Builder
	b.WriteString("📈 *Открытые позиции*\n")
	for _, tr := range trades {
		fmt.Fprintf(&b, "%s %s x%d @ %.2f | SL %.2f / TP %.2f | uPnL %+.2f\n",
			sideArrow(tr.Side), tr.Symbol, tr.Quantity, tr.EntryPrice,
			tr.StopLoss, tr.Target, tr.UnrealizedPnl)
	}
	t.Send(ctx, b.String())
}

func sideArrow(s models.TradeSide) string {
	if s == models.TradeShort {
		return "🔻"
	}
	return "🔺"
}

// relayEvents транслирует события пайплайна в чат.
func (t *Telegram) relayEvents(ctx context.Context) {
	ch, cancel := t.bus.Subscribe("telegram")
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if evt.Type == models.EventApprovalRequired {
				t.sendSignalApproval(ctx, evt)
				continue
			}
			if msg := formatEvent(evt); msg != "" {
				t.Send(ctx, msg)
			}
		}
	}
}

func formatEvent(evt models.Event) string {
	switch evt.Type {
	case models.EventSignalDetected:
		return fmt.Sprintf("🔔 Сигнал %s: %s", evt.Symbol, evt.Message)
	case models.EventTradeOpened:
		return "✅ Вход: " + evt.Message
	case models.EventTradeClosed:
		return "🏁 Закрыто: " + evt.Message
	case models.EventRiskAlert:
		return "⚠️ " + evt.Message
	default:
		// отказы сигналов не шумят в чат, они в логах и метриках
		return ""
	}
}
