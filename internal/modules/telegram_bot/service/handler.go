package service

import (
	"context"
	"strings"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gap_trader/internal/models"
	"gap_trader/pkg/logger"
)

func (t *Telegram) handleUpdate(ctx context.Context, update tgbot.Update) {
	if cb := update.CallbackQuery; cb != nil {
		t.handleCallback(cb)
		return
	}

	msg := update.Message
	if msg == nil || !msg.IsCommand() {
		return
	}
	if msg.Chat.ID != t.cfg.Telegram.ChatID {
		logger.Warn("telegram: command from foreign chat %d ignored", msg.Chat.ID)
		return
	}

	switch msg.Command() {
	case "start", "help":
		t.Send(ctx, "Команды:\n"+
			"/status — риск-состояние\n"+
			"/positions — открытые позиции\n"+
			"/pause — пауза допуска\n"+
			"/resume — снять паузу\n"+
			"/close SYMBOL — закрыть позицию\n"+
			"/reset — сброс circuit breaker\n"+
			"/stop — аварийный стоп")

	case "status":
		t.handleStatus(ctx)

	case "positions":
		t.handlePositions(ctx)

	case "pause":
		t.enqueue(models.Command{Type: models.CommandPause, At: time.Now()})
		t.Send(ctx, "⏸ Допуск новых сигналов приостановлен.")

	case "resume":
		t.enqueue(models.Command{Type: models.CommandResume, At: time.Now()})
		t.Send(ctx, "▶️ Допуск возобновлён.")

	case "reset":
		t.enqueue(models.Command{Type: models.CommandResetBreaker, At: time.Now()})
		t.Send(ctx, "🔄 Circuit breaker сброшен.")

	case "close":
		symbol := strings.ToUpper(strings.TrimSpace(msg.CommandArguments()))
		if symbol == "" {
			t.Send(ctx, "Использование: /close SYMBOL")
			return
		}
		t.enqueue(models.Command{Type: models.CommandClosePosition, Symbol: symbol, At: time.Now()})
		t.SendF(ctx, "Закрываю %s…", symbol)

	case "stop":
		go func() {
			if !t.Confirm(ctx, "⚠️ Аварийный стоп: пауза допуска и выход из всех позиций. Подтвердить?", time.Minute) {
				return
			}
			t.enqueue(models.Command{Type: models.CommandEmergencyStop, At: time.Now()})
			t.Send(ctx, "🛑 Аварийный стоп запущен.")
		}()
	}
}

// enqueue: команды идемпотентны, потеря при переполнении очереди —
// повод для warn, не для блокировки long-poll.
func (t *Telegram) enqueue(cmd models.Command) {
	select {
	case t.commands <- cmd:
	default:
		logger.Warn("telegram: command queue full, dropping %s", cmd.Type)
	}
}

func (t *Telegram) handleCallback(cb *tgbot.CallbackQuery) {
	data := cb.Data
	var token string
	var ok bool
	switch {
	case strings.HasPrefix(data, "CONF::"):
		token, ok = strings.TrimPrefix(data, "CONF::"), true
	case strings.HasPrefix(data, "REJ::"):
		token, ok = strings.TrimPrefix(data, "REJ::"), false
	case strings.HasPrefix(data, "APPROVE::"):
		t.handleApprovalCallback(cb, strings.TrimPrefix(data, "APPROVE::"), true)
		return
	case strings.HasPrefix(data, "DENY::"):
		t.handleApprovalCallback(cb, strings.TrimPrefix(data, "DENY::"), false)
		return
	default:
		return
	}

	if p := t.resolvePending(token, ok); p != nil {
		verdict := "❌ Отменено."
		if ok {
			verdict = "✅ Подтверждено."
		}
		_ = t.editText(p.msgID, p.prompt+"\n\n"+verdict)
	}
	_, _ = t.bot.Request(tgbot.NewCallback(cb.ID, ""))
}

func (t *Telegram) handleApprovalCallback(cb *tgbot.CallbackQuery, signalID string, approved bool) {
	cmdType := models.CommandRejectSignal
	verdict := "❌ Отклонено оператором."
	if approved {
		cmdType = models.CommandApproveSignal
		verdict = "✅ Одобрено, отправляю на вход."
	}
	t.enqueue(models.Command{Type: cmdType, SignalID: signalID, At: time.Now()})

	if a, ok := t.takeApproval(signalID); ok {
		_ = t.editText(a.msgID, a.prompt+"\n\n"+verdict)
	}
	_, _ = t.bot.Request(tgbot.NewCallback(cb.ID, ""))
}
