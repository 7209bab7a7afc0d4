package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gap_trader/internal/events"
	"gap_trader/internal/models"
	"gap_trader/internal/modules/config"
	executor "gap_trader/internal/modules/executor/service"
	risk "gap_trader/internal/modules/risk/service"
	"gap_trader/pkg/logger"
)

type pending struct {
	ch     chan bool
	msgID  int
	prompt string
}

type approvalMsg struct {
	msgID  int
	prompt string
}

// Telegram — командная поверхность и нотификатор оператора.
type Telegram struct {
	bot      *tgbot.BotAPI
	cfg      *config.Config
	riskMgr  *risk.Manager
	engine   *executor.Engine
	bus      *events.Bus
	commands chan<- models.Command

	mu        sync.Mutex
	pendings  map[string]*pending
	approvals map[string]approvalMsg // signalID -> сообщение с кнопками

	cancel context.CancelFunc
}

func NewTelegram(
	cfg *config.Config,
	rm *risk.Manager,
	engine *executor.Engine,
	bus *events.Bus,
	commands chan models.Command,
) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, err
	}
	return &Telegram{
		bot:       b,
		cfg:       cfg,
		riskMgr:   rm,
		engine:    engine,
		bus:       bus,
		commands:  commands,
		pendings:  make(map[string]*pending),
		approvals: make(map[string]approvalMsg),
	}, nil
}

func (t *Telegram) Send(ctx context.Context, msg string) {
	m := tgbot.NewMessage(t.cfg.Telegram.ChatID, msg)
	m.ParseMode = "Markdown"
	if _, err := t.bot.Send(m); err != nil {
		// нотификации best-effort: ошибку только логируем
		logger.Error("telegram: send: %v", err)
	}
}

func (t *Telegram) SendF(ctx context.Context, format string, args ...any) {
	t.Send(ctx, fmt.Sprintf(format, args...))
}

// Confirm — сообщение с кнопками и ожиданием callback.
func (t *Telegram) Confirm(ctx context.Context, prompt string, timeout time.Duration) bool {
	token := fmt.Sprintf("%d", time.Now().UnixNano())
	p := &pending{
		ch:     make(chan bool, 1),
		prompt: prompt,
	}

	t.mu.Lock()
	t.pendings[token] = p
	t.mu.Unlock()

	btnYes := tgbot.NewInlineKeyboardButtonData("✅ Да", "CONF::"+token)
	btnNo := tgbot.NewInlineKeyboardButtonData("❌ Отмена", "REJ::"+token)
	kb := tgbot.NewInlineKeyboardMarkup(tgbot.NewInlineKeyboardRow(btnYes, btnNo))

	msg := tgbot.NewMessage(t.cfg.Telegram.ChatID, prompt)
	msg.ReplyMarkup = kb

	sent, _ := t.bot.Send(msg)
	p.msgID = sent.MessageID

	tmr := time.NewTimer(timeout)
	defer tmr.Stop()

	select {
	case ok := <-p.ch:
		return ok
	case <-tmr.C:
		t.mu.Lock()
		delete(t.pendings, token)
		t.mu.Unlock()
		_ = t.editText(p.msgID, p.prompt+"\n\n⌛ Время вышло.")
		return false
	case <-ctx.Done():
		return false
	}
}

// sendSignalApproval — карточка сигнала с кнопками одобрения.
// Вердикт уходит командой в монитор, не ждём его здесь.
func (t *Telegram) sendSignalApproval(ctx context.Context, evt models.Event) {
	prompt := fmt.Sprintf("🔔 *Сигнал ждёт одобрения*\n%s\nОдобрить вход?", evt.Message)

	btnYes := tgbot.NewInlineKeyboardButtonData("✅ Одобрить", "APPROVE::"+evt.SignalID)
	btnNo := tgbot.NewInlineKeyboardButtonData("❌ Отклонить", "DENY::"+evt.SignalID)
	kb := tgbot.NewInlineKeyboardMarkup(tgbot.NewInlineKeyboardRow(btnYes, btnNo))

	msg := tgbot.NewMessage(t.cfg.Telegram.ChatID, prompt)
	msg.ParseMode = "Markdown"
	msg.ReplyMarkup = kb

	sent, err := t.bot.Send(msg)
	if err != nil {
		logger.Error("telegram: approval prompt %s: %v", evt.SignalID, err)
		return
	}

	t.mu.Lock()
	t.approvals[evt.SignalID] = approvalMsg{msgID: sent.MessageID, prompt: prompt}
	t.mu.Unlock()
}

func (t *Telegram) takeApproval(signalID string) (approvalMsg, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.approvals[signalID]
	if ok {
		delete(t.approvals, signalID)
	}
	return a, ok
}

func (t *Telegram) resolvePending(token string, ok bool) *pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, found := t.pendings[token]
	if !found {
		return nil
	}
	delete(t.pendings, token)
	p.ch <- ok
	return p
}

func (t *Telegram) editText(msgID int, text string) error {
	edit := tgbot.NewEditMessageText(t.cfg.Telegram.ChatID, msgID, text)
	_, err := t.bot.Request(edit)
	return err
}

// Start поднимает long-poll апдейтов и трансляцию событий шины.
func (t *Telegram) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				t.handleUpdate(runCtx, update)
			}
		}
	}()

	go t.relayEvents(runCtx)
}

func (t *Telegram) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.bot.StopReceivingUpdates()
}
