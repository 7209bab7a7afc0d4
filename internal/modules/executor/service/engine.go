package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"gap_trader/internal/events"
	"gap_trader/internal/metrics"
	"gap_trader/internal/models"
	broker "gap_trader/internal/modules/broker/service"
	"gap_trader/internal/modules/config"
	risk "gap_trader/internal/modules/risk/service"
	"gap_trader/pkg/logger"
)

var ErrExitExhausted = errors.New("executor: exit retries exhausted, position still open")

// Engine — машина состояний исполнения. Владеет сделками и их ордерами;
// монитор видит только снимки и шлёт команды выхода.
type Engine struct {
	cfg     *config.Config
	gateway broker.Gateway
	riskMgr *risk.Manager
	repo    Store
	bus     *events.Bus

	mu           sync.Mutex
	trades       map[string]*models.Trade   // tradeID -> trade
	orders       map[string][]*models.Order // tradeID -> orders (append-only до CLOSED)
	exitInFlight map[string]bool            // tradeID -> выход уже идёт
	approvals    map[string]chan bool       // signalID -> ожидание вердикта оператора

	now func() time.Time
}

func NewEngine(cfg *config.Config, gw broker.Gateway, rm *risk.Manager, repo Store, bus *events.Bus) *Engine {
	return &Engine{
		cfg:          cfg,
		gateway:      gw,
		riskMgr:      rm,
		repo:         repo,
		bus:          bus,
		trades:       make(map[string]*models.Trade),
		orders:       make(map[string][]*models.Order),
		exitInFlight: make(map[string]bool),
		approvals:    make(map[string]chan bool),
		now:          time.Now,
	}
}

// Execute ведёт одобренное решение через вход и постановку защитных ордеров.
// На любом терминальном отказе слот возвращается риск-менеджеру.
func (e *Engine) Execute(ctx context.Context, sig models.GapSignal, d models.RiskDecision) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Engine.Execute: %w", err)
		}
	}()

	side := models.TradeLong
	if sig.SignalType == models.SignalGapDown {
		side = models.TradeShort
	}

	trade := &models.Trade{
		ID:         uuid.NewString(),
		SignalID:   sig.ID,
		Symbol:     sig.Symbol,
		Side:       side,
		Quantity:   d.Quantity,
		EntryPrice: d.EntryPrice,
		StopLoss:   d.StopLoss,
		Target:     d.Target,
		Status:     models.TradePending,
		EntryTime:  e.now(),
	}

	entry := &models.Order{
		ID:       uuid.NewString(),
		TradeID:  trade.ID,
		Symbol:   sig.Symbol,
		Kind:     models.OrderKindEntry,
		Type:     models.OrderTypeMarket,
		Side:     trade.EntrySide(),
		Quantity: d.Quantity,
		Status:   models.OrderPending,
		PlacedAt: e.now(),
	}

	if err = e.repo.SaveTrade(ctx, trade); err != nil {
		return err
	}
	if err = e.repo.SaveOrder(ctx, entry); err != nil {
		return err
	}

	e.mu.Lock()
	e.trades[trade.ID] = trade
	e.orders[trade.ID] = []*models.Order{entry}
	e.mu.Unlock()

	// idempotency key от signalID: ретрай не создаст второй ордер у брокера
	ack, err := e.submitWithRetry(ctx, entry, models.OrderSpec{
		Symbol:   entry.Symbol,
		Type:     entry.Type,
		Side:     entry.Side,
		Quantity: entry.Quantity,
		Tag:      "entry",
	}, "entry:"+sig.ID, e.cfg.Executor.MaxRetries, e.cfg.Executor.RetryBackoff)
	if err != nil {
		e.abortEntry(ctx, trade, entry)
		return err
	}

	e.transitionOrder(ctx, entry, models.OrderPlaced, func(o *models.Order) {
		o.BrokerOrderID = ack.BrokerOrderID
	})
	e.bus.Publish(models.Event{
		Type:    models.EventOrderPlaced,
		Symbol:  trade.Symbol,
		TradeID: trade.ID,
		Message: fmt.Sprintf("entry %s x%d", trade.Symbol, entry.Quantity),
	})

	fill, err := e.awaitFill(ctx, entry, e.cfg.Executor.OrderTimeout)
	if err != nil {
		// вход не исполнился — снимаем ордер и откатываемся
		_ = e.gateway.CancelOrder(ctx, entry.BrokerOrderID)
		e.abortEntry(ctx, trade, entry)
		return err
	}

	minQty := int64(float64(d.Quantity) * e.cfg.Risk.MinFillRatio)
	if fill.FilledQty < 1 {
		_ = e.gateway.CancelOrder(ctx, entry.BrokerOrderID)
		e.abortEntry(ctx, trade, entry)
		return errors.Errorf("entry fill %d below minimum %d", fill.FilledQty, minQty)
	}
	if fill.FilledQty < minQty {
		// набрали меньше порога: остаток снимаем, уже купленные акции
		// не бросаем у брокера, а закрываем обычным exit-потоком
		return e.liquidatePartialEntry(ctx, trade, entry, fill, minQty)
	}

	e.transitionOrder(ctx, entry, models.OrderComplete, func(o *models.Order) {
		o.FilledQty = fill.FilledQty
		o.AveragePrice = fill.AveragePrice
	})

	if d.EntryPrice > 0 {
		slipPct := (fill.AveragePrice - d.EntryPrice) / d.EntryPrice * 100
		if slipPct < 0 {
			slipPct = -slipPct
		}
		metrics.EntrySlippageBps.Observe(slipPct * 100)
		metrics.FillQuality.WithLabelValues(fillQualityBand(slipPct)).Inc()
	}

	e.mu.Lock()
	trade.Status = models.TradeOpen
	trade.Quantity = fill.FilledQty
	trade.EntryPrice = fill.AveragePrice
	trade.CurrentPrice = fill.AveragePrice
	e.mu.Unlock()

	if err = e.repo.UpdateTrade(ctx, trade); err != nil {
		return err
	}

	metrics.TradesOpened.Inc()
	e.bus.Publish(models.Event{
		Type:    models.EventTradeOpened,
		Symbol:  trade.Symbol,
		TradeID: trade.ID,
		Message: fmt.Sprintf("%s %s x%d @ %.2f", trade.Side, trade.Symbol, trade.Quantity, trade.EntryPrice),
	})
	logger.Info("executor: trade %s open %s x%d @ %.2f", trade.ID, trade.Symbol, trade.Quantity, trade.EntryPrice)

	return e.placeProtectivePair(ctx, trade)
}

// liquidatePartialEntry: вход исполнился ниже min_fill_ratio. Сделка
// открывается на фактический объём и немедленно уходит в RequestExit:
// если выход не пройдёт, позиция остаётся OPEN и её ведёт монитор.
func (e *Engine) liquidatePartialEntry(
	ctx context.Context,
	trade *models.Trade,
	entry *models.Order,
	fill models.FillEvent,
	minQty int64,
) error {
	if err := e.gateway.CancelOrder(ctx, entry.BrokerOrderID); err != nil {
		logger.Warn("executor: cancel partial entry %s: %v", entry.ID, err)
	}
	e.transitionOrder(ctx, entry, models.OrderCancelled, func(o *models.Order) {
		o.FilledQty = fill.FilledQty
		o.AveragePrice = fill.AveragePrice
	})

	e.mu.Lock()
	trade.Status = models.TradeOpen
	trade.Quantity = fill.FilledQty
	trade.EntryPrice = fill.AveragePrice
	trade.CurrentPrice = fill.AveragePrice
	e.mu.Unlock()

	if err := e.repo.UpdateTrade(ctx, trade); err != nil {
		return err
	}

	e.bus.Publish(models.Event{
		Type:    models.EventRiskAlert,
		Symbol:  trade.Symbol,
		TradeID: trade.ID,
		Message: fmt.Sprintf("entry fill %d below minimum %d, liquidating partial position", fill.FilledQty, minQty),
	})
	logger.Warn("executor: entry %s filled %d of %d (min %d), liquidating",
		trade.Symbol, fill.FilledQty, entry.Quantity, minQty)

	if err := e.RequestExit(ctx, trade.ID, models.ExitPartialEntry); err != nil {
		return err
	}
	return errors.Errorf("entry fill %d below minimum %d, partial position liquidated", fill.FilledQty, minQty)
}

// abortEntry: вход не состоялся — ордер REJECTED, сделка CANCELLED, слот назад.
func (e *Engine) abortEntry(ctx context.Context, trade *models.Trade, entry *models.Order) {
	e.transitionOrder(ctx, entry, models.OrderRejected, nil)

	e.mu.Lock()
	trade.Status = models.TradeCancelled
	e.mu.Unlock()

	if err := e.repo.UpdateTrade(ctx, trade); err != nil {
		logger.Error("executor: persist cancelled trade %s: %v", trade.ID, err)
	}
	e.riskMgr.ReleaseSlot(trade.Symbol)

	logger.Warn("executor: entry aborted for %s, slot released", trade.Symbol)
}

// placeProtectivePair ставит стоп и тейк как OCO-пару.
// Исполнение одного снимает второй (следит монитор через resolveProtective).
func (e *Engine) placeProtectivePair(ctx context.Context, trade *models.Trade) error {
	stop := &models.Order{
		ID:           uuid.NewString(),
		TradeID:      trade.ID,
		Symbol:       trade.Symbol,
		Kind:         models.OrderKindStop,
		Type:         models.OrderTypeSLM,
		Side:         trade.ExitSide(),
		Quantity:     trade.Quantity,
		TriggerPrice: trade.StopLoss,
		Status:       models.OrderPending,
		PlacedAt:     e.now(),
	}
	target := &models.Order{
		ID:       uuid.NewString(),
		TradeID:  trade.ID,
		Symbol:   trade.Symbol,
		Kind:     models.OrderKindTarget,
		Type:     models.OrderTypeLimit,
		Side:     trade.ExitSide(),
		Quantity: trade.Quantity,
		Price:    trade.Target,
		Status:   models.OrderPending,
		PlacedAt: e.now(),
	}

	for _, o := range []*models.Order{stop, target} {
		if err := e.repo.SaveOrder(ctx, o); err != nil {
			return err
		}
		e.mu.Lock()
		e.orders[trade.ID] = append(e.orders[trade.ID], o)
		e.mu.Unlock()

		spec := models.OrderSpec{
			Symbol:       o.Symbol,
			Type:         o.Type,
			Side:         o.Side,
			Quantity:     o.Quantity,
			Price:        o.Price,
			TriggerPrice: o.TriggerPrice,
			Tag:          string(o.Kind),
		}
		key := fmt.Sprintf("%s:%s", o.Kind, trade.ID)
		ack, err := e.submitWithRetry(ctx, o, spec, key, e.cfg.Executor.MaxRetries, e.cfg.Executor.RetryBackoff)
		if err != nil {
			// защитный ордер не встал — позицию прикрывает монитор по цене,
			// но это повод для алерта
			logger.Error("executor: protective %s for %s failed: %v", o.Kind, trade.Symbol, err)
			e.transitionOrder(ctx, o, models.OrderRejected, nil)
			e.bus.Publish(models.Event{
				Type:    models.EventRiskAlert,
				Symbol:  trade.Symbol,
				TradeID: trade.ID,
				Message: fmt.Sprintf("protective %s not placed: %v", o.Kind, err),
			})
			continue
		}
		e.transitionOrder(ctx, o, models.OrderPlaced, func(ord *models.Order) {
			ord.BrokerOrderID = ack.BrokerOrderID
		})
	}
	return nil
}

// submitWithRetry ретраит только транзиентные отказы, с экспоненциальной
// паузой. Фатальный отказ или исчерпание попыток — ошибка наружу.
func (e *Engine) submitWithRetry(
	ctx context.Context,
	o *models.Order,
	spec models.OrderSpec,
	key string,
	maxRetries int,
	base time.Duration,
) (models.OrderAck, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			metrics.OrderRetries.Inc()
			if !sleepCtx(ctx, base<<uint(attempt-1)) {
				return models.OrderAck{}, ctx.Err()
			}
		}

		e.mu.Lock()
		o.Attempt = attempt + 1
		e.mu.Unlock()

		ack, err := e.gateway.PlaceOrder(ctx, spec, key)
		if err == nil {
			return ack, nil
		}
		lastErr = err

		if !broker.IsRetryable(err) {
			logger.Warn("executor: fatal broker error on %s: %v", key, err)
			return models.OrderAck{}, err
		}
		logger.Warn("executor: transient broker error on %s (attempt %d/%d): %v",
			key, attempt+1, maxRetries+1, err)
	}
	return models.OrderAck{}, errors.Wrapf(lastErr, "retries exhausted for %s", key)
}

// transitionOrder применяет переход статуса с проверкой допустимости
// и сразу персистит.
func (e *Engine) transitionOrder(ctx context.Context, o *models.Order, to models.OrderStatus, mutate func(*models.Order)) {
	e.mu.Lock()
	if !CanTransitionOrder(o.Status, to) {
		e.mu.Unlock()
		logger.Error("executor: invalid order transition %s -> %s (order %s)", o.Status, to, o.ID)
		return
	}
	o.Status = to
	o.UpdatedAt = e.now()
	if mutate != nil {
		mutate(o)
	}
	snapshot := *o
	e.mu.Unlock()

	if err := e.repo.UpdateOrder(ctx, &snapshot); err != nil {
		logger.Error("executor: persist order %s: %v", o.ID, err)
	}
}

// fillQualityBand — качество заполнения по модулю слиппеджа, в процентах.
func fillQualityBand(slipPct float64) string {
	switch {
	case slipPct <= 0.05:
		return "EXCELLENT"
	case slipPct <= 0.1:
		return "GOOD"
	case slipPct <= 0.2:
		return "FAIR"
	case slipPct <= 0.5:
		return "POOR"
	default:
		return "VERY_POOR"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
