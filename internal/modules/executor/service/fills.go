package service

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"gap_trader/internal/models"
	broker "gap_trader/internal/modules/broker/service"
)

const fillPollInterval = time.Second

// awaitFill опрашивает брокера до полного исполнения ордера либо таймаута.
// Частичное исполнение возвращается по таймауту — решает вызывающий.
func (e *Engine) awaitFill(ctx context.Context, o *models.Order, timeout time.Duration) (models.FillEvent, error) {
	deadline := e.now().Add(timeout)
	var last models.FillEvent

	for {
		e.mu.Lock()
		brokerID := o.BrokerOrderID
		e.mu.Unlock()

		st, fill, err := e.gateway.OrderStatus(ctx, brokerID)
		if err != nil {
			if !broker.IsRetryable(err) {
				return last, err
			}
			// транзиентный сбой опроса — просто ждём следующий тик
		} else {
			last = fill
			switch st {
			case models.OrderComplete:
				return fill, nil
			case models.OrderRejected:
				return fill, errors.Errorf("order %s rejected by broker", o.ID)
			case models.OrderCancelled:
				return fill, errors.Errorf("order %s cancelled at broker", o.ID)
			case models.OrderPartial:
				e.mu.Lock()
				already := o.Status == models.OrderPartial
				e.mu.Unlock()
				if !already {
					e.transitionOrder(ctx, o, models.OrderPartial, func(ord *models.Order) {
						ord.FilledQty = fill.FilledQty
						ord.AveragePrice = fill.AveragePrice
					})
				}
			}
		}

		if e.now().After(deadline) {
			if last.FilledQty > 0 {
				return last, nil
			}
			return last, errors.Errorf("order %s fill timeout after %s", o.ID, timeout)
		}
		if !sleepCtx(ctx, fillPollInterval) {
			return last, ctx.Err()
		}
	}
}
