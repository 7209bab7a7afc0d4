package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	mdata "gap_trader/internal/modules/marketdata/service"

	"gap_trader/internal/models"
)

// PaperGateway — симулятор брокера для paper-режима.
// Маркет-ордера исполняются мгновенно по текущей котировке,
// триггерные (SL-M / LIMIT) срабатывают при пересечении цены —
// проверка на каждом опросе OrderStatus.
type PaperGateway struct {
	feed mdata.Feed

	mu     sync.Mutex
	orders map[string]*paperOrder // brokerOrderID -> order
	byKey  map[string]string      // idempotency key -> brokerOrderID
}

type paperOrder struct {
	spec      models.OrderSpec
	status    models.OrderStatus
	filledQty int64
	avgPrice  float64
	placedAt  time.Time
}

func NewPaperGateway(feed mdata.Feed) *PaperGateway {
	return &PaperGateway{
		feed:   feed,
		orders: make(map[string]*paperOrder),
		byKey:  make(map[string]string),
	}
}

func (g *PaperGateway) PlaceOrder(ctx context.Context, spec models.OrderSpec, key string) (models.OrderAck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	// дедуп: повтор с тем же ключом возвращает прежний ордер
	if id, ok := g.byKey[key]; ok {
		o := g.orders[id]
		return models.OrderAck{BrokerOrderID: id, Status: o.status, AcceptedAt: o.placedAt}, nil
	}

	if spec.Quantity <= 0 {
		return models.OrderAck{}, &GatewayError{Code: "BAD_QTY", Message: "quantity must be positive", Retryable: false}
	}

	o := &paperOrder{
		spec:     spec,
		status:   models.OrderPlaced,
		placedAt: time.Now(),
	}

	if spec.Type == models.OrderTypeMarket {
		q, err := g.feed.Quote(ctx, spec.Symbol)
		if err != nil {
			return models.OrderAck{}, &GatewayError{Code: "NO_QUOTE", Message: err.Error(), Retryable: true}
		}
		o.status = models.OrderComplete
		o.filledQty = spec.Quantity
		o.avgPrice = q.Price
	}

	id := uuid.NewString()
	g.orders[id] = o
	g.byKey[key] = id

	return models.OrderAck{BrokerOrderID: id, Status: o.status, AcceptedAt: o.placedAt}, nil
}

func (g *PaperGateway) CancelOrder(_ context.Context, brokerOrderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	o, ok := g.orders[brokerOrderID]
	if !ok {
		return &GatewayError{Code: "NOT_FOUND", Message: brokerOrderID, Retryable: false}
	}
	switch o.status {
	case models.OrderComplete, models.OrderCancelled, models.OrderRejected:
		// финальный статус не трогаем
		return nil
	}
	o.status = models.OrderCancelled
	return nil
}

func (g *PaperGateway) OrderStatus(ctx context.Context, brokerOrderID string) (models.OrderStatus, models.FillEvent, error) {
	g.mu.Lock()
	o, ok := g.orders[brokerOrderID]
	g.mu.Unlock()
	if !ok {
		return "", models.FillEvent{}, &GatewayError{Code: "NOT_FOUND", Message: brokerOrderID, Retryable: false}
	}

	g.checkTrigger(ctx, o)

	g.mu.Lock()
	defer g.mu.Unlock()
	fill := models.FillEvent{
		BrokerOrderID: brokerOrderID,
		Symbol:        o.spec.Symbol,
		FilledQty:     o.filledQty,
		AveragePrice:  o.avgPrice,
		Complete:      o.status == models.OrderComplete,
		At:            time.Now(),
	}
	return o.status, fill, nil
}

// checkTrigger исполняет отложенный ордер, если цена дошла.
func (g *PaperGateway) checkTrigger(ctx context.Context, o *paperOrder) {
	g.mu.Lock()
	if o.status != models.OrderPlaced || o.spec.Type == models.OrderTypeMarket {
		g.mu.Unlock()
		return
	}
	spec := o.spec
	g.mu.Unlock()

	q, err := g.feed.Quote(ctx, spec.Symbol)
	if err != nil {
		return
	}

	crossed := false
	fillPrice := q.Price
	switch spec.Type {
	case models.OrderTypeSLM, models.OrderTypeSL:
		// стоп: SELL срабатывает, когда цена упала до триггера, BUY — когда выросла
		if spec.Side == models.SideSell {
			crossed = q.Price <= spec.TriggerPrice
		} else {
			crossed = q.Price >= spec.TriggerPrice
		}
	case models.OrderTypeLimit:
		// лимит: SELL исполняется не хуже цены лимита
		if spec.Side == models.SideSell {
			crossed = q.Price >= spec.Price
		} else {
			crossed = q.Price <= spec.Price
		}
		fillPrice = spec.Price
	}
	if !crossed {
		return
	}

	g.mu.Lock()
	if o.status == models.OrderPlaced {
		o.status = models.OrderComplete
		o.filledQty = spec.Quantity
		o.avgPrice = fillPrice
	}
	g.mu.Unlock()
}
