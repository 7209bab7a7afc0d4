package models

import "time"

type OrderKind string

const (
	OrderKindEntry  OrderKind = "ENTRY"
	OrderKindStop   OrderKind = "STOP"
	OrderKindTarget OrderKind = "TARGET"
	OrderKindExit   OrderKind = "EXIT"
)

type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeSL     OrderType = "SL"
	OrderTypeSLM    OrderType = "SL-M"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPlaced    OrderStatus = "PLACED"
	OrderPartial   OrderStatus = "PARTIAL"
	OrderComplete  OrderStatus = "COMPLETE"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderRejected  OrderStatus = "REJECTED"
)

// Order принадлежит ровно одному Trade; мутируется только движком
// исполнения на коллбеках брокера или по таймауту.
type Order struct {
	ID            string
	TradeID       string
	BrokerOrderID string // пусто до подтверждения брокером
	Symbol        string
	Kind          OrderKind
	Type          OrderType
	Side          Side
	Quantity      int64
	Price         float64
	TriggerPrice  float64
	Status        OrderStatus
	FilledQty     int64
	AveragePrice  float64
	Attempt       int
	PlacedAt      time.Time
	UpdatedAt     time.Time
}

// OrderSpec — то, что уходит брокеру. Без ID нашей стороны:
// дедупликация на стороне шлюза идёт по idempotency key.
type OrderSpec struct {
	Symbol       string
	Type         OrderType
	Side         Side
	Quantity     int64
	Price        float64
	TriggerPrice float64
	Tag          string
}

// OrderAck — подтверждение приёма ордера брокером.
type OrderAck struct {
	BrokerOrderID string
	Status        OrderStatus
	AcceptedAt    time.Time
}

// FillEvent — асинхронное уведомление о (частичном) исполнении.
type FillEvent struct {
	BrokerOrderID string
	Symbol        string
	FilledQty     int64
	AveragePrice  float64
	Complete      bool
	At            time.Time
}
