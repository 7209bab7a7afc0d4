package models

import "time"

type TradeSide string

const (
	TradeLong  TradeSide = "LONG"
	TradeShort TradeSide = "SHORT"
)

type TradeStatus string

const (
	TradePending   TradeStatus = "PENDING"
	TradeOpen      TradeStatus = "OPEN"
	TradeClosed    TradeStatus = "CLOSED"
	TradeCancelled TradeStatus = "CANCELLED"
)

type ExitReason string

const (
	ExitStop         ExitReason = "STOP"
	ExitTarget       ExitReason = "TARGET"
	ExitTimeout      ExitReason = "TIMEOUT"
	ExitManual       ExitReason = "MANUAL"
	ExitEmergency    ExitReason = "EMERGENCY"
	ExitSquareOff    ExitReason = "SQUARE_OFF"
	ExitPartialEntry ExitReason = "PARTIAL_ENTRY"
)

// Trade — позиция. Один entry-ордер и до двух защитных/выходных.
// Ссылки между Trade и Order только по ID, без прямых указателей.
type Trade struct {
	ID            string
	SignalID      string
	Symbol        string
	Side          TradeSide
	Quantity      int64
	EntryPrice    float64
	StopLoss      float64
	Target        float64
	Status        TradeStatus
	RealizedPnl   float64 // за вычетом комиссии
	Fees          float64
	UnrealizedPnl float64
	CurrentPrice  float64
	ExitReason    ExitReason
	EntryTime     time.Time
	ExitTime      time.Time
}

func (t *Trade) Direction() float64 {
	if t.Side == TradeShort {
		return -1
	}
	return 1
}

// EntrySide — сторона входного ордера для этой позиции.
func (t *Trade) EntrySide() Side {
	if t.Side == TradeShort {
		return SideSell
	}
	return SideBuy
}

// ExitSide — сторона закрывающего ордера.
func (t *Trade) ExitSide() Side {
	return t.EntrySide().Opposite()
}
