package service

import "gap_trader/internal/models"

// ValidOrderTransitions определяет допустимые переходы статуса ордера
var ValidOrderTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderPending: {models.OrderPlaced, models.OrderRejected, models.OrderCancelled},
	models.OrderPlaced:  {models.OrderPartial, models.OrderComplete, models.OrderCancelled, models.OrderRejected},
	models.OrderPartial: {models.OrderComplete, models.OrderCancelled},
	// COMPLETE / CANCELLED / REJECTED — терминальные
}

// ValidTradeTransitions определяет допустимые переходы статуса сделки
var ValidTradeTransitions = map[models.TradeStatus][]models.TradeStatus{
	models.TradePending: {models.TradeOpen, models.TradeCancelled},
	models.TradeOpen:    {models.TradeClosed},
}

// CanTransitionOrder проверяет допустимость перехода ордера
func CanTransitionOrder(from, to models.OrderStatus) bool {
	for _, s := range ValidOrderTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionTrade проверяет допустимость перехода сделки
func CanTransitionTrade(from, to models.TradeStatus) bool {
	for _, s := range ValidTradeTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// OrderFinal: из этого статуса ордер уже не двигается
func OrderFinal(s models.OrderStatus) bool {
	return s == models.OrderComplete || s == models.OrderCancelled || s == models.OrderRejected
}
