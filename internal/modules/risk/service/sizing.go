package service

import (
	"gap_trader/internal/helper"
	"gap_trader/internal/models"
	"gap_trader/internal/modules/config"
)

// Sizer считает количество по сконфигурированному методу.
type Sizer struct {
	cfg config.RiskConfig
}

func NewSizer(cfg config.RiskConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// Quantity — целые акции, округление вниз. 0 — капитала не хватает.
func (s *Sizer) Quantity(entryPrice float64) int64 {
	if entryPrice <= 0 {
		return 0
	}

	switch models.SizingMethod(s.cfg.SizingMethod) {
	case models.SizingFixedAmount:
		return helper.FloorShares(s.cfg.FixedAmount, entryPrice)

	case models.SizingEquityPct:
		return helper.FloorShares(s.cfg.Capital*s.cfg.EquityPct, entryPrice)

	case models.SizingRiskBased:
		// риск на сделку / дистанция до стопа в деньгах на акцию
		riskAmount := s.cfg.Capital * s.cfg.RiskPerTrade
		perShare := entryPrice * s.cfg.StopLossPct
		if perShare <= 0 {
			return 0
		}
		qty := helper.FloorShares(riskAmount, perShare)
		// позиция всё равно не больше, чем позволяет капитал
		maxAffordable := helper.FloorShares(s.cfg.Capital, entryPrice)
		if qty > maxAffordable {
			qty = maxAffordable
		}
		return qty
	}
	return 0
}

// Levels — стоп и тейк от цены входа. Для шорта зеркально.
// RewardRatio > 0 переключает тейк с фиксированного процента на RR;
// в процентном режиме скор сигнала сдвигает уровни: от 85 тейк дальше
// в полтора раза, ниже 65 стоп поджимается до 0.8 дистанции.
func (s *Sizer) Levels(entryPrice float64, side models.TradeSide, confidence float64) (stopLoss, target float64) {
	stopDist := entryPrice * s.cfg.StopLossPct

	var targetDist float64
	if s.cfg.RewardRatio > 0 {
		targetDist = stopDist * s.cfg.RewardRatio
	} else {
		targetPct := s.cfg.TargetPct
		if confidence >= 85 {
			targetPct *= 1.5
		} else if confidence < 65 {
			stopDist = entryPrice * s.cfg.StopLossPct * 0.8
		}
		targetDist = entryPrice * targetPct
	}

	if side == models.TradeShort {
		return helper.RoundUpToTick(entryPrice+stopDist, 0.05),
			helper.RoundDownToTick(entryPrice-targetDist, 0.05)
	}
	return helper.RoundDownToTick(entryPrice-stopDist, 0.05),
		helper.RoundUpToTick(entryPrice+targetDist, 0.05)
}

// RiskAmount — сколько теряем при срабатывании стопа.
func (s *Sizer) RiskAmount(entryPrice, stopLoss float64, qty int64) float64 {
	dist := entryPrice - stopLoss
	if dist < 0 {
		dist = -dist
	}
	return dist * float64(qty)
}
