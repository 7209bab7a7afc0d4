package models

import "time"

type SignalType string

const (
	SignalGapUp   SignalType = "GAP_UP"
	SignalGapDown SignalType = "GAP_DOWN"
)

type ConfidenceLabel string

const (
	ConfidenceHigh   ConfidenceLabel = "HIGH"
	ConfidenceMedium ConfidenceLabel = "MEDIUM"
	ConfidenceLow    ConfidenceLabel = "LOW"
)

// LabelForScore: HIGH >= 80, MEDIUM 60–79, LOW < 60.
func LabelForScore(score float64) ConfidenceLabel {
	switch {
	case score >= 80:
		return ConfidenceHigh
	case score >= 60:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// GapSignal — результат сканера. Иммутабельный после создания,
// потребляется контроллером допуска ровно один раз (dedup по ID).
type GapSignal struct {
	ID              string
	Symbol          string
	GapPercent      float64
	PreClose        float64
	PostOpen        float64
	CurrentPrice    float64
	Volume          int64
	VolumeRatio     float64
	ConfidenceScore float64 // 0–100
	ConfidenceLabel ConfidenceLabel
	SignalType      SignalType
	Explanation     string
	DetectedAt      time.Time
	EarningsDate    time.Time
}

type RejectReason string

const (
	RejectTradingHalted       RejectReason = "TRADING_HALTED"
	RejectPositionLimit       RejectReason = "POSITION_LIMIT"
	RejectSymbolAlreadyOpen   RejectReason = "SYMBOL_ALREADY_OPEN"
	RejectDailyLossLimit      RejectReason = "DAILY_LOSS_LIMIT"
	RejectConcentrationLimit  RejectReason = "CONCENTRATION_LIMIT"
	RejectInsufficientCapital RejectReason = "INSUFFICIENT_CAPITAL"
	RejectDuplicateSignal     RejectReason = "DUPLICATE_SIGNAL"
	RejectStaleData           RejectReason = "STALE_DATA"
)

// RiskDecision — вердикт контроллера допуска по одному сигналу.
type RiskDecision struct {
	SignalID     string
	Approved     bool
	RejectReason RejectReason // заполнен только при отказе
	Quantity     int64
	EntryPrice   float64
	StopLoss     float64
	Target       float64
	RiskAmount   float64
	DecidedAt    time.Time
}
