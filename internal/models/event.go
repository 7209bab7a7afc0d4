package models

import "time"

type EventType string

const (
	EventSignalDetected   EventType = "SignalDetected"
	EventSignalRejected   EventType = "SignalRejected"
	EventApprovalRequired EventType = "ApprovalRequired"
	EventOrderPlaced      EventType = "OrderPlaced"
	EventTradeOpened      EventType = "TradeOpened"
	EventTradeClosed      EventType = "TradeClosed"
	EventRiskAlert        EventType = "RiskAlert"
)

// Event — исходящее событие пайплайна (для телеграма/дашборда).
type Event struct {
	Type     EventType
	Symbol   string
	SignalID string
	TradeID  string
	Reason   string
	Message  string
	At       time.Time
}

type CommandType string

const (
	CommandApproveSignal CommandType = "ApproveSignal"
	CommandRejectSignal  CommandType = "RejectSignal"
	CommandClosePosition CommandType = "ClosePosition"
	CommandPause         CommandType = "Pause"
	CommandResume        CommandType = "Resume"
	CommandEmergencyStop CommandType = "EmergencyStop"
	CommandResetBreaker  CommandType = "ResetBreaker"
)

// Command — входящая команда (телеграм/бот-слой). Команды идемпотентны:
// повторная отправка безопасна.
type Command struct {
	Type     CommandType
	Symbol   string
	SignalID string
	At       time.Time
}
