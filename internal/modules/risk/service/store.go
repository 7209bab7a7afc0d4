package service

import (
	"context"
	"time"

	"gap_trader/internal/models"
)

// Store — срез репозитория, нужный контроллеру допуска.
type Store interface {
	SaveSignal(ctx context.Context, s models.GapSignal) error
	SaveDecision(ctx context.Context, d models.RiskDecision) error
	SignalIDsSince(ctx context.Context, since time.Time) ([]string, error)
	OpenTrades(ctx context.Context) ([]*models.Trade, error)
	ClosedTradePnls(ctx context.Context, sessionDate string) ([]models.ClosedPnl, error)
	SaveRiskSnapshot(ctx context.Context, s models.RiskSnapshot) error
	LoadRiskSnapshot(ctx context.Context, sessionDate string) (models.RiskSnapshot, bool, error)
}
