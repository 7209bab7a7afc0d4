package service

import (
	"context"

	"gap_trader/internal/models"
)

// Store — срез репозитория, нужный движку исполнения.
type Store interface {
	SaveTrade(ctx context.Context, t *models.Trade) error
	UpdateTrade(ctx context.Context, t *models.Trade) error
	SaveOrder(ctx context.Context, o *models.Order) error
	UpdateOrder(ctx context.Context, o *models.Order) error
	OpenTrades(ctx context.Context) ([]*models.Trade, error)
	OrdersByTrade(ctx context.Context, tradeID string) ([]*models.Order, error)
}
