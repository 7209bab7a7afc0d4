package service

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"gap_trader/internal/models"
)

var (
	ErrNoQuote   = errors.New("marketdata: no quote for symbol")
	ErrStaleData = errors.New("marketdata: quote is stale")
)

// Feed — источник рыночных данных для сканера и монитора.
type Feed interface {
	// Quote — последняя цена. Возвращает ErrStaleData, если котировка
	// старше порога протухания.
	Quote(ctx context.Context, symbol string) (models.Quote, error)

	// GapInputs — pre-close / post-open / средний объём по символу.
	GapInputs(ctx context.Context, symbol string) (models.GapInputs, error)

	// EarningsCalendar — события отчётностей на дату (локальная сессия).
	EarningsCalendar(ctx context.Context, day time.Time) ([]models.EarningsEvent, error)
}
