package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"gap_trader/internal/models"
)

func (r *Repository) SaveTrade(ctx context.Context, t *models.Trade) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Repository.SaveTrade: %w", err)
		}
	}()

	return r.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, `
			INSERT INTO trades (id, signal_id, symbol, side, quantity, entry_price, stop_loss, target, status, entry_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO NOTHING`,
			t.ID, t.SignalID, t.Symbol, string(t.Side), t.Quantity,
			t.EntryPrice, t.StopLoss, t.Target, string(t.Status), t.EntryTime,
		)
		return err
	})
}

func (r *Repository) UpdateTrade(ctx context.Context, t *models.Trade) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Repository.UpdateTrade: %w", err)
		}
	}()

	return r.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		var exitTime *time.Time
		if !t.ExitTime.IsZero() {
			exitTime = &t.ExitTime
		}
		_, err := tx.Exec(ctxTx, `
			UPDATE trades
			SET status = $2, quantity = $3, entry_price = $4, stop_loss = $5, target = $6,
			    realized_pnl = $7, fees = $8, exit_reason = $9, exit_time = $10
			WHERE id = $1`,
			t.ID, string(t.Status), t.Quantity, t.EntryPrice, t.StopLoss, t.Target,
			t.RealizedPnl, t.Fees, string(t.ExitReason), exitTime,
		)
		return err
	})
}

// OpenTrades — сделки в статусе PENDING/OPEN, для восстановления после рестарта.
func (r *Repository) OpenTrades(ctx context.Context) (trades []*models.Trade, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Repository.OpenTrades: %w", err)
		}
	}()

	err = r.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctxTx, `
			SELECT id, signal_id, symbol, side, quantity, entry_price, stop_loss, target, status, entry_time
			FROM trades WHERE status IN ('PENDING', 'OPEN')
			ORDER BY entry_time`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				t        models.Trade
				side, st string
			)
			if err := rows.Scan(&t.ID, &t.SignalID, &t.Symbol, &side, &t.Quantity,
				&t.EntryPrice, &t.StopLoss, &t.Target, &st, &t.EntryTime); err != nil {
				return err
			}
			t.Side = models.TradeSide(side)
			t.Status = models.TradeStatus(st)
			trades = append(trades, &t)
		}
		return rows.Err()
	})
	return trades, err
}

// ClosedTradePnls — realized PnL закрытых сделок за сессию, по времени выхода.
// Нужен риск-менеджеру: дневной PnL и окно circuit breaker после рестарта.
func (r *Repository) ClosedTradePnls(ctx context.Context, sessionDate string) (pnls []models.ClosedPnl, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Repository.ClosedTradePnls: %w", err)
		}
	}()

	err = r.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctxTx, `
			SELECT realized_pnl, exit_time FROM trades
			WHERE status = 'CLOSED' AND to_char(exit_time, 'YYYY-MM-DD') = $1
			ORDER BY exit_time`, sessionDate)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var p models.ClosedPnl
			if err := rows.Scan(&p.Pnl, &p.ExitTime); err != nil {
				return err
			}
			pnls = append(pnls, p)
		}
		return rows.Err()
	})
	return pnls, err
}
