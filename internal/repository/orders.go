package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"gap_trader/internal/models"
)

func (r *Repository) SaveOrder(ctx context.Context, o *models.Order) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Repository.SaveOrder: %w", err)
		}
	}()

	return r.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, `
			INSERT INTO orders (id, trade_id, broker_order_id, symbol, kind, order_type, side, quantity, price, trigger_price, status, attempt, placed_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (id) DO NOTHING`,
			o.ID, o.TradeID, o.BrokerOrderID, o.Symbol, string(o.Kind), string(o.Type),
			string(o.Side), o.Quantity, o.Price, o.TriggerPrice, string(o.Status),
			o.Attempt, o.PlacedAt, o.UpdatedAt,
		)
		return err
	})
}

func (r *Repository) UpdateOrder(ctx context.Context, o *models.Order) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Repository.UpdateOrder: %w", err)
		}
	}()

	return r.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, `
			UPDATE orders
			SET broker_order_id = $2, status = $3, filled_qty = $4, average_price = $5, attempt = $6, updated_at = $7
			WHERE id = $1`,
			o.ID, o.BrokerOrderID, string(o.Status), o.FilledQty,
			o.AveragePrice, o.Attempt, o.UpdatedAt,
		)
		return err
	})
}

// OrdersByTrade — все ордера сделки, для восстановления после рестарта.
func (r *Repository) OrdersByTrade(ctx context.Context, tradeID string) (orders []*models.Order, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Repository.OrdersByTrade: %w", err)
		}
	}()

	err = r.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctxTx, `
			SELECT id, trade_id, broker_order_id, symbol, kind, order_type, side, quantity, price, trigger_price, status, filled_qty, average_price, attempt, placed_at, updated_at
			FROM orders WHERE trade_id = $1 ORDER BY placed_at`, tradeID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				o                    models.Order
				kind, typ, side, st  string
			)
			if err := rows.Scan(&o.ID, &o.TradeID, &o.BrokerOrderID, &o.Symbol, &kind, &typ,
				&side, &o.Quantity, &o.Price, &o.TriggerPrice, &st, &o.FilledQty,
				&o.AveragePrice, &o.Attempt, &o.PlacedAt, &o.UpdatedAt); err != nil {
				return err
			}
			o.Kind = models.OrderKind(kind)
			o.Type = models.OrderType(typ)
			o.Side = models.Side(side)
			o.Status = models.OrderStatus(st)
			orders = append(orders, &o)
		}
		return rows.Err()
	})
	return orders, err
}
