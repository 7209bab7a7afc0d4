package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"gap_trader/internal/models"
)

// SaveSignal пишет сигнал вместе с полным слепком в JSONB.
// Повторная запись того же ID — no-op (ON CONFLICT DO NOTHING).
func (r *Repository) SaveSignal(ctx context.Context, s models.GapSignal) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Repository.SaveSignal: %w", err)
		}
	}()

	payload, err := sonic.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "marshal signal")
	}

	return r.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, `
			INSERT INTO signals (id, symbol, signal_type, gap_percent, confidence_score, confidence_label, detected_at, payload)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO NOTHING`,
			s.ID, s.Symbol, string(s.SignalType), s.GapPercent,
			s.ConfidenceScore, string(s.ConfidenceLabel), s.DetectedAt, payload,
		)
		return err
	})
}

// SaveDecision фиксирует вердикт контроллера допуска по сигналу.
func (r *Repository) SaveDecision(ctx context.Context, d models.RiskDecision) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Repository.SaveDecision: %w", err)
		}
	}()

	return r.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, `
			INSERT INTO risk_decisions (signal_id, approved, reject_reason, quantity, entry_price, stop_loss, target, risk_amount, decided_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (signal_id) DO NOTHING`,
			d.SignalID, d.Approved, string(d.RejectReason), d.Quantity,
			d.EntryPrice, d.StopLoss, d.Target, d.RiskAmount, d.DecidedAt,
		)
		return err
	})
}

// SignalIDsSince — ID сигналов, обработанных с указанного момента.
// Риск-менеджер прогревает этим дедуп после рестарта.
func (r *Repository) SignalIDsSince(ctx context.Context, since time.Time) (ids []string, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Repository.SignalIDsSince: %w", err)
		}
	}()

	err = r.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctxTx,
			`SELECT signal_id FROM risk_decisions WHERE decided_at >= $1`, since)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	return ids, err
}
