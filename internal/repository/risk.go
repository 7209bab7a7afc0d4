package repository

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"gap_trader/internal/models"
)

// SaveRiskSnapshot — upsert снимка риск-состояния по дню сессии.
func (r *Repository) SaveRiskSnapshot(ctx context.Context, s models.RiskSnapshot) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Repository.SaveRiskSnapshot: %w", err)
		}
	}()

	payload, err := sonic.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "marshal snapshot")
	}

	return r.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, `
			INSERT INTO risk_snapshots (session_date, snapshot, taken_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (session_date) DO UPDATE SET snapshot = $2, taken_at = $3`,
			s.SessionDate, payload, s.TakenAt,
		)
		return err
	})
}

// LoadRiskSnapshot возвращает (snapshot, found, err).
func (r *Repository) LoadRiskSnapshot(ctx context.Context, sessionDate string) (s models.RiskSnapshot, found bool, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Repository.LoadRiskSnapshot: %w", err)
		}
	}()

	var payload []byte
	err = r.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		err := tx.QueryRow(ctxTx,
			`SELECT snapshot FROM risk_snapshots WHERE session_date = $1`, sessionDate,
		).Scan(&payload)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	})
	if err != nil || payload == nil {
		return models.RiskSnapshot{}, false, err
	}

	if err = sonic.Unmarshal(payload, &s); err != nil {
		return models.RiskSnapshot{}, false, errors.Wrap(err, "unmarshal snapshot")
	}
	return s, true, nil
}
