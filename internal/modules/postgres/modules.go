package postgres

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"gap_trader/internal/modules/config"
	"gap_trader/pkg/db"
)

func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			func(cfg *config.Config) (db.TxManager, error) {
				ctx := context.Background()
				pool, err := db.NewPool(ctx, db.PoolConfig{
					DSN: cfg.DB,
				})
				if err != nil {
					return nil, fmt.Errorf("failed to create pool: %w", err)
				}

				if err = pool.Ping(ctx); err != nil {
					return nil, err
				}

				return db.NewPgTxManager(pool), nil
			},
		),
	)
}
