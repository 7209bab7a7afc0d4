package risk

import (
	"context"
	"time"

	"go.uber.org/fx"

	"gap_trader/internal/modules/risk/service"
	"gap_trader/internal/repository"
	"gap_trader/pkg/logger"
)

// Module поднимает контроллер допуска: восстановление состояния на старте
// и периодический сброс снимка в базу.
func Module() fx.Option {
	return fx.Module("risk",
		fx.Provide(
			func(r *repository.Repository) service.Store { return r },
			service.NewManager,
		),
		fx.Invoke(func(lc fx.Lifecycle, m *service.Manager) {
			loopCtx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					if err := m.Restore(ctx); err != nil {
						return err
					}
					go persistLoop(loopCtx, m)
					return nil
				},
				OnStop: func(ctx context.Context) error {
					cancel()
					return m.Persist(ctx)
				},
			})
		}),
	)
}

func persistLoop(ctx context.Context, m *service.Manager) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Persist(ctx); err != nil {
				logger.Error("risk: persist snapshot: %v", err)
			}
		}
	}
}
