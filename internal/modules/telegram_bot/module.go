package telegram

import (
	"context"

	"go.uber.org/fx"

	"gap_trader/internal/events"
	"gap_trader/internal/models"
	"gap_trader/internal/modules/config"
	executor "gap_trader/internal/modules/executor/service"
	risk "gap_trader/internal/modules/risk/service"
	"gap_trader/internal/modules/telegram_bot/service"
	"gap_trader/pkg/logger"
)

func Module() fx.Option {
	return fx.Module("telegram",
		fx.Invoke(func(
			lc fx.Lifecycle,
			cfg *config.Config,
			rm *risk.Manager,
			engine *executor.Engine,
			bus *events.Bus,
			commands chan models.Command,
		) error {
			if cfg.Telegram.Token == "" {
				// без токена работаем молча, только логи
				logger.Warn("telegram: no token configured, bot disabled")
				return nil
			}

			t, err := service.NewTelegram(cfg, rm, engine, bus, commands)
			if err != nil {
				return err
			}

			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					t.Start(context.Background())
					return nil
				},
				OnStop: func(_ context.Context) error {
					t.Stop()
					return nil
				},
			})
			return nil
		}),
	)
}
