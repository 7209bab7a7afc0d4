package monitor

import (
	"context"

	"go.uber.org/fx"

	"gap_trader/internal/models"
	"gap_trader/internal/modules/monitor/service"
)

func Module() fx.Option {
	return fx.Module("monitor",
		fx.Provide(
			func() chan models.Command {
				// очередь команд от бота/оператора
				return make(chan models.Command, 16)
			},
			service.NewMonitor,
		),
		fx.Invoke(func(lc fx.Lifecycle, m *service.Monitor) {
			loopCtx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go m.Run(loopCtx)
					return nil
				},
				OnStop: func(_ context.Context) error {
					cancel()
					return nil
				},
			})
		}),
	)
}
