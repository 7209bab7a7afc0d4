package scanner

import (
	"context"

	"go.uber.org/fx"

	"gap_trader/internal/models"
	healthsvc "gap_trader/internal/modules/health/service"
	"gap_trader/internal/modules/scanner/service"
)

// Module поднимает сканер гэпов и очередь сигналов в контроллер допуска.
func Module() fx.Option {
	return fx.Module("scanner",
		fx.Provide(
			func() service.ConfidenceScorer {
				return service.NewWeightedScorer()
			},
			func() chan models.GapSignal {
				// буфер очереди допуска
				return make(chan models.GapSignal, 64)
			},
			service.NewScanner,
		),
		fx.Invoke(func(lc fx.Lifecycle, s *service.Scanner, st *healthsvc.State) {
			s.OnScan = st.TouchScan
			loopCtx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go s.Run(loopCtx)
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
