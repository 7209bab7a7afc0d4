package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"

	"gap_trader/internal/events"
	"gap_trader/internal/models"
	"gap_trader/internal/modules/config"
	"gap_trader/internal/modules/executor/service"
	risk "gap_trader/internal/modules/risk/service"
	"gap_trader/internal/repository"
	"gap_trader/pkg/logger"
)

// Module поднимает движок исполнения и цикл допуска:
// сигналы сканера -> риск-контроллер -> вход.
func Module() fx.Option {
	return fx.Module("executor",
		fx.Provide(
			func(r *repository.Repository) service.Store { return r },
			service.NewEngine,
		),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, e *service.Engine, rm *risk.Manager, bus *events.Bus, signals chan models.GapSignal) {
			loopCtx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					if err := e.Restore(ctx); err != nil {
						return err
					}
					go admissionLoop(loopCtx, cfg, e, rm, bus, signals)
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

// admissionLoop сериализует допуск: один сигнал за раз, в порядке прихода.
// Риск-оценка синхронная, само исполнение уходит в горутину: ожидание
// заполнения у брокера (до order_timeout) не должно держать очередь.
// Слот уже забронирован в Evaluate, гонок по капиталу нет.
func admissionLoop(ctx context.Context, cfg *config.Config, e *service.Engine, rm *risk.Manager, bus *events.Bus, signals <-chan models.GapSignal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			quoteAge := time.Since(sig.DetectedAt)
			decision := rm.Evaluate(ctx, sig, quoteAge)
			if !decision.Approved {
				continue
			}

			if cfg.Executor.ManualApproval {
				bus.Publish(models.Event{
					Type:     models.EventApprovalRequired,
					Symbol:   sig.Symbol,
					SignalID: sig.ID,
					Message: fmt.Sprintf("%s x%d @ %.2f | SL %.2f / TP %.2f",
						sig.Symbol, decision.Quantity, decision.EntryPrice,
						decision.StopLoss, decision.Target),
				})
				go func(sig models.GapSignal, d models.RiskDecision) {
					if !e.AwaitApproval(ctx, sig.ID, cfg.Executor.ApprovalTimeout) {
						rm.ReleaseSlot(sig.Symbol)
						logger.Info("executor: signal %s %s not approved by operator, slot released", sig.Symbol, sig.ID)
						bus.Publish(models.Event{
							Type:     models.EventSignalRejected,
							Symbol:   sig.Symbol,
							SignalID: sig.ID,
							Reason:   "OPERATOR_REJECTED",
						})
						return
					}
					if err := e.Execute(ctx, sig, d); err != nil {
						logger.Error("executor: execute %s: %v", sig.Symbol, err)
					}
				}(sig, decision)
				continue
			}

			go func(sig models.GapSignal, d models.RiskDecision) {
				if err := e.Execute(ctx, sig, d); err != nil {
					logger.Error("executor: execute %s: %v", sig.Symbol, err)
				}
			}(sig, decision)
		}
	}
}
