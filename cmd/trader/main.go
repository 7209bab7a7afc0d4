package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"gap_trader/internal/events"
	"gap_trader/internal/modules/broker"
	"gap_trader/internal/modules/config"
	"gap_trader/internal/modules/executor"
	"gap_trader/internal/modules/health"
	"gap_trader/internal/modules/marketdata"
	"gap_trader/internal/modules/monitor"
	"gap_trader/internal/modules/postgres"
	"gap_trader/internal/modules/risk"
	"gap_trader/internal/modules/scanner"
	telegram "gap_trader/internal/modules/telegram_bot"
	"gap_trader/internal/repository"
	"gap_trader/pkg/logger"
	"gap_trader/pkg/tracing"
)

func main() {
	// .env опционален: в проде всё приходит из окружения
	_ = godotenv.Load()

	if err := logger.Init("info"); err != nil {
		log.Fatal(err)
	}
	logger.SetServiceName("gap-trader")

	app := fx.New(
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config) error {
			_, closeTracer, err := tracing.InitTracer(tracing.Config{
				Host: cfg.JaegerHost,
				Port: cfg.JaegerPort,
			})
			if err != nil {
				logger.Warn("tracing disabled: %v", err)
				return nil
			}
			lc.Append(fx.Hook{OnStop: func(_ context.Context) error {
				closeTracer()
				return nil
			}})
			return nil
		}),
		config.Module(),
		postgres.Module(),
		repository.Module(),
		events.Module(),
		marketdata.Module(),
		broker.Module(),
		risk.Module(),
		scanner.Module(),
		executor.Module(),
		monitor.Module(),
		health.Module(),
		telegram.Module(),
	)
	app.Run()
}
