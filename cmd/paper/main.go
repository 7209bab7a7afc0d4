package main

import (
	"log"
	"os"

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
)

// paper — тот же пайплайн, но брокер всегда симулятор.
// Реальный капитал не участвует независимо от конфига.
func main() {
	_ = godotenv.Load()
	_ = os.Setenv("GAP_BROKER_PAPER", "true")

	if err := logger.Init("debug"); err != nil {
		log.Fatal(err)
	}
	logger.SetServiceName("gap-trader-paper")

	app := fx.New(
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
