package broker

import (
	"go.uber.org/fx"

	"gap_trader/internal/modules/broker/service"
	"gap_trader/internal/modules/config"
	mdata "gap_trader/internal/modules/marketdata/service"
	"gap_trader/pkg/logger"
)

func Module() fx.Option {
	return fx.Module("broker",
		fx.Provide(
			func(cfg *config.Config, feed mdata.Feed) service.Gateway {
				if cfg.Broker.Paper {
					logger.Info("broker: paper gateway")
					return service.NewPaperGateway(feed)
				}
				logger.Info("broker: live gateway %s", cfg.Broker.BaseURL)
				return service.NewLiveGateway(cfg)
			},
		),
	)
}
