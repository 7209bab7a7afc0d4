package marketdata

import (
	"context"

	"go.uber.org/fx"

	"gap_trader/internal/modules/config"
	healthsvc "gap_trader/internal/modules/health/service"
	"gap_trader/internal/modules/marketdata/service"
)

// Module поднимает фид котировок: живой REST+WS клиент, либо SimFeed,
// когда провайдер не сконфигурирован (офлайн paper-режим).
func Module() fx.Option {
	return fx.Module("marketdata",
		fx.Provide(
			func(cfg *config.Config) (service.Watchlist, error) {
				return service.LoadWatchlist(cfg.Scanner.WatchlistFile)
			},
			func(cfg *config.Config) *service.QuoteCache {
				return service.NewQuoteCache(cfg.MarketData.StaleAfter)
			},
			service.NewClient,
			func(cfg *config.Config, c *service.Client) service.Feed {
				if cfg.MarketData.BaseURL == "" {
					return service.NewSimFeed()
				}
				return c
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, c *service.Client, st *healthsvc.State) {
			if cfg.MarketData.WSURL == "" {
				return
			}
			c.OnConnState = st.SetFeedConnected
			streamCtx, cancel := context.WithCancel(context.Background())
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					go c.StreamQuotes(streamCtx)
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
