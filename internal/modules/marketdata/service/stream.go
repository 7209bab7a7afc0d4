package service

import (
	"context"
	"time"

	"github.com/bytedance/sonic"

	"gap_trader/internal/models"
	"gap_trader/pkg/logger"
)

// StreamQuotes держит одно WS-соединение на весь watchlist и пишет тики в кэш.
// Переподключение с нарастающей паузой, ping каждые 20s — иначе провайдер
// рвёт соединение по таймауту.
func (c *Client) StreamQuotes(ctx context.Context) {
	if len(c.watch) == 0 {
		logger.Warn("marketdata: empty watchlist, quote stream not started")
		return
	}

	retry := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := c.wsDialer.Dial(c.cfg.MarketData.WSURL, nil)
		if err != nil {
			retry++
			logger.Error("marketdata: ws dial: %v (retry %d)", err, retry)
			sleepCtx(ctx, backoff(retry))
			continue
		}
		retry = 0

		sub := map[string]any{
			"op":      "subscribe",
			"symbols": c.watch,
		}
		if err := conn.WriteJSON(sub); err != nil {
			logger.Error("marketdata: ws subscribe: %v", err)
			_ = conn.Close()
			continue
		}
		logger.Info("marketdata: ws stream up, %d symbols", len(c.watch))
		c.connState(true)

		stopPing := make(chan struct{})
		go func() {
			t := time.NewTicker(20 * time.Second)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-stopPing:
					return
				case <-t.C:
					_ = conn.WriteJSON(map[string]string{"op": "ping"})
				}
			}
		}()

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				logger.Error("marketdata: ws read: %v", err)
				c.connState(false)
				close(stopPing)
				_ = conn.Close()
				break
			}

			var frame struct {
				Channel string `json:"channel"`
				Data    struct {
					Symbol    string  `json:"symbol"`
					LastPrice float64 `json:"last_price"`
					Volume    int64   `json:"volume"`
					Timestamp int64   `json:"ts"` // ms
				} `json:"data"`
			}
			if err := sonic.Unmarshal(msg, &frame); err != nil {
				continue
			}
			if frame.Channel != "quote" || frame.Data.LastPrice <= 0 {
				continue
			}

			c.cache.Set(models.Quote{
				Symbol:    frame.Data.Symbol,
				Price:     frame.Data.LastPrice,
				Volume:    frame.Data.Volume,
				Timestamp: time.UnixMilli(frame.Data.Timestamp),
			})
		}

		select {
		case <-ctx.Done():
			return
		default:
			sleepCtx(ctx, time.Second)
		}
	}
}

func (c *Client) connState(up bool) {
	if c.OnConnState != nil {
		c.OnConnState(up)
	}
}

func backoff(retry int) time.Duration {
	d := time.Duration(300*retry) * time.Millisecond
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
