package service

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"gap_trader/internal/models"
	"gap_trader/internal/modules/config"
)

// Client — REST+WS клиент провайдера рыночных данных.
type Client struct {
	cfg      *config.Config
	http     *http.Client
	wsDialer *websocket.Dialer
	cache    *QuoteCache
	watch    []string

	// OnConnState дёргается при подъёме/обрыве WS-стрима
	OnConnState func(bool)
}

func NewClient(cfg *config.Config, cache *QuoteCache, watch Watchlist) *Client {
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.MarketData.RequestTimeout},
		wsDialer: &websocket.Dialer{},
		cache:    cache,
		watch:    watch.Symbols(),
	}
}

func (c *Client) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	now := time.Now()
	if q, ok, fresh := c.cache.Get(symbol, now); ok {
		if !fresh {
			return models.Quote{}, errors.Wrap(ErrStaleData, symbol)
		}
		return q, nil
	}

	// кэш пустой (WS ещё не прогрелся) — добираем по REST
	q, err := c.fetchQuote(ctx, symbol)
	if err != nil {
		return models.Quote{}, err
	}
	c.cache.Set(q)
	return q, nil
}

func (c *Client) fetchQuote(ctx context.Context, symbol string) (q models.Quote, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Client.fetchQuote: %w", err)
		}
	}()

	var resp struct {
		Symbol    string  `json:"symbol"`
		LastPrice float64 `json:"last_price"`
		Volume    int64   `json:"volume"`
		Timestamp int64   `json:"ts"` // ms
	}
	if err = c.getJSON(ctx, "/v1/quote?symbol="+url.QueryEscape(symbol), &resp); err != nil {
		return models.Quote{}, err
	}
	if resp.LastPrice <= 0 {
		return models.Quote{}, errors.Wrap(ErrNoQuote, symbol)
	}
	return models.Quote{
		Symbol:    symbol,
		Price:     resp.LastPrice,
		Volume:    resp.Volume,
		Timestamp: time.UnixMilli(resp.Timestamp),
	}, nil
}

func (c *Client) GapInputs(ctx context.Context, symbol string) (gi models.GapInputs, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Client.GapInputs: %w", err)
		}
	}()

	var resp struct {
		Symbol    string  `json:"symbol"`
		PrevClose float64 `json:"prev_close"`
		Open      float64 `json:"open"`
		AvgVolume float64 `json:"avg_volume"`
	}
	if err = c.getJSON(ctx, "/v1/daily?symbol="+url.QueryEscape(symbol), &resp); err != nil {
		return models.GapInputs{}, err
	}
	if resp.PrevClose <= 0 || resp.Open <= 0 {
		return models.GapInputs{}, errors.Errorf("empty daily bar for %s", symbol)
	}
	return models.GapInputs{
		Symbol:    symbol,
		PreClose:  resp.PrevClose,
		PostOpen:  resp.Open,
		AvgVolume: resp.AvgVolume,
	}, nil
}

func (c *Client) EarningsCalendar(ctx context.Context, day time.Time) (events []models.EarningsEvent, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("Client.EarningsCalendar: %w", err)
		}
	}()

	var resp struct {
		Events []struct {
			Symbol      string   `json:"symbol"`
			Company     string   `json:"company"`
			Date        string   `json:"date"` // "2006-01-02"
			ExpectedEPS *float64 `json:"expected_eps"`
			ActualEPS   *float64 `json:"actual_eps"`
		} `json:"events"`
	}
	if err = c.getJSON(ctx, "/v1/earnings?date="+day.Format("2006-01-02"), &resp); err != nil {
		return nil, err
	}

	events = make([]models.EarningsEvent, 0, len(resp.Events))
	for _, e := range resp.Events {
		d, perr := time.Parse("2006-01-02", e.Date)
		if perr != nil {
			continue
		}
		evt := models.EarningsEvent{
			Symbol:       e.Symbol,
			CompanyName:  e.Company,
			EarningsDate: d,
		}
		if e.ExpectedEPS != nil && e.ActualEPS != nil && *e.ExpectedEPS != 0 {
			evt.ExpectedEPS = *e.ExpectedEPS
			evt.ActualEPS = *e.ActualEPS
			evt.SurprisePercent = (*e.ActualEPS - *e.ExpectedEPS) / absf(*e.ExpectedEPS) * 100
			evt.HasSurprise = true
		}
		events = append(events, evt)
	}
	return events, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.MarketData.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("http %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return sonic.Unmarshal(body, out)
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
