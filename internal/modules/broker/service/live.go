package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"

	"gap_trader/internal/models"
	"gap_trader/internal/modules/config"
)

// LiveGateway — подписанный REST-клиент брокера.
type LiveGateway struct {
	cfg       *config.Config
	http      *http.Client
	apiKey    string
	apiSecret string
}

func NewLiveGateway(cfg *config.Config) *LiveGateway {
	return &LiveGateway{
		cfg:       cfg,
		http:      &http.Client{Timeout: 10 * time.Second},
		apiKey:    cfg.Broker.APIKey,
		apiSecret: cfg.Broker.APISecret,
	}
}

type placeOrderRequest struct {
	Symbol       string  `json:"symbol"`
	Type         string  `json:"order_type"`
	Side         string  `json:"side"`
	Quantity     int64   `json:"quantity"`
	Price        float64 `json:"price,omitempty"`
	TriggerPrice float64 `json:"trigger_price,omitempty"`
	Tag          string  `json:"tag,omitempty"`
	ClientKey    string  `json:"client_key"`
}

type orderResponse struct {
	Status string `json:"status"` // "ok" | "error"
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Data   struct {
		OrderID      string  `json:"order_id"`
		OrderStatus  string  `json:"order_status"`
		FilledQty    int64   `json:"filled_qty"`
		AveragePrice float64 `json:"average_price"`
	} `json:"data"`
}

func (g *LiveGateway) PlaceOrder(ctx context.Context, spec models.OrderSpec, key string) (ack models.OrderAck, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("LiveGateway.PlaceOrder: %w", err)
		}
	}()

	req := placeOrderRequest{
		Symbol:       spec.Symbol,
		Type:         string(spec.Type),
		Side:         string(spec.Side),
		Quantity:     spec.Quantity,
		Price:        spec.Price,
		TriggerPrice: spec.TriggerPrice,
		Tag:          spec.Tag,
		ClientKey:    key,
	}

	var resp orderResponse
	if err = g.signedCall(ctx, http.MethodPost, "/v1/orders", req, &resp); err != nil {
		return models.OrderAck{}, err
	}
	if resp.Status != "ok" {
		return models.OrderAck{}, brokerError(resp.Code, resp.Msg)
	}
	return models.OrderAck{
		BrokerOrderID: resp.Data.OrderID,
		Status:        models.OrderStatus(resp.Data.OrderStatus),
		AcceptedAt:    time.Now(),
	}, nil
}

func (g *LiveGateway) CancelOrder(ctx context.Context, brokerOrderID string) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("LiveGateway.CancelOrder: %w", err)
		}
	}()

	var resp orderResponse
	if err = g.signedCall(ctx, http.MethodDelete, "/v1/orders/"+brokerOrderID, nil, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		// уже исполнен/отменён — не считаем отказом
		if resp.Code == "ORDER_FINAL" {
			return nil
		}
		return brokerError(resp.Code, resp.Msg)
	}
	return nil
}

func (g *LiveGateway) OrderStatus(ctx context.Context, brokerOrderID string) (st models.OrderStatus, fill models.FillEvent, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("LiveGateway.OrderStatus: %w", err)
		}
	}()

	var resp orderResponse
	if err = g.signedCall(ctx, http.MethodGet, "/v1/orders/"+brokerOrderID, nil, &resp); err != nil {
		return "", models.FillEvent{}, err
	}
	if resp.Status != "ok" {
		return "", models.FillEvent{}, brokerError(resp.Code, resp.Msg)
	}

	st = models.OrderStatus(resp.Data.OrderStatus)
	fill = models.FillEvent{
		BrokerOrderID: brokerOrderID,
		FilledQty:     resp.Data.FilledQty,
		AveragePrice:  resp.Data.AveragePrice,
		Complete:      st == models.OrderComplete,
		At:            time.Now(),
	}
	return st, fill, nil
}

func (g *LiveGateway) signedCall(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = sonic.Marshal(body)
		if err != nil {
			return err
		}
	}

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	mac := hmac.New(sha256.New, []byte(g.apiSecret))
	mac.Write([]byte(ts + method + path))
	mac.Write(payload)
	sign := hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequestWithContext(ctx, method, g.cfg.Broker.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", g.apiKey)
	req.Header.Set("X-TIMESTAMP", ts)
	req.Header.Set("X-SIGNATURE", sign)

	resp, err := g.http.Do(req)
	if err != nil {
		return &GatewayError{Code: "NETWORK", Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &GatewayError{Code: "NETWORK", Message: err.Error(), Retryable: true}
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return &GatewayError{
			Code:      "HTTP_" + strconv.Itoa(resp.StatusCode),
			Message:   string(raw),
			Retryable: true,
		}
	}
	if resp.StatusCode != http.StatusOK {
		return &GatewayError{
			Code:      "HTTP_" + strconv.Itoa(resp.StatusCode),
			Message:   string(raw),
			Retryable: false,
		}
	}
	return sonic.Unmarshal(raw, out)
}

// brokerError мапит коды брокера на ретраибельность.
func brokerError(code, msg string) error {
	switch code {
	case "THROTTLED", "EXCHANGE_BUSY", "TIMEOUT":
		return &GatewayError{Code: code, Message: msg, Retryable: true}
	default:
		return &GatewayError{Code: code, Message: msg, Retryable: false}
	}
}
