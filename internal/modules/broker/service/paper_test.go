package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gap_trader/internal/models"
	mdata "gap_trader/internal/modules/marketdata/service"
)

func paperSetup(symbol string, price float64) (*PaperGateway, *mdata.SimFeed) {
	feed := mdata.NewSimFeed()
	feed.SetPrice(symbol, price)
	return NewPaperGateway(feed), feed
}

func TestPaperGateway_MarketFillsInstantly(t *testing.T) {
	g, _ := paperSetup("RELIANCE", 2450)

	ack, err := g.PlaceOrder(context.Background(), models.OrderSpec{
		Symbol:   "RELIANCE",
		Type:     models.OrderTypeMarket,
		Side:     models.SideBuy,
		Quantity: 4,
	}, "entry:s1")

	require.NoError(t, err)
	assert.Equal(t, models.OrderComplete, ack.Status)

	st, fill, err := g.OrderStatus(context.Background(), ack.BrokerOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderComplete, st)
	assert.Equal(t, int64(4), fill.FilledQty)
	assert.InDelta(t, 2450.0, fill.AveragePrice, 1e-9)
	assert.True(t, fill.Complete)
}

func TestPaperGateway_IdempotencyKeyDedups(t *testing.T) {
	g, _ := paperSetup("RELIANCE", 2450)
	spec := models.OrderSpec{
		Symbol:   "RELIANCE",
		Type:     models.OrderTypeMarket,
		Side:     models.SideBuy,
		Quantity: 4,
	}

	first, err := g.PlaceOrder(context.Background(), spec, "entry:s1")
	require.NoError(t, err)
	second, err := g.PlaceOrder(context.Background(), spec, "entry:s1")
	require.NoError(t, err)

	assert.Equal(t, first.BrokerOrderID, second.BrokerOrderID)

	// другой ключ — другой ордер
	third, err := g.PlaceOrder(context.Background(), spec, "entry:s2")
	require.NoError(t, err)
	assert.NotEqual(t, first.BrokerOrderID, third.BrokerOrderID)
}

func TestPaperGateway_RejectsNonPositiveQty(t *testing.T) {
	g, _ := paperSetup("RELIANCE", 2450)

	_, err := g.PlaceOrder(context.Background(), models.OrderSpec{
		Symbol: "RELIANCE",
		Type:   models.OrderTypeMarket,
		Side:   models.SideBuy,
	}, "entry:s1")

	require.Error(t, err)
	assert.False(t, IsRetryable(err))
}

func TestPaperGateway_MarketWithoutQuoteIsRetryable(t *testing.T) {
	g, _ := paperSetup("RELIANCE", 2450)

	_, err := g.PlaceOrder(context.Background(), models.OrderSpec{
		Symbol:   "TCS", // нет котировки
		Type:     models.OrderTypeMarket,
		Side:     models.SideBuy,
		Quantity: 1,
	}, "entry:s1")

	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestPaperGateway_StopTriggersOnCross(t *testing.T) {
	g, feed := paperSetup("RELIANCE", 2450)

	ack, err := g.PlaceOrder(context.Background(), models.OrderSpec{
		Symbol:       "RELIANCE",
		Type:         models.OrderTypeSLM,
		Side:         models.SideSell,
		Quantity:     4,
		TriggerPrice: 2327.50,
	}, "STOP:t1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderPlaced, ack.Status)

	// цена выше триггера — стоп спит
	st, _, err := g.OrderStatus(context.Background(), ack.BrokerOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPlaced, st)

	// упала до триггера — исполнение по рынку
	feed.SetPrice("RELIANCE", 2320)
	st, fill, err := g.OrderStatus(context.Background(), ack.BrokerOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderComplete, st)
	assert.InDelta(t, 2320.0, fill.AveragePrice, 1e-9)
	assert.Equal(t, int64(4), fill.FilledQty)
}

func TestPaperGateway_BuyStopTriggersOnRise(t *testing.T) {
	g, feed := paperSetup("RELIANCE", 2450)

	ack, err := g.PlaceOrder(context.Background(), models.OrderSpec{
		Symbol:       "RELIANCE",
		Type:         models.OrderTypeSLM,
		Side:         models.SideBuy,
		Quantity:     4,
		TriggerPrice: 2572.50,
	}, "STOP:t1")
	require.NoError(t, err)

	feed.SetPrice("RELIANCE", 2580)
	st, _, err := g.OrderStatus(context.Background(), ack.BrokerOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderComplete, st)
}

func TestPaperGateway_LimitFillsAtLimitPrice(t *testing.T) {
	g, feed := paperSetup("RELIANCE", 2450)

	ack, err := g.PlaceOrder(context.Background(), models.OrderSpec{
		Symbol:   "RELIANCE",
		Type:     models.OrderTypeLimit,
		Side:     models.SideSell,
		Quantity: 4,
		Price:    2695,
	}, "TARGET:t1")
	require.NoError(t, err)

	st, _, err := g.OrderStatus(context.Background(), ack.BrokerOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPlaced, st)

	feed.SetPrice("RELIANCE", 2700)
	st, fill, err := g.OrderStatus(context.Background(), ack.BrokerOrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderComplete, st)
	// тейк исполняется по цене лимита, не по рынку
	assert.InDelta(t, 2695.0, fill.AveragePrice, 1e-9)
}

func TestPaperGateway_CancelFinalStatusIsNoop(t *testing.T) {
	g, feed := paperSetup("RELIANCE", 2450)

	pending, err := g.PlaceOrder(context.Background(), models.OrderSpec{
		Symbol:       "RELIANCE",
		Type:         models.OrderTypeSLM,
		Side:         models.SideSell,
		Quantity:     4,
		TriggerPrice: 2327.50,
	}, "STOP:t1")
	require.NoError(t, err)

	require.NoError(t, g.CancelOrder(context.Background(), pending.BrokerOrderID))
	st, _, _ := g.OrderStatus(context.Background(), pending.BrokerOrderID)
	assert.Equal(t, models.OrderCancelled, st)

	// отменённый триггер больше не исполняется
	feed.SetPrice("RELIANCE", 2000)
	st, _, _ = g.OrderStatus(context.Background(), pending.BrokerOrderID)
	assert.Equal(t, models.OrderCancelled, st)

	// исполненный маркет не отменить, но это не ошибка
	filled, err := g.PlaceOrder(context.Background(), models.OrderSpec{
		Symbol:   "RELIANCE",
		Type:     models.OrderTypeMarket,
		Side:     models.SideBuy,
		Quantity: 1,
	}, "entry:s1")
	require.NoError(t, err)
	require.NoError(t, g.CancelOrder(context.Background(), filled.BrokerOrderID))
	st, _, _ = g.OrderStatus(context.Background(), filled.BrokerOrderID)
	assert.Equal(t, models.OrderComplete, st)

	assert.Error(t, g.CancelOrder(context.Background(), "missing"))
}
