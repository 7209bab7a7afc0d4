package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gap_trader/internal/events"
	"gap_trader/internal/models"
	broker "gap_trader/internal/modules/broker/service"
	"gap_trader/internal/modules/config"
	risk "gap_trader/internal/modules/risk/service"
)

// fakeGateway — брокер в памяти с управляемыми отказами.
type fakeGateway struct {
	mu             sync.Mutex
	fillPrice      float64
	byKey          map[string]string // idempotency key -> brokerID
	placeCalls     []string          // ключи в порядке обращения
	transientFails map[string]int    // key -> сколько раз падать транзиентно
	fatalKeys      map[string]bool
	partialFills   map[string]int64  // key -> застрять на частичном филле этого объёма
	statuses       map[string]models.OrderStatus
	fills          map[string]models.FillEvent
	cancelled      []string
	nextID         int
}

func newFakeGateway(fillPrice float64) *fakeGateway {
	return &fakeGateway{
		fillPrice:      fillPrice,
		byKey:          make(map[string]string),
		transientFails: make(map[string]int),
		fatalKeys:      make(map[string]bool),
		partialFills:   make(map[string]int64),
		statuses:       make(map[string]models.OrderStatus),
		fills:          make(map[string]models.FillEvent),
	}
}

func (g *fakeGateway) PlaceOrder(_ context.Context, spec models.OrderSpec, key string) (models.OrderAck, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.placeCalls = append(g.placeCalls, key)

	if id, ok := g.byKey[key]; ok {
		return models.OrderAck{BrokerOrderID: id, Status: g.statuses[id]}, nil
	}
	if g.fatalKeys[key] {
		return models.OrderAck{}, &broker.GatewayError{Code: "BAD_SYMBOL", Message: "rejected", Retryable: false}
	}
	if g.transientFails[key] > 0 {
		g.transientFails[key]--
		return models.OrderAck{}, &broker.GatewayError{Code: "TIMEOUT", Message: "busy", Retryable: true}
	}

	g.nextID++
	id := fmt.Sprintf("b%d", g.nextID)
	g.byKey[key] = id

	if qty, ok := g.partialFills[key]; ok {
		g.statuses[id] = models.OrderPartial
		g.fills[id] = models.FillEvent{
			BrokerOrderID: id,
			Symbol:        spec.Symbol,
			FilledQty:     qty,
			AveragePrice:  g.fillPrice,
		}
		return models.OrderAck{BrokerOrderID: id, Status: g.statuses[id]}, nil
	}

	if spec.Type == models.OrderTypeMarket {
		g.statuses[id] = models.OrderComplete
		g.fills[id] = models.FillEvent{
			BrokerOrderID: id,
			Symbol:        spec.Symbol,
			FilledQty:     spec.Quantity,
			AveragePrice:  g.fillPrice,
			Complete:      true,
		}
	} else {
		g.statuses[id] = models.OrderPlaced
	}
	return models.OrderAck{BrokerOrderID: id, Status: g.statuses[id]}, nil
}

func (g *fakeGateway) CancelOrder(_ context.Context, brokerOrderID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, brokerOrderID)
	g.statuses[brokerOrderID] = models.OrderCancelled
	return nil
}

func (g *fakeGateway) OrderStatus(_ context.Context, brokerOrderID string) (models.OrderStatus, models.FillEvent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statuses[brokerOrderID], g.fills[brokerOrderID], nil
}

// completeOrder симулирует исполнение отложенного ордера на бирже.
func (g *fakeGateway) completeOrder(brokerOrderID string, qty int64, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[brokerOrderID] = models.OrderComplete
	g.fills[brokerOrderID] = models.FillEvent{
		BrokerOrderID: brokerOrderID,
		FilledQty:     qty,
		AveragePrice:  price,
		Complete:      true,
	}
}

func (g *fakeGateway) callsFor(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, k := range g.placeCalls {
		if k == key {
			n++
		}
	}
	return n
}

// fakeExecStore — репозиторий движка в памяти.
type fakeExecStore struct {
	mu     sync.Mutex
	trades map[string]*models.Trade
	orders map[string][]*models.Order
}

func newFakeExecStore() *fakeExecStore {
	return &fakeExecStore{
		trades: make(map[string]*models.Trade),
		orders: make(map[string][]*models.Order),
	}
}

func (f *fakeExecStore) SaveTrade(_ context.Context, t *models.Trade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *t
	f.trades[t.ID] = &cp
	return nil
}

func (f *fakeExecStore) UpdateTrade(ctx context.Context, t *models.Trade) error {
	return f.SaveTrade(ctx, t)
}

func (f *fakeExecStore) SaveOrder(_ context.Context, o *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *o
	f.orders[o.TradeID] = append(f.orders[o.TradeID], &cp)
	return nil
}

func (f *fakeExecStore) UpdateOrder(_ context.Context, o *models.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.orders[o.TradeID] {
		if existing.ID == o.ID {
			cp := *o
			f.orders[o.TradeID][i] = &cp
			return nil
		}
	}
	return nil
}

func (f *fakeExecStore) OpenTrades(_ context.Context) ([]*models.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Trade
	for _, t := range f.trades {
		if t.Status == models.TradePending || t.Status == models.TradeOpen {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeExecStore) OrdersByTrade(_ context.Context, tradeID string) ([]*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[tradeID], nil
}

func (f *fakeExecStore) tradeStatus(tradeID string) models.TradeStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.trades[tradeID]; ok {
		return t.Status
	}
	return ""
}

// riskStoreStub — минимальный Store для риск-менеджера в тестах движка.
type riskStoreStub struct{}

func (riskStoreStub) SaveSignal(context.Context, models.GapSignal) error     { return nil }
func (riskStoreStub) SaveDecision(context.Context, models.RiskDecision) error { return nil }
func (riskStoreStub) SignalIDsSince(context.Context, time.Time) ([]string, error) {
	return nil, nil
}
func (riskStoreStub) OpenTrades(context.Context) ([]*models.Trade, error) { return nil, nil }
func (riskStoreStub) ClosedTradePnls(context.Context, string) ([]models.ClosedPnl, error) {
	return nil, nil
}
func (riskStoreStub) SaveRiskSnapshot(context.Context, models.RiskSnapshot) error { return nil }
func (riskStoreStub) LoadRiskSnapshot(context.Context, string) (models.RiskSnapshot, bool, error) {
	return models.RiskSnapshot{}, false, nil
}

func engineConfig() *config.Config {
	return &config.Config{
		MarketData: config.MarketDataConfig{StaleAfter: time.Minute},
		Risk: config.RiskConfig{
			Capital:             100000,
			SizingMethod:        "fixed_amount",
			FixedAmount:         10000,
			StopLossPct:         0.05,
			TargetPct:           0.10,
			MinFillRatio:        0.5,
			DailyLossLimit:      5000,
			MaxOpenPositions:    5,
			MaxConcentrationPct: 100,
			BreakerLossLimit:    5000,
			BreakerMaxLosses:    3,
			BreakerWindow:       time.Hour,
		},
		Executor: config.ExecutorConfig{
			MaxRetries:     3,
			RetryBackoff:   time.Millisecond,
			ExitMaxRetries: 2,
			ExitBackoff:    time.Millisecond,
			OrderTimeout:   time.Second,
		},
	}
}

func setupEngine(t *testing.T, fillPrice float64) (*Engine, *fakeGateway, *fakeExecStore, *risk.Manager) {
	t.Helper()
	cfg := engineConfig()
	gw := newFakeGateway(fillPrice)
	store := newFakeExecStore()
	rm := risk.NewManager(cfg, riskStoreStub{}, events.NewBus())
	e := NewEngine(cfg, gw, rm, store, events.NewBus())
	return e, gw, store, rm
}

func approvedSignal(rm *risk.Manager, id, symbol string, price float64) (models.GapSignal, models.RiskDecision) {
	sig := models.GapSignal{
		ID:           id,
		Symbol:       symbol,
		CurrentPrice: price,
		SignalType:   models.SignalGapUp,
		// средний скор: уровни без сдвигов по уверенности
		ConfidenceScore: 72,
		DetectedAt:      time.Now(),
	}
	return sig, rm.Evaluate(context.Background(), sig, 0)
}

func TestExecute_EntryFillOpensTradeAndPlacesOCO(t *testing.T) {
	e, gw, store, rm := setupEngine(t, 2450)
	sig, d := approvedSignal(rm, "s1", "RELIANCE", 2450)
	require.True(t, d.Approved)

	require.NoError(t, e.Execute(context.Background(), sig, d))

	open := e.OpenTradeSnapshots()
	require.Len(t, open, 1)
	trade := open[0]
	assert.Equal(t, models.TradeOpen, trade.Status)
	assert.Equal(t, d.Quantity, trade.Quantity)
	assert.InDelta(t, 2450.0, trade.EntryPrice, 1e-9)

	assert.Equal(t, 1, gw.callsFor("entry:s1"))
	assert.Equal(t, 1, gw.callsFor("STOP:"+trade.ID))
	assert.Equal(t, 1, gw.callsFor("TARGET:"+trade.ID))

	// в сторе: ENTRY complete, STOP и TARGET placed
	orders, _ := store.OrdersByTrade(context.Background(), trade.ID)
	require.Len(t, orders, 3)
}

func TestExecute_TransientRetryBoundReleasesSlot(t *testing.T) {
	e, gw, store, rm := setupEngine(t, 2450)
	sig, d := approvedSignal(rm, "s1", "RELIANCE", 2450)
	require.True(t, d.Approved)
	require.Equal(t, 1, rm.Snapshot().OpenPositions)

	gw.transientFails["entry:s1"] = 100 // падает всегда

	err := e.Execute(context.Background(), sig, d)

	require.Error(t, err)
	// 1 попытка + maxRetries ретраев
	assert.Equal(t, 4, gw.callsFor("entry:s1"))
	assert.Empty(t, e.OpenTradeSnapshots())
	assert.Equal(t, 0, rm.Snapshot().OpenPositions, "slot must be released")

	for id := range store.trades {
		assert.Equal(t, models.TradeCancelled, store.tradeStatus(id))
	}
}

func TestExecute_FatalErrorNoRetry(t *testing.T) {
	e, gw, _, rm := setupEngine(t, 2450)
	sig, d := approvedSignal(rm, "s1", "BOGUS", 2450)
	require.True(t, d.Approved)

	gw.fatalKeys["entry:s1"] = true

	err := e.Execute(context.Background(), sig, d)

	require.Error(t, err)
	assert.Equal(t, 1, gw.callsFor("entry:s1"), "fatal errors are not retried")
	assert.Equal(t, 0, rm.Snapshot().OpenPositions)
}

func TestExecute_PartialEntryBelowMinimumLiquidated(t *testing.T) {
	e, gw, store, rm := setupEngine(t, 2450)
	sig, d := approvedSignal(rm, "s1", "RELIANCE", 2450)
	require.True(t, d.Approved)
	require.Equal(t, int64(4), d.Quantity)

	// биржа дала 1 из 4 при min_fill_ratio 0.5 (минимум 2)
	gw.partialFills["entry:s1"] = 1

	err := e.Execute(context.Background(), sig, d)

	require.Error(t, err)
	assert.Empty(t, e.OpenTradeSnapshots())
	assert.Equal(t, 0, rm.Snapshot().OpenPositions, "slot must be released through close")

	var trade *models.Trade
	for _, tr := range store.trades {
		trade = tr
	}
	require.NotNil(t, trade)

	// купленная 1 акция не брошена у брокера: остаток снят, позиция
	// закрыта обычным exit-потоком
	assert.Contains(t, gw.cancelled, gw.byKey["entry:s1"])
	assert.Equal(t, 1, gw.callsFor("exit:"+trade.ID))
	assert.Equal(t, models.TradeClosed, trade.Status)
	assert.Equal(t, models.ExitPartialEntry, trade.ExitReason)
	assert.Equal(t, int64(1), trade.Quantity)
	assert.InDelta(t, 0.0, rm.Snapshot().DailyRealizedPnl, 1e-9)
}

func TestRequestExit_ExactlyOnce(t *testing.T) {
	e, gw, _, rm := setupEngine(t, 2450)
	sig, d := approvedSignal(rm, "s1", "RELIANCE", 2450)
	require.NoError(t, e.Execute(context.Background(), sig, d))
	tradeID := e.OpenTradeSnapshots()[0].ID

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.RequestExit(context.Background(), tradeID, models.ExitStop)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, gw.callsFor("exit:"+tradeID), "exactly one exit submission")
	assert.Empty(t, e.OpenTradeSnapshots())

	// повтор после закрытия — no-op
	require.NoError(t, e.RequestExit(context.Background(), tradeID, models.ExitStop))
	assert.Equal(t, 1, gw.callsFor("exit:"+tradeID))
}

func TestRequestExit_ProtectiveFillResolvesOCO(t *testing.T) {
	e, gw, _, rm := setupEngine(t, 2450)
	sig, d := approvedSignal(rm, "s1", "RELIANCE", 2450)
	require.NoError(t, e.Execute(context.Background(), sig, d))
	trade := e.OpenTradeSnapshots()[0]

	// стоп исполнился на бирже
	stopBrokerID := gw.byKey["STOP:"+trade.ID]
	targetBrokerID := gw.byKey["TARGET:"+trade.ID]
	gw.completeOrder(stopBrokerID, trade.Quantity, trade.StopLoss)

	require.NoError(t, e.RequestExit(context.Background(), trade.ID, models.ExitTimeout))

	// выход через стоп: market-ордер не ставится, парный тейк снят
	assert.Equal(t, 0, gw.callsFor("exit:"+trade.ID))
	assert.Contains(t, gw.cancelled, targetBrokerID)

	// убыток по стопу ушёл в риск-состояние
	snap := rm.Snapshot()
	assert.Equal(t, 0, snap.OpenPositions)
	expectedPnl := (trade.StopLoss - trade.EntryPrice) * float64(trade.Quantity)
	assert.InDelta(t, expectedPnl, snap.DailyRealizedPnl, 1e-6)
}

func TestRequestExit_ExhaustedKeepsTradeOpen(t *testing.T) {
	e, gw, _, rm := setupEngine(t, 2450)
	sig, d := approvedSignal(rm, "s1", "RELIANCE", 2450)
	require.NoError(t, e.Execute(context.Background(), sig, d))
	tradeID := e.OpenTradeSnapshots()[0].ID

	gw.transientFails["exit:"+tradeID] = 100

	err := e.RequestExit(context.Background(), tradeID, models.ExitStop)

	require.Error(t, err)
	// сделка остаётся OPEN: закрытие без подтверждённого филла запрещено
	require.Len(t, e.OpenTradeSnapshots(), 1)
	assert.Equal(t, 1, rm.Snapshot().OpenPositions)

	// in-flight флаг снят: следующая попытка возможна
	gw.transientFails["exit:"+tradeID] = 0
	require.NoError(t, e.RequestExit(context.Background(), tradeID, models.ExitStop))
	assert.Empty(t, e.OpenTradeSnapshots())
}

func TestRequestExit_FeeReducesRealizedPnl(t *testing.T) {
	e, _, store, rm := setupEngine(t, 2450)
	e.cfg.Executor.FeePerTrade = 20
	sig, d := approvedSignal(rm, "s1", "RELIANCE", 2450)
	require.NoError(t, e.Execute(context.Background(), sig, d))
	tradeID := e.OpenTradeSnapshots()[0].ID

	// вход и выход по одной цене: весь результат — комиссия
	require.NoError(t, e.RequestExit(context.Background(), tradeID, models.ExitManual))

	closed := store.trades[tradeID]
	require.NotNil(t, closed)
	assert.InDelta(t, -20.0, closed.RealizedPnl, 1e-9)
	assert.InDelta(t, 20.0, closed.Fees, 1e-9)
	assert.InDelta(t, -20.0, rm.Snapshot().DailyRealizedPnl, 1e-9)
}

func TestFillQualityBand(t *testing.T) {
	cases := []struct {
		slipPct float64
		want    string
	}{
		{0, "EXCELLENT"},
		{0.05, "EXCELLENT"},
		{0.08, "GOOD"},
		{0.15, "FAIR"},
		{0.4, "POOR"},
		{0.6, "VERY_POOR"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, fillQualityBand(tc.slipPct), "slip %.2f%%", tc.slipPct)
	}
}

func TestUpdatePrice_RefreshesUnrealizedPnl(t *testing.T) {
	e, _, _, rm := setupEngine(t, 2450)
	sig, d := approvedSignal(rm, "s1", "RELIANCE", 2450)
	require.NoError(t, e.Execute(context.Background(), sig, d))
	trade := e.OpenTradeSnapshots()[0]

	e.UpdatePrice(trade.ID, 2500)

	updated := e.OpenTradeSnapshots()[0]
	assert.InDelta(t, 2500.0, updated.CurrentPrice, 1e-9)
	assert.InDelta(t, 50.0*float64(trade.Quantity), updated.UnrealizedPnl, 1e-9)
}

func TestAwaitApproval_OperatorVerdict(t *testing.T) {
	e, _, _, _ := setupEngine(t, 2450)

	got := make(chan bool, 1)
	go func() { got <- e.AwaitApproval(context.Background(), "sig-man-1", time.Second) }()

	// ждём, пока горутина зарегистрирует ожидание
	require.Eventually(t, func() bool {
		return e.ResolveApproval("sig-man-1", true)
	}, time.Second, 5*time.Millisecond)

	require.True(t, <-got)
	// повторный вердикт по уже решённому сигналу никуда не попадает
	assert.False(t, e.ResolveApproval("sig-man-1", true))
}

func TestAwaitApproval_Timeout(t *testing.T) {
	e, _, _, _ := setupEngine(t, 2450)

	assert.False(t, e.AwaitApproval(context.Background(), "sig-man-2", 10*time.Millisecond))
	assert.False(t, e.ResolveApproval("sig-man-2", false))
}
