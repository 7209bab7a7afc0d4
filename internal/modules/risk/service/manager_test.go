package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gap_trader/internal/events"
	"gap_trader/internal/models"
	"gap_trader/internal/modules/config"
)

// fakeStore — репозиторий в памяти для тестов менеджера.
type fakeStore struct {
	signals   []models.GapSignal
	decisions []models.RiskDecision
	trades    []*models.Trade
	pnls      []models.ClosedPnl
	snapshot  *models.RiskSnapshot
	failAll   bool
}

var errStoreDown = assert.AnError

func (f *fakeStore) SaveSignal(_ context.Context, s models.GapSignal) error {
	if f.failAll {
		return errStoreDown
	}
	f.signals = append(f.signals, s)
	return nil
}

func (f *fakeStore) SaveDecision(_ context.Context, d models.RiskDecision) error {
	if f.failAll {
		return errStoreDown
	}
	f.decisions = append(f.decisions, d)
	return nil
}

func (f *fakeStore) SignalIDsSince(_ context.Context, _ time.Time) ([]string, error) {
	var ids []string
	for _, d := range f.decisions {
		ids = append(ids, d.SignalID)
	}
	return ids, nil
}

func (f *fakeStore) OpenTrades(_ context.Context) ([]*models.Trade, error) {
	return f.trades, nil
}

func (f *fakeStore) ClosedTradePnls(_ context.Context, _ string) ([]models.ClosedPnl, error) {
	return f.pnls, nil
}

func (f *fakeStore) SaveRiskSnapshot(_ context.Context, s models.RiskSnapshot) error {
	f.snapshot = &s
	return nil
}

func (f *fakeStore) LoadRiskSnapshot(_ context.Context, _ string) (models.RiskSnapshot, bool, error) {
	if f.snapshot == nil {
		return models.RiskSnapshot{}, false, nil
	}
	return *f.snapshot, true, nil
}

func testConfig() *config.Config {
	return &config.Config{
		MarketData: config.MarketDataConfig{StaleAfter: time.Minute},
		Risk: config.RiskConfig{
			Capital:             100000,
			SizingMethod:        "fixed_amount",
			FixedAmount:         10000,
			StopLossPct:         0.05,
			TargetPct:           0.10,
			DailyLossLimit:      5000,
			MaxOpenPositions:    5,
			MaxConcentrationPct: 20,
			BreakerLossLimit:    5000,
			BreakerMaxLosses:    3,
			BreakerWindow:       time.Hour,
		},
	}
}

func newTestManager(t *testing.T) (*Manager, *fakeStore) {
	t.Helper()
	store := &fakeStore{}
	m := NewManager(testConfig(), store, events.NewBus())
	return m, store
}

func signal(id, symbol string, price float64) models.GapSignal {
	return models.GapSignal{
		ID:           id,
		Symbol:       symbol,
		CurrentPrice: price,
		GapPercent:   4.2,
		// средний скор: уровни без сдвигов по уверенности
		ConfidenceScore: 72,
		SignalType:      models.SignalGapUp,
		DetectedAt:      time.Now(),
	}
}

func TestEvaluate_ApproveReservesSlot(t *testing.T) {
	m, store := newTestManager(t)

	d := m.Evaluate(context.Background(), signal("s1", "RELIANCE", 2450), 0)

	require.True(t, d.Approved)
	assert.Equal(t, int64(4), d.Quantity)
	assert.InDelta(t, 2327.50, d.StopLoss, 1e-9)
	assert.InDelta(t, 2695.00, d.Target, 1e-9)

	snap := m.Snapshot()
	assert.Equal(t, 1, snap.OpenPositions)
	assert.Contains(t, snap.OpenSymbols, "RELIANCE")
	require.Len(t, store.decisions, 1)
	assert.True(t, store.decisions[0].Approved)
}

func TestEvaluate_DuplicateSignalNeverDoubleBooks(t *testing.T) {
	m, _ := newTestManager(t)

	first := m.Evaluate(context.Background(), signal("s1", "TCS", 3500), 0)
	require.True(t, first.Approved)

	second := m.Evaluate(context.Background(), signal("s1", "TCS", 3500), 0)
	assert.False(t, second.Approved)
	assert.Equal(t, models.RejectDuplicateSignal, second.RejectReason)
	assert.Equal(t, 1, m.Snapshot().OpenPositions)
}

func TestEvaluate_OpenSymbolNeverDoubleBooks(t *testing.T) {
	m, _ := newTestManager(t)

	first := m.Evaluate(context.Background(), signal("s1", "RELIANCE", 2450), 0)
	require.True(t, first.Approved)

	// сканер пере-эмитит тот же гэп со свежим ID: слот по символу занят
	second := m.Evaluate(context.Background(), signal("s2", "RELIANCE", 2455), 0)
	assert.False(t, second.Approved)
	assert.Equal(t, models.RejectSymbolAlreadyOpen, second.RejectReason)
	assert.Equal(t, 1, m.Snapshot().OpenPositions)

	// закрытие первой сделки освобождает ровно один слот, и символ снова допустим
	m.ApplyClose("RELIANCE", 150, m.now())
	assert.Equal(t, 0, m.Snapshot().OpenPositions)

	third := m.Evaluate(context.Background(), signal("s3", "RELIANCE", 2460), 0)
	assert.True(t, third.Approved)
}

func TestEvaluate_StaleData(t *testing.T) {
	m, _ := newTestManager(t)

	d := m.Evaluate(context.Background(), signal("s1", "INFY", 1500), 5*time.Minute)

	assert.False(t, d.Approved)
	assert.Equal(t, models.RejectStaleData, d.RejectReason)
}

func TestEvaluate_PausedRejectsHalted(t *testing.T) {
	m, _ := newTestManager(t)
	m.Pause()

	d := m.Evaluate(context.Background(), signal("s1", "INFY", 1500), 0)

	assert.False(t, d.Approved)
	assert.Equal(t, models.RejectTradingHalted, d.RejectReason)
}

func TestEvaluate_PositionCap(t *testing.T) {
	m, _ := newTestManager(t)
	symbols := []string{"A", "B", "C", "D", "E"}
	for i, sym := range symbols {
		d := m.Evaluate(context.Background(), signal(sym+"-sig", sym, 100), 0)
		require.True(t, d.Approved, "signal %d", i)
	}

	d := m.Evaluate(context.Background(), signal("overflow", "F", 100), 0)

	assert.False(t, d.Approved)
	assert.Equal(t, models.RejectPositionLimit, d.RejectReason)
	assert.Equal(t, 5, m.Snapshot().OpenPositions)
}

func TestEvaluate_DailyLossGate(t *testing.T) {
	m, _ := newTestManager(t)
	// брейкер не должен сработать раньше дневного гейта
	m.cfg.Risk.BreakerLossLimit = 10000
	// дневной убыток ровно на лимите
	m.ApplyClose("X", -5000, m.now())

	d := m.Evaluate(context.Background(), signal("s1", "SBIN", 600), 0)

	assert.False(t, d.Approved)
	assert.Equal(t, models.RejectDailyLossLimit, d.RejectReason)
}

func TestEvaluate_BreakerMonotonic(t *testing.T) {
	m, _ := newTestManager(t)
	m.TripBreaker("manual")

	for i := 0; i < 3; i++ {
		d := m.Evaluate(context.Background(), signal(string(rune('a'+i)), "WIPRO", 400), 0)
		assert.False(t, d.Approved)
		assert.Equal(t, models.RejectTradingHalted, d.RejectReason)
	}

	m.ResetBreaker()
	d := m.Evaluate(context.Background(), signal("fresh", "WIPRO", 400), 0)
	assert.True(t, d.Approved)
}

func TestEvaluate_ResumeDoesNotClearBreaker(t *testing.T) {
	m, _ := newTestManager(t)
	m.TripBreaker("manual")
	m.Resume()

	d := m.Evaluate(context.Background(), signal("s1", "TCS", 3500), 0)

	assert.False(t, d.Approved)
	assert.Equal(t, models.RejectTradingHalted, d.RejectReason)
}

func TestEvaluate_ConcentrationShrinksPosition(t *testing.T) {
	m, _ := newTestManager(t)
	m.cfg.Risk.SizingMethod = "equity_pct"
	m.cfg.Risk.EquityPct = 0.50 // 50k, лимит концентрации 20% = 20k
	m.sizer = NewSizer(m.cfg.Risk)

	d := m.Evaluate(context.Background(), signal("s1", "HDFCBANK", 1000), 0)

	require.True(t, d.Approved)
	assert.Equal(t, int64(20), d.Quantity)
}

func TestEvaluate_InsufficientCapital(t *testing.T) {
	m, _ := newTestManager(t)
	m.cfg.Risk.FixedAmount = 100 // меньше одной акции
	m.sizer = NewSizer(m.cfg.Risk)

	d := m.Evaluate(context.Background(), signal("s1", "MRF", 150000), 0)

	assert.False(t, d.Approved)
	assert.Equal(t, models.RejectInsufficientCapital, d.RejectReason)
}

func TestApplyClose_ConsecutiveLossesTripBreaker(t *testing.T) {
	m, _ := newTestManager(t)
	now := m.now()

	m.ApplyClose("A", -100, now)
	m.ApplyClose("B", -100, now.Add(time.Minute))
	assert.False(t, m.BreakerTripped())

	m.ApplyClose("C", -100, now.Add(2*time.Minute))
	assert.True(t, m.BreakerTripped())
}

func TestApplyClose_OldLossesFallOutOfWindow(t *testing.T) {
	m, _ := newTestManager(t)
	now := time.Now()

	m.ApplyClose("A", -100, now.Add(-2*time.Hour))
	m.ApplyClose("B", -100, now.Add(-90*time.Minute))
	m.ApplyClose("C", -100, now)

	// в часовом окне только один убыток
	assert.False(t, m.BreakerTripped())
}

func TestApplyClose_ReleasesSlotAndAccumulatesPnl(t *testing.T) {
	m, _ := newTestManager(t)
	d := m.Evaluate(context.Background(), signal("s1", "TCS", 3500), 0)
	require.True(t, d.Approved)

	m.ApplyClose("TCS", 750, m.now())

	snap := m.Snapshot()
	assert.Equal(t, 0, snap.OpenPositions)
	assert.InDelta(t, 750.0, snap.DailyRealizedPnl, 1e-9)
}

func TestEvaluate_RepositoryFailureHaltsTrading(t *testing.T) {
	m, store := newTestManager(t)
	store.failAll = true

	m.Evaluate(context.Background(), signal("s1", "TCS", 3500), 0)

	// персист упал — торговля встала
	assert.True(t, m.Snapshot().TradingPaused)
	d := m.Evaluate(context.Background(), signal("s2", "INFY", 1500), 0)
	assert.Equal(t, models.RejectTradingHalted, d.RejectReason)
}

func TestRestore_RebuildsState(t *testing.T) {
	store := &fakeStore{
		trades: []*models.Trade{
			{ID: "t1", Symbol: "TCS", Quantity: 10, EntryPrice: 3500, Status: models.TradeOpen},
		},
		decisions: []models.RiskDecision{{SignalID: "s1", Approved: true}},
		pnls: []models.ClosedPnl{
			{Pnl: -1200, ExitTime: time.Now().Add(-10 * time.Minute)},
		},
	}
	m := NewManager(testConfig(), store, events.NewBus())

	require.NoError(t, m.Restore(context.Background()))

	snap := m.Snapshot()
	assert.Equal(t, 1, snap.OpenPositions)
	assert.InDelta(t, -1200.0, snap.DailyRealizedPnl, 1e-9)

	// восстановленный дедуп по-прежнему отбивает старый сигнал
	d := m.Evaluate(context.Background(), signal("s1", "TCS", 3500), 0)
	assert.Equal(t, models.RejectDuplicateSignal, d.RejectReason)
}
