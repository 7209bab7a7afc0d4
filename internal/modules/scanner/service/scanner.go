package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"gap_trader/internal/events"
	"gap_trader/internal/helper"
	"gap_trader/internal/metrics"
	"gap_trader/internal/models"
	"gap_trader/internal/modules/config"
	mdata "gap_trader/internal/modules/marketdata/service"
	"gap_trader/pkg/logger"
)

// Scanner превращает сырые данные по отчётному гэпу в скорингованные
// сигналы. Фильтры применяются до конструирования GapSignal: отброшенный
// кандидат не порождает объектов и событий.
type Scanner struct {
	cfg    *config.Config
	feed   mdata.Feed
	scorer ConfidenceScorer
	watch  mdata.Watchlist
	bus    *events.Bus
	out    chan<- models.GapSignal

	// символ -> сколько сигналов выпущено за сессию
	emitted     map[string]int
	sessionDate string

	// OnScan дёргается после каждого прохода, для health-эндпоинта
	OnScan func(time.Time)

	now func() time.Time
}

func NewScanner(
	cfg *config.Config,
	feed mdata.Feed,
	scorer ConfidenceScorer,
	watch mdata.Watchlist,
	bus *events.Bus,
	out chan models.GapSignal,
) *Scanner {
	now := time.Now
	return &Scanner{
		cfg:         cfg,
		feed:        feed,
		scorer:      scorer,
		watch:       watch,
		bus:         bus,
		out:         out,
		emitted:     make(map[string]int),
		sessionDate: helper.SessionDate(now()),
		now:         now,
	}
}

// Scan — один проход по watchlist. Работает только по символам
// с отчётностью на сегодня.
func (s *Scanner) Scan(ctx context.Context) {
	now := s.now()
	s.rollSession(now)

	calendar, err := s.feed.EarningsCalendar(ctx, now)
	if err != nil {
		logger.Error("scanner: earnings calendar: %v", err)
		return
	}
	bySymbol := make(map[string]models.EarningsEvent, len(calendar))
	for _, e := range calendar {
		bySymbol[strings.ToUpper(e.Symbol)] = e
	}

	for _, symbol := range s.watch.Symbols() {
		event, ok := bySymbol[strings.ToUpper(symbol)]
		if !ok {
			continue // без отчёта гэп не наш
		}
		if s.emitted[symbol] >= s.cfg.Scanner.MaxSignalsPerDay {
			continue
		}
		s.evaluate(ctx, symbol, event)
	}

	if s.OnScan != nil {
		s.OnScan(now)
	}
}

func (s *Scanner) evaluate(ctx context.Context, symbol string, event models.EarningsEvent) {
	gi, err := s.feed.GapInputs(ctx, symbol)
	if err != nil {
		logger.Debug("scanner: %s gap inputs: %v", symbol, err)
		return
	}
	quote, err := s.feed.Quote(ctx, symbol)
	if err != nil {
		logger.Debug("scanner: %s quote: %v", symbol, err)
		return
	}

	gapPct := (gi.PostOpen - gi.PreClose) / gi.PreClose * 100
	gapAbs := gapPct
	if gapAbs < 0 {
		gapAbs = -gapAbs
	}

	if gapAbs < s.cfg.Scanner.MinGapPct || gapAbs > s.cfg.Scanner.MaxGapPct {
		return
	}

	// гэп против знака сюрприза — не отчётная реакция, а шум
	if event.HasSurprise &&
		((gapPct > 0 && event.SurprisePercent < 0) || (gapPct < 0 && event.SurprisePercent > 0)) {
		return
	}

	var volumeRatio float64
	if gi.AvgVolume > 0 {
		volumeRatio = float64(quote.Volume) / gi.AvgVolume
	}
	if volumeRatio < requiredVolumeRatio(gapAbs, s.cfg.Scanner.MinVolumeRatio) {
		return
	}

	score := s.scorer.Score(ScoreInputs{
		GapPercent:      gapPct,
		VolumeRatio:     volumeRatio,
		HasSurprise:     event.HasSurprise,
		SurprisePercent: event.SurprisePercent,
	})
	if score < s.cfg.Scanner.ConfidenceThreshold {
		return
	}

	// все фильтры пройдены — только теперь строим сигнал
	signalType := models.SignalGapUp
	if gapPct < 0 {
		signalType = models.SignalGapDown
	}

	sig := models.GapSignal{
		ID:              uuid.NewString(),
		Symbol:          symbol,
		GapPercent:      gapPct,
		PreClose:        gi.PreClose,
		PostOpen:        gi.PostOpen,
		CurrentPrice:    quote.Price,
		Volume:          quote.Volume,
		VolumeRatio:     volumeRatio,
		ConfidenceScore: score,
		ConfidenceLabel: models.LabelForScore(score),
		SignalType:      signalType,
		Explanation:     explain(gapPct, volumeRatio, event),
		DetectedAt:      quote.Timestamp,
		EarningsDate:    event.EarningsDate,
	}

	select {
	case s.out <- sig:
	default:
		logger.Warn("scanner: admission queue full, dropping %s", symbol)
		return
	}

	s.emitted[symbol]++
	metrics.SignalsDetected.WithLabelValues(symbol, string(signalType)).Inc()
	s.bus.Publish(models.Event{
		Type:     models.EventSignalDetected,
		Symbol:   symbol,
		SignalID: sig.ID,
		Message:  sig.Explanation,
	})
	logger.Info("scanner: signal %s %s gap=%.2f%% vol=%.1fx score=%.0f (%s)",
		symbol, signalType, gapPct, volumeRatio, score, sig.ConfidenceLabel)
}

// requiredVolumeRatio: чем скромнее гэп, тем сильнее нужен всплеск объёма;
// экстремальный гэп (>10%) требует исключительного подтверждения.
func requiredVolumeRatio(gapAbs, base float64) float64 {
	switch {
	case gapAbs > 10:
		return 4
	case gapAbs > 5:
		return 2
	default:
		return base
	}
}

func explain(gapPct, volumeRatio float64, event models.EarningsEvent) string {
	parts := []string{
		fmt.Sprintf("gap %+.2f%% after earnings %s", gapPct, event.EarningsDate.Format("2006-01-02")),
		fmt.Sprintf("volume %.1fx average", volumeRatio),
	}
	if event.HasSurprise {
		parts = append(parts, fmt.Sprintf("EPS surprise %+.1f%%", event.SurprisePercent))
	}
	return strings.Join(parts, ", ")
}

func (s *Scanner) rollSession(now time.Time) {
	day := helper.SessionDate(now)
	if day != s.sessionDate {
		s.sessionDate = day
		s.emitted = make(map[string]int)
	}
}

// Run — цикл сканера: первый проход сразу, дальше по интервалу,
// только в часы торгов.
func (s *Scanner) Run(ctx context.Context) {
	openMin := helper.ParseClock(s.cfg.MarketHours.Open)
	closeMin := helper.ParseClock(s.cfg.MarketHours.Close)

	if helper.WithinClock(s.now(), openMin, closeMin) {
		s.Scan(ctx)
	}

	ticker := time.NewTicker(s.cfg.Scanner.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !helper.WithinClock(s.now(), openMin, closeMin) {
				continue
			}
			s.Scan(ctx)
		}
	}
}
