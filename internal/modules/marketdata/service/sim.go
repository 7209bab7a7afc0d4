package service

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"gap_trader/internal/models"
)

// SimFeed — in-memory источник данных для paper-режима без провайдера
// и для тестов. Всё выставляется руками через сеттеры.
type SimFeed struct {
	mu       sync.RWMutex
	quotes   map[string]models.Quote
	inputs   map[string]models.GapInputs
	earnings []models.EarningsEvent
}

func NewSimFeed() *SimFeed {
	return &SimFeed{
		quotes: make(map[string]models.Quote),
		inputs: make(map[string]models.GapInputs),
	}
}

func (s *SimFeed) SetQuote(q models.Quote) {
	s.mu.Lock()
	s.quotes[q.Symbol] = q
	s.mu.Unlock()
}

func (s *SimFeed) SetPrice(symbol string, price float64) {
	s.SetQuote(models.Quote{Symbol: symbol, Price: price, Timestamp: time.Now()})
}

func (s *SimFeed) SetGapInputs(gi models.GapInputs) {
	s.mu.Lock()
	s.inputs[gi.Symbol] = gi
	s.mu.Unlock()
}

func (s *SimFeed) SetEarnings(events []models.EarningsEvent) {
	s.mu.Lock()
	s.earnings = events
	s.mu.Unlock()
}

func (s *SimFeed) Quote(_ context.Context, symbol string) (models.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[symbol]
	if !ok {
		return models.Quote{}, errors.Wrap(ErrNoQuote, symbol)
	}
	return q, nil
}

func (s *SimFeed) GapInputs(_ context.Context, symbol string) (models.GapInputs, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gi, ok := s.inputs[symbol]
	if !ok {
		return models.GapInputs{}, errors.Errorf("marketdata: no daily bar for %s", symbol)
	}
	return gi, nil
}

func (s *SimFeed) EarningsCalendar(_ context.Context, _ time.Time) ([]models.EarningsEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.EarningsEvent, len(s.earnings))
	copy(out, s.earnings)
	return out, nil
}
