package service

import (
	"sync"
	"time"

	"gap_trader/internal/models"
)

// QuoteCache — последние котировки с контролем свежести.
// Пишет WS-стример, читают сканер и монитор.
type QuoteCache struct {
	mu        sync.RWMutex
	quotes    map[string]models.Quote
	staleness time.Duration
}

func NewQuoteCache(staleness time.Duration) *QuoteCache {
	return &QuoteCache{
		quotes:    make(map[string]models.Quote),
		staleness: staleness,
	}
}

func (c *QuoteCache) Set(q models.Quote) {
	c.mu.Lock()
	c.quotes[q.Symbol] = q
	c.mu.Unlock()
}

// Get возвращает котировку и признак свежести.
func (c *QuoteCache) Get(symbol string, now time.Time) (models.Quote, bool, bool) {
	c.mu.RLock()
	q, ok := c.quotes[symbol]
	c.mu.RUnlock()
	if !ok {
		return models.Quote{}, false, false
	}
	fresh := q.Age(now) <= c.staleness
	return q, true, fresh
}

func (c *QuoteCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}
