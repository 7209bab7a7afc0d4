package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"

	"gap_trader/internal/models"
	"gap_trader/pkg/logger"
)

const subscriberBuffer = 64

// Bus — внутренняя шина событий пайплайна. Publish никогда не блокирует:
// медленный подписчик теряет событие, а не тормозит исполнение ордеров.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]chan models.Event
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]chan models.Event)}
}

// Subscribe возвращает канал событий и функцию отписки.
func (b *Bus) Subscribe(name string) (<-chan models.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := name + ":" + uuid.NewString()
	ch := make(chan models.Event, subscriberBuffer)
	b.subs[key] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subs[key]; ok {
			delete(b.subs, key)
			close(c)
		}
	}
	return ch, cancel
}

func (b *Bus) Publish(evt models.Event) {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for key, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			logger.Warn("events: subscriber %s is full, dropping %s", key, evt.Type)
		}
	}
}

func Module() fx.Option {
	return fx.Module("events",
		fx.Provide(NewBus),
	)
}
