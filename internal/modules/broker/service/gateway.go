package service

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"gap_trader/internal/models"
)

// Gateway — шлюз к брокеру. Живой REST-клиент или paper-симулятор,
// движок исполнения различий не видит.
type Gateway interface {
	// PlaceOrder идемпотентен по key: повторный вызов с тем же ключом
	// возвращает уже принятый ордер, а не ставит второй.
	PlaceOrder(ctx context.Context, spec models.OrderSpec, key string) (models.OrderAck, error)

	CancelOrder(ctx context.Context, brokerOrderID string) error

	// OrderStatus — текущий статус и накопленное исполнение.
	OrderStatus(ctx context.Context, brokerOrderID string) (models.OrderStatus, models.FillEvent, error)
}

// GatewayError разделяет отказы брокера на ретраибельные (сеть, троттлинг,
// 5xx) и терминальные (отклонено по марже, неверный инструмент).
type GatewayError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("broker: %s (%s)", e.Message, e.Code)
}

// IsRetryable: неизвестные ошибки (сеть, таймауты) считаем ретраибельными,
// дубль при повторе отсекает idempotency key.
func IsRetryable(err error) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Retryable
	}
	return true
}
