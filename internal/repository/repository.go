package repository

import (
	"go.uber.org/fx"

	"gap_trader/pkg/db"
)

// Repository — персист сигналов, сделок, ордеров и риск-состояния.
// Все записи идут через TxManager, чтение — тоже в транзакции:
// монитор и исполнитель не должны видеть полузаписанную сделку.
type Repository struct {
	db db.TxManager
}

func NewRepository(txm db.TxManager) *Repository {
	return &Repository{db: txm}
}

func Module() fx.Option {
	return fx.Module("repository",
		fx.Provide(NewRepository),
	)
}
