// Package orders реализует ядро согласованности заказов и остатков: сборку заказа,
// резерв товара, жизненный цикл статусов и внешний API поверх транзакционного хранилища.
package orders

import (
	"context"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

// ItemRequest - позиция из запроса на создание заказа.
type ItemRequest struct {
	ProductID int64
	Quantity  int32
}

// API - операции ядра, доступные транспортным адаптерам.
// Все ошибки возвращаются как *domain.Error.
type API interface {
	CreateOrder(ctx context.Context, userID int64, items []ItemRequest) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string, callerID int64) (domain.Order, error)
	ListOrders(ctx context.Context, userID int64) ([]domain.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, callerID int64, rawStatus string) (domain.Order, error)
	CancelOrder(ctx context.Context, orderID string, callerID int64) error
	OrderTimeline(ctx context.Context, orderID string, callerID int64) ([]domain.TimelineEvent, error)
}

// Storage - то, что нужно сервису от хранилища: autocommit-чтения и транзакции.
type Storage interface {
	domain.Tx
	domain.TxManager
}
