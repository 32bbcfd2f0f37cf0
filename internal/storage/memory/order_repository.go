package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

type orderRepository struct{ view }

// Create сохраняет новый заказ, если ID ещё не занят.
func (r orderRepository) Create(_ context.Context, order domain.Order) error {
	unlock := r.lock()
	defer unlock()

	if _, exists := r.s.orders[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}
	// Храним копию, чтобы вызывающий код не мог изменить позиции в обход репозитория.
	r.s.orders[order.ID] = order.Clone()

	id := order.ID
	r.onRollback(func() { delete(r.s.orders, id) })
	return nil
}

// Get возвращает заказ или ErrOrderNotFound.
func (r orderRepository) Get(_ context.Context, id string) (domain.Order, error) {
	unlock := r.rlock()
	defer unlock()

	order, ok := r.s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// GetForUpdate совпадает с Get: внутри транзакции всё хранилище уже заблокировано.
func (r orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.Get(ctx, id)
}

// ListByUser возвращает заказы пользователя от новых к старым, ограничивая выборку limit (если >0).
func (r orderRepository) ListByUser(_ context.Context, userID int64, limit int) ([]domain.Order, error) {
	unlock := r.rlock()
	defer unlock()

	result := make([]domain.Order, 0)
	for _, order := range r.s.orders {
		if order.UserID != userID {
			continue
		}
		result = append(result, order.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// UpdateStatus меняет статус и время обновления заказа.
func (r orderRepository) UpdateStatus(_ context.Context, id string, status domain.OrderStatus, at time.Time) error {
	unlock := r.lock()
	defer unlock()

	prev, ok := r.s.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	next := prev
	next.Status = status
	next.UpdatedAt = at
	r.s.orders[id] = next

	r.onRollback(func() { r.s.orders[id] = prev })
	return nil
}

var _ domain.OrderRepository = orderRepository{}
