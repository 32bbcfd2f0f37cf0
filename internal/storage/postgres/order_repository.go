package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

type orderRepository struct{ scope }

const (
	orderColumns = `id, user_id, status, total_minor, created_at, updated_at`

	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `) VALUES ($1,$2,$3,$4,$5,$6)`

	insertOrderItemSQL = `
		INSERT INTO order_items (id, order_id, position, product_id, quantity, price_minor, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`

	selectOrderItemsSQL = `
		SELECT id, product_id, quantity, price_minor, created_at
		FROM order_items WHERE order_id = $1 ORDER BY position`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`
)

// Create сохраняет заказ и его позиции одной транзакцией.
func (r orderRepository) Create(ctx context.Context, order domain.Order) error {
	return r.atomically(ctx, func(ctx context.Context, tx scope) error {
		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()

		_, err := tx.q.ExecContext(ctx, insertOrderSQL,
			order.ID, order.UserID, string(order.Status), order.TotalMinor, order.CreatedAt, order.UpdatedAt)
		switch {
		case isUniqueViolation(err):
			return domain.ErrOrderAlreadyExists
		case err != nil:
			return fmt.Errorf("insert order %s: %w", order.ID, err)
		}

		for pos, item := range order.Items {
			_, err := tx.q.ExecContext(ctx, insertOrderItemSQL,
				item.ID, order.ID, pos, item.ProductID, item.Quantity, item.PriceMinor, item.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert item %d of order %s: %w", pos, order.ID, err)
			}
		}
		return nil
	})
}

func (r orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	return r.fetch(ctx, id, false)
}

// GetForUpdate блокирует строку заказа до конца транзакции.
func (r orderRepository) GetForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.fetch(ctx, id, true)
}

func (r orderRepository) fetch(ctx context.Context, id string, lock bool) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	order, err := scanOrder(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("select order %s: %w", id, err)
	}

	if order.Items, err = r.items(ctx, order.ID); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// ListByUser отдаёт заказы пользователя от новых к старым; limit <= 0 снимает ограничение.
func (r orderRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	orders, err := queryAll(ctx, r.q, "orders", scanOrder, query, args...)
	if err != nil {
		return nil, err
	}
	// Позиции догружаем после закрытия курсора: в транзакции соединение одно.
	for i := range orders {
		if orders[i].Items, err = r.items(ctx, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r orderRepository) UpdateStatus(ctx context.Context, id string, status domain.OrderStatus, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.q.ExecContext(ctx, updateOrderStatusSQL, id, string(status), at)
	if err != nil {
		return fmt.Errorf("set status %s on order %s: %w", status, id, err)
	}
	return expectAffected(res, domain.ErrOrderNotFound)
}

func (r orderRepository) items(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	return queryAll(ctx, r.q, "order items", scanOrderItem, selectOrderItemsSQL, orderID)
}

func scanOrderItem(row rowScanner) (domain.OrderItem, error) {
	var it domain.OrderItem
	err := row.Scan(&it.ID, &it.ProductID, &it.Quantity, &it.PriceMinor, &it.CreatedAt)
	it.CreatedAt = it.CreatedAt.UTC()
	return it, err
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o      domain.Order
		status string
	)
	if err := row.Scan(&o.ID, &o.UserID, &status, &o.TotalMinor, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(status)
	o.CreatedAt, o.UpdatedAt = o.CreatedAt.UTC(), o.UpdatedAt.UTC()
	return o, nil
}

var _ domain.OrderRepository = orderRepository{}
