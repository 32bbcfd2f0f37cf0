package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

type inventoryLedger struct{ scope }

func (l inventoryLedger) Reserve(ctx context.Context, productID int64, qty int64) error {
	return l.ReserveAll(ctx, []domain.ReservationLine{{ProductID: productID, Quantity: qty}})
}

// ReserveAll блокирует строки товаров по возрастанию ID (SELECT ... FOR UPDATE), проверяет
// остатки в порядке запроса и списывает их. Вне транзакции открывает собственную.
func (l inventoryLedger) ReserveAll(ctx context.Context, lines []domain.ReservationLine) error {
	merged, err := domain.MergeReservationLines(lines)
	if err != nil {
		return err
	}
	if len(merged) == 0 {
		return nil
	}

	return l.atomically(ctx, func(ctx context.Context, tx scope) error {
		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()

		locked := make(map[int64]domain.Product, len(merged))
		for _, line := range merged {
			product, err := scanProduct(tx.q.QueryRowContext(ctx,
				`SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, line.ProductID))
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					continue
				}
				return fmt.Errorf("lock product %d: %w", line.ProductID, err)
			}
			locked[product.ID] = product
		}

		need := make(map[int64]int64, len(merged))
		for _, line := range lines {
			product, ok := locked[line.ProductID]
			if !ok {
				return domain.ProductNotFound(line.ProductID)
			}
			need[line.ProductID] += line.Quantity
			if need[line.ProductID] > product.Stock {
				return domain.InsufficientStock(product)
			}
		}

		now := time.Now().UTC()
		for _, line := range merged {
			res, err := tx.q.ExecContext(ctx, `
				UPDATE products
				SET stock = stock - $2,
				    updated_at = $3
				WHERE id = $1
				  AND stock >= $2
			`, line.ProductID, line.Quantity, now)
			if err != nil {
				return fmt.Errorf("reserve product %d: %w", line.ProductID, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected for product %d: %w", line.ProductID, err)
			}
			if affected == 0 {
				return domain.InsufficientStock(locked[line.ProductID])
			}
		}
		return nil
	})
}

// Release возвращает товар на склад; строки удалённых товаров пропускаются.
func (l inventoryLedger) Release(ctx context.Context, lines []domain.ReservationLine) error {
	merged, err := domain.MergeReservationLines(lines)
	if err != nil {
		return err
	}
	if len(merged) == 0 {
		return nil
	}

	return l.atomically(ctx, func(ctx context.Context, tx scope) error {
		ctx, cancel := context.WithTimeout(ctx, opTimeout)
		defer cancel()

		now := time.Now().UTC()
		for _, line := range merged {
			if _, err := tx.q.ExecContext(ctx, `
				UPDATE products
				SET stock = stock + $2,
				    updated_at = $3
				WHERE id = $1
			`, line.ProductID, line.Quantity, now); err != nil {
				return fmt.Errorf("release product %d: %w", line.ProductID, err)
			}
		}
		return nil
	})
}

var _ domain.InventoryLedger = inventoryLedger{}
