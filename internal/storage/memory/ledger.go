package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

type inventoryLedger struct{ view }

// Reserve списывает qty одного товара.
func (l inventoryLedger) Reserve(ctx context.Context, productID int64, qty int64) error {
	return l.ReserveAll(ctx, []domain.ReservationLine{{ProductID: productID, Quantity: qty}})
}

// ReserveAll проверяет все строки и только затем списывает их.
// Проверка идёт в порядке запроса с накоплением по товару, чтобы ошибка указывала
// на первую строку, которую нельзя удовлетворить.
func (l inventoryLedger) ReserveAll(_ context.Context, lines []domain.ReservationLine) error {
	merged, err := domain.MergeReservationLines(lines)
	if err != nil {
		return err
	}
	if len(merged) == 0 {
		return nil
	}

	unlock := l.lock()
	defer unlock()

	need := make(map[int64]int64, len(merged))
	for _, line := range lines {
		product, ok := l.s.products[line.ProductID]
		if !ok {
			return domain.ProductNotFound(line.ProductID)
		}
		need[line.ProductID] += line.Quantity
		if need[line.ProductID] > product.Stock {
			return domain.InsufficientStock(product)
		}
	}

	now := l.s.now()
	for _, line := range merged {
		l.adjust(line.ProductID, -line.Quantity, now)
	}
	return nil
}

// Release возвращает товар на склад. Удалённые из каталога товары пропускаются.
func (l inventoryLedger) Release(_ context.Context, lines []domain.ReservationLine) error {
	merged, err := domain.MergeReservationLines(lines)
	if err != nil {
		return err
	}

	unlock := l.lock()
	defer unlock()

	now := l.s.now()
	for _, line := range merged {
		if _, ok := l.s.products[line.ProductID]; !ok {
			continue
		}
		l.adjust(line.ProductID, line.Quantity, now)
	}
	return nil
}

func (l inventoryLedger) adjust(productID, delta int64, at time.Time) {
	prev := l.s.products[productID]
	next := prev
	next.Stock += delta
	next.UpdatedAt = at
	l.s.products[productID] = next

	l.onRollback(func() { l.s.products[productID] = prev })
}

var _ domain.InventoryLedger = inventoryLedger{}
