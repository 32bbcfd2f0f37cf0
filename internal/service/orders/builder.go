package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

// Builder проверяет запрос и собирает заказ по снимку каталога.
type Builder struct {
	now   func() time.Time
	newID func() string
}

// NewBuilder создаёт сборщик. now == nil означает time.Now.
func NewBuilder(now func() time.Time) *Builder {
	if now == nil {
		now = time.Now
	}
	return &Builder{now: now, newID: uuid.NewString}
}

// Build валидирует позиции и возвращает заказ в статусе pending вместе со строками резерва.
// Позиции проверяются по очереди, каждая целиком (структура, количество, товар, остаток),
// и возвращается первое нарушение. Остаток проверяется накопительно:
// две позиции одного товара суммируются.
func (b *Builder) Build(ctx context.Context, catalog domain.ProductCatalog, userID int64, items []ItemRequest) (domain.Order, []domain.ReservationLine, error) {
	if userID <= 0 {
		return domain.Order{}, nil, domain.NewError(domain.KindValidation, domain.ErrUserRequired.Error())
	}
	if items == nil {
		return domain.Order{}, nil, domain.NewError(domain.KindValidation, "order items are required")
	}
	if len(items) == 0 {
		return domain.Order{}, nil, domain.NewError(domain.KindValidation, domain.ErrItemsRequired.Error())
	}

	now := b.now().UTC()
	products := make(map[int64]domain.Product, len(items))
	need := make(map[int64]int64, len(items))
	orderItems := make([]domain.OrderItem, 0, len(items))

	var total int64
	for _, item := range items {
		switch {
		case item.ProductID == 0 || item.Quantity == 0:
			return domain.Order{}, nil, domain.NewError(domain.KindValidation, "each item must have product_id and quantity")
		case item.Quantity < 0:
			return domain.Order{}, nil, domain.NewError(domain.KindValidation, "quantity must be positive")
		}

		product, ok := products[item.ProductID]
		if !ok {
			loaded, err := catalog.Get(ctx, item.ProductID)
			switch {
			case errors.Is(err, domain.ErrProductNotFound):
				return domain.Order{}, nil, domain.ProductNotFound(item.ProductID)
			case err != nil:
				return domain.Order{}, nil, domain.AsError("load product", err)
			}
			product = loaded
			products[item.ProductID] = product
		}

		need[item.ProductID] += int64(item.Quantity)
		if need[item.ProductID] > product.Stock {
			return domain.Order{}, nil, domain.InsufficientStock(product)
		}

		line := domain.OrderItem{
			ID:         b.newID(),
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			PriceMinor: product.PriceMinor,
			CreatedAt:  now,
		}
		subtotal, ok := line.SubtotalMinor()
		if ok {
			total, ok = domain.AddMinor(total, subtotal)
		}
		if !ok {
			return domain.Order{}, nil, &domain.Error{
				Kind:      domain.KindValidation,
				Message:   fmt.Sprintf("item for product %d", item.ProductID),
				ProductID: item.ProductID,
				Err:       domain.ErrTotalOverflow,
			}
		}
		orderItems = append(orderItems, line)
	}

	order := domain.Order{
		ID:         b.newID(),
		UserID:     userID,
		Status:     domain.OrderStatusPending,
		Items:      orderItems,
		TotalMinor: total,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	return order, order.ReservationLines(), nil
}
