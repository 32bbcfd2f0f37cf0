package domain

import (
	"strings"
	"time"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending - заказ создан, товар зарезервирован.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing - заказ взят в работу.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped - заказ передан в доставку.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered - заказ доставлен.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled - заказ отменён, резерв возвращён на склад.
	OrderStatusCancelled OrderStatus = "cancelled"
)

var orderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// OrderStatuses возвращает все поддерживаемые статусы в порядке жизненного цикла.
func OrderStatuses() []OrderStatus {
	out := make([]OrderStatus, len(orderStatuses))
	copy(out, orderStatuses)
	return out
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	for _, known := range orderStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ParseOrderStatus разбирает статус из внешнего ввода.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.TrimSpace(raw))
	if status.Valid() {
		return status, nil
	}

	names := make([]string, 0, len(orderStatuses))
	for _, known := range orderStatuses {
		names = append(names, string(known))
	}
	return "", Validation("invalid status. Must be one of: %s", strings.Join(names, ", "))
}

// CanTransitionTo сообщает, допустим ли переход. В cancelled можно перейти только из pending,
// остальные статусы выставляются без ограничений на порядок.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if !next.Valid() {
		return false
	}
	if next == OrderStatusCancelled {
		return s == OrderStatusPending
	}
	return true
}

// OrderItem представляет одну позицию заказа.
type OrderItem struct {
	ID        string
	ProductID int64
	Quantity  int32
	// PriceMinor - цена за единицу на момент создания заказа, в копейках/центах.
	PriceMinor int64
	CreatedAt  time.Time
}

// SubtotalMinor возвращает стоимость позиции; ok == false при переполнении.
func (i OrderItem) SubtotalMinor() (int64, bool) {
	return MulMinor(i.PriceMinor, int64(i.Quantity))
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID         string
	UserID     int64
	Status     OrderStatus
	TotalMinor int64
	Items      []OrderItem
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CalculateTotal суммирует стоимость позиций. Сумма, не помещающаяся в int64,
// даёт ErrTotalOverflow, а не отрицательный итог.
func (o *Order) CalculateTotal() (int64, error) {
	var total int64
	for _, item := range o.Items {
		subtotal, ok := item.SubtotalMinor()
		if !ok {
			return 0, ErrTotalOverflow
		}
		if total, ok = AddMinor(total, subtotal); !ok {
			return 0, ErrTotalOverflow
		}
	}
	return total, nil
}

// OwnedBy проверяет, принадлежит ли заказ пользователю.
func (o *Order) OwnedBy(userID int64) bool {
	return o.UserID == userID
}

// ReservationLines возвращает строки резерва в порядке позиций заказа.
func (o *Order) ReservationLines() []ReservationLine {
	lines := make([]ReservationLine, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, ReservationLine{ProductID: item.ProductID, Quantity: int64(item.Quantity)})
	}
	return lines
}

// Clone возвращает копию заказа с независимым срезом позиций.
func (o Order) Clone() Order {
	o.Items = append([]OrderItem(nil), o.Items...)
	return o
}

// CheckInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) CheckInvariants() []error {
	var errs []error

	if o.UserID <= 0 {
		errs = append(errs, ErrUserRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.TotalMinor < 0 {
		errs = append(errs, ErrTotalNegative)
	}

	for _, item := range o.Items {
		if item.ProductID <= 0 {
			errs = append(errs, ErrItemProductRequired)
		}
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}
	switch total, err := o.CalculateTotal(); {
	case err != nil:
		errs = append(errs, err)
	case total != o.TotalMinor:
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}
