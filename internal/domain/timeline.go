package domain

import "time"

// Типы событий истории заказа.
const (
	TimelineOrderCreated       = "OrderCreated"
	TimelineOrderStatusChanged = "OrderStatusChanged"
	TimelineOrderCancelled     = "OrderCancelled"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	From     OrderStatus
	To       OrderStatus
	Reason   string
	Occurred time.Time
}
