package domain

import "time"

// EventType определяет тип события заказа, которое уходит в outbox.
type EventType string

const (
	EventOrderCreated       EventType = "order.created"
	EventOrderStatusChanged EventType = "order.status_changed"
	EventOrderCancelled     EventType = "order.cancelled"
)

// AggregateOrder - тип агрегата для outbox-сообщений заказа.
const AggregateOrder = "order"

// OrderEventItem - позиция заказа в событии; нужна потребителям, следящим за остатками.
type OrderEventItem struct {
	ProductID  int64 `json:"product_id"`
	Quantity   int32 `json:"quantity"`
	PriceMinor int64 `json:"price_minor"`
}

// OrderEvent - полезная нагрузка событий заказа.
type OrderEvent struct {
	EventType      EventType        `json:"event_type"`
	OrderID        string           `json:"order_id"`
	UserID         int64            `json:"user_id"`
	Status         OrderStatus      `json:"status"`
	PreviousStatus OrderStatus      `json:"previous_status,omitempty"`
	TotalMinor     int64            `json:"total_minor"`
	Items          []OrderEventItem `json:"items,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`
}

// NewOrderEvent собирает событие по заказу. Позиции включаются только для событий, меняющих остатки.
func NewOrderEvent(eventType EventType, order Order, previous OrderStatus, at time.Time) OrderEvent {
	event := OrderEvent{
		EventType:      eventType,
		OrderID:        order.ID,
		UserID:         order.UserID,
		Status:         order.Status,
		PreviousStatus: previous,
		TotalMinor:     order.TotalMinor,
		OccurredAt:     at.UTC(),
	}
	if eventType == EventOrderCreated || eventType == EventOrderCancelled {
		event.Items = make([]OrderEventItem, 0, len(order.Items))
		for _, item := range order.Items {
			event.Items = append(event.Items, OrderEventItem{
				ProductID:  item.ProductID,
				Quantity:   item.Quantity,
				PriceMinor: item.PriceMinor,
			})
		}
	}
	return event
}
