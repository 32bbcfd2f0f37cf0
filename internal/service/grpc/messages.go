package grpcsvc

import "time"

// OrderItem - позиция заказа. Price заполняется только в ответах.
type OrderItem struct {
	ProductID int64  `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	Price     string `json:"price,omitempty"`
}

// Order - представление заказа в ответах API. Total - десятичная строка ("24.98").
type Order struct {
	ID         string      `json:"id"`
	UserID     int64       `json:"user_id"`
	Status     string      `json:"status"`
	Total      string      `json:"total"`
	TotalMinor int64       `json:"total_minor"`
	Items      []OrderItem `json:"items"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// TimelineEvent - запись истории статусов.
type TimelineEvent struct {
	Type     string    `json:"type"`
	From     string    `json:"from,omitempty"`
	To       string    `json:"to,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type CreateOrderRequest struct {
	Items []OrderItem `json:"items"`
}

type CreateOrderResponse struct {
	Order Order `json:"order"`
}

type GetOrderRequest struct {
	OrderID string `json:"order_id"`
}

type GetOrderResponse struct {
	Order Order `json:"order"`
}

type ListOrdersRequest struct{}

type ListOrdersResponse struct {
	Orders []Order `json:"orders"`
}

type UpdateOrderStatusRequest struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type UpdateOrderStatusResponse struct {
	Order Order `json:"order"`
}

type CancelOrderRequest struct {
	OrderID string `json:"order_id"`
}

type CancelOrderResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type GetOrderTimelineRequest struct {
	OrderID string `json:"order_id"`
}

type GetOrderTimelineResponse struct {
	Events []TimelineEvent `json:"events"`
}
