package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

// Lifecycle меняет статусы заказа внутри транзакции вызывающего и пишет
// историю и outbox-событие в ту же транзакцию.
type Lifecycle struct {
	now func() time.Time
}

// NewLifecycle создаёт менеджер жизненного цикла. now == nil означает time.Now.
func NewLifecycle(now func() time.Time) *Lifecycle {
	if now == nil {
		now = time.Now
	}
	return &Lifecycle{now: now}
}

// Created фиксирует создание заказа.
func (l *Lifecycle) Created(ctx context.Context, tx domain.Tx, order domain.Order) error {
	event := domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     domain.TimelineOrderCreated,
		To:       order.Status,
		Occurred: order.CreatedAt,
	}
	if err := tx.Timeline().Append(ctx, event); err != nil {
		return domain.AsError("append timeline", err)
	}
	return l.enqueue(ctx, tx, domain.EventOrderCreated, order, "", order.CreatedAt)
}

// Transition переводит заказ в next. В cancelled можно перейти только из pending,
// и такой переход возвращает товар на склад так же, как Cancel.
func (l *Lifecycle) Transition(ctx context.Context, tx domain.Tx, order domain.Order, next domain.OrderStatus) (domain.Order, error) {
	if !order.Status.CanTransitionTo(next) {
		return domain.Order{}, domain.InvalidTransition(order.Status, next)
	}
	if next == domain.OrderStatusCancelled {
		return l.Cancel(ctx, tx, order)
	}

	previous := order.Status
	at := l.stamp(order)
	if err := tx.Orders().UpdateStatus(ctx, order.ID, next, at); err != nil {
		return domain.Order{}, domain.AsError("update order status", err)
	}
	order.Status = next
	order.UpdatedAt = at

	event := domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     domain.TimelineOrderStatusChanged,
		From:     previous,
		To:       next,
		Occurred: at,
	}
	if err := tx.Timeline().Append(ctx, event); err != nil {
		return domain.Order{}, domain.AsError("append timeline", err)
	}
	if err := l.enqueue(ctx, tx, domain.EventOrderStatusChanged, order, previous, at); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// Cancel отменяет заказ в статусе pending и возвращает все позиции на склад.
func (l *Lifecycle) Cancel(ctx context.Context, tx domain.Tx, order domain.Order) (domain.Order, error) {
	if order.Status != domain.OrderStatusPending {
		return domain.Order{}, domain.InvalidState("only pending orders can be cancelled")
	}

	if err := tx.Ledger().Release(ctx, order.ReservationLines()); err != nil {
		return domain.Order{}, domain.AsError("release stock", err)
	}

	previous := order.Status
	at := l.stamp(order)
	if err := tx.Orders().UpdateStatus(ctx, order.ID, domain.OrderStatusCancelled, at); err != nil {
		return domain.Order{}, domain.AsError("update order status", err)
	}
	order.Status = domain.OrderStatusCancelled
	order.UpdatedAt = at

	event := domain.TimelineEvent{
		OrderID:  order.ID,
		Type:     domain.TimelineOrderCancelled,
		From:     previous,
		To:       order.Status,
		Reason:   "cancelled by owner",
		Occurred: at,
	}
	if err := tx.Timeline().Append(ctx, event); err != nil {
		return domain.Order{}, domain.AsError("append timeline", err)
	}
	if err := l.enqueue(ctx, tx, domain.EventOrderCancelled, order, previous, at); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// stamp возвращает момент изменения строго позже order.UpdatedAt,
// чтобы версии заказа в кэше упорядочивались даже при грубых или стоящих часах.
func (l *Lifecycle) stamp(order domain.Order) time.Time {
	at := l.now().UTC()
	if !at.After(order.UpdatedAt) {
		at = order.UpdatedAt.Add(time.Microsecond)
	}
	return at
}

func (l *Lifecycle) enqueue(ctx context.Context, tx domain.Tx, eventType domain.EventType, order domain.Order, previous domain.OrderStatus, at time.Time) error {
	payload, err := json.Marshal(domain.NewOrderEvent(eventType, order, previous, at))
	if err != nil {
		return domain.Internal("encode order event", fmt.Errorf("%s: %w", eventType, err))
	}

	msg := domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   order.ID,
		EventType:     string(eventType),
		Payload:       payload,
	}
	if _, err := tx.Outbox().Enqueue(ctx, msg); err != nil {
		return domain.AsError("enqueue outbox message", err)
	}
	return nil
}
