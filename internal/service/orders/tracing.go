package orders

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

const tracerName = "github.com/vladislavdragonenkov/ordercore/internal/service/orders"

// TracedAPI оборачивает API спанами OpenTelemetry.
type TracedAPI struct {
	inner  API
	tracer trace.Tracer
}

var _ API = (*TracedAPI)(nil)

// NewTracedAPI создаёт декоратор. tracer == nil означает глобальный провайдер.
func NewTracedAPI(inner API, tracer trace.Tracer) *TracedAPI {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &TracedAPI{inner: inner, tracer: tracer}
}

func (t *TracedAPI) CreateOrder(ctx context.Context, userID int64, items []ItemRequest) (domain.Order, error) {
	ctx, span := t.tracer.Start(ctx, "OrderService.CreateOrder", trace.WithAttributes(
		attribute.Int64("user.id", userID),
		attribute.Int("order.items", len(items)),
	))
	defer span.End()

	order, err := t.inner.CreateOrder(ctx, userID, items)
	if err != nil {
		return order, record(span, err)
	}
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.Int64("order.total_minor", order.TotalMinor))
	return order, nil
}

func (t *TracedAPI) GetOrder(ctx context.Context, orderID string, callerID int64) (domain.Order, error) {
	ctx, span := t.start(ctx, "OrderService.GetOrder", orderID, callerID)
	defer span.End()

	order, err := t.inner.GetOrder(ctx, orderID, callerID)
	return order, record(span, err)
}

func (t *TracedAPI) ListOrders(ctx context.Context, userID int64) ([]domain.Order, error) {
	ctx, span := t.tracer.Start(ctx, "OrderService.ListOrders", trace.WithAttributes(attribute.Int64("user.id", userID)))
	defer span.End()

	orders, err := t.inner.ListOrders(ctx, userID)
	span.SetAttributes(attribute.Int("orders.count", len(orders)))
	return orders, record(span, err)
}

func (t *TracedAPI) UpdateOrderStatus(ctx context.Context, orderID string, callerID int64, rawStatus string) (domain.Order, error) {
	ctx, span := t.start(ctx, "OrderService.UpdateOrderStatus", orderID, callerID)
	defer span.End()
	span.SetAttributes(attribute.String("order.status.requested", rawStatus))

	order, err := t.inner.UpdateOrderStatus(ctx, orderID, callerID, rawStatus)
	return order, record(span, err)
}

func (t *TracedAPI) CancelOrder(ctx context.Context, orderID string, callerID int64) error {
	ctx, span := t.start(ctx, "OrderService.CancelOrder", orderID, callerID)
	defer span.End()

	return record(span, t.inner.CancelOrder(ctx, orderID, callerID))
}

func (t *TracedAPI) OrderTimeline(ctx context.Context, orderID string, callerID int64) ([]domain.TimelineEvent, error) {
	ctx, span := t.start(ctx, "OrderService.OrderTimeline", orderID, callerID)
	defer span.End()

	events, err := t.inner.OrderTimeline(ctx, orderID, callerID)
	return events, record(span, err)
}

func (t *TracedAPI) start(ctx context.Context, name, orderID string, callerID int64) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.Int64("user.id", callerID),
	))
}

// record помечает спан ошибкой. Бизнес-отказы не считаются сбоем спана.
func record(span trace.Span, err error) error {
	if err == nil {
		return nil
	}
	kind := domain.KindOf(err)
	span.SetAttributes(attribute.String("error.kind", string(kind)))
	if kind == domain.KindInternal {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
