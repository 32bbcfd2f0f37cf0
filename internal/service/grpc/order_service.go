package grpcsvc

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	"github.com/vladislavdragonenkov/ordercore/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordercore/internal/service/orders"
)

const (
	userIDHeader         = "x-user-id"
	idempotencyKeyHeader = "idempotency-key"
	// ReplayHeader выставляется в ответе, если он взят из сохранённой записи idempotency-key.
	ReplayHeader = "x-idempotent-replay"
)

// OrderService реализует gRPC API поверх ядра заказов.
type OrderService struct {
	api    orders.API
	runner *idempotency.Runner
	logger *log.Entry
}

var _ OrderServiceServer = (*OrderService)(nil)

// NewOrderService конструирует сервис. runner == nil отключает обработку idempotency-key.
func NewOrderService(api orders.API, runner *idempotency.Runner, logger *log.Entry) *OrderService {
	if logger == nil {
		logger = log.WithField("component", "grpc")
	}
	return &OrderService{api: api, runner: runner, logger: logger}
}

// createOrderFingerprint - то, по чему сравниваются повторы CreateOrder.
type createOrderFingerprint struct {
	UserID int64       `json:"user_id"`
	Items  []OrderItem `json:"items"`
}

// CreateOrder создаёт заказ. При наличии idempotency-key ответ (в том числе бизнес-отказ)
// запоминается и возвращается повторно.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}

	fingerprint, err := json.Marshal(createOrderFingerprint{UserID: userID, Items: req.Items})
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}

	outcome, replayed, err := s.runner.Do(ctx, readIdempotencyKey(ctx), MethodCreateOrder, fingerprint,
		func(ctx context.Context) (idempotency.Outcome, error) {
			return s.createOrder(ctx, userID, req.Items)
		})
	if err != nil {
		return nil, s.toStatus(ctx, MethodCreateOrder, err)
	}
	if replayed {
		_ = grpc.SetHeader(ctx, metadata.Pairs(ReplayHeader, "true"))
		s.logger.WithField("user_id", userID).Debug("replaying idempotent CreateOrder response")
	}

	if outcome.Failed {
		var payload idempotencyErrorPayload
		if err := json.Unmarshal(outcome.Body, &payload); err != nil {
			s.logger.WithError(err).Warn("failed to decode stored idempotency failure")
			return nil, status.Error(codes.Internal, "previous request with the same idempotency key failed")
		}
		setErrorTrailer(ctx, payload.Kind, payload.ProductID)
		return nil, payload.status()
	}

	var resp CreateOrderResponse
	if err := json.Unmarshal(outcome.Body, &resp); err != nil {
		s.logger.WithError(err).Warn("failed to decode stored idempotency response")
		return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
	}
	return &resp, nil
}

// createOrder вызывает ядро и упаковывает результат в Outcome. Бизнес-отказ становится
// Failed-outcome, инфраструктурный сбой возвращается ошибкой и снимает ключ.
func (s *OrderService) createOrder(ctx context.Context, userID int64, items []OrderItem) (idempotency.Outcome, error) {
	var requests []orders.ItemRequest
	if items != nil {
		requests = make([]orders.ItemRequest, 0, len(items))
	}
	for _, item := range items {
		requests = append(requests, orders.ItemRequest{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	order, err := s.api.CreateOrder(ctx, userID, requests)
	if err != nil {
		if domain.Retryable(err) {
			return idempotency.Outcome{}, err
		}
		derr := domain.AsError(MethodCreateOrder, err)
		code := codeFor(derr)
		body, marshalErr := json.Marshal(idempotencyErrorPayload{
			Code:      int32(code), //nolint:gosec // codes.Code is a bounded enum value.
			Message:   derr.Message,
			Kind:      derr.Kind,
			ProductID: derr.ProductID,
		})
		if marshalErr != nil {
			return idempotency.Outcome{}, err
		}
		return idempotency.Outcome{Code: int(code), Body: body, Failed: true}, nil
	}

	body, err := json.Marshal(CreateOrderResponse{Order: toOrder(order)})
	if err != nil {
		return idempotency.Outcome{}, domain.Internal("encode create order response", err)
	}
	return idempotency.Outcome{Code: int(codes.OK), Body: body}, nil
}

// GetOrder возвращает заказ владельцу.
func (s *OrderService) GetOrder(ctx context.Context, req *GetOrderRequest) (*GetOrderResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	userID, orderID, err := s.orderRequest(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	order, err := s.api.GetOrder(ctx, orderID, userID)
	if err != nil {
		return nil, s.toStatus(ctx, MethodGetOrder, err)
	}
	return &GetOrderResponse{Order: toOrder(order)}, nil
}

// ListOrders возвращает заказы вызывающего пользователя, новые первыми.
func (s *OrderService) ListOrders(ctx context.Context, _ *ListOrdersRequest) (*ListOrdersResponse, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	list, err := s.api.ListOrders(ctx, userID)
	if err != nil {
		return nil, s.toStatus(ctx, MethodListOrders, err)
	}
	resp := &ListOrdersResponse{Orders: make([]Order, 0, len(list))}
	for _, order := range list {
		resp.Orders = append(resp.Orders, toOrder(order))
	}
	return resp, nil
}

// UpdateOrderStatus меняет статус заказа.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, req *UpdateOrderStatusRequest) (*UpdateOrderStatusResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	userID, orderID, err := s.orderRequest(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	order, err := s.api.UpdateOrderStatus(ctx, orderID, userID, req.Status)
	if err != nil {
		return nil, s.toStatus(ctx, MethodUpdateOrderStatus, err)
	}
	return &UpdateOrderStatusResponse{Order: toOrder(order)}, nil
}

// CancelOrder отменяет pending-заказ и возвращает товар на склад.
func (s *OrderService) CancelOrder(ctx context.Context, req *CancelOrderRequest) (*CancelOrderResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	userID, orderID, err := s.orderRequest(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if err := s.api.CancelOrder(ctx, orderID, userID); err != nil {
		return nil, s.toStatus(ctx, MethodCancelOrder, err)
	}
	return &CancelOrderResponse{OrderID: orderID, Status: string(domain.OrderStatusCancelled)}, nil
}

// GetOrderTimeline возвращает историю статусов заказа.
func (s *OrderService) GetOrderTimeline(ctx context.Context, req *GetOrderTimelineRequest) (*GetOrderTimelineResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	userID, orderID, err := s.orderRequest(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	events, err := s.api.OrderTimeline(ctx, orderID, userID)
	if err != nil {
		return nil, s.toStatus(ctx, MethodGetOrderTimeline, err)
	}
	resp := &GetOrderTimelineResponse{Events: make([]TimelineEvent, 0, len(events))}
	for _, event := range events {
		resp.Events = append(resp.Events, TimelineEvent{
			Type:     event.Type,
			From:     string(event.From),
			To:       string(event.To),
			Reason:   event.Reason,
			Occurred: event.Occurred,
		})
	}
	return resp, nil
}

func (s *OrderService) orderRequest(ctx context.Context, rawOrderID string) (int64, string, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return 0, "", err
	}
	orderID := strings.TrimSpace(rawOrderID)
	if orderID == "" {
		return 0, "", status.Error(codes.InvalidArgument, "order_id is required")
	}
	return userID, orderID, nil
}

// toStatus переводит ошибку ядра в gRPC-статус и кладёт вид ошибки в trailer.
// Детали внутренних сбоев остаются в логе.
func (s *OrderService) toStatus(ctx context.Context, method string, err error) error {
	derr := domain.AsError(method, err)
	setErrorTrailer(ctx, derr.Kind, derr.ProductID)

	if derr.Kind == domain.KindInternal {
		s.logger.WithError(err).WithField("method", method).Error("request failed")
		return status.Error(codes.Internal, "internal error")
	}
	return status.Error(codeFor(derr), derr.Message)
}

// callerID читает идентификатор пользователя из метаданных x-user-id.
func callerID(ctx context.Context) (int64, error) {
	raw := firstMetadataValue(ctx, userIDHeader)
	if raw == "" {
		return 0, status.Error(codes.Unauthenticated, "x-user-id metadata is required")
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return 0, status.Error(codes.Unauthenticated, "x-user-id must be a positive integer")
	}
	return userID, nil
}

func readIdempotencyKey(ctx context.Context) string {
	return firstMetadataValue(ctx, idempotencyKeyHeader)
}

func firstMetadataValue(ctx context.Context, key string) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(key); len(values) > 0 && strings.TrimSpace(values[0]) != "" {
			return strings.TrimSpace(values[0])
		}
	}
	return ""
}

func toOrder(order domain.Order) Order {
	out := Order{
		ID:         order.ID,
		UserID:     order.UserID,
		Status:     string(order.Status),
		Total:      domain.FormatMinor(order.TotalMinor),
		TotalMinor: order.TotalMinor,
		Items:      make([]OrderItem, 0, len(order.Items)),
		CreatedAt:  order.CreatedAt,
		UpdatedAt:  order.UpdatedAt,
	}
	for _, item := range order.Items {
		out.Items = append(out.Items, OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Price:     domain.FormatMinor(item.PriceMinor),
		})
	}
	return out
}
