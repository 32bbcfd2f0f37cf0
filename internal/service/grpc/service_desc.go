package grpcsvc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName - полное имя gRPC-сервиса заказов.
const ServiceName = "ordercore.v1.OrderService"

// Полные имена методов; используются клиентом, интерсепторами и как scope idempotency-key.
const (
	MethodCreateOrder       = "/" + ServiceName + "/CreateOrder"
	MethodGetOrder          = "/" + ServiceName + "/GetOrder"
	MethodListOrders        = "/" + ServiceName + "/ListOrders"
	MethodUpdateOrderStatus = "/" + ServiceName + "/UpdateOrderStatus"
	MethodCancelOrder       = "/" + ServiceName + "/CancelOrder"
	MethodGetOrderTimeline  = "/" + ServiceName + "/GetOrderTimeline"
)

// OrderServiceServer - серверная сторона ordercore.v1.OrderService.
type OrderServiceServer interface {
	CreateOrder(context.Context, *CreateOrderRequest) (*CreateOrderResponse, error)
	GetOrder(context.Context, *GetOrderRequest) (*GetOrderResponse, error)
	ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error)
	UpdateOrderStatus(context.Context, *UpdateOrderStatusRequest) (*UpdateOrderStatusResponse, error)
	CancelOrder(context.Context, *CancelOrderRequest) (*CancelOrderResponse, error)
	GetOrderTimeline(context.Context, *GetOrderTimelineRequest) (*GetOrderTimelineResponse, error)
}

// unaryHandler строит grpc.MethodHandler для метода с запросом Req и ответом Resp.
func unaryHandler[Req, Resp any](fullMethod string, call func(OrderServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		server := srv.(OrderServiceServer)
		if interceptor == nil {
			return call(server, ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(server, ctx, req.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}

// OrderServiceDesc описывает сервис для grpc.Server.RegisterService.
var OrderServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*OrderServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateOrder", Handler: unaryHandler(MethodCreateOrder, OrderServiceServer.CreateOrder)},
		{MethodName: "GetOrder", Handler: unaryHandler(MethodGetOrder, OrderServiceServer.GetOrder)},
		{MethodName: "ListOrders", Handler: unaryHandler(MethodListOrders, OrderServiceServer.ListOrders)},
		{MethodName: "UpdateOrderStatus", Handler: unaryHandler(MethodUpdateOrderStatus, OrderServiceServer.UpdateOrderStatus)},
		{MethodName: "CancelOrder", Handler: unaryHandler(MethodCancelOrder, OrderServiceServer.CancelOrder)},
		{MethodName: "GetOrderTimeline", Handler: unaryHandler(MethodGetOrderTimeline, OrderServiceServer.GetOrderTimeline)},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterOrderServiceServer регистрирует реализацию на сервере.
func RegisterOrderServiceServer(registrar grpc.ServiceRegistrar, srv OrderServiceServer) {
	registrar.RegisterService(&OrderServiceDesc, srv)
}

// OrderServiceClient - клиент ordercore.v1.OrderService. Все вызовы идут с JSON-кодеком.
type OrderServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewOrderServiceClient создаёт клиента поверх соединения.
func NewOrderServiceClient(cc grpc.ClientConnInterface) *OrderServiceClient {
	return &OrderServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *OrderServiceClient) CreateOrder(ctx context.Context, in *CreateOrderRequest, opts ...grpc.CallOption) (*CreateOrderResponse, error) {
	return invoke[CreateOrderResponse](ctx, c.cc, MethodCreateOrder, in, opts)
}

func (c *OrderServiceClient) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*GetOrderResponse, error) {
	return invoke[GetOrderResponse](ctx, c.cc, MethodGetOrder, in, opts)
}

func (c *OrderServiceClient) ListOrders(ctx context.Context, in *ListOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error) {
	return invoke[ListOrdersResponse](ctx, c.cc, MethodListOrders, in, opts)
}

func (c *OrderServiceClient) UpdateOrderStatus(ctx context.Context, in *UpdateOrderStatusRequest, opts ...grpc.CallOption) (*UpdateOrderStatusResponse, error) {
	return invoke[UpdateOrderStatusResponse](ctx, c.cc, MethodUpdateOrderStatus, in, opts)
}

func (c *OrderServiceClient) CancelOrder(ctx context.Context, in *CancelOrderRequest, opts ...grpc.CallOption) (*CancelOrderResponse, error) {
	return invoke[CancelOrderResponse](ctx, c.cc, MethodCancelOrder, in, opts)
}

func (c *OrderServiceClient) GetOrderTimeline(ctx context.Context, in *GetOrderTimelineRequest, opts ...grpc.CallOption) (*GetOrderTimelineResponse, error) {
	return invoke[GetOrderTimelineResponse](ctx, c.cc, MethodGetOrderTimeline, in, opts)
}
