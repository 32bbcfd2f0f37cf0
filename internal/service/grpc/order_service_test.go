package grpcsvc_test

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/ordercore/internal/service/grpc"
	"github.com/vladislavdragonenkov/ordercore/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordercore/internal/service/orders"
	"github.com/vladislavdragonenkov/ordercore/internal/storage/memory"
)

const bufSize = 1024 * 1024

type testEnv struct {
	store  *memory.Store
	client *grpcsvc.OrderServiceClient
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	store := memory.NewStore()
	logger := loggerForTests()
	api := orders.NewService(store, orders.WithLogger(logger))
	runner := idempotency.NewRunner(memory.NewIdempotencyRepository())
	conn := serve(t, grpcsvc.NewOrderService(api, runner, logger))
	return testEnv{store: store, client: grpcsvc.NewOrderServiceClient(conn)}
}

func serve(t *testing.T, service grpcsvc.OrderServiceServer) *grpc.ClientConn {
	t.Helper()
	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer()
	grpcsvc.RegisterOrderServiceServer(server, service)

	go func() {
		_ = server.Serve(listener)
	}()

	dialer := func(context.Context, string) (net.Conn, error) {
		return listener.Dial()
	}

	//nolint:staticcheck // grpc.Dial is required for bufconn testing
	conn, err := grpc.Dial("bufnet", grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
	})
	return conn
}

func loggerForTests() *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: false, DisableTimestamp: true})
	logger.SetLevel(logrus.DebugLevel)
	return logger.WithField("component", "test")
}

func (e testEnv) seed(t *testing.T, name, price string, stock int64) domain.Product {
	t.Helper()
	product, err := e.store.Products().Create(context.Background(), domain.Product{
		Name:       name,
		PriceMinor: domain.MustParseMinor(price),
		Stock:      stock,
	})
	require.NoError(t, err)
	return product
}

func (e testEnv) stock(t *testing.T, id int64) int64 {
	t.Helper()
	product, err := e.store.Products().Get(context.Background(), id)
	require.NoError(t, err)
	return product.Stock
}

func asUser(userID int64, kv ...string) context.Context {
	pairs := append([]string{"x-user-id", strconv.FormatInt(userID, 10)}, kv...)
	return metadata.AppendToOutgoingContext(context.Background(), pairs...)
}

func TestCreateAndGetOrder(t *testing.T) {
	env := newTestEnv(t)
	book := env.seed(t, "Book", "12.49", 10)

	created, err := env.client.CreateOrder(asUser(1), &grpcsvc.CreateOrderRequest{
		Items: []grpcsvc.OrderItem{{ProductID: book.ID, Quantity: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, "24.98", created.Order.Total)
	assert.Equal(t, int64(2498), created.Order.TotalMinor)
	assert.Equal(t, "pending", created.Order.Status)
	require.Len(t, created.Order.Items, 1)
	assert.Equal(t, "12.49", created.Order.Items[0].Price)
	assert.Equal(t, int64(8), env.stock(t, book.ID))

	got, err := env.client.GetOrder(asUser(1), &grpcsvc.GetOrderRequest{OrderID: created.Order.ID})
	require.NoError(t, err)
	assert.Equal(t, created.Order.ID, got.Order.ID)
	assert.Equal(t, int64(1), got.Order.UserID)
}

func TestMissingIdentityIsUnauthenticated(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.client.ListOrders(context.Background(), &grpcsvc.ListOrdersRequest{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-user-id", "abc")
	_, err = env.client.ListOrders(ctx, &grpcsvc.ListOrdersRequest{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestInsufficientStockCarriesProductInTrailer(t *testing.T) {
	env := newTestEnv(t)
	pen := env.seed(t, "Pen", "1.00", 1)

	var trailer metadata.MD
	_, err := env.client.CreateOrder(asUser(1), &grpcsvc.CreateOrderRequest{
		Items: []grpcsvc.OrderItem{{ProductID: pen.ID, Quantity: 2}},
	}, grpc.Trailer(&trailer))

	st := status.Convert(err)
	assert.Equal(t, codes.FailedPrecondition, st.Code())
	assert.Equal(t, "insufficient stock for product Pen", st.Message())
	assert.Equal(t, []string{"insufficient_stock"}, trailer.Get(grpcsvc.ErrorKindTrailer))
	assert.Equal(t, []string{strconv.FormatInt(pen.ID, 10)}, trailer.Get(grpcsvc.ProductIDTrailer))
	assert.Equal(t, int64(1), env.stock(t, pen.ID))
}

func TestErrorCodes(t *testing.T) {
	env := newTestEnv(t)
	book := env.seed(t, "Book", "12.49", 10)
	created, err := env.client.CreateOrder(asUser(1), &grpcsvc.CreateOrderRequest{
		Items: []grpcsvc.OrderItem{{ProductID: book.ID, Quantity: 1}},
	})
	require.NoError(t, err)
	orderID := created.Order.ID

	tests := []struct {
		name string
		call func() error
		want codes.Code
	}{
		{
			name: "empty items",
			call: func() error {
				_, err := env.client.CreateOrder(asUser(1), &grpcsvc.CreateOrderRequest{Items: []grpcsvc.OrderItem{}})
				return err
			},
			want: codes.InvalidArgument,
		},
		{
			name: "unknown product",
			call: func() error {
				_, err := env.client.CreateOrder(asUser(1), &grpcsvc.CreateOrderRequest{
					Items: []grpcsvc.OrderItem{{ProductID: 999, Quantity: 1}},
				})
				return err
			},
			want: codes.NotFound,
		},
		{
			name: "unknown order",
			call: func() error {
				_, err := env.client.GetOrder(asUser(1), &grpcsvc.GetOrderRequest{OrderID: "missing"})
				return err
			},
			want: codes.NotFound,
		},
		{
			name: "foreign order",
			call: func() error {
				_, err := env.client.GetOrder(asUser(2), &grpcsvc.GetOrderRequest{OrderID: orderID})
				return err
			},
			want: codes.PermissionDenied,
		},
		{
			name: "empty order id",
			call: func() error {
				_, err := env.client.CancelOrder(asUser(1), &grpcsvc.CancelOrderRequest{})
				return err
			},
			want: codes.InvalidArgument,
		},
		{
			name: "unknown status",
			call: func() error {
				_, err := env.client.UpdateOrderStatus(asUser(1), &grpcsvc.UpdateOrderStatusRequest{OrderID: orderID, Status: "lost"})
				return err
			},
			want: codes.InvalidArgument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(tt.call()))
		})
	}
}

func TestCancelRestocksAndSecondCancelFails(t *testing.T) {
	env := newTestEnv(t)
	book := env.seed(t, "Book", "12.49", 10)

	created, err := env.client.CreateOrder(asUser(1), &grpcsvc.CreateOrderRequest{
		Items: []grpcsvc.OrderItem{{ProductID: book.ID, Quantity: 3}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(7), env.stock(t, book.ID))

	resp, err := env.client.CancelOrder(asUser(1), &grpcsvc.CancelOrderRequest{OrderID: created.Order.ID})
	require.NoError(t, err)
	assert.Equal(t, "cancelled", resp.Status)
	assert.Equal(t, int64(10), env.stock(t, book.ID))

	var trailer metadata.MD
	_, err = env.client.CancelOrder(asUser(1), &grpcsvc.CancelOrderRequest{OrderID: created.Order.ID}, grpc.Trailer(&trailer))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
	assert.Equal(t, []string{"invalid_state"}, trailer.Get(grpcsvc.ErrorKindTrailer))
	assert.Equal(t, int64(10), env.stock(t, book.ID))
}

func TestUpdateStatusAndTimeline(t *testing.T) {
	env := newTestEnv(t)
	book := env.seed(t, "Book", "12.49", 10)

	created, err := env.client.CreateOrder(asUser(1), &grpcsvc.CreateOrderRequest{
		Items: []grpcsvc.OrderItem{{ProductID: book.ID, Quantity: 1}},
	})
	require.NoError(t, err)

	updated, err := env.client.UpdateOrderStatus(asUser(1), &grpcsvc.UpdateOrderStatusRequest{OrderID: created.Order.ID, Status: "shipped"})
	require.NoError(t, err)
	assert.Equal(t, "shipped", updated.Order.Status)

	_, err = env.client.CancelOrder(asUser(1), &grpcsvc.CancelOrderRequest{OrderID: created.Order.ID})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	timeline, err := env.client.GetOrderTimeline(asUser(1), &grpcsvc.GetOrderTimelineRequest{OrderID: created.Order.ID})
	require.NoError(t, err)
	require.Len(t, timeline.Events, 2)
	assert.Equal(t, domain.TimelineOrderCreated, timeline.Events[0].Type)
	assert.Equal(t, domain.TimelineOrderStatusChanged, timeline.Events[1].Type)
	assert.Equal(t, "pending", timeline.Events[1].From)
	assert.Equal(t, "shipped", timeline.Events[1].To)

	list, err := env.client.ListOrders(asUser(1), &grpcsvc.ListOrdersRequest{})
	require.NoError(t, err)
	require.Len(t, list.Orders, 1)

	other, err := env.client.ListOrders(asUser(2), &grpcsvc.ListOrdersRequest{})
	require.NoError(t, err)
	assert.Empty(t, other.Orders)
}

func TestCreateOrderIdempotencyReplay(t *testing.T) {
	env := newTestEnv(t)
	book := env.seed(t, "Book", "12.49", 10)
	req := &grpcsvc.CreateOrderRequest{Items: []grpcsvc.OrderItem{{ProductID: book.ID, Quantity: 2}}}

	first, err := env.client.CreateOrder(asUser(1, "idempotency-key", "create-1"), req)
	require.NoError(t, err)

	var header metadata.MD
	second, err := env.client.CreateOrder(asUser(1, "idempotency-key", "create-1"), req, grpc.Header(&header))
	require.NoError(t, err)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, []string{"true"}, header.Get(grpcsvc.ReplayHeader))
	assert.Equal(t, int64(8), env.stock(t, book.ID))

	changed := &grpcsvc.CreateOrderRequest{Items: []grpcsvc.OrderItem{{ProductID: book.ID, Quantity: 3}}}
	_, err = env.client.CreateOrder(asUser(1, "idempotency-key", "create-1"), changed)
	assert.Equal(t, codes.AlreadyExists, status.Code(err))
}

func TestCreateOrderIdempotencyReplaysRejection(t *testing.T) {
	env := newTestEnv(t)
	pen := env.seed(t, "Pen", "1.00", 1)
	req := &grpcsvc.CreateOrderRequest{Items: []grpcsvc.OrderItem{{ProductID: pen.ID, Quantity: 5}}}

	_, err := env.client.CreateOrder(asUser(1, "idempotency-key", "create-2"), req)
	require.Equal(t, codes.FailedPrecondition, status.Code(err))

	var trailer metadata.MD
	_, err = env.client.CreateOrder(asUser(1, "idempotency-key", "create-2"), req, grpc.Trailer(&trailer))
	st := status.Convert(err)
	assert.Equal(t, codes.FailedPrecondition, st.Code())
	assert.Equal(t, "insufficient stock for product Pen", st.Message())
	assert.Equal(t, []string{"insufficient_stock"}, trailer.Get(grpcsvc.ErrorKindTrailer))
}

type failingAPI struct {
	orders.API
}

func (failingAPI) ListOrders(context.Context, int64) ([]domain.Order, error) {
	return nil, domain.Internal("list orders", assert.AnError)
}

func TestInternalErrorsHideDetails(t *testing.T) {
	conn := serve(t, grpcsvc.NewOrderService(failingAPI{}, nil, loggerForTests()))
	client := grpcsvc.NewOrderServiceClient(conn)

	var trailer metadata.MD
	_, err := client.ListOrders(asUser(1), &grpcsvc.ListOrdersRequest{}, grpc.Trailer(&trailer))
	st := status.Convert(err)
	assert.Equal(t, codes.Internal, st.Code())
	assert.Equal(t, "internal error", st.Message())
	assert.Equal(t, []string{"internal"}, trailer.Get(grpcsvc.ErrorKindTrailer))
}

func TestJSONCodecHandlesProtoMessages(t *testing.T) {
	codec := encoding.GetCodec(grpcsvc.CodecName)
	require.NotNil(t, codec)

	data, err := codec.Marshal(&healthpb.HealthCheckRequest{Service: "ordercore"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"service":"ordercore"}`, string(data))

	var decoded healthpb.HealthCheckRequest
	require.NoError(t, codec.Unmarshal(data, &decoded))
	assert.Equal(t, "ordercore", decoded.GetService())

	data, err = codec.Marshal(&grpcsvc.GetOrderRequest{OrderID: "o-1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"order_id":"o-1"}`, string(data))
}
