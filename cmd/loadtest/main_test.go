package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/ordercore/internal/service/grpc"
	"github.com/vladislavdragonenkov/ordercore/internal/service/idempotency"
	"github.com/vladislavdragonenkov/ordercore/internal/service/orders"
	"github.com/vladislavdragonenkov/ordercore/internal/storage/memory"
)

type fakeCreator struct {
	createFn func(context.Context, *grpcsvc.CreateOrderRequest) (*grpcsvc.CreateOrderResponse, metadata.MD, error)
}

func (f *fakeCreator) CreateOrder(ctx context.Context, req *grpcsvc.CreateOrderRequest, opts ...grpc.CallOption) (*grpcsvc.CreateOrderResponse, error) {
	resp, trailer, err := f.createFn(ctx, req)
	for _, opt := range opts {
		if t, ok := opt.(grpc.TrailerCallOption); ok {
			*t.TrailerAddr = trailer
		}
	}
	return resp, err
}

func insufficientTrailer() metadata.MD {
	return metadata.Pairs(grpcsvc.ErrorKindTrailer, string(domain.KindInsufficientStock))
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig([]string{
		"-addr=127.0.0.1:50051",
		"-product-id=7",
		"-quantity=2",
		"-total=12",
		"-concurrency=3",
		"-connections=2",
		"-user-base=100",
		"-timeout= 2s ",
		"-expect-stock=10",
		"-output=out.json",
	})
	require.NoError(t, err)
	assert.Equal(t, config{
		addr:        "127.0.0.1:50051",
		productID:   7,
		quantity:    2,
		total:       12,
		concurrency: 3,
		connections: 2,
		userBase:    100,
		timeout:     2 * time.Second,
		expectStock: 10,
		outputPath:  "out.json",
	}, cfg)

	defaults, err := parseConfig([]string{"-product-id=1"})
	require.NoError(t, err)
	assert.Equal(t, int64(-1), defaults.expectStock)
	assert.Equal(t, 100, defaults.total)
	assert.Equal(t, 1, defaults.quantity)
	assert.Equal(t, 5*time.Second, defaults.timeout)
}

func TestParseConfig_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "missing product", args: nil, wantErr: "product-id must be > 0"},
		{name: "zero quantity", args: []string{"-product-id=1", "-quantity=0"}, wantErr: "quantity must be between"},
		{name: "huge quantity", args: []string{"-product-id=1", "-quantity=3000000000"}, wantErr: "quantity must be between"},
		{name: "zero total", args: []string{"-product-id=1", "-total=0"}, wantErr: "total must be > 0"},
		{name: "zero concurrency", args: []string{"-product-id=1", "-concurrency=0"}, wantErr: "concurrency must be > 0"},
		{name: "zero connections", args: []string{"-product-id=1", "-connections=0"}, wantErr: "connections must be > 0"},
		{name: "zero user base", args: []string{"-product-id=1", "-user-base=0"}, wantErr: "user-base must be > 0"},
		{name: "invalid timeout", args: []string{"-product-id=1", "-timeout=bad"}, wantErr: "parse timeout"},
		{name: "zero timeout", args: []string{"-product-id=1", "-timeout=0s"}, wantErr: "timeout must be > 0"},
		{name: "negative stock", args: []string{"-product-id=1", "-expect-stock=-5"}, wantErr: "expect-stock must be >= 0"},
		{name: "unknown flag", args: []string{"-mode=create"}, wantErr: "flag provided but not defined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseConfig(tt.args)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestClassify(t *testing.T) {
	insufficient := status.Error(codes.FailedPrecondition, "insufficient stock for product Book")
	invalidState := status.Error(codes.FailedPrecondition, "only pending orders can be cancelled")

	tests := []struct {
		name    string
		err     error
		trailer metadata.MD
		want    outcome
	}{
		{name: "success", want: outcomeCreated},
		{name: "insufficient stock", err: insufficient, trailer: insufficientTrailer(), want: outcomeInsufficient},
		{name: "precondition without trailer", err: insufficient, want: outcomeFailed},
		{
			name:    "invalid state",
			err:     invalidState,
			trailer: metadata.Pairs(grpcsvc.ErrorKindTrailer, string(domain.KindInvalidState)),
			want:    outcomeFailed,
		},
		{name: "unavailable", err: status.Error(codes.Unavailable, "down"), trailer: insufficientTrailer(), want: outcomeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err, tt.trailer))
		})
	}
}

func TestRun_WithFakeClient(t *testing.T) {
	remaining := make(chan struct{}, 3)
	for range 3 {
		remaining <- struct{}{}
	}

	seenUsers := make(chan string, 10)
	client := &fakeCreator{createFn: func(ctx context.Context, req *grpcsvc.CreateOrderRequest) (*grpcsvc.CreateOrderResponse, metadata.MD, error) {
		md, _ := metadata.FromOutgoingContext(ctx)
		seenUsers <- strings.Join(md.Get(userIDHeader), ",")
		if len(req.Items) != 1 || req.Items[0].ProductID != 9 || req.Items[0].Quantity != 1 {
			return nil, nil, status.Error(codes.InvalidArgument, "unexpected request")
		}
		select {
		case <-remaining:
			return &grpcsvc.CreateOrderResponse{Order: grpcsvc.Order{ID: "order"}}, nil, nil
		default:
			return nil, insufficientTrailer(), status.Error(codes.FailedPrecondition, "insufficient stock")
		}
	}}

	cfg := config{productID: 9, quantity: 1, total: 10, concurrency: 4, userBase: 50, timeout: time.Second, expectStock: 3}
	result := run(context.Background(), []orderCreator{client}, cfg)

	assert.Equal(t, int64(10), result.Total)
	assert.Equal(t, int64(3), result.Created)
	assert.Equal(t, int64(7), result.Insufficient)
	assert.Zero(t, result.Failed)
	assert.Equal(t, int64(3), result.UnitsReserved)
	assert.Equal(t, map[string]int64{"OK": 3, "FailedPrecondition": 7}, result.Codes)
	require.NoError(t, verify(result, cfg))

	close(seenUsers)
	users := map[string]bool{}
	for user := range seenUsers {
		users[user] = true
	}
	assert.Len(t, users, 10, "every call acts as its own user")
	assert.True(t, users["50"], "user-base is the first user id")
}

func TestVerify(t *testing.T) {
	cfg := config{quantity: 2, total: 10, expectStock: 7}

	assert.NoError(t, verify(report{Created: 3, Insufficient: 7}, cfg))
	assert.ErrorContains(t, verify(report{Created: 4, Insufficient: 6}, cfg), "want 3")
	assert.ErrorContains(t, verify(report{Created: 3, Failed: 1}, cfg), "unexpected errors")

	cfg.expectStock = 100
	assert.NoError(t, verify(report{Created: 10}, cfg), "stock above demand")

	cfg.expectStock = -1
	assert.NoError(t, verify(report{Created: 1, Insufficient: 9}, cfg), "stock not checked")
}

func TestRun_LastUnitsRaceAgainstService(t *testing.T) {
	store := memory.NewStore()
	product, err := store.Products().Create(context.Background(), domain.Product{
		Name:       "Limited",
		PriceMinor: 500,
		Stock:      5,
	})
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	entry := logger.WithField("component", "loadtest-test")
	service := grpcsvc.NewOrderService(orders.NewService(store, orders.WithLogger(entry)), idempotency.NewRunner(nil), entry)

	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	grpcsvc.RegisterOrderServiceServer(server, service)
	go func() { _ = server.Serve(listener) }()
	defer server.Stop()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return listener.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	cfg := config{productID: product.ID, quantity: 1, total: 20, concurrency: 20, userBase: 1, timeout: 5 * time.Second, expectStock: 5}
	result := run(context.Background(), []orderCreator{grpcsvc.NewOrderServiceClient(conn)}, cfg)

	assert.Equal(t, int64(5), result.Created)
	assert.Equal(t, int64(15), result.Insufficient)
	assert.Zero(t, result.Failed)
	require.NoError(t, verify(result, cfg))

	left, err := store.Products().Get(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Zero(t, left.Stock)
}

func TestTally_Summary(t *testing.T) {
	assert.Equal(t, latencySummary{}, newTally().summary())

	tl := newTally()
	for _, ms := range []int{5, 1, 3, 2, 4} {
		tl.observe(outcomeCreated, codes.OK, time.Duration(ms)*time.Millisecond)
	}

	s := tl.summary()
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 5.0, s.Max)
	assert.InDelta(t, 3.0, s.Avg, 1e-9)
	assert.InDelta(t, 3.0, s.P50, 1)
	assert.GreaterOrEqual(t, s.P99, s.P50)
	assert.LessOrEqual(t, s.P99, s.Max)
}

func TestNewReport(t *testing.T) {
	tl := newTally()
	tl.observe(outcomeCreated, codes.OK, 10*time.Millisecond)
	tl.observe(outcomeInsufficient, codes.FailedPrecondition, 20*time.Millisecond)
	tl.observe(outcomeFailed, codes.Unavailable, 30*time.Millisecond)

	r := newReport(config{productID: 3, quantity: 4}, tl, time.Now(), 2*time.Second)
	assert.Equal(t, int64(3), r.Total)
	assert.Equal(t, int64(1), r.Created)
	assert.Equal(t, int64(1), r.Insufficient)
	assert.Equal(t, int64(1), r.Failed)
	assert.Equal(t, int64(4), r.UnitsReserved)
	assert.Equal(t, 1.5, r.RPS)
	assert.Equal(t, 30.0, r.LatencyMs.Max)
	assert.Equal(t, map[string]int64{"OK": 1, "FailedPrecondition": 1, "Unavailable": 1}, r.Codes)
}

func TestWriteJSONReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	sample := report{Total: 2, Created: 1, Insufficient: 1}
	require.NoError(t, writeJSONReport(path, sample))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, sample.Total, decoded.Total)
	assert.Equal(t, sample.Created, decoded.Created)
	assert.Equal(t, sample.Insufficient, decoded.Insufficient)

	assert.Error(t, writeJSONReport(".", sample), "directory")
	assert.Error(t, writeJSONReport("../outside.json", sample), "outside working directory")
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	printReport(&out, report{
		ProductID:    4,
		Quantity:     1,
		Total:        3,
		Created:      2,
		Insufficient: 1,
		Codes:        map[string]int64{"OK": 2, "FailedPrecondition": 1},
	})

	text := out.String()
	assert.Contains(t, text, "Load test summary")
	assert.Contains(t, text, "created=2 insufficient_stock=1 failed=0")
	assert.Less(t, strings.Index(text, "code FailedPrecondition: 1"), strings.Index(text, "code OK: 2"), "codes are sorted")
}

func TestRealMain_InvalidConfig(t *testing.T) {
	assert.ErrorContains(t, realMain([]string{"-total=0", "-product-id=1"}, io.Discard), "invalid config")
}
