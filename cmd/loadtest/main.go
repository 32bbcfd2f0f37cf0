// Команда loadtest бьёт конкурирующими CreateOrder в один товар и проверяет,
// что сервис продал ровно столько, сколько было на складе.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/ordercore/internal/service/grpc"
)

const userIDHeader = "x-user-id"

type orderCreator interface {
	CreateOrder(ctx context.Context, in *grpcsvc.CreateOrderRequest, opts ...grpc.CallOption) (*grpcsvc.CreateOrderResponse, error)
}

type config struct {
	addr        string
	productID   int64
	quantity    int
	total       int
	concurrency int
	connections int
	userBase    int64
	timeout     time.Duration
	// expectStock < 0 - остаток не проверяется.
	expectStock int64
	outputPath  string
}

func (c config) validate() error {
	switch {
	case c.productID <= 0:
		return errors.New("product-id must be > 0")
	case c.quantity <= 0 || c.quantity > math.MaxInt32:
		return fmt.Errorf("quantity must be between 1 and %d", math.MaxInt32)
	case c.total <= 0:
		return errors.New("total must be > 0")
	case c.concurrency <= 0:
		return errors.New("concurrency must be > 0")
	case c.connections <= 0:
		return errors.New("connections must be > 0")
	case c.userBase <= 0:
		return errors.New("user-base must be > 0")
	case c.timeout <= 0:
		return errors.New("timeout must be > 0")
	case c.expectStock < -1:
		return errors.New("expect-stock must be >= 0")
	}
	return nil
}

type report struct {
	StartedAt       time.Time        `json:"started_at"`
	DurationSeconds float64          `json:"duration_seconds"`
	ProductID       int64            `json:"product_id"`
	Quantity        int              `json:"quantity"`
	Total           int64            `json:"total"`
	Created         int64            `json:"created"`
	Insufficient    int64            `json:"insufficient_stock"`
	Failed          int64            `json:"failed"`
	UnitsReserved   int64            `json:"units_reserved"`
	RPS             float64          `json:"rps"`
	Codes           map[string]int64 `json:"codes"`
	LatencyMs       latencySummary   `json:"latency_ms"`
}

func newReport(cfg config, t *tally, startedAt time.Time, elapsed time.Duration) report {
	r := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		ProductID:       cfg.productID,
		Quantity:        cfg.quantity,
		Created:         t.count(outcomeCreated),
		Insufficient:    t.count(outcomeInsufficient),
		Failed:          t.count(outcomeFailed),
		Codes:           t.codeCounts(),
		LatencyMs:       t.summary(),
	}
	r.Total = r.Created + r.Insufficient + r.Failed
	r.UnitsReserved = r.Created * int64(cfg.quantity)
	if elapsed > 0 {
		r.RPS = float64(r.Total) / elapsed.Seconds()
	}
	return r
}

func parseConfig(args []string) (config, error) {
	var (
		cfg     config
		timeout string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "order service gRPC address")
	fs.Int64Var(&cfg.productID, "product-id", 0, "product every call orders")
	fs.IntVar(&cfg.quantity, "quantity", 1, "units per order")
	fs.IntVar(&cfg.total, "total", 100, "CreateOrder calls to make")
	fs.IntVar(&cfg.concurrency, "concurrency", 20, "calls in flight at once")
	fs.IntVar(&cfg.connections, "connections", 4, "gRPC connections to spread calls over")
	fs.Int64Var(&cfg.userBase, "user-base", 1, "user id of the first call; call i acts as user-base+i")
	fs.StringVar(&timeout, "timeout", "5s", "per-call deadline")
	fs.Int64Var(&cfg.expectStock, "expect-stock", -1, "stock before the run; enables the oversell check")
	fs.StringVar(&cfg.outputPath, "output", "", "write the JSON report to this file")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	d, err := time.ParseDuration(strings.TrimSpace(timeout))
	if err != nil {
		return config{}, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = d

	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func main() {
	if err := realMain(os.Args[1:], os.Stdout); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func realMain(args []string, out io.Writer) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	clients := make([]orderCreator, 0, cfg.connections)
	for range cfg.connections {
		conn, err := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("create grpc client: %w", err)
		}
		defer conn.Close()
		clients = append(clients, grpcsvc.NewOrderServiceClient(conn))
	}

	result := run(context.Background(), clients, cfg)
	printReport(out, result)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	if err := verify(result, cfg); err != nil {
		return fmt.Errorf("race check failed: %w", err)
	}
	return nil
}

// run делает cfg.total вызовов CreateOrder, каждый от своего пользователя,
// распределяя их по клиентам по кругу.
func run(ctx context.Context, clients []orderCreator, cfg config) report {
	t := newTally()
	startedAt := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.concurrency)
	for i := range cfg.total {
		client := clients[i%len(clients)]
		userID := cfg.userBase + int64(i)
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, cfg.timeout)
			defer cancel()
			callCtx = metadata.AppendToOutgoingContext(callCtx, userIDHeader, strconv.FormatInt(userID, 10))

			var trailer metadata.MD
			began := time.Now()
			_, err := client.CreateOrder(callCtx, &grpcsvc.CreateOrderRequest{
				Items: []grpcsvc.OrderItem{{ProductID: cfg.productID, Quantity: int32(cfg.quantity)}},
			}, grpc.Trailer(&trailer))
			t.observe(classify(err, trailer), status.Code(err), time.Since(began))
			return nil
		})
	}
	_ = g.Wait()

	return newReport(cfg, t, startedAt, time.Since(startedAt))
}

// classify отличает отказ по остатку (FailedPrecondition с видом ошибки в трейлере)
// от прочих ошибок.
func classify(err error, trailer metadata.MD) outcome {
	switch {
	case err == nil:
		return outcomeCreated
	case status.Code(err) == codes.FailedPrecondition &&
		slices.Contains(trailer.Get(grpcsvc.ErrorKindTrailer), string(domain.KindInsufficientStock)):
		return outcomeInsufficient
	default:
		return outcomeFailed
	}
}

// verify проверяет, что склад не ушёл в минус и не потерял резервы.
func verify(result report, cfg config) error {
	if result.Failed > 0 {
		return fmt.Errorf("%d calls failed with unexpected errors", result.Failed)
	}
	if cfg.expectStock < 0 {
		return nil
	}

	want := min(cfg.expectStock/int64(cfg.quantity), int64(cfg.total))
	if result.Created != want {
		return fmt.Errorf("created %d orders, want %d for stock %d", result.Created, want, cfg.expectStock)
	}
	return nil
}

func writeJSONReport(path string, result report) error {
	clean := filepath.Clean(path)
	switch {
	case clean == "." || clean == string(filepath.Separator):
		return errors.New("output path must point to a file")
	case clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)):
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	body, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(clean, append(body, '\n'), 0o600)
}

func printReport(w io.Writer, r report) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "product=%d quantity=%d total=%d created=%d insufficient_stock=%d failed=%d units_reserved=%d\n",
		r.ProductID, r.Quantity, r.Total, r.Created, r.Insufficient, r.Failed, r.UnitsReserved)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f\n", r.DurationSeconds, r.RPS)
	_, _ = fmt.Fprintf(w, "latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		r.LatencyMs.Min, r.LatencyMs.Avg, r.LatencyMs.P50, r.LatencyMs.P95, r.LatencyMs.P99, r.LatencyMs.Max)

	names := make([]string, 0, len(r.Codes))
	for name := range r.Codes {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		_, _ = fmt.Fprintf(w, "code %s: %d\n", name, r.Codes[name])
	}
}
