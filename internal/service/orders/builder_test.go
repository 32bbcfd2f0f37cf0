package orders_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	"github.com/vladislavdragonenkov/ordercore/internal/service/orders"
)

type stubCatalog struct {
	products map[int64]domain.Product
	err      error
	calls    int
}

func (c *stubCatalog) Get(_ context.Context, id int64) (domain.Product, error) {
	c.calls++
	if c.err != nil {
		return domain.Product{}, c.err
	}
	product, ok := c.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (c *stubCatalog) Create(context.Context, domain.Product) (domain.Product, error) {
	return domain.Product{}, errors.New("not supported")
}

func (c *stubCatalog) List(context.Context) ([]domain.Product, error) { return nil, nil }

func TestBuilder_BuildsPendingOrder(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	catalog := &stubCatalog{products: map[int64]domain.Product{
		1: {ID: 1, Name: "Book", PriceMinor: 1249, Stock: 5},
		2: {ID: 2, Name: "Pen", PriceMinor: 150, Stock: 10},
	}}
	builder := orders.NewBuilder(func() time.Time { return at })

	order, lines, err := builder.Build(context.Background(), catalog, 42, []orders.ItemRequest{
		{ProductID: 2, Quantity: 3},
		{ProductID: 1, Quantity: 1},
		{ProductID: 2, Quantity: 1},
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if order.UserID != 42 || order.Status != domain.OrderStatusPending {
		t.Fatalf("unexpected order header %+v", order)
	}
	if !order.CreatedAt.Equal(at) || !order.UpdatedAt.Equal(at) {
		t.Fatalf("unexpected timestamps %v / %v", order.CreatedAt, order.UpdatedAt)
	}
	if order.TotalMinor != 3*150+1249+150 {
		t.Fatalf("unexpected total %d", order.TotalMinor)
	}
	if len(order.Items) != 3 || order.Items[0].ProductID != 2 || order.Items[1].ProductID != 1 {
		t.Fatalf("items must keep request order, got %+v", order.Items)
	}
	if len(lines) != 3 || domain.TotalUnits(lines) != 5 {
		t.Fatalf("unexpected reservation lines %+v", lines)
	}
	if catalog.calls != 2 {
		t.Fatalf("each product must be loaded once, got %d calls", catalog.calls)
	}
}

func TestBuilder_CatalogFailureIsInternal(t *testing.T) {
	catalog := &stubCatalog{err: errors.New("connection refused")}
	builder := orders.NewBuilder(nil)

	_, _, err := builder.Build(context.Background(), catalog, 1, []orders.ItemRequest{{ProductID: 1, Quantity: 1}})
	if !domain.IsKind(err, domain.KindInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if !domain.Retryable(err) {
		t.Fatal("catalog failures must be retryable")
	}
}

func TestBuilder_FirstFailingLineWins(t *testing.T) {
	catalog := &stubCatalog{products: map[int64]domain.Product{
		1: {ID: 1, Name: "A", PriceMinor: 100, Stock: 1},
		2: {ID: 2, Name: "B", PriceMinor: 100, Stock: 0},
	}}
	builder := orders.NewBuilder(nil)

	_, _, err := builder.Build(context.Background(), catalog, 1, []orders.ItemRequest{
		{ProductID: 1, Quantity: 2},
		{ProductID: 2, Quantity: 1},
	})
	var derr *domain.Error
	if !errors.As(err, &derr) || derr.Kind != domain.KindInsufficientStock || derr.ProductID != 1 {
		t.Fatalf("expected insufficient stock for product 1, got %v", err)
	}
}

func TestBuilder_RejectsTotalOverflow(t *testing.T) {
	catalog := &stubCatalog{products: map[int64]domain.Product{
		1: {ID: 1, Name: "Gold bar", PriceMinor: 5_000_000_000_000_000_000, Stock: 10},
		2: {ID: 2, Name: "Pen", PriceMinor: 150, Stock: 10},
	}}
	builder := orders.NewBuilder(nil)

	cases := []struct {
		name  string
		items []orders.ItemRequest
	}{
		{name: "line subtotal", items: []orders.ItemRequest{{ProductID: 1, Quantity: 2}}},
		{name: "running total", items: []orders.ItemRequest{{ProductID: 1, Quantity: 1}, {ProductID: 2, Quantity: 1}, {ProductID: 1, Quantity: 1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order, lines, err := builder.Build(context.Background(), catalog, 1, tc.items)
			if !domain.IsKind(err, domain.KindValidation) || !errors.Is(err, domain.ErrTotalOverflow) {
				t.Fatalf("expected total overflow validation error, got %v", err)
			}
			if order.ID != "" || lines != nil {
				t.Fatalf("nothing must be built on overflow, got %+v / %+v", order, lines)
			}
		})
	}
}

func TestBuilder_ChecksEachItemCompletelyInRequestOrder(t *testing.T) {
	catalog := &stubCatalog{products: map[int64]domain.Product{
		1: {ID: 1, Name: "A", PriceMinor: 100, Stock: 5},
	}}
	builder := orders.NewBuilder(nil)

	_, _, err := builder.Build(context.Background(), catalog, 1, []orders.ItemRequest{
		{ProductID: 999, Quantity: 1},
		{ProductID: 1, Quantity: 0},
	})
	var derr *domain.Error
	if !errors.As(err, &derr) || derr.Kind != domain.KindNotFound || derr.ProductID != 999 {
		t.Fatalf("expected not found for product 999, got %v", err)
	}

	_, _, err = builder.Build(context.Background(), catalog, 1, []orders.ItemRequest{
		{ProductID: 1, Quantity: 0},
		{ProductID: 999, Quantity: 1},
	})
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation error for the zero quantity line, got %v", err)
	}
}
