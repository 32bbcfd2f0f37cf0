package domain_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
)

// helper для создания базового заказа из двух позиций.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:         "order-1",
		UserID:     10,
		Status:     domain.OrderStatusPending,
		TotalMinor: 2498,
		Items: []domain.OrderItem{
			{ID: "item-1", ProductID: 1, Quantity: 2, PriceMinor: 999, CreatedAt: now},
			{ID: "item-2", ProductID: 2, Quantity: 1, PriceMinor: 500, CreatedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestOrderCheckInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.CheckInvariants(); len(errs) != 0 {
		t.Fatalf("expected no invariant errors, got %v", errs)
	}
	total, err := order.CalculateTotal()
	if err != nil {
		t.Fatalf("calculate total: %v", err)
	}
	if got := domain.FormatMinor(total); got != "24.98" {
		t.Fatalf("expected total 24.98, got %s", got)
	}
}

func TestOrderCheckInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
		want error
	}{
		{
			name: "no user",
			mut:  func(o *domain.Order) { o.UserID = 0 },
			want: domain.ErrUserRequired,
		},
		{
			name: "no items",
			mut: func(o *domain.Order) {
				o.Items = nil
				o.TotalMinor = 0
			},
			want: domain.ErrItemsRequired,
		},
		{
			name: "zero quantity",
			mut: func(o *domain.Order) {
				o.Items[1].Quantity = 0
				o.TotalMinor = 1998
			},
			want: domain.ErrItemQtyInvalid,
		},
		{
			name: "negative price",
			mut: func(o *domain.Order) {
				o.Items[1].PriceMinor = -500
				o.TotalMinor = 998
			},
			want: domain.ErrItemPriceInvalid,
		},
		{
			name: "total overflow",
			mut: func(o *domain.Order) {
				o.Items[0].PriceMinor = math.MaxInt64 / 2
				o.TotalMinor = -1
			},
			want: domain.ErrTotalOverflow,
		},
		{
			name: "total mismatch",
			mut:  func(o *domain.Order) { o.TotalMinor = 2500 },
			want: domain.ErrTotalMismatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)
			errs := order.CheckInvariants()
			if !errors.Is(errors.Join(errs...), tc.want) {
				t.Fatalf("expected %v in %v", tc.want, errs)
			}
		})
	}
}

func TestParseOrderStatus(t *testing.T) {
	for _, status := range domain.OrderStatuses() {
		got, err := domain.ParseOrderStatus(" " + string(status) + " ")
		if err != nil {
			t.Fatalf("status %q: unexpected error %v", status, err)
		}
		if got != status {
			t.Fatalf("expected %q, got %q", status, got)
		}
	}

	_, err := domain.ParseOrderStatus("returned")
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	want := "invalid status. Must be one of: pending, processing, shipped, delivered, cancelled"
	if err.Error() != want {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestOrderStatus_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from domain.OrderStatus
		to   domain.OrderStatus
		want bool
	}{
		{domain.OrderStatusPending, domain.OrderStatusCancelled, true},
		{domain.OrderStatusProcessing, domain.OrderStatusCancelled, false},
		{domain.OrderStatusShipped, domain.OrderStatusCancelled, false},
		{domain.OrderStatusCancelled, domain.OrderStatusCancelled, false},
		{domain.OrderStatusPending, domain.OrderStatusDelivered, true},
		{domain.OrderStatusDelivered, domain.OrderStatusProcessing, true},
		{domain.OrderStatusCancelled, domain.OrderStatusPending, true},
		{domain.OrderStatusShipped, domain.OrderStatusShipped, true},
		{domain.OrderStatusPending, domain.OrderStatus("lost"), false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestOrder_ReservationLinesAndClone(t *testing.T) {
	order := makeOrder()
	lines := order.ReservationLines()
	if len(lines) != 2 || lines[0].ProductID != 1 || lines[0].Quantity != 2 {
		t.Fatalf("unexpected reservation lines %+v", lines)
	}

	clone := order.Clone()
	clone.Items[0].Quantity = 99
	if order.Items[0].Quantity != 2 {
		t.Fatal("clone must not share items with the original")
	}
}

func TestProductValidate(t *testing.T) {
	ok := domain.Product{Name: "Mug", PriceMinor: 999, Stock: 3}
	if err := ok.Validate(); err != nil {
		t.Fatalf("unexpected error %v", err)
	}

	bad := domain.Product{Name: " ", PriceMinor: -1, Stock: -1}
	err := bad.Validate()
	for _, want := range []error{domain.ErrProductNameRequired, domain.ErrProductPriceNegative, domain.ErrProductStockNegative} {
		if !errors.Is(err, want) {
			t.Fatalf("expected %v in %v", want, err)
		}
	}
}
