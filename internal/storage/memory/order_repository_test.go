package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/domain"
	"github.com/vladislavdragonenkov/ordercore/internal/storage/memory"
)

func TestOrderRepository_CreateGet(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Orders()
	order := newOrder("order-1", 7, 1, 2)

	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := repo.Create(ctx, order); !errors.Is(err, domain.ErrOrderAlreadyExists) {
		t.Fatalf("expected ErrOrderAlreadyExists, got %v", err)
	}

	stored, err := repo.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.UserID != 7 || len(stored.Items) != 1 {
		t.Fatalf("unexpected stored order %+v", stored)
	}

	stored.Items[0].Quantity = 100
	again, _ := repo.Get(ctx, order.ID)
	if again.Items[0].Quantity != 2 {
		t.Fatal("stored order must not be mutated through a returned copy")
	}

	if _, err := repo.Get(ctx, "missing"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderRepository_ListByUser(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Orders()
	base := time.Now().UTC()

	for i, id := range []string{"old", "mid", "new"} {
		order := newOrder(id, 1, 1, 1)
		order.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := repo.Create(ctx, order); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if err := repo.Create(ctx, newOrder("foreign", 2, 1, 1)); err != nil {
		t.Fatalf("create foreign: %v", err)
	}

	orders, err := repo.ListByUser(ctx, 1, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(orders) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(orders))
	}
	if orders[0].ID != "new" || orders[2].ID != "old" {
		t.Fatalf("expected newest first, got %s..%s", orders[0].ID, orders[2].ID)
	}

	limited, _ := repo.ListByUser(ctx, 1, 2)
	if len(limited) != 2 {
		t.Fatalf("expected 2 orders with limit, got %d", len(limited))
	}

	none, _ := repo.ListByUser(ctx, 99, 0)
	if none == nil || len(none) != 0 {
		t.Fatalf("expected empty non-nil list, got %v", none)
	}
}

func TestOrderRepository_UpdateStatus(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Orders()
	order := newOrder("order-1", 1, 1, 1)
	if err := repo.Create(ctx, order); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	at := order.UpdatedAt.Add(time.Hour)
	if err := repo.UpdateStatus(ctx, order.ID, domain.OrderStatusShipped, at); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	stored, _ := repo.Get(ctx, order.ID)
	if stored.Status != domain.OrderStatusShipped || !stored.UpdatedAt.Equal(at) {
		t.Fatalf("unexpected order after update: %+v", stored)
	}

	if err := repo.UpdateStatus(ctx, "missing", domain.OrderStatusShipped, at); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestTimelineRepository_ListOrdersByTime(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewStore().Timeline()
	base := time.Now().UTC()

	events := []domain.TimelineEvent{
		{OrderID: "o", Type: domain.TimelineOrderStatusChanged, Occurred: base.Add(time.Second)},
		{OrderID: "o", Type: domain.TimelineOrderCreated, Occurred: base},
		{OrderID: "o", Type: domain.TimelineOrderCancelled, Occurred: base.Add(time.Second)},
	}
	for _, event := range events {
		if err := repo.Append(ctx, event); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	got, err := repo.List(ctx, "o")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	want := []string{domain.TimelineOrderCreated, domain.TimelineOrderStatusChanged, domain.TimelineOrderCancelled}
	for i, typ := range want {
		if got[i].Type != typ {
			t.Fatalf("event %d: expected %s, got %s", i, typ, got[i].Type)
		}
	}
}
