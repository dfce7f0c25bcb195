package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/daran2/deliver-anything/internal/event"
	"github.com/daran2/deliver-anything/internal/eventbus"
	"github.com/daran2/deliver-anything/internal/notification"
	"github.com/daran2/deliver-anything/internal/order"
	"github.com/daran2/deliver-anything/internal/stock"
)

type world struct {
	bus       *eventbus.MemoryBus
	stockRepo *stock.Repository
	ledger    *stock.Ledger
	orderRepo *order.Repository
	orders    *order.Service
	notifier  *notification.Service
	store     *notification.Store
	registry  *notification.Registry
}

func newWorld(t *testing.T) *world {
	t.Helper()
	dir := t.TempDir()

	stockRepo, err := stock.NewRepository(filepath.Join(dir, "stock.db"))
	if err != nil {
		t.Fatalf("stock db: %v", err)
	}
	t.Cleanup(func() { stockRepo.Close() })

	orderRepo, err := order.NewRepository(filepath.Join(dir, "order.db"))
	if err != nil {
		t.Fatalf("order db: %v", err)
	}
	t.Cleanup(func() { orderRepo.Close() })

	store, err := notification.NewStore(filepath.Join(dir, "notification.db"))
	if err != nil {
		t.Fatalf("notification db: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	registry := notification.NewRegistry()
	notifier := notification.NewService(store, registry)

	bus := eventbus.NewMemoryBus(64)
	t.Cleanup(bus.Close)

	ledger := stock.NewLedger(stockRepo, 3)
	dedup, err := eventbus.NewDedup(256)
	if err != nil {
		t.Fatalf("dedup: %v", err)
	}
	committed, err := eventbus.NewDedup(256)
	if err != nil {
		t.Fatalf("dedup: %v", err)
	}
	if err := stock.NewSagaHandler(ledger, bus, dedup, committed).Register(bus); err != nil {
		t.Fatalf("stock saga: %v", err)
	}
	notified, err := eventbus.NewDedup(256)
	if err != nil {
		t.Fatalf("dedup: %v", err)
	}
	if err := order.NewSagaHandler(orderRepo, notifier, notified).Register(bus); err != nil {
		t.Fatalf("order saga: %v", err)
	}

	return &world{
		bus:       bus,
		stockRepo: stockRepo,
		ledger:    ledger,
		orderRepo: orderRepo,
		orders:    order.NewService(orderRepo, bus),
		notifier:  notifier,
		store:     store,
		registry:  registry,
	}
}

func (w *world) waitStatus(t *testing.T, orderID string, want order.Status) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var last order.Status
	for time.Now().Before(deadline) {
		o, err := w.orderRepo.Get(context.Background(), orderID)
		if err == nil {
			last = o.Status
			if last == want {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("order %s stuck at %s, want %s", orderID, last, want)
}

func TestOrderLifecycleEndToEnd(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	if err := w.stockRepo.Create(ctx, 1, 10); err != nil {
		t.Fatalf("seed stock: %v", err)
	}

	o, err := w.orders.Create(ctx, order.CreateInput{
		CustomerID: "cust-1",
		StoreID:    "store-1",
		OwnerID:    "owner-1",
		Items:      []order.Item{{ProductID: 1, ProductName: "bulgogi", Quantity: 4, UnitPrice: 12000}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	w.waitStatus(t, o.ID, order.StatusAwaitingPayment)
	s, _ := w.stockRepo.Get(ctx, 1)
	if s.HeldQty != 4 {
		t.Fatalf("held=%d, want 4", s.HeldQty)
	}

	if err := w.orders.PaymentSucceeded(ctx, o.ID); err != nil {
		t.Fatalf("payment: %v", err)
	}
	w.waitStatus(t, o.ID, order.StatusPreparing)
	s, _ = w.stockRepo.Get(ctx, 1)
	if s.TotalQty != 6 || s.HeldQty != 0 {
		t.Fatalf("total=%d held=%d, want 6/0", s.TotalQty, s.HeldQty)
	}

	if err := w.bus.Publish(ctx, event.TopicOrderAssigned, event.DeliveryPayload{OrderID: o.ID, RiderID: "rider-1"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	w.waitStatus(t, o.ID, order.StatusRiderAssigned)

	if err := w.bus.Publish(ctx, event.TopicOrderPickupSucceeded, event.DeliveryPayload{OrderID: o.ID}); err != nil {
		t.Fatalf("pickup: %v", err)
	}
	w.waitStatus(t, o.ID, order.StatusDelivering)

	if err := w.bus.Publish(ctx, event.TopicOrderDeliverSucceeded, event.DeliveryPayload{OrderID: o.ID}); err != nil {
		t.Fatalf("delivered: %v", err)
	}
	w.waitStatus(t, o.ID, order.StatusCompleted)

	// every actor accumulated notifications along the way
	for _, profile := range []string{"cust-1", "owner-1", "rider-1"} {
		n, err := w.notifier.UnreadCount(ctx, profile)
		if err != nil {
			t.Fatalf("unread %s: %v", profile, err)
		}
		if n == 0 {
			t.Fatalf("profile %s received no notifications", profile)
		}
	}
}

func TestPartialReservationFailsWholeOrder(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	if err := w.stockRepo.Create(ctx, 1, 10); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := w.stockRepo.Create(ctx, 2, 1); err != nil {
		t.Fatalf("seed: %v", err)
	}

	o, err := w.orders.Create(ctx, order.CreateInput{
		CustomerID: "cust-1",
		StoreID:    "store-1",
		OwnerID:    "owner-1",
		Items: []order.Item{
			{ProductID: 1, ProductName: "japchae", Quantity: 2, UnitPrice: 8000},
			{ProductID: 2, ProductName: "galbi", Quantity: 5, UnitPrice: 20000},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	w.waitStatus(t, o.ID, order.StatusCreateFailed)

	// neither product may be left holding anything
	s1, _ := w.stockRepo.Get(ctx, 1)
	s2, _ := w.stockRepo.Get(ctx, 2)
	if s1.HeldQty != 0 || s2.HeldQty != 0 {
		t.Fatalf("half-reserved order: held %d/%d", s1.HeldQty, s2.HeldQty)
	}

	n, err := w.notifier.UnreadCount(ctx, "cust-1")
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if n != 1 {
		t.Fatalf("customer notifications=%d, want the out-of-stock notice", n)
	}
}

func TestCancelBeforePaymentReleasesAndCancels(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	if err := w.stockRepo.Create(ctx, 1, 10); err != nil {
		t.Fatalf("seed: %v", err)
	}

	o, err := w.orders.Create(ctx, order.CreateInput{
		CustomerID: "cust-1",
		StoreID:    "store-1",
		OwnerID:    "owner-1",
		Items:      []order.Item{{ProductID: 1, ProductName: "ramyeon", Quantity: 3, UnitPrice: 5000}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w.waitStatus(t, o.ID, order.StatusAwaitingPayment)

	if err := w.orders.Cancel(ctx, o.ID, "changed my mind"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	w.waitStatus(t, o.ID, order.StatusCanceled)

	s, _ := w.stockRepo.Get(ctx, 1)
	if s.TotalQty != 10 || s.HeldQty != 0 {
		t.Fatalf("total=%d held=%d, want 10/0", s.TotalQty, s.HeldQty)
	}
}

func TestCancelAfterPaymentReplenishes(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	if err := w.stockRepo.Create(ctx, 1, 10); err != nil {
		t.Fatalf("seed: %v", err)
	}

	o, err := w.orders.Create(ctx, order.CreateInput{
		CustomerID: "cust-1",
		StoreID:    "store-1",
		OwnerID:    "owner-1",
		Items:      []order.Item{{ProductID: 1, ProductName: "naengmyeon", Quantity: 4, UnitPrice: 9000}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	w.waitStatus(t, o.ID, order.StatusAwaitingPayment)

	if err := w.orders.PaymentSucceeded(ctx, o.ID); err != nil {
		t.Fatalf("payment: %v", err)
	}
	w.waitStatus(t, o.ID, order.StatusPreparing)

	if err := w.orders.Cancel(ctx, o.ID, "store closed"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	w.waitStatus(t, o.ID, order.StatusCanceled)

	s, _ := w.stockRepo.Get(ctx, 1)
	if s.TotalQty != 10 || s.HeldQty != 0 {
		t.Fatalf("total=%d held=%d, committed stock not replenished", s.TotalQty, s.HeldQty)
	}
}
