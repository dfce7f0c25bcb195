package notification

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func testService(t *testing.T) (*Service, *Store, *Registry) {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "notification.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	registry := NewRegistry()
	return NewService(store, registry), store, registry
}

func TestSendPersistsThenPushesToAllDevices(t *testing.T) {
	svc, store, registry := testService(t)
	phone := &fakeEmitter{}
	tablet := &fakeEmitter{}
	registry.Put("cust-1", "phone", phone)
	registry.Put("cust-1", "tablet", tablet)

	n, err := svc.Send(context.Background(), "cust-1", TypeOrderStatus,
		"Payment confirmed.", map[string]string{"orderId": "o1"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	stored, err := store.Get(context.Background(), n.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.IsRead {
		t.Fatalf("new notification must be unread")
	}
	var data map[string]string
	if err := json.Unmarshal(stored.Data, &data); err != nil || data["orderId"] != "o1" {
		t.Fatalf("data blob lost: %s", stored.Data)
	}

	if phone.count() != 1 || tablet.count() != 1 {
		t.Fatalf("pushes: phone=%d tablet=%d, want 1/1", phone.count(), tablet.count())
	}
	if !strings.HasPrefix(phone.events[0], EventNotification+":") {
		t.Fatalf("wrong event name: %s", phone.events[0])
	}
}

func TestSendSurvivesDeadConnection(t *testing.T) {
	svc, _, registry := testService(t)
	dead := &fakeEmitter{fail: true}
	alive := &fakeEmitter{}
	registry.Put("cust-1", "phone", dead)
	registry.Put("cust-1", "tablet", alive)

	if _, err := svc.Send(context.Background(), "cust-1", TypeOrderStatus, "hi", nil); err != nil {
		t.Fatalf("send: %v", err)
	}

	if alive.count() != 1 {
		t.Fatalf("healthy device missed the push")
	}
	if !dead.isClosed() {
		t.Fatalf("failed connection must be torn down")
	}
	if _, ok := registry.Get("cust-1", "phone"); ok {
		t.Fatalf("failed connection must leave the registry")
	}
	if _, ok := registry.Get("cust-1", "tablet"); !ok {
		t.Fatalf("healthy session removed")
	}
}

func TestSendWithoutLiveDevicesStillPersists(t *testing.T) {
	svc, _, _ := testService(t)
	n, err := svc.Send(context.Background(), "cust-1", TypeOrderStatus, "offline", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	count, err := svc.UnreadCount(context.Background(), "cust-1")
	if err != nil {
		t.Fatalf("unread: %v", err)
	}
	if count != 1 {
		t.Fatalf("unread=%d, want 1 (id %s)", count, n.ID)
	}
}

func TestMarkAsReadIsIdempotentAndSyncsOnce(t *testing.T) {
	svc, _, registry := testService(t)
	tablet := &fakeEmitter{}
	registry.Put("cust-1", "tablet", tablet)

	n, err := svc.Send(context.Background(), "cust-1", TypeOrderStatus, "hi", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	pushesAfterSend := tablet.count()

	if err := svc.MarkAsRead(context.Background(), n.ID, "cust-1"); err != nil {
		t.Fatalf("first mark: %v", err)
	}
	if err := svc.MarkAsRead(context.Background(), n.ID, "cust-1"); err != nil {
		t.Fatalf("second mark: %v", err)
	}

	stored, _ := svc.store.Get(context.Background(), n.ID)
	if !stored.IsRead {
		t.Fatalf("notification not marked read")
	}
	syncs := tablet.count() - pushesAfterSend
	if syncs != 1 {
		t.Fatalf("read-sync pushed %d times, want exactly 1", syncs)
	}
	if got := tablet.events[len(tablet.events)-1]; got != EventNotificationRead+":"+n.ID {
		t.Fatalf("wrong read-sync event: %s", got)
	}
}

func TestMarkAsReadAuthorization(t *testing.T) {
	svc, _, _ := testService(t)
	n, err := svc.Send(context.Background(), "cust-1", TypeOrderStatus, "hi", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if err := svc.MarkAsRead(context.Background(), n.ID, "cust-2"); !errors.Is(err, ErrNotRecipient) {
		t.Fatalf("got %v, want ErrNotRecipient", err)
	}
	if err := svc.MarkAsRead(context.Background(), "ghost", "cust-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	svc, store, _ := testService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := svc.Send(ctx, "cust-1", TypeOrderStatus, "m", nil); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	if _, err := svc.Send(ctx, "cust-2", TypeOrderStatus, "other", nil); err != nil {
		t.Fatalf("send: %v", err)
	}

	items, err := store.ListByRecipient(ctx, "cust-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("list=%d, want 3", len(items))
	}
	for _, n := range items {
		if n.RecipientID != "cust-1" {
			t.Fatalf("leaked notification for %s", n.RecipientID)
		}
	}
}
