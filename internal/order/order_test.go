package order

import (
	"errors"
	"testing"
)

func TestHappyPathTransitions(t *testing.T) {
	o := &Order{ID: "o1", Status: StatusCreated}
	steps := []Status{
		StatusAwaitingPayment,
		StatusPaid,
		StatusPreparing,
		StatusRiderAssigned,
		StatusDelivering,
		StatusCompleted,
	}
	for _, next := range steps {
		if err := o.Transition(next); err != nil {
			t.Fatalf("transition to %s from %s: %v", next, o.Status, err)
		}
	}
	if o.Status != StatusCompleted {
		t.Fatalf("status=%s, want COMPLETED", o.Status)
	}
}

func TestIllegalJumpsAreRejected(t *testing.T) {
	cases := []struct {
		from Status
		to   Status
	}{
		{StatusCreated, StatusPreparing},
		{StatusAwaitingPayment, StatusPreparing},
		{StatusCreated, StatusCompleted},
		{StatusAwaitingPayment, StatusRiderAssigned},
		{StatusCompleted, StatusCanceled},
		{StatusCanceled, StatusAwaitingPayment},
		{StatusCreateFailed, StatusAwaitingPayment},
		{StatusPreparing, StatusDelivering},
	}
	for _, tc := range cases {
		o := &Order{ID: "o1", Status: tc.from}
		if err := o.Transition(tc.to); !errors.Is(err, ErrIllegalTransition) {
			t.Fatalf("%s -> %s: got %v, want ErrIllegalTransition", tc.from, tc.to, err)
		}
		if o.Status != tc.from {
			t.Fatalf("%s -> %s mutated state to %s", tc.from, tc.to, o.Status)
		}
	}
}

func TestCancellableStates(t *testing.T) {
	cancellable := []Status{StatusCreated, StatusAwaitingPayment, StatusPaid, StatusPreparing}
	for _, st := range cancellable {
		o := &Order{Status: st}
		if !o.Cancellable() {
			t.Fatalf("%s should be cancellable", st)
		}
	}
	terminal := []Status{StatusRiderAssigned, StatusDelivering, StatusCompleted,
		StatusCreateFailed, StatusPaymentFailed, StatusCanceled}
	for _, st := range terminal {
		o := &Order{Status: st}
		if o.Cancellable() {
			t.Fatalf("%s should not be cancellable", st)
		}
	}
}

func TestLinePrice(t *testing.T) {
	it := Item{ProductID: 1, Quantity: 3, UnitPrice: 4500}
	if it.LinePrice() != 13500 {
		t.Fatalf("line=%d, want 13500", it.LinePrice())
	}
}
