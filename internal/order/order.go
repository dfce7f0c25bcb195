// Package order owns the order state machine of the saga. Orders advance
// only through the transition table; an event arriving in an unexpected
// state is a business-rule anomaly and is discarded, never forced.
package order

import (
	"errors"
	"time"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusCreated         Status = "CREATED"
	StatusAwaitingPayment Status = "AWAITING_PAYMENT"
	StatusPaid            Status = "PAID"
	StatusPreparing       Status = "PREPARING"
	StatusRiderAssigned   Status = "RIDER_ASSIGNED"
	StatusDelivering      Status = "DELIVERING"
	StatusCompleted       Status = "COMPLETED"

	StatusCreateFailed  Status = "CREATE_FAILED"
	StatusPaymentFailed Status = "PAYMENT_FAILED"
	StatusCanceled      Status = "CANCELED"
)

// ErrIllegalTransition reports an event applied in a state its transition
// does not accept.
var ErrIllegalTransition = errors.New("order: illegal state transition")

// ErrNotFound means no order row exists for the id.
var ErrNotFound = errors.New("order: not found")

// Order is the order subsystem's snapshot. Items are immutable once the
// order is created.
type Order struct {
	ID          string
	CustomerID  string
	StoreID     string
	OwnerID     string
	RiderID     string
	Status      Status
	TotalPrice  int64
	Items       []Item
	CreatedUnix int64
	UpdatedUnix int64
}

// Item is one order line, snapshotted at order time.
type Item struct {
	ProductID   int64
	ProductName string
	Quantity    int64
	UnitPrice   int64
}

// LinePrice is the item subtotal.
func (i Item) LinePrice() int64 { return i.Quantity * i.UnitPrice }

// transitions maps a target status to the states it may be entered from.
var transitions = map[Status][]Status{
	StatusAwaitingPayment: {StatusCreated},
	StatusCreateFailed:    {StatusCreated},
	StatusPaid:            {StatusAwaitingPayment},
	StatusPreparing:       {StatusPaid},
	StatusCanceled:        {StatusCreated, StatusAwaitingPayment, StatusPaid, StatusPreparing},
	StatusPaymentFailed:   {StatusAwaitingPayment, StatusPaymentFailed},
	StatusRiderAssigned:   {StatusPreparing},
	StatusDelivering:      {StatusRiderAssigned},
	StatusCompleted:       {StatusDelivering},
}

// Transition moves the order to next if the current state allows it.
func (o *Order) Transition(next Status) error {
	for _, from := range transitions[next] {
		if o.Status == from {
			o.Status = next
			o.UpdatedUnix = time.Now().Unix()
			return nil
		}
	}
	return ErrIllegalTransition
}

// Cancellable reports whether a stock release may still cancel the order.
func (o *Order) Cancellable() bool {
	switch o.Status {
	case StatusCreated, StatusAwaitingPayment, StatusPaid, StatusPreparing:
		return true
	}
	return false
}
