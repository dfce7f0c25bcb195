// Package event defines the topics and wire payloads exchanged between the
// order and stock subsystems. Payload field names are part of the contract
// with collaborating services and must not change.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Topics published by the order subsystem.
const (
	TopicOrderCreated          = "order-created"
	TopicOrderCancelSucceeded  = "order-cancel-succeeded"
	TopicOrderPaymentSucceeded = "order-payment-succeeded"
	TopicOrderPaymentFailed    = "order-payment-failed"
)

// Topics published by the stock subsystem.
const (
	TopicStockReserved      = "stock-reserved"
	TopicStockReserveFailed = "stock-reserve-failed"
	TopicStockCommitted     = "stock-committed"
	TopicStockReleased      = "stock-released"
	TopicStockReplenished   = "stock-replenished"
)

// Topics published by the delivery subsystem.
const (
	TopicOrderAssigned         = "order-assigned"
	TopicOrderPickupSucceeded  = "order-pickup-succeeded"
	TopicOrderDeliverSucceeded = "order-delivery-succeeded"
)

// Envelope is an immutable message addressed by topic name. It carries no
// ordering metadata beyond its creation timestamp on the publishing side.
type Envelope struct {
	ID        string
	Topic     string
	Body      []byte
	CreatedAt time.Time
}

// NewEnvelope marshals payload and wraps it for publishing.
func NewEnvelope(topic string, payload any) (Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:        uuid.NewString(),
		Topic:     topic,
		Body:      body,
		CreatedAt: time.Now(),
	}, nil
}

// Item is one order line inside an event payload.
type Item struct {
	ProductID   int64  `json:"productId"`
	ProductName string `json:"productName"`
	Quantity    int64  `json:"quantity"`
	Price       int64  `json:"price"`
}

// OrderPayload is the body of every order-* and stock-* lifecycle topic.
// Reason is set only on failure variants.
type OrderPayload struct {
	OrderID string `json:"orderId"`
	StoreID string `json:"storeId"`
	Items   []Item `json:"items"`
	Reason  string `json:"reason,omitempty"`
}

// DeliveryPayload is the body of the delivery-assignment bridge topics.
// RiderID is present on rider decision events so every party can be notified.
type DeliveryPayload struct {
	OrderID string `json:"orderId"`
	RiderID string `json:"riderId,omitempty"`
}
