// Package notification persists per-recipient notifications and fans them
// out to every live device stream of the recipient. Recipients are profile
// ids: one account may hold several profiles (customer, rider, owner) and a
// notification is addressed to exactly one of them.
package notification

import (
	"encoding/json"
	"errors"
	"time"
)

// Type categorizes a notification for client-side rendering.
type Type string

const (
	TypeOrderStatus    Type = "ORDER_STATUS"
	TypeStockAlert     Type = "STOCK_ALERT"
	TypeDeliveryStatus Type = "DELIVERY_STATUS"
	TypeSettlement     Type = "SETTLEMENT"
)

var (
	// ErrNotFound means no notification exists for the id.
	ErrNotFound = errors.New("notification: not found")

	// ErrNotRecipient rejects a read-state change by anyone but the
	// addressed profile.
	ErrNotRecipient = errors.New("notification: recipient mismatch")
)

// Notification is one delivered message. Data is an opaque blob the client
// interprets; the server never inspects it. Notifications are retained as
// history and never deleted.
type Notification struct {
	ID          string          `json:"id"`
	RecipientID string          `json:"recipientId"`
	Type        Type            `json:"type"`
	Message     string          `json:"message"`
	Data        json.RawMessage `json:"data,omitempty"`
	IsRead      bool            `json:"isRead"`
	CreatedAt   time.Time       `json:"createdAt"`
}
