package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SSE event names of the stream protocol. These are contract with the
// clients and must not change.
const (
	EventNotification     = "notification"
	EventNotificationRead = "notification-read"
)

// Service is the fan-out engine: persist first, then push to every live
// device of the recipient. A single dead connection never aborts the
// persist or the remaining pushes.
type Service struct {
	store    *Store
	registry *Registry
}

func NewService(store *Store, registry *Registry) *Service {
	return &Service{store: store, registry: registry}
}

// Send persists a notification and pushes it to all of the recipient's
// live streams under the "notification" event, keyed by its id.
func (s *Service) Send(ctx context.Context, recipientID string, typ Type, message string, data any) (*Notification, error) {
	var blob json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("notification: marshal data: %w", err)
		}
		blob = b
	}
	n := &Notification{
		ID:          uuid.NewString(),
		RecipientID: recipientID,
		Type:        typ,
		Message:     message,
		Data:        blob,
		CreatedAt:   time.Now(),
	}
	if err := s.store.Insert(ctx, n); err != nil {
		return nil, fmt.Errorf("notification: persist: %w", err)
	}

	body, err := json.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("notification: marshal: %w", err)
	}
	s.push(recipientID, EventNotification, n.ID, body)
	return n, nil
}

// MarkAsRead flips the read flag once. The first flip pushes a
// "notification-read" event carrying only the id, so the recipient's other
// devices resynchronize; repeating the call is a no-op.
func (s *Service) MarkAsRead(ctx context.Context, notificationID, recipientID string) error {
	n, err := s.store.Get(ctx, notificationID)
	if err != nil {
		return err
	}
	if n.RecipientID != recipientID {
		return ErrNotRecipient
	}
	changed, err := s.store.MarkRead(ctx, notificationID)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	body, _ := json.Marshal(map[string]string{"id": notificationID})
	s.push(recipientID, EventNotificationRead, notificationID, body)
	return nil
}

// List returns the recipient's newest notifications.
func (s *Service) List(ctx context.Context, recipientID string, limit int) ([]*Notification, error) {
	return s.store.ListByRecipient(ctx, recipientID, limit)
}

// UnreadCount returns the number of unread notifications of the recipient.
func (s *Service) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	return s.store.UnreadCount(ctx, recipientID)
}

// push delivers to every live device of the recipient. A failed push tears
// down that one connection only.
func (s *Service) push(recipientID, eventName, id string, body []byte) {
	for deviceID, em := range s.registry.AllForProfile(recipientID) {
		if err := em.Send(eventName, id, body); err != nil {
			log.Warn().Err(err).Str("recipient", recipientID).Str("device", deviceID).
				Msg("notification: push failed, dropping connection")
			if dead, ok := s.registry.Remove(recipientID, deviceID); ok {
				dead.Close()
			}
		}
	}
}
