package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/daran2/deliver-anything/internal/event"
	"github.com/daran2/deliver-anything/internal/eventbus"
	"github.com/daran2/deliver-anything/internal/notification"
)

// Notifier is the slice of the fan-out engine the saga uses.
type Notifier interface {
	Send(ctx context.Context, recipientID string, typ notification.Type, message string, data any) (*notification.Notification, error)
}

// SagaHandler consumes stock-lifecycle and delivery-assignment events,
// advances the order state machine and notifies the affected profiles. The
// state write always precedes the notification push.
type SagaHandler struct {
	repo     *Repository
	notifier Notifier
	seen     *eventbus.Dedup
}

// NewSagaHandler wires the handler. seen guards the notify-only paths that
// the transition table cannot make idempotent.
func NewSagaHandler(repo *Repository, notifier Notifier, seen *eventbus.Dedup) *SagaHandler {
	return &SagaHandler{repo: repo, notifier: notifier, seen: seen}
}

// Register subscribes the handler to the stock and delivery topics.
func (h *SagaHandler) Register(bus eventbus.Bus) error {
	subs := map[string]eventbus.Handler{
		event.TopicStockReserved:         h.HandleStockReserved,
		event.TopicStockReserveFailed:    h.HandleStockReserveFailed,
		event.TopicStockCommitted:        h.HandleStockCommitted,
		event.TopicStockReleased:         h.HandleStockReleased,
		event.TopicStockReplenished:      h.HandleStockReplenished,
		event.TopicOrderAssigned:         h.HandleOrderAssigned,
		event.TopicOrderPickupSucceeded:  h.HandlePickupSucceeded,
		event.TopicOrderDeliverSucceeded: h.HandleDeliverySucceeded,
	}
	for topic, fn := range subs {
		if err := bus.Subscribe(topic, fn); err != nil {
			return err
		}
	}
	return nil
}

// statusData is the opaque context pushed with order notifications.
type statusData struct {
	OrderID string `json:"orderId"`
	Status  Status `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

func (h *SagaHandler) load(ctx context.Context, topic string, body []byte) (*Order, event.OrderPayload, error) {
	var p event.OrderPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, p, fmt.Errorf("order saga: malformed %s payload: %w", topic, err)
	}
	o, err := h.repo.Get(ctx, p.OrderID)
	if err != nil {
		return nil, p, fmt.Errorf("order saga: load order %s: %w", p.OrderID, err)
	}
	return o, p, nil
}

// advance applies the transition and persists it. An illegal transition is
// a business-rule anomaly: logged, discarded, and reported through the
// boolean so the caller skips the side effects.
func (h *SagaHandler) advance(ctx context.Context, o *Order, topic string, next ...Status) (bool, error) {
	for _, st := range next {
		if err := o.Transition(st); err != nil {
			if errors.Is(err, ErrIllegalTransition) {
				log.Warn().Str("order", o.ID).Str("topic", topic).
					Str("from", string(o.Status)).Str("to", string(st)).
					Msg("order saga: transition discarded")
				return false, nil
			}
			return false, err
		}
	}
	if err := h.repo.UpdateStatus(ctx, o); err != nil {
		return false, fmt.Errorf("order saga: persist order %s: %w", o.ID, err)
	}
	log.Info().Str("order", o.ID).Str("topic", topic).Str("status", string(o.Status)).
		Msg("order saga: advanced")
	return true, nil
}

func (h *SagaHandler) notify(ctx context.Context, o *Order, typ notification.Type, message, reason string, recipients ...string) {
	data := statusData{OrderID: o.ID, Status: o.Status, Reason: reason}
	for _, rcpt := range recipients {
		if rcpt == "" {
			continue
		}
		if _, err := h.notifier.Send(ctx, rcpt, typ, message, data); err != nil {
			log.Error().Err(err).Str("order", o.ID).Str("recipient", rcpt).
				Msg("order saga: notify failed")
		}
	}
}

// HandleStockReserved moves CREATED orders to AWAITING_PAYMENT and asks the
// customer to pay.
func (h *SagaHandler) HandleStockReserved(ctx context.Context, env event.Envelope) error {
	o, _, err := h.load(ctx, env.Topic, env.Body)
	if err != nil {
		return err
	}
	ok, err := h.advance(ctx, o, env.Topic, StatusAwaitingPayment)
	if err != nil || !ok {
		return err
	}
	h.notify(ctx, o, notification.TypeOrderStatus,
		"Your order is reserved. Please proceed to payment.", "", o.CustomerID)
	return nil
}

// HandleStockReserveFailed terminates CREATED orders that could not be
// stocked.
func (h *SagaHandler) HandleStockReserveFailed(ctx context.Context, env event.Envelope) error {
	o, p, err := h.load(ctx, env.Topic, env.Body)
	if err != nil {
		return err
	}
	ok, err := h.advance(ctx, o, env.Topic, StatusCreateFailed)
	if err != nil || !ok {
		return err
	}
	h.notify(ctx, o, notification.TypeOrderStatus,
		"Your order could not be placed: items are out of stock.", p.Reason, o.CustomerID)
	return nil
}

// HandleStockCommitted confirms payment: PAID, then straight to PREPARING.
func (h *SagaHandler) HandleStockCommitted(ctx context.Context, env event.Envelope) error {
	o, _, err := h.load(ctx, env.Topic, env.Body)
	if err != nil {
		return err
	}
	ok, err := h.advance(ctx, o, env.Topic, StatusPaid, StatusPreparing)
	if err != nil || !ok {
		return err
	}
	h.notify(ctx, o, notification.TypeOrderStatus,
		"Payment confirmed. The store is preparing your order.", "", o.CustomerID)
	h.notify(ctx, o, notification.TypeOrderStatus,
		"New paid order received. Start preparing.", "", o.OwnerID)
	return nil
}

// HandleStockReleased cancels the order from any cancellable state. An
// order already terminal after a payment failure keeps its state but the
// parties are still told the hold was returned.
func (h *SagaHandler) HandleStockReleased(ctx context.Context, env event.Envelope) error {
	o, p, err := h.load(ctx, env.Topic, env.Body)
	if err != nil {
		return err
	}
	if o.Status == StatusPaymentFailed {
		// no state change to make this idempotent, so dedup the notice
		if h.seen.Seen(env.Topic, o.ID) {
			return nil
		}
		h.notify(ctx, o, notification.TypeOrderStatus,
			"Your payment failed and the reserved items were returned.", p.Reason,
			o.CustomerID, o.OwnerID)
		return nil
	}
	ok, err := h.advance(ctx, o, env.Topic, StatusCanceled)
	if err != nil || !ok {
		return err
	}
	h.notify(ctx, o, notification.TypeOrderStatus,
		"Your order was canceled.", p.Reason, o.CustomerID, o.OwnerID)
	return nil
}

// HandleStockReplenished cancels an order whose committed stock went back on
// the shelf after a post-payment cancel.
func (h *SagaHandler) HandleStockReplenished(ctx context.Context, env event.Envelope) error {
	o, p, err := h.load(ctx, env.Topic, env.Body)
	if err != nil {
		return err
	}
	ok, err := h.advance(ctx, o, env.Topic, StatusCanceled)
	if err != nil || !ok {
		return err
	}
	h.notify(ctx, o, notification.TypeOrderStatus,
		"Your order was canceled and refunded.", p.Reason, o.CustomerID, o.OwnerID)
	return nil
}

// HandleOrderAssigned records the rider assignment.
func (h *SagaHandler) HandleOrderAssigned(ctx context.Context, env event.Envelope) error {
	o, p, err := h.loadDelivery(ctx, env.Topic, env.Body)
	if err != nil {
		return err
	}
	if p.RiderID != "" {
		o.RiderID = p.RiderID
	}
	ok, err := h.advance(ctx, o, env.Topic, StatusRiderAssigned)
	if err != nil || !ok {
		return err
	}
	h.notify(ctx, o, notification.TypeDeliveryStatus,
		"A rider was assigned to your order.", "", o.CustomerID, o.OwnerID)
	return nil
}

// HandlePickupSucceeded moves the order onto the road.
func (h *SagaHandler) HandlePickupSucceeded(ctx context.Context, env event.Envelope) error {
	o, p, err := h.loadDelivery(ctx, env.Topic, env.Body)
	if err != nil {
		return err
	}
	if p.RiderID != "" {
		o.RiderID = p.RiderID
	}
	ok, err := h.advance(ctx, o, env.Topic, StatusDelivering)
	if err != nil || !ok {
		return err
	}
	h.notify(ctx, o, notification.TypeDeliveryStatus,
		"Your order was picked up and is on its way.", "",
		o.CustomerID, o.OwnerID, o.RiderID)
	return nil
}

// HandleDeliverySucceeded completes the order.
func (h *SagaHandler) HandleDeliverySucceeded(ctx context.Context, env event.Envelope) error {
	o, p, err := h.loadDelivery(ctx, env.Topic, env.Body)
	if err != nil {
		return err
	}
	if p.RiderID != "" {
		o.RiderID = p.RiderID
	}
	ok, err := h.advance(ctx, o, env.Topic, StatusCompleted)
	if err != nil || !ok {
		return err
	}
	h.notify(ctx, o, notification.TypeDeliveryStatus,
		"Your order was delivered. Enjoy!", "",
		o.CustomerID, o.OwnerID, o.RiderID)
	return nil
}

func (h *SagaHandler) loadDelivery(ctx context.Context, topic string, body []byte) (*Order, event.DeliveryPayload, error) {
	var p event.DeliveryPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, p, fmt.Errorf("order saga: malformed %s payload: %w", topic, err)
	}
	o, err := h.repo.Get(ctx, p.OrderID)
	if err != nil {
		return nil, p, fmt.Errorf("order saga: load order %s: %w", p.OrderID, err)
	}
	return o, p, nil
}
