package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/daran2/deliver-anything/internal/event"
)

// Publisher is the slice of the bus the service needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Service is the synchronous entry point of the order subsystem: it
// persists the order and hands the rest of the lifecycle to the saga by
// publishing lifecycle events. Events are published only after the
// originating write was acknowledged durable.
type Service struct {
	repo *Repository
	bus  Publisher
}

func NewService(repo *Repository, bus Publisher) *Service {
	return &Service{repo: repo, bus: bus}
}

// CreateInput is the accepted-for-processing request. Validation and
// authentication happened upstream.
type CreateInput struct {
	CustomerID string
	StoreID    string
	OwnerID    string
	Items      []Item
}

// Create persists a CREATED order and publishes order-created. The caller
// only sees the accepted order; reservation outcome arrives later through a
// notification.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Order, error) {
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("order: no items")
	}
	now := time.Now().Unix()
	o := &Order{
		ID:          uuid.NewString(),
		CustomerID:  in.CustomerID,
		StoreID:     in.StoreID,
		OwnerID:     in.OwnerID,
		Status:      StatusCreated,
		Items:       in.Items,
		CreatedUnix: now,
		UpdatedUnix: now,
	}
	for _, it := range in.Items {
		o.TotalPrice += it.LinePrice()
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return nil, fmt.Errorf("order: create: %w", err)
	}
	if err := s.publishLifecycle(ctx, event.TopicOrderCreated, o, ""); err != nil {
		log.Error().Err(err).Str("order", o.ID).Msg("order: publish order-created failed")
	}
	return o, nil
}

// PaymentSucceeded is invoked by the payment collaborator once the charge
// captured. The stock commit and the state advance follow asynchronously.
func (s *Service) PaymentSucceeded(ctx context.Context, orderID string) error {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return err
	}
	return s.publishLifecycle(ctx, event.TopicOrderPaymentSucceeded, o, "")
}

// PaymentFailed marks the order terminally failed and asks the stock
// subsystem to return the hold.
func (s *Service) PaymentFailed(ctx context.Context, orderID, reason string) error {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if err := o.Transition(StatusPaymentFailed); err != nil {
		log.Warn().Str("order", o.ID).Str("from", string(o.Status)).
			Msg("order: payment failure in unexpected state, discarded")
		return nil
	}
	if err := s.repo.UpdateStatus(ctx, o); err != nil {
		return fmt.Errorf("order: persist payment failure: %w", err)
	}
	return s.publishLifecycle(ctx, event.TopicOrderPaymentFailed, o, reason)
}

// Cancel is invoked once an upstream cancellation was accepted. The stock
// subsystem decides between release and replenish based on whether the
// order committed.
func (s *Service) Cancel(ctx context.Context, orderID, reason string) error {
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if !o.Cancellable() {
		return fmt.Errorf("order: %s not cancellable in state %s", orderID, o.Status)
	}
	return s.publishLifecycle(ctx, event.TopicOrderCancelSucceeded, o, reason)
}

// Get loads one order.
func (s *Service) Get(ctx context.Context, orderID string) (*Order, error) {
	return s.repo.Get(ctx, orderID)
}

func (s *Service) publishLifecycle(ctx context.Context, topic string, o *Order, reason string) error {
	items := make([]event.Item, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, event.Item{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			Price:       it.UnitPrice,
		})
	}
	payload := event.OrderPayload{
		OrderID: o.ID,
		StoreID: o.StoreID,
		Items:   items,
		Reason:  reason,
	}
	if err := s.bus.Publish(ctx, topic, payload); err != nil {
		return fmt.Errorf("order: publish %s: %w", topic, err)
	}
	return nil
}
