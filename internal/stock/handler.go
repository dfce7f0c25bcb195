package stock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/daran2/deliver-anything/internal/event"
	"github.com/daran2/deliver-anything/internal/eventbus"
)

// Publisher is the slice of the bus the handler needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// SagaHandler consumes order-lifecycle events, drives the ledger and emits
// the matching stock-lifecycle events. Ledger writes happen before any
// publish, so a consumer of a stock event always observes the durable state
// that produced it.
type SagaHandler struct {
	ledger    *Ledger
	bus       Publisher
	dedup     *eventbus.Dedup
	committed *eventbus.Dedup
}

// NewSagaHandler wires the handler. dedup guards against at-least-once
// redelivery; a delivery is recorded only after its ledger writes and its
// outcome publish succeeded, so a transient failure leaves the resend path
// open. committed remembers orders whose stock was already committed so a
// later cancel replenishes instead of releasing.
func NewSagaHandler(ledger *Ledger, bus Publisher, dedup, committed *eventbus.Dedup) *SagaHandler {
	return &SagaHandler{ledger: ledger, bus: bus, dedup: dedup, committed: committed}
}

// Register subscribes the handler to every order-lifecycle topic.
func (h *SagaHandler) Register(bus eventbus.Bus) error {
	subs := map[string]eventbus.Handler{
		event.TopicOrderCreated:          h.HandleOrderCreated,
		event.TopicOrderPaymentSucceeded: h.HandleOrderPaymentSucceeded,
		event.TopicOrderPaymentFailed:    h.HandleOrderPaymentFailed,
		event.TopicOrderCancelSucceeded:  h.HandleOrderCancelSucceeded,
	}
	for topic, fn := range subs {
		if err := bus.Subscribe(topic, fn); err != nil {
			return err
		}
	}
	return nil
}

func decodeOrder(env event.Envelope) (event.OrderPayload, error) {
	var p event.OrderPayload
	if err := json.Unmarshal(env.Body, &p); err != nil {
		return p, fmt.Errorf("stock saga: malformed %s payload: %w", env.Topic, err)
	}
	return p, nil
}

// HandleOrderCreated reserves every line item. A failure on any item rolls
// back the items already held in this request; an order is never left
// partially reserved.
func (h *SagaHandler) HandleOrderCreated(ctx context.Context, env event.Envelope) error {
	p, err := decodeOrder(env)
	if err != nil {
		return err
	}
	if h.dedup.Has(env.Topic, p.OrderID) {
		log.Warn().Str("order", p.OrderID).Str("topic", env.Topic).
			Msg("stock saga: duplicate delivery ignored")
		return nil
	}

	reserved := make([]event.Item, 0, len(p.Items))
	for _, it := range p.Items {
		ok, err := h.ledger.Reserve(ctx, it.ProductID, it.Quantity)
		if err == nil && ok {
			reserved = append(reserved, it)
			continue
		}

		// compensate the holds taken so far in this request
		for _, r := range reserved {
			if rerr := h.ledger.Release(ctx, r.ProductID, r.Quantity); rerr != nil {
				log.Error().Err(rerr).Str("order", p.OrderID).Int64("product", r.ProductID).
					Msg("stock saga: compensating release failed")
			}
		}

		reason := fmt.Sprintf("insufficient stock for product %d", it.ProductID)
		if err != nil {
			reason = fmt.Sprintf("stock unavailable for product %d", it.ProductID)
			log.Error().Err(err).Str("order", p.OrderID).Int64("product", it.ProductID).
				Msg("stock saga: reserve failed")
		} else {
			log.Info().Str("order", p.OrderID).Int64("product", it.ProductID).
				Msg("stock saga: insufficient stock")
		}
		return h.finish(ctx, env, event.TopicStockReserveFailed, p, reason)
	}

	log.Info().Str("order", p.OrderID).Int("items", len(p.Items)).
		Msg("stock saga: reserved")
	return h.finish(ctx, env, event.TopicStockReserved, p, "")
}

// HandleOrderPaymentSucceeded commits every reservation of the order. An
// inconsistency is escalated loudly and nothing is re-emitted for it.
func (h *SagaHandler) HandleOrderPaymentSucceeded(ctx context.Context, env event.Envelope) error {
	p, err := decodeOrder(env)
	if err != nil {
		return err
	}
	if h.dedup.Has(env.Topic, p.OrderID) {
		log.Warn().Str("order", p.OrderID).Str("topic", env.Topic).
			Msg("stock saga: duplicate delivery ignored")
		return nil
	}

	for _, it := range p.Items {
		if err := h.ledger.Commit(ctx, it.ProductID, it.Quantity); err != nil {
			if errors.Is(err, ErrLedgerInconsistency) {
				log.Error().Err(err).Str("alert", "ledger-integrity").
					Str("order", p.OrderID).Int64("product", it.ProductID).
					Msg("stock saga: commit without matching reservation")
				continue
			}
			return fmt.Errorf("stock saga: commit order %s product %d: %w", p.OrderID, it.ProductID, err)
		}
	}

	h.committed.Mark(event.TopicStockCommitted, p.OrderID)
	log.Info().Str("order", p.OrderID).Msg("stock saga: committed")
	return h.finish(ctx, env, event.TopicStockCommitted, p, "")
}

// HandleOrderPaymentFailed releases the order's reservations.
func (h *SagaHandler) HandleOrderPaymentFailed(ctx context.Context, env event.Envelope) error {
	p, err := decodeOrder(env)
	if err != nil {
		return err
	}
	if h.dedup.Has(env.Topic, p.OrderID) {
		log.Warn().Str("order", p.OrderID).Str("topic", env.Topic).
			Msg("stock saga: duplicate delivery ignored")
		return nil
	}

	h.releaseAll(ctx, p)
	log.Info().Str("order", p.OrderID).Msg("stock saga: released after payment failure")
	return h.finish(ctx, env, event.TopicStockReleased, p, p.Reason)
}

// HandleOrderCancelSucceeded replenishes committed stock, or releases the
// reservation when the cancel landed before payment.
func (h *SagaHandler) HandleOrderCancelSucceeded(ctx context.Context, env event.Envelope) error {
	p, err := decodeOrder(env)
	if err != nil {
		return err
	}
	if h.dedup.Has(env.Topic, p.OrderID) {
		log.Warn().Str("order", p.OrderID).Str("topic", env.Topic).
			Msg("stock saga: duplicate delivery ignored")
		return nil
	}

	if h.committed.Has(event.TopicStockCommitted, p.OrderID) {
		for _, it := range p.Items {
			if err := h.ledger.Replenish(ctx, it.ProductID, it.Quantity); err != nil {
				log.Error().Err(err).Str("order", p.OrderID).Int64("product", it.ProductID).
					Msg("stock saga: replenish failed")
			}
		}
		log.Info().Str("order", p.OrderID).Msg("stock saga: replenished after cancel")
		return h.finish(ctx, env, event.TopicStockReplenished, p, p.Reason)
	}

	h.releaseAll(ctx, p)
	log.Info().Str("order", p.OrderID).Msg("stock saga: released after cancel")
	return h.finish(ctx, env, event.TopicStockReleased, p, p.Reason)
}

func (h *SagaHandler) releaseAll(ctx context.Context, p event.OrderPayload) {
	for _, it := range p.Items {
		if err := h.ledger.Release(ctx, it.ProductID, it.Quantity); err != nil {
			if errors.Is(err, ErrLedgerInconsistency) {
				log.Error().Err(err).Str("alert", "ledger-integrity").
					Str("order", p.OrderID).Int64("product", it.ProductID).
					Msg("stock saga: release without matching reservation")
				continue
			}
			log.Error().Err(err).Str("order", p.OrderID).Int64("product", it.ProductID).
				Msg("stock saga: release failed")
		}
	}
}

// finish publishes the outcome event and only then records the delivery as
// handled. A failed ledger write or publish never marks, so the upstream
// resend is processed instead of rejected as a duplicate.
func (h *SagaHandler) finish(ctx context.Context, env event.Envelope, topic string, p event.OrderPayload, reason string) error {
	if err := h.publishResult(ctx, topic, p, reason); err != nil {
		return err
	}
	h.dedup.Mark(env.Topic, p.OrderID)
	return nil
}

func (h *SagaHandler) publishResult(ctx context.Context, topic string, p event.OrderPayload, reason string) error {
	out := event.OrderPayload{
		OrderID: p.OrderID,
		StoreID: p.StoreID,
		Items:   p.Items,
		Reason:  reason,
	}
	if err := h.bus.Publish(ctx, topic, out); err != nil {
		return fmt.Errorf("stock saga: publish %s: %w", topic, err)
	}
	return nil
}
