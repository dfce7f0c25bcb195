// Package eventbus carries typed JSON envelopes between the order and stock
// subsystems. Delivery is at-least-once with no ordering guarantee across
// topics; a handler error is caught at the dispatch boundary, logged and the
// message dropped.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/daran2/deliver-anything/internal/event"
)

// Handler consumes one envelope. It runs to completion once started; there
// is no cancellation of an in-flight saga step.
type Handler func(ctx context.Context, env event.Envelope) error

// Bus is the publish/subscribe contract. Subscribe is called once per topic
// at process startup; there is no dynamic unsubscribe in steady state.
type Bus interface {
	Publish(ctx context.Context, topic string, payload any) error
	Subscribe(topic string, h Handler) error
	Close()
}

// MemoryBus dispatches in-process. Each topic gets its own queue and
// dispatch goroutine so a slow consumer on one topic cannot starve delivery
// to others.
type MemoryBus struct {
	mu      sync.Mutex
	topics  map[string]*topicQueue
	buffer  int
	wg      sync.WaitGroup
	closed  bool
	closeCh chan struct{}
}

type topicQueue struct {
	ch       chan event.Envelope
	handlers []Handler
}

// NewMemoryBus creates a bus whose per-topic queues hold up to buffer
// envelopes before Publish blocks.
func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryBus{
		topics:  make(map[string]*topicQueue),
		buffer:  buffer,
		closeCh: make(chan struct{}),
	}
}

func (b *MemoryBus) queue(topic string) *topicQueue {
	q, ok := b.topics[topic]
	if !ok {
		q = &topicQueue{ch: make(chan event.Envelope, b.buffer)}
		b.topics[topic] = q
		b.wg.Add(1)
		go b.dispatch(topic, q)
	}
	return q
}

// Subscribe registers h for topic. Registration after Close is an error.
func (b *MemoryBus) Subscribe(topic string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("eventbus: subscribe %q on closed bus", topic)
	}
	q := b.queue(topic)
	q.handlers = append(q.handlers, h)
	return nil
}

// Publish marshals payload and enqueues it for every handler of topic.
// Callers publish only after their own state write is durable.
func (b *MemoryBus) Publish(ctx context.Context, topic string, payload any) error {
	env, err := event.NewEnvelope(topic, payload)
	if err != nil {
		return fmt.Errorf("eventbus: marshal %q: %w", topic, err)
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("eventbus: publish %q on closed bus", topic)
	}
	q := b.queue(topic)
	b.mu.Unlock()

	select {
	case q.ch <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.closeCh:
		return fmt.Errorf("eventbus: publish %q on closed bus", topic)
	}
}

func (b *MemoryBus) dispatch(topic string, q *topicQueue) {
	defer b.wg.Done()
	for {
		select {
		case env := <-q.ch:
			b.deliver(topic, q, env)
		case <-b.closeCh:
			// drain what was accepted before close
			for {
				select {
				case env := <-q.ch:
					b.deliver(topic, q, env)
				default:
					return
				}
			}
		}
	}
}

func (b *MemoryBus) deliver(topic string, q *topicQueue, env event.Envelope) {
	b.mu.Lock()
	handlers := make([]Handler, len(q.handlers))
	copy(handlers, q.handlers)
	b.mu.Unlock()

	for _, h := range handlers {
		b.invoke(topic, h, env)
	}
}

// invoke isolates one handler call; an error or panic is logged and the
// message dropped. There is no retry queue or dead-letter sink.
func (b *MemoryBus) invoke(topic string, h Handler, env event.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("topic", topic).Str("event", env.ID).
				Interface("panic", r).Msg("bus: handler panic, message dropped")
		}
	}()
	if err := h(context.Background(), env); err != nil {
		log.Error().Err(err).Str("topic", topic).Str("event", env.ID).
			Msg("bus: handler error, message dropped")
	}
}

// Close stops intake, waits for queued envelopes to drain, then returns.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	close(b.closeCh)
	b.wg.Wait()
}
