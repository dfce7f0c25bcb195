package eventbus

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/daran2/deliver-anything/internal/event"
)

// RabbitBus implements Bus over a RabbitMQ topic exchange. Each subscribed
// topic gets a durable queue bound to the topic name, consumed with manual
// acks; a handler error still acks, matching the drop-after-log contract.
type RabbitBus struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	service  string
}

// NewRabbitBus dials url and declares the topic exchange.
func NewRabbitBus(url, exchange, service string) (*RabbitBus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &RabbitBus{conn: conn, ch: ch, exchange: exchange, service: service}, nil
}

// Publish marshals payload and publishes it with the topic as routing key.
func (b *RabbitBus) Publish(ctx context.Context, topic string, payload any) error {
	env, err := event.NewEnvelope(topic, payload)
	if err != nil {
		return fmt.Errorf("eventbus: marshal %q: %w", topic, err)
	}
	return retryPublish(3, 100*time.Millisecond, func() error {
		return b.ch.PublishWithContext(ctx, b.exchange, topic, false, false, amqp.Publishing{
			ContentType: "application/json",
			MessageId:   env.ID,
			Timestamp:   env.CreatedAt,
			Body:        env.Body,
		})
	})
}

// Subscribe declares a durable queue for topic and consumes it on a
// dedicated goroutine.
func (b *RabbitBus) Subscribe(topic string, h Handler) error {
	queueName := b.service + "." + topic
	q, err := b.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}
	if err := b.ch.QueueBind(q.Name, topic, b.exchange, false, nil); err != nil {
		return err
	}
	msgs, err := b.ch.Consume(q.Name, queueName+"-worker", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for d := range msgs {
			env := event.Envelope{
				ID:        d.MessageId,
				Topic:     topic,
				Body:      d.Body,
				CreatedAt: d.Timestamp,
			}
			if err := h(context.Background(), env); err != nil {
				log.Error().Err(err).Str("topic", topic).Str("event", env.ID).
					Msg("bus: handler error, message dropped")
			}
			_ = d.Ack(false)
		}
		log.Info().Str("queue", queueName).Msg("bus: consumer stopped")
	}()
	return nil
}

// Close shuts the channel and connection.
func (b *RabbitBus) Close() {
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		_ = b.conn.Close()
	}
}

// retryPublish re-attempts a publish a few times before giving up. Used by
// callers that publish after a durable write and have nothing to roll back.
func retryPublish(n int, sleep time.Duration, fn func() error) error {
	var err error
	for i := 0; i < n; i++ {
		if err = fn(); err == nil {
			return nil
		}
		time.Sleep(sleep)
	}
	return err
}
