package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bidwise/matchd/internal/domain/event"
	"github.com/bidwise/matchd/pkg/logger"
	"github.com/bidwise/matchd/pkg/metrics"
)

// Default AMQP configuration constants.
const (
	defaultExchange = "bidwise"
	defaultPrefetch = 10
)

// AMQPOption applies a configuration option to the AMQPBroker.
type AMQPOption func(*AMQPBroker)

// WithExchange sets the topic exchange events flow through.
func WithExchange(name string) AMQPOption {
	return func(b *AMQPBroker) {
		if name != "" {
			b.exchange = name
		}
	}
}

// WithPrefetch bounds unacked deliveries per consumer channel.
func WithPrefetch(n int) AMQPOption {
	return func(b *AMQPBroker) {
		if n > 0 {
			b.prefetch = n
		}
	}
}

// WithAMQPLogger sets the logger.
func WithAMQPLogger(log logger.Logger) AMQPOption {
	return func(b *AMQPBroker) {
		if log != nil {
			b.log = log
		}
	}
}

// AMQPBroker is a RabbitMQ-backed Broker. Consuming uses manual acks with a
// bounded prefetch; publishing uses a confirm-mode channel so unconfirmed
// events surface as errors instead of vanishing.
type AMQPBroker struct {
	conn     *amqp.Connection
	consume  *amqp.Channel
	publish  *amqp.Channel
	exchange string
	prefetch int
	log      logger.Logger

	mu     sync.Mutex
	closed bool
}

// DialAMQP connects to RabbitMQ and declares the topic exchange.
func DialAMQP(url string, opts ...AMQPOption) (*AMQPBroker, error) {
	b := &AMQPBroker{
		exchange: defaultExchange,
		prefetch: defaultPrefetch,
		log:      logger.Named("broker"),
	}
	for _, opt := range opts {
		opt(b)
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	consume, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open consume channel: %w", err)
	}
	if err := consume.ExchangeDeclare(b.exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", b.exchange, err)
	}
	if err := consume.Qos(b.prefetch, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set prefetch: %w", err)
	}

	publish, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	if err := publish.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	b.conn = conn
	b.consume = consume
	b.publish = publish
	return b, nil
}

// Consume implements Source.
func (b *AMQPBroker) Consume(ctx context.Context, queue string, keys []string) (<-chan Delivery, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	q, err := b.consume.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	for _, key := range keys {
		if err := b.consume.QueueBind(q.Name, key, b.exchange, false, nil); err != nil {
			return nil, fmt.Errorf("bind %s to %s: %w", queue, key, err)
		}
	}

	msgs, err := b.consume.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", queue, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				d := Delivery{
					Queue: queue,
					Body:  msg.Body,
					Ack:   func() error { return msg.Ack(false) },
					Nack:  func(requeue bool) error { return msg.Nack(false, requeue) },
				}
				select {
				case out <- d:
				case <-ctx.Done():
					// Unacked delivery; the broker redelivers it.
					return
				}
			}
		}
	}()
	return out, nil
}

// Publish implements Publisher.
func (b *AMQPBroker) Publish(ctx context.Context, key string, ev event.Outbound) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	body, err := ev.Encode(time.Now())
	if err != nil {
		return err
	}

	confirm, err := b.publish.PublishWithDeferredConfirmWithContext(ctx, b.exchange, key, false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
	if err != nil {
		metrics.RecordPublishFailed()
		return fmt.Errorf("publish %s: %w", key, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		metrics.RecordPublishFailed()
		return fmt.Errorf("await confirm for %s: %w", key, err)
	}
	if !acked {
		metrics.RecordPublishFailed()
		return fmt.Errorf("%w: %s", ErrPublishFailed, key)
	}

	metrics.RecordPublishConfirmed()
	b.log.Debug(ctx, "event published",
		logger.String("routing_key", key),
		logger.String("event_type", string(ev.EventType)),
	)
	return nil
}

// Close shuts down channels and the connection.
func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	b.consume.Close()
	b.publish.Close()
	return b.conn.Close()
}
