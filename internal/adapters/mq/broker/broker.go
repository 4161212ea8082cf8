// Package broker connects the service to the message bus.
//
// The AMQP implementation talks to RabbitMQ with manual acks and publisher
// confirms. The in-memory implementation backs tests and embedded mode with
// the same delivery semantics.
package broker

import (
	"context"

	"github.com/bidwise/matchd/internal/domain/event"
)

// Delivery is one message awaiting processing. Exactly one of Ack or Nack
// must be called once processing finishes.
type Delivery struct {
	Queue string
	Body  []byte

	Ack  func() error
	Nack func(requeue bool) error
}

// Source consumes deliveries from a named queue bound to routing keys.
type Source interface {
	// Consume declares and binds the queue, then streams its deliveries.
	// The channel closes when the source shuts down or ctx is done.
	Consume(ctx context.Context, queue string, keys []string) (<-chan Delivery, error)

	// Close stops all consumers.
	Close() error
}

// Publisher emits outbound events onto the bus.
type Publisher interface {
	// Publish sends the event under the given routing key and waits for
	// the broker to confirm it.
	Publish(ctx context.Context, key string, ev event.Outbound) error
}

// Broker is a combined consume-and-publish connection.
type Broker interface {
	Source
	Publisher
}
