package broker

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bidwise/matchd/internal/domain/event"
	"github.com/bidwise/matchd/pkg/metrics"
)

// Default in-memory broker configuration constants.
const defaultBufferSize = 1024

// Published is one event the in-memory broker accepted, kept for
// inspection.
type Published struct {
	Key   string
	Event event.Outbound
}

// MemoryOption applies a configuration option to the MemoryBroker.
type MemoryOption func(*MemoryBroker)

// WithBufferSize sets the per-queue delivery buffer.
func WithBufferSize(n int) MemoryOption {
	return func(b *MemoryBroker) {
		if n > 0 {
			b.buffer = n
		}
	}
}

// MemoryBroker is a channel-backed Broker with the same ack semantics as
// the AMQP one: deliveries stay owned by the consumer until acked, and
// Nack(requeue=true) puts them back on the queue.
type MemoryBroker struct {
	mu     sync.RWMutex
	queues map[string]*memQueue
	buffer int
	closed bool

	outMu  sync.Mutex
	outbox []Published
}

type memQueue struct {
	deliveries chan Delivery
	keys       []string
}

// NewMemoryBroker creates an in-memory broker.
func NewMemoryBroker(opts ...MemoryOption) *MemoryBroker {
	b := &MemoryBroker{
		queues: make(map[string]*memQueue),
		buffer: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Consume implements Source. The returned channel closes when the broker
// closes.
func (b *MemoryBroker) Consume(_ context.Context, queue string, keys []string) (<-chan Delivery, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	q, ok := b.queues[queue]
	if !ok {
		q = &memQueue{deliveries: make(chan Delivery, b.buffer)}
		b.queues[queue] = q
	}
	q.keys = keys
	return q.deliveries, nil
}

// Publish implements Publisher. The event is routed to every queue whose
// binding matches the key and recorded in the outbox.
func (b *MemoryBroker) Publish(_ context.Context, key string, ev event.Outbound) error {
	body, err := ev.Encode(time.Now())
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	b.outMu.Lock()
	b.outbox = append(b.outbox, Published{Key: key, Event: ev})
	b.outMu.Unlock()

	for name, q := range b.queues {
		if !bindingMatches(q.keys, key) {
			continue
		}
		b.deliver(name, q, body)
	}

	metrics.RecordPublishConfirmed()
	return nil
}

func (b *MemoryBroker) deliver(queue string, q *memQueue, body []byte) {
	var d Delivery
	d = Delivery{
		Queue: queue,
		Body:  body,
		Ack:   func() error { return nil },
		Nack: func(requeue bool) error {
			if !requeue {
				return nil
			}
			b.mu.RLock()
			defer b.mu.RUnlock()
			if b.closed {
				return ErrClosed
			}
			select {
			case q.deliveries <- d:
				return nil
			default:
				return ErrPublishFailed
			}
		},
	}

	select {
	case q.deliveries <- d:
	default:
		// Queue full; the event is lost to this queue but kept in the
		// outbox. Tests size buffers to avoid this.
	}
}

// Outbox returns a copy of everything published so far.
func (b *MemoryBroker) Outbox() []Published {
	b.outMu.Lock()
	defer b.outMu.Unlock()
	out := make([]Published, len(b.outbox))
	copy(out, b.outbox)
	return out
}

// OutboxByType filters the outbox down to one event type.
func (b *MemoryBroker) OutboxByType(t event.Type) []Published {
	var out []Published
	for _, p := range b.Outbox() {
		if p.Event.EventType == t {
			out = append(out, p)
		}
	}
	return out
}

// Close shuts down all queues.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, q := range b.queues {
		close(q.deliveries)
	}
	return nil
}

// bindingMatches reports whether any bound pattern matches the routing key.
// Patterns are topic-style: segments split on dots, "*" matching exactly
// one segment.
func bindingMatches(patterns []string, key string) bool {
	for _, p := range patterns {
		if topicMatch(p, key) {
			return true
		}
	}
	return false
}

func topicMatch(pattern, key string) bool {
	ps := strings.Split(pattern, ".")
	ks := strings.Split(key, ".")
	if len(ps) != len(ks) {
		return false
	}
	for i := range ps {
		if ps[i] != "*" && ps[i] != ks[i] {
			return false
		}
	}
	return true
}
