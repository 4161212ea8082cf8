// Package dedupe tracks processed event fingerprints so at-least-once
// delivery does not reapply exact redeliveries.
package dedupe

import (
	"sync"
)

const defaultCapacity = 50_000

// Registry records fingerprints of successfully processed events.
type Registry interface {
	// SeenAndRecord atomically checks whether fingerprint was recorded and
	// records it if not. It reports whether it was already present.
	SeenAndRecord(fingerprint string) bool

	// Forget removes a fingerprint, letting a redelivery be processed
	// again. Used when work was recorded but failed before the ack.
	Forget(fingerprint string)

	// Size reports the number of fingerprints currently tracked.
	Size() int
}

// Option applies a configuration option to the registry.
type Option func(*ringRegistry)

// WithCapacity bounds how many fingerprints are kept. The oldest entries
// are evicted first. Zero or negative keeps the default.
func WithCapacity(n int) Option {
	return func(r *ringRegistry) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// ringRegistry keeps fingerprints in a fixed-size insertion-order ring
// backed by a map for O(1) lookups. When full, the oldest fingerprint is
// dropped; a fingerprint evicted and redelivered is simply reprocessed,
// which at-least-once semantics already allow.
type ringRegistry struct {
	mu       sync.Mutex
	seen     map[string]struct{}
	ring     []string
	next     int
	capacity int
}

// NewRegistry creates a bounded fingerprint registry.
func NewRegistry(opts ...Option) Registry {
	r := &ringRegistry{capacity: defaultCapacity}
	for _, opt := range opts {
		opt(r)
	}
	r.seen = make(map[string]struct{}, r.capacity)
	r.ring = make([]string, r.capacity)
	return r
}

func (r *ringRegistry) SeenAndRecord(fingerprint string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[fingerprint]; ok {
		return true
	}

	if old := r.ring[r.next]; old != "" {
		delete(r.seen, old)
	}
	r.ring[r.next] = fingerprint
	r.next = (r.next + 1) % r.capacity
	r.seen[fingerprint] = struct{}{}
	return false
}

func (r *ringRegistry) Forget(fingerprint string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.seen[fingerprint]; !ok {
		return
	}
	delete(r.seen, fingerprint)
	for i, v := range r.ring {
		if v == fingerprint {
			r.ring[i] = ""
			break
		}
	}
}

func (r *ringRegistry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}
