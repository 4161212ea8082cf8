// Package cache provides the TTL result cache shared by the scoring and
// matching engines.
package cache

import (
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/bidwise/matchd/pkg/metrics"
)

// Default cache configuration constants.
const (
	defaultTTL        = time.Hour
	defaultMaxEntries = 10_000
)

// Store is a key/value cache with per-entry time-to-live. A read past an
// entry's expiry is a miss, never a stale hit.
type Store interface {
	// Get returns the live value for key, or false on a miss. Reads do
	// not extend an entry's lifetime.
	Get(key string) (any, bool)

	// Set writes value under key. A non-positive ttl uses the store default.
	Set(key string, value any, ttl time.Duration)

	// Delete removes key if present. Returns true when an entry was removed.
	Delete(key string) bool

	// Len returns the number of non-expired entries.
	Len() int

	// HitRate reports the lifetime hit ratio on [0,1]; 0 before any read.
	HitRate() float64

	// Stop releases the background expiry worker.
	Stop()
}

// TTLStore implements Store on top of jellydator/ttlcache.
type TTLStore struct {
	inner *ttlcache.Cache[string, any]
}

// Option applies a configuration option to the TTLStore.
type Option func(*settings)

type settings struct {
	ttl        time.Duration
	maxEntries uint64
}

// WithTTL sets the default entry time-to-live.
func WithTTL(ttl time.Duration) Option {
	return func(s *settings) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxEntries bounds the number of cached entries; the oldest entries
// are evicted past the bound.
func WithMaxEntries(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxEntries = uint64(n)
		}
	}
}

// NewTTLStore creates a started TTL cache.
func NewTTLStore(opts ...Option) *TTLStore {
	s := settings{
		ttl:        defaultTTL,
		maxEntries: defaultMaxEntries,
	}
	for _, opt := range opts {
		opt(&s)
	}

	inner := ttlcache.New[string, any](
		ttlcache.WithTTL[string, any](s.ttl),
		ttlcache.WithCapacity[string, any](s.maxEntries),
		// Expiry is absolute: a hit must not push an entry's deadline out.
		ttlcache.WithDisableTouchOnHit[string, any](),
	)
	go inner.Start()

	return &TTLStore{inner: inner}
}

// Get returns the live value for key, or false on a miss.
func (c *TTLStore) Get(key string) (any, bool) {
	item := c.inner.Get(key)
	if item == nil {
		metrics.RecordCacheMiss()
		return nil, false
	}
	metrics.RecordCacheHit()
	return item.Value(), true
}

// Set writes value under key with the given ttl.
func (c *TTLStore) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = ttlcache.DefaultTTL
	}
	c.inner.Set(key, value, ttl)
}

// Delete removes key if present.
func (c *TTLStore) Delete(key string) bool {
	if c.inner.Get(key) == nil {
		return false
	}
	c.inner.Delete(key)
	return true
}

// Len returns the number of non-expired entries.
func (c *TTLStore) Len() int {
	return c.inner.Len()
}

// HitRate reports the lifetime hit ratio.
func (c *TTLStore) HitRate() float64 {
	m := c.inner.Metrics()
	total := m.Hits + m.Misses
	if total == 0 {
		return 0
	}
	return float64(m.Hits) / float64(total)
}

// Stop releases the background expiry worker.
func (c *TTLStore) Stop() {
	c.inner.Stop()
}
