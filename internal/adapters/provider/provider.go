// Package provider wraps the external text-embedding provider behind a
// narrow interface with a bounded retry policy.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bidwise/matchd/internal/domain/model"
	"github.com/bidwise/matchd/pkg/logger"
	"github.com/bidwise/matchd/pkg/metrics"
)

// Default retry policy constants.
const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 500 * time.Millisecond
	defaultCapDelay    = 8 * time.Second
	defaultCallTimeout = 10 * time.Second
)

// Embedder turns text into a fixed-length vector. Implementations talk to
// an external, fallible, rate-limited service.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// RetryPolicy bounds retries of transient provider failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	CapDelay    time.Duration
	CallTimeout time.Duration
}

// DefaultRetryPolicy returns the documented defaults: base 500ms, cap 8s,
// max 3 attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: defaultMaxAttempts,
		BaseDelay:   defaultBaseDelay,
		CapDelay:    defaultCapDelay,
		CallTimeout: defaultCallTimeout,
	}
}

// RetryingEmbedder decorates an Embedder with per-call timeouts and
// exponential backoff with jitter. After the attempts are exhausted the
// failure surfaces as model.ErrProviderUnavailable; nothing is cached by
// callers on that path, so a later call retries cleanly.
type RetryingEmbedder struct {
	inner  Embedder
	policy RetryPolicy
	log    logger.Logger
}

// NewRetryingEmbedder wraps inner with the given policy. Zero policy
// fields fall back to the defaults.
func NewRetryingEmbedder(inner Embedder, policy RetryPolicy, log logger.Logger) *RetryingEmbedder {
	def := DefaultRetryPolicy()
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = def.BaseDelay
	}
	if policy.CapDelay <= 0 {
		policy.CapDelay = def.CapDelay
	}
	if policy.CallTimeout <= 0 {
		policy.CallTimeout = def.CallTimeout
	}
	return &RetryingEmbedder{inner: inner, policy: policy, log: log}
}

// Embed calls the wrapped provider, retrying transient failures.
func (r *RetryingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = r.policy.BaseDelay
	expo.MaxInterval = r.policy.CapDelay
	expo.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	bo := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(r.policy.MaxAttempts-1)), ctx)

	var out []float32
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, r.policy.CallTimeout)
		defer cancel()

		start := time.Now()
		vec, err := r.inner.Embed(callCtx, text)
		metrics.RecordProviderLatency(float64(time.Since(start).Milliseconds()))
		metrics.RecordProviderCall()

		if err != nil {
			if errors.Is(err, model.ErrValidation) {
				return backoff.Permanent(err)
			}
			metrics.RecordProviderRetry()
			if r.log != nil {
				r.log.Warn(ctx, "embedding call failed",
					logger.Int("attempt", attempt),
					logger.Error(err),
				)
			}
			return err
		}
		out = vec
		return nil
	}, bo)
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			return nil, err
		}
		metrics.RecordProviderError()
		return nil, fmt.Errorf("%w: %v", model.ErrProviderUnavailable, err)
	}
	return out, nil
}
