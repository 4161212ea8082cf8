// Package dispatcher runs the consumer worker pool.
package dispatcher

import (
	"github.com/bidwise/matchd/internal/domain/dedupe"
	"github.com/bidwise/matchd/pkg/logger"
)

// Option applies a configuration option to the Dispatcher.
type Option func(*Dispatcher)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueues sets the consumed queue names.
func WithQueues(freelancer, job string) Option {
	return func(d *Dispatcher) {
		if freelancer != "" {
			d.freelancerQueue = freelancer
		}
		if job != "" {
			d.jobQueue = job
		}
	}
}

// WithRegistry sets the processed-event fingerprint registry.
func WithRegistry(r dedupe.Registry) Option {
	return func(d *Dispatcher) {
		if r != nil {
			d.registry = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}
