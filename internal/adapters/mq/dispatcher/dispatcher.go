// Package dispatcher runs the consumer worker pool that turns broker
// deliveries into index, score, and match work.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/bidwise/matchd/internal/adapters/mq/broker"
	"github.com/bidwise/matchd/internal/domain/dedupe"
	"github.com/bidwise/matchd/internal/domain/event"
	"github.com/bidwise/matchd/internal/domain/matching"
	"github.com/bidwise/matchd/internal/domain/model"
	"github.com/bidwise/matchd/pkg/logger"
	"github.com/bidwise/matchd/pkg/metrics"
)

// Default dispatcher configuration constants.
const (
	defaultWorkerMultiplier = 2
	defaultFreelancerQueue  = "ai.freelancer.index"
	defaultJobQueue         = "ai.job.match"
)

// Ops is the application surface events drive. Implemented by the service.
type Ops interface {
	// ApplyFreelancer refreshes the projection and index from the event
	// payload and returns a freshly computed score.
	ApplyFreelancer(ctx context.Context, payload event.FreelancerPayload) (model.ScoreRecord, error)

	// RemoveFreelancer drops the freelancer from index, projection, and
	// score cache. Removing an unknown freelancer is a no-op.
	RemoveFreelancer(ctx context.Context, userID string) error

	// MatchJob ranks candidates for a posted job.
	MatchJob(ctx context.Context, req matching.JobRequest) (model.MatchResult, error)
}

// Dispatcher consumes the freelancer and job queues with a bounded worker
// pool. Events are acked only after their effects and outbound events are
// durable; validation failures are rejected permanently.
type Dispatcher struct {
	source   broker.Source
	pub      broker.Publisher
	ops      Ops
	registry dedupe.Registry

	freelancerQueue string
	jobQueue        string
	workers         int
	log             logger.Logger

	shutdown chan struct{}
	wg       sync.WaitGroup
	done     chan struct{}
}

// New creates a dispatcher over the given broker and operations.
func New(source broker.Source, pub broker.Publisher, ops Ops, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		source:          source,
		pub:             pub,
		ops:             ops,
		registry:        dedupe.NewRegistry(),
		freelancerQueue: defaultFreelancerQueue,
		jobQueue:        defaultJobQueue,
		workers:         runtime.NumCPU() * defaultWorkerMultiplier,
		log:             logger.Named("dispatcher"),
		shutdown:        make(chan struct{}),
		done:            make(chan struct{}),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Start binds the queues and launches the worker pool.
func (d *Dispatcher) Start(ctx context.Context) error {
	freelancers, err := d.source.Consume(ctx, d.freelancerQueue, []string{"freelancer.*"})
	if err != nil {
		return fmt.Errorf("consume %s: %w", d.freelancerQueue, err)
	}
	jobs, err := d.source.Consume(ctx, d.jobQueue, []string{string(event.TypeJobPosted)})
	if err != nil {
		return fmt.Errorf("consume %s: %w", d.jobQueue, err)
	}

	deliveries := d.merge(freelancers, jobs)

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run(ctx, deliveries)
	}
	metrics.UpdateWorkerCount(d.workers)

	go func() {
		d.wg.Wait()
		close(d.done)
	}()

	d.log.Info(ctx, "dispatcher started",
		logger.Int("workers", d.workers),
		logger.String("freelancer_queue", d.freelancerQueue),
		logger.String("job_queue", d.jobQueue),
	)
	return nil
}

// Workers reports the size of the worker pool.
func (d *Dispatcher) Workers() int { return d.workers }

// Stop signals the workers and waits for them to drain.
func (d *Dispatcher) Stop(ctx context.Context) error {
	close(d.shutdown)
	select {
	case <-d.done:
		metrics.UpdateWorkerCount(0)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher shutdown timed out: %w", ctx.Err())
	}
}

func (d *Dispatcher) run(ctx context.Context, deliveries <-chan broker.Delivery) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.shutdown:
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}
			d.handle(ctx, delivery)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, delivery broker.Delivery) {
	start := time.Now()
	defer func() {
		metrics.RecordEventLatency(float64(time.Since(start).Milliseconds()))
	}()

	ev, err := event.Decode(delivery.Body)
	if err != nil {
		metrics.RecordEventConsumed("invalid")
		metrics.RecordEventRejected("invalid")
		d.log.Warn(ctx, "rejecting undecodable event", logger.Error(err))
		d.finish(ctx, delivery.Nack(false))
		return
	}
	metrics.RecordEventConsumed(string(ev.Type()))

	// Exact redeliveries of already-applied events are acked straight away.
	if d.registry.SeenAndRecord(ev.Fingerprint()) {
		metrics.RecordEventDuplicate()
		d.log.Debug(ctx, "duplicate event",
			logger.String("event_type", string(ev.Type())),
			logger.String("key", ev.Key()),
		)
		d.finish(ctx, delivery.Ack())
		return
	}

	if err := d.process(ctx, ev); err != nil {
		// The fingerprint was recorded optimistically; a redelivery must
		// get another chance.
		d.registry.Forget(ev.Fingerprint())

		if permanent(err) {
			metrics.RecordEventRejected(string(ev.Type()))
			d.log.Warn(ctx, "rejecting event",
				logger.String("event_type", string(ev.Type())),
				logger.String("key", ev.Key()),
				logger.Error(err),
			)
			d.finish(ctx, delivery.Nack(false))
			return
		}

		metrics.RecordEventNacked(string(ev.Type()))
		d.log.Error(ctx, "requeueing event",
			logger.String("event_type", string(ev.Type())),
			logger.String("key", ev.Key()),
			logger.Error(err),
		)
		d.finish(ctx, delivery.Nack(true))
		return
	}

	metrics.RecordEventAcked(string(ev.Type()))
	d.finish(ctx, delivery.Ack())
}

func (d *Dispatcher) process(ctx context.Context, ev event.Inbound) error {
	switch e := ev.(type) {
	case event.FreelancerRegistered:
		return d.applyFreelancer(ctx, e.FreelancerPayload)
	case event.FreelancerUpdated:
		return d.applyFreelancer(ctx, e.FreelancerPayload)
	case event.FreelancerDeleted:
		return d.ops.RemoveFreelancer(ctx, e.UserID)
	case event.JobPosted:
		return d.matchJob(ctx, e)
	default:
		return fmt.Errorf("%w: unhandled event type %s", model.ErrValidation, ev.Type())
	}
}

func (d *Dispatcher) applyFreelancer(ctx context.Context, payload event.FreelancerPayload) error {
	score, err := d.ops.ApplyFreelancer(ctx, payload)
	if err != nil {
		if permanent(err) {
			d.publishIndexFailed(ctx, payload.UserID, err)
		}
		return err
	}

	if err := d.pub.Publish(ctx, string(event.TypeFreelancerIndexed), event.Outbound{
		EventType: event.TypeFreelancerIndexed,
		Data:      event.FreelancerIndexed{UserID: payload.UserID},
	}); err != nil {
		return err
	}

	return d.pub.Publish(ctx, string(event.TypeScoreCalculated), event.Outbound{
		EventType: event.TypeScoreCalculated,
		Data: event.ScoreCalculated{
			UserID:    score.UserID,
			Score:     score.Score,
			Tier:      score.Tier,
			Breakdown: score.Breakdown,
		},
	})
}

func (d *Dispatcher) matchJob(ctx context.Context, e event.JobPosted) error {
	result, err := d.ops.MatchJob(ctx, matching.JobRequest{
		JobID:          e.JobID,
		Description:    e.JobDescription,
		RequiredSkills: e.RequiredSkills,
		TopK:           e.TopK,
	})
	if err != nil {
		return err
	}

	return d.pub.Publish(ctx, string(event.TypeMatchesFound), event.Outbound{
		EventType: event.TypeMatchesFound,
		Data: event.MatchesFound{
			JobID:      result.JobID,
			ClientID:   e.ClientID,
			MatchCount: len(result.Matches),
			Matches:    result.Matches,
		},
	})
}

// publishIndexFailed is best effort; the triggering event is rejected
// either way.
func (d *Dispatcher) publishIndexFailed(ctx context.Context, userID string, cause error) {
	err := d.pub.Publish(ctx, string(event.TypeFreelancerIndexFailed), event.Outbound{
		EventType: event.TypeFreelancerIndexFailed,
		Data:      event.FreelancerIndexFailed{UserID: userID, Reason: cause.Error()},
	})
	if err != nil {
		d.log.Error(ctx, "publishing index_failed failed",
			logger.String("user_id", userID),
			logger.Error(err),
		)
	}
}

func (d *Dispatcher) finish(ctx context.Context, err error) {
	if err != nil {
		d.log.Error(ctx, "settling delivery failed", logger.Error(err))
	}
}

// permanent reports whether retrying the event can never succeed.
func permanent(err error) bool {
	return errors.Is(err, model.ErrValidation) || errors.Is(err, model.ErrNotFound)
}

// merge fans two delivery streams into one. The output closes when both
// inputs close or when the dispatcher shuts down; forwarders are counted
// in the pool WaitGroup so Stop waits for them too.
func (d *Dispatcher) merge(a, b <-chan broker.Delivery) <-chan broker.Delivery {
	out := make(chan broker.Delivery)
	var forwarders sync.WaitGroup
	forward := func(ch <-chan broker.Delivery) {
		defer d.wg.Done()
		defer forwarders.Done()
		for {
			var dl broker.Delivery
			var ok bool
			select {
			case <-d.shutdown:
				return
			case dl, ok = <-ch:
				if !ok {
					return
				}
			}
			select {
			case <-d.shutdown:
				return
			case out <- dl:
			}
		}
	}
	forwarders.Add(2)
	d.wg.Add(2)
	go forward(a)
	go forward(b)
	go func() {
		forwarders.Wait()
		close(out)
	}()
	return out
}
