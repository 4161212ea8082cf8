package dispatcher_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bidwise/matchd/internal/adapters/mq/broker"
	"github.com/bidwise/matchd/internal/adapters/mq/dispatcher"
	"github.com/bidwise/matchd/internal/domain/event"
	"github.com/bidwise/matchd/internal/domain/matching"
	"github.com/bidwise/matchd/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// stubOps records calls and pops scripted errors.
type stubOps struct {
	mu           sync.Mutex
	applyCalls   int
	removeCalls  int
	matchCalls   int
	applyErrs    []error
	matchErrs    []error
	lastPayload  event.FreelancerPayload
	lastJobMatch matching.JobRequest
}

func (s *stubOps) ApplyFreelancer(_ context.Context, p event.FreelancerPayload) (model.ScoreRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyCalls++
	s.lastPayload = p
	if len(s.applyErrs) > 0 {
		err := s.applyErrs[0]
		s.applyErrs = s.applyErrs[1:]
		if err != nil {
			return model.ScoreRecord{}, err
		}
	}
	return model.ScoreRecord{UserID: p.UserID, Score: 75, Tier: "good"}, nil
}

func (s *stubOps) RemoveFreelancer(_ context.Context, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeCalls++
	return nil
}

func (s *stubOps) MatchJob(_ context.Context, req matching.JobRequest) (model.MatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matchCalls++
	s.lastJobMatch = req
	if len(s.matchErrs) > 0 {
		err := s.matchErrs[0]
		s.matchErrs = s.matchErrs[1:]
		if err != nil {
			return model.MatchResult{}, err
		}
	}
	return model.MatchResult{JobID: req.JobID, Matches: []model.Match{{UserID: "alice", MatchScore: 90}}}, nil
}

func (s *stubOps) counts() (apply, remove, match int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyCalls, s.removeCalls, s.matchCalls
}

func envelope(t *testing.T, eventType string, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	body, err := json.Marshal(map[string]any{
		"event_type": eventType,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"data":       json.RawMessage(raw),
	})
	if err != nil {
		t.Fatal(err)
	}
	return body
}

// publishRaw injects a pre-encoded inbound body through the broker.
func publishRaw(t *testing.T, b *broker.MemoryBroker, key string, body []byte) {
	t.Helper()
	var env struct {
		EventType string          `json:"event_type"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatal(err)
	}
	err := b.Publish(context.Background(), key, event.Outbound{
		EventType: event.Type(env.EventType),
		Data:      env.Data,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func eventually(f func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if f() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return f()
}

func startDispatcher(t *testing.T, ops dispatcher.Ops) (*broker.MemoryBroker, func()) {
	t.Helper()
	b := broker.NewMemoryBroker()
	d := dispatcher.New(b, b, ops, dispatcher.WithWorkers(2))
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		t.Fatal(err)
	}
	return b, func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		_ = d.Stop(stopCtx)
		cancel()
		_ = b.Close()
	}
}

func TestDispatcherFreelancerFlow(t *testing.T) {
	Convey("Given a running dispatcher", t, func() {
		ops := &stubOps{}
		b, stop := startDispatcher(t, ops)
		Reset(stop)

		Convey("When a freelancer.registered event arrives", func() {
			body := envelope(t, "freelancer.registered", map[string]any{
				"user_id": "42",
				"skills":  []string{"python", "django"},
			})
			publishRaw(t, b, "freelancer.registered", body)

			Convey("Then the freelancer is applied and results are published", func() {
				So(eventually(func() bool {
					return len(b.OutboxByType(event.TypeScoreCalculated)) == 1
				}), ShouldBeTrue)

				apply, _, _ := ops.counts()
				So(apply, ShouldEqual, 1)
				So(b.OutboxByType(event.TypeFreelancerIndexed), ShouldHaveLength, 1)

				published := b.OutboxByType(event.TypeScoreCalculated)[0]
				payload := published.Event.Data.(event.ScoreCalculated)
				So(payload.UserID, ShouldEqual, "42")
				So(payload.Tier, ShouldEqual, "good")
			})
		})

		Convey("When the identical event is delivered twice", func() {
			body := envelope(t, "freelancer.updated", map[string]any{
				"user_id": "42",
				"skills":  []string{"go"},
			})
			publishRaw(t, b, "freelancer.updated", body)
			So(eventually(func() bool {
				a, _, _ := ops.counts()
				return a == 1
			}), ShouldBeTrue)

			publishRaw(t, b, "freelancer.updated", body)

			Convey("Then the duplicate is acked without reprocessing", func() {
				time.Sleep(50 * time.Millisecond)
				apply, _, _ := ops.counts()
				So(apply, ShouldEqual, 1)
				So(b.OutboxByType(event.TypeFreelancerIndexed), ShouldHaveLength, 1)
			})
		})

		Convey("When a freelancer.deleted event arrives", func() {
			body := envelope(t, "freelancer.deleted", map[string]any{"user_id": "42"})
			publishRaw(t, b, "freelancer.deleted", body)

			So(eventually(func() bool {
				_, remove, _ := ops.counts()
				return remove == 1
			}), ShouldBeTrue)
		})
	})
}

func TestDispatcherJobFlow(t *testing.T) {
	Convey("Given a running dispatcher", t, func() {
		ops := &stubOps{}
		b, stop := startDispatcher(t, ops)
		Reset(stop)

		Convey("When a job.posted event arrives", func() {
			body := envelope(t, "job.posted", map[string]any{
				"job_id":          "j-1",
				"client_id":       "c-9",
				"job_description": "Build a REST API",
				"required_skills": []string{"python"},
				"top_k":           5,
			})
			publishRaw(t, b, "job.posted", body)

			Convey("Then matches.found is published with the client id", func() {
				So(eventually(func() bool {
					return len(b.OutboxByType(event.TypeMatchesFound)) == 1
				}), ShouldBeTrue)

				published := b.OutboxByType(event.TypeMatchesFound)[0]
				payload := published.Event.Data.(event.MatchesFound)
				So(payload.JobID, ShouldEqual, "j-1")
				So(payload.ClientID, ShouldEqual, "c-9")
				So(payload.MatchCount, ShouldEqual, 1)

				_, _, match := ops.counts()
				So(match, ShouldEqual, 1)
				So(ops.lastJobMatch.TopK, ShouldEqual, 5)
			})
		})
	})
}

func TestDispatcherShutdownWithBacklog(t *testing.T) {
	Convey("Given a single-worker dispatcher with a deep backlog", t, func() {
		ops := &stubOps{}
		b := broker.NewMemoryBroker()
		Reset(func() { _ = b.Close() })

		d := dispatcher.New(b, b, ops, dispatcher.WithWorkers(1))
		ctx, cancel := context.WithCancel(context.Background())
		Reset(cancel)
		So(d.Start(ctx), ShouldBeNil)

		for i := 0; i < 64; i++ {
			body := envelope(t, "freelancer.registered", map[string]any{
				"user_id": fmt.Sprintf("u-%d", i),
				"skills":  []string{"go"},
			})
			publishRaw(t, b, "freelancer.registered", body)
		}

		Convey("When the dispatcher stops before the backlog drains", func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer stopCancel()
			err := d.Stop(stopCtx)

			Convey("Then the whole pool, forwarders included, exits in time", func() {
				So(err, ShouldBeNil)
			})
		})
	})
}

func TestDispatcherFailureHandling(t *testing.T) {
	Convey("Given a running dispatcher", t, func() {
		Convey("When applying fails with a validation error", func() {
			ops := &stubOps{applyErrs: []error{model.ErrValidation}}
			b, stop := startDispatcher(t, ops)
			Reset(stop)

			body := envelope(t, "freelancer.registered", map[string]any{
				"user_id": "42",
				"skills":  []string{"x"},
			})
			publishRaw(t, b, "freelancer.registered", body)

			Convey("Then the event is rejected and index_failed is published", func() {
				So(eventually(func() bool {
					return len(b.OutboxByType(event.TypeFreelancerIndexFailed)) == 1
				}), ShouldBeTrue)

				published := b.OutboxByType(event.TypeFreelancerIndexFailed)[0]
				payload := published.Event.Data.(event.FreelancerIndexFailed)
				So(payload.UserID, ShouldEqual, "42")
				So(payload.Reason, ShouldNotBeEmpty)

				// Rejected permanently, never retried.
				time.Sleep(50 * time.Millisecond)
				apply, _, _ := ops.counts()
				So(apply, ShouldEqual, 1)
			})
		})

		Convey("When applying fails transiently once", func() {
			ops := &stubOps{applyErrs: []error{model.ErrProviderUnavailable}}
			b, stop := startDispatcher(t, ops)
			Reset(stop)

			body := envelope(t, "freelancer.registered", map[string]any{
				"user_id": "42",
				"skills":  []string{"x"},
			})
			publishRaw(t, b, "freelancer.registered", body)

			Convey("Then the redelivery succeeds", func() {
				So(eventually(func() bool {
					return len(b.OutboxByType(event.TypeFreelancerIndexed)) == 1
				}), ShouldBeTrue)

				apply, _, _ := ops.counts()
				So(apply, ShouldEqual, 2)
			})
		})

		Convey("When the body is not a known event", func() {
			ops := &stubOps{}
			b, stop := startDispatcher(t, ops)
			Reset(stop)

			publishRaw(t, b, "freelancer.registered", envelope(t, "freelancer.exploded", map[string]any{"user_id": "42"}))

			Convey("Then nothing is processed", func() {
				time.Sleep(50 * time.Millisecond)
				apply, remove, match := ops.counts()
				So(apply, ShouldEqual, 0)
				So(remove, ShouldEqual, 0)
				So(match, ShouldEqual, 0)
			})
		})
	})
}
