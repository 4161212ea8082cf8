package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bidwise/matchd/internal/adapters/mq/broker"
	"github.com/bidwise/matchd/internal/adapters/provider"
	"github.com/bidwise/matchd/internal/app"
	"github.com/bidwise/matchd/internal/config"
	"github.com/bidwise/matchd/internal/domain/chat"
	"github.com/bidwise/matchd/internal/domain/event"
	"github.com/bidwise/matchd/internal/domain/matching"
	"github.com/bidwise/matchd/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func startService(t *testing.T) (*app.Service, *broker.MemoryBroker, func()) {
	t.Helper()
	cfg := config.New()
	cfg.ConsumerWorkers = 2

	b := broker.NewMemoryBroker()
	svc := app.New(cfg,
		app.WithEmbedder(provider.NewLocalEmbedder(0)),
		app.WithBroker(b),
	)

	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	return svc, b, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		svc.Stop(stopCtx)
	}
}

func publishInbound(t *testing.T, b *broker.MemoryBroker, eventType string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatal(err)
	}
	err = b.Publish(context.Background(), eventType, event.Outbound{
		EventType: event.Type(eventType),
		Data:      json.RawMessage(raw),
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

func TestServiceEventFlow(t *testing.T) {
	Convey("Given a running service on an in-memory broker", t, func() {
		svc, b, stop := startService(t)
		Reset(stop)
		ctx := context.Background()

		Convey("When a freelancer registers and a job is posted", func() {
			publishInbound(t, b, "freelancer.registered", map[string]any{
				"user_id":          "42",
				"skills":           []string{"python", "django"},
				"experience_level": "expert",
				"profile_text":     "Senior Python engineer building marketplace APIs",
			})

			So(eventually(func() bool {
				return len(b.OutboxByType(event.TypeScoreCalculated)) == 1
			}), ShouldBeTrue)
			So(b.OutboxByType(event.TypeFreelancerIndexed), ShouldHaveLength, 1)

			publishInbound(t, b, "job.posted", map[string]any{
				"job_id":          "j-1",
				"client_id":       "c-7",
				"job_description": "Build a Django REST backend",
				"required_skills": []string{"python", "django"},
			})

			Convey("Then matches.found carries the indexed freelancer", func() {
				So(eventually(func() bool {
					return len(b.OutboxByType(event.TypeMatchesFound)) == 1
				}), ShouldBeTrue)

				payload := b.OutboxByType(event.TypeMatchesFound)[0].Event.Data.(event.MatchesFound)
				So(payload.JobID, ShouldEqual, "j-1")
				So(payload.ClientID, ShouldEqual, "c-7")
				So(payload.MatchCount, ShouldEqual, 1)
				So(payload.Matches[0].UserID, ShouldEqual, "42")
				So(payload.Matches[0].MatchedSkills, ShouldResemble, []string{"python", "django"})
			})

			Convey("Then the score is available over the sync API too", func() {
				rec, ok := svc.CachedScore("42")
				So(ok, ShouldBeTrue)
				So(rec.Score, ShouldBeBetweenOrEqual, 0, 100)
			})
		})

		Convey("When a freelancer is deleted", func() {
			publishInbound(t, b, "freelancer.registered", map[string]any{
				"user_id":      "42",
				"skills":       []string{"go"},
				"profile_text": "Go developer",
			})
			So(eventually(func() bool {
				return len(b.OutboxByType(event.TypeFreelancerIndexed)) == 1
			}), ShouldBeTrue)

			publishInbound(t, b, "freelancer.deleted", map[string]any{"user_id": "42"})

			Convey("Then the projection and cached score go away", func() {
				So(eventually(func() bool {
					_, err := svc.Records().Record(ctx, "42")
					return errors.Is(err, model.ErrNotFound)
				}), ShouldBeTrue)
				_, ok := svc.CachedScore("42")
				So(ok, ShouldBeFalse)
			})
		})
	})
}

func TestServiceSyncOperations(t *testing.T) {
	Convey("Given a running service with seeded projections", t, func() {
		svc, _, stop := startService(t)
		Reset(stop)
		ctx := context.Background()

		svc.Records().Put(model.FreelancerRecord{
			UserID:          "alice",
			Skills:          []string{"python", "django"},
			ExperienceLevel: model.ExperienceExpert,
			ProfileText:     "Python expert",
		})
		svc.Records().Put(model.FreelancerRecord{
			UserID:          "bob",
			Skills:          []string{"photoshop"},
			ExperienceLevel: model.ExperienceEntry,
			ProfileText:     "Designer",
		})

		Convey("When scores are calculated", func() {
			rec, err := svc.CalculateScore(ctx, "alice")
			So(err, ShouldBeNil)
			So(rec.Tier, ShouldEqual, model.Tier(rec.Score))

			cached, ok := svc.CachedScore("alice")
			So(ok, ShouldBeTrue)
			So(cached, ShouldResemble, rec)
		})

		Convey("When an unknown user is scored", func() {
			_, err := svc.CalculateScore(ctx, "nobody")
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)

			_, ok := svc.CachedScore("nobody")
			So(ok, ShouldBeFalse)
		})

		Convey("When scores are calculated in bulk", func() {
			out := svc.BulkCalculate(ctx, []string{"alice", "nobody", "bob"})
			So(out, ShouldHaveLength, 3)
			So(out[0].Score, ShouldNotBeNil)
			So(out[1].Error, ShouldNotBeEmpty)
			So(out[2].Score, ShouldNotBeNil)
		})

		Convey("When the leaderboard is read after scoring", func() {
			_, err := svc.CalculateScore(ctx, "alice")
			So(err, ShouldBeNil)
			_, err = svc.CalculateScore(ctx, "bob")
			So(err, ShouldBeNil)

			top, err := svc.TopScores(ctx, 10)
			So(err, ShouldBeNil)
			So(top, ShouldHaveLength, 2)
			So(top[0].UserID, ShouldEqual, "alice")
			So(top[0].Rank, ShouldEqual, 1)
			So(top[0].Score, ShouldBeGreaterThan, top[1].Score)
			So(top[0].Tier, ShouldEqual, model.Tier(top[0].Score))

			Convey("And removing a freelancer drops them from it", func() {
				So(svc.RemoveFreelancer(ctx, "alice"), ShouldBeNil)
				top, err := svc.TopScores(ctx, 10)
				So(err, ShouldBeNil)
				So(top, ShouldHaveLength, 1)
				So(top[0].UserID, ShouldEqual, "bob")
			})
		})

		Convey("When the assistant is asked for freelancers", func() {
			So(svc.IndexFreelancer(ctx, "alice"), ShouldBeNil)

			resp, err := svc.Chat(ctx, chat.Request{Message: "Find me a python developer"})
			So(err, ShouldBeNil)
			So(resp.ConversationID, ShouldNotBeEmpty)
			So(resp.Message, ShouldNotBeEmpty)
			So(resp.Sources, ShouldNotBeEmpty)

			Convey("And the conversation can be cleared once", func() {
				So(svc.ClearConversation(resp.ConversationID), ShouldBeNil)
				err := svc.ClearConversation(resp.ConversationID)
				So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			})
		})

		Convey("When freelancers are indexed and matched", func() {
			So(svc.IndexFreelancer(ctx, "alice"), ShouldBeNil)
			So(svc.IndexFreelancer(ctx, "bob"), ShouldBeNil)

			res, err := svc.MatchJob(ctx, matching.JobRequest{
				JobID:          "j-9",
				Description:    "Django backend work",
				RequiredSkills: []string{"python"},
				TopK:           1,
			})
			So(err, ShouldBeNil)
			So(res.Matches, ShouldHaveLength, 1)
			So(res.Matches[0].UserID, ShouldEqual, "alice")
		})

		Convey("When indexing an unknown user", func() {
			err := svc.IndexFreelancer(ctx, "nobody")
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
		})

		Convey("When indexing in bulk", func() {
			out := svc.BulkIndex(ctx, []string{"alice", "nobody"})
			So(out, ShouldHaveLength, 2)
			So(out[0].Error, ShouldBeEmpty)
			So(out[1].Error, ShouldNotBeEmpty)
		})

		Convey("When everything is reindexed", func() {
			n, err := svc.ReindexAll(ctx)
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 2)
		})

		Convey("When deleting from the index", func() {
			So(svc.IndexFreelancer(ctx, "alice"), ShouldBeNil)
			So(svc.DeleteFromIndex(ctx, "alice"), ShouldBeNil)
			// Absent entries delete cleanly too.
			So(svc.DeleteFromIndex(ctx, "alice"), ShouldBeNil)
		})

		Convey("When stats are read", func() {
			_, _ = svc.CalculateScore(ctx, "alice")
			stats := svc.GetStats()
			So(stats["started"], ShouldBeTrue)
			So(stats["known_freelancers"], ShouldEqual, 2)
			So(stats["leaderboard_size"], ShouldEqual, 1)
			So(stats["active_conversations"], ShouldEqual, 0)
			So(stats["consumer_enabled"], ShouldBeTrue)
			So(stats["consumer_workers"], ShouldEqual, 2)
		})
	})
}
