package scoring_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bidwise/matchd/internal/adapters/cache"
	"github.com/bidwise/matchd/internal/adapters/provider"
	"github.com/bidwise/matchd/internal/domain/model"
	"github.com/bidwise/matchd/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

// countingEmbedder counts calls through to a real embedder.
type countingEmbedder struct {
	inner provider.Embedder
	calls int64
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	atomic.AddInt64(&c.calls, 1)
	return c.inner.Embed(ctx, text)
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, model.ErrProviderUnavailable
}

func seedRecords(recs ...model.FreelancerRecord) *scoring.MemoryRecords {
	store := scoring.NewMemoryRecords()
	for _, r := range recs {
		store.Put(r)
	}
	return store
}

func TestEngineScore(t *testing.T) {
	Convey("Given a scoring engine over seeded records", t, func() {
		ctx := context.Background()
		records := seedRecords(model.FreelancerRecord{
			UserID:          "42",
			Skills:          []string{"Python", "Django", "PostgreSQL"},
			ExperienceLevel: model.ExperienceExpert,
			ProfileText:     "Senior Python and Django developer building marketplace backends",
		})
		store := cache.NewTTLStore(cache.WithTTL(time.Minute))
		Reset(store.Stop)

		engine := scoring.NewEngine(records, provider.NewLocalEmbedder(64),
			scoring.WithCache(store),
		)

		Convey("When a score is computed", func() {
			rec, err := engine.Score(ctx, "42")

			Convey("Then it is bounded and carries tier and breakdown", func() {
				So(err, ShouldBeNil)
				So(rec.UserID, ShouldEqual, "42")
				So(rec.Score, ShouldBeBetweenOrEqual, 0, 100)
				So(rec.Tier, ShouldEqual, model.Tier(rec.Score))
				So(rec.Breakdown, ShouldContainKey, "skills")
				So(rec.Breakdown, ShouldContainKey, "experience")
				So(rec.Breakdown, ShouldContainKey, "similarity")
			})
		})

		Convey("When the same user is scored twice within the TTL", func() {
			first, err1 := engine.Score(ctx, "42")
			second, err2 := engine.Score(ctx, "42")

			Convey("Then the identical record comes back from cache", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(second, ShouldResemble, first)
			})
		})

		Convey("When the cached score is invalidated", func() {
			first, _ := engine.Score(ctx, "42")
			So(engine.Invalidate("42"), ShouldBeTrue)
			second, err := engine.Score(ctx, "42")

			Convey("Then a recompute happens", func() {
				So(err, ShouldBeNil)
				So(second.ComputedAt, ShouldHappenOnOrAfter, first.ComputedAt)
				So(engine.Invalidate("42"), ShouldBeTrue)
			})
		})

		Convey("When the user is unknown", func() {
			_, err := engine.Score(ctx, "missing")
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
		})

		Convey("When the user id is empty", func() {
			_, err := engine.Score(ctx, "  ")
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
		})
	})
}

func TestEngineSubScores(t *testing.T) {
	Convey("Given engines with explicit references", t, func() {
		ctx := context.Background()

		Convey("When a reference skill set is configured", func() {
			records := seedRecords(model.FreelancerRecord{
				UserID:          "7",
				Skills:          []string{"Python", "Django"},
				ExperienceLevel: model.ExperienceExpert,
				ProfileText:     "Python developer",
			})
			engine := scoring.NewEngine(records, provider.NewLocalEmbedder(64),
				scoring.WithReferenceSkills([]string{"python", "django", "rest api"}),
			)

			rec, err := engine.Score(ctx, "7")

			Convey("Then the skills sub-score is the overlap fraction", func() {
				So(err, ShouldBeNil)
				So(rec.Breakdown["skills"], ShouldAlmostEqual, 200.0/3.0, 0.01)
			})
		})

		Convey("When no reference skill set is configured", func() {
			records := seedRecords(model.FreelancerRecord{
				UserID:          "7",
				Skills:          []string{"Python"},
				ExperienceLevel: model.ExperienceExpert,
				ProfileText:     "Python developer",
			})
			engine := scoring.NewEngine(records, provider.NewLocalEmbedder(64),
				scoring.WithSkillsBaseline(55),
			)

			rec, err := engine.Score(ctx, "7")

			Convey("Then the baseline applies", func() {
				So(err, ShouldBeNil)
				So(rec.Breakdown["skills"], ShouldEqual, 55)
			})
		})

		Convey("When experience levels differ from the reference", func() {
			records := seedRecords(
				model.FreelancerRecord{UserID: "expert", ExperienceLevel: model.ExperienceExpert, ProfileText: "p"},
				model.FreelancerRecord{UserID: "mid", ExperienceLevel: model.ExperienceIntermediate, ProfileText: "p"},
				model.FreelancerRecord{UserID: "entry", ExperienceLevel: model.ExperienceEntry, ProfileText: "p"},
			)
			engine := scoring.NewEngine(records, provider.NewLocalEmbedder(64))

			expert, _ := engine.Score(ctx, "expert")
			mid, _ := engine.Score(ctx, "mid")
			entry, _ := engine.Score(ctx, "entry")

			Convey("Then each step of distance costs 50 points", func() {
				So(expert.Breakdown["experience"], ShouldEqual, 100)
				So(mid.Breakdown["experience"], ShouldEqual, 50)
				So(entry.Breakdown["experience"], ShouldEqual, 0)
			})
		})
	})
}

func TestEngineCoalescing(t *testing.T) {
	Convey("Given an engine with a cold cache and a counting provider", t, func() {
		ctx := context.Background()
		records := seedRecords(model.FreelancerRecord{
			UserID:          "42",
			Skills:          []string{"Go"},
			ExperienceLevel: model.ExperienceExpert,
			ProfileText:     "Go developer",
		})
		counter := &countingEmbedder{inner: provider.NewLocalEmbedder(64)}
		store := cache.NewTTLStore(cache.WithTTL(time.Minute))
		Reset(store.Stop)
		engine := scoring.NewEngine(records, counter, scoring.WithCache(store))

		Convey("When many goroutines score the same user simultaneously", func() {
			const callers = 16
			var wg sync.WaitGroup
			results := make([]model.ScoreRecord, callers)
			errs := make([]error, callers)
			start := make(chan struct{})

			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					results[i], errs[i] = engine.Score(ctx, "42")
				}(i)
			}
			close(start)
			wg.Wait()

			Convey("Then one computation served everyone", func() {
				for i := 0; i < callers; i++ {
					So(errs[i], ShouldBeNil)
					So(results[i], ShouldResemble, results[0])
				}
				// One call embeds the reference text, one the profile.
				So(atomic.LoadInt64(&counter.calls), ShouldEqual, 2)
			})
		})
	})
}

func TestEngineProviderFailure(t *testing.T) {
	Convey("Given an engine whose provider is down", t, func() {
		ctx := context.Background()
		records := seedRecords(model.FreelancerRecord{
			UserID: "42", ProfileText: "p", ExperienceLevel: model.ExperienceExpert,
		})
		store := cache.NewTTLStore(cache.WithTTL(time.Minute))
		Reset(store.Stop)
		engine := scoring.NewEngine(records, failingEmbedder{}, scoring.WithCache(store))

		Convey("When a score is requested", func() {
			_, err := engine.Score(ctx, "42")

			Convey("Then the failure surfaces and nothing is cached", func() {
				So(errors.Is(err, model.ErrScoreUnavailable), ShouldBeTrue)
				_, ok := engine.CachedScore("42")
				So(ok, ShouldBeFalse)
			})
		})
	})
}
