package matching_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bidwise/matchd/internal/adapters/cache"
	"github.com/bidwise/matchd/internal/adapters/index"
	"github.com/bidwise/matchd/internal/domain/matching"
	"github.com/bidwise/matchd/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// fixedEmbedder returns the same query vector for any text.
type fixedEmbedder struct {
	vec   []float32
	calls int64
}

func (f *fixedEmbedder) Embed(context.Context, string) ([]float32, error) {
	atomic.AddInt64(&f.calls, 1)
	return f.vec, nil
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, model.ErrProviderUnavailable
}

func seedIndex(entries ...model.IndexEntry) *index.MemoryIndex {
	idx := index.NewMemoryIndex()
	for _, e := range entries {
		if err := idx.Upsert(context.Background(), e); err != nil {
			panic(err)
		}
	}
	return idx
}

func entry(userID string, vec []float32, level model.ExperienceLevel, skills ...string) model.IndexEntry {
	return model.IndexEntry{
		UserID:    userID,
		Embedding: vec,
		Metadata:  model.EntryMetadata{Skills: skills, ExperienceLevel: level},
	}
}

func TestEngineMatch(t *testing.T) {
	Convey("Given a matching engine over a seeded index", t, func() {
		ctx := context.Background()
		// Query vector points along the first axis; candidates fan out.
		idx := seedIndex(
			entry("alice", []float32{1, 0, 0}, model.ExperienceExpert, "python", "django"),
			entry("bob", []float32{0.9, 0.1, 0}, model.ExperienceIntermediate, "python"),
			entry("carol", []float32{0, 1, 0}, model.ExperienceExpert, "photoshop"),
		)
		emb := &fixedEmbedder{vec: []float32{1, 0, 0}}
		engine := matching.NewEngine(idx, emb)

		Convey("When a job with required skills is matched", func() {
			res, err := engine.Match(ctx, matching.JobRequest{
				JobID:          "job-1",
				Description:    "Backend API work",
				RequiredSkills: []string{"Python", "Django"},
				TopK:           2,
			})

			Convey("Then candidates come back ranked with skill diffs", func() {
				So(err, ShouldBeNil)
				So(res.JobID, ShouldEqual, "job-1")
				So(len(res.Matches), ShouldEqual, 2)
				So(res.Matches[0].UserID, ShouldEqual, "alice")
				So(res.Matches[0].MatchedSkills, ShouldResemble, []string{"python", "django"})
				So(res.Matches[0].MissingSkills, ShouldBeEmpty)
				So(res.Matches[1].UserID, ShouldEqual, "bob")
				So(res.Matches[1].MatchedSkills, ShouldResemble, []string{"python"})
				So(res.Matches[1].MissingSkills, ShouldResemble, []string{"django"})
				So(res.Matches[0].MatchScore, ShouldBeGreaterThanOrEqualTo, res.Matches[1].MatchScore)
			})
		})

		Convey("When the filtered pool is smaller than top_k", func() {
			res, err := engine.Match(ctx, matching.JobRequest{
				JobID:          "job-2",
				Description:    "Backend API work",
				RequiredSkills: []string{"python"},
				TopK:           3,
			})

			Convey("Then the unfiltered fallback fills the list", func() {
				So(err, ShouldBeNil)
				So(len(res.Matches), ShouldEqual, 3)
				ids := []string{res.Matches[0].UserID, res.Matches[1].UserID, res.Matches[2].UserID}
				So(ids, ShouldContain, "carol")
			})
		})

		Convey("When identical candidates tie on match score", func() {
			tied := seedIndex(
				entry("zed", []float32{1, 0, 0}, model.ExperienceExpert, "go"),
				entry("amy", []float32{1, 0, 0}, model.ExperienceExpert, "go"),
			)
			tiedEngine := matching.NewEngine(tied, emb)

			res, err := tiedEngine.Match(ctx, matching.JobRequest{
				JobID:          "job-3",
				RequiredSkills: []string{"go"},
			})

			Convey("Then ties break by user id ascending", func() {
				So(err, ShouldBeNil)
				So(res.Matches[0].UserID, ShouldEqual, "amy")
				So(res.Matches[1].UserID, ShouldEqual, "zed")
			})
		})

		Convey("When the index is empty", func() {
			empty := index.NewMemoryIndex()
			emptyEngine := matching.NewEngine(empty, emb)

			res, err := emptyEngine.Match(ctx, matching.JobRequest{
				JobID:       "job-4",
				Description: "Anything",
			})

			So(err, ShouldBeNil)
			So(res.Matches, ShouldBeEmpty)
		})
	})
}

func TestEngineMatchValidation(t *testing.T) {
	Convey("Given a matching engine", t, func() {
		ctx := context.Background()
		engine := matching.NewEngine(index.NewMemoryIndex(), &fixedEmbedder{vec: []float32{1}})

		Convey("When the job id is missing", func() {
			_, err := engine.Match(ctx, matching.JobRequest{Description: "work"})
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
		})

		Convey("When neither description nor skills are given", func() {
			_, err := engine.Match(ctx, matching.JobRequest{JobID: "job-1"})
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
		})

		Convey("When top_k is negative", func() {
			_, err := engine.Match(ctx, matching.JobRequest{JobID: "job-1", Description: "work", TopK: -1})
			So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
		})
	})
}

func TestEngineMatchCaching(t *testing.T) {
	Convey("Given a matching engine with a cache", t, func() {
		ctx := context.Background()
		idx := seedIndex(entry("alice", []float32{1, 0, 0}, model.ExperienceExpert, "go"))
		emb := &fixedEmbedder{vec: []float32{1, 0, 0}}
		store := cache.NewTTLStore(cache.WithTTL(time.Minute))
		Reset(store.Stop)
		engine := matching.NewEngine(idx, emb, matching.WithCache(store))

		req := matching.JobRequest{JobID: "job-1", Description: "Go services", RequiredSkills: []string{"go"}}

		Convey("When the same job is matched twice", func() {
			first, err1 := engine.Match(ctx, req)
			second, err2 := engine.Match(ctx, req)

			Convey("Then the second result comes from cache", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(second, ShouldResemble, first)
				So(atomic.LoadInt64(&emb.calls), ShouldEqual, 1)
			})
		})

		Convey("When many goroutines match the same job simultaneously", func() {
			const callers = 16
			var wg sync.WaitGroup
			errs := make([]error, callers)
			start := make(chan struct{})

			for i := 0; i < callers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					_, errs[i] = engine.Match(ctx, req)
				}(i)
			}
			close(start)
			wg.Wait()

			Convey("Then one embedding call served everyone", func() {
				for _, err := range errs {
					So(err, ShouldBeNil)
				}
				So(atomic.LoadInt64(&emb.calls), ShouldEqual, 1)
			})
		})

		Convey("When the cached result is invalidated", func() {
			_, _ = engine.Match(ctx, req)
			So(engine.Invalidate(req.JobID), ShouldBeTrue)
			_, ok := engine.CachedMatch(req.JobID)
			So(ok, ShouldBeFalse)
		})
	})
}

func TestEngineMatchProviderFailure(t *testing.T) {
	Convey("Given a matching engine whose provider is down", t, func() {
		ctx := context.Background()
		engine := matching.NewEngine(index.NewMemoryIndex(), failingEmbedder{})

		Convey("When a match is requested", func() {
			_, err := engine.Match(ctx, matching.JobRequest{JobID: "job-1", Description: "work"})
			So(errors.Is(err, model.ErrMatchUnavailable), ShouldBeTrue)
		})
	})
}
