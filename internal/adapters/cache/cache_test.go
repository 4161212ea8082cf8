package cache_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bidwise/matchd/internal/adapters/cache"
	. "github.com/smartystreets/goconvey/convey"
)

func TestTTLStore(t *testing.T) {
	Convey("Given a TTL store", t, func() {
		store := cache.NewTTLStore(cache.WithTTL(time.Minute))
		defer store.Stop()

		Convey("When a value is set and read back", func() {
			store.Set("score:42", "cached", 0)
			v, ok := store.Get("score:42")

			Convey("Then the read is a hit", func() {
				So(ok, ShouldBeTrue)
				So(v, ShouldEqual, "cached")
				So(store.Len(), ShouldEqual, 1)
			})
		})

		Convey("When a key was never written", func() {
			_, ok := store.Get("score:absent")

			Convey("Then the read is a miss", func() {
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When a value outlives its per-entry TTL", func() {
			store.Set("score:7", "short-lived", 20*time.Millisecond)
			time.Sleep(40 * time.Millisecond)

			_, ok := store.Get("score:7")

			Convey("Then the read is a miss even though nothing replaced it", func() {
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When reads happen near the expiry deadline", func() {
			store.Set("score:8", "absolute", 60*time.Millisecond)

			// A hit must not extend the lifetime.
			_, ok := store.Get("score:8")
			So(ok, ShouldBeTrue)
			time.Sleep(80 * time.Millisecond)
			_, ok = store.Get("score:8")

			Convey("Then expiry stays absolute", func() {
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When a key is deleted", func() {
			store.Set("score:9", "gone soon", 0)

			Convey("Then deleting it reports removal", func() {
				So(store.Delete("score:9"), ShouldBeTrue)
				_, ok := store.Get("score:9")
				So(ok, ShouldBeFalse)
			})

			Convey("And deleting an absent key reports a no-op", func() {
				So(store.Delete("score:never"), ShouldBeFalse)
			})
		})

		Convey("When hits and misses accumulate", func() {
			store.Set("k", 1, 0)
			_, _ = store.Get("k")
			_, _ = store.Get("k")
			_, _ = store.Get("missing")

			Convey("Then the hit rate reflects them", func() {
				So(store.HitRate(), ShouldBeBetweenOrEqual, 0.5, 1.0)
			})
		})
	})
}

func TestTTLStoreConcurrency(t *testing.T) {
	Convey("Given concurrent writers and readers", t, func() {
		store := cache.NewTTLStore(cache.WithTTL(time.Minute), cache.WithMaxEntries(1000))
		defer store.Stop()

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					key := fmt.Sprintf("k-%d", j%25)
					store.Set(key, n, 0)
					_, _ = store.Get(key)
				}
			}(i)
		}
		wg.Wait()

		Convey("Then the store stays consistent", func() {
			So(store.Len(), ShouldBeLessThanOrEqualTo, 25)
			v, ok := store.Get("k-0")
			So(ok, ShouldBeTrue)
			So(v, ShouldNotBeNil)
		})
	})
}
