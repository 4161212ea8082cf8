// Package matching ranks indexed freelancers against posted jobs.
package matching

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bidwise/matchd/internal/adapters/cache"
	"github.com/bidwise/matchd/internal/adapters/index"
	"github.com/bidwise/matchd/internal/adapters/provider"
	"github.com/bidwise/matchd/internal/config"
	"github.com/bidwise/matchd/internal/domain/model"
	"github.com/bidwise/matchd/pkg/logger"
	"github.com/bidwise/matchd/pkg/metrics"
)

// Default matching configuration constants.
const (
	defaultOversample = 4
	defaultTopK       = 10
	defaultMaxTopK    = 100
	defaultTTL        = time.Hour
	matchKeyPrefix    = "match:"

	experienceStep = 50
)

// JobRequest describes one job to match candidates against.
type JobRequest struct {
	JobID          string
	Description    string
	RequiredSkills []string
	// TopK bounds the result size; zero means the configured default.
	TopK int
}

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithCache sets the result cache keyed by job id.
func WithCache(store cache.Store) Option {
	return func(e *Engine) {
		if store != nil {
			e.store = store
		}
	}
}

// WithWeights sets the per-candidate signal weighting.
func WithWeights(w config.Weights) Option {
	return func(e *Engine) {
		if w.Skills >= 0 && w.Experience >= 0 && w.Similarity >= 0 &&
			w.Skills+w.Experience+w.Similarity > 0 {
			e.weights = w
		}
	}
}

// WithOversample sets how much wider than top_k the index query casts.
func WithOversample(factor int) Option {
	return func(e *Engine) {
		if factor >= 1 {
			e.oversample = factor
		}
	}
}

// WithTopKBounds sets the default and maximum result sizes.
func WithTopKBounds(def, max int) Option {
	return func(e *Engine) {
		if def >= 1 {
			e.defaultTopK = def
		}
		if max >= 1 {
			e.maxTopK = max
		}
	}
}

// WithTTL sets how long match results stay cached.
func WithTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// WithReferenceLevel sets the experience level treated as ideal for the
// experience compatibility signal.
func WithReferenceLevel(level model.ExperienceLevel) Option {
	return func(e *Engine) {
		e.refLevel = level
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// Engine embeds job text, queries the semantic index with oversampling, and
// re-ranks candidates on similarity, skill overlap, and experience. Results
// are cached per job, and concurrent matches for the same job coalesce.
type Engine struct {
	idx      index.Index
	embedder provider.Embedder
	store    cache.Store

	weights     config.Weights
	oversample  int
	defaultTopK int
	maxTopK     int
	refLevel    model.ExperienceLevel
	ttl         time.Duration
	log         logger.Logger

	group singleflight.Group
}

// NewEngine creates a matching engine over the given index and embedding
// provider.
func NewEngine(idx index.Index, embedder provider.Embedder, opts ...Option) *Engine {
	e := &Engine{
		idx:      idx,
		embedder: embedder,
		weights: config.Weights{
			Similarity: 0.60,
			Skills:     0.30,
			Experience: 0.10,
		},
		oversample:  defaultOversample,
		defaultTopK: defaultTopK,
		maxTopK:     defaultMaxTopK,
		refLevel:    model.ExperienceExpert,
		ttl:         defaultTTL,
		log:         logger.Named("matching"),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Match returns the cached result for req.JobID, or computes, caches, and
// returns a fresh one. Concurrent calls for the same job share one
// computation. An empty index yields an empty, still-cached result.
func (e *Engine) Match(ctx context.Context, req JobRequest) (model.MatchResult, error) {
	if strings.TrimSpace(req.JobID) == "" {
		return model.MatchResult{}, fmt.Errorf("%w: empty job id", model.ErrValidation)
	}
	if strings.TrimSpace(req.Description) == "" && len(req.RequiredSkills) == 0 {
		return model.MatchResult{}, fmt.Errorf("%w: job needs a description or required skills", model.ErrValidation)
	}
	if req.TopK < 0 {
		return model.MatchResult{}, fmt.Errorf("%w: top_k must not be negative", model.ErrValidation)
	}

	if res, ok := e.cached(req.JobID); ok {
		return res, nil
	}

	v, err, shared := e.group.Do(req.JobID, func() (any, error) {
		if res, ok := e.cached(req.JobID); ok {
			return res, nil
		}
		return e.compute(ctx, req)
	})
	if shared {
		metrics.RecordCoalescedCall()
	}
	if err != nil {
		return model.MatchResult{}, err
	}
	return v.(model.MatchResult), nil
}

// CachedMatch returns the cached result without computing one.
func (e *Engine) CachedMatch(jobID string) (model.MatchResult, bool) {
	return e.cached(jobID)
}

// Invalidate drops the cached result for jobID.
func (e *Engine) Invalidate(jobID string) bool {
	if e.store == nil {
		return false
	}
	return e.store.Delete(matchKeyPrefix + jobID)
}

func (e *Engine) cached(jobID string) (model.MatchResult, bool) {
	if e.store == nil {
		return model.MatchResult{}, false
	}
	v, ok := e.store.Get(matchKeyPrefix + jobID)
	if !ok {
		return model.MatchResult{}, false
	}
	res, ok := v.(model.MatchResult)
	return res, ok
}

func (e *Engine) compute(ctx context.Context, req JobRequest) (model.MatchResult, error) {
	topK := req.TopK
	if topK == 0 {
		topK = e.defaultTopK
	}
	if topK > e.maxTopK {
		topK = e.maxTopK
	}

	vec, err := e.embedder.Embed(ctx, queryText(req))
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			return model.MatchResult{}, err
		}
		return model.MatchResult{}, fmt.Errorf("%w: %v", model.ErrMatchUnavailable, err)
	}

	required := model.NormalizeSkills(req.RequiredSkills)

	hits, err := e.query(ctx, vec, topK, required)
	if err != nil {
		return model.MatchResult{}, fmt.Errorf("%w: %v", model.ErrMatchUnavailable, err)
	}

	matches := e.rank(hits, required, topK)

	result := model.MatchResult{
		JobID:      req.JobID,
		Matches:    matches,
		ComputedAt: time.Now().UTC(),
	}

	if e.store != nil {
		e.store.Set(matchKeyPrefix+req.JobID, result, e.ttl)
	}
	metrics.RecordMatchComputed()

	e.log.Debug(ctx, "matches computed",
		logger.String("job_id", req.JobID),
		logger.Int("candidates", len(matches)),
	)

	return result, nil
}

// query oversamples the index, filtering by skill overlap first and falling
// back to an unfiltered pass when the filtered pool runs short.
func (e *Engine) query(ctx context.Context, vec []float32, topK int, required []string) ([]index.Hit, error) {
	sample := topK * e.oversample

	var filter *index.Filter
	if len(required) > 0 {
		filter = &index.Filter{Skills: required}
	}

	hits, err := e.idx.Query(ctx, vec, sample, filter)
	if err != nil {
		return nil, err
	}
	if len(hits) >= topK || filter == nil {
		return hits, nil
	}

	return e.idx.Query(ctx, vec, sample, nil)
}

// rank scores each candidate, orders by match score descending with user id
// ascending on ties, and truncates to topK.
func (e *Engine) rank(hits []index.Hit, required []string, topK int) []model.Match {
	matches := make([]model.Match, 0, len(hits))
	for _, hit := range hits {
		overlap, matched, missing := model.SkillOverlap(required, hit.Entry.Metadata.Skills)

		simScore := clamp(hit.Similarity, 0, 1) * 100
		skillScore := overlap * 100
		expScore := experienceScore(hit.Entry.Metadata.ExperienceLevel, e.refLevel)

		total := e.weights.Similarity + e.weights.Skills + e.weights.Experience
		score := (simScore*e.weights.Similarity +
			skillScore*e.weights.Skills +
			expScore*e.weights.Experience) / total

		matches = append(matches, model.Match{
			UserID:        hit.Entry.UserID,
			MatchScore:    round2(clamp(score, 0, 100)),
			Similarity:    round4(hit.Similarity),
			MatchedSkills: matched,
			MissingSkills: missing,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].MatchScore != matches[j].MatchScore {
			return matches[i].MatchScore > matches[j].MatchScore
		}
		return matches[i].UserID < matches[j].UserID
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// queryText builds the embedding input the same way indexing builds profile
// text, keeping job and profile vectors in one space.
func queryText(req JobRequest) string {
	var b strings.Builder
	b.WriteString("Job Requirements: ")
	b.WriteString(strings.TrimSpace(req.Description))
	b.WriteString("\nRequired Skills: ")
	b.WriteString(strings.Join(req.RequiredSkills, ", "))
	return b.String()
}

func experienceScore(held, ref model.ExperienceLevel) float64 {
	dist := math.Abs(float64(held) - float64(ref))
	return clamp(100-experienceStep*dist, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
