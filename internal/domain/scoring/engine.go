// Package scoring computes weighted freelancer quality scores.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
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

// Default scoring configuration constants.
const (
	defaultSkillsBaseline = 60
	defaultTTL            = time.Hour
	scoreKeyPrefix        = "score:"

	experienceStep = 50 // sub-score penalty per level of distance
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithCache sets the result cache. Without one, every call recomputes.
func WithCache(store cache.Store) Option {
	return func(e *Engine) {
		if store != nil {
			e.store = store
		}
	}
}

// WithWeights sets the sub-score weighting.
func WithWeights(w config.Weights) Option {
	return func(e *Engine) {
		if w.Skills >= 0 && w.Experience >= 0 && w.Similarity >= 0 &&
			w.Skills+w.Experience+w.Similarity > 0 {
			e.weights = w
		}
	}
}

// WithTTL sets how long computed scores stay cached.
func WithTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// WithSkillsBaseline sets the skills sub-score used when no reference skill
// set is configured.
func WithSkillsBaseline(baseline float64) Option {
	return func(e *Engine) {
		if baseline >= 0 && baseline <= 100 {
			e.baseline = baseline
		}
	}
}

// WithReference sets the category text the profile embedding is compared
// against and the experience level treated as ideal.
func WithReference(text string, level model.ExperienceLevel) Option {
	return func(e *Engine) {
		if strings.TrimSpace(text) != "" {
			e.refText = text
		}
		e.refLevel = level
	}
}

// WithReferenceSkills sets the skill set the skills sub-score is measured
// against. Without one the baseline applies.
func WithReferenceSkills(skills []string) Option {
	return func(e *Engine) {
		e.refSkills = model.NormalizeSkills(skills)
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

// Engine computes scores from freelancer projections and profile embeddings.
// Results are cached write-through with a fixed TTL, and concurrent
// computations for the same user are coalesced into a single provider call.
type Engine struct {
	records  RecordSource
	embedder provider.Embedder
	store    cache.Store

	weights   config.Weights
	baseline  float64
	refText   string
	refLevel  model.ExperienceLevel
	refSkills []string
	ttl       time.Duration
	log       logger.Logger

	group singleflight.Group

	// refVec is the lazily computed embedding of refText.
	refMu  sync.Mutex
	refVec []float32
}

// NewEngine creates a scoring engine over the given projection source and
// embedding provider.
func NewEngine(records RecordSource, embedder provider.Embedder, opts ...Option) *Engine {
	e := &Engine{
		records:  records,
		embedder: embedder,
		weights: config.Weights{
			Skills:     0.40,
			Experience: 0.25,
			Similarity: 0.35,
		},
		baseline: defaultSkillsBaseline,
		refText:  "Experienced freelance software professional with strong delivery record",
		refLevel: model.ExperienceExpert,
		ttl:      defaultTTL,
		log:      logger.Named("scoring"),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Score returns the cached score for userID, or computes, caches, and
// returns a fresh one. Concurrent calls for the same user share one
// computation. Unknown users yield model.ErrNotFound; provider failures
// yield model.ErrScoreUnavailable and nothing is cached.
func (e *Engine) Score(ctx context.Context, userID string) (model.ScoreRecord, error) {
	if strings.TrimSpace(userID) == "" {
		return model.ScoreRecord{}, fmt.Errorf("%w: empty user id", model.ErrValidation)
	}

	if rec, ok := e.cached(userID); ok {
		return rec, nil
	}

	v, err, shared := e.group.Do(userID, func() (any, error) {
		// A coalesced caller may arrive after the winner already cached.
		if rec, ok := e.cached(userID); ok {
			return rec, nil
		}
		return e.compute(ctx, userID)
	})
	if shared {
		metrics.RecordCoalescedCall()
	}
	if err != nil {
		return model.ScoreRecord{}, err
	}
	return v.(model.ScoreRecord), nil
}

// CachedScore returns the cached score without computing one.
func (e *Engine) CachedScore(userID string) (model.ScoreRecord, bool) {
	return e.cached(userID)
}

// Invalidate drops the cached score for userID. It reports whether an entry
// was present.
func (e *Engine) Invalidate(userID string) bool {
	if e.store == nil {
		return false
	}
	return e.store.Delete(scoreKeyPrefix + userID)
}

func (e *Engine) cached(userID string) (model.ScoreRecord, bool) {
	if e.store == nil {
		return model.ScoreRecord{}, false
	}
	v, ok := e.store.Get(scoreKeyPrefix + userID)
	if !ok {
		return model.ScoreRecord{}, false
	}
	rec, ok := v.(model.ScoreRecord)
	return rec, ok
}

func (e *Engine) compute(ctx context.Context, userID string) (model.ScoreRecord, error) {
	rec, err := e.records.Record(ctx, userID)
	if err != nil {
		return model.ScoreRecord{}, err
	}

	sim, err := e.similarityScore(ctx, rec)
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			return model.ScoreRecord{}, err
		}
		return model.ScoreRecord{}, fmt.Errorf("%w: %v", model.ErrScoreUnavailable, err)
	}

	breakdown := map[string]float64{
		"skills":     e.skillsScore(rec.Skills),
		"experience": e.experienceScore(rec.ExperienceLevel),
		"similarity": sim,
	}

	total := e.weights.Skills + e.weights.Experience + e.weights.Similarity
	score := (breakdown["skills"]*e.weights.Skills +
		breakdown["experience"]*e.weights.Experience +
		breakdown["similarity"]*e.weights.Similarity) / total
	score = clamp(score, 0, 100)

	out := model.ScoreRecord{
		UserID:     userID,
		Score:      round2(score),
		Tier:       model.Tier(score),
		Breakdown:  roundAll(breakdown),
		ComputedAt: time.Now().UTC(),
		TTL:        e.ttl,
	}

	if e.store != nil {
		e.store.Set(scoreKeyPrefix+userID, out, e.ttl)
	}
	metrics.RecordScoreComputed()

	e.log.Debug(ctx, "score computed",
		logger.String("user_id", userID),
		logger.Float64("score", out.Score),
		logger.String("tier", out.Tier),
	)

	return out, nil
}

// skillsScore measures overlap against the reference skill set, or falls
// back to the baseline when none is configured.
func (e *Engine) skillsScore(held []string) float64 {
	if len(e.refSkills) == 0 {
		return e.baseline
	}
	overlap, _, _ := model.SkillOverlap(e.refSkills, held)
	return overlap * 100
}

// experienceScore is the distance on the ordered level enum from the
// reference level, 50 points per step.
func (e *Engine) experienceScore(held model.ExperienceLevel) float64 {
	dist := math.Abs(float64(held) - float64(e.refLevel))
	return clamp(100-experienceStep*dist, 0, 100)
}

func (e *Engine) similarityScore(ctx context.Context, rec model.FreelancerRecord) (float64, error) {
	ref, err := e.referenceEmbedding(ctx)
	if err != nil {
		return 0, err
	}

	vec, err := e.embedder.Embed(ctx, rec.EmbeddingText())
	if err != nil {
		return 0, err
	}

	return similarityToScore(index.Cosine(ref, vec)), nil
}

// referenceEmbedding embeds the reference category text once and reuses it.
func (e *Engine) referenceEmbedding(ctx context.Context) ([]float32, error) {
	e.refMu.Lock()
	defer e.refMu.Unlock()
	if e.refVec != nil {
		return e.refVec, nil
	}
	vec, err := e.embedder.Embed(ctx, e.refText)
	if err != nil {
		return nil, err
	}
	e.refVec = vec
	return vec, nil
}

// similarityToScore maps cosine similarity from [-1,1] onto [0,100].
func similarityToScore(cos float64) float64 {
	return clamp((cos+1)/2*100, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func roundAll(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = round2(v)
	}
	return out
}
