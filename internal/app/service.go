// Package app wires the scoring, matching, index, and event components into
// one service that backs both the HTTP API and the event dispatcher.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bidwise/matchd/internal/adapters/cache"
	"github.com/bidwise/matchd/internal/adapters/index"
	"github.com/bidwise/matchd/internal/adapters/leaderboard"
	"github.com/bidwise/matchd/internal/adapters/mq/broker"
	"github.com/bidwise/matchd/internal/adapters/mq/dispatcher"
	"github.com/bidwise/matchd/internal/adapters/provider"
	"github.com/bidwise/matchd/internal/config"
	"github.com/bidwise/matchd/internal/domain/chat"
	"github.com/bidwise/matchd/internal/domain/dedupe"
	"github.com/bidwise/matchd/internal/domain/event"
	"github.com/bidwise/matchd/internal/domain/matching"
	"github.com/bidwise/matchd/internal/domain/model"
	"github.com/bidwise/matchd/internal/domain/scoring"
	"github.com/bidwise/matchd/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithEmbedder injects the embedding provider, bypassing the configured one.
func WithEmbedder(e provider.Embedder) Option {
	return func(s *Service) {
		if e != nil {
			s.embedder = e
		}
	}
}

// WithGenerator injects the chat completion provider, bypassing the
// configured one.
func WithGenerator(g provider.Generator) Option {
	return func(s *Service) {
		if g != nil {
			s.generator = g
		}
	}
}

// WithBroker injects the message broker, bypassing the configured one.
func WithBroker(b broker.Broker) Option {
	return func(s *Service) {
		if b != nil {
			s.brk = b
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// Service owns the component graph and implements both the HTTP API
// dependencies and the dispatcher operations.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config

	records   *scoring.MemoryRecords
	idx       index.Index
	store     cache.Store
	embedder  provider.Embedder
	generator provider.Generator
	scores    *scoring.Engine
	matches   *matching.Engine
	board     leaderboard.Board
	chats     *chat.Engine
	brk       broker.Broker
	disp      *dispatcher.Dispatcher

	started   bool
	startedAt time.Time
	log       logger.Logger
}

// New constructs a service from configuration. Components come up in Start.
func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		cfg: cfg,
		log: logger.Named("service"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start builds the component graph and begins consuming events.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.embedder == nil {
		base, err := s.buildEmbedder(ctx)
		if err != nil {
			return err
		}
		s.embedder = provider.NewRetryingEmbedder(base, provider.RetryPolicy{
			MaxAttempts: s.cfg.RetryMaxAttempts,
			BaseDelay:   time.Duration(s.cfg.RetryBaseMS) * time.Millisecond,
			CapDelay:    time.Duration(s.cfg.RetryCapMS) * time.Millisecond,
			CallTimeout: time.Duration(s.cfg.ProviderTimeoutSeconds) * time.Second,
		}, s.log)
	}

	ttl := time.Duration(s.cfg.CacheTTLSeconds) * time.Second
	s.store = cache.NewTTLStore(
		cache.WithTTL(ttl),
		cache.WithMaxEntries(s.cfg.CacheMaxEntries),
	)
	s.idx = index.NewMemoryIndex()
	s.records = scoring.NewMemoryRecords()
	s.board = leaderboard.NewTreap()

	s.scores = scoring.NewEngine(s.records, s.embedder,
		scoring.WithCache(s.store),
		scoring.WithWeights(s.cfg.ScoreWeights),
		scoring.WithTTL(ttl),
		scoring.WithSkillsBaseline(s.cfg.SkillsBaseline),
		scoring.WithReference(s.cfg.ReferenceCategory, model.ParseExperienceLevel(s.cfg.ReferenceLevel)),
	)
	s.matches = matching.NewEngine(s.idx, s.embedder,
		matching.WithCache(s.store),
		matching.WithWeights(s.cfg.MatchWeights),
		matching.WithOversample(s.cfg.OversampleFactor),
		matching.WithTopKBounds(s.cfg.DefaultTopK, s.cfg.MaxTopK),
		matching.WithTTL(ttl),
		matching.WithReferenceLevel(model.ParseExperienceLevel(s.cfg.ReferenceLevel)),
	)

	if s.generator == nil {
		base, err := s.buildGenerator(ctx)
		if err != nil {
			return err
		}
		s.generator = provider.NewRetryingGenerator(base, provider.RetryPolicy{
			MaxAttempts: s.cfg.RetryMaxAttempts,
			BaseDelay:   time.Duration(s.cfg.RetryBaseMS) * time.Millisecond,
			CapDelay:    time.Duration(s.cfg.RetryCapMS) * time.Millisecond,
			CallTimeout: time.Duration(s.cfg.ProviderTimeoutSeconds) * time.Second,
		}, s.log)
	}
	s.chats = chat.NewEngine(s.generator, s.embedder, s.idx)

	if s.brk == nil && s.cfg.AMQPURL != "" {
		brk, err := broker.DialAMQP(s.cfg.AMQPURL,
			broker.WithExchange(s.cfg.AMQPExchange),
			broker.WithPrefetch(s.cfg.PrefetchCount),
		)
		if err != nil {
			return fmt.Errorf("connect broker: %w", err)
		}
		s.brk = brk
	}

	if s.brk != nil {
		s.disp = dispatcher.New(s.brk, s.brk, s,
			dispatcher.WithWorkers(s.cfg.ConsumerWorkers),
			dispatcher.WithQueues(s.cfg.FreelancerQueue, s.cfg.JobQueue),
			dispatcher.WithRegistry(dedupe.NewRegistry(dedupe.WithCapacity(s.cfg.DedupeSize))),
		)
		if err := s.disp.Start(ctx); err != nil {
			return err
		}
	}

	s.started = true
	s.startedAt = time.Now()
	s.log.Info(ctx, "service started",
		logger.Int("workers", s.cfg.ConsumerWorkers),
		logger.Duration("cache_ttl", ttl),
	)
	return nil
}

func (s *Service) buildEmbedder(ctx context.Context) (provider.Embedder, error) {
	if s.cfg.ProviderAPIKey == "" {
		s.log.Warn(ctx, "no provider api key, using local embeddings")
		return provider.NewLocalEmbedder(0), nil
	}
	emb, err := provider.NewGeminiEmbedder(ctx, s.cfg.ProviderAPIKey, s.cfg.ProviderModel)
	if err != nil {
		return nil, fmt.Errorf("build embedder: %w", err)
	}
	return emb, nil
}

func (s *Service) buildGenerator(ctx context.Context) (provider.Generator, error) {
	if s.cfg.ProviderAPIKey == "" {
		s.log.Warn(ctx, "no provider api key, using canned completions")
		return provider.LocalGenerator{}, nil
	}
	gen, err := provider.NewGeminiGenerator(ctx, s.cfg.ProviderAPIKey, s.cfg.ChatModel)
	if err != nil {
		return nil, fmt.Errorf("build generator: %w", err)
	}
	return gen, nil
}

// Stop gracefully shuts down the service.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	if s.disp != nil {
		if err := s.disp.Stop(ctx); err != nil {
			s.log.Warn(ctx, "dispatcher stop", logger.Error(err))
		}
	}
	if s.brk != nil {
		if err := s.brk.Close(); err != nil {
			s.log.Warn(ctx, "broker close", logger.Error(err))
		}
	}
	if s.store != nil {
		s.store.Stop()
	}

	s.started = false
	s.log.Info(ctx, "service stopped")
}

// ApplyFreelancer implements dispatcher.Ops: refresh the projection from
// the payload, re-index, and return a fresh score.
func (s *Service) ApplyFreelancer(ctx context.Context, payload event.FreelancerPayload) (model.ScoreRecord, error) {
	rec, ok := payload.Snapshot(time.Now().UTC())
	if ok {
		s.records.Put(rec)
	} else {
		existing, err := s.records.Record(ctx, payload.UserID)
		if err != nil {
			return model.ScoreRecord{}, err
		}
		rec = existing
	}

	if err := s.indexRecord(ctx, rec); err != nil {
		return model.ScoreRecord{}, err
	}

	s.scores.Invalidate(rec.UserID)
	return s.scoreAndRank(ctx, rec.UserID)
}

// scoreAndRank computes (or re-reads) the score and keeps the leaderboard
// in step with it.
func (s *Service) scoreAndRank(ctx context.Context, userID string) (model.ScoreRecord, error) {
	rec, err := s.scores.Score(ctx, userID)
	if err != nil {
		return model.ScoreRecord{}, err
	}
	if err := s.board.Update(ctx, rec.UserID, rec.Score); err != nil {
		s.log.Warn(ctx, "leaderboard update failed",
			logger.String("user_id", rec.UserID),
			logger.Error(err),
		)
	}
	return rec, nil
}

// RemoveFreelancer implements dispatcher.Ops.
func (s *Service) RemoveFreelancer(ctx context.Context, userID string) error {
	if err := s.idx.Delete(ctx, userID); err != nil {
		return err
	}
	s.records.Delete(userID)
	s.scores.Invalidate(userID)
	return s.board.Remove(ctx, userID)
}

// MatchJob implements dispatcher.Ops.
func (s *Service) MatchJob(ctx context.Context, req matching.JobRequest) (model.MatchResult, error) {
	return s.matches.Match(ctx, req)
}

// CalculateScore computes (or returns the cached) score for a freelancer.
func (s *Service) CalculateScore(ctx context.Context, userID string) (model.ScoreRecord, error) {
	return s.scoreAndRank(ctx, userID)
}

// CachedScore returns the cached score without computing one.
func (s *Service) CachedScore(userID string) (model.ScoreRecord, bool) {
	return s.scores.CachedScore(userID)
}

// ScoreOutcome is one result of a bulk score request.
type ScoreOutcome struct {
	UserID string             `json:"user_id"`
	Score  *model.ScoreRecord `json:"score,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// BulkCalculate scores each user, continuing past individual failures.
func (s *Service) BulkCalculate(ctx context.Context, userIDs []string) []ScoreOutcome {
	out := make([]ScoreOutcome, 0, len(userIDs))
	for _, id := range userIDs {
		rec, err := s.scoreAndRank(ctx, id)
		if err != nil {
			out = append(out, ScoreOutcome{UserID: id, Error: err.Error()})
			continue
		}
		out = append(out, ScoreOutcome{UserID: id, Score: &rec})
	}
	return out
}

// TopScores returns the best-scored freelancers in rank order.
func (s *Service) TopScores(ctx context.Context, limit int) ([]leaderboard.Entry, error) {
	return s.board.Top(ctx, limit)
}

// Chat answers one assistant turn grounded in the freelancer index.
func (s *Service) Chat(ctx context.Context, req chat.Request) (chat.Response, error) {
	return s.chats.Chat(ctx, req)
}

// ClearConversation drops a stored chat conversation.
func (s *Service) ClearConversation(id string) error {
	return s.chats.ClearConversation(id)
}

// IndexFreelancer embeds the known projection for userID and upserts it
// into the semantic index.
func (s *Service) IndexFreelancer(ctx context.Context, userID string) error {
	rec, err := s.records.Record(ctx, userID)
	if err != nil {
		return err
	}
	return s.indexRecord(ctx, rec)
}

// IndexOutcome is one result of a bulk index request.
type IndexOutcome struct {
	UserID string `json:"user_id"`
	Error  string `json:"error,omitempty"`
}

// BulkIndex indexes each user, continuing past individual failures.
func (s *Service) BulkIndex(ctx context.Context, userIDs []string) []IndexOutcome {
	out := make([]IndexOutcome, 0, len(userIDs))
	for _, id := range userIDs {
		outcome := IndexOutcome{UserID: id}
		if err := s.IndexFreelancer(ctx, id); err != nil {
			outcome.Error = err.Error()
		}
		out = append(out, outcome)
	}
	return out
}

// DeleteFromIndex removes the freelancer's vector. The projection and
// cached score stay; deleting an absent entry is a no-op.
func (s *Service) DeleteFromIndex(ctx context.Context, userID string) error {
	return s.idx.Delete(ctx, userID)
}

// ReindexAll re-embeds and upserts every known projection. It returns how
// many were indexed, carrying on past per-user failures.
func (s *Service) ReindexAll(ctx context.Context) (int, error) {
	indexed := 0
	for _, id := range s.records.UserIDs() {
		if err := s.IndexFreelancer(ctx, id); err != nil {
			s.log.Warn(ctx, "reindex skipped",
				logger.String("user_id", id),
				logger.Error(err),
			)
			continue
		}
		indexed++
	}
	return indexed, nil
}

// GetStats returns runtime statistics for the stats endpoint.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started": s.started,
	}
	if !s.started {
		return stats
	}

	stats["uptime_seconds"] = int64(time.Since(s.startedAt).Seconds())
	stats["index_size"] = s.idx.Count(context.Background())
	stats["known_freelancers"] = s.records.Len()
	stats["cache_entries"] = s.store.Len()
	stats["cache_hit_rate"] = s.store.HitRate()
	stats["leaderboard_size"] = s.board.Len()
	stats["active_conversations"] = s.chats.ActiveConversations()
	stats["consumer_enabled"] = s.disp != nil
	if s.disp != nil {
		stats["consumer_workers"] = s.disp.Workers()
	}
	return stats
}

func (s *Service) indexRecord(ctx context.Context, rec model.FreelancerRecord) error {
	vec, err := s.embedder.Embed(ctx, rec.EmbeddingText())
	if err != nil {
		return err
	}
	if err := s.idx.Upsert(ctx, model.IndexEntry{
		UserID:    rec.UserID,
		Embedding: vec,
		Metadata: model.EntryMetadata{
			Skills:          rec.Skills,
			ExperienceLevel: rec.ExperienceLevel,
		},
	}); err != nil {
		return err
	}
	return nil
}

// Records exposes the projection store for event and test seeding.
func (s *Service) Records() *scoring.MemoryRecords {
	return s.records
}
