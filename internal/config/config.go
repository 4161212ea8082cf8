// Package config defines service configuration structures and loading.
//
// Conventions:
// - Defaults come from New; file and env layers override them.
// - Every duration-like knob is expressed in its unit-suffixed field name.
package config

import (
	"runtime"
)

// Weights holds the sub-score weighting for a combined score. The split
// between skills, experience, and semantic similarity is deliberately
// configuration, not code.
type Weights struct {
	Skills     float64 `koanf:"skills"`
	Experience float64 `koanf:"experience"`
	Similarity float64 `koanf:"similarity"`
}

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8086".
	Addr string `koanf:"addr"`

	// AMQPURL is the broker connection string. Empty disables the consumer
	// and the service runs with the HTTP surface only.
	AMQPURL string `koanf:"amqp_url"`

	// AMQPExchange is the topic exchange shared with the other services.
	AMQPExchange string `koanf:"amqp_exchange"`

	// FreelancerQueue and JobQueue name the two consumed queues.
	FreelancerQueue string `koanf:"freelancer_queue"`
	JobQueue        string `koanf:"job_queue"`

	// PrefetchCount bounds unacked deliveries per consumer channel.
	PrefetchCount int `koanf:"prefetch_count"`

	// ConsumerWorkers sets the dispatcher worker pool size.
	ConsumerWorkers int `koanf:"consumer_workers"`

	// DedupeSize bounds the processed-event fingerprint registry.
	DedupeSize int `koanf:"dedupe_size"`

	// CacheTTLSeconds and CacheMaxEntries configure the result cache.
	CacheTTLSeconds int `koanf:"cache_ttl_seconds"`
	CacheMaxEntries int `koanf:"cache_max_entries"`

	// ScoreWeights combines the scoring sub-scores; MatchWeights combines
	// the per-candidate match signals.
	ScoreWeights Weights `koanf:"score_weights"`
	MatchWeights Weights `koanf:"match_weights"`

	// SkillsBaseline is the skills sub-score (0-100) used when a score is
	// computed without a reference skill set.
	SkillsBaseline float64 `koanf:"skills_baseline"`

	// ReferenceCategory seeds the reference embedding scores are computed
	// against; ReferenceLevel is the experience level treated as ideal.
	ReferenceCategory string `koanf:"reference_category"`
	ReferenceLevel    string `koanf:"reference_level"`

	// OversampleFactor widens index queries before re-ranking.
	OversampleFactor int `koanf:"oversample_factor"`

	// DefaultTopK and MaxTopK bound match result sizes.
	DefaultTopK int `koanf:"default_top_k"`
	MaxTopK     int `koanf:"max_top_k"`

	// Provider configuration. ProviderModel embeds; ChatModel completes.
	ProviderAPIKey         string `koanf:"provider_api_key"`
	ProviderModel          string `koanf:"provider_model"`
	ChatModel              string `koanf:"chat_model"`
	ProviderTimeoutSeconds int    `koanf:"provider_timeout_seconds"`

	// Retry policy for transient provider/index failures.
	RetryMaxAttempts int `koanf:"retry_max_attempts"`
	RetryBaseMS      int `koanf:"retry_base_ms"`
	RetryCapMS       int `koanf:"retry_cap_ms"`
}

// New returns the built-in defaults.
func New() *Config {
	return &Config{
		LogLevel:        "info",
		Addr:            ":8086",
		AMQPURL:         "",
		AMQPExchange:    "bidwise",
		FreelancerQueue: "ai.freelancer.index",
		JobQueue:        "ai.job.match",
		PrefetchCount:   10,
		ConsumerWorkers: runtime.NumCPU() * 2,
		DedupeSize:      50_000,
		CacheTTLSeconds: 3600,
		CacheMaxEntries: 10_000,
		ScoreWeights: Weights{
			Skills:     0.40,
			Experience: 0.25,
			Similarity: 0.35,
		},
		MatchWeights: Weights{
			Similarity: 0.60,
			Skills:     0.30,
			Experience: 0.10,
		},
		SkillsBaseline:         60,
		ReferenceCategory:      "Experienced freelance software professional with strong delivery record",
		ReferenceLevel:         "expert",
		OversampleFactor:       4,
		DefaultTopK:            10,
		MaxTopK:                100,
		ProviderModel:          "gemini-embedding-001",
		ChatModel:              "gemini-2.0-flash",
		ProviderTimeoutSeconds: 10,
		RetryMaxAttempts:       3,
		RetryBaseMS:            500,
		RetryCapMS:             8000,
	}
}
