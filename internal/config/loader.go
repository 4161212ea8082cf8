package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New)
//  2. file (YAML) if MATCHD_CONFIG is set
//  3. env (prefix MATCHD_)
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("MATCHD_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
		}
	}

	// Environment variables: MATCHD_ADDR, MATCHD_PREFETCH_COUNT, ...
	// Keys keep their underscores to match the koanf struct tags.
	envProvider := env.Provider("MATCHD_", ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, "matchd_")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.PrefetchCount < 1:
		return fmt.Errorf("%w: prefetch_count must be positive", ErrInvalidConfig)
	case c.ConsumerWorkers < 1:
		return fmt.Errorf("%w: consumer_workers must be positive", ErrInvalidConfig)
	case c.CacheTTLSeconds < 1:
		return fmt.Errorf("%w: cache_ttl_seconds must be positive", ErrInvalidConfig)
	case c.OversampleFactor < 1:
		return fmt.Errorf("%w: oversample_factor must be positive", ErrInvalidConfig)
	case c.DefaultTopK < 1 || c.MaxTopK < c.DefaultTopK:
		return fmt.Errorf("%w: top_k bounds are inconsistent", ErrInvalidConfig)
	case c.RetryMaxAttempts < 1:
		return fmt.Errorf("%w: retry_max_attempts must be positive", ErrInvalidConfig)
	}
	for name, w := range map[string]Weights{"score_weights": c.ScoreWeights, "match_weights": c.MatchWeights} {
		if w.Skills < 0 || w.Experience < 0 || w.Similarity < 0 {
			return fmt.Errorf("%w: %s must be non-negative", ErrInvalidConfig, name)
		}
		if w.Skills+w.Experience+w.Similarity == 0 {
			return fmt.Errorf("%w: %s must not all be zero", ErrInvalidConfig, name)
		}
	}
	return nil
}
