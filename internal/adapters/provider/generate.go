package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/genai"

	"github.com/bidwise/matchd/internal/domain/model"
	"github.com/bidwise/matchd/pkg/logger"
	"github.com/bidwise/matchd/pkg/metrics"
)

const defaultChatModel = "gemini-2.0-flash"

// Generator produces a chat completion for a user prompt under a system
// instruction. Implementations talk to the same external provider family
// as Embedder.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// GeminiGenerator produces completions through the Google GenAI API.
type GeminiGenerator struct {
	client    *genai.Client
	modelName string
}

// NewGeminiGenerator creates a generator backed by the Gemini API.
func NewGeminiGenerator(ctx context.Context, apiKey, modelName string) (*GeminiGenerator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if modelName = strings.TrimSpace(modelName); modelName == "" {
		modelName = defaultChatModel
	}

	return &GeminiGenerator{client: client, modelName: modelName}, nil
}

// Generate returns the first textual response for the prompt.
func (g *GeminiGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	if g == nil || g.client == nil {
		return "", errors.New("gemini generator is not initialized")
	}

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("%w: prompt must not be empty", model.ErrValidation)
	}

	var cfg *genai.GenerateContentConfig
	if system = strings.TrimSpace(system); system != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.modelName, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(text)
		}
	}

	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", errors.New("gemini api returned empty completion")
	}
	return out, nil
}

// LocalGenerator is the offline fallback used when no provider key is
// configured. It produces a short deterministic acknowledgment so the chat
// surface stays testable without network access.
type LocalGenerator struct{}

// Generate echoes a canned assistant reply for the prompt.
func (LocalGenerator) Generate(_ context.Context, system, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("%w: prompt must not be empty", model.ErrValidation)
	}
	if strings.Contains(system, "AVAILABLE FREELANCERS") {
		return "Here are freelancers matching your request, picked from the indexed profiles.", nil
	}
	return "Thanks for your question about the platform. " +
		"I can help you find freelancers, explain scoring tiers, and walk you through posting a job.", nil
}

// RetryingGenerator decorates a Generator with per-call timeouts and the
// same bounded backoff policy RetryingEmbedder uses. Exhausted retries
// surface as model.ErrProviderUnavailable.
type RetryingGenerator struct {
	inner  Generator
	policy RetryPolicy
	log    logger.Logger
}

// NewRetryingGenerator wraps inner with the given policy. Zero policy
// fields fall back to the defaults.
func NewRetryingGenerator(inner Generator, policy RetryPolicy, log logger.Logger) *RetryingGenerator {
	def := DefaultRetryPolicy()
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = def.BaseDelay
	}
	if policy.CapDelay <= 0 {
		policy.CapDelay = def.CapDelay
	}
	if policy.CallTimeout <= 0 {
		policy.CallTimeout = def.CallTimeout
	}
	return &RetryingGenerator{inner: inner, policy: policy, log: log}
}

// Generate calls the wrapped provider, retrying transient failures.
func (r *RetryingGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = r.policy.BaseDelay
	expo.MaxInterval = r.policy.CapDelay
	expo.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	bo := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(r.policy.MaxAttempts-1)), ctx)

	var out string
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, r.policy.CallTimeout)
		defer cancel()

		start := time.Now()
		text, err := r.inner.Generate(callCtx, system, prompt)
		metrics.RecordProviderLatency(float64(time.Since(start).Milliseconds()))
		metrics.RecordProviderCall()

		if err != nil {
			if errors.Is(err, model.ErrValidation) {
				return backoff.Permanent(err)
			}
			metrics.RecordProviderRetry()
			if r.log != nil {
				r.log.Warn(ctx, "completion call failed",
					logger.Int("attempt", attempt),
					logger.Error(err),
				)
			}
			return err
		}
		out = text
		return nil
	}, bo)
	if err != nil {
		if errors.Is(err, model.ErrValidation) {
			return "", err
		}
		metrics.RecordProviderError()
		return "", fmt.Errorf("%w: %v", model.ErrProviderUnavailable, err)
	}
	return out, nil
}
