package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/bidwise/matchd/internal/domain/model"
)

const defaultLocalDimension = 64

// LocalEmbedder is a deterministic, dependency-free Embedder used when no
// provider credentials are configured, and throughout the test suite. It
// hashes tokens into a fixed-length bag-of-words vector, so texts sharing
// vocabulary land near each other under cosine similarity.
type LocalEmbedder struct {
	dim int
}

// NewLocalEmbedder creates a local embedder with the given dimensionality.
// Non-positive values use the default.
func NewLocalEmbedder(dim int) *LocalEmbedder {
	if dim <= 0 {
		dim = defaultLocalDimension
	}
	return &LocalEmbedder{dim: dim}
}

// Embed produces a deterministic unit-length vector for text.
func (l *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(strings.ToLower(text))
	if text == "" {
		return nil, fmt.Errorf("%w: text must not be empty", model.ErrValidation)
	}

	vec := make([]float64, l.dim)
	for _, tok := range strings.FieldsFunc(text, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		// Each token contributes to one slot with a hash-derived sign.
		slot := int(sum % uint64(l.dim))
		if sum&(1<<63) != 0 {
			vec[slot]--
		} else {
			vec[slot]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, l.dim)
	if norm == 0 {
		out[0] = 1
		return out, nil
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out, nil
}

// Dimension returns the vector length produced by this embedder.
func (l *LocalEmbedder) Dimension() int {
	return l.dim
}
