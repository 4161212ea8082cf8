// Package index defines the semantic index contract and its in-memory
// implementation.
//
// Ordering: similarity DESC, then user id ASC (deterministic).
package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/bidwise/matchd/internal/domain/model"
	"github.com/bidwise/matchd/pkg/metrics"
)

// Filter restricts a query to entries whose metadata overlaps the listed
// skills. A nil filter matches every entry.
type Filter struct {
	Skills []string
}

// Hit is a query result: an index entry plus its similarity to the query
// embedding, on [-1,1].
type Hit struct {
	Entry      model.IndexEntry
	Similarity float64
}

// Index provides nearest-neighbor access to freelancer embeddings.
// Implementations must be safe for concurrent upsert/delete/query.
type Index interface {
	// Upsert replaces any existing entry for the same user id.
	Upsert(ctx context.Context, entry model.IndexEntry) error

	// Delete removes the entry if present; deleting an absent id is a no-op.
	Delete(ctx context.Context, userID string) error

	// Query returns the k most similar eligible entries, fewer when the
	// index holds fewer. Ties break by user id ascending.
	Query(ctx context.Context, embedding []float32, k int, filter *Filter) ([]Hit, error)

	// Get returns the stored entry for a user id, or model.ErrNotFound.
	Get(ctx context.Context, userID string) (model.IndexEntry, error)

	// Count returns the number of indexed entries.
	Count(ctx context.Context) int

	// Clear drops every entry. Used by full reindex.
	Clear(ctx context.Context) error
}

// MemoryIndex is the embedded Index implementation backing the service.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]model.IndexEntry
	dim     int
	closed  bool
}

// Option applies a configuration option to the MemoryIndex.
type Option func(*MemoryIndex)

// WithDimension pins the embedding dimensionality; upserts with a different
// length are rejected as validation failures. Zero accepts any length.
func WithDimension(dim int) Option {
	return func(m *MemoryIndex) {
		if dim > 0 {
			m.dim = dim
		}
	}
}

// NewMemoryIndex creates an empty in-memory index.
func NewMemoryIndex(opts ...Option) *MemoryIndex {
	m := &MemoryIndex{
		entries: make(map[string]model.IndexEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Upsert replaces any existing entry for the same user id.
func (m *MemoryIndex) Upsert(_ context.Context, entry model.IndexEntry) error {
	if entry.UserID == "" {
		return fmt.Errorf("%w: empty user id", model.ErrValidation)
	}
	if len(entry.Embedding) == 0 {
		return fmt.Errorf("%w: empty embedding for user %s", model.ErrValidation, entry.UserID)
	}
	if m.dim > 0 && len(entry.Embedding) != m.dim {
		return fmt.Errorf("%w: embedding dimension %d, want %d", model.ErrValidation, len(entry.Embedding), m.dim)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%w: index closed", model.ErrIndexUnavailable)
	}

	// Copy so later mutation of the caller's slices cannot alias stored state.
	cp := entry
	cp.Embedding = append([]float32(nil), entry.Embedding...)
	cp.Metadata.Skills = model.NormalizeSkills(entry.Metadata.Skills)
	m.entries[entry.UserID] = cp

	metrics.RecordIndexUpsert()
	metrics.UpdateIndexSize(len(m.entries))
	return nil
}

// Delete removes the entry if present.
func (m *MemoryIndex) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%w: index closed", model.ErrIndexUnavailable)
	}
	if _, ok := m.entries[userID]; ok {
		delete(m.entries, userID)
		metrics.RecordIndexDelete()
		metrics.UpdateIndexSize(len(m.entries))
	}
	return nil
}

// Query returns the k most similar eligible entries.
func (m *MemoryIndex) Query(_ context.Context, embedding []float32, k int, filter *Filter) ([]Hit, error) {
	if k < 1 {
		return nil, fmt.Errorf("%w: k must be positive", model.ErrValidation)
	}

	start := time.Now()
	defer func() {
		metrics.RecordIndexQueryLatency(float64(time.Since(start).Milliseconds()))
	}()

	var want map[string]struct{}
	if filter != nil && len(filter.Skills) > 0 {
		want = make(map[string]struct{}, len(filter.Skills))
		for _, s := range model.NormalizeSkills(filter.Skills) {
			want[s] = struct{}{}
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("%w: index closed", model.ErrIndexUnavailable)
	}

	hits := make([]Hit, 0, len(m.entries))
	for _, e := range m.entries {
		if want != nil && !holdsAny(e.Metadata.Skills, want) {
			continue
		}
		hits = append(hits, Hit{Entry: e, Similarity: Cosine(embedding, e.Embedding)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Entry.UserID < hits[j].Entry.UserID
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Get returns the stored entry for a user id.
func (m *MemoryIndex) Get(_ context.Context, userID string) (model.IndexEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return model.IndexEntry{}, fmt.Errorf("%w: index closed", model.ErrIndexUnavailable)
	}
	e, ok := m.entries[userID]
	if !ok {
		return model.IndexEntry{}, fmt.Errorf("%w: user %s not indexed", model.ErrNotFound, userID)
	}
	return e, nil
}

// Count returns the number of indexed entries.
func (m *MemoryIndex) Count(_ context.Context) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Clear drops every entry.
func (m *MemoryIndex) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%w: index closed", model.ErrIndexUnavailable)
	}
	m.entries = make(map[string]model.IndexEntry)
	metrics.UpdateIndexSize(0)
	return nil
}

// Close marks the index unavailable. Subsequent operations fail with
// model.ErrIndexUnavailable.
func (m *MemoryIndex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func holdsAny(skills []string, want map[string]struct{}) bool {
	for _, s := range skills {
		if _, ok := want[s]; ok {
			return true
		}
	}
	return false
}

// Cosine computes cosine similarity between two vectors. Mismatched or
// zero-norm vectors yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
