package scoring

import (
	"context"
	"sync"

	"github.com/bidwise/matchd/internal/domain/model"
)

// RecordSource resolves the freelancer projection a score is computed from.
// The system of record lives in the user service; implementations here hold
// the view built from consumed events.
type RecordSource interface {
	// Record returns the projection for userID, or model.ErrNotFound.
	Record(ctx context.Context, userID string) (model.FreelancerRecord, error)
}

// MemoryRecords is an in-memory RecordSource fed by event payloads.
type MemoryRecords struct {
	mu      sync.RWMutex
	records map[string]model.FreelancerRecord
}

// NewMemoryRecords creates an empty projection store.
func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{records: make(map[string]model.FreelancerRecord)}
}

// Put stores or replaces the projection for rec.UserID.
func (m *MemoryRecords) Put(rec model.FreelancerRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Skills = model.NormalizeSkills(rec.Skills)
	m.records[rec.UserID] = rec
}

// Delete removes the projection for userID. Deleting an absent record is a
// no-op.
func (m *MemoryRecords) Delete(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, userID)
}

// Record implements RecordSource.
func (m *MemoryRecords) Record(_ context.Context, userID string) (model.FreelancerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[userID]
	if !ok {
		return model.FreelancerRecord{}, model.ErrNotFound
	}
	return rec, nil
}

// UserIDs returns all known freelancer ids. Used by full reindex.
func (m *MemoryRecords) UserIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	return ids
}

// Len reports the number of stored projections.
func (m *MemoryRecords) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
