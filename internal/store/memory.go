// Package store provides an in-memory CV record store and lock. It backs the
// engine and pipeline tests and mirrors the semantics of the SQL repository,
// optimistic version checks included.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/recruitly/cvsync/internal/model"
	"github.com/recruitly/cvsync/internal/repository"
)

// MemoryStore keeps CvHistory records in a map guarded by an RWMutex.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*model.CvHistory
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*model.CvHistory)}
}

// Create inserts a pending record.
func (m *MemoryStore) Create(ctx context.Context, rec *model.CvHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	rec.SyncStatus = model.SyncPending
	rec.Attempts = 0
	rec.Version = 0
	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = now
	}
	rec.UpdatedAt = now
	stored := *rec
	m.records[rec.ID] = &stored
	return nil
}

// Get returns a copy of the record so callers cannot mutate internal state.
func (m *MemoryStore) Get(ctx context.Context, id string) (*model.CvHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// ListByCandidate returns a candidate's records, most recent upload first.
func (m *MemoryStore) ListByCandidate(ctx context.Context, candidateID string) ([]*model.CvHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.CvHistory
	for _, rec := range m.records {
		if rec.CandidateID == candidateID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UploadedAt.After(out[j].UploadedAt)
	})
	return out, nil
}

// SetExtractedText stores extractor output without touching sync fields.
func (m *MemoryStore) SetExtractedText(ctx context.Context, id, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return repository.ErrNotFound
	}
	rec.ExtractedText = &text
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkSynced mirrors the SQL repository's pending → synced transition.
func (m *MemoryStore) MarkSynced(ctx context.Context, id string, version int64, attempt int, at time.Time) error {
	return m.updateSyncFields(id, version, func(rec *model.CvHistory) {
		rec.SyncStatus = model.SyncSynced
		rec.SyncDate = &at
		rec.Attempts = attempt
		rec.LastError = nil
	})
}

// RecordFailure keeps the record pending with the failure bookkeeping.
func (m *MemoryStore) RecordFailure(ctx context.Context, id string, version int64, attempt int, cause string) error {
	return m.updateSyncFields(id, version, func(rec *model.CvHistory) {
		rec.SyncStatus = model.SyncPending
		rec.Attempts = attempt
		rec.LastError = &cause
	})
}

// MarkFailed transitions the record to failed with a null sync date.
func (m *MemoryStore) MarkFailed(ctx context.Context, id string, version int64, attempt int, cause string) error {
	return m.updateSyncFields(id, version, func(rec *model.CvHistory) {
		rec.SyncStatus = model.SyncFailed
		rec.SyncDate = nil
		rec.Attempts = attempt
		rec.LastError = &cause
	})
}

func (m *MemoryStore) updateSyncFields(id string, version int64, apply func(*model.CvHistory)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return repository.ErrNotFound
	}
	if rec.Version != version {
		return repository.ErrStale
	}
	apply(rec)
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// ResetForRetry implements the operator retry trigger. Exactly one of any
// concurrent callers succeeds; the rest get ErrRetryConflict.
func (m *MemoryStore) ResetForRetry(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return repository.ErrNotFound
	}
	if rec.SyncStatus != model.SyncFailed {
		return repository.ErrRetryConflict
	}
	rec.SyncStatus = model.SyncPending
	rec.Attempts = 0
	rec.LastError = nil
	rec.Version++
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

// MemoryLocker is an in-process Locker with the same contract as the Redis
// lease.
type MemoryLocker struct {
	mu    sync.Mutex
	holds map[string]bool
}

// NewMemoryLocker constructs a MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{holds: make(map[string]bool)}
}

// Acquire takes the per-record hold if free.
func (l *MemoryLocker) Acquire(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holds[id] {
		return false, nil
	}
	l.holds[id] = true
	return true, nil
}

// Release drops the hold.
func (l *MemoryLocker) Release(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.holds, id)
	return nil
}
