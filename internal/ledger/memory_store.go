package ledger

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/mbd888/giftguard/internal/fraud"
	"github.com/mbd888/giftguard/internal/pagination"
)

// MemoryStore is an in-memory ledger for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records []fraud.RawTransaction
	byID    map[string]int
}

// NewMemoryStore creates a new in-memory ledger store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]int)}
}

func (m *MemoryStore) Append(_ context.Context, rec *fraud.RawTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byID[rec.ID]; ok {
		return ErrDuplicateRecord
	}
	m.byID[rec.ID] = len(m.records)
	m.records = append(m.records, *rec)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*fraud.RawTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.byID[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	rec := m.records[i]
	return &rec, nil
}

// newestFirst orders by createdAt then id, both descending.
func newestFirst(a, b fraud.RawTransaction) int {
	if c := cmp.Compare(b.CreatedAt, a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

func (m *MemoryStore) sorted() []fraud.RawTransaction {
	out := slices.Clone(m.records)
	slices.SortStableFunc(out, newestFirst)
	return out
}

func (m *MemoryStore) List(_ context.Context, cursor *pagination.Cursor, limit int) ([]*fraud.RawTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*fraud.RawTransaction
	for _, rec := range m.sorted() {
		if !cursor.Before(rec.CreatedAt, rec.ID) {
			continue
		}
		rec := rec
		out = append(out, &rec)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) Snapshot(_ context.Context, limit int) ([]fraud.RawTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		return []fraud.RawTransaction{}, nil
	}
	newest := m.sorted()
	if len(newest) > limit {
		newest = newest[:limit]
	}
	slices.Reverse(newest)
	return newest, nil
}

func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

func (m *MemoryStore) DeletePendingBefore(_ context.Context, cutoffMs int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.records[:0]
	removed := 0
	for _, rec := range m.records {
		if rec.Status == fraud.StatusPending && rec.CreatedAt < cutoffMs {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	m.records = kept

	m.byID = make(map[string]int, len(m.records))
	for i, rec := range m.records {
		m.byID[rec.ID] = i
	}
	return removed, nil
}
