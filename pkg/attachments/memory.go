package attachments

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps records in a map. It does not survive restarts and is
// meant for tests and ephemeral deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func memoryKey(backend, hash string) string {
	return backend + "\x00" + hash
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, backend, hash string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[memoryKey(backend, hash)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, rec *Record) error {
	cp := *rec
	m.mu.Lock()
	m.records[memoryKey(rec.Backend, rec.ContentHash)] = &cp
	m.mu.Unlock()
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, backend, hash string) error {
	m.mu.Lock()
	delete(m.records, memoryKey(backend, hash))
	m.mu.Unlock()
	return nil
}

// Touch implements Store.
func (m *MemoryStore) Touch(_ context.Context, backend, hash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[memoryKey(backend, hash)]; ok {
		rec.LastUsedAt = at
	}
	return nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, backend string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Record
	for _, rec := range m.records {
		if backend == "" || rec.Backend == backend {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUsedAt.After(out[j].LastUsedAt)
	})
	return out, nil
}

// Prune implements Store.
func (m *MemoryStore) Prune(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k, rec := range m.records {
		if rec.LastUsedAt.Before(before) {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}
