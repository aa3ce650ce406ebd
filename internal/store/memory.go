package store

import (
	"sync"
	"time"
)

// MemoryStore is an in-process Store used when no database path is configured
// and throughout tests. Contents do not survive a restart.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Get(name string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[name]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) Put(name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[name] = Record{Name: name, Value: value, UpdatedAt: time.Now().UTC()}
	return nil
}

func (m *MemoryStore) List() ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	return out, nil
}
