package storage

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu  sync.RWMutex
	log [][]byte
	kv  map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{kv: make(map[string][]byte)}
}

func (m *MemoryStore) AppendLog(_ context.Context, entry []byte, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.log = append(m.log, slices.Clone(entry))
	if limit > 0 && len(m.log) > limit {
		m.log = slices.Clone(m.log[len(m.log)-limit:])
	}
	return nil
}

func (m *MemoryStore) ReadLog(context.Context) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([][]byte, len(m.log))
	for i, e := range m.log {
		out[i] = slices.Clone(e)
	}
	return out, nil
}

func (m *MemoryStore) ClearLog(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = nil
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.kv[key]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(v), nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = slices.Clone(value)
	return nil
}

func (m *MemoryStore) ClearCache(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.kv {
		if IsCacheKey(k) {
			delete(m.kv, k)
		}
	}
	return nil
}

func (m *MemoryStore) Close() error { return nil }
