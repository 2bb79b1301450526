package storage

import (
	"context"
	"sync"
)

// MemoryKV is a process-local KV. Nothing survives a restart.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: map[string][]byte{}}
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

var _ KV = (*MemoryKV)(nil)
