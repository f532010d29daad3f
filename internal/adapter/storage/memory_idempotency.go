package storage

import (
	"context"
	"sync"
)

type MemoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func NewMemoryIdempotency() *MemoryIdempotency {
	return &MemoryIdempotency{keys: make(map[string]string)}
}

func (m *MemoryIdempotency) Claim(ctx context.Context, key, orderID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bound, ok := m.keys[key]; ok {
		return bound, false, nil
	}
	m.keys[key] = orderID
	return orderID, true, nil
}

func (m *MemoryIdempotency) Forget(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}
