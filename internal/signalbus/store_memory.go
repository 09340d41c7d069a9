package signalbus

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps pending signals in process. Useful for tests and local dev.
type MemoryStore struct {
	mu      sync.Mutex
	pending map[string][]Signal
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{pending: map[string][]Signal{}} }

func (m *MemoryStore) Append(ctx context.Context, sig Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[sig.To] = append(m.pending[sig.To], sig)
	return nil
}

func (m *MemoryStore) Claim(ctx context.Context, identity string) ([]Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.pending[identity]
	delete(m.pending, identity)
	return out, nil
}

func (m *MemoryStore) Purge(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, sigs := range m.pending {
		kept := sigs[:0]
		for _, sig := range sigs {
			if sig.CreatedAt.Before(before) {
				n++
				continue
			}
			kept = append(kept, sig)
		}
		if len(kept) == 0 {
			delete(m.pending, id)
		} else {
			m.pending[id] = kept
		}
	}
	return n, nil
}

// Len is the number of pending signals for identity.
func (m *MemoryStore) Len(identity string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending[identity])
}
