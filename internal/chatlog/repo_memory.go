package chatlog

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory repository for tests and local development.
type MemoryRepo struct {
	mu   sync.Mutex
	msgs map[string]Message
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{msgs: map[string]Message{}} }

func (r *MemoryRepo) Insert(ctx context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs[m.ID] = m
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	return m, nil
}

func (r *MemoryRepo) Update(ctx context.Context, id string, fn func(*Message) error) (Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[id]
	if !ok {
		return Message{}, ErrNotFound
	}
	if err := fn(&m); err != nil {
		return Message{}, err
	}
	r.msgs[id] = m
	return m, nil
}

func (r *MemoryRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.msgs[id]; !ok {
		return ErrNotFound
	}
	delete(r.msgs, id)
	return nil
}

func (r *MemoryRepo) ListByEmail(ctx context.Context, email string) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, 0)
	for _, m := range r.msgs {
		if m.Email == email {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *MemoryRepo) ListAll(ctx context.Context) ([]Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, m)
	}
	return out, nil
}
