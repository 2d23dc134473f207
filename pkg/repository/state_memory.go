package repository

import (
	"context"
	"sync"
	"time"
)

// StateMemoryRepository implements StateRepository in memory for
// single-replica deployments without redis
type StateMemoryRepository struct {
	mu     sync.Mutex
	nonces map[string]time.Time
	now    func() time.Time
}

func NewStateMemoryRepository() StateRepository {
	return &StateMemoryRepository{nonces: make(map[string]time.Time), now: time.Now}
}

func (r *StateMemoryRepository) SaveState(ctx context.Context, nonce string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for n, expires := range r.nonces {
		if now.After(expires) {
			delete(r.nonces, n)
		}
	}
	r.nonces[nonce] = now.Add(ttl)
	return nil
}

func (r *StateMemoryRepository) ConsumeState(ctx context.Context, nonce string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	expires, ok := r.nonces[nonce]
	if !ok {
		return false, nil
	}
	delete(r.nonces, nonce)
	return !r.now().After(expires), nil
}
