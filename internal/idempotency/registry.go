// Package idempotency collapses retried creation requests into a single
// logical run by client-supplied key.
package idempotency

import (
	"context"
	"sync"
)

// Registry maps idempotency keys to run ids. Claim is atomic: under
// concurrent claims of one key, exactly one caller wins.
type Registry interface {
	// Claim binds key to runID if the key is unclaimed and returns
	// (runID, true). When the key is already bound it returns the original
	// run id and false; this is a success, not an error, and the caller
	// must return the original run unchanged.
	Claim(ctx context.Context, key, runID string) (string, bool, error)

	// Release unbinds a key, used to roll back a claim whose run never
	// recorded its first event.
	Release(ctx context.Context, key string) error
}

// MemoryRegistry is the in-process Registry used in tests and standalone
// mode.
type MemoryRegistry struct {
	mu   sync.Mutex
	keys map[string]string
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{keys: make(map[string]string)}
}

// Claim binds key to runID unless already bound.
func (r *MemoryRegistry) Claim(ctx context.Context, key, runID string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.keys[key]; ok {
		return existing, false, nil
	}
	r.keys[key] = runID
	return runID, true, nil
}

// Release unbinds a key.
func (r *MemoryRegistry) Release(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.keys, key)
	return nil
}
