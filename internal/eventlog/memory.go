package eventlog

import (
	"context"
	"sync"

	"oikos/concierge/pkg/types"
)

// MemoryStore is the in-process Store used in tests and standalone mode.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string][]*types.Event
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs: make(map[string][]*types.Event),
	}
}

// AppendAt writes ev at expectedSeq, failing with ErrConflict when another
// appender already claimed it.
func (s *MemoryStore) AppendAt(ctx context.Context, ev *types.Event, expectedSeq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.runs[ev.RunID]
	if int64(len(events))+1 != expectedSeq {
		return ErrConflict
	}

	stored := *ev
	stored.Sequence = expectedSeq
	s.runs[ev.RunID] = append(events, &stored)
	return nil
}

// ReadFrom returns events with sequence > afterSeq in order.
func (s *MemoryStore) ReadFrom(ctx context.Context, runID string, afterSeq int64) ([]*types.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.runs[runID]
	if afterSeq < 0 {
		afterSeq = 0
	}
	if afterSeq >= int64(len(events)) {
		return nil, nil
	}

	// Sequences are dense, so the slice offset is the watermark itself.
	out := make([]*types.Event, len(events)-int(afterSeq))
	for i, ev := range events[afterSeq:] {
		cp := *ev
		out[i] = &cp
	}
	return out, nil
}

// Tail returns the run's highest sequence.
func (s *MemoryStore) Tail(ctx context.Context, runID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.runs[runID])), nil
}

// Runs returns every run id with at least one event.
func (s *MemoryStore) Runs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.runs))
	for id := range s.runs {
		out = append(out, id)
	}
	return out, nil
}
