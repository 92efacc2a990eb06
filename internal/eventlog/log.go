package eventlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"oikos/concierge/internal/retry"
	"oikos/concierge/pkg/types"
)

// Listener observes events after they are durably appended. Push delivery
// hangs off this hook: it is a side channel on top of the log, never an
// independent source of truth.
type Listener func(ev *types.Event)

// Log is the append facade over a Store. Append assigns the next sequence
// number atomically with respect to concurrent appenders for the same run;
// a lost race is retried with the fresh tail through the retry policy, so
// the event is never dropped.
type Log struct {
	store  Store
	policy retry.Policy
	logger *zap.Logger

	mu        sync.RWMutex
	listeners []Listener
}

// New creates a Log over store.
func New(store Store, policy retry.Policy, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{
		store:  store,
		policy: policy,
		logger: logger,
	}
}

// AddListener registers a post-append observer.
func (l *Log) AddListener(fn Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Append records an event for the run and returns it with its assigned
// sequence. Concurrent appenders for one run never share a sequence number.
func (l *Log) Append(ctx context.Context, runID string, eventType types.EventType, payload map[string]any, correlationID string) (*types.Event, error) {
	var appended *types.Event

	op := func() error {
		tail, err := l.store.Tail(ctx, runID)
		if err != nil {
			return err
		}

		ev := &types.Event{
			RunID:         runID,
			Sequence:      tail + 1,
			Type:          eventType,
			Payload:       payload,
			Timestamp:     time.Now().UTC(),
			CorrelationID: correlationID,
		}
		if err := l.store.AppendAt(ctx, ev, tail+1); err != nil {
			return err
		}
		appended = ev
		return nil
	}

	err := l.policy.Do(ctx, op, func(err error) bool {
		return errors.Is(err, ErrConflict)
	})
	if err != nil {
		return nil, fmt.Errorf("append %s to run %s: %w", eventType, runID, err)
	}

	l.notify(appended)
	return appended, nil
}

// ReadFrom replays the run's events with sequence > afterSeq, in order.
func (l *Log) ReadFrom(ctx context.Context, runID string, afterSeq int64) ([]*types.Event, error) {
	return l.store.ReadFrom(ctx, runID, afterSeq)
}

// Tail returns the run's highest sequence.
func (l *Log) Tail(ctx context.Context, runID string) (int64, error) {
	return l.store.Tail(ctx, runID)
}

// Runs returns every run id known to the store.
func (l *Log) Runs(ctx context.Context) ([]string, error) {
	return l.store.Runs(ctx)
}

func (l *Log) notify(ev *types.Event) {
	l.mu.RLock()
	listeners := l.listeners
	l.mu.RUnlock()

	for _, fn := range listeners {
		fn(ev)
	}
}
