// Package eventlog implements the append-only, per-run ordered event log
// that is the single source of truth for run and commis state.
package eventlog

import (
	"context"
	"errors"

	"oikos/concierge/pkg/types"
)

// ErrConflict is returned by Store.AppendAt when a concurrent append already
// claimed the target sequence. The caller must re-read the tail and retry
// with the event, never discard it.
var ErrConflict = errors.New("eventlog: sequence conflict")

// Store persists per-run event sequences. Sequences start at 1 and increase
// strictly by 1 per run; cross-run appends are independent.
type Store interface {
	// AppendAt writes ev at the given sequence. It fails with ErrConflict
	// when the run's tail is not expectedSeq-1.
	AppendAt(ctx context.Context, ev *types.Event, expectedSeq int64) error

	// ReadFrom returns the run's events with sequence > afterSeq, in
	// sequence order. It is idempotent and safe for concurrent replay by
	// independent consumers.
	ReadFrom(ctx context.Context, runID string, afterSeq int64) ([]*types.Event, error)

	// Tail returns the highest sequence recorded for the run, 0 when the
	// run has no events.
	Tail(ctx context.Context, runID string) (int64, error)

	// Runs returns the id of every run with at least one event, in no
	// particular order. Used to rebuild projections after a restart.
	Runs(ctx context.Context) ([]string, error)
}
