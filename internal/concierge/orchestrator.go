// Package concierge implements the resumable run orchestrator: the run
// state machine, the commis dispatcher and the barrier/resume controller,
// all derived from the per-run event log.
package concierge

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"oikos/concierge/internal/bus"
	"oikos/concierge/internal/eventlog"
	"oikos/concierge/internal/idempotency"
	"oikos/concierge/pkg/types"
)

// CorrelationIDPattern is the UUID shape required of generated correlation
// identifiers.
var CorrelationIDPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// Continuation is the parent computation re-entered when the barrier
// releases. It receives the commis outcomes in spawn order, including
// failures, and decides the run's own terminal state.
type Continuation func(ctx context.Context, results []types.CommisResult) (map[string]any, error)

// CreateRunParams are the inputs to run creation.
type CreateRunParams struct {
	TenantID       string
	CorrelationID  string
	IdempotencyKey string
	Input          map[string]any
}

// ListOptions filter ListRuns.
type ListOptions struct {
	TenantID     string
	CreatedAfter time.Time
	Limit        int
}

// Orchestrator owns every run's lifecycle. All mutations to one run are
// serialized behind its handle mutex (single writer per run); different
// runs proceed fully in parallel. Everything the orchestrator knows is a
// projection of the event log.
type Orchestrator struct {
	log    *eventlog.Log
	keys   idempotency.Registry
	bus    *bus.Bus
	logger *zap.Logger

	mu   sync.RWMutex
	runs map[string]*runHandle
}

// runHandle serializes one run's mutations and caches its projection.
// tenantID is immutable after creation so the push listener can read it
// without taking the handle lock.
type runHandle struct {
	mu       sync.Mutex
	state    *RunState
	cont     Continuation
	tenantID string
}

// New creates an orchestrator over log. Appended events are published to b
// as push envelopes; push is a side channel over the same log.
func New(log *eventlog.Log, keys idempotency.Registry, b *bus.Bus, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		log:    log,
		keys:   keys,
		bus:    b,
		logger: logger,
		runs:   make(map[string]*runHandle),
	}
	if b != nil {
		log.AddListener(o.publish)
	}
	return o
}

func (o *Orchestrator) publish(ev *types.Event) {
	env := types.NewEnvelope(ev)
	o.bus.Publish(types.RunTopic(ev.RunID), env)

	o.mu.RLock()
	h := o.runs[ev.RunID]
	o.mu.RUnlock()
	if h != nil && h.tenantID != "" {
		o.bus.Publish(types.TenantTopic(h.tenantID), env)
	}
}

// CreateRun creates a run, or returns the existing one unchanged when the
// idempotency key was already claimed. The bool result reports whether a
// new run was created; a replayed creation discards the new payload.
func (o *Orchestrator) CreateRun(ctx context.Context, p CreateRunParams) (*types.Run, bool, error) {
	correlationID := p.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	runID := uuid.NewString()
	h := &runHandle{
		state:    NewRunState(runID),
		tenantID: p.TenantID,
	}

	o.mu.Lock()
	o.runs[runID] = h
	o.mu.Unlock()

	// The handle lock is held from before the key claim through the
	// run_started append, so a duplicate-key creation that lost the claim
	// blocks in GetRun until the winner's first event is folded; it can
	// never observe the run half-created.
	h.mu.Lock()
	defer h.mu.Unlock()

	if p.IdempotencyKey != "" {
		owner, claimed, err := o.keys.Claim(ctx, p.IdempotencyKey, runID)
		if err != nil {
			o.deregister(runID)
			return nil, false, err
		}
		if !claimed {
			// At-most-once creation: the retry collapses onto the original
			// run, and no run_started event is appended.
			o.deregister(runID)
			existing, err := o.GetRun(ctx, owner)
			if err != nil {
				return nil, false, fmt.Errorf("idempotency key %q claimed by unknown run %s: %w", p.IdempotencyKey, owner, err)
			}
			return existing, false, nil
		}
	}

	payload := map[string]any{}
	if p.Input != nil {
		payload[types.PayloadKeyInput] = p.Input
	}
	if p.IdempotencyKey != "" {
		payload["idempotency_key"] = p.IdempotencyKey
	}
	if p.TenantID != "" {
		payload["tenant_id"] = p.TenantID
	}

	ev, err := o.log.Append(ctx, runID, types.EventRunStarted, payload, correlationID)
	if err != nil {
		if p.IdempotencyKey != "" {
			_ = o.keys.Release(ctx, p.IdempotencyKey)
		}
		o.deregister(runID)
		return nil, false, err
	}
	h.state.Apply(ev)

	o.logger.Info("run created",
		zap.String("run_id", runID),
		zap.String("correlation_id", correlationID),
		zap.String("tenant_id", p.TenantID))

	return h.state.Run.Clone(), true, nil
}

// GetRun returns a snapshot of the run.
func (o *Orchestrator) GetRun(ctx context.Context, runID string) (*types.Run, error) {
	h, err := o.handle(ctx, runID)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.Run.Clone(), nil
}

// GetCommis returns a snapshot of the run's commis set in spawn order.
func (o *Orchestrator) GetCommis(ctx context.Context, runID string) ([]*types.Commis, error) {
	h, err := o.handle(ctx, runID)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.CommisSnapshot(), nil
}

// PendingActivity returns the orphaned activity payloads buffered for
// commis the log has not established yet, keyed by commis id.
func (o *Orchestrator) PendingActivity(ctx context.Context, runID string) (map[string][]map[string]any, error) {
	h, err := o.handle(ctx, runID)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[string][]map[string]any, len(h.state.Orphans))
	for id, payloads := range h.state.Orphans {
		out[id] = append([]map[string]any(nil), payloads...)
	}
	return out, nil
}

// ListRuns returns run snapshots ordered by creation time.
func (o *Orchestrator) ListRuns(ctx context.Context, opts ListOptions) ([]*types.Run, error) {
	o.mu.RLock()
	handles := make([]*runHandle, 0, len(o.runs))
	for _, h := range o.runs {
		handles = append(handles, h)
	}
	o.mu.RUnlock()

	runs := make([]*types.Run, 0, len(handles))
	for _, h := range handles {
		h.mu.Lock()
		run := h.state.Run.Clone()
		h.mu.Unlock()

		if run.Status == types.RunStatusPending {
			continue
		}
		if opts.TenantID != "" && run.TenantID != opts.TenantID {
			continue
		}
		if !opts.CreatedAfter.IsZero() && !run.CreatedAt.After(opts.CreatedAfter) {
			continue
		}
		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.Before(runs[j].CreatedAt)
	})
	if opts.Limit > 0 && len(runs) > opts.Limit {
		runs = runs[:opts.Limit]
	}
	return runs, nil
}

// Events replays the run's events after the given watermark.
func (o *Orchestrator) Events(ctx context.Context, runID string, afterSeq int64) ([]*types.Event, error) {
	if _, err := o.handle(ctx, runID); err != nil {
		return nil, err
	}
	return o.log.ReadFrom(ctx, runID, afterSeq)
}

// CompleteRun finishes a run that did not fan out, running -> success or
// failed directly.
func (o *Orchestrator) CompleteRun(ctx context.Context, runID string, result map[string]any, errMsg string) (*types.Run, error) {
	h, err := o.handle(ctx, runID)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state.Run.Status != types.RunStatusRunning {
		return nil, fmt.Errorf("%w: run %s is %s", ErrRunBusy, runID, h.state.Run.Status)
	}

	if err := o.finish(ctx, h, runID, result, errMsg); err != nil {
		return nil, err
	}
	return h.state.Run.Clone(), nil
}

// AppendStream records a stream_start/stream_chunk/stream_end event. A
// waiting run accepts no new work except commis results.
func (o *Orchestrator) AppendStream(ctx context.Context, runID string, eventType types.EventType, payload map[string]any) (*types.Event, error) {
	switch eventType {
	case types.EventStreamStart, types.EventStreamChunk, types.EventStreamEnd:
	default:
		return nil, fmt.Errorf("not a stream event type: %s", eventType)
	}

	h, err := o.handle(ctx, runID)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	status := h.state.Run.Status
	if status != types.RunStatusRunning && status != types.RunStatusResumed {
		return nil, fmt.Errorf("%w: run %s is %s", ErrRunBusy, runID, status)
	}

	ev, err := o.log.Append(ctx, runID, eventType, payload, h.state.Run.CorrelationID)
	if err != nil {
		return nil, err
	}
	h.state.Apply(ev)
	return ev, nil
}

// AppendActivity records tool/progress activity attributed to a commis.
// Activity referencing a commis the log has not established yet is buffered
// provisionally, never rejected and never dropped.
func (o *Orchestrator) AppendActivity(ctx context.Context, runID string, payload map[string]any) (*types.Event, error) {
	h, err := o.handle(ctx, runID)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state.Run.Status.Terminal() {
		return nil, fmt.Errorf("%w: run %s is %s", ErrRunBusy, runID, h.state.Run.Status)
	}

	ev, err := o.log.Append(ctx, runID, types.EventCommisActivity, payload, h.state.Run.CorrelationID)
	if err != nil {
		return nil, err
	}
	h.state.Apply(ev)
	return ev, nil
}

// ForceFail moves a non-terminal run to failed. This is the hook for
// external watchdog policy; the orchestrator itself never times a run out.
func (o *Orchestrator) ForceFail(ctx context.Context, runID, reason string) error {
	h, err := o.handle(ctx, runID)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state.Run.Status.Terminal() {
		return nil
	}
	return o.finish(ctx, h, runID, nil, reason)
}

// StuckWaiting returns ids of runs that have been waiting with no new
// events for longer than olderThan.
func (o *Orchestrator) StuckWaiting(olderThan time.Duration) []string {
	cutoff := time.Now().UTC().Add(-olderThan)

	o.mu.RLock()
	handles := make(map[string]*runHandle, len(o.runs))
	for id, h := range o.runs {
		handles[id] = h
	}
	o.mu.RUnlock()

	var stuck []string
	for id, h := range handles {
		h.mu.Lock()
		if h.state.Run.Status == types.RunStatusWaiting && h.state.Run.UpdatedAt.Before(cutoff) {
			stuck = append(stuck, id)
		}
		h.mu.Unlock()
	}
	return stuck
}

// finish appends the terminal event and folds it. Caller holds h.mu.
func (o *Orchestrator) finish(ctx context.Context, h *runHandle, runID string, result map[string]any, errMsg string) error {
	var (
		eventType types.EventType
		payload   map[string]any
	)
	if errMsg != "" {
		eventType = types.EventRunFailed
		payload = map[string]any{types.PayloadKeyError: errMsg}
	} else {
		eventType = types.EventRunSuccess
		payload = map[string]any{}
		if result != nil {
			payload[types.PayloadKeyResult] = result
		}
	}

	ev, err := o.log.Append(ctx, runID, eventType, payload, h.state.Run.CorrelationID)
	if err != nil {
		return err
	}
	h.state.Apply(ev)
	return nil
}

// handle returns the run's handle, rebuilding it from the event log when
// this process has not folded the run yet (a restart, or a run appended
// before this orchestrator existed). A recovered waiting run resumes with
// DefaultContinuation when its barrier releases.
func (o *Orchestrator) handle(ctx context.Context, runID string) (*runHandle, error) {
	o.mu.RLock()
	h, ok := o.runs[runID]
	o.mu.RUnlock()
	if ok {
		return h, nil
	}

	events, err := o.log.ReadFrom(ctx, runID, 0)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	state := Replay(runID, events)

	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.runs[runID]; ok {
		return existing, nil
	}
	h = &runHandle{
		state:    state,
		tenantID: state.Run.TenantID,
	}
	o.runs[runID] = h

	o.logger.Info("run rebuilt from event log",
		zap.String("run_id", runID),
		zap.Int64("sequence", state.LastSequence),
		zap.String("status", string(state.Run.Status)))
	return h, nil
}

// Recover rebuilds a handle for every run the event log knows, typically at
// startup over a persistent store. It returns how many runs were folded.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	ids, err := o.log.Runs(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, runID := range ids {
		if _, err := o.handle(ctx, runID); err != nil {
			return recovered, fmt.Errorf("recover run %s: %w", runID, err)
		}
		recovered++
	}
	return recovered, nil
}

func (o *Orchestrator) deregister(runID string) {
	o.mu.Lock()
	delete(o.runs, runID)
	o.mu.Unlock()
}
