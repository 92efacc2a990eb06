package concierge

import (
	"context"
	"fmt"

	"github.com/duke-git/lancet/v2/slice"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"oikos/concierge/pkg/types"
)

// FanOut spawns one commis per work spec and parks the run at the barrier.
// Every commis is recorded as its own commis_spawned event before the
// run_waiting event; completions are only accepted once the run is waiting,
// which is what enforces spawn-before-complete ordering. The commis
// themselves are opaque external workers whose single obligation is to
// report a result or error exactly once via ReportCommisResult.
//
// cont is invoked when the barrier releases; nil selects
// DefaultContinuation.
func (o *Orchestrator) FanOut(ctx context.Context, runID string, specs []types.WorkSpec, cont Continuation) ([]*types.Commis, error) {
	if len(specs) == 0 {
		return nil, ErrNoWork
	}

	h, err := o.handle(ctx, runID)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state.Run.Status != types.RunStatusRunning {
		return nil, fmt.Errorf("%w: run %s is %s, fan-out requires running", ErrRunBusy, runID, h.state.Run.Status)
	}

	correlationID := h.state.Run.CorrelationID
	for i, spec := range specs {
		payload := map[string]any{
			types.PayloadKeyCommisID: uuid.NewString(),
			types.PayloadKeyName:     spec.Name,
			types.PayloadKeyIndex:    i,
		}
		if spec.Input != nil {
			payload[types.PayloadKeyInput] = spec.Input
		}

		ev, err := o.log.Append(ctx, runID, types.EventCommisSpawned, payload, correlationID)
		if err != nil {
			return nil, fmt.Errorf("spawn commis %d/%d: %w", i+1, len(specs), err)
		}
		h.state.Apply(ev)
	}

	ev, err := o.log.Append(ctx, runID, types.EventRunWaiting,
		map[string]any{types.PayloadKeySpawned: len(specs)}, correlationID)
	if err != nil {
		return nil, err
	}
	h.state.Apply(ev)
	h.cont = cont

	o.logger.Info("run fanned out",
		zap.String("run_id", runID),
		zap.Int("commis", len(specs)))

	return h.state.CommisSnapshot(), nil
}

// ReportCommisResult records a commis outcome and releases the barrier when
// the terminal count reaches the spawn count. Duplicate reports for an
// already-terminal commis are idempotent no-ops: they never double-count
// toward the barrier and never re-trigger a resume. A commis failure is
// recorded as data and counted toward the barrier; it does not abort
// sibling commis.
func (o *Orchestrator) ReportCommisResult(ctx context.Context, runID, commisID string, result map[string]any, commisErr string) error {
	h, err := o.handle(ctx, runID)
	if err != nil {
		return err
	}
	h.mu.Lock()

	c := h.state.Lookup(commisID)
	if c == nil {
		h.mu.Unlock()
		return fmt.Errorf("%w: %s in run %s", ErrCommisNotFound, commisID, runID)
	}
	if c.Status.Terminal() {
		h.mu.Unlock()
		return nil
	}
	if h.state.Run.Status != types.RunStatusWaiting {
		h.mu.Unlock()
		return fmt.Errorf("%w: run %s is %s, results require waiting", ErrRunBusy, runID, h.state.Run.Status)
	}

	eventType := types.EventCommisComplete
	payload := map[string]any{types.PayloadKeyCommisID: commisID}
	if commisErr != "" {
		eventType = types.EventCommisFailed
		payload[types.PayloadKeyError] = commisErr
	} else if result != nil {
		payload[types.PayloadKeyResult] = result
	}

	ev, err := o.log.Append(ctx, runID, eventType, payload, h.state.Run.CorrelationID)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	h.state.Apply(ev)

	if !h.state.BarrierReached() {
		h.mu.Unlock()
		return nil
	}

	// Barrier release: exactly one run_resumed, recorded before the
	// continuation begins. The waiting check above plus the handle lock
	// make a second release impossible.
	resumed, err := o.log.Append(ctx, runID, types.EventRunResumed,
		map[string]any{"completed": len(h.state.Commis)}, h.state.Run.CorrelationID)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	h.state.Apply(resumed)

	results := h.state.Results()
	cont := h.cont
	h.cont = nil
	h.mu.Unlock()

	o.logger.Info("barrier released",
		zap.String("run_id", runID),
		zap.Int("commis", len(results)))

	go o.resume(runID, cont, results)
	return nil
}

// resume re-enters the run's continuation with the spawn-ordered results
// and records the run's terminal event.
func (o *Orchestrator) resume(runID string, cont Continuation, results []types.CommisResult) {
	if cont == nil {
		cont = DefaultContinuation
	}

	ctx := context.Background()
	result, err := cont(ctx, results)

	h, herr := o.handle(ctx, runID)
	if herr != nil {
		o.logger.Error("continuation finished for unknown run", zap.String("run_id", runID))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	// A watchdog may have force-failed the run while the continuation ran.
	if h.state.Run.Status.Terminal() {
		return
	}

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	if ferr := o.finish(ctx, h, runID, result, errMsg); ferr != nil {
		o.logger.Error("record run terminal state",
			zap.String("run_id", runID),
			zap.Error(ferr))
	}
}

// DefaultContinuation fails the run when any commis failed, otherwise
// succeeds with the spawn-ordered outputs.
func DefaultContinuation(ctx context.Context, results []types.CommisResult) (map[string]any, error) {
	failed := slice.Filter(results, func(_ int, r types.CommisResult) bool {
		return r.Status == types.CommisStatusFailed
	})
	if len(failed) > 0 {
		names := slice.Map(failed, func(_ int, r types.CommisResult) string {
			return r.Name
		})
		return nil, fmt.Errorf("%d of %d commis failed: %v", len(failed), len(results), names)
	}

	outputs := slice.Map(results, func(_ int, r types.CommisResult) map[string]any {
		return r.Result
	})
	return map[string]any{"results": outputs}, nil
}
