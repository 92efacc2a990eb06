package concierge

import (
	"oikos/concierge/pkg/types"
)

// RunState is the read-side projection of one run's event log. It is a pure
// left-fold: Replay over the same event sequence always yields the same
// state, independent of any transport. Duplicate events are no-ops, never
// panics; the fold must survive anything a replayed log can contain.
type RunState struct {
	Run    *types.Run
	Commis []*types.Commis

	// Orphans buffers commis_activity payloads whose commis id no event has
	// established yet. They are provisional, reconciled on commis_spawned,
	// and never dropped.
	Orphans map[string][]map[string]any

	// LastSequence is the highest sequence folded in.
	LastSequence int64

	index map[string]*types.Commis
}

// NewRunState returns the empty (pending) state for a run.
func NewRunState(runID string) *RunState {
	return &RunState{
		Run: &types.Run{
			ID:     runID,
			Status: types.RunStatusPending,
		},
		Orphans: make(map[string][]map[string]any),
		index:   make(map[string]*types.Commis),
	}
}

// Replay folds an event sequence into a fresh RunState.
func Replay(runID string, events []*types.Event) *RunState {
	state := NewRunState(runID)
	for _, ev := range events {
		state.Apply(ev)
	}
	return state
}

// Apply folds one event into the state.
func (s *RunState) Apply(ev *types.Event) {
	switch ev.Type {
	case types.EventRunStarted:
		s.applyStarted(ev)
	case types.EventCommisSpawned:
		s.applySpawned(ev)
	case types.EventRunWaiting:
		if !s.Run.Status.Terminal() {
			s.Run.Status = types.RunStatusWaiting
		}
	case types.EventCommisComplete:
		s.applyCommisDone(ev, types.CommisStatusComplete)
	case types.EventCommisFailed:
		s.applyCommisDone(ev, types.CommisStatusFailed)
	case types.EventRunResumed:
		if s.Run.Status == types.RunStatusWaiting {
			s.Run.Status = types.RunStatusResumed
		}
	case types.EventRunSuccess:
		if !s.Run.Status.Terminal() {
			s.Run.Status = types.RunStatusSuccess
			s.Run.Result, _ = ev.Payload[types.PayloadKeyResult].(map[string]any)
		}
	case types.EventRunFailed:
		if !s.Run.Status.Terminal() {
			s.Run.Status = types.RunStatusFailed
			s.Run.Error, _ = ev.Payload[types.PayloadKeyError].(string)
		}
	case types.EventCommisActivity:
		s.applyActivity(ev)
	case types.EventStreamStart, types.EventStreamChunk, types.EventStreamEnd:
		// Streamed output is delivered, not folded into run status.
	}

	if ev.Sequence > s.LastSequence {
		s.LastSequence = ev.Sequence
	}
	s.Run.UpdatedAt = ev.Timestamp
}

func (s *RunState) applyStarted(ev *types.Event) {
	if s.Run.Status != types.RunStatusPending {
		return
	}
	s.Run.Status = types.RunStatusRunning
	s.Run.CorrelationID = ev.CorrelationID
	s.Run.CreatedAt = ev.Timestamp
	s.Run.Input, _ = ev.Payload[types.PayloadKeyInput].(map[string]any)
	s.Run.IdempotencyKey, _ = ev.Payload["idempotency_key"].(string)
	s.Run.TenantID, _ = ev.Payload["tenant_id"].(string)
}

func (s *RunState) applySpawned(ev *types.Event) {
	id := ev.CommisID()
	if id == "" {
		return
	}
	if _, ok := s.index[id]; ok {
		// Duplicate canonical event: no-op.
		return
	}

	name, _ := ev.Payload[types.PayloadKeyName].(string)
	input, _ := ev.Payload[types.PayloadKeyInput].(map[string]any)

	c := &types.Commis{
		ID:        id,
		RunID:     s.Run.ID,
		Name:      name,
		Index:     len(s.Commis),
		Status:    types.CommisStatusSpawned,
		Input:     input,
		SpawnedAt: ev.Timestamp,
	}

	// Reconcile activity that arrived before this canonical event.
	if pending, ok := s.Orphans[id]; ok {
		c.Activity = append(c.Activity, pending...)
		delete(s.Orphans, id)
	}

	s.Commis = append(s.Commis, c)
	s.index[id] = c
}

func (s *RunState) applyCommisDone(ev *types.Event, status types.CommisStatus) {
	c, ok := s.index[ev.CommisID()]
	if !ok || c.Status.Terminal() {
		return
	}
	c.Status = status
	if status == types.CommisStatusComplete {
		c.Result, _ = ev.Payload[types.PayloadKeyResult].(map[string]any)
	} else {
		c.Error, _ = ev.Payload[types.PayloadKeyError].(string)
	}
	done := ev.Timestamp
	c.DoneAt = &done
}

func (s *RunState) applyActivity(ev *types.Event) {
	id := ev.CommisID()
	if id == "" {
		return
	}
	if c, ok := s.index[id]; ok {
		c.Activity = append(c.Activity, ev.Payload)
		return
	}
	// The owning commis is not established yet: buffer provisionally.
	s.Orphans[id] = append(s.Orphans[id], ev.Payload)
}

// Lookup returns the commis with the given id, nil when unknown.
func (s *RunState) Lookup(commisID string) *types.Commis {
	return s.index[commisID]
}

// TerminalCommis counts commis in a terminal state.
func (s *RunState) TerminalCommis() int {
	n := 0
	for _, c := range s.Commis {
		if c.Status.Terminal() {
			n++
		}
	}
	return n
}

// BarrierReached reports whether every spawned commis reached a terminal
// state. A run with no commis has no barrier.
func (s *RunState) BarrierReached() bool {
	return len(s.Commis) > 0 && s.TerminalCommis() == len(s.Commis)
}

// Results snapshots the commis outcomes in spawn order, the shape handed to
// the run continuation.
func (s *RunState) Results() []types.CommisResult {
	out := make([]types.CommisResult, len(s.Commis))
	for i, c := range s.Commis {
		out[i] = types.CommisResult{
			CommisID: c.ID,
			Name:     c.Name,
			Status:   c.Status,
			Result:   c.Result,
			Error:    c.Error,
		}
	}
	return out
}

// CommisSnapshot clones the commis set for readers.
func (s *RunState) CommisSnapshot() []*types.Commis {
	out := make([]*types.Commis, len(s.Commis))
	for i, c := range s.Commis {
		out[i] = c.Clone()
	}
	return out
}
