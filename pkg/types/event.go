package types

import "time"

// EventType identifies one kind of fact in a run's event log.
type EventType string

const (
	// EventRunStarted records that a run entered the running state.
	EventRunStarted EventType = "run_started"
	// EventRunWaiting records that a run fanned out and is blocked on its commis.
	EventRunWaiting EventType = "run_waiting"
	// EventRunResumed records the barrier release; appended exactly once per fan-out.
	EventRunResumed EventType = "run_resumed"
	// EventRunSuccess records a terminal successful run.
	EventRunSuccess EventType = "run_success"
	// EventRunFailed records a terminal failed run.
	EventRunFailed EventType = "run_failed"

	// EventCommisSpawned records one fanned-out commis, in spawn order.
	EventCommisSpawned EventType = "commis_spawned"
	// EventCommisComplete records a commis finishing successfully.
	EventCommisComplete EventType = "commis_complete"
	// EventCommisFailed records a commis finishing with an error.
	EventCommisFailed EventType = "commis_failed"
	// EventCommisActivity records tool/progress activity attributed to a commis.
	// Activity may arrive before the commis_spawned event that establishes the
	// commis; consumers buffer it provisionally instead of dropping it.
	EventCommisActivity EventType = "commis_activity"

	// EventStreamStart, EventStreamChunk and EventStreamEnd carry the
	// concierge's streamed output. They never change run status.
	EventStreamStart EventType = "stream_start"
	EventStreamChunk EventType = "stream_chunk"
	EventStreamEnd   EventType = "stream_end"
)

// Event is an immutable fact appended to a run's log. The full state of a
// run and its commis set is a pure function of its event sequence.
type Event struct {
	RunID         string         `json:"run_id"`
	Sequence      int64          `json:"sequence"`
	Type          EventType      `json:"event_type"`
	Payload       map[string]any `json:"payload,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id"`
}

// Payload keys shared between producers and the projection.
const (
	PayloadKeyCommisID = "commis_id"
	PayloadKeyName     = "name"
	PayloadKeyIndex    = "index"
	PayloadKeyInput    = "input"
	PayloadKeyResult   = "result"
	PayloadKeyError    = "error"
	PayloadKeySpawned  = "spawned"
)

// CommisID extracts the commis id from an event payload, if present.
func (e *Event) CommisID() string {
	if e.Payload == nil {
		return ""
	}
	id, _ := e.Payload[PayloadKeyCommisID].(string)
	return id
}
