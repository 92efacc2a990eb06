package concierge

import "errors"

var (
	// ErrRunNotFound indicates the run id is unknown to this orchestrator.
	ErrRunNotFound = errors.New("concierge: run not found")

	// ErrRunBusy indicates an operation was attempted against a run that is
	// not in an acceptable state for it, e.g. a new fan-out while the run is
	// already waiting. The call is rejected, never queued or dropped.
	ErrRunBusy = errors.New("concierge: run busy")

	// ErrCommisNotFound indicates a commis result referenced a commis id the
	// run never spawned.
	ErrCommisNotFound = errors.New("concierge: commis not found")

	// ErrNoWork indicates a fan-out with an empty spec list.
	ErrNoWork = errors.New("concierge: fan-out requires at least one work spec")
)
