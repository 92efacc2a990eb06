package types

import "time"

// CommisStatus represents the lifecycle state of a fanned-out commis.
type CommisStatus string

const (
	// CommisStatusSpawned indicates the commis was dispatched and is executing.
	CommisStatusSpawned CommisStatus = "spawned"
	// CommisStatusComplete indicates the commis reported a result. Terminal.
	CommisStatusComplete CommisStatus = "complete"
	// CommisStatusFailed indicates the commis reported an error. Terminal.
	CommisStatusFailed CommisStatus = "failed"
)

// Terminal reports whether the status is a terminal one.
func (s CommisStatus) Terminal() bool {
	return s == CommisStatusComplete || s == CommisStatusFailed
}

// WorkSpec describes one unit of fanned-out work.
type WorkSpec struct {
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}

// Commis is one unit of fanned-out work belonging to a run. It is executed
// by an opaque external worker whose only contract is to report a result or
// an error exactly once.
type Commis struct {
	ID       string         `json:"id"`
	RunID    string         `json:"run_id"`
	Name     string         `json:"name"`
	Index    int            `json:"index"`
	Status   CommisStatus   `json:"status"`
	Input    map[string]any `json:"input,omitempty"`
	Result   map[string]any `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
	Activity []map[string]any `json:"activity,omitempty"`

	SpawnedAt time.Time  `json:"spawned_at"`
	DoneAt    *time.Time `json:"done_at,omitempty"`
}

// Clone returns a shallow copy safe to hand to readers.
func (c *Commis) Clone() *Commis {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// CommisResult is the completion view of one commis handed to the run
// continuation, ordered by spawn order.
type CommisResult struct {
	CommisID string         `json:"commis_id"`
	Name     string         `json:"name"`
	Status   CommisStatus   `json:"status"`
	Result   map[string]any `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}
