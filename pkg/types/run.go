package types

import "time"

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	// RunStatusPending indicates the run exists but no event has been recorded yet.
	RunStatusPending RunStatus = "pending"
	// RunStatusRunning indicates the run's continuation is executing.
	RunStatusRunning RunStatus = "running"
	// RunStatusWaiting indicates the run fanned out and is blocked on the barrier.
	RunStatusWaiting RunStatus = "waiting"
	// RunStatusResumed indicates the barrier released and the continuation re-entered.
	RunStatusResumed RunStatus = "resumed"
	// RunStatusSuccess indicates the run finished successfully. Terminal.
	RunStatusSuccess RunStatus = "success"
	// RunStatusFailed indicates the run finished with an error. Terminal.
	RunStatusFailed RunStatus = "failed"
)

// Terminal reports whether the status is a terminal one.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed
}

// Run is one orchestrated unit of work. A run is mutated only by replaying
// events; once a terminal event is recorded it is immutable.
type Run struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id,omitempty"`
	Status         RunStatus      `json:"status"`
	CorrelationID  string         `json:"correlation_id"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Input          map[string]any `json:"input,omitempty"`
	Result         map[string]any `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Clone returns a shallow copy safe to hand to readers.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
