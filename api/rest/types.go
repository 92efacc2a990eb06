// Package rest provides the REST and WebSocket API server for the concierge
// run orchestrator.
package rest

import (
	"oikos/concierge/pkg/types"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadyResponse represents a readiness check response.
type ReadyResponse struct {
	Ready     bool   `json:"ready"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// CreateRunRequest represents a run creation request. The idempotency key
// may come from the Idempotency-Key header or the body field; the header
// wins.
type CreateRunRequest struct {
	CorrelationID  string         `json:"correlation_id,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Input          map[string]any `json:"input,omitempty"`
}

// RunResponse represents a run resource.
type RunResponse struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	CorrelationID  string         `json:"correlation_id"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	TenantID       string         `json:"tenant_id,omitempty"`
	Input          map[string]any `json:"input,omitempty"`
	Result         map[string]any `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at,omitempty"`
}

// RunListResponse represents a run list.
type RunListResponse struct {
	Runs  []RunResponse `json:"runs"`
	Total int           `json:"total"`
}

// RunDetailResponse represents a run with its commis set and any activity
// still waiting for its owning commis to be established.
type RunDetailResponse struct {
	Run             RunResponse                 `json:"run"`
	Commis          []*types.Commis             `json:"commis"`
	PendingActivity map[string][]map[string]any `json:"pending_activity,omitempty"`
}

// EventListResponse represents an ordered event page.
type EventListResponse struct {
	RunID  string         `json:"run_id"`
	After  int64          `json:"after"`
	Events []*types.Event `json:"events"`
}

// DispatchRequest represents a fan-out request.
type DispatchRequest struct {
	Specs []types.WorkSpec `json:"specs"`
}

// DispatchResponse represents the spawned commis set.
type DispatchResponse struct {
	RunID  string          `json:"run_id"`
	Commis []*types.Commis `json:"commis"`
}

// CommisResultRequest is the worker callback body reporting one commis
// outcome.
type CommisResultRequest struct {
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// CompleteRunRequest finishes a run that did not fan out.
type CompleteRunRequest struct {
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// StreamEventRequest appends one streamed-output event.
type StreamEventRequest struct {
	Type string         `json:"type"` // stream_start, stream_chunk, stream_end
	Data map[string]any `json:"data,omitempty"`
}

// ActivityRequest appends commis tool/progress activity.
type ActivityRequest struct {
	CommisID string         `json:"commis_id"`
	Data     map[string]any `json:"data,omitempty"`
}

// AppendedResponse acknowledges an appended event.
type AppendedResponse struct {
	RunID    string `json:"run_id"`
	Sequence int64  `json:"sequence"`
	Type     string `json:"type"`
}
