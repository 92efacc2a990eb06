package types

// EnvelopeVersion is the current push envelope version. Consumers reject or
// ignore envelopes carrying an unknown version instead of crashing.
const EnvelopeVersion = 1

// Envelope is the versioned frame delivered over the push channel. Delivery
// over the wire is best-effort; the event log's sequence numbers are the
// de-duplication mechanism, not the transport.
type Envelope struct {
	V     int            `json:"v"`
	Type  string         `json:"type"`
	Topic string         `json:"topic"`
	Ts    int64          `json:"ts"`
	Data  map[string]any `json:"data"`
}

// RunTopic returns the per-run push topic.
func RunTopic(runID string) string {
	return "run:" + runID
}

// TenantTopic returns the per-tenant push topic.
func TenantTopic(tenantID string) string {
	return "tenant:" + tenantID
}

// NewEnvelope wraps an event in a push envelope. Data carries the event
// payload plus run id, sequence and correlation id so a consumer can route
// the frame without a follow-up fetch.
func NewEnvelope(ev *Event) *Envelope {
	data := make(map[string]any, len(ev.Payload)+3)
	for k, v := range ev.Payload {
		data[k] = v
	}
	data["run_id"] = ev.RunID
	data["sequence"] = ev.Sequence
	data["correlation_id"] = ev.CorrelationID

	return &Envelope{
		V:     EnvelopeVersion,
		Type:  string(ev.Type),
		Topic: RunTopic(ev.RunID),
		Ts:    ev.Timestamp.UnixMilli(),
		Data:  data,
	}
}
