package types

import (
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelopeCarriesEveryField(t *testing.T) {
	ev := &Event{
		RunID:         "run-1",
		Sequence:      7,
		Type:          EventCommisComplete,
		Payload:       map[string]any{PayloadKeyCommisID: "c-1", PayloadKeyResult: map[string]any{"ok": true}},
		Timestamp:     time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
		CorrelationID: "corr-1",
	}

	env := NewEnvelope(ev)

	assert.Equal(t, EnvelopeVersion, env.V)
	assert.Equal(t, "commis_complete", env.Type)
	assert.Equal(t, "run:run-1", env.Topic)
	assert.Equal(t, ev.Timestamp.UnixMilli(), env.Ts)
	assert.Equal(t, "run-1", env.Data["run_id"])
	assert.Equal(t, int64(7), env.Data["sequence"])
	assert.Equal(t, "corr-1", env.Data["correlation_id"])
	assert.Equal(t, "c-1", env.Data[PayloadKeyCommisID])
}

func TestNewEnvelopeDoesNotMutateEventPayload(t *testing.T) {
	ev := &Event{
		RunID:   "run-1",
		Type:    EventStreamChunk,
		Payload: map[string]any{"text": "hi"},
	}

	_ = NewEnvelope(ev)

	assert.Equal(t, map[string]any{"text": "hi"}, ev.Payload)
}

func TestEnvelopeWireShape(t *testing.T) {
	env := NewEnvelope(&Event{
		RunID:         "run-1",
		Sequence:      1,
		Type:          EventRunStarted,
		Timestamp:     time.Now().UTC(),
		CorrelationID: "corr-1",
	})

	raw, err := sonic.Marshal(env)
	require.NoError(t, err)

	var frame map[string]any
	require.NoError(t, sonic.Unmarshal(raw, &frame))

	// Every envelope field must be present and non-null on the wire.
	for _, key := range []string{"v", "type", "topic", "ts", "data"} {
		assert.Contains(t, frame, key)
		assert.NotNil(t, frame[key], "field %s must not be null", key)
	}
	assert.Equal(t, float64(EnvelopeVersion), frame["v"])
}

func TestTopicNames(t *testing.T) {
	assert.Equal(t, "run:abc", RunTopic("abc"))
	assert.Equal(t, "tenant:t-1", TenantTopic("t-1"))
}
