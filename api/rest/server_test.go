package rest

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"oikos/concierge/internal/bus"
	"oikos/concierge/internal/concierge"
	"oikos/concierge/internal/eventlog"
	"oikos/concierge/internal/idempotency"
	"oikos/concierge/internal/retry"
)

func newTestServer() *Server {
	log := eventlog.New(eventlog.NewMemoryStore(), retry.DefaultPolicy(), zap.NewNop())
	b := bus.New(zap.NewNop())
	orch := concierge.New(log, idempotency.NewMemoryRegistry(), b, zap.NewNop())
	return NewServer(orch, b, DefaultConfig(), zap.NewNop())
}

func doJSON(t *testing.T, s *Server, method, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := sonic.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.App().Test(req, 5000)
	require.NoError(t, err)

	var decoded map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, sonic.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

func createTestRun(t *testing.T, s *Server, headers map[string]string) string {
	t.Helper()
	resp, body := doJSON(t, s, http.MethodPost, "/api/v1/runs",
		map[string]any{"input": map[string]any{"q": "test"}}, headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return body["id"].(string)
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer()

	resp, body := doJSON(t, s, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	resp, body = doJSON(t, s, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ready"])
}

func TestCreateRunReturnsCreated(t *testing.T) {
	s := newTestServer()

	resp, body := doJSON(t, s, http.MethodPost, "/api/v1/runs", map[string]any{
		"input": map[string]any{"city": "lyon"},
	}, nil)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, body["id"])
	assert.Equal(t, "running", body["status"])
	assert.NotEmpty(t, body["correlation_id"])
}

func TestCreateRunIdempotencyKeyHeaderReplays(t *testing.T) {
	s := newTestServer()
	headers := map[string]string{"Idempotency-Key": "order-7"}

	first, firstBody := doJSON(t, s, http.MethodPost, "/api/v1/runs",
		map[string]any{"input": map[string]any{"n": 1}}, headers)
	require.Equal(t, http.StatusCreated, first.StatusCode)

	// The retry gets 200 and the original run, new payload discarded.
	second, secondBody := doJSON(t, s, http.MethodPost, "/api/v1/runs",
		map[string]any{"input": map[string]any{"n": 2}}, headers)
	assert.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, firstBody["id"], secondBody["id"])
	assert.Equal(t, map[string]any{"n": float64(1)}, secondBody["input"])
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestServer()

	resp, body := doJSON(t, s, http.MethodGet, "/api/v1/runs/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["error"])
}

func TestDispatchAndResultLifecycle(t *testing.T) {
	s := newTestServer()
	runID := createTestRun(t, s, nil)

	resp, body := doJSON(t, s, http.MethodPost, "/api/v1/runs/"+runID+"/dispatch", map[string]any{
		"specs": []map[string]any{
			{"name": "flights"},
			{"name": "hotel"},
		},
	}, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	commis := body["commis"].([]any)
	require.Len(t, commis, 2)

	// Fan-out while waiting conflicts.
	resp, body = doJSON(t, s, http.MethodPost, "/api/v1/runs/"+runID+"/dispatch", map[string]any{
		"specs": []map[string]any{{"name": "extra"}},
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "run_busy", body["error"])

	for _, raw := range commis {
		id := raw.(map[string]any)["id"].(string)
		resp, _ := doJSON(t, s, http.MethodPost,
			"/api/v1/runs/"+runID+"/commis/"+id+"/result",
			map[string]any{"result": map[string]any{"ok": true}}, nil)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	}

	// Duplicate worker callback is a no-op success.
	firstID := commis[0].(map[string]any)["id"].(string)
	resp, _ = doJSON(t, s, http.MethodPost,
		"/api/v1/runs/"+runID+"/commis/"+firstID+"/result",
		map[string]any{"result": map[string]any{"ok": false}}, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.Eventually(t, func() bool {
		_, detail := doJSON(t, s, http.MethodGet, "/api/v1/runs/"+runID, nil, nil)
		run := detail["run"].(map[string]any)
		return run["status"] == "success"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatchWithoutSpecsIsBadRequest(t *testing.T) {
	s := newTestServer()
	runID := createTestRun(t, s, nil)

	resp, body := doJSON(t, s, http.MethodPost, "/api/v1/runs/"+runID+"/dispatch",
		map[string]any{"specs": []map[string]any{}}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", body["error"])
}

func TestResultForUnknownCommisIs404(t *testing.T) {
	s := newTestServer()
	runID := createTestRun(t, s, nil)

	resp, body := doJSON(t, s, http.MethodPost,
		"/api/v1/runs/"+runID+"/commis/ghost/result",
		map[string]any{"result": map[string]any{}}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["error"])
}

func TestEventsWatermarkPolling(t *testing.T) {
	s := newTestServer()
	runID := createTestRun(t, s, nil)

	for i := 0; i < 3; i++ {
		resp, _ := doJSON(t, s, http.MethodPost, "/api/v1/runs/"+runID+"/stream",
			map[string]any{"type": "stream_chunk", "data": map[string]any{"i": i}}, nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	// run_started + 3 chunks.
	resp, body := doJSON(t, s, http.MethodGet, "/api/v1/runs/"+runID+"/events", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["events"].([]any), 4)

	// Resuming from a watermark returns only the suffix.
	resp, body = doJSON(t, s, http.MethodGet, "/api/v1/runs/"+runID+"/events?after=2", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := body["events"].([]any)
	require.Len(t, events, 2)
	assert.Equal(t, float64(3), events[0].(map[string]any)["sequence"])

	// A bad watermark is rejected.
	resp, _ = doJSON(t, s, http.MethodGet, "/api/v1/runs/"+runID+"/events?after=x", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCompleteRun(t *testing.T) {
	s := newTestServer()
	runID := createTestRun(t, s, nil)

	resp, body := doJSON(t, s, http.MethodPost, "/api/v1/runs/"+runID+"/complete",
		map[string]any{"result": map[string]any{"answer": 42}}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body["status"])

	// Completing a terminal run conflicts.
	resp, body = doJSON(t, s, http.MethodPost, "/api/v1/runs/"+runID+"/complete", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "run_busy", body["error"])
}

func TestActivityRequiresCommisID(t *testing.T) {
	s := newTestServer()
	runID := createTestRun(t, s, nil)

	resp, body := doJSON(t, s, http.MethodPost, "/api/v1/runs/"+runID+"/activity",
		map[string]any{"data": map[string]any{"tool": "lookup"}}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", body["error"])

	resp, _ = doJSON(t, s, http.MethodPost, "/api/v1/runs/"+runID+"/activity",
		map[string]any{"commis_id": "c-future", "data": map[string]any{"tool": "lookup"}}, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// The orphaned activity is visible on the run detail.
	_, detail := doJSON(t, s, http.MethodGet, "/api/v1/runs/"+runID, nil, nil)
	pending := detail["pending_activity"].(map[string]any)
	assert.Contains(t, pending, "c-future")
}

func TestListRunsScopedByTenant(t *testing.T) {
	s := newTestServer()

	createTestRun(t, s, map[string]string{"X-Tenant-ID": "tenant-a"})
	createTestRun(t, s, map[string]string{"X-Tenant-ID": "tenant-b"})

	resp, body := doJSON(t, s, http.MethodGet, "/api/v1/runs", nil,
		map[string]string{"X-Tenant-ID": "tenant-a"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["total"])

	// No tenant header lists everything.
	resp, body = doJSON(t, s, http.MethodGet, "/api/v1/runs", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["total"])
}
