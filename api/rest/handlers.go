package rest

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/duke-git/lancet/v2/slice"
	"github.com/gofiber/fiber/v2"

	"oikos/concierge/internal/concierge"
	"oikos/concierge/internal/middleware"
	"oikos/concierge/pkg/types"
)

// healthCheck handles GET /health
func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// readyCheck handles GET /ready
func (s *Server) readyCheck(c *fiber.Ctx) error {
	ready := s.orch != nil
	status := "ready"
	if !ready {
		status = "not_ready"
	}

	return c.JSON(ReadyResponse{
		Ready:     ready,
		Status:    status,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// createRun handles POST /api/v1/runs. Retried creations carrying the same
// idempotency key return the original run with 200; the retry's payload is
// discarded.
func (s *Server) createRun(c *fiber.Ctx) error {
	var req CreateRunRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Error:   "invalid_request",
				Message: "Failed to parse request body: " + err.Error(),
			})
		}
	}

	if key := c.Get("Idempotency-Key"); key != "" {
		req.IdempotencyKey = key
	}

	run, created, err := s.orch.CreateRun(context.Background(), concierge.CreateRunParams{
		TenantID:       middleware.GetCurrentTenantID(c),
		CorrelationID:  req.CorrelationID,
		IdempotencyKey: req.IdempotencyKey,
		Input:          req.Input,
	})
	if err != nil {
		return s.apiError(c, err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(toRunResponse(run))
}

// getRun handles GET /api/v1/runs/:id
func (s *Server) getRun(c *fiber.Ctx) error {
	runID := c.Params("id")
	ctx := context.Background()

	run, err := s.orch.GetRun(ctx, runID)
	if err != nil {
		return s.apiError(c, err)
	}
	commis, err := s.orch.GetCommis(ctx, runID)
	if err != nil {
		return s.apiError(c, err)
	}
	pending, err := s.orch.PendingActivity(ctx, runID)
	if err != nil {
		return s.apiError(c, err)
	}

	return c.JSON(RunDetailResponse{
		Run:             toRunResponse(run),
		Commis:          commis,
		PendingActivity: pending,
	})
}

// listRuns handles GET /api/v1/runs?created_after=<RFC3339>&limit=<n>
func (s *Server) listRuns(c *fiber.Ctx) error {
	opts := concierge.ListOptions{
		TenantID: middleware.GetCurrentTenantID(c),
	}

	if after := c.Query("created_after"); after != "" {
		t, err := time.Parse(time.RFC3339, after)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Error:   "invalid_request",
				Message: "created_after must be RFC3339: " + err.Error(),
			})
		}
		opts.CreatedAfter = t
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Error:   "invalid_request",
				Message: "limit must be a non-negative integer",
			})
		}
		opts.Limit = n
	}

	runs, err := s.orch.ListRuns(context.Background(), opts)
	if err != nil {
		return s.apiError(c, err)
	}

	items := slice.Map(runs, func(_ int, r *types.Run) RunResponse {
		return toRunResponse(r)
	})
	return c.JSON(RunListResponse{Runs: items, Total: len(items)})
}

// getRunEvents handles GET /api/v1/runs/:id/events?after=<sequence>
func (s *Server) getRunEvents(c *fiber.Ctx) error {
	runID := c.Params("id")

	var after int64
	if v := c.Query("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Error:   "invalid_request",
				Message: "after must be a non-negative integer",
			})
		}
		after = n
	}

	events, err := s.orch.Events(context.Background(), runID, after)
	if err != nil {
		return s.apiError(c, err)
	}
	if events == nil {
		events = []*types.Event{}
	}

	return c.JSON(EventListResponse{
		RunID:  runID,
		After:  after,
		Events: events,
	})
}

// dispatchRun handles POST /api/v1/runs/:id/dispatch
func (s *Server) dispatchRun(c *fiber.Ctx) error {
	runID := c.Params("id")

	var req DispatchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "Failed to parse request body: " + err.Error(),
		})
	}

	commis, err := s.orch.FanOut(context.Background(), runID, req.Specs, nil)
	if err != nil {
		return s.apiError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(DispatchResponse{
		RunID:  runID,
		Commis: commis,
	})
}

// reportCommisResult handles POST /api/v1/runs/:id/commis/:cid/result, the
// worker callback. Reporting an already-terminal commis is a no-op success.
func (s *Server) reportCommisResult(c *fiber.Ctx) error {
	runID := c.Params("id")
	commisID := c.Params("cid")

	var req CommisResultRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Error:   "invalid_request",
				Message: "Failed to parse request body: " + err.Error(),
			})
		}
	}

	if err := s.orch.ReportCommisResult(context.Background(), runID, commisID, req.Result, req.Error); err != nil {
		return s.apiError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// completeRun handles POST /api/v1/runs/:id/complete
func (s *Server) completeRun(c *fiber.Ctx) error {
	runID := c.Params("id")

	var req CompleteRunRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
				Error:   "invalid_request",
				Message: "Failed to parse request body: " + err.Error(),
			})
		}
	}

	run, err := s.orch.CompleteRun(context.Background(), runID, req.Result, req.Error)
	if err != nil {
		return s.apiError(c, err)
	}
	return c.JSON(toRunResponse(run))
}

// appendStream handles POST /api/v1/runs/:id/stream
func (s *Server) appendStream(c *fiber.Ctx) error {
	runID := c.Params("id")

	var req StreamEventRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "Failed to parse request body: " + err.Error(),
		})
	}

	ev, err := s.orch.AppendStream(context.Background(), runID, types.EventType(req.Type), req.Data)
	if err != nil {
		return s.apiError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(AppendedResponse{
		RunID:    runID,
		Sequence: ev.Sequence,
		Type:     string(ev.Type),
	})
}

// appendActivity handles POST /api/v1/runs/:id/activity. Activity may
// reference a commis no event has established yet; it is buffered, never
// rejected.
func (s *Server) appendActivity(c *fiber.Ctx) error {
	runID := c.Params("id")

	var req ActivityRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "Failed to parse request body: " + err.Error(),
		})
	}
	if req.CommisID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: "commis_id is required",
		})
	}

	payload := make(map[string]any, len(req.Data)+1)
	for k, v := range req.Data {
		payload[k] = v
	}
	payload[types.PayloadKeyCommisID] = req.CommisID

	ev, err := s.orch.AppendActivity(context.Background(), runID, payload)
	if err != nil {
		return s.apiError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(AppendedResponse{
		RunID:    runID,
		Sequence: ev.Sequence,
		Type:     string(ev.Type),
	})
}

// apiError maps orchestrator errors onto HTTP statuses.
func (s *Server) apiError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, concierge.ErrRunNotFound), errors.Is(err, concierge.ErrCommisNotFound):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error:   "not_found",
			Message: err.Error(),
		})
	case errors.Is(err, concierge.ErrRunBusy):
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
			Error:   "run_busy",
			Message: err.Error(),
		})
	case errors.Is(err, concierge.ErrNoWork):
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
	}
}

func toRunResponse(run *types.Run) RunResponse {
	resp := RunResponse{
		ID:             run.ID,
		Status:         string(run.Status),
		CorrelationID:  run.CorrelationID,
		IdempotencyKey: run.IdempotencyKey,
		TenantID:       run.TenantID,
		Input:          run.Input,
		Result:         run.Result,
		Error:          run.Error,
		CreatedAt:      run.CreatedAt.Format(time.RFC3339Nano),
	}
	if !run.UpdatedAt.IsZero() {
		resp.UpdatedAt = run.UpdatedAt.Format(time.RFC3339Nano)
	}
	return resp
}
