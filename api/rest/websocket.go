package rest

import (
	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"oikos/concierge/internal/middleware"
	"oikos/concierge/pkg/types"
)

// setupWebSocketRoutes sets up the push channel. One connection serves one
// tenant session; an optional run query parameter narrows it to a single
// run topic. Delivery over the wire is best-effort: after any disconnect
// the consumer reconnects and reconciles against the event log via poll,
// de-duplicating by sequence number.
func (s *Server) setupWebSocketRoutes() {
	s.app.Use("/api/v1/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	s.app.Get("/api/v1/ws", websocket.New(func(conn *websocket.Conn) {
		s.handlePush(conn)
	}))
}

// handlePush streams envelopes for one connection until it closes.
func (s *Server) handlePush(conn *websocket.Conn) {
	defer conn.Close()

	topic := ""
	if runID := conn.Query("run"); runID != "" {
		topic = types.RunTopic(runID)
	} else if tenantID, ok := conn.Locals(middleware.TenantIDContextKey).(string); ok && tenantID != "" {
		topic = types.TenantTopic(tenantID)
	}

	if topic == "" {
		frame, _ := sonic.Marshal(ErrorResponse{
			Error:   "invalid_request",
			Message: "a tenant header or run query parameter is required",
		})
		_ = conn.WriteMessage(websocket.TextMessage, frame)
		return
	}

	sub := s.bus.Subscribe(topic, s.config.PushBufferSize)
	defer sub.Close()

	s.logger.Debug("push subscriber connected", zap.String("topic", topic))

	// Reader goroutine: the client sends nothing meaningful, but reading is
	// what surfaces close and ping/pong.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case env, ok := <-sub.C:
			if !ok {
				return
			}
			frame, err := sonic.Marshal(env)
			if err != nil {
				s.logger.Error("marshal push envelope", zap.Error(err))
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}
}
