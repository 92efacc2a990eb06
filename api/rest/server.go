package rest

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"oikos/concierge/internal/bus"
	"oikos/concierge/internal/concierge"
	"oikos/concierge/internal/middleware"
)

// Config holds the configuration for the API server.
type Config struct {
	// Address is the address to listen on (e.g., ":8080").
	Address string `yaml:"address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// EnableCORS enables Cross-Origin Resource Sharing.
	EnableCORS bool `yaml:"enable_cors"`

	// PushBufferSize is the per-subscription push frame buffer.
	PushBufferSize int `yaml:"push_buffer_size"`
}

// DefaultConfig returns a default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:        ":8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		EnableCORS:     true,
		PushBufferSize: 64,
	}
}

// Server exposes the orchestrator over REST poll and WebSocket push. Both
// consumption modes read the same event log, so a consumer reconstructs
// identical state regardless of channel.
type Server struct {
	app    *fiber.App
	orch   *concierge.Orchestrator
	bus    *bus.Bus
	config *Config
	logger *zap.Logger
}

// NewServer creates the API server.
func NewServer(orch *concierge.Orchestrator, b *bus.Bus, config *Config, logger *zap.Logger) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		ErrorHandler: customErrorHandler,
		AppName:      "Concierge Orchestrator API",
	})

	server := &Server{
		app:    app,
		orch:   orch,
		bus:    b,
		config: config,
		logger: logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.app.Use(fiberrecover.New(fiberrecover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(fiberlogger.New(fiberlogger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	if s.config.EnableCORS {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins:     "*",
			AllowMethods:     "GET,POST,PUT,DELETE,PATCH,OPTIONS",
			AllowHeaders:     "Origin,Content-Type,Accept,Authorization,Idempotency-Key," + middleware.TenantIDHeader,
			AllowCredentials: false,
			MaxAge:           86400,
		}))
	}

	s.app.Use(middleware.TenantMiddleware())
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes() {
	s.app.Get("/health", s.healthCheck)
	s.app.Get("/ready", s.readyCheck)

	api := s.app.Group("/api/v1")

	// Run routes
	api.Post("/runs", s.createRun)
	api.Get("/runs", s.listRuns)
	api.Get("/runs/:id", s.getRun)
	api.Get("/runs/:id/events", s.getRunEvents)
	api.Post("/runs/:id/dispatch", s.dispatchRun)
	api.Post("/runs/:id/complete", s.completeRun)
	api.Post("/runs/:id/stream", s.appendStream)
	api.Post("/runs/:id/activity", s.appendActivity)

	// Worker callback route
	api.Post("/runs/:id/commis/:cid/result", s.reportCommisResult)

	// WebSocket push channel
	s.setupWebSocketRoutes()
}

// Start starts the API server.
func (s *Server) Start() error {
	return s.app.Listen(s.config.Address)
}

// StartWithContext starts the API server with context support.
func (s *Server) StartWithContext(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.app.Listen(s.config.Address)
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// customErrorHandler handles errors returned by handlers.
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error:   fmt.Sprintf("error_%d", code),
		Message: message,
	})
}
