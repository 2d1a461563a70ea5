// Package mgmt serves the management API: probes, metrics, read-only views of
// the board state and HTTP submission of actions.
package mgmt

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/statusboard/internal/health"
	"github.com/p-blackswan/statusboard/internal/metrics"
	"github.com/p-blackswan/statusboard/internal/requestid"
	"github.com/p-blackswan/statusboard/internal/state"
)

// ServerConfig holds configuration for the management API server.
type ServerConfig struct {
	ListenAddr  string
	CORSOrigins string
	RateLimit   RateLimitConfig
}

// ActionRunner applies an action through the single writer and waits for it.
type ActionRunner interface {
	Do(ctx context.Context, action string, payload json.RawMessage, requestID string) error
}

// StateReader exposes a consistent copy of the board state.
type StateReader interface {
	Snapshot() state.Snapshot
}

// SessionCounter reports connected sessions.
type SessionCounter interface {
	Count() int
}

// Server is the management API Fiber application.
type Server struct {
	app     *fiber.App
	limiter *rateLimiter
	logger  zerolog.Logger
	config  ServerConfig
}

// NewServer creates and configures a new management API server.
func NewServer(
	cfg ServerConfig,
	runner ActionRunner,
	reader StateReader,
	sessions SessionCounter,
	checker *health.Checker,
	metricsCollector *metrics.Metrics,
	logger zerolog.Logger,
) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          customErrorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        8192,
		WriteBufferSize:       8192,
		BodyLimit:             8 << 20,
	})

	s := &Server{
		app:    app,
		logger: logger.With().Str("component", "mgmt_server").Logger(),
		config: cfg,
	}

	h := NewHandlers(runner, reader, sessions, checker, logger)
	s.setupMiddleware(cfg)
	s.setupRoutes(h, metricsCollector)

	return s
}

func (s *Server) setupMiddleware(cfg ServerConfig) {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(requestid.Middleware())

	if cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CORSOrigins,
			AllowHeaders: "Origin, Content-Type, Accept, " + requestid.Header,
			AllowMethods: "GET, POST, OPTIONS",
		}))
	}

	if cfg.RateLimit.RPS > 0 {
		s.limiter = newRateLimiter(cfg.RateLimit)
		s.app.Use(s.limiter.middleware())
	}

	// Audit every request except probes.
	s.app.Use(func(c *fiber.Ctx) error {
		if isProbe(c.Path()) {
			return c.Next()
		}
		s.logger.Info().
			Str("method", c.Method()).
			Str("path", c.Path()).
			Str("ip", c.IP()).
			Str("request_id", requestid.Get(c)).
			Msg("mgmt api request")
		return c.Next()
	})
}

func (s *Server) setupRoutes(h *Handlers, metricsCollector *metrics.Metrics) {
	s.app.Get("/healthz", h.Liveness)
	s.app.Get("/readyz", h.Readiness)
	s.app.Get("/metrics", adaptor.HTTPHandler(metricsCollector.Handler()))

	v1 := s.app.Group("/api/v1")

	v1.Get("/state", h.GetState)
	v1.Get("/roster", h.GetRoster)
	v1.Get("/active", h.GetActive)
	v1.Get("/history", h.GetHistory)
	v1.Get("/health", h.HealthDetail)

	v1.Post("/roster", h.IngestRoster)
	v1.Post("/actions/:action", h.SubmitAction)
}

// Start starts the server. Blocks until stopped.
func (s *Server) Start() error {
	addr := s.config.ListenAddr
	if addr == "" {
		addr = ":8090"
	}
	s.logger.Info().Str("addr", addr).Msg("management API server starting")
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("management API server shutting down")
	if s.limiter != nil {
		s.limiter.stop()
	}
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

func isProbe(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

func customErrorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		detail := err.Error()
		title := "Error"
		if code == fiber.StatusInternalServerError {
			logger.Error().
				Err(err).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Str("request_id", requestid.Get(c)).
				Msg("unhandled error")
			detail = "An internal error occurred"
			title = "Internal Server Error"
		} else if code == fiber.StatusNotFound {
			title = "Not Found"
		}

		return problemResponse(c, code, "internal_error", title, detail)
	}
}
