package mgmt

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	perrors "github.com/p-blackswan/statusboard/internal/errors"
	"github.com/p-blackswan/statusboard/internal/health"
	"github.com/p-blackswan/statusboard/internal/protocol"
	"github.com/p-blackswan/statusboard/internal/record"
	"github.com/p-blackswan/statusboard/internal/requestid"
	"github.com/p-blackswan/statusboard/internal/state"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	runner    ActionRunner
	reader    StateReader
	sessions  SessionCounter
	checker   *health.Checker
	logger    zerolog.Logger
	startTime time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(runner ActionRunner, reader StateReader, sessions SessionCounter, checker *health.Checker, logger zerolog.Logger) *Handlers {
	return &Handlers{
		runner:    runner,
		reader:    reader,
		sessions:  sessions,
		checker:   checker,
		logger:    logger.With().Str("component", "handlers").Logger(),
		startTime: time.Now(),
	}
}

// GetState handles GET /api/v1/state.
func (h *Handlers) GetState(c *fiber.Ctx) error {
	snap := h.reader.Snapshot()
	return h.render(c, StateResponse{
		Roster:   nonNilRoster(snap.Roster),
		Active:   snap.Active,
		History:  nonNilHistory(snap.History),
		Sessions: h.sessions.Count(),
	})
}

// GetRoster handles GET /api/v1/roster.
func (h *Handlers) GetRoster(c *fiber.Ctx) error {
	return h.render(c, nonNilRoster(h.reader.Snapshot().Roster))
}

// GetActive handles GET /api/v1/active. An empty slot renders as null.
func (h *Handlers) GetActive(c *fiber.Ctx) error {
	return h.render(c, h.reader.Snapshot().Active)
}

// GetHistory handles GET /api/v1/history.
func (h *Handlers) GetHistory(c *fiber.Ctx) error {
	return h.render(c, nonNilHistory(h.reader.Snapshot().History))
}

// IngestRoster handles POST /api/v1/roster. The body is a JSON array of rows.
func (h *Handlers) IngestRoster(c *fiber.Ctx) error {
	return h.run(c, protocol.ActionIngestRoster)
}

// SubmitAction handles POST /api/v1/actions/:action. The body is the action
// payload.
func (h *Handlers) SubmitAction(c *fiber.Ctx) error {
	action := c.Params("action")
	if !protocol.IsAction(action) {
		return problemResponse(c, fiber.StatusNotFound,
			"unknown_action", "Not Found",
			"Unknown action: "+action)
	}
	return h.run(c, action)
}

func (h *Handlers) run(c *fiber.Ctx, action string) error {
	reqID := requestid.Get(c)
	payload := append([]byte(nil), c.Body()...)

	if err := h.runner.Do(c.UserContext(), action, payload, reqID); err != nil {
		return actionProblem(c, err)
	}
	return c.JSON(ActionResponse{Action: action, Status: "applied", RequestID: reqID})
}

// HealthDetail handles GET /api/v1/health.
func (h *Handlers) HealthDetail(c *fiber.Ctx) error {
	results := h.checker.RunAll(c.UserContext())

	checks := make(map[string]string, len(results))
	overall := "ok"
	for name, status := range results {
		checks[name] = string(status)
		if status == health.StatusDown {
			overall = "degraded"
		}
	}

	return c.JSON(HealthDetailResponse{
		Status:   overall,
		Checks:   checks,
		Uptime:   time.Since(h.startTime).Round(time.Second).String(),
		Sessions: h.sessions.Count(),
	})
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness handles GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	ready := h.checker.IsReady(c.UserContext())
	if !ready {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not_ready",
			"checks": h.checker.Last(),
		})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

// render writes v as JSON, or as YAML when ?format=yaml.
func (h *Handlers) render(c *fiber.Ctx, v any) error {
	switch c.Query("format", "json") {
	case "json":
		return c.JSON(v)
	case "yaml", "yml":
		out, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		c.Set(fiber.HeaderContentType, "application/yaml; charset=utf-8")
		return c.Send(out)
	default:
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_format", "Bad Request",
			"format must be json or yaml")
	}
}

func actionProblem(c *fiber.Ctx, err error) error {
	code := perrors.Code(err)
	switch code {
	case perrors.CodeValidation:
		return problemResponse(c, fiber.StatusBadRequest, code, "Bad Request", perrors.Message(err))
	case perrors.CodeNotFound:
		return problemResponse(c, fiber.StatusNotFound, code, "Not Found", perrors.Message(err))
	case perrors.CodeUnavailable:
		return problemResponse(c, fiber.StatusServiceUnavailable, code, "Service Unavailable", perrors.Message(err))
	default:
		return err
	}
}

func nonNilRoster(r []record.Record) []record.Record {
	if r == nil {
		return []record.Record{}
	}
	return r
}

func nonNilHistory(h []state.HistoryEntry) []state.HistoryEntry {
	if h == nil {
		return []state.HistoryEntry{}
	}
	return h
}
