package mgmt

import (
	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/statusboard/internal/record"
	"github.com/p-blackswan/statusboard/internal/state"
)

// StateResponse is the full board state.
type StateResponse struct {
	Roster   []record.Record      `json:"roster" yaml:"roster"`
	Active   *state.Active        `json:"active" yaml:"active"`
	History  []state.HistoryEntry `json:"history" yaml:"history"`
	Sessions int                  `json:"sessions" yaml:"sessions"`
}

// ActionResponse acknowledges an applied action.
type ActionResponse struct {
	Action    string `json:"action"`
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
}

// HealthDetailResponse reports every registered check.
type HealthDetailResponse struct {
	Status   string            `json:"status"`
	Checks   map[string]string `json:"checks"`
	Uptime   string            `json:"uptime"`
	Sessions int               `json:"sessions"`
}

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	}, "application/problem+json")
}
