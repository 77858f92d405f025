package handlers

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"

	"slotwatch/internal/models"
	"slotwatch/internal/orchestrator"
)

// Handlers exposes the orchestrator's command surface over HTTP.
type Handlers struct {
	Orc *orchestrator.Orchestrator
}

// RegisterRoutes registers API routes on the given Fiber router group.
func (h *Handlers) RegisterRoutes(api fiber.Router) {
	api.Post("/command", h.Command)
	api.Get("/monitors", h.GetMonitors)
	api.Get("/stats", h.GetStats)
	api.Get("/risk", h.GetRisk)
	api.Get("/status", h.GetStatus)
}

// commandEnvelope is the action-tagged request body; the rest of the body
// is the command payload.
type commandEnvelope struct {
	Action string `json:"action"`
}

// Command handles POST /api/command.
func (h *Handlers) Command(c *fiber.Ctx) error {
	var env commandEnvelope
	if err := json.Unmarshal(c.Body(), &env); err != nil || env.Action == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "body must be JSON with an action field",
		})
	}

	cmd, err := orchestrator.Decode(env.Action, c.Body())
	if err != nil {
		status := fiber.StatusBadRequest
		if errors.Is(err, models.ErrUnknownCommand) {
			status = fiber.StatusNotFound
		}
		return c.Status(status).JSON(fiber.Map{"success": false, "error": err.Error()})
	}

	res := h.Orc.Execute(c.Context(), cmd)
	if !res.Success {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(res)
	}
	return c.JSON(res)
}

// GetMonitors handles GET /api/monitors.
func (h *Handlers) GetMonitors(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"success": true, "data": h.Orc.Monitors()})
}

// GetStats handles GET /api/stats.
func (h *Handlers) GetStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"success": true, "data": h.Orc.Stats()})
}

// GetRisk handles GET /api/risk.
func (h *Handlers) GetRisk(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"success": true, "data": h.Orc.Risk()})
}

// GetStatus handles GET /api/status.
func (h *Handlers) GetStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success":  true,
		"state":    h.Orc.CurrentState().String(),
		"settings": h.Orc.Settings(),
	})
}
