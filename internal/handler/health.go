package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/videoagent/internal/service"
)

// HealthHandler reports queue load and which collaborators are remote
type HealthHandler struct {
	tasks    *service.TaskService
	services map[string]bool
	started  time.Time
}

func NewHealthHandler(tasks *service.TaskService, services map[string]bool) *HealthHandler {
	return &HealthHandler{tasks: tasks, services: services, started: time.Now()}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	stats := h.tasks.Stats()
	return c.JSON(fiber.Map{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
		"queue": fiber.Map{
			"running":       stats.Running,
			"backlog":       stats.Backlog,
			"maxConcurrent": stats.MaxConcurrent,
		},
		"services": h.services,
	})
}
