package handlers

import (
	"flowdeck/internal/services"
	"time"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	status *services.StatusService
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(status *services.StatusService) *HealthHandler {
	return &HealthHandler{status: status}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	snapshot := h.status.Snapshot()
	return c.JSON(fiber.Map{
		"status":      "healthy",
		"uptime":      snapshot.Uptime,
		"sessions":    snapshot.Sessions,
		"agents":      snapshot.Agents,
		"connections": snapshot.Connections,
		"timestamp":   time.Now().Format(time.RFC3339),
	})
}
