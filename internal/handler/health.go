package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Pinger reports whether a backing service is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	tracker    Pinger
	connCount  func() int
	configured map[string]bool
}

// NewHealthHandler reports tracker reachability, open status sockets and
// which optional collaborators are configured.
func NewHealthHandler(tracker Pinger, connCount func() int, configured map[string]bool) *HealthHandler {
	return &HealthHandler{tracker: tracker, connCount: connCount, configured: configured}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	overall, redisStatus := "ok", "ok"
	status := fiber.StatusOK
	if err := h.tracker.Ping(ctx); err != nil {
		overall, redisStatus = "degraded", "unreachable"
		status = fiber.StatusServiceUnavailable
	}

	body := fiber.Map{
		"status":     overall,
		"redis":      redisStatus,
		"configured": h.configured,
	}
	if h.connCount != nil {
		body["ws_clients"] = h.connCount()
	}
	return c.Status(status).JSON(body)
}

// Root handles GET /
func Root(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service":   "ragscale-api",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
