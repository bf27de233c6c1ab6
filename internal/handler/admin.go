package handler

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/ragscale/api/internal/model"
	"github.com/ragscale/api/internal/queue"
	"github.com/ragscale/api/pkg/response"
)

const maxDeadPage = 500

// QueueInspector reads the dead lane and lane counters
type QueueInspector interface {
	Dead(lane string, limit int) ([]model.DeadTask, error)
	Stats(lane string) (model.LaneStats, error)
}

type AdminHandler struct {
	inspector QueueInspector
	logger    *slog.Logger
}

func NewAdminHandler(inspector QueueInspector, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{inspector: inspector, logger: logger}
}

// Dead handles GET /api/admin/queues/:lane/dead
func (h *AdminHandler) Dead(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > maxDeadPage {
		return response.ValidationError(c, "limit must be between 1 and 500", nil)
	}

	tasks, err := h.inspector.Dead(c.Params("lane"), limit)
	if err != nil {
		return h.fail(c, err)
	}
	return response.OK(c, fiber.Map{"tasks": tasks})
}

// Stats handles GET /api/admin/queues/:lane
func (h *AdminHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.inspector.Stats(c.Params("lane"))
	if err != nil {
		return h.fail(c, err)
	}
	return response.OK(c, stats)
}

func (h *AdminHandler) fail(c *fiber.Ctx, err error) error {
	if errors.Is(err, queue.ErrUnknownLane) {
		return response.NotFound(c, err.Error())
	}
	h.logger.Error("queue inspection failed", "error", err)
	return response.Unavailable(c, "Queue unavailable")
}
