package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/chatlet/automation-service/internal/middleware"
	"github.com/chatlet/automation-service/internal/models"
	"github.com/chatlet/automation-service/internal/services"
)

// EventHandlers serves the HTTP event intake path
type EventHandlers struct {
	engine *services.ExecutionEngine
	logger *zap.Logger
}

// NewEventHandlers creates event handlers
func NewEventHandlers(engine *services.ExecutionEngine, logger *zap.Logger) *EventHandlers {
	return &EventHandlers{engine: engine, logger: logger}
}

// Emit accepts one trigger event and fans it out to matching workflows.
// Triggering is fire-and-forget: the response reports how many executions
// started, not their outcomes.
func (h *EventHandlers) Emit(c *fiber.Ctx) error {
	var event models.TriggerEvent
	if err := c.BodyParser(&event); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid event body")
	}

	if event.TenantID == "" {
		event.TenantID = middleware.TenantID(c)
	}

	started, err := h.engine.ProcessEvent(c.Context(), &event)
	if err != nil {
		if errors.Is(err, models.ErrEventMissingType) || errors.Is(err, models.ErrEventMissingTenant) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		h.logger.Error("Failed to process event",
			zap.String("event_type", event.Type),
			zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to process event")
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"event_id":           event.ID,
		"executions_started": started,
	})
}
