package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/chatlet/automation-service/internal/middleware"
	"github.com/chatlet/automation-service/internal/models"
	"github.com/chatlet/automation-service/internal/repositories"
	"github.com/chatlet/automation-service/internal/services"
)

// ExecutionHandlers serves execution history, active executions, stop, and
// synchronous execution
type ExecutionHandlers struct {
	engine *services.ExecutionEngine
	logger *zap.Logger
}

// NewExecutionHandlers creates execution handlers
func NewExecutionHandlers(engine *services.ExecutionEngine, logger *zap.Logger) *ExecutionHandlers {
	return &ExecutionHandlers{engine: engine, logger: logger}
}

// Execute runs one workflow synchronously against the posted event.
func (h *ExecutionHandlers) Execute(c *fiber.Ctx) error {
	tenantID := middleware.TenantID(c)
	workflowID, err := parseUintParam(c, "id")
	if err != nil {
		return err
	}

	var event models.TriggerEvent
	if err := c.BodyParser(&event); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid event body")
	}
	if event.TenantID == "" {
		event.TenantID = tenantID
	}

	execution, err := h.engine.Execute(c.Context(), tenantID, workflowID, &event)
	if err != nil {
		switch {
		case errors.Is(err, repositories.ErrWorkflowNotFound):
			return fiber.NewError(fiber.StatusNotFound, "workflow not found")
		case errors.Is(err, services.ErrWorkflowInactive):
			return fiber.NewError(fiber.StatusConflict, "workflow is not active")
		case errors.Is(err, services.ErrNoTriggerMatch):
			return fiber.NewError(fiber.StatusUnprocessableEntity, "no trigger matched the event")
		case errors.Is(err, models.ErrEventMissingType), errors.Is(err, models.ErrEventMissingTenant):
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		h.logger.Error("Failed to execute workflow", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to execute workflow")
	}
	return c.JSON(execution)
}

// List returns persisted execution history with filters and pagination.
func (h *ExecutionHandlers) List(c *fiber.Ctx) error {
	tenantID := middleware.TenantID(c)
	if tenantID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "tenant id required")
	}

	filters := repositories.ExecutionFilters{
		WorkflowID: uint(c.QueryInt("workflow_id", 0)),
		ChatbotID:  c.Query("chatbot_id"),
		Status:     models.ExecutionStatus(c.Query("status")),
		EventType:  c.Query("event_type"),
		Page:       c.QueryInt("page", 1),
		PageSize:   c.QueryInt("page_size", 20),
	}

	executions, total, err := h.engine.GetExecutionHistory(c.Context(), tenantID, filters)
	if err != nil {
		h.logger.Error("Failed to list executions", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to list executions")
	}

	return c.JSON(fiber.Map{
		"executions": executions,
		"total":      total,
		"page":       filters.Page,
		"page_size":  filters.PageSize,
	})
}

// ListActive returns the executions currently running in this process.
func (h *ExecutionHandlers) ListActive(c *fiber.Ctx) error {
	tenantID := middleware.TenantID(c)

	active := h.engine.ListActiveExecutions()
	filtered := make([]models.Execution, 0, len(active))
	for _, execution := range active {
		if tenantID == "" || execution.TenantID == tenantID {
			filtered = append(filtered, execution)
		}
	}
	return c.JSON(fiber.Map{"executions": filtered, "count": len(filtered)})
}

// Get returns one persisted execution.
func (h *ExecutionHandlers) Get(c *fiber.Ctx) error {
	tenantID := middleware.TenantID(c)
	id := c.Params("id")

	execution, err := h.engine.GetExecution(c.Context(), tenantID, id)
	if err != nil {
		if errors.Is(err, repositories.ErrExecutionNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "execution not found")
		}
		h.logger.Error("Failed to get execution", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to get execution")
	}
	return c.JSON(execution)
}

// Stop cancels a running execution. Stopping an already-terminal execution
// reports stopped=false.
func (h *ExecutionHandlers) Stop(c *fiber.Ctx) error {
	tenantID := middleware.TenantID(c)
	id := c.Params("id")

	stopped, err := h.engine.StopExecution(c.Context(), tenantID, id)
	if err != nil {
		if errors.Is(err, repositories.ErrExecutionNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "execution not found")
		}
		h.logger.Error("Failed to stop execution", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to stop execution")
	}
	return c.JSON(fiber.Map{"execution_id": id, "stopped": stopped})
}
