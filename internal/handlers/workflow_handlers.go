package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/chatlet/automation-service/internal/middleware"
	"github.com/chatlet/automation-service/internal/models"
	"github.com/chatlet/automation-service/internal/repositories"
	"github.com/chatlet/automation-service/internal/services"
)

// WorkflowHandlers serves the workflow definition CRUD API
type WorkflowHandlers struct {
	workflows *services.WorkflowService
	logger    *zap.Logger
}

// NewWorkflowHandlers creates workflow handlers
func NewWorkflowHandlers(workflows *services.WorkflowService, logger *zap.Logger) *WorkflowHandlers {
	return &WorkflowHandlers{workflows: workflows, logger: logger}
}

type workflowRequest struct {
	ChatbotID   string          `json:"chatbot_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	IsActive    *bool           `json:"is_active"`
	Nodes       models.NodeList `json:"nodes"`
	Edges       models.EdgeList `json:"edges"`
}

// Create validates and stores a new workflow definition.
func (h *WorkflowHandlers) Create(c *fiber.Ctx) error {
	tenantID := middleware.TenantID(c)
	if tenantID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "tenant id required")
	}

	var req workflowRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.ChatbotID == "" || req.Name == "" {
		return fiber.NewError(fiber.StatusBadRequest, "chatbot_id and name are required")
	}

	workflow := &models.Workflow{
		TenantID:    tenantID,
		ChatbotID:   req.ChatbotID,
		Name:        req.Name,
		Description: req.Description,
		IsActive:    req.IsActive == nil || *req.IsActive,
		Nodes:       req.Nodes,
		Edges:       req.Edges,
	}

	validation, err := h.workflows.CreateWorkflow(c.Context(), workflow)
	if err != nil {
		if errors.Is(err, services.ErrWorkflowInvalid) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error":      "workflow validation failed",
				"validation": validation,
			})
		}
		h.logger.Error("Failed to create workflow", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to create workflow")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"workflow":   workflow,
		"validation": validation,
	})
}

// Get returns one workflow.
func (h *WorkflowHandlers) Get(c *fiber.Ctx) error {
	tenantID := middleware.TenantID(c)
	id, err := parseUintParam(c, "id")
	if err != nil {
		return err
	}

	workflow, err := h.workflows.GetWorkflow(c.Context(), tenantID, id)
	if err != nil {
		if errors.Is(err, repositories.ErrWorkflowNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "workflow not found")
		}
		h.logger.Error("Failed to get workflow", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to get workflow")
	}
	return c.JSON(workflow)
}

// List returns a filtered, paginated workflow listing.
func (h *WorkflowHandlers) List(c *fiber.Ctx) error {
	tenantID := middleware.TenantID(c)
	if tenantID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "tenant id required")
	}

	filters := repositories.WorkflowFilters{
		ChatbotID: c.Query("chatbot_id"),
		Page:      c.QueryInt("page", 1),
		PageSize:  c.QueryInt("page_size", 20),
	}
	if active := c.Query("is_active"); active != "" {
		isActive := active == "true"
		filters.IsActive = &isActive
	}

	workflows, total, err := h.workflows.ListWorkflows(c.Context(), tenantID, filters)
	if err != nil {
		h.logger.Error("Failed to list workflows", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to list workflows")
	}

	return c.JSON(fiber.Map{
		"workflows": workflows,
		"total":     total,
		"page":      filters.Page,
		"page_size": filters.PageSize,
	})
}

// Update validates and stores changes to a workflow.
func (h *WorkflowHandlers) Update(c *fiber.Ctx) error {
	tenantID := middleware.TenantID(c)
	id, err := parseUintParam(c, "id")
	if err != nil {
		return err
	}

	existing, err := h.workflows.GetWorkflow(c.Context(), tenantID, id)
	if err != nil {
		if errors.Is(err, repositories.ErrWorkflowNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "workflow not found")
		}
		return fiber.NewError(fiber.StatusInternalServerError, "failed to get workflow")
	}

	var req workflowRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if req.Name != "" {
		existing.Name = req.Name
	}
	existing.Description = req.Description
	if req.IsActive != nil {
		existing.IsActive = *req.IsActive
	}
	if req.Nodes != nil {
		existing.Nodes = req.Nodes
	}
	if req.Edges != nil {
		existing.Edges = req.Edges
	}

	validation, err := h.workflows.UpdateWorkflow(c.Context(), existing)
	if err != nil {
		if errors.Is(err, services.ErrWorkflowInvalid) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error":      "workflow validation failed",
				"validation": validation,
			})
		}
		h.logger.Error("Failed to update workflow", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to update workflow")
	}

	return c.JSON(fiber.Map{
		"workflow":   existing,
		"validation": validation,
	})
}

// Delete removes a workflow.
func (h *WorkflowHandlers) Delete(c *fiber.Ctx) error {
	tenantID := middleware.TenantID(c)
	id, err := parseUintParam(c, "id")
	if err != nil {
		return err
	}

	if err := h.workflows.DeleteWorkflow(c.Context(), tenantID, id); err != nil {
		if errors.Is(err, repositories.ErrWorkflowNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "workflow not found")
		}
		h.logger.Error("Failed to delete workflow", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to delete workflow")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Validate runs structural validation without persisting anything.
func (h *WorkflowHandlers) Validate(c *fiber.Ctx) error {
	var req workflowRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	return c.JSON(h.workflows.ValidateWorkflow(req.Nodes, req.Edges))
}

func parseUintParam(c *fiber.Ctx, name string) (uint, error) {
	raw := c.Params(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid id")
	}
	return uint(id), nil
}
