package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/chatlet/automation-service/internal/middleware"
	"github.com/chatlet/automation-service/internal/models"
	"github.com/chatlet/automation-service/internal/ratelimit"
	"github.com/chatlet/automation-service/internal/repositories"
	"github.com/chatlet/automation-service/internal/services"
)

// MonitoringHandlers serves the monitoring and alert-rule API
type MonitoringHandlers struct {
	monitor   *services.PerformanceMonitor
	limiter   *ratelimit.Limiter
	alertRepo repositories.AlertRuleRepository
	logger    *zap.Logger
}

// NewMonitoringHandlers creates monitoring handlers
func NewMonitoringHandlers(
	monitor *services.PerformanceMonitor,
	limiter *ratelimit.Limiter,
	alertRepo repositories.AlertRuleRepository,
	logger *zap.Logger,
) *MonitoringHandlers {
	return &MonitoringHandlers{
		monitor:   monitor,
		limiter:   limiter,
		alertRepo: alertRepo,
		logger:    logger,
	}
}

// System returns the rolling system-wide aggregates.
func (h *MonitoringHandlers) System(c *fiber.Ctx) error {
	return c.JSON(h.monitor.GetSystemMetrics())
}

// Workflow returns the rolling aggregates for one workflow.
func (h *MonitoringHandlers) Workflow(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return err
	}
	return c.JSON(h.monitor.GetWorkflowAnalytics(id))
}

// Insights returns notable performance findings, optionally scoped to one
// workflow via ?workflow_id=.
func (h *MonitoringHandlers) Insights(c *fiber.Ctx) error {
	var workflowID *uint
	if raw := c.QueryInt("workflow_id", 0); raw > 0 {
		id := uint(raw)
		workflowID = &id
	}
	return c.JSON(fiber.Map{"insights": h.monitor.GetPerformanceInsights(workflowID)})
}

// Export renders monitor state as json or prometheus text.
func (h *MonitoringHandlers) Export(c *fiber.Ctx) error {
	data, contentType, err := h.monitor.ExportMetrics(c.Query("format", "json"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	c.Set("Content-Type", contentType)
	return c.Send(data)
}

// RecentAlerts returns the fired-alert history, newest first.
func (h *MonitoringHandlers) RecentAlerts(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"alerts": h.monitor.RecentAlerts()})
}

type alertRuleRequest struct {
	Name            string  `json:"name"`
	Metric          string  `json:"metric"`
	Operator        string  `json:"operator"`
	Threshold       float64 `json:"threshold"`
	WorkflowID      *uint   `json:"workflow_id"`
	CooldownSeconds int     `json:"cooldown_seconds"`
	IsActive        *bool   `json:"is_active"`
}

var alertMetrics = map[string]bool{
	"success_rate":    true,
	"failure_rate":    true,
	"avg_latency_ms":  true,
	"execution_count": true,
}

var alertOperators = map[string]bool{
	"gt": true, "gte": true, "lt": true, "lte": true, "eq": true,
}

// CreateAlertRule stores a new alert rule.
func (h *MonitoringHandlers) CreateAlertRule(c *fiber.Ctx) error {
	tenantID := middleware.TenantID(c)
	if tenantID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "tenant id required")
	}

	var req alertRuleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" || !alertMetrics[req.Metric] || !alertOperators[req.Operator] {
		return fiber.NewError(fiber.StatusBadRequest, "name, a known metric, and a known operator are required")
	}

	rule := &models.AlertRule{
		TenantID:        tenantID,
		Name:            req.Name,
		Metric:          req.Metric,
		Operator:        req.Operator,
		Threshold:       req.Threshold,
		WorkflowID:      req.WorkflowID,
		CooldownSeconds: req.CooldownSeconds,
		IsActive:        req.IsActive == nil || *req.IsActive,
	}
	if err := h.alertRepo.Create(c.Context(), rule); err != nil {
		h.logger.Error("Failed to create alert rule", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to create alert rule")
	}
	return c.Status(fiber.StatusCreated).JSON(rule)
}

// GetAlertRule returns one alert rule.
func (h *MonitoringHandlers) GetAlertRule(c *fiber.Ctx) error {
	tenantID := middleware.TenantID(c)
	id, err := parseUintParam(c, "id")
	if err != nil {
		return err
	}

	rule, err := h.alertRepo.GetByID(c.Context(), tenantID, id)
	if err != nil {
		if errors.Is(err, repositories.ErrAlertRuleNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "alert rule not found")
		}
		return fiber.NewError(fiber.StatusInternalServerError, "failed to get alert rule")
	}
	return c.JSON(rule)
}

// UpdateAlertRule stores changes to an alert rule.
func (h *MonitoringHandlers) UpdateAlertRule(c *fiber.Ctx) error {
	tenantID := middleware.TenantID(c)
	id, err := parseUintParam(c, "id")
	if err != nil {
		return err
	}

	rule, err := h.alertRepo.GetByID(c.Context(), tenantID, id)
	if err != nil {
		if errors.Is(err, repositories.ErrAlertRuleNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "alert rule not found")
		}
		return fiber.NewError(fiber.StatusInternalServerError, "failed to get alert rule")
	}

	var req alertRuleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Name != "" {
		rule.Name = req.Name
	}
	if req.Metric != "" {
		if !alertMetrics[req.Metric] {
			return fiber.NewError(fiber.StatusBadRequest, "unknown metric")
		}
		rule.Metric = req.Metric
	}
	if req.Operator != "" {
		if !alertOperators[req.Operator] {
			return fiber.NewError(fiber.StatusBadRequest, "unknown operator")
		}
		rule.Operator = req.Operator
	}
	rule.Threshold = req.Threshold
	rule.WorkflowID = req.WorkflowID
	if req.CooldownSeconds > 0 {
		rule.CooldownSeconds = req.CooldownSeconds
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}

	if err := h.alertRepo.Update(c.Context(), rule); err != nil {
		h.logger.Error("Failed to update alert rule", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to update alert rule")
	}
	return c.JSON(rule)
}

// DeleteAlertRule removes an alert rule.
func (h *MonitoringHandlers) DeleteAlertRule(c *fiber.Ctx) error {
	tenantID := middleware.TenantID(c)
	id, err := parseUintParam(c, "id")
	if err != nil {
		return err
	}

	if err := h.alertRepo.Delete(c.Context(), tenantID, id); err != nil {
		if errors.Is(err, repositories.ErrAlertRuleNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "alert rule not found")
		}
		h.logger.Error("Failed to delete alert rule", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to delete alert rule")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ResetRateLimit clears the rate-limit counter for a scope key
// (administrative reset).
func (h *MonitoringHandlers) ResetRateLimit(c *fiber.Ctx) error {
	var req struct {
		Key string `json:"key"`
	}
	if err := c.BodyParser(&req); err != nil || req.Key == "" {
		return fiber.NewError(fiber.StatusBadRequest, "key is required")
	}

	if err := h.limiter.Reset(c.Context(), req.Key); err != nil {
		h.logger.Error("Failed to reset rate limit", zap.String("key", req.Key), zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "failed to reset rate limit")
	}
	return c.JSON(fiber.Map{"key": req.Key, "reset": true})
}
