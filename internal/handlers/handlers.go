package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/chatlet/automation-service/internal/repositories"
	"github.com/chatlet/automation-service/internal/services"
)

// Handlers aggregates the HTTP handlers of the automation service
type Handlers struct {
	Workflow   *WorkflowHandlers
	Event      *EventHandlers
	Execution  *ExecutionHandlers
	Monitoring *MonitoringHandlers
}

// New creates all handlers
func New(svcs *services.Services, repos *repositories.Repositories, logger *zap.Logger) *Handlers {
	return &Handlers{
		Workflow:   NewWorkflowHandlers(svcs.Workflow, logger),
		Event:      NewEventHandlers(svcs.Engine, logger),
		Execution:  NewExecutionHandlers(svcs.Engine, logger),
		Monitoring: NewMonitoringHandlers(svcs.Monitor, svcs.Limiter, repos.AlertRule, logger),
	}
}

// RegisterRoutes mounts the API under /api/v1
func (h *Handlers) RegisterRoutes(app *fiber.App, authMiddleware fiber.Handler) {
	api := app.Group("/api/v1", authMiddleware)

	workflows := api.Group("/workflows")
	workflows.Post("/", h.Workflow.Create)
	workflows.Get("/", h.Workflow.List)
	workflows.Post("/validate", h.Workflow.Validate)
	workflows.Get("/:id", h.Workflow.Get)
	workflows.Put("/:id", h.Workflow.Update)
	workflows.Delete("/:id", h.Workflow.Delete)
	workflows.Post("/:id/execute", h.Execution.Execute)

	api.Post("/events", h.Event.Emit)

	executions := api.Group("/executions")
	executions.Get("/", h.Execution.List)
	executions.Get("/active", h.Execution.ListActive)
	executions.Get("/:id", h.Execution.Get)
	executions.Post("/:id/stop", h.Execution.Stop)

	monitoring := api.Group("/monitoring")
	monitoring.Get("/system", h.Monitoring.System)
	monitoring.Get("/workflows/:id", h.Monitoring.Workflow)
	monitoring.Get("/insights", h.Monitoring.Insights)
	monitoring.Get("/export", h.Monitoring.Export)
	monitoring.Get("/alerts", h.Monitoring.RecentAlerts)

	rules := monitoring.Group("/alert-rules")
	rules.Post("/", h.Monitoring.CreateAlertRule)
	rules.Get("/:id", h.Monitoring.GetAlertRule)
	rules.Put("/:id", h.Monitoring.UpdateAlertRule)
	rules.Delete("/:id", h.Monitoring.DeleteAlertRule)

	api.Post("/rate-limits/reset", h.Monitoring.ResetRateLimit)
}
