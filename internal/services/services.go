package services

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chatlet/automation-service/internal/config"
	"github.com/chatlet/automation-service/internal/integrations"
	"github.com/chatlet/automation-service/internal/ratelimit"
	"github.com/chatlet/automation-service/internal/repositories"
	"github.com/chatlet/automation-service/pkg/metrics"
)

// Services aggregates the automation service layer
type Services struct {
	Workflow   *WorkflowService
	Engine     *ExecutionEngine
	Monitor    *PerformanceMonitor
	Listener   *EventListener
	Limiter    *ratelimit.Limiter
	Registry   *integrations.Registry
	Collectors *metrics.Collectors
}

// New wires the full service graph: integration adapters behind the
// registry, the rate limiter, the matcher/evaluator/dispatcher trio, the
// engine, the monitor, and the redis event listener.
func New(cfg *config.Config, repos *repositories.Repositories, redisClient *redis.Client, logger *zap.Logger) *Services {
	collectors := metrics.New()

	registry := integrations.NewRegistry()
	registry.Register(integrations.NewHTTPAdapter(
		"messaging", cfg.Integrations.MessagingURL,
		cfg.Integrations.RequestTimeout, cfg.Integrations.MaxRPSPerAdapter, logger))
	registry.Register(integrations.NewHTTPAdapter(
		"crm", cfg.Integrations.CRMURL,
		cfg.Integrations.RequestTimeout, cfg.Integrations.MaxRPSPerAdapter, logger))
	registry.Register(integrations.NewHTTPAdapter(
		"spreadsheet", cfg.Integrations.SpreadsheetURL,
		cfg.Integrations.RequestTimeout, cfg.Integrations.MaxRPSPerAdapter, logger))
	registry.Register(integrations.NewHTTPAdapter(
		"conversation", cfg.Integrations.ConversationURL,
		cfg.Integrations.RequestTimeout, cfg.Integrations.MaxRPSPerAdapter, logger))

	tiers := make(map[string]ratelimit.Config, len(cfg.RateLimit.Tiers))
	for tier, limit := range cfg.RateLimit.Tiers {
		tiers[tier] = ratelimit.Config{
			Strategy: ratelimit.Strategy(cfg.RateLimit.Strategy),
			Limit:    limit.Limit,
			Window:   limit.Window,
		}
	}
	limiter := ratelimit.New(ratelimit.Config{
		Strategy: ratelimit.Strategy(cfg.RateLimit.Strategy),
		Limit:    cfg.RateLimit.Limit,
		Window:   cfg.RateLimit.Window,
	}, tiers, redisClient)

	matcher := NewTriggerMatcher(logger)
	evaluator := NewConditionEvaluator(logger)
	dispatcher := NewActionDispatcher(
		registry, limiter, collectors, logger,
		cfg.Engine.MaxRetries, cfg.Engine.BackoffBase, cfg.Engine.BackoffCap)

	monitor := NewPerformanceMonitor(
		repos.AlertRule, collectors, logger,
		cfg.Monitoring.SampleWindow, cfg.Monitoring.DefaultCooldown)

	workflowService := NewWorkflowService(repos.Workflow, logger)

	engine := NewExecutionEngine(
		workflowService, repos.Execution,
		matcher, evaluator, dispatcher,
		monitor, collectors, logger,
		cfg.Engine.ExecutionTimeout)

	listener := NewEventListener(redisClient, engine, cfg.Engine.EventChannels, logger)

	return &Services{
		Workflow:   workflowService,
		Engine:     engine,
		Monitor:    monitor,
		Listener:   listener,
		Limiter:    limiter,
		Registry:   registry,
		Collectors: collectors,
	}
}
