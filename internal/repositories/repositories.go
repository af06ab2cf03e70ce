package repositories

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/chatlet/automation-service/internal/models"
)

// WorkflowRepository persists workflow definitions
type WorkflowRepository interface {
	Create(ctx context.Context, workflow *models.Workflow) error
	GetByID(ctx context.Context, tenantID string, id uint) (*models.Workflow, error)
	List(ctx context.Context, tenantID string, filters WorkflowFilters) ([]models.Workflow, int64, error)
	ListActiveForChatbot(ctx context.Context, tenantID, chatbotID string) ([]models.Workflow, error)
	Update(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, tenantID string, id uint) error
}

// ExecutionRepository persists execution records
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.Execution) error
	Update(ctx context.Context, execution *models.Execution) error
	GetByID(ctx context.Context, tenantID, id string) (*models.Execution, error)
	List(ctx context.Context, tenantID string, filters ExecutionFilters) ([]models.Execution, int64, error)
}

// AlertRuleRepository persists monitor alert rules
type AlertRuleRepository interface {
	Create(ctx context.Context, rule *models.AlertRule) error
	GetByID(ctx context.Context, tenantID string, id uint) (*models.AlertRule, error)
	ListActive(ctx context.Context) ([]models.AlertRule, error)
	Update(ctx context.Context, rule *models.AlertRule) error
	Delete(ctx context.Context, tenantID string, id uint) error
}

// WorkflowFilters narrows workflow listings
type WorkflowFilters struct {
	ChatbotID string
	IsActive  *bool
	Page      int
	PageSize  int
}

// ExecutionFilters narrows execution history queries
type ExecutionFilters struct {
	WorkflowID uint
	ChatbotID  string
	Status     models.ExecutionStatus
	EventType  string
	Page       int
	PageSize   int
}

// Repositories aggregates all repository implementations
type Repositories struct {
	Workflow  WorkflowRepository
	Execution ExecutionRepository
	AlertRule AlertRuleRepository
}

// New creates all repositories backed by gorm and redis
func New(db *gorm.DB, redisClient *redis.Client, logger *zap.Logger) *Repositories {
	return &Repositories{
		Workflow:  NewWorkflowRepository(db, redisClient, logger),
		Execution: NewExecutionRepository(db, logger),
		AlertRule: NewAlertRuleRepository(db, logger),
	}
}
