package repositories

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/chatlet/automation-service/internal/models"
)

// ErrExecutionNotFound is returned when no execution matches the tenant/id pair
var ErrExecutionNotFound = errors.New("execution not found")

type executionRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewExecutionRepository creates an execution repository
func NewExecutionRepository(db *gorm.DB, logger *zap.Logger) ExecutionRepository {
	return &executionRepository{db: db, logger: logger}
}

func (r *executionRepository) Create(ctx context.Context, execution *models.Execution) error {
	if err := r.db.WithContext(ctx).Create(execution).Error; err != nil {
		return fmt.Errorf("failed to create execution record: %w", err)
	}
	return nil
}

func (r *executionRepository) Update(ctx context.Context, execution *models.Execution) error {
	err := r.db.WithContext(ctx).
		Model(&models.Execution{}).
		Where("id = ?", execution.ID).
		Updates(map[string]interface{}{
			"status":       execution.Status,
			"urgency":      execution.Urgency,
			"completed_at": execution.CompletedAt,
			"node_results": execution.NodeResults,
			"error":        execution.Error,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update execution record: %w", err)
	}
	return nil
}

func (r *executionRepository) GetByID(ctx context.Context, tenantID, id string) (*models.Execution, error) {
	var execution models.Execution
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&execution).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrExecutionNotFound
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}
	return &execution, nil
}

func (r *executionRepository) List(ctx context.Context, tenantID string, filters ExecutionFilters) ([]models.Execution, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Execution{}).Where("tenant_id = ?", tenantID)

	if filters.WorkflowID != 0 {
		query = query.Where("workflow_id = ?", filters.WorkflowID)
	}
	if filters.ChatbotID != "" {
		query = query.Where("chatbot_id = ?", filters.ChatbotID)
	}
	if filters.Status != "" {
		query = query.Where("status = ?", filters.Status)
	}
	if filters.EventType != "" {
		query = query.Where("event_type = ?", filters.EventType)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count executions: %w", err)
	}

	page := filters.Page
	if page < 1 {
		page = 1
	}
	pageSize := filters.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var executions []models.Execution
	err := query.
		Order("started_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&executions).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list executions: %w", err)
	}
	return executions, total, nil
}
