package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/chatlet/automation-service/internal/models"
)

// ErrWorkflowNotFound is returned when no workflow matches the tenant/id pair
var ErrWorkflowNotFound = errors.New("workflow not found")

const (
	activeWorkflowsCacheKeyFmt = "automation:workflows:active:%s:%s"
	activeWorkflowsCacheTTL    = 30 * time.Second
)

type workflowRepository struct {
	db     *gorm.DB
	redis  *redis.Client
	logger *zap.Logger
}

// NewWorkflowRepository creates a workflow repository. The active-workflow
// lookup used on the event hot path is cached in redis with a short TTL;
// writes invalidate the cache for the affected chatbot.
func NewWorkflowRepository(db *gorm.DB, redisClient *redis.Client, logger *zap.Logger) WorkflowRepository {
	return &workflowRepository{
		db:     db,
		redis:  redisClient,
		logger: logger,
	}
}

func (r *workflowRepository) Create(ctx context.Context, workflow *models.Workflow) error {
	if err := r.db.WithContext(ctx).Create(workflow).Error; err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}
	r.invalidateCache(ctx, workflow.TenantID, workflow.ChatbotID)
	return nil
}

func (r *workflowRepository) GetByID(ctx context.Context, tenantID string, id uint) (*models.Workflow, error) {
	var workflow models.Workflow
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&workflow).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}
	return &workflow, nil
}

func (r *workflowRepository) List(ctx context.Context, tenantID string, filters WorkflowFilters) ([]models.Workflow, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Workflow{}).Where("tenant_id = ?", tenantID)

	if filters.ChatbotID != "" {
		query = query.Where("chatbot_id = ?", filters.ChatbotID)
	}
	if filters.IsActive != nil {
		query = query.Where("is_active = ?", *filters.IsActive)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count workflows: %w", err)
	}

	page := filters.Page
	if page < 1 {
		page = 1
	}
	pageSize := filters.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var workflows []models.Workflow
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&workflows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list workflows: %w", err)
	}
	return workflows, total, nil
}

func (r *workflowRepository) ListActiveForChatbot(ctx context.Context, tenantID, chatbotID string) ([]models.Workflow, error) {
	cacheKey := fmt.Sprintf(activeWorkflowsCacheKeyFmt, tenantID, chatbotID)

	if r.redis != nil {
		cached, err := r.redis.Get(ctx, cacheKey).Result()
		if err == nil {
			var workflows []models.Workflow
			if jsonErr := json.Unmarshal([]byte(cached), &workflows); jsonErr == nil {
				return workflows, nil
			}
		}
	}

	var workflows []models.Workflow
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND chatbot_id = ? AND is_active = ?", tenantID, chatbotID, true).
		Find(&workflows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active workflows: %w", err)
	}

	if r.redis != nil {
		if data, jsonErr := json.Marshal(workflows); jsonErr == nil {
			if cacheErr := r.redis.Set(ctx, cacheKey, data, activeWorkflowsCacheTTL).Err(); cacheErr != nil {
				r.logger.Warn("Failed to cache active workflows", zap.Error(cacheErr))
			}
		}
	}
	return workflows, nil
}

func (r *workflowRepository) Update(ctx context.Context, workflow *models.Workflow) error {
	result := r.db.WithContext(ctx).
		Model(&models.Workflow{}).
		Where("id = ? AND tenant_id = ?", workflow.ID, workflow.TenantID).
		Updates(map[string]interface{}{
			"name":        workflow.Name,
			"description": workflow.Description,
			"is_active":   workflow.IsActive,
			"nodes":       workflow.Nodes,
			"edges":       workflow.Edges,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update workflow: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrWorkflowNotFound
	}
	r.invalidateCache(ctx, workflow.TenantID, workflow.ChatbotID)
	return nil
}

func (r *workflowRepository) Delete(ctx context.Context, tenantID string, id uint) error {
	workflow, err := r.GetByID(ctx, tenantID, id)
	if err != nil {
		return err
	}

	result := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Delete(&models.Workflow{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete workflow: %w", result.Error)
	}
	r.invalidateCache(ctx, tenantID, workflow.ChatbotID)
	return nil
}

func (r *workflowRepository) invalidateCache(ctx context.Context, tenantID, chatbotID string) {
	if r.redis == nil {
		return
	}
	cacheKey := fmt.Sprintf(activeWorkflowsCacheKeyFmt, tenantID, chatbotID)
	if err := r.redis.Del(ctx, cacheKey).Err(); err != nil {
		r.logger.Warn("Failed to invalidate workflow cache",
			zap.String("tenant_id", tenantID),
			zap.String("chatbot_id", chatbotID),
			zap.Error(err))
	}
}
