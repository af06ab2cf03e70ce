package repositories

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/chatlet/automation-service/internal/models"
)

// ErrAlertRuleNotFound is returned when no alert rule matches the tenant/id pair
var ErrAlertRuleNotFound = errors.New("alert rule not found")

type alertRuleRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewAlertRuleRepository creates an alert rule repository
func NewAlertRuleRepository(db *gorm.DB, logger *zap.Logger) AlertRuleRepository {
	return &alertRuleRepository{db: db, logger: logger}
}

func (r *alertRuleRepository) Create(ctx context.Context, rule *models.AlertRule) error {
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		return fmt.Errorf("failed to create alert rule: %w", err)
	}
	return nil
}

func (r *alertRuleRepository) GetByID(ctx context.Context, tenantID string, id uint) (*models.AlertRule, error) {
	var rule models.AlertRule
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		First(&rule).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAlertRuleNotFound
		}
		return nil, fmt.Errorf("failed to get alert rule: %w", err)
	}
	return &rule, nil
}

func (r *alertRuleRepository) ListActive(ctx context.Context) ([]models.AlertRule, error) {
	var rules []models.AlertRule
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Find(&rules).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active alert rules: %w", err)
	}
	return rules, nil
}

func (r *alertRuleRepository) Update(ctx context.Context, rule *models.AlertRule) error {
	result := r.db.WithContext(ctx).
		Model(&models.AlertRule{}).
		Where("id = ? AND tenant_id = ?", rule.ID, rule.TenantID).
		Updates(map[string]interface{}{
			"name":             rule.Name,
			"metric":           rule.Metric,
			"operator":         rule.Operator,
			"threshold":        rule.Threshold,
			"workflow_id":      rule.WorkflowID,
			"cooldown_seconds": rule.CooldownSeconds,
			"is_active":        rule.IsActive,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update alert rule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlertRuleNotFound
	}
	return nil
}

func (r *alertRuleRepository) Delete(ctx context.Context, tenantID string, id uint) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", id, tenantID).
		Delete(&models.AlertRule{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete alert rule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlertRuleNotFound
	}
	return nil
}
