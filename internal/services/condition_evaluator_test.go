package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/chatlet/automation-service/internal/models"
)

func conditionNode(field, operator string, value interface{}) models.Node {
	return models.Node{
		ID:     "c1",
		Kind:   models.NodeKindCondition,
		Type:   "condition_check",
		Config: models.JSONMap{"field": field, "operator": operator, "value": value},
	}
}

func TestConditionBoundaryIsStrict(t *testing.T) {
	e := NewConditionEvaluator(zaptest.NewLogger(t))
	execCtx := NewExecContext(testEvent(models.PayloadMap{"sentiment": models.NumberValue(-0.8)}))

	// -0.8 is not strictly less than -0.8.
	assert.Equal(t, BranchFalse, e.Evaluate(execCtx, conditionNode("sentiment", "lt", -0.8)))
	assert.Equal(t, BranchTrue, e.Evaluate(execCtx, conditionNode("sentiment", "lte", -0.8)))
	assert.Equal(t, BranchTrue, e.Evaluate(execCtx, conditionNode("sentiment", "lt", -0.7)))
}

func TestConditionMissingFieldSelectsFalseBranch(t *testing.T) {
	e := NewConditionEvaluator(zaptest.NewLogger(t))
	execCtx := NewExecContext(testEvent(models.PayloadMap{}))

	assert.Equal(t, BranchFalse, e.Evaluate(execCtx, conditionNode("sentiment", "lt", 0)))
	assert.Equal(t, BranchFalse, e.Evaluate(execCtx, conditionNode("contact.email", "equals", "x")))
}

func TestConditionNumericCoercion(t *testing.T) {
	e := NewConditionEvaluator(zaptest.NewLogger(t))
	// Score arrives as a string but both sides parse as numbers, so the
	// comparison is numeric, not lexicographic.
	execCtx := NewExecContext(testEvent(models.PayloadMap{"lead_score": models.StringValue("9")}))

	assert.Equal(t, BranchTrue, e.Evaluate(execCtx, conditionNode("lead_score", "lt", 80)))
	assert.Equal(t, BranchTrue, e.Evaluate(execCtx, conditionNode("lead_score", "gte", "9")))
}

func TestConditionStringOperators(t *testing.T) {
	e := NewConditionEvaluator(zaptest.NewLogger(t))
	execCtx := NewExecContext(testEvent(models.PayloadMap{
		"plan":    models.StringValue("enterprise"),
		"message": models.StringValue("please CANCEL my plan"),
	}))

	assert.Equal(t, BranchTrue, e.Evaluate(execCtx, conditionNode("plan", "equals", "enterprise")))
	assert.Equal(t, BranchFalse, e.Evaluate(execCtx, conditionNode("plan", "equals", "free")))
	assert.Equal(t, BranchTrue, e.Evaluate(execCtx, conditionNode("message", "contains", "cancel")))
	assert.Equal(t, BranchFalse, e.Evaluate(execCtx, conditionNode("message", "contains", "refund")))
}

func TestConditionInvalidConfigurationSelectsFalseBranch(t *testing.T) {
	e := NewConditionEvaluator(zaptest.NewLogger(t))
	execCtx := NewExecContext(testEvent(models.PayloadMap{"sentiment": models.NumberValue(-1)}))

	node := models.Node{
		ID: "c1", Kind: models.NodeKindCondition, Type: "condition_check",
		Config: models.JSONMap{"field": "sentiment", "operator": "resembles", "value": 0},
	}
	assert.Equal(t, BranchFalse, e.Evaluate(execCtx, node))
}
