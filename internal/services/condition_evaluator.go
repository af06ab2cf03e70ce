package services

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/chatlet/automation-service/internal/models"
)

// Branch labels a condition node selects between
const (
	BranchTrue  = "true"
	BranchFalse = "false"
)

// conditionOperators is the closed operator set validation enforces at save
var conditionOperators = map[string]bool{
	"equals":   true,
	"contains": true,
	"gte":      true,
	"lte":      true,
	"gt":       true,
	"lt":       true,
}

// ConditionEvaluator evaluates condition nodes against the execution context.
type ConditionEvaluator struct {
	logger *zap.Logger
}

// NewConditionEvaluator creates a condition evaluator
func NewConditionEvaluator(logger *zap.Logger) *ConditionEvaluator {
	return &ConditionEvaluator{logger: logger}
}

// Evaluate resolves the node's field by dotted-path lookup and applies its
// operator against the comparison value. A missing field selects the false
// branch; the engine must tolerate partial event payloads, so this never
// errors.
func (e *ConditionEvaluator) Evaluate(execCtx *ExecContext, node models.Node) string {
	field := configString(node.Config, "field", "")
	operator := configString(node.Config, "operator", "")
	if field == "" || !conditionOperators[operator] {
		e.logger.Warn("Condition node with invalid configuration",
			zap.String("node_id", node.ID),
			zap.String("operator", operator))
		return BranchFalse
	}

	actual, ok := execCtx.Resolve(field)
	if !ok {
		return BranchFalse
	}

	expected := conditionValue(node.Config)

	if compareCondition(actual, expected, operator) {
		return BranchTrue
	}
	return BranchFalse
}

// conditionValue renders the node's comparison value as a string; numeric
// coercion happens at compare time when both sides parse.
func conditionValue(cfg models.JSONMap) string {
	if cfg == nil {
		return ""
	}
	switch v := cfg["value"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// compareCondition applies operator with type coercion: numeric comparison
// when both sides parse as numbers, string comparison otherwise. Ordering
// operators are strict or inclusive exactly as named, so a value equal to the
// threshold fails lt/gt.
func compareCondition(actual models.PayloadValue, expected, operator string) bool {
	actualNum, actualIsNum := actual.AsNumber()
	expectedNum, err := strconv.ParseFloat(strings.TrimSpace(expected), 64)
	bothNumeric := actualIsNum && err == nil

	if bothNumeric {
		switch operator {
		case "equals":
			return actualNum == expectedNum
		case "gte":
			return actualNum >= expectedNum
		case "lte":
			return actualNum <= expectedNum
		case "gt":
			return actualNum > expectedNum
		case "lt":
			return actualNum < expectedNum
		}
	}

	actualStr := actual.String()
	switch operator {
	case "equals":
		return actualStr == expected
	case "contains":
		return strings.Contains(strings.ToLower(actualStr), strings.ToLower(expected))
	case "gte":
		return actualStr >= expected
	case "lte":
		return actualStr <= expected
	case "gt":
		return actualStr > expected
	case "lt":
		return actualStr < expected
	}
	return false
}
