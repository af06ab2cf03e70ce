package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/chatlet/automation-service/internal/integrations"
	"github.com/chatlet/automation-service/internal/models"
	"github.com/chatlet/automation-service/internal/repositories"
)

// ErrWorkflowInvalid wraps validation failures on save
var ErrWorkflowInvalid = errors.New("workflow validation failed")

// ValidationResult is the outcome of structural workflow validation
type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// WorkflowService validates and stores workflow definitions. It is the
// engine's only source of "what to run".
type WorkflowService struct {
	repo   repositories.WorkflowRepository
	logger *zap.Logger
}

// NewWorkflowService creates a workflow service
func NewWorkflowService(repo repositories.WorkflowRepository, logger *zap.Logger) *WorkflowService {
	return &WorkflowService{repo: repo, logger: logger}
}

// CreateWorkflow validates and persists a new workflow definition.
func (s *WorkflowService) CreateWorkflow(ctx context.Context, workflow *models.Workflow) (*ValidationResult, error) {
	validation := s.ValidateWorkflow(workflow.Nodes, workflow.Edges)
	if !validation.IsValid {
		return validation, ErrWorkflowInvalid
	}
	if err := s.repo.Create(ctx, workflow); err != nil {
		return validation, err
	}
	s.logger.Info("Workflow created",
		zap.Uint("workflow_id", workflow.ID),
		zap.String("tenant_id", workflow.TenantID),
		zap.String("name", workflow.Name))
	return validation, nil
}

// UpdateWorkflow validates and persists changes to an existing workflow.
func (s *WorkflowService) UpdateWorkflow(ctx context.Context, workflow *models.Workflow) (*ValidationResult, error) {
	validation := s.ValidateWorkflow(workflow.Nodes, workflow.Edges)
	if !validation.IsValid {
		return validation, ErrWorkflowInvalid
	}
	if err := s.repo.Update(ctx, workflow); err != nil {
		return validation, err
	}
	return validation, nil
}

// GetWorkflow returns one workflow by id within the tenant.
func (s *WorkflowService) GetWorkflow(ctx context.Context, tenantID string, id uint) (*models.Workflow, error) {
	return s.repo.GetByID(ctx, tenantID, id)
}

// ListWorkflows returns a filtered, paginated workflow listing.
func (s *WorkflowService) ListWorkflows(ctx context.Context, tenantID string, filters repositories.WorkflowFilters) ([]models.Workflow, int64, error) {
	return s.repo.List(ctx, tenantID, filters)
}

// GetActiveWorkflows returns the active workflows of one chatbot. This is the
// event hot path; the repository caches it.
func (s *WorkflowService) GetActiveWorkflows(ctx context.Context, tenantID, chatbotID string) ([]models.Workflow, error) {
	return s.repo.ListActiveForChatbot(ctx, tenantID, chatbotID)
}

// DeleteWorkflow soft-deletes a workflow.
func (s *WorkflowService) DeleteWorkflow(ctx context.Context, tenantID string, id uint) error {
	return s.repo.Delete(ctx, tenantID, id)
}

// ValidateWorkflow performs structural validation of a workflow graph:
// trigger roots exist, node ids are unique, action and condition tags are
// known with their required config present, edges reference existing nodes,
// every non-trigger node is reachable from a trigger, and no cycle is
// reachable from a trigger. Unknown trigger types are a warning, not an
// error: they stay inert at runtime.
func (s *WorkflowService) ValidateWorkflow(nodes models.NodeList, edges models.EdgeList) *ValidationResult {
	result := &ValidationResult{Errors: []string{}, Warnings: []string{}}

	nodeByID := make(map[string]models.Node, len(nodes))
	triggerCount := 0

	for _, node := range nodes {
		if node.ID == "" {
			result.Errors = append(result.Errors, "node with empty id")
			continue
		}
		if _, dup := nodeByID[node.ID]; dup {
			result.Errors = append(result.Errors, fmt.Sprintf("duplicate node id %q", node.ID))
			continue
		}
		nodeByID[node.ID] = node

		switch node.Kind {
		case models.NodeKindTrigger:
			triggerCount++
			if !knownTriggerType(node.Type) {
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("unknown trigger type %q on node %q will never fire", node.Type, node.ID))
			}
		case models.NodeKindCondition:
			s.validateConditionNode(node, result)
		case models.NodeKindAction:
			s.validateActionNode(node, result)
		default:
			result.Errors = append(result.Errors,
				fmt.Sprintf("node %q has unknown kind %q", node.ID, node.Kind))
		}
	}

	if triggerCount == 0 {
		result.Errors = append(result.Errors, "workflow has no trigger node")
	}

	for _, edge := range edges {
		if _, ok := nodeByID[edge.Source]; !ok {
			result.Errors = append(result.Errors,
				fmt.Sprintf("edge references unknown source node %q", edge.Source))
		}
		if _, ok := nodeByID[edge.Target]; !ok {
			result.Errors = append(result.Errors,
				fmt.Sprintf("edge references unknown target node %q", edge.Target))
		}
	}

	if len(result.Errors) == 0 {
		s.validateGraphShape(nodes, edges, nodeByID, result)
	}

	result.IsValid = len(result.Errors) == 0
	return result
}

func (s *WorkflowService) validateConditionNode(node models.Node, result *ValidationResult) {
	if configString(node.Config, "field", "") == "" {
		result.Errors = append(result.Errors,
			fmt.Sprintf("condition node %q missing required field %q", node.ID, "field"))
	}
	operator := configString(node.Config, "operator", "")
	if !conditionOperators[operator] {
		result.Errors = append(result.Errors,
			fmt.Sprintf("condition node %q has unknown operator %q", node.ID, operator))
	}
	if node.Config == nil || node.Config["value"] == nil {
		result.Errors = append(result.Errors,
			fmt.Sprintf("condition node %q missing required field %q", node.ID, "value"))
	}
}

func (s *WorkflowService) validateActionNode(node models.Node, result *ValidationResult) {
	spec, ok := integrations.Catalog[node.Type]
	if !ok {
		result.Errors = append(result.Errors,
			fmt.Sprintf("action node %q has unknown action type %q", node.ID, node.Type))
		return
	}
	for _, field := range spec.Required {
		if node.Config == nil || node.Config[field] == nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("action node %q missing required field %q", node.ID, field))
		}
	}
}

// validateGraphShape checks reachability and cycles from the trigger roots.
func (s *WorkflowService) validateGraphShape(nodes models.NodeList, edges models.EdgeList, nodeByID map[string]models.Node, result *ValidationResult) {
	outgoing := make(map[string][]string, len(edges))
	for _, edge := range edges {
		outgoing[edge.Source] = append(outgoing[edge.Source], edge.Target)
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(nodes))
	cycleReported := false

	var walk func(id string)
	walk = func(id string) {
		state[id] = inStack
		for _, next := range outgoing[id] {
			switch state[next] {
			case unvisited:
				walk(next)
			case inStack:
				if !cycleReported {
					result.Errors = append(result.Errors,
						fmt.Sprintf("cycle reachable from a trigger through node %q", next))
					cycleReported = true
				}
			}
		}
		state[id] = done
	}

	for _, node := range nodes {
		if node.Kind == models.NodeKindTrigger {
			if state[node.ID] == unvisited {
				walk(node.ID)
			}
		}
	}

	for _, node := range nodes {
		if node.Kind != models.NodeKindTrigger && state[node.ID] == unvisited {
			result.Errors = append(result.Errors,
				fmt.Sprintf("node %q is not reachable from any trigger", node.ID))
		}
	}
}

func knownTriggerType(triggerType string) bool {
	switch triggerType {
	case "keyword_trigger", "keyword",
		"negative_sentiment", "sentiment_trigger",
		"high_value_lead", "lead_score_trigger",
		"escalation_trigger":
		return true
	}
	_, ok := eventTypeTriggers[triggerType]
	return ok
}
