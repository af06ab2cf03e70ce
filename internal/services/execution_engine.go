package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chatlet/automation-service/internal/models"
	"github.com/chatlet/automation-service/internal/repositories"
	"github.com/chatlet/automation-service/pkg/metrics"
)

var (
	// ErrNoTriggerMatch is returned by Execute when no trigger node matches the event
	ErrNoTriggerMatch = errors.New("no trigger node matched the event")
	// ErrWorkflowInactive is returned when executing a deactivated workflow
	ErrWorkflowInactive = errors.New("workflow is not active")
)

// WorkflowProvider is the engine's read-only view of workflow definitions
type WorkflowProvider interface {
	GetActiveWorkflows(ctx context.Context, tenantID, chatbotID string) ([]models.Workflow, error)
	GetWorkflow(ctx context.Context, tenantID string, id uint) (*models.Workflow, error)
}

// MonitorSink receives one sample per finished execution
type MonitorSink interface {
	Ingest(sample models.PerformanceSample)
}

// triggerMatch pairs a matched trigger node with its computed urgency
type triggerMatch struct {
	node    models.Node
	urgency string
}

// activeExecution is the in-process handle of one running execution. The
// mutex guards the execution record against concurrent reads from the
// active-list and stop paths while the run goroutine appends node results.
type activeExecution struct {
	mu        sync.Mutex
	execution *models.Execution
	cancel    context.CancelFunc
	stopped   bool
}

// ExecutionEngine orchestrates workflow runs end to end: trigger matching,
// breadth-first graph traversal, condition branching, action dispatch, and
// execution history. Safe for concurrent use across distinct executions; the
// only cross-execution shared state is the rate limiter inside the
// dispatcher.
type ExecutionEngine struct {
	workflows  WorkflowProvider
	executions repositories.ExecutionRepository
	matcher    *TriggerMatcher
	evaluator  *ConditionEvaluator
	dispatcher *ActionDispatcher
	monitor    MonitorSink
	collectors *metrics.Collectors
	logger     *zap.Logger
	tracer     trace.Tracer
	timeout    time.Duration

	active sync.Map // execution id -> *activeExecution
	wg     sync.WaitGroup
}

// NewExecutionEngine creates the engine. timeout bounds one execution's wall
// clock including retries.
func NewExecutionEngine(
	workflows WorkflowProvider,
	executions repositories.ExecutionRepository,
	matcher *TriggerMatcher,
	evaluator *ConditionEvaluator,
	dispatcher *ActionDispatcher,
	monitor MonitorSink,
	collectors *metrics.Collectors,
	logger *zap.Logger,
	timeout time.Duration,
) *ExecutionEngine {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &ExecutionEngine{
		workflows:  workflows,
		executions: executions,
		matcher:    matcher,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		monitor:    monitor,
		collectors: collectors,
		logger:     logger,
		tracer:     otel.Tracer("automation-service/engine"),
		timeout:    timeout,
	}
}

// ProcessEvent evaluates one event against all active workflows of its
// chatbot and spawns one independent execution per matched workflow.
// Triggering is fire-and-forget: execution failures surface through history
// and monitoring, never back to the emitter. Returns how many executions
// started.
func (e *ExecutionEngine) ProcessEvent(ctx context.Context, event *models.TriggerEvent) (int, error) {
	if err := event.Validate(); err != nil {
		return 0, err
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	workflows, err := e.workflows.GetActiveWorkflows(ctx, event.TenantID, event.ChatbotID)
	if err != nil {
		return 0, fmt.Errorf("failed to load active workflows: %w", err)
	}

	started := 0
	for i := range workflows {
		workflow := workflows[i]
		matches := e.matchTriggers(&workflow, event)
		if len(matches) == 0 {
			continue
		}
		started++

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runExecution(&workflow, matches, event)
		}()
	}

	e.logger.Debug("Event processed",
		zap.String("event_type", event.Type),
		zap.String("chatbot_id", event.ChatbotID),
		zap.Int("workflows_matched", started))
	return started, nil
}

// Execute runs one workflow synchronously against the event and returns the
// finished execution record.
func (e *ExecutionEngine) Execute(ctx context.Context, tenantID string, workflowID uint, event *models.TriggerEvent) (*models.Execution, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	workflow, err := e.workflows.GetWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		return nil, err
	}
	if !workflow.IsActive {
		return nil, ErrWorkflowInactive
	}

	matches := e.matchTriggers(workflow, event)
	if len(matches) == 0 {
		return nil, ErrNoTriggerMatch
	}
	return e.runExecution(workflow, matches, event), nil
}

// StopExecution cancels a running execution. Returns false without side
// effects when the execution is already terminal or unknown. A retrying
// action observes the cancellation between attempts.
func (e *ExecutionEngine) StopExecution(ctx context.Context, tenantID, executionID string) (bool, error) {
	if v, ok := e.active.Load(executionID); ok {
		entry := v.(*activeExecution)
		entry.mu.Lock()
		defer entry.mu.Unlock()
		if entry.execution.TenantID != tenantID {
			return false, repositories.ErrExecutionNotFound
		}
		if entry.stopped || entry.execution.Status.IsTerminal() {
			return false, nil
		}
		entry.stopped = true
		entry.cancel()
		e.logger.Info("Execution stop requested",
			zap.String("execution_id", executionID))
		return true, nil
	}

	// Not in flight in this process; anything we find in history is terminal.
	if _, err := e.executions.GetByID(ctx, tenantID, executionID); err != nil {
		return false, err
	}
	return false, nil
}

// ListActiveExecutions returns snapshot copies of the currently running
// executions.
func (e *ExecutionEngine) ListActiveExecutions() []models.Execution {
	var out []models.Execution
	e.active.Range(func(_, v interface{}) bool {
		entry := v.(*activeExecution)
		entry.mu.Lock()
		snapshot := *entry.execution
		snapshot.NodeResults = append(models.NodeResultList(nil), entry.execution.NodeResults...)
		entry.mu.Unlock()
		out = append(out, snapshot)
		return true
	})
	return out
}

// GetExecutionHistory returns persisted executions matching the filters.
func (e *ExecutionEngine) GetExecutionHistory(ctx context.Context, tenantID string, filters repositories.ExecutionFilters) ([]models.Execution, int64, error) {
	return e.executions.List(ctx, tenantID, filters)
}

// GetExecution returns one persisted execution.
func (e *ExecutionEngine) GetExecution(ctx context.Context, tenantID, executionID string) (*models.Execution, error) {
	return e.executions.GetByID(ctx, tenantID, executionID)
}

// Wait blocks until all in-flight executions finish. Used during shutdown.
func (e *ExecutionEngine) Wait() {
	e.wg.Wait()
}

func (e *ExecutionEngine) matchTriggers(workflow *models.Workflow, event *models.TriggerEvent) []triggerMatch {
	var matches []triggerMatch
	for _, node := range workflow.TriggerNodes() {
		result := e.matcher.Match(event, node)
		if e.collectors != nil {
			e.collectors.RecordTriggerEvaluation(node.Type, result.Matched)
		}
		if result.Matched {
			matches = append(matches, triggerMatch{node: node, urgency: result.Urgency})
		}
	}
	return matches
}

// runExecution walks the workflow graph breadth-first from the matched
// trigger nodes. The graph is snapshotted up front so concurrent edits to the
// definition cannot corrupt this run. A visited set bounds traversal against
// user-authored cycles; revisiting a node is a no-op logged as a potential
// authoring defect.
func (e *ExecutionEngine) runExecution(workflow *models.Workflow, matches []triggerMatch, event *models.TriggerEvent) *models.Execution {
	nodes, edges := workflow.Snapshot()

	urgency := ""
	for _, m := range matches {
		if urgencyRank(m.urgency) > urgencyRank(urgency) {
			urgency = m.urgency
		}
	}

	execution := &models.Execution{
		ID:            uuid.NewString(),
		WorkflowID:    workflow.ID,
		TenantID:      workflow.TenantID,
		ChatbotID:     workflow.ChatbotID,
		TriggerNodeID: matches[0].node.ID,
		EventType:     event.Type,
		Status:        models.ExecutionStatusPending,
		Urgency:       urgency,
		StartedAt:     time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	entry := &activeExecution{execution: execution, cancel: cancel}
	e.active.Store(execution.ID, entry)
	defer e.active.Delete(execution.ID)

	if e.collectors != nil {
		e.collectors.ExecutionStarted()
		defer e.collectors.ExecutionFinished()
	}

	ctx, span := e.tracer.Start(ctx, "workflow.execution",
		trace.WithAttributes(
			attribute.String("execution.id", execution.ID),
			attribute.Int64("workflow.id", int64(workflow.ID)),
			attribute.String("tenant.id", workflow.TenantID),
			attribute.String("event.type", event.Type),
		))
	defer span.End()

	// History writes are best effort; persistence being down must not abort
	// an in-flight execution.
	if err := e.executions.Create(ctx, execution); err != nil {
		e.logger.Warn("Failed to persist execution record",
			zap.String("execution_id", execution.ID),
			zap.Error(err))
	}

	e.setStatus(entry, models.ExecutionStatusRunning)

	nodeByID := make(map[string]models.Node, len(nodes))
	for _, n := range nodes {
		nodeByID[n.ID] = n
	}
	outgoing := make(map[string][]models.Edge, len(edges))
	for _, edge := range edges {
		outgoing[edge.Source] = append(outgoing[edge.Source], edge)
	}

	execCtx := NewExecContext(event)
	if urgency != "" {
		execCtx.Set("urgency", models.StringValue(urgency))
	}

	scope := DispatchScope{
		TenantID:  workflow.TenantID,
		ChatbotID: workflow.ChatbotID,
		Tier:      execCtx.ResolveString("tier"),
	}

	visited := make(map[string]bool, len(nodes))
	var queue []string

	enqueue := func(id string) {
		if visited[id] {
			e.logger.Warn("Cycle detected in workflow graph, node already visited",
				zap.Uint("workflow_id", workflow.ID),
				zap.String("node_id", id))
			return
		}
		visited[id] = true
		queue = append(queue, id)
	}

	for _, m := range matches {
		visited[m.node.ID] = true
		e.appendResult(entry, models.NodeResult{
			NodeID:  m.node.ID,
			Outcome: models.NodeOutcomeMatched,
			Urgency: m.urgency,
		})
		for _, edge := range outgoing[m.node.ID] {
			enqueue(edge.Target)
		}
	}

	permanentFailure := false
	failureError := ""
	aborted := false

	for len(queue) > 0 && !aborted {
		if ctx.Err() != nil {
			break
		}

		id := queue[0]
		queue = queue[1:]

		node, ok := nodeByID[id]
		if !ok {
			e.logger.Warn("Edge references unknown node",
				zap.Uint("workflow_id", workflow.ID),
				zap.String("node_id", id))
			continue
		}

		failed, errMsg, stop := e.visitNode(ctx, entry, execCtx, node, outgoing, scope, enqueue)
		if failed && errMsg != "" {
			permanentFailure = true
			failureError = errMsg
		}
		if stop {
			aborted = true
		}
	}

	now := time.Now()
	entry.mu.Lock()
	stopped := entry.stopped
	entry.mu.Unlock()

	var final models.ExecutionStatus
	var finalError string
	switch {
	case stopped:
		final = models.ExecutionStatusCancelled
		finalError = "execution cancelled"
	case ctx.Err() != nil:
		final = models.ExecutionStatusFailed
		finalError = "execution timed out"
	case permanentFailure:
		final = models.ExecutionStatusFailed
		finalError = failureError
	default:
		final = models.ExecutionStatusCompleted
	}

	entry.mu.Lock()
	if execution.Status.CanTransition(final) {
		execution.Status = final
	}
	execution.Error = finalError
	execution.CompletedAt = &now
	entry.mu.Unlock()

	if execution.Status == models.ExecutionStatusFailed {
		span.SetStatus(codes.Error, execution.Error)
	}
	span.SetAttributes(attribute.String("execution.status", string(execution.Status)))

	if err := e.executions.Update(context.Background(), execution); err != nil {
		e.logger.Warn("Failed to persist execution result",
			zap.String("execution_id", execution.ID),
			zap.Error(err))
	}

	duration := execution.Duration()
	if e.collectors != nil {
		e.collectors.RecordExecution(workflow.ID, string(execution.Status), duration)
	}
	if e.monitor != nil &&
		(execution.Status == models.ExecutionStatusCompleted || execution.Status == models.ExecutionStatusFailed) {
		e.monitor.Ingest(models.PerformanceSample{
			ExecutionID: execution.ID,
			WorkflowID:  workflow.ID,
			ChatbotID:   workflow.ChatbotID,
			Status:      execution.Status,
			Duration:    duration,
			Timestamp:   now,
		})
	}

	e.logger.Info("Execution finished",
		zap.String("execution_id", execution.ID),
		zap.Uint("workflow_id", workflow.ID),
		zap.String("status", string(execution.Status)),
		zap.Duration("duration", duration))

	return execution
}

// visitNode processes one node with a recover boundary so an internal panic
// fails that node only, never the whole executor process. Returns whether the
// node failed permanently, the failure detail, and whether traversal must
// stop (fail-fast nodes).
func (e *ExecutionEngine) visitNode(
	ctx context.Context,
	entry *activeExecution,
	execCtx *ExecContext,
	node models.Node,
	outgoing map[string][]models.Edge,
	scope DispatchScope,
	enqueue func(string),
) (permanentFailure bool, failureError string, stop bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Internal error while processing node",
				zap.String("node_id", node.ID),
				zap.Any("panic", r))
			e.appendResult(entry, models.NodeResult{
				NodeID:  node.ID,
				Outcome: models.NodeOutcomeFailed,
				Error:   fmt.Sprintf("internal error: %v", r),
			})
		}
	}()

	switch node.Kind {
	case models.NodeKindCondition:
		branch := e.evaluator.Evaluate(execCtx, node)
		e.appendResult(entry, models.NodeResult{
			NodeID:  node.ID,
			Outcome: models.NodeOutcomeSuccess,
			Branch:  branch,
		})
		for _, edge := range outgoing[node.ID] {
			if edge.Branch == "" || edge.Branch == branch {
				enqueue(edge.Target)
			}
		}

	case models.NodeKindAction:
		result := e.dispatcher.Dispatch(ctx, execCtx, node, scope)
		e.appendResult(entry, result.NodeResult)

		execCtx.Set(node.ID+".outcome", models.StringValue(string(result.Outcome)))

		if result.Outcome == models.NodeOutcomeFailed {
			if result.Permanent {
				permanentFailure = true
				failureError = result.Error
			}
			if configBool(node.Config, "fail_fast", false) {
				permanentFailure = true
				if failureError == "" {
					failureError = result.Error
				}
				return permanentFailure, failureError, true
			}
		}

		// A failed action does not abort its downstream path or sibling
		// branches unless fail_fast is set.
		for _, edge := range outgoing[node.ID] {
			enqueue(edge.Target)
		}

	default:
		// A trigger reached mid-graph is an authoring oddity; skip it and
		// keep walking.
		e.appendResult(entry, models.NodeResult{
			NodeID:  node.ID,
			Outcome: models.NodeOutcomeSkipped,
		})
		for _, edge := range outgoing[node.ID] {
			enqueue(edge.Target)
		}
	}

	return permanentFailure, failureError, stop
}

func (e *ExecutionEngine) appendResult(entry *activeExecution, result models.NodeResult) {
	entry.mu.Lock()
	entry.execution.NodeResults = append(entry.execution.NodeResults, result)
	entry.mu.Unlock()
}

func (e *ExecutionEngine) setStatus(entry *activeExecution, status models.ExecutionStatus) {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.execution.Status.CanTransition(status) {
		entry.execution.Status = status
	}
}
