package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// BaseModel contains common fields for all persisted models
type BaseModel struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// JSONMap represents a JSON object stored in the database
type JSONMap map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}

	return json.Unmarshal(bytes, j)
}

// NodeKind classifies a workflow node
type NodeKind string

const (
	NodeKindTrigger   NodeKind = "trigger"
	NodeKindCondition NodeKind = "condition"
	NodeKindAction    NodeKind = "action"
)

// Node is one vertex of a workflow graph. Type is the behavior tag
// ("sentiment_trigger", "condition_check", "send_message", ...) and Config
// holds the node's typed parameters.
type Node struct {
	ID     string   `json:"id"`
	Kind   NodeKind `json:"kind"`
	Type   string   `json:"type"`
	Config JSONMap  `json:"config,omitempty"`
}

// Edge connects two nodes. Branch is the optional label selected by a
// condition node ("true"/"false").
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Branch string `json:"branch,omitempty"`
}

// NodeList is a JSONB-persisted slice of nodes
type NodeList []Node

func (n NodeList) Value() (driver.Value, error) {
	if n == nil {
		return nil, nil
	}
	return json.Marshal(n)
}

func (n *NodeList) Scan(value interface{}) error {
	if value == nil {
		*n = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into NodeList", value)
	}
	return json.Unmarshal(bytes, n)
}

// EdgeList is a JSONB-persisted slice of edges
type EdgeList []Edge

func (e EdgeList) Value() (driver.Value, error) {
	if e == nil {
		return nil, nil
	}
	return json.Marshal(e)
}

func (e *EdgeList) Scan(value interface{}) error {
	if value == nil {
		*e = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into EdgeList", value)
	}
	return json.Unmarshal(bytes, e)
}

// Workflow is a user-authored trigger/condition/action graph owned by one
// chatbot of one tenant. The engine treats definitions as read-only and
// snapshots the graph at execution start.
type Workflow struct {
	BaseModel
	TenantID    string   `gorm:"size:255;not null;index" json:"tenant_id"`
	ChatbotID   string   `gorm:"size:255;not null;index" json:"chatbot_id"`
	Name        string   `gorm:"size:255;not null" json:"name"`
	Description string   `gorm:"type:text" json:"description"`
	IsActive    bool     `gorm:"default:true;index" json:"is_active"`
	Nodes       NodeList `gorm:"type:jsonb;not null" json:"nodes"`
	Edges       EdgeList `gorm:"type:jsonb" json:"edges"`
}

func (Workflow) TableName() string {
	return "workflows"
}

// Snapshot returns a deep copy of the workflow graph so concurrent edits to
// the definition cannot corrupt an in-flight run.
func (w *Workflow) Snapshot() (NodeList, EdgeList) {
	nodes := make(NodeList, len(w.Nodes))
	for i, n := range w.Nodes {
		cfg := make(JSONMap, len(n.Config))
		for k, v := range n.Config {
			cfg[k] = v
		}
		nodes[i] = Node{ID: n.ID, Kind: n.Kind, Type: n.Type, Config: cfg}
	}
	edges := make(EdgeList, len(w.Edges))
	copy(edges, w.Edges)
	return nodes, edges
}

// TriggerNodes returns the trigger-kind roots of the graph.
func (w *Workflow) TriggerNodes() []Node {
	var triggers []Node
	for _, n := range w.Nodes {
		if n.Kind == NodeKindTrigger {
			triggers = append(triggers, n)
		}
	}
	return triggers
}

// ExecutionStatus is the lifecycle state of one workflow run
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "PENDING"
	ExecutionStatusRunning   ExecutionStatus = "RUNNING"
	ExecutionStatusCompleted ExecutionStatus = "COMPLETED"
	ExecutionStatusFailed    ExecutionStatus = "FAILED"
	ExecutionStatusCancelled ExecutionStatus = "CANCELLED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// rank orders statuses so that transitions are monotonic.
func (s ExecutionStatus) rank() int {
	switch s {
	case ExecutionStatusPending:
		return 0
	case ExecutionStatusRunning:
		return 1
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return 2
	}
	return -1
}

// CanTransition reports whether moving from s to next is a legal forward
// transition. Terminal states never transition.
func (s ExecutionStatus) CanTransition(next ExecutionStatus) bool {
	if s.IsTerminal() {
		return false
	}
	return next.rank() > s.rank()
}

// NodeOutcome is the per-node result classification
type NodeOutcome string

const (
	NodeOutcomeMatched     NodeOutcome = "matched"
	NodeOutcomeSuccess     NodeOutcome = "success"
	NodeOutcomeFailed      NodeOutcome = "failed"
	NodeOutcomeSkipped     NodeOutcome = "skipped"
	NodeOutcomeRateLimited NodeOutcome = "rate_limited"
	NodeOutcomeCancelled   NodeOutcome = "cancelled"
)

// NodeResult is one entry of an execution's ordered node log
type NodeResult struct {
	NodeID     string      `json:"node_id"`
	Outcome    NodeOutcome `json:"outcome"`
	Error      string      `json:"error,omitempty"`
	Branch     string      `json:"branch,omitempty"`
	Urgency    string      `json:"urgency,omitempty"`
	Attempts   int         `json:"attempts,omitempty"`
	DurationMs int64       `json:"duration_ms"`
}

// NodeResultList is a JSONB-persisted node log
type NodeResultList []NodeResult

func (n NodeResultList) Value() (driver.Value, error) {
	if n == nil {
		return nil, nil
	}
	return json.Marshal(n)
}

func (n *NodeResultList) Scan(value interface{}) error {
	if value == nil {
		*n = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into NodeResultList", value)
	}
	return json.Unmarshal(bytes, n)
}

// Execution records one end-to-end workflow run. Written exclusively by the
// execution engine; read by history and monitoring consumers.
type Execution struct {
	ID            string          `gorm:"primarykey;size:36" json:"id"`
	WorkflowID    uint            `gorm:"not null;index" json:"workflow_id"`
	TenantID      string          `gorm:"size:255;not null;index" json:"tenant_id"`
	ChatbotID     string          `gorm:"size:255;not null;index" json:"chatbot_id"`
	TriggerNodeID string          `gorm:"size:255" json:"trigger_node_id"`
	EventType     string          `gorm:"size:100;index" json:"event_type"`
	Status        ExecutionStatus `gorm:"size:20;not null;index" json:"status"`
	Urgency       string          `gorm:"size:20" json:"urgency,omitempty"`
	StartedAt     time.Time       `gorm:"not null;index" json:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	NodeResults   NodeResultList  `gorm:"type:jsonb" json:"node_results"`
	Error         string          `gorm:"type:text" json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (Execution) TableName() string {
	return "workflow_executions"
}

// Duration returns the wall-clock duration of a finished execution.
func (e *Execution) Duration() time.Duration {
	if e.CompletedAt == nil {
		return 0
	}
	return e.CompletedAt.Sub(e.StartedAt)
}

// TriggerEvent is the transient envelope collaborators emit into the engine.
// It is consumed once and never persisted directly.
type TriggerEvent struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	TenantID       string     `json:"tenant_id"`
	ChatbotID      string     `json:"chatbot_id"`
	ConversationID string     `json:"conversation_id,omitempty"`
	MessageID      string     `json:"message_id,omitempty"`
	UserID         string     `json:"user_id,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
	Payload        PayloadMap `json:"payload"`
}

var (
	// ErrEventMissingType is returned for events without a type tag
	ErrEventMissingType = errors.New("trigger event missing type")
	// ErrEventMissingTenant is returned for events without a tenant id
	ErrEventMissingTenant = errors.New("trigger event missing tenant id")
)

// Validate rejects malformed events before they reach the engine.
func (e *TriggerEvent) Validate() error {
	if e == nil || e.Type == "" {
		return ErrEventMissingType
	}
	if e.TenantID == "" {
		return ErrEventMissingTenant
	}
	return nil
}

// AlertRule compares a monitor metric against a threshold
type AlertRule struct {
	BaseModel
	TenantID        string  `gorm:"size:255;index" json:"tenant_id"`
	Name            string  `gorm:"size:255;not null" json:"name"`
	Metric          string  `gorm:"size:100;not null" json:"metric"`
	Operator        string  `gorm:"size:10;not null" json:"operator"`
	Threshold       float64 `gorm:"not null" json:"threshold"`
	WorkflowID      *uint   `gorm:"index" json:"workflow_id,omitempty"`
	CooldownSeconds int     `gorm:"default:300" json:"cooldown_seconds"`
	IsActive        bool    `gorm:"default:true;index" json:"is_active"`
}

func (AlertRule) TableName() string {
	return "automation_alert_rules"
}

// PerformanceSample is one monitor ingest record per finished execution
type PerformanceSample struct {
	ExecutionID string
	WorkflowID  uint
	ChatbotID   string
	Status      ExecutionStatus
	Duration    time.Duration
	Timestamp   time.Time
}
