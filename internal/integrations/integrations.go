package integrations

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chatlet/automation-service/internal/models"
)

// Result is the uniform outcome shape every integration adapter returns.
// The dispatcher never sees provider-specific wire formats, only this.
type Result struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
}

// Adapter is the uniform contract for external integrations (messaging,
// CRM, spreadsheet, conversation platform). config is the action node's
// raw configuration; resolved holds the template-resolved string fields.
type Adapter interface {
	Name() string
	Send(ctx context.Context, action string, config models.JSONMap, resolved map[string]string) (*Result, error)
}

// TransientError marks a failure worth retrying: network errors, 429s,
// 5xx responses, open circuit breakers.
type TransientError struct {
	Reason string
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient integration error: %s", e.Reason)
}

// PermanentError marks a failure that retrying cannot fix: auth failures,
// unknown targets, rejected payloads.
type PermanentError struct {
	Reason string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent integration error: %s", e.Reason)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// IsPermanent reports whether err is a non-retryable integration failure.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// ActionSpec declares which adapter serves an action type and which config
// fields it requires. Validation enforces Required at workflow-save time.
type ActionSpec struct {
	Adapter  string
	Required []string
	Optional []string
}

// Catalog is the closed set of supported action types. Unknown action tags
// are rejected at validation time, unlike trigger types which stay inert.
var Catalog = map[string]ActionSpec{
	"send_message": {
		Adapter:  "messaging",
		Required: []string{"channel", "message"},
		Optional: []string{"sender_name"},
	},
	"create_crm_contact": {
		Adapter:  "crm",
		Required: []string{"email"},
		Optional: []string{"name", "phone", "company"},
	},
	"append_spreadsheet_row": {
		Adapter:  "spreadsheet",
		Required: []string{"spreadsheet_id", "values"},
		Optional: []string{"sheet_name"},
	},
	"tag_conversation": {
		Adapter:  "conversation",
		Required: []string{"tag"},
	},
	"add_note": {
		Adapter:  "conversation",
		Required: []string{"note"},
	},
	"assign_agent": {
		Adapter:  "conversation",
		Required: []string{"assignee"},
	},
	"auto_approve_return": {
		Adapter:  "conversation",
		Required: []string{"order_id"},
		Optional: []string{"reason"},
	},
}

// Registry maps adapter names to adapter instances
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register installs an adapter under its name, replacing any previous one.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Resolve returns the adapter and spec for an action type.
func (r *Registry) Resolve(actionType string) (Adapter, ActionSpec, error) {
	spec, ok := Catalog[actionType]
	if !ok {
		return nil, ActionSpec{}, fmt.Errorf("unknown action type: %s", actionType)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[spec.Adapter]
	if !ok {
		return nil, spec, fmt.Errorf("no adapter registered for %s", spec.Adapter)
	}
	return adapter, spec, nil
}
