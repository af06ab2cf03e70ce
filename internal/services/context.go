package services

import (
	"github.com/chatlet/automation-service/internal/models"
)

// ExecContext is the accumulated resolution context of one execution: the
// trigger event's payload plus correlation ids plus upstream node outputs.
// It is owned exclusively by its execution task and never shared, so it
// needs no locking.
type ExecContext struct {
	values models.PayloadMap
}

// NewExecContext seeds a context from the trigger event. Payload fields keep
// their dotted keys; correlation ids are exposed under "event." keys and, for
// template convenience, under their bare names when the payload does not
// already define them.
func NewExecContext(event *models.TriggerEvent) *ExecContext {
	values := make(models.PayloadMap, len(event.Payload)+8)
	for k, v := range event.Payload {
		values[k] = v
	}

	values["event.id"] = models.StringValue(event.ID)
	values["event.type"] = models.StringValue(event.Type)
	values["event.tenant_id"] = models.StringValue(event.TenantID)
	values["event.chatbot_id"] = models.StringValue(event.ChatbotID)

	seedIfAbsent(values, "conversation_id", event.ConversationID)
	seedIfAbsent(values, "message_id", event.MessageID)
	seedIfAbsent(values, "user_id", event.UserID)

	return &ExecContext{values: values}
}

func seedIfAbsent(values models.PayloadMap, key, val string) {
	if val == "" {
		return
	}
	if _, ok := values[key]; !ok {
		values[key] = models.StringValue(val)
	}
}

// Set records an upstream node output under key.
func (c *ExecContext) Set(key string, value models.PayloadValue) {
	c.values[key] = value
}

// Resolve looks up a dotted-path field. Missing fields return ok=false.
func (c *ExecContext) Resolve(path string) (models.PayloadValue, bool) {
	return c.values.Resolve(path)
}

// ResolveString renders a field for template substitution; missing fields
// render as the empty string.
func (c *ExecContext) ResolveString(path string) string {
	v, ok := c.values.Resolve(path)
	if !ok {
		return ""
	}
	return v.String()
}
