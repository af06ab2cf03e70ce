package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/chatlet/automation-service/internal/models"
)

func testEvent(payload models.PayloadMap) *models.TriggerEvent {
	return &models.TriggerEvent{
		ID:        "evt-1",
		Type:      "message_received",
		TenantID:  "tenant-1",
		ChatbotID: "bot-1",
		Payload:   payload,
	}
}

func TestNegativeSentimentTriggerMatchesWithHighUrgency(t *testing.T) {
	m := NewTriggerMatcher(zaptest.NewLogger(t))

	node := models.Node{
		ID: "t1", Kind: models.NodeKindTrigger, Type: "negative_sentiment",
		Config: models.JSONMap{"threshold": -0.6},
	}
	event := testEvent(models.PayloadMap{"sentiment": models.NumberValue(-0.8)})

	result := m.Match(event, node)
	assert.True(t, result.Matched)
	assert.Equal(t, UrgencyHigh, result.Urgency)
}

func TestSentimentTriggerCriticalBelowMinusPointEight(t *testing.T) {
	m := NewTriggerMatcher(zaptest.NewLogger(t))
	node := models.Node{
		ID: "t1", Kind: models.NodeKindTrigger, Type: "sentiment_trigger",
		Config: models.JSONMap{"threshold": -0.5},
	}

	result := m.Match(testEvent(models.PayloadMap{"sentiment": models.NumberValue(-0.9)}), node)
	assert.True(t, result.Matched)
	assert.Equal(t, UrgencyCritical, result.Urgency)

	// Exactly -0.8 is not strictly below -0.8.
	result = m.Match(testEvent(models.PayloadMap{"sentiment": models.NumberValue(-0.8)}), node)
	assert.True(t, result.Matched)
	assert.Equal(t, UrgencyHigh, result.Urgency)
}

func TestSentimentTriggerDoesNotMatchAboveThreshold(t *testing.T) {
	m := NewTriggerMatcher(zaptest.NewLogger(t))
	node := models.Node{
		ID: "t1", Kind: models.NodeKindTrigger, Type: "negative_sentiment",
		Config: models.JSONMap{"threshold": -0.6},
	}

	result := m.Match(testEvent(models.PayloadMap{"sentiment": models.NumberValue(-0.2)}), node)
	assert.False(t, result.Matched)

	// Missing sentiment field never matches.
	result = m.Match(testEvent(models.PayloadMap{}), node)
	assert.False(t, result.Matched)
}

func TestKeywordTriggerModes(t *testing.T) {
	m := NewTriggerMatcher(zaptest.NewLogger(t))
	event := testEvent(models.PayloadMap{"message": models.StringValue("I want a REFUND now")})

	tests := []struct {
		name    string
		config  models.JSONMap
		matched bool
	}{
		{"contains case-insensitive", models.JSONMap{"keywords": []interface{}{"refund"}}, true},
		{"contains miss", models.JSONMap{"keywords": []interface{}{"cancel"}}, false},
		{"exact miss", models.JSONMap{"keywords": []interface{}{"refund"}, "match_mode": "exact"}, false},
		{"exact hit", models.JSONMap{"keywords": []interface{}{"i want a refund now"}, "match_mode": "exact"}, true},
		{"prefix hit", models.JSONMap{"keywords": []interface{}{"i want"}, "match_mode": "prefix"}, true},
		{"regex hit", models.JSONMap{"keywords": []interface{}{`re[fp]und`}, "match_mode": "regex"}, true},
		{"invalid regex never matches", models.JSONMap{"keywords": []interface{}{`re[fund`}, "match_mode": "regex"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := models.Node{ID: "t1", Kind: models.NodeKindTrigger, Type: "keyword_trigger", Config: tt.config}
			assert.Equal(t, tt.matched, m.Match(event, node).Matched)
		})
	}
}

func TestLeadScoreTrigger(t *testing.T) {
	m := NewTriggerMatcher(zaptest.NewLogger(t))
	node := models.Node{
		ID: "t1", Kind: models.NodeKindTrigger, Type: "high_value_lead",
		Config: models.JSONMap{"threshold": float64(80)},
	}

	result := m.Match(testEvent(models.PayloadMap{"lead_score": models.NumberValue(85)}), node)
	assert.True(t, result.Matched)
	assert.Equal(t, UrgencyHigh, result.Urgency)

	result = m.Match(testEvent(models.PayloadMap{"lead_score": models.NumberValue(80)}), node)
	assert.True(t, result.Matched, "gte direction includes the threshold")

	result = m.Match(testEvent(models.PayloadMap{"lead_score": models.NumberValue(79)}), node)
	assert.False(t, result.Matched)
}

func TestEscalationTriggerPriorityLadder(t *testing.T) {
	m := NewTriggerMatcher(zaptest.NewLogger(t))
	node := models.Node{
		ID: "t1", Kind: models.NodeKindTrigger, Type: "escalation_trigger",
		Config: models.JSONMap{
			"critical_keywords":       []interface{}{"lawsuit"},
			"message_count_threshold": float64(10),
			"default_urgency":         UrgencyLow,
		},
	}

	result := m.Match(testEvent(models.PayloadMap{
		"message":   models.StringValue("I will file a LAWSUIT"),
		"sentiment": models.NumberValue(0.1),
	}), node)
	assert.True(t, result.Matched)
	assert.Equal(t, UrgencyCritical, result.Urgency)

	// Sentiment at -0.8 is critical for the composite trigger.
	result = m.Match(testEvent(models.PayloadMap{"sentiment": models.NumberValue(-0.8)}), node)
	assert.True(t, result.Matched)
	assert.Equal(t, UrgencyCritical, result.Urgency)

	result = m.Match(testEvent(models.PayloadMap{"sentiment": models.NumberValue(-0.6)}), node)
	assert.True(t, result.Matched)
	assert.Equal(t, UrgencyHigh, result.Urgency)

	result = m.Match(testEvent(models.PayloadMap{"message_count": models.NumberValue(12)}), node)
	assert.True(t, result.Matched)
	assert.Equal(t, UrgencyMedium, result.Urgency)

	result = m.Match(testEvent(models.PayloadMap{"sentiment": models.NumberValue(0.5)}), node)
	assert.False(t, result.Matched)
}

// Unknown trigger types stay inert so future types don't break older graphs.
// This is the explicit exception; unknown action and condition tags are
// rejected at validation time instead.
func TestUnknownTriggerTypeIsInert(t *testing.T) {
	m := NewTriggerMatcher(zaptest.NewLogger(t))
	node := models.Node{ID: "t1", Kind: models.NodeKindTrigger, Type: "hologram_trigger"}

	result := m.Match(testEvent(models.PayloadMap{"message": models.StringValue("anything")}), node)
	assert.False(t, result.Matched)
	assert.Empty(t, result.Urgency)
}

func TestMatchIsPure(t *testing.T) {
	m := NewTriggerMatcher(zaptest.NewLogger(t))
	node := models.Node{
		ID: "t1", Kind: models.NodeKindTrigger, Type: "negative_sentiment",
		Config: models.JSONMap{"threshold": -0.6},
	}
	event := testEvent(models.PayloadMap{"sentiment": models.NumberValue(-0.7)})

	first := m.Match(event, node)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, m.Match(event, node))
	}
}
