package services

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/chatlet/automation-service/internal/models"
)

// Urgency levels attached to trigger matches, ordered weakest to strongest
const (
	UrgencyLow      = "low"
	UrgencyMedium   = "medium"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

// urgencyRank orders urgency tags so composite matches can pick the strongest
func urgencyRank(u string) int {
	switch u {
	case UrgencyCritical:
		return 3
	case UrgencyHigh:
		return 2
	case UrgencyMedium:
		return 1
	case UrgencyLow:
		return 0
	}
	return -1
}

// MatchResult is the outcome of evaluating one trigger node against one event
type MatchResult struct {
	Matched bool
	Urgency string
}

// TriggerMatcher evaluates trigger nodes against incoming events. Match is a
// pure function of the event and the node configuration; the matcher itself
// holds no per-event state.
type TriggerMatcher struct {
	logger *zap.Logger
}

// NewTriggerMatcher creates a trigger matcher
func NewTriggerMatcher(logger *zap.Logger) *TriggerMatcher {
	return &TriggerMatcher{logger: logger}
}

// eventTypeTriggers maps simple presence triggers to the event type they fire on
var eventTypeTriggers = map[string]string{
	"new_conversation": "conversation_started",
	"new_message":      "message_received",
	"lead_captured":    "lead_captured",
	"image_upload":     "image_uploaded",
}

// Match evaluates event against a trigger node. Unknown trigger types are
// inert: they never match and never error, so older graphs keep working when
// newer trigger types appear.
func (m *TriggerMatcher) Match(event *models.TriggerEvent, node models.Node) MatchResult {
	switch node.Type {
	case "keyword_trigger", "keyword":
		return m.matchKeyword(event, node)
	case "negative_sentiment", "sentiment_trigger":
		return m.matchSentiment(event, node)
	case "high_value_lead", "lead_score_trigger":
		return m.matchLeadScore(event, node)
	case "escalation_trigger":
		return m.matchEscalation(event, node)
	}

	if eventType, ok := eventTypeTriggers[node.Type]; ok {
		if event.Type == eventType {
			return MatchResult{Matched: true, Urgency: configString(node.Config, "urgency", UrgencyLow)}
		}
		return MatchResult{}
	}

	return MatchResult{}
}

func (m *TriggerMatcher) matchKeyword(event *models.TriggerEvent, node models.Node) MatchResult {
	keywords := configStringList(node.Config, "keywords")
	if len(keywords) == 0 {
		return MatchResult{}
	}

	field := configString(node.Config, "field", "message")
	text, ok := event.Payload.Resolve(field)
	if !ok {
		return MatchResult{}
	}
	haystack := strings.ToLower(text.String())

	mode := configString(node.Config, "match_mode", "contains")
	for _, kw := range keywords {
		if keywordMatches(haystack, strings.ToLower(kw), mode) {
			return MatchResult{Matched: true, Urgency: configString(node.Config, "urgency", UrgencyMedium)}
		}
	}
	return MatchResult{}
}

func keywordMatches(haystack, keyword, mode string) bool {
	switch mode {
	case "exact":
		return haystack == keyword
	case "prefix":
		return strings.HasPrefix(haystack, keyword)
	case "regex":
		re, err := regexp.Compile(keyword)
		if err != nil {
			return false
		}
		return re.MatchString(haystack)
	default:
		return strings.Contains(haystack, keyword)
	}
}

// matchSentiment fires when the sentiment score crosses the node threshold in
// the configured direction (lte for negative-sentiment triggers). A score
// strictly below -0.8 is tagged critical, anything else that matched is high.
func (m *TriggerMatcher) matchSentiment(event *models.TriggerEvent, node models.Node) MatchResult {
	field := configString(node.Config, "field", "sentiment")
	value, ok := event.Payload.Resolve(field)
	if !ok {
		return MatchResult{}
	}
	score, ok := value.AsNumber()
	if !ok {
		return MatchResult{}
	}

	threshold := configFloat(node.Config, "threshold", -0.5)
	if !thresholdCrossed(score, threshold, configString(node.Config, "direction", "lte")) {
		return MatchResult{}
	}

	urgency := UrgencyHigh
	if score < -0.8 {
		urgency = UrgencyCritical
	}
	return MatchResult{Matched: true, Urgency: urgency}
}

func (m *TriggerMatcher) matchLeadScore(event *models.TriggerEvent, node models.Node) MatchResult {
	field := configString(node.Config, "field", "lead_score")
	value, ok := event.Payload.Resolve(field)
	if !ok {
		return MatchResult{}
	}
	score, ok := value.AsNumber()
	if !ok {
		return MatchResult{}
	}

	threshold := configFloat(node.Config, "threshold", 70)
	if !thresholdCrossed(score, threshold, configString(node.Config, "direction", "gte")) {
		return MatchResult{}
	}
	return MatchResult{Matched: true, Urgency: configString(node.Config, "urgency", UrgencyHigh)}
}

// matchEscalation is the composite triage trigger: any sub-condition firing
// produces a match, and the priority ladder assigns the urgency. A critical
// keyword or sentiment at or below -0.8 is critical, sentiment in (-0.8,
// -0.5] is high, a long conversation is medium, everything else gets the
// node's configured default.
func (m *TriggerMatcher) matchEscalation(event *models.TriggerEvent, node models.Node) MatchResult {
	matched := false
	urgency := ""

	raise := func(u string) {
		matched = true
		if urgencyRank(u) > urgencyRank(urgency) {
			urgency = u
		}
	}

	defaultUrgency := configString(node.Config, "default_urgency", UrgencyLow)

	if keywords := configStringList(node.Config, "critical_keywords"); len(keywords) > 0 {
		field := configString(node.Config, "field", "message")
		if text, ok := event.Payload.Resolve(field); ok {
			haystack := strings.ToLower(text.String())
			for _, kw := range keywords {
				if strings.Contains(haystack, strings.ToLower(kw)) {
					raise(UrgencyCritical)
					break
				}
			}
		}
	}

	sentimentField := configString(node.Config, "sentiment_field", "sentiment")
	if value, ok := event.Payload.Resolve(sentimentField); ok {
		if score, numOK := value.AsNumber(); numOK {
			switch {
			case score <= -0.8:
				raise(UrgencyCritical)
			case score <= -0.5:
				raise(UrgencyHigh)
			}
		}
	}

	if countThreshold := configFloat(node.Config, "message_count_threshold", 0); countThreshold > 0 {
		if value, ok := event.Payload.Resolve("message_count"); ok {
			if count, numOK := value.AsNumber(); numOK && count >= countThreshold {
				raise(UrgencyMedium)
			}
		}
	}

	if waitThreshold := configFloat(node.Config, "response_time_threshold_seconds", 0); waitThreshold > 0 {
		if value, ok := event.Payload.Resolve("response_time_seconds"); ok {
			if wait, numOK := value.AsNumber(); numOK && wait >= waitThreshold {
				raise(defaultUrgency)
			}
		}
	}

	if !matched {
		return MatchResult{}
	}
	if urgency == "" {
		urgency = defaultUrgency
	}
	return MatchResult{Matched: true, Urgency: urgency}
}

func thresholdCrossed(value, threshold float64, direction string) bool {
	switch direction {
	case "gte":
		return value >= threshold
	case "gt":
		return value > threshold
	case "lt":
		return value < threshold
	default:
		return value <= threshold
	}
}
