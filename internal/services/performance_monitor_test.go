package services

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/chatlet/automation-service/internal/models"
)

func newTestMonitor(t *testing.T) *PerformanceMonitor {
	return NewPerformanceMonitor(nil, nil, zaptest.NewLogger(t), time.Hour, 5*time.Minute)
}

func sample(workflowID uint, status models.ExecutionStatus, latency time.Duration, at time.Time) models.PerformanceSample {
	return models.PerformanceSample{
		ExecutionID: "exec",
		WorkflowID:  workflowID,
		ChatbotID:   "bot-1",
		Status:      status,
		Duration:    latency,
		Timestamp:   at,
	}
}

func TestMonitorAggregates(t *testing.T) {
	m := newTestMonitor(t)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.Ingest(sample(1, models.ExecutionStatusCompleted, 100*time.Millisecond, now))
	m.Ingest(sample(1, models.ExecutionStatusCompleted, 300*time.Millisecond, now))
	m.Ingest(sample(1, models.ExecutionStatusFailed, 200*time.Millisecond, now))
	m.Ingest(sample(2, models.ExecutionStatusCompleted, 50*time.Millisecond, now))

	system := m.GetSystemMetrics()
	assert.Equal(t, 4, system.TotalExecutions)
	assert.Equal(t, 3, system.Completed)
	assert.Equal(t, 1, system.Failed)
	assert.InDelta(t, 0.75, system.SuccessRate, 0.001)

	analytics := m.GetWorkflowAnalytics(1)
	assert.Equal(t, 3, analytics.TotalExecutions)
	assert.InDelta(t, 2.0/3.0, analytics.SuccessRate, 0.001)
	assert.InDelta(t, 200, analytics.AvgLatencyMs, 0.001)
	require.NotNil(t, analytics.LastExecutionAt)

	empty := m.GetWorkflowAnalytics(99)
	assert.Equal(t, 0, empty.TotalExecutions)
}

func TestMonitorPrunesSamplesOutsideWindow(t *testing.T) {
	m := newTestMonitor(t)
	current := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	m.Ingest(sample(1, models.ExecutionStatusCompleted, time.Millisecond, current))

	current = current.Add(2 * time.Hour)
	m.Ingest(sample(1, models.ExecutionStatusCompleted, time.Millisecond, current))

	system := m.GetSystemMetrics()
	assert.Equal(t, 1, system.TotalExecutions, "sample outside the window is dropped")
}

func TestAlertRuleFiresOncePerCooldown(t *testing.T) {
	m := newTestMonitor(t)
	current := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	rule := models.AlertRule{
		Name:            "failure spike",
		Metric:          "failure_rate",
		Operator:        "gte",
		Threshold:       0.5,
		CooldownSeconds: 300,
		IsActive:        true,
	}
	rule.ID = 7
	m.SetRules([]models.AlertRule{rule})

	m.Ingest(sample(1, models.ExecutionStatusFailed, time.Millisecond, current))
	assert.Len(t, m.RecentAlerts(), 1)

	// Still failing inside the cooldown: no second firing.
	current = current.Add(time.Minute)
	m.Ingest(sample(1, models.ExecutionStatusFailed, time.Millisecond, current))
	assert.Len(t, m.RecentAlerts(), 1)

	// Past the cooldown the rule may fire again.
	current = current.Add(5 * time.Minute)
	m.Ingest(sample(1, models.ExecutionStatusFailed, time.Millisecond, current))
	assert.Len(t, m.RecentAlerts(), 2)
}

func TestAlertRuleScopedToWorkflow(t *testing.T) {
	m := newTestMonitor(t)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	workflowID := uint(42)
	rule := models.AlertRule{
		Name:       "workflow 42 failing",
		Metric:     "failure_rate",
		Operator:   "gt",
		Threshold:  0.5,
		WorkflowID: &workflowID,
		IsActive:   true,
	}
	rule.ID = 1
	m.SetRules([]models.AlertRule{rule})

	// Failures on another workflow do not trip a scoped rule.
	m.Ingest(sample(1, models.ExecutionStatusFailed, time.Millisecond, now))
	assert.Empty(t, m.RecentAlerts())

	m.Ingest(sample(42, models.ExecutionStatusFailed, time.Millisecond, now))
	assert.Len(t, m.RecentAlerts(), 1)
}

func TestInactiveRuleNeverFires(t *testing.T) {
	m := newTestMonitor(t)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	rule := models.AlertRule{
		Name: "disabled", Metric: "execution_count", Operator: "gte", Threshold: 1,
	}
	rule.ID = 2
	m.SetRules([]models.AlertRule{rule})

	m.Ingest(sample(1, models.ExecutionStatusCompleted, time.Millisecond, now))
	assert.Empty(t, m.RecentAlerts())
}

func TestPerformanceInsights(t *testing.T) {
	m := newTestMonitor(t)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		m.Ingest(sample(1, models.ExecutionStatusFailed, time.Millisecond, now))
	}
	for i := 0; i < 4; i++ {
		m.Ingest(sample(2, models.ExecutionStatusCompleted, time.Millisecond, now))
	}

	insights := m.GetPerformanceInsights(nil)
	require.NotEmpty(t, insights)
	assert.Equal(t, "critical", insights[0].Severity)
	assert.Equal(t, uint(1), insights[0].WorkflowID)

	scoped := m.GetPerformanceInsights(&[]uint{2}[0])
	assert.Empty(t, scoped, "healthy workflow yields no findings")
}

func TestExportMetricsJSON(t *testing.T) {
	m := newTestMonitor(t)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.Ingest(sample(1, models.ExecutionStatusCompleted, 100*time.Millisecond, now))

	data, contentType, err := m.ExportMetrics("json")
	require.NoError(t, err)
	assert.Equal(t, "application/json", contentType)

	var payload struct {
		System    SystemMetrics       `json:"system"`
		Workflows []WorkflowAnalytics `json:"workflows"`
	}
	require.NoError(t, json.Unmarshal(data, &payload))
	assert.Equal(t, 1, payload.System.TotalExecutions)
	require.Len(t, payload.Workflows, 1)
	assert.Equal(t, uint(1), payload.Workflows[0].WorkflowID)
}

func TestExportMetricsUnknownFormat(t *testing.T) {
	m := newTestMonitor(t)
	_, _, err := m.ExportMetrics("xml")
	assert.Error(t, err)
}
