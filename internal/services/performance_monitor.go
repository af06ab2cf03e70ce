package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"

	"github.com/chatlet/automation-service/internal/models"
	"github.com/chatlet/automation-service/internal/repositories"
	"github.com/chatlet/automation-service/pkg/metrics"
)

const (
	alertRuleRefreshInterval = 30 * time.Second
	firedAlertHistoryLimit   = 200
)

// SystemMetrics is the rolling aggregate over all executions in the window
type SystemMetrics struct {
	TotalExecutions int     `json:"total_executions"`
	Completed       int     `json:"completed"`
	Failed          int     `json:"failed"`
	SuccessRate     float64 `json:"success_rate"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	WindowSeconds   int     `json:"window_seconds"`
}

// WorkflowAnalytics is the rolling aggregate for one workflow
type WorkflowAnalytics struct {
	WorkflowID      uint       `json:"workflow_id"`
	TotalExecutions int        `json:"total_executions"`
	Completed       int        `json:"completed"`
	Failed          int        `json:"failed"`
	SuccessRate     float64    `json:"success_rate"`
	AvgLatencyMs    float64    `json:"avg_latency_ms"`
	LastExecutionAt *time.Time `json:"last_execution_at,omitempty"`
}

// Insight is one human-readable performance finding
type Insight struct {
	Severity   string `json:"severity"`
	WorkflowID uint   `json:"workflow_id,omitempty"`
	Message    string `json:"message"`
}

// FiredAlert records one alert rule firing
type FiredAlert struct {
	RuleID     uint      `json:"rule_id"`
	RuleName   string    `json:"rule_name"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	Threshold  float64   `json:"threshold"`
	WorkflowID *uint     `json:"workflow_id,omitempty"`
	FiredAt    time.Time `json:"fired_at"`
}

// PerformanceMonitor ingests one sample per finished execution, maintains
// rolling aggregates per workflow and chatbot inside a sliding window, and
// evaluates alert rules on each ingest with a per-rule cooldown so one bad
// stretch cannot storm the alert channel.
type PerformanceMonitor struct {
	mu          sync.RWMutex
	samples     []models.PerformanceSample
	window      time.Duration
	cooldown    time.Duration
	rules       []models.AlertRule
	rulesLoaded time.Time
	lastFired   map[uint]time.Time
	firedAlerts []FiredAlert

	alertRepo  repositories.AlertRuleRepository
	collectors *metrics.Collectors
	logger     *zap.Logger
	now        func() time.Time
}

// NewPerformanceMonitor creates a monitor. alertRepo may be nil when alert
// rules are not persisted (tests).
func NewPerformanceMonitor(
	alertRepo repositories.AlertRuleRepository,
	collectors *metrics.Collectors,
	logger *zap.Logger,
	window, cooldown time.Duration,
) *PerformanceMonitor {
	if window <= 0 {
		window = time.Hour
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &PerformanceMonitor{
		window:     window,
		cooldown:   cooldown,
		lastFired:  make(map[uint]time.Time),
		alertRepo:  alertRepo,
		collectors: collectors,
		logger:     logger,
		now:        time.Now,
	}
}

// Ingest records one finished execution and evaluates alert rules against
// the fresh aggregates.
func (m *PerformanceMonitor) Ingest(sample models.PerformanceSample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = m.now()
	}

	m.mu.Lock()
	m.samples = append(m.samples, sample)
	m.prune()
	rules := m.loadRules()
	fired := m.evaluateRules(rules)
	m.mu.Unlock()

	for _, alert := range fired {
		if m.collectors != nil {
			m.collectors.RecordAlertFired(alert.RuleName, alert.Metric)
		}
		m.logger.Warn("Alert rule fired",
			zap.Uint("rule_id", alert.RuleID),
			zap.String("rule", alert.RuleName),
			zap.String("metric", alert.Metric),
			zap.Float64("value", alert.Value),
			zap.Float64("threshold", alert.Threshold))
	}
}

// GetSystemMetrics returns the aggregate over every execution in the window.
func (m *PerformanceMonitor) GetSystemMetrics() SystemMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agg := m.aggregate(func(models.PerformanceSample) bool { return true })
	return SystemMetrics{
		TotalExecutions: agg.total,
		Completed:       agg.completed,
		Failed:          agg.failed,
		SuccessRate:     agg.successRate(),
		AvgLatencyMs:    agg.avgLatencyMs(),
		WindowSeconds:   int(m.window.Seconds()),
	}
}

// GetWorkflowAnalytics returns the aggregate for one workflow.
func (m *PerformanceMonitor) GetWorkflowAnalytics(workflowID uint) WorkflowAnalytics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agg := m.aggregate(func(s models.PerformanceSample) bool { return s.WorkflowID == workflowID })
	analytics := WorkflowAnalytics{
		WorkflowID:      workflowID,
		TotalExecutions: agg.total,
		Completed:       agg.completed,
		Failed:          agg.failed,
		SuccessRate:     agg.successRate(),
		AvgLatencyMs:    agg.avgLatencyMs(),
	}
	if !agg.last.IsZero() {
		last := agg.last
		analytics.LastExecutionAt = &last
	}
	return analytics
}

// GetPerformanceInsights surfaces notable findings: failure-heavy or slow
// workflows. With a workflowID the findings are scoped to that workflow.
func (m *PerformanceMonitor) GetPerformanceInsights(workflowID *uint) []Insight {
	m.mu.RLock()
	defer m.mu.RUnlock()

	perWorkflow := make(map[uint]*aggregate)
	for _, s := range m.samples {
		if workflowID != nil && s.WorkflowID != *workflowID {
			continue
		}
		agg, ok := perWorkflow[s.WorkflowID]
		if !ok {
			agg = &aggregate{}
			perWorkflow[s.WorkflowID] = agg
		}
		agg.add(s)
	}

	insights := []Insight{}
	ids := make([]uint, 0, len(perWorkflow))
	for id := range perWorkflow {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		agg := perWorkflow[id]
		if agg.total < 3 {
			continue
		}
		if rate := agg.successRate(); rate < 0.5 {
			insights = append(insights, Insight{
				Severity:   "critical",
				WorkflowID: id,
				Message:    fmt.Sprintf("workflow %d success rate is %.0f%% over the last window", id, rate*100),
			})
		} else if rate < 0.9 {
			insights = append(insights, Insight{
				Severity:   "warning",
				WorkflowID: id,
				Message:    fmt.Sprintf("workflow %d success rate is %.0f%% over the last window", id, rate*100),
			})
		}
		if avg := agg.avgLatencyMs(); avg > 10000 {
			insights = append(insights, Insight{
				Severity:   "warning",
				WorkflowID: id,
				Message:    fmt.Sprintf("workflow %d averages %.0fms per execution", id, avg),
			})
		}
	}
	return insights
}

// RecentAlerts returns the fired-alert history, newest first.
func (m *PerformanceMonitor) RecentAlerts() []FiredAlert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]FiredAlert, len(m.firedAlerts))
	copy(out, m.firedAlerts)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// ExportMetrics renders the monitor state. "json" exports the rolling
// aggregates; "prometheus" exports the process registry in text exposition
// format.
func (m *PerformanceMonitor) ExportMetrics(format string) ([]byte, string, error) {
	switch format {
	case "", "json":
		m.mu.RLock()
		perWorkflow := make(map[uint]*aggregate)
		for _, s := range m.samples {
			agg, ok := perWorkflow[s.WorkflowID]
			if !ok {
				agg = &aggregate{}
				perWorkflow[s.WorkflowID] = agg
			}
			agg.add(s)
		}
		m.mu.RUnlock()

		workflows := make([]WorkflowAnalytics, 0, len(perWorkflow))
		for id := range perWorkflow {
			workflows = append(workflows, m.GetWorkflowAnalytics(id))
		}
		sort.Slice(workflows, func(i, j int) bool { return workflows[i].WorkflowID < workflows[j].WorkflowID })

		payload := struct {
			System    SystemMetrics       `json:"system"`
			Workflows []WorkflowAnalytics `json:"workflows"`
			Alerts    []FiredAlert        `json:"recent_alerts"`
		}{
			System:    m.GetSystemMetrics(),
			Workflows: workflows,
			Alerts:    m.RecentAlerts(),
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, "", fmt.Errorf("failed to marshal metrics export: %w", err)
		}
		return data, "application/json", nil

	case "prometheus":
		families, err := prometheus.DefaultGatherer.Gather()
		if err != nil {
			return nil, "", fmt.Errorf("failed to gather metrics: %w", err)
		}
		var buf bytes.Buffer
		encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
		for _, family := range families {
			if err := encoder.Encode(family); err != nil {
				return nil, "", fmt.Errorf("failed to encode metrics: %w", err)
			}
		}
		return buf.Bytes(), string(expfmt.NewFormat(expfmt.TypeTextPlain)), nil

	default:
		return nil, "", fmt.Errorf("unsupported export format %q", format)
	}
}

// prune drops samples older than the window. Caller holds the write lock.
func (m *PerformanceMonitor) prune() {
	cutoff := m.now().Add(-m.window)
	keep := m.samples[:0]
	for _, s := range m.samples {
		if s.Timestamp.After(cutoff) {
			keep = append(keep, s)
		}
	}
	m.samples = keep
}

// loadRules refreshes the alert rule cache from the repository at most once
// per refresh interval. Caller holds the write lock.
func (m *PerformanceMonitor) loadRules() []models.AlertRule {
	if m.alertRepo == nil {
		return m.rules
	}
	if m.now().Sub(m.rulesLoaded) < alertRuleRefreshInterval && m.rules != nil {
		return m.rules
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rules, err := m.alertRepo.ListActive(ctx)
	if err != nil {
		m.logger.Warn("Failed to refresh alert rules", zap.Error(err))
		return m.rules
	}
	m.rules = rules
	m.rulesLoaded = m.now()
	return m.rules
}

// SetRules installs alert rules directly, bypassing the repository cache.
func (m *PerformanceMonitor) SetRules(rules []models.AlertRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = rules
	m.rulesLoaded = m.now()
}

// evaluateRules fires every due rule at most once per cooldown window.
// Caller holds the write lock.
func (m *PerformanceMonitor) evaluateRules(rules []models.AlertRule) []FiredAlert {
	now := m.now()
	var fired []FiredAlert

	for _, rule := range rules {
		if !rule.IsActive {
			continue
		}

		cooldown := m.cooldown
		if rule.CooldownSeconds > 0 {
			cooldown = time.Duration(rule.CooldownSeconds) * time.Second
		}
		if last, ok := m.lastFired[rule.ID]; ok && now.Sub(last) < cooldown {
			continue
		}

		var agg aggregate
		if rule.WorkflowID != nil {
			agg = m.aggregate(func(s models.PerformanceSample) bool { return s.WorkflowID == *rule.WorkflowID })
		} else {
			agg = m.aggregate(func(models.PerformanceSample) bool { return true })
		}
		if agg.total == 0 {
			continue
		}

		value, ok := metricValue(rule.Metric, agg)
		if !ok {
			m.logger.Warn("Alert rule references unknown metric",
				zap.Uint("rule_id", rule.ID),
				zap.String("metric", rule.Metric))
			continue
		}

		if !compareThreshold(value, rule.Operator, rule.Threshold) {
			continue
		}

		m.lastFired[rule.ID] = now
		alert := FiredAlert{
			RuleID:     rule.ID,
			RuleName:   rule.Name,
			Metric:     rule.Metric,
			Value:      value,
			Threshold:  rule.Threshold,
			WorkflowID: rule.WorkflowID,
			FiredAt:    now,
		}
		m.firedAlerts = append(m.firedAlerts, alert)
		if len(m.firedAlerts) > firedAlertHistoryLimit {
			m.firedAlerts = m.firedAlerts[len(m.firedAlerts)-firedAlertHistoryLimit:]
		}
		fired = append(fired, alert)
	}
	return fired
}

type aggregate struct {
	total     int
	completed int
	failed    int
	latencyMs float64
	last      time.Time
}

func (a *aggregate) add(s models.PerformanceSample) {
	a.total++
	switch s.Status {
	case models.ExecutionStatusCompleted:
		a.completed++
	case models.ExecutionStatusFailed:
		a.failed++
	}
	a.latencyMs += float64(s.Duration.Milliseconds())
	if s.Timestamp.After(a.last) {
		a.last = s.Timestamp
	}
}

func (a *aggregate) successRate() float64 {
	finished := a.completed + a.failed
	if finished == 0 {
		return 1
	}
	return float64(a.completed) / float64(finished)
}

func (a *aggregate) avgLatencyMs() float64 {
	if a.total == 0 {
		return 0
	}
	return a.latencyMs / float64(a.total)
}

// aggregate folds the samples matching the filter. Caller holds a lock.
func (m *PerformanceMonitor) aggregate(match func(models.PerformanceSample) bool) aggregate {
	var agg aggregate
	for _, s := range m.samples {
		if match(s) {
			agg.add(s)
		}
	}
	return agg
}

func metricValue(metric string, agg aggregate) (float64, bool) {
	switch metric {
	case "success_rate":
		return agg.successRate(), true
	case "failure_rate":
		return 1 - agg.successRate(), true
	case "avg_latency_ms":
		return agg.avgLatencyMs(), true
	case "execution_count":
		return float64(agg.total), true
	}
	return 0, false
}

func compareThreshold(value float64, operator string, threshold float64) bool {
	switch operator {
	case "gt":
		return value > threshold
	case "gte":
		return value >= threshold
	case "lt":
		return value < threshold
	case "lte":
		return value <= threshold
	case "eq":
		return value == threshold
	}
	return false
}
