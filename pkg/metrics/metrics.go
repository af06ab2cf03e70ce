package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors holds the Prometheus collectors for the automation engine
type Collectors struct {
	executionsTotal    *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
	actionDispatches   *prometheus.CounterVec
	rateLimitDenials   *prometheus.CounterVec
	alertsFired        *prometheus.CounterVec
	activeExecutions   prometheus.Gauge
	triggerEvaluations *prometheus.CounterVec
}

// New registers and returns the engine collectors
func New() *Collectors {
	return &Collectors{
		executionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_executions_total",
				Help: "Total number of workflow executions by final status",
			},
			[]string{"workflow_id", "status"},
		),

		executionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "automation_execution_duration_seconds",
				Help:    "Wall-clock duration of workflow executions",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"workflow_id"},
		),

		actionDispatches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_action_dispatches_total",
				Help: "Total number of action dispatches by type and outcome",
			},
			[]string{"action_type", "outcome"},
		),

		rateLimitDenials: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_rate_limit_denials_total",
				Help: "Total number of rate-limited action dispatches",
			},
			[]string{"scope"},
		),

		alertsFired: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_alerts_fired_total",
				Help: "Total number of alert rule firings",
			},
			[]string{"rule", "metric"},
		),

		activeExecutions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "automation_active_executions",
				Help: "Number of currently running workflow executions",
			},
		),

		triggerEvaluations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "automation_trigger_evaluations_total",
				Help: "Total number of trigger evaluations by type and result",
			},
			[]string{"trigger_type", "matched"},
		),
	}
}

// RecordExecution records a finished execution
func (c *Collectors) RecordExecution(workflowID uint, status string, duration time.Duration) {
	id := strconv.FormatUint(uint64(workflowID), 10)
	c.executionsTotal.WithLabelValues(id, status).Inc()
	c.executionDuration.WithLabelValues(id).Observe(duration.Seconds())
}

// RecordActionDispatch records one action node dispatch outcome
func (c *Collectors) RecordActionDispatch(actionType, outcome string) {
	c.actionDispatches.WithLabelValues(actionType, outcome).Inc()
}

// RecordRateLimitDenial records a denied rate-limit check
func (c *Collectors) RecordRateLimitDenial(scope string) {
	c.rateLimitDenials.WithLabelValues(scope).Inc()
}

// RecordAlertFired records an alert rule firing
func (c *Collectors) RecordAlertFired(rule, metric string) {
	c.alertsFired.WithLabelValues(rule, metric).Inc()
}

// RecordTriggerEvaluation records one trigger match attempt
func (c *Collectors) RecordTriggerEvaluation(triggerType string, matched bool) {
	c.triggerEvaluations.WithLabelValues(triggerType, strconv.FormatBool(matched)).Inc()
}

// ExecutionStarted increments the active execution gauge
func (c *Collectors) ExecutionStarted() {
	c.activeExecutions.Inc()
}

// ExecutionFinished decrements the active execution gauge
func (c *Collectors) ExecutionFinished() {
	c.activeExecutions.Dec()
}
