package services

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/chatlet/automation-service/internal/integrations"
	"github.com/chatlet/automation-service/internal/models"
	"github.com/chatlet/automation-service/internal/ratelimit"
	"github.com/chatlet/automation-service/pkg/metrics"
)

var templateVarPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// DispatchScope identifies the rate-limit scope of one action dispatch
type DispatchScope struct {
	TenantID  string
	ChatbotID string
	Tier      string
}

// Key is the composite scope key the rate limiter tracks against
func (s DispatchScope) Key() string {
	return fmt.Sprintf("%s:%s", s.TenantID, s.ChatbotID)
}

// DispatchResult is an action node's result plus the failure classification
// the engine needs: permanent failures (configuration errors, auth failures,
// invalid targets) mark the whole execution FAILED, transient exhaustion and
// rate limiting do not.
type DispatchResult struct {
	models.NodeResult
	Permanent bool
}

// ActionDispatcher resolves action nodes to integration calls: template
// substitution, rate-limit gating, bounded retry with exponential backoff,
// and error classification.
type ActionDispatcher struct {
	registry    *integrations.Registry
	limiter     *ratelimit.Limiter
	collectors  *metrics.Collectors
	logger      *zap.Logger
	maxRetries  int
	backoffBase time.Duration
	backoffCap  time.Duration

	// sleep is swapped out in tests so retry loops run instantly
	sleep func(ctx context.Context, d time.Duration) error
}

// NewActionDispatcher creates an action dispatcher. maxRetries bounds total
// attempts per node (default 3).
func NewActionDispatcher(
	registry *integrations.Registry,
	limiter *ratelimit.Limiter,
	collectors *metrics.Collectors,
	logger *zap.Logger,
	maxRetries int,
	backoffBase, backoffCap time.Duration,
) *ActionDispatcher {
	if maxRetries < 1 {
		maxRetries = 3
	}
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	if backoffCap <= 0 {
		backoffCap = 5 * time.Minute
	}
	return &ActionDispatcher{
		registry:    registry,
		limiter:     limiter,
		collectors:  collectors,
		logger:      logger,
		maxRetries:  maxRetries,
		backoffBase: backoffBase,
		backoffCap:  backoffCap,
		sleep:       sleepContext,
	}
}

// Dispatch executes one action node. The returned result is always usable;
// failures are encoded in the outcome, never panicked or thrown upward.
func (d *ActionDispatcher) Dispatch(ctx context.Context, execCtx *ExecContext, node models.Node, scope DispatchScope) DispatchResult {
	start := time.Now()

	adapter, spec, err := d.registry.Resolve(node.Type)
	if err != nil {
		// Validation rejects unknown action tags at save time; reaching this
		// is a configuration error and is never retried.
		d.record(node.Type, "failed")
		return DispatchResult{
			NodeResult: models.NodeResult{
				NodeID:     node.ID,
				Outcome:    models.NodeOutcomeFailed,
				Error:      fmt.Sprintf("configuration error: %v", err),
				DurationMs: time.Since(start).Milliseconds(),
			},
			Permanent: true,
		}
	}

	for _, field := range spec.Required {
		if _, ok := node.Config[field]; !ok {
			d.record(node.Type, "failed")
			return DispatchResult{
				NodeResult: models.NodeResult{
					NodeID:     node.ID,
					Outcome:    models.NodeOutcomeFailed,
					Error:      fmt.Sprintf("configuration error: missing required field %q", field),
					DurationMs: time.Since(start).Milliseconds(),
				},
				Permanent: true,
			}
		}
	}

	resolved := d.resolveTemplates(execCtx, node.Config)

	maxAttempts := d.maxRetries
	if override := int(configFloat(node.Config, "max_retries", 0)); override > 0 {
		maxAttempts = override
	}

	var lastErr error
	rateLimited := false

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return d.finish(node, start, attempt-1, models.NodeOutcomeCancelled, "execution cancelled", false)
		}

		allowed, limitErr := d.checkRateLimit(ctx, scope)
		if limitErr != nil {
			lastErr = limitErr
		}
		if !allowed {
			rateLimited = true
			if d.collectors != nil {
				d.collectors.RecordRateLimitDenial(scope.Key())
			}
			if attempt < maxAttempts {
				if err := d.sleep(ctx, d.backoff(attempt)); err != nil {
					return d.finish(node, start, attempt, models.NodeOutcomeCancelled, "execution cancelled", false)
				}
			}
			continue
		}
		rateLimited = false

		result, sendErr := adapter.Send(ctx, node.Type, node.Config, resolved)
		if sendErr == nil && result != nil && result.Success {
			d.record(node.Type, "success")
			return DispatchResult{
				NodeResult: models.NodeResult{
					NodeID:     node.ID,
					Outcome:    models.NodeOutcomeSuccess,
					Attempts:   attempt,
					DurationMs: time.Since(start).Milliseconds(),
				},
			}
		}

		if sendErr == nil {
			sendErr = fmt.Errorf("integration %s rejected the action", adapter.Name())
		}
		lastErr = sendErr

		if integrations.IsPermanent(sendErr) {
			d.record(node.Type, "failed")
			return DispatchResult{
				NodeResult: models.NodeResult{
					NodeID:     node.ID,
					Outcome:    models.NodeOutcomeFailed,
					Error:      sendErr.Error(),
					Attempts:   attempt,
					DurationMs: time.Since(start).Milliseconds(),
				},
				Permanent: true,
			}
		}

		d.logger.Warn("Action dispatch attempt failed",
			zap.String("node_id", node.ID),
			zap.String("action_type", node.Type),
			zap.Int("attempt", attempt),
			zap.Error(sendErr))

		if attempt < maxAttempts {
			if err := d.sleep(ctx, d.backoff(attempt)); err != nil {
				return d.finish(node, start, attempt, models.NodeOutcomeCancelled, "execution cancelled", false)
			}
		}
	}

	if rateLimited {
		d.record(node.Type, "rate_limited")
		return d.finish(node, start, 0, models.NodeOutcomeRateLimited,
			fmt.Sprintf("rate limit exceeded for scope %s", scope.Key()), false)
	}

	d.record(node.Type, "failed")
	errMsg := "retries exhausted"
	if lastErr != nil {
		errMsg = fmt.Sprintf("retries exhausted: %v", lastErr)
	}
	return DispatchResult{
		NodeResult: models.NodeResult{
			NodeID:     node.ID,
			Outcome:    models.NodeOutcomeFailed,
			Error:      errMsg,
			Attempts:   maxAttempts,
			DurationMs: time.Since(start).Milliseconds(),
		},
	}
}

func (d *ActionDispatcher) finish(node models.Node, start time.Time, attempts int, outcome models.NodeOutcome, errMsg string, permanent bool) DispatchResult {
	return DispatchResult{
		NodeResult: models.NodeResult{
			NodeID:     node.ID,
			Outcome:    outcome,
			Error:      errMsg,
			Attempts:   attempts,
			DurationMs: time.Since(start).Milliseconds(),
		},
		Permanent: permanent,
	}
}

func (d *ActionDispatcher) checkRateLimit(ctx context.Context, scope DispatchScope) (bool, error) {
	if d.limiter == nil {
		return true, nil
	}
	res, err := d.limiter.AllowTier(ctx, scope.Key(), scope.Tier)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

// resolveTemplates substitutes {{variableName}} against the execution context
// in every string-valued config field. Unresolved variables substitute to the
// empty string, never error.
func (d *ActionDispatcher) resolveTemplates(execCtx *ExecContext, cfg models.JSONMap) map[string]string {
	resolved := make(map[string]string, len(cfg))
	for key, raw := range cfg {
		value, ok := raw.(string)
		if !ok {
			continue
		}
		resolved[key] = templateVarPattern.ReplaceAllStringFunc(value, func(match string) string {
			name := templateVarPattern.FindStringSubmatch(match)[1]
			return execCtx.ResolveString(name)
		})
	}
	return resolved
}

// backoff computes the exponential delay before the next attempt with up to
// 10% jitter, capped.
func (d *ActionDispatcher) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(d.backoffBase) * math.Pow(2, float64(attempt-1)))
	if delay > d.backoffCap {
		delay = d.backoffCap
	}
	jitter := time.Duration(rand.Float64() * 0.1 * float64(delay))
	return delay + jitter
}

func (d *ActionDispatcher) record(actionType, outcome string) {
	if d.collectors != nil {
		d.collectors.RecordActionDispatch(actionType, outcome)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
