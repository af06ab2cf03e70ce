package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/chatlet/automation-service/internal/integrations"
	"github.com/chatlet/automation-service/internal/models"
	"github.com/chatlet/automation-service/internal/ratelimit"
)

// stubAdapter counts calls and replays a scripted error sequence, then
// succeeds.
type stubAdapter struct {
	mu       sync.Mutex
	name     string
	errs     []error
	calls    int
	lastSent map[string]string
	block    chan struct{}
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Send(ctx context.Context, action string, config models.JSONMap, resolved map[string]string) (*integrations.Result, error) {
	s.mu.Lock()
	call := s.calls
	s.calls++
	s.lastSent = resolved
	block := s.block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, &integrations.TransientError{Reason: ctx.Err().Error()}
		}
	}

	if call < len(s.errs) && s.errs[call] != nil {
		return nil, s.errs[call]
	}
	return &integrations.Result{Success: true}, nil
}

func (s *stubAdapter) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestDispatcher(t *testing.T, adapter integrations.Adapter, limiter *ratelimit.Limiter) *ActionDispatcher {
	registry := integrations.NewRegistry()
	registry.Register(adapter)
	d := NewActionDispatcher(registry, limiter, nil, zaptest.NewLogger(t), 3, time.Millisecond, time.Second)
	d.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return d
}

func openLimiter() *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{Limit: 1000, Window: time.Minute}, nil, nil)
}

func actionNode(actionType string, config models.JSONMap) models.Node {
	return models.Node{ID: "a1", Kind: models.NodeKindAction, Type: actionType, Config: config}
}

func TestDispatchResolvesTemplates(t *testing.T) {
	adapter := &stubAdapter{name: "messaging"}
	d := newTestDispatcher(t, adapter, openLimiter())

	execCtx := NewExecContext(testEvent(models.PayloadMap{"userName": models.StringValue("Ana")}))
	node := actionNode("send_message", models.JSONMap{
		"channel": "support",
		"message": "Hi {{userName}}",
	})

	result := d.Dispatch(context.Background(), execCtx, node, DispatchScope{TenantID: "tenant-1", ChatbotID: "bot-1"})

	assert.Equal(t, models.NodeOutcomeSuccess, result.Outcome)
	assert.Equal(t, "Hi Ana", adapter.lastSent["message"])
	assert.Equal(t, "support", adapter.lastSent["channel"])
}

func TestDispatchUnresolvedVariablesSubstituteEmpty(t *testing.T) {
	adapter := &stubAdapter{name: "messaging"}
	d := newTestDispatcher(t, adapter, openLimiter())

	execCtx := NewExecContext(testEvent(models.PayloadMap{}))
	node := actionNode("send_message", models.JSONMap{
		"channel": "support",
		"message": "Hi {{userName}}, ref {{order.id}}",
	})

	result := d.Dispatch(context.Background(), execCtx, node, DispatchScope{TenantID: "t", ChatbotID: "b"})

	assert.Equal(t, models.NodeOutcomeSuccess, result.Outcome)
	assert.Equal(t, "Hi , ref ", adapter.lastSent["message"])
}

func TestDispatchRetriesTransientErrorsThenSucceeds(t *testing.T) {
	adapter := &stubAdapter{
		name: "messaging",
		errs: []error{
			&integrations.TransientError{Reason: "503 from provider"},
			&integrations.TransientError{Reason: "timeout"},
		},
	}
	d := newTestDispatcher(t, adapter, openLimiter())

	execCtx := NewExecContext(testEvent(models.PayloadMap{}))
	node := actionNode("send_message", models.JSONMap{"channel": "support", "message": "hello"})

	result := d.Dispatch(context.Background(), execCtx, node, DispatchScope{TenantID: "t", ChatbotID: "b"})

	assert.Equal(t, models.NodeOutcomeSuccess, result.Outcome)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, adapter.callCount())
	assert.False(t, result.Permanent)
}

func TestDispatchExhaustedRetriesFailsNode(t *testing.T) {
	adapter := &stubAdapter{
		name: "messaging",
		errs: []error{
			&integrations.TransientError{Reason: "down"},
			&integrations.TransientError{Reason: "down"},
			&integrations.TransientError{Reason: "down"},
		},
	}
	d := newTestDispatcher(t, adapter, openLimiter())

	execCtx := NewExecContext(testEvent(models.PayloadMap{}))
	node := actionNode("send_message", models.JSONMap{"channel": "support", "message": "hello"})

	result := d.Dispatch(context.Background(), execCtx, node, DispatchScope{TenantID: "t", ChatbotID: "b"})

	assert.Equal(t, models.NodeOutcomeFailed, result.Outcome)
	assert.Equal(t, 3, result.Attempts)
	assert.Contains(t, result.Error, "retries exhausted")
	assert.False(t, result.Permanent, "transient exhaustion does not fail the execution")
}

func TestDispatchPermanentErrorIsNotRetried(t *testing.T) {
	adapter := &stubAdapter{
		name: "messaging",
		errs: []error{&integrations.PermanentError{Reason: "unknown channel"}},
	}
	d := newTestDispatcher(t, adapter, openLimiter())

	execCtx := NewExecContext(testEvent(models.PayloadMap{}))
	node := actionNode("send_message", models.JSONMap{"channel": "nope", "message": "hello"})

	result := d.Dispatch(context.Background(), execCtx, node, DispatchScope{TenantID: "t", ChatbotID: "b"})

	assert.Equal(t, models.NodeOutcomeFailed, result.Outcome)
	assert.Equal(t, 1, adapter.callCount())
	assert.True(t, result.Permanent)
}

func TestDispatchRateLimitedMakesZeroExternalCalls(t *testing.T) {
	adapter := &stubAdapter{name: "messaging"}
	exhausted := ratelimit.New(ratelimit.Config{Limit: 1, Window: time.Hour}, nil, nil)
	// Burn the only slot for this scope.
	_, err := exhausted.Allow(context.Background(), "tenant-1:bot-1")
	require.NoError(t, err)

	d := newTestDispatcher(t, adapter, exhausted)

	execCtx := NewExecContext(testEvent(models.PayloadMap{}))
	node := actionNode("send_message", models.JSONMap{"channel": "support", "message": "hello"})

	result := d.Dispatch(context.Background(), execCtx, node, DispatchScope{TenantID: "tenant-1", ChatbotID: "bot-1"})

	assert.Equal(t, models.NodeOutcomeRateLimited, result.Outcome)
	assert.Equal(t, 0, adapter.callCount())
}

func TestDispatchMissingRequiredFieldIsConfigurationError(t *testing.T) {
	adapter := &stubAdapter{name: "messaging"}
	d := newTestDispatcher(t, adapter, openLimiter())

	execCtx := NewExecContext(testEvent(models.PayloadMap{}))
	node := actionNode("send_message", models.JSONMap{"channel": "support"})

	result := d.Dispatch(context.Background(), execCtx, node, DispatchScope{TenantID: "t", ChatbotID: "b"})

	assert.Equal(t, models.NodeOutcomeFailed, result.Outcome)
	assert.Contains(t, result.Error, "missing required field")
	assert.True(t, result.Permanent)
	assert.Equal(t, 0, adapter.callCount())
}

func TestDispatchUnknownActionTypeFails(t *testing.T) {
	adapter := &stubAdapter{name: "messaging"}
	d := newTestDispatcher(t, adapter, openLimiter())

	execCtx := NewExecContext(testEvent(models.PayloadMap{}))
	node := actionNode("teleport_user", models.JSONMap{})

	result := d.Dispatch(context.Background(), execCtx, node, DispatchScope{TenantID: "t", ChatbotID: "b"})

	assert.Equal(t, models.NodeOutcomeFailed, result.Outcome)
	assert.True(t, result.Permanent)
}

func TestDispatchObservesCancellationBetweenRetries(t *testing.T) {
	adapter := &stubAdapter{
		name: "messaging",
		errs: []error{&integrations.TransientError{Reason: "down"}},
	}
	d := newTestDispatcher(t, adapter, openLimiter())

	ctx, cancel := context.WithCancel(context.Background())
	// Cancel during the backoff after the first failed attempt.
	d.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	execCtx := NewExecContext(testEvent(models.PayloadMap{}))
	node := actionNode("send_message", models.JSONMap{"channel": "support", "message": "hello"})

	result := d.Dispatch(ctx, execCtx, node, DispatchScope{TenantID: "t", ChatbotID: "b"})

	assert.Equal(t, models.NodeOutcomeCancelled, result.Outcome)
	assert.Equal(t, 1, adapter.callCount(), "no retry after cancellation")
}
