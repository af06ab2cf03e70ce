package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/chatlet/automation-service/internal/models"
)

// HTTPAdapter sends actions to one integration backend over HTTP with a
// circuit breaker and a per-adapter RPS throttle. All provider adapters
// (messaging, crm, spreadsheet, conversation) are instances of this type
// pointed at different backends.
type HTTPAdapter struct {
	name       string
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	throttle   *rate.Limiter
	logger     *zap.Logger
}

// NewHTTPAdapter creates an adapter for one integration backend. rps caps
// outbound calls per second; the burst is twice the rate.
func NewHTTPAdapter(name, baseURL string, timeout time.Duration, rps int, logger *zap.Logger) *HTTPAdapter {
	if rps <= 0 {
		rps = 10
	}

	settings := gobreaker.Settings{
		Name:        fmt.Sprintf("integration-%s", name),
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &HTTPAdapter{
		name:    name,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		breaker:  gobreaker.NewCircuitBreaker(settings),
		throttle: rate.NewLimiter(rate.Limit(rps), rps*2),
		logger:   logger,
	}
}

func (a *HTTPAdapter) Name() string {
	return a.name
}

// Send posts the action to the backend. Failures are classified into the
// transient/permanent taxonomy so the dispatcher can decide about retries.
func (a *HTTPAdapter) Send(ctx context.Context, action string, config models.JSONMap, resolved map[string]string) (*Result, error) {
	if err := a.throttle.Wait(ctx); err != nil {
		return nil, &TransientError{Reason: fmt.Sprintf("throttle wait aborted: %v", err)}
	}

	payload, err := json.Marshal(map[string]interface{}{
		"action":  action,
		"config":  config,
		"context": resolved,
	})
	if err != nil {
		return nil, &PermanentError{Reason: fmt.Sprintf("failed to marshal payload: %v", err)}
	}

	url := fmt.Sprintf("%s/api/v1/actions/%s", a.baseURL, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &PermanentError{Reason: fmt.Sprintf("failed to create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	var resp *http.Response
	_, err = a.breaker.Execute(func() (interface{}, error) {
		var reqErr error
		resp, reqErr = a.httpClient.Do(req)
		return nil, reqErr
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, &TransientError{Reason: fmt.Sprintf("circuit breaker: %v", err)}
		}
		return nil, &TransientError{Reason: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10000))
	if err != nil {
		body = []byte("failed to read response body")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &Result{Success: true, Detail: string(body)}, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &Result{Success: false, Detail: string(body)},
			&TransientError{Reason: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, a.name)}
	default:
		return &Result{Success: false, Detail: string(body)},
			&PermanentError{Reason: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, a.name)}
	}
}
