package integrations

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/chatlet/automation-service/internal/models"
)

func TestErrorTaxonomy(t *testing.T) {
	transient := &TransientError{Reason: "503"}
	permanent := &PermanentError{Reason: "bad auth"}

	assert.True(t, IsTransient(transient))
	assert.False(t, IsPermanent(transient))
	assert.True(t, IsPermanent(permanent))
	assert.False(t, IsTransient(permanent))
	assert.False(t, IsTransient(nil))
}

func TestRegistryResolve(t *testing.T) {
	registry := NewRegistry()
	adapter := NewHTTPAdapter("messaging", "http://localhost:1", time.Second, 10, zaptest.NewLogger(t))
	registry.Register(adapter)

	resolved, spec, err := registry.Resolve("send_message")
	require.NoError(t, err)
	assert.Equal(t, "messaging", resolved.Name())
	assert.Contains(t, spec.Required, "channel")
	assert.Contains(t, spec.Required, "message")

	_, _, err = registry.Resolve("teleport_user")
	assert.Error(t, err)

	// Known action type but its adapter is not registered.
	_, _, err = registry.Resolve("create_crm_contact")
	assert.Error(t, err)
}

func TestHTTPAdapterSuccess(t *testing.T) {
	var path atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"delivered":true}`))
	}))
	defer server.Close()

	adapter := NewHTTPAdapter("messaging", server.URL, time.Second, 100, zaptest.NewLogger(t))
	result, err := adapter.Send(context.Background(), "send_message",
		models.JSONMap{"channel": "support"}, map[string]string{"message": "hi"})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "/api/v1/actions/send_message", path.Load())
}

func TestHTTPAdapterClassifiesServerErrorsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	adapter := NewHTTPAdapter("messaging", server.URL, time.Second, 100, zaptest.NewLogger(t))
	_, err := adapter.Send(context.Background(), "send_message", nil, nil)

	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestHTTPAdapterClassifiesClientErrorsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	adapter := NewHTTPAdapter("messaging", server.URL, time.Second, 100, zaptest.NewLogger(t))
	_, err := adapter.Send(context.Background(), "send_message", nil, nil)

	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestHTTPAdapterNetworkFailureIsTransient(t *testing.T) {
	// Nothing listens on this port.
	adapter := NewHTTPAdapter("messaging", "http://127.0.0.1:1", time.Second, 100, zaptest.NewLogger(t))
	_, err := adapter.Send(context.Background(), "send_message", nil, nil)

	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
