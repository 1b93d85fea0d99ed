package events

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/relayops/cascadeguard/pkg/logging"
)

func newTestLogger(t *testing.T, buf *bytes.Buffer) *logging.Logger {
	logger, err := logging.NewLogger(&logging.Config{
		Level:       "debug",
		Format:      "json",
		Output:      "stdout",
		ServiceName: "test-service",
		Version:     "test",
	})
	require.NoError(t, err)
	logger.SetOutput(buf)
	return logger
}

func TestLogHandler_LogsStateChange(t *testing.T) {
	var buf bytes.Buffer
	handler := NewLogHandler(newTestLogger(t, &buf))

	err := handler.Handle(context.Background(), CircuitStateChanged{
		Breaker:             "payment-gateway",
		From:                "CLOSED",
		To:                  "OPEN",
		ConsecutiveFailures: 5,
		At:                  time.Now(),
	})
	require.NoError(t, err)

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "payment-gateway", logEntry["circuit_breaker"])
	assert.Equal(t, "CLOSED", logEntry["from_state"])
	assert.Equal(t, "OPEN", logEntry["to_state"])
	assert.Equal(t, "warning", logEntry["level"])
}

func TestLogHandler_RateLimitsPerSource(t *testing.T) {
	var buf bytes.Buffer
	handler := NewLogHandlerWithLimit(newTestLogger(t, &buf), rate.Limit(1), 2)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		err := handler.Handle(ctx, CallFailed{
			Breaker: "flapping-service",
			Err:     assert.AnError,
			At:      time.Now(),
		})
		require.NoError(t, err)
	}

	// Burst of 2 passes, the rest are suppressed.
	assert.Equal(t, int64(8), handler.Dropped())

	// A different source gets its own limiter.
	err := handler.Handle(ctx, CallFailed{Breaker: "other-service", Err: assert.AnError, At: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, int64(8), handler.Dropped())
}

func TestWebhookHandler_Delivers(t *testing.T) {
	var mu sync.Mutex
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		mu.Lock()
		err := json.NewDecoder(r.Body).Decode(&received)
		mu.Unlock()
		require.NoError(t, err)

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	handler, err := NewWebhookHandler(WebhookConfig{URL: server.URL})
	require.NoError(t, err)

	err = handler.Handle(context.Background(), CircuitStateChanged{
		Breaker: "payment-gateway",
		From:    "CLOSED",
		To:      "OPEN",
		At:      time.Now(),
	})
	require.NoError(t, err)

	// Close drains the queue, so delivery has happened by the time it
	// returns.
	handler.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "circuit_state_changed", received["kind"])
	assert.Equal(t, "payment-gateway", received["source"])

	event, ok := received["event"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "CLOSED", event["from"])
	assert.Equal(t, "OPEN", event["to"])
}

func TestWebhookHandler_IncludesErrorMessage(t *testing.T) {
	var mu sync.Mutex
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	handler, err := NewWebhookHandler(WebhookConfig{URL: server.URL})
	require.NoError(t, err)

	err = handler.Handle(context.Background(), FallbackFailed{
		Dependency: "model-gateway",
		Strategy:   "CACHED_RESPONSE",
		Err:        assert.AnError,
		At:         time.Now(),
	})
	require.NoError(t, err)
	handler.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, assert.AnError.Error(), received["error"])
}

func TestWebhookHandler_FiltersKinds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	handler, err := NewWebhookHandler(WebhookConfig{
		URL:   server.URL,
		Kinds: []Kind{KindEmergencyActivated},
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, handler.Handle(ctx, CallSucceeded{Breaker: "a", At: time.Now()}))
	require.NoError(t, handler.Handle(ctx, EmergencyActivated{Reason: "cascade", At: time.Now()}))
	handler.Close()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWebhookHandler_DeliversInOrder(t *testing.T) {
	var mu sync.Mutex
	var sources []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		mu.Lock()
		sources = append(sources, payload["source"].(string))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	handler, err := NewWebhookHandler(WebhookConfig{URL: server.URL})
	require.NoError(t, err)

	ctx := context.Background()
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, handler.Handle(ctx, CallSucceeded{Breaker: name, At: time.Now()}))
	}
	handler.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, sources)
}

func TestWebhookHandler_DeliveryFailureDoesNotPropagate(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	handler, err := NewWebhookHandler(WebhookConfig{URL: server.URL})
	require.NoError(t, err)

	// Failed deliveries are logged by the worker, never surfaced to the
	// publisher.
	require.NoError(t, handler.Handle(context.Background(), EmergencyDeactivated{At: time.Now()}))
	handler.Close()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWebhookHandler_DropsWhenQueueFull(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	handler, err := NewWebhookHandler(WebhookConfig{URL: server.URL, QueueSize: 1})
	require.NoError(t, err)

	ctx := context.Background()
	// The worker picks up the first event and blocks inside delivery.
	require.NoError(t, handler.Handle(ctx, CallSucceeded{Breaker: "a", At: time.Now()}))
	<-entered

	// One slot in the queue, then overflow.
	require.NoError(t, handler.Handle(ctx, CallSucceeded{Breaker: "b", At: time.Now()}))
	require.NoError(t, handler.Handle(ctx, CallSucceeded{Breaker: "c", At: time.Now()}))
	assert.Equal(t, int64(1), handler.Dropped())

	close(release)
	<-entered
	handler.Close()
}

func TestNewWebhookHandler_RequiresURL(t *testing.T) {
	handler, err := NewWebhookHandler(WebhookConfig{})
	assert.Error(t, err)
	assert.Nil(t, handler)
}
