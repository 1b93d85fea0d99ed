package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/relayops/cascadeguard/pkg/breaker"
	"github.com/relayops/cascadeguard/pkg/cascade"
	"github.com/relayops/cascadeguard/pkg/events"
	"github.com/relayops/cascadeguard/pkg/metrics"
)

var errBoom = errors.New("boom")

func failingOp(ctx context.Context) (interface{}, error) { return nil, errBoom }

func okOp(ctx context.Context) (interface{}, error) { return "ok", nil }

// newTestServer builds a server over a real system with two dependencies
// and a standalone registry holding one more breaker.
func newTestServer(t *testing.T) (*Server, *cascade.System) {
	t.Helper()

	bus := events.NewBus()
	system := cascade.NewSystem(cascade.Config{
		HealthThreshold: 50,
		// Keep the periodic sweep out of the way; nudges still refresh.
		HealthCheckInterval: time.Hour,
	}, bus)
	t.Cleanup(system.Stop)
	system.Start(context.Background())

	_, err := system.RegisterDependency(cascade.DependencyConfig{
		Name:     "payments",
		Priority: cascade.PriorityCritical,
		Breaker:  breaker.Config{FailureThreshold: 2, RecoveryTimeout: time.Minute},
	}, nil)
	require.NoError(t, err)

	_, err = system.RegisterDependency(cascade.DependencyConfig{
		Name:     "cache",
		Priority: cascade.PriorityLow,
		Strategy: cascade.StrategyDefaultValue,
	}, func(ctx context.Context) (interface{}, error) { return "stale", nil })
	require.NoError(t, err)

	manager := breaker.NewManager(bus)
	t.Cleanup(manager.Stop)
	manager.GetOrCreate("jobs-queue", breaker.Config{FailureThreshold: 3})

	server := NewServer(Options{
		System:   system,
		Breakers: manager,
		Mode:     gin.TestMode,
		// One unhealthy dependency of two leaves overall health at exactly 50;
		// gate above that so a single failing dependency flips readiness.
		ReadyThreshold: 60,
	})
	return server, system
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func dataMap(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	resp := decodeEnvelope(t, w)
	require.True(t, resp.Success)
	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok, "data should be an object")
	return data
}

func TestServer_Liveness(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"ok"`)
	require.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestServer_ReadinessFollowsHealth(t *testing.T) {
	s, system := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"ready"`)

	// Drive payments to uptime 0; the nudged health refresh drops the
	// aggregate below the floor.
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := system.Execute(ctx, "payments", failingOp)
		require.Error(t, err)
	}

	require.Eventually(t, func() bool {
		w := doRequest(t, s, http.MethodGet, "/readyz", nil)
		return w.Code == http.StatusServiceUnavailable
	}, 2*time.Second, 10*time.Millisecond)

	w = doRequest(t, s, http.MethodGet, "/readyz", nil)
	require.Contains(t, w.Body.String(), `"status":"degraded"`)
}

func TestServer_SystemHealth(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/api/v1/system/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))

	resp := decodeEnvelope(t, w)
	require.True(t, resp.Success)
	require.Equal(t, w.Header().Get("X-Request-ID"), resp.RequestID)

	data := dataMap(t, w)
	require.EqualValues(t, 100, data["overall_health"])
	require.Equal(t, "stable", data["trend"])
	require.EqualValues(t, 2, data["total_dependencies"])
}

func TestServer_ListDependencies(t *testing.T) {
	s, system := newTestServer(t)

	_, err := system.Execute(context.Background(), "payments", okOp)
	require.NoError(t, err)

	w := doRequest(t, s, http.MethodGet, "/api/v1/dependencies", nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := dataMap(t, w)
	require.Len(t, data, 2)

	payments, ok := data["payments"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "CRITICAL", payments["priority"])
	require.EqualValues(t, 1, payments["total_requests"])
	require.Equal(t, "CLOSED", payments["circuit_state"])

	cache, ok := data["cache"].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "LOW", cache["priority"])
}

func TestServer_DependencyHealth(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/api/v1/dependencies/payments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := dataMap(t, w)
	require.Equal(t, "payments", data["name"])

	w = doRequest(t, s, http.MethodGet, "/api/v1/dependencies/ghost", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	resp := decodeEnvelope(t, w)
	require.False(t, resp.Success)
	require.Equal(t, "NOT_FOUND", resp.Error.Code)
}

func TestServer_IsolateRecoverCycle(t *testing.T) {
	s, system := newTestServer(t)

	w := doRequest(t, s, http.MethodPost, "/api/v1/dependencies/cache/isolate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, dataMap(t, w)["isolated"])

	health, err := system.GetDependencyHealth("cache")
	require.NoError(t, err)
	require.True(t, health.Isolated)

	w = doRequest(t, s, http.MethodPost, "/api/v1/dependencies/cache/recover", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, false, dataMap(t, w)["isolated"])

	w = doRequest(t, s, http.MethodPost, "/api/v1/dependencies/ghost/isolate", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_ListBreakers(t *testing.T) {
	s, system := newTestServer(t)

	_, err := system.Execute(context.Background(), "payments", okOp)
	require.NoError(t, err)

	w := doRequest(t, s, http.MethodGet, "/api/v1/breakers", nil)
	require.Equal(t, http.StatusOK, w.Code)

	data := dataMap(t, w)
	breakers, ok := data["breakers"].(map[string]interface{})
	require.True(t, ok)
	require.Len(t, breakers, 3)
	require.Contains(t, breakers, "payments")
	require.Contains(t, breakers, "cache")
	require.Contains(t, breakers, "jobs-queue")

	payments, ok := breakers["payments"].(map[string]interface{})
	require.True(t, ok)
	require.EqualValues(t, 1, payments["total_requests"])

	aggregate, ok := data["aggregate"].(map[string]interface{})
	require.True(t, ok)
	require.EqualValues(t, 3, aggregate["total_circuits"])
	require.EqualValues(t, 0, aggregate["open_circuits"])
}

func TestServer_ResetBreaker(t *testing.T) {
	s, system := newTestServer(t)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := system.Execute(ctx, "payments", failingOp)
		require.Error(t, err)
	}

	dm, ok := system.Dependency("payments")
	require.True(t, ok)
	require.Equal(t, breaker.StateOpen, dm.Breaker().State())

	w := doRequest(t, s, http.MethodPost, "/api/v1/breakers/payments/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "CLOSED", dataMap(t, w)["state"])
	require.Equal(t, breaker.StateClosed, dm.Breaker().State())

	w = doRequest(t, s, http.MethodPost, "/api/v1/breakers/ghost/reset", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_ForceState(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodPost, "/api/v1/breakers/jobs-queue/state",
		map[string]string{"state": "OPEN"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "OPEN", dataMap(t, w)["state"])

	w = doRequest(t, s, http.MethodPost, "/api/v1/breakers/jobs-queue/state",
		map[string]string{"state": "BROKEN"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, s, http.MethodPost, "/api/v1/breakers/jobs-queue/state",
		map[string]string{})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, s, http.MethodPost, "/api/v1/breakers/ghost/state",
		map[string]string{"state": "OPEN"})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	bus := events.NewBus()
	system := cascade.NewSystem(cascade.Config{HealthCheckInterval: time.Hour}, bus)
	t.Cleanup(system.Stop)

	m := metrics.NewMetricsWithRegistry(&metrics.Config{
		Namespace: "cascadeguard",
		Enabled:   true,
	}, prometheus.NewRegistry())

	s := NewServer(Options{System: system, Metrics: m, Mode: gin.TestMode})

	// Instrumented request first so the HTTP series exist.
	w := doRequest(t, s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "cascadeguard_http_requests_total")
}

func TestServer_UnknownRoute(t *testing.T) {
	s, _ := newTestServer(t)

	w := doRequest(t, s, http.MethodGet, "/api/v1/nope", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	resp := decodeEnvelope(t, w)
	require.False(t, resp.Success)
	require.Equal(t, "Endpoint not found", resp.Error.Message)
}
