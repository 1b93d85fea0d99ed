package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Guarded call metrics
	CallsTotal      *prometheus.CounterVec
	CallDuration    *prometheus.HistogramVec
	RejectionsTotal *prometheus.CounterVec

	// Circuit metrics
	CircuitState     *prometheus.GaugeVec
	StateTransitions *prometheus.CounterVec
	BreakerUptime    *prometheus.GaugeVec

	// Bulkhead metrics
	ActiveRequests *prometheus.GaugeVec
	QueuedRequests *prometheus.GaugeVec

	// Dependency metrics
	IsolationsTotal       *prometheus.CounterVec
	RecoveriesTotal       *prometheus.CounterVec
	RecoveryFailuresTotal *prometheus.CounterVec
	FallbackFailuresTotal *prometheus.CounterVec

	// System metrics
	SystemHealth         prometheus.Gauge
	IsolatedDependencies prometheus.Gauge
	EmergencyActive      prometheus.Gauge

	// HTTP metrics for the admin API
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "cascadeguard",
		Subsystem: "",
		Enabled:   true,
	}
}

// NewMetrics creates all Prometheus metrics and registers them on the
// default registry.
func NewMetrics(config *Config) *Metrics {
	return NewMetricsWithRegistry(config, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates all Prometheus metrics on an explicit
// registry.
func NewMetricsWithRegistry(config *Config, reg prometheus.Registerer) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	m := &Metrics{
		CallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "calls_total",
				Help:      "Total number of guarded calls by outcome",
			},
			[]string{"breaker", "outcome"},
		),
		CallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "call_duration_seconds",
				Help:      "Guarded call duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"breaker", "outcome"},
		),
		RejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "rejections_total",
				Help:      "Total number of calls rejected without running",
			},
			[]string{"breaker", "reason"},
		),

		CircuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_state",
				Help:      "Circuit state: 0 closed, 1 half-open, 2 open",
			},
			[]string{"breaker"},
		),
		StateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_transitions_total",
				Help:      "Total number of circuit state transitions",
			},
			[]string{"breaker", "from", "to"},
		),
		BreakerUptime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "breaker_uptime_percent",
				Help:      "Share of completed calls that succeeded",
			},
			[]string{"breaker"},
		),

		ActiveRequests: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "bulkhead_active_requests",
				Help:      "Number of in-flight calls per breaker",
			},
			[]string{"breaker"},
		),
		QueuedRequests: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "bulkhead_queued_requests",
				Help:      "Number of calls waiting for a bulkhead slot",
			},
			[]string{"breaker"},
		),

		IsolationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "isolations_total",
				Help:      "Total number of dependency isolations",
			},
			[]string{"dependency", "reason"},
		),
		RecoveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "recoveries_total",
				Help:      "Total number of dependency recoveries",
			},
			[]string{"dependency", "mode"},
		),
		RecoveryFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "recovery_failures_total",
				Help:      "Total number of failed recovery attempts",
			},
			[]string{"dependency"},
		),
		FallbackFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "fallback_failures_total",
				Help:      "Total number of failed fallback executions",
			},
			[]string{"dependency", "strategy"},
		),

		SystemHealth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "system_health_percent",
				Help:      "Overall dependency health percentage",
			},
		),
		IsolatedDependencies: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "isolated_dependencies",
				Help:      "Number of currently isolated dependencies",
			},
		),
		EmergencyActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "emergency_active",
				Help:      "Whether emergency load shedding is active",
			},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Number of HTTP requests currently being processed",
			},
			[]string{"method", "path"},
		),
	}

	reg.MustRegister(
		m.CallsTotal,
		m.CallDuration,
		m.RejectionsTotal,
		m.CircuitState,
		m.StateTransitions,
		m.BreakerUptime,
		m.ActiveRequests,
		m.QueuedRequests,
		m.IsolationsTotal,
		m.RecoveriesTotal,
		m.RecoveryFailuresTotal,
		m.FallbackFailuresTotal,
		m.SystemHealth,
		m.IsolatedDependencies,
		m.EmergencyActive,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// RecordCall records one guarded call outcome. Outcome is success, failure,
// or timeout.
func (m *Metrics) RecordCall(breaker, outcome string, duration time.Duration) {
	if m.CallsTotal == nil {
		return
	}

	m.CallsTotal.WithLabelValues(breaker, outcome).Inc()
	m.CallDuration.WithLabelValues(breaker, outcome).Observe(duration.Seconds())
}

// RecordRejection records a call refused without running.
func (m *Metrics) RecordRejection(breaker, reason string) {
	if m.RejectionsTotal == nil {
		return
	}

	m.RejectionsTotal.WithLabelValues(breaker, reason).Inc()
}

// RecordStateTransition records a circuit transition and moves the state
// gauge.
func (m *Metrics) RecordStateTransition(breaker, from, to string) {
	if m.StateTransitions == nil {
		return
	}

	m.StateTransitions.WithLabelValues(breaker, from, to).Inc()
	m.CircuitState.WithLabelValues(breaker).Set(stateValue(to))
}

// SetCircuitState moves the state gauge without counting a transition.
func (m *Metrics) SetCircuitState(breaker, state string) {
	if m.CircuitState == nil {
		return
	}

	m.CircuitState.WithLabelValues(breaker).Set(stateValue(state))
}

func stateValue(state string) float64 {
	switch state {
	case "CLOSED":
		return 0
	case "HALF_OPEN":
		return 1
	case "OPEN":
		return 2
	default:
		return -1
	}
}

// UpdateBreakerUsage updates the bulkhead gauges for one breaker.
func (m *Metrics) UpdateBreakerUsage(breaker string, active, queued int) {
	if m.ActiveRequests == nil {
		return
	}

	m.ActiveRequests.WithLabelValues(breaker).Set(float64(active))
	m.QueuedRequests.WithLabelValues(breaker).Set(float64(queued))
}

// UpdateQueueDepth updates the queued-requests gauge.
func (m *Metrics) UpdateQueueDepth(breaker string, depth int) {
	if m.QueuedRequests == nil {
		return
	}

	m.QueuedRequests.WithLabelValues(breaker).Set(float64(depth))
}

// UpdateBreakerUptime updates the per-breaker uptime gauge.
func (m *Metrics) UpdateBreakerUptime(breaker string, uptime float64) {
	if m.BreakerUptime == nil {
		return
	}

	m.BreakerUptime.WithLabelValues(breaker).Set(uptime)
}

// RecordIsolation records one dependency isolation.
func (m *Metrics) RecordIsolation(dependency, reason string) {
	if m.IsolationsTotal == nil {
		return
	}

	m.IsolationsTotal.WithLabelValues(dependency, reason).Inc()
}

// RecordRecovery records one dependency recovery.
func (m *Metrics) RecordRecovery(dependency string, manual bool) {
	if m.RecoveriesTotal == nil {
		return
	}

	mode := "automatic"
	if manual {
		mode = "manual"
	}
	m.RecoveriesTotal.WithLabelValues(dependency, mode).Inc()
}

// RecordRecoveryFailure records one failed automatic recovery attempt.
func (m *Metrics) RecordRecoveryFailure(dependency string) {
	if m.RecoveryFailuresTotal == nil {
		return
	}

	m.RecoveryFailuresTotal.WithLabelValues(dependency).Inc()
}

// RecordFallbackFailure records one failed fallback execution.
func (m *Metrics) RecordFallbackFailure(dependency, strategy string) {
	if m.FallbackFailuresTotal == nil {
		return
	}

	m.FallbackFailuresTotal.WithLabelValues(dependency, strategy).Inc()
}

// SetSystemHealth updates the overall health gauge.
func (m *Metrics) SetSystemHealth(health float64) {
	if m.SystemHealth == nil {
		return
	}

	m.SystemHealth.Set(health)
}

// SetIsolatedCount updates the isolated-dependencies gauge.
func (m *Metrics) SetIsolatedCount(count int) {
	if m.IsolatedDependencies == nil {
		return
	}

	m.IsolatedDependencies.Set(float64(count))
}

// SetEmergencyActive flips the emergency gauge.
func (m *Metrics) SetEmergencyActive(active bool) {
	if m.EmergencyActive == nil {
		return
	}

	if active {
		m.EmergencyActive.Set(1)
	} else {
		m.EmergencyActive.Set(0)
	}
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m.HTTPRequestsTotal == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.HTTPRequestsInFlight != nil {
			m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Inc()
			defer m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, c.FullPath()).Dec()
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		m.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), duration)
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	if m.gatherer != nil {
		return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}
