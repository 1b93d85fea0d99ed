package cascade

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relayops/cascadeguard/pkg/breaker"
	"github.com/relayops/cascadeguard/pkg/errors"
	"github.com/relayops/cascadeguard/pkg/events"
	"github.com/relayops/cascadeguard/pkg/logging"
)

// DependencyPriority ranks how much the platform depends on a downstream
// service. Priority drives prevention and isolation decisions: CRITICAL
// dependencies are never auto-isolated, LOW dependencies are the first to be
// shed under degraded health.
type DependencyPriority int

const (
	PriorityLow DependencyPriority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p DependencyPriority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON renders the priority as its name.
func (p DependencyPriority) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// ParsePriority converts a case-insensitive priority name.
func ParsePriority(s string) (DependencyPriority, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return PriorityLow, nil
	case "MEDIUM":
		return PriorityMedium, nil
	case "HIGH":
		return PriorityHigh, nil
	case "CRITICAL":
		return PriorityCritical, nil
	default:
		return PriorityMedium, fmt.Errorf("unknown dependency priority %q", s)
	}
}

// callPriority maps the dependency priority onto the bulkhead admission
// scale used for queued call ordering.
func (p DependencyPriority) callPriority() breaker.Priority {
	switch {
	case p >= PriorityHigh:
		return breaker.PriorityHigh
	case p == PriorityMedium:
		return breaker.PriorityMedium
	default:
		return breaker.PriorityLow
	}
}

// FallbackStrategy selects what happens when a guarded call cannot or should
// not reach the real dependency.
type FallbackStrategy string

const (
	// StrategyCachedResponse serves the last known good response.
	StrategyCachedResponse FallbackStrategy = "cached_response"
	// StrategyDefaultValue serves a static default.
	StrategyDefaultValue FallbackStrategy = "default_value"
	// StrategyGracefulDegradation serves a reduced-functionality result.
	StrategyGracefulDegradation FallbackStrategy = "graceful_degradation"
	// StrategyFailFast surfaces the underlying error immediately.
	StrategyFailFast FallbackStrategy = "fail_fast"
	// StrategyCircuitBreakerOnly relies on the breaker alone, no fallback.
	StrategyCircuitBreakerOnly FallbackStrategy = "circuit_breaker"
)

// ParseStrategy converts a strategy name as it appears in configuration.
func ParseStrategy(s string) (FallbackStrategy, error) {
	switch fs := FallbackStrategy(strings.ToLower(strings.TrimSpace(s))); fs {
	case StrategyCachedResponse, StrategyDefaultValue, StrategyGracefulDegradation,
		StrategyFailFast, StrategyCircuitBreakerOnly:
		return fs, nil
	default:
		return StrategyCircuitBreakerOnly, fmt.Errorf("unknown fallback strategy %q", s)
	}
}

// usesFallback reports whether the strategy invokes a fallback function.
// FAIL_FAST and CIRCUIT_BREAKER surface the underlying error instead.
func (s FallbackStrategy) usesFallback() bool {
	switch s {
	case StrategyCachedResponse, StrategyDefaultValue, StrategyGracefulDegradation:
		return true
	default:
		return false
	}
}

// Operation is the guarded unit of work.
type Operation = breaker.Operation

// FallbackFunc produces a substitute result when the real operation is not
// attempted or cannot succeed.
type FallbackFunc func(ctx context.Context) (interface{}, error)

// DependencyConfig describes one downstream dependency.
type DependencyConfig struct {
	Name     string
	Priority DependencyPriority
	Strategy FallbackStrategy

	// Breaker configures the dependency's circuit breaker. Its Name is
	// overwritten with the dependency name.
	Breaker breaker.Config

	// Retry, when set, wraps guarded calls in a retry loop. Every attempt
	// passes through the circuit breaker.
	Retry RetryPolicy

	// Probe, when set, must succeed before an automatic recovery lifts
	// isolation. A failing probe keeps the dependency isolated and
	// reschedules the attempt with a longer delay.
	Probe Operation
}

// Health thresholds shared by dependency reporting and the system's
// isolation policy.
const (
	healthyUptimeFloor     = 50.0
	unhealthyFailureStreak = 5

	// minIsolationSamples guards uptime-based isolation; without it a
	// dependency's first-ever failure would isolate it at uptime 0.
	minIsolationSamples = 5
)

// DependencyHealth is a point-in-time snapshot derived from the breaker's
// statistics. Callers own the copy.
type DependencyHealth struct {
	Name                string             `json:"name"`
	Priority            DependencyPriority `json:"priority"`
	Isolated            bool               `json:"isolated"`
	IsHealthy           bool               `json:"is_healthy"`
	Uptime              float64            `json:"uptime"`
	ConsecutiveFailures int                `json:"consecutive_failures"`
	ResponseTime        time.Duration      `json:"response_time_ns"`
	CircuitState        breaker.State      `json:"circuit_state"`
	TotalRequests       int64              `json:"total_requests"`
	Successes           int64              `json:"successes"`
	LastFailureAt       time.Time          `json:"last_failure_at,omitempty"`
	LastChecked         time.Time          `json:"last_checked"`
}

// DependencyManager guards a single dependency: one circuit breaker, the
// fallback strategy, and the isolation flag.
type DependencyManager struct {
	config   DependencyConfig
	cb       *breaker.CircuitBreaker
	fallback FallbackFunc

	mu       sync.Mutex
	isolated bool

	bus    *events.Bus
	logger *logging.Logger
	nowFn  func() time.Time
}

// NewDependencyManager builds the manager, starts the breaker's maintenance
// loop, and announces the dependency on the bus. A nil bus gets a private
// one. An empty Strategy defaults to graceful degradation when a fallback is
// provided and to circuit-breaker-only otherwise.
func NewDependencyManager(config DependencyConfig, fallback FallbackFunc, bus *events.Bus) *DependencyManager {
	if bus == nil {
		bus = events.NewBus()
	}
	if config.Strategy == "" {
		if fallback != nil {
			config.Strategy = StrategyGracefulDegradation
		} else {
			config.Strategy = StrategyCircuitBreakerOnly
		}
	}

	bcfg := config.Breaker
	bcfg.Name = config.Name
	if bcfg.Bulkhead != nil && bcfg.Bulkhead.DefaultPriority == 0 {
		bcfg.Bulkhead.DefaultPriority = config.Priority.callPriority()
	}

	dm := &DependencyManager{
		config:   config,
		cb:       breaker.NewCircuitBreaker(bcfg, bus),
		fallback: fallback,
		bus:      bus,
		logger:   logging.GetLogger(),
		nowFn:    time.Now,
	}
	dm.cb.StartMaintenance(context.Background())

	dm.bus.Publish(context.Background(), events.DependencyRegistered{
		Dependency: config.Name,
		Priority:   config.Priority.String(),
		At:         dm.nowFn(),
	})
	return dm
}

// Name returns the dependency name.
func (dm *DependencyManager) Name() string {
	return dm.config.Name
}

// Priority returns the configured dependency priority.
func (dm *DependencyManager) Priority() DependencyPriority {
	return dm.config.Priority
}

// Breaker returns the dependency's circuit breaker.
func (dm *DependencyManager) Breaker() *breaker.CircuitBreaker {
	return dm.cb
}

// Events returns the bus the manager publishes on.
func (dm *DependencyManager) Events() *events.Bus {
	return dm.bus
}

// Isolated reports whether the dependency is currently isolated.
func (dm *DependencyManager) Isolated() bool {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.isolated
}

// Execute runs op through the circuit breaker, wrapped by the retry policy
// when one is configured. Isolated dependencies fail fast without touching
// the breaker.
func (dm *DependencyManager) Execute(ctx context.Context, op Operation) (interface{}, error) {
	if dm.Isolated() {
		dm.bus.Publish(ctx, events.RequestRejected{
			Breaker:  dm.config.Name,
			Reason:   "isolated",
			Priority: dm.config.Priority.String(),
			At:       dm.nowFn(),
		})
		return nil, &errors.DependencyIsolatedError{Name: dm.config.Name}
	}

	if dm.config.Retry != nil {
		result, _, err := dm.config.Retry.Execute(ctx, dm.guarded(op))
		return result, err
	}
	return dm.cb.Execute(ctx, op)
}

// guarded wraps op so each retry attempt passes through the breaker.
func (dm *DependencyManager) guarded(op Operation) Operation {
	return func(ctx context.Context) (interface{}, error) {
		return dm.cb.Execute(ctx, op)
	}
}

// ExecuteFallback runs the configured fallback function. Strategies that do
// not use one, and configurations missing one, fail immediately.
func (dm *DependencyManager) ExecuteFallback(ctx context.Context) (interface{}, error) {
	if !dm.config.Strategy.usesFallback() || dm.fallback == nil {
		return nil, &errors.FallbackUnavailableError{
			Name:     dm.config.Name,
			Strategy: string(dm.config.Strategy),
		}
	}
	return dm.fallback(ctx)
}

// Isolate manually removes the dependency from traffic. Guarded calls fail
// fast with DependencyIsolatedError until Recover.
func (dm *DependencyManager) Isolate() {
	dm.isolate(events.IsolationManual)
}

// isolate flips the isolation flag. It returns false when the dependency was
// already isolated, in which case no event is published.
func (dm *DependencyManager) isolate(reason string) bool {
	dm.mu.Lock()
	if dm.isolated {
		dm.mu.Unlock()
		return false
	}
	dm.isolated = true
	dm.mu.Unlock()

	dm.logger.LogDependencyEvent(context.Background(), "dependency isolated", dm.config.Name, logrus.Fields{
		"reason":   reason,
		"priority": dm.config.Priority.String(),
	})
	dm.bus.Publish(context.Background(), events.DependencyIsolated{
		Dependency: dm.config.Name,
		Reason:     reason,
		At:         dm.nowFn(),
	})
	return true
}

// Recover manually lifts isolation and resets the breaker to a clean CLOSED
// state.
func (dm *DependencyManager) Recover() {
	dm.restore(true, 0)
}

// restore lifts isolation, resets the breaker, and publishes the recovery.
// It returns false when the dependency was not isolated.
func (dm *DependencyManager) restore(manual bool, attempts int) bool {
	dm.mu.Lock()
	if !dm.isolated {
		dm.mu.Unlock()
		return false
	}
	dm.isolated = false
	dm.mu.Unlock()

	dm.cb.Reset()

	dm.logger.LogDependencyEvent(context.Background(), "dependency recovered", dm.config.Name, logrus.Fields{
		"manual":   manual,
		"attempts": attempts,
	})
	dm.bus.Publish(context.Background(), events.DependencyRecovered{
		Dependency: dm.config.Name,
		Manual:     manual,
		Attempts:   attempts,
		At:         dm.nowFn(),
	})
	return true
}

// circuitBlocking reports whether the breaker is OPEN and still inside its
// backoff window. Once the next-attempt time passes, the circuit no longer
// blocks: the next call is the half-open probe.
func (dm *DependencyManager) circuitBlocking() bool {
	stats := dm.cb.GetStats()
	return stats.State == breaker.StateOpen && dm.nowFn().Before(stats.NextAttemptAt)
}

// Health derives a snapshot from the breaker's statistics. A dependency is
// healthy while uptime stays above 50%, its failure streak stays under five,
// and it is not isolated.
func (dm *DependencyManager) Health() DependencyHealth {
	stats := dm.cb.GetStats()

	dm.mu.Lock()
	isolated := dm.isolated
	dm.mu.Unlock()

	uptime := 100.0
	if stats.TotalRequests > 0 {
		uptime = float64(stats.Successes) / float64(stats.TotalRequests) * 100
	}

	return DependencyHealth{
		Name:                dm.config.Name,
		Priority:            dm.config.Priority,
		Isolated:            isolated,
		IsHealthy:           uptime > healthyUptimeFloor && stats.ConsecutiveFailures < unhealthyFailureStreak && !isolated,
		Uptime:              uptime,
		ConsecutiveFailures: stats.ConsecutiveFailures,
		ResponseTime:        stats.AverageResponseTime,
		CircuitState:        stats.State,
		TotalRequests:       stats.TotalRequests,
		Successes:           stats.Successes,
		LastFailureAt:       stats.LastFailureAt,
		LastChecked:         dm.nowFn(),
	}
}

// Stop shuts down the breaker's maintenance loop.
func (dm *DependencyManager) Stop() {
	dm.cb.Stop()
}
