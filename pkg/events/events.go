// Package events carries the notification stream emitted by the resilience
// layer: circuit state transitions, admission decisions, dependency lifecycle
// changes, and emergency protocol activity. Producers publish onto a Bus;
// subscribers receive events synchronously, in publish order.
package events

import "time"

// Kind identifies the event variant.
type Kind string

const (
	KindCircuitStateChanged  Kind = "circuit_state_changed"
	KindCallSucceeded        Kind = "call_succeeded"
	KindCallFailed           Kind = "call_failed"
	KindRequestQueued        Kind = "request_queued"
	KindRequestRejected      Kind = "request_rejected"
	KindBulkheadSaturated    Kind = "bulkhead_saturated"
	KindDependencyRegistered Kind = "dependency_registered"
	KindDependencyIsolated   Kind = "dependency_isolated"
	KindDependencyRecovered  Kind = "dependency_recovered"
	KindRecoveryFailed       Kind = "recovery_failed"
	KindFallbackFailed       Kind = "fallback_failed"
	KindSystemHealthChanged  Kind = "system_health_changed"
	KindEmergencyActivated   Kind = "emergency_activated"
	KindEmergencyDeactivated Kind = "emergency_deactivated"
	KindHealthCheckCompleted Kind = "health_check_completed"
)

// Event is implemented by every notification in the catalog.
type Event interface {
	Kind() Kind
	// Source names the breaker or dependency the event concerns, or "system"
	// for system-wide events.
	Source() string
	Time() time.Time
}

// CircuitStateChanged is published on every breaker state transition.
type CircuitStateChanged struct {
	Breaker             string    `json:"breaker"`
	From                string    `json:"from"`
	To                  string    `json:"to"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Failures            int64     `json:"failures"`
	BackoffMultiplier   int       `json:"backoff_multiplier"`
	At                  time.Time `json:"at"`
}

func (e CircuitStateChanged) Kind() Kind      { return KindCircuitStateChanged }
func (e CircuitStateChanged) Source() string  { return e.Breaker }
func (e CircuitStateChanged) Time() time.Time { return e.At }

// CallSucceeded is published after a guarded call completes successfully.
type CallSucceeded struct {
	Breaker  string        `json:"breaker"`
	Label    string        `json:"label,omitempty"`
	Duration time.Duration `json:"duration_ns"`
	At       time.Time     `json:"at"`
}

func (e CallSucceeded) Kind() Kind      { return KindCallSucceeded }
func (e CallSucceeded) Source() string  { return e.Breaker }
func (e CallSucceeded) Time() time.Time { return e.At }

// CallFailed is published after a guarded call fails or times out.
type CallFailed struct {
	Breaker  string        `json:"breaker"`
	Label    string        `json:"label,omitempty"`
	Err      error         `json:"-"`
	Timeout  bool          `json:"timeout"`
	Duration time.Duration `json:"duration_ns"`
	At       time.Time     `json:"at"`
}

func (e CallFailed) Kind() Kind      { return KindCallFailed }
func (e CallFailed) Source() string  { return e.Breaker }
func (e CallFailed) Time() time.Time { return e.At }

// RequestQueued is published when a call is parked in the bulkhead queue.
type RequestQueued struct {
	Breaker     string    `json:"breaker"`
	Priority    string    `json:"priority"`
	QueueLength int       `json:"queue_length"`
	At          time.Time `json:"at"`
}

func (e RequestQueued) Kind() Kind      { return KindRequestQueued }
func (e RequestQueued) Source() string  { return e.Breaker }
func (e RequestQueued) Time() time.Time { return e.At }

// RequestRejected is published when a call is refused without running:
// circuit open, bulkhead full, queue timeout, isolation, or load shedding.
type RequestRejected struct {
	Breaker  string    `json:"breaker"`
	Reason   string    `json:"reason"`
	Priority string    `json:"priority,omitempty"`
	At       time.Time `json:"at"`
}

func (e RequestRejected) Kind() Kind      { return KindRequestRejected }
func (e RequestRejected) Source() string  { return e.Breaker }
func (e RequestRejected) Time() time.Time { return e.At }

// BulkheadSaturated is published when all concurrency slots are taken and
// requests are starting to queue.
type BulkheadSaturated struct {
	Breaker string    `json:"breaker"`
	Active  int       `json:"active"`
	Queued  int       `json:"queued"`
	At      time.Time `json:"at"`
}

func (e BulkheadSaturated) Kind() Kind      { return KindBulkheadSaturated }
func (e BulkheadSaturated) Source() string  { return e.Breaker }
func (e BulkheadSaturated) Time() time.Time { return e.At }

// DependencyRegistered is published when a dependency joins the system.
type DependencyRegistered struct {
	Dependency string    `json:"dependency"`
	Priority   string    `json:"priority"`
	At         time.Time `json:"at"`
}

func (e DependencyRegistered) Kind() Kind      { return KindDependencyRegistered }
func (e DependencyRegistered) Source() string  { return e.Dependency }
func (e DependencyRegistered) Time() time.Time { return e.At }

// Isolation reasons.
const (
	IsolationManual    = "manual"
	IsolationAutomatic = "automatic"
	IsolationEmergency = "emergency"
)

// DependencyIsolated is published when a dependency is cut off from traffic.
type DependencyIsolated struct {
	Dependency string    `json:"dependency"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"at"`
}

func (e DependencyIsolated) Kind() Kind      { return KindDependencyIsolated }
func (e DependencyIsolated) Source() string  { return e.Dependency }
func (e DependencyIsolated) Time() time.Time { return e.At }

// DependencyRecovered is published when an isolated dependency is restored.
type DependencyRecovered struct {
	Dependency string    `json:"dependency"`
	Manual     bool      `json:"manual"`
	Attempts   int       `json:"attempts"`
	At         time.Time `json:"at"`
}

func (e DependencyRecovered) Kind() Kind      { return KindDependencyRecovered }
func (e DependencyRecovered) Source() string  { return e.Dependency }
func (e DependencyRecovered) Time() time.Time { return e.At }

// RecoveryFailed is published when an automatic recovery attempt fails and
// another attempt has been scheduled.
type RecoveryFailed struct {
	Dependency string        `json:"dependency"`
	Attempt    int           `json:"attempt"`
	NextRetry  time.Duration `json:"next_retry_ns"`
	Err        error         `json:"-"`
	At         time.Time     `json:"at"`
}

func (e RecoveryFailed) Kind() Kind      { return KindRecoveryFailed }
func (e RecoveryFailed) Source() string  { return e.Dependency }
func (e RecoveryFailed) Time() time.Time { return e.At }

// FallbackFailed is published when a fallback path itself returns an error.
type FallbackFailed struct {
	Dependency string    `json:"dependency"`
	Strategy   string    `json:"strategy"`
	Err        error     `json:"-"`
	At         time.Time `json:"at"`
}

func (e FallbackFailed) Kind() Kind      { return KindFallbackFailed }
func (e FallbackFailed) Source() string  { return e.Dependency }
func (e FallbackFailed) Time() time.Time { return e.At }

// SystemHealthChanged is published when the overall health score or trend
// moves.
type SystemHealthChanged struct {
	OverallHealth float64   `json:"overall_health"`
	Trend         string    `json:"trend"`
	Failed        []string  `json:"failed,omitempty"`
	Isolated      []string  `json:"isolated,omitempty"`
	At            time.Time `json:"at"`
}

func (e SystemHealthChanged) Kind() Kind      { return KindSystemHealthChanged }
func (e SystemHealthChanged) Source() string  { return "system" }
func (e SystemHealthChanged) Time() time.Time { return e.At }

// EmergencyActivated is published when cascade conditions trip the emergency
// protocols and load shedding begins.
type EmergencyActivated struct {
	Reason   string    `json:"reason"`
	Failed   []string  `json:"failed,omitempty"`
	Isolated []string  `json:"isolated,omitempty"`
	At       time.Time `json:"at"`
}

func (e EmergencyActivated) Kind() Kind      { return KindEmergencyActivated }
func (e EmergencyActivated) Source() string  { return "system" }
func (e EmergencyActivated) Time() time.Time { return e.At }

// EmergencyDeactivated is published when load shedding ends.
type EmergencyDeactivated struct {
	At time.Time `json:"at"`
}

func (e EmergencyDeactivated) Kind() Kind      { return KindEmergencyDeactivated }
func (e EmergencyDeactivated) Source() string  { return "system" }
func (e EmergencyDeactivated) Time() time.Time { return e.At }

// HealthCheckCompleted is published after each periodic health sweep.
type HealthCheckCompleted struct {
	OverallHealth float64   `json:"overall_health"`
	Healthy       int       `json:"healthy"`
	Total         int       `json:"total"`
	At            time.Time `json:"at"`
}

func (e HealthCheckCompleted) Kind() Kind      { return KindHealthCheckCompleted }
func (e HealthCheckCompleted) Source() string  { return "system" }
func (e HealthCheckCompleted) Time() time.Time { return e.At }
