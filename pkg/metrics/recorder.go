package metrics

import (
	"context"

	"github.com/relayops/cascadeguard/pkg/breaker"
	"github.com/relayops/cascadeguard/pkg/events"
)

// Recorder translates bus events into Prometheus metrics. Subscribe it to
// the bus the breakers and the cascade system publish on:
//
//	m := metrics.NewMetrics(nil)
//	bus.Subscribe(metrics.NewRecorder(m))
type Recorder struct {
	metrics *Metrics
}

// NewRecorder creates a recorder backed by m.
func NewRecorder(m *Metrics) *Recorder {
	return &Recorder{metrics: m}
}

// Name returns the name of the handler
func (r *Recorder) Name() string {
	return "metrics"
}

// Handle updates the metrics matching the event. It never returns an error.
func (r *Recorder) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.CallSucceeded:
		r.metrics.RecordCall(e.Breaker, "success", e.Duration)
	case events.CallFailed:
		outcome := "failure"
		if e.Timeout {
			outcome = "timeout"
		}
		r.metrics.RecordCall(e.Breaker, outcome, e.Duration)
	case events.RequestRejected:
		r.metrics.RecordRejection(e.Breaker, e.Reason)
	case events.CircuitStateChanged:
		r.metrics.RecordStateTransition(e.Breaker, e.From, e.To)
	case events.RequestQueued:
		r.metrics.UpdateQueueDepth(e.Breaker, e.QueueLength)
	case events.BulkheadSaturated:
		r.metrics.UpdateBreakerUsage(e.Breaker, e.Active, e.Queued)
	case events.DependencyIsolated:
		r.metrics.RecordIsolation(e.Dependency, e.Reason)
	case events.DependencyRecovered:
		r.metrics.RecordRecovery(e.Dependency, e.Manual)
	case events.RecoveryFailed:
		r.metrics.RecordRecoveryFailure(e.Dependency)
	case events.FallbackFailed:
		r.metrics.RecordFallbackFailure(e.Dependency, e.Strategy)
	case events.SystemHealthChanged:
		r.metrics.SetSystemHealth(e.OverallHealth)
		r.metrics.SetIsolatedCount(len(e.Isolated))
	case events.EmergencyActivated:
		r.metrics.SetEmergencyActive(true)
	case events.EmergencyDeactivated:
		r.metrics.SetEmergencyActive(false)
	case events.HealthCheckCompleted:
		r.metrics.SetSystemHealth(e.OverallHealth)
	}
	return nil
}

// ObserveStats keeps the per-breaker gauges fresh between events. Wire it as
// the breaker's OnStats hook so maintenance ticks refresh state, usage, and
// uptime even while no traffic flows.
func (r *Recorder) ObserveStats(stats breaker.Stats) {
	r.metrics.SetCircuitState(stats.Name, stats.State.String())
	r.metrics.UpdateBreakerUsage(stats.Name, stats.ActiveRequests, stats.QueuedRequests)
	r.metrics.UpdateBreakerUptime(stats.Name, stats.Uptime)
}
