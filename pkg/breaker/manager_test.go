package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayops/cascadeguard/pkg/events"
)

func TestManager_GetOrCreate(t *testing.T) {
	m := NewManager(nil)
	defer m.Stop()

	cb := m.GetOrCreate("payments", Config{Name: "ignored", FailureThreshold: 3})
	assert.Equal(t, "payments", cb.Name())

	// Same name returns the same instance regardless of config.
	again := m.GetOrCreate("payments", Config{FailureThreshold: 99})
	assert.Same(t, cb, again)

	_, ok := m.Get("payments")
	assert.True(t, ok)
	_, ok = m.Get("missing")
	assert.False(t, ok)
}

func TestManager_Names(t *testing.T) {
	m := NewManager(nil)
	defer m.Stop()

	m.GetOrCreate("cache", Config{})
	m.GetOrCreate("auth", Config{})
	m.GetOrCreate("payments", Config{})

	assert.Equal(t, []string{"auth", "cache", "payments"}, m.Names())
}

func TestManager_AggregateTracksOpenCircuits(t *testing.T) {
	m := NewManager(nil)
	defer m.Stop()

	healthy := m.GetOrCreate("healthy", Config{FailureThreshold: 1})
	broken := m.GetOrCreate("broken", Config{FailureThreshold: 1})

	healthy.Execute(context.Background(), succeed)
	broken.Execute(context.Background(), fail)
	require.Equal(t, StateOpen, broken.State())

	agg := m.GetAggregate()
	assert.Equal(t, 2, agg.TotalCircuits)
	assert.Equal(t, 1, agg.OpenCircuits)
	assert.Equal(t, int64(2), agg.TotalRequests)

	stats := m.GetAllStats()
	require.Len(t, stats, 2)
	assert.Equal(t, StateClosed, stats["healthy"].State)
	assert.Equal(t, StateOpen, stats["broken"].State)
}

func TestManager_ResetAll(t *testing.T) {
	m := NewManager(nil)
	defer m.Stop()

	a := m.GetOrCreate("a", Config{FailureThreshold: 1})
	b := m.GetOrCreate("b", Config{FailureThreshold: 1})
	a.Execute(context.Background(), fail)
	b.Execute(context.Background(), fail)
	require.Equal(t, 2, m.GetAggregate().OpenCircuits)

	m.ResetAll()

	agg := m.GetAggregate()
	assert.Equal(t, 0, agg.OpenCircuits)
	assert.Equal(t, int64(0), agg.TotalRequests)
	assert.Equal(t, StateClosed, a.State())
	assert.Equal(t, StateClosed, b.State())
}

func TestManager_SharedBus(t *testing.T) {
	bus := events.NewBus()
	recorder := &transitionRecorder{}
	bus.Subscribe(recorder)

	m := NewManager(bus)
	defer m.Stop()

	cb := m.GetOrCreate("flaky", Config{FailureThreshold: 1})
	cb.Execute(context.Background(), fail)

	transitions := recorder.snapshot()
	require.Len(t, transitions, 1)
	assert.Equal(t, "flaky", transitions[0].Breaker)
	assert.Equal(t, "OPEN", transitions[0].To)
}

func TestManager_IgnoresUnownedBreakers(t *testing.T) {
	bus := events.NewBus()
	m := NewManager(bus)
	defer m.Stop()

	m.GetOrCreate("owned", Config{FailureThreshold: 1})

	// A breaker sharing the bus but created outside the manager must not
	// move the manager's open-circuit count.
	outsider := NewCircuitBreaker(Config{Name: "outsider", FailureThreshold: 1}, bus)
	outsider.Execute(context.Background(), fail)
	require.Equal(t, StateOpen, outsider.State())

	assert.Equal(t, 0, m.GetAggregate().OpenCircuits)
	assert.Equal(t, 1, m.GetAggregate().TotalCircuits)
}

func TestManager_StopIsIdempotent(t *testing.T) {
	m := NewManager(nil)
	m.GetOrCreate("a", Config{MaintenanceInterval: 10 * time.Millisecond})

	m.Stop()
	m.Stop()
}
