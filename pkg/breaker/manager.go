package breaker

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/relayops/cascadeguard/pkg/events"
	"github.com/relayops/cascadeguard/pkg/logging"
)

// Manager owns a registry of circuit breakers that share one event bus.
// Breakers created through the manager have their maintenance loops started
// automatically; Stop tears them all down.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	// Maintained from transition events so reads stay O(1) and agree with
	// the order transitions were published in.
	openCircuits atomic.Int64

	bus         *events.Bus
	unsubscribe func()
	logger      *logging.Logger
}

// NewManager creates a breaker registry publishing on bus; pass nil for a
// private bus.
func NewManager(bus *events.Bus) *Manager {
	if bus == nil {
		bus = events.NewBus()
	}

	m := &Manager{
		breakers: make(map[string]*CircuitBreaker),
		bus:      bus,
		logger:   logging.GetLogger(),
	}

	// Count open circuits for breakers this manager owns. Shared buses also
	// carry transitions from breakers created elsewhere; skip those.
	m.unsubscribe = bus.SubscribeFunc(func(ctx context.Context, event events.Event) error {
		sc, ok := event.(events.CircuitStateChanged)
		if !ok {
			return nil
		}
		m.mu.RLock()
		_, owned := m.breakers[sc.Breaker]
		m.mu.RUnlock()
		if !owned {
			return nil
		}
		if sc.To == StateOpen.String() {
			m.openCircuits.Add(1)
		} else if sc.From == StateOpen.String() {
			m.openCircuits.Add(-1)
		}
		return nil
	})

	return m
}

// GetOrCreate returns the breaker registered under name, creating it from
// config on first use. The config's Name field is overwritten with name.
func (m *Manager) GetOrCreate(name string, config Config) *CircuitBreaker {
	m.mu.RLock()
	cb, ok := m.breakers[name]
	m.mu.RUnlock()
	if ok {
		return cb
	}

	m.mu.Lock()
	if cb, ok = m.breakers[name]; ok {
		m.mu.Unlock()
		return cb
	}
	config.Name = name
	cb = NewCircuitBreaker(config, m.bus)
	m.breakers[name] = cb
	m.mu.Unlock()

	cb.StartMaintenance(context.Background())

	m.logger.Info("Circuit breaker registered",
		"name", name,
		"failure_threshold", cb.config.FailureThreshold,
		"recovery_timeout", cb.config.RecoveryTimeout.String(),
	)
	return cb
}

// Get returns the breaker registered under name.
func (m *Manager) Get(name string) (*CircuitBreaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cb, ok := m.breakers[name]
	return cb, ok
}

// Names returns the registered breaker names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.breakers))
	for name := range m.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Events returns the shared event bus.
func (m *Manager) Events() *events.Bus {
	return m.bus
}

// GetAllStats snapshots every registered breaker.
func (m *Manager) GetAllStats() map[string]Stats {
	m.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(m.breakers))
	for _, cb := range m.breakers {
		breakers = append(breakers, cb)
	}
	m.mu.RUnlock()

	stats := make(map[string]Stats, len(breakers))
	for _, cb := range breakers {
		stats[cb.Name()] = cb.GetStats()
	}
	return stats
}

// Aggregate summarizes the registry.
type Aggregate struct {
	TotalCircuits    int   `json:"total_circuits"`
	OpenCircuits     int   `json:"open_circuits"`
	TotalRequests    int64 `json:"total_requests"`
	RejectedRequests int64 `json:"rejected_requests"`
}

// GetAggregate returns registry-wide totals.
func (m *Manager) GetAggregate() Aggregate {
	stats := m.GetAllStats()

	agg := Aggregate{
		TotalCircuits: len(stats),
		OpenCircuits:  int(m.openCircuits.Load()),
	}
	for _, s := range stats {
		agg.TotalRequests += s.TotalRequests
		agg.RejectedRequests += s.RejectedRequests
	}
	return agg
}

// ResetAll resets every registered breaker to CLOSED with zeroed counters.
func (m *Manager) ResetAll() {
	m.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(m.breakers))
	for _, cb := range m.breakers {
		breakers = append(breakers, cb)
	}
	m.mu.RUnlock()

	for _, cb := range breakers {
		cb.Reset()
	}
	m.logger.Info("All circuit breakers reset", "count", len(breakers))
}

// Stop halts every breaker's maintenance loop and detaches the manager from
// the bus. Registered breakers remain usable for calls.
func (m *Manager) Stop() {
	m.mu.RLock()
	breakers := make([]*CircuitBreaker, 0, len(m.breakers))
	for _, cb := range m.breakers {
		breakers = append(breakers, cb)
	}
	m.mu.RUnlock()

	for _, cb := range breakers {
		cb.Stop()
	}
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}
