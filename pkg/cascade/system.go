package cascade

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relayops/cascadeguard/pkg/errors"
	"github.com/relayops/cascadeguard/pkg/events"
	"github.com/relayops/cascadeguard/pkg/logging"
)

// ErrNotRegistered is returned for operations on unknown dependency names.
var ErrNotRegistered = stderrors.New("dependency not registered")

// Defaults for Config fields left at zero.
const (
	DefaultHealthThreshold       = 50.0
	DefaultMaxConcurrentFailures = 3
	DefaultIsolationTimeout      = 30 * time.Second
	DefaultHealthCheckInterval   = 5 * time.Second
)

// Config tunes system-wide cascade prevention.
type Config struct {
	// HealthThreshold is the overall health percentage below which LOW
	// priority calls are preemptively failed over.
	HealthThreshold float64

	// MaxConcurrentFailures is how many simultaneously failing dependencies
	// activate emergency protocols.
	MaxConcurrentFailures int

	// IsolationTimeout is the delay before the first automatic recovery
	// attempt of an isolated dependency. Emergency protocols deactivate
	// after twice this value.
	IsolationTimeout time.Duration

	// HealthCheckInterval is the cadence of the periodic health sweep.
	HealthCheckInterval time.Duration

	// MaxRecoveryBackoff caps the delay between failed recovery attempts.
	// Zero means eight times IsolationTimeout.
	MaxRecoveryBackoff time.Duration
}

// Health trend labels derived from the moving average of recent samples.
const (
	TrendImproving = "improving"
	TrendStable    = "stable"
	TrendDegrading = "degrading"
)

const (
	// healthHistorySize bounds the sample window used for trend analysis.
	healthHistorySize = 10

	// trendWindow and trendBand parameterize the moving-average comparison:
	// the mean of the last trendWindow samples against the mean of the
	// trendWindow before it, with changes inside the band reported stable.
	trendWindow = 3
	trendBand   = 5.0

	// cascadeHealthDrop is the moving-average drop that signals a
	// developing cascade.
	cascadeHealthDrop = 30.0
)

// SystemHealth is a snapshot of platform-wide dependency health.
type SystemHealth struct {
	OverallHealth        float64   `json:"overall_health"`
	HealthyCriticalCount int       `json:"healthy_critical_count"`
	TotalDependencies    int       `json:"total_dependencies"`
	FailedDependencies   []string  `json:"failed_dependencies,omitempty"`
	IsolatedDependencies []string  `json:"isolated_dependencies,omitempty"`
	Trend                string    `json:"trend"`
	LastCheck            time.Time `json:"last_check"`
}

// System coordinates every registered dependency: it gates calls during
// emergencies, fails over to fallbacks preemptively, isolates repeat
// offenders, and watches aggregate health for cascade patterns.
type System struct {
	config Config

	mu             sync.RWMutex
	deps           map[string]*DependencyManager
	health         SystemHealth
	history        []float64
	loadShedding   bool
	recovery       map[string]*recoveryState
	emergencyTimer *time.Timer
	running        bool
	stopped        bool
	stopChan       chan struct{}

	healthNudge chan struct{}
	unsubscribe func()
	bus         *events.Bus
	logger      *logging.Logger
	nowFn       func() time.Time
}

type recoveryState struct {
	attempts int
	timer    *time.Timer
}

// NewSystem builds the prevention system. Every dependency's breaker
// publishes on bus; a nil bus gets a private one. Call Start to run the
// periodic health sweep.
func NewSystem(config Config, bus *events.Bus) *System {
	if config.HealthThreshold <= 0 {
		config.HealthThreshold = DefaultHealthThreshold
	}
	if config.MaxConcurrentFailures <= 0 {
		config.MaxConcurrentFailures = DefaultMaxConcurrentFailures
	}
	if config.IsolationTimeout <= 0 {
		config.IsolationTimeout = DefaultIsolationTimeout
	}
	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if config.MaxRecoveryBackoff <= 0 {
		config.MaxRecoveryBackoff = 8 * config.IsolationTimeout
	}
	if bus == nil {
		bus = events.NewBus()
	}

	s := &System{
		config:      config,
		deps:        make(map[string]*DependencyManager),
		health:      SystemHealth{OverallHealth: 100, Trend: TrendStable},
		recovery:    make(map[string]*recoveryState),
		healthNudge: make(chan struct{}, 1),
		bus:         bus,
		logger:      logging.GetLogger(),
		nowFn:       time.Now,
	}

	// The handler only nudges the health loop. Recomputing here would
	// acquire s.mu inside a breaker's publish path.
	s.unsubscribe = bus.SubscribeFunc(func(ctx context.Context, event events.Event) error {
		switch event.(type) {
		case events.CircuitStateChanged, events.CallSucceeded, events.CallFailed:
			s.nudgeHealth()
		}
		return nil
	})
	return s
}

// Start launches the periodic health sweep. It returns immediately.
func (s *System) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.stopped {
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	go s.healthLoop(ctx, s.stopChan)
}

func (s *System) healthLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(s.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-s.healthNudge:
			s.refreshHealth(false)
		case <-ticker.C:
			s.refreshHealth(true)
			s.checkForCascade()
		}
	}
}

func (s *System) nudgeHealth() {
	select {
	case s.healthNudge <- struct{}{}:
	default:
	}
}

// RegisterDependency adds a dependency. Its breaker publishes on the system
// bus, and its health immediately counts toward the aggregate.
func (s *System) RegisterDependency(config DependencyConfig, fallback FallbackFunc) (*DependencyManager, error) {
	if config.Name == "" {
		return nil, stderrors.New("dependency name is required")
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, stderrors.New("system is stopped")
	}
	if _, exists := s.deps[config.Name]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("dependency %q already registered", config.Name)
	}
	dm := NewDependencyManager(config, fallback, s.bus)
	s.deps[config.Name] = dm
	s.mu.Unlock()

	s.refreshHealth(false)
	return dm, nil
}

// Dependency returns the manager registered under name.
func (s *System) Dependency(name string) (*DependencyManager, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dm, ok := s.deps[name]
	return dm, ok
}

// Dependencies returns the registered names, sorted.
func (s *System) Dependencies() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.deps))
	for name := range s.deps {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Events returns the shared event bus.
func (s *System) Events() *events.Bus {
	return s.bus
}

// Execute runs op against the named dependency with full cascade
// prevention: emergency load shedding, preemptive fallback, isolation
// bookkeeping, and cascade detection.
func (s *System) Execute(ctx context.Context, name string, op Operation) (interface{}, error) {
	dm, ok := s.Dependency(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}

	if s.LoadSheddingActive() && dm.Priority() == PriorityLow {
		s.bus.Publish(ctx, events.RequestRejected{
			Breaker:  name,
			Reason:   "load_shedding",
			Priority: dm.Priority().String(),
			At:       s.nowFn(),
		})
		return nil, &errors.LoadSheddingError{Name: name, Priority: dm.Priority().String()}
	}

	if reason, prevent := s.preventExecution(dm); prevent {
		return s.fallbackFor(ctx, dm, reason)
	}

	result, err := dm.Execute(ctx, op)
	s.refreshHealth(false)

	if err != nil {
		if health := dm.Health(); s.shouldIsolate(dm, health) {
			s.autoIsolate(dm)
		}
		s.checkForCascade()
	}
	return result, err
}

type preventReason int

const (
	preventNone preventReason = iota
	preventIsolated
	preventCircuitOpen
	preventLowHealth
)

func (pr preventReason) String() string {
	switch pr {
	case preventIsolated:
		return "isolated"
	case preventCircuitOpen:
		return "circuit_open"
	case preventLowHealth:
		return "low_health"
	default:
		return "none"
	}
}

// preventExecution decides whether the call should be failed over before
// touching the dependency. An OPEN circuit whose backoff window has elapsed
// does not prevent execution; that call is the half-open probe.
func (s *System) preventExecution(dm *DependencyManager) (preventReason, bool) {
	if dm.Isolated() {
		return preventIsolated, true
	}
	priority := dm.Priority()
	if priority != PriorityCritical && dm.circuitBlocking() {
		return preventCircuitOpen, true
	}
	if priority == PriorityLow && s.OverallHealth() < s.config.HealthThreshold {
		return preventLowHealth, true
	}
	return preventNone, false
}

// fallbackFor serves the prevention path. Strategies with a fallback
// function run it; FAIL_FAST and CIRCUIT_BREAKER surface the structural
// error that triggered prevention.
func (s *System) fallbackFor(ctx context.Context, dm *DependencyManager, reason preventReason) (interface{}, error) {
	if dm.config.Strategy.usesFallback() && dm.fallback != nil {
		result, err := dm.ExecuteFallback(ctx)
		if err != nil {
			s.bus.Publish(ctx, events.FallbackFailed{
				Dependency: dm.Name(),
				Strategy:   string(dm.config.Strategy),
				Err:        err,
				At:         s.nowFn(),
			})
			return nil, err
		}
		return result, nil
	}

	s.bus.Publish(ctx, events.RequestRejected{
		Breaker:  dm.Name(),
		Reason:   reason.String(),
		Priority: dm.Priority().String(),
		At:       s.nowFn(),
	})
	return nil, s.preventionError(dm, reason)
}

func (s *System) preventionError(dm *DependencyManager, reason preventReason) error {
	switch reason {
	case preventIsolated:
		return &errors.DependencyIsolatedError{Name: dm.Name()}
	case preventCircuitOpen:
		stats := dm.Breaker().GetStats()
		retry := stats.NextAttemptAt.Sub(s.nowFn())
		if retry < 0 {
			retry = 0
		}
		return &errors.CircuitOpenError{Name: dm.Name(), RetryAfter: retry}
	default:
		return &errors.LoadSheddingError{Name: dm.Name(), Priority: dm.Priority().String()}
	}
}

// shouldIsolate applies the automatic isolation policy. CRITICAL
// dependencies are never auto-isolated, and uptime-based isolation waits
// for a minimum sample count.
func (s *System) shouldIsolate(dm *DependencyManager, health DependencyHealth) bool {
	if dm.Priority() == PriorityCritical {
		return false
	}
	if health.ConsecutiveFailures >= unhealthyFailureStreak {
		return true
	}
	return health.TotalRequests >= minIsolationSamples && health.Uptime < healthyUptimeFloor
}

func (s *System) autoIsolate(dm *DependencyManager) {
	if dm.isolate(events.IsolationAutomatic) {
		s.scheduleRecovery(dm.Name(), s.config.IsolationTimeout)
		s.refreshHealth(false)
	}
}

// IsolateDependency manually isolates a dependency and cancels any pending
// automatic recovery; the operator recovers it explicitly.
func (s *System) IsolateDependency(name string) error {
	dm, ok := s.Dependency(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	s.clearRecovery(name)
	dm.isolate(events.IsolationManual)
	s.refreshHealth(false)
	return nil
}

// RecoverDependency manually lifts isolation and resets the dependency's
// breaker.
func (s *System) RecoverDependency(name string) error {
	dm, ok := s.Dependency(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	s.clearRecovery(name)
	dm.restore(true, 0)
	s.refreshHealth(false)
	return nil
}

func (s *System) scheduleRecovery(name string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	st := s.recovery[name]
	if st == nil {
		st = &recoveryState{}
		s.recovery[name] = st
	}
	if st.timer != nil {
		st.timer.Stop()
	}
	st.timer = time.AfterFunc(delay, func() { s.attemptRecovery(name) })
}

// attemptRecovery is the automatic recovery path. A configured probe must
// succeed before isolation is lifted; each failed probe doubles the retry
// delay up to MaxRecoveryBackoff.
func (s *System) attemptRecovery(name string) {
	s.mu.Lock()
	dm := s.deps[name]
	if dm == nil || s.stopped {
		s.mu.Unlock()
		return
	}
	st := s.recovery[name]
	if st == nil {
		st = &recoveryState{}
		s.recovery[name] = st
	}
	st.attempts++
	attempt := st.attempts
	s.mu.Unlock()

	if !dm.Isolated() {
		// An operator recovered it in the meantime.
		s.clearRecovery(name)
		return
	}

	if probe := dm.config.Probe; probe != nil {
		if err := s.runProbe(dm, probe); err != nil {
			delay := s.retryDelay(attempt)
			s.logger.LogDependencyEvent(context.Background(), "recovery probe failed", name, logrus.Fields{
				"attempt":    attempt,
				"next_retry": delay.String(),
				"error":      err.Error(),
			})
			s.bus.Publish(context.Background(), events.RecoveryFailed{
				Dependency: name,
				Attempt:    attempt,
				NextRetry:  delay,
				Err:        err,
				At:         s.nowFn(),
			})
			s.scheduleRecovery(name, delay)
			return
		}
	}

	dm.restore(false, attempt)
	s.clearRecovery(name)
	s.refreshHealth(false)
}

func (s *System) runProbe(dm *DependencyManager, probe Operation) error {
	timeout := dm.config.Breaker.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, err := probe(ctx)
	return err
}

func (s *System) clearRecovery(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st := s.recovery[name]; st != nil {
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(s.recovery, name)
	}
}

// retryDelay doubles the isolation timeout per failed recovery attempt,
// capped at MaxRecoveryBackoff.
func (s *System) retryDelay(failedAttempts int) time.Duration {
	delay := s.config.IsolationTimeout
	for i := 0; i < failedAttempts; i++ {
		delay *= 2
		if delay >= s.config.MaxRecoveryBackoff {
			return s.config.MaxRecoveryBackoff
		}
	}
	return delay
}

// checkForCascade evaluates cascade conditions and activates emergency
// protocols at most once per episode.
func (s *System) checkForCascade() {
	healths := s.collectHealth()

	s.mu.Lock()
	if s.loadShedding || s.stopped {
		s.mu.Unlock()
		return
	}
	reason, detected := detectCascade(healths, s.history, s.config.MaxConcurrentFailures)
	if !detected {
		s.mu.Unlock()
		return
	}
	s.loadShedding = true
	if s.emergencyTimer != nil {
		s.emergencyTimer.Stop()
	}
	s.emergencyTimer = time.AfterFunc(2*s.config.IsolationTimeout, s.deactivateEmergency)
	now := s.nowFn()
	s.mu.Unlock()

	var failed, isolated []string
	var toIsolate []*DependencyManager
	for _, h := range healths {
		if h.Isolated {
			isolated = append(isolated, h.Name)
			continue
		}
		if !h.IsHealthy {
			failed = append(failed, h.Name)
			if h.Priority != PriorityCritical {
				if dm, ok := s.Dependency(h.Name); ok {
					toIsolate = append(toIsolate, dm)
				}
			}
		}
	}
	sort.Strings(failed)
	sort.Strings(isolated)

	s.logger.LogEmergencyEvent(context.Background(), "emergency protocols activated", true, logrus.Fields{
		"reason":   reason,
		"failed":   failed,
		"isolated": isolated,
	})
	s.bus.Publish(context.Background(), events.EmergencyActivated{
		Reason:   reason,
		Failed:   failed,
		Isolated: isolated,
		At:       now,
	})

	for _, dm := range toIsolate {
		if dm.isolate(events.IsolationEmergency) {
			s.scheduleRecovery(dm.Name(), s.config.IsolationTimeout)
		}
	}
	s.refreshHealth(false)
}

// deactivateEmergency ends the load-shedding episode. Conditions that still
// hold re-trigger on the next failed call or periodic sweep.
func (s *System) deactivateEmergency() {
	s.mu.Lock()
	if !s.loadShedding {
		s.mu.Unlock()
		return
	}
	s.loadShedding = false
	s.emergencyTimer = nil
	now := s.nowFn()
	s.mu.Unlock()

	s.logger.LogEmergencyEvent(context.Background(), "emergency protocols deactivated", false, nil)
	s.bus.Publish(context.Background(), events.EmergencyDeactivated{At: now})
	s.nudgeHealth()
}

// LoadSheddingActive reports whether emergency protocols are active.
func (s *System) LoadSheddingActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadShedding
}

// OverallHealth returns the latest overall health percentage.
func (s *System) OverallHealth() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health.OverallHealth
}

// GetSystemHealth returns a copy of the latest aggregate snapshot.
func (s *System) GetSystemHealth() SystemHealth {
	s.mu.RLock()
	health := s.health
	s.mu.RUnlock()
	health.FailedDependencies = append([]string(nil), health.FailedDependencies...)
	health.IsolatedDependencies = append([]string(nil), health.IsolatedDependencies...)
	return health
}

// GetDependencyHealth returns the live snapshot for one dependency.
func (s *System) GetDependencyHealth(name string) (DependencyHealth, error) {
	dm, ok := s.Dependency(name)
	if !ok {
		return DependencyHealth{}, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return dm.Health(), nil
}

// GetAllDependencyHealth snapshots every dependency, keyed by name.
func (s *System) GetAllDependencyHealth() map[string]DependencyHealth {
	healths := s.collectHealth()
	out := make(map[string]DependencyHealth, len(healths))
	for _, h := range healths {
		out[h.Name] = h
	}
	return out
}

func (s *System) collectHealth() []DependencyHealth {
	s.mu.RLock()
	deps := make([]*DependencyManager, 0, len(s.deps))
	for _, dm := range s.deps {
		deps = append(deps, dm)
	}
	s.mu.RUnlock()

	healths := make([]DependencyHealth, 0, len(deps))
	for _, dm := range deps {
		healths = append(healths, dm.Health())
	}
	return healths
}

// refreshHealth recomputes the aggregate snapshot. It runs synchronously
// after guarded calls and from the health loop; periodic sweeps also publish
// HealthCheckCompleted.
func (s *System) refreshHealth(periodic bool) {
	healths := s.collectHealth()
	now := s.nowFn()
	computed := computeSystemHealth(healths, now)

	s.mu.Lock()
	s.history = append(s.history, computed.OverallHealth)
	if len(s.history) > healthHistorySize {
		s.history = s.history[len(s.history)-healthHistorySize:]
	}
	computed.Trend = healthTrend(s.history)
	prev := s.health
	s.health = computed
	s.mu.Unlock()

	if computed.OverallHealth != prev.OverallHealth || computed.Trend != prev.Trend {
		s.bus.Publish(context.Background(), events.SystemHealthChanged{
			OverallHealth: computed.OverallHealth,
			Trend:         computed.Trend,
			Failed:        computed.FailedDependencies,
			Isolated:      computed.IsolatedDependencies,
			At:            now,
		})
	}
	if periodic {
		healthy := 0
		for _, h := range healths {
			if h.IsHealthy {
				healthy++
			}
		}
		s.bus.Publish(context.Background(), events.HealthCheckCompleted{
			OverallHealth: computed.OverallHealth,
			Healthy:       healthy,
			Total:         len(healths),
			At:            now,
		})
	}
}

// Stop tears down the health loop, pending recovery timers, the emergency
// timer, and every dependency's breaker. The system cannot be restarted.
func (s *System) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	if s.running {
		close(s.stopChan)
		s.running = false
	}
	for _, st := range s.recovery {
		if st.timer != nil {
			st.timer.Stop()
		}
	}
	s.recovery = make(map[string]*recoveryState)
	if s.emergencyTimer != nil {
		s.emergencyTimer.Stop()
		s.emergencyTimer = nil
	}
	deps := make([]*DependencyManager, 0, len(s.deps))
	for _, dm := range s.deps {
		deps = append(deps, dm)
	}
	s.mu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	for _, dm := range deps {
		dm.Stop()
	}
}

// computeSystemHealth derives the aggregate snapshot from individual
// dependency healths. Trend is filled in by the caller once the new sample
// has been appended to the history.
func computeSystemHealth(healths []DependencyHealth, now time.Time) SystemHealth {
	health := SystemHealth{
		OverallHealth:     100,
		TotalDependencies: len(healths),
		Trend:             TrendStable,
		LastCheck:         now,
	}

	healthy := 0
	for _, h := range healths {
		if h.Isolated {
			health.IsolatedDependencies = append(health.IsolatedDependencies, h.Name)
		}
		if h.IsHealthy {
			healthy++
			if h.Priority == PriorityCritical {
				health.HealthyCriticalCount++
			}
		} else if !h.Isolated {
			health.FailedDependencies = append(health.FailedDependencies, h.Name)
		}
	}
	if len(healths) > 0 {
		health.OverallHealth = float64(healthy) / float64(len(healths)) * 100
	}
	sort.Strings(health.FailedDependencies)
	sort.Strings(health.IsolatedDependencies)
	return health
}

// detectCascade checks the three cascade signals: an actively failing
// CRITICAL dependency, too many simultaneous failures, or a sharp drop in
// the overall health moving average. Isolated dependencies are already out
// of traffic and do not count.
func detectCascade(healths []DependencyHealth, history []float64, maxFailures int) (string, bool) {
	failing := 0
	for _, h := range healths {
		if h.IsHealthy || h.Isolated {
			continue
		}
		if h.Priority == PriorityCritical {
			return "critical_dependency_unhealthy", true
		}
		failing++
	}
	if failing >= maxFailures {
		return "concurrent_failures", true
	}
	if movingAverageDrop(history) > cascadeHealthDrop {
		return "health_degradation", true
	}
	return "", false
}

// healthTrend labels the direction of the health history. Fewer than two
// full windows of samples reads as stable.
func healthTrend(history []float64) string {
	if len(history) < 2*trendWindow {
		return TrendStable
	}
	recent := mean(history[len(history)-trendWindow:])
	prior := mean(history[len(history)-2*trendWindow : len(history)-trendWindow])
	switch delta := recent - prior; {
	case delta > trendBand:
		return TrendImproving
	case delta < -trendBand:
		return TrendDegrading
	default:
		return TrendStable
	}
}

// movingAverageDrop returns how far the recent moving average has fallen
// below the prior one, or 0 with insufficient samples.
func movingAverageDrop(history []float64) float64 {
	if len(history) < 2*trendWindow {
		return 0
	}
	recent := mean(history[len(history)-trendWindow:])
	prior := mean(history[len(history)-2*trendWindow : len(history)-trendWindow])
	return prior - recent
}

func mean(samples []float64) float64 {
	sum := 0.0
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}
