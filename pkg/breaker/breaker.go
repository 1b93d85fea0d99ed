// Package breaker implements a per-dependency circuit breaker with built-in
// bulkhead admission control and priority queueing. A breaker guards calls to
// one named downstream dependency; the Manager tracks a registry of them.
package breaker

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relayops/cascadeguard/pkg/errors"
	"github.com/relayops/cascadeguard/pkg/events"
	"github.com/relayops/cascadeguard/pkg/logging"
)

// State represents the state of the circuit breaker
type State int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed State = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - circuit is half-open, probing for recovery
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalJSON renders the state as its string form.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// ParseState converts a state name back to a State.
func ParseState(s string) (State, error) {
	switch s {
	case "CLOSED":
		return StateClosed, nil
	case "OPEN":
		return StateOpen, nil
	case "HALF_OPEN":
		return StateHalfOpen, nil
	default:
		return StateClosed, fmt.Errorf("unknown circuit state: %q", s)
	}
}

// Config holds configuration for a circuit breaker.
type Config struct {
	// Name identifies the breaker in stats, logs, and events.
	Name string
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit. Defaults to 5.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before the next
	// half-open probe is allowed. Defaults to 30s.
	RecoveryTimeout time.Duration
	// SuccessThreshold is the number of consecutive successes in HALF_OPEN
	// required to close the circuit. Defaults to 2.
	SuccessThreshold int
	// CallTimeout bounds each guarded call. Zero means the 10s default;
	// negative disables the timeout.
	CallTimeout time.Duration
	// MonitoringWindow bounds the sliding failure window used by the
	// failure-ratio trip condition. Defaults to 60s.
	MonitoringWindow time.Duration
	// ExponentialBackoff doubles the effective recovery timeout on each
	// reopening, up to MaxBackoffTime.
	ExponentialBackoff bool
	// MaxBackoffTime caps the exponential backoff. Defaults to 5m.
	MaxBackoffTime time.Duration
	// MaintenanceInterval is the period of the background maintenance tick.
	// Defaults to 10s.
	MaintenanceInterval time.Duration
	// Bulkhead enables admission control when non-nil.
	Bulkhead *BulkheadConfig
	// OnStats, when set, receives a stats snapshot on every maintenance
	// tick. Useful for wiring gauges.
	OnStats func(Stats)
}

// BulkheadConfig bounds concurrent access to the guarded dependency.
type BulkheadConfig struct {
	// MaxConcurrentRequests caps in-flight calls. Defaults to 10.
	MaxConcurrentRequests int
	// QueueSize caps waiting calls. Zero means no queue: excess calls are
	// rejected immediately.
	QueueSize int
	// IsolationKey labels the concurrency partition. Defaults to the
	// breaker name.
	IsolationKey string
	// DefaultPriority applies to calls that carry no priority option.
	// Defaults to PriorityMedium.
	DefaultPriority Priority
	// QueueTimeout bounds how long a call may wait for a slot. Zero waits
	// indefinitely.
	QueueTimeout time.Duration
}

// FailureRecord describes one failed call inside the monitoring window.
type FailureRecord struct {
	At       time.Time
	Err      error
	Duration time.Duration
	Label    string
}

// Operation is a guarded call. Implementations should honor ctx so the
// per-call timeout can cancel work cooperatively.
type Operation func(ctx context.Context) (interface{}, error)

type callOptions struct {
	priority Priority
	label    string
}

// CallOption customizes a single Execute call.
type CallOption func(*callOptions)

// WithPriority overrides the bulkhead's default priority for one call.
func WithPriority(p Priority) CallOption {
	return func(o *callOptions) { o.priority = p }
}

// WithLabel attaches a caller-supplied label to the call; it appears in
// failure records and events.
func WithLabel(label string) CallOption {
	return func(o *callOptions) { o.label = label }
}

type callOutcome struct {
	at      time.Time
	success bool
}

// Window samples are pruned by age; this cap bounds memory under sustained
// high call rates within a single window.
const maxWindowSamples = 4096

// CircuitBreaker is a state machine that stops calling a failing dependency
// and fails fast instead. All mutable state is guarded by a single mutex;
// snapshots are copies.
type CircuitBreaker struct {
	name   string
	config Config

	mutex               sync.Mutex
	state               State
	failures            int64
	successes           int64
	totalRequests       int64
	rejectedRequests    int64
	consecutiveFailures int
	halfOpenSuccesses   int
	backoffMultiplier   int
	nextAttempt         time.Time
	lastFailureAt       time.Time
	avgResponseTime     time.Duration
	activeRequests      int
	queue               admissionQueue
	seq                 uint64
	window              []callOutcome
	failureLog          []FailureRecord

	running  bool
	stopChan chan struct{}

	nowFn  func() time.Time
	bus    *events.Bus
	logger *logging.Logger
}

// NewCircuitBreaker creates a circuit breaker. Events are published on bus;
// pass nil to give the breaker a private bus reachable via Events().
func NewCircuitBreaker(config Config, bus *events.Bus) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.CallTimeout == 0 {
		config.CallTimeout = 10 * time.Second
	}
	if config.MonitoringWindow <= 0 {
		config.MonitoringWindow = 60 * time.Second
	}
	if config.MaxBackoffTime <= 0 {
		config.MaxBackoffTime = 5 * time.Minute
	}
	if config.MaintenanceInterval <= 0 {
		config.MaintenanceInterval = 10 * time.Second
	}
	if bh := config.Bulkhead; bh != nil {
		if bh.MaxConcurrentRequests <= 0 {
			bh.MaxConcurrentRequests = 10
		}
		if bh.QueueSize < 0 {
			bh.QueueSize = 0
		}
		if bh.IsolationKey == "" {
			bh.IsolationKey = config.Name
		}
		if bh.DefaultPriority == 0 {
			bh.DefaultPriority = PriorityMedium
		}
	}
	if bus == nil {
		bus = events.NewBus()
	}

	return &CircuitBreaker{
		name:              config.Name,
		config:            config,
		state:             StateClosed,
		backoffMultiplier: 1,
		nowFn:             time.Now,
		bus:               bus,
		logger:            logging.GetLogger(),
	}
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Events returns the bus the breaker publishes on.
func (cb *CircuitBreaker) Events() *events.Bus {
	return cb.bus
}

// State returns the current state without side effects. The OPEN to
// HALF_OPEN transition happens lazily on the next call, not on reads.
func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Execute runs op under the breaker's protection. It fails fast with a
// CircuitOpenError or BulkheadFullError without running op, converts
// overruns of the call timeout into TimeoutError, and otherwise returns
// op's own result unmodified.
func (cb *CircuitBreaker) Execute(ctx context.Context, op Operation, opts ...CallOption) (interface{}, error) {
	options := callOptions{priority: cb.defaultPriority()}
	for _, opt := range opts {
		opt(&options)
	}

	if err := cb.admit(ctx, options.priority); err != nil {
		return nil, err
	}

	return cb.run(ctx, op, options.label)
}

// Call is a convenience wrapper for operations that do not need a context.
func (cb *CircuitBreaker) Call(fn func() (interface{}, error)) (interface{}, error) {
	return cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		return fn()
	})
}

func (cb *CircuitBreaker) defaultPriority() Priority {
	if bh := cb.config.Bulkhead; bh != nil {
		return bh.DefaultPriority
	}
	return PriorityMedium
}

// admit performs the open-circuit check and bulkhead admission. On success
// the caller owns one concurrency slot and must release it via afterCall.
func (cb *CircuitBreaker) admit(ctx context.Context, priority Priority) error {
	cb.mutex.Lock()
	now := cb.nowFn()

	if cb.state == StateOpen {
		if now.Before(cb.nextAttempt) {
			cb.rejectedRequests++
			retryAfter := cb.nextAttempt.Sub(now)
			cb.mutex.Unlock()
			cb.publish(events.RequestRejected{
				Breaker:  cb.name,
				Reason:   "circuit_open",
				Priority: priority.String(),
				At:       now,
			})
			return &errors.CircuitOpenError{Name: cb.name, RetryAfter: retryAfter}
		}
		cb.setStateLocked(StateHalfOpen, now)
	}

	bh := cb.config.Bulkhead
	if bh == nil || cb.activeRequests < bh.MaxConcurrentRequests {
		cb.activeRequests++
		cb.mutex.Unlock()
		return nil
	}

	if cb.queue.Len() >= bh.QueueSize {
		cb.rejectedRequests++
		active, queued := cb.activeRequests, cb.queue.Len()
		cb.mutex.Unlock()
		cb.publish(events.RequestRejected{
			Breaker:  cb.name,
			Reason:   errors.ReasonQueueFull,
			Priority: priority.String(),
			At:       now,
		})
		return &errors.BulkheadFullError{
			Name:   cb.name,
			Active: active,
			Queued: queued,
			Reason: errors.ReasonQueueFull,
		}
	}

	t := &ticket{
		priority: priority,
		seq:      cb.seq,
		ready:    make(chan struct{}),
	}
	cb.seq++
	heap.Push(&cb.queue, t)
	active, queued := cb.activeRequests, cb.queue.Len()
	cb.mutex.Unlock()

	cb.publish(events.RequestQueued{
		Breaker:     cb.name,
		Priority:    priority.String(),
		QueueLength: queued,
		At:          now,
	})
	if queued == 1 {
		cb.publish(events.BulkheadSaturated{Breaker: cb.name, Active: active, Queued: queued, At: now})
	}

	return cb.await(ctx, t, priority)
}

// await blocks until the ticket is admitted, the caller's context ends, or
// the queue timeout expires.
func (cb *CircuitBreaker) await(ctx context.Context, t *ticket, priority Priority) error {
	var queueTimeout <-chan time.Time
	if qt := cb.config.Bulkhead.QueueTimeout; qt > 0 {
		timer := time.NewTimer(qt)
		defer timer.Stop()
		queueTimeout = timer.C
	}

	select {
	case <-t.ready:
		return nil
	case <-ctx.Done():
		if cb.abandon(t, false) {
			return ctx.Err()
		}
		// Admission won the race; hand the slot back.
		cb.releaseSlot()
		return ctx.Err()
	case <-queueTimeout:
		if cb.abandon(t, true) {
			now := cb.nowFn()
			cb.publish(events.RequestRejected{
				Breaker:  cb.name,
				Reason:   errors.ReasonQueueTimeout,
				Priority: priority.String(),
				At:       now,
			})
			stats := cb.GetStats()
			return &errors.BulkheadFullError{
				Name:   cb.name,
				Active: stats.ActiveRequests,
				Queued: stats.QueuedRequests,
				Reason: errors.ReasonQueueTimeout,
			}
		}
		return nil
	}
}

// abandon removes a still-waiting ticket from the queue. Returns false if
// admission already happened, in which case the slot belongs to the caller.
func (cb *CircuitBreaker) abandon(t *ticket, countRejection bool) bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	if !cb.queue.remove(t) {
		return false
	}
	if countRejection {
		cb.rejectedRequests++
	}
	return true
}

func (cb *CircuitBreaker) releaseSlot() {
	cb.mutex.Lock()
	cb.activeRequests--
	cb.admitNextLocked()
	cb.mutex.Unlock()
}

// run races the operation against the call timeout with cancellation
// threaded into the operation's context. An abandoned operation keeps
// running until it observes cancellation; its result is discarded.
func (cb *CircuitBreaker) run(ctx context.Context, op Operation, label string) (interface{}, error) {
	callCtx := ctx
	cancel := func() {}
	if cb.config.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, cb.config.CallTimeout)
	}
	defer cancel()

	start := cb.nowFn()

	type callResult struct {
		value interface{}
		err   error
	}
	resultCh := make(chan callResult, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- callResult{err: fmt.Errorf("operation panicked: %v", r)}
			}
		}()
		value, err := op(callCtx)
		resultCh <- callResult{value: value, err: err}
	}()

	select {
	case res := <-resultCh:
		duration := cb.nowFn().Sub(start)
		cb.afterCall(res.err == nil, res.err, duration, false, label)
		return res.value, res.err
	case <-callCtx.Done():
		duration := cb.nowFn().Sub(start)
		if ctx.Err() != nil {
			// The caller's own context ended; not a breaker timeout.
			err := ctx.Err()
			cb.afterCall(false, err, duration, false, label)
			return nil, err
		}
		err := &errors.TimeoutError{Name: cb.name, Timeout: cb.config.CallTimeout}
		cb.afterCall(false, err, duration, true, label)
		return nil, err
	}
}

// afterCall applies the outcome to the state machine, releases the
// concurrency slot, and admits the next queued request.
func (cb *CircuitBreaker) afterCall(success bool, callErr error, duration time.Duration, timedOut bool, label string) {
	cb.mutex.Lock()
	now := cb.nowFn()

	cb.activeRequests--
	cb.totalRequests++
	cb.avgResponseTime += (duration - cb.avgResponseTime) / time.Duration(cb.totalRequests)
	cb.window = append(cb.window, callOutcome{at: now, success: success})
	cb.pruneLocked(now)

	if success {
		cb.successes++
		cb.consecutiveFailures = 0
		if cb.state == StateHalfOpen {
			cb.halfOpenSuccesses++
			if cb.halfOpenSuccesses >= cb.config.SuccessThreshold {
				cb.backoffMultiplier = 1
				cb.setStateLocked(StateClosed, now)
				// A recovered circuit starts from a clean statistical
				// slate; the outage's failure history no longer counts
				// against it.
				cb.clearCountersLocked()
			}
		}
	} else {
		cb.failures++
		cb.consecutiveFailures++
		cb.lastFailureAt = now
		cb.failureLog = append(cb.failureLog, FailureRecord{At: now, Err: callErr, Duration: duration, Label: label})

		switch cb.state {
		case StateClosed:
			if cb.shouldTripLocked() {
				cb.openLocked(now)
			}
		case StateHalfOpen:
			cb.openLocked(now)
		}
	}

	cb.admitNextLocked()
	cb.mutex.Unlock()

	if success {
		cb.publish(events.CallSucceeded{Breaker: cb.name, Label: label, Duration: duration, At: now})
	} else {
		cb.publish(events.CallFailed{
			Breaker:  cb.name,
			Label:    label,
			Err:      callErr,
			Timeout:  timedOut,
			Duration: duration,
			At:       now,
		})
	}
}

// shouldTripLocked reports whether the closed circuit must open: either the
// consecutive-failure threshold is hit, or more than half of the calls in
// the monitoring window failed. The ratio needs at least FailureThreshold
// samples so a lone failure after a quiet period cannot trip the breaker.
func (cb *CircuitBreaker) shouldTripLocked() bool {
	if cb.consecutiveFailures >= cb.config.FailureThreshold {
		return true
	}

	total := len(cb.window)
	if total < cb.config.FailureThreshold {
		return false
	}
	failed := 0
	for _, o := range cb.window {
		if !o.success {
			failed++
		}
	}
	return float64(failed)/float64(total) > 0.5
}

// openLocked transitions to OPEN and schedules the next half-open probe.
// With exponential backoff the multiplier doubles per reopening until the
// raw backoff reaches the cap, and resets only on a successful close.
func (cb *CircuitBreaker) openLocked(now time.Time) {
	backoff := cb.config.RecoveryTimeout
	if cb.config.ExponentialBackoff {
		raw := cb.config.RecoveryTimeout * time.Duration(cb.backoffMultiplier)
		backoff = raw
		if backoff > cb.config.MaxBackoffTime {
			backoff = cb.config.MaxBackoffTime
		}
		if raw < cb.config.MaxBackoffTime {
			cb.backoffMultiplier *= 2
		}
	}
	cb.nextAttempt = now.Add(backoff)
	cb.setStateLocked(StateOpen, now)
}

// setStateLocked performs the transition and publishes the state-change
// event while still holding the mutex, so transition events observe the
// order transitions occur. Handlers must not call back into the breaker.
func (cb *CircuitBreaker) setStateLocked(state State, now time.Time) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state

	switch state {
	case StateClosed:
		cb.consecutiveFailures = 0
		cb.halfOpenSuccesses = 0
	case StateHalfOpen:
		cb.halfOpenSuccesses = 0
	}

	cb.logger.Info("Circuit breaker state changed",
		"name", cb.name,
		"from", prev.String(),
		"to", state.String(),
		"consecutive_failures", cb.consecutiveFailures,
		"backoff_multiplier", cb.backoffMultiplier,
	)

	cb.bus.Publish(context.Background(), events.CircuitStateChanged{
		Breaker:             cb.name,
		From:                prev.String(),
		To:                  state.String(),
		ConsecutiveFailures: cb.consecutiveFailures,
		Failures:            cb.failures,
		BackoffMultiplier:   cb.backoffMultiplier,
		At:                  now,
	})
}

// admitNextLocked hands freed slots to the highest-priority waiting tickets.
func (cb *CircuitBreaker) admitNextLocked() {
	bh := cb.config.Bulkhead
	if bh == nil {
		return
	}
	for cb.queue.Len() > 0 && cb.activeRequests < bh.MaxConcurrentRequests {
		t := heap.Pop(&cb.queue).(*ticket)
		cb.activeRequests++
		close(t.ready)
	}
}

func (cb *CircuitBreaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-cb.config.MonitoringWindow)

	keep := 0
	for _, o := range cb.window {
		if o.at.After(cutoff) {
			cb.window[keep] = o
			keep++
		}
	}
	cb.window = cb.window[:keep]
	if len(cb.window) > maxWindowSamples {
		cb.window = cb.window[len(cb.window)-maxWindowSamples:]
	}

	keep = 0
	for _, f := range cb.failureLog {
		if f.At.After(cutoff) {
			cb.failureLog[keep] = f
			keep++
		}
	}
	cb.failureLog = cb.failureLog[:keep]
}

func (cb *CircuitBreaker) publish(event events.Event) {
	cb.bus.Publish(context.Background(), event)
}

// Stats is an immutable snapshot of a breaker's counters.
type Stats struct {
	Name                string        `json:"name"`
	State               State         `json:"state"`
	IsolationKey        string        `json:"isolation_key,omitempty"`
	TotalRequests       int64         `json:"total_requests"`
	Successes           int64         `json:"successes"`
	Failures            int64         `json:"failures"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	RejectedRequests    int64         `json:"rejected_requests"`
	ActiveRequests      int           `json:"active_requests"`
	QueuedRequests      int           `json:"queued_requests"`
	AverageResponseTime time.Duration `json:"average_response_time_ns"`
	Uptime              float64       `json:"uptime"`
	BackoffMultiplier   int           `json:"backoff_multiplier"`
	NextAttemptAt       time.Time     `json:"next_attempt_at"`
	LastFailureAt       time.Time     `json:"last_failure_at"`
}

// GetStats returns a copy of the current counters. Uptime is the share of
// completed calls that did not fail, 100 when nothing has run yet.
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.statsLocked()
}

func (cb *CircuitBreaker) statsLocked() Stats {
	uptime := 100.0
	if cb.totalRequests > 0 {
		uptime = float64(cb.totalRequests-cb.failures) / float64(cb.totalRequests) * 100
	}

	isolationKey := ""
	if cb.config.Bulkhead != nil {
		isolationKey = cb.config.Bulkhead.IsolationKey
	}

	return Stats{
		Name:                cb.name,
		State:               cb.state,
		IsolationKey:        isolationKey,
		TotalRequests:       cb.totalRequests,
		Successes:           cb.successes,
		Failures:            cb.failures,
		ConsecutiveFailures: cb.consecutiveFailures,
		RejectedRequests:    cb.rejectedRequests,
		ActiveRequests:      cb.activeRequests,
		QueuedRequests:      cb.queue.Len(),
		AverageResponseTime: cb.avgResponseTime,
		Uptime:              uptime,
		BackoffMultiplier:   cb.backoffMultiplier,
		NextAttemptAt:       cb.nextAttempt,
		LastFailureAt:       cb.lastFailureAt,
	}
}

// RecentFailures returns a copy of the failure records still inside the
// monitoring window.
func (cb *CircuitBreaker) RecentFailures() []FailureRecord {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.pruneLocked(cb.nowFn())
	out := make([]FailureRecord, len(cb.failureLog))
	copy(out, cb.failureLog)
	return out
}

// ForceState is an administrative override. Forcing OPEN schedules the next
// probe using the current backoff; forcing CLOSED does not reset counters
// or the backoff multiplier (use Reset for that).
func (cb *CircuitBreaker) ForceState(state State) {
	cb.mutex.Lock()
	now := cb.nowFn()
	if state == StateOpen {
		if cb.state != StateOpen {
			cb.openLocked(now)
		}
	} else {
		cb.setStateLocked(state, now)
	}
	cb.mutex.Unlock()

	cb.logger.Warn("Circuit breaker state forced",
		"name", cb.name,
		"state", state.String(),
	)
}

// Reset zeroes all counters and returns the breaker to CLOSED. In-flight
// calls keep their slots; they complete against the fresh counters.
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	now := cb.nowFn()
	cb.clearCountersLocked()
	cb.setStateLocked(StateClosed, now)
	cb.mutex.Unlock()

	cb.logger.Info("Circuit breaker reset", "name", cb.name)
}

// clearCountersLocked wipes the statistical slate: counters, the monitoring
// window, the failure log, the backoff multiplier, and the response-time
// average.
func (cb *CircuitBreaker) clearCountersLocked() {
	cb.failures = 0
	cb.successes = 0
	cb.totalRequests = 0
	cb.rejectedRequests = 0
	cb.consecutiveFailures = 0
	cb.halfOpenSuccesses = 0
	cb.backoffMultiplier = 1
	cb.avgResponseTime = 0
	cb.nextAttempt = time.Time{}
	cb.lastFailureAt = time.Time{}
	cb.window = nil
	cb.failureLog = nil
}

// StartMaintenance launches the periodic background tick that prunes the
// failure window, re-drains the admission queue, and publishes stats to the
// OnStats hook. Safe to call more than once.
func (cb *CircuitBreaker) StartMaintenance(ctx context.Context) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.running {
		return
	}
	cb.running = true
	cb.stopChan = make(chan struct{})
	go cb.maintenanceLoop(ctx, cb.stopChan)
}

// Stop tears down the maintenance loop. Safe to call without a prior
// StartMaintenance.
func (cb *CircuitBreaker) Stop() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if !cb.running {
		return
	}
	close(cb.stopChan)
	cb.running = false
}

func (cb *CircuitBreaker) maintenanceLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(cb.config.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			cb.maintain()
		}
	}
}

func (cb *CircuitBreaker) maintain() {
	cb.mutex.Lock()
	cb.pruneLocked(cb.nowFn())
	cb.admitNextLocked()
	stats := cb.statsLocked()
	hook := cb.config.OnStats
	cb.mutex.Unlock()

	if hook != nil {
		hook(stats)
	}
}

// setClock replaces the breaker's time source. Test hook.
func (cb *CircuitBreaker) setClock(now func() time.Time) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.nowFn = now
}
