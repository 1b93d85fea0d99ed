// Package errors defines the typed errors returned by the resilience layer.
//
// Every rejection and induced failure is represented by its own error type so
// callers can distinguish "the guard refused to place the call" from "the call
// was placed and failed". All types survive wrapping and are matched with the
// package predicates or errors.As.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// CircuitOpenError is returned when a call is refused because the circuit
// breaker guarding the dependency is open.
type CircuitOpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is open, retry after %v", e.Name, e.RetryAfter)
}

// TimeoutError is returned when a guarded call exceeds its configured timeout.
// The dependency may still be executing; the caller has been released.
type TimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("call to '%s' timed out after %v", e.Name, e.Timeout)
}

// Bulkhead rejection reasons.
const (
	ReasonQueueFull    = "queue_full"
	ReasonQueueTimeout = "queue_timeout"
)

// BulkheadFullError is returned when a call cannot be admitted: either the
// wait queue is already full, or the call waited longer than the configured
// queue timeout.
type BulkheadFullError struct {
	Name   string
	Active int
	Queued int
	Reason string
}

func (e *BulkheadFullError) Error() string {
	return fmt.Sprintf("bulkhead for '%s' rejected request (%s): %d active, %d queued",
		e.Name, e.Reason, e.Active, e.Queued)
}

// DependencyIsolatedError is returned when the target dependency has been
// isolated, manually or by the cascade prevention system.
type DependencyIsolatedError struct {
	Name string
}

func (e *DependencyIsolatedError) Error() string {
	return fmt.Sprintf("dependency '%s' is isolated", e.Name)
}

// LoadSheddingError is returned when emergency load shedding is active and
// the call's priority is low enough to be dropped.
type LoadSheddingError struct {
	Name     string
	Priority string
}

func (e *LoadSheddingError) Error() string {
	return fmt.Sprintf("request to '%s' shed under emergency load shedding (priority %s)", e.Name, e.Priority)
}

// FallbackUnavailableError is returned when a fallback path was requested but
// the dependency's strategy does not provide one.
type FallbackUnavailableError struct {
	Name     string
	Strategy string
}

func (e *FallbackUnavailableError) Error() string {
	return fmt.Sprintf("no fallback available for '%s' (strategy %s)", e.Name, e.Strategy)
}

// IsCircuitOpen reports whether err is a CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var e *CircuitOpenError
	return stderrors.As(err, &e)
}

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool {
	var e *TimeoutError
	return stderrors.As(err, &e)
}

// IsBulkheadFull reports whether err is a BulkheadFullError.
func IsBulkheadFull(err error) bool {
	var e *BulkheadFullError
	return stderrors.As(err, &e)
}

// IsDependencyIsolated reports whether err is a DependencyIsolatedError.
func IsDependencyIsolated(err error) bool {
	var e *DependencyIsolatedError
	return stderrors.As(err, &e)
}

// IsLoadShedding reports whether err is a LoadSheddingError.
func IsLoadShedding(err error) bool {
	var e *LoadSheddingError
	return stderrors.As(err, &e)
}

// IsFallbackUnavailable reports whether err is a FallbackUnavailableError.
func IsFallbackUnavailable(err error) bool {
	var e *FallbackUnavailableError
	return stderrors.As(err, &e)
}

// IsRejection reports whether err is a fast-fail rejection: the guard refused
// to place the call at all. Timeouts are not rejections; the call ran.
func IsRejection(err error) bool {
	return IsCircuitOpen(err) || IsBulkheadFull(err) || IsDependencyIsolated(err) || IsLoadShedding(err)
}
