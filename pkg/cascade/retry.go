package cascade

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/relayops/cascadeguard/pkg/errors"
	"github.com/relayops/cascadeguard/pkg/logging"
)

// RetryPolicy retries an operation. Execute reports how many attempts ran so
// callers can distinguish first-try successes.
type RetryPolicy interface {
	Execute(ctx context.Context, op Operation) (result interface{}, attempts int, err error)
}

// RetryConfig tunes the retry loop wrapped around guarded calls.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration
	// BackoffMultiplier grows the delay between attempts.
	BackoffMultiplier float64
	// Jitter adds up to 10% randomness to each delay.
	Jitter bool
	// Retryable decides whether an error is worth another attempt. Nil
	// means DefaultRetryable.
	Retryable func(error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns the retry configuration used when callers have
// no specific requirements.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// DefaultRetryable retries everything except guard rejections. A rejection
// means the breaker or bulkhead refused to place the call; immediate
// re-attempts hit the same refusal.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.IsRejection(err)
}

// Retrier runs operations with exponential backoff between attempts.
type Retrier struct {
	config RetryConfig
	logger *logging.Logger
}

// NewRetrier creates a retrier, filling zero config fields with defaults.
func NewRetrier(config RetryConfig) *Retrier {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}
	if config.Retryable == nil {
		config.Retryable = DefaultRetryable
	}
	return &Retrier{
		config: config,
		logger: logging.GetLogger(),
	}
}

// Execute implements RetryPolicy. Non-retryable errors are returned as-is so
// typed guard errors stay inspectable; exhausting all attempts wraps the
// last error.
func (r *Retrier) Execute(ctx context.Context, op Operation) (interface{}, int, error) {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, attempt - 1, ctx.Err()
		}

		result, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("Operation succeeded after retry",
					"attempt", attempt,
					"max_attempts", r.config.MaxAttempts,
				)
			}
			return result, attempt, nil
		}
		lastErr = err

		if !r.config.Retryable(err) {
			r.logger.Debug("Error is not retryable, stopping",
				"error", err.Error(),
				"attempt", attempt,
			)
			return nil, attempt, err
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.delay(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}
		r.logger.Debug("Operation failed, retrying",
			"error", err.Error(),
			"attempt", attempt,
			"delay", delay.String(),
		)

		select {
		case <-ctx.Done():
			return nil, attempt, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, r.config.MaxAttempts, fmt.Errorf("operation failed after %d attempts: %w", r.config.MaxAttempts, lastErr)
}

func (r *Retrier) delay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.BackoffMultiplier, float64(attempt-1))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}
	if r.config.Jitter {
		delay += rand.Float64() * 0.1 * delay
	}
	return time.Duration(delay)
}
