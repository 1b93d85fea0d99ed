// Package fallback provides the degraded-mode building blocks used when a
// dependency is open, isolated, or shedding load: response stores that hold
// the last known good answers, and helpers that turn them into fallback
// functions.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relayops/cascadeguard/pkg/logging"
)

// ErrNotFound is returned by stores when no response is cached under a key.
var ErrNotFound = errors.New("fallback response not found")

// Store holds captured responses for fallback serving.
type Store interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Close releases the store's resources, including the underlying client
	// for stores that own one.
	Close() error
}

// CachedResponse returns a fallback that serves the last captured response
// for key. A miss surfaces as an error wrapping ErrNotFound.
func CachedResponse(store Store, key string) func(ctx context.Context) (interface{}, error) {
	return func(ctx context.Context) (interface{}, error) {
		value, err := store.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("cached response %q: %w", key, err)
		}
		return value, nil
	}
}

// DefaultValue returns a fallback that always produces a fixed value.
func DefaultValue(value interface{}) func(ctx context.Context) (interface{}, error) {
	return func(ctx context.Context) (interface{}, error) {
		return value, nil
	}
}

// Degraded serves the captured response when one exists and runs the
// caller's reduced-functionality path otherwise. store may be nil.
func Degraded(store Store, key string, reduced func(ctx context.Context) (interface{}, error)) func(ctx context.Context) (interface{}, error) {
	return func(ctx context.Context) (interface{}, error) {
		if store != nil {
			if value, err := store.Get(ctx, key); err == nil {
				return value, nil
			}
		}
		return reduced(ctx)
	}
}

// Capture wraps op so every successful result is written to store under key,
// keeping CachedResponse fallbacks warm. Store write failures are logged and
// never affect the call's own result.
func Capture(store Store, key string, ttl time.Duration, op func(ctx context.Context) (interface{}, error)) func(ctx context.Context) (interface{}, error) {
	logger := logging.GetLogger()
	return func(ctx context.Context) (interface{}, error) {
		value, err := op(ctx)
		if err != nil {
			return value, err
		}
		if cacheErr := store.Set(ctx, key, value, ttl); cacheErr != nil {
			logger.Warn("Failed to capture fallback response",
				"key", key,
				"error", cacheErr,
			)
		}
		return value, nil
	}
}
