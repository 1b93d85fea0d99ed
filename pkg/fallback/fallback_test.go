package fallback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStore struct {
	values map[string]interface{}
	setErr error
	sets   int
}

func newStubStore() *stubStore {
	return &stubStore{values: make(map[string]interface{})}
}

func (s *stubStore) Get(ctx context.Context, key string) (interface{}, error) {
	value, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return value, nil
}

func (s *stubStore) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	s.sets++
	if s.setErr != nil {
		return s.setErr
	}
	s.values[key] = value
	return nil
}

func (s *stubStore) Delete(ctx context.Context, key string) error {
	delete(s.values, key)
	return nil
}

func (s *stubStore) Close() error { return nil }

func TestMemoryStore_SetGetDelete(t *testing.T) {
	store, err := NewMemoryStore(16, time.Minute)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "resp", map[string]interface{}{"status": "ok"}, 0))

	value, err := store.Get(ctx, "resp")
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"status": "ok"}, value)

	require.NoError(t, store.Delete(ctx, "resp"))
	_, err = store.Get(ctx, "resp")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ExplicitTTL(t *testing.T) {
	store, err := NewMemoryStore(16, time.Hour)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "resp", "value", 30*time.Minute))

	value, err := store.Get(ctx, "resp")
	require.NoError(t, err)
	assert.Equal(t, "value", value)
}

func TestCachedResponse(t *testing.T) {
	store := newStubStore()
	ctx := context.Background()

	fn := CachedResponse(store, "agent-roster")

	_, err := fn(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "agent-roster", []interface{}{"a", "b"}, 0))

	value, err := fn(ctx)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b"}, value)
}

func TestDefaultValue(t *testing.T) {
	fn := DefaultValue("degraded")

	value, err := fn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "degraded", value)
}

func TestDegraded(t *testing.T) {
	store := newStubStore()
	ctx := context.Background()

	reducedCalls := 0
	fn := Degraded(store, "resp", func(ctx context.Context) (interface{}, error) {
		reducedCalls++
		return "reduced", nil
	})

	// Empty store falls through to the reduced path.
	value, err := fn(ctx)
	require.NoError(t, err)
	assert.Equal(t, "reduced", value)
	assert.Equal(t, 1, reducedCalls)

	// A captured response is preferred.
	require.NoError(t, store.Set(ctx, "resp", "cached", 0))
	value, err = fn(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cached", value)
	assert.Equal(t, 1, reducedCalls)

	// A nil store always uses the reduced path.
	fn = Degraded(nil, "resp", func(ctx context.Context) (interface{}, error) {
		return "reduced", nil
	})
	value, err = fn(ctx)
	require.NoError(t, err)
	assert.Equal(t, "reduced", value)
}

func TestCapture(t *testing.T) {
	store := newStubStore()
	ctx := context.Background()

	op := Capture(store, "resp", time.Minute, func(ctx context.Context) (interface{}, error) {
		return "fresh", nil
	})

	value, err := op(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh", value)

	cached, err := store.Get(ctx, "resp")
	require.NoError(t, err)
	assert.Equal(t, "fresh", cached)
}

func TestCapture_FailuresNotCaptured(t *testing.T) {
	store := newStubStore()
	ctx := context.Background()

	opErr := errors.New("downstream error")
	op := Capture(store, "resp", time.Minute, func(ctx context.Context) (interface{}, error) {
		return nil, opErr
	})

	_, err := op(ctx)
	assert.ErrorIs(t, err, opErr)
	assert.Equal(t, 0, store.sets)
}

func TestCapture_StoreErrorDoesNotAffectResult(t *testing.T) {
	store := newStubStore()
	store.setErr = errors.New("store down")
	ctx := context.Background()

	op := Capture(store, "resp", time.Minute, func(ctx context.Context) (interface{}, error) {
		return "fresh", nil
	})

	value, err := op(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh", value)
	assert.Equal(t, 1, store.sets)
}
