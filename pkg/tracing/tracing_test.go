package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewService_Disabled(t *testing.T) {
	ts, err := NewService(&Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, ts)

	ctx, span := ts.StartCallSpan(context.Background(), "payments", "CRITICAL")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetSpanID(ctx))
	assert.NoError(t, ts.Shutdown(context.Background()))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "cascadeguard", cfg.ServiceName)
	assert.Equal(t, "http://localhost:14268/api/traces", cfg.Endpoint)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.True(t, cfg.Enabled)
}

func TestTrace_PropagatesErrors(t *testing.T) {
	ts, err := NewService(&Config{Enabled: false})
	require.NoError(t, err)

	sentinel := errors.New("downstream unavailable")
	err = ts.Trace(context.Background(), "call.payments", func(ctx context.Context) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	err = ts.Trace(context.Background(), "call.payments", func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err)
}

func TestTraceResult(t *testing.T) {
	ts, err := NewService(&Config{Enabled: false})
	require.NoError(t, err)

	got, err := TraceResult(context.Background(), ts, "call.cache", func(ctx context.Context) (string, error) {
		return "hit", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hit", got)

	sentinel := errors.New("miss")
	_, err = TraceResult(context.Background(), ts, "call.cache", func(ctx context.Context) (string, error) {
		return "", sentinel
	})
	assert.ErrorIs(t, err, sentinel)
}

func TestContextWithTrace_NoActiveSpan(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, ContextWithTrace(ctx))
}
