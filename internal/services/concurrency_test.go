package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrencyLimiter_AcquireRelease(t *testing.T) {
	l := NewConcurrencyLimiter(2)
	ctx := context.Background()

	require.NoError(t, l.Acquire(ctx))
	require.NoError(t, l.Acquire(ctx))
	got := l.Stats()
	require.Equal(t, 2, got.Active)
	require.Equal(t, 2, got.Max)

	timeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Acquire(timeout), "third Acquire should block until the context expires")

	l.Release()
	require.NoError(t, l.Acquire(ctx))
	l.Release()
	l.Release()
	l.Release() // extra release is a no-op
	assert.Equal(t, 0, l.Stats().Active)
}

func TestConcurrencyLimiter_DefaultMax(t *testing.T) {
	assert.Equal(t, 4, NewConcurrencyLimiter(0).Stats().Max)
}
