package assistant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoq/convoq/core"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), "submit", nil, func() error {
		calls++
		if calls < 3 {
			return core.NewTransientBackendError(429, errors.New("rate limited"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttemptsAndReturnsLastError(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), "submit", nil, func() error {
		calls++
		return core.NewTransientBackendError(503, errors.New("unavailable"))
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, core.IsTransient(err))
}

func TestRetryNeverRetriesPermanentFailures(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}
	calls := 0
	err := p.Do(context.Background(), "submit", nil, func() error {
		calls++
		return core.NewPermanentBackendError(400, errors.New("bad request"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.False(t, core.IsTransient(err))
}

func TestRetryStopsOnContextCancellation(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := p.Do(ctx, "submit", nil, func() error {
		return core.NewTransientBackendError(500, errors.New("flaky"))
	})
	assert.ErrorIs(t, err, context.Canceled)
}
