package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func notRunning(state interface{}) bool {
	return state != "running"
}

func TestWaitReturnsTerminalState(t *testing.T) {
	calls := 0
	status := func(ctx context.Context) (interface{}, error) {
		calls++
		if calls < 3 {
			return "running", nil
		}
		return "success", nil
	}

	state, err := Wait(context.Background(), status, notRunning, time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "success", state)
	assert.Equal(t, 3, calls)
}

func TestWaitReturnsFailureStateImmediately(t *testing.T) {
	status := func(ctx context.Context) (interface{}, error) {
		return "failed", nil
	}

	start := time.Now()
	state, err := Wait(context.Background(), status, notRunning, time.Millisecond, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "failed", state)
	// A terminal failure must not wait out the timeout.
	assert.True(t, time.Since(start) < time.Second)
}

func TestWaitToleratesTransientErrors(t *testing.T) {
	calls := 0
	status := func(ctx context.Context) (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("connection refused")
		}
		return "success", nil
	}

	state, err := Wait(context.Background(), status, notRunning, time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "success", state)
}

func TestWaitTimesOut(t *testing.T) {
	status := func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("connection refused")
	}

	_, err := Wait(context.Background(), status, notRunning, time.Millisecond, 20*time.Millisecond)
	require.Error(t, err)
	timeout, ok := err.(*TimeoutError)
	require.True(t, ok, "expected *TimeoutError, got %T", err)
	assert.Contains(t, timeout.Error(), "connection refused")
}

func TestWaitCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	status := func(ctx context.Context) (interface{}, error) {
		return "running", nil
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := Wait(ctx, status, notRunning, time.Millisecond, time.Minute)
	assert.Equal(t, context.Canceled, err)
}
