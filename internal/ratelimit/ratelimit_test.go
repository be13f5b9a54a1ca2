package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitEnforcesMinimumSpacing(t *testing.T) {
	interval := 50 * time.Millisecond
	gate := New(interval)
	ctx := context.Background()

	// First acquisition is immediate (burst of 1)
	require.NoError(t, gate.Wait(ctx))

	start := time.Now()
	require.NoError(t, gate.Wait(ctx))
	require.NoError(t, gate.Wait(ctx))
	elapsed := time.Since(start)

	// Two further acquisitions need at least two full intervals
	assert.GreaterOrEqual(t, elapsed, 2*interval-5*time.Millisecond,
		"expected two acquisitions to take ~%v, took %v", 2*interval, elapsed)
}

func TestWaitHonorsCancellation(t *testing.T) {
	gate := New(time.Hour)
	ctx := context.Background()

	// Drain the burst token so the next Wait would block for an hour
	require.NoError(t, gate.Wait(ctx))

	cancelCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- gate.Wait(cancelCtx)
	}()

	cancel()
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after context cancellation")
	}
}

func TestNewDefaultsInterval(t *testing.T) {
	gate := New(0)
	require.NotNil(t, gate)
	assert.NoError(t, gate.Wait(context.Background()))
}
