package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnlimitedNeverBlocks(t *testing.T) {
	l := New(0)
	require.True(t, l.Unlimited())
	assert.Equal(t, uint32(0), l.Rate())

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 10000; i++ {
		require.NoError(t, l.Wait(ctx))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond,
		"unlimited limiter must not introduce waits")
}

func TestAllowConsumesBurst(t *testing.T) {
	l := New(5)
	require.False(t, l.Unlimited())
	assert.Equal(t, uint32(5), l.Rate())

	// Burst capacity equals the rate, so the first 5 are immediate.
	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow(), "token %d should be available from the burst", i)
	}
	assert.False(t, l.Allow(), "bucket should be drained after the burst")
}

func TestWaitRefills(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping timing-sensitive test in short mode")
	}

	l := New(10)
	ctx := context.Background()

	// Drain the burst.
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Wait(ctx))
	}

	// The next token should arrive roughly 1/rate later.
	start := time.Now()
	require.NoError(t, l.Wait(ctx))
	elapsed := time.Since(start)
	assert.Greater(t, elapsed, 50*time.Millisecond, "expected a refill wait")
	assert.Less(t, elapsed, 500*time.Millisecond, "wait should be bounded by 1/rate")
}

func TestRateBound(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping timing-sensitive test in short mode")
	}

	const r = 20
	l := New(r)
	ctx := context.Background()

	// Acquire for one second; starts must stay within rate + burst.
	deadline := time.Now().Add(time.Second)
	starts := 0
	for time.Now().Before(deadline) {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
		starts++
	}
	assert.LessOrEqual(t, starts, 2*r+1, "probe starts exceeded rate plus burst")
}

func TestWaitCanceled(t *testing.T) {
	l := New(1)
	ctx, cancel := context.WithCancel(context.Background())

	// Drain the single burst token, then cancel mid-wait.
	require.NoError(t, l.Wait(ctx))
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := l.Wait(ctx)
	assert.Error(t, err, "Wait should surface context cancellation")
}
