package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterBurstThenRefill(t *testing.T) {
	l := NewTokenBucketLimiter(10, 2)
	clock := time.Unix(0, 0)
	l.SetClock(func() time.Time { return clock })

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Wait(ctx), "burst of 2 admits two immediate calls")

	// The bucket is empty; one refilled token appears after 100ms at 10/s.
	clock = clock.Add(100 * time.Millisecond)
	done := make(chan error, 1)
	go func() { done <- l.Wait(ctx) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("refilled token was not granted")
	}
}

func TestLimiterHonorsContextCancel(t *testing.T) {
	l := NewTokenBucketLimiter(0.001, 1) // refills far slower than the test runs
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Wait(ctx), "the single burst token is granted immediately")

	done := make(chan error, 1)
	go func() { done <- l.Wait(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled wait did not return")
	}
}
