package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(max int) RetryPolicy {
	return RetryPolicy{
		BaseDelay:      time.Millisecond,
		MaxDelay:       4 * time.Millisecond,
		MaxAttempts:    max,
		AttemptTimeout: 100 * time.Millisecond,
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 8 * time.Second}

	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 8*time.Second, p.Delay(3))
	assert.Equal(t, 8*time.Second, p.Delay(10), "delay is capped")

	p.Jitter = 0.5
	for i := 0; i < 100; i++ {
		d := p.Delay(1)
		assert.GreaterOrEqual(t, d, time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}

func TestRetryControllerStopsAtCeiling(t *testing.T) {
	var calls atomic.Int32
	exhausted := make(chan int, 1)
	var failures atomic.Int32

	c := NewRetryController(fastPolicy(5), func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("resume failed")
	}, RetryHooks{
		OnAttemptFailed: func(n int, err error) { failures.Store(int32(n)) },
		OnExhausted:     func(n int, err error) { exhausted <- n },
	})

	c.Start()

	select {
	case n := <-exhausted:
		assert.Equal(t, 5, n)
	case <-time.After(2 * time.Second):
		t.Fatal("controller never exhausted")
	}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(5), calls.Load(), "no attempt after the ceiling")
	assert.Equal(t, int32(5), failures.Load())
	assert.Equal(t, 5, c.Attempts())
	assert.False(t, c.Running())
}

func TestRetryControllerResumes(t *testing.T) {
	var calls atomic.Int32
	resumed := make(chan struct{})

	c := NewRetryController(fastPolicy(5), func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return fmt.Errorf("attempt %d failed", calls.Load())
		}
		return nil
	}, RetryHooks{OnResumed: func() { close(resumed) }})

	c.Start()
	c.Start()

	select {
	case <-resumed:
	case <-time.After(2 * time.Second):
		t.Fatal("controller never resumed")
	}
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 0, c.Attempts(), "success resets the count")
	assert.False(t, c.Running())
}

func TestRetryControllerPairingRequired(t *testing.T) {
	got := make(chan error, 1)
	c := NewRetryController(fastPolicy(5), func(ctx context.Context) error {
		return fmt.Errorf("logged out: %w", ErrPairingRequired)
	}, RetryHooks{OnPairingRequired: func(err error) { got <- err }})

	c.Start()

	select {
	case err := <-got:
		require.ErrorIs(t, err, ErrPairingRequired)
	case <-time.After(2 * time.Second):
		t.Fatal("pairing hook not called")
	}
	assert.Equal(t, 0, c.Attempts())
	assert.False(t, c.Running())
}

func TestRetryControllerStopCancelsSchedule(t *testing.T) {
	var calls atomic.Int32
	policy := fastPolicy(5)
	policy.BaseDelay = 50 * time.Millisecond

	c := NewRetryController(policy, func(ctx context.Context) error {
		calls.Add(1)
		return errors.New("fail")
	}, RetryHooks{})

	c.Start()
	assert.True(t, c.Running())
	c.Stop()
	assert.False(t, c.Running())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestRetryControllerStopCancelsInFlightAttempt(t *testing.T) {
	started := make(chan struct{})
	cancelled := make(chan struct{})
	var hooked atomic.Bool

	c := NewRetryController(fastPolicy(5), func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}, RetryHooks{
		OnAttemptFailed: func(int, error) { hooked.Store(true) },
	})

	c.Start()
	<-started
	c.Reset()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("in-flight attempt not cancelled")
	}
	time.Sleep(20 * time.Millisecond)
	assert.False(t, hooked.Load(), "hooks of a stopped run are not called")
	assert.Equal(t, 0, c.Attempts())
}
