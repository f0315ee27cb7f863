package session

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"
)

// RetryPolicy bounds automatic resume attempts.
type RetryPolicy struct {
	BaseDelay      time.Duration // delay before the first attempt; doubles per failure
	MaxDelay       time.Duration // cap on the delay
	MaxAttempts    int           // failed attempts before giving up
	Jitter         float64       // fraction of the delay randomised in both directions, 0..1
	AttemptTimeout time.Duration // bound on a single attempt
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:      2 * time.Second,
		MaxDelay:       time.Minute,
		MaxAttempts:    5,
		Jitter:         0.2,
		AttemptTimeout: 45 * time.Second,
	}
}

// Delay returns the backoff before attempt number n (0-based), jitter applied.
func (p RetryPolicy) Delay(n int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < n && d < p.MaxDelay; i++ {
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		d += time.Duration((rand.Float64()*2 - 1) * p.Jitter * float64(d))
	}
	if d < 0 {
		d = 0
	}
	return d
}

// AttemptFunc performs one resume attempt.
type AttemptFunc func(ctx context.Context) error

// RetryHooks receive the controller's outcomes. They are called without the controller's lock.
type RetryHooks struct {
	OnAttemptFailed   func(attempts int, err error)
	OnExhausted       func(attempts int, err error)
	OnResumed         func()
	OnPairingRequired func(err error)
}

// RetryController schedules resume attempts with exponential backoff until one succeeds,
// the backend asks for a new pairing, or MaxAttempts failures accumulate.
type RetryController struct {
	policy  RetryPolicy
	attempt AttemptFunc
	hooks   RetryHooks

	mu       sync.Mutex
	attempts int
	running  bool
	epoch    uint64 // invalidates timers and in-flight attempts on Stop
	timer    *time.Timer
	cancel   context.CancelFunc
}

// NewRetryController creates an idle controller.
func NewRetryController(policy RetryPolicy, attempt AttemptFunc, hooks RetryHooks) *RetryController {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &RetryController{policy: policy, attempt: attempt, hooks: hooks}
}

// Start begins scheduling attempts. It is a no-op while already running.
func (c *RetryController) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return
	}
	c.running = true
	c.epoch++
	c.scheduleLocked()
}

func (c *RetryController) scheduleLocked() {
	epoch := c.epoch
	c.timer = time.AfterFunc(c.policy.Delay(c.attempts), func() { c.run(epoch) })
}

func (c *RetryController) run(epoch uint64) {
	c.mu.Lock()
	if !c.running || c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	timeout := c.policy.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultRetryPolicy().AttemptTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	c.cancel = cancel
	c.mu.Unlock()

	err := c.attempt(ctx)
	cancel()

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	c.cancel = nil

	switch {
	case err == nil:
		c.running = false
		c.attempts = 0
		c.mu.Unlock()
		if c.hooks.OnResumed != nil {
			c.hooks.OnResumed()
		}
		return
	case errors.Is(err, ErrPairingRequired):
		c.running = false
		c.mu.Unlock()
		if c.hooks.OnPairingRequired != nil {
			c.hooks.OnPairingRequired(err)
		}
		return
	}

	c.attempts++
	n := c.attempts
	exhausted := n >= c.policy.MaxAttempts
	if exhausted {
		c.running = false
	} else {
		c.scheduleLocked()
	}
	c.mu.Unlock()

	if c.hooks.OnAttemptFailed != nil {
		c.hooks.OnAttemptFailed(n, err)
	}
	if exhausted && c.hooks.OnExhausted != nil {
		c.hooks.OnExhausted(n, err)
	}
}

// Stop cancels the pending schedule and any in-flight attempt. The attempt count is kept.
func (c *RetryController) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *RetryController) stopLocked() {
	c.epoch++
	c.running = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Reset stops the controller and zeroes the attempt count.
func (c *RetryController) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.attempts = 0
}

// Attempts returns the failed attempts since the last Reset or success.
func (c *RetryController) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Running reports whether attempts are being scheduled.
func (c *RetryController) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
