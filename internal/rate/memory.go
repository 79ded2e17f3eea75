package rate

import (
	"context"
	"sync"
	"time"
)

// MemoryCounter is an in-process Counter.
type MemoryCounter struct {
	mu           sync.Mutex
	rule         Rule
	now          func() time.Time
	attempts     int
	firstFailure time.Time
	lockedSince  time.Time
}

// NewMemoryCounter creates a counter; now may be nil (time.Now).
func NewMemoryCounter(rule Rule, now func() time.Time) *MemoryCounter {
	if now == nil {
		now = time.Now
	}
	return &MemoryCounter{rule: rule, now: now}
}

// Status implements Counter.
func (c *MemoryCounter) Status(context.Context) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.expire(now)
	return c.status(now), nil
}

// Fail implements Counter.
func (c *MemoryCounter) Fail(context.Context) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.expire(now)
	if !c.lockedSince.IsZero() {
		return c.status(now), nil
	}

	if c.attempts == 0 {
		c.firstFailure = now
	}
	c.attempts++
	if c.attempts >= c.rule.MaxAttempts {
		c.lockedSince = now
	}
	return c.status(now), nil
}

// Reset implements Counter.
func (c *MemoryCounter) Reset(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.attempts = 0
	c.firstFailure = time.Time{}
	c.lockedSince = time.Time{}
	return nil
}

func (c *MemoryCounter) expire(now time.Time) {
	switch {
	case !c.lockedSince.IsZero():
		if now.Sub(c.lockedSince) >= c.rule.Window {
			c.attempts = 0
			c.firstFailure = time.Time{}
			c.lockedSince = time.Time{}
		}
	case c.attempts > 0:
		if now.Sub(c.firstFailure) >= c.rule.Window {
			c.attempts = 0
			c.firstFailure = time.Time{}
		}
	}
}

func (c *MemoryCounter) status(now time.Time) Status {
	s := Status{Attempts: c.attempts}
	if !c.lockedSince.IsZero() {
		s.Locked = true
		s.LockedSince = c.lockedSince
		s.Remaining = c.rule.Window - now.Sub(c.lockedSince)
	}
	return s
}
