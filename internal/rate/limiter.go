package rate

import (
	"context"
	"errors"
	"time"
)

// Rule configures one guarded flow.
type Rule struct {
	MaxAttempts int
	Window      time.Duration
}

// Validate reports whether the rule is usable.
func (r Rule) Validate() error {
	if r.MaxAttempts <= 0 {
		return errors.New("max attempts must be > 0")
	}
	if r.Window <= 0 {
		return errors.New("window must be > 0")
	}
	return nil
}

// Status is a point-in-time view of a counter.
type Status struct {
	Attempts    int
	Locked      bool
	LockedSince time.Time
	Remaining   time.Duration
}

// Counter stores attempts for exactly one flow instance.
type Counter interface {
	Status(ctx context.Context) (Status, error)
	// Fail records a failure. Failures while locked are not counted.
	Fail(ctx context.Context) (Status, error)
	Reset(ctx context.Context) error
}

// Limiter turns Counter state into allow/deny decisions.
type Limiter struct {
	counter Counter
}

// New creates a Limiter over counter.
func New(counter Counter) *Limiter {
	return &Limiter{counter: counter}
}

// Check returns a *LimitedError while the flow is locked.
func (l *Limiter) Check(ctx context.Context) error {
	status, err := l.counter.Status(ctx)
	if err != nil {
		return err
	}
	if status.Locked {
		return &LimitedError{Remaining: status.Remaining}
	}
	return nil
}

// RecordFailure counts a failed attempt.
func (l *Limiter) RecordFailure(ctx context.Context) (Status, error) {
	return l.counter.Fail(ctx)
}

// RecordSuccess clears the counter.
func (l *Limiter) RecordSuccess(ctx context.Context) error {
	return l.counter.Reset(ctx)
}

// Status returns the current counter state.
func (l *Limiter) Status(ctx context.Context) (Status, error) {
	return l.counter.Status(ctx)
}
