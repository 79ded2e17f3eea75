package authclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrEthical07/authclient/internal/rate"
)

// Flow names a rate-limited operation.
type Flow string

const (
	FlowSignIn             Flow = "sign_in"
	FlowResetRequest       Flow = "reset_request"
	FlowResendConfirmation Flow = "resend_confirmation"
)

// AttemptStatus is a point-in-time view of a guard.
type AttemptStatus = rate.Status

// AttemptGuard counts failed attempts of one flow and locks it after too
// many. Each form (or connection) owns its own guard; guards are never shared
// between flows.
type AttemptGuard struct {
	flow    Flow
	limiter *rate.Limiter
	manager *Manager
	logger  *slog.Logger
}

// NewAttemptGuard creates a guard for flow using the configured rule. With a
// Redis client configured and a non-empty scope (e.g. a connection id) the
// counter lives in Redis under that scope; otherwise it is held in memory.
func (m *Manager) NewAttemptGuard(flow Flow, scope string) (*AttemptGuard, error) {
	var cfg RateLimitRule
	switch flow {
	case FlowSignIn:
		cfg = m.config.RateLimit.SignIn
	case FlowResetRequest:
		cfg = m.config.RateLimit.ResetRequest
	case FlowResendConfirmation:
		cfg = m.config.RateLimit.ResendConfirmation
	default:
		return nil, fmt.Errorf("unknown flow %q", flow)
	}

	rule := cfg.rule()
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	var counter rate.Counter
	if m.redis != nil && scope != "" {
		counter = rate.NewRedisCounter(m.redis, rule, m.config.RateLimit.RedisPrefix, string(flow), scope)
	} else {
		counter = rate.NewMemoryCounter(rule, m.now)
	}

	return &AttemptGuard{
		flow:    flow,
		limiter: rate.New(counter),
		manager: m,
		logger:  m.logger.With("flow", string(flow)),
	}, nil
}

// Run calls fn unless the flow is locked, in which case it returns an error
// matching ErrRateLimited (use RetryAfter for the remaining time) without
// calling fn. A failing fn counts as one attempt, a succeeding one resets the
// counter. Cancellation and missing input never count.
func (g *AttemptGuard) Run(ctx context.Context, fn func(context.Context) error) error {
	if err := g.limiter.Check(ctx); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			g.manager.metrics.Inc(MetricRateLimitHit)
			g.manager.emitAudit(ctx, AuditEventRateLimited, false, "", err, func() map[string]string {
				return map[string]string{"flow": string(g.flow)}
			})
			return err
		}
		g.logger.ErrorContext(ctx, "attempt counter unavailable", "error", err)
		return &translatedError{sentinel: ErrServiceUnavailable, cause: err}
	}

	err := fn(ctx)
	if err == nil {
		if resetErr := g.limiter.RecordSuccess(ctx); resetErr != nil {
			g.logger.WarnContext(ctx, "attempt counter reset failed", "error", resetErr)
		}
		return nil
	}
	if !countsAsAttempt(err) {
		return err
	}

	status, recErr := g.limiter.RecordFailure(ctx)
	if recErr != nil {
		g.logger.WarnContext(ctx, "attempt counter update failed", "error", recErr)
		return err
	}
	if status.Locked {
		g.logger.InfoContext(ctx, "flow locked", "attempts", status.Attempts, "remaining", status.Remaining)
	}
	return err
}

// Status returns the current counter state.
func (g *AttemptGuard) Status(ctx context.Context) (AttemptStatus, error) {
	return g.limiter.Status(ctx)
}

func countsAsAttempt(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrCredentialsRequired), errors.Is(err, ErrEmailRequired):
		return false
	case errors.Is(err, ErrManagerClosed), errors.Is(err, ErrOperationSuperseded):
		return false
	}
	return true
}
