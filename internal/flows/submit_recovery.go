package flows

import (
	"context"
	"errors"
)

// SubmitRecoveryInput is one password replacement attempt.
type SubmitRecoveryInput struct {
	NewPassword     string
	ConfirmPassword string
	// CurrentPassword is optional; when present the new password must differ.
	CurrentPassword string
	Email           string
	UserID          string
	CorrelationID   string
}

// SubmitRecoveryMetrics carries metric IDs.
type SubmitRecoveryMetrics struct {
	PasswordUpdated        int
	PasswordPolicyRejected int
	PasswordReuseRejected  int
}

// SubmitRecoveryEvents carries audit event names.
type SubmitRecoveryEvents struct {
	PasswordUpdated  string
	PasswordRejected string
}

// SubmitRecoveryErrors carries the errors returned to the caller.
type SubmitRecoveryErrors struct {
	NotReady         error
	PasswordRequired error
	PasswordMismatch error
	PasswordPolicy   error
	PasswordReuse    error
}

// SubmitRecoveryDeps captures password replacement dependencies.
type SubmitRecoveryDeps struct {
	// Assess returns the policy feedback for password; empty means valid.
	Assess func(password, email string) []string
	// PolicyError wraps feedback into the caller's policy error.
	PolicyError func(feedback []string) error

	InHistory func(string) bool
	Remember  func(string) error

	// BeginSubmit runs after local validation and before the backend call.
	BeginSubmit func() error
	// UpdatePassword calls the backend. Errors must already be translated.
	UpdatePassword func(context.Context, string) error

	MetricInc func(int)
	EmitAudit func(ctx context.Context, event string, success bool, userID string, err error, metadata func() map[string]string)

	Metrics SubmitRecoveryMetrics
	Events  SubmitRecoveryEvents
	Errors  SubmitRecoveryErrors
}

// RunValidateRecoveryPassword applies every local rule. It never contacts the
// backend.
func RunValidateRecoveryPassword(in SubmitRecoveryInput, deps SubmitRecoveryDeps) error {
	normalizeSubmitRecoveryDeps(&deps)

	if in.NewPassword == "" {
		return deps.Errors.PasswordRequired
	}
	if in.NewPassword != in.ConfirmPassword {
		return deps.Errors.PasswordMismatch
	}
	if deps.Assess != nil {
		if feedback := deps.Assess(in.NewPassword, in.Email); len(feedback) > 0 {
			deps.MetricInc(deps.Metrics.PasswordPolicyRejected)
			return deps.PolicyError(feedback)
		}
	}
	if in.CurrentPassword != "" && in.NewPassword == in.CurrentPassword {
		deps.MetricInc(deps.Metrics.PasswordReuseRejected)
		return deps.Errors.PasswordReuse
	}
	if deps.InHistory(in.NewPassword) {
		deps.MetricInc(deps.Metrics.PasswordReuseRejected)
		return deps.Errors.PasswordReuse
	}
	return nil
}

// RunSubmitRecoveryPassword validates in and replaces the password of the
// current recovery session.
func RunSubmitRecoveryPassword(ctx context.Context, in SubmitRecoveryInput, deps SubmitRecoveryDeps) error {
	normalizeSubmitRecoveryDeps(&deps)
	if deps.UpdatePassword == nil {
		return deps.Errors.NotReady
	}

	if err := RunValidateRecoveryPassword(in, deps); err != nil {
		deps.EmitAudit(ctx, deps.Events.PasswordRejected, false, in.UserID, err, func() map[string]string {
			return map[string]string{"stage": "local", "correlation_id": in.CorrelationID}
		})
		return err
	}
	if err := deps.BeginSubmit(); err != nil {
		return err
	}

	err := deps.UpdatePassword(ctx, in.NewPassword)
	switch {
	case err == nil:
		deps.MetricInc(deps.Metrics.PasswordUpdated)
		deps.EmitAudit(ctx, deps.Events.PasswordUpdated, true, in.UserID, nil, func() map[string]string {
			return map[string]string{"correlation_id": in.CorrelationID}
		})
		return nil
	case errors.Is(err, deps.Errors.PasswordReuse):
		// Later attempts with the same candidate fail locally.
		_ = deps.Remember(in.NewPassword)
		deps.MetricInc(deps.Metrics.PasswordReuseRejected)
	case errors.Is(err, deps.Errors.PasswordPolicy):
		deps.MetricInc(deps.Metrics.PasswordPolicyRejected)
	}

	deps.EmitAudit(ctx, deps.Events.PasswordRejected, false, in.UserID, err, func() map[string]string {
		return map[string]string{"stage": "backend", "correlation_id": in.CorrelationID}
	})
	return err
}

func normalizeSubmitRecoveryDeps(deps *SubmitRecoveryDeps) {
	if deps.PolicyError == nil {
		deps.PolicyError = func([]string) error { return deps.Errors.PasswordPolicy }
	}
	if deps.InHistory == nil {
		deps.InHistory = func(string) bool { return false }
	}
	if deps.Remember == nil {
		deps.Remember = func(string) error { return nil }
	}
	if deps.BeginSubmit == nil {
		deps.BeginSubmit = func() error { return nil }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, error, func() map[string]string) {}
	}
	if deps.Errors.NotReady == nil {
		deps.Errors.NotReady = errors.New("password submission not configured")
	}
	if deps.Errors.PasswordRequired == nil {
		deps.Errors.PasswordRequired = errors.New("password required")
	}
	if deps.Errors.PasswordMismatch == nil {
		deps.Errors.PasswordMismatch = errors.New("password confirmation does not match")
	}
	if deps.Errors.PasswordPolicy == nil {
		deps.Errors.PasswordPolicy = errors.New("password does not meet policy")
	}
	if deps.Errors.PasswordReuse == nil {
		deps.Errors.PasswordReuse = errors.New("password reuse")
	}
}
