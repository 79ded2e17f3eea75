package flows

import (
	"context"
	"errors"
)

// SignOutCleanupDeps captures the best-effort work that follows a local
// sign-out.
type SignOutCleanupDeps struct {
	RemoteSignOut    func(context.Context) error
	ClearCredentials func(context.Context) error

	MetricInc func(int)
	// CleanupFailure is the metric ID counted when any step fails.
	CleanupFailure int
}

// RunSignOutCleanup runs every cleanup step even when an earlier one fails
// and returns the joined failures. Callers log the result; it never reaches
// the user.
func RunSignOutCleanup(ctx context.Context, deps SignOutCleanupDeps) error {
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}

	var errs []error
	if deps.RemoteSignOut != nil {
		if err := deps.RemoteSignOut(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if deps.ClearCredentials != nil {
		if err := deps.ClearCredentials(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		deps.MetricInc(deps.CleanupFailure)
	}
	return err
}
