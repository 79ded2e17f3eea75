package flows

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/authclient/internal/recoverylink"
)

// RecoveryIdentity identifies the account a session or link belongs to.
type RecoveryIdentity struct {
	UserID string
	Email  string
}

// Matches reports whether both identities name the same account. User IDs
// win when both sides carry one; otherwise emails compare case-insensitively.
func (r RecoveryIdentity) Matches(other RecoveryIdentity) bool {
	if r.UserID != "" && other.UserID != "" {
		return r.UserID == other.UserID
	}
	if r.Email != "" && other.Email != "" {
		return strings.EqualFold(r.Email, other.Email)
	}
	return false
}

// EstablishPath records how the recovery session came about.
type EstablishPath uint8

const (
	// PathExchange means the link credential was exchanged for a session.
	PathExchange EstablishPath = iota + 1
	// PathAutoLogin means the backend had already signed the account in.
	PathAutoLogin
)

func (p EstablishPath) String() string {
	switch p {
	case PathExchange:
		return "exchange"
	case PathAutoLogin:
		return "auto_login"
	default:
		return "unknown"
	}
}

// EstablishRecoveryResult is the outcome of a successful establishment.
type EstablishRecoveryResult struct {
	Path    EstablishPath
	Subject RecoveryIdentity
	// SignedOutPrevious is set when a different account had to be signed out.
	SignedOutPrevious bool
}

// EstablishRecoveryMetrics carries metric IDs.
type EstablishRecoveryMetrics struct {
	Established int
	AutoLogin   int
	LinkInvalid int
}

// EstablishRecoveryEvents carries audit event names.
type EstablishRecoveryEvents struct {
	Established string
	Rejected    string
}

// EstablishRecoveryErrors carries the errors returned to the caller.
type EstablishRecoveryErrors struct {
	NotReady    error
	LinkInvalid error
}

// EstablishRecoveryDeps captures recovery establishment dependencies.
type EstablishRecoveryDeps struct {
	Now func() time.Time

	// Inspect reads the subject of an access token. A nil error with an empty
	// identity means the token carried no readable subject.
	Inspect      func(token string) (RecoveryIdentity, error)
	IsConsumed   func([32]byte) bool
	MarkConsumed func([32]byte, time.Time)

	// Exchange trades the credential for a session and installs it. Errors
	// must already be translated.
	Exchange func(context.Context, recoverylink.Credential) (RecoveryIdentity, error)
	// SignOutCurrent drops the session of a different account.
	SignOutCurrent func(context.Context) error
	IsLinkInvalid  func(error) bool

	MetricInc func(int)
	EmitAudit func(ctx context.Context, event string, success bool, userID string, err error, metadata func() map[string]string)

	Metrics EstablishRecoveryMetrics
	Events  EstablishRecoveryEvents
	Errors  EstablishRecoveryErrors
}

// RunEstablishRecovery turns a recovery link (or an existing session) into an
// active recovery session. current is nil when nobody is signed in.
//
// The bundle is always consumed or discarded before this returns.
func RunEstablishRecovery(ctx context.Context, bundle *recoverylink.Bundle, current *RecoveryIdentity, deps EstablishRecoveryDeps) (EstablishRecoveryResult, error) {
	normalizeEstablishRecoveryDeps(&deps)
	if bundle != nil {
		defer bundle.Discard()
	}

	if deps.Exchange == nil || deps.Inspect == nil {
		return EstablishRecoveryResult{}, deps.Errors.NotReady
	}

	if bundle == nil {
		if current != nil {
			deps.MetricInc(deps.Metrics.AutoLogin)
			deps.EmitAudit(ctx, deps.Events.Established, true, current.UserID, nil, func() map[string]string {
				return map[string]string{"path": PathAutoLogin.String()}
			})
			return EstablishRecoveryResult{Path: PathAutoLogin, Subject: *current}, nil
		}
		return EstablishRecoveryResult{}, rejectRecovery(ctx, deps, "", "missing_token", deps.Errors.LinkInvalid)
	}

	fingerprint := bundle.Fingerprint()
	expiresAt := bundle.ExpiresAt()
	if bundle.Consumed() || deps.IsConsumed(fingerprint) {
		return EstablishRecoveryResult{}, rejectRecovery(ctx, deps, "", "consumed", deps.Errors.LinkInvalid)
	}
	if !expiresAt.IsZero() && !deps.Now().Before(expiresAt) {
		return EstablishRecoveryResult{}, rejectRecovery(ctx, deps, "", "expired", deps.Errors.LinkInvalid)
	}

	subject, err := deps.Inspect(bundle.Peek())
	if err != nil {
		return EstablishRecoveryResult{}, rejectRecovery(ctx, deps, "", "token_rejected", err)
	}

	result := EstablishRecoveryResult{Path: PathExchange, Subject: subject}
	if current != nil {
		if subject.Matches(*current) {
			deps.MarkConsumed(fingerprint, expiresAt)
			deps.MetricInc(deps.Metrics.AutoLogin)
			deps.EmitAudit(ctx, deps.Events.Established, true, current.UserID, nil, func() map[string]string {
				return map[string]string{"path": PathAutoLogin.String()}
			})
			return EstablishRecoveryResult{Path: PathAutoLogin, Subject: *current}, nil
		}

		// A different account is signed in. Its session must not survive into
		// a recovery session for someone else.
		if deps.SignOutCurrent != nil {
			if err := deps.SignOutCurrent(ctx); err != nil && ctx.Err() != nil {
				return EstablishRecoveryResult{}, ctx.Err()
			}
		}
		result.SignedOutPrevious = true
	}

	credential, err := bundle.Take()
	if err != nil {
		return EstablishRecoveryResult{}, rejectRecovery(ctx, deps, subject.UserID, "consumed", deps.Errors.LinkInvalid)
	}

	identity, err := deps.Exchange(ctx, credential)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return EstablishRecoveryResult{}, err
		}
		if deps.IsLinkInvalid(err) {
			deps.MarkConsumed(fingerprint, expiresAt)
		}
		return EstablishRecoveryResult{}, rejectRecovery(ctx, deps, subject.UserID, "exchange_failed", err)
	}

	deps.MarkConsumed(fingerprint, expiresAt)
	if identity.UserID != "" || identity.Email != "" {
		result.Subject = identity
	}
	deps.MetricInc(deps.Metrics.Established)
	deps.EmitAudit(ctx, deps.Events.Established, true, result.Subject.UserID, nil, func() map[string]string {
		meta := map[string]string{"path": PathExchange.String()}
		if result.SignedOutPrevious {
			meta["signed_out_previous"] = "true"
		}
		return meta
	})
	return result, nil
}

func rejectRecovery(ctx context.Context, deps EstablishRecoveryDeps, userID, reason string, err error) error {
	if deps.IsLinkInvalid(err) {
		deps.MetricInc(deps.Metrics.LinkInvalid)
	}
	deps.EmitAudit(ctx, deps.Events.Rejected, false, userID, err, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return err
}

func normalizeEstablishRecoveryDeps(deps *EstablishRecoveryDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.IsConsumed == nil {
		deps.IsConsumed = func([32]byte) bool { return false }
	}
	if deps.MarkConsumed == nil {
		deps.MarkConsumed = func([32]byte, time.Time) {}
	}
	if deps.IsLinkInvalid == nil {
		deps.IsLinkInvalid = func(err error) bool { return errors.Is(err, deps.Errors.LinkInvalid) }
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = func(context.Context, string, bool, string, error, func() map[string]string) {}
	}
	if deps.Errors.NotReady == nil {
		deps.Errors.NotReady = errors.New("recovery establishment not configured")
	}
	if deps.Errors.LinkInvalid == nil {
		deps.Errors.LinkInvalid = errors.New("recovery link invalid")
	}
}
