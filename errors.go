package authclient

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/authclient/internal/rate"
	"github.com/MrEthical07/authclient/internal/recoverylink"
	"github.com/samber/oops"
)

var (
	// ErrInvalidCredentials covers both unknown email and wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailNotConfirmed is returned when sign-in requires a confirmed email.
	ErrEmailNotConfirmed = errors.New("email not confirmed")
	// ErrRateLimited is returned while an attempt guard is locked, and when the
	// identity backend throttles a request.
	ErrRateLimited = rate.ErrRateLimited
	// ErrServiceUnavailable covers network failures and 5xx responses.
	ErrServiceUnavailable = errors.New("service unavailable")
	// ErrRecoveryLinkInvalid is terminal for the current recovery link.
	ErrRecoveryLinkInvalid = errors.New("recovery link invalid or expired")
	// ErrPasswordPolicy is matched by *PolicyError.
	ErrPasswordPolicy = errors.New("password does not meet policy")
	// ErrPasswordReuse is returned when the new password equals the current one.
	ErrPasswordReuse = errors.New("password must differ from current password")
	// ErrPasswordMismatch is returned when the confirmation does not match.
	ErrPasswordMismatch = errors.New("password confirmation does not match")
	// ErrPasswordRequired is returned for an empty new password.
	ErrPasswordRequired = errors.New("password required")
	// ErrCredentialsRequired is returned for an empty email or password.
	ErrCredentialsRequired = errors.New("email and password required")
	// ErrEmailRequired is returned for an empty email address.
	ErrEmailRequired = errors.New("email required")
	// ErrOperationSuperseded is returned when a sign-out landed while the
	// operation was in flight; its result was discarded.
	ErrOperationSuperseded = errors.New("operation superseded by sign-out")
	// ErrAccountExists is returned by SignUp for a registered email.
	ErrAccountExists = errors.New("account already exists")
	// ErrUnexpected is the fallback for untranslated backend failures.
	ErrUnexpected = errors.New("unexpected error")
	// ErrManagerClosed is returned by operations after Close.
	ErrManagerClosed = errors.New("manager closed")
	// ErrRecoveryPhase is returned when a recovery operation is called in the
	// wrong phase.
	ErrRecoveryPhase = errors.New("operation not allowed in current recovery phase")
	// ErrBackendRequired is returned by Build without a Backend.
	ErrBackendRequired = errors.New("backend is required")
)

// User-facing messages. The texts are stable and never include backend detail.
const (
	MessageInvalidCredentials = "Invalid email or password."
	MessageEmailNotConfirmed  = "Please confirm your email address before signing in. Check your inbox or request a new confirmation email."
	MessageRateLimited        = "Too many attempts. Please wait a few minutes and try again."
	MessageServiceUnavailable = "The service is temporarily unavailable. Please try again."
	MessageRecoveryLink       = "This password reset link is invalid or has expired. Please request a new link."
	MessagePasswordPolicy     = "Your password does not meet the security requirements."
	MessagePasswordReuse      = "Your new password must be different from your current password."
	MessagePasswordMismatch   = "Passwords do not match."
	MessagePasswordRequired   = "Please enter a new password."
	MessageCredentials        = "Please enter your email and password."
	MessageEmailRequired      = "Please enter your email address."
	MessageAccountExists      = "An account with this email already exists."
	MessageUnexpected         = "Something went wrong. Please try again."
)

// BackendError is the error shape identity backends report. Code is the
// backend's machine-readable code when it sends one.
type BackendError struct {
	Status  int
	Code    string
	Message string
}

func (e *BackendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity backend: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("identity backend: %d: %s", e.Status, e.Message)
}

// PolicyError lists every policy violation of a rejected password.
type PolicyError struct {
	Feedback []string
}

func (e *PolicyError) Error() string {
	return "password does not meet policy: " + strings.Join(e.Feedback, "; ")
}

// Is reports whether target is ErrPasswordPolicy.
func (e *PolicyError) Is(target error) bool {
	return target == ErrPasswordPolicy
}

// UserMessage maps err to a stable user-facing string. Unknown errors map to
// the generic message; their detail belongs in logs.
func UserMessage(err error) string {
	var limited *rate.LimitedError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &limited):
		minutes := int(math.Ceil(limited.Remaining.Minutes()))
		if minutes <= 1 {
			return "Too many attempts. Please try again in a minute."
		}
		return fmt.Sprintf("Too many attempts. Please try again in %d minutes.", minutes)
	case errors.Is(err, ErrRateLimited):
		return MessageRateLimited
	case errors.Is(err, ErrInvalidCredentials):
		return MessageInvalidCredentials
	case errors.Is(err, ErrEmailNotConfirmed):
		return MessageEmailNotConfirmed
	case errors.Is(err, ErrServiceUnavailable):
		return MessageServiceUnavailable
	case errors.Is(err, ErrRecoveryLinkInvalid):
		return MessageRecoveryLink
	case errors.Is(err, ErrPasswordPolicy):
		return MessagePasswordPolicy
	case errors.Is(err, ErrPasswordReuse):
		return MessagePasswordReuse
	case errors.Is(err, ErrPasswordMismatch):
		return MessagePasswordMismatch
	case errors.Is(err, ErrPasswordRequired):
		return MessagePasswordRequired
	case errors.Is(err, ErrCredentialsRequired):
		return MessageCredentials
	case errors.Is(err, ErrEmailRequired):
		return MessageEmailRequired
	case errors.Is(err, ErrAccountExists):
		return MessageAccountExists
	default:
		return MessageUnexpected
	}
}

// backendOp selects operation-specific translation rules.
type backendOp uint8

const (
	opGeneric backendOp = iota
	opSignIn
	opRecovery
)

// translateBackendError maps a raw backend failure to a sentinel, keeping the
// raw error in the chain for logging. Errors that are already sentinels pass
// through.
func translateBackendError(err error, op backendOp) error {
	if err == nil {
		return nil
	}
	if isTranslated(err) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	sentinel := classifyBackendError(err, op)
	return oops.
		Code("backend_" + sentinelCode(sentinel)).
		Wrap(&translatedError{sentinel: sentinel, cause: err})
}

func classifyBackendError(err error, op backendOp) error {
	var be *BackendError
	if !errors.As(err, &be) {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return ErrServiceUnavailable
		}
		return ErrUnexpected
	}

	code := strings.ToLower(be.Code)
	msg := strings.ToLower(be.Message)

	switch {
	case be.Status >= http.StatusInternalServerError || be.Status == 0:
		return ErrServiceUnavailable
	case be.Status == http.StatusTooManyRequests,
		code == "over_request_rate_limit",
		code == "over_email_send_rate_limit",
		strings.Contains(msg, "rate limit"):
		return ErrRateLimited
	case code == "email_not_confirmed", strings.Contains(msg, "email not confirmed"):
		return ErrEmailNotConfirmed
	case code == "same_password", strings.Contains(msg, "should be different from the old password"):
		return ErrPasswordReuse
	case code == "weak_password":
		return ErrPasswordPolicy
	case code == "user_already_exists", code == "email_exists", strings.Contains(msg, "already registered"):
		return ErrAccountExists
	case code == "otp_expired", code == "bad_jwt", code == "session_not_found", code == "session_expired",
		code == "flow_state_expired", strings.Contains(msg, "token has expired or is invalid"):
		if op == opSignIn {
			return ErrInvalidCredentials
		}
		return ErrRecoveryLinkInvalid
	case code == "invalid_credentials", code == "user_not_found",
		strings.Contains(msg, "invalid login credentials"):
		return ErrInvalidCredentials
	case op == opRecovery && (be.Status == http.StatusUnauthorized || be.Status == http.StatusForbidden):
		return ErrRecoveryLinkInvalid
	case op == opSignIn && (be.Status == http.StatusBadRequest || be.Status == http.StatusUnauthorized):
		return ErrInvalidCredentials
	default:
		return ErrUnexpected
	}
}

// translatedError matches its sentinel with errors.Is and keeps the cause
// reachable for logging.
type translatedError struct {
	sentinel error
	cause    error
}

func (e *translatedError) Error() string {
	return e.sentinel.Error() + ": " + e.cause.Error()
}

func (e *translatedError) Unwrap() []error {
	return []error{e.sentinel, e.cause}
}

func isTranslated(err error) bool {
	for _, s := range []error{
		ErrInvalidCredentials, ErrEmailNotConfirmed, ErrRateLimited, ErrServiceUnavailable,
		ErrRecoveryLinkInvalid, ErrPasswordPolicy, ErrPasswordReuse, ErrPasswordMismatch,
		ErrPasswordRequired, ErrCredentialsRequired, ErrEmailRequired, ErrAccountExists,
		ErrUnexpected, ErrManagerClosed, ErrRecoveryPhase, ErrOperationSuperseded,
	} {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

func sentinelCode(err error) string {
	switch err {
	case ErrServiceUnavailable:
		return "unavailable"
	case ErrRateLimited:
		return "rate_limited"
	case ErrInvalidCredentials:
		return "invalid_credentials"
	case ErrEmailNotConfirmed:
		return "email_not_confirmed"
	case ErrPasswordReuse:
		return "same_password"
	case ErrPasswordPolicy:
		return "weak_password"
	case ErrAccountExists:
		return "account_exists"
	case ErrRecoveryLinkInvalid:
		return "recovery_link_invalid"
	default:
		return "unexpected"
	}
}

// linkRejected converts a refused recovery link into ErrRecoveryLinkInvalid.
func linkRejected(err error) error {
	if errors.Is(err, recoverylink.ErrLinkRejected) || errors.Is(err, recoverylink.ErrMalformedLocation) {
		return &translatedError{sentinel: ErrRecoveryLinkInvalid, cause: err}
	}
	return err
}

// RetryAfter extracts the remaining lockout from err, zero when unknown.
func RetryAfter(err error) time.Duration {
	var limited *rate.LimitedError
	if errors.As(err, &limited) {
		return limited.Remaining
	}
	return 0
}
