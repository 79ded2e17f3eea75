package authclient

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/MrEthical07/authclient/internal/flows"
	internalmetrics "github.com/MrEthical07/authclient/internal/metrics"
	"github.com/MrEthical07/authclient/internal/recoverylink"
	"github.com/MrEthical07/authclient/password"
)

// RecoveryPhase is the position of a RecoveryFlow.
type RecoveryPhase uint8

const (
	RecoveryLoading RecoveryPhase = iota
	RecoveryInvalidLink
	RecoveryAwaitingPassword
	RecoverySubmitting
	RecoveryComplete
)

func (p RecoveryPhase) String() string {
	switch p {
	case RecoveryLoading:
		return "loading"
	case RecoveryInvalidLink:
		return "invalid_link"
	case RecoveryAwaitingPassword:
		return "awaiting_password"
	case RecoverySubmitting:
		return "submitting"
	case RecoveryComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// RecoveryState is a snapshot of a RecoveryFlow.
type RecoveryState struct {
	Phase RecoveryPhase
	// Email of the account whose password is being replaced.
	Email string
	// Error is the user-facing message of the last failure.
	Error string
	// FieldErrors itemizes password policy violations.
	FieldErrors []string
	// CorrelationID tags the most recent submission.
	CorrelationID string
}

// RecoveryForm is the submitted password form.
type RecoveryForm struct {
	NewPassword     string
	ConfirmPassword string
	// CurrentPassword is optional. When given, the new password must differ.
	CurrentPassword string
}

// RecoveryOutcome tells the host where to route after completion.
type RecoveryOutcome struct {
	Destination string
	SignedOut   bool
}

// NavigationHost is what the hosting UI lends the recovery flow to keep the
// user on the page while the recovery session is live. Its methods must not
// call Load or Close on the flow synchronously.
type NavigationHost interface {
	// SetLeaveConfirmation toggles the "confirm before leaving" prompt.
	SetLeaveConfirmation(enabled bool)
	// OnBackNavigation registers fn for back/forward attempts.
	OnBackNavigation(fn func()) (unregister func())
	// ReassertCurrentEntry re-pushes the current history entry.
	ReassertCurrentEntry()
}

// RecoveryOptions configures a RecoveryFlow.
type RecoveryOptions struct {
	// Host may be nil in hosts without navigation.
	Host NavigationHost
	// OnFinished runs once after completion teardown.
	OnFinished func(RecoveryOutcome)
	// OnChange receives every RecoveryState change.
	OnChange func(RecoveryState)
}

// RecoveryFlow drives one password recovery attempt:
// Loading, then InvalidLink or AwaitingPassword, then Submitting, then
// Complete (or AwaitingPassword again with errors).
type RecoveryFlow struct {
	m        *Manager
	location string
	opts     RecoveryOptions
	history  *password.History

	// guardMu serializes engaging and releasing the navigation guard; it is
	// taken before mu.
	guardMu sync.Mutex
	mu      sync.Mutex
	state   RecoveryState
	userID  string
	timer   stopper
	closed  bool
	loaded  atomic.Bool
	guardOn bool

	unregisterBack func()
	releaseOnce    sync.Once
	teardownOnce   sync.Once
	done           chan struct{}
}

// NewRecoveryFlow prepares a flow for the recovery link at location (the
// full URL the user opened). Nothing happens until Load.
func (m *Manager) NewRecoveryFlow(location string, opts RecoveryOptions) (*RecoveryFlow, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}
	if opts.Host == nil {
		opts.Host = noopHost{}
	}
	history, err := password.NewHistory(m.hasher, m.config.Password.HistorySize)
	if err != nil {
		return nil, err
	}
	return &RecoveryFlow{
		m:        m,
		location: location,
		opts:     opts,
		history:  history,
		state:    RecoveryState{Phase: RecoveryLoading},
		done:     make(chan struct{}),
	}, nil
}

// State returns the current snapshot.
func (f *RecoveryFlow) State() RecoveryState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

// Done is closed once the flow has torn down.
func (f *RecoveryFlow) Done() <-chan struct{} {
	return f.done
}

// Load engages the navigation guard, extracts the link credential and
// establishes the recovery session. An already signed-in user of the same
// account counts as established. Any failure moves to InvalidLink.
func (f *RecoveryFlow) Load(ctx context.Context) error {
	if !f.loaded.CompareAndSwap(false, true) {
		return ErrRecoveryPhase
	}
	if !f.engageGuard() {
		return ErrRecoveryPhase
	}

	if err := f.m.ensureStarted(ctx); err != nil {
		return f.fail(ctx, err)
	}

	bundle, err := recoverylink.ExtractString(f.location, f.m.now)
	if err != nil {
		return f.fail(ctx, linkRejected(err))
	}

	result, err := flows.RunEstablishRecovery(ctx, bundle, f.m.currentIdentity(), f.m.flows.Establish)
	if err != nil {
		return f.fail(ctx, err)
	}

	email := result.Subject.Email
	if s := f.m.State(); s.User != nil {
		if email == "" {
			email = s.User.Email
		}
		f.userID = s.User.ID
	}

	closed := false
	f.transition(func(s *RecoveryState) bool {
		if f.closed {
			closed = true
			return false
		}
		if s.Phase != RecoveryLoading {
			return false
		}
		s.Phase = RecoveryAwaitingPassword
		s.Email = email
		return true
	})
	if closed {
		return ErrRecoveryPhase
	}
	return nil
}

// Assess scores password against the policy for the recovering account.
func (f *RecoveryFlow) Assess(pw string) password.Assessment {
	return f.m.policy.Assess(pw, f.State().Email)
}

// Submit validates form locally and, when valid, replaces the password. It is
// only accepted while awaiting a password on a flow that has not been closed.
// Local failures never contact the backend.
func (f *RecoveryFlow) Submit(ctx context.Context, form RecoveryForm) error {
	f.mu.Lock()
	current := f.snapshotLocked()
	closed := f.closed
	f.mu.Unlock()
	if closed || current.Phase != RecoveryAwaitingPassword {
		return ErrRecoveryPhase
	}

	correlationID := uuid.NewString()
	ctx = WithCorrelationID(ctx, correlationID)

	submitted := false
	err := flows.RunSubmitRecoveryPassword(ctx, flows.SubmitRecoveryInput{
		NewPassword:     form.NewPassword,
		ConfirmPassword: form.ConfirmPassword,
		CurrentPassword: form.CurrentPassword,
		Email:           current.Email,
		UserID:          f.userID,
		CorrelationID:   correlationID,
	}, f.submitDeps(&submitted, correlationID))

	if err == nil {
		f.transition(func(s *RecoveryState) bool {
			s.Phase = RecoveryComplete
			s.Error = ""
			s.FieldErrors = nil
			return true
		})
		f.scheduleTeardown()
		return nil
	}

	if errors.Is(err, ErrRecoveryPhase) {
		return err
	}

	if errors.Is(err, ErrRecoveryLinkInvalid) {
		if f.transition(func(s *RecoveryState) bool {
			if s.Phase != RecoverySubmitting {
				return false
			}
			s.Phase = RecoveryInvalidLink
			s.Error = UserMessage(err)
			s.FieldErrors = nil
			return true
		}) {
			f.releaseGuard()
		}
		return err
	}

	var policyErr *PolicyError
	f.transition(func(s *RecoveryState) bool {
		want := RecoveryAwaitingPassword
		if submitted {
			want = RecoverySubmitting
		}
		if s.Phase != want {
			return false
		}
		s.Phase = RecoveryAwaitingPassword
		s.Error = UserMessage(err)
		s.FieldErrors = nil
		if errors.As(err, &policyErr) {
			s.FieldErrors = append([]string(nil), policyErr.Feedback...)
		}
		return true
	})
	return err
}

func (f *RecoveryFlow) submitDeps(submitted *bool, correlationID string) flows.SubmitRecoveryDeps {
	m := f.m
	return flows.SubmitRecoveryDeps{
		Assess: func(pw, email string) []string {
			a := m.policy.Assess(pw, email)
			if a.IsValid {
				return nil
			}
			return a.Feedback
		},
		PolicyError: func(feedback []string) error {
			return &PolicyError{Feedback: feedback}
		},
		InHistory: f.history.Contains,
		Remember:  f.history.Remember,
		BeginSubmit: func() error {
			if !f.transition(func(s *RecoveryState) bool {
				if f.closed || s.Phase != RecoveryAwaitingPassword {
					return false
				}
				s.Phase = RecoverySubmitting
				s.Error = ""
				s.FieldErrors = nil
				s.CorrelationID = correlationID
				return true
			}) {
				return ErrRecoveryPhase
			}
			*submitted = true
			return nil
		},
		UpdatePassword: m.updatePassword,
		MetricInc:      func(id int) { m.metrics.Inc(internalmetrics.MetricID(id)) },
		EmitAudit:      m.emitAudit,
		Metrics: flows.SubmitRecoveryMetrics{
			PasswordUpdated:        int(MetricPasswordUpdated),
			PasswordPolicyRejected: int(MetricPasswordPolicyRejected),
			PasswordReuseRejected:  int(MetricPasswordReuseRejected),
		},
		Events: flows.SubmitRecoveryEvents{
			PasswordUpdated:  AuditEventPasswordUpdated,
			PasswordRejected: AuditEventPasswordRejected,
		},
		Errors: flows.SubmitRecoveryErrors{
			NotReady:         ErrUnexpected,
			PasswordRequired: ErrPasswordRequired,
			PasswordMismatch: ErrPasswordMismatch,
			PasswordPolicy:   ErrPasswordPolicy,
			PasswordReuse:    ErrPasswordReuse,
		},
	}
}

// Close abandons the flow. A completed flow finishes its teardown now; any
// other flow just releases the navigation guard.
func (f *RecoveryFlow) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	complete := f.state.Phase == RecoveryComplete
	timer := f.timer
	f.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if complete {
		f.teardown()
		return nil
	}
	f.releaseGuard()
	f.teardownOnce.Do(func() { close(f.done) })
	return nil
}

func (f *RecoveryFlow) fail(ctx context.Context, err error) error {
	if !isTranslated(err) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		err = &translatedError{sentinel: ErrRecoveryLinkInvalid, cause: err}
	}
	f.m.logger.InfoContext(ctx, "recovery link not usable", "error", err)
	f.transition(func(s *RecoveryState) bool {
		s.Phase = RecoveryInvalidLink
		s.Error = UserMessage(err)
		return true
	})
	f.releaseGuard()
	return err
}

func (f *RecoveryFlow) scheduleTeardown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.timer = f.m.afterFunc(f.m.config.Recovery.CompletionDelay, f.teardown)
}

// teardown runs once after completion.
func (f *RecoveryFlow) teardown() {
	f.teardownOnce.Do(func() {
		f.releaseGuard()

		outcome := RecoveryOutcome{Destination: f.m.config.Recovery.DashboardPath}
		if f.m.config.Recovery.SignOutAfterReset {
			_ = f.m.SignOut(context.Background())
			outcome = RecoveryOutcome{Destination: f.m.config.Recovery.SignInPath, SignedOut: true}
		}
		if f.opts.OnFinished != nil {
			f.opts.OnFinished(outcome)
		}
		close(f.done)
	})
}

// engageGuard turns the navigation guard on unless the flow is already
// closed. A concurrent Close waits on guardMu and then undoes it.
func (f *RecoveryFlow) engageGuard() bool {
	f.guardMu.Lock()
	defer f.guardMu.Unlock()

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return false
	}
	f.guardOn = true
	f.mu.Unlock()

	host := f.opts.Host
	host.SetLeaveConfirmation(true)
	unregister := host.OnBackNavigation(func() {
		f.mu.Lock()
		on := f.guardOn
		f.mu.Unlock()
		if on {
			host.ReassertCurrentEntry()
		}
	})
	host.ReassertCurrentEntry()

	f.mu.Lock()
	f.unregisterBack = unregister
	f.mu.Unlock()
	return true
}

// releaseGuard undoes engageGuard exactly once.
func (f *RecoveryFlow) releaseGuard() {
	f.releaseOnce.Do(func() {
		f.guardMu.Lock()
		defer f.guardMu.Unlock()

		f.mu.Lock()
		wasOn := f.guardOn
		f.guardOn = false
		unregister := f.unregisterBack
		f.unregisterBack = nil
		f.mu.Unlock()

		if !wasOn {
			return
		}
		f.opts.Host.SetLeaveConfirmation(false)
		if unregister != nil {
			unregister()
		}
	})
}

// transition applies fn to the state and reports whether it changed it.
func (f *RecoveryFlow) transition(fn func(*RecoveryState) bool) bool {
	f.mu.Lock()
	if !fn(&f.state) {
		f.mu.Unlock()
		return false
	}
	snapshot := f.snapshotLocked()
	f.mu.Unlock()

	if f.opts.OnChange != nil {
		f.opts.OnChange(snapshot)
	}
	return true
}

func (f *RecoveryFlow) snapshotLocked() RecoveryState {
	s := f.state
	s.FieldErrors = append([]string(nil), f.state.FieldErrors...)
	if len(s.FieldErrors) == 0 {
		s.FieldErrors = nil
	}
	return s
}

type noopHost struct{}

func (noopHost) SetLeaveConfirmation(bool) {}

func (noopHost) OnBackNavigation(func()) (unregister func()) { return func() {} }

func (noopHost) ReassertCurrentEntry() {}
