package authclient

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	internalaudit "github.com/MrEthical07/authclient/internal/audit"
	"github.com/MrEthical07/authclient/internal/flows"
	internalmetrics "github.com/MrEthical07/authclient/internal/metrics"
	"github.com/MrEthical07/authclient/internal/recoverylink"
	"github.com/MrEthical07/authclient/jwt"
	"github.com/MrEthical07/authclient/password"
	"github.com/MrEthical07/authclient/session"
	"github.com/redis/go-redis/v9"
)

// Manager owns the authentication state of one process (or, in
// server-rendered hosts, of one connection). It is the only writer of State:
// direct operations and backend notifications both go through reduce.
//
// A Manager is safe for concurrent use. At most one state-changing backend
// operation runs at a time; SignOut is the exception and never waits.
type Manager struct {
	config      Config
	backend     Backend
	logger      *slog.Logger
	audit       *internalaudit.Dispatcher
	metrics     *internalmetrics.Metrics
	inspector   *jwt.Inspector
	registry    *recoverylink.Registry
	hasher      *password.Hasher
	policy      password.Policy
	credentials session.Store
	redis       redis.UniversalClient
	now         func() time.Time
	afterFunc   func(time.Duration, func()) stopper

	flows flows.Deps

	mu          sync.RWMutex
	state       State
	epoch       uint64
	opActive    bool
	opEpoch     uint64
	watchers    map[uint64]func(State)
	nextWatcher uint64
	unsubscribe func()

	// notifyMu orders watcher delivery. It is taken before mu is released.
	notifyMu sync.Mutex

	ops       chan struct{}
	started   atomic.Bool
	initDone  chan struct{}
	closed    atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// stopper is the subset of *time.Timer the recovery flow needs.
type stopper interface {
	Stop() bool
}

// SignUpResult reports the outcome of a successful SignUp.
type SignUpResult struct {
	User *User
	// ConfirmationRequired is set when the backend created the account but
	// withheld a session until the email is confirmed.
	ConfirmationRequired bool
}

/*
====================================
LIFECYCLE
====================================
*/

// Start fetches the current backend session and subscribes to session-change
// notifications. Only the first call does anything; later calls return nil
// immediately. Other operations call Start implicitly and wait for it.
func (m *Manager) Start(ctx context.Context) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	if !m.started.CompareAndSwap(false, true) {
		return nil
	}
	return m.runStart(ctx)
}

func (m *Manager) runStart(ctx context.Context) error {
	defer close(m.initDone)

	m.mu.Lock()
	if m.closed.Load() {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.unsubscribe = m.backend.OnSessionChange(m.handleSessionChange)
	epoch := m.epoch
	m.mu.Unlock()

	start := m.now()
	sess, err := m.backend.GetSession(ctx)
	m.observeBackend(start)
	if err != nil {
		translated := translateBackendError(err, opGeneric)
		m.logger.WarnContext(ctx, "initial session fetch failed", "error", err)
		m.applyAt(epoch, initFailed(UserMessage(translated)))
		return translated
	}

	var user *User
	if sess != nil && sess.AccessToken != "" {
		user = &sess.User
	}
	m.applyAt(epoch, sessionLoaded(user))
	return nil
}

// Ready starts the Manager if needed and blocks until the initial session
// fetch has settled. A failed fetch is reflected in State, not returned.
func (m *Manager) Ready(ctx context.Context) error {
	return m.ensureStarted(ctx)
}

// ensureStarted triggers Start when nobody has and waits for it to finish.
func (m *Manager) ensureStarted(ctx context.Context) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	if m.started.CompareAndSwap(false, true) {
		_ = m.runStart(ctx)
	}
	select {
	case <-m.initDone:
		return nil
	case <-m.done:
		return ErrManagerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// acquire waits for Start and for the operation slot.
func (m *Manager) acquire(ctx context.Context) (func(), error) {
	if err := m.ensureStarted(ctx); err != nil {
		return nil, err
	}
	select {
	case m.ops <- struct{}{}:
	case <-m.done:
		return nil, ErrManagerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if m.closed.Load() {
		<-m.ops
		return nil, ErrManagerClosed
	}
	return func() { <-m.ops }, nil
}

// Close unregisters the backend subscription and flushes audit events.
// Operations started afterwards return ErrManagerClosed.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		close(m.done)

		m.mu.Lock()
		unsubscribe := m.unsubscribe
		m.unsubscribe = nil
		m.watchers = map[uint64]func(State){}
		m.mu.Unlock()

		if unsubscribe != nil {
			unsubscribe()
		}
		m.audit.Close()
	})
	return nil
}

/*
====================================
STATE
====================================
*/

// State returns the current snapshot.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Watch registers fn and immediately delivers the current State to it.
// Deliveries are serialized and in transition order. fn must not call
// Manager operations synchronously. The returned function unregisters fn.
func (m *Manager) Watch(fn func(State)) (unwatch func()) {
	m.mu.Lock()
	if m.closed.Load() {
		m.mu.Unlock()
		return func() {}
	}
	id := m.nextWatcher
	m.nextWatcher++
	m.watchers[id] = fn
	current := m.state
	m.notifyMu.Lock()
	m.mu.Unlock()
	fn(current)
	m.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.watchers, id)
			m.mu.Unlock()
		})
	}
}

// ClearError drops the error message. It never touches other fields and is a
// no-op when there is no error.
func (m *Manager) ClearError() {
	m.mu.Lock()
	m.commitLocked(errorCleared())
}

// apply installs reduce(state, a) unconditionally.
func (m *Manager) apply(a action) {
	m.mu.Lock()
	m.commitLocked(a)
}

// applyAt installs reduce(state, a) unless a sign-out happened since epoch
// was read. It reports whether the transition was applied.
func (m *Manager) applyAt(epoch uint64, a action) bool {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		m.logger.Debug("discarding stale transition", "action", a.kind.String())
		return false
	}
	m.commitLocked(a)
	return true
}

// commitLocked must be called with mu held and releases it.
func (m *Manager) commitLocked(a action) {
	prev := m.state
	next := reduce(prev, a)
	if next == prev {
		m.mu.Unlock()
		return
	}
	m.state = next

	watchers := make([]func(State), 0, len(m.watchers))
	for _, fn := range m.watchers {
		watchers = append(watchers, fn)
	}
	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()

	for _, fn := range watchers {
		fn(next)
	}
}

// beginOp marks the loading state and returns the epoch the result must
// match.
func (m *Manager) beginOp() uint64 {
	m.mu.Lock()
	epoch := m.epoch
	m.opActive = true
	m.opEpoch = epoch
	m.commitLocked(opStarted())
	return epoch
}

func (m *Manager) endOp() {
	m.mu.Lock()
	m.opActive = false
	m.mu.Unlock()
}

// trackOp is beginOp without the loading transition, for operations whose
// progress the recovery flow reports instead.
func (m *Manager) trackOp() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opActive = true
	m.opEpoch = m.epoch
	return m.epoch
}

/*
====================================
OPERATIONS
====================================
*/

// SignIn authenticates with email and password. The email is trimmed and
// lower-cased. On failure the translated error is written to State.Error and
// returned.
func (m *Manager) SignIn(ctx context.Context, email, pass string) error {
	email = normalizeEmail(email)
	if email == "" || pass == "" {
		return ErrCredentialsRequired
	}

	release, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	epoch := m.beginOp()
	defer m.endOp()

	start := m.now()
	sess, err := m.backend.SignIn(ctx, email, pass)
	m.observeBackend(start)
	if err == nil && (sess == nil || sess.AccessToken == "") {
		err = &BackendError{Status: 500, Message: "sign-in returned no session"}
	}
	if err != nil {
		translated := translateBackendError(err, opSignIn)
		m.logger.InfoContext(ctx, "sign-in failed", "error", err)
		m.applyAt(epoch, opFailed(UserMessage(translated)))
		m.metrics.Inc(MetricSignInFailure)
		m.emitAudit(ctx, AuditEventSignIn, false, "", translated, nil)
		return translated
	}

	if !m.applyAt(epoch, signedIn(&sess.User)) {
		m.discardStaleSession(ctx)
		return ErrOperationSuperseded
	}
	m.metrics.Inc(MetricSignInSuccess)
	m.emitAudit(ctx, AuditEventSignIn, true, sess.User.ID, nil, nil)
	return nil
}

// AssessPassword scores pw against the configured policy, for live strength
// feedback on sign-up forms.
func (m *Manager) AssessPassword(pw, email string) password.Assessment {
	return m.policy.Assess(pw, email)
}

// SignUp registers an account with the display name stored as metadata.
// The password must satisfy the password policy. When the backend withholds
// the session until the email is confirmed, the state settles unauthenticated
// and ConfirmationRequired is set.
func (m *Manager) SignUp(ctx context.Context, email, pass, fullName string) (SignUpResult, error) {
	email = normalizeEmail(email)
	if email == "" || pass == "" {
		return SignUpResult{}, ErrCredentialsRequired
	}
	if assessment := m.policy.Assess(pass, email); !assessment.IsValid {
		m.metrics.Inc(MetricPasswordPolicyRejected)
		return SignUpResult{}, &PolicyError{Feedback: assessment.Feedback}
	}

	release, err := m.acquire(ctx)
	if err != nil {
		return SignUpResult{}, err
	}
	defer release()

	epoch := m.beginOp()
	defer m.endOp()

	metadata := map[string]string{}
	if name := strings.TrimSpace(fullName); name != "" {
		metadata[MetadataFullName] = name
	}

	start := m.now()
	sess, err := m.backend.SignUp(ctx, email, pass, metadata)
	m.observeBackend(start)
	if err == nil && sess == nil {
		err = &BackendError{Status: 500, Message: "sign-up returned no account"}
	}
	if err != nil {
		translated := translateBackendError(err, opGeneric)
		m.logger.InfoContext(ctx, "sign-up failed", "error", err)
		m.applyAt(epoch, opFailed(UserMessage(translated)))
		m.metrics.Inc(MetricSignUpFailure)
		m.emitAudit(ctx, AuditEventSignUp, false, "", translated, nil)
		return SignUpResult{}, translated
	}

	result := SignUpResult{User: sess.User.Clone(), ConfirmationRequired: sess.AccessToken == ""}
	if result.ConfirmationRequired {
		m.applyAt(epoch, sessionLoaded(nil))
	} else if !m.applyAt(epoch, signedIn(&sess.User)) {
		m.discardStaleSession(ctx)
		return SignUpResult{}, ErrOperationSuperseded
	}

	m.metrics.Inc(MetricSignUpSuccess)
	m.emitAudit(ctx, AuditEventSignUp, true, sess.User.ID, nil, func() map[string]string {
		if result.ConfirmationRequired {
			return map[string]string{"confirmation_required": "true"}
		}
		return nil
	})
	return result, nil
}

// SignOut transitions to signed-out before any network call, then signs out
// remotely and clears stored credentials on a best-effort basis. Cleanup
// failures are logged and counted; they never reach the caller or revert the
// transition. Results of operations still in flight are discarded.
func (m *Manager) SignOut(ctx context.Context) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	// Wait for init so its result cannot land after the sign-out. A caller
	// that gives up waiting still gets signed out.
	_ = m.ensureStarted(ctx)

	m.mu.Lock()
	userID := ""
	if m.state.User != nil {
		userID = m.state.User.ID
	}
	m.epoch++
	m.commitLocked(signedOut())

	m.metrics.Inc(MetricSignOut)
	m.emitAudit(ctx, AuditEventSignOut, true, userID, nil, nil)

	if err := flows.RunSignOutCleanup(context.WithoutCancel(ctx), m.flows.SignOut); err != nil {
		m.logger.WarnContext(ctx, "sign-out cleanup failed", "error", err)
	}
	return nil
}

// discardStaleSession drops a session that arrived after a sign-out.
func (m *Manager) discardStaleSession(ctx context.Context) {
	m.logger.InfoContext(ctx, "discarding session established after sign-out")
	if err := flows.RunSignOutCleanup(context.WithoutCancel(ctx), m.flows.SignOut); err != nil {
		m.logger.WarnContext(ctx, "stale session cleanup failed", "error", err)
	}
}

// ResetPassword asks the backend to email a recovery link. The link target
// is computed from the deployment (see Config.Deployment). State is not
// touched.
func (m *Manager) ResetPassword(ctx context.Context, email string) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	email = normalizeEmail(email)
	if email == "" {
		return ErrEmailRequired
	}

	redirectURL, err := resetRedirectURL(ctx, m.config)
	if err != nil {
		m.logger.ErrorContext(ctx, "reset redirect unavailable", "error", err)
		return &translatedError{sentinel: ErrUnexpected, cause: err}
	}

	start := m.now()
	err = m.backend.SendPasswordResetEmail(ctx, email, redirectURL)
	m.observeBackend(start)
	if err != nil {
		translated := translateBackendError(err, opGeneric)
		m.logger.InfoContext(ctx, "password reset request failed", "error", err)
		m.metrics.Inc(MetricPasswordResetRequestFailure)
		m.emitAudit(ctx, AuditEventResetRequested, false, "", translated, nil)
		return translated
	}

	m.metrics.Inc(MetricPasswordResetRequest)
	m.emitAudit(ctx, AuditEventResetRequested, true, "", nil, func() map[string]string {
		return map[string]string{"redirect": redirectURL}
	})
	return nil
}

// ResendConfirmationEmail re-sends the sign-up confirmation email. State is
// not touched.
func (m *Manager) ResendConfirmationEmail(ctx context.Context, email string) error {
	if m.closed.Load() {
		return ErrManagerClosed
	}
	email = normalizeEmail(email)
	if email == "" {
		return ErrEmailRequired
	}

	start := m.now()
	err := m.backend.ResendConfirmationEmail(ctx, email, ConfirmationSignup)
	m.observeBackend(start)
	if err != nil {
		translated := translateBackendError(err, opGeneric)
		m.logger.InfoContext(ctx, "confirmation resend failed", "error", err)
		m.emitAudit(ctx, AuditEventConfirmationResent, false, "", translated, nil)
		return translated
	}

	m.metrics.Inc(MetricConfirmationResent)
	m.emitAudit(ctx, AuditEventConfirmationResent, true, "", nil, nil)
	return nil
}

/*
====================================
BACKEND NOTIFICATIONS
====================================
*/

// handleSessionChange reconciles a backend notification into State.
func (m *Manager) handleSessionChange(change SessionChange) {
	if m.closed.Load() {
		return
	}
	m.metrics.Inc(MetricSessionEvent)

	var user *User
	if change.Session != nil && change.Session.AccessToken != "" {
		user = &change.Session.User
	}

	m.mu.Lock()
	// A session created by an operation that a sign-out overtook must not
	// resurface through its notification.
	stale := m.opActive && m.opEpoch != m.epoch
	switch change.Event {
	case SessionSignedIn, SessionPasswordRecovery:
		if stale || user == nil {
			m.mu.Unlock()
			return
		}
		m.commitLocked(signedIn(user))
	case SessionSignedOut:
		m.commitLocked(signedOut())
	case SessionTokenRefreshed, SessionUserUpdated:
		if stale {
			m.mu.Unlock()
			return
		}
		m.commitLocked(userUpdated(user))
	default:
		m.mu.Unlock()
		m.logger.Debug("ignoring unknown session event", "event", string(change.Event))
		return
	}

	userID := ""
	if user != nil {
		userID = user.ID
	}
	m.emitAudit(context.Background(), AuditEventSessionChanged, true, userID, nil, func() map[string]string {
		return map[string]string{"event": string(change.Event)}
	})
}

/*
====================================
RECOVERY SUPPORT
====================================
*/

// currentIdentity returns the signed-in account, nil when unauthenticated.
func (m *Manager) currentIdentity() *flows.RecoveryIdentity {
	s := m.State()
	if s.User == nil {
		return nil
	}
	return &flows.RecoveryIdentity{UserID: s.User.ID, Email: s.User.Email}
}

// exchangeRecovery trades a recovery credential for a session and installs it
// through the same transition a sign-in uses. Failures leave State untouched;
// the recovery flow reports them.
func (m *Manager) exchangeRecovery(ctx context.Context, cred recoverylink.Credential) (flows.RecoveryIdentity, error) {
	release, err := m.acquire(ctx)
	if err != nil {
		return flows.RecoveryIdentity{}, err
	}
	defer release()

	epoch := m.trackOp()
	defer m.endOp()
	start := m.now()
	sess, err := m.backend.SetSession(ctx, cred.AccessToken, cred.RefreshToken)
	m.observeBackend(start)
	if err == nil && (sess == nil || sess.AccessToken == "") {
		err = &BackendError{Status: 401, Code: "session_not_found", Message: "recovery exchange returned no session"}
	}
	if err != nil {
		m.logger.InfoContext(ctx, "recovery exchange failed", "error", err)
		return flows.RecoveryIdentity{}, translateBackendError(err, opRecovery)
	}

	if !m.applyAt(epoch, signedIn(&sess.User)) {
		m.discardStaleSession(ctx)
		return flows.RecoveryIdentity{}, ErrOperationSuperseded
	}
	return flows.RecoveryIdentity{UserID: sess.User.ID, Email: sess.User.Email}, nil
}

// updatePassword replaces the password under the current recovery session.
func (m *Manager) updatePassword(ctx context.Context, newPassword string) error {
	release, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	epoch := m.trackOp()
	defer m.endOp()
	start := m.now()
	user, err := m.backend.UpdatePassword(ctx, newPassword)
	m.observeBackend(start)
	if err != nil {
		m.logger.InfoContext(ctx, "password update failed", "error", err)
		return translateBackendError(err, opRecovery)
	}
	if user != nil {
		m.applyAt(epoch, userUpdated(user))
	}
	return nil
}

// inspectRecoveryToken reads the subject of a recovery access token. Tokens
// that are not JWTs pass through for the backend to judge.
func (m *Manager) inspectRecoveryToken(token string) (flows.RecoveryIdentity, error) {
	if m.inspector == nil {
		return flows.RecoveryIdentity{}, nil
	}
	claims, err := m.inspector.Inspect(token)
	switch {
	case errors.Is(err, jwt.ErrUnreadable):
		return flows.RecoveryIdentity{}, nil
	case err != nil:
		return flows.RecoveryIdentity{}, &translatedError{sentinel: ErrRecoveryLinkInvalid, cause: err}
	}
	return flows.RecoveryIdentity{UserID: claims.Subject, Email: claims.Email}, nil
}

func (m *Manager) signOutForRecovery(ctx context.Context) error {
	return m.SignOut(ctx)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
