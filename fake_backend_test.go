package authclient

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeAccount struct {
	password string
	user     User
}

// fakeBackend is an in-memory identity backend. Gates, when set, block the
// matching call until closed.
type fakeBackend struct {
	mu        sync.Mutex
	accounts  map[string]*fakeAccount
	recovery  map[string]string // access token -> email
	current   *BackendSession
	listeners map[int]func(SessionChange)
	nextID    int

	getSessionErr  error
	getSessionGate chan struct{}
	signInGate     chan struct{}
	signOutGate    chan struct{}
	signOutErr     error
	resetErr       error

	confirmOnSignUp bool

	getSessionCalls atomic.Int32
	signInCalls     atomic.Int32
	signOutCalls    atomic.Int32
	setSessionCalls atomic.Int32
	updateCalls     atomic.Int32
	unsubscribes    atomic.Int32

	resetEmails   []string
	resetRedirect []string
	resends       []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		accounts:  map[string]*fakeAccount{},
		recovery:  map[string]string{},
		listeners: map[int]func(SessionChange){},
	}
}

func (b *fakeBackend) addAccount(id, email, pw string, confirmed bool) *User {
	u := User{ID: id, Email: email, Metadata: map[string]string{MetadataFullName: "Test " + id}}
	if confirmed {
		at := time.Unix(1_700_000_000, 0)
		u.EmailConfirmedAt = &at
	}
	b.mu.Lock()
	b.accounts[email] = &fakeAccount{password: pw, user: u}
	b.mu.Unlock()
	return &u
}

func (b *fakeBackend) addRecoveryToken(token, email string) {
	b.mu.Lock()
	b.recovery[token] = email
	b.mu.Unlock()
}

func (b *fakeBackend) passwordOf(email string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accounts[email].password
}

func (b *fakeBackend) setCurrent(email string) {
	b.mu.Lock()
	acct := b.accounts[email]
	b.current = sessionFor(acct)
	b.mu.Unlock()
}

func sessionFor(acct *fakeAccount) *BackendSession {
	u := acct.user
	u.Metadata = maps.Clone(acct.user.Metadata)
	return &BackendSession{AccessToken: "at-" + u.ID, RefreshToken: "rt-" + u.ID, ExpiresAt: time.Now().Add(time.Hour), User: u}
}

func (b *fakeBackend) emit(change SessionChange) {
	b.mu.Lock()
	fns := make([]func(SessionChange), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(change)
	}
}

func (b *fakeBackend) listenerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *fakeBackend) SignIn(ctx context.Context, email, pw string) (*BackendSession, error) {
	b.signInCalls.Add(1)
	if err := wait(ctx, b.signInGate); err != nil {
		return nil, err
	}
	b.mu.Lock()
	acct, ok := b.accounts[email]
	if !ok || acct.password != pw {
		b.mu.Unlock()
		return nil, &BackendError{Status: http.StatusBadRequest, Code: "invalid_credentials", Message: "Invalid login credentials"}
	}
	if acct.user.EmailConfirmedAt == nil {
		b.mu.Unlock()
		return nil, &BackendError{Status: http.StatusBadRequest, Code: "email_not_confirmed", Message: "Email not confirmed"}
	}
	b.current = sessionFor(acct)
	sess := *b.current
	b.mu.Unlock()
	return &sess, nil
}

func (b *fakeBackend) SignUp(_ context.Context, email, pw string, metadata map[string]string) (*BackendSession, error) {
	b.mu.Lock()
	if _, exists := b.accounts[email]; exists {
		b.mu.Unlock()
		return nil, &BackendError{Status: http.StatusUnprocessableEntity, Code: "user_already_exists", Message: "User already registered"}
	}
	acct := &fakeAccount{password: pw, user: User{ID: "u-" + email, Email: email, Metadata: maps.Clone(metadata)}}
	if !b.confirmOnSignUp {
		at := time.Now()
		acct.user.EmailConfirmedAt = &at
	}
	b.accounts[email] = acct
	if b.confirmOnSignUp {
		b.mu.Unlock()
		return &BackendSession{User: acct.user}, nil
	}
	b.current = sessionFor(acct)
	sess := *b.current
	b.mu.Unlock()
	return &sess, nil
}

func (b *fakeBackend) SignOut(ctx context.Context) error {
	b.signOutCalls.Add(1)
	if err := wait(ctx, b.signOutGate); err != nil {
		return err
	}
	if b.signOutErr != nil {
		return b.signOutErr
	}
	b.mu.Lock()
	b.current = nil
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) GetSession(ctx context.Context) (*BackendSession, error) {
	b.getSessionCalls.Add(1)
	if err := wait(ctx, b.getSessionGate); err != nil {
		return nil, err
	}
	if b.getSessionErr != nil {
		return nil, b.getSessionErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return nil, nil
	}
	sess := *b.current
	return &sess, nil
}

func (b *fakeBackend) OnSessionChange(fn func(SessionChange)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = fn
	b.mu.Unlock()
	return func() {
		b.unsubscribes.Add(1)
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

func (b *fakeBackend) SendPasswordResetEmail(_ context.Context, email, redirectURL string) error {
	if b.resetErr != nil {
		return b.resetErr
	}
	b.mu.Lock()
	b.resetEmails = append(b.resetEmails, email)
	b.resetRedirect = append(b.resetRedirect, redirectURL)
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) UpdatePassword(_ context.Context, newPassword string) (*User, error) {
	b.updateCalls.Add(1)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return nil, &BackendError{Status: http.StatusUnauthorized, Code: "session_not_found", Message: "Auth session missing!"}
	}
	acct := b.accounts[b.current.User.Email]
	if acct.password == newPassword {
		return nil, &BackendError{Status: http.StatusUnprocessableEntity, Code: "same_password", Message: "New password should be different from the old password."}
	}
	acct.password = newPassword
	u := acct.user
	return &u, nil
}

func (b *fakeBackend) ResendConfirmationEmail(_ context.Context, email, kind string) error {
	b.mu.Lock()
	b.resends = append(b.resends, kind+":"+email)
	b.mu.Unlock()
	return nil
}

func (b *fakeBackend) SetSession(_ context.Context, accessToken, _ string) (*BackendSession, error) {
	b.setSessionCalls.Add(1)
	b.mu.Lock()
	email, ok := b.recovery[accessToken]
	if !ok {
		b.mu.Unlock()
		return nil, &BackendError{Status: http.StatusForbidden, Code: "otp_expired", Message: "Email link is invalid or has expired"}
	}
	delete(b.recovery, accessToken)
	b.current = sessionFor(b.accounts[email])
	sess := *b.current
	b.mu.Unlock()
	return &sess, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Deployment.CanonicalOrigin = "https://app.parscade.test"
	cfg.Password.HashMemory = 8 * 1024
	cfg.Password.HashTime = 1
	cfg.Recovery.CompletionDelay = 10 * time.Millisecond
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestManager(t *testing.T, be *fakeBackend, mutate func(*Config)) *Manager {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := New().WithConfig(cfg).WithBackend(be).WithLogger(quietLogger()).Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}
