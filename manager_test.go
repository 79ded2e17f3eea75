package authclient

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	aliceEmail = "alice@co.com"
	alicePass  = "Str0ng!Passw0rd99"
)

func TestStartRunsOnceUnderConcurrency(t *testing.T) {
	be := newFakeBackend()
	be.getSessionGate = make(chan struct{})
	m := newTestManager(t, be, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Start(context.Background())
		}()
	}
	require.Eventually(t, func() bool { return be.getSessionCalls.Load() == 1 }, time.Second, time.Millisecond)
	close(be.getSessionGate)
	wg.Wait()

	require.NoError(t, m.Start(context.Background()))
	assert.EqualValues(t, 1, be.getSessionCalls.Load())
	assert.Equal(t, 1, be.listenerCount())

	s := m.State()
	assert.False(t, s.IsLoading)
	assert.False(t, s.IsAuthenticated)
	assert.Nil(t, s.User)
}

func TestInitialStateIsLoading(t *testing.T) {
	m := newTestManager(t, newFakeBackend(), nil)
	assert.Equal(t, State{IsLoading: true}, m.State())
}

func TestStartWithExistingSession(t *testing.T) {
	be := newFakeBackend()
	be.addAccount("u-1", aliceEmail, alicePass, true)
	be.setCurrent(aliceEmail)
	m := newTestManager(t, be, nil)

	require.NoError(t, m.Start(context.Background()))
	s := m.State()
	require.NotNil(t, s.User)
	assert.True(t, s.IsAuthenticated)
	assert.True(t, s.IsEmailConfirmed)
	assert.Equal(t, "u-1", s.User.ID)
}

func TestStartFailureSetsTranslatedError(t *testing.T) {
	be := newFakeBackend()
	be.getSessionErr = &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	m := newTestManager(t, be, nil)

	err := m.Start(context.Background())
	require.ErrorIs(t, err, ErrServiceUnavailable)
	s := m.State()
	assert.False(t, s.IsAuthenticated)
	assert.False(t, s.IsLoading)
	assert.Equal(t, MessageServiceUnavailable, s.Error)
}

func TestOperationsStartImplicitly(t *testing.T) {
	be := newFakeBackend()
	be.addAccount("u-1", aliceEmail, alicePass, true)
	m := newTestManager(t, be, nil)

	require.NoError(t, m.SignIn(context.Background(), "  Alice@CO.com ", alicePass))
	assert.EqualValues(t, 1, be.getSessionCalls.Load())
	assert.True(t, m.State().IsAuthenticated)
	assert.EqualValues(t, 1, m.MetricsSnapshot().Counters[MetricSignInSuccess])
}

func TestSignInFailureIsTranslatedAndReturned(t *testing.T) {
	be := newFakeBackend()
	be.addAccount("u-1", aliceEmail, alicePass, true)
	m := newTestManager(t, be, nil)

	err := m.SignIn(context.Background(), aliceEmail, "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	s := m.State()
	assert.False(t, s.IsAuthenticated)
	assert.False(t, s.IsLoading)
	assert.Equal(t, MessageInvalidCredentials, s.Error)

	// Unknown accounts look the same.
	err = m.SignIn(context.Background(), "nobody@co.com", "whatever")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, MessageInvalidCredentials, m.State().Error)
}

func TestSignInUnconfirmedEmail(t *testing.T) {
	be := newFakeBackend()
	be.addAccount("u-1", aliceEmail, alicePass, false)
	m := newTestManager(t, be, nil)

	err := m.SignIn(context.Background(), aliceEmail, alicePass)
	require.ErrorIs(t, err, ErrEmailNotConfirmed)
	assert.Equal(t, MessageEmailNotConfirmed, m.State().Error)
}

func TestSignInRequiresInput(t *testing.T) {
	be := newFakeBackend()
	m := newTestManager(t, be, nil)

	require.ErrorIs(t, m.SignIn(context.Background(), "  ", "x"), ErrCredentialsRequired)
	assert.Zero(t, be.signInCalls.Load())
}

func TestNewAttemptClearsError(t *testing.T) {
	be := newFakeBackend()
	be.addAccount("u-1", aliceEmail, alicePass, true)
	be.signInGate = make(chan struct{})
	m := newTestManager(t, be, nil)
	require.NoError(t, m.Start(context.Background()))

	// Seed an error through a failed sign-in that is released right away.
	close(be.signInGate)
	require.Error(t, m.SignIn(context.Background(), aliceEmail, "bad"))
	require.NotEmpty(t, m.State().Error)

	be.signInGate = make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- m.SignIn(context.Background(), aliceEmail, alicePass) }()

	require.Eventually(t, func() bool { return m.State().IsLoading }, time.Second, time.Millisecond)
	assert.Empty(t, m.State().Error)
	close(be.signInGate)
	require.NoError(t, <-done)
}

func TestSignUpStoresFullName(t *testing.T) {
	be := newFakeBackend()
	m := newTestManager(t, be, nil)

	res, err := m.SignUp(context.Background(), "Bob@Co.com", alicePass, " Bob Builder ")
	require.NoError(t, err)
	assert.False(t, res.ConfirmationRequired)

	s := m.State()
	require.True(t, s.IsAuthenticated)
	assert.Equal(t, "bob@co.com", s.User.Email)
	assert.Equal(t, "Bob Builder", s.User.FullName())
}

func TestSignUpAwaitingConfirmation(t *testing.T) {
	be := newFakeBackend()
	be.confirmOnSignUp = true
	m := newTestManager(t, be, nil)

	res, err := m.SignUp(context.Background(), "bob@co.com", alicePass, "Bob")
	require.NoError(t, err)
	assert.True(t, res.ConfirmationRequired)
	assert.False(t, m.State().IsAuthenticated)
	assert.Empty(t, m.State().Error)
}

func TestSignUpRejectsWeakPasswordLocally(t *testing.T) {
	be := newFakeBackend()
	m := newTestManager(t, be, nil)

	_, err := m.SignUp(context.Background(), "bob@co.com", "password123", "Bob")
	var policyErr *PolicyError
	require.ErrorAs(t, err, &policyErr)
	assert.NotEmpty(t, policyErr.Feedback)
	be.mu.Lock()
	assert.Empty(t, be.accounts)
	be.mu.Unlock()
}

func TestSignUpExistingAccount(t *testing.T) {
	be := newFakeBackend()
	be.addAccount("u-1", aliceEmail, alicePass, true)
	m := newTestManager(t, be, nil)

	_, err := m.SignUp(context.Background(), aliceEmail, alicePass, "Alice")
	require.ErrorIs(t, err, ErrAccountExists)
	assert.Equal(t, MessageAccountExists, m.State().Error)
}

func TestSignOutIsOptimistic(t *testing.T) {
	be := newFakeBackend()
	be.addAccount("u-1", aliceEmail, alicePass, true)
	be.setCurrent(aliceEmail)
	m := newTestManager(t, be, nil)
	require.NoError(t, m.Start(context.Background()))
	require.True(t, m.State().IsAuthenticated)

	be.signOutGate = make(chan struct{})
	be.signOutErr = &net.OpError{Op: "dial", Err: errors.New("unreachable")}
	done := make(chan error, 1)
	go func() { done <- m.SignOut(context.Background()) }()

	require.Eventually(t, func() bool { return be.signOutCalls.Load() == 1 }, time.Second, time.Millisecond)
	// The network call is still blocked, yet the user is already signed out.
	assert.False(t, m.State().IsAuthenticated)

	close(be.signOutGate)
	require.NoError(t, <-done)
	s := m.State()
	assert.False(t, s.IsAuthenticated)
	assert.Empty(t, s.Error)
	assert.EqualValues(t, 1, m.MetricsSnapshot().Counters[MetricSignOutCleanupFailure])
}

func TestSignOutDiscardsInFlightSignIn(t *testing.T) {
	be := newFakeBackend()
	be.addAccount("u-1", aliceEmail, alicePass, true)
	m := newTestManager(t, be, nil)
	require.NoError(t, m.Start(context.Background()))

	be.signInGate = make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- m.SignIn(context.Background(), aliceEmail, alicePass) }()
	require.Eventually(t, func() bool { return m.State().IsLoading }, time.Second, time.Millisecond)

	require.NoError(t, m.SignOut(context.Background()))
	close(be.signInGate)

	require.ErrorIs(t, <-done, ErrOperationSuperseded)
	assert.False(t, m.State().IsAuthenticated)
	// The stale backend session was dropped again.
	assert.EqualValues(t, 2, be.signOutCalls.Load())
}

func TestSessionChangeNotifications(t *testing.T) {
	be := newFakeBackend()
	user := be.addAccount("u-1", aliceEmail, alicePass, false)
	m := newTestManager(t, be, nil)
	require.NoError(t, m.Start(context.Background()))

	// Refreshes cannot authenticate anyone.
	be.emit(SessionChange{Event: SessionTokenRefreshed, Session: &BackendSession{AccessToken: "a", User: *user}})
	assert.False(t, m.State().IsAuthenticated)

	be.emit(SessionChange{Event: SessionSignedIn, Session: &BackendSession{AccessToken: "a", User: *user}})
	require.True(t, m.State().IsAuthenticated)
	assert.False(t, m.State().IsEmailConfirmed)

	confirmed := *user
	at := time.Now()
	confirmed.EmailConfirmedAt = &at
	be.emit(SessionChange{Event: SessionUserUpdated, Session: &BackendSession{AccessToken: "a", User: confirmed}})
	assert.True(t, m.State().IsEmailConfirmed)

	be.emit(SessionChange{Event: SessionSignedOut})
	assert.False(t, m.State().IsAuthenticated)
	assert.Nil(t, m.State().User)
	assert.EqualValues(t, 4, m.MetricsSnapshot().Counters[MetricSessionEvent])
}

func TestCloseUnsubscribesOnce(t *testing.T) {
	be := newFakeBackend()
	m := newTestManager(t, be, nil)
	require.NoError(t, m.Start(context.Background()))

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.EqualValues(t, 1, be.unsubscribes.Load())
	assert.Zero(t, be.listenerCount())

	require.ErrorIs(t, m.SignIn(context.Background(), aliceEmail, alicePass), ErrManagerClosed)
	require.ErrorIs(t, m.Start(context.Background()), ErrManagerClosed)
}

func TestCloseBeforeStartNeverSubscribes(t *testing.T) {
	be := newFakeBackend()
	m := newTestManager(t, be, nil)
	require.NoError(t, m.Close())
	assert.Zero(t, be.listenerCount())
	assert.Zero(t, be.unsubscribes.Load())
}

func TestClearErrorIsNoOpWithoutError(t *testing.T) {
	be := newFakeBackend()
	m := newTestManager(t, be, nil)
	require.NoError(t, m.Start(context.Background()))

	var deliveries int
	unwatch := m.Watch(func(State) { deliveries++ })
	defer unwatch()

	before := m.State()
	m.ClearError()
	assert.Equal(t, before, m.State())
	assert.Equal(t, 1, deliveries, "only the initial delivery")

	require.Error(t, m.SignIn(context.Background(), aliceEmail, "bad"))
	m.ClearError()
	assert.Empty(t, m.State().Error)
}

func TestWatchSeesInvariantOnEveryTransition(t *testing.T) {
	be := newFakeBackend()
	be.addAccount("u-1", aliceEmail, alicePass, true)
	m := newTestManager(t, be, nil)

	var mu sync.Mutex
	var seen []State
	unwatch := m.Watch(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})
	defer unwatch()

	ctx := context.Background()
	require.NoError(t, m.SignIn(ctx, aliceEmail, alicePass))
	require.NoError(t, m.SignOut(ctx))
	require.Error(t, m.SignIn(ctx, aliceEmail, "bad"))
	m.ClearError()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	for _, s := range seen {
		assert.Equal(t, s.User != nil, s.IsAuthenticated)
	}
	assert.Equal(t, State{}, seen[len(seen)-1])
}

func TestResetPasswordRedirect(t *testing.T) {
	be := newFakeBackend()
	m := newTestManager(t, be, nil)

	require.NoError(t, m.ResetPassword(context.Background(), " Alice@co.com"))
	require.NoError(t, m.ResetPassword(WithCurrentOrigin(context.Background(), "http://127.0.0.1:9999"), aliceEmail))

	be.mu.Lock()
	assert.Equal(t, []string{aliceEmail, aliceEmail}, be.resetEmails)
	assert.Equal(t, []string{
		"https://app.parscade.test/reset-password",
		"https://app.parscade.test/reset-password",
	}, be.resetRedirect, "production never trusts the request origin")
	be.mu.Unlock()
	assert.Equal(t, State{IsLoading: true}, m.State(), "reset does not touch state")

	devBackend := newFakeBackend()
	dev := newTestManager(t, devBackend, func(cfg *Config) {
		cfg.Deployment.Environment = EnvironmentDevelopment
	})
	require.NoError(t, dev.ResetPassword(WithCurrentOrigin(context.Background(), "http://localhost:5173"), aliceEmail))

	devBackend.mu.Lock()
	defer devBackend.mu.Unlock()
	assert.Equal(t, []string{"http://localhost:5173/reset-password"}, devBackend.resetRedirect)
}

func TestResetPasswordFailure(t *testing.T) {
	be := newFakeBackend()
	be.resetErr = &BackendError{Status: 429, Code: "over_email_send_rate_limit", Message: "email rate limit exceeded"}
	m := newTestManager(t, be, nil)

	err := m.ResetPassword(context.Background(), aliceEmail)
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, MessageRateLimited, UserMessage(err))
	require.ErrorIs(t, m.ResetPassword(context.Background(), ""), ErrEmailRequired)
}

func TestResendConfirmationEmail(t *testing.T) {
	be := newFakeBackend()
	m := newTestManager(t, be, nil)

	require.NoError(t, m.ResendConfirmationEmail(context.Background(), "Bob@co.com"))
	be.mu.Lock()
	assert.Equal(t, []string{"signup:bob@co.com"}, be.resends)
	be.mu.Unlock()
}

func TestBuildRequiresBackend(t *testing.T) {
	_, err := New().Build()
	require.ErrorIs(t, err, ErrBackendRequired)

	b := New().WithBackend(newFakeBackend()).WithLogger(quietLogger())
	_, err = b.Build()
	require.NoError(t, err)
	_, err = b.Build()
	require.Error(t, err)
}
