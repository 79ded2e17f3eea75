package gotrue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	authclient "github.com/MrEthical07/authclient"
	"github.com/MrEthical07/authclient/session"
)

const testAPIKey = "anon-key"

// fakeService is a minimal GoTrue look-alike.
type fakeService struct {
	t *testing.T

	mu        sync.Mutex
	passwords map[string]string
	access    map[string]string // access token -> email
	refresh   map[string]string // refresh token -> email
	seq       int
	logouts   int
	lastQuery map[string]string
	resends   []string
	feed      chan feedMessage
}

func newFakeService(t *testing.T) (*fakeService, *httptest.Server) {
	s := &fakeService{
		t:         t,
		passwords: map[string]string{"alice@co.com": "Str0ng!Passw0rd99"},
		access:    map[string]string{},
		refresh:   map[string]string{},
		lastQuery: map[string]string{},
		feed:      make(chan feedMessage, 4),
	}
	srv := httptest.NewServer(s.routes())
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *fakeService) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/v1/token", s.token)
	mux.HandleFunc("POST /auth/v1/signup", s.signup)
	mux.HandleFunc("POST /auth/v1/logout", s.logout)
	mux.HandleFunc("GET /auth/v1/user", s.user)
	mux.HandleFunc("PUT /auth/v1/user", s.updateUser)
	mux.HandleFunc("POST /auth/v1/recover", s.recover)
	mux.HandleFunc("POST /auth/v1/resend", s.resend)
	mux.HandleFunc("GET /realtime", s.realtime)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") != testAPIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "No API key found in request"})
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *fakeService) issue(email string, expiresIn int) map[string]any {
	s.seq++
	access := fmt.Sprintf("access-%d-%s", s.seq, email)
	refresh := "refresh-" + access
	s.access[access] = email
	s.refresh[refresh] = email
	return map[string]any{
		"access_token":  access,
		"token_type":    "bearer",
		"expires_in":    expiresIn,
		"refresh_token": refresh,
		"user":          s.userJSON(email),
	}
}

func (s *fakeService) userJSON(email string) map[string]any {
	return map[string]any{
		"id":                 "id-" + email,
		"email":              email,
		"email_confirmed_at": "2026-01-02T03:04:05Z",
		"user_metadata":      map[string]any{"full_name": "Alice Example", "avatar_version": 3},
	}
}

func (s *fakeService) token(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.URL.Query().Get("grant_type") {
	case "password":
		if pw, ok := s.passwords[body["email"]]; !ok || pw != body["password"] {
			writeJSON(w, http.StatusBadRequest, map[string]any{"code": 400, "error_code": "invalid_credentials", "msg": "Invalid login credentials"})
			return
		}
		writeJSON(w, http.StatusOK, s.issue(body["email"], 3600))
	case "refresh_token":
		email, ok := s.refresh[body["refresh_token"]]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Invalid Refresh Token: Refresh Token Not Found"})
			return
		}
		delete(s.refresh, body["refresh_token"])
		writeJSON(w, http.StatusOK, s.issue(email, 3600))
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"msg": "unsupported grant_type"})
	}
}

func (s *fakeService) signup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string            `json:"email"`
		Password string            `json:"password"`
		Data     map[string]string `json:"data"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.passwords[body.Email]; exists {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"code": 422, "error_code": "user_already_exists", "msg": "User already registered"})
		return
	}
	s.passwords[body.Email] = body.Password
	// Pending confirmation: a bare user object.
	writeJSON(w, http.StatusOK, map[string]any{
		"id":            "id-" + body.Email,
		"email":         body.Email,
		"user_metadata": body.Data,
	})
}

func (s *fakeService) bearer(r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.access[token]
	return email, ok
}

func (s *fakeService) logout(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logouts++
	delete(s.access, token)
	w.WriteHeader(http.StatusNoContent)
}

func (s *fakeService) user(w http.ResponseWriter, r *http.Request) {
	email, ok := s.bearer(r)
	if !ok {
		writeJSON(w, http.StatusForbidden, map[string]any{"code": 403, "error_code": "bad_jwt", "msg": "invalid JWT"})
		return
	}
	writeJSON(w, http.StatusOK, s.userJSON(email))
}

func (s *fakeService) updateUser(w http.ResponseWriter, r *http.Request) {
	email, ok := s.bearer(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 401, "error_code": "session_not_found", "msg": "Auth session missing!"})
		return
	}
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.passwords[email] == body["password"] {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"code": 422, "error_code": "same_password", "msg": "New password should be different from the old password."})
		return
	}
	s.passwords[email] = body["password"]
	writeJSON(w, http.StatusOK, s.userJSON(email))
}

func (s *fakeService) recover(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	s.lastQuery["redirect_to"] = r.URL.Query().Get("redirect_to")
	s.lastQuery["email"] = body["email"]
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *fakeService) resend(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body["email"] == "flood@co.com" {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"code": 429, "error_code": "over_email_send_rate_limit", "msg": "email rate limit exceeded"})
		return
	}
	s.mu.Lock()
	s.resends = append(s.resends, body["type"]+":"+body["email"])
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{})
}

func (s *fakeService) realtime(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	go func() {
		// Drain control frames so close handshakes complete.
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
	for msg := range s.feed {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func newTestClient(t *testing.T, srv *httptest.Server, mutate func(*Config)) (*Client, *session.MemoryStore) {
	t.Helper()
	store := session.NewMemoryStore()
	cfg := Config{URL: srv.URL + "/auth/v1/", APIKey: testAPIKey, Store: store, HTTPClient: srv.Client()}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c, store
}

type recorder struct {
	mu     sync.Mutex
	events []authclient.SessionEvent
}

func (r *recorder) record(change authclient.SessionChange) {
	r.mu.Lock()
	r.events = append(r.events, change.Event)
	r.mu.Unlock()
}

func (r *recorder) list() []authclient.SessionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]authclient.SessionEvent(nil), r.events...)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{URL: "not a url", APIKey: "k"})
	require.Error(t, err)
	_, err = New(Config{URL: "https://auth.example.com"})
	require.Error(t, err)
}

func TestSignInPersistsAndEmits(t *testing.T) {
	_, srv := newFakeService(t)
	c, store := newTestClient(t, srv, nil)
	rec := &recorder{}
	defer c.OnSessionChange(rec.record)()
	ctx := context.Background()

	sess, err := c.SignIn(ctx, "alice@co.com", "Str0ng!Passw0rd99")
	require.NoError(t, err)
	assert.Equal(t, "id-alice@co.com", sess.User.ID)
	assert.Equal(t, "Alice Example", sess.User.FullName())
	assert.NotNil(t, sess.User.EmailConfirmedAt)
	assert.WithinDuration(t, time.Now().Add(time.Hour), sess.ExpiresAt, time.Minute)

	tokens, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sess.AccessToken, tokens.AccessToken)
	assert.Equal(t, "bearer", tokens.TokenType)
	assert.Equal(t, []authclient.SessionEvent{authclient.SessionSignedIn}, rec.list())

	got, err := c.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sess.AccessToken, got.AccessToken)
}

func TestSignInInvalidCredentials(t *testing.T) {
	_, srv := newFakeService(t)
	c, store := newTestClient(t, srv, nil)

	_, err := c.SignIn(context.Background(), "alice@co.com", "nope")
	var be *authclient.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusBadRequest, be.Status)
	assert.Equal(t, "invalid_credentials", be.Code)
	assert.Equal(t, "Invalid login credentials", be.Message)

	_, err = store.Load(context.Background())
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestGetSessionRefreshesExpiredToken(t *testing.T) {
	_, srv := newFakeService(t)
	now := time.Now()
	c, store := newTestClient(t, srv, func(cfg *Config) {
		cfg.Now = func() time.Time { return now }
	})
	ctx := context.Background()

	first, err := c.SignIn(ctx, "alice@co.com", "Str0ng!Passw0rd99")
	require.NoError(t, err)

	rec := &recorder{}
	defer c.OnSessionChange(rec.record)()
	now = now.Add(2 * time.Hour)

	sess, err := c.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.NotEqual(t, first.AccessToken, sess.AccessToken)
	assert.Equal(t, []authclient.SessionEvent{authclient.SessionTokenRefreshed}, rec.list())

	tokens, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sess.RefreshToken, tokens.RefreshToken)
}

func TestGetSessionDropsRejectedSession(t *testing.T) {
	_, srv := newFakeService(t)
	c, store := newTestClient(t, srv, nil)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &session.Tokens{AccessToken: "revoked", RefreshToken: "gone", UserID: "u"}))

	sess, err := c.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, sess)
	_, err = store.Load(ctx)
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestGetSessionTransportFailureIsReturned(t *testing.T) {
	_, srv := newFakeService(t)
	c, store := newTestClient(t, srv, nil)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, &session.Tokens{AccessToken: "a", RefreshToken: "r", UserID: "u"}))
	srv.Close()

	_, err := c.GetSession(ctx)
	require.Error(t, err)
	var be *authclient.BackendError
	assert.False(t, errors.As(err, &be))
	_, err = store.Load(ctx)
	require.NoError(t, err, "a network failure keeps the stored session")
}

func TestSignOutClearsEvenWhenRemoteFails(t *testing.T) {
	svc, srv := newFakeService(t)
	c, store := newTestClient(t, srv, nil)
	ctx := context.Background()
	_, err := c.SignIn(ctx, "alice@co.com", "Str0ng!Passw0rd99")
	require.NoError(t, err)

	rec := &recorder{}
	defer c.OnSessionChange(rec.record)()
	require.NoError(t, c.SignOut(ctx))
	svc.mu.Lock()
	assert.Equal(t, 1, svc.logouts)
	svc.mu.Unlock()
	assert.Equal(t, []authclient.SessionEvent{authclient.SessionSignedOut}, rec.list())

	// Signed out already: nothing to do.
	require.NoError(t, c.SignOut(ctx))

	require.NoError(t, store.Save(ctx, &session.Tokens{AccessToken: "a", UserID: "u"}))
	srv.Close()
	require.Error(t, c.SignOut(ctx))
	_, err = store.Load(ctx)
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestSignUpPendingConfirmation(t *testing.T) {
	_, srv := newFakeService(t)
	c, store := newTestClient(t, srv, nil)
	ctx := context.Background()

	sess, err := c.SignUp(ctx, "bob@co.com", "Another!Passw0rd", map[string]string{authclient.MetadataFullName: "Bob"})
	require.NoError(t, err)
	assert.Empty(t, sess.AccessToken)
	assert.Equal(t, "bob@co.com", sess.User.Email)
	assert.Equal(t, "Bob", sess.User.FullName())
	assert.Nil(t, sess.User.EmailConfirmedAt)
	_, err = store.Load(ctx)
	require.ErrorIs(t, err, session.ErrNotFound)

	_, err = c.SignUp(ctx, "bob@co.com", "Another!Passw0rd", nil)
	var be *authclient.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "user_already_exists", be.Code)
}

func TestRecoveryExchangeAndPasswordUpdate(t *testing.T) {
	svc, srv := newFakeService(t)
	c, _ := newTestClient(t, srv, nil)
	ctx := context.Background()

	svc.mu.Lock()
	link := svc.issue("alice@co.com", 3600)
	svc.mu.Unlock()

	_, err := c.SetSession(ctx, "forged", "")
	var be *authclient.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "bad_jwt", be.Code)

	rec := &recorder{}
	defer c.OnSessionChange(rec.record)()
	sess, err := c.SetSession(ctx, link["access_token"].(string), link["refresh_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "id-alice@co.com", sess.User.ID)

	_, err = c.UpdatePassword(ctx, "Str0ng!Passw0rd99")
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "same_password", be.Code)

	user, err := c.UpdatePassword(ctx, "Fresh!Lantern42x")
	require.NoError(t, err)
	assert.Equal(t, "alice@co.com", user.Email)
	assert.Equal(t, []authclient.SessionEvent{authclient.SessionSignedIn, authclient.SessionUserUpdated}, rec.list())
}

func TestUpdatePasswordWithoutSession(t *testing.T) {
	_, srv := newFakeService(t)
	c, _ := newTestClient(t, srv, nil)

	_, err := c.UpdatePassword(context.Background(), "Fresh!Lantern42x")
	var be *authclient.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusUnauthorized, be.Status)
}

func TestRecoverAndResend(t *testing.T) {
	svc, srv := newFakeService(t)
	c, _ := newTestClient(t, srv, nil)
	ctx := context.Background()

	require.NoError(t, c.SendPasswordResetEmail(ctx, "alice@co.com", "https://app.parscade.test/reset-password"))
	require.NoError(t, c.ResendConfirmationEmail(ctx, "bob@co.com", authclient.ConfirmationSignup))

	err := c.ResendConfirmationEmail(ctx, "flood@co.com", authclient.ConfirmationSignup)
	var be *authclient.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusTooManyRequests, be.Status)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, "https://app.parscade.test/reset-password", svc.lastQuery["redirect_to"])
	assert.Equal(t, "alice@co.com", svc.lastQuery["email"])
	assert.Equal(t, []string{"signup:bob@co.com"}, svc.resends)
}

func TestMissingAPIKeyRejected(t *testing.T) {
	_, srv := newFakeService(t)
	c, _ := newTestClient(t, srv, func(cfg *Config) { cfg.APIKey = "wrong" })

	err := c.SendPasswordResetEmail(context.Background(), "alice@co.com", "")
	var be *authclient.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "No API key found in request", be.Message)
}

func TestDecodeErrorShapes(t *testing.T) {
	be := decodeError(400, []byte(`{"error":"invalid_grant","error_description":"Invalid Refresh Token"}`))
	assert.Equal(t, "invalid_grant", be.Code)
	assert.Equal(t, "Invalid Refresh Token", be.Message)

	be = decodeError(422, []byte(`{"code":"weak_password","message":"Password is too weak"}`))
	assert.Equal(t, "weak_password", be.Code)
	assert.Equal(t, "Password is too weak", be.Message)

	be = decodeError(502, []byte(`<html>bad gateway</html>`))
	assert.Empty(t, be.Code)
	assert.Equal(t, "Bad Gateway", be.Message)
}

func TestRunFeedWithoutURL(t *testing.T) {
	_, srv := newFakeService(t)
	c, _ := newTestClient(t, srv, nil)
	require.ErrorIs(t, c.RunFeed(context.Background()), ErrNoFeed)
}

func TestRunFeedRemoteSignOut(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	svc, srv := newFakeService(t)
	feedURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/realtime"
	c, store := newTestClient(t, srv, func(cfg *Config) { cfg.FeedURL = feedURL })
	ctx, cancel := context.WithCancel(context.Background())

	_, err := c.SignIn(ctx, "alice@co.com", "Str0ng!Passw0rd99")
	require.NoError(t, err)

	signedOut := make(chan struct{})
	var once sync.Once
	defer c.OnSessionChange(func(change authclient.SessionChange) {
		if change.Event == authclient.SessionSignedOut {
			once.Do(func() { close(signedOut) })
		}
	})()

	done := make(chan error, 1)
	go func() { done <- c.RunFeed(ctx) }()

	svc.feed <- feedMessage{Event: authclient.SessionSignedOut, UserID: "someone-else"}
	svc.feed <- feedMessage{Event: authclient.SessionSignedOut, UserID: "id-alice@co.com"}

	select {
	case <-signedOut:
	case <-time.After(5 * time.Second):
		t.Fatal("remote sign-out not delivered")
	}
	_, err = store.Load(ctx)
	require.ErrorIs(t, err, session.ErrNotFound)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("RunFeed did not stop")
	}
	close(svc.feed)
	srv.Close()
	srv.Client().CloseIdleConnections()
}
