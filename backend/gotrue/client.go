package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"

	authclient "github.com/MrEthical07/authclient"
	"github.com/MrEthical07/authclient/session"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultRefreshSkew = 30 * time.Second
	maxErrorBody       = 64 << 10
)

// Config configures a Client.
type Config struct {
	// URL is the auth service base, e.g. https://project.example.co/auth/v1.
	URL    string
	APIKey string
	// Store persists tokens between runs. Defaults to a MemoryStore.
	Store session.Store

	HTTPClient  *http.Client
	Timeout     time.Duration
	RefreshSkew time.Duration

	// FeedURL is the websocket endpoint pushing session events. Optional.
	FeedURL string

	Logger *slog.Logger
	Now    func() time.Time
}

// Client speaks the GoTrue REST API and implements authclient.Backend.
type Client struct {
	base    *url.URL
	apiKey  string
	http    *http.Client
	store   session.Store
	skew    time.Duration
	feedURL string
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	listeners map[uint64]func(authclient.SessionChange)
	nextID    uint64
}

var _ authclient.Backend = (*Client)(nil)

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.URL), "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, oops.Code("gotrue_config").With("url", cfg.URL).Errorf("gotrue url must be an absolute http(s) url")
	}
	if cfg.APIKey == "" {
		return nil, oops.Code("gotrue_config").Errorf("gotrue api key is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	store := cfg.Store
	if store == nil {
		store = session.NewMemoryStore()
	}
	skew := cfg.RefreshSkew
	if skew <= 0 {
		skew = defaultRefreshSkew
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		base:      base,
		apiKey:    cfg.APIKey,
		http:      httpClient,
		store:     store,
		skew:      skew,
		feedURL:   cfg.FeedURL,
		logger:    logger.With("component", "gotrue"),
		now:       now,
		listeners: map[uint64]func(authclient.SessionChange){},
	}, nil
}

// Store returns the token store, so it can be shared with the Manager.
func (c *Client) Store() session.Store {
	return c.store
}

/*
====================================
BACKEND
====================================
*/

// SignIn implements authclient.Backend.
func (c *Client) SignIn(ctx context.Context, email, password string) (*authclient.BackendSession, error) {
	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"password"}}, "",
		map[string]string{"email": email, "password": password}, &resp)
	if err != nil {
		return nil, err
	}
	sess, err := c.install(ctx, &resp)
	if err != nil {
		return nil, err
	}
	c.emit(authclient.SessionChange{Event: authclient.SessionSignedIn, Session: sess})
	return sess, nil
}

// SignUp implements authclient.Backend. When the service withholds the
// session pending email confirmation, the returned session has no tokens.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]string) (*authclient.BackendSession, error) {
	body := map[string]any{"email": email, "password": password}
	if len(metadata) > 0 {
		body["data"] = metadata
	}

	var resp signupResponse
	if err := c.do(ctx, http.MethodPost, "/signup", nil, "", body, &resp); err != nil {
		return nil, err
	}
	if resp.AccessToken == "" {
		return &authclient.BackendSession{User: resp.userResponse.toUser()}, nil
	}
	sess, err := c.install(ctx, &resp.tokenResponse)
	if err != nil {
		return nil, err
	}
	c.emit(authclient.SessionChange{Event: authclient.SessionSignedIn, Session: sess})
	return sess, nil
}

// SignOut revokes the session remotely and always forgets it locally.
func (c *Client) SignOut(ctx context.Context) error {
	tokens, err := c.store.Load(ctx)
	if errors.Is(err, session.ErrNotFound) {
		return nil
	}

	var remoteErr error
	if err == nil {
		remoteErr = c.do(ctx, http.MethodPost, "/logout", nil, tokens.AccessToken, nil, nil)
		var be *authclient.BackendError
		if errors.As(remoteErr, &be) && (be.Status == http.StatusUnauthorized || be.Status == http.StatusNotFound) {
			// Already gone remotely.
			remoteErr = nil
		}
	}

	clearErr := c.store.Clear(ctx)
	c.emit(authclient.SessionChange{Event: authclient.SessionSignedOut})
	return errors.Join(remoteErr, clearErr)
}

// GetSession implements authclient.Backend. An access token close to expiry
// is refreshed first and TOKEN_REFRESHED is emitted. A session the service no
// longer accepts is forgotten and reported as absent.
func (c *Client) GetSession(ctx context.Context) (*authclient.BackendSession, error) {
	tokens, err := c.store.Load(ctx)
	if errors.Is(err, session.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		c.logger.WarnContext(ctx, "stored session unreadable, discarding", "error", err)
		_ = c.store.Clear(ctx)
		return nil, nil
	}

	if tokens.Expired(c.now(), c.skew) {
		sess, err := c.refresh(ctx, tokens.RefreshToken)
		if err != nil {
			return c.dropIfRejected(ctx, err)
		}
		c.emit(authclient.SessionChange{Event: authclient.SessionTokenRefreshed, Session: sess})
		return sess, nil
	}

	user, err := c.fetchUser(ctx, tokens.AccessToken)
	if err != nil {
		return c.dropIfRejected(ctx, err)
	}
	return sessionFromTokens(tokens, user), nil
}

// OnSessionChange implements authclient.Backend. Listeners run synchronously
// on the goroutine that caused the change.
func (c *Client) OnSessionChange(fn func(authclient.SessionChange)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// SendPasswordResetEmail implements authclient.Backend.
func (c *Client) SendPasswordResetEmail(ctx context.Context, email, redirectURL string) error {
	var query url.Values
	if redirectURL != "" {
		query = url.Values{"redirect_to": {redirectURL}}
	}
	return c.do(ctx, http.MethodPost, "/recover", query, "", map[string]string{"email": email}, nil)
}

// UpdatePassword implements authclient.Backend.
func (c *Client) UpdatePassword(ctx context.Context, newPassword string) (*authclient.User, error) {
	tokens, err := c.store.Load(ctx)
	if err != nil {
		return nil, &authclient.BackendError{Status: http.StatusUnauthorized, Code: "session_not_found", Message: "no active session"}
	}

	var resp userResponse
	if err := c.do(ctx, http.MethodPut, "/user", nil, tokens.AccessToken, map[string]string{"password": newPassword}, &resp); err != nil {
		return nil, err
	}
	user := resp.toUser()
	c.emit(authclient.SessionChange{Event: authclient.SessionUserUpdated, Session: sessionFromTokens(tokens, user)})
	return &user, nil
}

// ResendConfirmationEmail implements authclient.Backend.
func (c *Client) ResendConfirmationEmail(ctx context.Context, email, kind string) error {
	return c.do(ctx, http.MethodPost, "/resend", nil, "", map[string]string{"type": kind, "email": email}, nil)
}

// SetSession implements authclient.Backend. The access token is checked
// against the service before it is stored.
func (c *Client) SetSession(ctx context.Context, accessToken, refreshToken string) (*authclient.BackendSession, error) {
	user, err := c.fetchUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	sess := &authclient.BackendSession{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user,
	}
	if exp, err := peekExpiry(accessToken); err == nil && !exp.IsZero() {
		sess.ExpiresAt = exp
	}
	if err := c.save(ctx, sess, "bearer"); err != nil {
		return nil, err
	}
	c.emit(authclient.SessionChange{Event: authclient.SessionSignedIn, Session: sess})
	return sess, nil
}

/*
====================================
INTERNAL
====================================
*/

func (c *Client) refresh(ctx context.Context, refreshToken string) (*authclient.BackendSession, error) {
	if refreshToken == "" {
		return nil, &authclient.BackendError{Status: http.StatusUnauthorized, Code: "refresh_token_not_found", Message: "no refresh token"}
	}
	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"refresh_token"}}, "",
		map[string]string{"refresh_token": refreshToken}, &resp)
	if err != nil {
		return nil, err
	}
	return c.install(ctx, &resp)
}

func (c *Client) fetchUser(ctx context.Context, accessToken string) (authclient.User, error) {
	var resp userResponse
	if err := c.do(ctx, http.MethodGet, "/user", nil, accessToken, nil, &resp); err != nil {
		return authclient.User{}, err
	}
	return resp.toUser(), nil
}

// dropIfRejected forgets the stored session when the service refused it and
// passes other failures through.
func (c *Client) dropIfRejected(ctx context.Context, err error) (*authclient.BackendSession, error) {
	var be *authclient.BackendError
	if errors.As(err, &be) && be.Status >= 400 && be.Status < 500 && be.Status != http.StatusTooManyRequests {
		c.logger.InfoContext(ctx, "stored session rejected, discarding", "status", be.Status, "code", be.Code)
		if clearErr := c.store.Clear(ctx); clearErr != nil {
			c.logger.WarnContext(ctx, "clearing rejected session failed", "error", clearErr)
		}
		return nil, nil
	}
	return nil, err
}

func (c *Client) install(ctx context.Context, resp *tokenResponse) (*authclient.BackendSession, error) {
	if resp.AccessToken == "" {
		return nil, oops.Code("gotrue_protocol").Errorf("token response without access token")
	}
	sess := &authclient.BackendSession{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    resp.expiry(c.now()),
		User:         resp.User.toUser(),
	}
	if err := c.save(ctx, sess, resp.TokenType); err != nil {
		return nil, err
	}
	return sess, nil
}

func (c *Client) save(ctx context.Context, sess *authclient.BackendSession, tokenType string) error {
	var expiresAt int64
	if !sess.ExpiresAt.IsZero() {
		expiresAt = sess.ExpiresAt.Unix()
	}
	err := c.store.Save(ctx, &session.Tokens{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		TokenType:    tokenType,
		UserID:       sess.User.ID,
		ExpiresAt:    expiresAt,
	})
	if err != nil {
		return oops.Code("gotrue_store").Wrap(err)
	}
	return nil
}

func (c *Client) emit(change authclient.SessionChange) {
	c.mu.Lock()
	fns := make([]func(authclient.SessionChange), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}

// do sends one request. Responses >= 400 become *authclient.BackendError;
// transport failures keep their net.Error in the chain.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, bearer string, body, out any) error {
	endpoint := *c.base
	endpoint.Path = c.base.Path + path
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return oops.Code("gotrue_encode").Wrap(err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return oops.Code("gotrue_request").Wrap(err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return oops.Code("gotrue_transport").With("method", method, "path", path).Wrap(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		be := decodeError(resp.StatusCode, raw)
		return oops.Code("gotrue_status").With("method", method, "path", path, "status", resp.StatusCode).Wrap(be)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return oops.Code("gotrue_decode").With("path", path).Wrap(fmt.Errorf("decode %s response: %w", path, err))
	}
	return nil
}
