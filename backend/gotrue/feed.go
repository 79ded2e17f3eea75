package gotrue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	authclient "github.com/MrEthical07/authclient"
	"github.com/MrEthical07/authclient/session"
)

const (
	feedBaseDelay  = 500 * time.Millisecond
	feedMaxDelay   = 30 * time.Second
	feedReadLimit  = 64 << 10
	feedPingPeriod = 25 * time.Second
)

// ErrNoFeed is returned by RunFeed when no FeedURL is configured.
var ErrNoFeed = errors.New("gotrue: no session feed configured")

// feedMessage is one push notification. UserID scopes the event; an empty
// UserID applies to whoever is signed in.
type feedMessage struct {
	Event  authclient.SessionEvent `json:"event"`
	UserID string                  `json:"user_id"`
}

// RunFeed consumes the session push feed until ctx is done, reconnecting
// with capped exponential backoff. A SIGNED_OUT for the stored user (e.g. a
// sign-out on another device) forgets the local session and is re-emitted;
// USER_UPDATED refetches the user. It returns ctx.Err() on shutdown.
func (c *Client) RunFeed(ctx context.Context) error {
	if c.feedURL == "" {
		return ErrNoFeed
	}

	for {
		var conn *websocket.Conn
		backoff := retry.WithCappedDuration(feedMaxDelay, retry.WithJitterPercent(20, retry.NewExponential(feedBaseDelay)))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			var dialErr error
			conn, dialErr = c.dialFeed(ctx)
			if dialErr != nil {
				c.logger.DebugContext(ctx, "session feed dial failed", "error", dialErr)
				return retry.RetryableError(dialErr)
			}
			return nil
		})
		if err != nil {
			return err
		}

		c.logger.DebugContext(ctx, "session feed connected")
		readErr := c.readFeed(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.InfoContext(ctx, "session feed disconnected", "error", readErr)
	}
}

func (c *Client) dialFeed(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("apikey", c.apiKey)
	if tokens, err := c.store.Load(ctx); err == nil {
		header.Set("Authorization", "Bearer "+tokens.AccessToken)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.feedURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, oops.Code("gotrue_feed_dial").With("url", c.feedURL).Wrap(err)
	}
	conn.SetReadLimit(feedReadLimit)
	return conn, nil
}

// readFeed handles messages until the connection fails or ctx is done.
func (c *Client) readFeed(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(feedPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				_ = conn.Close()
				return
			case <-done:
				_ = conn.Close()
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return oops.Code("gotrue_feed_read").Wrap(err)
			}
			return err
		}

		var msg feedMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.WarnContext(ctx, "invalid session feed message", "error", err)
			continue
		}
		c.handleFeedMessage(ctx, msg)
	}
}

func (c *Client) handleFeedMessage(ctx context.Context, msg feedMessage) {
	tokens, err := c.store.Load(ctx)
	if err != nil {
		// Nobody is signed in locally.
		return
	}
	if msg.UserID != "" && msg.UserID != tokens.UserID {
		return
	}

	switch msg.Event {
	case authclient.SessionSignedOut:
		if err := c.store.Clear(ctx); err != nil {
			c.logger.WarnContext(ctx, "clearing remotely revoked session failed", "error", err)
		}
		c.emit(authclient.SessionChange{Event: authclient.SessionSignedOut})
	case authclient.SessionUserUpdated:
		user, err := c.fetchUser(ctx, tokens.AccessToken)
		if err != nil {
			c.logger.WarnContext(ctx, "refetching updated user failed", "error", err)
			return
		}
		c.emit(authclient.SessionChange{Event: authclient.SessionUserUpdated, Session: sessionFromTokens(tokens, user)})
	default:
		c.logger.DebugContext(ctx, "ignoring session feed event", "event", string(msg.Event))
	}
}

func sessionFromTokens(t *session.Tokens, user authclient.User) *authclient.BackendSession {
	sess := &authclient.BackendSession{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		User:         user,
	}
	if t.ExpiresAt > 0 {
		sess.ExpiresAt = time.Unix(t.ExpiresAt, 0)
	}
	return sess
}
