package authclient

import (
	"context"
	"maps"
	"time"

	internalaudit "github.com/MrEthical07/authclient/internal/audit"
)

// User is the identity record of the signed-in account. Values handed out by
// the Manager are never mutated; every transition installs a fresh copy.
type User struct {
	ID               string
	Email            string
	EmailConfirmedAt *time.Time
	Metadata         map[string]string
}

// FullName returns the display name stored in metadata.
func (u *User) FullName() string {
	if u == nil {
		return ""
	}
	return u.Metadata[MetadataFullName]
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.EmailConfirmedAt != nil {
		t := *u.EmailConfirmedAt
		c.EmailConfirmedAt = &t
	}
	c.Metadata = maps.Clone(u.Metadata)
	return &c
}

// MetadataFullName is the sign-up metadata key for the display name.
const MetadataFullName = "full_name"

// BackendSession is a session reported by the identity backend. AccessToken
// is empty when sign-up still awaits email confirmation.
type BackendSession struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         User
}

// SessionEvent names a backend session-change notification.
type SessionEvent string

const (
	SessionSignedIn         SessionEvent = "SIGNED_IN"
	SessionSignedOut        SessionEvent = "SIGNED_OUT"
	SessionTokenRefreshed   SessionEvent = "TOKEN_REFRESHED"
	SessionUserUpdated      SessionEvent = "USER_UPDATED"
	SessionPasswordRecovery SessionEvent = "PASSWORD_RECOVERY"
)

// SessionChange is one backend notification. Session is nil for sign-out.
type SessionChange struct {
	Event   SessionEvent
	Session *BackendSession
}

// ConfirmationSignup is the resend type for sign-up confirmation emails.
const ConfirmationSignup = "signup"

// Backend is the identity service the Manager mediates. Implementations
// report failures as *BackendError where the service answered, and as
// transport errors otherwise.
type Backend interface {
	SignIn(ctx context.Context, email, password string) (*BackendSession, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]string) (*BackendSession, error)
	SignOut(ctx context.Context) error
	// GetSession returns (nil, nil) when nobody is signed in.
	GetSession(ctx context.Context) (*BackendSession, error)
	// OnSessionChange registers fn and returns its unregister function.
	OnSessionChange(fn func(SessionChange)) (unsubscribe func())
	SendPasswordResetEmail(ctx context.Context, email, redirectURL string) error
	// UpdatePassword runs under the current (recovery) session.
	UpdatePassword(ctx context.Context, newPassword string) (*User, error)
	ResendConfirmationEmail(ctx context.Context, email, kind string) error
	// SetSession exchanges recovery tokens for a session.
	SetSession(ctx context.Context, accessToken, refreshToken string) (*BackendSession, error)
}

// AuditEvent is a structured audit record emitted by the Manager.
type AuditEvent = internalaudit.Event

// AuditSink receives AuditEvent values from the audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based AuditSink.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per event.
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink writes events as structured log records.
type SlogSink = internalaudit.SlogSink

var (
	// NewChannelSink creates a ChannelSink with the given buffer.
	NewChannelSink = internalaudit.NewChannelSink
	// NewJSONWriterSink creates a JSONWriterSink over w.
	NewJSONWriterSink = internalaudit.NewJSONWriterSink
	// NewSlogSink creates a SlogSink over logger.
	NewSlogSink = internalaudit.NewSlogSink
)
