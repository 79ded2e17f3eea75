package recoverylink

import (
	"errors"
	"sync"
	"time"
)

// ErrBundleConsumed is returned by Take after the credential was handed out.
var ErrBundleConsumed = errors.New("recovery bundle already consumed")

// Credential is the bearer material of a recovery link.
type Credential struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
}

// Bundle holds a recovery credential until it is taken exactly once.
type Bundle struct {
	mu           sync.Mutex
	accessToken  string
	refreshToken string
	tokenType    string
	expiresAt    time.Time
	fingerprint  [32]byte
	consumed     bool
}

// Fingerprint is the SHA-256 of the access token. It identifies the link
// without retaining the credential.
func (b *Bundle) Fingerprint() [32]byte {
	return b.fingerprint
}

// ExpiresAt returns the expiry hint from the link, zero when absent.
func (b *Bundle) ExpiresAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.expiresAt
}

// Peek returns the access token without consuming it so claims can be read.
// It returns "" once consumed.
func (b *Bundle) Peek() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.accessToken
}

// Take hands out the credential and wipes the bundle.
func (b *Bundle) Take() (Credential, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.consumed {
		return Credential{}, ErrBundleConsumed
	}
	c := Credential{
		AccessToken:  b.accessToken,
		RefreshToken: b.refreshToken,
		TokenType:    b.tokenType,
		ExpiresAt:    b.expiresAt,
	}
	b.wipeLocked()
	return c, nil
}

// Discard wipes the bundle without handing out the credential.
func (b *Bundle) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wipeLocked()
}

// Consumed reports whether Take or Discard ran.
func (b *Bundle) Consumed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consumed
}

func (b *Bundle) wipeLocked() {
	b.accessToken = ""
	b.refreshToken = ""
	b.tokenType = ""
	b.consumed = true
}
