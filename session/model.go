package session

import "time"

// Tokens is the durable credential record of one signed-in user.
type Tokens struct {
	SchemaVersion uint8
	AccessToken   string
	RefreshToken  string
	TokenType     string
	UserID        string
	// ExpiresAt is the access token expiry in unix seconds.
	ExpiresAt int64
}

// Expired reports whether the access token is past its expiry at now, with
// skew applied early.
func (t *Tokens) Expired(now time.Time, skew time.Duration) bool {
	if t.ExpiresAt == 0 {
		return false
	}
	return !now.Add(skew).Before(time.Unix(t.ExpiresAt, 0))
}
