package gotrue

import (
	"encoding/json"
	"net/http"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	authclient "github.com/MrEthical07/authclient"
)

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	RefreshToken string       `json:"refresh_token"`
	User         userResponse `json:"user"`
}

func (r *tokenResponse) expiry(now time.Time) time.Time {
	switch {
	case r.ExpiresAt > 0:
		return time.Unix(r.ExpiresAt, 0)
	case r.ExpiresIn > 0:
		return now.Add(time.Duration(r.ExpiresIn) * time.Second)
	default:
		return time.Time{}
	}
}

// signupResponse is either a session or, while confirmation is pending, a
// bare user object.
type signupResponse struct {
	tokenResponse
	userResponse
}

func (r *signupResponse) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &r.tokenResponse); err != nil {
		return err
	}
	if r.tokenResponse.AccessToken != "" {
		return nil
	}
	return json.Unmarshal(data, &r.userResponse)
}

type userResponse struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	ConfirmedAt      *time.Time     `json:"confirmed_at"`
	UserMetadata     map[string]any `json:"user_metadata"`
}

func (u userResponse) toUser() authclient.User {
	out := authclient.User{ID: u.ID, Email: u.Email}
	confirmed := u.EmailConfirmedAt
	if confirmed == nil {
		confirmed = u.ConfirmedAt
	}
	if confirmed != nil && !confirmed.IsZero() {
		t := *confirmed
		out.EmailConfirmedAt = &t
	}
	for k, v := range u.UserMetadata {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if out.Metadata == nil {
			out.Metadata = map[string]string{}
		}
		out.Metadata[k] = s
	}
	return out
}

// errorResponse covers both error shapes the service uses.
type errorResponse struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

func decodeError(status int, raw []byte) *authclient.BackendError {
	be := &authclient.BackendError{Status: status}

	var resp errorResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		be.Message = http.StatusText(status)
		return be
	}

	be.Code = resp.ErrorCode
	if be.Code == "" {
		// Older deployments put the string code in "code" or "error".
		var code string
		if json.Unmarshal(resp.Code, &code) == nil && code != "" {
			be.Code = code
		} else if resp.Error != "" && resp.ErrorDescription != "" {
			be.Code = resp.Error
		}
	}
	for _, m := range []string{resp.Msg, resp.Message, resp.ErrorDescription, resp.Error} {
		if m != "" {
			be.Message = m
			break
		}
	}
	if be.Message == "" {
		be.Message = http.StatusText(status)
	}
	return be
}

// peekExpiry reads the exp claim of a JWT without verifying it. The service
// has just accepted the token; only its lifetime is needed locally.
func peekExpiry(token string) (time.Time, error) {
	var claims gojwt.RegisteredClaims
	if _, _, err := gojwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, nil
	}
	return claims.ExpiresAt.Time, nil
}
