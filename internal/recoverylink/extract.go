package recoverylink

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Link parameter names. They are a contract with the email template and must
// not change.
const (
	ParamAccessToken      = "access_token"
	ParamRefreshToken     = "refresh_token"
	ParamType             = "type"
	ParamExpiresAt        = "expires_at"
	ParamExpiresIn        = "expires_in"
	ParamTokenType        = "token_type"
	ParamError            = "error"
	ParamErrorCode        = "error_code"
	ParamErrorDescription = "error_description"

	// TypeRecovery is the only accepted type marker.
	TypeRecovery = "recovery"
)

var (
	// ErrLinkRejected reports a link the identity backend already refused.
	ErrLinkRejected = errors.New("recovery link rejected")
	// ErrMalformedLocation reports a location that does not parse as a URL.
	ErrMalformedLocation = errors.New("malformed location")
)

// LinkError describes the error descriptor carried by a refused link.
type LinkError struct {
	Code        string
	Description string
}

func (e *LinkError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("recovery link rejected: %s", e.Code)
	}
	return fmt.Sprintf("recovery link rejected: %s: %s", e.Code, e.Description)
}

// Is reports whether target is ErrLinkRejected.
func (e *LinkError) Is(target error) bool {
	return target == ErrLinkRejected
}

// ExtractString parses raw and calls Extract.
func ExtractString(raw string, now func() time.Time) (*Bundle, error) {
	loc, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLocation, err)
	}
	return Extract(loc, now)
}

// Extract returns the recovery bundle carried by loc, or (nil, nil) when loc
// is not a recovery link. now may be nil (time.Now) and anchors expires_in.
func Extract(loc *url.URL, now func() time.Time) (*Bundle, error) {
	if loc == nil {
		return nil, nil
	}
	if now == nil {
		now = time.Now
	}

	sources := []url.Values{fragmentValues(loc.Fragment), loc.Query()}
	for _, values := range sources {
		if err := linkError(values); err != nil {
			return nil, err
		}
	}
	for _, values := range sources {
		if b := bundleFrom(values, now); b != nil {
			return b, nil
		}
	}
	return nil, nil
}

// fragmentValues tolerates hash-router fragments such as "#/reset?access_token=...".
func fragmentValues(fragment string) url.Values {
	if fragment == "" {
		return url.Values{}
	}
	if _, after, ok := strings.Cut(fragment, "?"); ok {
		fragment = after
	}
	values, err := url.ParseQuery(fragment)
	if err != nil {
		return url.Values{}
	}
	return values
}

func linkError(values url.Values) error {
	code := values.Get(ParamErrorCode)
	if code == "" {
		code = values.Get(ParamError)
	}
	if code == "" {
		return nil
	}
	return &LinkError{Code: code, Description: values.Get(ParamErrorDescription)}
}

func bundleFrom(values url.Values, now func() time.Time) *Bundle {
	access := strings.TrimSpace(values.Get(ParamAccessToken))
	if access == "" || values.Get(ParamType) != TypeRecovery {
		return nil
	}

	b := &Bundle{
		accessToken:  access,
		refreshToken: strings.TrimSpace(values.Get(ParamRefreshToken)),
		tokenType:    values.Get(ParamTokenType),
		fingerprint:  sha256.Sum256([]byte(access)),
	}
	if v, err := strconv.ParseInt(values.Get(ParamExpiresAt), 10, 64); err == nil && v > 0 {
		b.expiresAt = time.Unix(v, 0)
	} else if v, err := strconv.ParseInt(values.Get(ParamExpiresIn), 10, 64); err == nil && v > 0 {
		b.expiresAt = now().Add(time.Duration(v) * time.Second)
	}
	return b
}
