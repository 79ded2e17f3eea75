package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects how recovery tokens are verified.
type SigningMethod string

const (
	// MethodNone reads claims without verifying the signature.
	MethodNone SigningMethod = ""
	// MethodEd25519 verifies EdDSA signatures.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 verifies HMAC-SHA256 signatures.
	MethodHS256 SigningMethod = "hs256"
)

var (
	// ErrExpired reports a token past its exp claim.
	ErrExpired = jwt.ErrTokenExpired
	// ErrUnreadable reports input that is not a JWT at all.
	ErrUnreadable = errors.New("token is not a readable jwt")
	// ErrUntrusted reports a token whose signature or issuer did not verify.
	ErrUntrusted = errors.New("token failed verification")
)

// Config configures an Inspector.
type Config struct {
	SigningMethod SigningMethod
	// Key is the HMAC secret or the Ed25519 public key (raw or PEM).
	Key      []byte
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// AMREntry is one authentication method reference.
type AMREntry struct {
	Method    string `json:"method"`
	Timestamp int64  `json:"timestamp"`
}

// RecoveryClaims are the claims read from a recovery access token.
type RecoveryClaims struct {
	Email     string     `json:"email,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Role      string     `json:"role,omitempty"`
	AMR       []AMREntry `json:"amr,omitempty"`
	jwt.RegisteredClaims
}

// IsRecovery reports whether the token was minted by a recovery or one-time
// password login.
func (c *RecoveryClaims) IsRecovery() bool {
	for _, entry := range c.AMR {
		if entry.Method == "recovery" || entry.Method == "otp" {
			return true
		}
	}
	return false
}

// Inspector reads recovery tokens.
type Inspector struct {
	config Config
	key    interface{}
	now    func() time.Time
}

// NewInspector validates cfg and returns an Inspector.
func NewInspector(cfg Config) (*Inspector, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	i := &Inspector{config: cfg, now: time.Now}
	switch cfg.SigningMethod {
	case MethodNone:
	case MethodHS256:
		if len(cfg.Key) == 0 {
			return nil, errors.New("hs256 requires key")
		}
		i.key = cfg.Key
	case MethodEd25519:
		pub, err := parseEdPublicKey(cfg.Key)
		if err != nil {
			return nil, err
		}
		i.key = pub
	default:
		return nil, errors.New("unsupported signing method")
	}
	return i, nil
}

// Verifies reports whether signatures are checked.
func (i *Inspector) Verifies() bool {
	return i.config.SigningMethod != MethodNone
}

// Inspect parses token. Expired tokens return ErrExpired together with the
// claims that were read.
func (i *Inspector) Inspect(token string) (*RecoveryClaims, error) {
	if i.Verifies() {
		return i.verified(token)
	}
	return i.unverified(token)
}

func (i *Inspector) verified(token string) (*RecoveryClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{i.method().Alg()}),
		jwt.WithTimeFunc(i.now),
	}
	if i.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(i.config.Leeway))
	}
	if i.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(i.config.Issuer))
	}
	if i.config.Audience != "" {
		options = append(options, jwt.WithAudience(i.config.Audience))
	}

	claims := &RecoveryClaims{}
	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != i.method().Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return i.key, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return claims, ErrExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrUntrusted, err)
	case !parsed.Valid:
		return nil, ErrUntrusted
	}
	return claims, nil
}

func (i *Inspector) unverified(token string) (*RecoveryClaims, error) {
	claims := &RecoveryClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if claims.ExpiresAt != nil && !i.now().Before(claims.ExpiresAt.Add(i.config.Leeway)) {
		return claims, ErrExpired
	}
	return claims, nil
}

func (i *Inspector) method() jwt.SigningMethod {
	if i.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
