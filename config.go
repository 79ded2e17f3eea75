package authclient

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/authclient/internal/rate"
)

// Config is the full client configuration. Build it from DefaultConfig and
// override what differs; it is treated as immutable after Build.
type Config struct {
	RateLimit  RateLimitConfig  `koanf:"rate_limit"`
	Password   PasswordConfig   `koanf:"password"`
	Recovery   RecoveryConfig   `koanf:"recovery"`
	Deployment DeploymentConfig `koanf:"deployment"`
	Audit      AuditConfig      `koanf:"audit"`
	Metrics    MetricsConfig    `koanf:"metrics"`
	Logging    LoggingConfig    `koanf:"logging"`
	Backend    BackendConfig    `koanf:"backend"`
}

// RateLimitRule bounds failed attempts for one flow.
type RateLimitRule struct {
	MaxAttempts int           `koanf:"max_attempts"`
	Window      time.Duration `koanf:"window"`
}

func (r RateLimitRule) rule() rate.Rule {
	return rate.Rule{MaxAttempts: r.MaxAttempts, Window: r.Window}
}

// RateLimitConfig configures the attempt guards.
type RateLimitConfig struct {
	SignIn             RateLimitRule `koanf:"sign_in"`
	ResetRequest       RateLimitRule `koanf:"reset_request"`
	ResendConfirmation RateLimitRule `koanf:"resend_confirmation"`
	// RedisPrefix namespaces Redis-backed guards.
	RedisPrefix string `koanf:"redis_prefix"`
}

// PasswordConfig configures password assessment and the reuse history.
type PasswordConfig struct {
	MinLength   int      `koanf:"min_length"`
	ProductName string   `koanf:"product_name"`
	Blocklist   []string `koanf:"blocklist"`
	HistorySize int      `koanf:"history_size"`

	HashMemory      uint32 `koanf:"hash_memory"`
	HashTime        uint32 `koanf:"hash_time"`
	HashParallelism uint8  `koanf:"hash_parallelism"`
}

// RecoveryConfig configures the password-recovery flow.
type RecoveryConfig struct {
	// CompletionDelay is the pause between success and teardown.
	CompletionDelay   time.Duration `koanf:"completion_delay"`
	SignOutAfterReset bool          `koanf:"sign_out_after_reset"`
	RedirectPath      string        `koanf:"redirect_path"`
	SignInPath        string        `koanf:"sign_in_path"`
	DashboardPath     string        `koanf:"dashboard_path"`
	// TokenLeeway tolerates clock skew when reading token expiry.
	TokenLeeway time.Duration `koanf:"token_leeway"`
	// TokenSigningMethod enables signature checks on recovery tokens: "",
	// "hs256" or "ed25519". Empty reads claims without verifying them.
	TokenSigningMethod string `koanf:"token_signing_method"`
	TokenKey           string `koanf:"token_key"`
}

// Environment names.
const (
	EnvironmentProduction  = "production"
	EnvironmentStaging     = "staging"
	EnvironmentDevelopment = "development"
	EnvironmentLocal       = "local"
)

// DeploymentConfig locates the running deployment.
type DeploymentConfig struct {
	Environment string `koanf:"environment"`
	// CanonicalOrigin is the public origin used in deployed environments.
	CanonicalOrigin string `koanf:"canonical_origin"`
	// CurrentOrigin is the origin this process serves, used in local and
	// development environments. A request-scoped origin set with
	// WithCurrentOrigin takes precedence.
	CurrentOrigin string `koanf:"current_origin"`
}

// AuditConfig controls the audit dispatcher.
type AuditConfig struct {
	Enabled    bool `koanf:"enabled"`
	BufferSize int  `koanf:"buffer_size"`
	DropIfFull bool `koanf:"drop_if_full"`
}

// MetricsConfig controls in-process metrics.
type MetricsConfig struct {
	Enabled                 bool `koanf:"enabled"`
	EnableLatencyHistograms bool `koanf:"enable_latency_histograms"`
}

// LoggingConfig controls the slog handler built by the CLI and examples.
type LoggingConfig struct {
	Format  string `koanf:"format"`
	Service string `koanf:"service"`
}

// Credential store kinds for BackendConfig.CredentialStore.
const (
	CredentialStoreMemory  = "memory"
	CredentialStoreKeyring = "keyring"
	CredentialStoreRedis   = "redis"
)

// BackendConfig locates the identity service. It is read by the bundled
// GoTrue adapter and the CLI; the Manager itself only sees a Backend.
type BackendConfig struct {
	URL     string        `koanf:"url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout"`
	// FeedURL is the optional websocket session-change feed.
	FeedURL         string `koanf:"feed_url"`
	CredentialStore string `koanf:"credential_store"`
	RedisAddr       string `koanf:"redis_addr"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		RateLimit: RateLimitConfig{
			SignIn:             RateLimitRule{MaxAttempts: 5, Window: 15 * time.Minute},
			ResetRequest:       RateLimitRule{MaxAttempts: 3, Window: 10 * time.Minute},
			ResendConfirmation: RateLimitRule{MaxAttempts: 3, Window: 10 * time.Minute},
			RedisPrefix:        rate.DefaultKeyPrefix,
		},
		Password: PasswordConfig{
			MinLength:       12,
			ProductName:     "parscade",
			HistorySize:     5,
			HashMemory:      19 * 1024,
			HashTime:        2,
			HashParallelism: 1,
		},
		Recovery: RecoveryConfig{
			CompletionDelay:   2 * time.Second,
			SignOutAfterReset: false,
			RedirectPath:      "/reset-password",
			SignInPath:        "/sign-in",
			DashboardPath:     "/dashboard",
			TokenLeeway:       30 * time.Second,
		},
		Deployment: DeploymentConfig{
			Environment: EnvironmentProduction,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Logging: LoggingConfig{
			Format:  "json",
			Service: "authclient",
		},
		Backend: BackendConfig{
			Timeout:         10 * time.Second,
			CredentialStore: CredentialStoreMemory,
		},
	}
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Password.Blocklist = append([]string(nil), cfg.Password.Blocklist...)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Rate limits
	for name, r := range map[string]RateLimitRule{
		"SignIn":             c.RateLimit.SignIn,
		"ResetRequest":       c.RateLimit.ResetRequest,
		"ResendConfirmation": c.RateLimit.ResendConfirmation,
	} {
		if r.MaxAttempts <= 0 {
			return errors.New("RateLimit " + name + " MaxAttempts must be > 0")
		}
		if r.Window <= 0 {
			return errors.New("RateLimit " + name + " Window must be > 0")
		}
	}

	// Password
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}
	if c.Password.HistorySize < 0 {
		return errors.New("Password HistorySize must be >= 0")
	}
	if c.Password.HashMemory < 8*1024 {
		return errors.New("Password HashMemory must be >= 8192 KB")
	}
	if c.Password.HashTime < 1 {
		return errors.New("Password HashTime must be >= 1")
	}
	if c.Password.HashParallelism < 1 {
		return errors.New("Password HashParallelism must be >= 1")
	}

	// Recovery
	if c.Recovery.CompletionDelay < 0 {
		return errors.New("Recovery CompletionDelay must be >= 0")
	}
	for name, p := range map[string]string{
		"RedirectPath":  c.Recovery.RedirectPath,
		"SignInPath":    c.Recovery.SignInPath,
		"DashboardPath": c.Recovery.DashboardPath,
	} {
		if !strings.HasPrefix(p, "/") {
			return errors.New("Recovery " + name + " must start with /")
		}
	}
	if c.Recovery.TokenLeeway < 0 || c.Recovery.TokenLeeway > 2*time.Minute {
		return errors.New("Recovery TokenLeeway must be between 0 and 2m")
	}
	switch c.Recovery.TokenSigningMethod {
	case "":
	case "hs256", "ed25519":
		if c.Recovery.TokenKey == "" {
			return errors.New("Recovery TokenKey is required when TokenSigningMethod is set")
		}
	default:
		return errors.New("Recovery TokenSigningMethod must be '', 'hs256' or 'ed25519'")
	}

	// Deployment
	// CanonicalOrigin may stay empty until password resets are used;
	// ResetPassword fails without one outside local deployments.
	switch c.Deployment.Environment {
	case EnvironmentProduction, EnvironmentStaging, EnvironmentDevelopment, EnvironmentLocal:
	default:
		return errors.New("Deployment Environment is invalid")
	}
	for name, origin := range map[string]string{
		"CanonicalOrigin": c.Deployment.CanonicalOrigin,
		"CurrentOrigin":   c.Deployment.CurrentOrigin,
	} {
		if origin == "" {
			continue
		}
		if _, err := parseOrigin(origin); err != nil {
			return errors.New("Deployment " + name + " must be an absolute http(s) origin")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	// Logging
	if c.Logging.Format != "" && c.Logging.Format != "json" && c.Logging.Format != "text" {
		return errors.New("Logging Format must be 'json' or 'text'")
	}

	// Backend
	if c.Backend.Timeout <= 0 {
		return errors.New("Backend Timeout must be > 0")
	}
	switch c.Backend.CredentialStore {
	case CredentialStoreMemory, CredentialStoreKeyring:
	case CredentialStoreRedis:
		if c.Backend.RedisAddr == "" {
			return errors.New("Backend RedisAddr is required for the redis credential store")
		}
	default:
		return errors.New("Backend CredentialStore must be 'memory', 'keyring' or 'redis'")
	}

	return nil
}

func parseOrigin(origin string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil {
		return nil, err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.New("not an http(s) origin")
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host}, nil
}
