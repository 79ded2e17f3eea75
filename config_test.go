package authclient

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.RateLimit.SignIn.MaxAttempts != 5 || cfg.RateLimit.SignIn.Window != 15*time.Minute {
		t.Fatalf("unexpected sign-in rule: %+v", cfg.RateLimit.SignIn)
	}
	if cfg.RateLimit.ResetRequest.MaxAttempts != 3 || cfg.RateLimit.ResetRequest.Window != 10*time.Minute {
		t.Fatalf("unexpected reset rule: %+v", cfg.RateLimit.ResetRequest)
	}
	if cfg.Recovery.CompletionDelay != 2*time.Second {
		t.Fatalf("unexpected completion delay: %v", cfg.Recovery.CompletionDelay)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "sign-in attempts zero",
			mutate:    func(c *Config) { c.RateLimit.SignIn.MaxAttempts = 0 },
			wantValid: false,
		},
		{
			name:      "resend window zero",
			mutate:    func(c *Config) { c.RateLimit.ResendConfirmation.Window = 0 },
			wantValid: false,
		},
		{
			name:      "min length too small",
			mutate:    func(c *Config) { c.Password.MinLength = 6 },
			wantValid: false,
		},
		{
			name:      "hash memory too small",
			mutate:    func(c *Config) { c.Password.HashMemory = 1024 },
			wantValid: false,
		},
		{
			name:      "relative redirect path",
			mutate:    func(c *Config) { c.Recovery.RedirectPath = "reset-password" },
			wantValid: false,
		},
		{
			name:      "leeway too large",
			mutate:    func(c *Config) { c.Recovery.TokenLeeway = 3 * time.Minute },
			wantValid: false,
		},
		{
			name:      "hs256 without key",
			mutate:    func(c *Config) { c.Recovery.TokenSigningMethod = "hs256" },
			wantValid: false,
		},
		{
			name: "hs256 with key",
			mutate: func(c *Config) {
				c.Recovery.TokenSigningMethod = "hs256"
				c.Recovery.TokenKey = "secret"
			},
			wantValid: true,
		},
		{
			name:      "rs256 unsupported",
			mutate:    func(c *Config) { c.Recovery.TokenSigningMethod = "rs256" },
			wantValid: false,
		},
		{
			name:      "unknown environment",
			mutate:    func(c *Config) { c.Deployment.Environment = "qa" },
			wantValid: false,
		},
		{
			name:      "canonical origin without scheme",
			mutate:    func(c *Config) { c.Deployment.CanonicalOrigin = "app.example.com" },
			wantValid: false,
		},
		{
			name:      "canonical origin with path is trimmed",
			mutate:    func(c *Config) { c.Deployment.CanonicalOrigin = "https://app.example.com/base" },
			wantValid: true,
		},
		{
			name:      "audit enabled without buffer",
			mutate:    func(c *Config) { c.Audit.Enabled = true; c.Audit.BufferSize = 0 },
			wantValid: false,
		},
		{
			name:      "logging format",
			mutate:    func(c *Config) { c.Logging.Format = "xml" },
			wantValid: false,
		},
		{
			name:      "redis store without address",
			mutate:    func(c *Config) { c.Backend.CredentialStore = CredentialStoreRedis },
			wantValid: false,
		},
		{
			name:      "keyring store",
			mutate:    func(c *Config) { c.Backend.CredentialStore = CredentialStoreKeyring },
			wantValid: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected invalid config, got nil")
			}
		})
	}
}

func TestWithConfigClonesBlocklist(t *testing.T) {
	cfg := testConfig()
	cfg.Password.Blocklist = []string{"lantern"}
	b := New().WithConfig(cfg)
	cfg.Password.Blocklist[0] = "changed"

	if got := b.config.Password.Blocklist[0]; got != "lantern" {
		t.Fatalf("builder config aliased caller slice: %q", got)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authclient.yaml")
	yaml := strings.Join([]string{
		"deployment:",
		"  environment: staging",
		"  canonical_origin: https://staging.parscade.test",
		"rate_limit:",
		"  sign_in:",
		"    max_attempts: 7",
		"    window: 5m",
		"recovery:",
		"  sign_out_after_reset: true",
		"  completion_delay: 1500ms",
		"password:",
		"  blocklist: [lantern, ledger]",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Deployment.Environment != EnvironmentStaging || cfg.Deployment.CanonicalOrigin != "https://staging.parscade.test" {
		t.Fatalf("unexpected deployment: %+v", cfg.Deployment)
	}
	if cfg.RateLimit.SignIn.MaxAttempts != 7 || cfg.RateLimit.SignIn.Window != 5*time.Minute {
		t.Fatalf("unexpected sign-in rule: %+v", cfg.RateLimit.SignIn)
	}
	if !cfg.Recovery.SignOutAfterReset || cfg.Recovery.CompletionDelay != 1500*time.Millisecond {
		t.Fatalf("unexpected recovery: %+v", cfg.Recovery)
	}
	if len(cfg.Password.Blocklist) != 2 {
		t.Fatalf("unexpected blocklist: %v", cfg.Password.Blocklist)
	}
	// Untouched sections keep their defaults.
	if cfg.RateLimit.ResetRequest.MaxAttempts != 3 || cfg.Recovery.RedirectPath != "/reset-password" {
		t.Fatalf("defaults lost: %+v %+v", cfg.RateLimit.ResetRequest, cfg.Recovery)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authclient.yaml")
	if err := os.WriteFile(path, []byte("deployment:\n  environment: qa\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected invalid environment to fail")
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected missing file to fail")
	}
}
