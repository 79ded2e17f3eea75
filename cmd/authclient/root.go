package main

import (
	"fmt"
	"log/slog"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	authclient "github.com/MrEthical07/authclient"
	"github.com/MrEthical07/authclient/internal/logging"
)

// flagKeys maps persistent flags onto config keys.
var flagKeys = map[string]string{
	"backend-url":      "backend.url",
	"api-key":          "backend.api_key",
	"feed-url":         "backend.feed_url",
	"credential-store": "backend.credential_store",
	"redis-addr":       "backend.redis_addr",
	"environment":      "deployment.environment",
	"canonical-origin": "deployment.canonical_origin",
	"log-format":       "logging.format",
}

// NewRootCmd creates the root command for the authclient CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authclient",
		Short: "Sign in, sign out and recover passwords from the terminal",
		Long: `authclient drives the same session state machine and password
recovery flow as the library, against a GoTrue-compatible auth service.
Settings come from --config (YAML) with flags layered on top.`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.String("config", "", "config file path")
	pf.String("backend-url", "", "auth service base URL")
	pf.String("api-key", "", "auth service API key")
	pf.String("feed-url", "", "websocket session feed URL")
	pf.String("credential-store", authclient.CredentialStoreKeyring, "where tokens are kept: memory, keyring or redis")
	pf.String("redis-addr", "", "redis address for the redis credential store")
	pf.String("environment", "", "deployment environment: production, staging, development or local")
	pf.String("canonical-origin", "", "origin used for password reset links")
	pf.String("log-format", "text", "log format: json or text")
	pf.String("log-level", "warn", "log level: debug, info, warn or error")

	cmd.AddCommand(newSignInCmd())
	cmd.AddCommand(newSignOutCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newForgotPasswordCmd())
	cmd.AddCommand(newRecoverCmd())
	cmd.AddCommand(newAssessCmd())

	return cmd
}

// loadConfig reads --config, if any, then overlays flags. Flag defaults only
// apply where the file is silent.
func loadConfig(cmd *cobra.Command) (authclient.Config, error) {
	flags := cmd.Root().PersistentFlags()
	k := koanf.New(".")

	if path, _ := flags.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return authclient.Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
		key, ok := flagKeys[f.Name]
		if !ok || (!f.Changed && f.Value.String() == "") {
			return "", nil
		}
		return key, posflag.FlagVal(flags, f)
	})
	if err := k.Load(provider, nil); err != nil {
		return authclient.Config{}, fmt.Errorf("load flags: %w", err)
	}

	return authclient.ConfigFromKoanf(k)
}

func newLogger(cmd *cobra.Command, cfg authclient.Config) *slog.Logger {
	level, _ := cmd.Root().PersistentFlags().GetString("log-level")
	return logging.New(logging.Options{
		Service: cfg.Logging.Service,
		Version: version,
		Format:  cfg.Logging.Format,
		Level:   logging.ParseLevel(level),
		Writer:  cmd.ErrOrStderr(),
		Context: []logging.ContextAttrs{correlationAttrs},
	})
}
