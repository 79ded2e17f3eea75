package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	authclient "github.com/MrEthical07/authclient"
	"github.com/MrEthical07/authclient/backend/gotrue"
	"github.com/MrEthical07/authclient/session"
)

const (
	keyringService = "authclient"
	keyringAccount = "default"
	redisPrefix    = "authclient:cli"
	redisTTL       = 30 * 24 * time.Hour
)

// correlationAttrs stamps every log line of a command with its id.
func correlationAttrs(ctx context.Context) []slog.Attr {
	if id := authclient.CorrelationIDFromContext(ctx); id != "" {
		return []slog.Attr{slog.String("correlation_id", id)}
	}
	return nil
}

// app is everything a command needs, built from the loaded config.
type app struct {
	cfg     authclient.Config
	logger  *slog.Logger
	backend *gotrue.Client
	manager *authclient.Manager
	closers []func() error
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd, cfg)
	a := &app{cfg: cfg, logger: logger}

	store, err := a.credentialStore()
	if err != nil {
		return nil, err
	}

	backend, err := gotrue.New(gotrue.Config{
		URL:     cfg.Backend.URL,
		APIKey:  cfg.Backend.APIKey,
		Store:   store,
		Timeout: cfg.Backend.Timeout,
		FeedURL: cfg.Backend.FeedURL,
		Logger:  logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.backend = backend

	m, err := authclient.New().
		WithConfig(cfg).
		WithBackend(backend).
		WithCredentialStore(store).
		WithLogger(logger).
		Build()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.manager = m
	a.closers = append(a.closers, m.Close)
	return a, nil
}

func (a *app) credentialStore() (session.Store, error) {
	switch a.cfg.Backend.CredentialStore {
	case authclient.CredentialStoreKeyring:
		return session.NewKeyringStore(keyringService, keyringAccount), nil
	case authclient.CredentialStoreRedis:
		client := redis.NewClient(&redis.Options{Addr: a.cfg.Backend.RedisAddr})
		a.closers = append(a.closers, client.Close)
		return session.NewRedisStore(client, redisPrefix, keyringAccount, redisTTL), nil
	case authclient.CredentialStoreMemory, "":
		return session.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown credential store %q", a.cfg.Backend.CredentialStore)
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// commandContext tags ctx with a fresh correlation id.
func commandContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return authclient.WithCorrelationID(ctx, uuid.NewString())
}

// withApp builds the app, runs fn and closes the app.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(commandContext(cmd), a)
}

// userError turns library errors into the stable user-facing message.
func userError(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(authclient.UserMessage(err))
}
