package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps Redis transport failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

const (
	// DefaultRedisPrefix namespaces credential records.
	DefaultRedisPrefix = "acs"
	// DefaultRedisTTL bounds how long an idle record is kept.
	DefaultRedisTTL = 7 * 24 * time.Hour
)

// RedisStore keeps the Tokens of one connection scope in Redis.
type RedisStore struct {
	redis redis.UniversalClient
	key   string
	ttl   time.Duration
}

// NewRedisStore returns a store for scope. ttl <= 0 uses DefaultRedisTTL.
func NewRedisStore(client redis.UniversalClient, prefix, scope string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisStore{redis: client, key: prefix + ":" + scope, ttl: ttl}
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, t *Tokens) error {
	data, err := Encode(t)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context) (*Tokens, error) {
	data, err := s.redis.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return Decode(data)
}

// Clear implements Store.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.redis.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
