package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces attempt counters in Redis.
const DefaultKeyPrefix = "aca"

// RedisCounter is a Counter shared through Redis. It is used where one
// process serves many connections and each connection's flow needs its own
// counter (scope is typically a session or client identifier).
type RedisCounter struct {
	redis redis.UniversalClient
	rule  Rule
	key   string
	now   func() time.Time
}

// NewRedisCounter creates a counter stored under prefix:flow:scope.
func NewRedisCounter(client redis.UniversalClient, rule Rule, prefix, flow, scope string) *RedisCounter {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisCounter{
		redis: client,
		rule:  rule,
		key:   prefix + ":" + flow + ":" + scope,
		now:   time.Now,
	}
}

func (c *RedisCounter) lockKey() string {
	return c.key + ":lock"
}

// Status implements Counter.
func (c *RedisCounter) Status(ctx context.Context) (Status, error) {
	pipe := c.redis.Pipeline()
	countCmd := pipe.Get(ctx, c.key)
	lockCmd := pipe.Get(ctx, c.lockKey())
	ttlCmd := pipe.PTTL(ctx, c.lockKey())
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Status{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	lockedSince, locked, err := parseLock(lockCmd)
	if err != nil {
		return Status{}, err
	}
	if locked {
		return Status{
			Attempts:    c.rule.MaxAttempts,
			Locked:      true,
			LockedSince: lockedSince,
			Remaining:   ttlCmd.Val(),
		}, nil
	}

	count, err := countCmd.Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Status{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		count = 0
	}
	return Status{Attempts: count}, nil
}

// Fail implements Counter.
func (c *RedisCounter) Fail(ctx context.Context) (Status, error) {
	status, err := c.Status(ctx)
	if err != nil || status.Locked {
		return status, err
	}

	// Fixed window from the first failure: the key is created with its
	// expiry in the same transaction that counts, and INCR keeps the TTL.
	tx := c.redis.TxPipeline()
	tx.SetNX(ctx, c.key, 0, c.rule.Window)
	incr := tx.Incr(ctx, c.key)
	if _, err := tx.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Status{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	count := incr.Val()
	if count < int64(c.rule.MaxAttempts) {
		return Status{Attempts: int(count)}, nil
	}

	now := c.now()
	pipe := c.redis.TxPipeline()
	pipe.Set(ctx, c.lockKey(), strconv.FormatInt(now.UnixMilli(), 10), c.rule.Window)
	pipe.Del(ctx, c.key)
	if _, err := pipe.Exec(ctx); err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return Status{
		Attempts:    c.rule.MaxAttempts,
		Locked:      true,
		LockedSince: now,
		Remaining:   c.rule.Window,
	}, nil
}

// Reset implements Counter.
func (c *RedisCounter) Reset(ctx context.Context) error {
	if err := c.redis.Del(ctx, c.key, c.lockKey()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func parseLock(cmd *redis.StringCmd) (time.Time, bool, error) {
	raw, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// A lock marker we cannot read still locks.
		return time.Time{}, true, nil
	}
	return time.UnixMilli(ms), true, nil
}
