package rate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited reports that the flow is locked.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps Redis transport failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// LimitedError is returned while a flow is locked. It matches ErrRateLimited.
type LimitedError struct {
	Remaining time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry in %s", e.Remaining.Round(time.Second))
}

// Is reports whether target is ErrRateLimited.
func (e *LimitedError) Is(target error) bool {
	return target == ErrRateLimited
}
