package recoverylink

import (
	"sync"
	"time"
)

// consumedRetention applies when a consumed link has no expiry hint.
const consumedRetention = 24 * time.Hour

// Registry remembers fingerprints of links that already established a
// session, so the same link cannot be exchanged twice in one process.
type Registry struct {
	mu   sync.Mutex
	now  func() time.Time
	seen map[[32]byte]time.Time
}

// NewRegistry creates an empty Registry; now may be nil (time.Now).
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{now: now, seen: make(map[[32]byte]time.Time)}
}

// MarkConsumed records fp until expiresAt (or a default retention).
func (r *Registry) MarkConsumed(fp [32]byte, expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if expiresAt.IsZero() || expiresAt.Before(now) {
		expiresAt = now.Add(consumedRetention)
	}
	r.seen[fp] = expiresAt
	r.pruneLocked(now)
}

// IsConsumed reports whether fp was recorded and has not aged out.
func (r *Registry) IsConsumed(fp [32]byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	until, ok := r.seen[fp]
	if !ok {
		return false
	}
	if !r.now().Before(until) {
		delete(r.seen, fp)
		return false
	}
	return true
}

func (r *Registry) pruneLocked(now time.Time) {
	for fp, until := range r.seen {
		if !now.Before(until) {
			delete(r.seen, fp)
		}
	}
}
