package password

import (
	"errors"
	"sync"
)

// DefaultHistorySize bounds the number of remembered candidates.
const DefaultHistorySize = 5

// History remembers candidates that the identity backend refused because they
// equal the account's existing password. Only Argon2id digests are kept, so a
// History never holds plaintext.
//
// A History is scoped to one recovery attempt and is safe for concurrent use.
type History struct {
	mu      sync.Mutex
	hasher  *Hasher
	size    int
	digests []string
}

// NewHistory returns a History keeping at most size digests (oldest evicted
// first). size <= 0 uses DefaultHistorySize.
func NewHistory(hasher *Hasher, size int) (*History, error) {
	if hasher == nil {
		return nil, errors.New("history hasher must not be nil")
	}
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{hasher: hasher, size: size}, nil
}

// Remember records candidate.
func (h *History) Remember(candidate string) error {
	digest, err := h.hasher.Digest(candidate)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.digests) == h.size {
		copy(h.digests, h.digests[1:])
		h.digests = h.digests[:h.size-1]
	}
	h.digests = append(h.digests, digest)
	return nil
}

// Contains reports whether candidate was remembered. Undecodable digests never
// match.
func (h *History) Contains(candidate string) bool {
	if candidate == "" {
		return false
	}

	h.mu.Lock()
	digests := append([]string(nil), h.digests...)
	h.mu.Unlock()

	for _, digest := range digests {
		if ok, err := h.hasher.Matches(candidate, digest); err == nil && ok {
			return true
		}
	}
	return false
}

// Len returns the number of remembered digests.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.digests)
}
