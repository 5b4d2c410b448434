package auth

import (
	"context"
	"sync"
	"time"

	"github.com/giantswarm/mcp-gatekeeper/internal/gwerrors"
)

// DefaultWindow and DefaultLimit mirror the teacher's own rate limiter
// defaults (10 attempts per minute), generalized here to an arbitrary
// per-subject request budget rather than being auth-attempt-specific.
const (
	DefaultWindow = time.Minute
	DefaultLimit  = 10
)

// Store is the sliding-window counting primitive the rate limiter runs
// on. MemoryStore satisfies it in-process; a distributed backend (Redis,
// Memcached, etc.) can satisfy the same interface with an
// increment-with-expiry primitive (spec §4.9) without the limiter itself
// changing. No concrete distributed implementation ships — wiring one in
// is a deployment concern outside this gateway's scope.
type Store interface {
	// Admit prunes entries for key older than window, then, only if the
	// remaining count plus cost is at or under limit, appends cost new
	// entries at now and reports admitted=true. A rejected attempt is
	// never recorded, so it cannot itself inflate the window.
	Admit(ctx context.Context, key string, now time.Time, window time.Duration, limit, cost int) (admitted bool, count int, err error)
}

// MemoryStore is an in-process sliding-window Store, grounded on the
// teacher's AuthRateLimiter (internal/aggregator/auth_rate_limiter.go),
// generalized from a fixed auth-attempt counter into an arbitrary
// integer cost per request so it can gate general traffic, not just
// login attempts.
type MemoryStore struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

// NewMemoryStore constructs an empty in-process Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{attempts: make(map[string][]time.Time)}
}

// Admit implements Store.
func (s *MemoryStore) Admit(ctx context.Context, key string, now time.Time, window time.Duration, limit, cost int) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	windowStart := now.Add(-window)
	var recent []time.Time
	for _, t := range s.attempts[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent)+cost > limit {
		// Still persist the pruned (but not appended-to) window so a
		// blocked caller's rejected attempts don't themselves linger.
		s.attempts[key] = recent
		return false, len(recent), nil
	}

	for i := 0; i < cost; i++ {
		recent = append(recent, now)
	}
	s.attempts[key] = recent
	return true, len(recent), nil
}

// Cleanup drops subjects with no attempts left in any retained window,
// bounding long-term memory growth for keys that stop appearing.
func (s *MemoryStore) Cleanup(olderThan time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	for key, attempts := range s.attempts {
		var recent []time.Time
		for _, t := range attempts {
			if t.After(cutoff) {
				recent = append(recent, t)
			}
		}
		if len(recent) == 0 {
			delete(s.attempts, key)
		} else {
			s.attempts[key] = recent
		}
	}
}

// RateLimiter admits or rejects requests under a sliding-window budget
// per subject key (spec §4.9).
type RateLimiter struct {
	store  Store
	limit  int
	window time.Duration
}

// Config tunes the limit and window; zero values take the defaults.
type Config struct {
	Limit  int
	Window time.Duration
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	return c
}

// NewRateLimiter constructs a RateLimiter backed by store.
func NewRateLimiter(store Store, cfg Config) *RateLimiter {
	cfg = cfg.withDefaults()
	return &RateLimiter{store: store, limit: cfg.Limit, window: cfg.Window}
}

// Allow admits one request of the given cost for key if doing so keeps
// the subject's sliding-window count at or under the limit (spec §4.9:
// "admit if count + cost <= limit"). Rejections still prune the window's
// stale entries but never record the rejected attempt itself.
func (r *RateLimiter) Allow(ctx context.Context, key string, cost int) error {
	if cost <= 0 {
		cost = 1
	}
	admitted, _, err := r.store.Admit(ctx, key, time.Now(), r.window, r.limit, cost)
	if err != nil {
		return gwerrors.Wrap(gwerrors.Internal, err, "rate limit store error")
	}
	if !admitted {
		return gwerrors.New(gwerrors.RateLimited, "rate limit exceeded")
	}
	return nil
}
