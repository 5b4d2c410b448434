package backpressure

import (
	"sync"
	"time"
)

// breakerState is one of CLOSED, OPEN, HALF_OPEN (spec §4.6).
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// breakerConfig holds the circuit breaker's tunables. The defaults below
// are this implementation's Open Question resolution (see DESIGN.md):
// the spec names the mechanism but not the constants.
type breakerConfig struct {
	failureThreshold  int
	failureWindow     time.Duration
	cooldown          time.Duration
	halfOpenProbes    int
	successesToClose  int
}

var defaultBreakerConfig = breakerConfig{
	failureThreshold: 5,
	failureWindow:    30 * time.Second,
	cooldown:         15 * time.Second,
	halfOpenProbes:   2,
	successesToClose: 2,
}

// breaker is a per-instance circuit breaker guarding a token bucket.
type breaker struct {
	cfg breakerConfig

	mu               sync.Mutex
	state            breakerState
	failures         []time.Time // sliding window of recent failure timestamps
	openedAt         time.Time
	halfOpenInFlight int
	halfOpenSuccess  int
}

func newBreaker(cfg breakerConfig) *breaker {
	return &breaker{cfg: cfg, state: breakerClosed}
}

// allow reports whether a new lease may be attempted right now, and if
// so, whether this attempt is a half-open probe (so the caller can cap
// concurrent probes).
func (b *breaker) allow(now time.Time) (ok bool, isProbe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true, false
	case breakerOpen:
		if now.Sub(b.openedAt) >= b.cfg.cooldown {
			b.state = breakerHalfOpen
			b.halfOpenInFlight = 0
			b.halfOpenSuccess = 0
		} else {
			return false, false
		}
		fallthrough
	case breakerHalfOpen:
		if b.halfOpenInFlight >= b.cfg.halfOpenProbes {
			return false, false
		}
		b.halfOpenInFlight++
		return true, true
	default:
		return false, false
	}
}

// record reports the outcome of a lease that allow() previously admitted.
func (b *breaker) record(now time.Time, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerHalfOpen:
		b.halfOpenInFlight--
		if success {
			b.halfOpenSuccess++
			if b.halfOpenSuccess >= b.cfg.successesToClose {
				b.state = breakerClosed
				b.failures = nil
			}
		} else {
			b.trip(now)
		}
	case breakerClosed:
		if success {
			return
		}
		b.failures = append(b.failures, now)
		b.pruneWindow(now)
		if len(b.failures) >= b.cfg.failureThreshold {
			b.trip(now)
		}
	}
}

func (b *breaker) trip(now time.Time) {
	b.state = breakerOpen
	b.openedAt = now
	b.failures = nil
	b.halfOpenInFlight = 0
	b.halfOpenSuccess = 0
}

func (b *breaker) pruneWindow(now time.Time) {
	cutoff := now.Add(-b.cfg.failureWindow)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = kept
}

// abandon releases a half-open probe slot that allow() granted but whose
// attempt never actually reached the backend (e.g. the wait queue was
// full or the caller's context was cancelled before a token freed up). It
// must not count as either a success or a failure.
func (b *breaker) abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerHalfOpen && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}
}

func (b *breaker) currentState() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
