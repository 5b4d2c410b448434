// Package backpressure implements the Backpressure Controller (spec
// §4.6): a per-instance token bucket bounded by a FIFO wait queue, guarded
// by a circuit breaker.
package backpressure

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/giantswarm/mcp-gatekeeper/internal/gwerrors"
)

// DefaultCapacity is the token bucket's default capacity.
const DefaultCapacity = 10

// DefaultRefillRate is the default token refill rate, tokens/sec.
const DefaultRefillRate = 5.0

// DefaultQueueDepth is the default maximum FIFO wait queue depth.
const DefaultQueueDepth = 32

// tickerInterval bounds how often waiters are granted tokens or expired
// (spec §4.6: "a periodic ticker (≤ 50ms)").
const tickerInterval = 25 * time.Millisecond

// Lease is returned by Acquire and must be passed to Release exactly
// once, reporting whether the guarded operation succeeded.
type Lease struct {
	instanceID string
	isProbe    bool
}

// Config tunes one instance's bucket/queue/breaker triple.
type Config struct {
	Capacity   int
	RefillRate float64
	QueueDepth int
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.RefillRate <= 0 {
		c.RefillRate = DefaultRefillRate
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = DefaultQueueDepth
	}
	return c
}

type waiter struct {
	deadline time.Time
	resultCh chan error
	isProbe  bool
}

type instanceState struct {
	cfg Config

	mu       sync.Mutex
	tokens   float64
	lastFill time.Time
	queue    *list.List // of *waiter
	breaker  *breaker
}

// Controller owns one instanceState per instance id and a single ticker
// goroutine draining every instance's wait queue.
type Controller struct {
	defaultCfg    Config
	breakerCfg    breakerConfig

	mu        sync.Mutex
	instances map[string]*instanceState

	inFlight int64

	stopCh   chan struct{}
	stopOnce sync.Once
}

// InFlight reports the number of leases currently held across every
// instance (acquired but not yet released), for status/observability
// reporting.
func (c *Controller) InFlight() int {
	return int(atomic.LoadInt64(&c.inFlight))
}

// New constructs a Controller using defaultCfg for any instance id not
// given an explicit Config via Configure.
func New(defaultCfg Config) *Controller {
	c := &Controller{
		defaultCfg: defaultCfg.withDefaults(),
		breakerCfg: defaultBreakerConfig,
		instances:  make(map[string]*instanceState),
		stopCh:     make(chan struct{}),
	}
	go c.tickLoop()
	return c
}

// Configure installs a non-default bucket configuration for instanceID,
// used, e.g., when a template specifies its own throughput limits.
func (c *Controller) Configure(instanceID string, cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stateLocked(instanceID)
	st.mu.Lock()
	st.cfg = cfg.withDefaults()
	st.mu.Unlock()
}

// Close stops the ticker goroutine.
func (c *Controller) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Controller) stateLocked(instanceID string) *instanceState {
	st, ok := c.instances[instanceID]
	if !ok {
		st = &instanceState{
			cfg:      c.defaultCfg,
			tokens:   float64(c.defaultCfg.Capacity),
			lastFill: time.Now(),
			queue:    list.New(),
			breaker:  newBreaker(c.breakerCfg),
		}
		c.instances[instanceID] = st
	}
	return st
}

func (c *Controller) state(instanceID string) *instanceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(instanceID)
}

// Acquire obtains a lease to call instanceID, waiting up to timeout if no
// token is immediately available. Fails with BreakerOpen, QueueFull, or
// Timeout (spec §4.6).
func (c *Controller) Acquire(ctx context.Context, instanceID string, timeout time.Duration) (Lease, error) {
	st := c.state(instanceID)
	now := time.Now()

	ok, isProbe := st.breaker.allow(now)
	if !ok {
		return Lease{}, gwerrors.New(gwerrors.BreakerOpen, "circuit breaker open for instance "+instanceID)
	}

	st.mu.Lock()
	st.refill(now)
	if st.tokens >= 1 {
		st.tokens--
		st.mu.Unlock()
		atomic.AddInt64(&c.inFlight, 1)
		return Lease{instanceID: instanceID, isProbe: isProbe}, nil
	}
	if st.queue.Len() >= st.cfg.QueueDepth {
		st.mu.Unlock()
		st.breaker.abandon()
		return Lease{}, gwerrors.New(gwerrors.QueueFull, "wait queue full for instance "+instanceID)
	}

	w := &waiter{deadline: now.Add(timeout), resultCh: make(chan error, 1), isProbe: isProbe}
	elem := st.queue.PushBack(w)
	st.mu.Unlock()

	select {
	case err := <-w.resultCh:
		if err != nil {
			return Lease{}, err
		}
		atomic.AddInt64(&c.inFlight, 1)
		return Lease{instanceID: instanceID, isProbe: isProbe}, nil
	case <-ctx.Done():
		st.removeWaiter(elem)
		st.breaker.abandon()
		return Lease{}, gwerrors.Wrap(gwerrors.Timeout, ctx.Err(), "context cancelled while waiting for token")
	}
}

func (st *instanceState) removeWaiter(elem *list.Element) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.queue.Remove(elem)
}

func (st *instanceState) refill(now time.Time) {
	elapsed := now.Sub(st.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}
	st.tokens += elapsed * st.cfg.RefillRate
	if st.tokens > float64(st.cfg.Capacity) {
		st.tokens = float64(st.cfg.Capacity)
	}
	st.lastFill = now
}

// Release reports the outcome of a leased call, feeding the circuit
// breaker's success/failure accounting.
func (c *Controller) Release(lease Lease, success bool) {
	if lease.instanceID == "" {
		return
	}
	atomic.AddInt64(&c.inFlight, -1)
	st := c.state(lease.instanceID)
	st.breaker.record(time.Now(), success)
}

func (c *Controller) tickLoop() {
	ticker := time.NewTicker(tickerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.drainAll()
		}
	}
}

func (c *Controller) drainAll() {
	c.mu.Lock()
	states := make([]*instanceState, 0, len(c.instances))
	for _, st := range c.instances {
		states = append(states, st)
	}
	c.mu.Unlock()

	now := time.Now()
	for _, st := range states {
		st.drain(now)
	}
}

func (st *instanceState) drain(now time.Time) {
	st.mu.Lock()
	st.refill(now)

	var expired []*waiter
	for st.queue.Len() > 0 {
		front := st.queue.Front()
		w := front.Value.(*waiter)

		if now.After(w.deadline) {
			st.queue.Remove(front)
			expired = append(expired, w)
			continue
		}
		if st.tokens < 1 {
			break
		}
		st.tokens--
		st.queue.Remove(front)
		w.resultCh <- nil
	}
	st.mu.Unlock()

	for _, w := range expired {
		if w.isProbe {
			st.breaker.abandon()
		}
	}
	for _, w := range expired {
		w.resultCh <- gwerrors.New(gwerrors.Timeout, "timed out waiting in backpressure queue")
	}
}
