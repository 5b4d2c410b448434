// Package eventbus implements the gateway's in-process typed pub/sub
// (spec §4.10): a bounded central queue drained by a single goroutine that
// fans events out to bounded per-subscriber queues, with event-id dedup and
// per-handler delivery timeouts. A subscriber that panics or times out does
// not affect delivery to any other subscriber.
package eventbus

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/giantswarm/mcp-gatekeeper/pkg/logging"
)

const (
	// DefaultQueueDepth is the default capacity of the central publish queue.
	DefaultQueueDepth = 64
	// DefaultBufferSize is the default capacity of each subscriber's queue.
	DefaultBufferSize = 16
	// DefaultHandlerTimeout bounds how long a single handler invocation may run.
	DefaultHandlerTimeout = 5 * time.Second
	// dedupCapacity is the size of the least-recently-seen event-id filter.
	dedupCapacity = 256
)

// Handler receives one event. It must not block indefinitely; the bus
// enforces a timeout around each call regardless.
type Handler func(ctx context.Context, event Event)

// Config tunes the bus's queue depths and timeouts.
type Config struct {
	QueueDepth     int
	BufferSize     int
	HandlerTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueDepth <= 0 {
		c.QueueDepth = DefaultQueueDepth
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = DefaultHandlerTimeout
	}
	return c
}

type subscription struct {
	id      uint64
	types   map[Type]bool // nil/empty means "all types"
	queue   chan Event
	closeCh chan struct{}
	once    sync.Once
}

func (s *subscription) matches(t Type) bool {
	if len(s.types) == 0 {
		return true
	}
	return s.types[t]
}

func (s *subscription) close() {
	s.once.Do(func() {
		close(s.closeCh)
	})
}

// Bus is the event bus. Zero value is not usable; construct with New.
type Bus struct {
	cfg Config

	publishCh chan Event
	done      chan struct{}

	mu      sync.Mutex
	subs    map[uint64]*subscription
	nextID  uint64
	dedup   *lru
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// New constructs and starts a Bus. Call Close to drain and stop it.
func New(cfg Config) *Bus {
	cfg = cfg.withDefaults()
	b := &Bus{
		cfg:       cfg,
		publishCh: make(chan Event, cfg.QueueDepth),
		done:      make(chan struct{}),
		subs:      make(map[uint64]*subscription),
		dedup:     newLRU(dedupCapacity),
	}
	b.wg.Add(1)
	go b.drainLoop()
	return b
}

// Publish enqueues an event for delivery. It never blocks the caller
// indefinitely for longer than it takes to either enqueue or observe bus
// shutdown.
func (b *Bus) Publish(event Event) {
	select {
	case b.publishCh <- event:
	case <-b.done:
	}
}

// Subscribe registers a handler for the given types (or all types, if none
// are given). Returns an unsubscribe function; calling it drains and drops
// the subscriber's queue (spec §4.10).
func (b *Bus) Subscribe(handler Handler, types ...Type) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID

	var typeSet map[Type]bool
	if len(types) > 0 {
		typeSet = make(map[Type]bool, len(types))
		for _, t := range types {
			typeSet[t] = true
		}
	}

	sub := &subscription{
		id:      id,
		types:   typeSet,
		queue:   make(chan Event, b.cfg.BufferSize),
		closeCh: make(chan struct{}),
	}
	b.subs[id] = sub

	b.wg.Add(1)
	go b.serve(sub, handler)

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		sub.close()
	}
}

// Close stops accepting new events, signals all subscribers closed, and
// waits for in-flight handler calls to finish.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	close(b.done)
	for _, s := range subs {
		s.close()
	}
	b.wg.Wait()
}

func (b *Bus) drainLoop() {
	defer b.wg.Done()
	for {
		select {
		case event := <-b.publishCh:
			b.dispatch(event)
		case <-b.done:
			// Drain whatever is already queued, then stop.
			for {
				select {
				case event := <-b.publishCh:
					b.dispatch(event)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) dispatch(event Event) {
	b.mu.Lock()
	if event.ID != "" {
		if b.dedup.seen(event.ID) {
			b.mu.Unlock()
			return
		}
	}
	targets := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.matches(event.Type) {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	for _, s := range targets {
		select {
		case s.queue <- event:
		default:
			// Subscriber queue full: overflow silently drops (spec §4.10).
			logging.Debug("eventbus", "dropping event %s for slow subscriber", event.Type)
		}
	}
}

func (b *Bus) serve(sub *subscription, handler Handler) {
	defer b.wg.Done()
	for {
		select {
		case event := <-sub.queue:
			b.callHandler(handler, event)
		case <-sub.closeCh:
			return
		}
	}
}

func (b *Bus) callHandler(handler Handler, event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.HandlerTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				logging.Error("eventbus", nil, "subscriber panicked handling %s: %v", event.Type, r)
			}
		}()
		handler(ctx, event)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		logging.Warn("eventbus", "handler timed out delivering %s", event.Type)
	}
}

// lru is a bounded least-recently-seen set used for event-id dedup.
type lru struct {
	capacity int
	ll       *list.List
	index    map[string]*list.Element
}

func newLRU(capacity int) *lru {
	return &lru{capacity: capacity, ll: list.New(), index: make(map[string]*list.Element)}
}

// seen reports whether id was already recorded, and records it if not.
func (l *lru) seen(id string) bool {
	if el, ok := l.index[id]; ok {
		l.ll.MoveToFront(el)
		return true
	}
	el := l.ll.PushFront(id)
	l.index[id] = el
	if l.ll.Len() > l.capacity {
		back := l.ll.Back()
		if back != nil {
			l.ll.Remove(back)
			delete(l.index, back.Value.(string))
		}
	}
	return false
}
