// Package pool implements the Adapter Pool (spec §4.7): a keyed cache of
// connected transport adapters with idle reaping and single-flight
// connect deduplication, grounded on the teacher's singleflight-backed
// metadata cache in internal/oauth/client.go.
package pool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/giantswarm/mcp-gatekeeper/internal/transport"
	"github.com/giantswarm/mcp-gatekeeper/pkg/logging"
)

// DefaultIdleTimeout is how long an adapter may sit unused before the
// pool disconnects and evicts it.
const DefaultIdleTimeout = 5 * time.Minute

// reapInterval is how often the pool scans for idle adapters.
const reapInterval = 30 * time.Second

// Factory constructs a not-yet-connected adapter for an instance id. The
// pool calls Connect on the result before returning it to a caller.
type Factory func(ctx context.Context, instanceID string) (transport.Adapter, error)

type entry struct {
	adapter    transport.Adapter
	lastUsedAt time.Time
}

// Pool maps instance id to a connected adapter, connecting lazily on
// first use and sharing the in-flight connect attempt across concurrent
// callers for the same id.
type Pool struct {
	factory     Factory
	idleTimeout time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	group singleflight.Group

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New constructs a Pool. idleTimeout <= 0 uses DefaultIdleTimeout.
func New(factory Factory, idleTimeout time.Duration) *Pool {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	p := &Pool{
		factory:     factory,
		idleTimeout: idleTimeout,
		entries:     make(map[string]*entry),
		stopCh:      make(chan struct{}),
	}
	go p.reapLoop()
	return p
}

// Get returns a connected adapter for instanceID, creating and
// connecting one if necessary. Concurrent Get calls for the same id that
// race the first connect all block on, and share, that single attempt.
func (p *Pool) Get(ctx context.Context, instanceID string) (transport.Adapter, error) {
	p.mu.Lock()
	if e, ok := p.entries[instanceID]; ok && e.adapter.IsConnected() {
		e.lastUsedAt = time.Now()
		p.mu.Unlock()
		return e.adapter, nil
	}
	p.mu.Unlock()

	result, err, _ := p.group.Do(instanceID, func() (interface{}, error) {
		p.mu.Lock()
		if e, ok := p.entries[instanceID]; ok && e.adapter.IsConnected() {
			p.mu.Unlock()
			return e.adapter, nil
		}
		p.mu.Unlock()

		adapter, err := p.factory(ctx, instanceID)
		if err != nil {
			return nil, err
		}
		if err := adapter.Connect(ctx); err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.entries[instanceID] = &entry{adapter: adapter, lastUsedAt: time.Now()}
		p.mu.Unlock()
		return adapter, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(transport.Adapter), nil
}

// Release disconnects and evicts the adapter for instanceID, if present.
// Idempotent.
func (p *Pool) Release(instanceID string) {
	p.mu.Lock()
	e, ok := p.entries[instanceID]
	if ok {
		delete(p.entries, instanceID)
	}
	p.mu.Unlock()

	if ok {
		if err := e.adapter.Disconnect(); err != nil {
			logging.Debug("pool", "error disconnecting adapter for instance %s: %v", instanceID, err)
		}
	}
}

// Close stops the reaper and disconnects every pooled adapter.
func (p *Pool) Close() {
	p.stopOnce.Do(func() { close(p.stopCh) })

	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*entry)
	p.mu.Unlock()

	for _, e := range entries {
		_ = e.adapter.Disconnect()
	}
}

func (p *Pool) reapLoop() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

func (p *Pool) reapIdle() {
	now := time.Now()

	p.mu.Lock()
	var toEvict []string
	for id, e := range p.entries {
		if now.Sub(e.lastUsedAt) >= p.idleTimeout || !e.adapter.IsConnected() {
			toEvict = append(toEvict, id)
		}
	}
	evicted := make([]*entry, 0, len(toEvict))
	for _, id := range toEvict {
		evicted = append(evicted, p.entries[id])
		delete(p.entries, id)
	}
	p.mu.Unlock()

	for _, e := range evicted {
		_ = e.adapter.Disconnect()
	}
}
