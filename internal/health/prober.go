// Package health implements the Health Prober (spec §4.4): a TTL-cached,
// bounded-concurrency sweep that issues a cheap protocol probe against
// every running instance and records the result in the Observation Store.
package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/mcp-gatekeeper/internal/gwerrors"
	"github.com/giantswarm/mcp-gatekeeper/internal/store"
	"github.com/giantswarm/mcp-gatekeeper/internal/transport"
	"github.com/giantswarm/mcp-gatekeeper/pkg/logging"
)

// DefaultTTL is how long a health observation is trusted before a probe
// is considered due again.
const DefaultTTL = 10 * time.Second

// DefaultProbeTimeout bounds a single probe's round trip.
const DefaultProbeTimeout = 3 * time.Second

// ProbeMethod is the MCP method used as the liveness probe. tools/list is
// cheap and every backend is expected to answer it.
const ProbeMethod = "tools/list"

// AdapterLookup resolves a running instance to the adapter that should be
// probed, typically via the adapter pool.
type AdapterLookup func(ctx context.Context, inst store.Instance) (transport.Adapter, error)

// Config tunes the prober's cadence and fan-out.
type Config struct {
	TTL           time.Duration
	ProbeTimeout  time.Duration
	MaxConcurrent int // 0 or negative means unbounded, per errgroup.SetLimit semantics
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	return c
}

// Prober periodically probes every running instance and writes the
// result into the store as a Health snapshot.
type Prober struct {
	cfg    Config
	store  *store.Store
	lookup AdapterLookup

	mu       sync.Mutex
	lastRun  map[string]time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New constructs a Prober. lookup resolves an instance to a connected
// adapter (usually backed by the adapter pool).
func New(st *store.Store, lookup AdapterLookup, cfg Config) *Prober {
	return &Prober{
		cfg:     cfg.withDefaults(),
		store:   st,
		lookup:  lookup,
		lastRun: make(map[string]time.Time),
		stopCh:  make(chan struct{}),
	}
}

// Run starts the periodic sweep loop and blocks until ctx is cancelled or
// Stop is called.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.TTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Stop halts the Run loop; idempotent.
func (p *Prober) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Sweep probes every running/degraded instance whose last observation is
// older than TTL, bounded to MaxConcurrent in flight at once.
func (p *Prober) Sweep(ctx context.Context) {
	instances := p.store.ListInstances()

	g, gctx := errgroup.WithContext(ctx)
	if p.cfg.MaxConcurrent > 0 {
		g.SetLimit(p.cfg.MaxConcurrent)
	}

	for _, inst := range instances {
		inst := inst
		if inst.State != store.StateRunning && inst.State != store.StateDegraded {
			continue
		}
		if !p.due(inst.ID) {
			continue
		}
		g.Go(func() error {
			p.probeOne(gctx, inst)
			return nil
		})
	}

	// Errors are recorded per-instance as Health snapshots, never
	// propagated: one slow/failing backend must not cancel its siblings'
	// probes (gctx would otherwise cascade-cancel the group on first error).
	_ = g.Wait()
}

func (p *Prober) due(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	last, ok := p.lastRun[id]
	if ok && time.Since(last) < p.cfg.TTL {
		return false
	}
	p.lastRun[id] = time.Now()
	return true
}

func (p *Prober) probeOne(ctx context.Context, inst store.Instance) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	healthy, probeErr := p.probe(ctx, inst)
	latency := float64(time.Since(start).Milliseconds())

	h := store.Health{
		InstanceID: inst.ID,
		Healthy:    healthy,
		LatencyMs:  &latency,
		ObservedAt: time.Now(),
	}
	if probeErr != nil {
		h.Error = probeErr.Error()
		logging.Warn("health.prober", "probe failed for instance %s: %v", inst.ID, probeErr)
	}

	if err := p.store.SetHealth(ctx, h); err != nil {
		logging.Error("health.prober", err, "failed to record health for instance %s", inst.ID)
	}
}

func (p *Prober) probe(ctx context.Context, inst store.Instance) (bool, error) {
	if p.lookup == nil {
		return false, gwerrors.New(gwerrors.Internal, "no adapter lookup configured")
	}
	adapter, err := p.lookup(ctx, inst)
	if err != nil {
		return false, err
	}

	frame := transport.Frame{JSONRPC: "2.0", Method: ProbeMethod}
	resp, err := adapter.SendAndReceive(ctx, frame, p.cfg.ProbeTimeout)
	if err != nil {
		return false, err
	}
	if resp.Error != nil {
		return false, gwerrors.New(gwerrors.ProtocolError, resp.Error.Message)
	}
	return true, nil
}
