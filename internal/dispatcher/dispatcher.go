// Package dispatcher implements the Dispatcher request pipeline (spec
// §4.8): resolve a template, pick a healthy running instance, acquire
// backpressure, exchange one MCP frame through the adapter pool, and
// record the outcome — with bounded retry over idempotent reads.
package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/giantswarm/mcp-gatekeeper/internal/balancer"
	"github.com/giantswarm/mcp-gatekeeper/internal/backpressure"
	"github.com/giantswarm/mcp-gatekeeper/internal/gwerrors"
	"github.com/giantswarm/mcp-gatekeeper/internal/pool"
	"github.com/giantswarm/mcp-gatekeeper/internal/store"
	"github.com/giantswarm/mcp-gatekeeper/internal/transport"
	"github.com/giantswarm/mcp-gatekeeper/pkg/logging"
)

// DefaultHealthTTL bounds how stale a cached health snapshot may be
// before the health gate (step 5) treats the instance as unverified.
const DefaultHealthTTL = 10 * time.Second

// DefaultRequestTimeout is the adapter exchange timeout used when a
// template sets no timeoutMs.
const DefaultRequestTimeout = 30 * time.Second

// idempotentMethods may be retried after a connect/write failure without
// risking a duplicate side effect (spec §4.8).
var idempotentMethods = map[string]bool{
	"tools/list":     true,
	"tools/describe": true,
}

// StartInstanceFunc starts a new instance realizing tpl when a template
// has no running candidates. The Dispatcher has no opinion on how an
// instance is actually launched (spec §4.8: "outside core") — this hook
// is supplied by the application wiring, typically backed by the
// transport package's Connect plus a SetInstance(starting->running) walk
// through the store's lifecycle state machine.
type StartInstanceFunc func(ctx context.Context, tpl store.Template) (store.Instance, error)

// Config tunes the dispatcher's defaults.
type Config struct {
	Strategy  balancer.Strategy
	HealthTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = balancer.Performance
	}
	if c.HealthTTL <= 0 {
		c.HealthTTL = DefaultHealthTTL
	}
	return c
}

// Dispatcher wires the Observation Store, Load Balancer, Backpressure
// Controller, and Adapter Pool into the per-request pipeline.
type Dispatcher struct {
	cfg          Config
	store        *store.Store
	balancer     *balancer.Balancer
	backpressure *backpressure.Controller
	pool         *pool.Pool
	startFn      StartInstanceFunc
}

// New constructs a Dispatcher. startFn may be nil, in which case an empty
// candidate set always fails with NoHealthyInstance instead of launching
// a new one.
func New(st *store.Store, bal *balancer.Balancer, bp *backpressure.Controller, p *pool.Pool, startFn StartInstanceFunc, cfg Config) *Dispatcher {
	return &Dispatcher{
		cfg:          cfg.withDefaults(),
		store:        st,
		balancer:     bal,
		backpressure: bp,
		pool:         p,
		startFn:      startFn,
	}
}

// Route implements spec §4.8 steps 3–6: resolve the template, build the
// health-gated candidate set, and let the load balancer pick one —
// without acquiring backpressure or executing anything. Used by
// POST /api/route.
func (d *Dispatcher) Route(ctx context.Context, templateName, method string) (store.Instance, error) {
	_, candidates, err := d.candidates(ctx, templateName)
	if err != nil {
		return store.Instance{}, err
	}
	return d.pick(candidates, templateName)
}

// Execute implements the full spec §4.8 pipeline from step 3 onward:
// resolve template, candidate set, health gate, load-balance, acquire
// backpressure, exchange the frame through a pooled adapter, record the
// outcome, release backpressure, and retry idempotent reads on
// connect/write failures up to template.Retries times.
func (d *Dispatcher) Execute(ctx context.Context, templateName, method string, params json.RawMessage, retriesOverride *int) (transport.Frame, error) {
	tpl, candidates, err := d.candidates(ctx, templateName)
	if err != nil {
		return transport.Frame{}, err
	}

	retries := tpl.Retries
	if retriesOverride != nil {
		retries = *retriesOverride
	}
	if retries < 0 {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		inst, err := d.pick(candidates, templateName)
		if err != nil {
			return transport.Frame{}, err
		}

		frame, execErr := d.executeOn(ctx, tpl, inst, method, params)
		if execErr == nil {
			return frame, nil
		}
		lastErr = execErr

		if !retryable(execErr, method) {
			return transport.Frame{}, execErr
		}
		logging.Warn("dispatcher", "retrying %s on template %s after attempt %d: %v", method, templateName, attempt+1, execErr)

		// Re-derive candidates for the next attempt so the retry is a fresh
		// balancer pick over the current set, which may be the same instance.
		_, candidates, err = d.candidates(ctx, templateName)
		if err != nil {
			return transport.Frame{}, err
		}
	}
	return transport.Frame{}, lastErr
}

func (d *Dispatcher) candidates(ctx context.Context, templateName string) (store.Template, []store.Instance, error) {
	tpl, ok := d.store.GetTemplate(templateName)
	if !ok {
		return store.Template{}, nil, gwerrors.New(gwerrors.NotFound, "unknown template: "+templateName)
	}

	running := d.store.ListInstancesByTemplate(templateName, store.StateRunning)
	if len(running) == 0 {
		inst, started := d.tryStart(ctx, tpl)
		if !started {
			return store.Template{}, nil, gwerrors.New(gwerrors.NoHealthyInstance, "no running instances for template: "+templateName)
		}
		running = []store.Instance{inst}
	}

	gated := d.healthGate(running)
	if len(gated) == 0 {
		return store.Template{}, nil, gwerrors.New(gwerrors.NoHealthyInstance, "all instances of template unhealthy or unverified: "+templateName)
	}
	return tpl, gated, nil
}

func (d *Dispatcher) tryStart(ctx context.Context, tpl store.Template) (store.Instance, bool) {
	if d.startFn == nil {
		return store.Instance{}, false
	}
	inst, err := d.startFn(ctx, tpl)
	if err != nil {
		logging.Warn("dispatcher", "failed to start instance for template %s: %v", tpl.Name, err)
		return store.Instance{}, false
	}
	return inst, true
}

// healthGate removes instances whose last health snapshot reports
// unhealthy, or whose snapshot has aged past the configured TTL without
// a fresher observation; instances never yet probed are kept, since the
// Health Prober probes them on its own cadence rather than the dispatcher
// blocking a request on a synchronous probe.
func (d *Dispatcher) healthGate(candidates []store.Instance) []store.Instance {
	out := make([]store.Instance, 0, len(candidates))
	for _, inst := range candidates {
		h, ok := d.store.GetHealth(inst.ID)
		if !ok {
			out = append(out, inst)
			continue
		}
		if !h.Healthy {
			continue
		}
		if time.Since(h.ObservedAt) > d.cfg.HealthTTL {
			continue
		}
		out = append(out, inst)
	}
	return out
}

func (d *Dispatcher) pick(candidates []store.Instance, cursorKey string) (store.Instance, error) {
	metrics := make(map[string]store.LoadMetric, len(candidates))
	for _, inst := range candidates {
		m, ok := d.store.GetMetrics(inst.ID)
		if !ok {
			_ = d.store.EnsureMetricsRegistered(context.Background(), inst.ID)
			m, _ = d.store.GetMetrics(inst.ID)
		}
		metrics[inst.ID] = m
	}
	return d.balancer.Pick(candidates, metrics, d.cfg.Strategy, cursorKey)
}

func (d *Dispatcher) executeOn(ctx context.Context, tpl store.Template, inst store.Instance, method string, params json.RawMessage) (transport.Frame, error) {
	budget := effectiveTimeout(ctx, tpl)

	acquireCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	lease, err := d.backpressure.Acquire(acquireCtx, inst.ID, budget)
	if err != nil {
		return transport.Frame{}, err
	}

	adapter, err := d.pool.Get(ctx, inst.ID)
	if err != nil {
		d.backpressure.Release(lease, false)
		return transport.Frame{}, err
	}

	start := time.Now()
	frame := transport.Frame{JSONRPC: "2.0", Method: method, Params: params}
	resp, sendErr := adapter.SendAndReceive(ctx, frame, budget)
	latency := float64(time.Since(start).Milliseconds())

	success := sendErr == nil && resp.Error == nil
	d.backpressure.Release(lease, success)
	if err := d.store.RecordRequestOutcome(ctx, inst.ID, success, latency); err != nil {
		logging.Error("dispatcher", err, "failed to record request outcome for instance %s", inst.ID)
	}

	if sendErr != nil {
		return transport.Frame{}, sendErr
	}
	if resp.Error != nil {
		return transport.Frame{}, gwerrors.New(gwerrors.Internal, resp.Error.Message)
	}
	return resp, nil
}

// effectiveTimeout is min(remaining context budget, template.timeoutMs),
// using DefaultRequestTimeout in place of template.timeoutMs when the
// template sets no timeout.
func effectiveTimeout(ctx context.Context, tpl store.Template) time.Duration {
	budget := DefaultRequestTimeout
	if tpl.TimeoutMs > 0 {
		budget = time.Duration(tpl.TimeoutMs) * time.Millisecond
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < budget {
			budget = remaining
		}
	}
	if budget < 0 {
		budget = 0
	}
	return budget
}

// retryable reports whether execErr is a connect/write failure (spec
// §4.8: "connect error, transient write error") against a method safe to
// retry without risking an observable double effect.
func retryable(execErr error, method string) bool {
	if !idempotentMethods[method] {
		return false
	}
	gwErr, ok := gwerrors.As(execErr)
	if !ok {
		return false
	}
	return gwErr.Kind == gwerrors.ConnectError || gwErr.Kind == gwerrors.WriteError
}
