package store

import (
	"context"
	"sync"
	"time"

	"github.com/giantswarm/mcp-gatekeeper/internal/eventbus"
)

type txnContextKey struct{}

// Store is the Observation Store: the sole owner of templates, instances,
// health snapshots, and load metrics (spec §4.1). All mutation goes
// through AtomicUpdate (directly, or via the single-write convenience
// methods below, which are themselves one-write AtomicUpdate calls) so
// every commit — single write or multi-map transaction — follows the same
// buffer/commit/publish path and the same ordering guarantees.
type Store struct {
	// writerMu serializes the execution of AtomicUpdate callbacks: only one
	// write transaction runs at a time, matching spec's "single writer lock
	// (or single-goroutine owner)" contract.
	writerMu sync.Mutex

	// commitMu guards the four published maps and revision. Readers take a
	// brief RLock to copy out a consistent snapshot; they are never blocked
	// by an in-flight AtomicUpdate callback, only by the instant of commit.
	commitMu sync.RWMutex
	revision uint64

	templates map[string]Template
	instances map[string]Instance
	health    map[string]Health
	metrics   map[string]LoadMetric

	bus *eventbus.Bus
}

// New constructs an empty Store publishing change events on bus.
func New(bus *eventbus.Bus) *Store {
	return &Store{
		templates: make(map[string]Template),
		instances: make(map[string]Instance),
		health:    make(map[string]Health),
		metrics:   make(map[string]LoadMetric),
		bus:       bus,
	}
}

// Revision returns the current commit revision, useful for callers that
// want a happens-before marker across a read and a later re-read.
func (s *Store) Revision() uint64 {
	s.commitMu.RLock()
	defer s.commitMu.RUnlock()
	return s.revision
}

// AtomicUpdate runs fn against a transaction handle and, if fn returns nil,
// commits every buffered write as a single unit and emits the buffered
// events in enqueue order (spec §4.1). If fn returns an error, no writes
// are applied and no events are emitted.
//
// Nested calls — fn itself invoking AtomicUpdate on the same Store, using
// the ctx it was handed — are detected via a context value and reuse the
// outermost transaction's buffer; the whole nest commits and bumps the
// revision exactly once, from the outermost call.
func (s *Store) AtomicUpdate(ctx context.Context, fn func(ctx context.Context, txn *Txn) error) error {
	if existing, ok := ctx.Value(txnContextKey{}).(*Txn); ok {
		return fn(ctx, existing)
	}

	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	txn := s.newTxn()
	nestedCtx := context.WithValue(ctx, txnContextKey{}, txn)

	if err := fn(nestedCtx, txn); err != nil {
		return err
	}

	s.commit(txn)
	s.publish(txn.events)
	return nil
}

func (s *Store) commit(txn *Txn) {
	s.commitMu.Lock()
	s.templates = txn.templates
	s.instances = txn.instances
	s.health = txn.health
	s.metrics = txn.metrics
	s.revision++
	s.commitMu.Unlock()
}

func (s *Store) publish(events []eventbus.Event) {
	if s.bus == nil {
		return
	}
	for _, e := range events {
		s.bus.Publish(e)
	}
}

func (s *Store) oneWrite(ctx context.Context, fn func(txn *Txn) error) error {
	return s.AtomicUpdate(ctx, func(_ context.Context, txn *Txn) error {
		return fn(txn)
	})
}

// GetTemplate returns a snapshot copy of the named template.
func (s *Store) GetTemplate(name string) (Template, bool) {
	s.commitMu.RLock()
	defer s.commitMu.RUnlock()
	tpl, ok := s.templates[name]
	if !ok {
		return Template{}, false
	}
	return tpl.Clone(), true
}

// SetTemplate upserts a template as a single-write transaction.
func (s *Store) SetTemplate(ctx context.Context, tpl Template) error {
	return s.oneWrite(ctx, func(txn *Txn) error {
		return txn.SetTemplate(tpl)
	})
}

// RemoveTemplate deletes a template, honoring the running-instance
// precondition (spec §3).
func (s *Store) RemoveTemplate(ctx context.Context, name string) error {
	return s.oneWrite(ctx, func(txn *Txn) error {
		return txn.RemoveTemplate(name)
	})
}

// ListTemplates returns a snapshot slice of all templates.
func (s *Store) ListTemplates() []Template {
	s.commitMu.RLock()
	defer s.commitMu.RUnlock()
	out := make([]Template, 0, len(s.templates))
	for _, tpl := range s.templates {
		out = append(out, tpl.Clone())
	}
	return out
}

// GetInstance returns a snapshot copy of the instance.
func (s *Store) GetInstance(id string) (Instance, bool) {
	s.commitMu.RLock()
	defer s.commitMu.RUnlock()
	inst, ok := s.instances[id]
	if !ok {
		return Instance{}, false
	}
	return inst.Clone(), true
}

// SetInstance upserts an instance as a single-write transaction.
func (s *Store) SetInstance(ctx context.Context, inst Instance) error {
	return s.oneWrite(ctx, func(txn *Txn) error {
		txn.SetInstance(inst)
		return nil
	})
}

// RemoveInstance deletes an instance and its derived state.
func (s *Store) RemoveInstance(ctx context.Context, id string) error {
	return s.oneWrite(ctx, func(txn *Txn) error {
		return txn.RemoveInstance(id)
	})
}

// PatchInstance shallow-merges fields into an instance's metadata.
func (s *Store) PatchInstance(ctx context.Context, id string, fields map[string]interface{}) error {
	return s.oneWrite(ctx, func(txn *Txn) error {
		return txn.PatchInstance(id, fields)
	})
}

// ListInstances returns a snapshot slice of all instances.
func (s *Store) ListInstances() []Instance {
	s.commitMu.RLock()
	defer s.commitMu.RUnlock()
	out := make([]Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		out = append(out, inst.Clone())
	}
	return out
}

// ListInstancesByTemplate returns realizations of the named template whose
// state is one of states, or in any state when states is empty (used by
// the dispatcher's candidate-set step).
func (s *Store) ListInstancesByTemplate(name string, states ...InstanceState) []Instance {
	want := make(map[InstanceState]bool, len(states))
	for _, st := range states {
		want[st] = true
	}
	s.commitMu.RLock()
	defer s.commitMu.RUnlock()
	var out []Instance
	for _, inst := range s.instances {
		if inst.Template.Name != name {
			continue
		}
		if len(want) > 0 && !want[inst.State] {
			continue
		}
		out = append(out, inst.Clone())
	}
	return out
}

// GetHealth returns the latest health snapshot for id, if any.
func (s *Store) GetHealth(id string) (Health, bool) {
	s.commitMu.RLock()
	defer s.commitMu.RUnlock()
	h, ok := s.health[id]
	return h, ok
}

// SetHealth replaces the health snapshot for id.
func (s *Store) SetHealth(ctx context.Context, h Health) error {
	return s.oneWrite(ctx, func(txn *Txn) error {
		txn.SetHealth(h)
		return nil
	})
}

// GetMetrics returns the load metric for id, if any.
func (s *Store) GetMetrics(id string) (LoadMetric, bool) {
	s.commitMu.RLock()
	defer s.commitMu.RUnlock()
	m, ok := s.metrics[id]
	return m, ok
}

// SetMetrics replaces the load metric for id.
func (s *Store) SetMetrics(ctx context.Context, m LoadMetric) error {
	return s.oneWrite(ctx, func(txn *Txn) error {
		txn.SetMetrics(m)
		return nil
	})
}

// RecordRequestOutcome updates the running load metric for id after one
// dispatcher exchange completes (spec §4.8 step 9): requestCount and
// errorCount are non-decreasing, avgLatencyMs is an exponential moving
// average so a long warm history doesn't drown out recent behavior.
func (s *Store) RecordRequestOutcome(ctx context.Context, id string, success bool, latencyMs float64) error {
	return s.oneWrite(ctx, func(txn *Txn) error {
		m, ok := txn.GetMetrics(id)
		if !ok {
			m = LoadMetric{InstanceID: id, AddedAt: time.Now()}
		}
		m.RequestCount++
		if !success {
			m.ErrorCount++
		}
		const alpha = 0.2
		if m.RequestCount == 1 {
			m.AvgLatencyMs = latencyMs
		} else {
			m.AvgLatencyMs = alpha*latencyMs + (1-alpha)*m.AvgLatencyMs
		}
		m.LastRequestAt = time.Now()
		txn.SetMetrics(m)
		return nil
	})
}

// EnsureMetricsRegistered registers a zero-value load metric with
// addedAt = now for an instance the load balancer has not seen before
// (spec §4.5 warmup accounting), without disturbing an existing entry.
func (s *Store) EnsureMetricsRegistered(ctx context.Context, id string) error {
	if _, ok := s.GetMetrics(id); ok {
		return nil
	}
	return s.oneWrite(ctx, func(txn *Txn) error {
		if _, ok := txn.GetMetrics(id); ok {
			return nil
		}
		txn.SetMetrics(LoadMetric{InstanceID: id, AddedAt: time.Now()})
		return nil
	})
}
