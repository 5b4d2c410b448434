package store

import (
	"time"

	"github.com/giantswarm/mcp-gatekeeper/internal/eventbus"
)

// Txn is the transaction handle passed to an AtomicUpdate callback. All
// writes made through it are buffered against a working copy of the four
// maps and only become visible, as a single unit, when the outermost
// AtomicUpdate call commits (spec §4.1).
type Txn struct {
	store *Store

	templates map[string]Template
	instances map[string]Instance
	health    map[string]Health
	metrics   map[string]LoadMetric

	events []eventbus.Event
}

func (s *Store) newTxn() *Txn {
	t := &Txn{store: s}
	t.templates = cloneTemplateMap(s.templates)
	t.instances = cloneInstanceMap(s.instances)
	t.health = cloneHealthMap(s.health)
	t.metrics = cloneMetricMap(s.metrics)
	return t
}

func (t *Txn) emit(typ eventbus.Type, subject string, payload interface{}) {
	t.events = append(t.events, eventbus.Event{
		ID:        subject + ":" + string(typ) + ":" + time.Now().Format(time.RFC3339Nano),
		Type:      typ,
		Subject:   subject,
		Payload:   payload,
		Timestamp: time.Now(),
	})
}

// GetTemplate reads the working copy's current value, reflecting any
// writes already buffered earlier in this same transaction.
func (t *Txn) GetTemplate(name string) (Template, bool) {
	tpl, ok := t.templates[name]
	return tpl, ok
}

// SetTemplate upserts a template.
func (t *Txn) SetTemplate(tpl Template) error {
	if err := tpl.Validate(); err != nil {
		return err
	}
	t.templates[tpl.Name] = tpl.Clone()
	t.emit(eventbus.TemplateSet, tpl.Name, tpl.Clone())
	return nil
}

// RemoveTemplate deletes a template, rejecting the removal if any
// non-terminal instance still references it (spec §3 invariant).
func (t *Txn) RemoveTemplate(name string) error {
	if _, ok := t.templates[name]; !ok {
		return NewNotFoundError("template", name)
	}
	for _, inst := range t.instances {
		if inst.Template.Name == name && !IsTerminal(inst.State) {
			return NewPreconditionError("template " + name + " is referenced by running instance " + inst.ID)
		}
	}
	delete(t.templates, name)
	t.emit(eventbus.TemplateRemove, name, nil)
	return nil
}

// ListTemplates returns a snapshot slice of the working copy.
func (t *Txn) ListTemplates() []Template {
	out := make([]Template, 0, len(t.templates))
	for _, tpl := range t.templates {
		out = append(out, tpl)
	}
	return out
}

// GetInstance reads the working copy's current value for id.
func (t *Txn) GetInstance(id string) (Instance, bool) {
	inst, ok := t.instances[id]
	return inst, ok
}

// SetInstance upserts an instance. The caller is responsible for ensuring
// State is a legal transition from the prior state (CanTransition).
func (t *Txn) SetInstance(inst Instance) {
	t.instances[inst.ID] = inst.Clone()
	t.emit(eventbus.InstanceSet, inst.ID, inst.Clone())
}

// RemoveInstance deletes an instance and atomically removes its derived
// health and metrics entries, emitting instance:remove before
// health:remove and metrics:remove (spec §8 testable property).
func (t *Txn) RemoveInstance(id string) error {
	if _, ok := t.instances[id]; !ok {
		return NewNotFoundError("instance", id)
	}
	delete(t.instances, id)
	t.emit(eventbus.InstanceRemove, id, nil)

	if _, ok := t.health[id]; ok {
		delete(t.health, id)
		t.emit(eventbus.HealthRemove, id, nil)
	}
	if _, ok := t.metrics[id]; ok {
		delete(t.metrics, id)
		t.emit(eventbus.MetricsRemove, id, nil)
	}
	return nil
}

// PatchInstance shallow-merges fields into the instance's Metadata map.
func (t *Txn) PatchInstance(id string, fields map[string]interface{}) error {
	inst, ok := t.instances[id]
	if !ok {
		return NewNotFoundError("instance", id)
	}
	if inst.Metadata == nil {
		inst.Metadata = make(map[string]interface{}, len(fields))
	}
	for k, v := range fields {
		inst.Metadata[k] = v
	}
	t.instances[id] = inst
	t.emit(eventbus.InstanceSet, id, inst.Clone())
	return nil
}

// ListInstances returns a snapshot slice of the working copy.
func (t *Txn) ListInstances() []Instance {
	out := make([]Instance, 0, len(t.instances))
	for _, inst := range t.instances {
		out = append(out, inst)
	}
	return out
}

// GetHealth reads the current health snapshot for id, if any.
func (t *Txn) GetHealth(id string) (Health, bool) {
	h, ok := t.health[id]
	return h, ok
}

// SetHealth replaces the health snapshot for id wholesale.
func (t *Txn) SetHealth(h Health) {
	t.health[h.InstanceID] = h
	t.emit(eventbus.HealthUpdate, h.InstanceID, h)
}

// RemoveHealth deletes a health snapshot directly (used when health is
// being cleared independent of instance removal).
func (t *Txn) RemoveHealth(id string) {
	if _, ok := t.health[id]; ok {
		delete(t.health, id)
		t.emit(eventbus.HealthRemove, id, nil)
	}
}

// GetMetrics reads the current load metric for id, if any.
func (t *Txn) GetMetrics(id string) (LoadMetric, bool) {
	m, ok := t.metrics[id]
	return m, ok
}

// SetMetrics replaces the load metric for id.
func (t *Txn) SetMetrics(m LoadMetric) {
	t.metrics[m.InstanceID] = m
	t.emit(eventbus.MetricsUpdate, m.InstanceID, m)
}

// RemoveMetrics deletes a load metric directly.
func (t *Txn) RemoveMetrics(id string) {
	if _, ok := t.metrics[id]; ok {
		delete(t.metrics, id)
		t.emit(eventbus.MetricsRemove, id, nil)
	}
}

func cloneTemplateMap(m map[string]Template) map[string]Template {
	out := make(map[string]Template, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneInstanceMap(m map[string]Instance) map[string]Instance {
	out := make(map[string]Instance, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneHealthMap(m map[string]Health) map[string]Health {
	out := make(map[string]Health, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneMetricMap(m map[string]LoadMetric) map[string]LoadMetric {
	out := make(map[string]LoadMetric, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
