package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-gatekeeper/internal/eventbus"
)

func testTemplate(name string) Template {
	return Template{Name: name, Transport: TransportSubprocess, Command: "echo"}
}

func TestAtomicUpdateAppliesAllWritesTogether(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	err := s.AtomicUpdate(ctx, func(ctx context.Context, txn *Txn) error {
		require.NoError(t, txn.SetTemplate(testTemplate("a")))
		txn.SetInstance(Instance{ID: "i1", Template: testTemplate("a"), State: StateIdle})
		return nil
	})
	require.NoError(t, err)

	_, ok := s.GetTemplate("a")
	assert.True(t, ok)
	_, ok = s.GetInstance("i1")
	assert.True(t, ok)
}

func TestAtomicUpdateRollsBackOnError(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.AtomicUpdate(ctx, func(ctx context.Context, txn *Txn) error {
		require.NoError(t, txn.SetTemplate(testTemplate("a")))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, ok := s.GetTemplate("a")
	assert.False(t, ok, "template write must not survive a failed transaction")
}

func TestSubscriberSeesEventsOnlyAfterCommit(t *testing.T) {
	bus := eventbus.New(eventbus.Config{})
	defer bus.Close()
	s := New(bus)
	ctx := context.Background()

	seen := make(chan struct{}, 1)
	unsub := bus.Subscribe(func(ctx context.Context, e eventbus.Event) {
		_, ok := s.GetTemplate("a")
		assert.True(t, ok, "template must already be committed by the time its event is delivered")
		seen <- struct{}{}
	}, eventbus.TemplateSet)
	defer unsub()

	err := s.AtomicUpdate(ctx, func(ctx context.Context, txn *Txn) error {
		return txn.SetTemplate(testTemplate("a"))
	})
	require.NoError(t, err)

	select {
	case <-seen:
	case <-time.After(time.Second):
		t.Fatal("event was never delivered")
	}
}

func TestRemoveInstanceOrdersEventsBeforeHealthAndMetrics(t *testing.T) {
	ctx := context.Background()

	var order []eventbus.Type
	var mu sync.Mutex
	bus := eventbus.New(eventbus.Config{})
	defer bus.Close()
	s := New(bus)
	require.NoError(t, s.SetInstance(ctx, Instance{ID: "i1", Template: testTemplate("a"), State: StateStopped}))
	require.NoError(t, s.SetHealth(ctx, Health{InstanceID: "i1", Healthy: true}))
	require.NoError(t, s.SetMetrics(ctx, LoadMetric{InstanceID: "i1"}))

	done := make(chan struct{})
	unsub := bus.Subscribe(func(ctx context.Context, e eventbus.Event) {
		mu.Lock()
		order = append(order, e.Type)
		mu.Unlock()
		if e.Type == eventbus.MetricsRemove {
			close(done)
		}
	}, eventbus.InstanceRemove, eventbus.HealthRemove, eventbus.MetricsRemove)
	defer unsub()

	require.NoError(t, s.RemoveInstance(ctx, "i1"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("did not observe all three removal events")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 3)
	assert.Equal(t, eventbus.InstanceRemove, order[0])
	assert.ElementsMatch(t, []eventbus.Type{eventbus.HealthRemove, eventbus.MetricsRemove}, order[1:])
}

func TestRemoveTemplateRejectedWhileInstanceRunning(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	require.NoError(t, s.SetTemplate(ctx, testTemplate("a")))
	require.NoError(t, s.SetInstance(ctx, Instance{ID: "i1", Template: testTemplate("a"), State: StateRunning}))

	err := s.RemoveTemplate(ctx, "a")
	require.Error(t, err)

	require.NoError(t, s.SetInstance(ctx, Instance{ID: "i1", Template: testTemplate("a"), State: StateStopped}))
	require.NoError(t, s.RemoveTemplate(ctx, "a"))
}

func TestNestedAtomicUpdateCountsAsOneRevision(t *testing.T) {
	s := New(nil)
	ctx := context.Background()
	before := s.Revision()

	err := s.AtomicUpdate(ctx, func(ctx context.Context, txn *Txn) error {
		require.NoError(t, txn.SetTemplate(testTemplate("a")))
		return s.AtomicUpdate(ctx, func(ctx context.Context, inner *Txn) error {
			inner.SetInstance(Instance{ID: "i1", Template: testTemplate("a"), State: StateIdle})
			return nil
		})
	})
	require.NoError(t, err)

	assert.Equal(t, before+1, s.Revision())
	_, ok := s.GetTemplate("a")
	assert.True(t, ok)
	_, ok = s.GetInstance("i1")
	assert.True(t, ok)
}

func TestPatchInstanceMergesMetadataShallowly(t *testing.T) {
	s := New(nil)
	ctx := context.Background()

	require.NoError(t, s.SetInstance(ctx, Instance{
		ID:       "i1",
		Template: testTemplate("a"),
		State:    StateIdle,
		Metadata: map[string]interface{}{"x": 1, "y": 2},
	}))

	require.NoError(t, s.PatchInstance(ctx, "i1", map[string]interface{}{"y": 99, "z": 3}))

	inst, ok := s.GetInstance("i1")
	require.True(t, ok)
	assert.Equal(t, 1, inst.Metadata["x"])
	assert.Equal(t, 99, inst.Metadata["y"])
	assert.Equal(t, 3, inst.Metadata["z"])
}
