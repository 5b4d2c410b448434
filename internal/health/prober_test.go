package health

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-gatekeeper/internal/gwerrors"
	"github.com/giantswarm/mcp-gatekeeper/internal/store"
	"github.com/giantswarm/mcp-gatekeeper/internal/transport"
)

type fakeAdapter struct {
	fail  bool
	calls int32
}

func (f *fakeAdapter) Connect(ctx context.Context) error { return nil }
func (f *fakeAdapter) Send(ctx context.Context, frame transport.Frame) error {
	return nil
}
func (f *fakeAdapter) Receive(ctx context.Context) (transport.Frame, error) {
	return transport.Frame{}, nil
}
func (f *fakeAdapter) SendAndReceive(ctx context.Context, frame transport.Frame, timeout time.Duration) (transport.Frame, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.fail {
		return transport.Frame{}, gwerrors.New(gwerrors.Timeout, "probe timed out")
	}
	return transport.Frame{JSONRPC: "2.0", ID: frame.ID, Result: []byte(`{"tools":[]}`)}, nil
}
func (f *fakeAdapter) Disconnect() error   { return nil }
func (f *fakeAdapter) IsConnected() bool   { return true }

func testInstance(id string) store.Instance {
	return store.Instance{
		ID:       id,
		Template: store.Template{Name: "t", Transport: store.TransportSubprocess, Command: "echo"},
		State:    store.StateRunning,
	}
}

func TestSweepRecordsHealthyResult(t *testing.T) {
	st := store.New(nil)
	ctx := context.Background()
	require.NoError(t, st.SetInstance(ctx, testInstance("i1")))

	adapter := &fakeAdapter{}
	p := New(st, func(ctx context.Context, inst store.Instance) (transport.Adapter, error) {
		return adapter, nil
	}, Config{})

	p.Sweep(ctx)

	h, ok := st.GetHealth("i1")
	require.True(t, ok)
	assert.True(t, h.Healthy)
	assert.Equal(t, int32(1), atomic.LoadInt32(&adapter.calls))
}

func TestSweepRecordsUnhealthyOnProbeError(t *testing.T) {
	st := store.New(nil)
	ctx := context.Background()
	require.NoError(t, st.SetInstance(ctx, testInstance("i1")))

	adapter := &fakeAdapter{fail: true}
	p := New(st, func(ctx context.Context, inst store.Instance) (transport.Adapter, error) {
		return adapter, nil
	}, Config{})

	p.Sweep(ctx)

	h, ok := st.GetHealth("i1")
	require.True(t, ok)
	assert.False(t, h.Healthy)
	assert.NotEmpty(t, h.Error)
}

func TestSweepSkipsInstanceBeforeTTLElapses(t *testing.T) {
	st := store.New(nil)
	ctx := context.Background()
	require.NoError(t, st.SetInstance(ctx, testInstance("i1")))

	adapter := &fakeAdapter{}
	p := New(st, func(ctx context.Context, inst store.Instance) (transport.Adapter, error) {
		return adapter, nil
	}, Config{TTL: time.Hour})

	p.Sweep(ctx)
	p.Sweep(ctx)

	assert.Equal(t, int32(1), atomic.LoadInt32(&adapter.calls))
}

func TestSweepSkipsIdleAndTerminalInstances(t *testing.T) {
	st := store.New(nil)
	ctx := context.Background()
	idle := testInstance("idle")
	idle.State = store.StateIdle
	stopped := testInstance("stopped")
	stopped.State = store.StateStopped
	require.NoError(t, st.SetInstance(ctx, idle))
	require.NoError(t, st.SetInstance(ctx, stopped))

	adapter := &fakeAdapter{}
	p := New(st, func(ctx context.Context, inst store.Instance) (transport.Adapter, error) {
		return adapter, nil
	}, Config{})

	p.Sweep(ctx)

	assert.Equal(t, int32(0), atomic.LoadInt32(&adapter.calls))
	_, ok := st.GetHealth("idle")
	assert.False(t, ok)
}
