package dispatcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/giantswarm/mcp-gatekeeper/internal/backpressure"
	"github.com/giantswarm/mcp-gatekeeper/internal/balancer"
	"github.com/giantswarm/mcp-gatekeeper/internal/gwerrors"
	"github.com/giantswarm/mcp-gatekeeper/internal/pool"
	"github.com/giantswarm/mcp-gatekeeper/internal/store"
	"github.com/giantswarm/mcp-gatekeeper/internal/transport"
)

type fakeAdapter struct {
	mode  string // "" success, "connect-error" fails sendAndReceive with ConnectError, "rpc-error" returns a frame-level error
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
	switch f.mode {
	case "connect-error":
		return transport.Frame{}, gwerrors.New(gwerrors.ConnectError, "dial failed")
	case "rpc-error":
		return transport.Frame{JSONRPC: "2.0", ID: frame.ID, Error: &transport.FrameError{Code: -1, Message: "boom"}}, nil
	default:
		return transport.Frame{JSONRPC: "2.0", ID: frame.ID, Result: []byte(`{"ok":true}`)}, nil
	}
}
func (f *fakeAdapter) Disconnect() error { return nil }
func (f *fakeAdapter) IsConnected() bool { return true }

func newHarness(t *testing.T, adapters map[string]*fakeAdapter) (*store.Store, *Dispatcher) {
	t.Helper()
	st := store.New(nil)
	require.NoError(t, st.SetTemplate(context.Background(), store.Template{Name: "svc", Transport: store.TransportSubprocess, Command: "echo"}))
	bal := balancer.New(0)
	bp := backpressure.New(backpressure.Config{})
	t.Cleanup(bp.Close)
	p := pool.New(func(ctx context.Context, instanceID string) (transport.Adapter, error) {
		a, ok := adapters[instanceID]
		if !ok {
			return nil, gwerrors.New(gwerrors.NotFound, "no fake adapter for "+instanceID)
		}
		return a, nil
	}, time.Minute)
	t.Cleanup(p.Close)
	d := New(st, bal, bp, p, nil, Config{})
	return st, d
}

func runningInstance(id, templateName string) store.Instance {
	return store.Instance{
		ID:        id,
		Template:  store.Template{Name: templateName, Transport: store.TransportSubprocess, Command: "echo"},
		State:     store.StateRunning,
		StartedAt: time.Now().Add(-time.Hour),
	}
}

func TestExecuteSucceedsAgainstHealthyInstance(t *testing.T) {
	a := &fakeAdapter{}
	st, d := newHarness(t, map[string]*fakeAdapter{"i1": a})
	ctx := context.Background()
	require.NoError(t, st.SetInstance(ctx, runningInstance("i1", "svc")))

	frame, err := d.Execute(ctx, "svc", "tools/list", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(frame.Result))

	m, ok := st.GetMetrics("i1")
	require.True(t, ok)
	assert.Equal(t, int64(1), m.RequestCount)
	assert.Equal(t, int64(0), m.ErrorCount)
}

func TestExecuteFailsWithNotFoundForUnknownTemplate(t *testing.T) {
	_, d := newHarness(t, nil)
	_, err := d.Execute(context.Background(), "missing", "tools/list", nil, nil)
	require.Error(t, err)
	gwErr, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.NotFound, gwErr.Kind)
}

func TestExecuteFailsWithNoHealthyInstanceWhenNoneRunning(t *testing.T) {
	st, d := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, st.SetTemplate(ctx, store.Template{Name: "svc", Transport: store.TransportSubprocess, Command: "echo"}))

	_, err := d.Execute(ctx, "svc", "tools/list", nil, nil)
	require.Error(t, err)
	gwErr, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.NoHealthyInstance, gwErr.Kind)
}

func TestHealthGateExcludesUnhealthyInstance(t *testing.T) {
	good := &fakeAdapter{}
	bad := &fakeAdapter{}
	st, d := newHarness(t, map[string]*fakeAdapter{"good": good, "bad": bad})
	ctx := context.Background()
	require.NoError(t, st.SetInstance(ctx, runningInstance("good", "svc")))
	require.NoError(t, st.SetInstance(ctx, runningInstance("bad", "svc")))
	require.NoError(t, st.SetHealth(ctx, store.Health{InstanceID: "bad", Healthy: false, ObservedAt: time.Now()}))

	for i := 0; i < 5; i++ {
		_, err := d.Execute(ctx, "svc", "tools/list", nil, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(&bad.calls))
	assert.Equal(t, int32(5), atomic.LoadInt32(&good.calls))
}

func TestExecuteRetriesConnectErrorOnIdempotentMethod(t *testing.T) {
	failing := &fakeAdapter{mode: "connect-error"}
	ok := &fakeAdapter{}
	st, d := newHarness(t, map[string]*fakeAdapter{"flaky": failing, "ok": ok})
	ctx := context.Background()
	require.NoError(t, st.SetInstance(ctx, runningInstance("flaky", "svc")))

	retries := 1
	_, err := d.Execute(ctx, "svc", "tools/list", nil, &retries)
	require.Error(t, err, "only one instance is registered, so the retry exhausts against the same failing instance")
	gwErr, isGwErr := gwerrors.As(err)
	require.True(t, isGwErr)
	assert.Equal(t, gwerrors.ConnectError, gwErr.Kind)
	assert.Equal(t, int32(2), atomic.LoadInt32(&failing.calls), "one initial attempt plus one retry")
}

func TestExecuteDoesNotRetryNonIdempotentMethod(t *testing.T) {
	failing := &fakeAdapter{mode: "connect-error"}
	st, d := newHarness(t, map[string]*fakeAdapter{"flaky": failing})
	ctx := context.Background()
	require.NoError(t, st.SetInstance(ctx, runningInstance("flaky", "svc")))

	retries := 3
	_, err := d.Execute(ctx, "svc", "tools/call", nil, &retries)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&failing.calls), "tools/call is not idempotent and must not be retried")
}

func TestExecuteRecordsErrorCountOnFrameLevelError(t *testing.T) {
	a := &fakeAdapter{mode: "rpc-error"}
	st, d := newHarness(t, map[string]*fakeAdapter{"i1": a})
	ctx := context.Background()
	require.NoError(t, st.SetInstance(ctx, runningInstance("i1", "svc")))

	_, err := d.Execute(ctx, "svc", "tools/call", nil, nil)
	require.Error(t, err)

	gwErr, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.Internal, gwErr.Kind, "a well-formed backend error frame is an Internal error, not a ProtocolError (that kind is reserved for a malformed/unparseable frame)")
	assert.Equal(t, 500, gwerrors.HTTPStatus(gwErr.Kind))

	m, ok := st.GetMetrics("i1")
	require.True(t, ok)
	assert.Equal(t, int64(1), m.RequestCount)
	assert.Equal(t, int64(1), m.ErrorCount)
}

func TestRouteSelectsWithoutExecuting(t *testing.T) {
	a := &fakeAdapter{}
	st, d := newHarness(t, map[string]*fakeAdapter{"i1": a})
	ctx := context.Background()
	require.NoError(t, st.SetInstance(ctx, runningInstance("i1", "svc")))

	inst, err := d.Route(ctx, "svc", "tools/list")
	require.NoError(t, err)
	assert.Equal(t, "i1", inst.ID)
	assert.Equal(t, int32(0), atomic.LoadInt32(&a.calls))
}

func TestRoundRobinAlternatesAcrossTwoInstances(t *testing.T) {
	a := &fakeAdapter{}
	b := &fakeAdapter{}
	st, d := newHarness(t, map[string]*fakeAdapter{"a": a, "b": b})
	d.cfg.Strategy = balancer.RoundRobin
	ctx := context.Background()
	require.NoError(t, st.SetInstance(ctx, runningInstance("a", "svc")))
	require.NoError(t, st.SetInstance(ctx, runningInstance("b", "svc")))

	first, err := d.Route(ctx, "svc", "tools/list")
	require.NoError(t, err)
	second, err := d.Route(ctx, "svc", "tools/list")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}
