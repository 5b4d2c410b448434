package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/giantswarm/mcp-gatekeeper/internal/gwerrors"
)

// HTTPStreamAdapter feeds receive from a single long-lived server-sent-
// events GET and sends by POSTing to a paired sink URL, correlating
// responses by id through the shared pending table (spec §4.2).
type HTTPStreamAdapter struct {
	streamURL string
	sinkURL   string
	client    *http.Client
	auth      func(*http.Request)

	mu        sync.Mutex
	connected bool
	cancel    context.CancelFunc

	pending *pendingTable
	recvCh  chan Frame
	nextID  int64
}

// NewHTTPStreamAdapter constructs an adapter listening on streamURL and
// posting outgoing frames to sinkURL.
func NewHTTPStreamAdapter(streamURL, sinkURL string, auth func(*http.Request)) *HTTPStreamAdapter {
	return &HTTPStreamAdapter{
		streamURL: streamURL,
		sinkURL:   sinkURL,
		client:    &http.Client{},
		auth:      auth,
		pending:   newPendingTable(),
		recvCh:    make(chan Frame, 64),
	}
}

// Connect opens the SSE GET and starts the background reader. Idempotent.
func (a *HTTPStreamAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return nil
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, a.streamURL, nil)
	if err != nil {
		cancel()
		return gwerrors.Wrap(gwerrors.ConnectError, err, "failed to build SSE request")
	}
	req.Header.Set("Accept", "text/event-stream")
	if a.auth != nil {
		a.auth(req)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		cancel()
		return gwerrors.Wrap(gwerrors.ConnectError, err, "failed to open SSE stream")
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return gwerrors.New(gwerrors.ConnectError, "SSE endpoint returned status "+resp.Status)
	}

	a.connected = true
	a.cancel = cancel
	go a.readSSE(resp)

	return nil
}

func (a *HTTPStreamAdapter) readSSE(resp *http.Response) {
	defer resp.Body.Close()
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: error") {
			a.teardown()
			return
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var frame Frame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			continue
		}
		if !a.pending.deliver(frame) {
			select {
			case a.recvCh <- frame:
			default:
			}
		}
	}
	a.teardown()
}

func (a *HTTPStreamAdapter) teardown() {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return
	}
	a.connected = false
	a.mu.Unlock()

	a.pending.closeAll()
	close(a.recvCh)
}

// Send POSTs frame to the paired sink URL.
func (a *HTTPStreamAdapter) Send(ctx context.Context, frame Frame) error {
	if !a.IsConnected() {
		return gwerrors.New(gwerrors.NotConnected, "HTTP stream adapter not connected")
	}
	body, err := marshalFrame(frame)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.sinkURL, bytes.NewReader(body))
	if err != nil {
		return gwerrors.Wrap(gwerrors.WriteError, err, "failed to build sink request")
	}
	req.Header.Set("Content-Type", "application/json")
	if a.auth != nil {
		a.auth(req)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return gwerrors.Wrap(gwerrors.WriteError, err, "sink request failed")
	}
	resp.Body.Close()
	return nil
}

// Receive returns the next frame not claimed by a sendAndReceive waiter.
func (a *HTTPStreamAdapter) Receive(ctx context.Context) (Frame, error) {
	select {
	case frame, ok := <-a.recvCh:
		if !ok {
			return Frame{}, gwerrors.New(gwerrors.Closed, "HTTP stream adapter closed")
		}
		return frame, nil
	case <-ctx.Done():
		return Frame{}, gwerrors.Wrap(gwerrors.Timeout, ctx.Err(), "context cancelled")
	}
}

// SendAndReceive registers a pending-table waiter keyed by frame id, POSTs
// to the sink, and waits for the matching frame on the SSE stream.
func (a *HTTPStreamAdapter) SendAndReceive(ctx context.Context, frame Frame, timeout time.Duration) (Frame, error) {
	assignID(&frame, func() interface{} { return atomic.AddInt64(&a.nextID, 1) })
	key := frame.idKey()

	ch, err := a.pending.register(key)
	if err != nil {
		return Frame{}, err
	}
	if err := a.Send(ctx, frame); err != nil {
		a.pending.remove(key)
		return Frame{}, err
	}

	resp, err := waitForFrame(ctx, ch, timeout)
	if err != nil {
		a.pending.remove(key)
	}
	return resp, err
}

// Disconnect idempotently cancels the SSE GET and releases every pending
// waiter with Closed.
func (a *HTTPStreamAdapter) Disconnect() error {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// IsConnected reports whether the SSE stream is currently open.
func (a *HTTPStreamAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}
