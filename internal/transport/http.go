package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/giantswarm/mcp-gatekeeper/internal/gwerrors"
)

// HTTPAdapter speaks MCP as one-shot request/response: send POSTs the
// frame's JSON body to baseURL, receive parses the response body back
// into a frame (spec §4.2).
type HTTPAdapter struct {
	baseURL string
	client  *http.Client
	auth    func(*http.Request)

	mu        sync.Mutex
	connected bool

	nextID int64
}

// NewHTTPAdapter constructs an adapter posting frames to baseURL. auth,
// if non-nil, is applied to every outgoing request (e.g. to set a bearer
// token from the template's AuthDescriptor).
func NewHTTPAdapter(baseURL string, timeout time.Duration, auth func(*http.Request)) *HTTPAdapter {
	return &HTTPAdapter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		auth:    auth,
	}
}

// Connect is a no-op beyond marking the adapter ready: HTTP has no
// persistent connection to establish up front.
func (a *HTTPAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	a.connected = true
	a.mu.Unlock()
	return nil
}

// Send posts frame to baseURL and discards the response body; most
// callers want SendAndReceive instead.
func (a *HTTPAdapter) Send(ctx context.Context, frame Frame) error {
	_, err := a.post(ctx, frame)
	return err
}

// Receive is not meaningful for a one-shot transport in isolation; it
// always reports NotConnected-equivalent Timeout, directing callers to
// SendAndReceive, which is the natural primitive for this adapter (spec
// §4.2).
func (a *HTTPAdapter) Receive(ctx context.Context) (Frame, error) {
	return Frame{}, gwerrors.New(gwerrors.Timeout, "HTTP adapter has no independent receive stream; use SendAndReceive")
}

// SendAndReceive posts frame and parses the HTTP response body as the
// matching MCP frame.
func (a *HTTPAdapter) SendAndReceive(ctx context.Context, frame Frame, timeout time.Duration) (Frame, error) {
	assignID(&frame, func() interface{} { return atomic.AddInt64(&a.nextID, 1) })

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return a.post(ctx, frame)
}

func (a *HTTPAdapter) post(ctx context.Context, frame Frame) (Frame, error) {
	if !a.IsConnected() {
		return Frame{}, gwerrors.New(gwerrors.NotConnected, "HTTP adapter not connected")
	}

	body, err := marshalFrame(frame)
	if err != nil {
		return Frame{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return Frame{}, gwerrors.Wrap(gwerrors.ConnectError, err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if a.auth != nil {
		a.auth(req)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Frame{}, gwerrors.Wrap(gwerrors.Timeout, err, "request timed out")
		}
		return Frame{}, gwerrors.Wrap(gwerrors.WriteError, err, "request failed")
	}
	defer resp.Body.Close()

	var out Frame
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Frame{}, gwerrors.Wrap(gwerrors.ProtocolError, err, "malformed response body")
	}
	return out, nil
}

// Disconnect marks the adapter unusable; idempotent.
func (a *HTTPAdapter) Disconnect() error {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	return nil
}

// IsConnected reports whether Connect has been called and Disconnect has
// not.
func (a *HTTPAdapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}
