package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/giantswarm/mcp-gatekeeper/internal/gwerrors"
)

// Adapter is the common contract all three transport variants satisfy
// (spec §4.2). The dispatcher and health prober depend only on this
// interface and never reach into a concrete adapter's internals.
type Adapter interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, frame Frame) error
	Receive(ctx context.Context) (Frame, error)
	SendAndReceive(ctx context.Context, frame Frame, timeout time.Duration) (Frame, error)
	Disconnect() error
	IsConnected() bool
}

// assignID fills frame.ID with next() if the caller left it unset.
func assignID(frame *Frame, next func() interface{}) {
	if frame.ID == nil {
		frame.ID = next()
	}
}

// waitForFrame blocks on ch until it fires, ctx is cancelled, or timeout
// elapses, translating each outcome to the error Kinds spec §4.2 names.
func waitForFrame(ctx context.Context, ch chan Frame, timeout time.Duration) (Frame, error) {
	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case frame, ok := <-ch:
		if !ok {
			return Frame{}, gwerrors.New(gwerrors.Closed, "adapter disconnected while waiting for response")
		}
		return frame, nil
	case <-timeoutCh:
		return Frame{}, gwerrors.New(gwerrors.Timeout, "timed out waiting for response")
	case <-ctx.Done():
		return Frame{}, gwerrors.Wrap(gwerrors.Timeout, ctx.Err(), "context cancelled while waiting for response")
	}
}

func marshalFrame(frame Frame) ([]byte, error) {
	b, err := json.Marshal(frame)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.WriteError, err, "failed to marshal frame")
	}
	return b, nil
}
