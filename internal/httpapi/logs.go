package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/giantswarm/mcp-gatekeeper/internal/eventbus"
	"github.com/giantswarm/mcp-gatekeeper/internal/gwerrors"
)

const sseKeepalive = 15 * time.Second

// handleLogsStream implements GET /api/logs/stream (spec §6): backfill
// the last 10 retained lifecycle:log events, then tail live ones until
// the client disconnects.
func (s *Server) handleLogsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, gwerrors.New(gwerrors.Internal, "streaming not supported by this response writer"))
		return
	}
	if s.bus == nil {
		writeError(w, gwerrors.New(gwerrors.Internal, "no event bus configured"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for _, event := range s.logBackfill.snapshot() {
		writeLogEvent(w, event)
	}
	flusher.Flush()

	live := make(chan eventbus.Event, eventbus.DefaultBufferSize)
	unsubscribe := s.bus.Subscribe(func(_ context.Context, event eventbus.Event) {
		select {
		case live <- event:
		default:
		}
	}, eventbus.LifecycleLog)
	defer unsubscribe()

	ctx := r.Context()
	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case event := <-live:
			writeLogEvent(w, event)
			flusher.Flush()
		}
	}
}

func writeLogEvent(w http.ResponseWriter, event eventbus.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %s\n", event.ID)
	fmt.Fprintf(w, "event: %s\n", event.Type)
	fmt.Fprintf(w, "data: %s\n\n", data)
}
