package httpapi

import (
	"context"
	"sync"

	"github.com/giantswarm/mcp-gatekeeper/internal/eventbus"
)

// logRing retains the most recent capacity lifecycle:log events so a new
// SSE subscriber can be backfilled before it starts receiving live events
// (spec §6: "10-entry backfill then live tail").
type logRing struct {
	mu       sync.Mutex
	capacity int
	entries  []eventbus.Event
}

func newLogRing(capacity int) *logRing {
	return &logRing{capacity: capacity}
}

func (r *logRing) add(event eventbus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, event)
	if len(r.entries) > r.capacity {
		r.entries = r.entries[len(r.entries)-r.capacity:]
	}
}

func (r *logRing) snapshot() []eventbus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]eventbus.Event, len(r.entries))
	copy(out, r.entries)
	return out
}

func (s *Server) captureLog(ctx context.Context, event eventbus.Event) {
	s.logBackfill.add(event)
}
