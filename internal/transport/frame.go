// Package transport implements the three MCP transport adapters —
// Subprocess, HTTP, and HttpStream — behind one shared contract (spec
// §4.2): connect, send, receive, sendAndReceive, disconnect, isConnected.
package transport

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/giantswarm/mcp-gatekeeper/internal/gwerrors"
)

// Frame is one MCP JSON-RPC message: a request/notification (Method set)
// or a response (Result or Error set). ID is string or integer and is
// unique per open request on a given adapter.
type Frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *FrameError     `json:"error,omitempty"`
}

// FrameError is the JSON-RPC error object carried by a response Frame.
type FrameError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (f Frame) idKey() string {
	switch v := f.ID.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// pendingTable tracks in-flight sendAndReceive callers, keyed by frame id,
// so responses arriving out of order are routed to the right waiter
// rather than forcing strict request/response lockstep (spec §5: adapters
// must tolerate frames arriving in any order).
type pendingTable struct {
	mu      sync.Mutex
	waiters map[string]chan Frame
	closed  bool
}

func newPendingTable() *pendingTable {
	return &pendingTable{waiters: make(map[string]chan Frame)}
}

// register creates a waiter channel for key. Callers must call remove
// once they stop waiting, win or lose, so a late response can't satisfy a
// future unrelated request with the same id.
func (p *pendingTable) register(key string) (chan Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, gwerrors.New(gwerrors.Closed, "adapter is disconnected")
	}
	ch := make(chan Frame, 1)
	p.waiters[key] = ch
	return ch, nil
}

func (p *pendingTable) remove(key string) {
	p.mu.Lock()
	delete(p.waiters, key)
	p.mu.Unlock()
}

// deliver routes frame to its waiter, if one is registered. It reports
// whether a waiter consumed it; an unmatched frame should be pushed to
// the adapter's general receive queue instead.
func (p *pendingTable) deliver(frame Frame) bool {
	key := frame.idKey()
	p.mu.Lock()
	ch, ok := p.waiters[key]
	if ok {
		delete(p.waiters, key)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- frame
	return true
}

// closeAll unblocks every pending waiter with Closed, used by disconnect.
func (p *pendingTable) closeAll() {
	p.mu.Lock()
	p.closed = true
	waiters := p.waiters
	p.waiters = make(map[string]chan Frame)
	p.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}
