// Package store implements the Observation Store (spec §4.1): the sole
// owner of the gateway's registry state — templates, instances, health
// snapshots, and load metrics — held as four in-memory maps with
// serialized writes, copy-out reads under a brief read lock, and atomic
// multi-map commits.
package store

import "time"

// TransportKind names one of the three transport adapters a Template can
// target.
type TransportKind string

const (
	TransportSubprocess TransportKind = "subprocess"
	TransportHTTP       TransportKind = "http"
	TransportHTTPStream TransportKind = "http-stream"
)

// AuthDescriptor is the optional authentication configuration attached to
// an http/http-stream template (e.g. a bearer token to present upstream).
type AuthDescriptor struct {
	Type   string `json:"type"`
	Token  string `json:"token,omitempty"`
	Header string `json:"header,omitempty"`
}

// Template is the declarative recipe for reaching one kind of backend
// (spec §3). Name is the unique key.
type Template struct {
	Name       string            `json:"name"`
	Version    string            `json:"version,omitempty"`
	Transport  TransportKind     `json:"transport"`
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	BaseURL    string            `json:"baseUrl,omitempty"`
	Auth       *AuthDescriptor   `json:"auth,omitempty"`
	TimeoutMs  int               `json:"timeoutMs,omitempty"`
	Retries    int               `json:"retries,omitempty"`
	TrustLevel string            `json:"trustLevel,omitempty"`
}

// Clone returns a deep-enough copy of the template suitable for embedding
// by value in an Instance snapshot (spec §3: "the template may later
// mutate without affecting the instance").
func (t Template) Clone() Template {
	clone := t
	if t.Args != nil {
		clone.Args = append([]string(nil), t.Args...)
	}
	if t.Env != nil {
		clone.Env = make(map[string]string, len(t.Env))
		for k, v := range t.Env {
			clone.Env[k] = v
		}
	}
	if t.Auth != nil {
		authCopy := *t.Auth
		clone.Auth = &authCopy
	}
	return clone
}

// Validate checks the invariants spec §3 places on a template.
func (t Template) Validate() error {
	if t.Name == "" {
		return errTemplateName
	}
	switch t.Transport {
	case TransportSubprocess:
		if t.Command == "" {
			return errSubprocessCommand
		}
	case TransportHTTP, TransportHTTPStream:
		if t.BaseURL == "" {
			return errBaseURL
		}
	default:
		return errTransportKind
	}
	return nil
}

// InstanceState is one state in the lifecycle state machine (spec §4.3).
type InstanceState string

const (
	StateIdle     InstanceState = "idle"
	StateStarting InstanceState = "starting"
	StateRunning  InstanceState = "running"
	StateDegraded InstanceState = "degraded"
	StateStopped  InstanceState = "stopped"
	StateFailed   InstanceState = "failed"
)

// validTransitions enumerates the state machine edges from spec §4.3. The
// zero value (no entry) denotes "create", which always yields StateIdle.
var validTransitions = map[InstanceState]map[InstanceState]bool{
	StateIdle:     {StateStarting: true, StateStopped: true},
	StateStarting: {StateRunning: true, StateFailed: true, StateStopped: true},
	StateRunning:  {StateDegraded: true, StateStopped: true, StateFailed: true},
	StateDegraded: {StateRunning: true, StateStopped: true, StateFailed: true},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal edge
// of the instance lifecycle state machine.
func CanTransition(from, to InstanceState) bool {
	if from == to {
		return true
	}
	edges, ok := validTransitions[from]
	return ok && edges[to]
}

// IsTerminal reports whether a state is terminal for that instance id
// (spec §4.3: a new id must be minted to retry).
func IsTerminal(s InstanceState) bool {
	return s == StateStopped || s == StateFailed
}

// Instance is a live realization of a Template (spec §3).
type Instance struct {
	ID           string                 `json:"id"`
	Template     Template               `json:"template"`
	State        InstanceState          `json:"state"`
	PID          *int                   `json:"pid,omitempty"`
	StartedAt    time.Time              `json:"startedAt"`
	LastHealthAt time.Time              `json:"lastHealthAt,omitempty"`
	ErrorCount   int64                  `json:"errorCount"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Clone returns a copy safe to hand to a reader without risking later
// mutation by the writer.
func (in Instance) Clone() Instance {
	clone := in
	clone.Template = in.Template.Clone()
	if in.PID != nil {
		pid := *in.PID
		clone.PID = &pid
	}
	if in.Metadata != nil {
		clone.Metadata = make(map[string]interface{}, len(in.Metadata))
		for k, v := range in.Metadata {
			clone.Metadata[k] = v
		}
	}
	return clone
}

// Health is the latest health snapshot for one instance (spec §3).
// Snapshots are replaced wholesale, never merged.
type Health struct {
	InstanceID string    `json:"instanceId"`
	Healthy    bool      `json:"healthy"`
	LatencyMs  *float64  `json:"latencyMs,omitempty"`
	Error      string    `json:"error,omitempty"`
	ObservedAt time.Time `json:"observedAt"`
}

// LoadMetric is the running per-instance load counter set (spec §3).
type LoadMetric struct {
	InstanceID    string    `json:"instanceId"`
	RequestCount  int64     `json:"requestCount"`
	ErrorCount    int64     `json:"errorCount"`
	AvgLatencyMs  float64   `json:"avgLatencyMs"`
	AddedAt       time.Time `json:"addedAt"`
	LastRequestAt time.Time `json:"lastRequestAt,omitempty"`
}
