package httpapi

import (
	"net/http"

	"github.com/giantswarm/mcp-gatekeeper/internal/store"
)

// statusResponse is the aggregate-counts payload for GET /api/status: an
// ambient observability endpoint the teacher always ships alongside its
// control surface (its own CLI derives the same counts from the API
// layer via `get`/`list`), surfaced here directly for operator polling.
type statusResponse struct {
	Templates        int            `json:"templates"`
	InstancesByState map[string]int `json:"instancesByState"`
	InFlightRequests int            `json:"inFlightRequests"`
}

// handleStatus implements GET /api/status: aggregate counts of
// templates, instances by lifecycle state, and in-flight requests.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	instances := s.store.ListInstances()
	byState := map[string]int{
		string(store.StateIdle):     0,
		string(store.StateStarting): 0,
		string(store.StateRunning):  0,
		string(store.StateDegraded): 0,
		string(store.StateStopped):  0,
		string(store.StateFailed):   0,
	}
	for _, inst := range instances {
		byState[string(inst.State)]++
	}

	inFlight := 0
	if s.backpressure != nil {
		inFlight = s.backpressure.InFlight()
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Templates:        len(s.store.ListTemplates()),
		InstancesByState: byState,
		InFlightRequests: inFlight,
	})
}
