package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/giantswarm/mcp-gatekeeper/internal/gwerrors"
	"github.com/giantswarm/mcp-gatekeeper/pkg/logging"
)

type routeRequest struct {
	Template string `json:"template"`
	Method   string `json:"method"`
}

type selectedService struct {
	ID string `json:"id"`
}

type routeResponse struct {
	SelectedService selectedService `json:"selectedService"`
}

// handleRoute implements POST /api/route: run the dispatcher's
// candidate-selection steps without executing a request, returning the
// instance the load balancer would have picked (spec §6).
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req routeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	inst, err := s.dispatcher.Route(r.Context(), req.Template, req.Method)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, routeResponse{SelectedService: selectedService{ID: inst.ID}})
}

type executeRequest struct {
	ToolID  string          `json:"toolId"`
	Params  json.RawMessage `json:"params,omitempty"`
	Options executeOptions  `json:"options,omitempty"`
}

type executeOptions struct {
	Retries *int `json:"retries,omitempty"`
}

// handleToolsExecute implements POST /api/tools/execute (spec §6): run
// the full dispatcher pipeline and return the adapter's JSON-RPC
// response, or the uniform failure envelope on any gwerrors.Error.
func (s *Server) handleToolsExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ToolID == "" {
		writeError(w, gwerrors.New(gwerrors.InvalidArgument, "toolId is required"))
		return
	}

	principal := principalFromContext(r.Context())
	frame, err := s.dispatcher.Execute(r.Context(), req.ToolID, "tools/call", req.Params, req.Options.Retries)
	if err != nil {
		logging.Audit(logging.AuditEvent{Action: "tools/execute", Outcome: "failure", Principal: principal.Subject, Target: req.ToolID, Error: err.Error()})
		writeError(w, err)
		return
	}

	logging.Audit(logging.AuditEvent{Action: "tools/execute", Outcome: "success", Principal: principal.Subject, Target: req.ToolID})
	writeJSON(w, http.StatusOK, frame)
}
