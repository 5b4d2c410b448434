package httpapi

import (
	"net/http"

	"github.com/giantswarm/mcp-gatekeeper/internal/gwerrors"
)

type startServiceRequest struct {
	Template string `json:"template"`
}

type startServiceResponse struct {
	ID string `json:"id"`
}

// handleStartService implements POST /api/services: realize a running
// instance of the named template and return its id (spec §6).
func (s *Server) handleStartService(w http.ResponseWriter, r *http.Request) {
	var req startServiceRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	tpl, ok := s.store.GetTemplate(req.Template)
	if !ok {
		writeError(w, gwerrors.New(gwerrors.NotFound, "unknown template: "+req.Template))
		return
	}
	if s.startFn == nil {
		writeError(w, gwerrors.New(gwerrors.Internal, "no instance launcher configured"))
		return
	}

	inst, err := s.startFn(r.Context(), tpl)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, startServiceResponse{ID: inst.ID})
}

// handleListServices implements GET /api/services.
func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.ListInstances())
}

// handleGetService implements GET /api/services/{id}.
func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request, id string) {
	inst, ok := s.store.GetInstance(id)
	if !ok {
		writeError(w, gwerrors.New(gwerrors.NotFound, "unknown service instance: "+id))
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

// handleDeleteService implements DELETE /api/services/{id}.
func (s *Server) handleDeleteService(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.store.RemoveInstance(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
