package httpapi

import (
	"net/http"

	"github.com/giantswarm/mcp-gatekeeper/internal/gwerrors"
	"github.com/giantswarm/mcp-gatekeeper/internal/store"
)

// handleUpsertTemplate implements POST /api/templates (spec §6): 201 on
// first creation, 200 on update, 400 on a schema violation.
func (s *Server) handleUpsertTemplate(w http.ResponseWriter, r *http.Request) {
	var tpl store.Template
	if err := decodeBody(r, &tpl); err != nil {
		writeError(w, err)
		return
	}
	if tpl.TimeoutMs == 0 {
		tpl.TimeoutMs = s.defaults.TimeoutMs
	}
	if tpl.Retries == 0 {
		tpl.Retries = s.defaults.Retries
	}
	if err := tpl.Validate(); err != nil {
		writeError(w, gwerrors.Wrap(gwerrors.InvalidArgument, err, "template failed validation"))
		return
	}

	_, existed := s.store.GetTemplate(tpl.Name)
	if err := s.store.SetTemplate(r.Context(), tpl); err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	writeJSON(w, status, tpl)
}

// handleListTemplates implements GET /api/templates.
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.ListTemplates())
}

// handleGetTemplate implements GET /api/templates/{name}.
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request, name string) {
	tpl, ok := s.store.GetTemplate(name)
	if !ok {
		writeError(w, gwerrors.New(gwerrors.NotFound, "unknown template: "+name))
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

// handleDeleteTemplate implements DELETE /api/templates/{name}. The
// store itself enforces the running-instance precondition (spec §3) and
// returns a PreconditionFail kind if any instance still realizes name.
func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request, name string) {
	if err := s.store.RemoveTemplate(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
